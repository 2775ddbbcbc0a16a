package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"counterpoint/config"
	"counterpoint/models"

	log "github.com/sirupsen/logrus"
)

// OllamaClassifier talks to a locally hosted Ollama chat endpoint
type OllamaClassifier struct {
	endpoint string
	model    string
	client   *http.Client
}

var _ Classifier = (*OllamaClassifier)(nil)

func NewOllamaClassifier(cfg config.ProviderConfig) *OllamaClassifier {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	return &OllamaClassifier{
		endpoint: endpoint,
		model:    cfg.Model,
		client:   &http.Client{Timeout: cfg.CallTimeout()},
	}
}

func (o *OllamaClassifier) Classify(ctx context.Context, article models.Article) (models.Classification, error) {
	body, err := json.Marshal(map[string]interface{}{
		"model": o.model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": buildUserPrompt(article)},
		},
		"stream": false,
		"format": "json",
	})
	if err != nil {
		return models.Classification{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return models.Classification{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return models.Classification{}, transientErr("ollama", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return models.Classification{}, transientErr("ollama", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.WithFields(log.Fields{
			"status": resp.StatusCode,
			"body":   string(respBody),
		}).Error("Ollama API error")
		return models.Classification{}, transientErr("ollama", fmt.Errorf("status %d", resp.StatusCode))
	}

	var result struct {
		Model   string `json:"model"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return models.Classification{}, malformedErr("ollama", fmt.Errorf("parse response: %w", err))
	}

	classification, err := parseClassification("ollama", result.Message.Content)
	if err != nil {
		return models.Classification{}, err
	}
	classification.ModelVersion = result.Model

	log.WithFields(log.Fields{
		"model":       result.Model,
		"articleId":   article.ID,
		"contentType": classification.ContentType,
	}).Debug("Ollama classification parsed")

	return classification, nil
}

// Ping checks the endpoint is reachable. The serve command calls it at
// startup and logs a warning when the backend is down.
func (o *OllamaClassifier) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.endpoint+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
