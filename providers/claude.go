package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"counterpoint/config"
	"counterpoint/models"

	log "github.com/sirupsen/logrus"
)

// ClaudeClassifier talks to the Anthropic messages API
type ClaudeClassifier struct {
	endpoint string
	model    string
	apiKey   string
	client   *http.Client
}

var _ Classifier = (*ClaudeClassifier)(nil)

func NewClaudeClassifier(cfg config.ProviderConfig) *ClaudeClassifier {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://api.anthropic.com"
	}
	return &ClaudeClassifier{
		endpoint: endpoint,
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: cfg.CallTimeout()},
	}
}

func (c *ClaudeClassifier) Classify(ctx context.Context, article models.Article) (models.Classification, error) {
	if c.apiKey == "" {
		return models.Classification{}, transientErr("claude", fmt.Errorf("api key not configured"))
	}

	body, err := json.Marshal(map[string]interface{}{
		"model":      c.model,
		"max_tokens": 1024,
		"system":     systemPrompt,
		"messages": []map[string]string{
			{"role": "user", "content": buildUserPrompt(article)},
		},
	})
	if err != nil {
		return models.Classification{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return models.Classification{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.client.Do(req)
	if err != nil {
		return models.Classification{}, transientErr("claude", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return models.Classification{}, transientErr("claude", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.WithFields(log.Fields{
			"status": resp.StatusCode,
			"body":   string(respBody),
		}).Error("Claude API error")

		if resp.StatusCode == http.StatusBadRequest && strings.Contains(string(respBody), "policy") {
			return models.Classification{}, refusedErr("claude", fmt.Errorf("status %d: %s", resp.StatusCode, respBody))
		}
		return models.Classification{}, transientErr("claude", fmt.Errorf("status %d", resp.StatusCode))
	}

	var result struct {
		Model   string `json:"model"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		StopReason string `json:"stop_reason"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return models.Classification{}, malformedErr("claude", fmt.Errorf("parse response: %w", err))
	}

	var text string
	for _, block := range result.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return models.Classification{}, malformedErr("claude", fmt.Errorf("no text block in response"))
	}

	classification, err := parseClassification("claude", text)
	if err != nil {
		return models.Classification{}, err
	}
	classification.ModelVersion = result.Model

	log.WithFields(log.Fields{
		"model":       result.Model,
		"articleId":   article.ID,
		"contentType": classification.ContentType,
		"stopReason":  result.StopReason,
	}).Debug("Claude classification parsed")

	return classification, nil
}
