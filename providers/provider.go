package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"counterpoint/models"
)

// Classifier is the single capability every inference backend implements.
// Adapters must not mutate shared state; one instance is shared across the
// worker pool.
type Classifier interface {
	Classify(ctx context.Context, article models.Article) (models.Classification, error)
}

// Registry is an open, string-keyed set of classifiers. New backends only
// need an adapter and a Register call, no enumeration anywhere.
type Registry struct {
	classifiers map[string]Classifier
}

func NewRegistry() *Registry {
	return &Registry{classifiers: make(map[string]Classifier)}
}

func (r *Registry) Register(name string, c Classifier) {
	r.classifiers[name] = c
}

func (r *Registry) Get(name string) (Classifier, bool) {
	c, ok := r.classifiers[name]
	return c, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.classifiers))
	for name := range r.classifiers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const systemPrompt = `You classify news articles. Respond with a single JSON object and nothing else:
{
  "content_type": "neutral" | "opinion" | "analysis" | "satire",
  "bias_score": number in [-1.0, 1.0] where negative leans left and positive leans right, or null,
  "bias_confidence": number in [0.0, 1.0] or null,
  "bias_indicators": array of short phrases from the text that signal the lean,
  "topic_summary": one sentence describing the topic, at most 400 characters,
  "refused": true only if you cannot classify this content
}
Omit fields you cannot judge rather than guessing.`

const maxPromptContent = 2000

// buildUserPrompt renders the article for classification. Classification
// proceeds on title alone when summary and content are empty.
func buildUserPrompt(article models.Article) string {
	var b strings.Builder
	b.WriteString("Title: ")
	b.WriteString(article.Title)

	body := article.Content
	if body == "" {
		body = article.Summary
	}
	if body != "" {
		if len(body) > maxPromptContent {
			body = body[:maxPromptContent]
		}
		b.WriteString("\n\n")
		b.WriteString(body)
	}

	return b.String()
}

// parseClassification extracts the JSON classification from a model reply,
// tolerating markdown fences and prose around the object.
func parseClassification(provider, content string) (models.Classification, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end < start {
		return models.Classification{}, malformedErr(provider, fmt.Errorf("no JSON object in response"))
	}

	var parsed struct {
		ContentType    string   `json:"content_type"`
		BiasScore      *float64 `json:"bias_score"`
		BiasConfidence *float64 `json:"bias_confidence"`
		BiasIndicators []string `json:"bias_indicators"`
		TopicSummary   string   `json:"topic_summary"`
		Refused        bool     `json:"refused"`
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &parsed); err != nil {
		return models.Classification{}, malformedErr(provider, fmt.Errorf("parse response: %w", err))
	}

	if parsed.Refused {
		return models.Classification{}, refusedErr(provider, fmt.Errorf("provider declined to classify"))
	}

	return models.Classification{
		ContentType:    parsed.ContentType,
		BiasScore:      parsed.BiasScore,
		BiasConfidence: parsed.BiasConfidence,
		BiasIndicators: parsed.BiasIndicators,
		TopicSummary:   parsed.TopicSummary,
	}, nil
}
