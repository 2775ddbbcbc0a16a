package providers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"counterpoint/config"
	"counterpoint/models"
	"counterpoint/providers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaudeClassify(t *testing.T) {
	article := models.Article{ID: "a1", Title: "Governor signs controversial bill"}

	tests := []struct {
		name         string
		status       int
		body         string
		expectedKind providers.ErrorKind
		check        func(t *testing.T, c models.Classification)
	}{
		{
			name:   "parses classification from text block",
			status: http.StatusOK,
			body: `{"model":"claude-3-5-haiku-latest","stop_reason":"end_turn","content":[{"type":"text","text":"{\"content_type\":\"analysis\",\"bias_score\":0.3,\"topic_summary\":\"Bill signing\"}"}]}`,
			check: func(t *testing.T, c models.Classification) {
				assert.Equal(t, "analysis", c.ContentType)
				require.NotNil(t, c.BiasScore)
				assert.InDelta(t, 0.3, *c.BiasScore, 1e-9)
				assert.Equal(t, "Bill signing", c.TopicSummary)
				assert.Equal(t, "claude-3-5-haiku-latest", c.ModelVersion)
			},
		},
		{
			name:   "tolerates prose around the JSON object",
			status: http.StatusOK,
			body: `{"model":"claude-3-5-haiku-latest","content":[{"type":"text","text":"Here is the classification:\n{\"content_type\":\"neutral\"}\nLet me know if you need more."}]}`,
			check: func(t *testing.T, c models.Classification) {
				assert.Equal(t, "neutral", c.ContentType)
			},
		},
		{
			name:         "missing text block is malformed",
			status:       http.StatusOK,
			body:         `{"model":"claude-3-5-haiku-latest","content":[]}`,
			expectedKind: providers.KindMalformed,
		},
		{
			name:         "policy rejection maps to refused",
			status:       http.StatusBadRequest,
			body:         `{"error":{"type":"invalid_request_error","message":"request blocked by usage policy"}}`,
			expectedKind: providers.KindRefused,
		},
		{
			name:         "rate limit is transient",
			status:       http.StatusTooManyRequests,
			body:         `{"error":{"type":"rate_limit_error"}}`,
			expectedKind: providers.KindTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/messages", r.URL.Path)
				assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
				assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			classifier := providers.NewClaudeClassifier(config.ProviderConfig{
				Endpoint: server.URL,
				Model:    "claude-3-5-haiku-latest",
				APIKey:   "test-key",
			})

			classification, err := classifier.Classify(context.Background(), article)

			if tt.expectedKind != "" {
				perr, ok := providers.AsProviderError(err)
				require.True(t, ok, "expected a provider error, got %v", err)
				assert.Equal(t, "claude", perr.Provider)
				assert.Equal(t, tt.expectedKind, perr.Kind)
				return
			}

			require.NoError(t, err)
			tt.check(t, classification)
		})
	}
}

func TestClaudeClassifyWithoutAPIKey(t *testing.T) {
	classifier := providers.NewClaudeClassifier(config.ProviderConfig{})

	_, err := classifier.Classify(context.Background(), models.Article{ID: "a1", Title: "No key"})
	perr, ok := providers.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, providers.KindTransient, perr.Kind)
}
