package pipeline_test

import (
	"testing"

	"counterpoint/models"
	"counterpoint/pipeline"

	"github.com/stretchr/testify/assert"
)

func TestGenerateQueries(t *testing.T) {
	tests := []struct {
		name     string
		analysis models.Analysis
		max      int
		expected []string
	}{
		{
			name:     "empty analysis yields no queries",
			analysis: models.Analysis{},
			max:      3,
			expected: nil,
		},
		{
			name: "whitespace indicators yield no queries",
			analysis: models.Analysis{
				BiasIndicators: []string{"  ", ""},
			},
			max:      3,
			expected: nil,
		},
		{
			name: "topic only",
			analysis: models.Analysis{
				TopicSummary: "Senate passes the new climate bill",
			},
			max:      3,
			expected: []string{"senate passes new climate bill"},
		},
		{
			name: "left lean adds the opposing pole",
			analysis: models.Analysis{
				TopicSummary: "Senate passes the new climate bill",
				BiasScore:    floatPtr(-0.7),
			},
			max: 3,
			expected: []string{
				"senate passes new climate bill",
				"senate passes new climate bill conservative right-wing",
			},
		},
		{
			name: "right lean adds the opposing pole",
			analysis: models.Analysis{
				TopicSummary: "Senate passes the new climate bill",
				BiasScore:    floatPtr(0.7),
			},
			max: 3,
			expected: []string{
				"senate passes new climate bill",
				"senate passes new climate bill progressive left-wing",
			},
		},
		{
			name: "stance indicator is inverted",
			analysis: models.Analysis{
				TopicSummary:   "Senate passes the new climate bill",
				BiasScore:      floatPtr(-0.7),
				BiasIndicators: []string{"progressive policy framing"},
			},
			max: 3,
			expected: []string{
				"senate passes new climate bill",
				"senate passes new climate bill conservative right-wing",
				"senate passes new climate bill conservative policy framing",
			},
		},
		{
			name: "max caps the result",
			analysis: models.Analysis{
				TopicSummary:   "Senate passes the new climate bill",
				BiasScore:      floatPtr(-0.7),
				BiasIndicators: []string{"progressive policy framing"},
			},
			max: 2,
			expected: []string{
				"senate passes new climate bill",
				"senate passes new climate bill conservative right-wing",
			},
		},
		{
			name: "indicator without stance terms is skipped",
			analysis: models.Analysis{
				TopicSummary:   "Senate passes the new climate bill",
				BiasIndicators: []string{"emotionally loaded wording"},
			},
			max:      3,
			expected: []string{"senate passes new climate bill"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := pipeline.GenerateQueries(tt.analysis, tt.max)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestGenerateQueriesIsDeterministic(t *testing.T) {
	analysis := models.Analysis{
		TopicSummary:   "Debate over immigration policy at the southern border",
		BiasScore:      floatPtr(0.4),
		BiasIndicators: []string{"anti immigration rhetoric", "right-wing talking points"},
	}

	first := pipeline.GenerateQueries(analysis, 3)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, pipeline.GenerateQueries(analysis, 3))
	}
	assert.LessOrEqual(t, len(first), 3)
}
