package pipeline

import (
	"strings"

	"counterpoint/models"

	"github.com/samber/lo"
)

// Stance vocabulary for the inversion heuristic. The pairs are symmetric;
// looking up either side yields the other pole.
var stanceAntonyms = map[string]string{
	"progressive":  "conservative",
	"conservative": "progressive",
	"liberal":      "conservative",
	"left-wing":    "right-wing",
	"right-wing":   "left-wing",
	"leftist":      "right-wing",
	"socialist":    "libertarian",
	"libertarian":  "socialist",
	"pro":          "anti",
	"anti":         "pro",
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "have": {}, "in": {}, "is": {},
	"it": {}, "its": {}, "of": {}, "on": {}, "or": {}, "that": {}, "the": {},
	"this": {}, "to": {}, "was": {}, "were": {}, "with": {}, "about": {},
	"after": {}, "over": {}, "under": {}, "their": {}, "they": {},
}

const topicKeywordLimit = 6

// GenerateQueries derives up to max search queries meant to surface
// contrasting coverage of the analyzed article. It is a pure function of the
// analysis: no network calls, deterministic for the same input. An analysis
// with neither a topic summary nor bias indicators yields no queries.
func GenerateQueries(analysis models.Analysis, max int) []string {
	if max <= 0 {
		max = 3
	}

	keywords := topicKeywords(analysis.TopicSummary)
	indicators := lo.FilterMap(analysis.BiasIndicators, func(s string, _ int) (string, bool) {
		s = strings.ToLower(strings.TrimSpace(s))
		return s, s != ""
	})

	if len(keywords) == 0 && len(indicators) == 0 {
		return nil
	}

	topic := strings.Join(keywords, " ")

	var queries []string
	if topic != "" {
		queries = append(queries, topic)
	}

	// Topic restated from the opposite pole of the detected lean
	if pole := opposingPole(analysis.BiasScore); pole != "" && topic != "" {
		queries = append(queries, topic+" "+pole)
	}

	// Invert the first indicator that carries a stance term
	for _, indicator := range indicators {
		inverted := invertStance(indicator)
		if inverted == "" {
			continue
		}
		query := strings.TrimSpace(topic + " " + inverted)
		queries = append(queries, query)
		break
	}

	queries = lo.Uniq(queries)
	if len(queries) > max {
		queries = queries[:max]
	}
	return queries
}

// topicKeywords reduces a topic summary to its salient terms, preserving
// order of first appearance.
func topicKeywords(summary string) []string {
	var keywords []string
	for _, token := range strings.Fields(strings.ToLower(summary)) {
		token = strings.Trim(token, `.,;:!?"'()[]`)
		if len(token) < 3 {
			continue
		}
		if _, ok := stopwords[token]; ok {
			continue
		}
		keywords = append(keywords, token)
		if len(keywords) == topicKeywordLimit {
			break
		}
	}
	return lo.Uniq(keywords)
}

// opposingPole names the pole opposite the detected lean. Negative bias
// scores lean left, positive lean right.
func opposingPole(biasScore *float64) string {
	if biasScore == nil || *biasScore == 0 {
		return ""
	}
	if *biasScore < 0 {
		return "conservative right-wing"
	}
	return "progressive left-wing"
}

// invertStance substitutes stance terms in an indicator phrase with their
// opposite pole. Returns empty when the phrase carries no stance term.
func invertStance(indicator string) string {
	tokens := strings.Fields(indicator)
	inverted := false
	for i, token := range tokens {
		trimmed := strings.Trim(token, `.,;:!?"'`)
		if opposite, ok := stanceAntonyms[trimmed]; ok {
			tokens[i] = opposite
			inverted = true
		}
	}
	if !inverted {
		return ""
	}
	return strings.Join(tokens, " ")
}
