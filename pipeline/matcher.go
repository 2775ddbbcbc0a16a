package pipeline

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"counterpoint/models"

	log "github.com/sirupsen/logrus"
)

// MatcherConfig tunes candidate retrieval and relevance scoring. The
// weights are deliberately tunable, not a bit-exact contract.
// MinRelevance zero means no threshold; negative values are clamped to
// zero. CandidatesPerQuery and MaxLinks fall back to their defaults when
// not positive.
type MatcherConfig struct {
	CandidatesPerQuery int
	MinRelevance       float64
	MaxLinks           int
	LexicalWeight      float64
	BiasWeight         float64
}

func (c MatcherConfig) withDefaults() MatcherConfig {
	if c.CandidatesPerQuery <= 0 {
		c.CandidatesPerQuery = 10
	}
	if c.MinRelevance < 0 {
		c.MinRelevance = 0
	}
	if c.MaxLinks <= 0 {
		c.MaxLinks = 5
	}
	if c.LexicalWeight == 0 && c.BiasWeight == 0 {
		c.LexicalWeight = 0.6
		c.BiasWeight = 0.4
	}
	return c
}

// Matcher finds and persists opposing-article links for an analyzed
// article. Matching is idempotent: the pair uniqueness constraint and the
// already-linked exclusion make repeated runs produce no duplicates.
type Matcher struct {
	store  Store
	config MatcherConfig
	events chan<- interface{}
}

func NewMatcher(store Store, config MatcherConfig, events chan<- interface{}) *Matcher {
	return &Matcher{
		store:  store,
		config: config.withDefaults(),
		events: events,
	}
}

type scoredCandidate struct {
	articleID string
	score     float64
}

// Match searches candidates for each query, scores them, and persists the
// top links above the relevance threshold. A failed search for one query
// degrades the result instead of aborting; only total failure is an error,
// and links from earlier queries are never rolled back.
func (m *Matcher) Match(ctx context.Context, articleID string, queries []string) ([]models.OpposingLink, error) {
	if len(queries) == 0 {
		return nil, nil
	}

	var sourceBias *float64
	if analysis, err := m.store.GetAnalysis(ctx, articleID); err == nil {
		sourceBias = analysis.BiasScore
	}

	linked, err := m.store.LinkedCandidateIDs(ctx, articleID)
	if err != nil {
		return nil, fmt.Errorf("load existing links: %w", err)
	}
	exclude := append([]string{articleID}, linked...)

	best := make(map[string]float64)
	failures := 0
	var lastErr error

	for _, query := range queries {
		results, err := m.store.SearchArticles(ctx, query, exclude, m.config.CandidatesPerQuery)
		if err != nil {
			failures++
			lastErr = err
			searchFailures.Inc()
			log.WithFields(log.Fields{
				"articleId": articleID,
				"query":     query,
				"error":     err,
			}).Warn("Candidate search failed, continuing degraded")
			continue
		}

		for _, result := range results {
			if result.ArticleID == articleID {
				// Never link an article to itself, the schema does not guard this
				continue
			}
			score := m.relevance(result, sourceBias)
			if score > best[result.ArticleID] {
				best[result.ArticleID] = score
			}
		}
	}

	if failures == len(queries) {
		return nil, fmt.Errorf("all %d candidate searches failed: %w", failures, lastErr)
	}

	candidates := make([]scoredCandidate, 0, len(best))
	for id, score := range best {
		if score < m.config.MinRelevance {
			continue
		}
		candidates = append(candidates, scoredCandidate{articleID: id, score: score})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].articleID < candidates[j].articleID
	})
	if len(candidates) > m.config.MaxLinks {
		candidates = candidates[:m.config.MaxLinks]
	}

	var links []models.OpposingLink
	for _, candidate := range candidates {
		link := models.OpposingLink{
			SourceArticleID:   articleID,
			OpposingArticleID: candidate.articleID,
			RelevanceScore:    candidate.score,
			CreatedAt:         time.Now(),
		}
		created, err := m.store.InsertOpposingLink(ctx, link)
		if err != nil {
			log.WithFields(log.Fields{
				"articleId":  articleID,
				"opposingId": candidate.articleID,
				"error":      err,
			}).Warn("Failed to persist opposing link")
			continue
		}
		if created {
			linksCreated.Inc()
			links = append(links, link)
		}
	}

	if len(links) > 0 {
		log.WithFields(log.Fields{
			"articleId": articleID,
			"links":     len(links),
		}).Info("Opposing links created")
		emit(m.events, models.LinksCreatedEvent{SourceArticleID: articleID, Links: links})
	}

	return links, nil
}

// relevance blends the lexical match with how far the candidate's bias sits
// from the source's. Opposed signs get a mild boost so contrasting coverage
// outranks same-pole coverage at equal distance.
func (m *Matcher) relevance(result models.SearchResult, sourceBias *float64) float64 {
	// SQLite bm25 ranks are negative, better matches more negative
	raw := -result.Rank
	if raw < 0 {
		raw = 0
	}
	lexical := raw / (1 + raw)

	bias := biasDistance(sourceBias, result.BiasScore)

	return clamp(m.config.LexicalWeight*lexical+m.config.BiasWeight*bias, 0.0, 1.0)
}

func biasDistance(source, candidate *float64) float64 {
	if source == nil || candidate == nil {
		// Unknown bias on either side: neither reward nor punish
		return 0.25
	}
	distance := math.Abs(*source-*candidate) / 2
	if *source**candidate < 0 {
		return math.Min(1.0, distance*1.25)
	}
	return distance
}
