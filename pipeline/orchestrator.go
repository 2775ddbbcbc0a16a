package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"counterpoint/db"
	"counterpoint/models"
	"counterpoint/providers"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

const (
	maxTopicSummaryLen = 500
	// One retry per provider, two attempts total, to bound latency
	providerRetries = 1
)

// ProviderRef binds a registered classifier to its stored provenance name
// and per-call timeout.
type ProviderRef struct {
	Name       string
	Classifier providers.Classifier
	Timeout    time.Duration
}

// Orchestrator drives the per-article analysis state machine. An article is
// either unanalyzed or analyzed; a failed attempt leaves it unanalyzed and
// visible to the next retry sweep.
type Orchestrator struct {
	store      Store
	providers  []ProviderRef // primary first, then fallback
	locks      *keyedMutex
	matcher    *Matcher
	maxQueries int
	events     chan<- interface{}
}

func NewOrchestrator(store Store, refs []ProviderRef, matcher *Matcher, maxQueries int, events chan<- interface{}) *Orchestrator {
	if maxQueries <= 0 {
		maxQueries = 3
	}
	return &Orchestrator{
		store:      store,
		providers:  refs,
		locks:      newKeyedMutex(),
		matcher:    matcher,
		maxQueries: maxQueries,
		events:     events,
	}
}

// Analyze classifies one article and persists exactly one analysis row.
// Calling it for an already-analyzed article is a no-op returning the
// existing record. Concurrent calls for the same article serialize on a
// per-article lock; the loser observes the winner's record.
func (o *Orchestrator) Analyze(ctx context.Context, articleID string) (models.Analysis, error) {
	if analysis, err := o.store.GetAnalysis(ctx, articleID); err == nil {
		return o.ensureQueries(ctx, analysis), nil
	} else if !errors.Is(err, db.ErrNotFound) {
		return models.Analysis{}, err
	}

	o.locks.Lock(articleID)
	defer o.locks.Unlock(articleID)

	// Re-check under the lock: a concurrent caller may have finished
	if analysis, err := o.store.GetAnalysis(ctx, articleID); err == nil {
		return analysis, nil
	} else if !errors.Is(err, db.ErrNotFound) {
		return models.Analysis{}, err
	}

	article, err := o.store.GetArticle(ctx, articleID)
	if err != nil {
		return models.Analysis{}, fmt.Errorf("load article %s: %w", articleID, err)
	}
	if strings.TrimSpace(article.Title) == "" {
		return models.Analysis{}, fmt.Errorf("article %s has no title", articleID)
	}

	classification, providerName, err := o.classify(ctx, article)
	if err != nil {
		analysesFailed.Inc()
		return models.Analysis{}, err
	}

	analysis := normalize(articleID, classification, providerName)
	analysis.OpposingQueries = GenerateQueries(analysis, o.maxQueries)

	if err := o.store.InsertAnalysis(ctx, analysis); err != nil {
		if errors.Is(err, db.ErrConflict) {
			// Lost the race, discard the local result and read back the winner
			log.WithFields(log.Fields{
				"articleId": articleID,
			}).Info("Analysis already exists, reading back")
			return o.store.GetAnalysis(ctx, articleID)
		}
		return models.Analysis{}, err
	}

	analysesCompleted.WithLabelValues(providerName).Inc()
	log.WithFields(log.Fields{
		"articleId":   articleID,
		"provider":    providerName,
		"contentType": analysis.ContentType,
	}).Info("Analysis complete")
	emit(o.events, models.AnalysisCompletedEvent{Analysis: analysis})

	// Downstream matching is best effort: its failure never invalidates
	// the analysis record
	if o.matcher != nil {
		if _, err := o.matcher.Match(ctx, articleID, analysis.OpposingQueries); err != nil {
			log.WithFields(log.Fields{
				"articleId": articleID,
				"error":     err,
			}).Warn("Opposing-article matching degraded")
		}
	}

	return analysis, nil
}

// ensureQueries backfills the cached opposing queries on analysis rows that
// predate query generation, so a later match run never has to regenerate.
func (o *Orchestrator) ensureQueries(ctx context.Context, analysis models.Analysis) models.Analysis {
	if len(analysis.OpposingQueries) > 0 {
		return analysis
	}

	queries := GenerateQueries(analysis, o.maxQueries)
	if len(queries) == 0 {
		return analysis
	}

	if err := o.store.SetOpposingQueries(ctx, analysis.ArticleID, queries); err != nil {
		log.WithFields(log.Fields{
			"articleId": analysis.ArticleID,
			"error":     err,
		}).Warn("Failed to cache opposing queries")
		return analysis
	}
	analysis.OpposingQueries = queries
	return analysis
}

// classify tries the primary provider, then the fallback, with bounded
// retries per provider. Provider errors of every kind are retryable;
// anything else aborts immediately.
func (o *Orchestrator) classify(ctx context.Context, article models.Article) (models.Classification, string, error) {
	if len(o.providers) == 0 {
		return models.Classification{}, "", fmt.Errorf("no providers configured")
	}

	var lastErr error
	for _, ref := range o.providers {
		classification, err := o.classifyWith(ctx, ref, article)
		if err == nil {
			return classification, ref.Name, nil
		}
		if ctx.Err() != nil {
			return models.Classification{}, "", ctx.Err()
		}
		if _, ok := providers.AsProviderError(err); !ok {
			return models.Classification{}, "", err
		}
		lastErr = err
		log.WithFields(log.Fields{
			"provider":  ref.Name,
			"articleId": article.ID,
			"error":     err,
		}).Warn("Provider exhausted, trying next")
	}

	return models.Classification{}, "", fmt.Errorf("all providers failed: %w", lastErr)
}

func (o *Orchestrator) classifyWith(ctx context.Context, ref ProviderRef, article models.Article) (models.Classification, error) {
	var classification models.Classification

	operation := func() error {
		callCtx := ctx
		if ref.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, ref.Timeout)
			defer cancel()
		}

		var err error
		classification, err = ref.Classifier.Classify(callCtx, article)
		if err != nil {
			if perr, ok := providers.AsProviderError(err); ok {
				providerFailures.WithLabelValues(ref.Name, string(perr.Kind)).Inc()
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(newAttemptBackoff(), providerRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return models.Classification{}, err
	}
	return classification, nil
}

func newAttemptBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.Multiplier = 1.5
	return b
}

// normalize turns a raw provider classification into a storable analysis:
// scores clamped to their domains, summary truncated to the storage limit,
// missing content type defaulted to neutral.
func normalize(articleID string, c models.Classification, provider string) models.Analysis {
	contentType := strings.ToLower(strings.TrimSpace(c.ContentType))
	if contentType == "" {
		contentType = "neutral"
	}

	analysis := models.Analysis{
		ID:           uuid.New().String(),
		ArticleID:    articleID,
		ContentType:  contentType,
		Provider:     provider,
		ModelVersion: c.ModelVersion,
		AnalyzedAt:   time.Now(),
	}

	if c.BiasScore != nil {
		score := clamp(*c.BiasScore, -1.0, 1.0)
		analysis.BiasScore = &score
	}
	if c.BiasConfidence != nil {
		confidence := clamp(*c.BiasConfidence, 0.0, 1.0)
		analysis.BiasConfidence = &confidence
	}

	analysis.BiasIndicators = lo.Uniq(lo.FilterMap(c.BiasIndicators, func(s string, _ int) (string, bool) {
		s = strings.TrimSpace(s)
		return s, s != ""
	}))

	summary := strings.TrimSpace(c.TopicSummary)
	if runes := []rune(summary); len(runes) > maxTopicSummaryLen {
		summary = string(runes[:maxTopicSummaryLen])
	}
	analysis.TopicSummary = summary

	return analysis
}

func clamp(v, lower, upper float64) float64 {
	if v < lower {
		return lower
	}
	if v > upper {
		return upper
	}
	return v
}
