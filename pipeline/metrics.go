package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	analysesCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "counterpoint_analyses_completed_total",
		Help: "Number of article analyses persisted, by provider",
	}, []string{"provider"})

	analysesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "counterpoint_analyses_failed_total",
		Help: "Number of analyze operations that exhausted all providers",
	})

	providerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "counterpoint_provider_failures_total",
		Help: "Number of failed provider calls, by provider and error kind",
	}, []string{"provider", "kind"})

	linksCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "counterpoint_opposing_links_created_total",
		Help: "Number of opposing-article links persisted",
	})

	searchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "counterpoint_candidate_search_failures_total",
		Help: "Number of failed candidate searches during matching",
	})

	skippedLanguage = promauto.NewCounter(prometheus.CounterOpts{
		Name: "counterpoint_articles_skipped_language_total",
		Help: "Number of articles skipped by the language gate",
	})

	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "counterpoint_sweep_duration_seconds",
		Help:    "Duration of analysis sweeps",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // Start at 100ms, double each bucket, 10 buckets
	})
)
