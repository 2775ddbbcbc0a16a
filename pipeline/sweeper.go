package pipeline

import (
	"context"
	"sync"
	"time"

	"counterpoint/config"
	"counterpoint/models"

	log "github.com/sirupsen/logrus"
)

// Sweeper periodically analyzes the unanalyzed backlog with a bounded
// worker pool. Failed articles stay unanalyzed and are picked up by the
// next sweep.
type Sweeper struct {
	store        Store
	orchestrator *Orchestrator
	workers      int
	batch        int
	interval     time.Duration
	gate         *languageGate
}

func NewSweeper(store Store, orchestrator *Orchestrator, cfg config.PipelineConfig) *Sweeper {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	batch := cfg.SweepBatch
	if batch <= 0 {
		batch = 50
	}
	interval := time.Duration(cfg.SweepInterval) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}

	return &Sweeper{
		store:        store,
		orchestrator: orchestrator,
		workers:      workers,
		batch:        batch,
		interval:     interval,
		gate:         newLanguageGate(cfg.Languages),
	}
}

// Run sweeps immediately and then on every tick until the context is done
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.SweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info("Sweeper shutting down")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce analyzes one batch of unanalyzed articles and waits for all
// workers to finish. Returns the number of articles handed to workers.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	start := time.Now()

	articles, err := s.store.ListUnanalyzed(ctx, s.batch)
	if err != nil {
		log.Errorf("Error listing unanalyzed articles: %v", err)
		return 0
	}
	if len(articles) == 0 {
		return 0
	}

	queue := make(chan models.Article)
	var wg sync.WaitGroup

	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for article := range queue {
				if s.gate != nil && !s.gate.allows(article) {
					skippedLanguage.Inc()
					log.WithFields(log.Fields{
						"articleId": article.ID,
					}).Debug("Skipping article outside configured languages")
					continue
				}
				if _, err := s.orchestrator.Analyze(ctx, article.ID); err != nil {
					log.Errorf("Worker %d: Error analyzing article %s: %v", id, article.ID, err)
				}
			}
		}(i)
	}

	dispatched := 0
feed:
	for _, article := range articles {
		select {
		case <-ctx.Done():
			break feed
		case queue <- article:
			dispatched++
		}
	}
	close(queue)
	wg.Wait()

	sweepDuration.Observe(time.Since(start).Seconds())
	log.WithFields(log.Fields{
		"count":   dispatched,
		"elapsed": time.Since(start),
	}).Info("Sweep complete")

	return dispatched
}
