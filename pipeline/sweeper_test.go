package pipeline_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"counterpoint/config"
	"counterpoint/models"
	"counterpoint/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepOnceAnalyzesBacklog(t *testing.T) {
	store := newFakeStore()
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("a%d", i)
		store.articles[id] = models.Article{ID: id, Title: fmt.Sprintf("Article %d", i)}
	}

	classifier := &fakeClassifier{fn: func() (models.Classification, error) {
		return models.Classification{ContentType: "neutral", TopicSummary: "Some topic"}, nil
	}}

	orchestrator := newTestOrchestrator(store, []pipeline.ProviderRef{
		{Name: "ollama", Classifier: classifier},
	})
	sweeper := pipeline.NewSweeper(store, orchestrator, config.PipelineConfig{
		Workers:    2,
		SweepBatch: 10,
	})

	dispatched := sweeper.SweepOnce(context.Background())
	assert.Equal(t, 5, dispatched)
	assert.Equal(t, 5, classifier.callCount())

	for i := 0; i < 5; i++ {
		_, err := store.GetAnalysis(context.Background(), fmt.Sprintf("a%d", i))
		require.NoError(t, err)
	}

	// Second sweep finds nothing left to do
	assert.Equal(t, 0, sweeper.SweepOnce(context.Background()))
	assert.Equal(t, 5, classifier.callCount())
}

func TestSweeperRunStopsEmittingBeforeReturn(t *testing.T) {
	store := newFakeStore()
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("a%d", i)
		store.articles[id] = models.Article{ID: id, Title: fmt.Sprintf("Article %d", i)}
	}

	classifier := &fakeClassifier{fn: func() (models.Classification, error) {
		return models.Classification{ContentType: "neutral", TopicSummary: "Some topic"}, nil
	}}

	// Tiny buffer so workers exercise the non-blocking send path
	events := make(chan interface{}, 1)
	orchestrator := pipeline.NewOrchestrator(store, []pipeline.ProviderRef{
		{Name: "ollama", Classifier: classifier},
	}, nil, 3, events)
	sweeper := pipeline.NewSweeper(store, orchestrator, config.PipelineConfig{
		Workers:    4,
		SweepBatch: 20,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return store.analysisCount() == 20
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper did not stop after cancellation")
	}

	// No worker outlives Run, so the event channel can close without a
	// racing send panicking the process
	close(events)
	for range events {
	}
}

func TestSweepOnceSkipsAnalyzed(t *testing.T) {
	store := newFakeStore()
	store.articles["done"] = models.Article{ID: "done", Title: "Already analyzed"}
	store.articles["todo"] = models.Article{ID: "todo", Title: "Still pending"}
	store.analyses["done"] = models.Analysis{ID: "an1", ArticleID: "done", ContentType: "neutral"}

	classifier := &fakeClassifier{fn: func() (models.Classification, error) {
		return models.Classification{ContentType: "neutral"}, nil
	}}

	orchestrator := newTestOrchestrator(store, []pipeline.ProviderRef{
		{Name: "ollama", Classifier: classifier},
	})
	sweeper := pipeline.NewSweeper(store, orchestrator, config.PipelineConfig{Workers: 1, SweepBatch: 10})

	dispatched := sweeper.SweepOnce(context.Background())
	assert.Equal(t, 1, dispatched)
	assert.Equal(t, 1, classifier.callCount())
}
