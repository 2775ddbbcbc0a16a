package pipeline

import (
	"context"

	"counterpoint/db"
	"counterpoint/models"
)

// Store is the storage boundary the pipeline depends on. The concrete
// implementation is db.DB; tests substitute in-memory fakes.
type Store interface {
	GetArticle(ctx context.Context, id string) (models.Article, error)
	ListUnanalyzed(ctx context.Context, limit int) ([]models.Article, error)
	GetAnalysis(ctx context.Context, articleID string) (models.Analysis, error)
	InsertAnalysis(ctx context.Context, analysis models.Analysis) error
	SetOpposingQueries(ctx context.Context, articleID string, queries []string) error
	SearchArticles(ctx context.Context, query string, exclude []string, k int) ([]models.SearchResult, error)
	InsertOpposingLink(ctx context.Context, link models.OpposingLink) (bool, error)
	LinkedCandidateIDs(ctx context.Context, sourceID string) ([]string, error)
}

var _ Store = (*db.DB)(nil)

// emit pushes a pipeline event without ever blocking the pipeline itself
func emit(events chan<- interface{}, event interface{}) {
	if events == nil {
		return
	}
	select {
	case events <- event:
	default:
	}
}
