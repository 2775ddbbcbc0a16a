package db_test

import (
	"context"
	"path"
	"testing"
	"time"

	"counterpoint/db"
	"counterpoint/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *db.DB {
	t.Helper()

	database := path.Join(t.TempDir(), "test.db")
	require.NoError(t, db.Migrate(database))

	d, err := db.NewDB(database)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	return d
}

func createArticle(t *testing.T, d *db.DB, article models.Article) models.Article {
	t.Helper()
	created, err := d.CreateArticle(context.Background(), article)
	require.NoError(t, err)
	return created
}

func floatPtr(v float64) *float64 {
	return &v
}

func TestCreateArticleUpsert(t *testing.T) {
	d := testDB(t)

	first := createArticle(t, d, models.Article{
		FeedID:  "feed1",
		Title:   "Original title",
		URL:     "https://example.com/1",
		GUID:    "guid-1",
		Summary: "Original summary",
	})
	assert.NotEmpty(t, first.ID)

	// Re-ingesting the same (feed, guid) updates in place
	second := createArticle(t, d, models.Article{
		FeedID:  "feed1",
		Title:   "Updated title",
		URL:     "https://example.com/1-updated",
		GUID:    "guid-1",
		Summary: "Updated summary",
	})

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.CreatedAt.Unix(), second.CreatedAt.Unix())
	assert.Equal(t, "Updated title", second.Title)
	assert.Equal(t, "Updated summary", second.Summary)

	articles, err := d.ListUnanalyzed(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, articles, 1)
}

func TestCreateArticleSameGuidDifferentFeeds(t *testing.T) {
	d := testDB(t)

	a := createArticle(t, d, models.Article{FeedID: "feed1", Title: "A", URL: "https://a", GUID: "shared"})
	b := createArticle(t, d, models.Article{FeedID: "feed2", Title: "B", URL: "https://b", GUID: "shared"})

	assert.NotEqual(t, a.ID, b.ID)
}

func TestCreateArticleWithoutGuid(t *testing.T) {
	d := testDB(t)

	a := createArticle(t, d, models.Article{FeedID: "feed1", Title: "A", URL: "https://a"})
	b := createArticle(t, d, models.Article{FeedID: "feed1", Title: "A", URL: "https://a"})

	// No guid means no natural key, so no deduplication
	assert.NotEqual(t, a.ID, b.ID)
}

func TestGetArticleNotFound(t *testing.T) {
	d := testDB(t)

	_, err := d.GetArticle(context.Background(), "missing")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestInsertAnalysisRoundTrip(t *testing.T) {
	d := testDB(t)

	article := createArticle(t, d, models.Article{FeedID: "feed1", Title: "A", URL: "https://a"})

	analysis := models.Analysis{
		ID:              "an1",
		ArticleID:       article.ID,
		ContentType:     "opinion",
		BiasScore:       floatPtr(-0.5),
		BiasConfidence:  floatPtr(0.8),
		BiasIndicators:  []string{"loaded phrase", "partisan source"},
		OpposingQueries: []string{"topic", "topic conservative"},
		TopicSummary:    "A summary",
		Provider:        "ollama",
		ModelVersion:    "llama3.1",
		AnalyzedAt:      time.Now(),
	}
	require.NoError(t, d.InsertAnalysis(context.Background(), analysis))

	stored, err := d.GetAnalysis(context.Background(), article.ID)
	require.NoError(t, err)

	assert.Equal(t, "an1", stored.ID)
	assert.Equal(t, "opinion", stored.ContentType)
	require.NotNil(t, stored.BiasScore)
	assert.InDelta(t, -0.5, *stored.BiasScore, 1e-9)
	assert.Equal(t, []string{"loaded phrase", "partisan source"}, stored.BiasIndicators)
	assert.Equal(t, []string{"topic", "topic conservative"}, stored.OpposingQueries)
	assert.Equal(t, "ollama", stored.Provider)
}

func TestInsertAnalysisConflict(t *testing.T) {
	d := testDB(t)

	article := createArticle(t, d, models.Article{FeedID: "feed1", Title: "A", URL: "https://a"})

	first := models.Analysis{ID: "an1", ArticleID: article.ID, ContentType: "neutral", Provider: "ollama", AnalyzedAt: time.Now()}
	require.NoError(t, d.InsertAnalysis(context.Background(), first))

	second := models.Analysis{ID: "an2", ArticleID: article.ID, ContentType: "opinion", Provider: "claude", AnalyzedAt: time.Now()}
	err := d.InsertAnalysis(context.Background(), second)
	assert.ErrorIs(t, err, db.ErrConflict)

	// The winner's row is untouched
	stored, err := d.GetAnalysis(context.Background(), article.ID)
	require.NoError(t, err)
	assert.Equal(t, "an1", stored.ID)
}

func TestGetAnalysisNotFound(t *testing.T) {
	d := testDB(t)

	_, err := d.GetAnalysis(context.Background(), "missing")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestListUnanalyzed(t *testing.T) {
	d := testDB(t)

	older := createArticle(t, d, models.Article{
		FeedID: "feed1", Title: "Older", URL: "https://a",
		CreatedAt: time.Now().Add(-2 * time.Hour),
	})
	newer := createArticle(t, d, models.Article{
		FeedID: "feed1", Title: "Newer", URL: "https://b",
		CreatedAt: time.Now().Add(-1 * time.Hour),
	})
	analyzed := createArticle(t, d, models.Article{FeedID: "feed1", Title: "Analyzed", URL: "https://c"})

	require.NoError(t, d.InsertAnalysis(context.Background(), models.Analysis{
		ID: "an1", ArticleID: analyzed.ID, ContentType: "neutral", Provider: "ollama", AnalyzedAt: time.Now(),
	}))

	articles, err := d.ListUnanalyzed(context.Background(), 10)
	require.NoError(t, err)

	require.Len(t, articles, 2)
	assert.Equal(t, older.ID, articles[0].ID)
	assert.Equal(t, newer.ID, articles[1].ID)
}

func TestSearchArticles(t *testing.T) {
	d := testDB(t)

	climate := createArticle(t, d, models.Article{
		FeedID: "feed1", Title: "Senate debates climate legislation", URL: "https://a",
		Summary: "The climate bill moves to the floor",
	})
	createArticle(t, d, models.Article{
		FeedID: "feed1", Title: "Local team wins championship", URL: "https://b",
		Summary: "A big night for the home side",
	})

	require.NoError(t, d.InsertAnalysis(context.Background(), models.Analysis{
		ID: "an1", ArticleID: climate.ID, ContentType: "opinion",
		BiasScore: floatPtr(-0.4), Provider: "ollama", AnalyzedAt: time.Now(),
	}))

	results, err := d.SearchArticles(context.Background(), "climate legislation", nil, 10)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, climate.ID, results[0].ArticleID)
	assert.Less(t, results[0].Rank, 0.0, "bm25 rank of a match is negative")
	require.NotNil(t, results[0].BiasScore)
	assert.InDelta(t, -0.4, *results[0].BiasScore, 1e-9)

	// Excluded ids never come back
	results, err = d.SearchArticles(context.Background(), "climate legislation", []string{climate.ID}, 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	// No lexical overlap, no candidates
	results, err = d.SearchArticles(context.Background(), "cryptocurrency", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchArticlesSeesUpdatedContent(t *testing.T) {
	d := testDB(t)

	createArticle(t, d, models.Article{
		FeedID: "feed1", Title: "Initial headline", URL: "https://a", GUID: "g1",
	})
	updated := createArticle(t, d, models.Article{
		FeedID: "feed1", Title: "Revised pension reform headline", URL: "https://a", GUID: "g1",
	})

	results, err := d.SearchArticles(context.Background(), "pension reform", nil, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, updated.ID, results[0].ArticleID)

	results, err = d.SearchArticles(context.Background(), "initial", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestInsertOpposingLinkIdempotent(t *testing.T) {
	d := testDB(t)

	source := createArticle(t, d, models.Article{FeedID: "feed1", Title: "Source", URL: "https://a"})
	opposing := createArticle(t, d, models.Article{FeedID: "feed1", Title: "Opposing", URL: "https://b"})

	link := models.OpposingLink{
		SourceArticleID:   source.ID,
		OpposingArticleID: opposing.ID,
		RelevanceScore:    0.7,
	}

	created, err := d.InsertOpposingLink(context.Background(), link)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = d.InsertOpposingLink(context.Background(), link)
	require.NoError(t, err)
	assert.False(t, created)

	links, err := d.ListOpposingLinks(context.Background(), source.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.InDelta(t, 0.7, links[0].RelevanceScore, 1e-9)

	ids, err := d.LinkedCandidateIDs(context.Background(), source.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{opposing.ID}, ids)
}

func TestListOpposingLinksOrderedByRelevance(t *testing.T) {
	d := testDB(t)

	source := createArticle(t, d, models.Article{FeedID: "feed1", Title: "Source", URL: "https://a"})
	weak := createArticle(t, d, models.Article{FeedID: "feed1", Title: "Weak", URL: "https://b"})
	strong := createArticle(t, d, models.Article{FeedID: "feed1", Title: "Strong", URL: "https://c"})

	for _, link := range []models.OpposingLink{
		{SourceArticleID: source.ID, OpposingArticleID: weak.ID, RelevanceScore: 0.4},
		{SourceArticleID: source.ID, OpposingArticleID: strong.ID, RelevanceScore: 0.9},
	} {
		_, err := d.InsertOpposingLink(context.Background(), link)
		require.NoError(t, err)
	}

	links, err := d.ListOpposingLinks(context.Background(), source.ID)
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, strong.ID, links[0].OpposingArticleID)
	assert.Equal(t, weak.ID, links[1].OpposingArticleID)
}

func TestGetAnalysisCountPerTime(t *testing.T) {
	d := testDB(t)

	a := createArticle(t, d, models.Article{FeedID: "feed1", Title: "A", URL: "https://a"})
	b := createArticle(t, d, models.Article{FeedID: "feed1", Title: "B", URL: "https://b"})

	now := time.Now()
	require.NoError(t, d.InsertAnalysis(context.Background(), models.Analysis{
		ID: "an1", ArticleID: a.ID, ContentType: "neutral", Provider: "ollama", AnalyzedAt: now,
	}))
	require.NoError(t, d.InsertAnalysis(context.Background(), models.Analysis{
		ID: "an2", ArticleID: b.ID, ContentType: "neutral", Provider: "claude", AnalyzedAt: now,
	}))

	counts, err := d.GetAnalysisCountPerTime("", "day")
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, int64(2), counts[0].Count)

	counts, err = d.GetAnalysisCountPerTime("ollama", "day")
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, int64(1), counts[0].Count)
}
