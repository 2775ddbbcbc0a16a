package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"counterpoint/models"

	"github.com/google/uuid"
	sqlbuilder "github.com/huandu/go-sqlbuilder"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a referenced row does not exist
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an insert loses against a uniqueness constraint
	ErrConflict = errors.New("conflict")
)

// DB handles all database operations with a shared connection pool
type DB struct {
	db *sql.DB
}

func NewDB(database string) (*DB, error) {
	db, err := connection(database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Article operations

// CreateArticle inserts an article keyed by (feed_id, guid). Re-ingesting the
// same guid updates the mutable feed fields and keeps the original id and
// created_at, mirroring the upsert semantics of the ingestion collaborator.
func (d *DB) CreateArticle(ctx context.Context, article models.Article) (models.Article, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if article.ID == "" {
		article.ID = uuid.New().String()
	}
	if article.CreatedAt.IsZero() {
		article.CreatedAt = time.Now()
	}

	log.WithFields(log.Fields{
		"feedId": article.FeedID,
		"guid":   article.GUID,
		"title":  article.Title,
	}).Info("Creating article")

	var published sql.NullInt64
	if article.PublishedAt != nil {
		published = sql.NullInt64{Int64: article.PublishedAt.Unix(), Valid: true}
	}

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO articles (id, feed_id, title, url, author, summary, content, published_at, guid, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (feed_id, guid) WHERE guid IS NOT NULL DO UPDATE SET
			title = excluded.title,
			url = excluded.url,
			author = excluded.author,
			summary = excluded.summary,
			content = excluded.content,
			published_at = excluded.published_at`,
		article.ID,
		article.FeedID,
		article.Title,
		article.URL,
		nullString(article.Author),
		nullString(article.Summary),
		nullString(article.Content),
		published,
		nullString(article.GUID),
		article.CreatedAt.Unix(),
	)
	if err != nil {
		return models.Article{}, fmt.Errorf("insert error: %w", err)
	}

	// Read back by the natural key so the caller observes the surviving row
	if article.GUID != "" {
		return d.getArticleBy(ctx, "feed_id = ? AND guid = ?", article.FeedID, article.GUID)
	}
	return d.getArticleBy(ctx, "id = ?", article.ID)
}

func (d *DB) GetArticle(ctx context.Context, id string) (models.Article, error) {
	return d.getArticleBy(ctx, "id = ?", id)
}

func (d *DB) getArticleBy(ctx context.Context, where string, args ...interface{}) (models.Article, error) {
	row := d.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, feed_id, title, url, author, summary, content, published_at, guid, created_at
		FROM articles WHERE %s`, where), args...)

	article, err := scanArticle(row)
	if err == sql.ErrNoRows {
		return models.Article{}, ErrNotFound
	}
	if err != nil {
		return models.Article{}, fmt.Errorf("query error: %w", err)
	}
	return article, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanArticle(row rowScanner) (models.Article, error) {
	var article models.Article
	var author, summary, content, guid sql.NullString
	var published sql.NullInt64
	var created int64

	err := row.Scan(&article.ID, &article.FeedID, &article.Title, &article.URL,
		&author, &summary, &content, &published, &guid, &created)
	if err != nil {
		return models.Article{}, err
	}

	article.Author = author.String
	article.Summary = summary.String
	article.Content = content.String
	article.GUID = guid.String
	article.CreatedAt = time.Unix(created, 0)
	if published.Valid {
		t := time.Unix(published.Int64, 0)
		article.PublishedAt = &t
	}
	return article, nil
}

// ListUnanalyzed returns articles without an analysis row, oldest first, so
// failed attempts become visible for a later retry sweep.
func (d *DB) ListUnanalyzed(ctx context.Context, limit int) ([]models.Article, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT a.id, a.feed_id, a.title, a.url, a.author, a.summary, a.content, a.published_at, a.guid, a.created_at
		FROM articles a
		LEFT JOIN article_analysis an ON an.article_id = a.id
		WHERE an.id IS NULL
		ORDER BY a.created_at ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	var articles []models.Article
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		articles = append(articles, article)
	}

	return articles, rows.Err()
}

// Analysis operations

// InsertAnalysis persists one analysis row. The unique constraint on
// article_id is the at-most-once backstop; a lost race surfaces as
// ErrConflict and the caller reads back the winner instead.
func (d *DB) InsertAnalysis(ctx context.Context, analysis models.Analysis) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	log.WithFields(log.Fields{
		"articleId":   analysis.ArticleID,
		"provider":    analysis.Provider,
		"contentType": analysis.ContentType,
	}).Info("Inserting analysis")

	indicators, err := marshalStrings(analysis.BiasIndicators)
	if err != nil {
		return err
	}
	queries, err := marshalStrings(analysis.OpposingQueries)
	if err != nil {
		return err
	}

	insert := sqlbuilder.NewInsertBuilder()
	insert.InsertInto("article_analysis").
		Cols("id", "article_id", "content_type", "bias_score", "bias_confidence",
			"bias_indicators", "opposing_queries", "topic_summary", "provider", "model_version", "analyzed_at").
		Values(analysis.ID, analysis.ArticleID, analysis.ContentType,
			nullFloat(analysis.BiasScore), nullFloat(analysis.BiasConfidence),
			indicators, queries, nullString(analysis.TopicSummary),
			analysis.Provider, nullString(analysis.ModelVersion), analysis.AnalyzedAt.Unix())

	query, args := insert.BuildWithFlavor(sqlbuilder.SQLite)
	if _, err := d.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert error: %w", err)
	}

	return nil
}

func (d *DB) GetAnalysis(ctx context.Context, articleID string) (models.Analysis, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, article_id, content_type, bias_score, bias_confidence,
			bias_indicators, opposing_queries, topic_summary, provider, model_version, analyzed_at
		FROM article_analysis WHERE article_id = ?`, articleID)

	var analysis models.Analysis
	var biasScore, biasConfidence sql.NullFloat64
	var indicators, queries, topicSummary, modelVersion sql.NullString
	var analyzedAt int64

	err := row.Scan(&analysis.ID, &analysis.ArticleID, &analysis.ContentType,
		&biasScore, &biasConfidence, &indicators, &queries, &topicSummary,
		&analysis.Provider, &modelVersion, &analyzedAt)
	if err == sql.ErrNoRows {
		return models.Analysis{}, ErrNotFound
	}
	if err != nil {
		return models.Analysis{}, fmt.Errorf("query error: %w", err)
	}

	if biasScore.Valid {
		analysis.BiasScore = &biasScore.Float64
	}
	if biasConfidence.Valid {
		analysis.BiasConfidence = &biasConfidence.Float64
	}
	analysis.BiasIndicators = unmarshalStrings(indicators.String)
	analysis.OpposingQueries = unmarshalStrings(queries.String)
	analysis.TopicSummary = topicSummary.String
	analysis.ModelVersion = modelVersion.String
	analysis.AnalyzedAt = time.Unix(analyzedAt, 0)

	return analysis, nil
}

// SetOpposingQueries caches the generated queries on the analysis row so the
// matcher never has to regenerate them.
func (d *DB) SetOpposingQueries(ctx context.Context, articleID string, queries []string) error {
	encoded, err := marshalStrings(queries)
	if err != nil {
		return err
	}

	update := sqlbuilder.NewUpdateBuilder()
	update.Update("article_analysis").
		Set(update.Assign("opposing_queries", encoded)).
		Where(update.Equal("article_id", articleID))

	query, args := update.BuildWithFlavor(sqlbuilder.SQLite)
	_, err = d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update error: %w", err)
	}
	return nil
}

// Search

// SearchArticles runs a full-text query over the article index and returns
// up to k candidates with their lexical rank and analyzed bias, excluding
// the given article ids.
func (d *DB) SearchArticles(ctx context.Context, query string, exclude []string, k int) ([]models.SearchResult, error) {
	match := buildMatchQuery(query)
	if match == "" {
		return nil, nil
	}

	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("articles.id", "articles.title", "bm25(articles_fts) AS rank", "article_analysis.bias_score")
	sb.From("articles_fts")
	sb.Join("articles", "articles.rowid = articles_fts.rowid")
	sb.JoinWithOption(sqlbuilder.LeftJoin, "article_analysis", "article_analysis.article_id = articles.id")
	sb.Where(fmt.Sprintf("articles_fts MATCH '%s'", match))
	if len(exclude) > 0 {
		sb.Where(sb.NotIn("articles.id", lo.ToAnySlice(exclude)...))
	}
	sb.OrderBy("rank").Asc()
	sb.Limit(k)

	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		var result models.SearchResult
		var bias sql.NullFloat64
		if err := rows.Scan(&result.ArticleID, &result.Title, &result.Rank, &bias); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		if bias.Valid {
			result.BiasScore = &bias.Float64
		}
		results = append(results, result)
	}

	return results, rows.Err()
}

// buildMatchQuery turns a generated query string into an FTS5 MATCH
// expression. Terms are OR-ed for recall, single quotes escaped.
func buildMatchQuery(query string) string {
	var terms []string
	for _, term := range strings.Fields(query) {
		term = strings.ReplaceAll(strings.ToLower(term), "'", "''")
		term = strings.Trim(term, `"`)
		if term == "" {
			continue
		}
		terms = append(terms, `"`+term+`"`)
	}
	return strings.Join(terms, " OR ")
}

// Opposing link operations

// InsertOpposingLink persists one link with conflict-ignore semantics.
// Returns false when the (source, opposing) pair already existed.
func (d *DB) InsertOpposingLink(ctx context.Context, link models.OpposingLink) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now()
	}

	res, err := d.db.ExecContext(ctx, `
		INSERT INTO opposing_articles (source_article_id, opposing_article_id, relevance_score, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (source_article_id, opposing_article_id) DO NOTHING`,
		link.SourceArticleID,
		link.OpposingArticleID,
		link.RelevanceScore,
		link.CreatedAt.Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("insert error: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (d *DB) ListOpposingLinks(ctx context.Context, sourceID string) ([]models.OpposingLink, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("source_article_id", "opposing_article_id", "relevance_score", "created_at")
	sb.From("opposing_articles")
	sb.Where(sb.Equal("source_article_id", sourceID))
	sb.OrderBy("relevance_score").Desc()

	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	var links []models.OpposingLink
	for rows.Next() {
		var link models.OpposingLink
		var created int64
		if err := rows.Scan(&link.SourceArticleID, &link.OpposingArticleID, &link.RelevanceScore, &created); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		link.CreatedAt = time.Unix(created, 0)
		links = append(links, link)
	}

	return links, rows.Err()
}

// LinkedCandidateIDs returns the opposing article ids already linked for a
// source, so re-matching runs only consider new pairs.
func (d *DB) LinkedCandidateIDs(ctx context.Context, sourceID string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT opposing_article_id FROM opposing_articles WHERE source_article_id = ?", sourceID)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// Dashboard

// GetAnalysisCountPerTime returns the number of completed analyses bucketed
// by hour, day or week, optionally filtered by provider.
func (d *DB) GetAnalysisCountPerTime(provider string, timeAgg string) ([]models.AnalysesAggregatedByTime, error) {
	var sqlFormat string
	var timeParse func(string) (time.Time, error)

	switch timeAgg {
	case "day":
		sqlFormat = `STRFTIME('%Y-%m-%d', analyzed_at, 'unixepoch')`
		timeParse = func(str string) (time.Time, error) {
			return time.Parse("2006-01-02", str)
		}
	case "week":
		sqlFormat = `STRFTIME('%Y-%W', analyzed_at, 'unixepoch')`
		timeParse = parseYearWeek
	default:
		sqlFormat = `STRFTIME('%Y-%m-%d-%H', analyzed_at, 'unixepoch')`
		timeParse = func(str string) (time.Time, error) {
			return time.Parse("2006-01-02-15", str)
		}
	}

	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(sqlFormat, "count(*) as count").From("article_analysis")
	if provider != "" {
		sb.Where(sb.Equal("provider", provider))
	}
	sb.GroupBy(sqlFormat)
	sb.OrderBy("analyzed_at").Asc()

	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)
	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []models.AnalysesAggregatedByTime
	for rows.Next() {
		var sqlTime string
		var count models.AnalysesAggregatedByTime

		if err := rows.Scan(&sqlTime, &count.Count); err != nil {
			continue // Skip this row
		}

		if parsed, err := timeParse(sqlTime); err == nil {
			count.Time = parsed
		}
		counts = append(counts, count)
	}

	return counts, rows.Err()
}

func parseYearWeek(str string) (time.Time, error) {
	if len(str) < 6 {
		return time.Time{}, fmt.Errorf("invalid year-week: %s", str)
	}
	year, err := time.Parse("2006", str[:4])
	if err != nil {
		return time.Time{}, err
	}
	week, err := strconv.ParseInt(str[5:], 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return year.AddDate(0, 0, int(week)*7), nil
}

// Helpers

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func marshalStrings(values []string) (string, error) {
	if len(values) == 0 {
		return "[]", nil
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("marshal error: %w", err)
	}
	return string(encoded), nil
}

func unmarshalStrings(encoded string) []string {
	if encoded == "" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(encoded), &values); err != nil {
		return nil
	}
	if len(values) == 0 {
		return nil
	}
	return values
}
