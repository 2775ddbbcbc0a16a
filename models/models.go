package models

import "time"

// Article is an ingested feed article. Articles are immutable once created;
// the analysis pipeline only reads them.
type Article struct {
	ID          string     `json:"id"`
	FeedID      string     `json:"feedId"`
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Author      string     `json:"author,omitempty"`
	Summary     string     `json:"summary,omitempty"`
	Content     string     `json:"content,omitempty"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
	GUID        string     `json:"guid,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Classification is a provider's raw judgement of an article. All fields
// except ContentType may be absent when the provider is uncertain.
type Classification struct {
	ContentType    string   `json:"contentType"`
	BiasScore      *float64 `json:"biasScore,omitempty"`
	BiasConfidence *float64 `json:"biasConfidence,omitempty"`
	BiasIndicators []string `json:"biasIndicators,omitempty"`
	TopicSummary   string   `json:"topicSummary,omitempty"`
	ModelVersion   string   `json:"modelVersion,omitempty"`
}

// Analysis is the persisted, normalized classification of one article.
// At most one analysis exists per article.
type Analysis struct {
	ID              string    `json:"id"`
	ArticleID       string    `json:"articleId"`
	ContentType     string    `json:"contentType"`
	BiasScore       *float64  `json:"biasScore,omitempty"`
	BiasConfidence  *float64  `json:"biasConfidence,omitempty"`
	BiasIndicators  []string  `json:"biasIndicators,omitempty"`
	OpposingQueries []string  `json:"opposingQueries,omitempty"`
	TopicSummary    string    `json:"topicSummary,omitempty"`
	Provider        string    `json:"provider"`
	ModelVersion    string    `json:"modelVersion,omitempty"`
	AnalyzedAt      time.Time `json:"analyzedAt"`
}

// OpposingLink is a directed edge from a source article to a candidate
// opposing article, unique per ordered pair.
type OpposingLink struct {
	SourceArticleID   string    `json:"sourceArticleId"`
	OpposingArticleID string    `json:"opposingArticleId"`
	RelevanceScore    float64   `json:"relevanceScore"`
	CreatedAt         time.Time `json:"createdAt"`
}

// SearchResult is one candidate returned by the article search index.
// Rank is the raw lexical rank (lower is better for bm25), BiasScore is the
// candidate's analyzed bias when it has one.
type SearchResult struct {
	ArticleID string   `json:"articleId"`
	Title     string   `json:"title"`
	Rank      float64  `json:"rank"`
	BiasScore *float64 `json:"biasScore,omitempty"`
}

// AnalysisCompletedEvent fired when an article analysis is persisted
type AnalysisCompletedEvent struct {
	Analysis Analysis
}

// LinksCreatedEvent fired when the matcher persists new opposing links
type LinksCreatedEvent struct {
	SourceArticleID string
	Links           []OpposingLink
}

type AnalysesAggregatedByTime struct {
	Time  time.Time `json:"time"`
	Count int64     `json:"count"`
}
