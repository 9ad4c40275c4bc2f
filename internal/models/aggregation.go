package models

import (
	"time"
)

// DefaultConfidenceThreshold is the minimum confidence for paraphrasing
const DefaultConfidenceThreshold = 0.75

// MediumConfidenceFloor separates medium from low confidence aggregations
const MediumConfidenceFloor = 0.5

// ContentAggregation groups near-duplicate articles covering one story
type ContentAggregation struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	Topic           string          `gorm:"not null" json:"topic"`
	ConfidenceScore float64         `gorm:"index" json:"confidence_score"`
	IsCurated       bool            `gorm:"index" json:"is_curated"`
	SourceCount     int             `json:"source_count"`
	ArticleCount    int             `json:"article_count"`
	MergedIntoID    *uint           `gorm:"index" json:"merged_into_id"`
	CuratedPostID   *uint           `json:"curated_post_id"`
	Articles        []SourceArticle `gorm:"foreignKey:AggregationID" json:"articles,omitempty"`
	CreatedAt       time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsOpen reports whether the aggregation can still absorb articles or merges
func (a *ContentAggregation) IsOpen() bool {
	return !a.IsCurated && a.MergedIntoID == nil
}

// ReadyForParaphrase reports whether the aggregation passed the confidence gate
func (a *ContentAggregation) ReadyForParaphrase(threshold float64) bool {
	return a.IsOpen() && a.ConfidenceScore >= threshold
}
