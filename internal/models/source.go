package models

import (
	"time"

	"gorm.io/datatypes"
)

// SourceType identifies how a content source is fetched
type SourceType string

const (
	SourceTypeRSS  SourceType = "rss"
	SourceTypeHTML SourceType = "html"
)

// Selectors holds CSS selectors for HTML sources
type Selectors struct {
	Item    string `json:"item"`
	Title   string `json:"title"`
	Link    string `json:"link"`
	Summary string `json:"summary"`
	Author  string `json:"author,omitempty"`
}

// ContentSource is a registered place articles are scraped from
type ContentSource struct {
	ID                uint                          `gorm:"primaryKey" json:"id"`
	Name              string                        `gorm:"uniqueIndex;not null" json:"name"`
	Category          string                        `gorm:"index" json:"category"`
	Type              SourceType                    `gorm:"not null" json:"type"`
	URL               string                        `gorm:"not null" json:"url"`
	Selectors         datatypes.JSONType[Selectors] `json:"selectors"`
	TrustLevel        float64                       `json:"trust_level"` // 0..1, weights aggregation confidence
	Active            bool                          `gorm:"index" json:"active"`
	ArticlesCollected int                           `json:"articles_collected"`
	LastScrapedAt     *time.Time                    `json:"last_scraped_at"`
	LastError         string                        `json:"last_error"`
	CreatedAt         time.Time                     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time                     `gorm:"autoUpdateTime" json:"updated_at"`
}

// Trust returns the trust level clamped into [0,1]
func (s *ContentSource) Trust() float64 {
	switch {
	case s.TrustLevel < 0:
		return 0
	case s.TrustLevel > 1:
		return 1
	}
	return s.TrustLevel
}

// SourceArticle is one scraped article awaiting deduplication
type SourceArticle struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	ExternalID    string         `gorm:"uniqueIndex;not null" json:"external_id"` // hash of source + URL
	SourceID      uint           `gorm:"index;not null" json:"source_id"`
	Source        *ContentSource `gorm:"foreignKey:SourceID" json:"source,omitempty"`
	Title         string         `gorm:"not null" json:"title"`
	Content       string         `gorm:"type:text" json:"content"`
	URL           string         `json:"url"`
	Author        string         `json:"author"`
	PublishedAt   *time.Time     `json:"published_at"`
	FetchedAt     time.Time      `gorm:"index" json:"fetched_at"`
	Processed     bool           `gorm:"index" json:"processed"`
	AggregationID *uint          `gorm:"index" json:"aggregation_id"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

// RawArticle is an article as returned by a fetcher, before persistence
type RawArticle struct {
	Title       string
	Content     string
	URL         string
	Author      string
	PublishedAt time.Time
}
