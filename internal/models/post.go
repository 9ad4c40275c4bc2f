package models

import (
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PostStatus represents the publication state of a post
type PostStatus string

const (
	PostStatusDraft     PostStatus = "draft"
	PostStatusPublished PostStatus = "published"
)

// ModerationStatus is the outcome of the moderation gate
type ModerationStatus string

const (
	ModerationPending  ModerationStatus = "pending"
	ModerationApproved ModerationStatus = "approved"
	ModerationRejected ModerationStatus = "rejected"
)

// ErrPremiumTierRequired is returned when a premium post has no tier
var ErrPremiumTierRequired = errors.New("premium post requires a tier")

// Post is a blog post, either original or curated from an aggregation
type Post struct {
	ID               uint                        `gorm:"primaryKey" json:"id"`
	CreatorID        uint                        `gorm:"index" json:"creator_id"`
	AggregationID    *uint                       `gorm:"index" json:"aggregation_id"` // nil for originals
	Title            string                      `gorm:"not null" json:"title"`
	Content          string                      `gorm:"type:text;not null" json:"content"`
	Excerpt          string                      `gorm:"type:text" json:"excerpt"`
	Tags             datatypes.JSONSlice[string] `json:"tags"`
	Topic            string                      `json:"topic"`
	SeriesName       string                      `json:"series_name"`
	SeriesPart       int                         `json:"series_part"`
	Status           PostStatus                  `gorm:"index;default:'draft'" json:"status"`
	IsCurated        bool                        `gorm:"index" json:"is_curated"`
	IsPremium        bool                        `json:"is_premium"`
	PremiumTier      *string                     `json:"premium_tier"`
	ModerationStatus ModerationStatus            `gorm:"index;default:'pending'" json:"moderation_status"`
	ModerationFlags  datatypes.JSONSlice[string] `json:"moderation_flags"`
	Featured         bool                        `gorm:"index" json:"featured"`
	FeaturedAt       *time.Time                  `json:"featured_at"`
	FeaturedImageURL string                      `json:"featured_image_url"`
	ViewCount        int                         `json:"view_count"`
	LikeCount        int                         `json:"like_count"`
	ShareCount       int                         `json:"share_count"`
	TrendingScore    float64                     `gorm:"index" json:"trending_score"`
	AIMetadata       datatypes.JSON              `json:"ai_metadata"`
	PublishedAt      *time.Time                  `gorm:"index" json:"published_at"`
	CreatedAt        time.Time                   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time                   `gorm:"autoUpdateTime" json:"updated_at"`
}

// MarkPremium flags the post as premium with the given tier
func (p *Post) MarkPremium(tier string) error {
	if tier == "" {
		return ErrPremiumTierRequired
	}
	p.IsPremium = true
	p.PremiumTier = &tier
	return nil
}

// MarkFree clears premium flags
func (p *Post) MarkFree() {
	p.IsPremium = false
	p.PremiumTier = nil
}

// IsPublishable reports whether the scheduler may publish this post
func (p *Post) IsPublishable() bool {
	return p.Status == PostStatusDraft && p.ModerationStatus == ModerationApproved
}

// Tier returns the premium tier or an empty string
func (p *Post) Tier() string {
	if p.PremiumTier == nil {
		return ""
	}
	return *p.PremiumTier
}

// BeforeSave keeps premium posts tiered
func (p *Post) BeforeSave(tx *gorm.DB) error {
	if p.IsPremium && (p.PremiumTier == nil || *p.PremiumTier == "") {
		return ErrPremiumTierRequired
	}
	return nil
}
