package storage

import (
	"context"
	"errors"
	"time"

	"github.com/content-engine/internal/models"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("record not found")

// ErrAggregationClosed is returned when an aggregation was curated or merged meanwhile
var ErrAggregationClosed = errors.New("aggregation is no longer open")

// Repository defines the interface for data persistence
type Repository interface {
	// Source registry
	CreateSource(ctx context.Context, source *models.ContentSource) error
	GetSourceByID(ctx context.Context, id uint) (*models.ContentSource, error)
	GetSourceByName(ctx context.Context, name string) (*models.ContentSource, error)
	ListSources(ctx context.Context, filter SourceFilter) ([]*models.ContentSource, error)
	UpdateSource(ctx context.Context, source *models.ContentSource) error
	RecordScrape(ctx context.Context, sourceID uint, collected int, scrapedAt time.Time, scrapeErr string) error

	// Scraped articles
	CreateArticle(ctx context.Context, article *models.SourceArticle) error
	ArticleExists(ctx context.Context, externalID string) (bool, error)
	ListArticles(ctx context.Context, filter ArticleFilter) ([]*models.SourceArticle, error)
	AssignArticles(ctx context.Context, aggregationID uint, articleIDs []uint) error

	// Aggregations
	CreateAggregation(ctx context.Context, agg *models.ContentAggregation) error
	GetAggregationByID(ctx context.Context, id uint) (*models.ContentAggregation, error)
	ListAggregations(ctx context.Context, filter AggregationFilter) ([]*models.ContentAggregation, error)
	UpdateAggregation(ctx context.Context, agg *models.ContentAggregation) error
	MergeAggregations(ctx context.Context, target, absorbed *models.ContentAggregation) error
	CuratePost(ctx context.Context, agg *models.ContentAggregation, post *models.Post) error
	AggregationCounts(ctx context.Context, highFloor, mediumFloor float64) (AggregationCounts, error)

	// Posts
	CreatePost(ctx context.Context, post *models.Post) error
	GetPostByID(ctx context.Context, id uint) (*models.Post, error)
	ListPosts(ctx context.Context, filter PostFilter) ([]*models.Post, error)
	UpdatePost(ctx context.Context, post *models.Post) error
	DeletePost(ctx context.Context, id uint) error
	DeleteDraftsBefore(ctx context.Context, before time.Time) (int64, error)

	// Video generation
	CreateVideo(ctx context.Context, video *models.VideoGeneration) error
	GetVideoByID(ctx context.Context, id uint) (*models.VideoGeneration, error)
	ListVideos(ctx context.Context, filter VideoFilter) ([]*models.VideoGeneration, error)
	UpdateVideo(ctx context.Context, video *models.VideoGeneration) error
	CountVideosByStatus(ctx context.Context) (map[models.VideoStatus]int64, error)

	// Social accounts and shares
	CreateSocialAccount(ctx context.Context, account *models.SocialMediaAccount) error
	GetSocialAccountByID(ctx context.Context, id uint) (*models.SocialMediaAccount, error)
	ListSocialAccounts(ctx context.Context, creatorID uint, activeOnly bool) ([]*models.SocialMediaAccount, error)
	UpdateSocialAccount(ctx context.Context, account *models.SocialMediaAccount) error
	CreateSocialPost(ctx context.Context, post *models.SocialMediaPost) error
	UpdateSocialPost(ctx context.Context, post *models.SocialMediaPost) error
	FindSocialPost(ctx context.Context, postID, accountID uint, videoID *uint) (*models.SocialMediaPost, error)

	// Monetization
	CreateEarning(ctx context.Context, earning *models.Earning) error
	GetEarningByID(ctx context.Context, id uint) (*models.Earning, error)
	GetEarningByExternalRef(ctx context.Context, ref string) (*models.Earning, error)
	UpdateEarning(ctx context.Context, earning *models.Earning) error
	ListEarnings(ctx context.Context, filter LedgerFilter) ([]*models.Earning, error)
	// SumEarnings and SumPayouts total amount_cents in one currency; an empty currency sums all
	SumEarnings(ctx context.Context, creatorID uint, currency string, statuses ...models.LedgerStatus) (int64, error)
	CreatePayout(ctx context.Context, payout *models.PayoutRequest) error
	GetPayoutByID(ctx context.Context, id uint) (*models.PayoutRequest, error)
	UpdatePayout(ctx context.Context, payout *models.PayoutRequest) error
	ListPayouts(ctx context.Context, filter LedgerFilter) ([]*models.PayoutRequest, error)
	SumPayouts(ctx context.Context, creatorID uint, currency string, statuses ...models.LedgerStatus) (int64, error)
	SaveSubscription(ctx context.Context, sub *models.Subscription) error
	GetSubscriptionByExternalID(ctx context.Context, externalID string) (*models.Subscription, error)

	// Scheduler run markers
	GetSchedulerState(ctx context.Context, key string) (*models.SchedulerState, error)
	SaveSchedulerState(ctx context.Context, state *models.SchedulerState) error

	// Maintenance
	Close() error
	Migrate() error
}

// AggregationCounts summarizes aggregation confidence
type AggregationCounts struct {
	Total         int64
	High          int64
	Medium        int64
	AvgConfidence float64
}

// SourceFilter defines filtering options for content sources
type SourceFilter struct {
	Active   *bool
	Category *string
	Type     *models.SourceType
}

// ArticleFilter defines filtering options for scraped articles
type ArticleFilter struct {
	Processed     *bool
	FetchedSince  *time.Time
	AggregationID *uint
	Limit         int
}

// AggregationFilter defines filtering options for aggregations
type AggregationFilter struct {
	OpenOnly      bool // not curated and not merged
	MinConfidence *float64
	CreatedSince  *time.Time
	Limit         int
	OrderBy       string
	OrderDesc     bool
}

// PostFilter defines filtering options for posts
type PostFilter struct {
	Status           *models.PostStatus
	ModerationStatus *models.ModerationStatus
	IsCurated        *bool
	IsPremium        *bool
	Featured         *bool
	CreatorID        *uint
	PublishedSince   *time.Time
	Limit            int
	Offset           int
	OrderBy          string
	OrderDesc        bool
}

// VideoFilter defines filtering options for video generations
type VideoFilter struct {
	Status *models.VideoStatus
	PostID *uint
	Limit  int
}

// LedgerFilter filters earnings and payouts
type LedgerFilter struct {
	CreatorID *uint
	Status    *models.LedgerStatus
	Limit     int
}

// DefaultPostFilter returns a filter with sensible defaults
func DefaultPostFilter() PostFilter {
	return PostFilter{
		Limit:     50,
		OrderBy:   "created_at",
		OrderDesc: true,
	}
}

// DefaultAggregationFilter returns open aggregations, most confident first
func DefaultAggregationFilter() AggregationFilter {
	return AggregationFilter{
		OpenOnly:  true,
		Limit:     100,
		OrderBy:   "confidence_score",
		OrderDesc: true,
	}
}

// Ptr returns a pointer to v, handy for filter fields
func Ptr[T any](v T) *T {
	return &v
}
