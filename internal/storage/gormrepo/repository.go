package gormrepo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/content-engine/internal/models"
	"github.com/content-engine/internal/storage"
)

// Repository implements storage.Repository on top of gorm
type Repository struct {
	db *gorm.DB
}

// New opens a repository for the given driver ("sqlite" or "postgres")
func New(driver, dsn string) (*Repository, error) {
	var dialector gorm.Dialector
	memory := false

	switch driver {
	case "", "sqlite":
		memory = dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
		if !memory {
			dir := filepath.Dir(dsn)
			if dir != "." && dir != "" {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return nil, fmt.Errorf("failed to create data directory: %w", err)
				}
			}
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if memory {
		// every new connection would get its own empty in-memory database
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return &Repository{db: db}, nil
}

// Migrate runs database migrations
func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(
		&models.ContentSource{},
		&models.SourceArticle{},
		&models.ContentAggregation{},
		&models.Post{},
		&models.VideoGeneration{},
		&models.SocialMediaAccount{},
		&models.SocialMediaPost{},
		&models.Earning{},
		&models.PayoutRequest{},
		&models.Subscription{},
		&models.SchedulerState{},
	)
}

// Ping checks the database connection
func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func wrapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.ErrNotFound
	}
	return err
}

func applyOrder(query *gorm.DB, column string, desc bool, fallback string) *gorm.DB {
	if column == "" {
		column = fallback
	}
	if desc {
		return query.Order(column + " DESC")
	}
	return query.Order(column + " ASC")
}

// Source registry

func (r *Repository) CreateSource(ctx context.Context, source *models.ContentSource) error {
	return r.db.WithContext(ctx).Create(source).Error
}

func (r *Repository) GetSourceByID(ctx context.Context, id uint) (*models.ContentSource, error) {
	var source models.ContentSource
	if err := r.db.WithContext(ctx).First(&source, id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &source, nil
}

func (r *Repository) GetSourceByName(ctx context.Context, name string) (*models.ContentSource, error) {
	var source models.ContentSource
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&source).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &source, nil
}

func (r *Repository) ListSources(ctx context.Context, filter storage.SourceFilter) ([]*models.ContentSource, error) {
	var sources []*models.ContentSource
	query := r.db.WithContext(ctx).Model(&models.ContentSource{})

	if filter.Active != nil {
		query = query.Where("active = ?", *filter.Active)
	}
	if filter.Category != nil {
		query = query.Where("category = ?", *filter.Category)
	}
	if filter.Type != nil {
		query = query.Where("type = ?", *filter.Type)
	}

	if err := query.Order("name ASC").Find(&sources).Error; err != nil {
		return nil, err
	}
	return sources, nil
}

func (r *Repository) UpdateSource(ctx context.Context, source *models.ContentSource) error {
	return r.db.WithContext(ctx).Save(source).Error
}

// RecordScrape bumps the collected counter and stamps the scrape time in one statement
func (r *Repository) RecordScrape(ctx context.Context, sourceID uint, collected int, scrapedAt time.Time, scrapeErr string) error {
	return r.db.WithContext(ctx).
		Model(&models.ContentSource{}).
		Where("id = ?", sourceID).
		Updates(map[string]interface{}{
			"articles_collected": gorm.Expr("articles_collected + ?", collected),
			"last_scraped_at":    scrapedAt,
			"last_error":         scrapeErr,
		}).Error
}

// Scraped articles

func (r *Repository) CreateArticle(ctx context.Context, article *models.SourceArticle) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(article).Error
}

func (r *Repository) ArticleExists(ctx context.Context, externalID string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.SourceArticle{}).
		Where("external_id = ?", externalID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *Repository) ListArticles(ctx context.Context, filter storage.ArticleFilter) ([]*models.SourceArticle, error) {
	var articles []*models.SourceArticle
	query := r.db.WithContext(ctx).Model(&models.SourceArticle{}).Preload("Source")

	if filter.Processed != nil {
		query = query.Where("processed = ?", *filter.Processed)
	}
	if filter.FetchedSince != nil {
		query = query.Where("fetched_at >= ?", *filter.FetchedSince)
	}
	if filter.AggregationID != nil {
		query = query.Where("aggregation_id = ?", *filter.AggregationID)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	if err := query.Order("fetched_at ASC, id ASC").Find(&articles).Error; err != nil {
		return nil, err
	}
	return articles, nil
}

// AssignArticles attaches articles to an aggregation and marks them processed
func (r *Repository) AssignArticles(ctx context.Context, aggregationID uint, articleIDs []uint) error {
	if len(articleIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.SourceArticle{}).
		Where("id IN ?", articleIDs).
		Updates(map[string]interface{}{
			"aggregation_id": aggregationID,
			"processed":      true,
		}).Error
}

// Aggregations

func (r *Repository) CreateAggregation(ctx context.Context, agg *models.ContentAggregation) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(agg).Error
}

func (r *Repository) GetAggregationByID(ctx context.Context, id uint) (*models.ContentAggregation, error) {
	var agg models.ContentAggregation
	if err := r.db.WithContext(ctx).
		Preload("Articles").
		Preload("Articles.Source").
		First(&agg, id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &agg, nil
}

func (r *Repository) ListAggregations(ctx context.Context, filter storage.AggregationFilter) ([]*models.ContentAggregation, error) {
	var aggs []*models.ContentAggregation
	query := r.db.WithContext(ctx).
		Model(&models.ContentAggregation{}).
		Preload("Articles").
		Preload("Articles.Source")

	if filter.OpenOnly {
		query = query.Where("is_curated = ? AND merged_into_id IS NULL", false)
	}
	if filter.MinConfidence != nil {
		query = query.Where("confidence_score >= ?", *filter.MinConfidence)
	}
	if filter.CreatedSince != nil {
		query = query.Where("created_at >= ?", *filter.CreatedSince)
	}
	query = applyOrder(query, filter.OrderBy, filter.OrderDesc, "created_at")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	if err := query.Find(&aggs).Error; err != nil {
		return nil, err
	}
	return aggs, nil
}

func (r *Repository) UpdateAggregation(ctx context.Context, agg *models.ContentAggregation) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(agg).Error
}

// MergeAggregations moves absorbed's articles into target and retires absorbed
func (r *Repository) MergeAggregations(ctx context.Context, target, absorbed *models.ContentAggregation) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.SourceArticle{}).
			Where("aggregation_id = ?", absorbed.ID).
			Update("aggregation_id", target.ID).Error; err != nil {
			return fmt.Errorf("failed to move articles: %w", err)
		}

		absorbed.MergedIntoID = &target.ID
		if err := tx.Omit(clause.Associations).Save(absorbed).Error; err != nil {
			return fmt.Errorf("failed to retire aggregation %d: %w", absorbed.ID, err)
		}

		return tx.Omit(clause.Associations).Save(target).Error
	})
}

// CuratePost saves a curated post and closes its aggregation in one transaction.
// An aggregation that is no longer open yields storage.ErrAggregationClosed and
// nothing is written.
func (r *Repository) CuratePost(ctx context.Context, agg *models.ContentAggregation, post *models.Post) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(post).Error; err != nil {
			return fmt.Errorf("failed to save post: %w", err)
		}

		result := tx.Model(&models.ContentAggregation{}).
			Where("id = ? AND is_curated = ? AND merged_into_id IS NULL", agg.ID, false).
			Updates(map[string]interface{}{
				"is_curated":      true,
				"curated_post_id": post.ID,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to close aggregation %d: %w", agg.ID, result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("aggregation %d: %w", agg.ID, storage.ErrAggregationClosed)
		}

		agg.IsCurated = true
		agg.CuratedPostID = &post.ID
		return nil
	})
}

// AggregationCounts computes confidence buckets over non-merged aggregations
func (r *Repository) AggregationCounts(ctx context.Context, highFloor, mediumFloor float64) (storage.AggregationCounts, error) {
	var row struct {
		Total  int64
		High   int64
		Medium int64
		Avg    float64
	}

	err := r.db.WithContext(ctx).
		Model(&models.ContentAggregation{}).
		Where("merged_into_id IS NULL").
		Select(`COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN confidence_score >= ? THEN 1 ELSE 0 END), 0) AS high,
			COALESCE(SUM(CASE WHEN confidence_score >= ? AND confidence_score < ? THEN 1 ELSE 0 END), 0) AS medium,
			COALESCE(AVG(confidence_score), 0) AS avg`, highFloor, mediumFloor, highFloor).
		Scan(&row).Error
	if err != nil {
		return storage.AggregationCounts{}, err
	}

	return storage.AggregationCounts{
		Total:         row.Total,
		High:          row.High,
		Medium:        row.Medium,
		AvgConfidence: row.Avg,
	}, nil
}

// Posts

func (r *Repository) CreatePost(ctx context.Context, post *models.Post) error {
	return r.db.WithContext(ctx).Create(post).Error
}

func (r *Repository) GetPostByID(ctx context.Context, id uint) (*models.Post, error) {
	var post models.Post
	if err := r.db.WithContext(ctx).First(&post, id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &post, nil
}

func (r *Repository) ListPosts(ctx context.Context, filter storage.PostFilter) ([]*models.Post, error) {
	var posts []*models.Post
	query := r.db.WithContext(ctx).Model(&models.Post{})

	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.ModerationStatus != nil {
		query = query.Where("moderation_status = ?", *filter.ModerationStatus)
	}
	if filter.IsCurated != nil {
		query = query.Where("is_curated = ?", *filter.IsCurated)
	}
	if filter.IsPremium != nil {
		query = query.Where("is_premium = ?", *filter.IsPremium)
	}
	if filter.Featured != nil {
		query = query.Where("featured = ?", *filter.Featured)
	}
	if filter.CreatorID != nil {
		query = query.Where("creator_id = ?", *filter.CreatorID)
	}
	if filter.PublishedSince != nil {
		query = query.Where("published_at >= ?", *filter.PublishedSince)
	}

	query = applyOrder(query, filter.OrderBy, filter.OrderDesc, "created_at")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	if err := query.Find(&posts).Error; err != nil {
		return nil, err
	}
	return posts, nil
}

func (r *Repository) UpdatePost(ctx context.Context, post *models.Post) error {
	return r.db.WithContext(ctx).Save(post).Error
}

func (r *Repository) DeletePost(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&models.Post{}, id).Error
}

// DeleteDraftsBefore removes drafts that were never published
func (r *Repository) DeleteDraftsBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.PostStatusDraft, before).
		Delete(&models.Post{})
	return result.RowsAffected, result.Error
}

// Video generation

func (r *Repository) CreateVideo(ctx context.Context, video *models.VideoGeneration) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(video).Error
}

func (r *Repository) GetVideoByID(ctx context.Context, id uint) (*models.VideoGeneration, error) {
	var video models.VideoGeneration
	if err := r.db.WithContext(ctx).Preload("Post").First(&video, id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &video, nil
}

func (r *Repository) ListVideos(ctx context.Context, filter storage.VideoFilter) ([]*models.VideoGeneration, error) {
	var videos []*models.VideoGeneration
	query := r.db.WithContext(ctx).Model(&models.VideoGeneration{})

	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.PostID != nil {
		query = query.Where("post_id = ?", *filter.PostID)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	if err := query.Order("updated_at ASC").Find(&videos).Error; err != nil {
		return nil, err
	}
	return videos, nil
}

func (r *Repository) UpdateVideo(ctx context.Context, video *models.VideoGeneration) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(video).Error
}

func (r *Repository) CountVideosByStatus(ctx context.Context) (map[models.VideoStatus]int64, error) {
	var rows []struct {
		Status models.VideoStatus
		Count  int64
	}
	if err := r.db.WithContext(ctx).
		Model(&models.VideoGeneration{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[models.VideoStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// Social accounts and shares

func (r *Repository) CreateSocialAccount(ctx context.Context, account *models.SocialMediaAccount) error {
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *Repository) GetSocialAccountByID(ctx context.Context, id uint) (*models.SocialMediaAccount, error) {
	var account models.SocialMediaAccount
	if err := r.db.WithContext(ctx).First(&account, id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &account, nil
}

func (r *Repository) ListSocialAccounts(ctx context.Context, creatorID uint, activeOnly bool) ([]*models.SocialMediaAccount, error) {
	var accounts []*models.SocialMediaAccount
	query := r.db.WithContext(ctx).Where("creator_id = ?", creatorID)
	if activeOnly {
		query = query.Where("active = ?", true)
	}
	if err := query.Order("id ASC").Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *Repository) UpdateSocialAccount(ctx context.Context, account *models.SocialMediaAccount) error {
	return r.db.WithContext(ctx).Save(account).Error
}

func (r *Repository) CreateSocialPost(ctx context.Context, post *models.SocialMediaPost) error {
	return r.db.WithContext(ctx).Create(post).Error
}

func (r *Repository) UpdateSocialPost(ctx context.Context, post *models.SocialMediaPost) error {
	return r.db.WithContext(ctx).Save(post).Error
}

func (r *Repository) FindSocialPost(ctx context.Context, postID, accountID uint, videoID *uint) (*models.SocialMediaPost, error) {
	var share models.SocialMediaPost
	query := r.db.WithContext(ctx).Where("post_id = ? AND account_id = ?", postID, accountID)
	if videoID != nil {
		query = query.Where("video_id = ?", *videoID)
	} else {
		query = query.Where("video_id IS NULL")
	}
	if err := query.Order("id DESC").First(&share).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &share, nil
}

// Monetization

func (r *Repository) CreateEarning(ctx context.Context, earning *models.Earning) error {
	return r.db.WithContext(ctx).Create(earning).Error
}

func (r *Repository) GetEarningByID(ctx context.Context, id uint) (*models.Earning, error) {
	var earning models.Earning
	if err := r.db.WithContext(ctx).First(&earning, id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &earning, nil
}

func (r *Repository) GetEarningByExternalRef(ctx context.Context, ref string) (*models.Earning, error) {
	var earning models.Earning
	if err := r.db.WithContext(ctx).Where("external_ref = ?", ref).First(&earning).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &earning, nil
}

func (r *Repository) UpdateEarning(ctx context.Context, earning *models.Earning) error {
	return r.db.WithContext(ctx).Save(earning).Error
}

func (r *Repository) ListEarnings(ctx context.Context, filter storage.LedgerFilter) ([]*models.Earning, error) {
	var earnings []*models.Earning
	if err := ledgerQuery(r.db.WithContext(ctx), filter).Find(&earnings).Error; err != nil {
		return nil, err
	}
	return earnings, nil
}

func (r *Repository) SumEarnings(ctx context.Context, creatorID uint, currency string, statuses ...models.LedgerStatus) (int64, error) {
	return r.sumAmount(ctx, &models.Earning{}, creatorID, currency, statuses)
}

func (r *Repository) CreatePayout(ctx context.Context, payout *models.PayoutRequest) error {
	return r.db.WithContext(ctx).Create(payout).Error
}

func (r *Repository) GetPayoutByID(ctx context.Context, id uint) (*models.PayoutRequest, error) {
	var payout models.PayoutRequest
	if err := r.db.WithContext(ctx).First(&payout, id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &payout, nil
}

func (r *Repository) UpdatePayout(ctx context.Context, payout *models.PayoutRequest) error {
	return r.db.WithContext(ctx).Save(payout).Error
}

func (r *Repository) ListPayouts(ctx context.Context, filter storage.LedgerFilter) ([]*models.PayoutRequest, error) {
	var payouts []*models.PayoutRequest
	if err := ledgerQuery(r.db.WithContext(ctx), filter).Find(&payouts).Error; err != nil {
		return nil, err
	}
	return payouts, nil
}

func (r *Repository) SumPayouts(ctx context.Context, creatorID uint, currency string, statuses ...models.LedgerStatus) (int64, error) {
	return r.sumAmount(ctx, &models.PayoutRequest{}, creatorID, currency, statuses)
}

func ledgerQuery(query *gorm.DB, filter storage.LedgerFilter) *gorm.DB {
	if filter.CreatorID != nil {
		query = query.Where("creator_id = ?", *filter.CreatorID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	return query.Order("created_at DESC")
}

func (r *Repository) sumAmount(ctx context.Context, model interface{}, creatorID uint, currency string, statuses []models.LedgerStatus) (int64, error) {
	var total int64
	query := r.db.WithContext(ctx).
		Model(model).
		Select("COALESCE(SUM(amount_cents), 0)").
		Where("creator_id = ?", creatorID)
	if currency != "" {
		query = query.Where("UPPER(currency) = ?", strings.ToUpper(currency))
	}
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	if err := query.Scan(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

// SaveSubscription upserts by external id
func (r *Repository) SaveSubscription(ctx context.Context, sub *models.Subscription) error {
	existing, err := r.GetSubscriptionByExternalID(ctx, sub.ExternalID)
	if err == nil {
		sub.ID = existing.ID
		sub.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return r.db.WithContext(ctx).Save(sub).Error
}

func (r *Repository) GetSubscriptionByExternalID(ctx context.Context, externalID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).Where("external_id = ?", externalID).First(&sub).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &sub, nil
}

// Scheduler run markers

// GetSchedulerState returns the stored state, or a fresh unsaved one for an unknown key
func (r *Repository) GetSchedulerState(ctx context.Context, key string) (*models.SchedulerState, error) {
	var state models.SchedulerState
	err := r.db.WithContext(ctx).Where("state_key = ?", key).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.SchedulerState{Key: key}, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (r *Repository) SaveSchedulerState(ctx context.Context, state *models.SchedulerState) error {
	return r.db.WithContext(ctx).Save(state).Error
}
