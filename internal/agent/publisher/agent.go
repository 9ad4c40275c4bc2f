package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"gorm.io/datatypes"

	"github.com/content-engine/internal/ai"
	"github.com/content-engine/internal/config"
	"github.com/content-engine/internal/metrics"
	"github.com/content-engine/internal/models"
	"github.com/content-engine/internal/moderation"
	"github.com/content-engine/internal/storage"
	"github.com/content-engine/pkg/logger"
)

// ErrNotPublishable is returned for posts that are not approved drafts
var ErrNotPublishable = errors.New("post is not an approved draft")

// Rand is the randomness used for the premium split
type Rand interface {
	Intn(n int) int
}

// Distributor fans a published post out to social channels
type Distributor interface {
	Distribute(ctx context.Context, post *models.Post) (int, error)
}

// Tracker records published posts in an external report
type Tracker interface {
	TrackPublished(ctx context.Context, post *models.Post) error
}

// ImageFinder looks up a featured image for a post
type ImageFinder interface {
	FindImageURL(ctx context.Context, query string) (string, error)
}

// Agent generates originals and runs the daily publication
type Agent struct {
	repository  storage.Repository
	writer      *ai.Writer
	gate        *moderation.Gate
	config      config.PublishingConfig
	distributor Distributor
	tracker     Tracker
	images      ImageFinder
	rand        Rand
	now         func() time.Time
	log         *logger.Logger
}

// NewAgent creates a new publisher agent
func NewAgent(
	repository storage.Repository,
	writer *ai.Writer,
	gate *moderation.Gate,
	publishConfig config.PublishingConfig,
	rnd Rand,
	log *logger.Logger,
) *Agent {
	return &Agent{
		repository: repository,
		writer:     writer,
		gate:       gate,
		config:     publishConfig,
		rand:       rnd,
		now:        time.Now,
		log:        log.WithComponent("publisher"),
	}
}

// SetDistributor enables social fan-out for published posts
func (a *Agent) SetDistributor(d Distributor) { a.distributor = d }

// SetTracker enables the publication report
func (a *Agent) SetTracker(t Tracker) { a.tracker = t }

// SetImageFinder enables featured images for originals
func (a *Agent) SetImageFinder(f ImageFinder) { a.images = f }

// GenerateOptions describes an original post to write
type GenerateOptions struct {
	// Topic overrides the rotation when set
	Topic      string
	SeriesName string
	SeriesPart int
	DryRun     bool
}

// GenerateOriginal writes, moderates and saves one original post
func (a *Agent) GenerateOriginal(ctx context.Context, opts GenerateOptions) (*models.Post, error) {
	topic := opts.Topic
	if topic == "" {
		var err error
		if topic, err = a.nextTopic(ctx, opts.DryRun); err != nil {
			return nil, err
		}
	}

	a.log.Info().Str("topic", topic).Str("series", opts.SeriesName).Msg("Generating original post")

	generated, err := a.writer.GenerateOriginal(ctx, ai.OriginalRequest{
		Topic:      topic,
		SeriesName: opts.SeriesName,
		SeriesPart: opts.SeriesPart,
	})
	if err != nil {
		return nil, err
	}

	post := &models.Post{
		CreatorID:  a.config.CreatorID,
		Title:      generated.Title,
		Content:    generated.Content,
		Excerpt:    generated.Excerpt,
		Tags:       generated.Tags,
		Topic:      topic,
		SeriesName: opts.SeriesName,
		SeriesPart: opts.SeriesPart,
		Status:     models.PostStatusDraft,
	}

	imageQuery := generated.ImageQuery
	if imageQuery == "" {
		imageQuery = topic
	}
	if a.images != nil {
		url, err := a.images.FindImageURL(ctx, imageQuery)
		if err != nil {
			a.log.Warn().Err(err).Str("query", imageQuery).Msg("No featured image found")
		} else {
			post.FeaturedImageURL = url
		}
	}
	if raw, err := json.Marshal(map[string]interface{}{"image_query": imageQuery}); err == nil {
		post.AIMetadata = datatypes.JSON(raw)
	}

	a.gate.Apply(post)

	if opts.DryRun {
		return post, nil
	}

	if err := a.repository.CreatePost(ctx, post); err != nil {
		return nil, fmt.Errorf("failed to save post: %w", err)
	}
	metrics.PostsCreated.WithLabelValues("original").Inc()

	a.log.WithPostID(post.ID).Info().
		Str("title", post.Title).
		Str("moderation", string(post.ModerationStatus)).
		Msg("Original post saved")

	return post, nil
}

// nextTopic rotates through the configured topics
func (a *Agent) nextTopic(ctx context.Context, dryRun bool) (string, error) {
	if len(a.config.Topics) == 0 {
		return "", fmt.Errorf("no topic given and publishing.topics is empty")
	}

	state, err := a.repository.GetSchedulerState(ctx, models.StateOriginalTopics)
	if err != nil {
		return "", fmt.Errorf("failed to load topic rotation: %w", err)
	}

	idx := state.RotationIndex % len(a.config.Topics)
	if idx < 0 {
		idx = 0
	}
	topic := a.config.Topics[idx]

	if !dryRun {
		state.RotationIndex = idx + 1
		if err := a.repository.SaveSchedulerState(ctx, state); err != nil {
			return "", fmt.Errorf("failed to save topic rotation: %w", err)
		}
	}
	return topic, nil
}

// DailyOptions controls a daily publication run
type DailyOptions struct {
	DryRun bool
	// Force ignores the once-per-window guard
	Force bool
}

// DailyResult contains the results of a daily publication run
type DailyResult struct {
	Skipped    bool
	LastRunAt  *time.Time
	Candidates int
	Published  int
	Premium    int
	Free       int
	Failed     int
	Posts      []*models.Post
	Errors     []error
	Duration   time.Duration
}

// RunDaily publishes the day's batch: fresh originals plus approved curated
// drafts, with a share of them premium.
func (a *Agent) RunDaily(ctx context.Context, opts DailyOptions) (*DailyResult, error) {
	startTime := time.Now()
	result := &DailyResult{}
	now := a.now()

	state, err := a.repository.GetSchedulerState(ctx, models.StateDailyPublication)
	if err != nil {
		return nil, fmt.Errorf("failed to load scheduler state: %w", err)
	}

	window := a.config.RunWindow
	if window <= 0 {
		window = 24 * time.Hour
	}
	if !opts.Force && state.RanWithin(now, window) {
		result.Skipped = true
		result.LastRunAt = state.LastRunAt
		a.log.Info().Time("last_run", *state.LastRunAt).Msg("Daily publication already ran, skipping")
		return result, nil
	}

	batch := a.collectBatch(ctx, opts.DryRun, result)
	result.Candidates = len(batch)

	if len(batch) == 0 {
		a.log.Warn().Msg("No publishable posts for today")
	}

	numPremium := PremiumCount(len(batch), a.config.FreePercent)
	premium := make(map[int]bool, numPremium)
	for _, idx := range SelectPremium(len(batch), numPremium, a.rand) {
		premium[idx] = true
	}

	for i, post := range batch {
		if premium[i] {
			if err := post.MarkPremium(a.config.PremiumTier); err != nil {
				result.Failed++
				result.Errors = append(result.Errors, fmt.Errorf("post %q: %w", post.Title, err))
				continue
			}
		} else {
			post.MarkFree()
		}

		if !opts.DryRun {
			if err := a.publish(ctx, post); err != nil {
				result.Failed++
				result.Errors = append(result.Errors, fmt.Errorf("post %d: %w", post.ID, err))
				a.log.WithPostID(post.ID).Error().Err(err).Msg("Failed to publish post")
				continue
			}
		}

		if post.IsPremium {
			result.Premium++
		} else {
			result.Free++
		}
		result.Published++
		result.Posts = append(result.Posts, post)
	}

	if !opts.DryRun {
		state.LastRunAt = &now
		if err := a.repository.SaveSchedulerState(ctx, state); err != nil {
			return result, fmt.Errorf("failed to save scheduler state: %w", err)
		}
	}

	result.Duration = time.Since(startTime)

	a.log.Info().
		Int("candidates", result.Candidates).
		Int("published", result.Published).
		Int("premium", result.Premium).
		Int("free", result.Free).
		Int("failed", result.Failed).
		Bool("dry_run", opts.DryRun).
		Dur("duration", result.Duration).
		Msg("Daily publication completed")

	return result, nil
}

// collectBatch gathers approved curated drafts and generates originals,
// including extra originals for any curated shortfall.
func (a *Agent) collectBatch(ctx context.Context, dryRun bool, result *DailyResult) []*models.Post {
	var batch []*models.Post

	if a.config.AggregatedPerDay > 0 {
		curated, err := a.repository.ListPosts(ctx, storage.PostFilter{
			Status:           storage.Ptr(models.PostStatusDraft),
			ModerationStatus: storage.Ptr(models.ModerationApproved),
			IsCurated:        storage.Ptr(true),
			Limit:            a.config.AggregatedPerDay,
			OrderBy:          "created_at",
		})
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("failed to load curated drafts: %w", err))
			a.log.Error().Err(err).Msg("Failed to load curated drafts")
		}
		batch = append(batch, curated...)
	}

	shortfall := a.config.AggregatedPerDay - len(batch)
	if shortfall < 0 {
		shortfall = 0
	}
	originals := a.config.OriginalsPerDay + shortfall

	if shortfall > 0 {
		a.log.Info().Int("shortfall", shortfall).Msg("Not enough curated drafts, generating extra originals")
	}

	for i := 0; i < originals; i++ {
		post, err := a.GenerateOriginal(ctx, GenerateOptions{DryRun: dryRun})
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, err)
			a.log.Error().Err(err).Msg("Failed to generate original post")
			continue
		}
		if !post.IsPublishable() {
			a.log.WithPostID(post.ID).Warn().
				Strs("flags", post.ModerationFlags).
				Msg("Original held by moderation, leaving out of batch")
			continue
		}
		batch = append([]*models.Post{post}, batch...)
	}

	return batch
}

// PremiumCount is ceil(count * (100 - freePercent) / 100) in integer arithmetic
func PremiumCount(count, freePercent int) int {
	if count <= 0 {
		return 0
	}
	if freePercent < 0 {
		freePercent = 0
	}
	if freePercent > 100 {
		freePercent = 100
	}
	return (count*(100-freePercent) + 99) / 100
}

// SelectPremium picks k distinct indexes out of n uniformly at random
func SelectPremium(n, k int, r Rand) []int {
	if k <= 0 || n <= 0 {
		return nil
	}
	if k > n {
		k = n
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	// partial Fisher-Yates
	for i := 0; i < k; i++ {
		j := i + r.Intn(n-i)
		idx[i], idx[j] = idx[j], idx[i]
	}
	return idx[:k]
}

// publish marks the post published and hands it to distribution and tracking
func (a *Agent) publish(ctx context.Context, post *models.Post) error {
	if !post.IsPublishable() {
		return ErrNotPublishable
	}

	now := a.now()
	post.Status = models.PostStatusPublished
	post.PublishedAt = &now

	if err := a.repository.UpdatePost(ctx, post); err != nil {
		post.Status = models.PostStatusDraft
		post.PublishedAt = nil
		return fmt.Errorf("failed to save post: %w", err)
	}

	metrics.PostsPublished.WithLabelValues(metrics.AccessLabel(post.IsPremium)).Inc()
	log := a.log.WithPostID(post.ID)
	log.Info().
		Str("title", post.Title).
		Bool("premium", post.IsPremium).
		Str("tier", post.Tier()).
		Msg("Post published")

	if a.distributor != nil {
		if _, err := a.distributor.Distribute(ctx, post); err != nil {
			log.Warn().Err(err).Msg("Failed to distribute post")
		}
	}
	if a.tracker != nil {
		if err := a.tracker.TrackPublished(ctx, post); err != nil {
			log.Warn().Err(err).Msg("Failed to track post")
		}
	}
	return nil
}

// PublishPost publishes one approved draft immediately, keeping its access level
func (a *Agent) PublishPost(ctx context.Context, postID uint) (*models.Post, error) {
	post, err := a.repository.GetPostByID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("post not found: %w", err)
	}
	if err := a.publish(ctx, post); err != nil {
		return nil, err
	}
	return post, nil
}

// ApprovePost clears a draft held by moderation
func (a *Agent) ApprovePost(ctx context.Context, postID uint) error {
	post, err := a.repository.GetPostByID(ctx, postID)
	if err != nil {
		return fmt.Errorf("post not found: %w", err)
	}

	if post.Status != models.PostStatusDraft {
		return fmt.Errorf("can only approve draft posts")
	}

	post.ModerationStatus = models.ModerationApproved
	return a.repository.UpdatePost(ctx, post)
}

// RejectPost keeps a draft out of every future batch
func (a *Agent) RejectPost(ctx context.Context, postID uint, reason string) error {
	post, err := a.repository.GetPostByID(ctx, postID)
	if err != nil {
		return fmt.Errorf("post not found: %w", err)
	}

	if post.Status != models.PostStatusDraft {
		return fmt.Errorf("can only reject draft posts")
	}

	post.ModerationStatus = models.ModerationRejected
	if reason != "" {
		post.ModerationFlags = append(post.ModerationFlags, "rejected:"+reason)
	}
	return a.repository.UpdatePost(ctx, post)
}

// FeaturePost pins or unpins a published post
func (a *Agent) FeaturePost(ctx context.Context, postID uint, featured bool) error {
	post, err := a.repository.GetPostByID(ctx, postID)
	if err != nil {
		return fmt.Errorf("post not found: %w", err)
	}

	if post.Status != models.PostStatusPublished {
		return fmt.Errorf("can only feature published posts")
	}

	post.Featured = featured
	if featured {
		now := a.now()
		post.FeaturedAt = &now
	} else {
		post.FeaturedAt = nil
	}
	return a.repository.UpdatePost(ctx, post)
}

// trendingWindow limits trending scores to recent posts
const trendingWindow = 7 * 24 * time.Hour

// TrendingScore weighs engagement against age in hours
func TrendingScore(views, likes, shares int, age time.Duration) float64 {
	engagement := float64(views) + 2*float64(likes) + 3*float64(shares)
	hours := age.Hours()
	if hours < 0 {
		hours = 0
	}
	return engagement / math.Pow(hours+2, 1.5)
}

// RefreshTrending recomputes trending scores for recently published posts
func (a *Agent) RefreshTrending(ctx context.Context) (int, error) {
	now := a.now()
	since := now.Add(-trendingWindow)

	posts, err := a.repository.ListPosts(ctx, storage.PostFilter{
		Status:         storage.Ptr(models.PostStatusPublished),
		PublishedSince: &since,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to load posts: %w", err)
	}

	updated := 0
	for _, post := range posts {
		if post.PublishedAt == nil {
			continue
		}
		post.TrendingScore = TrendingScore(post.ViewCount, post.LikeCount, post.ShareCount, now.Sub(*post.PublishedAt))
		if err := a.repository.UpdatePost(ctx, post); err != nil {
			a.log.WithPostID(post.ID).Warn().Err(err).Msg("Failed to update trending score")
			continue
		}
		updated++
	}

	a.log.Info().Int("updated", updated).Msg("Trending scores refreshed")
	return updated, nil
}

// CleanupDrafts deletes drafts older than the retention period
func (a *Agent) CleanupDrafts(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = a.config.DraftRetention
	}
	if retention <= 0 {
		return 0, fmt.Errorf("draft retention must be positive")
	}

	deleted, err := a.repository.DeleteDraftsBefore(ctx, a.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("failed to delete drafts: %w", err)
	}

	a.log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Old drafts removed")
	return deleted, nil
}
