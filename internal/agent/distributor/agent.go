package distributor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/content-engine/internal/config"
	"github.com/content-engine/internal/models"
	"github.com/content-engine/internal/queue"
	"github.com/content-engine/internal/social"
	"github.com/content-engine/internal/storage"
	"github.com/content-engine/pkg/logger"
)

// ErrVideoNotReady is returned while a chained video is still rendering
var ErrVideoNotReady = errors.New("video is not ready")

// Rand is the randomness used for the stagger
type Rand interface {
	Intn(n int) int
}

// Agent fans published posts out to connected social accounts
type Agent struct {
	repository storage.Repository
	queue      queue.Queue
	publishers *social.Registry
	config     config.DistributionConfig
	rand       Rand
	now        func() time.Time
	log        *logger.Logger
}

// NewAgent creates a new distribution agent
func NewAgent(
	repository storage.Repository,
	q queue.Queue,
	publishers *social.Registry,
	distConfig config.DistributionConfig,
	rnd Rand,
	log *logger.Logger,
) *Agent {
	return &Agent{
		repository: repository,
		queue:      q,
		publishers: publishers,
		config:     distConfig,
		rand:       rnd,
		now:        time.Now,
		log:        log.WithComponent("distributor"),
	}
}

// stagger returns a random delay within the configured bounds, whole seconds
func (a *Agent) stagger() time.Duration {
	minDelay, maxDelay := a.config.StaggerMin, a.config.StaggerMax
	if maxDelay <= minDelay {
		return minDelay
	}
	span := int((maxDelay - minDelay) / time.Second)
	return minDelay + time.Duration(a.rand.Intn(span+1))*time.Second
}

// Distribute enqueues one social job per active account of the post's creator
func (a *Agent) Distribute(ctx context.Context, post *models.Post) (int, error) {
	accounts, err := a.repository.ListSocialAccounts(ctx, post.CreatorID, true)
	if err != nil {
		return 0, fmt.Errorf("failed to list accounts: %w", err)
	}

	log := a.log.WithPostID(post.ID)
	now := a.now()
	enqueued := 0
	for _, account := range accounts {
		job := queue.NewSocialJob(post.ID, account.ID, nil, now.Add(a.stagger()))
		if err := a.queue.Enqueue(ctx, job); err != nil {
			log.Error().Err(err).Uint("account_id", account.ID).Msg("Failed to enqueue social job")
			continue
		}
		enqueued++
	}

	log.Info().
		Int("accounts", len(accounts)).
		Int("enqueued", enqueued).
		Msg("Post distribution scheduled")

	return enqueued, nil
}

// ChainVideoSocial enqueues social jobs for a video after the configured delay.
// Only accounts on the video's platforms are used; no platforms means all.
func (a *Agent) ChainVideoSocial(ctx context.Context, video *models.VideoGeneration) (int, error) {
	post, err := a.repository.GetPostByID(ctx, video.PostID)
	if err != nil {
		return 0, fmt.Errorf("post not found: %w", err)
	}

	accounts, err := a.repository.ListSocialAccounts(ctx, post.CreatorID, true)
	if err != nil {
		return 0, fmt.Errorf("failed to list accounts: %w", err)
	}

	wanted := make(map[string]bool, len(video.Platforms))
	for _, p := range video.Platforms {
		wanted[strings.ToLower(p)] = true
	}

	log := a.log.WithVideoID(video.ID)
	runAt := a.now().Add(a.config.VideoDelay)
	videoID := video.ID
	enqueued := 0
	for _, account := range accounts {
		if len(wanted) > 0 && !wanted[string(account.Platform)] {
			continue
		}
		job := queue.NewSocialJob(post.ID, account.ID, &videoID, runAt)
		if err := a.queue.Enqueue(ctx, job); err != nil {
			log.Error().Err(err).Uint("account_id", account.ID).Msg("Failed to enqueue video social job")
			continue
		}
		enqueued++
	}

	log.Info().
		Int("enqueued", enqueued).
		Time("run_at", runAt).
		Msg("Video social jobs chained")

	return enqueued, nil
}

// Kind implements queue.Handler
func (a *Agent) Kind() queue.Kind {
	return queue.KindSocialPublish
}

// Handle publishes one share and records it; a share already published is skipped
func (a *Agent) Handle(ctx context.Context, job queue.Job) error {
	payload := job.Social
	log := a.log.WithPostID(payload.PostID)

	account, err := a.repository.GetSocialAccountByID(ctx, payload.AccountID)
	if err != nil {
		return fmt.Errorf("account not found: %w", err)
	}
	if !account.Active {
		log.Info().Uint("account_id", account.ID).Msg("Account deactivated, skipping share")
		return nil
	}

	post, err := a.repository.GetPostByID(ctx, payload.PostID)
	if err != nil {
		return fmt.Errorf("post not found: %w", err)
	}

	share := social.Share{Post: post, Link: a.postURL(post)}
	if payload.VideoID != nil {
		video, err := a.repository.GetVideoByID(ctx, *payload.VideoID)
		if err != nil {
			return fmt.Errorf("video not found: %w", err)
		}
		if video.Status != models.VideoStatusCompleted {
			if video.IsTerminal() {
				log.Warn().Uint("video_id", video.ID).Msg("Video failed for good, dropping share")
				return nil
			}
			return fmt.Errorf("%w: video %d is %s", ErrVideoNotReady, video.ID, video.Status)
		}
		share.Video = video
	}

	record, err := a.repository.FindSocialPost(ctx, post.ID, account.ID, payload.VideoID)
	switch {
	case err == nil && record.Status == models.SocialPostPublished:
		log.Debug().Uint("account_id", account.ID).Msg("Already shared, skipping")
		return nil
	case errors.Is(err, storage.ErrNotFound):
		record = &models.SocialMediaPost{
			PostID:    post.ID,
			AccountID: account.ID,
			VideoID:   payload.VideoID,
			Platform:  account.Platform,
		}
	case err != nil:
		return fmt.Errorf("failed to look up share: %w", err)
	}

	publisher, err := a.publishers.Get(account.Platform)
	if err != nil {
		// retrying cannot help without a publisher
		record.Status = models.SocialPostFailed
		record.ErrorMessage = err.Error()
		if saveErr := a.saveRecord(ctx, record); saveErr != nil {
			return saveErr
		}
		log.Error().Err(err).Msg("Share dropped")
		return nil
	}

	externalID, pubErr := publisher.Publish(ctx, account, share)
	if pubErr != nil {
		record.Status = models.SocialPostFailed
		record.ErrorMessage = pubErr.Error()
	} else {
		now := a.now()
		record.Status = models.SocialPostPublished
		record.ExternalID = externalID
		record.ErrorMessage = ""
		record.PublishedAt = &now
	}

	if err := a.saveRecord(ctx, record); err != nil {
		return err
	}
	if pubErr != nil {
		return fmt.Errorf("failed to publish to %s: %w", account.Platform, pubErr)
	}

	log.Info().
		Uint("account_id", account.ID).
		Str("platform", string(account.Platform)).
		Str("external_id", externalID).
		Msg("Post shared")
	return nil
}

func (a *Agent) saveRecord(ctx context.Context, record *models.SocialMediaPost) error {
	var err error
	if record.ID == 0 {
		err = a.repository.CreateSocialPost(ctx, record)
	} else {
		err = a.repository.UpdateSocialPost(ctx, record)
	}
	if err != nil {
		return fmt.Errorf("failed to save share: %w", err)
	}
	return nil
}

func (a *Agent) postURL(post *models.Post) string {
	if a.config.SiteURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/posts/%d", strings.TrimRight(a.config.SiteURL, "/"), post.ID)
}
