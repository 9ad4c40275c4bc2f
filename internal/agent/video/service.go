package video

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/content-engine/internal/config"
	"github.com/content-engine/internal/metrics"
	"github.com/content-engine/internal/models"
	"github.com/content-engine/internal/queue"
	"github.com/content-engine/internal/storage"
	"github.com/content-engine/pkg/logger"
)

// maxScriptLength bounds the narration sent to the renderer
const maxScriptLength = 1500

// Chainer schedules social shares for a video
type Chainer interface {
	ChainVideoSocial(ctx context.Context, video *models.VideoGeneration) (int, error)
}

// Service drives video generations through their lifecycle
type Service struct {
	repository storage.Repository
	queue      queue.Queue
	renderer   Renderer
	chainer    Chainer
	config     config.VideoConfig
	now        func() time.Time
	log        *logger.Logger
}

// NewService creates a new video service
func NewService(
	repository storage.Repository,
	q queue.Queue,
	renderer Renderer,
	videoConfig config.VideoConfig,
	log *logger.Logger,
) *Service {
	return &Service{
		repository: repository,
		queue:      q,
		renderer:   renderer,
		config:     videoConfig,
		now:        time.Now,
		log:        log.WithComponent("video"),
	}
}

// SetChainer enables social shares for auto-published videos
func (s *Service) SetChainer(c Chainer) { s.chainer = c }

// RequestOptions describes a video to generate
type RequestOptions struct {
	PostID      uint
	Priority    int
	AutoPublish bool
	Platforms   []string
}

// Request creates a queued video for a post and dispatches the render job
func (s *Service) Request(ctx context.Context, opts RequestOptions) (*models.VideoGeneration, error) {
	post, err := s.repository.GetPostByID(ctx, opts.PostID)
	if err != nil {
		return nil, fmt.Errorf("post not found: %w", err)
	}

	priority := opts.Priority
	if priority == 0 {
		priority = s.config.DefaultPriority
	}

	platforms := make([]string, 0, len(opts.Platforms))
	for _, p := range opts.Platforms {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			platforms = append(platforms, p)
		}
	}

	video := &models.VideoGeneration{
		PostID:      post.ID,
		Status:      models.VideoStatusQueued,
		Priority:    priority,
		AutoPublish: opts.AutoPublish,
		Platforms:   platforms,
	}
	if err := s.repository.CreateVideo(ctx, video); err != nil {
		return nil, fmt.Errorf("failed to save video: %w", err)
	}

	log := s.log.WithVideoID(video.ID)
	if err := s.queue.Enqueue(ctx, queue.NewVideoJob(video.ID, priority, s.now())); err != nil {
		return video, fmt.Errorf("failed to enqueue render job: %w", err)
	}

	log.Info().
		Uint("post_id", post.ID).
		Int("priority", priority).
		Bool("auto_publish", opts.AutoPublish).
		Msg("Video requested")

	return video, nil
}

// Kind implements queue.Handler
func (s *Service) Kind() queue.Kind {
	return queue.KindVideo
}

// Handle renders one queued video. Render failures mark the row failed and are
// left to ProcessFailedVideos rather than the job retry. A completed video with
// auto-publish gets its social shares chained.
func (s *Service) Handle(ctx context.Context, job queue.Job) error {
	video, err := s.repository.GetVideoByID(ctx, job.Video.VideoID)
	if err != nil {
		return fmt.Errorf("video not found: %w", err)
	}

	log := s.log.WithVideoID(video.ID)
	if video.Status != models.VideoStatusQueued {
		log.Info().Str("status", string(video.Status)).Msg("Video not queued, skipping")
		return nil
	}

	post, err := s.repository.GetPostByID(ctx, video.PostID)
	if err != nil {
		return fmt.Errorf("post not found: %w", err)
	}

	if err := video.Start(s.now()); err != nil {
		return err
	}
	if err := s.repository.UpdateVideo(ctx, video); err != nil {
		return fmt.Errorf("failed to save video: %w", err)
	}

	url, renderErr := s.renderer.Render(ctx, RenderRequest{
		VideoID:   video.ID,
		PostID:    post.ID,
		Title:     post.Title,
		Script:    script(post),
		ImageURL:  post.FeaturedImageURL,
		Platforms: video.Platforms,
	})
	if renderErr != nil {
		if err := video.Fail(renderErr); err != nil {
			return err
		}
		log.Error().Err(renderErr).Int("retry_count", video.RetryCount).Msg("Video render failed")
	} else {
		if err := video.Complete(url, s.now()); err != nil {
			return err
		}
		log.Info().Str("url", url).Msg("Video completed")
	}

	if err := s.repository.UpdateVideo(ctx, video); err != nil {
		return fmt.Errorf("failed to save video: %w", err)
	}

	if video.Status == models.VideoStatusCompleted && video.AutoPublish && s.chainer != nil {
		if _, err := s.chainer.ChainVideoSocial(ctx, video); err != nil {
			log.Warn().Err(err).Msg("Failed to chain social shares")
		}
	}
	return nil
}

func script(post *models.Post) string {
	text := post.Excerpt
	if text == "" {
		text = post.Content
	}
	if runes := []rune(text); len(runes) > maxScriptLength {
		text = string(runes[:maxScriptLength])
		if i := strings.LastIndexAny(text, ".!?"); i > 0 {
			text = text[:i+1]
		}
	}
	return strings.TrimSpace(text)
}

// RetryResult contains the results of a failed-video sweep
type RetryResult struct {
	Requeued int
	Waiting  int
	Terminal []uint
	Errors   []error
}

// ProcessFailedVideos re-queues failed videos past their cooldown.
// The render job is delayed retry_count * step after the requeue.
func (s *Service) ProcessFailedVideos(ctx context.Context) (*RetryResult, error) {
	failed := models.VideoStatusFailed
	videos, err := s.repository.ListVideos(ctx, storage.VideoFilter{Status: &failed})
	if err != nil {
		return nil, fmt.Errorf("failed to list failed videos: %w", err)
	}

	result := &RetryResult{}
	now := s.now()
	for _, video := range videos {
		log := s.log.WithVideoID(video.ID)

		if video.IsTerminal() {
			result.Terminal = append(result.Terminal, video.ID)
			continue
		}
		if !video.CanRetry(now, s.config.RetryCooldown) {
			result.Waiting++
			continue
		}

		if err := video.Requeue(now); err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		if err := s.repository.UpdateVideo(ctx, video); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("video %d: %w", video.ID, err))
			continue
		}

		delay := time.Duration(video.RetryCount) * s.config.RetryBackoffStep
		if err := s.queue.Enqueue(ctx, queue.NewVideoJob(video.ID, video.Priority, now.Add(delay))); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("video %d: %w", video.ID, err))
			log.Error().Err(err).Msg("Failed to enqueue video retry")
			continue
		}

		metrics.VideoRetries.Inc()
		result.Requeued++
		log.Info().
			Int("retry_count", video.RetryCount).
			Dur("delay", delay).
			Msg("Failed video re-queued")
	}

	if len(result.Terminal) > 0 {
		s.log.Warn().
			Interface("video_ids", result.Terminal).
			Msg("Videos exhausted their retries")
	}

	s.log.Info().
		Int("requeued", result.Requeued).
		Int("waiting", result.Waiting).
		Int("terminal", len(result.Terminal)).
		Msg("Failed video sweep completed")

	return result, nil
}

// Stats counts videos per status
func (s *Service) Stats(ctx context.Context) (map[models.VideoStatus]int64, error) {
	return s.repository.CountVideosByStatus(ctx)
}
