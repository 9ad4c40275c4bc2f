// Package app wires the pipeline components from configuration.
package app

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/content-engine/internal/agent/distributor"
	"github.com/content-engine/internal/agent/paraphraser"
	"github.com/content-engine/internal/agent/publisher"
	"github.com/content-engine/internal/agent/scraper"
	"github.com/content-engine/internal/agent/video"
	"github.com/content-engine/internal/aggregation"
	"github.com/content-engine/internal/ai"
	"github.com/content-engine/internal/config"
	"github.com/content-engine/internal/linkedin"
	"github.com/content-engine/internal/media/unsplash"
	"github.com/content-engine/internal/moderation"
	"github.com/content-engine/internal/monetization"
	"github.com/content-engine/internal/queue"
	"github.com/content-engine/internal/social"
	"github.com/content-engine/internal/storage/gormrepo"
	"github.com/content-engine/internal/tracker"
	"github.com/content-engine/pkg/logger"
	"github.com/content-engine/pkg/ratelimit"
)

// sharedRand uses the package-level source, which is safe for concurrent use
type sharedRand struct{}

func (sharedRand) Intn(n int) int { return rand.Intn(n) }

// App holds the components every command needs. Text generation is built
// on first use so commands that never call a model work without API keys.
type App struct {
	Config  *config.Config
	Log     *logger.Logger
	Repo    *gormrepo.Repository
	Limiter *ratelimit.MultiLimiter
	Queue   queue.Queue
	Locker  queue.Locker

	Engine      *aggregation.Engine
	Scraper     *scraper.Agent
	Gate        *moderation.Gate
	Tokens      *linkedin.TokenManager
	LinkedIn    *linkedin.Client
	Distributor *distributor.Agent
	Videos      *video.Service
	Earnings    *monetization.Service
	Payments    *monetization.Client
	Webhooks    *monetization.WebhookHandler
	Tracker     *tracker.SheetsTracker

	writer *ai.Writer
}

// New opens storage and the queue, then builds the components
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	repo, err := gormrepo.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := repo.Migrate(); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	q, locker, err := queue.Open(ctx, cfg.Queue)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}

	limiter := ratelimit.NewFromRates(ratelimit.Rates{
		AnthropicPerMinute: cfg.RateLimit.AnthropicRequestsPerMinute,
		OpenAIPerMinute:    cfg.RateLimit.OpenAIRequestsPerMinute,
		LinkedInPerDay:     cfg.RateLimit.LinkedInRequestsPerDay,
		ScraperPerSecond:   cfg.RateLimit.ScraperRequestsPerSecond,
		PaymentsPerMinute:  cfg.RateLimit.PaymentsRequestsPerMinute,
		UnsplashPerHour:    cfg.RateLimit.UnsplashRequestsPerHour,
		RendererPerMinute:  cfg.RateLimit.RendererRequestsPerMinute,
	})

	a := &App{
		Config:  cfg,
		Log:     log,
		Repo:    repo,
		Limiter: limiter,
		Queue:   q,
		Locker:  locker,
	}

	a.Engine = aggregation.NewEngine(repo, aggregation.NewHeuristicScorer(), aggregation.Options{
		SimilarityThreshold: cfg.Aggregation.SimilarityThreshold,
		MergeThreshold:      cfg.Aggregation.MergeThreshold,
		ConfidenceThreshold: cfg.Aggregation.ConfidenceThreshold,
	}, log)
	a.Scraper = scraper.NewAgent(repo, cfg.Scraper, limiter, log)
	a.Gate = moderation.NewGate(cfg.Moderation, log)

	a.Tokens = linkedin.NewTokenManager(cfg.LinkedIn, repo, log)
	a.LinkedIn = linkedin.NewClient(a.Tokens, limiter, log)
	a.Distributor = distributor.NewAgent(repo, q, social.NewRegistry(a.LinkedIn), cfg.Distribution, sharedRand{}, log)

	a.Videos = video.NewService(repo, q, video.NewHTTPRenderer(cfg.Video, limiter, log), cfg.Video, log)
	a.Videos.SetChainer(a.Distributor)

	a.Earnings = monetization.NewService(repo, cfg.Payments, log)
	a.Payments = monetization.NewClient(cfg.Payments, limiter, log)
	a.Webhooks = monetization.NewWebhookHandler(repo, a.Earnings, cfg.Payments, cfg.Publishing.CreatorID, log)

	t, err := tracker.NewSheetsTracker(ctx, cfg.Tracker, log)
	if err != nil {
		log.Warn().Err(err).Msg("Tracker disabled")
	} else {
		a.Tracker = t
	}

	return a, nil
}

// Writer returns the text generation front end, building it on first use
func (a *App) Writer() (*ai.Writer, error) {
	if a.writer != nil {
		return a.writer, nil
	}
	if err := a.Config.ValidateAI(); err != nil {
		return nil, err
	}
	gen, err := ai.NewGenerator(a.Config, a.Limiter, a.Log)
	if err != nil {
		return nil, err
	}
	a.writer = ai.NewWriter(gen, a.Config.Publishing.BrandVoice, a.Log)
	return a.writer, nil
}

// Paraphraser builds the curation agent
func (a *App) Paraphraser() (*paraphraser.Agent, error) {
	writer, err := a.Writer()
	if err != nil {
		return nil, err
	}
	return paraphraser.NewAgent(a.Repo, a.Engine, writer, a.Gate, a.Config.Publishing.CreatorID, a.Log), nil
}

// Publisher builds the publication agent with its optional collaborators
func (a *App) Publisher() (*publisher.Agent, error) {
	writer, err := a.Writer()
	if err != nil {
		return nil, err
	}
	agent := publisher.NewAgent(a.Repo, writer, a.Gate, a.Config.Publishing, sharedRand{}, a.Log)
	agent.SetDistributor(a.Distributor)

	if a.Config.Media.Enabled && a.Config.Media.UnsplashAPIKey != "" {
		agent.SetImageFinder(unsplash.NewClient(a.Config.Media.UnsplashAPIKey, a.Limiter, sharedRand{}, a.Log))
		a.Log.Debug().Msg("Media support enabled with Unsplash")
	}
	// a nil *SheetsTracker must not become a non-nil interface
	if a.Tracker != nil {
		agent.SetTracker(a.Tracker)
	}
	return agent, nil
}

// Registry registers every job handler. Handlers that need a model are
// skipped when no provider is configured.
func (a *App) Registry() *queue.Registry {
	reg := queue.NewRegistry()
	reg.Register(a.Scraper)
	reg.Register(a.Videos)
	reg.Register(a.Distributor)

	p, err := a.Paraphraser()
	if err != nil {
		a.Log.Warn().Err(err).Msg("Paraphrase jobs disabled")
	} else {
		reg.Register(p)
	}
	return reg
}

// Worker builds a worker over the given lanes, or all lanes when none are given
func (a *App) Worker(lanes ...queue.Lane) *queue.Worker {
	if len(lanes) == 0 {
		lanes = queue.Lanes()
	}
	return queue.NewWorker(a.Queue, a.Registry(), queue.WorkerConfig{
		Lanes:        lanes,
		PollInterval: a.Config.Queue.PollInterval,
		MaxAttempts:  a.Config.Queue.MaxAttempts,
		RetryDelay:   a.Config.Queue.RetryDelay,
	}, a.Log)
}

// Close releases the queue and the database
func (a *App) Close() error {
	qErr := a.Queue.Close()
	if err := a.Repo.Close(); err != nil {
		return err
	}
	return qErr
}
