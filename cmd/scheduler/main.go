package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/content-engine/internal/agent/publisher"
	"github.com/content-engine/internal/agent/scraper"
	"github.com/content-engine/internal/app"
	"github.com/content-engine/internal/config"
	"github.com/content-engine/internal/metrics"
	"github.com/content-engine/internal/server"
	"github.com/content-engine/pkg/logger"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "content-scheduler",
		Short: "Background scheduler for the content pipeline",
		Long: `Runs the periodic pipeline steps, the job worker and the HTTP server.
This daemon should be run as a service for autonomous operation.`,
		RunE:         runScheduler,
		SilenceUsage: true,
	}

	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file path")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runScheduler(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	log.Info().Msg("Starting content scheduler")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Queue.Driver == "memory" {
		log.Warn().Msg("Memory queue in use: pending jobs are lost on restart and runs are not locked across instances")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.MustRegister(registry)

	s := &scheduler{app: a, log: log.WithComponent("scheduler"), cron: cron.New(cron.WithLogger(cronLogger{log}))}

	schedule := []scheduledJob{
		{"scrape", cfg.Scheduler.ScrapeCron, func(ctx context.Context) error {
			result, err := a.Scraper.Run(ctx, scraper.RunOptions{})
			if err != nil {
				return err
			}
			s.log.Info().
				Int("sources", result.SourcesScraped).
				Int("saved", result.ArticlesSaved).
				Int("errors", len(result.Errors)).
				Msg("Scheduled scrape completed")
			return nil
		}},
		{"dedup", cfg.Scheduler.DedupCron, func(ctx context.Context) error {
			n, err := a.Engine.FindAllDuplicates(ctx, cfg.Aggregation.LookbackHours)
			if err != nil {
				return err
			}
			s.log.Info().Int("aggregations", n).Msg("Scheduled dedup completed")
			return nil
		}},
		{"merge", cfg.Scheduler.MergeCron, func(ctx context.Context) error {
			n, err := a.Engine.MergeRelatedAggregations(ctx)
			if err != nil {
				return err
			}
			s.log.Info().Int("merged", n).Msg("Scheduled merge completed")
			return nil
		}},
		{"video-retry", cfg.Scheduler.VideoRetryCron, func(ctx context.Context) error {
			result, err := a.Videos.ProcessFailedVideos(ctx)
			if err != nil {
				return err
			}
			s.log.Info().
				Int("requeued", result.Requeued).
				Int("waiting", result.Waiting).
				Int("terminal", len(result.Terminal)).
				Msg("Scheduled video retry completed")
			return nil
		}},
	}

	if aiJobs, err := generationJobs(a, s.log); err != nil {
		log.Warn().Err(err).Msg("No text generation provider configured, curation and publishing disabled")
	} else {
		schedule = append(schedule, aiJobs...)
	}

	for _, job := range schedule {
		if err := s.add(ctx, job.name, job.spec, job.run); err != nil {
			return err
		}
	}

	srv := server.New(log,
		server.WithHealthCheck(a.Repo.Ping),
		server.WithGatherer(registry),
		server.WithWebhooks(a.Webhooks),
		server.WithAggregations(a.Engine),
		server.WithQueue(a.Queue),
		server.WithVideos(a.Videos),
	)

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	wg.Add(2)
	go func() {
		defer wg.Done()
		a.Worker().Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := srv.Run(ctx, cfg.Server); err != nil {
			errCh <- err
			stop()
		}
	}()

	s.cron.Start()
	log.Info().Msg("Scheduler started")

	<-ctx.Done()
	log.Info().Msg("Shutting down scheduler")

	// wait for running cron jobs before closing storage
	<-s.cron.Stop().Done()
	wg.Wait()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	default:
		return nil
	}
}

type scheduledJob struct {
	name string
	spec string
	run  func(ctx context.Context) error
}

// generationJobs are the steps that need a text generation provider
func generationJobs(a *app.App, log *logger.Logger) ([]scheduledJob, error) {
	paraphraserAgent, err := a.Paraphraser()
	if err != nil {
		return nil, err
	}
	publisherAgent, err := a.Publisher()
	if err != nil {
		return nil, err
	}
	cfg := a.Config

	return []scheduledJob{
		{"paraphrase", cfg.Scheduler.ParaphraseCron, func(ctx context.Context) error {
			n, err := paraphraserAgent.EnqueueReady(ctx, a.Queue, 20)
			if err != nil {
				return err
			}
			log.Info().Int("queued", n).Msg("Paraphrase jobs dispatched")
			return nil
		}},
		{"publish", cfg.Scheduler.PublishCron, func(ctx context.Context) error {
			result, err := publisherAgent.RunDaily(ctx, publisher.DailyOptions{})
			if err != nil {
				return err
			}
			if result.Skipped {
				log.Info().Time("last_run", *result.LastRunAt).Msg("Daily publication already ran, skipping")
				return nil
			}
			log.Info().
				Int("published", result.Published).
				Int("premium", result.Premium).
				Int("failed", result.Failed).
				Msg("Scheduled publish completed")
			return nil
		}},
		{"trending", cfg.Scheduler.TrendingCron, func(ctx context.Context) error {
			n, err := publisherAgent.RefreshTrending(ctx)
			if err != nil {
				return err
			}
			log.Debug().Int("posts", n).Msg("Trending scores refreshed")
			return nil
		}},
		{"cleanup", cfg.Scheduler.CleanupCron, func(ctx context.Context) error {
			n, err := publisherAgent.CleanupDrafts(ctx, cfg.Publishing.DraftRetention)
			if err != nil {
				return err
			}
			log.Info().Int64("deleted", n).Msg("Stale drafts cleaned up")
			return nil
		}},
	}, nil
}

type scheduler struct {
	app  *app.App
	log  *logger.Logger
	cron *cron.Cron
}

// add registers a cron job that holds a lock while it runs, so only one
// scheduler instance executes each run.
func (s *scheduler) add(ctx context.Context, name, spec string, run func(ctx context.Context) error) error {
	if spec == "" {
		s.log.Info().Str("job", name).Msg("No schedule configured, job disabled")
		return nil
	}

	lockKey := "lock:" + name
	_, err := s.cron.AddFunc(spec, func() {
		acquired, err := s.app.Locker.TryAcquire(ctx, lockKey, s.app.Config.Scheduler.LockTTL)
		if err != nil {
			s.log.Error().Err(err).Str("job", name).Msg("Failed to acquire run lock")
			return
		}
		if !acquired {
			s.log.Debug().Str("job", name).Msg("Another instance holds the run lock, skipping")
			return
		}
		defer func() {
			if err := s.app.Locker.Release(context.Background(), lockKey); err != nil {
				s.log.Warn().Err(err).Str("job", name).Msg("Failed to release run lock")
			}
		}()

		s.log.Info().Str("job", name).Msg("Running scheduled job")
		if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error().Err(err).Str("job", name).Msg("Scheduled job failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s job: %w", name, err)
	}
	s.log.Info().Str("job", name).Str("cron", spec).Msg("Job scheduled")
	return nil
}

// cronLogger adapts our logger for cron
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
