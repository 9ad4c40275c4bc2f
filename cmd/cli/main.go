package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/content-engine/internal/app"
	"github.com/content-engine/internal/config"
	"github.com/content-engine/internal/queue"
	"github.com/content-engine/pkg/logger"
)

var (
	cfgFile     string
	jobsTimeout time.Duration
	cfg         *config.Config
	log         *logger.Logger
	application *app.App
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "content-engine",
		Short: "Content aggregation and publishing pipeline",
		Long: `Scrapes news sources, groups duplicate stories, curates them with AI,
publishes a daily mix of original and curated posts, renders videos
and shares everything to connected social accounts.`,
		PersistentPreRunE:  initializeApp,
		PersistentPostRunE: closeApp,
		SilenceUsage:       true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./configs/config.yaml)")
	rootCmd.PersistentFlags().DurationVar(&jobsTimeout, "jobs-timeout", time.Minute,
		"with the memory queue, how long to keep running jobs a command enqueued")

	rootCmd.AddCommand(sourcesCmd())
	rootCmd.AddCommand(scrapeCmd())
	rootCmd.AddCommand(dedupCmd())
	rootCmd.AddCommand(paraphraseCmd())
	rootCmd.AddCommand(postsCmd())
	rootCmd.AddCommand(publishCmd())
	rootCmd.AddCommand(videoCmd())
	rootCmd.AddCommand(jobsCmd())
	rootCmd.AddCommand(earningsCmd())
	rootCmd.AddCommand(payoutsCmd())
	rootCmd.AddCommand(paymentsCmd())
	rootCmd.AddCommand(accountsCmd())
	rootCmd.AddCommand(trackerCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "[error] %v\n", err)
		os.Exit(1)
	}
}

func initializeApp(cmd *cobra.Command, args []string) error {
	var err error

	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log = logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	application, err = app.New(cmd.Context(), cfg, log)
	return err
}

func closeApp(cmd *cobra.Command, args []string) error {
	if application == nil {
		return nil
	}
	return application.Close()
}

func parseID(arg string) (uint, error) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid ID %q", arg)
	}
	return uint(id), nil
}

func printErrors(errs []error) {
	if len(errs) == 0 {
		return
	}
	fmt.Printf("\nErrors:\n")
	for _, e := range errs {
		fmt.Printf("  [error] %s\n", e)
	}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

// settleJobs runs the jobs a command enqueued when the queue lives only in
// this process. Jobs not due within --jobs-timeout are reported as dropped.
func settleJobs(ctx context.Context) {
	mq, ok := application.Queue.(*queue.MemoryQueue)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, jobsTimeout)
	defer cancel()

	worker := application.Worker()
	ran := 0
	for {
		n, err := worker.Drain(ctx)
		ran += n
		if err != nil && ctx.Err() == nil {
			fmt.Printf("[warn] Job processing stopped: %v\n", err)
			return
		}

		remaining := 0
		for _, lane := range queue.Lanes() {
			remaining += len(mq.Pending(lane))
		}
		if remaining == 0 {
			if ran > 0 {
				fmt.Printf("[ok] Ran %d background jobs\n", ran)
			}
			return
		}

		select {
		case <-ctx.Done():
			fmt.Printf("[warn] %d delayed jobs dropped; use queue.driver=redis with the scheduler to keep them\n", remaining)
			return
		case <-time.After(cfg.Queue.PollInterval):
		}
	}
}
