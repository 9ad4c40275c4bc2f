package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/content-engine/internal/agent/video"
	"github.com/content-engine/internal/models"
	"github.com/content-engine/internal/queue"
	"github.com/content-engine/internal/storage"
)

// ============ VIDEO COMMANDS ============

func videoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "video",
		Short: "Video generation",
	}

	cmd.AddCommand(videoRequestCmd())
	cmd.AddCommand(videoRetryCmd())
	cmd.AddCommand(videoListCmd())
	return cmd
}

func videoRequestCmd() *cobra.Command {
	var opts video.RequestOptions
	var platforms string

	cmd := &cobra.Command{
		Use:   "request [post-id]",
		Short: "Queue a video for a post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			opts.PostID = id
			if platforms != "" {
				opts.Platforms = strings.Split(platforms, ",")
			}

			v, err := application.Videos.Request(cmd.Context(), opts)
			if err != nil {
				return err
			}

			fmt.Printf("\n=== Video Requested ===\n")
			fmt.Printf("Video ID:     %d\n", v.ID)
			fmt.Printf("Post ID:      %d\n", v.PostID)
			fmt.Printf("Priority:     %d\n", v.Priority)
			fmt.Printf("Auto-publish: %v\n", v.AutoPublish)
			if len(v.Platforms) > 0 {
				fmt.Printf("Platforms:    %s\n", strings.Join(v.Platforms, ", "))
			}

			settleJobs(cmd.Context())
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.Priority, "priority", 0, "Job priority, higher runs first (default from config)")
	cmd.Flags().BoolVar(&opts.AutoPublish, "auto-publish", false, "Share the video once it is rendered")
	cmd.Flags().StringVar(&platforms, "platforms", "", "Comma-separated platforms to share to (default: all connected)")
	return cmd
}

func videoRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry-failed",
		Short: "Re-queue failed videos whose cooldown has passed",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := application.Videos.ProcessFailedVideos(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("\n=== Video Retry ===\n")
			fmt.Printf("Requeued: %d\n", result.Requeued)
			fmt.Printf("Waiting:  %d\n", result.Waiting)
			fmt.Printf("Terminal: %d\n", len(result.Terminal))
			for _, id := range result.Terminal {
				fmt.Printf("  [warn] Video %d exhausted its retries\n", id)
			}
			printErrors(result.Errors)

			settleJobs(cmd.Context())
			return nil
		},
	}
}

func videoListCmd() *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List video generations",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := storage.VideoFilter{Limit: limit}
			if status != "" {
				filter.Status = storage.Ptr(models.VideoStatus(status))
			}

			videos, err := application.Repo.ListVideos(cmd.Context(), filter)
			if err != nil {
				return err
			}

			fmt.Printf("\n=== Videos (%d) ===\n\n", len(videos))
			for _, v := range videos {
				fmt.Printf("[%d] post %d  %s  retries %d/%d\n", v.ID, v.PostID, v.Status, v.RetryCount, models.MaxVideoRetries)
				if v.VideoURL != "" {
					fmt.Printf("    URL: %s\n", v.VideoURL)
				}
				if v.ErrorMessage != "" {
					fmt.Printf("    [error] %s\n", v.ErrorMessage)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (queued, processing, completed, failed)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum videos to show")
	return cmd
}

// ============ JOB COMMANDS ============

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Background job queue",
	}

	cmd.AddCommand(jobsWorkCmd())
	cmd.AddCommand(jobsStatusCmd())
	cmd.AddCommand(jobsMonitorCmd())
	return cmd
}

func parseLanes(names []string) ([]queue.Lane, error) {
	lanes := make([]queue.Lane, 0, len(names))
	for _, name := range names {
		lane, err := queue.ParseLane(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		lanes = append(lanes, lane)
	}
	return lanes, nil
}

func jobsWorkCmd() *cobra.Command {
	var laneNames []string
	var drain bool

	cmd := &cobra.Command{
		Use:   "work",
		Short: "Process queued jobs until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			lanes, err := parseLanes(laneNames)
			if err != nil {
				return err
			}
			worker := application.Worker(lanes...)

			if drain {
				n, err := worker.Drain(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Printf("[ok] Processed %d jobs\n", n)
				return nil
			}

			fmt.Println("Worker running, press Ctrl+C to stop")
			worker.Run(cmd.Context())
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&laneNames, "lanes", nil, "Lanes to work (default: all)")
	cmd.Flags().BoolVar(&drain, "drain", false, "Process due jobs once and exit")
	return cmd
}

func printJobStats(ctx context.Context, failures int) error {
	stats, err := application.Queue.Stats(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("\n=== Job Queue (%s) ===\n", time.Now().Format("15:04:05"))
	fmt.Printf("%-14s %8s %8s\n", "LANE", "READY", "DELAYED")
	for _, lane := range queue.Lanes() {
		ls := stats.Lanes[lane]
		fmt.Printf("%-14s %8d %8d\n", lane, ls.Ready, ls.Delayed)
	}
	fmt.Printf("\nCompleted: %d\n", stats.Completed)
	fmt.Printf("Failed:    %d\n", stats.Failed)

	if failures <= 0 {
		return nil
	}
	recent, err := application.Queue.Failures(ctx, failures)
	if err != nil {
		return err
	}
	if len(recent) > 0 {
		fmt.Printf("\nRecent failures:\n")
		for _, job := range recent {
			fmt.Printf("  [error] %s %s (attempt %d): %s\n", job.Kind, job.ID, job.Attempt, job.LastError)
		}
	}
	return nil
}

func jobsStatusCmd() *cobra.Command {
	var failures int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show lane depths and recent failures",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := printJobStats(cmd.Context(), failures); err != nil {
				return err
			}

			counts, err := application.Videos.Stats(cmd.Context())
			if err != nil {
				return err
			}
			statuses := make([]string, 0, len(counts))
			for status := range counts {
				statuses = append(statuses, string(status))
			}
			sort.Strings(statuses)

			fmt.Printf("\nVideos:\n")
			for _, status := range statuses {
				fmt.Printf("  %-12s %d\n", status, counts[models.VideoStatus(status)])
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&failures, "failures", 10, "How many recent failures to show")
	return cmd
}

func jobsMonitorCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Refresh job statistics until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				if err := printJobStats(ctx, 5); err != nil {
					fmt.Printf("[warn] %v\n", err)
				}
				select {
				case <-ctx.Done():
					fmt.Println("\nMonitor stopped")
					return nil
				case <-ticker.C:
				}
			}
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "Refresh interval")
	return cmd
}

// ============ TRACKER COMMANDS ============

func trackerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tracker",
		Short: "Google Sheets report",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the report sheets with headers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if application.Tracker == nil {
				return fmt.Errorf("tracker is not enabled in config - set tracker.enabled=true and tracker.spreadsheet_id")
			}
			if err := application.Tracker.InitializeSheet(cmd.Context()); err != nil {
				return fmt.Errorf("failed to initialize sheet: %w", err)
			}
			fmt.Printf("[ok] Spreadsheet %s initialized\n", cfg.Tracker.SpreadsheetID)
			return nil
		},
	})

	var limit int
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Write aggregations to the report sheet",
		RunE: func(cmd *cobra.Command, args []string) error {
			if application.Tracker == nil {
				return fmt.Errorf("tracker is not enabled in config")
			}

			filter := storage.AggregationFilter{
				Limit:     limit,
				OrderBy:   "created_at",
				OrderDesc: true,
			}
			aggs, err := application.Repo.ListAggregations(cmd.Context(), filter)
			if err != nil {
				return err
			}

			added, updated, err := application.Tracker.SyncAggregations(cmd.Context(), aggs)
			if err != nil {
				return err
			}
			fmt.Printf("[ok] %d rows added, %d updated\n", added, updated)
			return nil
		},
	}
	syncCmd.Flags().IntVar(&limit, "limit", 200, "Maximum aggregations to sync")
	cmd.AddCommand(syncCmd)

	return cmd
}
