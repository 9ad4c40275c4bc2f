package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/content-engine/internal/agent/publisher"
	"github.com/content-engine/internal/agent/scraper"
	"github.com/content-engine/internal/models"
	"github.com/content-engine/internal/storage"
)

// ============ SOURCE COMMANDS ============

func sourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Content source registry",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the sources listed in config that are not registered yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := application.Scraper.InitSources(cmd.Context(), cfg.Scraper.Sources)
			if err != nil {
				return err
			}

			fmt.Printf("\n=== Source Init ===\n")
			fmt.Printf("Created:  %d\n", result.Created)
			fmt.Printf("Existing: %d\n", result.Existing)
			printErrors(result.Errors)
			return nil
		},
	})

	var activeOnly bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List registered sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := storage.SourceFilter{}
			if activeOnly {
				filter.Active = storage.Ptr(true)
			}
			sources, err := application.Repo.ListSources(cmd.Context(), filter)
			if err != nil {
				return err
			}

			fmt.Printf("\n=== Sources (%d) ===\n\n", len(sources))
			for _, s := range sources {
				state := "active"
				if !s.Active {
					state = "inactive"
				}
				fmt.Printf("[%d] %s (%s, %s, trust %.2f)\n", s.ID, s.Name, s.Type, state, s.Trust())
				fmt.Printf("    URL: %s\n", s.URL)
				if s.LastScrapedAt != nil {
					fmt.Printf("    Last scraped: %s\n", s.LastScrapedAt.Format(time.RFC1123))
				}
				if s.LastError != "" {
					fmt.Printf("    [warn] Last error: %s\n", s.LastError)
				}
			}
			return nil
		},
	}
	list.Flags().BoolVar(&activeOnly, "active", false, "Only show active sources")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "deactivate [name]",
		Short: "Stop scraping a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := application.Scraper.Deactivate(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("[ok] Source %s deactivated\n", args[0])
			return nil
		},
	})

	return cmd
}

// ============ SCRAPE COMMANDS ============

func scrapeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Article scraping",
	}

	var opts scraper.RunOptions
	run := &cobra.Command{
		Use:   "run",
		Short: "Fetch new articles from active sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := application.Scraper.Run(cmd.Context(), opts)
			if err != nil {
				return err
			}

			fmt.Printf("\n=== Scrape Results ===\n")
			fmt.Printf("Sources Scraped:  %d\n", result.SourcesScraped)
			fmt.Printf("Sources Failed:   %d\n", result.SourcesFailed)
			fmt.Printf("Articles Found:   %d\n", result.ArticlesFound)
			fmt.Printf("Articles Saved:   %d\n", result.ArticlesSaved)
			fmt.Printf("Articles Skipped: %d\n", result.ArticlesSkipped)
			fmt.Printf("Duration:         %s\n", result.Duration)
			printErrors(result.Errors)
			return nil
		},
	}
	run.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum new articles for this run (default from config)")
	run.Flags().StringVar(&opts.SourceName, "source", "", "Scrape one source only")
	cmd.AddCommand(run)

	return cmd
}

// ============ DEDUP COMMANDS ============

func dedupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dedup",
		Short: "Duplicate story detection",
	}

	var hours int
	run := &cobra.Command{
		Use:   "run",
		Short: "Group recent articles that report the same story",
		RunE: func(cmd *cobra.Command, args []string) error {
			if hours <= 0 {
				hours = cfg.Aggregation.LookbackHours
			}
			n, err := application.Engine.FindAllDuplicates(cmd.Context(), hours)
			if err != nil {
				return err
			}
			fmt.Printf("[ok] %d aggregations created or extended from the last %dh\n", n, hours)
			return nil
		},
	}
	run.Flags().IntVar(&hours, "hours", 0, "Lookback window in hours (default from config)")
	cmd.AddCommand(run)

	cmd.AddCommand(&cobra.Command{
		Use:   "merge",
		Short: "Merge aggregations about the same topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := application.Engine.MergeRelatedAggregations(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("[ok] %d aggregations merged\n", n)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show aggregation confidence statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := application.Engine.GetAggregationStats(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("\n=== Aggregation Stats ===\n")
			fmt.Printf("Total:             %d\n", stats.Total)
			fmt.Printf("High Confidence:   %d\n", stats.HighConfidence)
			fmt.Printf("Medium Confidence: %d\n", stats.MediumConfidence)
			fmt.Printf("Avg Confidence:    %.3f\n", stats.AvgConfidence)
			fmt.Printf("Threshold:         %.2f\n", application.Engine.Threshold())
			return nil
		},
	})

	return cmd
}

// ============ PARAPHRASE COMMANDS ============

func paraphraseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "paraphrase",
		Short: "Curate aggregations into draft posts",
	}

	var limit int
	var dryRun bool
	run := &cobra.Command{
		Use:   "run",
		Short: "Paraphrase aggregations above the confidence threshold",
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := application.Paraphraser()
			if err != nil {
				return err
			}

			result, err := agent.Run(cmd.Context(), limit, dryRun)
			if err != nil {
				return err
			}

			fmt.Printf("\n=== Paraphrase Results ===\n")
			fmt.Printf("Considered: %d\n", result.Considered)
			fmt.Printf("Created:    %d\n", result.Created)
			fmt.Printf("Flagged:    %d\n", result.Flagged)
			fmt.Printf("Failed:     %d\n", result.Failed)
			fmt.Printf("Duration:   %s\n", result.Duration)

			if dryRun {
				fmt.Printf("\n--- Dry run, nothing saved ---\n")
				for _, p := range result.Posts {
					fmt.Printf("\n%s\n%s\n", p.Title, truncate(p.Content, 300))
				}
			}
			printErrors(result.Errors)
			return nil
		},
	}
	run.Flags().IntVar(&limit, "limit", 10, "Maximum aggregations to paraphrase")
	run.Flags().BoolVar(&dryRun, "dry-run", false, "Generate without saving")
	cmd.AddCommand(run)

	return cmd
}

// ============ POST COMMANDS ============

func postsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "posts",
		Short: "Post management",
	}

	cmd.AddCommand(postsGenerateCmd())
	cmd.AddCommand(postsListCmd())
	cmd.AddCommand(postsApproveCmd())
	cmd.AddCommand(postsRejectCmd())
	cmd.AddCommand(postsFeatureCmd())
	cmd.AddCommand(postsPublishCmd())
	cmd.AddCommand(postsTrendingCmd())
	cmd.AddCommand(postsCleanupCmd())
	return cmd
}

func postsGenerateCmd() *cobra.Command {
	var opts publisher.GenerateOptions

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write an original post",
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := application.Publisher()
			if err != nil {
				return err
			}

			post, err := agent.GenerateOriginal(cmd.Context(), opts)
			if err != nil {
				return err
			}

			fmt.Printf("\n=== Generated Post ===\n")
			if post.ID != 0 {
				fmt.Printf("Post ID:    %d\n", post.ID)
			}
			fmt.Printf("Topic:      %s\n", post.Topic)
			fmt.Printf("Moderation: %s\n", post.ModerationStatus)
			if len(post.ModerationFlags) > 0 {
				fmt.Printf("[warn] Flags: %s\n", strings.Join(post.ModerationFlags, ", "))
			}
			fmt.Printf("\n--- %s ---\n%s\n", post.Title, post.Content)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Topic, "topic", "", "Topic to write about (default: next in rotation)")
	cmd.Flags().StringVar(&opts.SeriesName, "series", "", "Series name")
	cmd.Flags().IntVar(&opts.SeriesPart, "part", 0, "Part number within the series")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Generate without saving")
	return cmd
}

func postsListCmd() *cobra.Command {
	var status, moderation string
	var curated, premium, featured bool
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List posts",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := storage.DefaultPostFilter()
			filter.Limit = limit
			if status != "" {
				filter.Status = storage.Ptr(models.PostStatus(status))
			}
			if moderation != "" {
				filter.ModerationStatus = storage.Ptr(models.ModerationStatus(moderation))
			}
			if cmd.Flags().Changed("curated") {
				filter.IsCurated = storage.Ptr(curated)
			}
			if cmd.Flags().Changed("premium") {
				filter.IsPremium = storage.Ptr(premium)
			}
			if cmd.Flags().Changed("featured") {
				filter.Featured = storage.Ptr(featured)
			}

			posts, err := application.Repo.ListPosts(cmd.Context(), filter)
			if err != nil {
				return err
			}

			fmt.Printf("\n=== Posts (%d) ===\n\n", len(posts))
			for _, p := range posts {
				kind := "original"
				if p.IsCurated {
					kind = "curated"
				}
				access := "free"
				if p.IsPremium {
					access = "premium/" + p.Tier()
				}
				fmt.Printf("[%d] %s\n", p.ID, p.Title)
				fmt.Printf("    %s, %s, %s, moderation %s", p.Status, kind, access, p.ModerationStatus)
				if p.Featured {
					fmt.Printf(", featured")
				}
				fmt.Println()
				if p.PublishedAt != nil {
					fmt.Printf("    Published: %s  Trending: %.2f\n", p.PublishedAt.Format(time.RFC1123), p.TrendingScore)
				}
				fmt.Printf("    Preview: %s\n\n", truncate(p.Excerpt, 100))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (draft, published)")
	cmd.Flags().StringVar(&moderation, "moderation", "", "Filter by moderation status (pending, approved, rejected)")
	cmd.Flags().BoolVar(&curated, "curated", false, "Filter curated (true) or original (false) posts")
	cmd.Flags().BoolVar(&premium, "premium", false, "Filter premium (true) or free (false) posts")
	cmd.Flags().BoolVar(&featured, "featured", false, "Filter featured posts")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum posts to show")
	return cmd
}

func postsApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve [post-id]",
		Short: "Approve a draft for publication",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			agent, err := application.Publisher()
			if err != nil {
				return err
			}
			if err := agent.ApprovePost(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Printf("[ok] Post %d approved\n", id)
			return nil
		},
	}
}

func postsRejectCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "reject [post-id]",
		Short: "Reject a draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			agent, err := application.Publisher()
			if err != nil {
				return err
			}
			if err := agent.RejectPost(cmd.Context(), id, reason); err != nil {
				return err
			}
			fmt.Printf("[ok] Post %d rejected\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Why the post was rejected")
	return cmd
}

func postsFeatureCmd() *cobra.Command {
	var remove bool

	cmd := &cobra.Command{
		Use:   "feature [post-id]",
		Short: "Feature a published post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			agent, err := application.Publisher()
			if err != nil {
				return err
			}
			if err := agent.FeaturePost(cmd.Context(), id, !remove); err != nil {
				return err
			}
			if remove {
				fmt.Printf("[ok] Post %d no longer featured\n", id)
			} else {
				fmt.Printf("[ok] Post %d featured\n", id)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&remove, "remove", false, "Remove the featured flag instead")
	return cmd
}

func postsPublishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish [post-id]",
		Short: "Publish an approved post now and share it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			agent, err := application.Publisher()
			if err != nil {
				return err
			}

			post, err := agent.PublishPost(cmd.Context(), id)
			if err != nil {
				return err
			}

			fmt.Printf("\n=== Publish Result ===\n")
			fmt.Printf("Post ID:   %d\n", post.ID)
			fmt.Printf("Status:    %s\n", post.Status)
			fmt.Printf("Premium:   %v\n", post.IsPremium)
			if post.PublishedAt != nil {
				fmt.Printf("Published: %s\n", post.PublishedAt.Format(time.RFC1123))
			}

			settleJobs(cmd.Context())
			return nil
		},
	}
}

func postsTrendingCmd() *cobra.Command {
	var show int

	cmd := &cobra.Command{
		Use:   "trending",
		Short: "Recompute trending scores",
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := application.Publisher()
			if err != nil {
				return err
			}
			n, err := agent.RefreshTrending(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("[ok] Trending score updated for %d posts\n", n)

			filter := storage.PostFilter{
				Status:    storage.Ptr(models.PostStatusPublished),
				Limit:     show,
				OrderBy:   "trending_score",
				OrderDesc: true,
			}
			posts, err := application.Repo.ListPosts(cmd.Context(), filter)
			if err != nil {
				return err
			}

			fmt.Printf("\n=== Trending ===\n")
			for i, p := range posts {
				fmt.Printf("%2d. [%d] %.3f  %s\n", i+1, p.ID, p.TrendingScore, p.Title)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&show, "top", 10, "How many posts to show")
	return cmd
}

func postsCleanupCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete stale drafts",
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := application.Publisher()
			if err != nil {
				return err
			}

			retention := cfg.Publishing.DraftRetention
			if days > 0 {
				retention = time.Duration(days) * 24 * time.Hour
			}
			n, err := agent.CleanupDrafts(cmd.Context(), retention)
			if err != nil {
				return err
			}
			fmt.Printf("[ok] Deleted %d drafts older than %s\n", n, retention)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "Keep drafts newer than this many days (default from config)")
	return cmd
}

// ============ PUBLISH COMMANDS ============

func publishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Scheduled publication",
	}

	var opts publisher.DailyOptions
	daily := &cobra.Command{
		Use:   "daily",
		Short: "Publish the daily batch of original and curated posts",
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := application.Publisher()
			if err != nil {
				return err
			}

			result, err := agent.RunDaily(cmd.Context(), opts)
			if err != nil {
				return err
			}

			if result.Skipped {
				fmt.Printf("[warn] Daily publication already ran at %s; use --force to run again\n",
					result.LastRunAt.Format(time.RFC1123))
				return nil
			}

			fmt.Printf("\n=== Daily Publication ===\n")
			fmt.Printf("Candidates: %d\n", result.Candidates)
			fmt.Printf("Published:  %d\n", result.Published)
			fmt.Printf("Premium:    %d\n", result.Premium)
			fmt.Printf("Free:       %d\n", result.Free)
			fmt.Printf("Failed:     %d\n", result.Failed)
			fmt.Printf("Duration:   %s\n", result.Duration)

			fmt.Println()
			for _, p := range result.Posts {
				access := "free"
				if p.IsPremium {
					access = "premium/" + p.Tier()
				}
				fmt.Printf("  [%d] %s (%s)\n", p.ID, p.Title, access)
			}
			if opts.DryRun {
				fmt.Printf("\n--- Dry run, nothing saved ---\n")
			}
			printErrors(result.Errors)

			if !opts.DryRun {
				settleJobs(cmd.Context())
			}
			return nil
		},
	}
	daily.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Show what would be published without saving")
	daily.Flags().BoolVar(&opts.Force, "force", false, "Run even if the daily publication already ran in the last 24h")
	cmd.AddCommand(daily)

	return cmd
}
