package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gorm.io/datatypes"

	"github.com/content-engine/internal/config"
	"github.com/content-engine/internal/metrics"
	"github.com/content-engine/internal/models"
	"github.com/content-engine/internal/queue"
	"github.com/content-engine/internal/source"
	"github.com/content-engine/internal/source/html"
	"github.com/content-engine/internal/source/rss"
	"github.com/content-engine/internal/storage"
	"github.com/content-engine/pkg/logger"
	"github.com/content-engine/pkg/ratelimit"
)

// defaultTrust applies to seeded sources without a trust level
const defaultTrust = 0.5

// FetcherFactory builds a fetcher for a registered source
type FetcherFactory func(src *models.ContentSource) (source.Fetcher, error)

// Agent scrapes registered sources into SourceArticles
type Agent struct {
	repository storage.Repository
	limiter    *ratelimit.MultiLimiter
	cfg        config.ScraperConfig
	build      FetcherFactory
	now        func() time.Time
	log        *logger.Logger
}

// NewAgent creates a new scraper agent
func NewAgent(
	repository storage.Repository,
	cfg config.ScraperConfig,
	limiter *ratelimit.MultiLimiter,
	log *logger.Logger,
) *Agent {
	a := &Agent{
		repository: repository,
		limiter:    limiter,
		cfg:        cfg,
		now:        time.Now,
		log:        log.WithComponent("scraper"),
	}
	a.build = a.defaultFetcher
	return a
}

// SetFetcherFactory replaces how fetchers are built from sources
func (a *Agent) SetFetcherFactory(f FetcherFactory) {
	a.build = f
}

func (a *Agent) defaultFetcher(src *models.ContentSource) (source.Fetcher, error) {
	timeout := a.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	switch src.Type {
	case models.SourceTypeRSS:
		return rss.New(src.Name, src.URL, a.log), nil
	case models.SourceTypeHTML:
		return html.New(src.Name, src.URL, src.Selectors.Data(), &http.Client{Timeout: timeout}, a.log), nil
	default:
		return nil, fmt.Errorf("unsupported source type %q", src.Type)
	}
}

// InitResult contains the results of seeding the source registry
type InitResult struct {
	Created  int
	Existing int
	Errors   []error
}

// InitSources creates the configured sources that are not registered yet
func (a *Agent) InitSources(ctx context.Context, seeds []config.SourceSeed) (*InitResult, error) {
	result := &InitResult{}

	for _, seed := range seeds {
		if seed.Name == "" || seed.URL == "" {
			result.Errors = append(result.Errors, fmt.Errorf("source seed needs a name and url: %+v", seed))
			continue
		}

		_, err := a.repository.GetSourceByName(ctx, seed.Name)
		if err == nil {
			result.Existing++
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return result, fmt.Errorf("failed to look up source %s: %w", seed.Name, err)
		}

		src, err := sourceFromSeed(seed)
		if err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		if err := a.repository.CreateSource(ctx, src); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("failed to create source %s: %w", seed.Name, err))
			continue
		}

		result.Created++
		a.log.Info().
			Str("name", src.Name).
			Str("type", string(src.Type)).
			Float64("trust", src.TrustLevel).
			Msg("Registered source")
	}

	return result, nil
}

func sourceFromSeed(seed config.SourceSeed) (*models.ContentSource, error) {
	srcType := models.SourceType(strings.ToLower(seed.Type))
	if srcType == "" {
		srcType = models.SourceTypeRSS
	}
	if srcType != models.SourceTypeRSS && srcType != models.SourceTypeHTML {
		return nil, fmt.Errorf("source %s: unsupported type %q", seed.Name, seed.Type)
	}
	if srcType == models.SourceTypeHTML && seed.Item == "" {
		return nil, fmt.Errorf("source %s: html sources need an item selector", seed.Name)
	}

	trust := seed.TrustLevel
	if trust <= 0 || trust > 1 {
		trust = defaultTrust
	}

	return &models.ContentSource{
		Name:       seed.Name,
		Category:   seed.Category,
		Type:       srcType,
		URL:        seed.URL,
		TrustLevel: trust,
		Active:     true,
		Selectors: datatypes.NewJSONType(models.Selectors{
			Item:    seed.Item,
			Title:   seed.Title,
			Link:    seed.Link,
			Summary: seed.Summary,
		}),
	}, nil
}

// Deactivate stops scraping a source without deleting its history
func (a *Agent) Deactivate(ctx context.Context, name string) error {
	src, err := a.repository.GetSourceByName(ctx, name)
	if err != nil {
		return fmt.Errorf("source %s: %w", name, err)
	}
	src.Active = false
	return a.repository.UpdateSource(ctx, src)
}

// RunOptions narrows a scraper run
type RunOptions struct {
	// Limit caps new articles for the whole run; 0 uses the configured limit
	Limit int
	// SourceName scrapes only one source when set
	SourceName string
}

// Result contains the results of a scraper run
type Result struct {
	SourcesScraped  int
	SourcesFailed   int
	ArticlesFound   int
	ArticlesSaved   int
	ArticlesSkipped int
	Errors          []error
	Duration        time.Duration
}

// Run fetches every active source and stores new articles
func (a *Agent) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	startTime := time.Now()
	result := &Result{}

	sources, err := a.selectSources(ctx, opts.SourceName)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		a.log.Warn().Msg("No active sources registered")
		result.Duration = time.Since(startTime)
		return result, nil
	}

	manager := source.NewManager()
	byName := make(map[string]*models.ContentSource, len(sources))
	for _, src := range sources {
		fetcher, err := a.build(src)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("source %s: %w", src.Name, err))
			result.SourcesFailed++
			continue
		}
		manager.Register(&limitedFetcher{Fetcher: fetcher, limiter: a.limiter})
		byName[src.Name] = src
	}

	a.log.Info().Int("sources", len(byName)).Msg("Starting scrape")

	results := manager.FetchAll(ctx)

	limit := opts.Limit
	if limit <= 0 {
		limit = a.cfg.PerRunLimit
	}
	budget := &runBudget{limited: limit > 0, remaining: limit}

	// process in registry order so limits apply deterministically
	ordered := make(map[string]source.Result, len(results))
	for _, r := range results {
		ordered[r.Source] = r
	}

	for _, src := range sources {
		r, ok := ordered[src.Name]
		if !ok {
			continue
		}
		now := a.now()

		if r.Err != nil {
			result.SourcesFailed++
			result.Errors = append(result.Errors, fmt.Errorf("source %s: %w", src.Name, r.Err))
			metrics.ScrapeErrors.WithLabelValues(src.Name).Inc()
			a.log.Warn().Err(r.Err).Str("source", src.Name).Msg("Failed to fetch source")
			if err := a.repository.RecordScrape(ctx, src.ID, 0, now, r.Err.Error()); err != nil {
				a.log.Error().Err(err).Str("source", src.Name).Msg("Failed to record scrape")
			}
			continue
		}

		result.SourcesScraped++
		result.ArticlesFound += len(r.Articles)

		saved := a.store(ctx, src, r.Articles, now, budget, result)
		result.ArticlesSaved += saved
		metrics.ArticlesScraped.WithLabelValues(src.Name).Add(float64(saved))

		if err := a.repository.RecordScrape(ctx, src.ID, saved, now, ""); err != nil {
			a.log.Error().Err(err).Str("source", src.Name).Msg("Failed to record scrape")
		}
	}

	result.Duration = time.Since(startTime)

	a.log.Info().
		Int("sources_scraped", result.SourcesScraped).
		Int("sources_failed", result.SourcesFailed).
		Int("articles_saved", result.ArticlesSaved).
		Int("articles_skipped", result.ArticlesSkipped).
		Dur("duration", result.Duration).
		Msg("Scrape completed")

	return result, nil
}

func (a *Agent) selectSources(ctx context.Context, name string) ([]*models.ContentSource, error) {
	if name != "" {
		src, err := a.repository.GetSourceByName(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", name, err)
		}
		if !src.Active {
			return nil, fmt.Errorf("source %s is inactive", name)
		}
		return []*models.ContentSource{src}, nil
	}

	sources, err := a.repository.ListSources(ctx, storage.SourceFilter{Active: storage.Ptr(true)})
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	return sources, nil
}

// runBudget is the article allowance shared by every source of one run
type runBudget struct {
	limited   bool
	remaining int
}

func (b *runBudget) exhausted() bool {
	return b.limited && b.remaining <= 0
}

func (b *runBudget) spend() {
	if b.limited {
		b.remaining--
	}
}

// store saves new articles from one source and returns how many were saved
func (a *Agent) store(ctx context.Context, src *models.ContentSource, articles []*models.RawArticle, now time.Time, budget *runBudget, result *Result) int {
	saved := 0
	seen := make(map[string]bool)

	for _, raw := range articles {
		if budget.exhausted() {
			result.ArticlesSkipped++
			continue
		}
		if a.cfg.PerSourceLimit > 0 && saved >= a.cfg.PerSourceLimit {
			result.ArticlesSkipped++
			continue
		}

		title := strings.TrimSpace(raw.Title)
		if title == "" {
			result.ArticlesSkipped++
			continue
		}

		key := raw.URL
		if key == "" {
			key = title
		}
		externalID := source.GenerateExternalID(src.Name, key)
		if seen[externalID] {
			result.ArticlesSkipped++
			continue
		}
		seen[externalID] = true

		exists, err := a.repository.ArticleExists(ctx, externalID)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("source %s: %w", src.Name, err))
			continue
		}
		if exists {
			result.ArticlesSkipped++
			continue
		}

		article := &models.SourceArticle{
			ExternalID: externalID,
			SourceID:   src.ID,
			Title:      title,
			Content:    source.CleanText(raw.Content),
			URL:        raw.URL,
			Author:     raw.Author,
			FetchedAt:  now,
		}
		if !raw.PublishedAt.IsZero() {
			published := raw.PublishedAt
			article.PublishedAt = &published
		}

		if err := a.repository.CreateArticle(ctx, article); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("save %q: %w", title, err))
			continue
		}

		saved++
		budget.spend()
	}

	return saved
}

// limitedFetcher waits on the scraper rate limit before each fetch
type limitedFetcher struct {
	source.Fetcher
	limiter *ratelimit.MultiLimiter
}

func (f *limitedFetcher) Fetch(ctx context.Context) ([]*models.RawArticle, error) {
	if err := f.limiter.Wait(ctx, ratelimit.LimiterScraper); err != nil {
		return nil, err
	}
	return f.Fetcher.Fetch(ctx)
}

// Kind implements queue.Handler
func (a *Agent) Kind() queue.Kind {
	return queue.KindScrape
}

// Handle runs a queued scrape
func (a *Agent) Handle(ctx context.Context, job queue.Job) error {
	result, err := a.Run(ctx, RunOptions{Limit: job.Scrape.Limit, SourceName: job.Scrape.SourceName})
	if err != nil {
		return err
	}
	if result.SourcesScraped == 0 && result.SourcesFailed > 0 {
		return fmt.Errorf("all %d sources failed", result.SourcesFailed)
	}
	return nil
}
