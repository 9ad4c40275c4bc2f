package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Database     DatabaseConfig     `mapstructure:"database"`
	AI           AIConfig           `mapstructure:"ai"`
	Anthropic    AnthropicConfig    `mapstructure:"anthropic"`
	OpenAI       OpenAIConfig       `mapstructure:"openai"`
	Scraper      ScraperConfig      `mapstructure:"scraper"`
	Aggregation  AggregationConfig  `mapstructure:"aggregation"`
	Moderation   ModerationConfig   `mapstructure:"moderation"`
	Publishing   PublishingConfig   `mapstructure:"publishing"`
	Video        VideoConfig        `mapstructure:"video"`
	Distribution DistributionConfig `mapstructure:"distribution"`
	Queue        QueueConfig        `mapstructure:"queue"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Media        MediaConfig        `mapstructure:"media"`
	LinkedIn     LinkedInConfig     `mapstructure:"linkedin"`
	Payments     PaymentsConfig     `mapstructure:"payments"`
	Tracker      TrackerConfig      `mapstructure:"tracker"`
	Server       ServerConfig       `mapstructure:"server"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite or postgres
	DSN    string `mapstructure:"dsn"`
}

// AIConfig selects the text generation backend
type AIConfig struct {
	Provider string `mapstructure:"provider"` // anthropic or openai
}

// AnthropicConfig holds Claude API settings
type AnthropicConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// OpenAIConfig holds settings for any OpenAI-compatible chat completions endpoint
type OpenAIConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// ScraperConfig holds scraping limits and the seed source list
type ScraperConfig struct {
	PerRunLimit    int           `mapstructure:"per_run_limit"`
	PerSourceLimit int           `mapstructure:"per_source_limit"`
	Timeout        time.Duration `mapstructure:"timeout"`
	Sources        []SourceSeed  `mapstructure:"sources"`
}

// SourceSeed describes a source created by `sources init`
type SourceSeed struct {
	Name       string  `mapstructure:"name"`
	Category   string  `mapstructure:"category"`
	Type       string  `mapstructure:"type"` // rss or html
	URL        string  `mapstructure:"url"`
	TrustLevel float64 `mapstructure:"trust_level"`
	Item       string  `mapstructure:"item_selector"`
	Title      string  `mapstructure:"title_selector"`
	Link       string  `mapstructure:"link_selector"`
	Summary    string  `mapstructure:"summary_selector"`
}

// AggregationConfig holds deduplication thresholds
type AggregationConfig struct {
	LookbackHours       int     `mapstructure:"lookback_hours"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	MergeThreshold      float64 `mapstructure:"merge_threshold"`
}

// ModerationConfig holds moderation gate heuristics
type ModerationConfig struct {
	BlockedTerms      []string `mapstructure:"blocked_terms"`
	MinLength         int      `mapstructure:"min_length"`
	MaxLength         int      `mapstructure:"max_length"`
	MaxLinks          int      `mapstructure:"max_links"`
	MaxUppercaseRatio float64  `mapstructure:"max_uppercase_ratio"`
}

// PublishingConfig holds daily publication settings
type PublishingConfig struct {
	CreatorID        uint          `mapstructure:"creator_id"`
	OriginalsPerDay  int           `mapstructure:"originals_per_day"`
	AggregatedPerDay int           `mapstructure:"aggregated_per_day"`
	FreePercent      int           `mapstructure:"free_percent"`
	PremiumTier      string        `mapstructure:"premium_tier"`
	RunWindow        time.Duration `mapstructure:"run_window"`
	Topics           []string      `mapstructure:"topics"`
	BrandVoice       string        `mapstructure:"brand_voice"`
	DraftRetention   time.Duration `mapstructure:"draft_retention"`
}

// VideoConfig holds video rendering settings
type VideoConfig struct {
	RendererURL      string        `mapstructure:"renderer_url"`
	RendererAPIKey   string        `mapstructure:"renderer_api_key"`
	RetryCooldown    time.Duration `mapstructure:"retry_cooldown"`
	RetryBackoffStep time.Duration `mapstructure:"retry_backoff_step"`
	DefaultPriority  int           `mapstructure:"default_priority"`
}

// DistributionConfig holds social fan-out timing
type DistributionConfig struct {
	StaggerMin time.Duration `mapstructure:"stagger_min"`
	StaggerMax time.Duration `mapstructure:"stagger_max"`
	VideoDelay time.Duration `mapstructure:"video_delay"`
	SiteURL    string        `mapstructure:"site_url"` // shares link to <site_url>/posts/<id>
}

// QueueConfig holds job queue settings
type QueueConfig struct {
	Driver        string        `mapstructure:"driver"` // memory or redis
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	Prefix        string        `mapstructure:"prefix"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

// SchedulerConfig holds cron expressions for the daemon
type SchedulerConfig struct {
	ScrapeCron     string        `mapstructure:"scrape_cron"`
	DedupCron      string        `mapstructure:"dedup_cron"`
	MergeCron      string        `mapstructure:"merge_cron"`
	ParaphraseCron string        `mapstructure:"paraphrase_cron"`
	PublishCron    string        `mapstructure:"publish_cron"`
	VideoRetryCron string        `mapstructure:"video_retry_cron"`
	TrendingCron   string        `mapstructure:"trending_cron"`
	CleanupCron    string        `mapstructure:"cleanup_cron"`
	LockTTL        time.Duration `mapstructure:"lock_ttl"`
}

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	AnthropicRequestsPerMinute int     `mapstructure:"anthropic_requests_per_minute"`
	OpenAIRequestsPerMinute    int     `mapstructure:"openai_requests_per_minute"`
	LinkedInRequestsPerDay     int     `mapstructure:"linkedin_requests_per_day"`
	ScraperRequestsPerSecond   float64 `mapstructure:"scraper_requests_per_second"`
	PaymentsRequestsPerMinute  int     `mapstructure:"payments_requests_per_minute"`
	UnsplashRequestsPerHour    int     `mapstructure:"unsplash_requests_per_hour"`
	RendererRequestsPerMinute  int     `mapstructure:"renderer_requests_per_minute"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json or console
	Output string `mapstructure:"output"` // stdout or file path
}

// MediaConfig holds image search settings
type MediaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	UnsplashAPIKey string `mapstructure:"unsplash_api_key"`
}

// LinkedInConfig holds LinkedIn OAuth app settings
type LinkedInConfig struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	RedirectURI  string   `mapstructure:"redirect_uri"`
	Scopes       []string `mapstructure:"scopes"`
}

// PaymentsConfig holds payment provider settings
type PaymentsConfig struct {
	BaseURL        string            `mapstructure:"base_url"`
	APIKey         string            `mapstructure:"api_key"`
	StoreID        string            `mapstructure:"store_id"`
	WebhookSecret  string            `mapstructure:"webhook_secret"`
	Currency       string            `mapstructure:"currency"`
	MinPayoutCents int64             `mapstructure:"min_payout_cents"`
	VariantTiers   map[string]string `mapstructure:"variant_tiers"` // variant id -> premium tier
}

// TrackerConfig holds Google Sheets tracker settings
type TrackerConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	SpreadsheetID      string `mapstructure:"spreadsheet_id"`
	SheetName          string `mapstructure:"sheet_name"`
	CredentialsFile    string `mapstructure:"credentials_file"`
	ServiceAccountJSON string `mapstructure:"service_account_json"`
}

// ServerConfig holds the HTTP server settings for the daemon
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// .env files are optional
	_ = godotenv.Load()
	_ = godotenv.Load(".env.local")

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")

		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".content-engine"))
		}
	}

	v.SetEnvPrefix("CONTENT")
	v.AutomaticEnv()

	// Viper doesn't auto-bind underscored nested keys
	for key, env := range map[string]string{
		"ai.provider":              "CONTENT_AI_PROVIDER",
		"anthropic.api_key":        "CONTENT_ANTHROPIC_API_KEY",
		"openai.api_key":           "CONTENT_OPENAI_API_KEY",
		"openai.base_url":          "CONTENT_OPENAI_BASE_URL",
		"database.driver":          "CONTENT_DATABASE_DRIVER",
		"database.dsn":             "CONTENT_DATABASE_DSN",
		"queue.driver":             "CONTENT_QUEUE_DRIVER",
		"queue.redis_addr":         "CONTENT_QUEUE_REDIS_ADDR",
		"queue.redis_password":     "CONTENT_QUEUE_REDIS_PASSWORD",
		"linkedin.client_id":       "CONTENT_LINKEDIN_CLIENT_ID",
		"linkedin.client_secret":   "CONTENT_LINKEDIN_CLIENT_SECRET",
		"media.enabled":            "CONTENT_MEDIA_ENABLED",
		"media.unsplash_api_key":   "CONTENT_MEDIA_UNSPLASH_API_KEY",
		"payments.api_key":         "CONTENT_PAYMENTS_API_KEY",
		"payments.webhook_secret":  "CONTENT_PAYMENTS_WEBHOOK_SECRET",
		"payments.store_id":        "CONTENT_PAYMENTS_STORE_ID",
		"video.renderer_url":       "CONTENT_VIDEO_RENDERER_URL",
		"video.renderer_api_key":   "CONTENT_VIDEO_RENDERER_API_KEY",
		"tracker.enabled":          "CONTENT_TRACKER_ENABLED",
		"tracker.spreadsheet_id":   "CONTENT_TRACKER_SPREADSHEET_ID",
		"tracker.credentials_file": "CONTENT_TRACKER_CREDENTIALS_FILE",
		"server.addr":              "CONTENT_SERVER_ADDR",
	} {
		_ = v.BindEnv(key, env)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/content.db")

	v.SetDefault("ai.provider", "anthropic")

	v.SetDefault("anthropic.model", "claude-sonnet-4-20250514")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.temperature", 0.7)

	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 4096)
	v.SetDefault("openai.temperature", 0.7)
	v.SetDefault("openai.timeout", "90s")

	v.SetDefault("scraper.per_run_limit", 200)
	v.SetDefault("scraper.per_source_limit", 30)
	v.SetDefault("scraper.timeout", "30s")

	v.SetDefault("aggregation.lookback_hours", 24)
	v.SetDefault("aggregation.confidence_threshold", 0.75)
	v.SetDefault("aggregation.similarity_threshold", 0.35)
	v.SetDefault("aggregation.merge_threshold", 0.5)

	v.SetDefault("moderation.blocked_terms", []string{})
	v.SetDefault("moderation.min_length", 300)
	v.SetDefault("moderation.max_length", 20000)
	v.SetDefault("moderation.max_links", 8)
	v.SetDefault("moderation.max_uppercase_ratio", 0.3)

	v.SetDefault("publishing.creator_id", 1)
	v.SetDefault("publishing.originals_per_day", 1)
	v.SetDefault("publishing.aggregated_per_day", 2)
	v.SetDefault("publishing.free_percent", 70)
	v.SetDefault("publishing.premium_tier", "basic")
	v.SetDefault("publishing.run_window", "24h")
	v.SetDefault("publishing.topics", []string{
		"practical AI for small teams",
		"developer productivity",
		"remote work culture",
		"data privacy",
	})
	v.SetDefault("publishing.brand_voice", "Clear, curious and practical. Explain why a story matters to the reader.")
	v.SetDefault("publishing.draft_retention", "720h")

	v.SetDefault("video.retry_cooldown", "2h")
	v.SetDefault("video.retry_backoff_step", "5m")
	v.SetDefault("video.default_priority", 5)

	v.SetDefault("distribution.stagger_min", "5s")
	v.SetDefault("distribution.stagger_max", "15s")
	v.SetDefault("distribution.video_delay", "30m")
	v.SetDefault("distribution.site_url", "http://localhost:8080")

	v.SetDefault("queue.driver", "memory")
	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.prefix", "content")
	v.SetDefault("queue.poll_interval", "1s")
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.retry_delay", "30s")

	v.SetDefault("scheduler.scrape_cron", "0 */2 * * *")
	v.SetDefault("scheduler.dedup_cron", "15 */2 * * *")
	v.SetDefault("scheduler.merge_cron", "30 */6 * * *")
	v.SetDefault("scheduler.paraphrase_cron", "45 */2 * * *")
	v.SetDefault("scheduler.publish_cron", "0 8 * * *")
	v.SetDefault("scheduler.video_retry_cron", "*/30 * * * *")
	v.SetDefault("scheduler.trending_cron", "0 * * * *")
	v.SetDefault("scheduler.cleanup_cron", "0 3 * * 0")
	v.SetDefault("scheduler.lock_ttl", "30m")

	v.SetDefault("rate_limit.anthropic_requests_per_minute", 10)
	v.SetDefault("rate_limit.openai_requests_per_minute", 20)
	v.SetDefault("rate_limit.linkedin_requests_per_day", 100)
	v.SetDefault("rate_limit.scraper_requests_per_second", 1)
	v.SetDefault("rate_limit.payments_requests_per_minute", 60)
	v.SetDefault("rate_limit.unsplash_requests_per_hour", 50)
	v.SetDefault("rate_limit.renderer_requests_per_minute", 6)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("media.enabled", false)

	v.SetDefault("linkedin.redirect_uri", "http://localhost:8080/callback")
	v.SetDefault("linkedin.scopes", []string{"openid", "profile", "w_member_social"})

	v.SetDefault("payments.base_url", "https://api.lemonsqueezy.com/v1")
	v.SetDefault("payments.currency", "USD")
	v.SetDefault("payments.min_payout_cents", 5000)

	v.SetDefault("tracker.enabled", false)
	v.SetDefault("tracker.sheet_name", "Publications")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
}

// Validate checks values that would make the pipeline misbehave
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Publishing.FreePercent < 0 || c.Publishing.FreePercent > 100 {
		return fmt.Errorf("publishing.free_percent must be within 0..100")
	}
	if c.Publishing.FreePercent < 100 && c.Publishing.PremiumTier == "" {
		return fmt.Errorf("publishing.premium_tier is required when premium posts are scheduled")
	}
	for name, val := range map[string]float64{
		"aggregation.confidence_threshold": c.Aggregation.ConfidenceThreshold,
		"aggregation.similarity_threshold": c.Aggregation.SimilarityThreshold,
		"aggregation.merge_threshold":      c.Aggregation.MergeThreshold,
	} {
		if val < 0 || val > 1 {
			return fmt.Errorf("%s must be within 0..1", name)
		}
	}
	if c.Distribution.StaggerMax < c.Distribution.StaggerMin {
		return fmt.Errorf("distribution.stagger_max must not be below stagger_min")
	}
	switch c.Queue.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("queue.driver must be memory or redis, got %q", c.Queue.Driver)
	}
	return nil
}

// ValidateAI checks that the selected text generation provider has credentials
func (c *Config) ValidateAI() error {
	switch c.AI.Provider {
	case "anthropic":
		if c.Anthropic.APIKey == "" {
			return fmt.Errorf("anthropic.api_key is required")
		}
	case "openai":
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("openai.api_key is required")
		}
	default:
		return fmt.Errorf("ai.provider must be anthropic or openai, got %q", c.AI.Provider)
	}
	return nil
}
