package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ArticlesScraped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "content_articles_scraped_total",
		Help: "New articles stored per source",
	}, []string{"source"})

	ScrapeErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "content_scrape_errors_total",
		Help: "Failed source fetches",
	}, []string{"source"})

	AggregationsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "content_aggregations_created_total",
		Help: "Aggregations created by duplicate detection",
	})

	AggregationsMerged = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "content_aggregations_merged_total",
		Help: "Aggregations absorbed by merges",
	})

	PostsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "content_posts_created_total",
		Help: "Draft posts created",
	}, []string{"kind"}) // original, curated

	PostsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "content_posts_published_total",
		Help: "Posts published by access level",
	}, []string{"access"}) // free, premium

	ModerationFlagged = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "content_moderation_flagged_total",
		Help: "Posts held back by the moderation gate",
	})

	JobsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "content_jobs_processed_total",
		Help: "Background jobs handled",
	}, []string{"kind", "status"})

	JobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "content_job_duration_seconds",
		Help:    "Background job handling time",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	VideoRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "content_video_retries_total",
		Help: "Failed videos re-queued",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "content_network_request_duration_seconds",
		Help:    "Outbound API call latency",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60, 120},
	}, []string{"component", "operation", "status"})

	LLMTokens = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "content_llm_tokens_total",
		Help: "Tokens used by text generation",
	}, []string{"model", "type"})

	WebhooksReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "content_webhooks_received_total",
		Help: "Payment webhooks by event and outcome",
	}, []string{"event", "status"})
)

// MustRegister registers all collectors
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		ArticlesScraped,
		ScrapeErrors,
		AggregationsCreated,
		AggregationsMerged,
		PostsCreated,
		PostsPublished,
		ModerationFlagged,
		JobsProcessed,
		JobDuration,
		VideoRetries,
		NetworkRequestDuration,
		LLMTokens,
		WebhooksReceived,
	)
}

// ObserveRequest records the latency and outcome of an outbound API call
func ObserveRequest(component, operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	NetworkRequestDuration.WithLabelValues(component, operation, status).Observe(time.Since(start).Seconds())
}

// ObserveTokens records token usage for a completion
func ObserveTokens(model string, prompt, completion int) {
	if model == "" {
		model = "unknown"
	}
	if prompt > 0 {
		LLMTokens.WithLabelValues(model, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		LLMTokens.WithLabelValues(model, "completion").Add(float64(completion))
	}
}

// ObserveJob records a handled job
func ObserveJob(kind string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	JobsProcessed.WithLabelValues(kind, status).Inc()
	JobDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

// AccessLabel maps a premium flag to the published counter label
func AccessLabel(premium bool) string {
	if premium {
		return "premium"
	}
	return "free"
}
