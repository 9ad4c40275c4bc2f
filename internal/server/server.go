package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/content-engine/internal/aggregation"
	"github.com/content-engine/internal/config"
	"github.com/content-engine/internal/models"
	"github.com/content-engine/internal/queue"
	"github.com/content-engine/pkg/logger"
)

// AggregationStats reports aggregation counts
type AggregationStats interface {
	GetAggregationStats(ctx context.Context) (aggregation.Stats, error)
}

// VideoStats reports video counts per status
type VideoStats interface {
	Stats(ctx context.Context) (map[models.VideoStatus]int64, error)
}

// Server exposes health, metrics, webhooks and dashboard endpoints
type Server struct {
	log          *logger.Logger
	health       func(ctx context.Context) error
	gatherer     prometheus.Gatherer
	webhooks     http.Handler
	aggregations AggregationStats
	queue        queue.Queue
	videos       VideoStats
}

// Option configures a Server
type Option func(*Server)

// WithHealthCheck sets the dependency check behind /health
func WithHealthCheck(check func(ctx context.Context) error) Option {
	return func(s *Server) { s.health = check }
}

// WithGatherer sets the registry served on /metrics
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithWebhooks mounts the payment webhook handler
func WithWebhooks(h http.Handler) Option {
	return func(s *Server) { s.webhooks = h }
}

// WithAggregations enables the aggregation stats endpoint
func WithAggregations(a AggregationStats) Option {
	return func(s *Server) { s.aggregations = a }
}

// WithQueue enables the job stats endpoint
func WithQueue(q queue.Queue) Option {
	return func(s *Server) { s.queue = q }
}

// WithVideos enables the video stats endpoint
func WithVideos(v VideoStats) Option {
	return func(s *Server) { s.videos = v }
}

// New creates a server
func New(log *logger.Logger, opts ...Option) *Server {
	s := &Server{
		log:      log.WithComponent("http"),
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the HTTP routes
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	if s.webhooks != nil {
		r.Method(http.MethodPost, "/webhooks/payments", s.webhooks)
	}

	r.Route("/api", func(r chi.Router) {
		if s.aggregations != nil {
			r.Get("/aggregations/stats", s.handleAggregationStats)
		}
		if s.queue != nil {
			r.Get("/jobs/stats", s.handleJobStats)
		}
		if s.videos != nil {
			r.Get("/videos/stats", s.handleVideoStats)
		}
	})

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Str("request_id", middleware.GetReqID(r.Context())).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAggregationStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.aggregations.GetAggregationStats(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load aggregation stats")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to load stats"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type jobStatsResponse struct {
	queue.Stats
	RecentFailures []queue.Job `json:"recent_failures"`
}

func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("failures"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "failures must be a non-negative integer"})
			return
		}
		limit = n
	}

	stats, err := s.queue.Stats(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load job stats")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to load stats"})
		return
	}

	resp := jobStatsResponse{Stats: stats, RecentFailures: []queue.Job{}}
	if limit > 0 {
		failures, err := s.queue.Failures(r.Context(), limit)
		if err != nil {
			s.log.Warn().Err(err).Msg("Failed to load job failures")
		} else if failures != nil {
			resp.RecentFailures = failures
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVideoStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.videos.Stats(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load video stats")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to load stats"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, cfg config.ServerConfig) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Router(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", cfg.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info().Msg("HTTP server stopped")
	return nil
}
