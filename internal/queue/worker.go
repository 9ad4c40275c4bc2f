package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/content-engine/internal/metrics"
	"github.com/content-engine/pkg/logger"
)

// Handler runs jobs of one kind
type Handler interface {
	Kind() Kind
	Handle(ctx context.Context, job Job) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc struct {
	JobKind Kind
	Fn      func(ctx context.Context, job Job) error
}

func (h HandlerFunc) Kind() Kind { return h.JobKind }

func (h HandlerFunc) Handle(ctx context.Context, job Job) error { return h.Fn(ctx, job) }

// Registry maps job kinds to handlers
type Registry struct {
	mu       sync.RWMutex
	handlers map[Kind]Handler
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Kind]Handler)}
}

// Register adds a handler, replacing any previous one for the same kind
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Kind()] = h
}

// Get returns the handler for a kind
func (r *Registry) Get(kind Kind) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// WorkerConfig tunes the worker loops
type WorkerConfig struct {
	Lanes        []Lane
	PollInterval time.Duration
	MaxAttempts  int
	RetryDelay   time.Duration
}

// Worker polls each lane and runs jobs one at a time per lane
type Worker struct {
	queue    Queue
	registry *Registry
	cfg      WorkerConfig
	now      func() time.Time
	logger   *logger.Logger
}

// NewWorker creates a worker. Empty lanes mean every lane.
func NewWorker(q Queue, registry *Registry, cfg WorkerConfig, log *logger.Logger) *Worker {
	if len(cfg.Lanes) == 0 {
		cfg.Lanes = Lanes()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Worker{
		queue:    q,
		registry: registry,
		cfg:      cfg,
		now:      time.Now,
		logger:   log.WithComponent("worker"),
	}
}

// Run starts one loop per lane and blocks until ctx is cancelled
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info().Int("lanes", len(w.cfg.Lanes)).Msg("Starting job worker")

	var wg sync.WaitGroup
	for _, lane := range w.cfg.Lanes {
		wg.Add(1)
		go func(lane Lane) {
			defer wg.Done()
			w.runLane(ctx, lane)
		}(lane)
	}
	wg.Wait()

	w.logger.Info().Msg("Job worker stopped")
}

func (w *Worker) runLane(ctx context.Context, lane Lane) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		// drain everything due before sleeping
		for {
			if ctx.Err() != nil {
				return
			}
			ran, err := w.ProcessNext(ctx, lane)
			if err != nil {
				w.logger.Warn().Err(err).Str("lane", string(lane)).Msg("Dequeue failed")
				break
			}
			if !ran {
				break
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessNext runs at most one due job from the lane and reports whether it did
func (w *Worker) ProcessNext(ctx context.Context, lane Lane) (bool, error) {
	job, err := w.queue.Dequeue(ctx, lane)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	w.execute(ctx, *job)
	return true, nil
}

// Drain processes due jobs on the given lanes until none are left and returns how many ran
func (w *Worker) Drain(ctx context.Context, lanes ...Lane) (int, error) {
	if len(lanes) == 0 {
		lanes = w.cfg.Lanes
	}

	total := 0
	for {
		ranAny := false
		for _, lane := range lanes {
			ran, err := w.ProcessNext(ctx, lane)
			if err != nil {
				return total, err
			}
			if ran {
				ranAny = true
				total++
			}
		}
		if !ranAny || ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
}

func (w *Worker) execute(ctx context.Context, job Job) {
	log := w.logger.WithJob(string(job.Kind), job.ID, string(job.Lane))
	start := time.Now()

	handler, ok := w.registry.Get(job.Kind)
	if !ok {
		err := fmt.Errorf("no handler registered for job kind %s", job.Kind)
		log.Error().Err(err).Msg("Dropping job")
		metrics.ObserveJob(string(job.Kind), start, err)
		if recErr := w.queue.RecordFailure(ctx, job, err); recErr != nil {
			log.Error().Err(recErr).Msg("Failed to record job failure")
		}
		return
	}

	err := w.safeHandle(ctx, handler, job)
	metrics.ObserveJob(string(job.Kind), start, err)

	if err == nil {
		log.Debug().Dur("duration", time.Since(start)).Msg("Job completed")
		if err := w.queue.Complete(ctx, job); err != nil {
			log.Warn().Err(err).Msg("Failed to count completed job")
		}
		return
	}

	job.Attempt++
	job.LastError = err.Error()

	if job.Attempt >= w.cfg.MaxAttempts {
		log.Error().Err(err).Int("attempt", job.Attempt).Msg("Job failed permanently")
		if recErr := w.queue.RecordFailure(ctx, job, err); recErr != nil {
			log.Error().Err(recErr).Msg("Failed to record job failure")
		}
		return
	}

	job.RunAt = w.now().Add(time.Duration(job.Attempt) * w.cfg.RetryDelay)
	log.Warn().Err(err).
		Int("attempt", job.Attempt).
		Time("retry_at", job.RunAt).
		Msg("Job failed, will retry")

	if enqErr := w.queue.Enqueue(ctx, job); enqErr != nil {
		log.Error().Err(enqErr).Msg("Failed to re-enqueue job")
		_ = w.queue.RecordFailure(ctx, job, err)
	}
}

func (w *Worker) safeHandle(ctx context.Context, h Handler, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.Handle(ctx, job)
}
