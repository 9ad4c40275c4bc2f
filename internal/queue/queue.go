package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/content-engine/internal/config"
)

// Queue stores jobs per lane until their RunAt passes
type Queue interface {
	// Enqueue validates and stores a job
	Enqueue(ctx context.Context, job Job) error
	// Dequeue claims the highest priority due job on the lane, or returns nil
	Dequeue(ctx context.Context, lane Lane) (*Job, error)
	// Complete counts a finished job
	Complete(ctx context.Context, job Job) error
	// RecordFailure keeps a job that exhausted its attempts
	RecordFailure(ctx context.Context, job Job, cause error) error
	// Stats reports lane depths and outcome counters
	Stats(ctx context.Context) (Stats, error)
	// Failures returns the most recent failed jobs, newest first
	Failures(ctx context.Context, limit int) ([]Job, error)
	Close() error
}

// LaneStats is the depth of one lane
type LaneStats struct {
	Ready   int64 `json:"ready"`
	Delayed int64 `json:"delayed"`
}

// Stats is the job dashboard snapshot
type Stats struct {
	Lanes     map[Lane]LaneStats `json:"lanes"`
	Completed int64              `json:"completed"`
	Failed    int64              `json:"failed"`
}

// maxFailures bounds the failed job history
const maxFailures = 100

// Open builds the configured queue backend and a matching run locker
func Open(ctx context.Context, cfg config.QueueConfig) (Queue, Locker, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryQueue(), NewMemoryLocker(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		return NewRedisQueue(client, cfg.Prefix), NewRedisLocker(client, cfg.Prefix), nil
	default:
		return nil, nil, fmt.Errorf("unsupported queue driver: %s", cfg.Driver)
	}
}
