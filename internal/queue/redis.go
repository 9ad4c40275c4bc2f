package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// dequeueWindow is how many due jobs are inspected to pick the highest priority
const dequeueWindow = 50

// RedisQueue keeps one sorted set per lane scored by run time in milliseconds
type RedisQueue struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisQueue creates a Redis backed queue under the given key prefix
func NewRedisQueue(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "content"
	}
	return &RedisQueue{client: client, prefix: prefix, now: time.Now}
}

// SetClock overrides the time source used to decide which jobs are due
func (q *RedisQueue) SetClock(now func() time.Time) { q.now = now }

func (q *RedisQueue) laneKey(lane Lane) string {
	return fmt.Sprintf("%s:jobs:%s", q.prefix, lane)
}

func (q *RedisQueue) key(name string) string {
	return fmt.Sprintf("%s:jobs:%s", q.prefix, name)
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	if err := q.client.ZAdd(ctx, q.laneKey(job.Lane), redis.Z{
		Score:  float64(job.RunAt.UnixMilli()),
		Member: payload,
	}).Err(); err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, lane Lane) (*Job, error) {
	key := q.laneKey(lane)
	now := strconv.FormatInt(q.now().UnixMilli(), 10)

	members, err := q.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: dequeueWindow,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("read lane %s: %w", lane, err)
	}

	var (
		best    *Job
		bestRaw string
	)
	for _, raw := range members {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			// drop undecodable entries so they do not block the lane
			_ = q.client.ZRem(ctx, key, raw).Err()
			continue
		}
		if best == nil || job.Priority > best.Priority {
			j := job
			best, bestRaw = &j, raw
		}
	}
	if best == nil {
		return nil, nil
	}

	// ZREM is the claim; another worker that removed it first wins
	removed, err := q.client.ZRem(ctx, key, bestRaw).Result()
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if removed == 0 {
		return nil, nil
	}
	return best, nil
}

func (q *RedisQueue) Complete(ctx context.Context, job Job) error {
	return q.client.Incr(ctx, q.key("completed")).Err()
}

func (q *RedisQueue) RecordFailure(ctx context.Context, job Job, cause error) error {
	if cause != nil {
		job.LastError = cause.Error()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.LPush(ctx, q.key("failed"), payload)
	pipe.LTrim(ctx, q.key("failed"), 0, maxFailures-1)
	pipe.Incr(ctx, q.key("failed_total"))
	_, err = pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	now := strconv.FormatInt(q.now().UnixMilli(), 10)
	stats := Stats{Lanes: make(map[Lane]LaneStats, len(Lanes()))}

	for _, lane := range Lanes() {
		key := q.laneKey(lane)
		ready, err := q.client.ZCount(ctx, key, "-inf", now).Result()
		if err != nil {
			return Stats{}, fmt.Errorf("count lane %s: %w", lane, err)
		}
		delayed, err := q.client.ZCount(ctx, key, "("+now, "+inf").Result()
		if err != nil {
			return Stats{}, fmt.Errorf("count lane %s: %w", lane, err)
		}
		stats.Lanes[lane] = LaneStats{Ready: ready, Delayed: delayed}
	}

	var err error
	if stats.Completed, err = q.counter(ctx, "completed"); err != nil {
		return Stats{}, err
	}
	if stats.Failed, err = q.counter(ctx, "failed_total"); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

func (q *RedisQueue) counter(ctx context.Context, name string) (int64, error) {
	n, err := q.client.Get(ctx, q.key(name)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (q *RedisQueue) Failures(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = maxFailures
	}
	raws, err := q.client.LRange(ctx, q.key("failed"), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read failures: %w", err)
	}

	jobs := make([]Job, 0, len(raws))
	for _, raw := range raws {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
