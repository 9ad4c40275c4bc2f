package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/content-engine/internal/config"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisQueueOrdering(t *testing.T) {
	ctx := context.Background()
	_, client := newRedis(t)
	q := NewRedisQueue(client, "test")
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	q.SetClock(func() time.Time { return now })

	low := NewVideoJob(1, 1, now.Add(-time.Minute))
	high := NewVideoJob(2, 9, now.Add(-time.Second))
	later := NewVideoJob(3, 10, now.Add(time.Hour))
	for _, j := range []Job{low, high, later} {
		if err := q.Enqueue(ctx, j); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if got := stats.Lanes[LaneVideo]; got.Ready != 2 || got.Delayed != 1 {
		t.Fatalf("unexpected lane stats: %+v", got)
	}

	first, err := q.Dequeue(ctx, LaneVideo)
	if err != nil || first == nil || first.ID != high.ID {
		t.Fatalf("expected high priority job first, got %+v %v", first, err)
	}
	second, _ := q.Dequeue(ctx, LaneVideo)
	if second == nil || second.ID != low.ID {
		t.Fatalf("expected low priority job second, got %+v", second)
	}
	if none, _ := q.Dequeue(ctx, LaneVideo); none != nil {
		t.Fatalf("delayed job dequeued early: %+v", none)
	}

	q.SetClock(func() time.Time { return now.Add(2 * time.Hour) })
	delayed, _ := q.Dequeue(ctx, LaneVideo)
	if delayed == nil || delayed.ID != later.ID || delayed.Video.VideoID != 3 {
		t.Fatalf("expected delayed job once due, got %+v", delayed)
	}
}

func TestRedisQueueClaimsOnce(t *testing.T) {
	ctx := context.Background()
	_, client := newRedis(t)
	a := NewRedisQueue(client, "test")
	b := NewRedisQueue(client, "test")

	job := NewParaphraseJob(7)
	if err := a.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	got, err := a.Dequeue(ctx, LaneContent)
	if err != nil || got == nil || got.ID != job.ID {
		t.Fatalf("first claim: %+v %v", got, err)
	}
	if again, _ := b.Dequeue(ctx, LaneContent); again != nil {
		t.Fatalf("job claimed twice: %+v", again)
	}
}

func TestRedisQueueDropsUndecodableEntries(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	q := NewRedisQueue(client, "test")

	if err := client.ZAdd(ctx, "test:jobs:content", redis.Z{Score: 0, Member: "not json"}).Err(); err != nil {
		t.Fatalf("seed: %v", err)
	}
	job := NewParaphraseJob(1)
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	got, err := q.Dequeue(ctx, LaneContent)
	if err != nil || got == nil || got.ID != job.ID {
		t.Fatalf("expected valid job past the bad entry, got %+v %v", got, err)
	}
	members, _ := mr.ZMembers("test:jobs:content")
	if len(members) != 0 {
		t.Fatalf("lane should be empty, has %v", members)
	}
}

func TestRedisQueueFailuresAndCounters(t *testing.T) {
	ctx := context.Background()
	_, client := newRedis(t)
	q := NewRedisQueue(client, "test")

	if err := q.Complete(ctx, NewScrapeJob("", 0)); err != nil {
		t.Fatalf("complete: %v", err)
	}

	first := NewVideoJob(1, 0, time.Time{})
	first.Attempt = 3
	second := NewVideoJob(2, 0, time.Time{})
	if err := q.RecordFailure(ctx, first, errors.New("renderer down")); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if err := q.RecordFailure(ctx, second, errors.New("timeout")); err != nil {
		t.Fatalf("record failure: %v", err)
	}

	failures, err := q.Failures(ctx, 10)
	if err != nil {
		t.Fatalf("failures: %v", err)
	}
	if len(failures) != 2 || failures[0].ID != second.ID || failures[1].LastError != "renderer down" || failures[1].Attempt != 3 {
		t.Fatalf("unexpected failures, newest first expected: %+v", failures)
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Completed != 1 || stats.Failed != 2 {
		t.Fatalf("unexpected counters: %+v", stats)
	}
}

func TestRedisLockerOwnership(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	first := NewRedisLocker(client, "test")
	second := NewRedisLocker(client, "test")

	ok, err := first.TryAcquire(ctx, "publish", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: %v %v", ok, err)
	}
	if ok, _ := second.TryAcquire(ctx, "publish", time.Minute); ok {
		t.Fatal("lock acquired twice")
	}

	// the first holder overruns its TTL and the second takes over
	mr.FastForward(2 * time.Minute)
	if ok, _ := second.TryAcquire(ctx, "publish", time.Minute); !ok {
		t.Fatal("expired lock was not released")
	}

	if err := first.Release(ctx, "publish"); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	if !mr.Exists("test:lock:publish") {
		t.Fatal("stale holder deleted the current lock")
	}

	if err := second.Release(ctx, "publish"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if mr.Exists("test:lock:publish") {
		t.Fatal("owner release left the lock behind")
	}
	if ok, _ := first.TryAcquire(ctx, "publish", time.Minute); !ok {
		t.Fatal("released lock could not be taken again")
	}
}

func TestOpenRedis(t *testing.T) {
	mr, _ := newRedis(t)

	q, locker, err := Open(context.Background(), config.QueueConfig{Driver: "redis", RedisAddr: mr.Addr(), Prefix: "test"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer q.Close()

	if _, ok := q.(*RedisQueue); !ok {
		t.Fatalf("expected redis queue, got %T", q)
	}
	if _, ok := locker.(*RedisLocker); !ok {
		t.Fatalf("expected redis locker, got %T", locker)
	}

	if _, _, err := Open(context.Background(), config.QueueConfig{Driver: "rabbit"}); err == nil {
		t.Fatal("expected unsupported driver error")
	}
}
