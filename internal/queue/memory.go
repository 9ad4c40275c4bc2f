package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryEntry struct {
	job Job
	seq uint64
}

// MemoryQueue keeps jobs in process. Used by the CLI and tests.
type MemoryQueue struct {
	mu        sync.Mutex
	lanes     map[Lane][]memoryEntry
	failures  []Job
	completed int64
	failed    int64
	seq       uint64
	now       func() time.Time
}

// NewMemoryQueue creates an empty in-process queue
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		lanes: make(map[Lane][]memoryEntry),
		now:   time.Now,
	}
}

// SetClock overrides the time source used to decide which jobs are due
func (q *MemoryQueue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	q.lanes[job.Lane] = append(q.lanes[job.Lane], memoryEntry{job: job, seq: q.seq})
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, lane Lane) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	entries := q.lanes[lane]
	best := -1
	for i, e := range entries {
		if e.job.RunAt.After(now) {
			continue
		}
		if best < 0 || before(e, entries[best]) {
			best = i
		}
	}
	if best < 0 {
		return nil, nil
	}

	job := entries[best].job
	q.lanes[lane] = append(entries[:best:best], entries[best+1:]...)
	return &job, nil
}

// before orders due jobs by priority, then run time, then insertion
func before(a, b memoryEntry) bool {
	if a.job.Priority != b.job.Priority {
		return a.job.Priority > b.job.Priority
	}
	if !a.job.RunAt.Equal(b.job.RunAt) {
		return a.job.RunAt.Before(b.job.RunAt)
	}
	return a.seq < b.seq
}

func (q *MemoryQueue) Complete(ctx context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed++
	return nil
}

func (q *MemoryQueue) RecordFailure(ctx context.Context, job Job, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if cause != nil {
		job.LastError = cause.Error()
	}
	q.failed++
	q.failures = append([]Job{job}, q.failures...)
	if len(q.failures) > maxFailures {
		q.failures = q.failures[:maxFailures]
	}
	return nil
}

func (q *MemoryQueue) Stats(ctx context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	stats := Stats{
		Lanes:     make(map[Lane]LaneStats, len(Lanes())),
		Completed: q.completed,
		Failed:    q.failed,
	}
	for _, lane := range Lanes() {
		var ls LaneStats
		for _, e := range q.lanes[lane] {
			if e.job.RunAt.After(now) {
				ls.Delayed++
			} else {
				ls.Ready++
			}
		}
		stats.Lanes[lane] = ls
	}
	return stats, nil
}

func (q *MemoryQueue) Failures(ctx context.Context, limit int) ([]Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if limit <= 0 || limit > len(q.failures) {
		limit = len(q.failures)
	}
	out := make([]Job, limit)
	copy(out, q.failures[:limit])
	return out, nil
}

// Pending returns the jobs waiting on a lane ordered by run time
func (q *MemoryQueue) Pending(lane Lane) []Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := q.lanes[lane]
	jobs := make([]Job, len(entries))
	for i, e := range entries {
		jobs[i] = e.job
	}
	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].RunAt.Before(jobs[j].RunAt) })
	return jobs
}

func (q *MemoryQueue) Close() error {
	return nil
}
