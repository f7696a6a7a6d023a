package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"grocery-backend/internal/shared/metrics"
	"grocery-backend/internal/shared/telemetry"
)

// MemoryQueue is an in-process Queue with at-least-once semantics: received
// jobs stay invisible for the visibility window and reappear if not
// acknowledged. A job about to exceed MaxReceives deliveries is moved to the
// dead-letter store instead of being handed out again.
type MemoryQueue struct {
	mu         sync.Mutex
	entries    []*memoryEntry
	visibility time.Duration
	maxRecv    int
	retention  time.Duration
	deadLetter DeadLetterStore
	now        func() time.Time
}

type memoryEntry struct {
	job       Job
	body      string
	receives  int
	visibleAt time.Time
	handle    string
}

// MemoryQueueConfig carries the queue's delivery policy.
type MemoryQueueConfig struct {
	Visibility          time.Duration
	MaxReceives         int
	DeadLetterRetention time.Duration
}

// NewMemoryQueue constructs a queue with the given policy. Dead letters are
// recorded in store; a nil store still bounds retries but drops the records.
func NewMemoryQueue(cfg MemoryQueueConfig, store DeadLetterStore) *MemoryQueue {
	if cfg.Visibility <= 0 {
		cfg.Visibility = 60 * time.Second
	}
	if cfg.MaxReceives <= 0 {
		cfg.MaxReceives = 3
	}
	if cfg.DeadLetterRetention <= 0 {
		cfg.DeadLetterRetention = 14 * 24 * time.Hour
	}
	return &MemoryQueue{
		visibility: cfg.Visibility,
		maxRecv:    cfg.MaxReceives,
		retention:  cfg.DeadLetterRetention,
		deadLetter: store,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue accepts a job for eventual delivery.
func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := EncodeJob(job)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, &memoryEntry{
		job:       job,
		body:      string(payload),
		visibleAt: q.now(),
	})
	metrics.IncJobsEnqueued()
	return nil
}

// Receive returns the next visible job, or nil when none is ready. Jobs that
// already used up their delivery budget are dead-lettered during the scan.
func (q *MemoryQueue) Receive(ctx context.Context) (*Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	kept := q.entries[:0]
	var picked *memoryEntry
	for _, entry := range q.entries {
		if picked != nil || entry.visibleAt.After(now) {
			kept = append(kept, entry)
			continue
		}
		if entry.receives >= q.maxRecv {
			q.moveToDeadLetter(ctx, entry, now)
			continue
		}
		picked = entry
		kept = append(kept, entry)
	}
	q.entries = kept

	if picked == nil {
		return nil, nil
	}
	picked.receives++
	picked.visibleAt = now.Add(q.visibility)
	picked.handle = uuid.NewString()
	metrics.IncJobsReceived()
	return &Delivery{
		Job:          picked.job,
		Body:         picked.body,
		Handle:       picked.handle,
		ReceiveCount: picked.receives,
	}, nil
}

// Acknowledge permanently removes the delivered job. A stale handle, from a
// delivery whose visibility window already lapsed, is a no-op.
func (q *MemoryQueue) Acknowledge(ctx context.Context, d *Delivery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d == nil {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for i, entry := range q.entries {
		if entry.job.JobID == d.Job.JobID && entry.handle == d.Handle {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return nil
		}
	}
	return nil
}

// Depth reports how many jobs are live on the queue (visible or in flight).
func (q *MemoryQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *MemoryQueue) moveToDeadLetter(ctx context.Context, entry *memoryEntry, now time.Time) {
	metrics.IncJobsDeadLettered()
	telemetry.Error("dispatch.dead_lettered", map[string]any{
		"job_id":   entry.job.JobID,
		"run_id":   entry.job.RunID,
		"attempts": entry.receives,
	})
	if q.deadLetter == nil {
		return
	}
	dl := DeadLetter{
		JobID:        entry.job.JobID,
		RunID:        entry.job.RunID,
		Token:        entry.job.Token,
		Body:         entry.body,
		Reason:       "delivery budget exhausted without acknowledgment",
		Attempts:     entry.receives,
		EnqueuedAt:   entry.job.EnqueuedAt,
		DeadLetterAt: now,
		ExpiresAt:    now.Add(q.retention),
	}
	if err := q.deadLetter.Put(ctx, dl); err != nil {
		telemetry.Error("dispatch.dead_letter_store", map[string]any{
			"job_id": entry.job.JobID,
			"error":  err.Error(),
		})
	}
}

var _ Queue = (*MemoryQueue)(nil)
