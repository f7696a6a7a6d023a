package dispatch

import (
	"context"
	"testing"
	"time"
)

func testJob(id string) Job {
	return Job{
		JobID:      id,
		RunID:      "run-" + id,
		Token:      "tok-" + id,
		Text:       "2 apples",
		EnqueuedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func newTestQueue(t *testing.T, store DeadLetterStore) (*MemoryQueue, *time.Time) {
	t.Helper()
	q := NewMemoryQueue(MemoryQueueConfig{
		Visibility:          time.Minute,
		MaxReceives:         3,
		DeadLetterRetention: 14 * 24 * time.Hour,
	}, store)
	now := time.Now().UTC().Truncate(time.Second)
	q.now = func() time.Time { return now }
	return q, &now
}

func TestReceiveThenAcknowledgeRemovesJob(t *testing.T) {
	q, _ := newTestQueue(t, nil)
	ctx := context.Background()

	if err := q.Enqueue(ctx, testJob("a")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	d, err := q.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if d == nil || d.Job.JobID != "a" {
		t.Fatalf("Receive = %+v, want job a", d)
	}
	if d.ReceiveCount != 1 {
		t.Fatalf("ReceiveCount = %d, want 1", d.ReceiveCount)
	}

	if err := q.Acknowledge(ctx, d); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if q.Depth() != 0 {
		t.Fatalf("Depth = %d after ack, want 0", q.Depth())
	}
}

func TestUnackedJobInvisibleUntilVisibilityLapses(t *testing.T) {
	q, now := newTestQueue(t, nil)
	ctx := context.Background()

	if err := q.Enqueue(ctx, testJob("a")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	first, err := q.Receive(ctx)
	if err != nil || first == nil {
		t.Fatalf("Receive = %+v, %v", first, err)
	}

	// Within the visibility window the job must not be handed out again.
	if d, _ := q.Receive(ctx); d != nil {
		t.Fatalf("Receive during visibility window = %+v, want nil", d)
	}

	*now = now.Add(61 * time.Second)
	second, err := q.Receive(ctx)
	if err != nil || second == nil {
		t.Fatalf("Receive after visibility lapse = %+v, %v", second, err)
	}
	if second.ReceiveCount != 2 {
		t.Fatalf("ReceiveCount = %d, want 2", second.ReceiveCount)
	}
	if second.Handle == first.Handle {
		t.Fatalf("redelivery reused handle %s", first.Handle)
	}

	// The first delivery's handle is stale now; its ack must not remove the
	// redelivered job.
	if err := q.Acknowledge(ctx, first); err != nil {
		t.Fatalf("Acknowledge stale: %v", err)
	}
	if q.Depth() != 1 {
		t.Fatalf("Depth = %d after stale ack, want 1", q.Depth())
	}
}

func TestJobDeadLettersAfterMaxReceives(t *testing.T) {
	store := NewMemoryDeadLetterStore()
	q, now := newTestQueue(t, store)
	ctx := context.Background()

	if err := q.Enqueue(ctx, testJob("a")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	for i := 1; i <= 3; i++ {
		d, err := q.Receive(ctx)
		if err != nil {
			t.Fatalf("Receive %d: %v", i, err)
		}
		if d == nil {
			t.Fatalf("Receive %d = nil, want delivery", i)
		}
		if d.ReceiveCount != i {
			t.Fatalf("ReceiveCount = %d, want %d", d.ReceiveCount, i)
		}
		*now = now.Add(61 * time.Second)
	}

	// The fourth attempt moves the job to the dead-letter store.
	d, err := q.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if d != nil {
		t.Fatalf("Receive after budget exhausted = %+v, want nil", d)
	}
	if q.Depth() != 0 {
		t.Fatalf("Depth = %d, want 0", q.Depth())
	}

	letters, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(letters) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(letters))
	}
	dl := letters[0]
	if dl.JobID != "a" || dl.Token != "tok-a" || dl.Attempts != 3 {
		t.Fatalf("unexpected dead letter: %+v", dl)
	}
	if want := now.Add(14 * 24 * time.Hour); !dl.ExpiresAt.Equal(want) {
		t.Fatalf("ExpiresAt = %v, want %v", dl.ExpiresAt, want)
	}
}

func TestDeadLetterStorePurgeExpired(t *testing.T) {
	store := NewMemoryDeadLetterStore()
	ctx := context.Background()
	base := time.Now().UTC()

	fresh := DeadLetter{JobID: "fresh", ExpiresAt: base.Add(24 * time.Hour)}
	stale := DeadLetter{JobID: "stale", ExpiresAt: base.Add(-time.Hour)}
	for _, dl := range []DeadLetter{fresh, stale} {
		if err := store.Put(ctx, dl); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	purged, err := store.PurgeExpired(ctx, base)
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if purged != 1 {
		t.Fatalf("purged = %d, want 1", purged)
	}
	letters, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(letters) != 1 || letters[0].JobID != "fresh" {
		t.Fatalf("remaining letters = %+v, want only fresh", letters)
	}
}
