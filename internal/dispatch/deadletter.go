package dispatch

import (
	"context"
	"sync"
	"time"
)

// DeadLetter is the operator-inspection record for a job that exhausted its
// delivery budget. Records expire after the configured retention window.
type DeadLetter struct {
	JobID        string    `json:"jobId"`
	RunID        string    `json:"runId"`
	Token        string    `json:"token"`
	Body         string    `json:"body"`
	Reason       string    `json:"reason"`
	Attempts     int       `json:"attempts"`
	EnqueuedAt   time.Time `json:"enqueuedAt"`
	DeadLetterAt time.Time `json:"deadLetteredAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// DeadLetterStore persists dead-lettered jobs for inspection.
type DeadLetterStore interface {
	Put(ctx context.Context, dl DeadLetter) error
	List(ctx context.Context) ([]DeadLetter, error)
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

// MemoryDeadLetterStore keeps dead letters in memory and is safe for
// concurrent use.
type MemoryDeadLetterStore struct {
	mu      sync.RWMutex
	byJobID map[string]DeadLetter
}

// NewMemoryDeadLetterStore constructs an empty store.
func NewMemoryDeadLetterStore() *MemoryDeadLetterStore {
	return &MemoryDeadLetterStore{byJobID: make(map[string]DeadLetter)}
}

// Put stores the record, keyed by original job id.
func (s *MemoryDeadLetterStore) Put(ctx context.Context, dl DeadLetter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byJobID[dl.JobID] = dl
	return nil
}

// List returns all unexpired records.
func (s *MemoryDeadLetterStore) List(ctx context.Context) ([]DeadLetter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]DeadLetter, 0, len(s.byJobID))
	for _, dl := range s.byJobID {
		if dl.ExpiresAt.After(now) {
			out = append(out, dl)
		}
	}
	return out, nil
}

// PurgeExpired removes records past their retention window.
func (s *MemoryDeadLetterStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	purged := 0
	for id, dl := range s.byJobID {
		if !dl.ExpiresAt.After(now) {
			delete(s.byJobID, id)
			purged++
		}
	}
	return purged, nil
}

var _ DeadLetterStore = (*MemoryDeadLetterStore)(nil)
