package runs

import (
	"context"
	"sort"
	"sync"
	"time"

	"grocery-backend/internal/grocery"
)

// MemoryRepo stores runs in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu   sync.RWMutex
	byID map[string]Run
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: make(map[string]Run)}
}

// Create stores the run.
func (r *MemoryRepo) Create(ctx context.Context, run Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[run.ID] = run
	return nil
}

// GetByID returns a run by its ID.
func (r *MemoryRepo) GetByID(ctx context.Context, runID string) (Run, error) {
	if err := ctx.Err(); err != nil {
		return Run{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.byID[runID]
	if !ok {
		return Run{}, ErrNotFound
	}
	return run, nil
}

// Update replaces the stored run.
func (r *MemoryRepo) Update(ctx context.Context, run Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[run.ID]; !ok {
		return ErrNotFound
	}
	r.byID[run.ID] = run
	return nil
}

// ResolveByToken transitions the run suspended on token, if any.
func (r *MemoryRepo) ResolveByToken(ctx context.Context, token string, state State, items []grocery.Item, errCode, errMessage string, at time.Time) (Run, bool, error) {
	if err := ctx.Err(); err != nil {
		return Run{}, false, err
	}
	if token == "" {
		return Run{}, false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, run := range r.byID {
		if run.CompletionToken != token || run.State != StateDispatched {
			continue
		}
		run.State = state
		run.Items = items
		run.ErrorCode = errCode
		run.ErrorMessage = errMessage
		run.TransitionedAt = at
		r.byID[id] = run
		return run, true, nil
	}
	return Run{}, false, nil
}

// ListByState returns runs in the given state, oldest first.
func (r *MemoryRepo) ListByState(ctx context.Context, state State) ([]Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Run
	for _, run := range r.byID {
		if run.State == state {
			out = append(out, run)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

var _ Repo = (*MemoryRepo)(nil)
