package runs

import (
	"context"
	"time"

	"grocery-backend/internal/grocery"
)

// Repo persists workflow runs. Durable state storage is the engine's
// responsibility; everything else only reads.
type Repo interface {
	Create(ctx context.Context, run Run) error
	GetByID(ctx context.Context, runID string) (Run, error)

	// Update replaces the stored run. Pre-suspension stages have a single
	// writer per run, so a plain replace is sufficient there.
	Update(ctx context.Context, run Run) error

	// ResolveByToken atomically transitions the run suspended on token into
	// the given terminal state. It reports false when no run is currently
	// suspended on token, which is how duplicate and stale resolutions are
	// absorbed as no-ops.
	ResolveByToken(ctx context.Context, token string, state State, items []grocery.Item, errCode, errMessage string, at time.Time) (Run, bool, error)

	// ListByState returns runs in the given state, oldest first. Used to
	// recover suspension deadlines after a restart.
	ListByState(ctx context.Context, state State) ([]Run, error)
}
