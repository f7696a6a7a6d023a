package runs

import (
	"context"
	"testing"
	"time"
)

func TestMemoryRepoUpdateUnknownRun(t *testing.T) {
	repo := NewMemoryRepo()
	err := repo.Update(context.Background(), Run{ID: "missing"})
	if err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryRepoResolveByTokenRequiresDispatchedState(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := repo.Create(ctx, Run{
		ID:              "run-1",
		State:           StateFailed,
		CompletionToken: "tok-1",
		CreatedAt:       now,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, applied, err := repo.ResolveByToken(ctx, "tok-1", StateSucceeded, nil, "", "", now)
	if err != nil {
		t.Fatalf("ResolveByToken: %v", err)
	}
	if applied {
		t.Fatalf("resolution against a terminal run must not apply")
	}
}

func TestMemoryRepoListByStateOrdersByCreation(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	base := time.Now().UTC()

	for i, id := range []string{"c", "a", "b"} {
		offsets := map[string]time.Duration{"a": 0, "b": time.Second, "c": 2 * time.Second}
		if err := repo.Create(ctx, Run{
			ID:        id,
			State:     StateDispatched,
			CreatedAt: base.Add(offsets[id]),
		}); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
	}

	listed, err := repo.ListByState(ctx, StateDispatched)
	if err != nil {
		t.Fatalf("ListByState: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("listed = %d, want 3", len(listed))
	}
	for i, want := range []string{"a", "b", "c"} {
		if listed[i].ID != want {
			t.Fatalf("listed[%d] = %s, want %s", i, listed[i].ID, want)
		}
	}
}
