package runs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"grocery-backend/internal/completion"
	"grocery-backend/internal/dispatch"
	"grocery-backend/internal/grocery"
	"grocery-backend/internal/ocr"
	"grocery-backend/internal/shared/storage/object"
)

type fakeOCR struct {
	mu       sync.Mutex
	text     string
	errs     []error
	attempts int
}

func (f *fakeOCR) ExtractText(ctx context.Context, loc object.Locator, kind string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return "", err
	}
	return f.text, nil
}

func (f *fakeOCR) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

type captureQueue struct {
	mu   sync.Mutex
	jobs []dispatch.Job
	err  error
}

func (q *captureQueue) Enqueue(ctx context.Context, job dispatch.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *captureQueue) enqueued() []dispatch.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]dispatch.Job(nil), q.jobs...)
}

// flakyRepo rejects writes of a single state, leaving the rest of the repo
// behaving normally.
type flakyRepo struct {
	*MemoryRepo
	failState State
}

func (r *flakyRepo) Update(ctx context.Context, run Run) error {
	if run.State == r.failState {
		return errors.New("connection reset")
	}
	return r.MemoryRepo.Update(ctx, run)
}

func newTestEngine(capability ocr.Capability, queue dispatch.Enqueuer, opts Options) (*Engine, *MemoryRepo, *completion.Channel) {
	repo := NewMemoryRepo()
	channel := completion.NewChannel()
	engine := NewEngine(repo, capability, queue, channel, opts)
	engine.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return engine, repo, channel
}

func waitForState(t *testing.T, repo Repo, runID string, want State) Run {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		run, err := repo.GetByID(context.Background(), runID)
		if err == nil && run.State == want {
			return run
		}
		time.Sleep(5 * time.Millisecond)
	}
	run, _ := repo.GetByID(context.Background(), runID)
	t.Fatalf("run %s state = %s, want %s (error %s: %s)", runID, run.State, want, run.ErrorCode, run.ErrorMessage)
	return Run{}
}

func jpegInput() Input {
	return Input{Bucket: "grocery-docs", Key: "receipts/receipt.jpg", FileKind: "jpg"}
}

func TestRunReachesDispatchedWithTokenAndJob(t *testing.T) {
	capability := &fakeOCR{text: "2 apples\n1 loaf bread"}
	queue := &captureQueue{}
	engine, repo, channel := newTestEngine(capability, queue, Options{})

	run, err := engine.StartRun(context.Background(), jpegInput())
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if run.State != StatePendingValidation {
		t.Fatalf("entry state = %s, want %s", run.State, StatePendingValidation)
	}

	dispatched := waitForState(t, repo, run.ID, StateDispatched)
	if dispatched.CompletionToken == "" {
		t.Fatalf("dispatched run has no completion token")
	}
	if dispatched.OCRText != "2 apples\n1 loaf bread" {
		t.Fatalf("OCRText = %q", dispatched.OCRText)
	}
	if channel.Waiting() != 1 {
		t.Fatalf("Waiting = %d, want 1", channel.Waiting())
	}

	jobs := queue.enqueued()
	if len(jobs) != 1 {
		t.Fatalf("enqueued jobs = %d, want 1", len(jobs))
	}
	if jobs[0].Token != dispatched.CompletionToken {
		t.Fatalf("job token = %q, run token = %q", jobs[0].Token, dispatched.CompletionToken)
	}
	if jobs[0].RunID != run.ID || jobs[0].Text != dispatched.OCRText {
		t.Fatalf("unexpected job: %+v", jobs[0])
	}
}

func TestInvalidInputFailsWithoutDispatch(t *testing.T) {
	queue := &captureQueue{}
	engine, repo, _ := newTestEngine(&fakeOCR{text: "x"}, queue, Options{})

	run, err := engine.StartRun(context.Background(), Input{
		Bucket:   "grocery-docs",
		Key:      "notes/todo.txt",
		FileKind: "txt",
	})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	failed := waitForState(t, repo, run.ID, StateFailed)
	if failed.ErrorCode != CodeInvalidInput {
		t.Fatalf("error code = %s, want %s", failed.ErrorCode, CodeInvalidInput)
	}
	if len(queue.enqueued()) != 0 {
		t.Fatalf("invalid input must not dispatch")
	}
}

func TestOCRRetriesThenSucceeds(t *testing.T) {
	capability := &fakeOCR{
		text: "2 apples",
		errs: []error{errors.New("throttled"), errors.New("throttled")},
	}
	engine, repo, _ := newTestEngine(capability, &captureQueue{}, Options{OCRMaxAttempts: 3})

	run, err := engine.StartRun(context.Background(), jpegInput())
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	waitForState(t, repo, run.ID, StateDispatched)
	if got := capability.calls(); got != 3 {
		t.Fatalf("ocr attempts = %d, want 3", got)
	}
}

func TestOCRExhaustionFailsRun(t *testing.T) {
	capability := &fakeOCR{
		errs: []error{errors.New("boom"), errors.New("boom"), errors.New("boom")},
	}
	engine, repo, _ := newTestEngine(capability, &captureQueue{}, Options{OCRMaxAttempts: 3})

	run, _ := engine.StartRun(context.Background(), jpegInput())
	failed := waitForState(t, repo, run.ID, StateFailed)
	if failed.ErrorCode != CodeOCRFailed {
		t.Fatalf("error code = %s, want %s", failed.ErrorCode, CodeOCRFailed)
	}
	if got := capability.calls(); got != 3 {
		t.Fatalf("ocr attempts = %d, want 3", got)
	}
}

func TestUnsupportedKindIsNotRetried(t *testing.T) {
	capability := &fakeOCR{
		errs: []error{fmt.Errorf("read document: %w", ocr.ErrUnsupportedKind)},
	}
	engine, repo, _ := newTestEngine(capability, &captureQueue{}, Options{OCRMaxAttempts: 3})

	run, _ := engine.StartRun(context.Background(), jpegInput())
	failed := waitForState(t, repo, run.ID, StateFailed)
	if failed.ErrorCode != CodeOCRFailed {
		t.Fatalf("error code = %s, want %s", failed.ErrorCode, CodeOCRFailed)
	}
	if got := capability.calls(); got != 1 {
		t.Fatalf("ocr attempts = %d, want 1", got)
	}
}

func TestEmptyDocumentFailsRun(t *testing.T) {
	engine, repo, _ := newTestEngine(&fakeOCR{text: "  \n\t"}, &captureQueue{}, Options{})

	run, _ := engine.StartRun(context.Background(), jpegInput())
	failed := waitForState(t, repo, run.ID, StateFailed)
	if failed.ErrorCode != CodeEmptyDocument {
		t.Fatalf("error code = %s, want %s", failed.ErrorCode, CodeEmptyDocument)
	}
}

func TestEnqueueFailureFailsRunAndCancelsSuspension(t *testing.T) {
	queue := &captureQueue{err: errors.New("queue unreachable")}
	engine, repo, channel := newTestEngine(&fakeOCR{text: "2 apples"}, queue, Options{})

	run, _ := engine.StartRun(context.Background(), jpegInput())
	failed := waitForState(t, repo, run.ID, StateFailed)
	if failed.ErrorCode != CodeDispatchFailed {
		t.Fatalf("error code = %s, want %s", failed.ErrorCode, CodeDispatchFailed)
	}
	if channel.Waiting() != 0 {
		t.Fatalf("Waiting = %d after dispatch failure, want 0", channel.Waiting())
	}
}

func TestDispatchPersistFailureFailsRunWithoutEnqueue(t *testing.T) {
	repo := &flakyRepo{MemoryRepo: NewMemoryRepo(), failState: StateDispatched}
	queue := &captureQueue{}
	channel := completion.NewChannel()
	engine := NewEngine(repo, &fakeOCR{text: "2 apples"}, queue, channel, Options{})
	engine.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	run, err := engine.StartRun(context.Background(), jpegInput())
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	failed := waitForState(t, repo, run.ID, StateFailed)
	if failed.ErrorCode != CodeDispatchFailed {
		t.Fatalf("error code = %s, want %s", failed.ErrorCode, CodeDispatchFailed)
	}
	if len(queue.enqueued()) != 0 {
		t.Fatalf("job enqueued despite failed suspension persist")
	}
	if channel.Waiting() != 0 {
		t.Fatalf("Waiting = %d after failed persist, want 0", channel.Waiting())
	}
}

func TestSendSuccessFinalizesRunOnce(t *testing.T) {
	engine, repo, _ := newTestEngine(&fakeOCR{text: "2 apples\n1 loaf bread"}, &captureQueue{}, Options{})
	ctx := context.Background()

	run, _ := engine.StartRun(ctx, jpegInput())
	dispatched := waitForState(t, repo, run.ID, StateDispatched)

	items := []grocery.Item{
		{Name: "apples", Quantity: 2, Unit: "count"},
		{Name: "bread", Quantity: 1, Unit: "loaf"},
	}
	applied, err := engine.SendSuccess(ctx, dispatched.CompletionToken, items)
	if err != nil {
		t.Fatalf("SendSuccess: %v", err)
	}
	if !applied {
		t.Fatalf("first SendSuccess should apply")
	}

	final, err := engine.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if final.State != StateSucceeded {
		t.Fatalf("state = %s, want %s", final.State, StateSucceeded)
	}
	if len(final.Items) != 2 {
		t.Fatalf("items = %+v", final.Items)
	}

	// Redelivered job resolving again must be a no-op.
	applied, err = engine.SendSuccess(ctx, dispatched.CompletionToken, items)
	if err != nil {
		t.Fatalf("duplicate SendSuccess: %v", err)
	}
	if applied {
		t.Fatalf("duplicate SendSuccess should not apply")
	}
}

func TestSendSuccessWithNoItemsFailsNoListFound(t *testing.T) {
	engine, repo, _ := newTestEngine(&fakeOCR{text: "just a memo"}, &captureQueue{}, Options{})
	ctx := context.Background()

	run, _ := engine.StartRun(ctx, jpegInput())
	dispatched := waitForState(t, repo, run.ID, StateDispatched)

	applied, err := engine.SendSuccess(ctx, dispatched.CompletionToken, nil)
	if err != nil {
		t.Fatalf("SendSuccess: %v", err)
	}
	if !applied {
		t.Fatalf("resolution should apply")
	}

	final, _ := engine.Get(ctx, run.ID)
	if final.State != StateFailed || final.ErrorCode != completion.CodeNoListFound {
		t.Fatalf("run = %s/%s, want FAILED/%s", final.State, final.ErrorCode, completion.CodeNoListFound)
	}
}

func TestSendFailureFinalizesRun(t *testing.T) {
	engine, repo, _ := newTestEngine(&fakeOCR{text: "2 apples"}, &captureQueue{}, Options{})
	ctx := context.Background()

	run, _ := engine.StartRun(ctx, jpegInput())
	dispatched := waitForState(t, repo, run.ID, StateDispatched)

	applied, err := engine.SendFailure(ctx, dispatched.CompletionToken, completion.CodeInferenceError, "model call failed")
	if err != nil {
		t.Fatalf("SendFailure: %v", err)
	}
	if !applied {
		t.Fatalf("resolution should apply")
	}

	final, _ := engine.Get(ctx, run.ID)
	if final.State != StateFailed || final.ErrorCode != completion.CodeInferenceError {
		t.Fatalf("run = %s/%s", final.State, final.ErrorCode)
	}
}

func TestSuspensionTimeoutFailsRunAndRejectsLateSignal(t *testing.T) {
	engine, repo, _ := newTestEngine(&fakeOCR{text: "2 apples"}, &captureQueue{}, Options{
		SuspendTimeout: 250 * time.Millisecond,
	})
	ctx := context.Background()

	run, _ := engine.StartRun(ctx, jpegInput())
	dispatched := waitForState(t, repo, run.ID, StateDispatched)

	failed := waitForState(t, repo, run.ID, StateFailed)
	if failed.ErrorCode != completion.CodeTimeout {
		t.Fatalf("error code = %s, want %s", failed.ErrorCode, completion.CodeTimeout)
	}

	applied, err := engine.SendSuccess(ctx, dispatched.CompletionToken, []grocery.Item{{Name: "apples", Quantity: 2}})
	if err != nil {
		t.Fatalf("late SendSuccess: %v", err)
	}
	if applied {
		t.Fatalf("late signal should not apply")
	}
	final, _ := engine.Get(ctx, run.ID)
	if final.State != StateFailed {
		t.Fatalf("late signal mutated run to %s", final.State)
	}
}

func TestRecoverSuspensions(t *testing.T) {
	engine, repo, channel := newTestEngine(&fakeOCR{}, &captureQueue{}, Options{
		SuspendTimeout: time.Minute,
	})
	ctx := context.Background()
	now := time.Now().UTC()

	overdue := Run{
		ID:              "run-overdue",
		State:           StateDispatched,
		Input:           jpegInput(),
		CompletionToken: "tok-overdue",
		CreatedAt:       now.Add(-10 * time.Minute),
		TransitionedAt:  now.Add(-10 * time.Minute),
	}
	live := Run{
		ID:              "run-live",
		State:           StateDispatched,
		Input:           jpegInput(),
		CompletionToken: "tok-live",
		CreatedAt:       now,
		TransitionedAt:  now,
	}
	for _, run := range []Run{overdue, live} {
		if err := repo.Create(ctx, run); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	if err := engine.RecoverSuspensions(ctx); err != nil {
		t.Fatalf("RecoverSuspensions: %v", err)
	}

	expired, _ := repo.GetByID(ctx, "run-overdue")
	if expired.State != StateFailed || expired.ErrorCode != completion.CodeTimeout {
		t.Fatalf("overdue run = %s/%s, want FAILED/%s", expired.State, expired.ErrorCode, completion.CodeTimeout)
	}

	recovered, _ := repo.GetByID(ctx, "run-live")
	if recovered.State != StateDispatched {
		t.Fatalf("live run state = %s, want still dispatched", recovered.State)
	}
	if channel.Waiting() != 1 {
		t.Fatalf("Waiting = %d, want 1", channel.Waiting())
	}

	applied, err := engine.SendSuccess(ctx, "tok-live", []grocery.Item{{Name: "apples", Quantity: 2}})
	if err != nil {
		t.Fatalf("SendSuccess after recovery: %v", err)
	}
	if !applied {
		t.Fatalf("recovered suspension should accept its signal")
	}
}
