package runs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"grocery-backend/internal/completion"
	"grocery-backend/internal/dispatch"
	"grocery-backend/internal/grocery"
	"grocery-backend/internal/ocr"
	"grocery-backend/internal/shared/metrics"
	"grocery-backend/internal/shared/storage/object"
	"grocery-backend/internal/shared/telemetry"
)

// SupportedKinds is the ingestion allow-list of file extensions.
var SupportedKinds = map[string]struct{}{
	"pdf":  {},
	"png":  {},
	"jpg":  {},
	"jpeg": {},
}

// Options tunes the engine's retry and suspension policy.
type Options struct {
	OCRMaxAttempts int
	OCRBackoff     time.Duration
	SuspendTimeout time.Duration
}

// Engine sequences workflow runs: validate input, run OCR, dispatch an
// extraction job, suspend on a completion token, finalize. It is the single
// writer of run state; resolutions enter through SendSuccess and SendFailure.
type Engine struct {
	repo    Repo
	ocr     ocr.Capability
	queue   dispatch.Enqueuer
	channel *completion.Channel
	opts    Options

	// sleep is swapped in tests to skip real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine constructs an engine. Zero option fields get defaults.
func NewEngine(repo Repo, capability ocr.Capability, queue dispatch.Enqueuer, channel *completion.Channel, opts Options) *Engine {
	if opts.OCRMaxAttempts <= 0 {
		opts.OCRMaxAttempts = 3
	}
	if opts.OCRBackoff <= 0 {
		opts.OCRBackoff = 500 * time.Millisecond
	}
	if opts.SuspendTimeout <= 0 {
		opts.SuspendTimeout = 5 * time.Minute
	}
	return &Engine{
		repo:    repo,
		ocr:     capability,
		queue:   queue,
		channel: channel,
		opts:    opts,
		sleep:   sleepCtx,
	}
}

// StartRun creates a new run and advances it asynchronously. The returned run
// is in its entry state; callers observe progress via Get.
func (e *Engine) StartRun(ctx context.Context, input Input) (Run, error) {
	now := time.Now().UTC()
	run := Run{
		ID:             uuid.NewString(),
		State:          StatePendingValidation,
		Input:          input,
		CreatedAt:      now,
		TransitionedAt: now,
	}
	if err := e.repo.Create(ctx, run); err != nil {
		return Run{}, fmt.Errorf("create run: %w", err)
	}
	metrics.IncRunsStarted()
	telemetry.Info("run.started", map[string]any{
		"run_id": run.ID,
		"bucket": input.Bucket,
		"key":    input.Key,
		"kind":   input.FileKind,
	})

	go e.advance(context.WithoutCancel(ctx), run.ID)
	return run, nil
}

// Get returns a run by id.
func (e *Engine) Get(ctx context.Context, runID string) (Run, error) {
	return e.repo.GetByID(ctx, runID)
}

// SendSuccess resolves the suspension for token with an extracted item list.
// It reports whether the resolution was applied; duplicates and stale tokens
// are absorbed as no-ops. An error means durable state could not be reached
// and the caller must not acknowledge its delivery.
func (e *Engine) SendSuccess(ctx context.Context, token string, items []grocery.Item) (bool, error) {
	return e.deliver(ctx, completion.Signal{
		Token:   token,
		Outcome: completion.OutcomeSuccess,
		Items:   items,
	})
}

// SendFailure resolves the suspension for token with a terminal error.
func (e *Engine) SendFailure(ctx context.Context, token, code, message string) (bool, error) {
	return e.deliver(ctx, completion.Signal{
		Token:        token,
		Outcome:      completion.OutcomeFailure,
		ErrorCode:    code,
		ErrorMessage: message,
	})
}

// RecoverSuspensions re-arms suspension deadlines for runs that were awaiting
// extraction when the process last stopped. Runs already past their deadline
// are failed immediately.
func (e *Engine) RecoverSuspensions(ctx context.Context) error {
	suspended, err := e.repo.ListByState(ctx, StateDispatched)
	if err != nil {
		return fmt.Errorf("list suspended runs: %w", err)
	}
	now := time.Now().UTC()
	for _, run := range suspended {
		remaining := run.TransitionedAt.Add(e.opts.SuspendTimeout).Sub(now)
		if remaining <= 0 {
			e.applyResolution(ctx, completion.Signal{
				Token:        run.CompletionToken,
				Outcome:      completion.OutcomeFailure,
				ErrorCode:    completion.CodeTimeout,
				ErrorMessage: "no completion signal received before the suspension deadline",
			})
			continue
		}
		e.channel.Register(run.CompletionToken, remaining, e.finalize)
		telemetry.Info("run.suspension_recovered", map[string]any{
			"run_id":       run.ID,
			"remaining_ms": remaining.Milliseconds(),
		})
	}
	return nil
}

// advance drives a run from its entry state to the suspended state.
func (e *Engine) advance(ctx context.Context, runID string) {
	run, err := e.repo.GetByID(ctx, runID)
	if err != nil {
		telemetry.Error("run.load_failed", map[string]any{"run_id": runID, "error": err.Error()})
		return
	}

	if err := validateInput(run.Input); err != nil {
		e.fail(ctx, run, CodeInvalidInput, err.Error())
		return
	}
	// The intermediate state is observational only; a failed persist here is
	// logged and overwritten by the next transition.
	run, _ = e.transition(ctx, run, StateOCRRunning)

	text, err := e.runOCR(ctx, run)
	if err != nil {
		e.fail(ctx, run, CodeOCRFailed, fmt.Sprintf("ocr retries exhausted: %v", err))
		return
	}
	if strings.TrimSpace(text) == "" {
		e.fail(ctx, run, CodeEmptyDocument, "document produced no text")
		return
	}

	run.OCRText = text
	run.CompletionToken = uuid.NewString()

	// The suspension must be armed and durably recorded before the job can
	// reach a worker, so a fast reply always finds its token. If the record
	// never lands, no resolution can ever apply, so the run must fail now
	// rather than dispatch a job whose outcome has nowhere to go.
	e.channel.Register(run.CompletionToken, e.opts.SuspendTimeout, e.finalize)
	run, err = e.transition(ctx, run, StateDispatched)
	if err != nil {
		e.channel.Cancel(run.CompletionToken)
		e.fail(ctx, run, CodeDispatchFailed, fmt.Sprintf("persist suspension: %v", err))
		return
	}

	job := dispatch.Job{
		JobID:      uuid.NewString(),
		RunID:      run.ID,
		Token:      run.CompletionToken,
		Text:       text,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := e.enqueueWithRetry(ctx, job); err != nil {
		e.channel.Cancel(run.CompletionToken)
		e.fail(ctx, run, CodeDispatchFailed, fmt.Sprintf("enqueue retries exhausted: %v", err))
		return
	}
	telemetry.Info("run.dispatched", map[string]any{
		"run_id": run.ID,
		"job_id": job.JobID,
	})
}

// runOCR invokes the OCR capability with bounded retries and backoff.
// Unsupported-kind errors are not retried; the document will not change.
func (e *Engine) runOCR(ctx context.Context, run Run) (string, error) {
	loc := object.Locator{Bucket: run.Input.Bucket, Key: run.Input.Key}
	var lastErr error
	for attempt := 1; attempt <= e.opts.OCRMaxAttempts; attempt++ {
		text, err := e.ocr.ExtractText(ctx, loc, run.Input.FileKind)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if isOCRTerminal(err) {
			return "", err
		}
		telemetry.Warn("run.ocr_retry", map[string]any{
			"run_id":  run.ID,
			"attempt": attempt,
			"error":   err.Error(),
		})
		if attempt < e.opts.OCRMaxAttempts {
			metrics.IncOCRRetries()
			if err := e.sleep(ctx, e.opts.OCRBackoff*time.Duration(attempt)); err != nil {
				return "", err
			}
		}
	}
	return "", lastErr
}

func (e *Engine) enqueueWithRetry(ctx context.Context, job dispatch.Job) error {
	var lastErr error
	for attempt := 1; attempt <= e.opts.OCRMaxAttempts; attempt++ {
		if err := e.queue.Enqueue(ctx, job); err == nil {
			return nil
		} else {
			lastErr = err
		}
		telemetry.Warn("run.enqueue_retry", map[string]any{
			"run_id":  job.RunID,
			"attempt": attempt,
			"error":   lastErr.Error(),
		})
		if attempt < e.opts.OCRMaxAttempts {
			if err := e.sleep(ctx, e.opts.OCRBackoff*time.Duration(attempt)); err != nil {
				return err
			}
		}
	}
	return lastErr
}

// deliver routes a signal into the suspension. The timer is disarmed first
// when the suspension lives in this process; the durable conditional
// transition then decides whether the signal wins, here or cross-process.
func (e *Engine) deliver(ctx context.Context, sig completion.Signal) (bool, error) {
	e.channel.Cancel(sig.Token)
	return e.applyResolutionErr(ctx, sig)
}

// finalize is the channel callback; it runs outside any request context.
func (e *Engine) finalize(sig completion.Signal) {
	e.applyResolution(context.Background(), sig)
}

func (e *Engine) applyResolution(ctx context.Context, sig completion.Signal) bool {
	applied, err := e.applyResolutionErr(ctx, sig)
	if err != nil {
		telemetry.Error("run.resolve_failed", map[string]any{
			"token": sig.Token,
			"error": err.Error(),
		})
		return false
	}
	return applied
}

func (e *Engine) applyResolutionErr(ctx context.Context, sig completion.Signal) (bool, error) {
	state := StateFailed
	var items []grocery.Item
	code := sig.ErrorCode
	message := sig.ErrorMessage

	if sig.Outcome == completion.OutcomeSuccess {
		if len(sig.Items) > 0 {
			state = StateSucceeded
			items = sig.Items
			code = ""
			message = ""
		} else {
			code = completion.CodeNoListFound
			message = "extraction succeeded with an empty item list"
		}
	}

	now := time.Now().UTC()
	run, applied, err := e.repo.ResolveByToken(ctx, sig.Token, state, items, code, message, now)
	if err != nil {
		return false, err
	}
	if !applied {
		metrics.IncSignalsDuplicate()
		telemetry.Warn("run.resolution_dropped", map[string]any{
			"token":   sig.Token,
			"outcome": string(sig.Outcome),
		})
		return false, nil
	}

	// Another process may still hold a timer for this token.
	e.channel.Cancel(sig.Token)

	metrics.ObserveRunDurationMs(float64(now.Sub(run.CreatedAt).Milliseconds()))
	switch {
	case state == StateSucceeded:
		metrics.IncRunsSucceeded()
	case code == completion.CodeTimeout:
		metrics.IncRunsTimedOut()
		metrics.IncRunsFailed()
	default:
		metrics.IncRunsFailed()
	}
	telemetry.Info("run.finalized", map[string]any{
		"run_id":     run.ID,
		"state":      string(state),
		"error_code": code,
		"items":      len(items),
	})
	return true, nil
}

func (e *Engine) transition(ctx context.Context, run Run, next State) (Run, error) {
	run.State = next
	run.TransitionedAt = time.Now().UTC()
	if err := e.repo.Update(ctx, run); err != nil {
		telemetry.Error("run.persist_failed", map[string]any{
			"run_id": run.ID,
			"state":  string(next),
			"error":  err.Error(),
		})
		return run, fmt.Errorf("persist %s: %w", next, err)
	}
	return run, nil
}

func (e *Engine) fail(ctx context.Context, run Run, code, message string) {
	run.State = StateFailed
	run.ErrorCode = code
	run.ErrorMessage = message
	run.TransitionedAt = time.Now().UTC()
	if err := e.repo.Update(ctx, run); err != nil {
		telemetry.Error("run.persist_failed", map[string]any{
			"run_id": run.ID,
			"state":  string(StateFailed),
			"error":  err.Error(),
		})
	}
	metrics.IncRunsFailed()
	metrics.ObserveRunDurationMs(float64(time.Since(run.CreatedAt).Milliseconds()))
	telemetry.Info("run.finalized", map[string]any{
		"run_id":     run.ID,
		"state":      string(StateFailed),
		"error_code": code,
	})
}

func validateInput(input Input) error {
	if strings.TrimSpace(input.Bucket) == "" || strings.TrimSpace(input.Key) == "" {
		return fmt.Errorf("input requires bucket and key")
	}
	if _, ok := SupportedKinds[strings.ToLower(input.FileKind)]; !ok {
		return fmt.Errorf("unsupported file kind: %q", input.FileKind)
	}
	return nil
}

func isOCRTerminal(err error) bool {
	return errors.Is(err, ocr.ErrUnsupportedKind)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
