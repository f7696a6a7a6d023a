package worker

import (
	"context"
	"fmt"

	"grocery-backend/internal/completion"
	"grocery-backend/internal/dispatch"
	"grocery-backend/internal/grocery"
	"grocery-backend/internal/llm"
	"grocery-backend/internal/shared/metrics"
	"grocery-backend/internal/shared/telemetry"
)

// Resolver delivers extraction outcomes back to the workflow engine.
// The boolean result reports whether the signal reached durable state;
// an error means the delivery must be retried.
type Resolver interface {
	SendSuccess(ctx context.Context, token string, items []grocery.Item) (bool, error)
	SendFailure(ctx context.Context, token, code, message string) (bool, error)
}

// Processor turns a dispatched job into a completion signal.
type Processor struct {
	LLM      llm.Client
	Resolver Resolver
}

// ParseMessage decodes a raw queue body into a job, classifying failures so
// the poll loop can decide between retry and discard.
func ParseMessage(body string) (dispatch.Job, error) {
	if body == "" {
		return dispatch.Job{}, &EmptyBodyError{}
	}
	job, err := dispatch.DecodeJob([]byte(body))
	if err != nil {
		return dispatch.Job{}, &DecodeError{Err: err}
	}
	if job.Token == "" {
		return dispatch.Job{}, &MissingTokenError{JobID: job.JobID}
	}
	return job, nil
}

// Process runs extraction for one job and resolves its suspension. It returns
// nil only once the outcome has been handed off durably; the caller
// acknowledges the delivery on nil.
func (p *Processor) Process(ctx context.Context, job dispatch.Job) error {
	prompt := llm.BuildExtractionPrompt(job.Text)
	output, err := p.LLM.Infer(ctx, prompt)
	if err != nil {
		telemetry.Warn("worker.inference_failed", map[string]any{
			"job_id": job.JobID,
			"run_id": job.RunID,
			"error":  err.Error(),
		})
		return p.resolveFailure(ctx, job, completion.CodeInferenceError, fmt.Sprintf("model call failed: %v", err))
	}

	items := grocery.ParseItems(output, job.Text)
	if len(items) == 0 {
		return p.resolveFailure(ctx, job, completion.CodeNoListFound, "no grocery items found in document")
	}

	applied, err := p.Resolver.SendSuccess(ctx, job.Token, items)
	if err != nil {
		metrics.IncJobsFailed()
		return &ProcessError{JobID: job.JobID, Err: err}
	}
	p.logResolved(job, applied, "", len(items))
	metrics.IncJobsCompleted()
	return nil
}

func (p *Processor) resolveFailure(ctx context.Context, job dispatch.Job, code, message string) error {
	applied, err := p.Resolver.SendFailure(ctx, job.Token, code, message)
	if err != nil {
		metrics.IncJobsFailed()
		return &ProcessError{JobID: job.JobID, Err: err}
	}
	p.logResolved(job, applied, code, 0)
	metrics.IncJobsCompleted()
	return nil
}

func (p *Processor) logResolved(job dispatch.Job, applied bool, code string, items int) {
	telemetry.Info("worker.job_resolved", map[string]any{
		"job_id":     job.JobID,
		"run_id":     job.RunID,
		"applied":    applied,
		"error_code": code,
		"items":      items,
	})
}
