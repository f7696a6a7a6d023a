package runs

import (
	"time"

	"grocery-backend/internal/grocery"
)

// State is a workflow run's position in its lifecycle.
type State string

const (
	StatePendingValidation State = "PENDING_VALIDATION"
	StateOCRRunning        State = "OCR_RUNNING"
	StateDispatched        State = "DISPATCHED_AWAITING_EXTRACTION"
	StateSucceeded         State = "SUCCEEDED"
	StateFailed            State = "FAILED"
)

// Terminal error codes minted by the engine itself; worker-originated codes
// arrive on completion signals.
const (
	CodeInvalidInput   = "INVALID_INPUT"
	CodeOCRFailed      = "OCR_FAILED"
	CodeEmptyDocument  = "EMPTY_DOCUMENT"
	CodeDispatchFailed = "DISPATCH_FAILED"
)

// Input is the storage reference a run operates on.
type Input struct {
	Bucket   string `json:"bucket"`
	Key      string `json:"key"`
	FileKind string `json:"fileKind"`
}

// Run is one execution of the document-to-item-list workflow. It is mutated
// only through engine transitions and is never externally visible in a
// partial state.
type Run struct {
	ID              string         `json:"id"`
	State           State          `json:"state"`
	Input           Input          `json:"input"`
	OCRText         string         `json:"-"`
	CompletionToken string         `json:"-"`
	Items           []grocery.Item `json:"items,omitempty"`
	ErrorCode       string         `json:"errorCode,omitempty"`
	ErrorMessage    string         `json:"errorMessage,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	TransitionedAt  time.Time      `json:"transitionedAt"`
}

// Terminal reports whether the run reached a final state.
func (r Run) Terminal() bool {
	return r.State == StateSucceeded || r.State == StateFailed
}
