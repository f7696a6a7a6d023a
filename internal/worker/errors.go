package worker

import "fmt"

// EmptyBodyError marks a delivery with no payload. Not retryable.
type EmptyBodyError struct{}

func (e *EmptyBodyError) Error() string { return "empty message body" }

// DecodeError marks a payload that is not a valid job. Not retryable.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode job: %v", e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

// MissingTokenError marks a job with no completion token. Not retryable,
// since there is no suspension to resolve.
type MissingTokenError struct {
	JobID string
}

func (e *MissingTokenError) Error() string {
	return fmt.Sprintf("job %s has no completion token", e.JobID)
}

// ProcessError marks a job whose outcome could not be handed off durably.
// The delivery stays on the queue for redelivery.
type ProcessError struct {
	JobID string
	Err   error
}

func (e *ProcessError) Error() string { return fmt.Sprintf("process job %s: %v", e.JobID, e.Err) }
func (e *ProcessError) Unwrap() error { return e.Err }
