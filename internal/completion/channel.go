package completion

import (
	"sync"
	"time"

	"grocery-backend/internal/grocery"
	"grocery-backend/internal/shared/metrics"
	"grocery-backend/internal/shared/telemetry"
)

// Outcome tags a completion signal.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
)

// Error codes carried on failure signals.
const (
	CodeNoListFound    = "NO_LIST_FOUND"
	CodeInferenceError = "INFERENCE_ERROR"
	CodeTimeout        = "TIMEOUT"
)

// Signal is the one cross-process result of an extraction job. It is consumed
// exactly once by the suspended run matching its token.
type Signal struct {
	Token        string         `json:"token"`
	Outcome      Outcome        `json:"outcome"`
	Items        []grocery.Item `json:"items,omitempty"`
	ErrorCode    string         `json:"errorCode,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
}

// FinalizeFunc is invoked exactly once per registered token, with either the
// delivered signal or a synthesized timeout failure.
type FinalizeFunc func(sig Signal)

type pending struct {
	timer    *time.Timer
	finalize FinalizeFunc
}

// Channel maps completion tokens to suspended workflow steps. Each token
// admits exactly one resolution; later attempts are logged no-ops.
type Channel struct {
	mu      sync.Mutex
	waiting map[string]*pending
}

// NewChannel constructs an empty channel.
func NewChannel() *Channel {
	return &Channel{waiting: make(map[string]*pending)}
}

// Register records a suspension waiting on token. If no signal arrives within
// timeout, finalize is invoked with a FAILURE signal coded TIMEOUT. A timeout
// of zero disables the timer (callers own expiry, e.g. recovery paths).
func (c *Channel) Register(token string, timeout time.Duration, finalize FinalizeFunc) {
	p := &pending{finalize: finalize}
	if timeout > 0 {
		p.timer = time.AfterFunc(timeout, func() { c.expire(token) })
	}

	c.mu.Lock()
	c.waiting[token] = p
	c.mu.Unlock()
}

// Resolve delivers the signal to the suspension matching token. It reports
// whether the resolution was applied; unknown and already-resolved tokens
// return false.
func (c *Channel) Resolve(token string, sig Signal) bool {
	p := c.take(token)
	if p == nil {
		metrics.IncSignalsDuplicate()
		telemetry.Warn("completion.unknown_token", map[string]any{
			"token":   token,
			"outcome": string(sig.Outcome),
		})
		return false
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.finalize(sig)
	return true
}

// Cancel drops the suspension for token and disarms its timer without
// invoking finalize. Callers use it when the resolution is being applied
// through durable state instead of the finalize callback.
func (c *Channel) Cancel(token string) bool {
	p := c.take(token)
	if p == nil {
		return false
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	return true
}

// Waiting reports how many suspensions are currently registered.
func (c *Channel) Waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiting)
}

func (c *Channel) expire(token string) {
	c.Resolve(token, Signal{
		Token:        token,
		Outcome:      OutcomeFailure,
		ErrorCode:    CodeTimeout,
		ErrorMessage: "no completion signal received before the suspension deadline",
	})
}

// take removes and returns the pending entry for token. The check-and-delete
// under the mutex is what makes resolution exactly-once under concurrency.
func (c *Channel) take(token string) *pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.waiting[token]
	if !ok {
		return nil
	}
	delete(c.waiting, token)
	return p
}
