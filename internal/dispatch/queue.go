package dispatch

import "context"

// Delivery is one receipt of a job. Handle acknowledges this delivery only;
// ReceiveCount counts deliveries of the job including this one.
type Delivery struct {
	Job          Job
	Body         string
	Handle       string
	ReceiveCount int
}

// Enqueuer publishes extraction jobs for at-least-once delivery.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) error
}

// Consumer receives and acknowledges deliveries. Receive returns nil when no
// job is currently visible; implementations may block up to their poll window.
// An unacknowledged delivery becomes visible again after the visibility
// timeout, and a job received more than the configured maximum is moved to the
// dead-letter store instead of being redelivered.
type Consumer interface {
	Receive(ctx context.Context) (*Delivery, error)
	Acknowledge(ctx context.Context, d *Delivery) error
}

// Queue combines both ends for implementations that serve a single process.
type Queue interface {
	Enqueuer
	Consumer
}
