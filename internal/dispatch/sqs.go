package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"grocery-backend/internal/shared/metrics"
	"grocery-backend/internal/shared/telemetry"
)

const (
	sqsWaitSeconds = 20
	sqsBatchSize   = 10
)

// sqsAPI is the narrow surface of the SQS client this package uses.
type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue implements Queue on AWS SQS. Delivery attempts are read from the
// ApproximateReceiveCount attribute; a message past the delivery budget is
// copied to the dead-letter store and deleted instead of being handed out.
type SQSQueue struct {
	client     sqsAPI
	queueURL   string
	visibility time.Duration
	maxRecv    int
	retention  time.Duration
	deadLetter DeadLetterStore
	buffered   []sqstypes.Message
}

// SQSQueueConfig carries connection and delivery policy settings.
type SQSQueueConfig struct {
	QueueURL            string
	Region              string
	Visibility          time.Duration
	MaxReceives         int
	DeadLetterRetention time.Duration
}

// NewSQSQueue constructs an SQS-backed queue.
func NewSQSQueue(ctx context.Context, cfg SQSQueueConfig, store DeadLetterStore) (*SQSQueue, error) {
	if cfg.QueueURL == "" {
		return nil, fmt.Errorf("SQS_QUEUE_URL is required")
	}
	if cfg.Visibility <= 0 {
		cfg.Visibility = 60 * time.Second
	}
	if cfg.MaxReceives <= 0 {
		cfg.MaxReceives = 3
	}
	if cfg.DeadLetterRetention <= 0 {
		cfg.DeadLetterRetention = 14 * 24 * time.Hour
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &SQSQueue{
		client:     sqs.NewFromConfig(awsCfg),
		queueURL:   cfg.QueueURL,
		visibility: cfg.Visibility,
		maxRecv:    cfg.MaxReceives,
		retention:  cfg.DeadLetterRetention,
		deadLetter: store,
	}, nil
}

// Enqueue delivers the job to the configured SQS queue.
func (q *SQSQueue) Enqueue(ctx context.Context, job Job) error {
	payload, err := EncodeJob(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(payload)),
	})
	if err != nil {
		return fmt.Errorf("sqs send message: %w", err)
	}
	metrics.IncJobsEnqueued()
	return nil
}

// Receive long-polls SQS for the next delivery. Batches are buffered so each
// call hands out a single job.
func (q *SQSQueue) Receive(ctx context.Context) (*Delivery, error) {
	for {
		if len(q.buffered) == 0 {
			resp, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
				QueueUrl:            aws.String(q.queueURL),
				MaxNumberOfMessages: sqsBatchSize,
				WaitTimeSeconds:     sqsWaitSeconds,
				VisibilityTimeout:   int32(q.visibility / time.Second),
				AttributeNames:      []sqstypes.QueueAttributeName{sqstypes.QueueAttributeName("ApproximateReceiveCount")},
			})
			if err != nil {
				return nil, fmt.Errorf("sqs receive message: %w", err)
			}
			if len(resp.Messages) == 0 {
				return nil, nil
			}
			q.buffered = resp.Messages
		}

		msg := q.buffered[0]
		q.buffered = q.buffered[1:]

		body := aws.ToString(msg.Body)
		job, err := DecodeJob([]byte(body))
		if err != nil {
			// Poison payload: not even a job, delete outright.
			telemetry.Error("dispatch.sqs.decode_failed", map[string]any{
				"sqs_message_id": aws.ToString(msg.MessageId),
				"error":          err.Error(),
			})
			q.delete(ctx, msg)
			continue
		}

		count := receiveCount(msg)
		if count > q.maxRecv {
			q.deadLetterMessage(ctx, job, body, count, msg)
			continue
		}

		metrics.IncJobsReceived()
		return &Delivery{
			Job:          job,
			Body:         body,
			Handle:       aws.ToString(msg.ReceiptHandle),
			ReceiveCount: count,
		}, nil
	}
}

// Acknowledge deletes the delivered message.
func (q *SQSQueue) Acknowledge(ctx context.Context, d *Delivery) error {
	if d == nil || d.Handle == "" {
		return nil
	}
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(d.Handle),
	})
	if err != nil {
		return fmt.Errorf("sqs delete message: %w", err)
	}
	return nil
}

func (q *SQSQueue) deadLetterMessage(ctx context.Context, job Job, body string, attempts int, msg sqstypes.Message) {
	metrics.IncJobsDeadLettered()
	telemetry.Error("dispatch.dead_lettered", map[string]any{
		"job_id":   job.JobID,
		"run_id":   job.RunID,
		"attempts": attempts,
	})
	if q.deadLetter != nil {
		now := time.Now().UTC()
		dl := DeadLetter{
			JobID:        job.JobID,
			RunID:        job.RunID,
			Token:        job.Token,
			Body:         body,
			Reason:       "delivery budget exhausted without acknowledgment",
			Attempts:     attempts,
			EnqueuedAt:   job.EnqueuedAt,
			DeadLetterAt: now,
			ExpiresAt:    now.Add(q.retention),
		}
		if err := q.deadLetter.Put(ctx, dl); err != nil {
			telemetry.Error("dispatch.dead_letter_store", map[string]any{
				"job_id": job.JobID,
				"error":  err.Error(),
			})
		}
	}
	q.delete(ctx, msg)
}

func (q *SQSQueue) delete(ctx context.Context, msg sqstypes.Message) {
	if aws.ToString(msg.ReceiptHandle) == "" {
		return
	}
	if _, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	}); err != nil {
		telemetry.Error("dispatch.sqs.delete_failed", map[string]any{
			"sqs_message_id": aws.ToString(msg.MessageId),
			"error":          err.Error(),
		})
	}
}

func receiveCount(msg sqstypes.Message) int {
	if msg.Attributes == nil {
		return 0
	}
	raw := msg.Attributes["ApproximateReceiveCount"]
	if raw == "" {
		return 0
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return parsed
}

var _ Queue = (*SQSQueue)(nil)
