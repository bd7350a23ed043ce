// Package queue implements the long-poll SQS consumer loop shared by the
// pipeline daemons.
//
// Delivery is at-least-once with no ordering guarantee, so handlers must be
// idempotent. The consumer makes the queue's implicit retry explicit: a
// message redelivered more than MaxReceives times is forwarded to the
// dead-letter queue instead of looping forever.
package queue

import (
	"context"
	"errors"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrDrop signals that a message is unprocessable and must not be
// redelivered. The consumer deletes it, forwarding to the dead-letter queue
// when one is configured. Wrap or return it for data errors; plain errors
// leave the message for redelivery.
var ErrDrop = errors.New("drop message")

// Message is one received queue message.
type Message struct {
	// MessageID is the queue's message identifier, for logging only.
	MessageID string

	// Body is the raw message body.
	Body []byte

	// ReceiveCount is how many times the queue has delivered this message,
	// including this delivery.
	ReceiveCount int

	receiptHandle string
}

// Handler processes one message. Returning nil acknowledges (deletes) the
// message; returning an error leaves it for redelivery unless the error is
// (or wraps) ErrDrop.
type Handler func(ctx context.Context, m Message) error

// API is the subset of the SQS client the consumer uses.
type API interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Config configures a Consumer.
type Config struct {
	// QueueURL is the queue to poll (required).
	QueueURL string

	// DeadLetterURL receives poison messages. Empty disables forwarding;
	// poison messages are then deleted with only a log line.
	DeadLetterURL string

	// MaxMessages per receive. Default 10 (the SQS ceiling).
	MaxMessages int

	// WaitSeconds is the long-poll wait. Default 20.
	WaitSeconds int

	// MaxReceives bounds redelivery before a message is treated as poison.
	// Default 5.
	MaxReceives int

	// RateLimit caps receive calls per second. Zero means unlimited.
	RateLimit float64
}

func (c *Config) applyDefaults() {
	if c.MaxMessages <= 0 || c.MaxMessages > 10 {
		c.MaxMessages = 10
	}
	if c.WaitSeconds <= 0 {
		c.WaitSeconds = 20
	}
	if c.MaxReceives <= 0 {
		c.MaxReceives = 5
	}
}

// Consumer polls one queue and dispatches messages to a handler.
type Consumer struct {
	client  API
	cfg     Config
	logger  *zap.Logger
	limiter *rate.Limiter
}

// NewConsumer creates a consumer. The logger is required; one bad message
// must surface in logs rather than stopping the loop.
func NewConsumer(client API, cfg Config, logger *zap.Logger) *Consumer {
	cfg.applyDefaults()
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return &Consumer{client: client, cfg: cfg, logger: logger, limiter: limiter}
}

// Run polls until ctx is canceled. Handler errors and receive errors are
// logged and never escape the loop.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		msgs, err := c.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("receive failed", zap.String("queue", c.cfg.QueueURL), zap.Error(err))
			continue
		}

		for _, m := range msgs {
			c.dispatch(ctx, handler, m)
		}
	}
}

// Receive performs a single long-poll receive.
func (c *Consumer) Receive(ctx context.Context) ([]Message, error) {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.cfg.QueueURL),
		MaxNumberOfMessages: int32(c.cfg.MaxMessages),
		WaitTimeSeconds:     int32(c.cfg.WaitSeconds),
		MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{
			sqstypes.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, err
	}

	msgs := make([]Message, 0, len(out.Messages))
	for _, raw := range out.Messages {
		m := Message{
			MessageID:     aws.ToString(raw.MessageId),
			Body:          []byte(aws.ToString(raw.Body)),
			receiptHandle: aws.ToString(raw.ReceiptHandle),
			ReceiveCount:  1,
		}
		if v, ok := raw.Attributes[string(sqstypes.MessageSystemAttributeNameApproximateReceiveCount)]; ok {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				m.ReceiveCount = n
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Delete acknowledges m, removing it from the queue.
func (c *Consumer) Delete(ctx context.Context, m Message) error {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.cfg.QueueURL),
		ReceiptHandle: aws.String(m.receiptHandle),
	})
	return err
}

func (c *Consumer) dispatch(ctx context.Context, handler Handler, m Message) {
	if m.ReceiveCount > c.cfg.MaxReceives {
		c.logger.Warn("redelivery bound exceeded, dead-lettering",
			zap.String("message_id", m.MessageID),
			zap.Int("receive_count", m.ReceiveCount))
		c.deadLetter(ctx, m)
		return
	}

	err := handler(ctx, m)
	switch {
	case err == nil:
		if derr := c.Delete(ctx, m); derr != nil {
			// The handler's side effects are idempotent; redelivery is safe.
			c.logger.Warn("delete after handling failed",
				zap.String("message_id", m.MessageID), zap.Error(derr))
		}
	case errors.Is(err, ErrDrop):
		c.logger.Error("unprocessable message dropped",
			zap.String("message_id", m.MessageID), zap.Error(err))
		c.deadLetter(ctx, m)
	default:
		c.logger.Error("handling failed, leaving for redelivery",
			zap.String("message_id", m.MessageID),
			zap.Int("receive_count", m.ReceiveCount),
			zap.Error(err))
	}
}

// deadLetter forwards m to the dead-letter queue (if configured) and deletes
// it from the source queue.
func (c *Consumer) deadLetter(ctx context.Context, m Message) {
	if c.cfg.DeadLetterURL != "" {
		_, err := c.client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(c.cfg.DeadLetterURL),
			MessageBody: aws.String(string(m.Body)),
		})
		if err != nil {
			c.logger.Error("dead-letter forward failed, leaving message",
				zap.String("message_id", m.MessageID), zap.Error(err))
			return
		}
	}
	if err := c.Delete(ctx, m); err != nil {
		c.logger.Warn("delete after dead-letter failed",
			zap.String("message_id", m.MessageID), zap.Error(err))
	}
}
