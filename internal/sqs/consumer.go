package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/fixzone/notifier/internal/metrics"
)

type Config struct {
	Region   string
	QueueURL string
	Endpoint string // LocalStack, optional

	MaxMessages       int32
	WaitTimeSeconds   int32
	VisibilityTimeout int32
	ErrorBackoff      time.Duration
}

func (c *Config) defaults() {
	if c.MaxMessages <= 0 || c.MaxMessages > 10 {
		c.MaxMessages = 10
	}
	if c.WaitTimeSeconds <= 0 {
		c.WaitTimeSeconds = 20
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = 120
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 5 * time.Second
	}
}

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

func newClient(ctx context.Context, cfg Config) (*sqs.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// Consumer long-polls the events queue and feeds each event to the hooks.
// Messages are deleted once handled; hooks never fail, so only malformed
// messages are dropped without a hook call.
type Consumer struct {
	client sqsAPI
	hooks  Hooks
	config Config
	logger *zap.Logger
}

func NewConsumer(ctx context.Context, cfg Config, hooks Hooks, logger *zap.Logger) (*Consumer, error) {
	cfg.defaults()
	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("sqs consumer initialized", zap.String("queue_url", cfg.QueueURL))
	return &Consumer{client: client, hooks: hooks, config: cfg, logger: logger}, nil
}

// Run polls until ctx is cancelled. Receive errors back off and retry.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			c.logger.Info("sqs consumer stopping")
			return nil
		}

		if _, err := c.Poll(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error("sqs poll failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(c.config.ErrorBackoff):
			}
		}
	}
}

// Poll receives one batch and handles it. It returns the number of events delivered.
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.config.QueueURL),
		MaxNumberOfMessages: c.config.MaxMessages,
		WaitTimeSeconds:     c.config.WaitTimeSeconds,
		VisibilityTimeout:   c.config.VisibilityTimeout,
	})
	if err != nil {
		return 0, fmt.Errorf("sqs receive failed: %w", err)
	}

	metrics.SetSQSMessagesInFlight(len(out.Messages))
	defer metrics.SetSQSMessagesInFlight(0)

	delivered := 0
	for _, m := range out.Messages {
		if c.handle(ctx, m) {
			delivered++
		}
		if err := c.delete(ctx, m); err != nil {
			c.logger.Warn("failed to delete message, it will be redelivered",
				zap.String("message_id", aws.ToString(m.MessageId)),
				zap.Error(err),
			)
		}
	}
	return delivered, nil
}

func (c *Consumer) handle(ctx context.Context, m types.Message) bool {
	var e Event
	if err := json.Unmarshal([]byte(aws.ToString(m.Body)), &e); err != nil {
		metrics.RecordEventConsumed("malformed", "dropped")
		c.logger.Error("dropping malformed event",
			zap.String("message_id", aws.ToString(m.MessageId)),
			zap.Error(err),
		)
		return false
	}
	if err := e.Validate(); err != nil {
		metrics.RecordEventConsumed(e.Type, "dropped")
		c.logger.Error("dropping invalid event",
			zap.String("message_id", aws.ToString(m.MessageId)),
			zap.Error(err),
		)
		return false
	}

	Deliver(ctx, c.hooks, e)
	metrics.RecordEventConsumed(e.Type, "delivered")
	return true
}

func (c *Consumer) delete(ctx context.Context, m types.Message) error {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.config.QueueURL),
		ReceiptHandle: m.ReceiptHandle,
	})
	if err != nil {
		return fmt.Errorf("sqs delete failed: %w", err)
	}
	return nil
}
