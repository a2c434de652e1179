package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

// Producer enqueues entity events. The automation endpoints use it so the
// HTTP caller gets its 202 before any message is sent.
type Producer struct {
	client   sqsAPI
	queueURL string
	logger   *zap.Logger
	now      func() time.Time
}

func NewProducer(ctx context.Context, cfg Config, logger *zap.Logger) (*Producer, error) {
	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("sqs producer initialized", zap.String("queue_url", cfg.QueueURL))
	return &Producer{client: client, queueURL: cfg.QueueURL, logger: logger, now: time.Now}, nil
}

// Enqueue validates e, stamps OccurredAt when unset and sends it.
func (p *Producer) Enqueue(ctx context.Context, e Event) (string, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = p.now().UTC()
	}

	body, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event: %w", err)
	}

	out, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		p.logger.Error("failed to send event to sqs",
			zap.String("type", e.Type),
			zap.String("entity_type", e.EntityType),
			zap.Int64("entity_id", e.EntityID),
			zap.Error(err),
		)
		return "", fmt.Errorf("sqs send failed: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}
