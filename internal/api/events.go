package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fixzone/notifier/internal/sqs"
)

// EventSink accepts an ERP entity event for the automation hooks.
type EventSink interface {
	Submit(ctx context.Context, e sqs.Event) error
}

// QueueSink forwards events to the SQS events queue, where the consumer
// delivers them to the hooks.
type QueueSink struct {
	producer *sqs.Producer
	logger   *zap.Logger
}

func NewQueueSink(producer *sqs.Producer, logger *zap.Logger) *QueueSink {
	return &QueueSink{producer: producer, logger: logger}
}

func (s *QueueSink) Submit(ctx context.Context, e sqs.Event) error {
	msgID, err := s.producer.Enqueue(ctx, e)
	if err != nil {
		return err
	}
	s.logger.Debug("entity event enqueued",
		zap.String("type", e.Type),
		zap.String("sqs_message_id", msgID),
	)
	return nil
}

// InlineSink runs the hooks in a background goroutine of this process. It is
// used when no events queue is configured.
type InlineSink struct {
	hooks   sqs.Hooks
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewInlineSink(hooks sqs.Hooks, timeout time.Duration) *InlineSink {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &InlineSink{hooks: hooks, timeout: timeout}
}

func (s *InlineSink) Submit(ctx context.Context, e sqs.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}

	// The request context ends with the response.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		sqs.Deliver(ctx, s.hooks, e)
	}()
	return nil
}

// Wait blocks until every submitted event has been handled.
func (s *InlineSink) Wait() {
	s.wg.Wait()
}
