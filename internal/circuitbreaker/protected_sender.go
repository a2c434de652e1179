package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fixzone/notifier/internal/apperr"
	"github.com/fixzone/notifier/internal/channel"
)

// ProtectedSender guards a channel sender with a breaker. Validation errors
// are the caller's fault and do not count against the provider.
type ProtectedSender struct {
	sender  channel.Sender
	breaker *CircuitBreaker
	logger  *zap.Logger
}

func NewProtectedSender(sender channel.Sender, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedSender {
	return &ProtectedSender{
		sender:  sender,
		breaker: breaker,
		logger:  logger,
	}
}

func (p *ProtectedSender) Send(ctx context.Context, msg *channel.Message) (*channel.Result, error) {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected message",
			zap.String("breaker", p.breaker.config.Name),
			zap.String("channel", msg.Channel),
			zap.String("state", p.breaker.GetState().String()),
		)
		return nil, apperr.Wrap(apperr.KindTransport, p.breaker.config.Name,
			fmt.Errorf("%w: provider unavailable", ErrCircuitOpen))
	}

	res, err := p.sender.Send(ctx, msg)
	if err != nil {
		// Bad input and disabled or unconfigured channels say nothing about provider health.
		if kind := apperr.KindOf(err); kind == apperr.KindValidation || kind == apperr.KindConfiguration {
			p.breaker.RecordSuccess()
			return nil, err
		}
		p.breaker.RecordFailure()
		p.logger.Debug("circuit breaker recorded failure",
			zap.String("breaker", p.breaker.config.Name),
			zap.Error(err),
		)
		return nil, err
	}

	p.breaker.RecordSuccess()
	return res, nil
}

func (p *ProtectedSender) SupportsChannel(channel string) bool {
	return p.sender.SupportsChannel(channel)
}

func (p *ProtectedSender) Breaker() *CircuitBreaker {
	return p.breaker
}
