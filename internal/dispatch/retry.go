package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fixzone/notifier/internal/apperr"
	"github.com/fixzone/notifier/internal/channel"
	"github.com/fixzone/notifier/internal/db"
	"github.com/fixzone/notifier/internal/metrics"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	recordTimeout   = 5 * time.Second
)

// RetryFailed re-sends a failed entry with its original channel, recipient,
// message and subject, and records the outcome on the same row.
func (e *Engine) RetryFailed(ctx context.Context, id uuid.UUID) (*db.MessageLog, error) {
	const op = "dispatch.RetryFailed"

	entry, err := e.logs.GetLog(ctx, id)
	if err != nil {
		return nil, storeError(op, err)
	}

	// A retry whose outcome write was lost stays pending. Once it has gone
	// stale it may be re-sent; its attempt was already counted.
	staleBefore := e.now().Add(-e.staleRetryAfter())
	interrupted := entry.RetryInterrupted(staleBefore)

	if entry.Status != db.StatusFailed && !interrupted {
		return nil, apperr.Conflict(op, "only failed messages can be retried (status %s)", entry.Status)
	}
	if !interrupted {
		if entry.RetryCount >= e.config.MaxRetries {
			return nil, apperr.Conflict(op, "retry limit of %d reached", e.config.MaxRetries)
		}
		if next := e.nextRetryAt(entry); e.now().Before(next) {
			return nil, apperr.Conflict(op, "retry allowed after %s", next.Format(time.RFC3339))
		}
	}

	entry, err = e.logs.MarkForRetry(ctx, id, staleBefore)
	if err != nil {
		return nil, storeError(op, err)
	}

	msg := &channel.Message{
		Channel:   entry.Channel,
		Recipient: entry.Recipient,
		Body:      entry.Message,
		Settings:  e.settings.Load(ctx),
	}
	if entry.Subject != nil {
		msg.Subject = *entry.Subject
	}

	sendCtx, cancel := context.WithTimeout(ctx, e.config.ChannelTimeout)
	res, sendErr := e.sender.Send(sendCtx, msg)
	cancel()

	md := res.Metadata()
	md["retriedAt"] = e.now().UTC().Format(time.RFC3339)
	upd := db.StatusUpdate{Status: db.StatusSent, Metadata: encodeMetadata(md)}
	if sendErr != nil {
		errMsg := sendErr.Error()
		upd.Status = db.StatusFailed
		upd.ErrorMessage = &errMsg
	}
	metrics.RecordMessage(entry.Channel, upd.Status)

	// The send happened, so record it even if the caller has gone away.
	recordCtx, cancelRecord := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	updated, err := e.logs.UpdateLogStatus(recordCtx, id, upd)
	cancelRecord()
	if err != nil {
		e.logger.Error("failed to record retry outcome, entry stays pending until it can be retried again",
			zap.String("log_id", id.String()),
			zap.Duration("retryable_after", e.staleRetryAfter()),
			zap.Error(err),
		)
		return nil, apperr.Wrap(apperr.KindPersistence, op, err)
	}

	e.logger.Info("message retried",
		zap.String("log_id", id.String()),
		zap.String("status", updated.Status),
		zap.Int("retry_count", updated.RetryCount),
	)

	method := ""
	if res != nil {
		method = res.Method
	}
	e.publish(ctx, updated, method)
	return updated, nil
}

// staleRetryAfter is how long a pending retry may sit before it counts as interrupted.
func (e *Engine) staleRetryAfter() time.Duration {
	return 2*e.config.ChannelTimeout + time.Minute
}

// nextRetryAt doubles the backoff for each retry already made.
func (e *Engine) nextRetryAt(entry *db.MessageLog) time.Time {
	wait := e.config.RetryBackoff << uint(entry.RetryCount)
	return entry.UpdatedAt.Add(wait)
}

// UpdateStatus applies a delivery or read receipt.
func (e *Engine) UpdateStatus(ctx context.Context, id uuid.UUID, status string, errMsg *string) (*db.MessageLog, error) {
	const op = "dispatch.UpdateStatus"

	switch status {
	case db.StatusSent, db.StatusFailed, db.StatusDelivered, db.StatusRead:
	default:
		return nil, apperr.Validation(op, "unsupported status %q", status)
	}

	entry, err := e.logs.UpdateLogStatus(ctx, id, db.StatusUpdate{Status: status, ErrorMessage: errMsg})
	if err != nil {
		return nil, storeError(op, err)
	}
	return entry, nil
}

func (e *Engine) GetLog(ctx context.Context, id uuid.UUID) (*db.MessageLog, error) {
	entry, err := e.logs.GetLog(ctx, id)
	if err != nil {
		return nil, storeError("dispatch.GetLog", err)
	}
	return entry, nil
}

// ListLogs clamps the page size to 1..100, defaulting to 20.
func (e *Engine) ListLogs(ctx context.Context, filter db.LogFilter, limit, offset int) (*db.LogPage, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	page, err := e.logs.ListLogs(ctx, filter, limit, offset)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "dispatch.ListLogs", err)
	}
	return page, nil
}

func (e *Engine) GetStats(ctx context.Context, filter db.LogFilter) (*db.Stats, error) {
	stats, err := e.logs.Stats(ctx, filter)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "dispatch.GetStats", err)
	}
	return stats, nil
}

func storeError(op string, err error) error {
	switch {
	case errors.Is(err, db.ErrNotFound):
		return apperr.NotFound(op, "message log not found")
	case errors.Is(err, db.ErrInvalidTransition):
		return &apperr.Error{Kind: apperr.KindConflict, Op: op, Err: err}
	default:
		return apperr.Wrap(apperr.KindPersistence, op, err)
	}
}
