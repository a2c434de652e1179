package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a status change breaks the log lifecycle.
	ErrInvalidTransition = errors.New("invalid status transition")
)

const logColumns = `
	id, entity_type, entity_id, customer_id, channel, recipient, message,
	template_name, subject, status, sent_by, sent_at, delivered_at, read_at,
	error_message, retry_count, metadata, created_at, updated_at`

// Repository is the delivery log store over messaging_logs.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new delivery log repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// CreateLog inserts one send attempt.
func (r *Repository) CreateLog(ctx context.Context, entry *MessageLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Metadata == nil {
		entry.Metadata = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO messaging_logs (
			id, entity_type, entity_id, customer_id, channel, recipient, message,
			template_name, subject, status, sent_by, sent_at, error_message,
			retry_count, metadata
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		entry.ID,
		entry.EntityType,
		entry.EntityID,
		entry.CustomerID,
		entry.Channel,
		entry.Recipient,
		entry.Message,
		entry.TemplateName,
		entry.Subject,
		entry.Status,
		entry.SentBy,
		entry.SentAt,
		entry.ErrorMessage,
		entry.RetryCount,
		entry.Metadata,
	).Scan(&entry.CreatedAt, &entry.UpdatedAt)

	if err != nil {
		r.logger.Error("failed to create message log",
			zap.Error(err),
			zap.String("log_id", entry.ID.String()),
		)
		return fmt.Errorf("insert message log: %w", err)
	}

	r.logger.Debug("message log created",
		zap.String("log_id", entry.ID.String()),
		zap.String("entity_type", entry.EntityType),
		zap.Int64("entity_id", entry.EntityID),
		zap.String("channel", entry.Channel),
		zap.String("status", entry.Status),
	)

	return nil
}

// GetLog retrieves a log entry by ID
func (r *Repository) GetLog(ctx context.Context, id uuid.UUID) (*MessageLog, error) {
	query := `SELECT ` + logColumns + ` FROM messaging_logs WHERE id = $1`

	entry, err := scanLog(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("message log %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query message log: %w", err)
	}
	return entry, nil
}

// StatusUpdate is a partial update of a log entry's lifecycle fields.
type StatusUpdate struct {
	Status       string
	ErrorMessage *string
	Metadata     json.RawMessage // merged into the stored metadata when set
}

// UpdateLogStatus applies a lifecycle change inside a row lock so concurrent
// receipts for the same entry cannot interleave.
func (r *Repository) UpdateLogStatus(ctx context.Context, id uuid.UUID, upd StatusUpdate) (*MessageLog, error) {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var current string
	err = tx.QueryRow(ctx, `SELECT status FROM messaging_logs WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("message log %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lock message log: %w", err)
	}

	if !CanTransition(current, upd.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, upd.Status)
	}

	metadata := upd.Metadata
	if metadata == nil {
		metadata = json.RawMessage(`{}`)
	}

	query := `
		UPDATE messaging_logs SET
			status = $1::text,
			error_message = CASE WHEN $1::text = 'failed' THEN $2::text ELSE NULL END,
			sent_at = CASE WHEN $1::text = 'sent' THEN NOW() ELSE sent_at END,
			delivered_at = CASE
				WHEN $1::text IN ('delivered', 'read') AND delivered_at IS NULL THEN NOW()
				ELSE delivered_at END,
			read_at = CASE WHEN $1::text = 'read' THEN NOW() ELSE read_at END,
			metadata = metadata || $3::jsonb,
			updated_at = NOW()
		WHERE id = $4
		RETURNING ` + logColumns

	entry, err := scanLog(tx.QueryRow(ctx, query, upd.Status, upd.ErrorMessage, metadata, id))
	if err != nil {
		return nil, fmt.Errorf("update message log: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return entry, nil
}

// MarkForRetry moves a failed entry back to pending and bumps retry_count.
// An interrupted retry (see MessageLog.RetryInterrupted) is re-claimed without
// counting a second attempt.
func (r *Repository) MarkForRetry(ctx context.Context, id uuid.UUID, staleBefore time.Time) (*MessageLog, error) {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var current MessageLog
	err = tx.QueryRow(ctx,
		`SELECT status, retry_count, updated_at FROM messaging_logs WHERE id = $1 FOR UPDATE`, id,
	).Scan(&current.Status, &current.RetryCount, &current.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("message log %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lock message log: %w", err)
	}

	bump := 1
	switch {
	case current.Status == StatusFailed:
	case current.RetryInterrupted(staleBefore):
		bump = 0
	default:
		return nil, fmt.Errorf("%w: only failed entries can be retried (status %s)", ErrInvalidTransition, current.Status)
	}

	query := `
		UPDATE messaging_logs
		SET status = 'pending', retry_count = retry_count + $2,
			error_message = NULL, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + logColumns

	entry, err := scanLog(tx.QueryRow(ctx, query, id, bump))
	if err != nil {
		return nil, fmt.Errorf("mark retry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	r.logger.Info("message log marked for retry",
		zap.String("log_id", id.String()),
		zap.Int("retry_count", entry.RetryCount),
	)

	return entry, nil
}

// HasRecentLog reports whether the same reminder was logged for the entity since the given time.
func (r *Repository) HasRecentLog(ctx context.Context, entityType string, entityID int64, templateName string, since time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM messaging_logs
			WHERE entity_type = $1 AND entity_id = $2
				AND template_name = $3 AND created_at >= $4
		)
	`

	var exists bool
	if err := r.db.Pool().QueryRow(ctx, query, entityType, entityID, templateName, since).Scan(&exists); err != nil {
		return false, fmt.Errorf("query recent log: %w", err)
	}
	return exists, nil
}

// ListLogs returns one page of log entries, newest first.
func (r *Repository) ListLogs(ctx context.Context, filter LogFilter, limit, offset int) (*LogPage, error) {
	where, args := filter.where()

	var total int
	countQuery := `SELECT COUNT(*) FROM messaging_logs` + where
	if err := r.db.Pool().QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count message logs: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM messaging_logs%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		logColumns, where, len(args)+1, len(args)+2)

	rows, err := r.db.Pool().Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("query message logs: %w", err)
	}
	defer rows.Close()

	logs := make([]*MessageLog, 0, limit)
	for rows.Next() {
		entry, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message log: %w", err)
		}
		logs = append(logs, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return &LogPage{
		Logs:    logs,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+len(logs) < total,
	}, nil
}

// where renders the filter as a WHERE clause with positional arguments.
func (f LogFilter) where() (string, []any) {
	var conds []string
	var args []any

	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.EntityType != "" {
		add("entity_type = $%d", f.EntityType)
	}
	if f.EntityID != nil {
		add("entity_id = $%d", *f.EntityID)
	}
	if f.CustomerID != nil {
		add("customer_id = $%d", *f.CustomerID)
	}
	if f.Channel != "" {
		add("channel = $%d", f.Channel)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Recipient != "" {
		add("recipient ILIKE $%d", "%"+f.Recipient+"%")
	}
	if f.DateFrom != nil {
		add("created_at >= $%d", *f.DateFrom)
	}
	if f.DateTo != nil {
		add("created_at <= $%d", *f.DateTo)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLog(row rowScanner) (*MessageLog, error) {
	var entry MessageLog
	err := row.Scan(
		&entry.ID,
		&entry.EntityType,
		&entry.EntityID,
		&entry.CustomerID,
		&entry.Channel,
		&entry.Recipient,
		&entry.Message,
		&entry.TemplateName,
		&entry.Subject,
		&entry.Status,
		&entry.SentBy,
		&entry.SentAt,
		&entry.DeliveredAt,
		&entry.ReadAt,
		&entry.ErrorMessage,
		&entry.RetryCount,
		&entry.Metadata,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}
