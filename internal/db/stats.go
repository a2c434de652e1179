package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Stats aggregates the log entries matching filter. Daily covers the last 30 days
// and Hourly the last 24 hours regardless of the date filter.
func (r *Repository) Stats(ctx context.Context, filter LogFilter) (*Stats, error) {
	where, args := filter.where()
	stats := &Stats{}

	summaryQuery := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'sent'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'delivered'),
			COUNT(*) FILTER (WHERE status = 'read'),
			COUNT(*) FILTER (WHERE status = 'pending')
		FROM messaging_logs` + where

	s := &stats.Summary
	if err := r.db.Pool().QueryRow(ctx, summaryQuery, args...).Scan(
		&s.Total, &s.Sent, &s.Failed, &s.Delivered, &s.Read, &s.Pending,
	); err != nil {
		return nil, fmt.Errorf("query stats summary: %w", err)
	}
	s.Rates()

	var err error
	if stats.ByChannel, err = r.channelStats(ctx, where, args); err != nil {
		return nil, err
	}
	if stats.ByEntity, err = r.entityStats(ctx, where, args); err != nil {
		return nil, err
	}

	since := time.Now().AddDate(0, 0, -30)
	if stats.Daily, err = r.dailyStats(ctx, since); err != nil {
		return nil, err
	}
	if stats.Hourly, err = r.hourlyStats(ctx, time.Now().Add(-24*time.Hour)); err != nil {
		return nil, err
	}
	if stats.FailureReasons, err = r.failureReasons(ctx, where, args); err != nil {
		return nil, err
	}

	return stats, nil
}

func (r *Repository) channelStats(ctx context.Context, where string, args []any) ([]ChannelStat, error) {
	query := `
		SELECT channel, COUNT(*),
			COUNT(*) FILTER (WHERE status IN ('sent', 'delivered', 'read')),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM messaging_logs` + where + `
		GROUP BY channel ORDER BY channel`

	return collect(ctx, r, query, args, func(rows pgx.Rows) (ChannelStat, error) {
		var c ChannelStat
		err := rows.Scan(&c.Channel, &c.Total, &c.Sent, &c.Failed)
		return c, err
	})
}

func (r *Repository) entityStats(ctx context.Context, where string, args []any) ([]EntityStat, error) {
	query := `
		SELECT entity_type, COUNT(*),
			COUNT(*) FILTER (WHERE status IN ('sent', 'delivered', 'read')),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM messaging_logs` + where + `
		GROUP BY entity_type ORDER BY entity_type`

	return collect(ctx, r, query, args, func(rows pgx.Rows) (EntityStat, error) {
		var e EntityStat
		err := rows.Scan(&e.EntityType, &e.Total, &e.Sent, &e.Failed)
		return e, err
	})
}

func (r *Repository) dailyStats(ctx context.Context, since time.Time) ([]DailyStat, error) {
	query := `
		SELECT to_char(date_trunc('day', created_at), 'YYYY-MM-DD'), COUNT(*),
			COUNT(*) FILTER (WHERE status IN ('sent', 'delivered', 'read')),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM messaging_logs
		WHERE created_at >= $1
		GROUP BY 1 ORDER BY 1`

	return collect(ctx, r, query, []any{since}, func(rows pgx.Rows) (DailyStat, error) {
		var d DailyStat
		err := rows.Scan(&d.Date, &d.Total, &d.Sent, &d.Failed)
		return d, err
	})
}

func (r *Repository) hourlyStats(ctx context.Context, since time.Time) ([]HourlyStat, error) {
	query := `
		SELECT EXTRACT(HOUR FROM created_at)::int, COUNT(*),
			COUNT(*) FILTER (WHERE status IN ('sent', 'delivered', 'read')),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM messaging_logs
		WHERE created_at >= $1
		GROUP BY 1 ORDER BY 1`

	return collect(ctx, r, query, []any{since}, func(rows pgx.Rows) (HourlyStat, error) {
		var h HourlyStat
		err := rows.Scan(&h.Hour, &h.Total, &h.Sent, &h.Failed)
		return h, err
	})
}

func (r *Repository) failureReasons(ctx context.Context, where string, args []any) ([]FailureReason, error) {
	cond := " WHERE status = 'failed' AND error_message IS NOT NULL"
	if where != "" {
		cond = where + " AND status = 'failed' AND error_message IS NOT NULL"
	}
	query := `
		SELECT error_message, COUNT(*)
		FROM messaging_logs` + cond + `
		GROUP BY error_message
		ORDER BY COUNT(*) DESC
		LIMIT 10`

	return collect(ctx, r, query, args, func(rows pgx.Rows) (FailureReason, error) {
		var f FailureReason
		err := rows.Scan(&f.Reason, &f.Count)
		return f, err
	})
}

func collect[T any](ctx context.Context, r *Repository, query string, args []any, scan func(pgx.Rows) (T, error)) ([]T, error) {
	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stats row: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}
