package automation

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fixzone/notifier/internal/db"
	"github.com/fixzone/notifier/internal/dispatch"
	"github.com/fixzone/notifier/internal/metrics"
	"github.com/fixzone/notifier/internal/redis"
	"github.com/fixzone/notifier/internal/settings"
)

const (
	SweepOverdue  = "overdue"
	SweepUpcoming = "upcoming"

	OverdueTemplate   = "payment_overdue_reminder"
	UpcomingTemplate  = "payment_before_due_reminder"
	defaultDaysBefore = 3
)

type sweepPlan struct {
	kind     string
	template string
	mu       *sync.Mutex
	// gate returns whether the sweep is on and its dedup window in days.
	gate  func(settings.PaymentToggles) (bool, int)
	fetch func(ctx context.Context, m settings.Messaging, today time.Time) ([]db.ReminderCandidate, error)
}

// SweepOverdue reminds customers about unpaid invoices past their due date.
// It returns the number of reminders that reached at least one channel.
func (s *Service) SweepOverdue(ctx context.Context) int {
	return s.sweep(ctx, sweepPlan{
		kind:     SweepOverdue,
		template: OverdueTemplate,
		mu:       &s.overdueMu,
		gate: func(p settings.PaymentToggles) (bool, int) {
			return p.OverdueReminders.Enabled, p.OverdueReminders.MinDaysBetweenReminders
		},
		fetch: func(ctx context.Context, _ settings.Messaging, today time.Time) ([]db.ReminderCandidate, error) {
			return s.entities.OverdueInvoices(ctx, today, s.config.BatchLimit)
		},
	})
}

// SweepUpcoming reminds customers about invoices due within daysBeforeDue days.
func (s *Service) SweepUpcoming(ctx context.Context) int {
	return s.sweep(ctx, sweepPlan{
		kind:     SweepUpcoming,
		template: UpcomingTemplate,
		mu:       &s.upcomingMu,
		gate: func(p settings.PaymentToggles) (bool, int) {
			return p.BeforeDueReminders.Enabled, p.BeforeDueReminders.MinDaysBetweenReminders
		},
		fetch: func(ctx context.Context, m settings.Messaging, today time.Time) ([]db.ReminderCandidate, error) {
			days := m.Automation.Payment.BeforeDueReminders.DaysBeforeDue
			if days <= 0 {
				days = defaultDaysBefore
			}
			return s.entities.UpcomingInvoices(ctx, today, today.AddDate(0, 0, days), s.config.BatchLimit)
		},
	})
}

// Sweep runs the named sweep; unknown kinds return -1.
func (s *Service) Sweep(ctx context.Context, kind string) int {
	switch kind {
	case SweepOverdue:
		return s.SweepOverdue(ctx)
	case SweepUpcoming:
		return s.SweepUpcoming(ctx)
	}
	return -1
}

func (s *Service) sweep(ctx context.Context, plan sweepPlan) int {
	if !plan.mu.TryLock() {
		metrics.RecordSweep(plan.kind, "skipped", 0)
		s.logger.Info("sweep already running", zap.String("sweep", plan.kind))
		return 0
	}
	defer plan.mu.Unlock()

	m := s.dispatcher.Settings(ctx)
	enabled, minDays := plan.gate(m.Automation.Payment)
	if !m.Automation.Enabled || !enabled {
		metrics.RecordSweep(plan.kind, "disabled", 0)
		return 0
	}
	if minDays <= 0 {
		minDays = 1
	}

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, "notifier:sweep:"+plan.kind, s.config.LockTTL)
		if err != nil {
			if errors.Is(err, redis.ErrLockHeld) {
				s.logger.Info("sweep running on another instance", zap.String("sweep", plan.kind))
			} else {
				s.logger.Warn("sweep lock unavailable", zap.String("sweep", plan.kind), zap.Error(err))
			}
			metrics.RecordSweep(plan.kind, "skipped", 0)
			return 0
		}
		defer release()
	}

	ctx, cancel := context.WithTimeout(ctx, MaxSweepDuration)
	defer cancel()

	now := s.now().In(s.config.Location)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.config.Location)

	candidates, err := plan.fetch(ctx, m, today)
	if err != nil {
		metrics.RecordSweep(plan.kind, "error", 0)
		s.logger.Error("failed to select reminder candidates", zap.String("sweep", plan.kind), zap.Error(err))
		return 0
	}

	since := now.AddDate(0, 0, -minDays)
	sent := 0
	for _, c := range candidates {
		if ctx.Err() != nil {
			break
		}
		if s.remind(ctx, m, plan, c, since) {
			sent++
		}
	}

	metrics.RecordSweep(plan.kind, "completed", sent)
	s.logger.Info("sweep finished",
		zap.String("sweep", plan.kind),
		zap.Int("candidates", len(candidates)),
		zap.Int("sent", sent),
	)
	return sent
}

func (s *Service) remind(ctx context.Context, m settings.Messaging, plan sweepPlan, c db.ReminderCandidate, since time.Time) bool {
	channels := reachable(m.Automation.DefaultChannels, c.Phone, c.Email)
	if len(channels) == 0 {
		s.logger.Debug("skipping unreachable customer",
			zap.Int64("invoice_id", c.InvoiceID),
			zap.Int64("customer_id", c.CustomerID),
		)
		return false
	}

	recent, err := s.logs.HasRecentLog(ctx, db.EntityInvoice, c.InvoiceID, plan.template, since)
	if err != nil {
		s.logger.Warn("dedup check failed, skipping reminder",
			zap.Int64("invoice_id", c.InvoiceID),
			zap.Error(err),
		)
		return false
	}
	if recent {
		return false
	}

	customerID := c.CustomerID
	req := dispatch.Request{
		EntityType: db.EntityInvoice,
		EntityID:   c.InvoiceID,
		CustomerID: &customerID,
		Channels:   channels,
		Recipients: dispatch.Recipients{WhatsApp: c.Phone, Email: c.Email},
		Template:   plan.template,
	}
	return s.send(ctx, req, "payment_"+plan.kind) == "sent"
}
