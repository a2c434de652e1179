package automation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fixzone/notifier/internal/db"
	"github.com/fixzone/notifier/internal/dispatch"
	"github.com/fixzone/notifier/internal/metrics"
	"github.com/fixzone/notifier/internal/settings"
)

// Dispatcher is the part of the dispatch engine automation needs.
type Dispatcher interface {
	Send(ctx context.Context, req dispatch.Request) (*dispatch.Result, error)
	Settings(ctx context.Context) settings.Messaging
}

// Entities reads ERP records for contact details and sweep candidates.
type Entities interface {
	Repair(ctx context.Context, id int64) (*db.RepairSnapshot, error)
	Invoice(ctx context.Context, id int64) (*db.InvoiceSnapshot, error)
	Quotation(ctx context.Context, id int64) (*db.QuotationSnapshot, error)
	Payment(ctx context.Context, id int64) (*db.PaymentSnapshot, error)
	OverdueInvoices(ctx context.Context, today time.Time, limit int) ([]db.ReminderCandidate, error)
	UpcomingInvoices(ctx context.Context, from, to time.Time, limit int) ([]db.ReminderCandidate, error)
}

// RecentLogs answers the reminder dedup question.
type RecentLogs interface {
	HasRecentLog(ctx context.Context, entityType string, entityID int64, templateName string, since time.Time) (bool, error)
}

// Locker is a cross-instance mutex. Acquire returns a release func, or an
// error when the lock is held elsewhere or the backend is unavailable.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// MaxSweepDuration bounds one sweep run.
const MaxSweepDuration = 30 * time.Minute

type Config struct {
	Location   *time.Location
	BatchLimit int
	// LockTTL must outlast MaxSweepDuration so the lock cannot expire mid-sweep.
	LockTTL time.Duration
}

type Service struct {
	dispatcher Dispatcher
	entities   Entities
	logs       RecentLogs
	locker     Locker
	config     Config
	logger     *zap.Logger
	now        func() time.Time

	overdueMu  sync.Mutex
	upcomingMu sync.Mutex
}

func New(d Dispatcher, entities Entities, logs RecentLogs, cfg Config, logger *zap.Logger) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 100
	}
	if cfg.LockTTL <= MaxSweepDuration {
		cfg.LockTTL = MaxSweepDuration + 5*time.Minute
	}
	return &Service{
		dispatcher: d,
		entities:   entities,
		logs:       logs,
		config:     cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// WithLocker enables the distributed sweep lock.
func (s *Service) WithLocker(l Locker) *Service {
	s.locker = l
	return s
}

// OnEntityStatusChange notifies the customer about a status transition when
// the settings ask for it. Failures are logged and never returned.
func (s *Service) OnEntityStatusChange(ctx context.Context, entityType string, id int64, previous, next string, actor *int64) {
	s.handle(ctx, Event{
		Trigger:       TriggerStatusChange,
		EntityType:    entityType,
		EntityID:      id,
		PreviousState: previous,
		NewState:      next,
		TriggeredBy:   actor,
	})
}

// OnEntityCreated notifies the customer about a new invoice, quotation or payment.
func (s *Service) OnEntityCreated(ctx context.Context, entityType string, id int64, actor *int64) {
	s.handle(ctx, Event{
		Trigger:     TriggerCreated,
		EntityType:  entityType,
		EntityID:    id,
		TriggeredBy: actor,
	})
}

func (s *Service) handle(ctx context.Context, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("automation hook panicked",
				zap.String("entity_type", ev.EntityType),
				zap.Int64("entity_id", ev.EntityID),
				zap.Any("panic", r),
			)
		}
	}()

	m := s.dispatcher.Settings(ctx)
	sel := Decide(m, ev)
	if !sel.ShouldNotify {
		metrics.RecordDecision(string(ev.Trigger)+"_"+ev.EntityType, "skipped")
		s.logger.Debug("no notification for event",
			zap.String("trigger", string(ev.Trigger)),
			zap.String("entity_type", ev.EntityType),
			zap.Int64("entity_id", ev.EntityID),
			zap.String("new_state", ev.NewState),
		)
		return
	}

	customer, customerID, err := s.contact(ctx, ev.EntityType, ev.EntityID)
	if err != nil {
		metrics.RecordDecision(sel.Kind, "error")
		s.logger.Warn("could not load entity for notification",
			zap.String("kind", sel.Kind),
			zap.String("entity_type", ev.EntityType),
			zap.Int64("entity_id", ev.EntityID),
			zap.Error(err),
		)
		return
	}

	if !customer.Reachable() {
		metrics.RecordDecision(sel.Kind, "unreachable")
		s.logger.Info("customer has no phone or email",
			zap.String("kind", sel.Kind),
			zap.Int64("entity_id", ev.EntityID),
		)
		return
	}

	channels := reachable(m.Automation.DefaultChannels, customer.Phone, customer.Email)
	if len(channels) == 0 {
		metrics.RecordDecision(sel.Kind, "unreachable")
		s.logger.Info("customer has no contact for configured channels",
			zap.String("kind", sel.Kind),
			zap.Int64("entity_id", ev.EntityID),
		)
		return
	}

	req := dispatch.Request{
		EntityType: ev.EntityType,
		EntityID:   ev.EntityID,
		CustomerID: customerID,
		Channels:   channels,
		Recipients: dispatch.Recipients{WhatsApp: customer.Phone, Email: customer.Email},
		Template:   sel.Template,
		SentBy:     ev.TriggeredBy,
		Options:    dispatch.Options{AttachPDF: sel.AttachPDF},
	}

	metrics.RecordDecision(sel.Kind, s.send(ctx, req, sel.Kind))
}

// send runs one automated dispatch and returns the metrics outcome label.
func (s *Service) send(ctx context.Context, req dispatch.Request, kind string) string {
	res, err := s.dispatcher.Send(ctx, req)
	if err != nil {
		s.logger.Warn("automated send rejected",
			zap.String("kind", kind),
			zap.String("entity_type", req.EntityType),
			zap.Int64("entity_id", req.EntityID),
			zap.Error(err),
		)
		return "error"
	}

	s.logger.Info("automated message dispatched",
		zap.String("kind", kind),
		zap.String("template", req.Template),
		zap.Strings("channels", req.Channels),
		zap.Int64("entity_id", req.EntityID),
		zap.Bool("success", res.Success),
		zap.Bool("has_failures", res.HasFailures),
	)
	if !res.Success {
		return "failed"
	}
	return "sent"
}

func (s *Service) contact(ctx context.Context, entityType string, id int64) (db.Customer, *int64, error) {
	var c db.Customer
	switch entityType {
	case db.EntityRepair:
		snap, err := s.entities.Repair(ctx, id)
		if err != nil {
			return c, nil, err
		}
		c = snap.Customer
	case db.EntityInvoice:
		snap, err := s.entities.Invoice(ctx, id)
		if err != nil {
			return c, nil, err
		}
		c = snap.Customer
	case db.EntityQuotation:
		snap, err := s.entities.Quotation(ctx, id)
		if err != nil {
			return c, nil, err
		}
		c = snap.Customer
	case db.EntityPayment:
		snap, err := s.entities.Payment(ctx, id)
		if err != nil {
			return c, nil, err
		}
		c = snap.Customer
	default:
		return c, nil, fmt.Errorf("unknown entity type %q", entityType)
	}

	if c.ID == 0 {
		return c, nil, nil
	}
	cid := c.ID
	return c, &cid, nil
}

// reachable keeps the configured channels the customer has an address for.
func reachable(channels []string, phone, email string) []string {
	out := make([]string, 0, len(channels))
	seen := make(map[string]bool, len(channels))
	for _, ch := range channels {
		if seen[ch] {
			continue
		}
		seen[ch] = true
		switch {
		case ch == db.ChannelWhatsApp && phone != "":
			out = append(out, ch)
		case ch == db.ChannelEmail && email != "":
			out = append(out, ch)
		}
	}
	return out
}
