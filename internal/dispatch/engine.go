// Package dispatch renders messages and delivers them over the requested
// channels, recording one messaging_logs row per channel attempt.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fixzone/notifier/internal/apperr"
	"github.com/fixzone/notifier/internal/channel"
	"github.com/fixzone/notifier/internal/db"
	"github.com/fixzone/notifier/internal/metrics"
	"github.com/fixzone/notifier/internal/resolver"
	"github.com/fixzone/notifier/internal/settings"
	"github.com/fixzone/notifier/internal/template"
)

// LogStore is the delivery log.
type LogStore interface {
	CreateLog(ctx context.Context, entry *db.MessageLog) error
	GetLog(ctx context.Context, id uuid.UUID) (*db.MessageLog, error)
	UpdateLogStatus(ctx context.Context, id uuid.UUID, upd db.StatusUpdate) (*db.MessageLog, error)
	MarkForRetry(ctx context.Context, id uuid.UUID, staleBefore time.Time) (*db.MessageLog, error)
	ListLogs(ctx context.Context, filter db.LogFilter, limit, offset int) (*db.LogPage, error)
	Stats(ctx context.Context, filter db.LogFilter) (*db.Stats, error)
}

// Snapshots reads the ERP entities messages are about.
type Snapshots interface {
	Repair(ctx context.Context, id int64) (*db.RepairSnapshot, error)
	Invoice(ctx context.Context, id int64) (*db.InvoiceSnapshot, error)
	Quotation(ctx context.Context, id int64) (*db.QuotationSnapshot, error)
	Payment(ctx context.Context, id int64) (*db.PaymentSnapshot, error)
}

type SettingsSource interface {
	Load(ctx context.Context) settings.Messaging
}

// OutcomePublisher announces delivery outcomes. Failures are logged only.
type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, o Outcome) error
}

type Config struct {
	MaxRetries     int
	RetryBackoff   time.Duration
	ChannelTimeout time.Duration
	CompanyAddress string
}

type Engine struct {
	logs      LogStore
	snapshots Snapshots
	settings  SettingsSource
	resolver  *resolver.Resolver
	sender    channel.Sender
	publisher OutcomePublisher
	config    Config
	logger    *zap.Logger
	now       func() time.Time
}

func New(logs LogStore, snapshots Snapshots, src SettingsSource, res *resolver.Resolver, sender channel.Sender, cfg Config, logger *zap.Logger) *Engine {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Minute
	}
	if cfg.ChannelTimeout <= 0 {
		cfg.ChannelTimeout = 15 * time.Second
	}

	return &Engine{
		logs:      logs,
		snapshots: snapshots,
		settings:  src,
		resolver:  res,
		sender:    sender,
		config:    cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// WithPublisher sets the optional outcome publisher.
func (e *Engine) WithPublisher(p OutcomePublisher) *Engine {
	e.publisher = p
	return e
}

// Settings exposes the loader so callers share one document per operation.
func (e *Engine) Settings(ctx context.Context) settings.Messaging {
	return e.settings.Load(ctx)
}

// Send delivers req on every requested channel in order. Validation problems
// return an error before anything is logged; channel failures are reported
// in the result.
func (e *Engine) Send(ctx context.Context, req Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	cfg := e.settings.Load(ctx)

	var snapshot any
	vars := req.Variables
	if req.Template != "" && resolver.NeedsResolve(req.EntityType, vars) {
		snap, err := e.snapshot(ctx, req.EntityType, req.EntityID)
		if err != nil {
			e.logger.Warn("could not load entity for variables",
				zap.String("entity_type", req.EntityType),
				zap.Int64("entity_id", req.EntityID),
				zap.Error(err),
			)
		} else {
			snapshot = snap
			resolved, err := e.resolver.Resolve(snap)
			if err != nil {
				return nil, apperr.Wrap(apperr.KindUnknown, "dispatch.Send", err)
			}
			vars = overlay(resolved, vars)
		}
	}

	text := req.Message
	if strings.TrimSpace(text) == "" {
		tpl := template.Load(cfg, req.Template, req.EntityType)
		text = template.Render(tpl, vars)
	}
	if strings.TrimSpace(text) == "" {
		return nil, apperr.Validation("dispatch.Send", "rendered message is empty")
	}
	if missing := template.Unresolved(text); len(missing) > 0 {
		e.logger.Debug("message has unresolved tokens",
			zap.String("template", req.Template),
			zap.Strings("tokens", missing),
		)
	}

	subject := req.Subject
	if subject == "" {
		subject = defaultSubject(req.EntityType, req.EntityID)
	}

	result := &Result{Message: text}
	for _, ch := range req.Channels {
		msg := &channel.Message{
			Channel:   ch,
			Recipient: req.Recipients.For(ch),
			Subject:   subject,
			Body:      text,
			Settings:  cfg,
		}
		if ch == db.ChannelEmail && req.EntityType == db.EntityInvoice {
			snapshot = e.decorateInvoiceEmail(ctx, req, msg, snapshot)
		}

		entry := &db.MessageLog{
			EntityType: req.EntityType,
			EntityID:   req.EntityID,
			CustomerID: req.CustomerID,
			Channel:    ch,
			Recipient:  msg.Recipient,
			Message:    text,
			Subject:    optional(subject),
			SentBy:     req.SentBy,
		}
		if req.Template != "" {
			entry.TemplateName = optional(req.Template)
		}
		if ch == db.ChannelWhatsApp {
			entry.Subject = nil
		}

		result.add(e.attempt(ctx, msg, entry))
	}

	return result, nil
}

// attempt sends one channel message and records it. The log write never fails the send.
func (e *Engine) attempt(ctx context.Context, msg *channel.Message, entry *db.MessageLog) ChannelResult {
	cr := ChannelResult{Channel: msg.Channel}

	sendCtx, cancel := context.WithTimeout(ctx, e.config.ChannelTimeout)
	start := time.Now()
	res, err := e.sender.Send(sendCtx, msg)
	cancel()
	metrics.RecordChannelLatency(msg.Channel, time.Since(start))

	md := res.Metadata()
	if err != nil {
		errMsg := err.Error()
		entry.Status = db.StatusFailed
		entry.ErrorMessage = &errMsg
		cr.Error = errMsg

		e.logger.Warn("channel delivery failed",
			zap.String("channel", msg.Channel),
			zap.String("entity_type", entry.EntityType),
			zap.Int64("entity_id", entry.EntityID),
			zap.Error(err),
		)
	} else {
		sentAt := e.now()
		entry.Status = db.StatusSent
		entry.SentAt = &sentAt
		cr.Success = true
		cr.Method = res.Method
		cr.MessageID = res.MessageID
		cr.URL = res.URL
	}
	metrics.RecordMessage(msg.Channel, entry.Status)

	entry.Metadata = encodeMetadata(md)
	if err := e.logs.CreateLog(ctx, entry); err != nil {
		e.logger.Error("failed to record message log",
			zap.String("channel", msg.Channel),
			zap.String("entity_type", entry.EntityType),
			zap.Int64("entity_id", entry.EntityID),
			zap.Error(err),
		)
	} else {
		cr.LogID = entry.ID
	}

	e.publish(ctx, entry, cr.Method)
	return cr
}

// decorateInvoiceEmail adds the items table and, when requested, the PDF summary.
// Any failure leaves the plain message in place.
func (e *Engine) decorateInvoiceEmail(ctx context.Context, req Request, msg *channel.Message, snapshot any) any {
	inv, ok := snapshot.(*db.InvoiceSnapshot)
	if !ok {
		loaded, err := e.snapshots.Invoice(ctx, req.EntityID)
		if err != nil {
			e.logger.Warn("invoice unavailable for email extras",
				zap.Int64("invoice_id", req.EntityID),
				zap.Error(err),
			)
			return snapshot
		}
		inv = loaded
	}

	if len(inv.Items) > 0 {
		html, err := channel.RenderHTML(channel.Layout{
			Subject: msg.Subject,
			Brand:   msg.Settings.Email.FromName,
			Address: e.config.CompanyAddress,
			Body:    msg.Body,
			Items:   channel.InvoiceRows(inv),
		})
		if err == nil {
			msg.HTML = html
		}
	}

	if req.Options.AttachPDF || msg.Settings.Automation.Invoice.AttachPDF {
		att, err := channel.InvoicePDF(inv, msg.Settings.Email.FromName, e.config.CompanyAddress)
		if err != nil {
			e.logger.Warn("invoice pdf failed, sending without attachment",
				zap.Int64("invoice_id", inv.ID),
				zap.Error(err),
			)
		} else {
			msg.Attachments = append(msg.Attachments, *att)
		}
	}

	return inv
}

func (e *Engine) snapshot(ctx context.Context, entityType string, id int64) (any, error) {
	switch entityType {
	case db.EntityRepair:
		return e.snapshots.Repair(ctx, id)
	case db.EntityInvoice:
		return e.snapshots.Invoice(ctx, id)
	case db.EntityQuotation:
		return e.snapshots.Quotation(ctx, id)
	case db.EntityPayment:
		return e.snapshots.Payment(ctx, id)
	}
	return nil, fmt.Errorf("unknown entity type %q", entityType)
}

func (e *Engine) publish(ctx context.Context, entry *db.MessageLog, method string) {
	if e.publisher == nil {
		return
	}
	o := Outcome{
		LogID:      entry.ID.String(),
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Channel:    entry.Channel,
		Status:     entry.Status,
		Method:     method,
		RetryCount: entry.RetryCount,
		OccurredAt: e.now(),
	}
	if entry.ErrorMessage != nil {
		o.Error = *entry.ErrorMessage
	}
	if err := e.publisher.PublishOutcome(ctx, o); err != nil {
		e.logger.Warn("failed to publish delivery outcome",
			zap.String("log_id", o.LogID),
			zap.Error(err),
		)
	}
}

// overlay keeps resolved values and lets the caller's meaningful values win.
func overlay(resolved resolver.Variables, caller map[string]string) map[string]string {
	out := make(map[string]string, len(resolved)+len(caller))
	for k, v := range resolved {
		out[k] = v
	}
	for k, v := range caller {
		if _, ok := resolver.FirstOf(resolver.Field(v)); ok && v != resolver.Unspecified {
			out[k] = v
		}
	}
	return out
}

func encodeMetadata(md map[string]any) json.RawMessage {
	raw, err := json.Marshal(md)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
