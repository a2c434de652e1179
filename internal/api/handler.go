package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fixzone/notifier/internal/apperr"
	"github.com/fixzone/notifier/internal/circuitbreaker"
	"github.com/fixzone/notifier/internal/db"
	"github.com/fixzone/notifier/internal/dispatch"
	"github.com/fixzone/notifier/internal/redis"
	"github.com/fixzone/notifier/internal/sqs"
)

// Messages is the dispatch surface the handlers drive.
type Messages interface {
	Send(ctx context.Context, req dispatch.Request) (*dispatch.Result, error)
	RetryFailed(ctx context.Context, id uuid.UUID) (*db.MessageLog, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string, errMsg *string) (*db.MessageLog, error)
	GetLog(ctx context.Context, id uuid.UUID) (*db.MessageLog, error)
	ListLogs(ctx context.Context, filter db.LogFilter, limit, offset int) (*db.LogPage, error)
	GetStats(ctx context.Context, filter db.LogFilter) (*db.Stats, error)
}

// Sweeper runs a payment sweep by kind. A negative count means an unknown kind.
type Sweeper interface {
	Sweep(ctx context.Context, kind string) int
}

// Breakers reports circuit breaker state.
type Breakers interface {
	Stats() []circuitbreaker.Stats
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Handler holds dependencies for API handlers
type Handler struct {
	logger      *zap.Logger
	messages    Messages
	sweeper     Sweeper
	events      EventSink
	breakers    Breakers
	idempotency *redis.IdempotencyService // nil if Redis not configured
	validate    *validator.Validate
}

func NewHandler(logger *zap.Logger, messages Messages, sweeper Sweeper, events EventSink, breakers Breakers) *Handler {
	return &Handler{
		logger:   logger,
		messages: messages,
		sweeper:  sweeper,
		events:   events,
		breakers: breakers,
		validate: validator.New(),
	}
}

// WithIdempotency enables Idempotency-Key handling on POST /v1/messages.
func (h *Handler) WithIdempotency(svc *redis.IdempotencyService) *Handler {
	h.idempotency = svc
	return h
}

// Routes mounts the /v1 surface on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/messages", func(r chi.Router) {
		r.Post("/", h.SendMessage)
		r.Get("/", h.ListMessages)
		r.Get("/stats", h.MessageStats)
		r.Get("/{id}", h.GetMessage)
		r.Post("/{id}/retry", h.RetryMessage)
		r.Patch("/{id}/status", h.UpdateMessageStatus)
	})
	r.Route("/automation", func(r chi.Router) {
		r.Post("/status-change", h.StatusChanged)
		r.Post("/created", h.EntityCreated)
		r.Post("/sweeps/{kind}", h.RunSweep)
	})
	r.Get("/breakers", h.ListBreakers)
}

// SendMessage handles POST /v1/messages.
// Supports idempotency via the Idempotency-Key header, scoped to the client.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeValidationError(w, err)
		return
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")
	scope := IPKeyFunc(r)
	reserved := false

	if idempotencyKey != "" && h.idempotency != nil {
		cached, err := h.idempotency.CheckOrReserve(ctx, scope, idempotencyKey)
		switch {
		case errors.Is(err, redis.ErrDuplicateRequest):
			h.writeError(w, http.StatusConflict, "duplicate_request",
				"Request is already being processed",
				"Another request with this idempotency key is in progress")
			return
		case err != nil:
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		case cached != nil:
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotency-Replayed", "true")
			w.WriteHeader(cached.StatusCode)
			_, _ = w.Write(cached.Body)
			return
		default:
			reserved = true
		}
	}

	result, err := h.messages.Send(ctx, req.toDispatch())
	if err != nil {
		if reserved {
			if rerr := h.idempotency.Release(ctx, scope, idempotencyKey); rerr != nil {
				h.logger.Warn("failed to release idempotency key", zap.Error(rerr))
			}
		}
		h.writeAppError(w, err, "Failed to send message")
		return
	}

	body, err := json.Marshal(result)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to encode result", "")
		return
	}

	if reserved {
		cached := &redis.CachedResponse{StatusCode: http.StatusOK, Body: body, CreatedAt: time.Now().Unix()}
		if err := h.idempotency.Store(ctx, scope, idempotencyKey, cached, redis.IdempotencyTTL); err != nil {
			h.logger.Warn("failed to store idempotency result",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		}
	}

	h.logger.Info("message dispatched",
		zap.String("entity_type", req.EntityType),
		zap.Int64("entity_id", req.EntityID),
		zap.Strings("channels", req.Channels),
		zap.Bool("success", result.Success),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// GetMessage handles GET /v1/messages/{id}
func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.logID(w, r)
	if !ok {
		return
	}

	entry, err := h.messages.GetLog(r.Context(), id)
	if err != nil {
		h.writeAppError(w, err, "Failed to get message")
		return
	}
	h.writeJSON(w, http.StatusOK, entry)
}

// ListMessages handles GET /v1/messages?channel=whatsapp&status=failed&limit=20&offset=0
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	filter, err := h.parseFilter(r)
	if err != nil {
		h.writeAppError(w, err, "Invalid filter")
		return
	}

	limit, offset := pagination(r)
	page, err := h.messages.ListLogs(r.Context(), filter, limit, offset)
	if err != nil {
		h.writeAppError(w, err, "Failed to list messages")
		return
	}

	h.logger.Debug("messages listed",
		zap.Int("count", len(page.Logs)),
		zap.Int("total", page.Total),
		zap.Int("limit", page.Limit),
		zap.Int("offset", page.Offset),
	)
	h.writeJSON(w, http.StatusOK, page)
}

// MessageStats handles GET /v1/messages/stats with the same filters as the list.
func (h *Handler) MessageStats(w http.ResponseWriter, r *http.Request) {
	filter, err := h.parseFilter(r)
	if err != nil {
		h.writeAppError(w, err, "Invalid filter")
		return
	}

	stats, err := h.messages.GetStats(r.Context(), filter)
	if err != nil {
		h.writeAppError(w, err, "Failed to compute statistics")
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// RetryMessage handles POST /v1/messages/{id}/retry
func (h *Handler) RetryMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.logID(w, r)
	if !ok {
		return
	}

	entry, err := h.messages.RetryFailed(r.Context(), id)
	if err != nil {
		h.writeAppError(w, err, "Failed to retry message")
		return
	}

	h.logger.Info("message retried",
		zap.String("log_id", id.String()),
		zap.String("status", entry.Status),
		zap.Int("retry_count", entry.RetryCount),
	)
	h.writeJSON(w, http.StatusOK, entry)
}

// UpdateMessageStatus handles PATCH /v1/messages/{id}/status
func (h *Handler) UpdateMessageStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.logID(w, r)
	if !ok {
		return
	}

	var req StatusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeValidationError(w, err)
		return
	}

	entry, err := h.messages.UpdateStatus(r.Context(), id, req.Status, req.ErrorMessage)
	if err != nil {
		h.writeAppError(w, err, "Failed to update message status")
		return
	}

	h.logger.Info("message status updated",
		zap.String("log_id", id.String()),
		zap.String("status", entry.Status),
	)
	h.writeJSON(w, http.StatusOK, entry)
}

// StatusChanged handles POST /v1/automation/status-change
func (h *Handler) StatusChanged(w http.ResponseWriter, r *http.Request) {
	var req StatusChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeValidationError(w, err)
		return
	}

	h.submit(w, r, sqs.Event{
		Type:           sqs.TypeStatusChanged,
		EntityType:     req.EntityType,
		EntityID:       req.EntityID,
		PreviousStatus: req.PreviousStatus,
		NewStatus:      req.NewStatus,
		ActorID:        req.ActorID,
	})
}

// EntityCreated handles POST /v1/automation/created
func (h *Handler) EntityCreated(w http.ResponseWriter, r *http.Request) {
	var req CreatedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeValidationError(w, err)
		return
	}

	h.submit(w, r, sqs.Event{
		Type:       sqs.TypeCreated,
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		ActorID:    req.ActorID,
	})
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, e sqs.Event) {
	if err := h.events.Submit(r.Context(), e); err != nil {
		h.logger.Error("failed to submit entity event",
			zap.Error(err),
			zap.String("type", e.Type),
			zap.String("entity_type", e.EntityType),
			zap.Int64("entity_id", e.EntityID),
		)
		h.writeError(w, http.StatusServiceUnavailable, "enqueue_error", "Failed to accept event", "")
		return
	}
	h.writeJSON(w, http.StatusAccepted, AcceptedResponse{Accepted: true})
}

// RunSweep handles POST /v1/automation/sweeps/{kind}
func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")

	sent := h.sweeper.Sweep(r.Context(), kind)
	if sent < 0 {
		h.writeError(w, http.StatusNotFound, "not_found", "Unknown sweep",
			"sweep must be one of: overdue, upcoming")
		return
	}

	h.logger.Info("manual sweep finished", zap.String("sweep", kind), zap.Int("sent", sent))
	h.writeJSON(w, http.StatusOK, SweepResponse{Sweep: kind, Sent: sent})
}

// ListBreakers handles GET /v1/breakers
func (h *Handler) ListBreakers(w http.ResponseWriter, r *http.Request) {
	stats := h.breakers.Stats()
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":  stats,
		"count": len(stats),
	})
}

func (h *Handler) logID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid message ID", "ID must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// parseFilter reads the list and stats query filters.
func (h *Handler) parseFilter(r *http.Request) (db.LogFilter, error) {
	q := r.URL.Query()
	lq := ListQuery{
		EntityType: q.Get("entityType"),
		Channel:    q.Get("channel"),
		Status:     q.Get("status"),
		Recipient:  q.Get("recipient"),
	}
	if err := h.validate.Struct(lq); err != nil {
		return db.LogFilter{}, apperr.Validation("api.filter", "%s", validationDetail(err))
	}

	filter := db.LogFilter{
		EntityType: lq.EntityType,
		Channel:    lq.Channel,
		Status:     lq.Status,
		Recipient:  lq.Recipient,
	}

	var err error
	if filter.EntityID, err = int64Param(q.Get("entityId"), "entityId"); err != nil {
		return db.LogFilter{}, err
	}
	if filter.CustomerID, err = int64Param(q.Get("customerId"), "customerId"); err != nil {
		return db.LogFilter{}, err
	}
	if filter.DateFrom, err = dateParam(q.Get("dateFrom"), "dateFrom", false); err != nil {
		return db.LogFilter{}, err
	}
	if filter.DateTo, err = dateParam(q.Get("dateTo"), "dateTo", true); err != nil {
		return db.LogFilter{}, err
	}
	return filter, nil
}

func int64Param(raw, name string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return nil, apperr.Validation("api.filter", "%s must be a positive integer", name)
	}
	return &v, nil
}

// dateParam accepts RFC 3339 or a bare date. A bare upper bound covers the
// whole day.
func dateParam(raw, name string, endOfDay bool) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, apperr.Validation("api.filter", "%s must be a date (YYYY-MM-DD) or RFC 3339 timestamp", name)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

// pagination parses limit and offset, falling back to defaults on bad input.
func pagination(r *http.Request) (int, int) {
	limit := defaultPageSize
	offset := 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = min(l, maxPageSize)
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}
	return limit, offset
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeAppError maps an engine error onto problem+json.
func (h *Handler) writeAppError(w http.ResponseWriter, err error, title string) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		h.logger.Error(strings.ToLower(title), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", title, "")
		return
	}

	status := ae.HTTPStatus()
	if status >= http.StatusInternalServerError {
		h.logger.Error(strings.ToLower(title), zap.Error(err))
		h.writeError(w, status, ae.Kind.String()+"_error", title, "")
		return
	}
	detail := ae.Message
	if detail == "" {
		detail = ae.Error()
	}
	h.writeError(w, status, ae.Kind.String(), title, detail)
}

func (h *Handler) writeValidationError(w http.ResponseWriter, err error) {
	h.writeError(w, http.StatusBadRequest, "invalid_request", "Validation failed", validationDetail(err))
}

// validationDetail flattens validator errors into one line.
func validationDetail(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
