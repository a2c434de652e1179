package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fixzone/notifier/internal/apperr"
	"github.com/fixzone/notifier/internal/circuitbreaker"
	"github.com/fixzone/notifier/internal/db"
	"github.com/fixzone/notifier/internal/dispatch"
	"github.com/fixzone/notifier/internal/redis"
	"github.com/fixzone/notifier/internal/sqs"
)

var ErrDatabaseError = errors.New("database error")

// MockMessages is a fake dispatch engine for testing
type MockMessages struct {
	logs map[uuid.UUID]*db.MessageLog

	sendCalls  int
	lastSend   dispatch.Request
	sendErr    error
	retryErr   error
	lastFilter db.LogFilter
	lastLimit  int
	lastOffset int
	listErr    error
}

func NewMockMessages() *MockMessages {
	return &MockMessages{logs: make(map[uuid.UUID]*db.MessageLog)}
}

func (m *MockMessages) add(entry *db.MessageLog) *db.MessageLog {
	m.logs[entry.ID] = entry
	return entry
}

func (m *MockMessages) Send(ctx context.Context, req dispatch.Request) (*dispatch.Result, error) {
	m.sendCalls++
	m.lastSend = req
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	res := &dispatch.Result{Success: true, Message: "Message sent successfully"}
	for _, ch := range req.Channels {
		res.Channels = append(res.Channels, dispatch.ChannelResult{Channel: ch, Success: true, LogID: uuid.New()})
	}
	return res, nil
}

func (m *MockMessages) RetryFailed(ctx context.Context, id uuid.UUID) (*db.MessageLog, error) {
	if m.retryErr != nil {
		return nil, m.retryErr
	}
	entry, ok := m.logs[id]
	if !ok {
		return nil, apperr.NotFound("dispatch.RetryFailed", "message log %s not found", id)
	}
	entry.Status = db.StatusSent
	entry.RetryCount++
	return entry, nil
}

func (m *MockMessages) UpdateStatus(ctx context.Context, id uuid.UUID, status string, errMsg *string) (*db.MessageLog, error) {
	entry, ok := m.logs[id]
	if !ok {
		return nil, apperr.NotFound("dispatch.UpdateStatus", "message log %s not found", id)
	}
	if !db.CanTransition(entry.Status, status) {
		return nil, apperr.Conflict("dispatch.UpdateStatus", "cannot move from %s to %s", entry.Status, status)
	}
	entry.Status = status
	entry.ErrorMessage = errMsg
	return entry, nil
}

func (m *MockMessages) GetLog(ctx context.Context, id uuid.UUID) (*db.MessageLog, error) {
	entry, ok := m.logs[id]
	if !ok {
		return nil, apperr.NotFound("dispatch.GetLog", "message log %s not found", id)
	}
	return entry, nil
}

func (m *MockMessages) ListLogs(ctx context.Context, filter db.LogFilter, limit, offset int) (*db.LogPage, error) {
	m.lastFilter, m.lastLimit, m.lastOffset = filter, limit, offset
	if m.listErr != nil {
		return nil, m.listErr
	}
	page := &db.LogPage{Limit: limit, Offset: offset}
	for _, entry := range m.logs {
		page.Logs = append(page.Logs, entry)
	}
	page.Total = len(page.Logs)
	return page, nil
}

func (m *MockMessages) GetStats(ctx context.Context, filter db.LogFilter) (*db.Stats, error) {
	m.lastFilter = filter
	return &db.Stats{Summary: db.StatsSummary{Total: len(m.logs), Sent: len(m.logs), SuccessRate: 100}}, nil
}

type fakeSweeper struct {
	kinds []string
}

func (s *fakeSweeper) Sweep(ctx context.Context, kind string) int {
	if kind != "overdue" && kind != "upcoming" {
		return -1
	}
	s.kinds = append(s.kinds, kind)
	return 3
}

type recordingSink struct {
	events []sqs.Event
	err    error
}

func (s *recordingSink) Submit(ctx context.Context, e sqs.Event) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, e)
	return nil
}

type testEnv struct {
	messages *MockMessages
	sweeper  *fakeSweeper
	sink     *recordingSink
	handler  *Handler
	router   http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		messages: NewMockMessages(),
		sweeper:  &fakeSweeper{},
		sink:     &recordingSink{},
	}

	breakers := circuitbreaker.NewRegistry()
	breakers.Add(circuitbreaker.New(circuitbreaker.DefaultConfig("whatsapp"), zap.NewNop()))

	env.handler = NewHandler(zap.NewNop(), env.messages, env.sweeper, env.sink, breakers)
	r := chi.NewRouter()
	r.Route("/v1", env.handler.Routes)
	env.router = r
	return env
}

func (env *testEnv) do(method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		_ = json.NewEncoder(&buf).Encode(b)
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "192.168.1.10:4000"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("Content-Type = %q, want application/problem+json", ct)
	}
	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp
}

func TestSendMessage(t *testing.T) {
	tests := []struct {
		name           string
		requestBody    interface{}
		sendErr        error
		expectedStatus int
		checkResponse  func(t *testing.T, env *testEnv, rec *httptest.ResponseRecorder)
	}{
		{
			name: "valid request",
			requestBody: map[string]interface{}{
				"entityType": "repair",
				"entityId":   42,
				"channels":   []string{"whatsapp", "email"},
				"recipients": map[string]string{"whatsapp": "01113511940", "email": "sara@example.com"},
				"template":   "repair_ready_for_pickup",
				"variables":  map[string]string{"customerName": "Sara"},
				"attachPdf":  true,
			},
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, env *testEnv, rec *httptest.ResponseRecorder) {
				var res dispatch.Result
				if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
					t.Fatalf("failed to decode: %v", err)
				}
				if !res.Success || len(res.Channels) != 2 {
					t.Errorf("unexpected result: %+v", res)
				}
				req := env.messages.lastSend
				if req.EntityType != "repair" || req.EntityID != 42 {
					t.Errorf("entity = %s/%d", req.EntityType, req.EntityID)
				}
				if req.Recipients.Email != "sara@example.com" || req.Variables["customerName"] != "Sara" {
					t.Errorf("request not mapped: %+v", req)
				}
				if !req.Options.AttachPDF {
					t.Error("attachPdf not mapped to options")
				}
			},
		},
		{
			name:           "malformed JSON",
			requestBody:    `{"entityType":`,
			expectedStatus: http.StatusBadRequest,
			checkResponse: func(t *testing.T, env *testEnv, rec *httptest.ResponseRecorder) {
				if resp := decodeError(t, rec); resp.Title != "Malformed JSON body" {
					t.Errorf("title = %q", resp.Title)
				}
			},
		},
		{
			name: "missing channels",
			requestBody: map[string]interface{}{
				"entityType": "repair",
				"entityId":   42,
				"message":    "hi",
			},
			expectedStatus: http.StatusBadRequest,
			checkResponse: func(t *testing.T, env *testEnv, rec *httptest.ResponseRecorder) {
				resp := decodeError(t, rec)
				if resp.Type != "invalid_request" || resp.Detail == "" {
					t.Errorf("unexpected error: %+v", resp)
				}
				if env.messages.sendCalls != 0 {
					t.Error("Send should not be called on invalid input")
				}
			},
		},
		{
			name: "unknown channel",
			requestBody: map[string]interface{}{
				"entityType": "repair",
				"entityId":   42,
				"channels":   []string{"sms"},
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "malformed email reaches the engine",
			requestBody: map[string]interface{}{
				"entityType": "invoice",
				"entityId":   7,
				"channels":   []string{"whatsapp", "email"},
				"recipients": map[string]string{"whatsapp": "01113511940", "email": "sara-at-example"},
			},
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, env *testEnv, rec *httptest.ResponseRecorder) {
				if env.messages.sendCalls != 1 {
					t.Fatalf("send calls = %d, want 1", env.messages.sendCalls)
				}
				if got := env.messages.lastSend.Recipients.Email; got != "sara-at-example" {
					t.Errorf("email recipient = %q", got)
				}
			},
		},
		{
			name: "engine validation error",
			requestBody: map[string]interface{}{
				"entityType": "repair",
				"entityId":   42,
				"channels":   []string{"whatsapp"},
			},
			sendErr:        apperr.Validation("dispatch.Send", "recipient for whatsapp is required"),
			expectedStatus: http.StatusBadRequest,
			checkResponse: func(t *testing.T, env *testEnv, rec *httptest.ResponseRecorder) {
				resp := decodeError(t, rec)
				if resp.Type != "validation" || resp.Detail != "recipient for whatsapp is required" {
					t.Errorf("unexpected error: %+v", resp)
				}
			},
		},
		{
			name: "unexpected engine error",
			requestBody: map[string]interface{}{
				"entityType": "repair",
				"entityId":   42,
				"channels":   []string{"whatsapp"},
				"recipients": map[string]string{"whatsapp": "01113511940"},
			},
			sendErr:        ErrDatabaseError,
			expectedStatus: http.StatusInternalServerError,
			checkResponse: func(t *testing.T, env *testEnv, rec *httptest.ResponseRecorder) {
				if resp := decodeError(t, rec); resp.Detail != "" {
					t.Errorf("internal errors must not leak detail, got %q", resp.Detail)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.messages.sendErr = tt.sendErr

			rec := env.do(http.MethodPost, "/v1/messages", tt.requestBody, nil)
			if rec.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.expectedStatus, rec.Code, rec.Body.String())
			}
			if tt.checkResponse != nil {
				tt.checkResponse(t, env, rec)
			}
		})
	}
}

func TestSendMessage_IdempotencyReplay(t *testing.T) {
	env := newTestEnv(t)
	env.handler.WithIdempotency(redis.NewIdempotencyService(newTestRedis(t), zap.NewNop()))

	body := map[string]interface{}{
		"entityType": "repair",
		"entityId":   42,
		"channels":   []string{"whatsapp"},
		"recipients": map[string]string{"whatsapp": "01113511940"},
		"message":    "hello",
	}
	headers := map[string]string{"Idempotency-Key": "send-42"}

	first := env.do(http.MethodPost, "/v1/messages", body, headers)
	if first.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", first.Code)
	}
	if first.Header().Get("X-Idempotency-Replayed") != "" {
		t.Error("first request must not be marked as replayed")
	}

	second := env.do(http.MethodPost, "/v1/messages", body, headers)
	if second.Code != http.StatusOK {
		t.Fatalf("second request: expected 200, got %d", second.Code)
	}
	if second.Header().Get("X-Idempotency-Replayed") != "true" {
		t.Error("expected replayed header on repeat")
	}
	if env.messages.sendCalls != 1 {
		t.Errorf("Send called %d times, want 1", env.messages.sendCalls)
	}
	if !bytes.Equal(bytes.TrimSpace(first.Body.Bytes()), bytes.TrimSpace(second.Body.Bytes())) {
		t.Errorf("replayed body differs:\n%s\n%s", first.Body.String(), second.Body.String())
	}

	// Another client may reuse the same key.
	other := map[string]string{"Idempotency-Key": "send-42", "X-Forwarded-For": "10.9.9.9"}
	if rec := env.do(http.MethodPost, "/v1/messages", body, other); rec.Header().Get("X-Idempotency-Replayed") != "" {
		t.Error("idempotency keys must be scoped per client")
	}
	if env.messages.sendCalls != 2 {
		t.Errorf("Send called %d times, want 2", env.messages.sendCalls)
	}
}

func TestSendMessage_IdempotencyReleasedOnError(t *testing.T) {
	env := newTestEnv(t)
	env.handler.WithIdempotency(redis.NewIdempotencyService(newTestRedis(t), zap.NewNop()))
	env.messages.sendErr = apperr.Validation("dispatch.Send", "message or template is required")

	body := map[string]interface{}{
		"entityType": "repair",
		"entityId":   42,
		"channels":   []string{"whatsapp"},
		"recipients": map[string]string{"whatsapp": "01113511940"},
	}
	headers := map[string]string{"Idempotency-Key": "retry-me"}

	if rec := env.do(http.MethodPost, "/v1/messages", body, headers); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	env.messages.sendErr = nil
	body["message"] = "fixed"
	rec := env.do(http.MethodPost, "/v1/messages", body, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 after fixing the request, got %d", rec.Code)
	}
	if env.messages.sendCalls != 2 {
		t.Errorf("Send called %d times, want 2", env.messages.sendCalls)
	}
}

func TestGetMessage(t *testing.T) {
	env := newTestEnv(t)
	entry := env.messages.add(&db.MessageLog{ID: uuid.New(), EntityType: "repair", EntityID: 1, Channel: "whatsapp", Status: db.StatusSent})

	tests := []struct {
		name           string
		id             string
		expectedStatus int
	}{
		{"found", entry.ID.String(), http.StatusOK},
		{"invalid uuid", "not-a-uuid", http.StatusBadRequest},
		{"not found", uuid.New().String(), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodGet, "/v1/messages/"+tt.id, nil, nil)
			if rec.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d", tt.expectedStatus, rec.Code)
			}
			if tt.expectedStatus == http.StatusOK {
				var got db.MessageLog
				if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
					t.Fatal(err)
				}
				if got.ID != entry.ID || got.Channel != "whatsapp" {
					t.Errorf("unexpected log: %+v", got)
				}
			}
		})
	}
}

func TestListMessages(t *testing.T) {
	tests := []struct {
		name           string
		query          string
		expectedStatus int
		check          func(t *testing.T, m *MockMessages)
	}{
		{
			name:           "defaults",
			query:          "",
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, m *MockMessages) {
				if m.lastLimit != 20 || m.lastOffset != 0 {
					t.Errorf("limit/offset = %d/%d, want 20/0", m.lastLimit, m.lastOffset)
				}
			},
		},
		{
			name:           "all filters",
			query:          "?entityType=invoice&entityId=15&customerId=3&channel=email&status=failed&recipient=sara&dateFrom=2025-03-01&dateTo=2025-03-31&limit=50&offset=100",
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, m *MockMessages) {
				f := m.lastFilter
				if f.EntityType != "invoice" || f.Channel != "email" || f.Status != "failed" || f.Recipient != "sara" {
					t.Errorf("string filters = %+v", f)
				}
				if f.EntityID == nil || *f.EntityID != 15 || f.CustomerID == nil || *f.CustomerID != 3 {
					t.Errorf("id filters = %v %v", f.EntityID, f.CustomerID)
				}
				if f.DateFrom == nil || !f.DateFrom.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)) {
					t.Errorf("dateFrom = %v", f.DateFrom)
				}
				if f.DateTo == nil || f.DateTo.Day() != 31 || f.DateTo.Hour() != 23 {
					t.Errorf("dateTo should cover the whole day, got %v", f.DateTo)
				}
				if m.lastLimit != 50 || m.lastOffset != 100 {
					t.Errorf("limit/offset = %d/%d", m.lastLimit, m.lastOffset)
				}
			},
		},
		{
			name:           "limit clamped",
			query:          "?limit=500",
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, m *MockMessages) {
				if m.lastLimit != 100 {
					t.Errorf("limit = %d, want 100", m.lastLimit)
				}
			},
		},
		{
			name:           "bad pagination falls back",
			query:          "?limit=abc&offset=-5",
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, m *MockMessages) {
				if m.lastLimit != 20 || m.lastOffset != 0 {
					t.Errorf("limit/offset = %d/%d", m.lastLimit, m.lastOffset)
				}
			},
		},
		{name: "unknown channel", query: "?channel=sms", expectedStatus: http.StatusBadRequest},
		{name: "bad entity id", query: "?entityId=abc", expectedStatus: http.StatusBadRequest},
		{name: "bad date", query: "?dateFrom=03/01/2025", expectedStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.messages.add(&db.MessageLog{ID: uuid.New(), Status: db.StatusSent})

			rec := env.do(http.MethodGet, "/v1/messages"+tt.query, nil, nil)
			if rec.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.expectedStatus, rec.Code, rec.Body.String())
			}
			if tt.check != nil {
				tt.check(t, env.messages)
			}
		})
	}
}

func TestListMessages_StoreError(t *testing.T) {
	env := newTestEnv(t)
	env.messages.listErr = apperr.Wrap(apperr.KindPersistence, "dispatch.ListLogs", ErrDatabaseError)

	rec := env.do(http.MethodGet, "/v1/messages", nil, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Type != "persistence_error" || resp.Detail != "" {
		t.Errorf("unexpected error: %+v", resp)
	}
}

func TestMessageStats(t *testing.T) {
	env := newTestEnv(t)
	env.messages.add(&db.MessageLog{ID: uuid.New(), Status: db.StatusSent})

	rec := env.do(http.MethodGet, "/v1/messages/stats?channel=whatsapp", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var stats db.Stats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.Summary.Total != 1 || env.messages.lastFilter.Channel != "whatsapp" {
		t.Errorf("unexpected stats %+v filter %+v", stats.Summary, env.messages.lastFilter)
	}
}

func TestRetryMessage(t *testing.T) {
	tests := []struct {
		name           string
		retryErr       error
		expectedStatus int
		expectedType   string
	}{
		{"retried", nil, http.StatusOK, ""},
		{"not failed", apperr.Conflict("dispatch.RetryFailed", "only failed messages can be retried"), http.StatusConflict, "conflict"},
		{"limit reached", apperr.Conflict("dispatch.RetryFailed", "retry limit of 3 reached"), http.StatusConflict, "conflict"},
		{"missing", apperr.NotFound("dispatch.RetryFailed", "message log not found"), http.StatusNotFound, "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.messages.retryErr = tt.retryErr
			entry := env.messages.add(&db.MessageLog{ID: uuid.New(), Status: db.StatusFailed})

			rec := env.do(http.MethodPost, "/v1/messages/"+entry.ID.String()+"/retry", nil, nil)
			if rec.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d", tt.expectedStatus, rec.Code)
			}
			if tt.expectedType != "" {
				if resp := decodeError(t, rec); resp.Type != tt.expectedType {
					t.Errorf("type = %q, want %q", resp.Type, tt.expectedType)
				}
				return
			}
			if entry.RetryCount != 1 {
				t.Errorf("retry count = %d", entry.RetryCount)
			}
		})
	}
}

func TestUpdateMessageStatus(t *testing.T) {
	tests := []struct {
		name           string
		initial        string
		requestBody    interface{}
		expectedStatus int
	}{
		{"delivered receipt", db.StatusSent, map[string]string{"status": "delivered"}, http.StatusOK},
		{"read receipt", db.StatusDelivered, map[string]string{"status": "read"}, http.StatusOK},
		{"invalid status", db.StatusSent, map[string]string{"status": "bounced"}, http.StatusBadRequest},
		{"missing status", db.StatusSent, map[string]string{}, http.StatusBadRequest},
		{"illegal transition", db.StatusRead, map[string]string{"status": "sent"}, http.StatusConflict},
		{"malformed", db.StatusSent, `{"status":`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			entry := env.messages.add(&db.MessageLog{ID: uuid.New(), Status: tt.initial})

			rec := env.do(http.MethodPatch, "/v1/messages/"+entry.ID.String()+"/status", tt.requestBody, nil)
			if rec.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.expectedStatus, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestAutomationEvents(t *testing.T) {
	tests := []struct {
		name           string
		path           string
		requestBody    interface{}
		sinkErr        error
		expectedStatus int
		expectedEvent  *sqs.Event
	}{
		{
			name: "status change",
			path: "/v1/automation/status-change",
			requestBody: map[string]interface{}{
				"entityType": "repair", "entityId": 9, "previousStatus": "RECEIVED", "newStatus": "UNDER_REPAIR",
			},
			expectedStatus: http.StatusAccepted,
			expectedEvent: &sqs.Event{
				Type: sqs.TypeStatusChanged, EntityType: "repair", EntityID: 9,
				PreviousStatus: "RECEIVED", NewStatus: "UNDER_REPAIR",
			},
		},
		{
			name:           "status change without new status",
			path:           "/v1/automation/status-change",
			requestBody:    map[string]interface{}{"entityType": "repair", "entityId": 9},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "created invoice",
			path:           "/v1/automation/created",
			requestBody:    map[string]interface{}{"entityType": "invoice", "entityId": 15},
			expectedStatus: http.StatusAccepted,
			expectedEvent:  &sqs.Event{Type: sqs.TypeCreated, EntityType: "invoice", EntityID: 15},
		},
		{
			name:           "created repair is not a creation event",
			path:           "/v1/automation/created",
			requestBody:    map[string]interface{}{"entityType": "repair", "entityId": 15},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "sink unavailable",
			path:           "/v1/automation/created",
			requestBody:    map[string]interface{}{"entityType": "payment", "entityId": 4},
			sinkErr:        errors.New("queue down"),
			expectedStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.sink.err = tt.sinkErr

			rec := env.do(http.MethodPost, tt.path, tt.requestBody, nil)
			if rec.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.expectedStatus, rec.Code, rec.Body.String())
			}
			if tt.expectedEvent == nil {
				if len(env.sink.events) != 0 {
					t.Errorf("unexpected events: %+v", env.sink.events)
				}
				return
			}
			if len(env.sink.events) != 1 {
				t.Fatalf("expected 1 event, got %d", len(env.sink.events))
			}
			if got := env.sink.events[0]; got != *tt.expectedEvent {
				t.Errorf("event = %+v, want %+v", got, *tt.expectedEvent)
			}
		})
	}
}

func TestRunSweep(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/v1/automation/sweeps/overdue", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp SweepResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Sweep != "overdue" || resp.Sent != 3 {
		t.Errorf("unexpected response: %+v", resp)
	}

	rec = env.do(http.MethodPost, "/v1/automation/sweeps/weekly", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown sweep: expected 404, got %d", rec.Code)
	}
	if len(env.sweeper.kinds) != 1 {
		t.Errorf("sweeps run = %v", env.sweeper.kinds)
	}
}

func TestListBreakers(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/v1/breakers", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Data  []circuitbreaker.Stats `json:"data"`
		Count int                    `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 1 || resp.Data[0].Name != "whatsapp" || resp.Data[0].State != "closed" {
		t.Errorf("unexpected breakers: %+v", resp)
	}
}

type recordingHooks struct {
	mu      sync.Mutex
	changes []string
	created []string
}

func (h *recordingHooks) OnEntityStatusChange(ctx context.Context, entityType string, id int64, previous, next string, actor *int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.changes = append(h.changes, entityType+":"+previous+">"+next)
}

func (h *recordingHooks) OnEntityCreated(ctx context.Context, entityType string, id int64, actor *int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.created = append(h.created, entityType)
}

func TestInlineSink(t *testing.T) {
	hooks := &recordingHooks{}
	sink := NewInlineSink(hooks, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	if err := sink.Submit(ctx, sqs.Event{Type: sqs.TypeStatusChanged, EntityType: "repair", EntityID: 1, PreviousStatus: "RECEIVED", NewStatus: "COMPLETED"}); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	if err := sink.Submit(ctx, sqs.Event{Type: sqs.TypeCreated, EntityType: "invoice", EntityID: 2}); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	// A finished request must not cancel the hooks.
	cancel()
	sink.Wait()

	if len(hooks.changes) != 1 || hooks.changes[0] != "repair:RECEIVED>COMPLETED" {
		t.Errorf("status changes = %v", hooks.changes)
	}
	if len(hooks.created) != 1 || hooks.created[0] != "invoice" {
		t.Errorf("created = %v", hooks.created)
	}

	if err := sink.Submit(context.Background(), sqs.Event{Type: "entity.deleted", EntityType: "repair", EntityID: 1}); err == nil {
		t.Error("expected invalid event to be rejected")
	}
}
