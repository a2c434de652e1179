package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fixzone/notifier/internal/apperr"
	"github.com/fixzone/notifier/internal/metrics"
	"github.com/fixzone/notifier/internal/phone"
)

const (
	MethodAPI = "api"
	MethodWeb = "web"

	webBaseURL = "https://wa.me/"
)

var (
	ErrWhatsAppDisabled   = errors.New("whatsapp is disabled")
	ErrNoWhatsAppMethod   = errors.New("no whatsapp delivery method is enabled")
	ErrAPINotConfigured   = errors.New("whatsapp api url or token missing")
	errMissingPhoneNumber = errors.New("recipient phone number is empty")
)

// WebLink builds the click-to-chat URL for a normalized number.
func WebLink(normalized, text string) string {
	return webBaseURL + normalized + "?text=" + url.QueryEscape(text)
}

type APIConfig struct {
	Timeout time.Duration
	// RatePerSecond paces outbound API calls. Zero disables pacing.
	RatePerSecond float64
}

// WhatsAppAPI posts messages to the provider's HTTP API.
type WhatsAppAPI struct {
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewWhatsAppAPI(cfg APIConfig, logger *zap.Logger) *WhatsAppAPI {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}

	return &WhatsAppAPI{
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		logger:  logger,
	}
}

type apiRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

type apiResponse struct {
	MessageID string `json:"messageId"`
	ID        string `json:"id"`
}

// Send expects msg.Recipient to be normalized already.
func (s *WhatsAppAPI) Send(ctx context.Context, msg *Message) (*Result, error) {
	cfg := msg.Settings.WhatsApp
	if !cfg.APIConfigured() {
		return nil, apperr.Wrap(apperr.KindConfiguration, "whatsapp", ErrAPINotConfigured)
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("wait for whatsapp rate limit: %w", err)
		}
	}

	body, err := json.Marshal(apiRequest{Phone: msg.Recipient, Message: msg.Body})
	if err != nil {
		return nil, fmt.Errorf("marshal whatsapp request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create whatsapp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.APIToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransport, "whatsapp api", err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperr.Wrap(apperr.KindTransport, "whatsapp api",
			fmt.Errorf("non-2xx status: %d, body: %s", resp.StatusCode, string(bodyBytes)))
	}

	var parsed apiResponse
	_ = json.Unmarshal(bodyBytes, &parsed)
	id := parsed.MessageID
	if id == "" {
		id = parsed.ID
	}

	s.logger.Info("whatsapp api accepted message",
		zap.String("phone", msg.Recipient),
		zap.Int("status_code", resp.StatusCode),
		zap.String("message_id", id),
	)

	return &Result{
		Method:    MethodAPI,
		MessageID: id,
		Response:  string(bodyBytes),
	}, nil
}

func (s *WhatsAppAPI) SupportsChannel(channel string) bool {
	return channel == WhatsApp
}

// WhatsAppSender normalizes the number and prefers the API method, falling back
// to a Web link when the API fails and the Web method is enabled.
type WhatsAppSender struct {
	api    Sender
	logger *zap.Logger
}

// NewWhatsAppSender takes the API sender, usually wrapped in a circuit breaker.
func NewWhatsAppSender(api Sender, logger *zap.Logger) *WhatsAppSender {
	return &WhatsAppSender{api: api, logger: logger}
}

func (s *WhatsAppSender) Send(ctx context.Context, msg *Message) (*Result, error) {
	cfg := msg.Settings.WhatsApp
	if !cfg.Enabled {
		return nil, apperr.Wrap(apperr.KindConfiguration, "whatsapp", ErrWhatsAppDisabled)
	}

	normalized := phone.Normalize(msg.Recipient, cfg.CountryCode)
	if normalized == "" {
		return nil, apperr.Wrap(apperr.KindValidation, "whatsapp", errMissingPhoneNumber)
	}

	extra := map[string]any{"phone": normalized}
	if !phone.Valid(normalized) {
		extra["phoneSuspicious"] = true
	}

	if cfg.APIConfigured() && s.api != nil {
		out := *msg
		out.Recipient = normalized

		res, err := s.api.Send(ctx, &out)
		if err == nil {
			mergeExtra(res, extra)
			return res, nil
		}

		if !cfg.WebEnabled {
			return nil, err
		}

		s.logger.Warn("whatsapp api failed, falling back to web link",
			zap.String("phone", normalized),
			zap.Error(err),
		)
		metrics.RecordWhatsAppFallback()
		extra["apiError"] = err.Error()
	}

	if !cfg.WebEnabled {
		return nil, apperr.Wrap(apperr.KindConfiguration, "whatsapp", ErrNoWhatsAppMethod)
	}

	return &Result{
		Method: MethodWeb,
		URL:    WebLink(normalized, msg.Body),
		Extra:  extra,
	}, nil
}

func (s *WhatsAppSender) SupportsChannel(channel string) bool {
	return channel == WhatsApp
}

func mergeExtra(res *Result, extra map[string]any) {
	if res.Extra == nil {
		res.Extra = make(map[string]any, len(extra))
	}
	for k, v := range extra {
		res.Extra[k] = v
	}
}
