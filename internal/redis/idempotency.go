package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fixzone/notifier/internal/metrics"
)

const (
	// IdempotencyTTL is how long a completed send is replayed for a repeated key.
	IdempotencyTTL = 24 * time.Hour

	// processingTTL bounds the reservation while a send is in flight.
	processingTTL = 2 * time.Minute

	processingMarker = "processing"
)

// ErrDuplicateRequest indicates the key is reserved by a send still in flight.
var ErrDuplicateRequest = errors.New("duplicate request: idempotency key already exists")

// CachedResponse is the stored outcome of an idempotent send.
type CachedResponse struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body"`
	CreatedAt  int64           `json:"created_at"`
}

// IdempotencyService makes POST /v1/messages replay-safe per caller and key.
type IdempotencyService struct {
	client *Client
	logger *zap.Logger
}

func NewIdempotencyService(client *Client, logger *zap.Logger) *IdempotencyService {
	return &IdempotencyService{
		client: client,
		logger: logger,
	}
}

func (s *IdempotencyService) buildKey(scope, idempotencyKey string) string {
	return fmt.Sprintf("notifier:idempotency:%s:%s", scope, idempotencyKey)
}

// Check returns (nil, nil) when the key is unknown, the cached response when
// the send completed, or ErrDuplicateRequest while it is still running.
func (s *IdempotencyService) Check(ctx context.Context, scope, idempotencyKey string) (*CachedResponse, error) {
	val, err := s.client.rdb.Get(ctx, s.buildKey(scope, idempotencyKey)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	if val == processingMarker {
		return nil, ErrDuplicateRequest
	}

	var cached CachedResponse
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		s.logger.Error("failed to unmarshal idempotency result", zap.Error(err))
		return nil, fmt.Errorf("invalid cached result: %w", err)
	}

	metrics.RecordIdempotencyHit()
	s.logger.Debug("idempotency cache hit",
		zap.String("scope", scope),
		zap.Int("status_code", cached.StatusCode),
	)
	return &cached, nil
}

// Store replaces the reservation with the final response.
func (s *IdempotencyService) Store(ctx context.Context, scope, idempotencyKey string, resp *CachedResponse, ttl time.Duration) error {
	if resp.CreatedAt == 0 {
		resp.CreatedAt = time.Now().Unix()
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := s.client.rdb.Set(ctx, s.buildKey(scope, idempotencyKey), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Reserve claims the key with SET NX. It reports false when the key exists.
func (s *IdempotencyService) Reserve(ctx context.Context, scope, idempotencyKey string) (bool, error) {
	set, err := s.client.rdb.SetNX(ctx, s.buildKey(scope, idempotencyKey), processingMarker, processingTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return set, nil
}

// Release drops a reservation so a rejected request can be corrected and resent.
func (s *IdempotencyService) Release(ctx context.Context, scope, idempotencyKey string) error {
	if err := s.client.rdb.Del(ctx, s.buildKey(scope, idempotencyKey)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// CheckOrReserve returns a cached response, or reserves the key and returns nil.
func (s *IdempotencyService) CheckOrReserve(ctx context.Context, scope, idempotencyKey string) (*CachedResponse, error) {
	cached, err := s.Check(ctx, scope, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return cached, nil
	}

	reserved, err := s.Reserve(ctx, scope, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if !reserved {
		return nil, ErrDuplicateRequest
	}
	return nil, nil
}
