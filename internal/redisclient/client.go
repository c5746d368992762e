package redisclient

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"payment-gateway/internal/models"
	"payment-gateway/internal/service"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

//go:embed scripts/redeem_confirmation.lua
var redeemConfirmationScript string

//go:embed scripts/record_attempt.lua
var recordAttemptScript string

const (
	confirmationKeyPrefix = "conf:token:"
	sessionIndexPrefix    = "conf:session:"
	attemptKeyPrefix      = "attempts:"
	attemptWindowSeconds  = 3600
)

type Client struct {
	rdb           *redis.Client
	redeemScript  *redis.Script
	attemptScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:           rdb,
		redeemScript:  redis.NewScript(redeemConfirmationScript),
		attemptScript: redis.NewScript(recordAttemptScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// ConfirmationStore returns the Redis-backed confirmation store.
func (c *Client) ConfirmationStore() *ConfirmationStore {
	return &ConfirmationStore{client: c}
}

// AttemptStore returns the Redis-backed attempt counter.
func (c *Client) AttemptStore() *AttemptStore {
	return &AttemptStore{client: c}
}

// ConfirmationStore keeps confirmation tokens in Redis hashes with a
// per-session index. Redemption runs as a Lua script so the expiry check,
// the field comparison and the delete are one atomic step across instances.
type ConfirmationStore struct {
	client *Client
}

var _ service.ConfirmationStore = (*ConfirmationStore)(nil)

func (s *ConfirmationStore) Put(ctx context.Context, rec *models.ConfirmationRecord) error {
	key := confirmationKeyPrefix + rec.Token
	sessionKey := sessionIndexPrefix + rec.SessionID
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Millisecond
	}

	metadata := "{}"
	if len(rec.Metadata) > 0 {
		encoded, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("encode confirmation metadata: %w", err)
		}
		metadata = string(encoded)
	}

	pipe := s.client.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"amount", rec.Amount.String(),
		"currency", rec.Currency,
		"provider", string(rec.Provider),
		"user_id", rec.UserID,
		"session_id", rec.SessionID,
		"description", rec.Description,
		"metadata", metadata,
		"created_at_ms", rec.CreatedAt.UnixMilli(),
		"expires_at_ms", rec.ExpiresAt.UnixMilli(),
	)
	pipe.PExpire(ctx, key, ttl)
	pipe.Set(ctx, sessionKey, rec.Token, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store confirmation failed: %w", err)
	}
	return nil
}

func (s *ConfirmationStore) Redeem(ctx context.Context, token string, amount decimal.Decimal, currency, userID, sessionID string) (service.RedeemResult, error) {
	keys := []string{confirmationKeyPrefix + token, sessionIndexPrefix + sessionID}
	result, err := s.client.redeemScript.Run(ctx, s.client.rdb, keys,
		time.Now().UnixMilli(), amount.String(), currency, userID, sessionID).Result()
	if err != nil {
		return service.RedeemNotFound, fmt.Errorf("redeem script failed: %w", err)
	}

	code, ok := result.(int64)
	if !ok {
		return service.RedeemNotFound, fmt.Errorf("unexpected script result type")
	}
	switch code {
	case 1:
		return service.RedeemOK, nil
	case -2:
		return service.RedeemExpired, nil
	case -3:
		return service.RedeemMismatch, nil
	default:
		return service.RedeemNotFound, nil
	}
}

func (s *ConfirmationStore) Invalidate(ctx context.Context, token string) error {
	key := confirmationKeyPrefix + token
	sessionID, err := s.client.rdb.HGet(ctx, key, "session_id").Result()
	if err == nil && sessionID != "" {
		s.client.rdb.Del(ctx, sessionIndexPrefix+sessionID)
	}
	return s.client.rdb.Del(ctx, key).Err()
}

func (s *ConfirmationStore) FindBySession(ctx context.Context, sessionID string) (*models.ConfirmationRecord, error) {
	token, err := s.client.rdb.Get(ctx, sessionIndexPrefix+sessionID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session lookup failed: %w", err)
	}

	fields, err := s.client.rdb.HGetAll(ctx, confirmationKeyPrefix+token).Result()
	if err != nil {
		return nil, fmt.Errorf("confirmation lookup failed: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	amount, err := decimal.NewFromString(fields["amount"])
	if err != nil {
		return nil, fmt.Errorf("corrupt confirmation amount: %w", err)
	}
	createdMs, _ := strconv.ParseInt(fields["created_at_ms"], 10, 64)
	expiresMs, _ := strconv.ParseInt(fields["expires_at_ms"], 10, 64)

	var metadata map[string]any
	if raw := fields["metadata"]; raw != "" && raw != "{}" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			return nil, fmt.Errorf("corrupt confirmation metadata: %w", err)
		}
	}

	return &models.ConfirmationRecord{
		Token:       token,
		Amount:      amount,
		Currency:    fields["currency"],
		Provider:    models.PaymentProvider(fields["provider"]),
		UserID:      fields["user_id"],
		SessionID:   fields["session_id"],
		Description: fields["description"],
		Metadata:    metadata,
		CreatedAt:   time.UnixMilli(createdMs),
		ExpiresAt:   time.UnixMilli(expiresMs),
	}, nil
}

// Sweep is a no-op for Redis: key TTLs handle eviction.
func (s *ConfirmationStore) Sweep(_ context.Context) (int, error) {
	return 0, nil
}

// AttemptStore counts failed attempts per session in Redis. The counter key
// expires one window after the first failure.
type AttemptStore struct {
	client *Client
}

var _ service.AttemptStore = (*AttemptStore)(nil)

func (s *AttemptStore) Increment(ctx context.Context, sessionID string) (int, error) {
	result, err := s.client.attemptScript.Run(ctx, s.client.rdb,
		[]string{attemptKeyPrefix + sessionID}, attemptWindowSeconds).Result()
	if err != nil {
		return 0, fmt.Errorf("attempt script failed: %w", err)
	}
	count, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected script result type")
	}
	return int(count), nil
}

func (s *AttemptStore) Count(ctx context.Context, sessionID string) (int, error) {
	val, err := s.client.rdb.Get(ctx, attemptKeyPrefix+sessionID).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("attempt count read failed: %w", err)
	}
	count, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("corrupt attempt counter: %w", err)
	}
	return count, nil
}

func (s *AttemptStore) Clear(ctx context.Context, sessionID string) error {
	return s.client.rdb.Del(ctx, attemptKeyPrefix+sessionID).Err()
}

// Sweep is a no-op for Redis: key TTLs handle eviction.
func (s *AttemptStore) Sweep(_ context.Context) (int, error) {
	return 0, nil
}
