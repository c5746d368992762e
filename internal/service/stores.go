package service

import (
	"context"
	"sync"
	"time"

	"payment-gateway/internal/models"

	"github.com/shopspring/decimal"
)

// RedeemResult is the outcome of an atomic confirmation-token redemption.
type RedeemResult int

const (
	RedeemOK RedeemResult = iota
	RedeemNotFound
	RedeemExpired
	RedeemMismatch
)

// ConfirmationStore holds active confirmation records. Redeem is the
// critical operation: the expiry check, the field comparison and the delete
// must be one indivisible step so a token can never be used twice, even
// under concurrent redemption attempts. The in-memory implementation below
// is the reference; a Redis-backed implementation serves multi-instance
// deployments.
type ConfirmationStore interface {
	Put(ctx context.Context, rec *models.ConfirmationRecord) error
	Redeem(ctx context.Context, token string, amount decimal.Decimal, currency, userID, sessionID string) (RedeemResult, error)
	Invalidate(ctx context.Context, token string) error
	FindBySession(ctx context.Context, sessionID string) (*models.ConfirmationRecord, error)
	Sweep(ctx context.Context) (int, error)
}

// AttemptStore counts failed payment attempts per session within a fixed
// window. Increment is atomic.
type AttemptStore interface {
	Increment(ctx context.Context, sessionID string) (int, error)
	Count(ctx context.Context, sessionID string) (int, error)
	Clear(ctx context.Context, sessionID string) error
	Sweep(ctx context.Context) (int, error)
}

// MemoryConfirmationStore is the in-process ConfirmationStore.
type MemoryConfirmationStore struct {
	mu      sync.Mutex
	records map[string]*models.ConfirmationRecord
	now     func() time.Time
}

func NewMemoryConfirmationStore() *MemoryConfirmationStore {
	return &MemoryConfirmationStore{
		records: make(map[string]*models.ConfirmationRecord),
		now:     time.Now,
	}
}

func (s *MemoryConfirmationStore) Put(_ context.Context, rec *models.ConfirmationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Token] = rec
	return nil
}

func (s *MemoryConfirmationStore) Redeem(_ context.Context, token string, amount decimal.Decimal, currency, userID, sessionID string) (RedeemResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[token]
	if !ok {
		return RedeemNotFound, nil
	}
	if rec.Expired(s.now()) {
		delete(s.records, token)
		return RedeemExpired, nil
	}
	if !rec.Amount.Equal(amount) || rec.Currency != currency ||
		rec.UserID != userID || rec.SessionID != sessionID {
		return RedeemMismatch, nil
	}
	delete(s.records, token)
	return RedeemOK, nil
}

func (s *MemoryConfirmationStore) Invalidate(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, token)
	return nil
}

func (s *MemoryConfirmationStore) FindBySession(_ context.Context, sessionID string) (*models.ConfirmationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.SessionID == sessionID {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryConfirmationStore) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for token, rec := range s.records {
		if rec.Expired(now) {
			delete(s.records, token)
			removed++
		}
	}
	return removed, nil
}

// attemptWindow is the fixed window after which a session's failure count
// resets.
const attemptWindow = time.Hour

type attemptEntry struct {
	count       int
	windowStart time.Time
}

// MemoryAttemptStore is the in-process AttemptStore.
type MemoryAttemptStore struct {
	mu      sync.Mutex
	entries map[string]*attemptEntry
	now     func() time.Time
}

func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{
		entries: make(map[string]*attemptEntry),
		now:     time.Now,
	}
}

func (s *MemoryAttemptStore) Increment(_ context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	entry, ok := s.entries[sessionID]
	if !ok || now.Sub(entry.windowStart) > attemptWindow {
		entry = &attemptEntry{windowStart: now}
		s.entries[sessionID] = entry
	}
	entry.count++
	return entry.count, nil
}

func (s *MemoryAttemptStore) Count(_ context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[sessionID]
	if !ok || s.now().Sub(entry.windowStart) > attemptWindow {
		return 0, nil
	}
	return entry.count, nil
}

func (s *MemoryAttemptStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, sessionID)
	return nil
}

func (s *MemoryAttemptStore) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for sessionID, entry := range s.entries {
		if now.Sub(entry.windowStart) > attemptWindow {
			delete(s.entries, sessionID)
			removed++
		}
	}
	return removed, nil
}
