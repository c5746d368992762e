package models

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Payment statuses
type PaymentStatus string

const (
	StatusPending    PaymentStatus = "PENDING"
	StatusProcessing PaymentStatus = "PROCESSING"
	StatusCompleted  PaymentStatus = "COMPLETED"
	StatusFailed     PaymentStatus = "FAILED"
	StatusCancelled  PaymentStatus = "CANCELLED"
	StatusRefunded   PaymentStatus = "REFUNDED"
)

// Payment providers
type PaymentProvider string

const (
	ProviderCard         PaymentProvider = "card"
	ProviderPayPal       PaymentProvider = "paypal"
	ProviderBankRedirect PaymentProvider = "bank_redirect"
)

// validTransitions is the legal-transition table. Terminal states have no
// outgoing transitions, which prevents resurrecting finished payments.
var validTransitions = map[PaymentStatus][]PaymentStatus{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusCompleted:  {StatusRefunded},
	StatusFailed:     {},
	StatusCancelled:  {},
	StatusRefunded:   {},
}

// Payment is the transactional aggregate. Status and metadata are guarded by
// an internal mutex so concurrent operations on the same payment serialize:
// Transition is check-and-set, never check-then-act across a gap.
type Payment struct {
	mu sync.Mutex

	ID        string
	Amount    decimal.Decimal
	Currency  string
	Provider  PaymentProvider
	CreatedAt time.Time

	status    PaymentStatus
	metadata  map[string]any
	updatedAt time.Time
}

// NewPayment creates a payment in PENDING state.
func NewPayment(id string, amount decimal.Decimal, currency string, provider PaymentProvider, metadata map[string]any) *Payment {
	now := time.Now()
	meta := make(map[string]any, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}
	return &Payment{
		ID:        id,
		Amount:    amount,
		Currency:  currency,
		Provider:  provider,
		CreatedAt: now,
		status:    StatusPending,
		metadata:  meta,
		updatedAt: now,
	}
}

// Status returns the current payment status.
func (p *Payment) Status() PaymentStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// UpdatedAt returns the time of the last status or metadata change.
func (p *Payment) UpdatedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.updatedAt
}

// Transition moves the payment to next if the legal-transition table allows
// it. Check and update happen atomically under the entity lock; on failure
// the status is unchanged.
func (p *Payment) Transition(next PaymentStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, allowed := range validTransitions[p.status] {
		if allowed == next {
			p.status = next
			p.updatedAt = time.Now()
			return nil
		}
	}
	return &InvalidTransitionError{From: p.status, To: next}
}

// CanBeRefunded reports whether a refund is legal for this payment.
func (p *Payment) CanBeRefunded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status == StatusCompleted && p.Amount.IsPositive()
}

// CanBeCancelled reports whether the payment can still be cancelled.
func (p *Payment) CanBeCancelled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status == StatusPending
}

// AddMetadata upserts a metadata entry and touches updatedAt. It never fails.
func (p *Payment) AddMetadata(key string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.metadata == nil {
		p.metadata = make(map[string]any)
	}
	p.metadata[key] = value
	p.updatedAt = time.Now()
}

// Metadata returns a copy of the metadata map.
func (p *Payment) Metadata() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	meta := make(map[string]any, len(p.metadata))
	for k, v := range p.metadata {
		meta[k] = v
	}
	return meta
}

// PaymentView is the public projection of a payment. Card verification data
// is never part of it.
type PaymentView struct {
	ID        string          `db:"id" json:"id"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	Currency  string          `db:"currency" json:"currency"`
	Provider  PaymentProvider `db:"provider" json:"provider"`
	Status    PaymentStatus   `db:"status" json:"status"`
	Metadata  map[string]any  `db:"-" json:"metadata,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// Snapshot returns a consistent public projection of the payment.
func (p *Payment) Snapshot() PaymentView {
	p.mu.Lock()
	defer p.mu.Unlock()
	meta := make(map[string]any, len(p.metadata))
	for k, v := range p.metadata {
		meta[k] = v
	}
	return PaymentView{
		ID:        p.ID,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Provider:  p.Provider,
		Status:    p.status,
		Metadata:  meta,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.updatedAt,
	}
}

// ConfirmationRecord binds a reviewed amount to a single-use token.
type ConfirmationRecord struct {
	Token       string
	Amount      decimal.Decimal
	Currency    string
	Provider    PaymentProvider
	UserID      string
	SessionID   string
	Description string
	Metadata    map[string]any
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the record is past its deadline at the given time.
func (c *ConfirmationRecord) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// PaymentErrorRecord is one entry in a payment's error history.
type PaymentErrorRecord struct {
	PaymentID  string          `db:"payment_id"`
	Code       string          `db:"code"`
	Message    string          `db:"message"`
	Provider   PaymentProvider `db:"provider"`
	FailedTxID string          `db:"failed_tx_id"`
	Details    map[string]any  `db:"-"`
	CreatedAt  time.Time       `db:"created_at"`
}
