package processor

import (
	"context"
	"fmt"
	"sync"

	"payment-gateway/internal/models"

	"github.com/shopspring/decimal"
)

// sentinelDeclineAmount deterministically simulates a provider rejection.
// Documented test hook: any settlement for exactly this amount fails.
var sentinelDeclineAmount = decimal.NewFromInt(666)

// SentinelDeclineAmount returns the amount that always provokes a mock
// provider decline.
func SentinelDeclineAmount() decimal.Decimal {
	return sentinelDeclineAmount
}

// Request carries the settlement input for a single payment attempt. The
// verification code is transient: processors use it for the provider call
// and must never log or persist it.
type Request struct {
	PaymentID        string
	Amount           decimal.Decimal
	Currency         string
	Description      string
	CustomerID       string // card-direct
	ReturnURL        string // bank-redirect
	CancelURL        string // paypal-order
	CommitToken      string // bank-redirect commit leg
	SessionID        string
	VerificationCode string
	Metadata         map[string]any
}

// Result is the normalized outcome of a settlement call.
type Result struct {
	ProviderID            string
	Status                models.PaymentStatus
	Amount                decimal.Decimal
	Currency              string
	ProviderTransactionID string
	Raw                   map[string]any
}

// RefundResult is the normalized outcome of a refund call.
type RefundResult struct {
	RefundID string
	Status   models.PaymentStatus
	Amount   decimal.Decimal
	Currency string
}

// CancelResult is the normalized outcome of a provider-side cancellation.
type CancelResult struct {
	ID     string
	Status models.PaymentStatus
}

// ProviderError reports a settlement failure with a human-readable reason.
// The orchestrator annotates it with the synthesized failed-transaction id
// before returning it to the caller.
type ProviderError struct {
	Provider            models.PaymentProvider
	Code                string
	Reason              string
	FailedTransactionID string
}

func (e *ProviderError) Error() string {
	if e.FailedTransactionID != "" {
		return fmt.Sprintf("%s payment failed [%s]: %s", e.Provider, e.FailedTransactionID, e.Reason)
	}
	return fmt.Sprintf("%s payment failed: %s", e.Provider, e.Reason)
}

// Processor executes settlement actions against one external provider.
// Implementations map the provider's status vocabulary to the canonical
// payment statuses; unknown provider statuses map to PENDING.
type Processor interface {
	ProcessPayment(ctx context.Context, req *Request) (*Result, error)
	RefundPayment(ctx context.Context, providerPaymentID string, amount *decimal.Decimal) (*RefundResult, error)
	CancelPayment(ctx context.Context, providerPaymentID string) (*CancelResult, error)
	GetPaymentStatus(ctx context.Context, providerPaymentID string) (models.PaymentStatus, error)
	// HandleWebhook interprets a provider notification. It must be
	// idempotent under at-least-once delivery and must not fail on
	// unrecognized event kinds.
	HandleWebhook(ctx context.Context, payload []byte) error
}

// WebhookRecorder marks webhook event ids as processed so duplicate
// deliveries do not double-apply a transition.
type WebhookRecorder interface {
	IsProcessed(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID, eventType string) error
}

// StatusApplier applies a provider-reported status to the owning payment.
// Implemented by the orchestration service.
type StatusApplier interface {
	ApplyProviderStatus(ctx context.Context, providerPaymentID string, status models.PaymentStatus, txID string) error
}

// MemoryWebhookRecorder is the in-process WebhookRecorder, used when no
// durable store is configured and in tests.
type MemoryWebhookRecorder struct {
	mu   sync.Mutex
	seen map[string]string
}

func NewMemoryWebhookRecorder() *MemoryWebhookRecorder {
	return &MemoryWebhookRecorder{seen: make(map[string]string)}
}

func (r *MemoryWebhookRecorder) IsProcessed(_ context.Context, eventID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.seen[eventID]
	return ok, nil
}

func (r *MemoryWebhookRecorder) MarkProcessed(_ context.Context, eventID, eventType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen[eventID] = eventType
	return nil
}
