package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Security event kinds
type SecurityEventType string

const (
	EventPaymentAttempt       SecurityEventType = "PAYMENT_ATTEMPT"
	EventPaymentSuccess       SecurityEventType = "PAYMENT_SUCCESS"
	EventPaymentFailure       SecurityEventType = "PAYMENT_FAILURE"
	EventCvvValidationFailed  SecurityEventType = "CVV_VALIDATION_FAILED"
	EventRateLimitExceeded    SecurityEventType = "RATE_LIMIT_EXCEEDED"
	EventSuspiciousActivity   SecurityEventType = "SUSPICIOUS_ACTIVITY"
	EventUnauthorizedAccess   SecurityEventType = "UNAUTHORIZED_ACCESS"
	EventDataBreachAttempt    SecurityEventType = "DATA_BREACH_ATTEMPT"
	EventAmountConfirmation   SecurityEventType = "AMOUNT_CONFIRMATION"
)

// SecurityEvent is one append-only audit log entry. Sensitive fields are
// masked before the event is logged or persisted.
type SecurityEvent struct {
	Type         SecurityEventType `json:"event_type"`
	UserID       string            `json:"user_id,omitempty"`
	SessionID    string            `json:"session_id,omitempty"`
	IPAddress    string            `json:"ip_address,omitempty"`
	UserAgent    string            `json:"user_agent,omitempty"`
	Amount       *decimal.Decimal  `json:"amount,omitempty"`
	Currency     string            `json:"currency,omitempty"`
	Provider     PaymentProvider   `json:"provider,omitempty"`
	PaymentID    string            `json:"payment_id,omitempty"`
	ErrorCode    string            `json:"error_code,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Metadata     map[string]any    `json:"metadata,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}
