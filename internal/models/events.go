package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypePaymentSucceeded     = "PAYMENT_SUCCEEDED"
	EventTypePaymentFailed        = "PAYMENT_FAILED"
	EventTypePaymentRefunded      = "PAYMENT_REFUNDED"
	EventTypePaymentCancelled     = "PAYMENT_CANCELLED"
	EventTypeProviderNotification = "PROVIDER_NOTIFICATION"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// PaymentSucceededEvent published when a payment reaches COMPLETED
type PaymentSucceededEvent struct {
	BaseEvent
	PaymentID             string          `json:"payment_id"`
	Provider              PaymentProvider `json:"provider"`
	Amount                decimal.Decimal `json:"amount"`
	Currency              string          `json:"currency"`
	ProviderTransactionID string          `json:"provider_transaction_id"`
}

// PaymentFailedEvent published when a settlement attempt fails
type PaymentFailedEvent struct {
	BaseEvent
	PaymentID  string          `json:"payment_id"`
	Provider   PaymentProvider `json:"provider"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Reason     string          `json:"reason"`
	FailedTxID string          `json:"failed_tx_id"`
}

// PaymentRefundedEvent published when a payment is refunded
type PaymentRefundedEvent struct {
	BaseEvent
	PaymentID    string          `json:"payment_id"`
	Provider     PaymentProvider `json:"provider"`
	RefundID     string          `json:"refund_id"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
	Currency     string          `json:"currency"`
}

// PaymentCancelledEvent published when a pending payment is cancelled
type PaymentCancelledEvent struct {
	BaseEvent
	PaymentID string          `json:"payment_id"`
	Provider  PaymentProvider `json:"provider"`
}

// ProviderNotificationEvent carries an opaque provider webhook payload that
// a worker feeds back into webhook handling.
type ProviderNotificationEvent struct {
	BaseEvent
	Provider PaymentProvider `json:"provider"`
	Payload  json.RawMessage `json:"payload"`
}
