package models

import (
	"errors"
	"fmt"
)

// Precondition errors surfaced to the caller. No partial state change occurs
// when any of these is returned.
var (
	ErrPaymentNotFound          = errors.New("payment not found")
	ErrNotRefundable            = errors.New("payment cannot be refunded")
	ErrNotCancellable           = errors.New("payment cannot be cancelled")
	ErrUnknownProvider          = errors.New("unknown payment provider")
	ErrConfirmationNotFound     = errors.New("confirmation token invalid or already used")
	ErrConfirmationExpired      = errors.New("confirmation token has expired")
	ErrConfirmationMismatch     = errors.New("payment data does not match the confirmation")
	ErrSessionNotFound          = errors.New("no active payment session for this id")
	ErrVerificationCodeRequired = errors.New("card verification code is required")
	ErrRefundFailed             = errors.New("refund failed")
)

// InvalidTransitionError reports an illegal state-machine transition.
type InvalidTransitionError struct {
	From PaymentStatus
	To   PaymentStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot transition from %s to %s", e.From, e.To)
}

// InvalidAmountError reports an amount outside the per-currency band.
type InvalidAmountError struct {
	Reason string
}

func (e *InvalidAmountError) Error() string {
	return e.Reason
}

// RateLimitError is returned when a session exceeded the failed-attempt
// limit. It is a distinct, structured outcome rather than a generic error.
type RateLimitError struct {
	MaxAttempts     int    `json:"maxAttempts"`
	CurrentAttempts int    `json:"currentAttempts"`
	RetryAfter      string `json:"retryAfter"`
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("payment attempt limit exceeded (%d/%d), retry after %s",
		e.CurrentAttempts, e.MaxAttempts, e.RetryAfter)
}
