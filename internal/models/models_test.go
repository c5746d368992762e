package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPayment() *Payment {
	return NewPayment("pay_test", decimal.NewFromFloat(100.50), "USD", ProviderCard, nil)
}

func TestNewPaymentStartsPending(t *testing.T) {
	p := newTestPayment()
	assert.Equal(t, StatusPending, p.Status())
	assert.True(t, p.CanBeCancelled())
	assert.False(t, p.CanBeRefunded())
}

func TestTransitionHappyPath(t *testing.T) {
	p := newTestPayment()

	require.NoError(t, p.Transition(StatusProcessing))
	require.NoError(t, p.Transition(StatusCompleted))
	require.NoError(t, p.Transition(StatusRefunded))
	assert.Equal(t, StatusRefunded, p.Status())
}

func TestTransitionRejectsIllegalMoves(t *testing.T) {
	tests := []struct {
		name string
		path []PaymentStatus
		next PaymentStatus
	}{
		{"pending to completed", nil, StatusCompleted},
		{"pending to refunded", nil, StatusRefunded},
		{"processing to cancelled", []PaymentStatus{StatusProcessing}, StatusCancelled},
		{"completed to processing", []PaymentStatus{StatusProcessing, StatusCompleted}, StatusProcessing},
		{"failed is terminal", []PaymentStatus{StatusProcessing, StatusFailed}, StatusProcessing},
		{"cancelled is terminal", []PaymentStatus{StatusCancelled}, StatusProcessing},
		{"refunded is terminal", []PaymentStatus{StatusProcessing, StatusCompleted, StatusRefunded}, StatusCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPayment()
			for _, status := range tt.path {
				require.NoError(t, p.Transition(status))
			}
			before := p.Status()

			err := p.Transition(tt.next)
			require.Error(t, err)

			var transitionErr *InvalidTransitionError
			require.ErrorAs(t, err, &transitionErr)
			assert.Equal(t, before, transitionErr.From)
			assert.Equal(t, tt.next, transitionErr.To)
			assert.Equal(t, before, p.Status(), "status must not change on a rejected transition")
		})
	}
}

func TestCanBeRefundedRequiresCompletedAndPositiveAmount(t *testing.T) {
	p := newTestPayment()
	require.NoError(t, p.Transition(StatusProcessing))
	require.NoError(t, p.Transition(StatusCompleted))
	assert.True(t, p.CanBeRefunded())

	zero := NewPayment("pay_zero", decimal.Zero, "USD", ProviderCard, nil)
	require.NoError(t, zero.Transition(StatusProcessing))
	require.NoError(t, zero.Transition(StatusCompleted))
	assert.False(t, zero.CanBeRefunded())
}

func TestCanBeCancelledOnlyWhilePending(t *testing.T) {
	p := newTestPayment()
	assert.True(t, p.CanBeCancelled())

	require.NoError(t, p.Transition(StatusProcessing))
	assert.False(t, p.CanBeCancelled())
}

func TestMetadataIsCopied(t *testing.T) {
	meta := map[string]any{"order_id": "ord-1"}
	p := NewPayment("pay_meta", decimal.NewFromInt(10), "USD", ProviderPayPal, meta)

	meta["order_id"] = "tampered"
	assert.Equal(t, "ord-1", p.Metadata()["order_id"])

	p.AddMetadata("refund_reason", "duplicate")
	got := p.Metadata()
	got["refund_reason"] = "tampered"
	assert.Equal(t, "duplicate", p.Metadata()["refund_reason"])
}

func TestSnapshotReflectsCurrentState(t *testing.T) {
	p := newTestPayment()
	require.NoError(t, p.Transition(StatusProcessing))
	p.AddMetadata("provider_transaction_id", "pi_123")

	view := p.Snapshot()
	assert.Equal(t, "pay_test", view.ID)
	assert.Equal(t, StatusProcessing, view.Status)
	assert.Equal(t, "pi_123", view.Metadata["provider_transaction_id"])
	assert.True(t, view.Amount.Equal(decimal.NewFromFloat(100.50)))
}

func TestSnapshotSerializationOmitsInternal(t *testing.T) {
	p := newTestPayment()
	data, err := json.Marshal(p.Snapshot())
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "PENDING", out["status"])
	assert.NotContains(t, out, "mu")
}

func TestConfirmationRecordExpired(t *testing.T) {
	deadline := time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC)
	rec := &ConfirmationRecord{ExpiresAt: deadline}

	assert.False(t, rec.Expired(deadline.Add(-time.Second)))
	assert.False(t, rec.Expired(deadline))
	assert.True(t, rec.Expired(deadline.Add(time.Second)))
}
