package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"payment-gateway/internal/models"
	"payment-gateway/internal/processor"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingPublisher struct {
	succeeded []*models.PaymentSucceededEvent
	failed    []*models.PaymentFailedEvent
	refunded  []*models.PaymentRefundedEvent
	cancelled []*models.PaymentCancelledEvent
}

func (p *capturingPublisher) PublishPaymentSucceeded(_ context.Context, e *models.PaymentSucceededEvent) error {
	p.succeeded = append(p.succeeded, e)
	return nil
}

func (p *capturingPublisher) PublishPaymentFailed(_ context.Context, e *models.PaymentFailedEvent) error {
	p.failed = append(p.failed, e)
	return nil
}

func (p *capturingPublisher) PublishPaymentRefunded(_ context.Context, e *models.PaymentRefundedEvent) error {
	p.refunded = append(p.refunded, e)
	return nil
}

func (p *capturingPublisher) PublishPaymentCancelled(_ context.Context, e *models.PaymentCancelledEvent) error {
	p.cancelled = append(p.cancelled, e)
	return nil
}

func newTestPaymentService(t *testing.T) (*PaymentService, *SecurityAuditService, *capturingPublisher) {
	t.Helper()
	audit := NewSecurityAuditService("test", NewMemoryAttemptStore(), nil)
	publisher := &capturingPublisher{}

	registry := processor.NewRegistry()
	svc := NewPaymentService(registry, nil, publisher, audit)

	registry.Register(models.ProviderCard,
		processor.NewCardProcessor("sk_test", processor.NewMemoryWebhookRecorder(), svc))
	registry.Register(models.ProviderBankRedirect,
		processor.NewBankRedirectProcessor("597055555532", ""))
	registry.Register(models.ProviderPayPal,
		processor.NewPayPalProcessor("client-test", "sandbox", processor.NewMemoryWebhookRecorder(), svc))
	return svc, audit, publisher
}

func cardRequest(amount float64) *ProcessRequest {
	return &ProcessRequest{
		Provider:         models.ProviderCard,
		Amount:           decimal.NewFromFloat(amount),
		Currency:         "USD",
		Description:      "order #1",
		CustomerID:       "cus_42",
		VerificationCode: "123",
		Security: SecurityContext{
			UserID:    "user-12345",
			SessionID: "sess-12345",
			IPAddress: "192.168.1.42",
		},
	}
}

func TestProcessPaymentCardHappyPath(t *testing.T) {
	svc, _, publisher := newTestPaymentService(t)

	view, err := svc.ProcessPayment(context.Background(), cardRequest(100.50))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(view.ID, "pay_"))
	assert.Equal(t, models.StatusCompleted, view.Status)
	assert.True(t, view.Amount.Equal(decimal.NewFromFloat(100.50)))

	txID, _ := view.Metadata["provider_transaction_id"].(string)
	assert.True(t, strings.HasPrefix(txID, "ch_"))

	require.Len(t, publisher.succeeded, 1)
	assert.Equal(t, view.ID, publisher.succeeded[0].PaymentID)
	assert.Equal(t, models.EventTypePaymentSucceeded, publisher.succeeded[0].EventType)
}

func TestProcessPaymentSentinelDecline(t *testing.T) {
	svc, audit, publisher := newTestPaymentService(t)
	ctx := context.Background()

	_, err := svc.ProcessPayment(ctx, cardRequest(666))
	require.Error(t, err)

	var provErr *processor.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "card_declined", provErr.Code)
	assert.True(t, strings.HasPrefix(provErr.FailedTransactionID, "failed_card_pay_"))

	require.Len(t, publisher.failed, 1)
	assert.Equal(t, provErr.FailedTransactionID, publisher.failed[0].FailedTxID)

	// The failed payment is kept, in FAILED, with the failure recorded.
	view, err := svc.GetPayment(ctx, publisher.failed[0].PaymentID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, view.Status)
	assert.Equal(t, provErr.FailedTransactionID, view.Metadata["failed_transaction_id"])

	// The failure counts toward the session attempt limit.
	assert.Equal(t, 1, audit.FailedAttemptCount(ctx, "sess-12345"))
}

func TestProcessPaymentUnknownProvider(t *testing.T) {
	svc, _, _ := newTestPaymentService(t)

	_, err := svc.ProcessPayment(context.Background(), &ProcessRequest{
		Provider: "carrier_pigeon",
		Amount:   decimal.NewFromInt(10),
		Currency: "USD",
	})
	assert.ErrorIs(t, err, models.ErrUnknownProvider)
}

func TestRefundPayment(t *testing.T) {
	svc, _, publisher := newTestPaymentService(t)
	ctx := context.Background()

	view, err := svc.ProcessPayment(ctx, cardRequest(100.50))
	require.NoError(t, err)

	refunded, err := svc.RefundPayment(ctx, view.ID, nil, "customer request")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRefunded, refunded.Status)
	assert.Equal(t, "customer request", refunded.Metadata["refund_reason"])
	assert.Equal(t, "100.5", refunded.Metadata["refund_amount"])

	require.Len(t, publisher.refunded, 1)
	assert.True(t, publisher.refunded[0].RefundAmount.Equal(decimal.NewFromFloat(100.50)))

	// A refunded payment cannot be refunded again.
	_, err = svc.RefundPayment(ctx, view.ID, nil, "")
	assert.ErrorIs(t, err, models.ErrNotRefundable)
}

func TestRefundPaymentPartialAmount(t *testing.T) {
	svc, _, publisher := newTestPaymentService(t)
	ctx := context.Background()

	view, err := svc.ProcessPayment(ctx, cardRequest(100))
	require.NoError(t, err)

	partial := decimal.NewFromInt(40)
	refunded, err := svc.RefundPayment(ctx, view.ID, &partial, "")
	require.NoError(t, err)
	assert.Equal(t, "40", refunded.Metadata["refund_amount"])
	require.Len(t, publisher.refunded, 1)
	assert.True(t, publisher.refunded[0].RefundAmount.Equal(partial))
}

func TestRefundPaymentGuards(t *testing.T) {
	svc, _, _ := newTestPaymentService(t)
	ctx := context.Background()

	_, err := svc.RefundPayment(ctx, "pay_missing", nil, "")
	assert.ErrorIs(t, err, models.ErrPaymentNotFound)

	pending := models.NewPayment("pay_pending", decimal.NewFromInt(10), "USD", models.ProviderCard, nil)
	svc.mu.Lock()
	svc.payments[pending.ID] = pending
	svc.mu.Unlock()

	_, err = svc.RefundPayment(ctx, pending.ID, nil, "")
	assert.ErrorIs(t, err, models.ErrNotRefundable)
}

func TestCancelPayment(t *testing.T) {
	svc, _, publisher := newTestPaymentService(t)
	ctx := context.Background()

	pending := models.NewPayment("pay_pending", decimal.NewFromInt(10), "USD", models.ProviderCard, nil)
	svc.mu.Lock()
	svc.payments[pending.ID] = pending
	svc.mu.Unlock()

	view, err := svc.CancelPayment(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, view.Status)
	assert.NotEmpty(t, view.Metadata["cancelled_at"])
	require.Len(t, publisher.cancelled, 1)

	// Cancelling twice fails: CANCELLED is terminal.
	_, err = svc.CancelPayment(ctx, pending.ID)
	assert.ErrorIs(t, err, models.ErrNotCancellable)
}

func TestCancelCompletedPaymentRejected(t *testing.T) {
	svc, _, _ := newTestPaymentService(t)
	ctx := context.Background()

	view, err := svc.ProcessPayment(ctx, cardRequest(50))
	require.NoError(t, err)

	_, err = svc.CancelPayment(ctx, view.ID)
	assert.ErrorIs(t, err, models.ErrNotCancellable)
}

func TestListPaymentsNewestFirst(t *testing.T) {
	svc, _, _ := newTestPaymentService(t)
	ctx := context.Background()

	first, err := svc.ProcessPayment(ctx, cardRequest(10))
	require.NoError(t, err)
	second, err := svc.ProcessPayment(ctx, cardRequest(20))
	require.NoError(t, err)

	views := svc.ListPayments(ctx)
	require.Len(t, views, 2)
	assert.Equal(t, second.ID, views[0].ID)
	assert.Equal(t, first.ID, views[1].ID)
}

func TestApplyProviderStatusIdempotent(t *testing.T) {
	svc, _, publisher := newTestPaymentService(t)
	ctx := context.Background()

	view, err := svc.ProcessPayment(ctx, cardRequest(100))
	require.NoError(t, err)
	txID := view.Metadata["provider_transaction_id"].(string)
	require.Len(t, publisher.succeeded, 1)

	// Same-status report is a no-op.
	require.NoError(t, svc.ApplyProviderStatus(ctx, txID, models.StatusCompleted, txID))
	assert.Len(t, publisher.succeeded, 1)

	// Out-of-order regression to PROCESSING is dropped.
	require.NoError(t, svc.ApplyProviderStatus(ctx, txID, models.StatusProcessing, txID))
	got, err := svc.GetPayment(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)

	// A refund notification advances the payment.
	require.NoError(t, svc.ApplyProviderStatus(ctx, txID, models.StatusRefunded, txID))
	got, err = svc.GetPayment(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRefunded, got.Status)
	assert.Len(t, publisher.refunded, 1)
}

func TestApplyProviderStatusUnknownTransaction(t *testing.T) {
	svc, _, _ := newTestPaymentService(t)
	assert.NoError(t, svc.ApplyProviderStatus(context.Background(), "ch_unknown", models.StatusCompleted, "ch_unknown"))
}

func TestWebhookSettlesPayment(t *testing.T) {
	svc, _, publisher := newTestPaymentService(t)
	ctx := context.Background()

	view, err := svc.ProcessPayment(ctx, cardRequest(100))
	require.NoError(t, err)
	txID := view.Metadata["provider_transaction_id"].(string)

	payload, err := json.Marshal(map[string]any{
		"id":   "evt_1",
		"type": "charge.refunded",
		"data": map[string]any{
			"object": map[string]any{"id": txID, "status": "refunded"},
		},
	})
	require.NoError(t, err)

	require.NoError(t, svc.HandleWebhook(ctx, models.ProviderCard, payload))
	got, err := svc.GetPayment(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRefunded, got.Status)

	// Duplicate delivery is absorbed by the webhook recorder.
	require.NoError(t, svc.HandleWebhook(ctx, models.ProviderCard, payload))
	assert.Len(t, publisher.refunded, 1)
}

func TestProcessRequestSerializationHidesVerificationCode(t *testing.T) {
	svc, _, _ := newTestPaymentService(t)

	view, err := svc.ProcessPayment(context.Background(), cardRequest(100))
	require.NoError(t, err)

	data, err := json.Marshal(view)
	require.NoError(t, err)
	assert.NotContains(t, strings.ToLower(string(data)), "verification")
	assert.NotContains(t, strings.ToLower(string(data)), "cvv")
}
