package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"payment-gateway/internal/models"
	"payment-gateway/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// paypalStatusTable maps order statuses to canonical payment statuses.
var paypalStatusTable = map[string]models.PaymentStatus{
	"CREATED":               models.StatusPending,
	"SAVED":                 models.StatusPending,
	"PAYER_ACTION_REQUIRED": models.StatusPending,
	"APPROVED":              models.StatusProcessing,
	"VOIDED":                models.StatusCancelled,
	"COMPLETED":             models.StatusCompleted,
	"DENIED":                models.StatusFailed,
	"FAILED":                models.StatusFailed,
}

// PayPalProcessor settles payments in two phases: create an order with
// callback URLs, then capture once the payer approves. Webhooks are the
// eventually-consistent confirmation channel for capture, refund and deny
// events. API calls are mocked.
type PayPalProcessor struct {
	clientID    string
	environment string
	recorder    WebhookRecorder
	applier     StatusApplier
	logger      *zap.Logger
}

// NewPayPalProcessor creates a paypal-order processor.
func NewPayPalProcessor(clientID, environment string, recorder WebhookRecorder, applier StatusApplier) *PayPalProcessor {
	return &PayPalProcessor{
		clientID:    clientID,
		environment: environment,
		recorder:    recorder,
		applier:     applier,
		logger:      util.GetLogger(),
	}
}

// ProcessPayment creates the order and captures it after approval.
func (p *PayPalProcessor) ProcessPayment(ctx context.Context, req *Request) (*Result, error) {
	p.logger.Info("Processing paypal payment",
		zap.String("payment_id", req.PaymentID),
		zap.String("currency", req.Currency))

	if req.Amount.Equal(sentinelDeclineAmount) {
		return nil, &ProviderError{
			Provider: models.ProviderPayPal,
			Code:     "capture_denied",
			Reason:   "payment capture denied by the payer's institution",
		}
	}

	orderID := fmt.Sprintf("O-%s", strings.ToUpper(shortRef()))
	captureID := fmt.Sprintf("CAP-%s", strings.ToUpper(shortRef()))

	return &Result{
		ProviderID:            orderID,
		Status:                mapStatus(paypalStatusTable, "COMPLETED"),
		Amount:                req.Amount,
		Currency:              req.Currency,
		ProviderTransactionID: captureID,
		Raw: map[string]any{
			"id":     orderID,
			"intent": "CAPTURE",
			"status": "COMPLETED",
			"purchase_units": []map[string]any{{
				"amount": map[string]any{
					"currency_code": req.Currency,
					"value":         req.Amount.StringFixed(2),
				},
				"description": req.Description,
			}},
			"approval_link": fmt.Sprintf("https://www.sandbox.paypal.com/checkoutnow?token=%s", orderID),
			"cancel_url":    req.CancelURL,
			"create_time":   time.Now().Format(time.RFC3339),
		},
	}, nil
}

// RefundPayment refunds a captured order.
func (p *PayPalProcessor) RefundPayment(ctx context.Context, providerPaymentID string, amount *decimal.Decimal) (*RefundResult, error) {
	p.logger.Info("Refunding paypal payment", zap.String("provider_payment_id", providerPaymentID))

	refund := &RefundResult{
		RefundID: fmt.Sprintf("REF-%s", strings.ToUpper(shortRef())),
		Status:   models.StatusRefunded,
		Currency: "USD",
	}
	if amount != nil {
		refund.Amount = *amount
	}
	return refund, nil
}

// CancelPayment voids an order that has not been captured yet.
func (p *PayPalProcessor) CancelPayment(ctx context.Context, providerPaymentID string) (*CancelResult, error) {
	if strings.HasPrefix(providerPaymentID, "CAP-") {
		return nil, &ProviderError{
			Provider: models.ProviderPayPal,
			Code:     "order_captured",
			Reason:   "a captured order cannot be voided, issue a refund instead",
		}
	}
	return &CancelResult{ID: providerPaymentID, Status: mapStatus(paypalStatusTable, "VOIDED")}, nil
}

// GetPaymentStatus queries the order status.
func (p *PayPalProcessor) GetPaymentStatus(ctx context.Context, providerPaymentID string) (models.PaymentStatus, error) {
	return mapStatus(paypalStatusTable, "COMPLETED"), nil
}

type paypalWebhook struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"resource"`
}

// HandleWebhook applies capture/deny/refund notifications idempotently.
func (p *PayPalProcessor) HandleWebhook(ctx context.Context, payload []byte) error {
	var event paypalWebhook
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("failed to decode paypal webhook: %w", err)
	}

	if event.ID != "" && p.recorder != nil {
		seen, err := p.recorder.IsProcessed(ctx, event.ID)
		if err != nil {
			return err
		}
		if seen {
			p.logger.Info("PayPal webhook already processed", zap.String("event_id", event.ID))
			return nil
		}
	}

	var target models.PaymentStatus
	switch event.EventType {
	case "PAYMENT.CAPTURE.COMPLETED":
		target = models.StatusCompleted
	case "PAYMENT.CAPTURE.DENIED":
		target = models.StatusFailed
	case "PAYMENT.CAPTURE.REFUNDED":
		target = models.StatusRefunded
	default:
		p.logger.Info("Ignoring unhandled paypal webhook type", zap.String("event_type", event.EventType))
		return nil
	}

	if p.applier != nil {
		if err := p.applier.ApplyProviderStatus(ctx, event.Resource.ID, target, event.Resource.ID); err != nil {
			return err
		}
	}

	if event.ID != "" && p.recorder != nil {
		if err := p.recorder.MarkProcessed(ctx, event.ID, event.EventType); err != nil {
			p.logger.Error("Failed to mark paypal webhook processed", zap.Error(err))
		}
	}
	return nil
}
