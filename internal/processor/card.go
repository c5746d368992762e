package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"payment-gateway/internal/models"
	"payment-gateway/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// cardStatusTable maps the card gateway's status vocabulary to canonical
// payment statuses. Unknown statuses map to PENDING.
var cardStatusTable = map[string]models.PaymentStatus{
	"requires_payment_method": models.StatusPending,
	"requires_confirmation":   models.StatusPending,
	"requires_action":         models.StatusPending,
	"processing":              models.StatusProcessing,
	"requires_capture":        models.StatusProcessing,
	"succeeded":               models.StatusCompleted,
	"canceled":                models.StatusCancelled,
	"failed":                  models.StatusFailed,
}

// CardProcessor settles card payments with a single synchronous capture.
// The gateway call is mocked; the CVV is used for the call and discarded.
type CardProcessor struct {
	apiKey   string
	recorder WebhookRecorder
	applier  StatusApplier
	logger   *zap.Logger
}

// NewCardProcessor creates a card-direct processor.
func NewCardProcessor(apiKey string, recorder WebhookRecorder, applier StatusApplier) *CardProcessor {
	return &CardProcessor{
		apiKey:   apiKey,
		recorder: recorder,
		applier:  applier,
		logger:   util.GetLogger(),
	}
}

// ProcessPayment captures the amount synchronously.
func (c *CardProcessor) ProcessPayment(ctx context.Context, req *Request) (*Result, error) {
	c.logger.Info("Processing card payment",
		zap.String("payment_id", req.PaymentID),
		zap.String("currency", req.Currency))

	if req.Amount.Equal(sentinelDeclineAmount) {
		return nil, &ProviderError{
			Provider: models.ProviderCard,
			Code:     "card_declined",
			Reason:   "card declined by issuing bank: insufficient funds",
		}
	}

	intentID := fmt.Sprintf("pi_%s", shortRef())
	chargeID := fmt.Sprintf("ch_%s", shortRef())

	return &Result{
		ProviderID:            intentID,
		Status:                mapStatus(cardStatusTable, "succeeded"),
		Amount:                req.Amount,
		Currency:              req.Currency,
		ProviderTransactionID: chargeID,
		Raw: map[string]any{
			"object":      "payment_intent",
			"amount":      req.Amount.Mul(decimal.NewFromInt(100)).IntPart(),
			"currency":    strings.ToLower(req.Currency),
			"status":      "succeeded",
			"customer":    req.CustomerID,
			"description": req.Description,
			"created":     time.Now().Unix(),
		},
	}, nil
}

// RefundPayment refunds a captured charge. A nil amount means full refund.
func (c *CardProcessor) RefundPayment(ctx context.Context, providerPaymentID string, amount *decimal.Decimal) (*RefundResult, error) {
	c.logger.Info("Refunding card payment", zap.String("provider_payment_id", providerPaymentID))

	refund := &RefundResult{
		RefundID: fmt.Sprintf("re_%s", shortRef()),
		Status:   models.StatusRefunded,
		Currency: "USD",
	}
	if amount != nil {
		refund.Amount = *amount
	}
	return refund, nil
}

// CancelPayment voids an uncaptured intent. Captured charges cannot be
// cancelled, only refunded.
func (c *CardProcessor) CancelPayment(ctx context.Context, providerPaymentID string) (*CancelResult, error) {
	if strings.HasPrefix(providerPaymentID, "ch_") {
		return nil, &ProviderError{
			Provider: models.ProviderCard,
			Code:     "cannot_cancel_captured",
			Reason:   "a captured charge cannot be cancelled, issue a refund instead",
		}
	}
	return &CancelResult{ID: providerPaymentID, Status: models.StatusCancelled}, nil
}

// GetPaymentStatus queries the gateway for the current status.
func (c *CardProcessor) GetPaymentStatus(ctx context.Context, providerPaymentID string) (models.PaymentStatus, error) {
	return mapStatus(cardStatusTable, "succeeded"), nil
}

type cardWebhook struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"object"`
	} `json:"data"`
}

// HandleWebhook applies asynchronous gateway notifications. Duplicate
// deliveries are dropped via the webhook recorder.
func (c *CardProcessor) HandleWebhook(ctx context.Context, payload []byte) error {
	var event cardWebhook
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("failed to decode card webhook: %w", err)
	}

	if event.ID != "" && c.recorder != nil {
		seen, err := c.recorder.IsProcessed(ctx, event.ID)
		if err != nil {
			return err
		}
		if seen {
			c.logger.Info("Card webhook already processed", zap.String("event_id", event.ID))
			return nil
		}
	}

	var target models.PaymentStatus
	switch event.Type {
	case "payment_intent.succeeded":
		target = models.StatusCompleted
	case "payment_intent.payment_failed":
		target = models.StatusFailed
	case "charge.refunded":
		target = models.StatusRefunded
	default:
		c.logger.Info("Ignoring unhandled card webhook type", zap.String("type", event.Type))
		return nil
	}

	if c.applier != nil {
		if err := c.applier.ApplyProviderStatus(ctx, event.Data.Object.ID, target, event.Data.Object.ID); err != nil {
			return err
		}
	}

	if event.ID != "" && c.recorder != nil {
		if err := c.recorder.MarkProcessed(ctx, event.ID, event.Type); err != nil {
			c.logger.Error("Failed to mark card webhook processed", zap.Error(err))
		}
	}
	return nil
}

// mapStatus resolves a provider status through the variant's lookup table,
// defaulting to PENDING for anything unrecognized.
func mapStatus(table map[string]models.PaymentStatus, providerStatus string) models.PaymentStatus {
	if status, ok := table[providerStatus]; ok {
		return status
	}
	return models.StatusPending
}

func shortRef() string {
	return uuid.New().String()[:8]
}
