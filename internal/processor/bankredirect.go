package processor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"payment-gateway/internal/models"
	"payment-gateway/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// bankStatusTable maps the redirect gateway's transaction states to
// canonical payment statuses.
var bankStatusTable = map[string]models.PaymentStatus{
	"INITIALIZED": models.StatusPending,
	"AUTHORIZED":  models.StatusCompleted,
	"CAPTURED":    models.StatusCompleted,
	"REVERSED":    models.StatusRefunded,
	"NULLIFIED":   models.StatusRefunded,
	"FAILED":      models.StatusFailed,
	"REJECTED":    models.StatusFailed,
}

// BankRedirectProcessor settles payments through a redirect-based bank
// gateway: create a transaction, let the payer authenticate on the bank
// portal, then commit with the token the portal returns. The redirect leg
// itself belongs to the frontend; this processor models the create and
// commit legs. Gateway calls are mocked.
type BankRedirectProcessor struct {
	commerceCode string
	apiKey       string
	logger       *zap.Logger
}

// NewBankRedirectProcessor creates a bank-redirect processor.
func NewBankRedirectProcessor(commerceCode, apiKey string) *BankRedirectProcessor {
	return &BankRedirectProcessor{
		commerceCode: commerceCode,
		apiKey:       apiKey,
		logger:       util.GetLogger(),
	}
}

// ProcessPayment creates and commits a redirect transaction. When a commit
// token is present only the commit leg runs.
func (b *BankRedirectProcessor) ProcessPayment(ctx context.Context, req *Request) (*Result, error) {
	b.logger.Info("Processing bank-redirect payment",
		zap.String("payment_id", req.PaymentID),
		zap.Bool("commit_leg", req.CommitToken != ""))

	if req.Amount.Equal(sentinelDeclineAmount) {
		return nil, &ProviderError{
			Provider: models.ProviderBankRedirect,
			Code:     "transaction_rejected",
			Reason:   "transaction rejected by the bank (response code -1)",
		}
	}

	buyOrder := fmt.Sprintf("ORD-%s", shortRef())
	portalToken := req.CommitToken
	if portalToken == "" {
		portalToken = fmt.Sprintf("TBK-%s", shortRef())
	}
	authCode := strings.ToUpper(shortRef()[:6])

	return &Result{
		ProviderID:            buyOrder,
		Status:                mapStatus(bankStatusTable, "AUTHORIZED"),
		Amount:                req.Amount,
		Currency:              req.Currency,
		ProviderTransactionID: authCode,
		Raw: map[string]any{
			"vci":                 "TSY",
			"buy_order":           buyOrder,
			"session_id":          req.SessionID,
			"card_number":         "************1234",
			"transaction_date":    time.Now().Format(time.RFC3339),
			"authorization_code":  authCode,
			"payment_type_code":   "VD",
			"response_code":       0,
			"installments_number": 0,
			"token":               portalToken,
			"return_url":          req.ReturnURL,
		},
	}, nil
}

// RefundPayment nullifies an authorized transaction.
func (b *BankRedirectProcessor) RefundPayment(ctx context.Context, providerPaymentID string, amount *decimal.Decimal) (*RefundResult, error) {
	b.logger.Info("Refunding bank-redirect payment", zap.String("provider_payment_id", providerPaymentID))

	refund := &RefundResult{
		RefundID: fmt.Sprintf("NUL-%s", shortRef()),
		Status:   mapStatus(bankStatusTable, "NULLIFIED"),
		Currency: "CLP",
	}
	if amount != nil {
		refund.Amount = *amount
	}
	return refund, nil
}

// CancelPayment is a no-op at the gateway: uncommitted transactions expire
// on their own.
func (b *BankRedirectProcessor) CancelPayment(ctx context.Context, providerPaymentID string) (*CancelResult, error) {
	return &CancelResult{ID: providerPaymentID, Status: models.StatusCancelled}, nil
}

// GetPaymentStatus queries the gateway for the transaction state.
func (b *BankRedirectProcessor) GetPaymentStatus(ctx context.Context, providerPaymentID string) (models.PaymentStatus, error) {
	return mapStatus(bankStatusTable, "AUTHORIZED"), nil
}

// HandleWebhook is a no-op: the redirect gateway confirms through the
// return-URL commit flow, not webhooks. Notifications are logged and
// ignored.
func (b *BankRedirectProcessor) HandleWebhook(ctx context.Context, payload []byte) error {
	b.logger.Info("Ignoring bank-redirect notification, gateway confirms via commit flow")
	return nil
}
