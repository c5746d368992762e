package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"payment-gateway/internal/models"
	"payment-gateway/internal/processor"
	"payment-gateway/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubProcessor settles every payment immediately and counts invocations.
type stubProcessor struct {
	calls int
}

func (p *stubProcessor) ProcessPayment(_ context.Context, req *processor.Request) (*processor.Result, error) {
	p.calls++
	return &processor.Result{
		ProviderID:            "stub",
		Status:                models.StatusCompleted,
		Amount:                req.Amount,
		Currency:              req.Currency,
		ProviderTransactionID: "tx_" + req.PaymentID,
	}, nil
}

func (p *stubProcessor) RefundPayment(_ context.Context, _ string, _ *decimal.Decimal) (*processor.RefundResult, error) {
	return &processor.RefundResult{RefundID: "re_stub", Status: models.StatusRefunded}, nil
}

func (p *stubProcessor) CancelPayment(_ context.Context, _ string) (*processor.CancelResult, error) {
	return &processor.CancelResult{ID: "stub", Status: models.StatusCancelled}, nil
}

func (p *stubProcessor) GetPaymentStatus(_ context.Context, _ string) (models.PaymentStatus, error) {
	return models.StatusCompleted, nil
}

func (p *stubProcessor) HandleWebhook(_ context.Context, _ []byte) error {
	return nil
}

func newTestRouter() (*gin.Engine, *stubProcessor) {
	stub := &stubProcessor{}
	registry := processor.NewRegistry()
	registry.Register(models.ProviderCard, stub)
	registry.Register(models.ProviderPayPal, stub)

	audit := service.NewSecurityAuditService("test", service.NewMemoryAttemptStore(), nil)
	confirmations := service.NewConfirmationService(service.NewMemoryConfirmationStore(), audit)
	payments := service.NewPaymentService(registry, nil, nil, audit)

	router := gin.New()
	NewHandler(payments, confirmations, audit).SetupRoutes(router)
	return router, stub
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "user-12345")
	req.Header.Set("X-Session-ID", "sess-12345")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func confirmAmount(t *testing.T, router *gin.Engine, amount float64, provider models.PaymentProvider) string {
	t.Helper()
	rec := doJSON(router, http.MethodPost, "/api/v1/payments/confirm-amount", gin.H{
		"amount":   amount,
		"currency": "USD",
		"provider": provider,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Token string `json:"confirmationToken"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func TestProcessPaymentRequiresVerificationCodeForEveryProvider(t *testing.T) {
	for _, provider := range []models.PaymentProvider{models.ProviderCard, models.ProviderPayPal} {
		t.Run(string(provider), func(t *testing.T) {
			router, stub := newTestRouter()
			token := confirmAmount(t, router, 100.50, provider)

			rec := doJSON(router, http.MethodPost, "/api/v1/payments", gin.H{
				"provider":          provider,
				"amount":            100.50,
				"currency":          "USD",
				"confirmationToken": token,
			})

			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), "verification code")
			assert.Zero(t, stub.calls, "provider must not be reached without a verification code")
		})
	}
}

func TestProcessPaymentRejectsMalformedVerificationCode(t *testing.T) {
	router, stub := newTestRouter()
	token := confirmAmount(t, router, 100.50, models.ProviderCard)

	rec := doJSON(router, http.MethodPost, "/api/v1/payments", gin.H{
		"provider":          models.ProviderCard,
		"amount":            100.50,
		"currency":          "USD",
		"confirmationToken": token,
		"cardSecurity":      gin.H{"verificationCode": "12ab"},
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, stub.calls)
}

func TestProcessPaymentCarriesCardMetadata(t *testing.T) {
	router, stub := newTestRouter()
	token := confirmAmount(t, router, 100.50, models.ProviderCard)

	rec := doJSON(router, http.MethodPost, "/api/v1/payments", gin.H{
		"provider":          models.ProviderCard,
		"amount":            100.50,
		"currency":          "USD",
		"confirmationToken": token,
		"metadata":          gin.H{"order_id": "ord-42"},
		"cardSecurity": gin.H{
			"verificationCode": "123",
			"last4Digits":      "4242",
			"cardHolderName":   "Jane Roe",
			"expiryMonth":      12,
			"expiryYear":       2030,
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, 1, stub.calls)

	var view models.PaymentView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "ord-42", view.Metadata["order_id"])
	assert.Equal(t, "4242", view.Metadata["card_last4"])
	assert.Equal(t, "Jane Roe", view.Metadata["card_holder_name"])
	assert.EqualValues(t, 12, view.Metadata["card_expiry_month"])
	assert.EqualValues(t, 2030, view.Metadata["card_expiry_year"])

	for key := range view.Metadata {
		assert.NotContains(t, key, "verification")
		assert.NotContains(t, key, "cvv")
	}
}

func TestAttemptLimitBlocksFourthTry(t *testing.T) {
	router, stub := newTestRouter()

	// Three rejected attempts exhaust the session's failure budget.
	for i := 0; i < 3; i++ {
		token := confirmAmount(t, router, 100.50, models.ProviderPayPal)
		rec := doJSON(router, http.MethodPost, "/api/v1/payments", gin.H{
			"provider":          models.ProviderPayPal,
			"amount":            100.50,
			"currency":          "USD",
			"confirmationToken": token,
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	}

	rec := doJSON(router, http.MethodPost, "/api/v1/payments", gin.H{
		"provider":          models.ProviderPayPal,
		"amount":            100.50,
		"currency":          "USD",
		"confirmationToken": "conf_irrelevant",
		"cardSecurity":      gin.H{"verificationCode": "123"},
	})

	require.Equal(t, http.StatusTooManyRequests, rec.Code, rec.Body.String())
	var body models.RateLimitError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.MaxAttempts)
	assert.Equal(t, 3, body.CurrentAttempts)
	assert.Equal(t, "1 hour", body.RetryAfter)
	assert.Zero(t, stub.calls, "a blocked session must never reach a provider")
}

func TestConfirmAmountResponseShape(t *testing.T) {
	router, _ := newTestRouter()

	rec := doJSON(router, http.MethodPost, "/api/v1/payments/confirm-amount", gin.H{
		"amount":      1500,
		"currency":    "USD",
		"provider":    models.ProviderCard,
		"description": "Order #42",
		"metadata":    gin.H{"order_id": "ord-42"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Token          string   `json:"confirmationToken"`
		Message        string   `json:"message"`
		RequiresReview bool     `json:"requiresReview"`
		Warnings       []string `json:"warnings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "Please confirm the payment of $1,500.00 USD", resp.Message)
	assert.True(t, resp.RequiresReview)
	require.Len(t, resp.Warnings, 1)
	assert.Contains(t, resp.Warnings[0], "$1,500.00 USD")
}

func TestSessionEndpointReturnsPendingConfirmation(t *testing.T) {
	router, _ := newTestRouter()
	token := confirmAmount(t, router, 100.50, models.ProviderCard)

	rec := doJSON(router, http.MethodGet, "/api/v1/session/sess-12345", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		SessionID        string `json:"sessionId"`
		Token            string `json:"confirmationToken"`
		Expired          bool   `json:"expired"`
		RemainingSeconds int64  `json:"remainingSeconds"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sess-12345", resp.SessionID)
	assert.Equal(t, token, resp.Token)
	assert.False(t, resp.Expired)
	assert.Greater(t, resp.RemainingSeconds, int64(0))

	rec = doJSON(router, http.MethodGet, "/api/v1/session/sess-unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCardSecurityValidation(t *testing.T) {
	tests := []struct {
		name    string
		cs      *cardSecurity
		wantErr bool
	}{
		{"nil block", nil, true},
		{"missing code", &cardSecurity{}, true},
		{"three digit code", &cardSecurity{VerificationCode: "123"}, false},
		{"four digit code", &cardSecurity{VerificationCode: "1234"}, false},
		{"too short", &cardSecurity{VerificationCode: "12"}, true},
		{"non numeric", &cardSecurity{VerificationCode: "12a"}, true},
		{"bad last4", &cardSecurity{VerificationCode: "123", Last4Digits: "42"}, true},
		{"bad month", &cardSecurity{VerificationCode: "123", ExpiryMonth: 13}, true},
		{"full block", &cardSecurity{VerificationCode: "123", Last4Digits: "4242", CardHolderName: "Jane Roe", ExpiryMonth: 12, ExpiryYear: 2030}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cs.validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
