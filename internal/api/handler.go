package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"payment-gateway/internal/models"
	"payment-gateway/internal/processor"
	"payment-gateway/internal/service"
	"payment-gateway/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Handler contains HTTP handlers
type Handler struct {
	payments      *service.PaymentService
	confirmations *service.ConfirmationService
	audit         *service.SecurityAuditService
}

// NewHandler creates a new HTTP handler
func NewHandler(payments *service.PaymentService, confirmations *service.ConfirmationService, audit *service.SecurityAuditService) *Handler {
	return &Handler{
		payments:      payments,
		confirmations: confirmations,
		audit:         audit,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		payments := v1.Group("/payments")
		{
			payments.POST("/confirm-amount", h.confirmAmount)
			payments.POST("", h.attemptLimitMiddleware(), h.processPayment)
			payments.GET("", h.listPayments)
			payments.GET("/:id", h.getPayment)
			payments.GET("/:id/status", h.getPaymentStatus)
			payments.POST("/:id/refund", h.refundPayment)
			payments.POST("/:id/cancel", h.cancelPayment)
		}

		v1.GET("/payment-methods", h.listPaymentMethods)
		v1.POST("/validate-payment-method", h.validatePaymentMethod)
		v1.GET("/session/:sessionId", h.getSession)
		v1.POST("/webhook/:provider", h.handleWebhook)
	}
}

// securityContext reads the actor identity off the request. Anonymous
// callers get stable placeholder identities so auditing and attempt
// limiting still work.
func securityContext(c *gin.Context) service.SecurityContext {
	sec := service.SecurityContext{
		UserID:    c.GetHeader("X-User-ID"),
		SessionID: c.GetHeader("X-Session-ID"),
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
	if sec.UserID == "" {
		sec.UserID = "anonymous"
	}
	if sec.SessionID == "" {
		sec.SessionID = "anon-" + sec.IPAddress
	}
	return sec
}

// attemptLimitMiddleware blocks sessions over the failed-attempt ceiling.
func (h *Handler) attemptLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sec := securityContext(c)
		if !h.audit.ExceededFailedAttempts(c.Request.Context(), sec.SessionID) {
			c.Next()
			return
		}

		count := h.audit.FailedAttemptCount(c.Request.Context(), sec.SessionID)
		util.RateLimitRejectionsTotal.Inc()
		h.audit.LogRateLimitExceeded(c.Request.Context(), &models.SecurityEvent{
			UserID:    sec.UserID,
			SessionID: sec.SessionID,
			IPAddress: sec.IPAddress,
			UserAgent: sec.UserAgent,
			Metadata:  map[string]any{"attempts": count},
		})

		c.AbortWithStatusJSON(http.StatusTooManyRequests, &models.RateLimitError{
			MaxAttempts:     3,
			CurrentAttempts: count,
			RetryAfter:      "1 hour",
		})
	}
}

func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

type confirmAmountRequest struct {
	Amount      decimal.Decimal        `json:"amount" binding:"required"`
	Currency    string                 `json:"currency" binding:"required"`
	Provider    models.PaymentProvider `json:"provider" binding:"required"`
	Description string                 `json:"description"`
	Metadata    map[string]any         `json:"metadata"`
}

// confirmAmount issues a single-use confirmation token for the exact
// reviewed amount
func (h *Handler) confirmAmount(c *gin.Context) {
	var req confirmAmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	sec := securityContext(c)
	conf, err := h.confirmations.GenerateConfirmation(c.Request.Context(), service.ConfirmationRequest{
		Amount:      req.Amount,
		Currency:    req.Currency,
		Provider:    req.Provider,
		UserID:      sec.UserID,
		SessionID:   sec.SessionID,
		IPAddress:   sec.IPAddress,
		UserAgent:   sec.UserAgent,
		Description: req.Description,
		Metadata:    req.Metadata,
	})
	if err != nil {
		var amountErr *models.InvalidAmountError
		if errors.As(err, &amountErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": amountErr.Reason})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to generate confirmation",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, conf)
}

type cardSecurity struct {
	// VerificationCode is accepted on input only and never echoed back.
	VerificationCode string `json:"verificationCode"`
	Last4Digits      string `json:"last4Digits"`
	CardHolderName   string `json:"cardHolderName"`
	ExpiryMonth      int    `json:"expiryMonth"`
	ExpiryYear       int    `json:"expiryYear"`
}

// validate checks the shape of the security block. The verification code is
// required for every provider; a payment can never be committed without it.
func (cs *cardSecurity) validate() error {
	if cs == nil || cs.VerificationCode == "" {
		return models.ErrVerificationCodeRequired
	}
	if !allDigits(cs.VerificationCode) || len(cs.VerificationCode) < 3 || len(cs.VerificationCode) > 4 {
		return errors.New("verification code must be 3 or 4 digits")
	}
	if cs.Last4Digits != "" && (!allDigits(cs.Last4Digits) || len(cs.Last4Digits) != 4) {
		return errors.New("last4Digits must be exactly 4 digits")
	}
	if cs.ExpiryMonth != 0 && (cs.ExpiryMonth < 1 || cs.ExpiryMonth > 12) {
		return errors.New("expiryMonth must be between 1 and 12")
	}
	return nil
}

// metadata returns the loggable subset of the security block. The
// verification code is deliberately absent.
func (cs *cardSecurity) metadata() map[string]any {
	out := make(map[string]any)
	if cs.Last4Digits != "" {
		out["card_last4"] = cs.Last4Digits
	}
	if cs.CardHolderName != "" {
		out["card_holder_name"] = cs.CardHolderName
	}
	if cs.ExpiryMonth != 0 {
		out["card_expiry_month"] = cs.ExpiryMonth
	}
	if cs.ExpiryYear != 0 {
		out["card_expiry_year"] = cs.ExpiryYear
	}
	return out
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}

type processPaymentRequest struct {
	Provider          models.PaymentProvider `json:"provider" binding:"required"`
	Amount            decimal.Decimal        `json:"amount" binding:"required"`
	Currency          string                 `json:"currency" binding:"required"`
	Description       string                 `json:"description"`
	CustomerID        string                 `json:"customerId"`
	ReturnURL         string                 `json:"returnUrl"`
	CancelURL         string                 `json:"cancelUrl"`
	CommitToken       string                 `json:"commitToken"`
	ConfirmationToken string                 `json:"confirmationToken" binding:"required"`
	CardSecurity      *cardSecurity          `json:"cardSecurity"`
	Metadata          map[string]any         `json:"metadata"`
}

// processPayment runs the commit phase: redeem the confirmation token, then
// settle through the selected provider
func (h *Handler) processPayment(c *gin.Context) {
	var req processPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	sec := securityContext(c)
	ctx := c.Request.Context()

	if err := req.CardSecurity.validate(); err != nil {
		h.audit.LogEvent(ctx, &models.SecurityEvent{
			Type:      models.EventCvvValidationFailed,
			UserID:    sec.UserID,
			SessionID: sec.SessionID,
			IPAddress: sec.IPAddress,
			UserAgent: sec.UserAgent,
			Currency:  req.Currency,
			Provider:  req.Provider,
		})
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	metadata := req.Metadata
	for k, v := range req.CardSecurity.metadata() {
		if metadata == nil {
			metadata = make(map[string]any)
		}
		metadata[k] = v
	}

	if err := h.confirmations.ValidateConfirmation(ctx, req.ConfirmationToken,
		req.Amount, req.Currency, sec.UserID, sec.SessionID); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, models.ErrConfirmationExpired) {
			status = http.StatusGone
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	h.audit.LogPaymentAttempt(ctx, &models.SecurityEvent{
		UserID:    sec.UserID,
		SessionID: sec.SessionID,
		IPAddress: sec.IPAddress,
		UserAgent: sec.UserAgent,
		Amount:    &req.Amount,
		Currency:  req.Currency,
		Provider:  req.Provider,
	})

	view, err := h.payments.ProcessPayment(ctx, &service.ProcessRequest{
		Provider:         req.Provider,
		Amount:           req.Amount,
		Currency:         req.Currency,
		Description:      req.Description,
		CustomerID:       req.CustomerID,
		ReturnURL:        req.ReturnURL,
		CancelURL:        req.CancelURL,
		CommitToken:      req.CommitToken,
		VerificationCode: req.CardSecurity.VerificationCode,
		Metadata:         metadata,
		Security:         sec,
	})
	if err != nil {
		var provErr *processor.ProviderError
		switch {
		case errors.As(err, &provErr):
			c.JSON(http.StatusPaymentRequired, gin.H{
				"error":               provErr.Reason,
				"errorCode":           provErr.Code,
				"failedTransactionId": provErr.FailedTransactionID,
			})
		case errors.Is(err, models.ErrUnknownProvider):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "Payment processing failed",
				"details": err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusCreated, view)
}

func (h *Handler) listPayments(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"payments": h.payments.ListPayments(c.Request.Context()),
	})
}

func (h *Handler) getPayment(c *gin.Context) {
	view, err := h.payments.GetPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) getPaymentStatus(c *gin.Context) {
	status, err := h.payments.GetPaymentStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"paymentId": c.Param("id"),
		"status":    status,
	})
}

type refundRequest struct {
	Amount *decimal.Decimal `json:"amount"`
	Reason string           `json:"reason"`
}

func (h *Handler) refundPayment(c *gin.Context) {
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	view, err := h.payments.RefundPayment(c.Request.Context(), c.Param("id"), req.Amount, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrPaymentNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, models.ErrNotRefundable):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) cancelPayment(c *gin.Context) {
	view, err := h.payments.CancelPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrPaymentNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, models.ErrNotCancellable):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) listPaymentMethods(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"methods": h.payments.AvailablePaymentMethods(),
	})
}

func (h *Handler) validatePaymentMethod(c *gin.Context) {
	var details service.CardDetails
	if err := c.ShouldBindJSON(&details); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, service.ValidatePaymentMethod(&details))
}

func (h *Handler) getSession(c *gin.Context) {
	info, err := h.confirmations.SessionInfo(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}

// handleWebhook accepts a raw provider notification. Handling is idempotent
// so provider retries always get a 200
func (h *Handler) handleWebhook(c *gin.Context) {
	provider := models.PaymentProvider(c.Param("provider"))
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read payload"})
		return
	}

	if err := h.payments.HandleWebhook(c.Request.Context(), provider, payload); err != nil {
		if errors.Is(err, models.ErrUnknownProvider) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Webhook handling failed",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
