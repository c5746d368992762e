package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"payment-gateway/internal/models"
	"payment-gateway/internal/processor"
	"payment-gateway/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentRecorder persists payment rows and error history. Persistence is
// best effort on the hot path: a nil recorder or a failing write is logged
// and never fails the payment operation.
type PaymentRecorder interface {
	CreatePayment(ctx context.Context, view *models.PaymentView) error
	UpdatePaymentStatus(ctx context.Context, paymentID string, status models.PaymentStatus) error
	RecordPaymentError(ctx context.Context, rec *models.PaymentErrorRecord) error
}

// LifecycleEventPublisher emits lifecycle events to the message bus.
// Publishing is best effort as well.
type LifecycleEventPublisher interface {
	PublishPaymentSucceeded(ctx context.Context, event *models.PaymentSucceededEvent) error
	PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error
	PublishPaymentRefunded(ctx context.Context, event *models.PaymentRefundedEvent) error
	PublishPaymentCancelled(ctx context.Context, event *models.PaymentCancelledEvent) error
}

// SecurityContext identifies the actor behind a payment operation.
type SecurityContext struct {
	UserID    string
	SessionID string
	IPAddress string
	UserAgent string
}

// ProcessRequest is the input to ProcessPayment. The verification code is
// transient and is handed to the processor only.
type ProcessRequest struct {
	Provider         models.PaymentProvider
	Amount           decimal.Decimal
	Currency         string
	Description      string
	CustomerID       string
	ReturnURL        string
	CancelURL        string
	CommitToken      string
	VerificationCode string
	Metadata         map[string]any
	Security         SecurityContext
}

// PaymentService orchestrates the payment lifecycle: it owns the in-memory
// payment registry, drives the state machine, delegates settlement to the
// provider processors and fans results out to persistence, audit and the
// event bus.
type PaymentService struct {
	registry  *processor.Registry
	recorder  PaymentRecorder
	publisher LifecycleEventPublisher
	audit     *SecurityAuditService
	logger    *zap.Logger

	mu           sync.RWMutex
	payments     map[string]*models.Payment
	byProviderTx map[string]string
}

func NewPaymentService(registry *processor.Registry, recorder PaymentRecorder, publisher LifecycleEventPublisher, audit *SecurityAuditService) *PaymentService {
	return &PaymentService{
		registry:     registry,
		recorder:     recorder,
		publisher:    publisher,
		audit:        audit,
		logger:       util.GetLogger(),
		payments:     make(map[string]*models.Payment),
		byProviderTx: make(map[string]string),
	}
}

// ProcessPayment runs one settlement attempt end to end: create the payment
// in PENDING, move it to PROCESSING, call the provider, then settle into
// COMPLETED or FAILED. On failure the returned error carries a synthesized
// failed-transaction id and the attempt is appended to the payment's error
// history.
func (s *PaymentService) ProcessPayment(ctx context.Context, req *ProcessRequest) (*models.PaymentView, error) {
	ctx, span := util.StartProviderSpan(ctx, "PaymentService.ProcessPayment", string(req.Provider))
	defer span.End()

	proc, err := s.registry.Get(req.Provider)
	if err != nil {
		return nil, err
	}

	payment := models.NewPayment("pay_"+uuid.New().String(), req.Amount, req.Currency, req.Provider, req.Metadata)
	s.mu.Lock()
	s.payments[payment.ID] = payment
	s.mu.Unlock()

	s.persistCreate(ctx, payment)

	if err := payment.Transition(models.StatusProcessing); err != nil {
		return nil, err
	}
	s.persistStatus(ctx, payment.ID, models.StatusProcessing)

	util.PaymentAttemptsTotal.WithLabelValues(string(req.Provider)).Inc()
	started := time.Now()

	result, procErr := proc.ProcessPayment(ctx, &processor.Request{
		PaymentID:        payment.ID,
		Amount:           req.Amount,
		Currency:         req.Currency,
		Description:      req.Description,
		CustomerID:       req.CustomerID,
		ReturnURL:        req.ReturnURL,
		CancelURL:        req.CancelURL,
		CommitToken:      req.CommitToken,
		SessionID:        req.Security.SessionID,
		VerificationCode: req.VerificationCode,
		Metadata:         req.Metadata,
	})
	util.PaymentProcessingLatency.Observe(time.Since(started).Seconds())

	if procErr != nil {
		return nil, s.settleFailure(ctx, payment, req, procErr)
	}
	return s.settleSuccess(ctx, payment, req, result)
}

func (s *PaymentService) settleSuccess(ctx context.Context, payment *models.Payment, req *ProcessRequest, result *processor.Result) (*models.PaymentView, error) {
	if result.ProviderTransactionID != "" {
		payment.AddMetadata("provider_transaction_id", result.ProviderTransactionID)
		s.mu.Lock()
		s.byProviderTx[result.ProviderTransactionID] = payment.ID
		s.mu.Unlock()
	}

	switch result.Status {
	case models.StatusCompleted:
		if err := payment.Transition(models.StatusCompleted); err != nil {
			return nil, err
		}
		s.persistStatus(ctx, payment.ID, models.StatusCompleted)
		util.PaymentSuccessTotal.WithLabelValues(string(payment.Provider)).Inc()
		s.auditOutcome(ctx, payment, req, models.EventPaymentSuccess, "", "")
		s.publishSucceeded(ctx, payment, result.ProviderTransactionID)
	case models.StatusFailed:
		return nil, s.settleFailure(ctx, payment, req, &processor.ProviderError{
			Provider: payment.Provider,
			Code:     "provider_declined",
			Reason:   "provider reported a failed settlement",
		})
	default:
		// PENDING or PROCESSING from the provider: the payment stays in
		// PROCESSING until a webhook or a status poll settles it.
		s.logger.Info("Payment awaiting provider settlement",
			zap.String("payment_id", payment.ID),
			zap.String("provider_status", string(result.Status)))
	}

	view := payment.Snapshot()
	return &view, nil
}

func (s *PaymentService) settleFailure(ctx context.Context, payment *models.Payment, req *ProcessRequest, procErr error) error {
	failedTxID := fmt.Sprintf("failed_%s_%s", payment.Provider, payment.ID)

	if err := payment.Transition(models.StatusFailed); err != nil {
		s.logger.Error("Failure transition rejected",
			zap.String("payment_id", payment.ID), zap.Error(err))
	}
	s.persistStatus(ctx, payment.ID, models.StatusFailed)
	payment.AddMetadata("failed_transaction_id", failedTxID)

	code := "provider_error"
	reason := procErr.Error()
	var provErr *processor.ProviderError
	if errors.As(procErr, &provErr) {
		provErr.FailedTransactionID = failedTxID
		code = provErr.Code
		reason = provErr.Reason
	}

	if s.recorder != nil {
		if err := s.recorder.RecordPaymentError(ctx, &models.PaymentErrorRecord{
			PaymentID:  payment.ID,
			Code:       code,
			Message:    reason,
			Provider:   payment.Provider,
			FailedTxID: failedTxID,
			CreatedAt:  time.Now(),
		}); err != nil {
			s.logger.Warn("Payment error persistence failed",
				zap.String("payment_id", payment.ID), zap.Error(err))
		}
	}

	util.PaymentFailedTotal.WithLabelValues(string(payment.Provider), code).Inc()
	s.auditOutcome(ctx, payment, req, models.EventPaymentFailure, code, reason)
	s.publishFailed(ctx, payment, reason, failedTxID)

	s.logger.Warn("Payment failed",
		zap.String("payment_id", payment.ID),
		zap.String("provider", string(payment.Provider)),
		zap.String("failed_tx_id", failedTxID),
		zap.String("reason", reason))
	return procErr
}

// RefundPayment refunds a completed payment through its processor and moves
// it to REFUNDED. A nil amount means a full refund.
func (s *PaymentService) RefundPayment(ctx context.Context, paymentID string, amount *decimal.Decimal, reason string) (*models.PaymentView, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.RefundPayment")
	defer span.End()

	payment, err := s.find(paymentID)
	if err != nil {
		return nil, err
	}
	if !payment.CanBeRefunded() {
		return nil, models.ErrNotRefundable
	}

	proc, err := s.registry.Get(payment.Provider)
	if err != nil {
		return nil, err
	}

	providerTxID, _ := payment.Metadata()["provider_transaction_id"].(string)
	result, err := proc.RefundPayment(ctx, providerTxID, amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrRefundFailed, err)
	}

	if err := payment.Transition(models.StatusRefunded); err != nil {
		return nil, err
	}
	s.persistStatus(ctx, paymentID, models.StatusRefunded)

	refundAmount := payment.Amount
	if amount != nil {
		refundAmount = *amount
	}
	payment.AddMetadata("refund_id", result.RefundID)
	payment.AddMetadata("refund_amount", refundAmount.String())
	if reason != "" {
		payment.AddMetadata("refund_reason", reason)
	}

	util.PaymentsRefundedTotal.WithLabelValues(string(payment.Provider)).Inc()
	s.publishRefunded(ctx, payment, result.RefundID, refundAmount)

	s.logger.Info("Payment refunded",
		zap.String("payment_id", paymentID),
		zap.String("refund_id", result.RefundID),
		zap.String("amount", refundAmount.String()))

	view := payment.Snapshot()
	return &view, nil
}

// CancelPayment cancels a payment that has not started processing. No
// provider call is made: a PENDING payment has nothing settled upstream.
func (s *PaymentService) CancelPayment(ctx context.Context, paymentID string) (*models.PaymentView, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CancelPayment")
	defer span.End()

	payment, err := s.find(paymentID)
	if err != nil {
		return nil, err
	}
	if !payment.CanBeCancelled() {
		return nil, models.ErrNotCancellable
	}
	if err := payment.Transition(models.StatusCancelled); err != nil {
		return nil, models.ErrNotCancellable
	}
	s.persistStatus(ctx, paymentID, models.StatusCancelled)
	payment.AddMetadata("cancelled_at", time.Now().UTC().Format(time.RFC3339))

	util.PaymentsCancelledTotal.Inc()
	s.publishCancelled(ctx, payment)

	s.logger.Info("Payment cancelled", zap.String("payment_id", paymentID))
	view := payment.Snapshot()
	return &view, nil
}

// GetPayment returns the public projection of one payment.
func (s *PaymentService) GetPayment(_ context.Context, paymentID string) (*models.PaymentView, error) {
	payment, err := s.find(paymentID)
	if err != nil {
		return nil, err
	}
	view := payment.Snapshot()
	return &view, nil
}

// ListPayments returns all payments, most recent first.
func (s *PaymentService) ListPayments(_ context.Context) []models.PaymentView {
	s.mu.RLock()
	views := make([]models.PaymentView, 0, len(s.payments))
	for _, p := range s.payments {
		views = append(views, p.Snapshot())
	}
	s.mu.RUnlock()
	sort.Slice(views, func(i, j int) bool {
		return views[i].CreatedAt.After(views[j].CreatedAt)
	})
	return views
}

// GetPaymentStatus returns the payment's status, refreshing it from the
// provider first when a provider transaction exists. A provider that cannot
// be reached does not fail the read: the local status is authoritative
// until a settlement arrives.
func (s *PaymentService) GetPaymentStatus(ctx context.Context, paymentID string) (models.PaymentStatus, error) {
	payment, err := s.find(paymentID)
	if err != nil {
		return "", err
	}

	providerTxID, _ := payment.Metadata()["provider_transaction_id"].(string)
	if providerTxID != "" && payment.Status() == models.StatusProcessing {
		if proc, err := s.registry.Get(payment.Provider); err == nil {
			if status, err := proc.GetPaymentStatus(ctx, providerTxID); err == nil {
				_ = s.ApplyProviderStatus(ctx, providerTxID, status, providerTxID)
			} else {
				s.logger.Warn("Provider status poll failed",
					zap.String("payment_id", paymentID), zap.Error(err))
			}
		}
	}
	return payment.Status(), nil
}

// HandleWebhook routes a raw provider notification to that provider's
// processor.
func (s *PaymentService) HandleWebhook(ctx context.Context, provider models.PaymentProvider, payload []byte) error {
	ctx, span := util.StartProviderSpan(ctx, "PaymentService.HandleWebhook", string(provider))
	defer span.End()

	proc, err := s.registry.Get(provider)
	if err != nil {
		return err
	}
	util.WebhooksReceivedTotal.WithLabelValues(string(provider)).Inc()
	return proc.HandleWebhook(ctx, payload)
}

// ApplyProviderStatus reconciles a provider-reported status onto the owning
// payment. Reports that match the current status are no-ops, and reports
// that would break the state machine are logged and dropped rather than
// failed, so replayed or out-of-order webhooks stay harmless.
func (s *PaymentService) ApplyProviderStatus(ctx context.Context, providerPaymentID string, status models.PaymentStatus, txID string) error {
	s.mu.RLock()
	paymentID, ok := s.byProviderTx[providerPaymentID]
	s.mu.RUnlock()
	if !ok {
		s.logger.Warn("Provider status for unknown transaction",
			zap.String("provider_tx_id", providerPaymentID),
			zap.String("status", string(status)))
		return nil
	}
	payment, err := s.find(paymentID)
	if err != nil {
		return nil
	}

	current := payment.Status()
	if current == status {
		return nil
	}

	// Settling straight from PENDING steps through PROCESSING first.
	if current == models.StatusPending &&
		(status == models.StatusCompleted || status == models.StatusFailed) {
		if err := payment.Transition(models.StatusProcessing); err == nil {
			s.persistStatus(ctx, paymentID, models.StatusProcessing)
		}
	}

	if err := payment.Transition(status); err != nil {
		s.logger.Info("Provider status ignored: transition not allowed",
			zap.String("payment_id", paymentID),
			zap.String("from", string(payment.Status())),
			zap.String("to", string(status)))
		return nil
	}
	s.persistStatus(ctx, paymentID, status)

	switch status {
	case models.StatusCompleted:
		util.PaymentSuccessTotal.WithLabelValues(string(payment.Provider)).Inc()
		s.publishSucceeded(ctx, payment, txID)
	case models.StatusFailed:
		util.PaymentFailedTotal.WithLabelValues(string(payment.Provider), "provider_notification").Inc()
		s.publishFailed(ctx, payment, "provider reported failure", txID)
	case models.StatusRefunded:
		util.PaymentsRefundedTotal.WithLabelValues(string(payment.Provider)).Inc()
		s.publishRefunded(ctx, payment, txID, payment.Amount)
	}

	s.logger.Info("Provider status applied",
		zap.String("payment_id", paymentID),
		zap.String("status", string(status)))
	return nil
}

func (s *PaymentService) find(paymentID string) (*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payment, ok := s.payments[paymentID]
	if !ok {
		return nil, models.ErrPaymentNotFound
	}
	return payment, nil
}

func (s *PaymentService) persistCreate(ctx context.Context, payment *models.Payment) {
	if s.recorder == nil {
		return
	}
	view := payment.Snapshot()
	if err := s.recorder.CreatePayment(ctx, &view); err != nil {
		s.logger.Warn("Payment persistence failed",
			zap.String("payment_id", payment.ID), zap.Error(err))
	}
}

func (s *PaymentService) persistStatus(ctx context.Context, paymentID string, status models.PaymentStatus) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.UpdatePaymentStatus(ctx, paymentID, status); err != nil {
		s.logger.Warn("Payment status persistence failed",
			zap.String("payment_id", paymentID), zap.Error(err))
	}
}

func (s *PaymentService) auditOutcome(ctx context.Context, payment *models.Payment, req *ProcessRequest, eventType models.SecurityEventType, code, message string) {
	if s.audit == nil || req == nil {
		return
	}
	amount := payment.Amount
	s.audit.LogEvent(ctx, &models.SecurityEvent{
		Type:         eventType,
		UserID:       req.Security.UserID,
		SessionID:    req.Security.SessionID,
		IPAddress:    req.Security.IPAddress,
		UserAgent:    req.Security.UserAgent,
		Amount:       &amount,
		Currency:     payment.Currency,
		Provider:     payment.Provider,
		PaymentID:    payment.ID,
		ErrorCode:    code,
		ErrorMessage: message,
	})
}

func (s *PaymentService) publishSucceeded(ctx context.Context, payment *models.Payment, txID string) {
	if s.publisher == nil {
		return
	}
	event := &models.PaymentSucceededEvent{
		BaseEvent:             newBaseEvent(models.EventTypePaymentSucceeded),
		PaymentID:             payment.ID,
		Provider:              payment.Provider,
		Amount:                payment.Amount,
		Currency:              payment.Currency,
		ProviderTransactionID: txID,
	}
	if err := s.publisher.PublishPaymentSucceeded(ctx, event); err != nil {
		s.logger.Warn("Event publish failed",
			zap.String("event_type", event.EventType), zap.Error(err))
	}
}

func (s *PaymentService) publishFailed(ctx context.Context, payment *models.Payment, reason, failedTxID string) {
	if s.publisher == nil {
		return
	}
	event := &models.PaymentFailedEvent{
		BaseEvent:  newBaseEvent(models.EventTypePaymentFailed),
		PaymentID:  payment.ID,
		Provider:   payment.Provider,
		Amount:     payment.Amount,
		Currency:   payment.Currency,
		Reason:     reason,
		FailedTxID: failedTxID,
	}
	if err := s.publisher.PublishPaymentFailed(ctx, event); err != nil {
		s.logger.Warn("Event publish failed",
			zap.String("event_type", event.EventType), zap.Error(err))
	}
}

func (s *PaymentService) publishRefunded(ctx context.Context, payment *models.Payment, refundID string, amount decimal.Decimal) {
	if s.publisher == nil {
		return
	}
	event := &models.PaymentRefundedEvent{
		BaseEvent:    newBaseEvent(models.EventTypePaymentRefunded),
		PaymentID:    payment.ID,
		Provider:     payment.Provider,
		RefundID:     refundID,
		RefundAmount: amount,
		Currency:     payment.Currency,
	}
	if err := s.publisher.PublishPaymentRefunded(ctx, event); err != nil {
		s.logger.Warn("Event publish failed",
			zap.String("event_type", event.EventType), zap.Error(err))
	}
}

func (s *PaymentService) publishCancelled(ctx context.Context, payment *models.Payment) {
	if s.publisher == nil {
		return
	}
	event := &models.PaymentCancelledEvent{
		BaseEvent: newBaseEvent(models.EventTypePaymentCancelled),
		PaymentID: payment.ID,
		Provider:  payment.Provider,
	}
	if err := s.publisher.PublishPaymentCancelled(ctx, event); err != nil {
		s.logger.Warn("Event publish failed",
			zap.String("event_type", event.EventType), zap.Error(err))
	}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}
