package service

import (
	"context"
	"strings"
	"time"

	"payment-gateway/internal/models"
	"payment-gateway/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// maxFailedAttempts is the per-session failure ceiling within the attempt
// window.
const maxFailedAttempts = 3

// SecurityEventRecorder persists audit events. Persistence is best effort:
// a nil recorder or a failing insert never blocks the payment path.
type SecurityEventRecorder interface {
	InsertSecurityEvent(ctx context.Context, event *models.SecurityEvent) error
}

// suspiciousAmountThresholds trigger a SUSPICIOUS_ACTIVITY follow-up event
// when a single attempt meets or exceeds them.
var suspiciousAmountThresholds = map[string]decimal.Decimal{
	"USD": decimal.NewFromInt(10000),
	"EUR": decimal.NewFromInt(9000),
	"CLP": decimal.NewFromInt(10000000),
}

// criticalEventTypes always escalate to SUSPICIOUS_ACTIVITY.
var criticalEventTypes = map[models.SecurityEventType]bool{
	models.EventRateLimitExceeded:  true,
	models.EventUnauthorizedAccess: true,
	models.EventDataBreachAttempt:  true,
}

// sensitiveKeys lists metadata keys whose values are always masked.
var sensitiveKeys = map[string]bool{
	"cvv":              true,
	"password":         true,
	"token":            true,
	"card":             true,
	"cardnumber":       true,
	"securitycode":     true,
	"verificationcode": true,
}

// SecurityAuditService writes the append-only security audit trail. Every
// event passes through masking before it is logged or persisted, so card
// data and credentials never reach a sink in the clear. It also keeps the
// per-session failed-attempt counter that backs the attempt limit.
type SecurityAuditService struct {
	logger   *zap.Logger
	attempts AttemptStore
	recorder SecurityEventRecorder
}

func NewSecurityAuditService(env string, attempts AttemptStore, recorder SecurityEventRecorder) *SecurityAuditService {
	return &SecurityAuditService{
		logger:   util.NewSecurityLogger(env),
		attempts: attempts,
		recorder: recorder,
	}
}

// LogEvent masks, logs and persists one audit event, updates the session
// failure counter, and runs suspicious-activity detection. Detection never
// recurses: a SUSPICIOUS_ACTIVITY event is logged as-is.
func (s *SecurityAuditService) LogEvent(ctx context.Context, event *models.SecurityEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	masked := s.mask(event)

	s.logger.Info("security_event",
		zap.String("event_type", string(masked.Type)),
		zap.String("user_id", masked.UserID),
		zap.String("session_id", masked.SessionID),
		zap.String("ip_address", masked.IPAddress),
		zap.String("payment_id", masked.PaymentID),
		zap.String("provider", string(masked.Provider)),
		zap.String("error_code", masked.ErrorCode),
		zap.Any("metadata", masked.Metadata),
		zap.Time("timestamp", masked.Timestamp))

	if s.recorder != nil {
		if err := s.recorder.InsertSecurityEvent(ctx, masked); err != nil {
			s.logger.Warn("security event persistence failed", zap.Error(err))
		}
	}

	reachedLimit := false
	switch event.Type {
	case models.EventPaymentFailure, models.EventCvvValidationFailed:
		if s.attempts != nil && event.SessionID != "" {
			count, err := s.attempts.Increment(ctx, event.SessionID)
			if err != nil {
				s.logger.Warn("attempt counter increment failed", zap.Error(err))
			}
			reachedLimit = count >= maxFailedAttempts
		}
	case models.EventPaymentSuccess:
		if s.attempts != nil && event.SessionID != "" {
			if err := s.attempts.Clear(ctx, event.SessionID); err != nil {
				s.logger.Warn("attempt counter clear failed", zap.Error(err))
			}
		}
	case models.EventSuspiciousActivity:
		util.SuspiciousActivityTotal.Inc()
		return
	}

	reason := s.suspicionReason(event)
	if reason == "" && reachedLimit {
		reason = "attempt_threshold"
	}
	if reason != "" {
		s.LogEvent(ctx, &models.SecurityEvent{
			Type:      models.EventSuspiciousActivity,
			UserID:    event.UserID,
			SessionID: event.SessionID,
			IPAddress: event.IPAddress,
			UserAgent: event.UserAgent,
			Amount:    event.Amount,
			Currency:  event.Currency,
			Provider:  event.Provider,
			PaymentID: event.PaymentID,
			Metadata: map[string]any{
				"reason":       reason,
				"source_event": string(event.Type),
			},
		})
	}
}

// suspicionReason decides whether an event warrants escalation. Returns an
// empty string when it does not.
func (s *SecurityAuditService) suspicionReason(event *models.SecurityEvent) string {
	if criticalEventTypes[event.Type] {
		return "critical_event"
	}
	if event.Amount != nil {
		threshold, ok := suspiciousAmountThresholds[event.Currency]
		if !ok {
			threshold = suspiciousAmountThresholds["USD"]
		}
		if event.Amount.GreaterThanOrEqual(threshold) {
			return "high_amount"
		}
	}
	return ""
}

// ExceededFailedAttempts reports whether the session is over the failure
// ceiling.
func (s *SecurityAuditService) ExceededFailedAttempts(ctx context.Context, sessionID string) bool {
	return s.FailedAttemptCount(ctx, sessionID) >= maxFailedAttempts
}

// FailedAttemptCount returns the session's current failure count.
func (s *SecurityAuditService) FailedAttemptCount(ctx context.Context, sessionID string) int {
	if s.attempts == nil || sessionID == "" {
		return 0
	}
	count, err := s.attempts.Count(ctx, sessionID)
	if err != nil {
		s.logger.Warn("attempt counter read failed", zap.Error(err))
		return 0
	}
	return count
}

// ClearFailedAttempts resets the session's failure counter.
func (s *SecurityAuditService) ClearFailedAttempts(ctx context.Context, sessionID string) {
	if s.attempts == nil || sessionID == "" {
		return
	}
	if err := s.attempts.Clear(ctx, sessionID); err != nil {
		s.logger.Warn("attempt counter clear failed", zap.Error(err))
	}
}

// LogPaymentAttempt records the start of a payment attempt.
func (s *SecurityAuditService) LogPaymentAttempt(ctx context.Context, event *models.SecurityEvent) {
	event.Type = models.EventPaymentAttempt
	s.LogEvent(ctx, event)
}

// LogRateLimitExceeded records an attempt rejected by the failure ceiling.
func (s *SecurityAuditService) LogRateLimitExceeded(ctx context.Context, event *models.SecurityEvent) {
	event.Type = models.EventRateLimitExceeded
	s.LogEvent(ctx, event)
}

// mask returns a copy of the event with sensitive values redacted:
// identifiers keep their last four characters, IPs keep their first two
// octets, and sensitive metadata values are replaced outright.
func (s *SecurityAuditService) mask(event *models.SecurityEvent) *models.SecurityEvent {
	masked := *event
	masked.UserID = maskString(event.UserID)
	masked.SessionID = maskString(event.SessionID)
	masked.IPAddress = maskIP(event.IPAddress)
	masked.Metadata = maskMetadata(event.Metadata)
	return &masked
}

// maskString keeps the last four characters of an identifier. Values of
// four characters or fewer are fully redacted.
func maskString(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "***MASKED***"
	}
	return "***" + s[len(s)-4:]
}

// maskIP keeps the first two octets of an IPv4 address. Anything else is
// fully redacted.
func maskIP(ip string) string {
	if ip == "" {
		return ""
	}
	parts := strings.Split(ip, ".")
	if len(parts) != 4 {
		return "***MASKED***"
	}
	return parts[0] + "." + parts[1] + ".*.*"
}

// maskMetadata redacts values under sensitive keys and recurses into nested
// maps. The input map is not modified.
func maskMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return nil
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		if sensitiveKeys[strings.ToLower(k)] {
			out[k] = "***MASKED***"
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = maskMetadata(nested)
			continue
		}
		out[k] = v
	}
	return out
}
