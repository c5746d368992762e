package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"payment-gateway/internal/models"
	"payment-gateway/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// confirmationTTL is how long an issued token stays redeemable.
const confirmationTTL = 5 * time.Minute

// currencyBand is the accepted amount range for one currency.
type currencyBand struct {
	min           decimal.Decimal
	max           decimal.Decimal
	highThreshold decimal.Decimal
	symbol        string
	decimals      int32
}

var currencyBands = map[string]currencyBand{
	"USD": {
		min:           decimal.NewFromFloat(0.50),
		max:           decimal.NewFromFloat(999999.99),
		highThreshold: decimal.NewFromInt(1000),
		symbol:        "$",
		decimals:      2,
	},
	"EUR": {
		min:           decimal.NewFromFloat(0.50),
		max:           decimal.NewFromFloat(999999.99),
		highThreshold: decimal.NewFromInt(1000),
		symbol:        "€",
		decimals:      2,
	},
	"CLP": {
		min:           decimal.NewFromInt(100),
		max:           decimal.NewFromInt(999999999),
		highThreshold: decimal.NewFromInt(1000000),
		symbol:        "$",
		decimals:      0,
	},
	"MXN": {
		min:           decimal.NewFromInt(10),
		max:           decimal.NewFromFloat(999999.99),
		highThreshold: decimal.NewFromInt(20000),
		symbol:        "$",
		decimals:      2,
	},
}

// ConfirmationRequest is the input to GenerateConfirmation.
type ConfirmationRequest struct {
	Amount      decimal.Decimal
	Currency    string
	Provider    models.PaymentProvider
	UserID      string
	SessionID   string
	IPAddress   string
	UserAgent   string
	Description string
	Metadata    map[string]any
}

// Confirmation is what the client gets back: a single-use token plus the
// exact figures it must re-present when committing the payment.
type Confirmation struct {
	Token           string          `json:"confirmationToken"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	FormattedAmount string          `json:"formattedAmount"`
	Message         string          `json:"message"`
	RequiresReview  bool            `json:"requiresReview"`
	Warnings        []string        `json:"warnings,omitempty"`
	ExpiresAt       time.Time       `json:"expiresAt"`
}

// SessionConfirmation is the view of a session's pending token, including
// the token itself so a client can resume an interrupted flow.
type SessionConfirmation struct {
	SessionID        string          `json:"sessionId"`
	Token            string          `json:"confirmationToken"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	FormattedAmount  string          `json:"formattedAmount"`
	ExpiresAt        time.Time       `json:"expiresAt"`
	RemainingSeconds int64           `json:"remainingSeconds"`
	Expired          bool            `json:"expired"`
}

// ConfirmationService implements the two-phase amount confirmation flow:
// the client first reviews the exact amount and receives a token, then
// presents the token together with the same figures to commit.
type ConfirmationService struct {
	store  ConfirmationStore
	audit  *SecurityAuditService
	logger *zap.Logger
	now    func() time.Time
}

func NewConfirmationService(store ConfirmationStore, audit *SecurityAuditService) *ConfirmationService {
	return &ConfirmationService{
		store:  store,
		audit:  audit,
		logger: util.GetLogger(),
		now:    time.Now,
	}
}

// GenerateConfirmation validates the amount against its currency band and
// issues a fresh single-use token bound to amount, currency, user and
// session. A previous token for the same session is invalidated first, so a
// session never has more than one live token.
func (s *ConfirmationService) GenerateConfirmation(ctx context.Context, req ConfirmationRequest) (*Confirmation, error) {
	ctx, span := util.StartSpan(ctx, "ConfirmationService.GenerateConfirmation")
	defer span.End()

	band, ok := currencyBands[req.Currency]
	if !ok {
		return nil, &models.InvalidAmountError{Reason: fmt.Sprintf("unsupported currency: %s", req.Currency)}
	}
	if !req.Amount.IsPositive() {
		return nil, &models.InvalidAmountError{Reason: "amount must be positive"}
	}
	if req.Amount.LessThan(band.min) {
		return nil, &models.InvalidAmountError{
			Reason: fmt.Sprintf("amount below minimum of %s for %s", band.min.StringFixed(band.decimals), req.Currency),
		}
	}
	if req.Amount.GreaterThan(band.max) {
		return nil, &models.InvalidAmountError{
			Reason: fmt.Sprintf("amount above maximum of %s for %s", band.max.StringFixed(band.decimals), req.Currency),
		}
	}

	if prev, err := s.store.FindBySession(ctx, req.SessionID); err == nil && prev != nil {
		_ = s.store.Invalidate(ctx, prev.Token)
	}

	token, err := newConfirmationToken()
	if err != nil {
		return nil, fmt.Errorf("generate confirmation token: %w", err)
	}

	now := s.now()
	rec := &models.ConfirmationRecord{
		Token:       token,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Provider:    req.Provider,
		UserID:      req.UserID,
		SessionID:   req.SessionID,
		Description: req.Description,
		Metadata:    req.Metadata,
		CreatedAt:   now,
		ExpiresAt:   now.Add(confirmationTTL),
	}
	if err := s.store.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("store confirmation: %w", err)
	}

	formatted := FormatAmount(req.Amount, req.Currency)
	conf := &Confirmation{
		Token:           token,
		Amount:          req.Amount,
		Currency:        req.Currency,
		FormattedAmount: formatted,
		Message:         fmt.Sprintf("Please confirm the payment of %s", formatted),
		ExpiresAt:       rec.ExpiresAt,
	}
	if req.Amount.GreaterThanOrEqual(band.highThreshold) {
		conf.RequiresReview = true
		conf.Warnings = append(conf.Warnings,
			fmt.Sprintf("High amount: please review %s carefully before confirming", formatted))
	}

	if s.audit != nil {
		amount := req.Amount
		s.audit.LogEvent(ctx, &models.SecurityEvent{
			Type:      models.EventAmountConfirmation,
			UserID:    req.UserID,
			SessionID: req.SessionID,
			IPAddress: req.IPAddress,
			UserAgent: req.UserAgent,
			Amount:    &amount,
			Currency:  req.Currency,
			Provider:  req.Provider,
			Metadata: map[string]any{
				"formatted_amount": formatted,
				"requires_review":  conf.RequiresReview,
			},
		})
	}

	util.ConfirmationsIssuedTotal.Inc()
	s.logger.Info("Confirmation token issued",
		zap.String("session_id", req.SessionID),
		zap.String("currency", req.Currency),
		zap.Bool("requires_review", conf.RequiresReview))
	return conf, nil
}

// ValidateConfirmation atomically redeems a token. The presented figures
// must match the issued ones exactly; a mismatch does not consume the token.
func (s *ConfirmationService) ValidateConfirmation(ctx context.Context, token string, amount decimal.Decimal, currency, userID, sessionID string) error {
	ctx, span := util.StartSpan(ctx, "ConfirmationService.ValidateConfirmation")
	defer span.End()

	result, err := s.store.Redeem(ctx, token, amount, currency, userID, sessionID)
	if err != nil {
		return fmt.Errorf("redeem confirmation: %w", err)
	}
	switch result {
	case RedeemOK:
		return nil
	case RedeemExpired:
		util.ConfirmationFailuresTotal.WithLabelValues("expired").Inc()
		return models.ErrConfirmationExpired
	case RedeemMismatch:
		util.ConfirmationFailuresTotal.WithLabelValues("mismatch").Inc()
		return models.ErrConfirmationMismatch
	default:
		util.ConfirmationFailuresTotal.WithLabelValues("not_found").Inc()
		return models.ErrConfirmationNotFound
	}
}

// SessionInfo returns the confirmation for a session, if any. A record past
// its deadline but not yet swept is still returned, flagged as expired, so a
// client can tell "expired" apart from "never confirmed".
func (s *ConfirmationService) SessionInfo(ctx context.Context, sessionID string) (*SessionConfirmation, error) {
	rec, err := s.store.FindBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("find session confirmation: %w", err)
	}
	if rec == nil {
		return nil, models.ErrSessionNotFound
	}
	remaining := int64(rec.ExpiresAt.Sub(s.now()).Seconds())
	if remaining < 0 {
		remaining = 0
	}
	return &SessionConfirmation{
		SessionID:        rec.SessionID,
		Token:            rec.Token,
		Amount:           rec.Amount,
		Currency:         rec.Currency,
		FormattedAmount:  FormatAmount(rec.Amount, rec.Currency),
		ExpiresAt:        rec.ExpiresAt,
		RemainingSeconds: remaining,
		Expired:          rec.Expired(s.now()),
	}, nil
}

// StartSweeper evicts expired confirmation records on an interval until the
// context is cancelled.
func (s *ConfirmationService) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed, err := s.store.Sweep(ctx); err != nil {
					s.logger.Warn("Confirmation sweep failed", zap.Error(err))
				} else if removed > 0 {
					s.logger.Debug("Swept expired confirmations", zap.Int("removed", removed))
				}
			}
		}
	}()
}

// FormatAmount renders an amount for user display: symbol plus the
// currency's conventional decimal places, e.g. "$1,000.00 USD".
func FormatAmount(amount decimal.Decimal, currency string) string {
	band, ok := currencyBands[currency]
	if !ok {
		return fmt.Sprintf("%s %s", amount.String(), currency)
	}
	return fmt.Sprintf("%s%s %s", band.symbol, groupThousands(amount.StringFixed(band.decimals)), currency)
}

// groupThousands inserts comma separators into the integer part of a fixed
// decimal string.
func groupThousands(s string) string {
	intPart := s
	fracPart := ""
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			intPart, fracPart = s[:i], s[i:]
			break
		}
	}
	sign := ""
	if len(intPart) > 0 && intPart[0] == '-' {
		sign, intPart = "-", intPart[1:]
	}
	if len(intPart) <= 3 {
		return sign + intPart + fracPart
	}
	var out []byte
	lead := len(intPart) % 3
	if lead > 0 {
		out = append(out, intPart[:lead]...)
	}
	for i := lead; i < len(intPart); i += 3 {
		if len(out) > 0 {
			out = append(out, ',')
		}
		out = append(out, intPart[i:i+3]...)
	}
	return sign + string(out) + fracPart
}

// newConfirmationToken returns "conf_" plus 32 hex characters of
// cryptographic randomness.
func newConfirmationToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "conf_" + hex.EncodeToString(buf), nil
}
