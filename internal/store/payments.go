package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"payment-gateway/internal/models"
)

// CreatePayment inserts a new payment row. Metadata is stored as JSONB.
func (s *Store) CreatePayment(ctx context.Context, view *models.PaymentView) error {
	meta, err := json.Marshal(view.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal payment metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO payments (id, amount, currency, provider, status, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		view.ID, view.Amount, view.Currency, view.Provider, view.Status, meta,
		view.CreatedAt, view.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// UpdatePaymentStatus updates a payment's status
func (s *Store) UpdatePaymentStatus(ctx context.Context, paymentID string, status models.PaymentStatus) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE payments SET status = $1, updated_at = NOW() WHERE id = $2",
		status, paymentID)
	if err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err == nil && rows == 0 {
		return fmt.Errorf("payment not found: %s", paymentID)
	}
	return nil
}

// GetPayment retrieves one payment row by id
func (s *Store) GetPayment(ctx context.Context, paymentID string) (*models.PaymentView, error) {
	var view models.PaymentView
	err := s.db.GetContext(ctx, &view,
		"SELECT id, amount, currency, provider, status, created_at, updated_at FROM payments WHERE id = $1",
		paymentID)
	if err == sql.ErrNoRows {
		return nil, models.ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// RecordPaymentError appends one entry to a payment's error history
func (s *Store) RecordPaymentError(ctx context.Context, rec *models.PaymentErrorRecord) error {
	details, err := json.Marshal(rec.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal error details: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO payment_errors (payment_id, code, message, provider, failed_tx_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.PaymentID, rec.Code, rec.Message, rec.Provider, rec.FailedTxID, details, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert payment error: %w", err)
	}
	return nil
}

// ListPaymentErrors returns a payment's error history, oldest first
func (s *Store) ListPaymentErrors(ctx context.Context, paymentID string) ([]models.PaymentErrorRecord, error) {
	var records []models.PaymentErrorRecord
	err := s.db.SelectContext(ctx, &records, `
		SELECT payment_id, code, message, provider, failed_tx_id, created_at
		FROM payment_errors WHERE payment_id = $1 ORDER BY created_at`,
		paymentID)
	return records, err
}

// InsertSecurityEvent appends one masked audit event
func (s *Store) InsertSecurityEvent(ctx context.Context, event *models.SecurityEvent) error {
	meta, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal event metadata: %w", err)
	}

	var amount any
	if event.Amount != nil {
		amount = *event.Amount
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO security_events
			(event_type, user_id, session_id, ip_address, user_agent, amount, currency,
			 provider, payment_id, error_code, error_message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		event.Type, event.UserID, event.SessionID, event.IPAddress, event.UserAgent,
		amount, event.Currency, event.Provider, event.PaymentID,
		event.ErrorCode, event.ErrorMessage, meta, event.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert security event: %w", err)
	}
	return nil
}

// IsProcessed checks if a webhook event was already handled (idempotency)
func (s *Store) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM processed_webhooks WHERE event_id = $1", eventID)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// MarkProcessed records a webhook event id as handled
func (s *Store) MarkProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO processed_webhooks (event_id, event_type, processed_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (event_id) DO NOTHING`,
		eventID, eventType)
	return err
}
