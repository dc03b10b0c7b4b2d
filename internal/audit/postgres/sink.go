// Package postgres stores delivery records and analytics events in PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bissquit/outreach-queue/internal/audit"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Sink implements audit.Sink using PostgreSQL.
type Sink struct {
	db *pgxpool.Pool
}

// NewSink creates a new PostgreSQL audit sink.
func NewSink(db *pgxpool.Pool) *Sink {
	return &Sink{db: db}
}

// RecordDelivery inserts the delivery row and its analytics event in one
// transaction.
func (s *Sink) RecordDelivery(ctx context.Context, d audit.Delivery) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("failed to rollback transaction", "error", err)
		}
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO email_deliveries (queue_entry_id, owner_id, target_id, recipient, subject, category, message_id, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, d.EntryID, d.OwnerID, d.TargetID, d.Recipient, d.Subject, d.Category, d.MessageID, d.SentAt)
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO analytics_events (owner_id, event_type, payload, occurred_at)
		VALUES ($1, $2, $3, $4)
	`, d.OwnerID, audit.EventEmailSent, payload, d.SentAt)
	if err != nil {
		return fmt.Errorf("insert analytics event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
