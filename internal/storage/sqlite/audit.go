package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/bissquit/outreach-queue/internal/audit"
	"github.com/google/uuid"
)

// AuditSink implements audit.Sink.
type AuditSink struct {
	db *sql.DB
}

// RecordDelivery inserts the delivery row and its analytics event in one
// transaction.
func (s *AuditSink) RecordDelivery(ctx context.Context, d audit.Delivery) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
INSERT INTO email_deliveries (id, queue_entry_id, owner_id, target_id, recipient, subject, category, message_id, sent_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), d.EntryID, d.OwnerID, d.TargetID, d.Recipient, d.Subject, d.Category, d.MessageID, formatTime(d.SentAt))
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO analytics_events (id, owner_id, event_type, payload, occurred_at)
VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), d.OwnerID, audit.EventEmailSent, string(payload), formatTime(d.SentAt))
	if err != nil {
		return fmt.Errorf("insert analytics event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// CountDeliveries returns how many deliveries were recorded for the owner.
func (s *AuditSink) CountDeliveries(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM email_deliveries WHERE owner_id = ?`, ownerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count deliveries: %w", err)
	}
	return n, nil
}
