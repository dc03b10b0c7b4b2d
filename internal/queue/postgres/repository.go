// Package postgres provides PostgreSQL implementation of the queue repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/outreach-queue/internal/domain"
	"github.com/bissquit/outreach-queue/internal/queue"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const entryColumns = `
	id, owner_id, target_id, subject, body, category, priority, scheduled_at,
	status, attempts, max_attempts, last_error, created_at, updated_at, sent_at
`

// Repository implements queue.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL queue repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts a new queue entry.
func (r *Repository) Create(ctx context.Context, entry *domain.QueueEntry) error {
	query := `
		INSERT INTO email_queue (owner_id, target_id, subject, body, category, priority, scheduled_at, status, attempts, max_attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		entry.OwnerID,
		entry.TargetID,
		entry.Subject,
		entry.Body,
		entry.Category,
		entry.Priority,
		entry.ScheduledAt,
		entry.Status,
		entry.Attempts,
		entry.MaxAttempts,
	).Scan(&entry.ID, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert queue entry: %w", err)
	}
	return nil
}

// GetByID retrieves a queue entry by ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*domain.QueueEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM email_queue WHERE id = $1`

	entry, err := scanEntry(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, queue.ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get queue entry: %w", err)
	}
	return entry, nil
}

// ListByOwner returns the owner's entries ordered by priority then schedule.
func (r *Repository) ListByOwner(ctx context.Context, ownerID string, filter queue.ListFilter) ([]domain.QueueEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM email_queue
		WHERE owner_id = $1 AND ($2::text IS NULL OR status = $2)
		ORDER BY priority DESC, scheduled_at ASC
		LIMIT $3
	`
	var status *string
	if filter.Status != nil {
		s := string(*filter.Status)
		status = &s
	}

	rows, err := r.db.Query(ctx, query, ownerID, status, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("list queue entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.QueueEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue entries: %w", err)
	}
	return entries, nil
}

// GetStats counts entries by status.
func (r *Repository) GetStats(ctx context.Context, ownerID string) (*domain.QueueStats, error) {
	query := `
		SELECT status, COUNT(*)
		FROM email_queue
		WHERE $1 = '' OR owner_id::text = $1
		GROUP BY status
	`
	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("get queue stats: %w", err)
	}
	defer rows.Close()

	stats := &domain.QueueStats{}
	for rows.Next() {
		var status domain.EntryStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan queue stats: %w", err)
		}
		stats.Add(status, count)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue stats: %w", err)
	}
	return stats, nil
}

// NextEligible returns the highest priority queued entry due at now.
func (r *Repository) NextEligible(ctx context.Context, ownerID string, now time.Time) (*domain.QueueEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM email_queue
		WHERE owner_id = $1 AND status = 'queued' AND scheduled_at <= $2
		ORDER BY priority DESC, scheduled_at ASC
		LIMIT 1
	`
	entry, err := scanEntry(r.db.QueryRow(ctx, query, ownerID, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, queue.ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get next eligible entry: %w", err)
	}
	return entry, nil
}

// MarkSent marks a queued entry as sent.
func (r *Repository) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	query := `
		UPDATE email_queue
		SET status = 'sent', sent_at = $2, last_error = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'queued'
	`
	return r.transition(ctx, "mark sent", query, id, sentAt)
}

// MarkForRetry records a failed attempt and reschedules the entry.
func (r *Repository) MarkForRetry(ctx context.Context, id string, lastError string, nextAttempt time.Time) error {
	query := `
		UPDATE email_queue
		SET attempts = attempts + 1, last_error = $2, scheduled_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'queued'
	`
	return r.transition(ctx, "mark for retry", query, id, lastError, nextAttempt)
}

// MarkFailed records a final failed attempt.
func (r *Repository) MarkFailed(ctx context.Context, id string, lastError string) error {
	query := `
		UPDATE email_queue
		SET status = 'failed', attempts = LEAST(attempts + 1, max_attempts), last_error = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'queued'
	`
	return r.transition(ctx, "mark failed", query, id, lastError)
}

// Cancel cancels a queued or failed entry owned by ownerID.
func (r *Repository) Cancel(ctx context.Context, id, ownerID string) (bool, error) {
	query := `
		UPDATE email_queue
		SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND owner_id = $2 AND status IN ('queued', 'failed')
	`
	result, err := r.db.Exec(ctx, query, id, ownerID)
	if err != nil {
		return false, fmt.Errorf("cancel queue entry: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

func (r *Repository) transition(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if result.RowsAffected() == 0 {
		return queue.ErrEntryNotQueued
	}
	return nil
}

func scanEntry(row pgx.Row) (*domain.QueueEntry, error) {
	var e domain.QueueEntry
	err := row.Scan(
		&e.ID,
		&e.OwnerID,
		&e.TargetID,
		&e.Subject,
		&e.Body,
		&e.Category,
		&e.Priority,
		&e.ScheduledAt,
		&e.Status,
		&e.Attempts,
		&e.MaxAttempts,
		&e.LastError,
		&e.CreatedAt,
		&e.UpdatedAt,
		&e.SentAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
