package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/outreach-queue/internal/domain"
	"github.com/bissquit/outreach-queue/internal/queue"
	"github.com/google/uuid"
)

const entryColumns = `id, owner_id, target_id, subject, body, category, priority, scheduled_at,
	status, attempts, max_attempts, last_error, created_at, updated_at, sent_at`

// QueueRepository implements queue.Repository.
type QueueRepository struct {
	db *sql.DB
}

// Create inserts a new queue entry.
func (r *QueueRepository) Create(ctx context.Context, entry *domain.QueueEntry) error {
	entry.ID = uuid.NewString()
	entry.CreatedAt = time.Now().UTC()
	entry.UpdatedAt = entry.CreatedAt

	_, err := r.db.ExecContext(ctx, `
INSERT INTO email_queue (id, owner_id, target_id, subject, body, category, priority, scheduled_at, status, attempts, max_attempts, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.OwnerID,
		entry.TargetID,
		entry.Subject,
		entry.Body,
		entry.Category,
		entry.Priority,
		formatTime(entry.ScheduledAt),
		entry.Status,
		entry.Attempts,
		entry.MaxAttempts,
		formatTime(entry.CreatedAt),
		formatTime(entry.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert queue entry: %w", err)
	}
	return nil
}

// GetByID retrieves a queue entry by ID.
func (r *QueueRepository) GetByID(ctx context.Context, id string) (*domain.QueueEntry, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM email_queue WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, queue.ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get queue entry: %w", err)
	}
	return entry, nil
}

// ListByOwner returns the owner's entries ordered by priority then schedule.
func (r *QueueRepository) ListByOwner(ctx context.Context, ownerID string, filter queue.ListFilter) ([]domain.QueueEntry, error) {
	var status sql.NullString
	if filter.Status != nil {
		status = sql.NullString{String: string(*filter.Status), Valid: true}
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT `+entryColumns+`
FROM email_queue
WHERE owner_id = ? AND (? IS NULL OR status = ?)
ORDER BY priority DESC, scheduled_at ASC
LIMIT ?`, ownerID, status, status, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("list queue entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

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

// GetStats counts entries by status. An empty ownerID counts all owners.
func (r *QueueRepository) GetStats(ctx context.Context, ownerID string) (*domain.QueueStats, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT status, COUNT(*)
FROM email_queue
WHERE ? = '' OR owner_id = ?
GROUP BY status`, ownerID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("get queue stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

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
func (r *QueueRepository) NextEligible(ctx context.Context, ownerID string, now time.Time) (*domain.QueueEntry, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+entryColumns+`
FROM email_queue
WHERE owner_id = ? AND status = 'queued' AND scheduled_at <= ?
ORDER BY priority DESC, scheduled_at ASC
LIMIT 1`, ownerID, formatTime(now))
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, queue.ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get next eligible entry: %w", err)
	}
	return entry, nil
}

// MarkSent marks a queued entry as sent.
func (r *QueueRepository) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	return r.transition(ctx, "mark sent", `
UPDATE email_queue
SET status = 'sent', sent_at = ?, last_error = NULL, updated_at = ?
WHERE id = ? AND status = 'queued'`, formatTime(sentAt), timestamp(), id)
}

// MarkForRetry records a failed attempt and reschedules the entry.
func (r *QueueRepository) MarkForRetry(ctx context.Context, id string, lastError string, nextAttempt time.Time) error {
	return r.transition(ctx, "mark for retry", `
UPDATE email_queue
SET attempts = attempts + 1, last_error = ?, scheduled_at = ?, updated_at = ?
WHERE id = ? AND status = 'queued'`, lastError, formatTime(nextAttempt), timestamp(), id)
}

// MarkFailed records a final failed attempt.
func (r *QueueRepository) MarkFailed(ctx context.Context, id string, lastError string) error {
	return r.transition(ctx, "mark failed", `
UPDATE email_queue
SET status = 'failed', attempts = MIN(attempts + 1, max_attempts), last_error = ?, updated_at = ?
WHERE id = ? AND status = 'queued'`, lastError, timestamp(), id)
}

// Cancel cancels a queued or failed entry owned by ownerID.
func (r *QueueRepository) Cancel(ctx context.Context, id, ownerID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
UPDATE email_queue
SET status = 'cancelled', updated_at = ?
WHERE id = ? AND owner_id = ? AND status IN ('queued', 'failed')`, timestamp(), id, ownerID)
	if err != nil {
		return false, fmt.Errorf("cancel queue entry: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cancel queue entry: %w", err)
	}
	return n > 0, nil
}

func (r *QueueRepository) transition(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return queue.ErrEntryNotQueued
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*domain.QueueEntry, error) {
	var (
		e                                 domain.QueueEntry
		lastError, sentAt                 sql.NullString
		scheduledAt, createdAt, updatedAt string
	)
	err := row.Scan(
		&e.ID,
		&e.OwnerID,
		&e.TargetID,
		&e.Subject,
		&e.Body,
		&e.Category,
		&e.Priority,
		&scheduledAt,
		&e.Status,
		&e.Attempts,
		&e.MaxAttempts,
		&lastError,
		&createdAt,
		&updatedAt,
		&sentAt,
	)
	if err != nil {
		return nil, err
	}

	if e.ScheduledAt, err = parseTime(scheduledAt); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if lastError.Valid {
		e.LastError = &lastError.String
	}
	if sentAt.Valid {
		t, err := parseTime(sentAt.String)
		if err != nil {
			return nil, err
		}
		e.SentAt = &t
	}
	return &e, nil
}

func timestamp() string {
	return formatTime(time.Now())
}
