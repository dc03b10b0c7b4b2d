package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/outreach-queue/internal/domain"
	"github.com/bissquit/outreach-queue/internal/quota"
)

// QuotaStore implements quota.Store.
type QuotaStore struct {
	db *sql.DB
}

// Get retrieves the record for (ownerID, day).
func (s *QuotaStore) Get(ctx context.Context, ownerID string, day time.Time) (*domain.DailyLimit, error) {
	record := domain.DailyLimit{OwnerID: ownerID, Day: domain.DayOf(day)}
	err := s.db.QueryRowContext(ctx, `
SELECT sent_count, daily_limit
FROM daily_send_limits
WHERE owner_id = ? AND day = ?`, ownerID, formatDay(day)).Scan(&record.SentCount, &record.Limit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, quota.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get daily limit: %w", err)
	}
	return &record, nil
}

// GetOrCreate inserts the record if absent and returns the stored one.
func (s *QuotaStore) GetOrCreate(ctx context.Context, ownerID string, day time.Time, limit int) (*domain.DailyLimit, error) {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO daily_send_limits (owner_id, day, sent_count, daily_limit)
VALUES (?, ?, 0, ?)
ON CONFLICT (owner_id, day) DO NOTHING`, ownerID, formatDay(day), limit)
	if err != nil {
		return nil, fmt.Errorf("insert daily limit: %w", err)
	}
	return s.Get(ctx, ownerID, day)
}

// Increment atomically adds one to the sent count.
func (s *QuotaStore) Increment(ctx context.Context, ownerID string, day time.Time) (int, error) {
	var sent int
	err := s.db.QueryRowContext(ctx, `
UPDATE daily_send_limits
SET sent_count = sent_count + 1
WHERE owner_id = ? AND day = ?
RETURNING sent_count`, ownerID, formatDay(day)).Scan(&sent)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, quota.ErrRecordNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment daily limit: %w", err)
	}
	return sent, nil
}
