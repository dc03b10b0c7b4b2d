// Package postgres provides PostgreSQL implementation of the daily limit store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/outreach-queue/internal/domain"
	"github.com/bissquit/outreach-queue/internal/quota"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store implements quota.Store using PostgreSQL.
type Store struct {
	db *pgxpool.Pool
}

// NewStore creates a new PostgreSQL daily limit store.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Get retrieves the record for (ownerID, day).
func (s *Store) Get(ctx context.Context, ownerID string, day time.Time) (*domain.DailyLimit, error) {
	query := `
		SELECT owner_id, day, sent_count, daily_limit
		FROM daily_send_limits
		WHERE owner_id = $1 AND day = $2
	`
	var record domain.DailyLimit
	err := s.db.QueryRow(ctx, query, ownerID, day).Scan(
		&record.OwnerID,
		&record.Day,
		&record.SentCount,
		&record.Limit,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, quota.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get daily limit: %w", err)
	}
	return &record, nil
}

// GetOrCreate inserts the record if absent and returns the stored one.
func (s *Store) GetOrCreate(ctx context.Context, ownerID string, day time.Time, limit int) (*domain.DailyLimit, error) {
	query := `
		INSERT INTO daily_send_limits (owner_id, day, sent_count, daily_limit)
		VALUES ($1, $2, 0, $3)
		ON CONFLICT (owner_id, day) DO NOTHING
	`
	if _, err := s.db.Exec(ctx, query, ownerID, day, limit); err != nil {
		return nil, fmt.Errorf("insert daily limit: %w", err)
	}
	return s.Get(ctx, ownerID, day)
}

// Increment atomically adds one to the sent count.
func (s *Store) Increment(ctx context.Context, ownerID string, day time.Time) (int, error) {
	query := `
		UPDATE daily_send_limits
		SET sent_count = sent_count + 1, updated_at = NOW()
		WHERE owner_id = $1 AND day = $2
		RETURNING sent_count
	`
	var count int
	err := s.db.QueryRow(ctx, query, ownerID, day).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, quota.ErrRecordNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment sent count: %w", err)
	}
	return count, nil
}
