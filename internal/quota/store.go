// Package quota tracks how many emails each owner sent per UTC day and
// enforces the owner's daily cap.
package quota

import (
	"context"
	"errors"
	"time"

	"github.com/bissquit/outreach-queue/internal/domain"
)

// ErrRecordNotFound is returned by a Store when no record exists for (owner, day).
var ErrRecordNotFound = errors.New("daily limit record not found")

// Store persists daily limit records.
//
// Increment must be atomic at the storage layer: concurrent callers for the
// same (owner, day) must never lose an update.
type Store interface {
	// Get returns the record for (ownerID, day) or ErrRecordNotFound.
	Get(ctx context.Context, ownerID string, day time.Time) (*domain.DailyLimit, error)
	// GetOrCreate inserts the record with limit if absent and returns the
	// stored record. An existing record keeps its original limit.
	GetOrCreate(ctx context.Context, ownerID string, day time.Time, limit int) (*domain.DailyLimit, error)
	// Increment adds one to the sent count and returns the new value.
	// Returns ErrRecordNotFound if the record does not exist.
	Increment(ctx context.Context, ownerID string, day time.Time) (int, error)
}

// LimitSource returns the owner's configured daily limit.
// A non-positive value means the owner has no explicit limit.
type LimitSource interface {
	DailyLimit(ctx context.Context, ownerID string) (int, error)
}
