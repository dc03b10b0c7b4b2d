// Package queue stores outbound outreach emails and guards their lifecycle.
package queue

import (
	"context"
	"time"

	"github.com/bissquit/outreach-queue/internal/domain"
)

// ListFilter narrows ListByOwner results.
type ListFilter struct {
	Status *domain.EntryStatus
	Limit  int
}

// Repository defines the interface for queue data access.
//
// Every transition method applies only while the entry is still queued and
// returns ErrEntryNotQueued otherwise.
type Repository interface {
	Create(ctx context.Context, entry *domain.QueueEntry) error
	GetByID(ctx context.Context, id string) (*domain.QueueEntry, error)
	ListByOwner(ctx context.Context, ownerID string, filter ListFilter) ([]domain.QueueEntry, error)
	// GetStats counts entries by status. An empty ownerID counts all owners.
	GetStats(ctx context.Context, ownerID string) (*domain.QueueStats, error)

	// NextEligible returns the queued entry with the highest priority and
	// earliest schedule that is due at now, or ErrEntryNotFound.
	NextEligible(ctx context.Context, ownerID string, now time.Time) (*domain.QueueEntry, error)

	// Transitions
	MarkSent(ctx context.Context, id string, sentAt time.Time) error
	MarkForRetry(ctx context.Context, id string, lastError string, nextAttempt time.Time) error
	MarkFailed(ctx context.Context, id string, lastError string) error

	// Cancel moves a queued or failed entry owned by ownerID to cancelled.
	// Returns false without error when nothing was changed.
	Cancel(ctx context.Context, id, ownerID string) (bool, error)
}
