package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/outreach-queue/internal/domain"
	"github.com/bissquit/outreach-queue/internal/pkg/ctxlog"
)

// QuotaChecker reports whether an owner may send more email today.
type QuotaChecker interface {
	CheckQuota(ctx context.Context, ownerID string) (domain.QuotaStatus, error)
}

// Config contains queue service configuration.
type Config struct {
	MaxAttempts      int
	DefaultListLimit int
	MaxListLimit     int
}

// DefaultConfig returns default queue configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:      domain.DefaultMaxAttempts,
		DefaultListLimit: 50,
		MaxListLimit:     500,
	}
}

// EnqueueInput describes a new outbound email.
type EnqueueInput struct {
	OwnerID     string
	TargetID    string
	Subject     string
	Body        string
	Category    domain.Category
	Priority    int
	ScheduledAt *time.Time
}

// Service provides queue business logic.
type Service struct {
	repo   Repository
	quota  QuotaChecker
	config Config
	now    func() time.Time
}

// NewService creates a new queue service.
func NewService(repo Repository, quota QuotaChecker, config Config) *Service {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = domain.DefaultMaxAttempts
	}
	if config.DefaultListLimit <= 0 {
		config.DefaultListLimit = DefaultConfig().DefaultListLimit
	}
	if config.MaxListLimit < config.DefaultListLimit {
		config.MaxListLimit = config.DefaultListLimit
	}

	return &Service{
		repo:   repo,
		quota:  quota,
		config: config,
		now:    time.Now,
	}
}

// Enqueue admits a new entry if the owner still has quota today.
// The cap is applied at admission, so it limits queued as well as sent
// emails. Concurrent enqueues may both pass the same check.
func (s *Service) Enqueue(ctx context.Context, in EnqueueInput) (*domain.QueueEntry, error) {
	status, err := s.quota.CheckQuota(ctx, in.OwnerID)
	if err != nil {
		recordEnqueue("error")
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	if !status.CanSend {
		recordEnqueue("quota_exceeded")
		return nil, ErrQuotaExceeded
	}

	now := s.now()
	scheduledAt := now
	if in.ScheduledAt != nil {
		scheduledAt = *in.ScheduledAt
	}

	entry := &domain.QueueEntry{
		OwnerID:     in.OwnerID,
		TargetID:    in.TargetID,
		Subject:     in.Subject,
		Body:        in.Body,
		Category:    in.Category,
		Priority:    in.Priority,
		ScheduledAt: scheduledAt.UTC(),
		Status:      domain.EntryStatusQueued,
		Attempts:    0,
		MaxAttempts: s.config.MaxAttempts,
	}

	if err := s.repo.Create(ctx, entry); err != nil {
		recordEnqueue("error")
		return nil, fmt.Errorf("%w: create queue entry: %w", domain.ErrStorageUnavailable, err)
	}

	recordEnqueue("queued")
	ctxlog.FromContext(ctx).Info("email queued",
		"entry_id", entry.ID,
		"owner_id", entry.OwnerID,
		"target_id", entry.TargetID,
		"priority", entry.Priority,
		"scheduled_at", entry.ScheduledAt,
		"remaining", status.Remaining-1,
	)

	return entry, nil
}

// ListForOwner returns the owner's entries by priority then schedule.
func (s *Service) ListForOwner(ctx context.Context, ownerID string, filter ListFilter) ([]domain.QueueEntry, error) {
	if filter.Limit <= 0 {
		filter.Limit = s.config.DefaultListLimit
	}
	if filter.Limit > s.config.MaxListLimit {
		filter.Limit = s.config.MaxListLimit
	}

	entries, err := s.repo.ListByOwner(ctx, ownerID, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: list queue: %w", domain.ErrStorageUnavailable, err)
	}
	return entries, nil
}

// Stats returns the owner's entry counts by status.
func (s *Service) Stats(ctx context.Context, ownerID string) (*domain.QueueStats, error) {
	stats, err := s.repo.GetStats(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%w: queue stats: %w", domain.ErrStorageUnavailable, err)
	}
	return stats, nil
}

// Get returns a single entry. Entries of other owners are reported as not found.
func (s *Service) Get(ctx context.Context, id, ownerID string) (*domain.QueueEntry, error) {
	entry, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, ErrEntryNotFound) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get queue entry: %w", domain.ErrStorageUnavailable, err)
	}
	if entry.OwnerID != ownerID {
		return nil, ErrEntryNotFound
	}
	return entry, nil
}

// NextEligible returns the next entry to dispatch for the owner, or nil if
// nothing is due or the owner has no quota left today.
func (s *Service) NextEligible(ctx context.Context, ownerID string) (*domain.QueueEntry, error) {
	status, err := s.quota.CheckQuota(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("next eligible: %w", err)
	}
	if !status.CanSend {
		return nil, nil
	}

	entry, err := s.repo.NextEligible(ctx, ownerID, s.now())
	if errors.Is(err, ErrEntryNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: next eligible: %w", domain.ErrStorageUnavailable, err)
	}
	return entry, nil
}

// Cancel cancels a queued or failed entry. It reports false, without error,
// for unknown entries, entries of another owner and sent or cancelled ones.
func (s *Service) Cancel(ctx context.Context, id, ownerID string) (bool, error) {
	ok, err := s.repo.Cancel(ctx, id, ownerID)
	if err != nil {
		return false, fmt.Errorf("%w: cancel queue entry: %w", domain.ErrStorageUnavailable, err)
	}

	recordCancel(ok)
	if ok {
		ctxlog.FromContext(ctx).Info("queue entry cancelled", "entry_id", id, "owner_id", ownerID)
	}
	return ok, nil
}

// MarkSent records a successful delivery.
func (s *Service) MarkSent(ctx context.Context, id string) error {
	if err := s.repo.MarkSent(ctx, id, s.now()); err != nil {
		return s.transitionError("mark sent", err)
	}
	return nil
}

// MarkForRetry bumps the attempt counter and reschedules the entry.
func (s *Service) MarkForRetry(ctx context.Context, id, lastError string, nextAttempt time.Time) error {
	if err := s.repo.MarkForRetry(ctx, id, lastError, nextAttempt); err != nil {
		return s.transitionError("mark for retry", err)
	}
	return nil
}

// MarkFailed bumps the attempt counter and moves the entry to failed.
func (s *Service) MarkFailed(ctx context.Context, id, lastError string) error {
	if err := s.repo.MarkFailed(ctx, id, lastError); err != nil {
		return s.transitionError("mark failed", err)
	}
	return nil
}

func (s *Service) transitionError(op string, err error) error {
	if errors.Is(err, ErrEntryNotQueued) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrStorageUnavailable, op, err)
}
