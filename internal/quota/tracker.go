package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/outreach-queue/internal/domain"
	"github.com/bissquit/outreach-queue/internal/pkg/ctxlog"
)

// Config contains tracker configuration.
type Config struct {
	// DefaultLimit applies to owners without an explicit daily limit. It is
	// also reported when storage is unavailable.
	DefaultLimit int
}

// DefaultConfig returns default tracker configuration.
func DefaultConfig() Config {
	return Config{
		DefaultLimit: 20,
	}
}

// Tracker answers quota checks and records successful sends.
type Tracker struct {
	store  Store
	limits LimitSource
	config Config
	now    func() time.Time
}

// NewTracker creates a new daily limit tracker.
func NewTracker(store Store, limits LimitSource, config Config) *Tracker {
	return &Tracker{
		store:  store,
		limits: limits,
		config: config,
		now:    time.Now,
	}
}

// Today returns the current UTC calendar day.
func (t *Tracker) Today() time.Time {
	return domain.DayOf(t.now())
}

// CheckQuota returns today's quota for the owner, creating the day record
// on first use. On storage failure it fails closed: CanSend is false and the
// returned error wraps domain.ErrStorageUnavailable.
func (t *Tracker) CheckQuota(ctx context.Context, ownerID string) (domain.QuotaStatus, error) {
	day := t.Today()

	record, err := t.store.Get(ctx, ownerID, day)
	if errors.Is(err, ErrRecordNotFound) {
		record, err = t.createRecord(ctx, ownerID, day)
	}
	if err != nil {
		ctxlog.FromContext(ctx).Error("quota check failed, denying sends",
			"owner_id", ownerID,
			"day", day.Format(time.DateOnly),
			"error", err,
		)
		recordQuotaCheck("error")
		return t.closed(), fmt.Errorf("%w: check quota: %w", domain.ErrStorageUnavailable, err)
	}

	status := record.Status()
	if status.CanSend {
		recordQuotaCheck("allowed")
	} else {
		recordQuotaCheck("exhausted")
	}
	return status, nil
}

// RecordSend atomically increments the owner's sent count for day.
// A failure here never undoes a delivery; callers log and move on.
func (t *Tracker) RecordSend(ctx context.Context, ownerID string, day time.Time) error {
	day = domain.DayOf(day)

	count, err := t.store.Increment(ctx, ownerID, day)
	if errors.Is(err, ErrRecordNotFound) {
		if _, err = t.createRecord(ctx, ownerID, day); err == nil {
			count, err = t.store.Increment(ctx, ownerID, day)
		}
	}
	if err != nil {
		recordSendRecorded("error")
		return fmt.Errorf("%w: record send: %w", domain.ErrStorageUnavailable, err)
	}

	recordSendRecorded("ok")
	ctxlog.FromContext(ctx).Debug("send recorded",
		"owner_id", ownerID,
		"day", day.Format(time.DateOnly),
		"sent_count", count,
	)
	return nil
}

func (t *Tracker) createRecord(ctx context.Context, ownerID string, day time.Time) (*domain.DailyLimit, error) {
	limit, err := t.limits.DailyLimit(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("get owner limit: %w", err)
	}
	if limit <= 0 {
		limit = t.config.DefaultLimit
	}

	record, err := t.store.GetOrCreate(ctx, ownerID, day, limit)
	if err != nil {
		return nil, fmt.Errorf("create daily limit record: %w", err)
	}
	return record, nil
}

func (t *Tracker) closed() domain.QuotaStatus {
	return domain.QuotaStatus{
		Sent:      0,
		Remaining: 0,
		Limit:     t.config.DefaultLimit,
		CanSend:   false,
	}
}
