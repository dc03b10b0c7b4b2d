// Package dispatch sends due queue entries for one owner and moves each entry
// through the retry state machine.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/bissquit/outreach-queue/internal/audit"
	"github.com/bissquit/outreach-queue/internal/crm"
	"github.com/bissquit/outreach-queue/internal/domain"
	"github.com/bissquit/outreach-queue/internal/pkg/ctxlog"
	"github.com/bissquit/outreach-queue/internal/queue"
	"github.com/bissquit/outreach-queue/internal/transport"
)

const errRecipientNotFound = "recipient not found"

// Queue is the queue store as seen by the dispatcher.
type Queue interface {
	// NextEligible returns nil when nothing is due or quota is exhausted.
	NextEligible(ctx context.Context, ownerID string) (*domain.QueueEntry, error)
	MarkSent(ctx context.Context, id string) error
	MarkForRetry(ctx context.Context, id, lastError string, nextAttempt time.Time) error
	MarkFailed(ctx context.Context, id, lastError string) error
}

// QuotaRecorder counts successful sends.
type QuotaRecorder interface {
	RecordSend(ctx context.Context, ownerID string, day time.Time) error
}

// Directory resolves recipients and sender names.
type Directory interface {
	Resolve(ctx context.Context, leadID string) (*domain.Recipient, error)
	SenderName(ctx context.Context, ownerID string) (string, error)
}

// Config contains dispatcher configuration.
type Config struct {
	BatchSize         int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	SendTimeout       time.Duration
	AuditTimeout      time.Duration
	// PersistTimeout bounds the state writes made after a send attempt.
	// They are detached from the caller's context so a disconnect cannot
	// leave a delivered entry queued.
	PersistTimeout time.Duration
}

// DefaultConfig returns default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:         5,
		InitialBackoff:    2 * time.Minute,
		MaxBackoff:        2 * time.Hour,
		BackoffMultiplier: 2.0,
		SendTimeout:       30 * time.Second,
		AuditTimeout:      5 * time.Second,
		PersistTimeout:    10 * time.Second,
	}
}

// OutcomeStatus is the result of dispatching one entry.
type OutcomeStatus string

// Outcome statuses.
const (
	OutcomeSent OutcomeStatus = "sent"
	// OutcomeQueued means the entry is still queued: a retry was scheduled or
	// its transition could not be stored.
	OutcomeQueued OutcomeStatus = "queued"
	OutcomeFailed OutcomeStatus = "failed"
	// OutcomeSkipped means the entry left the queued state concurrently,
	// usually because it was cancelled mid-send.
	OutcomeSkipped OutcomeStatus = "skipped"
)

// Outcome reports what happened to one entry in a batch.
type Outcome struct {
	ID            string        `json:"id"`
	Status        OutcomeStatus `json:"status"`
	Attempts      int           `json:"attempts"`
	NextAttemptAt *time.Time    `json:"next_attempt_at,omitempty"`
	MessageID     string        `json:"message_id,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// Dispatcher sends queued entries.
type Dispatcher struct {
	config    Config
	queue     Queue
	quota     QuotaRecorder
	directory Directory
	transport transport.Transport
	sink      audit.Sink
	now       func() time.Time
}

// NewDispatcher creates a new dispatcher. A nil sink discards deliveries.
func NewDispatcher(
	config Config,
	q Queue,
	quota QuotaRecorder,
	directory Directory,
	tr transport.Transport,
	sink audit.Sink,
) *Dispatcher {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	if config.PersistTimeout <= 0 {
		config.PersistTimeout = DefaultConfig().PersistTimeout
	}
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &Dispatcher{
		config:    config,
		queue:     q,
		quota:     quota,
		directory: directory,
		transport: tr,
		sink:      sink,
		now:       time.Now,
	}
}

// DispatchBatch processes up to BatchSize due entries for the owner, one at
// a time. Per-entry failures become outcomes. An error is returned only when
// the batch had to stop fetching; outcomes gathered so far are still
// returned.
func (d *Dispatcher) DispatchBatch(ctx context.Context, ownerID string) ([]Outcome, error) {
	logger := ctxlog.FromContext(ctx).With("owner_id", ownerID)
	start := time.Now()

	outcomes := make([]Outcome, 0, d.config.BatchSize)
	seen := make(map[string]struct{}, d.config.BatchSize)

	for len(outcomes) < d.config.BatchSize {
		if err := ctx.Err(); err != nil {
			recordBatch("aborted", len(outcomes), time.Since(start))
			return outcomes, err
		}

		entry, err := d.queue.NextEligible(ctx, ownerID)
		if err != nil {
			logger.Error("failed to fetch next eligible entry", "processed", len(outcomes), "error", err)
			recordBatch("error", len(outcomes), time.Since(start))
			return outcomes, fmt.Errorf("next eligible: %w", err)
		}
		if entry == nil {
			break
		}

		// An entry whose transition could not be stored stays queued and
		// would be returned again.
		if _, ok := seen[entry.ID]; ok {
			logger.Warn("entry returned twice in one batch, stopping", "entry_id", entry.ID)
			break
		}
		seen[entry.ID] = struct{}{}

		outcomes = append(outcomes, d.processEntry(ctx, entry))
	}

	recordBatch("ok", len(outcomes), time.Since(start))
	logger.Info("dispatch batch finished", "processed", len(outcomes), "duration", time.Since(start))
	return outcomes, nil
}

func (d *Dispatcher) processEntry(ctx context.Context, entry *domain.QueueEntry) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			ctxlog.FromContext(ctx).Error("panic while dispatching entry",
				"entry_id", entry.ID,
				"owner_id", entry.OwnerID,
				"attempt", entry.Attempts+1,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			persistCtx, cancel := d.persistContext(ctx)
			defer cancel()
			out = d.handleFailure(persistCtx, entry, fmt.Errorf("internal error: %v", r))
		}
	}()

	return d.send(ctx, entry)
}

func (d *Dispatcher) send(ctx context.Context, entry *domain.QueueEntry) Outcome {
	logger := ctxlog.FromContext(ctx).With("entry_id", entry.ID, "owner_id", entry.OwnerID)

	recipient, err := d.directory.Resolve(ctx, entry.TargetID)
	if errors.Is(err, crm.ErrRecipientNotFound) {
		logger.Warn("recipient not found, failing entry", "target_id", entry.TargetID)
		persistCtx, cancel := d.persistContext(ctx)
		defer cancel()
		return d.fail(persistCtx, entry, errRecipientNotFound)
	}
	if err != nil {
		if ctx.Err() != nil {
			// Nothing was sent. Leave the entry untouched for the next batch.
			return d.abandoned(entry, err)
		}
		return d.handleFailure(ctx, entry, fmt.Errorf("resolve recipient: %w", err))
	}

	fromName, err := d.directory.SenderName(ctx, entry.OwnerID)
	if err != nil {
		if ctx.Err() != nil {
			return d.abandoned(entry, err)
		}
		return d.handleFailure(ctx, entry, fmt.Errorf("resolve sender: %w", err))
	}

	sendCtx := ctx
	if d.config.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, d.config.SendTimeout)
		defer cancel()
	}

	start := time.Now()
	receipt, err := d.transport.Send(sendCtx, transport.Message{
		To:        recipient.Address,
		ToName:    recipient.ContactName,
		Subject:   entry.Subject,
		Body:      entry.Body,
		FromName:  fromName,
		Reference: entry.ID,
	})
	recordSendDuration(time.Since(start))

	// From here on the attempt has happened and must be stored even if the
	// caller has gone away.
	persistCtx, cancel := d.persistContext(ctx)
	defer cancel()

	if err != nil {
		return d.handleFailure(persistCtx, entry, err)
	}
	return d.markSent(persistCtx, entry, recipient, receipt)
}

// persistContext keeps ctx values, the request logger included, but drops
// its cancellation and deadline.
func (d *Dispatcher) persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), d.config.PersistTimeout)
}

func (d *Dispatcher) markSent(ctx context.Context, entry *domain.QueueEntry, recipient *domain.Recipient, receipt transport.Receipt) Outcome {
	logger := ctxlog.FromContext(ctx).With("entry_id", entry.ID, "owner_id", entry.OwnerID)
	sentAt := d.now()
	out := Outcome{ID: entry.ID, Attempts: entry.Attempts, MessageID: receipt.MessageID}

	markErr := d.queue.MarkSent(ctx, entry.ID)

	// The email left the transport, so it counts against today's quota
	// whatever happened to the entry row.
	if err := d.quota.RecordSend(ctx, entry.OwnerID, domain.DayOf(sentAt)); err != nil {
		logger.Error("failed to record send against quota", "error", err)
	}

	switch {
	case errors.Is(markErr, queue.ErrEntryNotQueued):
		logger.Warn("entry left queued state during send", "message_id", receipt.MessageID)
		out.Status = OutcomeSkipped
		out.Error = markErr.Error()
		recordOutcome(out.Status)
		return out
	case markErr != nil:
		logger.Error("failed to mark entry as sent", "message_id", receipt.MessageID, "error", markErr)
		out.Status = OutcomeQueued
		out.Error = markErr.Error()
		recordOutcome(out.Status)
		return out
	}

	d.recordDelivery(ctx, audit.Delivery{
		EntryID:   entry.ID,
		OwnerID:   entry.OwnerID,
		TargetID:  entry.TargetID,
		Recipient: recipient.Address,
		Subject:   entry.Subject,
		Category:  entry.Category,
		MessageID: receipt.MessageID,
		SentAt:    sentAt,
	})

	logger.Info("email sent", "message_id", receipt.MessageID, "attempt", entry.Attempts+1)
	out.Status = OutcomeSent
	recordOutcome(out.Status)
	return out
}

// recordDelivery never fails the entry: the email is already sent.
func (d *Dispatcher) recordDelivery(ctx context.Context, delivery audit.Delivery) {
	logger := ctxlog.FromContext(ctx).With("entry_id", delivery.EntryID, "owner_id", delivery.OwnerID)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while recording delivery", "panic", r)
			recordAuditFailure()
		}
	}()

	auditCtx := ctx
	if d.config.AuditTimeout > 0 {
		var cancel context.CancelFunc
		auditCtx, cancel = context.WithTimeout(ctx, d.config.AuditTimeout)
		defer cancel()
	}

	if err := d.sink.RecordDelivery(auditCtx, delivery); err != nil {
		logger.Error("failed to record delivery", "error", err)
		recordAuditFailure()
	}
}

// handleFailure moves the entry to failed when the error is permanent or the
// attempt budget is spent, and schedules a retry otherwise.
func (d *Dispatcher) handleFailure(ctx context.Context, entry *domain.QueueEntry, sendErr error) Outcome {
	attempt := entry.Attempts + 1
	logger := ctxlog.FromContext(ctx).With("entry_id", entry.ID, "owner_id", entry.OwnerID)

	logger.Warn("send failed",
		"attempt", attempt,
		"max_attempts", entry.MaxAttempts,
		"error", sendErr,
	)

	if !transport.IsRetryable(sendErr) || attempt >= entry.MaxAttempts {
		return d.fail(ctx, entry, sendErr.Error())
	}

	nextAttempt := d.calculateNextAttempt(attempt)
	out := Outcome{ID: entry.ID, Attempts: entry.Attempts, Error: sendErr.Error()}

	if err := d.queue.MarkForRetry(ctx, entry.ID, sendErr.Error(), nextAttempt); err != nil {
		return d.transitionFailed(ctx, out, err)
	}

	logger.Info("entry scheduled for retry", "attempt", attempt, "next_attempt", nextAttempt)
	out.Status = OutcomeQueued
	out.Attempts = attempt
	out.NextAttemptAt = &nextAttempt
	recordOutcome(out.Status)
	return out
}

func (d *Dispatcher) fail(ctx context.Context, entry *domain.QueueEntry, lastError string) Outcome {
	out := Outcome{ID: entry.ID, Attempts: entry.Attempts, Error: lastError}

	if err := d.queue.MarkFailed(ctx, entry.ID, lastError); err != nil {
		return d.transitionFailed(ctx, out, err)
	}

	ctxlog.FromContext(ctx).Warn("entry failed permanently",
		"entry_id", entry.ID,
		"owner_id", entry.OwnerID,
		"attempt", entry.Attempts+1,
		"max_attempts", entry.MaxAttempts,
		"error", lastError,
	)
	out.Status = OutcomeFailed
	out.Attempts = min(entry.Attempts+1, entry.MaxAttempts)
	recordOutcome(out.Status)
	return out
}

// transitionFailed reports an entry whose failure could not be stored. It
// stays in whatever state storage holds, so nothing is lost.
func (d *Dispatcher) transitionFailed(ctx context.Context, out Outcome, err error) Outcome {
	logger := ctxlog.FromContext(ctx).With("entry_id", out.ID)

	if errors.Is(err, queue.ErrEntryNotQueued) {
		logger.Info("entry left queued state before failure was recorded")
		out.Status = OutcomeSkipped
	} else {
		logger.Error("failed to store entry transition", "error", err)
		out.Status = OutcomeQueued
		out.Error = errors.Join(errors.New(out.Error), err).Error()
	}
	recordOutcome(out.Status)
	return out
}

// abandoned reports an entry left queued because the caller went away before
// anything was sent. No attempt is consumed.
func (d *Dispatcher) abandoned(entry *domain.QueueEntry, err error) Outcome {
	out := Outcome{ID: entry.ID, Status: OutcomeQueued, Attempts: entry.Attempts, Error: err.Error()}
	recordOutcome(out.Status)
	return out
}

func (d *Dispatcher) calculateNextAttempt(attempt int) time.Time {
	backoff := float64(d.config.InitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= d.config.BackoffMultiplier
	}

	if d.config.MaxBackoff > 0 && backoff > float64(d.config.MaxBackoff) {
		backoff = float64(d.config.MaxBackoff)
	}

	return d.now().Add(time.Duration(backoff))
}
