package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bissquit/outreach-queue/internal/audit"
	"github.com/bissquit/outreach-queue/internal/crm"
	"github.com/bissquit/outreach-queue/internal/domain"
	"github.com/bissquit/outreach-queue/internal/queue"
	"github.com/bissquit/outreach-queue/internal/transport"
)

// fakeQueue is an in-memory queue with quota-gated NextEligible and guarded
// transitions.
type fakeQueue struct {
	mu      sync.Mutex
	entries map[string]*domain.QueueEntry
	quota   *fakeQuota
	now     func() time.Time
	seq     int

	nextErr    error
	markSentFn func(id string) error
}

func newFakeQueue(quota *fakeQuota, now func() time.Time) *fakeQueue {
	return &fakeQueue{entries: make(map[string]*domain.QueueEntry), quota: quota, now: now}
}

func (q *fakeQueue) add(e domain.QueueEntry) *domain.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	e.ID = fmt.Sprintf("00000000-0000-0000-0000-%012d", q.seq)
	if e.OwnerID == "" {
		e.OwnerID = ownerID
	}
	if e.TargetID == "" {
		e.TargetID = leadOK
	}
	if e.Subject == "" {
		e.Subject = "Hello"
	}
	if e.MaxAttempts == 0 {
		e.MaxAttempts = domain.DefaultMaxAttempts
	}
	if e.ScheduledAt.IsZero() {
		e.ScheduledAt = q.now()
	}
	e.Status = domain.EntryStatusQueued
	e.Category = domain.CategoryIntroduction
	q.entries[e.ID] = &e
	return &e
}

func (q *fakeQueue) get(id string) domain.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return *q.entries[id]
}

func (q *fakeQueue) NextEligible(_ context.Context, owner string) (*domain.QueueEntry, error) {
	if q.nextErr != nil {
		return nil, q.nextErr
	}
	if !q.quota.canSend(owner) {
		return nil, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	var due []domain.QueueEntry
	for _, e := range q.entries {
		if e.OwnerID == owner && e.Status == domain.EntryStatusQueued && !e.ScheduledAt.After(now) {
			due = append(due, *e)
		}
	}
	if len(due) == 0 {
		return nil, nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		return due[i].ScheduledAt.Before(due[j].ScheduledAt)
	})
	return &due[0], nil
}

func (q *fakeQueue) queued(id string) (*domain.QueueEntry, error) {
	e, ok := q.entries[id]
	if !ok || e.Status != domain.EntryStatusQueued {
		return nil, queue.ErrEntryNotQueued
	}
	return e, nil
}

func (q *fakeQueue) MarkSent(_ context.Context, id string) error {
	if q.markSentFn != nil {
		if err := q.markSentFn(id); err != nil {
			return err
		}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	e, err := q.queued(id)
	if err != nil {
		return err
	}
	now := q.now()
	e.Status = domain.EntryStatusSent
	e.SentAt = &now
	e.LastError = nil
	return nil
}

func (q *fakeQueue) MarkForRetry(_ context.Context, id, lastError string, nextAttempt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, err := q.queued(id)
	if err != nil {
		return err
	}
	e.Attempts++
	e.LastError = &lastError
	e.ScheduledAt = nextAttempt
	return nil
}

func (q *fakeQueue) MarkFailed(_ context.Context, id, lastError string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, err := q.queued(id)
	if err != nil {
		return err
	}
	e.Attempts = min(e.Attempts+1, e.MaxAttempts)
	e.Status = domain.EntryStatusFailed
	e.LastError = &lastError
	return nil
}

func (q *fakeQueue) cancel(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries[id].Status = domain.EntryStatusCancelled
}

// fakeQuota counts sends per owner against a single limit.
type fakeQuota struct {
	mu    sync.Mutex
	limit int
	sent  map[string]int
	err   error
}

func newFakeQuota(limit int) *fakeQuota {
	return &fakeQuota{limit: limit, sent: make(map[string]int)}
}

func (f *fakeQuota) canSend(owner string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[owner] < f.limit
}

func (f *fakeQuota) RecordSend(_ context.Context, owner string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent[owner]++
	return nil
}

func (f *fakeQuota) count(owner string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[owner]
}

// fakeDirectory knows leadOK and leadBroken.
type fakeDirectory struct{}

func (fakeDirectory) Resolve(_ context.Context, leadID string) (*domain.Recipient, error) {
	switch leadID {
	case leadOK:
		return &domain.Recipient{LeadID: leadID, Address: "jane@acme.io", ContactName: "Jane Doe"}, nil
	case leadPanics:
		return &domain.Recipient{LeadID: leadID, Address: "panic@acme.io"}, nil
	case leadBroken:
		return nil, errors.New("lead store timeout")
	default:
		return nil, crm.ErrRecipientNotFound
	}
}

func (fakeDirectory) SenderName(context.Context, string) (string, error) {
	return "Alex Sales", nil
}

// fakeTransport returns scripted results and panics for panic@acme.io.
type fakeTransport struct {
	mu     sync.Mutex
	err    error
	sent   []transport.Message
	onSend func(msg transport.Message)
}

func (f *fakeTransport) Send(_ context.Context, msg transport.Message) (transport.Receipt, error) {
	if msg.To == "panic@acme.io" {
		panic("transport exploded")
	}
	if f.onSend != nil {
		f.onSend(msg)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return transport.Receipt{}, f.err
	}
	f.sent = append(f.sent, msg)
	return transport.Receipt{MessageID: fmt.Sprintf("msg-%d", len(f.sent))}, nil
}

type fakeSink struct {
	mu         sync.Mutex
	deliveries []audit.Delivery
	err        error
}

func (f *fakeSink) RecordDelivery(_ context.Context, d audit.Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries = append(f.deliveries, d)
	return f.err
}
