package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bissquit/outreach-queue/internal/domain"
)

// mockRepository is an in-memory Repository with the same guarded
// transitions as the SQL implementations.
type mockRepository struct {
	mu      sync.Mutex
	entries map[string]*domain.QueueEntry
	seq     int
	err     error
}

func newMockRepository() *mockRepository {
	return &mockRepository{entries: make(map[string]*domain.QueueEntry)}
}

func (m *mockRepository) Create(_ context.Context, entry *domain.QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.seq++
	entry.ID = fmt.Sprintf("00000000-0000-0000-0000-%012d", m.seq)
	entry.CreatedAt = time.Now()
	entry.UpdatedAt = entry.CreatedAt
	cp := *entry
	m.entries[entry.ID] = &cp
	return nil
}

func (m *mockRepository) GetByID(_ context.Context, id string) (*domain.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	e, ok := m.entries[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *mockRepository) sorted(ownerID string, keep func(*domain.QueueEntry) bool) []domain.QueueEntry {
	var out []domain.QueueEntry
	for _, e := range m.entries {
		if e.OwnerID == ownerID && keep(e) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ScheduledAt.Before(out[j].ScheduledAt)
	})
	return out
}

func (m *mockRepository) ListByOwner(_ context.Context, ownerID string, filter ListFilter) ([]domain.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := m.sorted(ownerID, func(e *domain.QueueEntry) bool {
		return filter.Status == nil || e.Status == *filter.Status
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *mockRepository) GetStats(_ context.Context, ownerID string) (*domain.QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	stats := &domain.QueueStats{}
	for _, e := range m.entries {
		if ownerID == "" || e.OwnerID == ownerID {
			stats.Add(e.Status, 1)
		}
	}
	return stats, nil
}

func (m *mockRepository) NextEligible(_ context.Context, ownerID string, now time.Time) (*domain.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := m.sorted(ownerID, func(e *domain.QueueEntry) bool {
		return e.Status == domain.EntryStatusQueued && !e.ScheduledAt.After(now)
	})
	if len(out) == 0 {
		return nil, ErrEntryNotFound
	}
	return &out[0], nil
}

func (m *mockRepository) queued(id string) (*domain.QueueEntry, error) {
	if m.err != nil {
		return nil, m.err
	}
	e, ok := m.entries[id]
	if !ok || e.Status != domain.EntryStatusQueued {
		return nil, ErrEntryNotQueued
	}
	return e, nil
}

func (m *mockRepository) MarkSent(_ context.Context, id string, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.queued(id)
	if err != nil {
		return err
	}
	e.Status = domain.EntryStatusSent
	e.SentAt = &sentAt
	e.LastError = nil
	return nil
}

func (m *mockRepository) MarkForRetry(_ context.Context, id string, lastError string, nextAttempt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.queued(id)
	if err != nil {
		return err
	}
	e.Attempts++
	e.LastError = &lastError
	e.ScheduledAt = nextAttempt
	return nil
}

func (m *mockRepository) MarkFailed(_ context.Context, id string, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.queued(id)
	if err != nil {
		return err
	}
	e.Attempts = min(e.Attempts+1, e.MaxAttempts)
	e.Status = domain.EntryStatusFailed
	e.LastError = &lastError
	return nil
}

func (m *mockRepository) Cancel(_ context.Context, id, ownerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	e, ok := m.entries[id]
	if !ok || e.OwnerID != ownerID {
		return false, nil
	}
	if e.Status != domain.EntryStatusQueued && e.Status != domain.EntryStatusFailed {
		return false, nil
	}
	e.Status = domain.EntryStatusCancelled
	return true, nil
}

// mockQuota returns a fixed quota status.
type mockQuota struct {
	mu     sync.Mutex
	status domain.QuotaStatus
	err    error
	calls  int
}

func (q *mockQuota) CheckQuota(_ context.Context, _ string) (domain.QuotaStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	if q.err != nil {
		return domain.QuotaStatus{}, q.err
	}
	return q.status, nil
}

func openQuota(remaining int) *mockQuota {
	return &mockQuota{status: domain.QuotaStatus{Sent: 0, Remaining: remaining, Limit: remaining, CanSend: remaining > 0}}
}
