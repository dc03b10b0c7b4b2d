package domain

import "time"

// EntryStatus represents the lifecycle state of a queue entry.
type EntryStatus string

// Entry statuses.
const (
	EntryStatusQueued    EntryStatus = "queued"
	EntryStatusSent      EntryStatus = "sent"
	EntryStatusFailed    EntryStatus = "failed"
	EntryStatusCancelled EntryStatus = "cancelled"
)

// IsValid reports whether s is a known status.
func (s EntryStatus) IsValid() bool {
	switch s {
	case EntryStatusQueued, EntryStatusSent, EntryStatusFailed, EntryStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further dispatch transition is possible.
// A failed entry can still be cancelled.
func (s EntryStatus) IsTerminal() bool {
	return s == EntryStatusSent || s == EntryStatusFailed || s == EntryStatusCancelled
}

// Category tags the kind of outreach email. Informational only.
type Category string

// Email categories.
const (
	CategoryIntroduction Category = "introduction"
	CategoryFollowUp     Category = "follow-up"
)

// DefaultMaxAttempts is used when an entry is created without an explicit limit.
const DefaultMaxAttempts = 3

// QueueEntry is a single outbound email waiting for dispatch.
type QueueEntry struct {
	ID          string      `json:"id"`
	OwnerID     string      `json:"owner_id"`
	TargetID    string      `json:"target_id"`
	Subject     string      `json:"subject"`
	Body        string      `json:"body"`
	Category    Category    `json:"category"`
	Priority    int         `json:"priority"`
	ScheduledAt time.Time   `json:"scheduled_at"`
	Status      EntryStatus `json:"status"`
	Attempts    int         `json:"attempts"`
	MaxAttempts int         `json:"max_attempts"`
	LastError   *string     `json:"last_error"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	SentAt      *time.Time  `json:"sent_at"`
}

// QueueStats contains entry counts by status.
type QueueStats struct {
	Queued    int `json:"queued"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Add increments the counter for status by n.
func (s *QueueStats) Add(status EntryStatus, n int) {
	switch status {
	case EntryStatusQueued:
		s.Queued += n
	case EntryStatusSent:
		s.Sent += n
	case EntryStatusFailed:
		s.Failed += n
	case EntryStatusCancelled:
		s.Cancelled += n
	}
}
