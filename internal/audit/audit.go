// Package audit records successful deliveries for the CRM activity log and
// analytics.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/bissquit/outreach-queue/internal/domain"
)

// EventEmailSent is the analytics event type emitted for every delivery.
const EventEmailSent = "email.sent"

// Delivery describes one sent email.
type Delivery struct {
	EntryID   string          `json:"entry_id"`
	OwnerID   string          `json:"owner_id"`
	TargetID  string          `json:"target_id"`
	Recipient string          `json:"recipient"`
	Subject   string          `json:"subject"`
	Category  domain.Category `json:"category"`
	MessageID string          `json:"message_id"`
	SentAt    time.Time       `json:"sent_at"`
}

// Event is the analytics envelope published for a delivery.
type Event struct {
	Type       string    `json:"type"`
	OwnerID    string    `json:"owner_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Delivery   Delivery  `json:"delivery"`
}

// NewSentEvent wraps a delivery in an analytics event.
func NewSentEvent(d Delivery) Event {
	return Event{
		Type:       EventEmailSent,
		OwnerID:    d.OwnerID,
		OccurredAt: d.SentAt,
		Delivery:   d,
	}
}

// Sink receives delivery records. Failures are reported to the caller but
// never undo the delivery.
type Sink interface {
	RecordDelivery(ctx context.Context, d Delivery) error
}

// MultiSink fans a delivery out to every sink.
type MultiSink []Sink

// RecordDelivery calls every sink and joins their errors.
func (m MultiSink) RecordDelivery(ctx context.Context, d Delivery) error {
	var errs []error
	for _, s := range m {
		if err := s.RecordDelivery(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NopSink discards deliveries.
type NopSink struct{}

// RecordDelivery does nothing.
func (NopSink) RecordDelivery(context.Context, Delivery) error { return nil }
