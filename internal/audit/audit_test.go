package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bissquit/outreach-queue/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	got []Delivery
	err error
}

func (s *recordingSink) RecordDelivery(_ context.Context, d Delivery) error {
	s.got = append(s.got, d)
	return s.err
}

func TestMultiSink_RecordDelivery(t *testing.T) {
	first := &recordingSink{err: errors.New("db down")}
	second := &recordingSink{}
	third := &recordingSink{err: errors.New("broker down")}

	d := Delivery{EntryID: "e-1", OwnerID: "o-1", Category: domain.CategoryIntroduction}
	err := MultiSink{first, second, third}.RecordDelivery(t.Context(), d)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.Contains(t, err.Error(), "broker down")
	assert.Len(t, first.got, 1)
	assert.Len(t, second.got, 1, "a failing sink must not stop the others")
	assert.Len(t, third.got, 1)
}

func TestMultiSink_Empty(t *testing.T) {
	assert.NoError(t, MultiSink{}.RecordDelivery(t.Context(), Delivery{}))
	assert.NoError(t, NopSink{}.RecordDelivery(t.Context(), Delivery{}))
}

func TestNewSentEvent(t *testing.T) {
	sentAt := time.Date(2024, 5, 14, 12, 0, 0, 0, time.UTC)
	event := NewSentEvent(Delivery{EntryID: "e-1", OwnerID: "o-1", SentAt: sentAt})

	assert.Equal(t, EventEmailSent, event.Type)
	assert.Equal(t, "o-1", event.OwnerID)
	assert.Equal(t, sentAt, event.OccurredAt)
	assert.Equal(t, "e-1", event.Delivery.EntryID)
}
