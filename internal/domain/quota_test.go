package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDailyLimit_Status(t *testing.T) {
	tests := []struct {
		name     string
		record   DailyLimit
		expected QuotaStatus
	}{
		{
			name:     "fresh day",
			record:   DailyLimit{SentCount: 0, Limit: 10},
			expected: QuotaStatus{Sent: 0, Remaining: 10, Limit: 10, CanSend: true},
		},
		{
			name:     "one left",
			record:   DailyLimit{SentCount: 9, Limit: 10},
			expected: QuotaStatus{Sent: 9, Remaining: 1, Limit: 10, CanSend: true},
		},
		{
			name:     "limit reached",
			record:   DailyLimit{SentCount: 10, Limit: 10},
			expected: QuotaStatus{Sent: 10, Remaining: 0, Limit: 10, CanSend: false},
		},
		{
			name:     "over limit never goes negative",
			record:   DailyLimit{SentCount: 12, Limit: 10},
			expected: QuotaStatus{Sent: 12, Remaining: 0, Limit: 10, CanSend: false},
		},
		{
			name:     "zero limit",
			record:   DailyLimit{SentCount: 0, Limit: 0},
			expected: QuotaStatus{Sent: 0, Remaining: 0, Limit: 0, CanSend: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.record.Status())
		})
	}
}

func TestDayOf(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)

	// 01:30 at UTC+3 is still the previous day in UTC.
	ts := time.Date(2024, 3, 10, 1, 30, 0, 0, loc)
	assert.Equal(t, time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), DayOf(ts))

	ts = time.Date(2024, 3, 10, 23, 59, 59, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), DayOf(ts))
}

func TestEntryStatus(t *testing.T) {
	assert.True(t, EntryStatusQueued.IsValid())
	assert.False(t, EntryStatus("pending").IsValid())

	assert.False(t, EntryStatusQueued.IsTerminal())
	assert.True(t, EntryStatusSent.IsTerminal())
	assert.True(t, EntryStatusFailed.IsTerminal())
	assert.True(t, EntryStatusCancelled.IsTerminal())
}
