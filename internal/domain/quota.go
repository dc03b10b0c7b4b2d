package domain

import "time"

// DailyLimit is the per-owner counter for one UTC calendar day.
// Limit is copied from the owner's setting when the record is created.
type DailyLimit struct {
	OwnerID   string
	Day       time.Time
	SentCount int
	Limit     int
}

// QuotaStatus is the result of a quota check.
type QuotaStatus struct {
	Sent      int  `json:"sent"`
	Remaining int  `json:"remaining"`
	Limit     int  `json:"limit"`
	CanSend   bool `json:"can_send"`
}

// Status derives the quota view from the stored record.
func (d DailyLimit) Status() QuotaStatus {
	return QuotaStatus{
		Sent:      d.SentCount,
		Remaining: max(0, d.Limit-d.SentCount),
		Limit:     d.Limit,
		CanSend:   d.SentCount < d.Limit,
	}
}

// DayOf returns the UTC calendar day containing t, as midnight UTC.
func DayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
