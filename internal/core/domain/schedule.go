package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ScheduleType is how often a vendor's balance is paid out automatically.
type ScheduleType string

const (
	ScheduleManual   ScheduleType = "manual"
	ScheduleWeekly   ScheduleType = "weekly"
	ScheduleBiWeekly ScheduleType = "bi_weekly"
	ScheduleMonthly  ScheduleType = "monthly"
)

// Valid reports whether t is a known schedule type.
func (t ScheduleType) Valid() bool {
	switch t {
	case ScheduleManual, ScheduleWeekly, ScheduleBiWeekly, ScheduleMonthly:
		return true
	}
	return false
}

// Next returns the payout date following from, or nil for manual schedules.
func (t ScheduleType) Next(from time.Time) *time.Time {
	var next time.Time
	switch t {
	case ScheduleWeekly:
		next = from.AddDate(0, 0, 7)
	case ScheduleBiWeekly:
		next = from.AddDate(0, 0, 14)
	case ScheduleMonthly:
		next = addMonthClamped(from)
	default:
		return nil
	}
	return &next
}

// addMonthClamped moves from one calendar month ahead, clamping the day to
// the end of a shorter target month (Jan 31 -> Feb 28).
func addMonthClamped(from time.Time) time.Time {
	year, month, day := from.Date()
	firstOfTarget := time.Date(year, month+1, 1, 0, 0, 0, 0, from.Location())
	lastDay := firstOfTarget.AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	h, m, sec := from.Clock()
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), day, h, m, sec, from.Nanosecond(), from.Location())
}

// Period names the payout period containing at, e.g. "2026-W42",
// "2026-BW21" or "2026-10". Two runs in the same period yield the same name.
func (t ScheduleType) Period(at time.Time) string {
	at = at.UTC()
	switch t {
	case ScheduleWeekly:
		year, week := at.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case ScheduleBiWeekly:
		year, week := at.ISOWeek()
		return fmt.Sprintf("%d-BW%02d", year, (week+1)/2)
	case ScheduleMonthly:
		return at.Format("2006-01")
	default:
		return at.Format("2006-01-02")
	}
}

// PayoutSchedule is a vendor's automatic payout policy.
type PayoutSchedule struct {
	VendorID        uuid.UUID    `json:"vendor_id"`
	ScheduleType    ScheduleType `json:"schedule_type"`
	IsActive        bool         `json:"is_active"`
	AutoProcess     bool         `json:"auto_process"`
	MinimumAmount   int64        `json:"minimum_amount"`
	NextPayoutDate  *time.Time   `json:"next_payout_date,omitempty"`
	LastProcessedAt *time.Time   `json:"last_processed_at,omitempty"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// IsDue returns true if an automatic payout should run at now.
func (s *PayoutSchedule) IsDue(now time.Time) bool {
	return s.IsActive &&
		s.AutoProcess &&
		s.ScheduleType != ScheduleManual &&
		s.NextPayoutDate != nil &&
		!now.Before(*s.NextPayoutDate)
}

// DefaultPayoutSchedule is the schedule of a vendor who never configured one.
func DefaultPayoutSchedule(vendorID uuid.UUID) *PayoutSchedule {
	return &PayoutSchedule{
		VendorID:     vendorID,
		ScheduleType: ScheduleManual,
		IsActive:     true,
	}
}
