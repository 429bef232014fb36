package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ScheduleDateLayout is the server's date format for one-shot schedules.
const ScheduleDateLayout = "2006-01-02 15:04:05"

// ScheduleTime is a wall-clock time in the listing's timezone. It is held as
// a UTC time whose fields equal the wall clock.
type ScheduleTime struct {
	time.Time
}

func (s ScheduleTime) MarshalJSON() ([]byte, error) {
	if s.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(s.Format(ScheduleDateLayout))
}

func (s *ScheduleTime) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil || raw == "" {
		s.Time = time.Time{}
		return nil
	}
	t, err := time.ParseInLocation(ScheduleDateLayout, raw, time.UTC)
	if err != nil {
		t, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return fmt.Errorf("invalid schedule date %q: %w", raw, err)
		}
		t = wallClock(t)
	}
	s.Time = t
	return nil
}

// wallClock reinterprets t's wall-clock fields as UTC.
func wallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// Schedule is the time window during which a campaign's offer is live.
type Schedule struct {
	ScheduleID        int                `json:"scheduleId"`
	CampaignID        int                `json:"campaignId"`
	StartDate         ScheduleTime       `json:"startDate"`
	EndDate           ScheduleTime       `json:"endDate"`
	RepeatingSchedule *RepeatingSchedule `json:"repeatingSchedule,omitempty"`
}

// IsValid reports whether the schedule is live at t. t should already be in
// the listing's timezone. A repeating rule, when present, replaces the date
// range entirely. Zero start or end dates leave that side open.
func (s Schedule) IsValid(t time.Time) bool {
	wall := wallClock(t)
	if s.RepeatingSchedule != nil {
		return s.RepeatingSchedule.IsValid(wall)
	}
	if !s.StartDate.IsZero() && wall.Before(s.StartDate.Time) {
		return false
	}
	if !s.EndDate.IsZero() && wall.After(s.EndDate.Time) {
		return false
	}
	return true
}

type RepeatType string

const (
	RepeatDaily   RepeatType = "daily"
	RepeatWeekly  RepeatType = "weekly"
	RepeatMonthly RepeatType = "monthly"
	RepeatYearly  RepeatType = "yearly"
)

func (r *RepeatType) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = RepeatType(strings.ToLower(strings.TrimSpace(raw)))
	return nil
}

// ScheduleMoment is one boundary of a repeating rule. Day of week runs
// 1 (Monday) to 7 (Sunday).
type ScheduleMoment struct {
	DayOfWeek  *int `json:"dayOfWeek,omitempty"`
	DayOfMonth *int `json:"dayOfMonth,omitempty"`
	Month      *int `json:"month,omitempty"`
	Hours      int  `json:"hours"`
	Minutes    int  `json:"minutes"`
}

type RepeatingSchedule struct {
	Type  RepeatType     `json:"type"`
	Start ScheduleMoment `json:"start"`
	End   ScheduleMoment `json:"end"`
}

const minutesPerDay = 24 * 60

// IsValid compares t's position in the rule's period against the start and
// end boundaries. A start after the end wraps around the period boundary,
// e.g. a weekly Saturday to Monday rule.
func (r RepeatingSchedule) IsValid(t time.Time) bool {
	start, ok := r.Start.position(r.Type)
	if !ok {
		return false
	}
	end, ok := r.End.position(r.Type)
	if !ok {
		return false
	}
	current, _ := momentOf(t).position(r.Type)
	if start <= end {
		return current >= start && current <= end
	}
	return current >= start || current <= end
}

func momentOf(t time.Time) ScheduleMoment {
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	day := t.Day()
	month := int(t.Month())
	return ScheduleMoment{
		DayOfWeek:  &weekday,
		DayOfMonth: &day,
		Month:      &month,
		Hours:      t.Hour(),
		Minutes:    t.Minute(),
	}
}

// position maps the moment onto minutes since the start of its period.
func (m ScheduleMoment) position(kind RepeatType) (int, bool) {
	minuteOfDay := m.Hours*60 + m.Minutes
	switch kind {
	case RepeatDaily:
		return minuteOfDay, true
	case RepeatWeekly:
		return (valueOr(m.DayOfWeek, 1)-1)*minutesPerDay + minuteOfDay, true
	case RepeatMonthly:
		return (valueOr(m.DayOfMonth, 1)-1)*minutesPerDay + minuteOfDay, true
	case RepeatYearly:
		dayOfYear := (valueOr(m.Month, 1)-1)*31 + valueOr(m.DayOfMonth, 1) - 1
		return dayOfYear*minutesPerDay + minuteOfDay, true
	}
	return 0, false
}

func valueOr(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}

// DeliveredSchedule marks a schedule already shown on a device.
type DeliveredSchedule struct {
	ScheduleID       int    `json:"scheduleId"`
	ScheduleDeviceID string `json:"deviceUid"`
}
