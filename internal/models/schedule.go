package models

import (
	"fmt"
	"time"
)

// Weekday numbering used across schedules: 1=Monday .. 7=Sunday.
const (
	DayMonday    = 1
	DayTuesday   = 2
	DayWednesday = 3
	DayThursday  = 4
	DayFriday    = 5
	DaySaturday  = 6
	DaySunday    = 7
)

// MinutesPerDay bounds all minute-of-day arithmetic.
const MinutesPerDay = 24 * 60

// ScheduleWindow is a recurring weekly interval during which testing is
// permitted. Times are minute-precision wall-clock strings in the classroom
// timezone; no overnight wraparound (start must precede end on the same day).
type ScheduleWindow struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Days      []int  `json:"days"`            // 1=Mon .. 7=Sun
	StartTime string `json:"start_time"`      // "09:00"
	EndTime   string `json:"end_time"`        // "10:00"
	Color     string `json:"color,omitempty"` // display only, ignored by the engine
}

// OnDay reports whether the window recurs on the given day (1=Mon..7=Sun).
func (w *ScheduleWindow) OnDay(day int) bool {
	for _, d := range w.Days {
		if d == day {
			return true
		}
	}
	return false
}

// StartMinutes returns the window start as minutes since midnight.
func (w *ScheduleWindow) StartMinutes() (int, error) {
	return ParseClock(w.StartTime)
}

// EndMinutes returns the window end as minutes since midnight.
func (w *ScheduleWindow) EndMinutes() (int, error) {
	return ParseClock(w.EndTime)
}

// Validate checks the window invariants rejected at schedule-write time.
func (w *ScheduleWindow) Validate() error {
	if len(w.Days) == 0 {
		return fmt.Errorf("%w: window %q has no days", ErrInvalidScheduleData, w.Name)
	}
	seen := make(map[int]bool)
	for _, d := range w.Days {
		if d < DayMonday || d > DaySunday {
			return fmt.Errorf("%w: window %q day %d out of range 1-7", ErrInvalidScheduleData, w.Name, d)
		}
		if seen[d] {
			return fmt.Errorf("%w: window %q repeats day %d", ErrInvalidScheduleData, w.Name, d)
		}
		seen[d] = true
	}
	start, err := ParseClock(w.StartTime)
	if err != nil {
		return fmt.Errorf("%w: window %q start_time %q: %v", ErrInvalidScheduleData, w.Name, w.StartTime, err)
	}
	end, err := ParseClock(w.EndTime)
	if err != nil {
		return fmt.Errorf("%w: window %q end_time %q: %v", ErrInvalidScheduleData, w.Name, w.EndTime, err)
	}
	if start >= end {
		return fmt.Errorf("%w: window %q start_time %s must be before end_time %s", ErrInvalidScheduleData, w.Name, w.StartTime, w.EndTime)
	}
	return nil
}

// ScheduleSettings tune admission behavior for a classroom.
type ScheduleSettings struct {
	PreTestBufferMinutes     int  `json:"pre_test_buffer_minutes"`
	AllowWeekendTesting      bool `json:"allow_weekend_testing"`
	EmergencyOverrideEnabled bool `json:"emergency_override_enabled"`
}

// ScheduleData is the teacher-edited payload: windows, settings, and the
// template ids used to seed it (provenance only, never evaluated).
type ScheduleData struct {
	Windows     []ScheduleWindow `json:"windows"`
	Settings    ScheduleSettings `json:"settings"`
	TemplateIDs []string         `json:"template_ids,omitempty"`
}

// ClassroomTestSchedule is the per-classroom schedule record. It is never
// hard-deleted; teachers deactivate it via IsActive.
type ClassroomTestSchedule struct {
	ClassroomID        string       `json:"classroom_id"`
	IsActive           bool         `json:"is_active"`
	Timezone           string       `json:"timezone"` // IANA id, e.g. "America/New_York"
	GracePeriodMinutes int          `json:"grace_period_minutes"`
	ScheduleData       ScheduleData `json:"schedule_data"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// Windows returns the configured windows.
func (s *ClassroomTestSchedule) Windows() []ScheduleWindow {
	return s.ScheduleData.Windows
}

// Settings returns the schedule settings.
func (s *ClassroomTestSchedule) Settings() ScheduleSettings {
	return s.ScheduleData.Settings
}

// Location resolves the schedule timezone.
func (s *ClassroomTestSchedule) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalidScheduleData, s.Timezone, err)
	}
	return loc, nil
}

// Validate checks every invariant enforced at schedule-write time.
func (s *ClassroomTestSchedule) Validate() error {
	if s.ClassroomID == "" {
		return fmt.Errorf("%w: classroom_id is required", ErrInvalidScheduleData)
	}
	if s.Timezone == "" {
		return fmt.Errorf("%w: timezone is required", ErrInvalidScheduleData)
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return fmt.Errorf("%w: timezone %q: %v", ErrInvalidScheduleData, s.Timezone, err)
	}
	if s.GracePeriodMinutes < 0 {
		return fmt.Errorf("%w: grace_period_minutes cannot be negative", ErrInvalidScheduleData)
	}
	if s.ScheduleData.Settings.PreTestBufferMinutes < 0 {
		return fmt.Errorf("%w: pre_test_buffer_minutes cannot be negative", ErrInvalidScheduleData)
	}
	for i := range s.ScheduleData.Windows {
		if err := s.ScheduleData.Windows[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ParseClock parses a "HH:MM" wall-clock string into minutes since midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// FormatClock renders minutes since midnight as "HH:MM".
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// WeekdayNumber converts Go's weekday (Sunday=0) to schedule numbering
// (1=Mon..7=Sun).
func WeekdayNumber(d time.Weekday) int {
	if d == time.Sunday {
		return DaySunday
	}
	return int(d)
}

// WeekdayName returns the English name for a schedule day number.
func WeekdayName(day int) string {
	switch day {
	case DayMonday:
		return "Monday"
	case DayTuesday:
		return "Tuesday"
	case DayWednesday:
		return "Wednesday"
	case DayThursday:
		return "Thursday"
	case DayFriday:
		return "Friday"
	case DaySaturday:
		return "Saturday"
	case DaySunday:
		return "Sunday"
	}
	return "unknown"
}

// IsWeekend reports whether the schedule day number is Saturday or Sunday.
func IsWeekend(day int) bool {
	return day == DaySaturday || day == DaySunday
}
