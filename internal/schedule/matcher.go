// Package schedule implements the window matcher: a pure evaluation of a
// classroom test schedule at a given instant. It performs no I/O; all time
// math happens in the schedule's timezone at minute precision.
package schedule

import (
	"time"

	"examgate/internal/models"
)

// Mode selects which boundary rules apply during evaluation.
type Mode string

const (
	// ModeAdmission decides whether a new attempt may start: the pre-test
	// buffer extends the window front, the grace period does not apply.
	ModeAdmission Mode = "admission"

	// ModeContinuation decides whether a running attempt may keep going:
	// the literal window start applies, the grace period extends the end.
	ModeContinuation Mode = "continuation"
)

// Kind classifies the instant relative to the schedule.
type Kind string

const (
	KindInside  Kind = "inside"
	KindGrace   Kind = "grace"
	KindOutside Kind = "outside"
)

// Result carries the match and the boundary facts the engine reports.
type Result struct {
	Kind Kind

	// Window is the matched window for inside/grace results. When two
	// overlapping windows both contain the instant, the one with the
	// earlier start time is reported; admission treats them as a union.
	Window *models.ScheduleWindow

	// WindowStart and EffectiveEnd bound the matched occurrence.
	WindowStart  time.Time
	EffectiveEnd time.Time

	// GraceEnd is the last instant a grace continuation is allowed,
	// set only for KindGrace.
	GraceEnd time.Time

	// NextStart is the earliest future admission instant (buffer-adjusted
	// window start), searched up to seven days forward. NextEnd is that
	// window's end. HasNext is false when no eligible window exists.
	NextStart time.Time
	NextEnd   time.Time
	HasNext   bool

	// EligibleWindows counts windows with at least one eligible day after
	// weekend exclusion. Zero means the schedule cannot ever admit.
	EligibleWindows int
}

// candidate is a window with its clock strings parsed once.
type candidate struct {
	win   *models.ScheduleWindow
	start int
	end   int
}

// Evaluate classifies instant at against the schedule in the given mode.
// The error return covers only unresolvable schedule data (bad timezone);
// schedules are validated at write time so this is exceptional.
func Evaluate(sched *models.ClassroomTestSchedule, at time.Time, mode Mode) (*Result, error) {
	loc, err := sched.Location()
	if err != nil {
		return nil, err
	}

	settings := sched.Settings()
	local := at.In(loc)
	today := models.WeekdayNumber(local.Weekday())
	minute := local.Hour()*60 + local.Minute()

	buffer := 0
	if mode == ModeAdmission {
		buffer = settings.PreTestBufferMinutes
	}
	grace := 0
	if mode == ModeContinuation {
		grace = sched.GracePeriodMinutes
	}

	windows := sched.Windows()
	candidates := make([]candidate, 0, len(windows))
	eligible := 0
	for i := range windows {
		w := &windows[i]
		start, err := w.StartMinutes()
		if err != nil {
			continue
		}
		end, err := w.EndMinutes()
		if err != nil {
			continue
		}
		if !hasEligibleDay(w, settings.AllowWeekendTesting) {
			continue
		}
		eligible++
		candidates = append(candidates, candidate{win: w, start: start, end: end})
	}

	result := &Result{Kind: KindOutside, EligibleWindows: eligible}
	if eligible == 0 {
		return result, nil
	}

	// Inside: earliest-starting window containing the instant wins for
	// reporting; overlapping windows admit as a union regardless.
	var inside *candidate
	for i := range candidates {
		c := &candidates[i]
		if !dayEligible(c.win, today, settings.AllowWeekendTesting) {
			continue
		}
		admStart := c.start - buffer
		if admStart < 0 {
			admStart = 0
		}
		if minute >= admStart && minute <= c.end {
			if inside == nil || c.start < inside.start {
				inside = c
			}
		}
	}
	if inside != nil {
		result.Kind = KindInside
		result.Window = inside.win
		result.WindowStart = atMinute(local, inside.start, loc)
		result.EffectiveEnd = atMinute(local, inside.end, loc)
		return result, nil
	}

	// Grace: continuation only. The most recently ended window wins, its
	// trailing period clamped at the end of the day.
	if grace > 0 {
		var graced *candidate
		graceEnd := 0
		for i := range candidates {
			c := &candidates[i]
			if !dayEligible(c.win, today, settings.AllowWeekendTesting) {
				continue
			}
			ge := c.end + grace
			if ge > models.MinutesPerDay-1 {
				ge = models.MinutesPerDay - 1
			}
			if minute > c.end && minute <= ge {
				if graced == nil || c.end > graced.end {
					graced = c
					graceEnd = ge
				}
			}
		}
		if graced != nil {
			result.Kind = KindGrace
			result.Window = graced.win
			result.WindowStart = atMinute(local, graced.start, loc)
			result.EffectiveEnd = atMinute(local, graced.end, loc)
			result.GraceEnd = atMinute(local, graceEnd, loc)
			return result, nil
		}
	}

	// Outside: bounded forward search for the next admission instant.
	// Offset 7 covers a window on today's weekday that already passed.
	admissionBuffer := settings.PreTestBufferMinutes
	for off := 0; off <= 7; off++ {
		base := local.AddDate(0, 0, off)
		day := models.WeekdayNumber(base.Weekday())
		for i := range candidates {
			c := &candidates[i]
			if !dayEligible(c.win, day, settings.AllowWeekendTesting) {
				continue
			}
			admStart := c.start - admissionBuffer
			if admStart < 0 {
				admStart = 0
			}
			if off == 0 && admStart <= minute {
				continue
			}
			start := atMinute(base, admStart, loc)
			if !result.HasNext || start.Before(result.NextStart) {
				result.NextStart = start
				result.NextEnd = atMinute(base, c.end, loc)
				result.HasNext = true
			}
		}
		// Later days cannot produce an earlier instant.
		if result.HasNext {
			break
		}
	}

	return result, nil
}

// hasEligibleDay reports whether any of the window's days survives weekend
// exclusion.
func hasEligibleDay(w *models.ScheduleWindow, allowWeekend bool) bool {
	for _, d := range w.Days {
		if allowWeekend || !models.IsWeekend(d) {
			return true
		}
	}
	return false
}

// dayEligible reports whether the window recurs on day and that day is not
// weekend-excluded.
func dayEligible(w *models.ScheduleWindow, day int, allowWeekend bool) bool {
	if !allowWeekend && models.IsWeekend(day) {
		return false
	}
	return w.OnDay(day)
}

// atMinute builds the absolute instant for a minute-of-day on the calendar
// day of base, in the schedule's location.
func atMinute(base time.Time, minute int, loc *time.Location) time.Time {
	return time.Date(base.Year(), base.Month(), base.Day(), minute/60, minute%60, 0, 0, loc)
}
