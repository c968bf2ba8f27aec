package schedule

import (
	"testing"
	"time"

	"examgate/internal/models"
)

// 2026-01-05 is a Monday; 2026-01-10/11 the following weekend.
func nyc(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("America/New_York timezone not available")
	}
	return loc
}

func weekdaySchedule(buffer, grace int, allowWeekend bool) *models.ClassroomTestSchedule {
	return &models.ClassroomTestSchedule{
		ClassroomID:        "class-1",
		IsActive:           true,
		Timezone:           "America/New_York",
		GracePeriodMinutes: grace,
		ScheduleData: models.ScheduleData{
			Windows: []models.ScheduleWindow{
				{
					ID:        "w1",
					Name:      "morning",
					Days:      []int{1, 2, 3, 4, 5},
					StartTime: "09:00",
					EndTime:   "10:00",
				},
			},
			Settings: models.ScheduleSettings{
				PreTestBufferMinutes: buffer,
				AllowWeekendTesting:  allowWeekend,
			},
		},
	}
}

func TestEvaluateAdmission(t *testing.T) {
	loc := nyc(t)
	sched := weekdaySchedule(10, 5, false)

	tests := []struct {
		name     string
		at       time.Time
		wantKind Kind
		wantNext time.Time
	}{
		{
			name:     "inside window",
			at:       time.Date(2026, 1, 5, 9, 30, 0, 0, loc),
			wantKind: KindInside,
		},
		{
			name:     "buffer admits early start",
			at:       time.Date(2026, 1, 5, 8, 52, 0, 0, loc),
			wantKind: KindInside,
		},
		{
			name:     "exact buffered boundary",
			at:       time.Date(2026, 1, 5, 8, 50, 0, 0, loc),
			wantKind: KindInside,
		},
		{
			name:     "one minute before buffer",
			at:       time.Date(2026, 1, 5, 8, 49, 0, 0, loc),
			wantKind: KindOutside,
			wantNext: time.Date(2026, 1, 5, 8, 50, 0, 0, loc),
		},
		{
			name:     "window end is inclusive",
			at:       time.Date(2026, 1, 5, 10, 0, 0, 0, loc),
			wantKind: KindInside,
		},
		{
			name:     "after window end",
			at:       time.Date(2026, 1, 5, 10, 1, 0, 0, loc),
			wantKind: KindOutside,
			wantNext: time.Date(2026, 1, 6, 8, 50, 0, 0, loc),
		},
		{
			name:     "grace never admits a fresh start",
			at:       time.Date(2026, 1, 5, 10, 3, 0, 0, loc),
			wantKind: KindOutside,
			wantNext: time.Date(2026, 1, 6, 8, 50, 0, 0, loc),
		},
		{
			name:     "saturday excluded, next is monday",
			at:       time.Date(2026, 1, 10, 9, 30, 0, 0, loc),
			wantKind: KindOutside,
			wantNext: time.Date(2026, 1, 12, 8, 50, 0, 0, loc),
		},
		{
			name:     "friday after close skips weekend",
			at:       time.Date(2026, 1, 9, 10, 30, 0, 0, loc),
			wantKind: KindOutside,
			wantNext: time.Date(2026, 1, 12, 8, 50, 0, 0, loc),
		},
		{
			name:     "utc instant converts to schedule timezone",
			at:       time.Date(2026, 1, 5, 13, 52, 0, 0, time.UTC), // 08:52 EST
			wantKind: KindInside,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Evaluate(sched, tt.at, ModeAdmission)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Kind != tt.wantKind {
				t.Errorf("kind = %s, want %s", res.Kind, tt.wantKind)
			}
			if !tt.wantNext.IsZero() {
				if !res.HasNext {
					t.Fatalf("expected next window, got none")
				}
				if !res.NextStart.Equal(tt.wantNext) {
					t.Errorf("next = %s, want %s", res.NextStart, tt.wantNext)
				}
			}
		})
	}
}

func TestEvaluateAdmissionReportsWindowEnd(t *testing.T) {
	loc := nyc(t)
	sched := weekdaySchedule(10, 5, false)

	res, err := Evaluate(sched, time.Date(2026, 1, 5, 9, 15, 0, 0, loc), ModeAdmission)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Kind != KindInside {
		t.Fatalf("kind = %s, want inside", res.Kind)
	}
	if res.Window == nil || res.Window.ID != "w1" {
		t.Errorf("expected window w1, got %+v", res.Window)
	}
	wantEnd := time.Date(2026, 1, 5, 10, 0, 0, 0, loc)
	if !res.EffectiveEnd.Equal(wantEnd) {
		t.Errorf("effective end = %s, want %s", res.EffectiveEnd, wantEnd)
	}
}

func TestEvaluateContinuation(t *testing.T) {
	loc := nyc(t)
	sched := weekdaySchedule(10, 5, false)

	tests := []struct {
		name     string
		at       time.Time
		wantKind Kind
	}{
		{
			name:     "inside window",
			at:       time.Date(2026, 1, 5, 9, 30, 0, 0, loc),
			wantKind: KindInside,
		},
		{
			name:     "within grace",
			at:       time.Date(2026, 1, 5, 10, 3, 0, 0, loc),
			wantKind: KindGrace,
		},
		{
			name:     "grace boundary inclusive",
			at:       time.Date(2026, 1, 5, 10, 5, 0, 0, loc),
			wantKind: KindGrace,
		},
		{
			name:     "one minute past grace",
			at:       time.Date(2026, 1, 5, 10, 6, 0, 0, loc),
			wantKind: KindOutside,
		},
		{
			name:     "buffer does not apply to continuation",
			at:       time.Date(2026, 1, 5, 8, 52, 0, 0, loc),
			wantKind: KindOutside,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Evaluate(sched, tt.at, ModeContinuation)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Kind != tt.wantKind {
				t.Errorf("kind = %s, want %s", res.Kind, tt.wantKind)
			}
		})
	}
}

func TestEvaluateGraceEnd(t *testing.T) {
	loc := nyc(t)
	sched := weekdaySchedule(10, 5, false)

	res, err := Evaluate(sched, time.Date(2026, 1, 5, 10, 2, 0, 0, loc), ModeContinuation)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Kind != KindGrace {
		t.Fatalf("kind = %s, want grace", res.Kind)
	}
	wantGraceEnd := time.Date(2026, 1, 5, 10, 5, 0, 0, loc)
	if !res.GraceEnd.Equal(wantGraceEnd) {
		t.Errorf("grace end = %s, want %s", res.GraceEnd, wantGraceEnd)
	}
}

func TestEvaluateOverlappingWindows(t *testing.T) {
	loc := nyc(t)
	sched := weekdaySchedule(0, 0, false)
	sched.ScheduleData.Windows = []models.ScheduleWindow{
		{ID: "late", Days: []int{1}, StartTime: "10:00", EndTime: "12:00"},
		{ID: "early", Days: []int{1}, StartTime: "09:00", EndTime: "11:00"},
	}

	// Both windows contain 10:30; the earlier start wins for reporting.
	res, err := Evaluate(sched, time.Date(2026, 1, 5, 10, 30, 0, 0, loc), ModeAdmission)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Kind != KindInside {
		t.Fatalf("kind = %s, want inside", res.Kind)
	}
	if res.Window.ID != "early" {
		t.Errorf("reported window = %s, want early", res.Window.ID)
	}

	// The union keeps admitting after the first window closes.
	res, err = Evaluate(sched, time.Date(2026, 1, 5, 11, 30, 0, 0, loc), ModeAdmission)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Kind != KindInside {
		t.Fatalf("kind = %s, want inside at 11:30", res.Kind)
	}
	if res.Window.ID != "late" {
		t.Errorf("reported window = %s, want late", res.Window.ID)
	}
}

func TestEvaluateNextWeekWrap(t *testing.T) {
	loc := nyc(t)
	sched := weekdaySchedule(10, 0, false)
	sched.ScheduleData.Windows[0].Days = []int{1} // Monday only

	res, err := Evaluate(sched, time.Date(2026, 1, 5, 11, 0, 0, 0, loc), ModeAdmission)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Kind != KindOutside {
		t.Fatalf("kind = %s, want outside", res.Kind)
	}
	want := time.Date(2026, 1, 12, 8, 50, 0, 0, loc)
	if !res.HasNext || !res.NextStart.Equal(want) {
		t.Errorf("next = %s (has=%v), want %s", res.NextStart, res.HasNext, want)
	}
}

func TestEvaluateNoWindows(t *testing.T) {
	loc := nyc(t)

	tests := []struct {
		name    string
		windows []models.ScheduleWindow
	}{
		{name: "empty schedule", windows: nil},
		{
			name: "weekend-only window with weekends excluded",
			windows: []models.ScheduleWindow{
				{ID: "sat", Days: []int{6, 7}, StartTime: "09:00", EndTime: "10:00"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched := weekdaySchedule(10, 5, false)
			sched.ScheduleData.Windows = tt.windows

			res, err := Evaluate(sched, time.Date(2026, 1, 5, 9, 30, 0, 0, loc), ModeAdmission)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Kind != KindOutside {
				t.Errorf("kind = %s, want outside", res.Kind)
			}
			if res.HasNext {
				t.Errorf("expected no next window, got %s", res.NextStart)
			}
			if res.EligibleWindows != 0 {
				t.Errorf("eligible = %d, want 0", res.EligibleWindows)
			}
		})
	}
}

func TestEvaluateWeekendAllowed(t *testing.T) {
	loc := nyc(t)
	sched := weekdaySchedule(10, 5, true)
	sched.ScheduleData.Windows[0].Days = []int{6}

	res, err := Evaluate(sched, time.Date(2026, 1, 10, 9, 30, 0, 0, loc), ModeAdmission)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Kind != KindInside {
		t.Errorf("kind = %s, want inside on allowed saturday", res.Kind)
	}
}

func TestEvaluateDayBoundaryClamps(t *testing.T) {
	loc := nyc(t)

	t.Run("buffer clamps at midnight", func(t *testing.T) {
		sched := weekdaySchedule(10, 0, false)
		sched.ScheduleData.Windows[0].StartTime = "00:05"
		sched.ScheduleData.Windows[0].EndTime = "01:00"

		res, err := Evaluate(sched, time.Date(2026, 1, 5, 0, 0, 0, 0, loc), ModeAdmission)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Kind != KindInside {
			t.Errorf("kind = %s, want inside at 00:00", res.Kind)
		}
	})

	t.Run("grace clamps at end of day", func(t *testing.T) {
		sched := weekdaySchedule(0, 10, false)
		sched.ScheduleData.Windows[0].StartTime = "23:00"
		sched.ScheduleData.Windows[0].EndTime = "23:58"

		res, err := Evaluate(sched, time.Date(2026, 1, 5, 23, 59, 0, 0, loc), ModeContinuation)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Kind != KindGrace {
			t.Fatalf("kind = %s, want grace at 23:59", res.Kind)
		}
		wantEnd := time.Date(2026, 1, 5, 23, 59, 0, 0, loc)
		if !res.GraceEnd.Equal(wantEnd) {
			t.Errorf("grace end = %s, want clamp at %s", res.GraceEnd, wantEnd)
		}
	})
}

func TestEvaluateBadTimezone(t *testing.T) {
	sched := weekdaySchedule(10, 5, false)
	sched.Timezone = "Mars/Olympus"

	if _, err := Evaluate(sched, time.Now(), ModeAdmission); err == nil {
		t.Fatal("expected error for unresolvable timezone")
	}
}
