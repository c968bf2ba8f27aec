package engine

import (
	"context"
	"time"

	"examgate/internal/models"
	"examgate/internal/schedule"
)

// SessionSummary is one live attempt as shown on the teacher dashboard.
type SessionSummary struct {
	StudentID       string     `json:"student_id"`
	TestAttemptID   string     `json:"test_attempt_id"`
	StartedAt       time.Time  `json:"started_at"`
	WindowID        string     `json:"window_id,omitempty"`
	OverrideStarted bool       `json:"override_started"`
	Deadline        *time.Time `json:"deadline,omitempty"`
}

// WindowOverview is one configured window, rendered for display.
type WindowOverview struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Days      []int  `json:"days"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Color     string `json:"color,omitempty"`
}

// ScheduleOverview summarizes the classroom's configuration.
type ScheduleOverview struct {
	IsActive                 bool             `json:"is_active"`
	Timezone                 string           `json:"timezone"`
	GracePeriodMinutes       int              `json:"grace_period_minutes"`
	PreTestBufferMinutes     int              `json:"pre_test_buffer_minutes"`
	AllowWeekendTesting      bool             `json:"allow_weekend_testing"`
	EmergencyOverrideEnabled bool             `json:"emergency_override_enabled"`
	Windows                  []WindowOverview `json:"windows"`
}

// Dashboard is the teacher-facing status view of one classroom.
type Dashboard struct {
	ClassroomID             string                 `json:"classroom_id"`
	GeneratedAt             time.Time              `json:"generated_at"`
	TestingCurrentlyAllowed bool                   `json:"testing_currently_allowed"`
	CurrentWindowEnd        *time.Time             `json:"current_window_end,omitempty"`
	NextWindow              *time.Time             `json:"next_window,omitempty"`
	NextWindowEnd           *time.Time             `json:"next_window_end,omitempty"`
	ActiveTestSessions      []SessionSummary       `json:"active_test_sessions"`
	ScheduleOverview        ScheduleOverview       `json:"schedule_overview"`
	RecentOverrides         []models.OverrideUsage `json:"recent_overrides"`
}

// Dashboard assembles the classroom status view at now.
func (e *Engine) Dashboard(ctx context.Context, classroomID string, now time.Time) (*Dashboard, error) {
	sched, err := e.schedules.GetSchedule(ctx, classroomID)
	if err != nil {
		return nil, err
	}

	dash := &Dashboard{
		ClassroomID:        classroomID,
		GeneratedAt:        now,
		ActiveTestSessions: []SessionSummary{},
		RecentOverrides:    []models.OverrideUsage{},
		ScheduleOverview:   overviewOf(sched),
	}

	if sched.IsActive {
		result, err := schedule.Evaluate(sched, now, schedule.ModeAdmission)
		if err != nil {
			return nil, err
		}
		if result.Kind == schedule.KindInside {
			dash.TestingCurrentlyAllowed = true
			end := result.EffectiveEnd
			dash.CurrentWindowEnd = &end
		} else if result.HasNext {
			next := result.NextStart
			nextEnd := result.NextEnd
			dash.NextWindow = &next
			dash.NextWindowEnd = &nextEnd
		}
	}

	for _, sess := range e.registry.ActiveSessions(classroomID) {
		summary := SessionSummary{
			StudentID:       sess.StudentID,
			TestAttemptID:   sess.TestAttemptID,
			StartedAt:       sess.StartedAt,
			WindowID:        sess.WindowID,
			OverrideStarted: sess.OverrideStarted,
		}
		if !sess.Deadline.IsZero() {
			deadline := sess.Deadline
			summary.Deadline = &deadline
		}
		dash.ActiveTestSessions = append(dash.ActiveTestSessions, summary)
	}

	if e.audit != nil {
		usage, err := e.audit.RecentOverrideUsage(ctx, classroomID, 10)
		if err != nil {
			return nil, err
		}
		if usage != nil {
			dash.RecentOverrides = usage
		}
	}

	return dash, nil
}

func overviewOf(sched *models.ClassroomTestSchedule) ScheduleOverview {
	settings := sched.Settings()
	overview := ScheduleOverview{
		IsActive:                 sched.IsActive,
		Timezone:                 sched.Timezone,
		GracePeriodMinutes:       sched.GracePeriodMinutes,
		PreTestBufferMinutes:     settings.PreTestBufferMinutes,
		AllowWeekendTesting:      settings.AllowWeekendTesting,
		EmergencyOverrideEnabled: settings.EmergencyOverrideEnabled,
		Windows:                  []WindowOverview{},
	}
	for _, w := range sched.Windows() {
		overview.Windows = append(overview.Windows, WindowOverview{
			ID:        w.ID,
			Name:      w.Name,
			Days:      w.Days,
			StartTime: w.StartTime,
			EndTime:   w.EndTime,
			Color:     w.Color,
		})
	}
	return overview
}
