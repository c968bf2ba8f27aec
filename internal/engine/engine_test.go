package engine

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"examgate/internal/models"
	"examgate/internal/override"
	"examgate/internal/session"
)

type mockScheduleStore struct {
	mock.Mock
}

func (m *mockScheduleStore) GetSchedule(ctx context.Context, classroomID string) (*models.ClassroomTestSchedule, error) {
	args := m.Called(ctx, classroomID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ClassroomTestSchedule), args.Error(1)
}

type mockValidator struct {
	mock.Mock
}

func (m *mockValidator) ValidateAndConsume(ctx context.Context, sched *models.ClassroomTestSchedule, studentID, code string, now time.Time) (*override.Grant, error) {
	args := m.Called(ctx, sched, studentID, code, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*override.Grant), args.Error(1)
}

func (m *mockValidator) Validate(ctx context.Context, sched *models.ClassroomTestSchedule, code string, now time.Time) (*override.Grant, error) {
	args := m.Called(ctx, sched, code, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*override.Grant), args.Error(1)
}

type mockAuditStore struct {
	mock.Mock
}

func (m *mockAuditStore) RecordAttemptEvent(ctx context.Context, event *models.AttemptEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (m *mockAuditStore) RecentOverrideUsage(ctx context.Context, classroomID string, limit int) ([]models.OverrideUsage, error) {
	args := m.Called(ctx, classroomID, limit)
	return args.Get(0).([]models.OverrideUsage), args.Error(1)
}

type engineFixture struct {
	engine    *Engine
	schedules *mockScheduleStore
	overrides *mockValidator
	audit     *mockAuditStore
	registry  *session.Registry
}

func newFixture() *engineFixture {
	logger := zerolog.New(io.Discard)
	f := &engineFixture{
		schedules: new(mockScheduleStore),
		overrides: new(mockValidator),
		audit:     new(mockAuditStore),
		registry:  session.NewRegistry(nil, logger),
	}
	f.engine = New(f.schedules, f.overrides, f.registry, f.audit, nil, nil, logger)
	return f
}

// weekdaySchedule is the pinned scenario: America/New_York, one window
// Mon-Fri 09:00-10:00, buffer 10, grace 5, weekends off.
func weekdaySchedule() *models.ClassroomTestSchedule {
	return &models.ClassroomTestSchedule{
		ClassroomID:        "class-1",
		IsActive:           true,
		Timezone:           "America/New_York",
		GracePeriodMinutes: 5,
		ScheduleData: models.ScheduleData{
			Windows: []models.ScheduleWindow{
				{
					ID:        "win-1",
					Name:      "Morning block",
					Days:      []int{1, 2, 3, 4, 5},
					StartTime: "09:00",
					EndTime:   "10:00",
				},
			},
			Settings: models.ScheduleSettings{
				PreTestBufferMinutes:     10,
				AllowWeekendTesting:      false,
				EmergencyOverrideEnabled: true,
			},
		},
	}
}

func nyc(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tz database unavailable")
	}
	return loc
}

func TestAvailabilityScenario(t *testing.T) {
	loc := nyc(t)
	ctx := context.Background()

	// 2026-01-05 is a Monday.
	monday := func(hour, min int) time.Time {
		return time.Date(2026, 1, 5, hour, min, 0, 0, loc)
	}

	t.Run("inside window via buffer at 08:52", func(t *testing.T) {
		f := newFixture()
		f.schedules.On("GetSchedule", ctx, "class-1").Return(weekdaySchedule(), nil)

		status, err := f.engine.Availability(ctx, "class-1", "student-1", monday(8, 52))
		require.NoError(t, err)
		assert.True(t, status.Allowed)
		assert.True(t, status.ScheduleActive)
		assert.Equal(t, models.ReasonInsideWindow, status.Reason)
		require.NotNil(t, status.CurrentWindowEnd)
		assert.True(t, status.CurrentWindowEnd.Equal(monday(10, 0)))
	})

	t.Run("one minute before buffer at 08:49", func(t *testing.T) {
		f := newFixture()
		f.schedules.On("GetSchedule", ctx, "class-1").Return(weekdaySchedule(), nil)

		status, err := f.engine.Availability(ctx, "class-1", "student-1", monday(8, 49))
		require.NoError(t, err)
		assert.False(t, status.Allowed)
		assert.Equal(t, models.ReasonOutsideWindow, status.Reason)
		require.NotNil(t, status.NextWindow)
		assert.True(t, status.NextWindow.Equal(monday(8, 50)), "next admission is the buffer-adjusted start")
		assert.Equal(t, int64(60), status.TimeUntilNext)
	})

	t.Run("saturday with weekends off", func(t *testing.T) {
		f := newFixture()
		f.schedules.On("GetSchedule", ctx, "class-1").Return(weekdaySchedule(), nil)

		saturday := time.Date(2026, 1, 10, 9, 30, 0, 0, loc)
		status, err := f.engine.Availability(ctx, "class-1", "student-1", saturday)
		require.NoError(t, err)
		assert.False(t, status.Allowed)
		require.NotNil(t, status.NextWindow)
		assert.True(t, status.NextWindow.Equal(time.Date(2026, 1, 12, 8, 50, 0, 0, loc)), "following Monday 08:50")
	})

	t.Run("deactivated schedule denies regardless of window", func(t *testing.T) {
		f := newFixture()
		sched := weekdaySchedule()
		sched.IsActive = false
		f.schedules.On("GetSchedule", ctx, "class-1").Return(sched, nil)

		status, err := f.engine.Availability(ctx, "class-1", "student-1", monday(9, 30))
		require.NoError(t, err)
		assert.False(t, status.Allowed)
		assert.False(t, status.ScheduleActive)
		assert.Equal(t, models.ReasonScheduleInactive, status.Reason)
		assert.Equal(t, "scheduling disabled", status.Message)
	})

	t.Run("no schedule configured", func(t *testing.T) {
		f := newFixture()
		f.schedules.On("GetSchedule", ctx, "class-1").Return(nil, models.ErrScheduleNotFound)

		status, err := f.engine.Availability(ctx, "class-1", "student-1", monday(9, 30))
		require.NoError(t, err)
		assert.False(t, status.Allowed)
		assert.Equal(t, models.ReasonScheduleMissing, status.Reason)
	})

	t.Run("no windows configured", func(t *testing.T) {
		f := newFixture()
		sched := weekdaySchedule()
		sched.ScheduleData.Windows = nil
		f.schedules.On("GetSchedule", ctx, "class-1").Return(sched, nil)

		status, err := f.engine.Availability(ctx, "class-1", "student-1", monday(9, 30))
		require.NoError(t, err)
		assert.False(t, status.Allowed)
		assert.Equal(t, models.ReasonNoWindowConfigured, status.Reason)
		assert.Nil(t, status.NextWindow)
	})

	t.Run("storage failure propagates", func(t *testing.T) {
		f := newFixture()
		f.schedules.On("GetSchedule", ctx, "class-1").
			Return(nil, models.NewStorageError("get schedule", context.DeadlineExceeded))

		_, err := f.engine.Availability(ctx, "class-1", "student-1", monday(9, 30))
		require.Error(t, err)
		assert.True(t, models.IsStorageUnavailable(err))
	})

	t.Run("live attempt is surfaced", func(t *testing.T) {
		f := newFixture()
		f.schedules.On("GetSchedule", ctx, "class-1").Return(weekdaySchedule(), nil)
		f.audit.On("RecordAttemptEvent", mock.Anything, mock.Anything).Return(nil)

		_, err := f.engine.Start(ctx, StartRequest{
			ClassroomID: "class-1", StudentID: "student-1", TestAttemptID: "attempt-1",
			Now: monday(9, 15),
		})
		require.NoError(t, err)

		status, err := f.engine.Availability(ctx, "class-1", "student-1", monday(9, 20))
		require.NoError(t, err)
		assert.Equal(t, "attempt-1", status.ActiveAttemptID)
	})
}

func TestStart(t *testing.T) {
	loc := nyc(t)
	ctx := context.Background()
	inside := time.Date(2026, 1, 5, 9, 15, 0, 0, loc)
	outside := time.Date(2026, 1, 5, 14, 0, 0, 0, loc)

	t.Run("inside window registers the attempt", func(t *testing.T) {
		f := newFixture()
		f.schedules.On("GetSchedule", ctx, "class-1").Return(weekdaySchedule(), nil)
		f.audit.On("RecordAttemptEvent", mock.Anything, mock.MatchedBy(func(e *models.AttemptEvent) bool {
			return e.Event == models.AttemptEventStarted && e.TestAttemptID == "attempt-1"
		})).Return(nil).Once()

		status, err := f.engine.Start(ctx, StartRequest{
			ClassroomID: "class-1", StudentID: "student-1", TestAttemptID: "attempt-1", Now: inside,
		})
		require.NoError(t, err)
		assert.True(t, status.Allowed)
		assert.Equal(t, models.ReasonInsideWindow, status.Reason)
		assert.Equal(t, 1, f.registry.ActiveCount("class-1"))
		f.audit.AssertExpectations(t)

		sessions := f.registry.ActiveSessions("class-1")
		require.Len(t, sessions, 1)
		assert.Equal(t, "win-1", sessions[0].WindowID)
		assert.True(t, sessions[0].Deadline.Equal(time.Date(2026, 1, 5, 10, 5, 0, 0, loc)), "deadline is window end plus grace")
	})

	t.Run("second attempt by same student denied", func(t *testing.T) {
		f := newFixture()
		f.schedules.On("GetSchedule", ctx, "class-1").Return(weekdaySchedule(), nil)
		f.audit.On("RecordAttemptEvent", mock.Anything, mock.Anything).Return(nil)

		_, err := f.engine.Start(ctx, StartRequest{
			ClassroomID: "class-1", StudentID: "student-1", TestAttemptID: "attempt-1", Now: inside,
		})
		require.NoError(t, err)

		status, err := f.engine.Start(ctx, StartRequest{
			ClassroomID: "class-1", StudentID: "student-1", TestAttemptID: "attempt-2", Now: inside,
		})
		require.NoError(t, err)
		assert.False(t, status.Allowed)
		assert.Equal(t, models.ReasonAlreadyActive, status.Reason)
		assert.Equal(t, "attempt-1", status.ActiveAttemptID)
		assert.Equal(t, 1, f.registry.ActiveCount("class-1"))
	})

	t.Run("restarting the same attempt is idempotent", func(t *testing.T) {
		f := newFixture()
		f.schedules.On("GetSchedule", ctx, "class-1").Return(weekdaySchedule(), nil)
		f.audit.On("RecordAttemptEvent", mock.Anything, mock.Anything).Return(nil)

		_, err := f.engine.Start(ctx, StartRequest{
			ClassroomID: "class-1", StudentID: "student-1", TestAttemptID: "attempt-1", Now: inside,
		})
		require.NoError(t, err)

		status, err := f.engine.Start(ctx, StartRequest{
			ClassroomID: "class-1", StudentID: "student-1", TestAttemptID: "attempt-1", Now: inside.Add(time.Minute),
		})
		require.NoError(t, err)
		assert.True(t, status.Allowed)
		assert.Equal(t, "attempt-1", status.ActiveAttemptID)
		assert.Equal(t, 1, f.registry.ActiveCount("class-1"))
		f.audit.AssertNumberOfCalls(t, "RecordAttemptEvent", 1)
	})

	t.Run("outside window without code", func(t *testing.T) {
		f := newFixture()
		f.schedules.On("GetSchedule", ctx, "class-1").Return(weekdaySchedule(), nil)

		status, err := f.engine.Start(ctx, StartRequest{
			ClassroomID: "class-1", StudentID: "student-1", TestAttemptID: "attempt-1", Now: outside,
		})
		require.NoError(t, err)
		assert.False(t, status.Allowed)
		assert.Equal(t, models.ReasonOutsideWindow, status.Reason)
		require.NotNil(t, status.NextWindow, "denial reports the next admission instant")
		assert.Equal(t, 0, f.registry.ActiveCount("class-1"))
	})

	t.Run("override admits outside window", func(t *testing.T) {
		f := newFixture()
		sched := weekdaySchedule()
		f.schedules.On("GetSchedule", ctx, "class-1").Return(sched, nil)
		grant := &override.Grant{CodeID: "code-1", ClassroomID: "class-1", RemainingUses: 2, GrantedAt: outside}
		f.overrides.On("ValidateAndConsume", ctx, sched, "student-1", "BRAVO234", outside).Return(grant, nil).Once()
		f.audit.On("RecordAttemptEvent", mock.Anything, mock.MatchedBy(func(e *models.AttemptEvent) bool {
			return e.Event == models.AttemptEventStarted && e.Detail == "override code-1"
		})).Return(nil).Once()

		status, err := f.engine.Start(ctx, StartRequest{
			ClassroomID: "class-1", StudentID: "student-1", TestAttemptID: "attempt-1",
			Now: outside, OverrideCode: "BRAVO234",
		})
		require.NoError(t, err)
		assert.True(t, status.Allowed)
		assert.Equal(t, models.ReasonOverrideGranted, status.Reason)
		assert.Equal(t, "override granted", status.Message)
		assert.Equal(t, 2, status.RemainingUses)
		f.overrides.AssertExpectations(t)

		sessions := f.registry.ActiveSessions("class-1")
		require.Len(t, sessions, 1)
		assert.True(t, sessions[0].OverrideStarted)
		assert.True(t, sessions[0].Deadline.IsZero(), "override sessions carry no window deadline")
	})

	t.Run("override denial names the specific kind", func(t *testing.T) {
		f := newFixture()
		sched := weekdaySchedule()
		f.schedules.On("GetSchedule", ctx, "class-1").Return(sched, nil)
		f.overrides.On("ValidateAndConsume", ctx, sched, "student-1", "WRONG", outside).
			Return(nil, models.ErrOverrideNotFound).Once()

		status, err := f.engine.Start(ctx, StartRequest{
			ClassroomID: "class-1", StudentID: "student-1", TestAttemptID: "attempt-1",
			Now: outside, OverrideCode: "WRONG",
		})
		require.NoError(t, err)
		assert.False(t, status.Allowed)
		assert.Equal(t, models.ReasonOverrideNotFound, status.Reason)
		assert.Equal(t, 0, f.registry.ActiveCount("class-1"))
	})

	t.Run("code is not consumed when an attempt is already live", func(t *testing.T) {
		f := newFixture()
		f.schedules.On("GetSchedule", ctx, "class-1").Return(weekdaySchedule(), nil)
		f.audit.On("RecordAttemptEvent", mock.Anything, mock.Anything).Return(nil)

		_, err := f.engine.Start(ctx, StartRequest{
			ClassroomID: "class-1", StudentID: "student-1", TestAttemptID: "attempt-1", Now: inside,
		})
		require.NoError(t, err)

		status, err := f.engine.Start(ctx, StartRequest{
			ClassroomID: "class-1", StudentID: "student-1", TestAttemptID: "attempt-2",
			Now: outside, OverrideCode: "BRAVO234",
		})
		require.NoError(t, err)
		assert.False(t, status.Allowed)
		assert.Equal(t, models.ReasonAlreadyActive, status.Reason)
		f.overrides.AssertNotCalled(t, "ValidateAndConsume", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestContinue(t *testing.T) {
	loc := nyc(t)
	ctx := context.Background()
	inside := time.Date(2026, 1, 5, 9, 15, 0, 0, loc)

	start := func(t *testing.T, f *engineFixture) {
		t.Helper()
		f.schedules.On("GetSchedule", ctx, "class-1").Return(weekdaySchedule(), nil)
		f.audit.On("RecordAttemptEvent", mock.Anything, mock.Anything).Return(nil)
		_, err := f.engine.Start(ctx, StartRequest{
			ClassroomID: "class-1", StudentID: "student-1", TestAttemptID: "attempt-1", Now: inside,
		})
		require.NoError(t, err)
	}

	continueAt := func(t *testing.T, f *engineFixture, at time.Time) *models.TestAvailabilityStatus {
		t.Helper()
		status, err := f.engine.Continue(ctx, ContinueRequest{
			ClassroomID: "class-1", StudentID: "student-1", TestAttemptID: "attempt-1", Now: at,
		})
		require.NoError(t, err)
		return status
	}

	t.Run("inside window", func(t *testing.T) {
		f := newFixture()
		start(t, f)
		status := continueAt(t, f, time.Date(2026, 1, 5, 9, 45, 0, 0, loc))
		assert.True(t, status.Allowed)
		assert.Equal(t, models.ReasonContinueAllowed, status.Reason)
	})

	t.Run("grace period is inclusive", func(t *testing.T) {
		f := newFixture()
		start(t, f)

		status := continueAt(t, f, time.Date(2026, 1, 5, 10, 3, 0, 0, loc))
		assert.True(t, status.Allowed)
		assert.Equal(t, models.ReasonGraceActive, status.Reason)

		status = continueAt(t, f, time.Date(2026, 1, 5, 10, 5, 0, 0, loc))
		assert.True(t, status.Allowed, "grace boundary instant still continues")
	})

	t.Run("one minute beyond grace", func(t *testing.T) {
		f := newFixture()
		start(t, f)

		status := continueAt(t, f, time.Date(2026, 1, 5, 10, 6, 0, 0, loc))
		assert.False(t, status.Allowed)
		assert.Equal(t, models.ReasonGraceExpired, status.Reason)
		assert.Equal(t, 0, f.registry.ActiveCount("class-1"), "expired session leaves the registry")

		status = continueAt(t, f, time.Date(2026, 1, 5, 10, 7, 0, 0, loc))
		assert.Equal(t, models.ReasonNoActiveSession, status.Reason, "second check finds no session")
	})

	t.Run("override session continues past any window", func(t *testing.T) {
		f := newFixture()
		sched := weekdaySchedule()
		f.schedules.On("GetSchedule", ctx, "class-1").Return(sched, nil)
		f.audit.On("RecordAttemptEvent", mock.Anything, mock.Anything).Return(nil)
		outside := time.Date(2026, 1, 5, 14, 0, 0, 0, loc)
		grant := &override.Grant{CodeID: "code-1", RemainingUses: 1}
		f.overrides.On("ValidateAndConsume", ctx, sched, "student-1", "BRAVO234", outside).Return(grant, nil).Once()

		_, err := f.engine.Start(ctx, StartRequest{
			ClassroomID: "class-1", StudentID: "student-1", TestAttemptID: "attempt-1",
			Now: outside, OverrideCode: "BRAVO234",
		})
		require.NoError(t, err)

		status := continueAt(t, f, time.Date(2026, 1, 5, 23, 0, 0, 0, loc))
		assert.True(t, status.Allowed)
		assert.Equal(t, "override session active", status.Message)
	})

	t.Run("no session registered", func(t *testing.T) {
		f := newFixture()
		f.schedules.On("GetSchedule", ctx, "class-1").Return(weekdaySchedule(), nil)
		status := continueAt(t, f, inside)
		assert.False(t, status.Allowed)
		assert.Equal(t, models.ReasonNoActiveSession, status.Reason)
	})

	t.Run("schedule deactivated mid attempt", func(t *testing.T) {
		f := newFixture()
		sched := weekdaySchedule()
		f.schedules.On("GetSchedule", ctx, "class-1").Return(sched, nil)
		f.audit.On("RecordAttemptEvent", mock.Anything, mock.Anything).Return(nil)
		_, err := f.engine.Start(ctx, StartRequest{
			ClassroomID: "class-1", StudentID: "student-1", TestAttemptID: "attempt-1", Now: inside,
		})
		require.NoError(t, err)

		sched.IsActive = false
		status := continueAt(t, f, inside.Add(5*time.Minute))
		assert.False(t, status.Allowed)
		assert.Equal(t, models.ReasonScheduleInactive, status.Reason)
	})
}

func TestEnd(t *testing.T) {
	loc := nyc(t)
	ctx := context.Background()
	f := newFixture()
	f.schedules.On("GetSchedule", ctx, "class-1").Return(weekdaySchedule(), nil)
	f.audit.On("RecordAttemptEvent", mock.Anything, mock.Anything).Return(nil)

	_, err := f.engine.Start(ctx, StartRequest{
		ClassroomID: "class-1", StudentID: "student-1", TestAttemptID: "attempt-1",
		Now: time.Date(2026, 1, 5, 9, 15, 0, 0, loc),
	})
	require.NoError(t, err)

	key := models.SessionKey{ClassroomID: "class-1", StudentID: "student-1", TestAttemptID: "attempt-1"}
	require.NoError(t, f.engine.End(ctx, key))
	assert.Equal(t, 0, f.registry.ActiveCount("class-1"))
	f.audit.AssertNumberOfCalls(t, "RecordAttemptEvent", 2)

	require.NoError(t, f.engine.End(ctx, key), "ending twice is safe")
	f.audit.AssertNumberOfCalls(t, "RecordAttemptEvent", 2)
}

func TestValidateOverride(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 5, 14, 0, 0, 0, time.UTC)

	t.Run("valid code", func(t *testing.T) {
		f := newFixture()
		sched := weekdaySchedule()
		f.schedules.On("GetSchedule", ctx, "class-1").Return(sched, nil)
		expires := now.Add(time.Hour)
		grant := &override.Grant{CodeID: "code-1", RemainingUses: 3, ExpiresAt: expires}
		f.overrides.On("Validate", ctx, sched, "BRAVO234", now).Return(grant, nil).Once()

		resp, err := f.engine.ValidateOverride(ctx, "class-1", "BRAVO234", now)
		require.NoError(t, err)
		assert.True(t, resp.Valid)
		assert.Equal(t, 3, resp.RemainingUses)
		f.overrides.AssertNotCalled(t, "ValidateAndConsume", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("exhausted code", func(t *testing.T) {
		f := newFixture()
		sched := weekdaySchedule()
		f.schedules.On("GetSchedule", ctx, "class-1").Return(sched, nil)
		f.overrides.On("Validate", ctx, sched, "SPENT", now).Return(nil, models.ErrOverrideExhausted).Once()

		resp, err := f.engine.ValidateOverride(ctx, "class-1", "SPENT", now)
		require.NoError(t, err)
		assert.False(t, resp.Valid)
		assert.Equal(t, models.ReasonOverrideExhausted, resp.Reason)
	})

	t.Run("missing schedule", func(t *testing.T) {
		f := newFixture()
		f.schedules.On("GetSchedule", ctx, "class-1").Return(nil, models.ErrScheduleNotFound)

		resp, err := f.engine.ValidateOverride(ctx, "class-1", "BRAVO234", now)
		require.NoError(t, err)
		assert.False(t, resp.Valid)
		assert.Equal(t, models.ReasonScheduleMissing, resp.Reason)
	})
}

func TestDashboard(t *testing.T) {
	loc := nyc(t)
	ctx := context.Background()
	f := newFixture()
	f.schedules.On("GetSchedule", ctx, "class-1").Return(weekdaySchedule(), nil)
	f.audit.On("RecordAttemptEvent", mock.Anything, mock.Anything).Return(nil)

	usage := []models.OverrideUsage{{OverrideCode: "BRAVO234", StudentID: "student-2"}}
	f.audit.On("RecentOverrideUsage", ctx, "class-1", 10).Return(usage, nil)

	inside := time.Date(2026, 1, 5, 9, 15, 0, 0, loc)
	_, err := f.engine.Start(ctx, StartRequest{
		ClassroomID: "class-1", StudentID: "student-1", TestAttemptID: "attempt-1", Now: inside,
	})
	require.NoError(t, err)

	dash, err := f.engine.Dashboard(ctx, "class-1", inside)
	require.NoError(t, err)
	assert.True(t, dash.TestingCurrentlyAllowed)
	require.NotNil(t, dash.CurrentWindowEnd)
	assert.True(t, dash.CurrentWindowEnd.Equal(time.Date(2026, 1, 5, 10, 0, 0, 0, loc)))
	require.Len(t, dash.ActiveTestSessions, 1)
	assert.Equal(t, "student-1", dash.ActiveTestSessions[0].StudentID)
	require.Len(t, dash.RecentOverrides, 1)
	assert.Equal(t, "BRAVO234", dash.RecentOverrides[0].OverrideCode)
	require.Len(t, dash.ScheduleOverview.Windows, 1)
	assert.Equal(t, 10, dash.ScheduleOverview.PreTestBufferMinutes)

	t.Run("outside window reports the next one", func(t *testing.T) {
		evening := time.Date(2026, 1, 5, 20, 0, 0, 0, loc)
		dash, err := f.engine.Dashboard(ctx, "class-1", evening)
		require.NoError(t, err)
		assert.False(t, dash.TestingCurrentlyAllowed)
		require.NotNil(t, dash.NextWindow)
		assert.True(t, dash.NextWindow.Equal(time.Date(2026, 1, 6, 8, 50, 0, 0, loc)))
	})
}
