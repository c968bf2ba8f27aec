package audit

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"examgate/internal/database"
	"examgate/internal/models"
)

func newTestService(t *testing.T) (*Service, *database.DB, string) {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(filepath.Join(t.TempDir(), "audit_test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	exportDir := t.TempDir()
	svc := NewService(&Config{ExportDir: exportDir, DataRetentionDays: 30}, db, NewExcelizeWriter, db, logger)
	return svc, db, exportDir
}

func TestExportNowWritesWorkbook(t *testing.T) {
	svc, db, exportDir := newTestService(t)
	ctx := context.Background()

	require.NoError(t, db.SaveSchedule(ctx, &models.ClassroomTestSchedule{
		ClassroomID: "class-9",
		IsActive:    true,
		Timezone:    "UTC",
		ScheduleData: models.ScheduleData{
			Windows: []models.ScheduleWindow{
				{ID: "win-1", Days: []int{1}, StartTime: "09:00", EndTime: "10:00"},
			},
		},
	}))
	require.NoError(t, db.CreateOverrideCode(ctx, &models.OverrideCode{
		ClassroomID:  "class-9",
		OverrideCode: "ALPHA234",
		ExpiresAt:    time.Now().Add(24 * time.Hour),
		MaxUses:      3,
	}))
	require.NoError(t, db.RecordAttemptEvent(ctx, &models.AttemptEvent{
		ClassroomID:   "class-9",
		StudentID:     "student-1",
		TestAttemptID: "attempt-1",
		Event:         models.AttemptEventStarted,
	}))

	require.NoError(t, svc.ExportNow())

	path := filepath.Join(exportDir, ExportFilename(previousMonth(time.Now())))
	_, err := os.Stat(path)
	require.NoError(t, err, "export file should exist")

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, database.AuditTableNames, f.GetSheetList())

	rows, err := f.GetRows("attempt_events")
	require.NoError(t, err)
	require.Len(t, rows, 2, "header plus one event row")
	assert.Contains(t, rows[0], "classroom_id")
	assert.Contains(t, rows[1], "class-9")
	assert.Contains(t, rows[1], "attempt-1")

	rows, err = f.GetRows("override_codes")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Contains(t, rows[1], "ALPHA234")
}

func TestExportRequiresWriter(t *testing.T) {
	_, db, _ := newTestService(t)
	svc := NewService(DefaultConfig(), db, nil, db, zerolog.New(io.Discard))

	err := svc.ExportNow()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestCleanupNowDeletesExpiredData(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, db.RecordAttemptEvent(ctx, &models.AttemptEvent{
		ClassroomID:   "class-9",
		StudentID:     "student-1",
		TestAttemptID: "attempt-old",
		Event:         models.AttemptEventEnded,
		CreatedAt:     now.Add(-60 * 24 * time.Hour),
	}))
	require.NoError(t, db.RecordAttemptEvent(ctx, &models.AttemptEvent{
		ClassroomID:   "class-9",
		StudentID:     "student-2",
		TestAttemptID: "attempt-recent",
		Event:         models.AttemptEventStarted,
		CreatedAt:     now.Add(-time.Hour),
	}))
	require.NoError(t, db.CreateOverrideCode(ctx, &models.OverrideCode{
		ClassroomID:  "class-9",
		OverrideCode: "STALE123",
		ExpiresAt:    now.Add(-60 * 24 * time.Hour),
		MaxUses:      1,
	}))
	require.NoError(t, db.CreateOverrideCode(ctx, &models.OverrideCode{
		ClassroomID:  "class-9",
		OverrideCode: "FRESH123",
		ExpiresAt:    now.Add(24 * time.Hour),
		MaxUses:      1,
	}))

	require.NoError(t, svc.CleanupNow())

	events, err := db.ListAttemptEvents(ctx, "class-9", 10)
	require.NoError(t, err)
	require.Len(t, events, 1, "only the recent event survives the retention pass")
	assert.Equal(t, "attempt-recent", events[0].TestAttemptID)

	stale, err := db.GetOverrideCode(ctx, "class-9", "STALE123")
	require.NoError(t, err)
	assert.Nil(t, stale, "long-expired code is purged")

	fresh, err := db.GetOverrideCode(ctx, "class-9", "FRESH123")
	require.NoError(t, err)
	assert.NotNil(t, fresh)
}

func TestStartStop(t *testing.T) {
	svc, _, _ := newTestService(t)

	svc.Start()
	svc.Start() // second call is a no-op

	done := make(chan struct{})
	go func() {
		svc.Stop()
		svc.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestExportFilename(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{"mid month", time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC), "examgate_2026-03.xlsx"},
		{"previous of february", previousMonth(time.Date(2026, 2, 1, 0, 1, 0, 0, time.UTC)), "examgate_2026-01.xlsx"},
		{"previous of january crosses the year", previousMonth(time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC)), "examgate_2025-12.xlsx"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExportFilename(tt.at))
		})
	}
}
