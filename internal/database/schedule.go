package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"examgate/internal/models"
)

// GetSchedule returns a classroom's test schedule. A classroom without a
// stored schedule fails with ErrScheduleNotFound; the engine reports that
// as "no schedule configured" rather than an open gate.
func (db *DB) GetSchedule(ctx context.Context, classroomID string) (*models.ClassroomTestSchedule, error) {
	if sched, ok := db.cachedSchedule(classroomID); ok {
		return sched, nil
	}

	row := db.QueryRowContext(ctx, `
		SELECT classroom_id, is_active, timezone, grace_period_minutes,
		       schedule_data, created_at, updated_at
		FROM classroom_schedules WHERE classroom_id = ?`, classroomID)

	sched, err := scanSchedule(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrScheduleNotFound
		}
		return nil, models.NewStorageError("get schedule", err)
	}

	db.storeCachedSchedule(sched)
	return sched, nil
}

// SaveSchedule validates and upserts a classroom schedule. Malformed
// windows are rejected here, at write time, so the read path never has to
// re-validate.
func (db *DB) SaveSchedule(ctx context.Context, sched *models.ClassroomTestSchedule) error {
	if err := sched.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(sched.ScheduleData)
	if err != nil {
		return fmt.Errorf("marshal schedule data: %w", err)
	}

	now := time.Now()
	_, err = db.ExecContext(ctx, `
		INSERT INTO classroom_schedules (
			classroom_id, is_active, timezone, grace_period_minutes,
			schedule_data, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(classroom_id) DO UPDATE SET
			is_active = excluded.is_active,
			timezone = excluded.timezone,
			grace_period_minutes = excluded.grace_period_minutes,
			schedule_data = excluded.schedule_data,
			updated_at = excluded.updated_at`,
		sched.ClassroomID, sched.IsActive, sched.Timezone, sched.GracePeriodMinutes,
		string(data), now, now)
	if err != nil {
		return models.NewStorageError("save schedule", err)
	}

	db.invalidateSchedule(sched.ClassroomID)
	return nil
}

// SetScheduleActive flips the master switch for a classroom.
func (db *DB) SetScheduleActive(ctx context.Context, classroomID string, active bool) error {
	result, err := db.ExecContext(ctx, `
		UPDATE classroom_schedules SET is_active = ?, updated_at = ?
		WHERE classroom_id = ?`,
		active, time.Now(), classroomID)
	if err != nil {
		return models.NewStorageError("set schedule active", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return models.NewStorageError("set schedule active", err)
	}
	if rowsAffected == 0 {
		return models.ErrScheduleNotFound
	}

	db.invalidateSchedule(classroomID)
	return nil
}

// ListSchedules returns every stored classroom schedule ordered by id.
func (db *DB) ListSchedules(ctx context.Context) ([]models.ClassroomTestSchedule, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT classroom_id, is_active, timezone, grace_period_minutes,
		       schedule_data, created_at, updated_at
		FROM classroom_schedules ORDER BY classroom_id`)
	if err != nil {
		return nil, models.NewStorageError("list schedules", err)
	}
	defer rows.Close()

	var schedules []models.ClassroomTestSchedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, models.NewStorageError("list schedules", err)
		}
		schedules = append(schedules, *sched)
	}
	return schedules, rows.Err()
}

// DeleteSchedule removes a classroom's schedule and cached entry.
func (db *DB) DeleteSchedule(ctx context.Context, classroomID string) error {
	result, err := db.ExecContext(ctx,
		`DELETE FROM classroom_schedules WHERE classroom_id = ?`, classroomID)
	if err != nil {
		return models.NewStorageError("delete schedule", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return models.NewStorageError("delete schedule", err)
	}
	if rowsAffected == 0 {
		return models.ErrScheduleNotFound
	}

	db.invalidateSchedule(classroomID)
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (*models.ClassroomTestSchedule, error) {
	var sched models.ClassroomTestSchedule
	var data string
	if err := row.Scan(
		&sched.ClassroomID, &sched.IsActive, &sched.Timezone,
		&sched.GracePeriodMinutes, &data, &sched.CreatedAt, &sched.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(data), &sched.ScheduleData); err != nil {
		return nil, fmt.Errorf("unmarshal schedule data: %w", err)
	}
	return &sched, nil
}
