package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"examgate/internal/models"
)

// AuditTableNames lists the tables included in audit exports.
var AuditTableNames = []string{
	"classroom_schedules",
	"override_codes",
	"override_usage",
	"attempt_events",
}

// GetTableNames returns list of table names to export.
func (db *DB) GetTableNames(ctx context.Context) ([]string, error) {
	return AuditTableNames, nil
}

// GetTableData returns all rows from a table as maps.
func (db *DB) GetTableData(ctx context.Context, tableName string) (result []map[string]interface{}, columns []string, err error) {
	// Only known table names reach the query string.
	validTable := false
	for _, t := range AuditTableNames {
		if t == tableName {
			validTable = true
			break
		}
	}
	if !validTable {
		return nil, nil, fmt.Errorf("invalid table name: %s", tableName)
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return nil, nil, err
	}

	for rows.Next() {
		var cid int
		var name, typeName string
		var notNull, pk int
		var dfltValue sql.NullString
		if errScan := rows.Scan(&cid, &name, &typeName, &notNull, &dfltValue, &pk); errScan != nil {
			rows.Close()
			return nil, nil, errScan
		}
		columns = append(columns, name)
	}
	rows.Close()

	if len(columns) == 0 {
		return nil, nil, fmt.Errorf("table %s has no columns", tableName)
	}

	dataRows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s", tableName))
	if err != nil {
		return nil, nil, err
	}
	defer dataRows.Close()

	for dataRows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if errScan := dataRows.Scan(valuePtrs...); errScan != nil {
			return nil, nil, errScan
		}

		row := make(map[string]interface{})
		for i, col := range columns {
			row[col] = values[i]
		}
		result = append(result, row)
	}

	return result, columns, dataRows.Err()
}

// RecordAttemptEvent appends one attempt lifecycle event to the audit log.
func (db *DB) RecordAttemptEvent(ctx context.Context, event *models.AttemptEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	event.CreatedAt = event.CreatedAt.UTC()
	result, err := db.ExecContext(ctx, `
		INSERT INTO attempt_events (
			classroom_id, student_id, test_attempt_id, event, detail, created_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		event.ClassroomID, event.StudentID, event.TestAttemptID,
		event.Event, event.Detail, event.CreatedAt)
	if err != nil {
		return models.NewStorageError("record attempt event", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		event.ID = id
	}
	return nil
}

// ListAttemptEvents returns a classroom's latest attempt events.
func (db *DB) ListAttemptEvents(ctx context.Context, classroomID string, limit int) ([]models.AttemptEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, classroom_id, student_id, test_attempt_id, event, detail, created_at
		FROM attempt_events WHERE classroom_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, classroomID, limit)
	if err != nil {
		return nil, models.NewStorageError("list attempt events", err)
	}
	defer rows.Close()

	var events []models.AttemptEvent
	for rows.Next() {
		var e models.AttemptEvent
		var detail sql.NullString
		if err := rows.Scan(
			&e.ID, &e.ClassroomID, &e.StudentID, &e.TestAttemptID,
			&e.Event, &detail, &e.CreatedAt,
		); err != nil {
			return nil, models.NewStorageError("list attempt events", err)
		}
		if detail.Valid {
			e.Detail = detail.String
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// DeleteOldAttemptEvents deletes audit events older than the given duration.
// Returns the number of deleted rows.
func (db *DB) DeleteOldAttemptEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	result, err := db.ExecContext(ctx,
		`DELETE FROM attempt_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, models.NewStorageError("delete old attempt events", err)
	}
	return result.RowsAffected()
}

// DeleteOldOverrideUsage trims the usage log past the retention horizon.
func (db *DB) DeleteOldOverrideUsage(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	result, err := db.ExecContext(ctx,
		`DELETE FROM override_usage WHERE used_at < ?`, cutoff)
	if err != nil {
		return 0, models.NewStorageError("delete old override usage", err)
	}
	return result.RowsAffected()
}
