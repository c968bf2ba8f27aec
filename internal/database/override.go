package database

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"examgate/internal/models"
)

// CreateOverrideCode stores a new emergency override code. The code value
// is unique per classroom; a duplicate fails with ErrOverrideCodeExists.
func (db *DB) CreateOverrideCode(ctx context.Context, code *models.OverrideCode) error {
	if code.ID == "" {
		code.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	code.CreatedAt = now
	code.UpdatedAt = now
	// Stored in UTC so the SQL text comparison against expires_at stays
	// chronological.
	code.ExpiresAt = code.ExpiresAt.UTC()

	_, err := db.ExecContext(ctx, `
		INSERT INTO override_codes (
			id, classroom_id, override_code, reason, expires_at,
			max_uses, current_uses, created_by, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		code.ID, code.ClassroomID, code.OverrideCode, code.Reason, code.ExpiresAt,
		code.MaxUses, code.CurrentUses, code.CreatedBy, code.CreatedAt, code.UpdatedAt)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique constraint") {
			return models.ErrOverrideCodeExists
		}
		return models.NewStorageError("create override code", err)
	}
	return nil
}

// GetOverrideCode looks up a code scoped to a classroom. Absence is
// reported as (nil, nil); the validator owns the not-found taxonomy.
func (db *DB) GetOverrideCode(ctx context.Context, classroomID, code string) (*models.OverrideCode, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, classroom_id, override_code, reason, expires_at,
		       max_uses, current_uses, created_by, created_at, updated_at
		FROM override_codes WHERE classroom_id = ? AND override_code = ?`,
		classroomID, code)

	oc, err := scanOverrideCode(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, models.NewStorageError("get override code", err)
	}
	return oc, nil
}

// ConsumeOverrideCode atomically takes one use from a code. The guarded
// update is the single serialization point for concurrent validations:
// with one use left, two callers get exactly one grant and one
// ErrOverrideExhausted. current_uses is never decremented afterwards, even
// if the caller abandons the request.
func (db *DB) ConsumeOverrideCode(ctx context.Context, classroomID, code, studentID string, now time.Time) (*models.OverrideCode, error) {
	now = now.UTC()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, models.NewStorageError("consume override code", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE override_codes
		SET current_uses = current_uses + 1, updated_at = ?
		WHERE classroom_id = ? AND override_code = ?
		  AND expires_at >= ? AND current_uses < max_uses`,
		now, classroomID, code, now)
	if err != nil {
		return nil, models.NewStorageError("consume override code", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, models.NewStorageError("consume override code", err)
	}

	if rowsAffected == 0 {
		// The guard refused; look at the row to say why.
		row := tx.QueryRowContext(ctx, `
			SELECT id, classroom_id, override_code, reason, expires_at,
			       max_uses, current_uses, created_by, created_at, updated_at
			FROM override_codes WHERE classroom_id = ? AND override_code = ?`,
			classroomID, code)
		oc, err := scanOverrideCode(row)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, models.ErrOverrideNotFound
			}
			return nil, models.NewStorageError("consume override code", err)
		}
		if oc.IsExpired(now) {
			return nil, models.ErrOverrideExpired
		}
		return nil, models.ErrOverrideExhausted
	}

	row := tx.QueryRowContext(ctx, `
		SELECT id, classroom_id, override_code, reason, expires_at,
		       max_uses, current_uses, created_by, created_at, updated_at
		FROM override_codes WHERE classroom_id = ? AND override_code = ?`,
		classroomID, code)
	oc, err := scanOverrideCode(row)
	if err != nil {
		return nil, models.NewStorageError("consume override code", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO override_usage (
			code_id, classroom_id, override_code, reason,
			student_id, used_at, remaining_uses
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		oc.ID, oc.ClassroomID, oc.OverrideCode, oc.Reason,
		studentID, now, oc.RemainingUses())
	if err != nil {
		return nil, models.NewStorageError("record override usage", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, models.NewStorageError("consume override code", err)
	}
	return oc, nil
}

// ListOverrideCodes returns a classroom's codes, newest first.
func (db *DB) ListOverrideCodes(ctx context.Context, classroomID string) ([]models.OverrideCode, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, classroom_id, override_code, reason, expires_at,
		       max_uses, current_uses, created_by, created_at, updated_at
		FROM override_codes WHERE classroom_id = ?
		ORDER BY created_at DESC, id`, classroomID)
	if err != nil {
		return nil, models.NewStorageError("list override codes", err)
	}
	defer rows.Close()

	var codes []models.OverrideCode
	for rows.Next() {
		oc, err := scanOverrideCode(rows)
		if err != nil {
			return nil, models.NewStorageError("list override codes", err)
		}
		codes = append(codes, *oc)
	}
	return codes, rows.Err()
}

// RevokeOverrideCode expires a code immediately. Spent uses stay recorded.
func (db *DB) RevokeOverrideCode(ctx context.Context, classroomID, codeID string, now time.Time) error {
	now = now.UTC()
	result, err := db.ExecContext(ctx, `
		UPDATE override_codes SET expires_at = ?, updated_at = ?
		WHERE classroom_id = ? AND id = ?`,
		now, now, classroomID, codeID)
	if err != nil {
		return models.NewStorageError("revoke override code", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return models.NewStorageError("revoke override code", err)
	}
	if rowsAffected == 0 {
		return models.ErrOverrideNotFound
	}
	return nil
}

// RecentOverrideUsage returns the latest consumed uses for a classroom.
func (db *DB) RecentOverrideUsage(ctx context.Context, classroomID string, limit int) ([]models.OverrideUsage, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, code_id, classroom_id, override_code, reason,
		       student_id, used_at, remaining_uses
		FROM override_usage WHERE classroom_id = ?
		ORDER BY used_at DESC, id DESC LIMIT ?`, classroomID, limit)
	if err != nil {
		return nil, models.NewStorageError("recent override usage", err)
	}
	defer rows.Close()

	var usages []models.OverrideUsage
	for rows.Next() {
		var u models.OverrideUsage
		if err := rows.Scan(
			&u.ID, &u.CodeID, &u.ClassroomID, &u.OverrideCode, &u.Reason,
			&u.StudentID, &u.UsedAt, &u.RemainingUses,
		); err != nil {
			return nil, models.NewStorageError("recent override usage", err)
		}
		usages = append(usages, u)
	}
	return usages, rows.Err()
}

// DeleteExpiredOverrideCodes removes codes that expired before the
// retention horizon. Returns the number of deleted rows.
func (db *DB) DeleteExpiredOverrideCodes(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	result, err := db.ExecContext(ctx,
		`DELETE FROM override_codes WHERE expires_at < ?`, cutoff)
	if err != nil {
		return 0, models.NewStorageError("delete expired override codes", err)
	}
	return result.RowsAffected()
}

func scanOverrideCode(row rowScanner) (*models.OverrideCode, error) {
	var oc models.OverrideCode
	var reason, createdBy sql.NullString
	if err := row.Scan(
		&oc.ID, &oc.ClassroomID, &oc.OverrideCode, &reason, &oc.ExpiresAt,
		&oc.MaxUses, &oc.CurrentUses, &createdBy, &oc.CreatedAt, &oc.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if reason.Valid {
		oc.Reason = reason.String
	}
	if createdBy.Valid {
		oc.CreatedBy = createdBy.String
	}
	return &oc, nil
}
