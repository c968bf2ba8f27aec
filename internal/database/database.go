package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"

	"examgate/internal/models"
)

// DB wraps the SQLite connection and a read-mostly schedule cache.
// Availability checks hit the cache; every schedule write invalidates the
// classroom's entry so readers never see a stale active flag for long.
type DB struct {
	*sql.DB
	scheduleCache map[string]*models.ClassroomTestSchedule
	mu            sync.RWMutex
	logger        *zerolog.Logger
}

// NewDB opens (or creates) the database at path and runs migrations.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// WAL keeps concurrent availability reads from blocking on writes.
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	instance := &DB{
		DB:            db,
		scheduleCache: make(map[string]*models.ClassroomTestSchedule),
		logger:        logger,
	}

	if err := instance.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %v", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return instance, nil
}

func (db *DB) createTables() error {
	queries := []string{
		// One row per classroom; windows and settings live in the
		// schedule_data JSON document.
		`CREATE TABLE IF NOT EXISTS classroom_schedules (
			classroom_id TEXT PRIMARY KEY,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			timezone TEXT NOT NULL DEFAULT 'UTC',
			grace_period_minutes INTEGER NOT NULL DEFAULT 0,
			schedule_data TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS override_codes (
			id TEXT PRIMARY KEY,
			classroom_id TEXT NOT NULL,
			override_code TEXT NOT NULL,
			reason TEXT,
			expires_at DATETIME NOT NULL,
			max_uses INTEGER NOT NULL DEFAULT 1,
			current_uses INTEGER NOT NULL DEFAULT 0,
			created_by TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(classroom_id, override_code)
		)`,

		// Every consumed use, kept for the teacher dashboard and audit
		// export. Rows are never updated.
		`CREATE TABLE IF NOT EXISTS override_usage (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			code_id TEXT NOT NULL,
			classroom_id TEXT NOT NULL,
			override_code TEXT NOT NULL,
			reason TEXT,
			student_id TEXT NOT NULL,
			used_at DATETIME NOT NULL,
			remaining_uses INTEGER NOT NULL,
			FOREIGN KEY (code_id) REFERENCES override_codes(id)
		)`,

		`CREATE TABLE IF NOT EXISTS attempt_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			classroom_id TEXT NOT NULL,
			student_id TEXT NOT NULL,
			test_attempt_id TEXT NOT NULL,
			event TEXT NOT NULL,
			detail TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_schedules_active ON classroom_schedules(is_active)`,

		`CREATE INDEX IF NOT EXISTS idx_override_codes_classroom ON override_codes(classroom_id)`,
		`CREATE INDEX IF NOT EXISTS idx_override_codes_expires ON override_codes(expires_at)`,

		`CREATE INDEX IF NOT EXISTS idx_override_usage_classroom ON override_usage(classroom_id, used_at)`,
		`CREATE INDEX IF NOT EXISTS idx_override_usage_code ON override_usage(code_id)`,

		`CREATE INDEX IF NOT EXISTS idx_attempt_events_classroom ON attempt_events(classroom_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_attempt_events_created ON attempt_events(created_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %v", query, err)
		}
	}
	return nil
}

// cachedSchedule returns the cached schedule for a classroom, if present.
func (db *DB) cachedSchedule(classroomID string) (*models.ClassroomTestSchedule, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	sched, ok := db.scheduleCache[classroomID]
	if !ok {
		return nil, false
	}
	cp := *sched
	return &cp, true
}

func (db *DB) storeCachedSchedule(sched *models.ClassroomTestSchedule) {
	db.mu.Lock()
	defer db.mu.Unlock()
	cp := *sched
	db.scheduleCache[sched.ClassroomID] = &cp
}

func (db *DB) invalidateSchedule(classroomID string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.scheduleCache, classroomID)
}

// GetDB returns the underlying sql.DB.
func (db *DB) GetDB() *sql.DB {
	return db.DB
}

func (db *DB) Close() error {
	return db.DB.Close()
}
