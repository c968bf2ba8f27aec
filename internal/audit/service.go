package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds configuration for the audit service.
type Config struct {
	// ExportDir is the directory monthly XLSX exports are written to.
	ExportDir string

	// DataRetentionDays is how many days to keep data before deletion.
	// Default: 90 days.
	DataRetentionDays int

	// ExportOnStart if true, runs export immediately on service start.
	ExportOnStart bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ExportDir:         "data/audit",
		DataRetentionDays: 90,
		ExportOnStart:     false,
	}
}

// TableExporter provides access to the audit tables.
type TableExporter interface {
	// GetTableNames returns the tables to include in the export.
	GetTableNames(ctx context.Context) ([]string, error)

	// GetTableData returns all rows and the column order for one table.
	GetTableData(ctx context.Context, tableName string) ([]map[string]interface{}, []string, error)
}

// DataCleaner deletes audit data past the retention period.
type DataCleaner interface {
	DeleteOldAttemptEvents(ctx context.Context, olderThan time.Duration) (int64, error)
	DeleteOldOverrideUsage(ctx context.Context, olderThan time.Duration) (int64, error)
	DeleteExpiredOverrideCodes(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Service handles monthly audit exports and data cleanup.
type Service struct {
	config   *Config
	exporter TableExporter
	writer   func() ExcelWriter // factory for creating new Excel writers
	cleaner  DataCleaner
	log      zerolog.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// NewService creates a new audit service.
func NewService(
	config *Config,
	exporter TableExporter,
	writerFactory func() ExcelWriter,
	cleaner DataCleaner,
	logger zerolog.Logger,
) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	if config.DataRetentionDays <= 0 {
		config.DataRetentionDays = 90
	}
	if config.ExportDir == "" {
		config.ExportDir = "data/audit"
	}

	return &Service{
		config:   config,
		exporter: exporter,
		writer:   writerFactory,
		cleaner:  cleaner,
		log:      logger.With().Str("component", "audit").Logger(),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the audit scheduler.
func (s *Service) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	if s.config.ExportOnStart {
		go s.RunExportAndCleanup()
	}

	s.wg.Add(1)
	go s.loop()

	s.log.Info().
		Int("retention_days", s.config.DataRetentionDays).
		Str("export_dir", s.config.ExportDir).
		Msg("Audit service started")
}

// Stop gracefully stops the audit service.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	s.log.Info().Msg("Audit service stopped")
}

func (s *Service) loop() {
	defer s.wg.Done()

	// Calculate time until next 1st of month at 00:01
	nextRun := s.nextFirstOfMonth()
	timer := time.NewTimer(time.Until(nextRun))
	defer timer.Stop()

	s.log.Info().Time("time", nextRun).Msg("Next audit scheduled")

	for {
		select {
		case <-s.stopCh:
			return
		case <-timer.C:
			s.RunExportAndCleanup()

			// Schedule next run
			nextRun = s.nextFirstOfMonth()
			timer.Reset(time.Until(nextRun))

			s.log.Info().Time("time", nextRun).Msg("Next audit scheduled")
		}
	}
}

func (s *Service) nextFirstOfMonth() time.Time {
	now := time.Now()
	// First day of next month at 00:01
	return time.Date(now.Year(), now.Month()+1, 1, 0, 1, 0, 0, now.Location())
}

// RunExportAndCleanup performs the export and cleanup immediately.
func (s *Service) RunExportAndCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	// Export data first
	if err := s.exportData(ctx); err != nil {
		s.log.Error().Err(err).Msg("Failed to export audit data")
	}

	// Then cleanup old data
	if err := s.cleanupOldData(ctx); err != nil {
		s.log.Error().Err(err).Msg("Failed to cleanup old data")
	}
}

func (s *Service) exportData(ctx context.Context) error {
	if s.exporter == nil || s.writer == nil {
		return fmt.Errorf("exporter or writer not configured")
	}

	tables, err := s.exporter.GetTableNames(ctx)
	if err != nil {
		return fmt.Errorf("get table names: %w", err)
	}

	if len(tables) == 0 {
		s.log.Info().Msg("No tables to export")
		return nil
	}

	excel := s.writer()
	if excel == nil {
		return fmt.Errorf("failed to create excel writer")
	}

	for _, tableName := range tables {
		data, columns, err := s.exporter.GetTableData(ctx, tableName)
		if err != nil {
			s.log.Error().Err(err).Str("table", tableName).Msg("Failed to get table data")
			continue
		}

		if err := excel.AddSheet(tableName); err != nil {
			s.log.Error().Err(err).Str("table", tableName).Msg("Failed to add sheet")
			continue
		}

		if err := excel.WriteHeader(columns); err != nil {
			s.log.Error().Err(err).Str("table", tableName).Msg("Failed to write header")
			continue
		}

		for _, row := range data {
			rowData := make([]interface{}, len(columns))
			for i, col := range columns {
				rowData[i] = row[col]
			}
			if err := excel.WriteRow(rowData); err != nil {
				s.log.Error().Err(err).Str("table", tableName).Msg("Failed to write row")
			}
		}

		s.log.Debug().Str("table", tableName).Int("rows", len(data)).Msg("Exported table")
	}

	if err := os.MkdirAll(s.config.ExportDir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}

	// The export runs on the 1st and covers the month that just ended.
	path := filepath.Join(s.config.ExportDir, ExportFilename(previousMonth(time.Now())))
	if err := excel.SaveToFile(path); err != nil {
		return fmt.Errorf("save excel: %w", err)
	}

	s.log.Info().Str("path", path).Int("tables", len(tables)).Msg("Audit report written")
	return nil
}

func (s *Service) cleanupOldData(ctx context.Context) error {
	if s.cleaner == nil {
		return nil
	}

	retention := time.Duration(s.config.DataRetentionDays) * 24 * time.Hour

	events, err := s.cleaner.DeleteOldAttemptEvents(ctx, retention)
	if err != nil {
		return fmt.Errorf("delete old attempt events: %w", err)
	}

	usage, err := s.cleaner.DeleteOldOverrideUsage(ctx, retention)
	if err != nil {
		return fmt.Errorf("delete old override usage: %w", err)
	}

	codes, err := s.cleaner.DeleteExpiredOverrideCodes(ctx, retention)
	if err != nil {
		return fmt.Errorf("delete expired override codes: %w", err)
	}

	s.log.Info().
		Int64("attempt_events", events).
		Int64("override_usage", usage).
		Int64("override_codes", codes).
		Int("retention_days", s.config.DataRetentionDays).
		Msg("Cleaned up old data")

	return nil
}

// ExportNow triggers an immediate export (useful for testing or manual runs).
func (s *Service) ExportNow() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	return s.exportData(ctx)
}

// CleanupNow triggers an immediate cleanup (useful for testing).
func (s *Service) CleanupNow() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	return s.cleanupOldData(ctx)
}

// previousMonth returns a time inside the month before the given one.
func previousMonth(t time.Time) time.Time {
	firstOfMonth := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return firstOfMonth.AddDate(0, 0, -1)
}
