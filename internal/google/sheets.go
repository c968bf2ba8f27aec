package google

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	googleauth "golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"examgate/internal/config"
	"examgate/internal/events"
	"examgate/internal/models"
	"examgate/internal/override"
)

var (
	overrideHeader = []interface{}{"Used At", "Classroom", "Code ID", "Reason", "Remaining Uses"}
	attemptHeader  = []interface{}{"Started At", "Classroom", "Student", "Attempt", "Mode", "Deadline", "Status"}
)

// SheetsService mirrors override usage and attempt lifecycle rows into a
// staff-facing Google Spreadsheet. Writes are best-effort and run off the
// request path; a Sheets outage never blocks a scheduling decision.
type SheetsService struct {
	service        *sheets.Service
	spreadsheetID  string
	overridesSheet string
	attemptsSheet  string
	log            zerolog.Logger

	cacheMu  sync.Mutex
	rowCache map[string]int // session key -> attempts sheet row
}

// NewSheetsService builds the Sheets mirror from service-account credentials.
// Returns (nil, nil) when the integration is disabled.
func NewSheetsService(ctx context.Context, cfg config.SheetsConfig, logger zerolog.Logger) (*SheetsService, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.SpreadsheetID == "" {
		return nil, fmt.Errorf("sheets: spreadsheet_id is required")
	}

	creds, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("sheets: read credentials: %w", err)
	}

	jwt, err := googleauth.JWTConfigFromJSON(creds, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("sheets: parse credentials: %w", err)
	}

	svc, err := sheets.NewService(ctx, option.WithHTTPClient(jwt.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("sheets: create service: %w", err)
	}

	overridesSheet := cfg.OverridesSheet
	if overridesSheet == "" {
		overridesSheet = "Overrides"
	}
	attemptsSheet := cfg.AttemptsSheet
	if attemptsSheet == "" {
		attemptsSheet = "Attempts"
	}

	return &SheetsService{
		service:        svc,
		spreadsheetID:  cfg.SpreadsheetID,
		overridesSheet: overridesSheet,
		attemptsSheet:  attemptsSheet,
		log:            logger.With().Str("component", "sheets").Logger(),
		rowCache:       make(map[string]int),
	}, nil
}

// EnsureSheets creates the override and attempt tabs with header rows when
// they are missing. Call once on startup.
func (s *SheetsService) EnsureSheets(ctx context.Context) error {
	if s == nil {
		return nil
	}

	spreadsheet, err := s.service.Spreadsheets.Get(s.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("sheets: get spreadsheet: %w", err)
	}

	existing := make(map[string]bool, len(spreadsheet.Sheets))
	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties != nil {
			existing[sheet.Properties.Title] = true
		}
	}

	var requests []*sheets.Request
	for _, title := range []string{s.overridesSheet, s.attemptsSheet} {
		if existing[title] {
			continue
		}
		requests = append(requests, &sheets.Request{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{Title: title},
			},
		})
	}

	if len(requests) > 0 {
		_, err = s.service.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
			Requests: requests,
		}).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("sheets: add sheets: %w", err)
		}
	}

	if err := s.writeHeaderIfEmpty(ctx, s.overridesSheet, overrideHeader); err != nil {
		return err
	}
	return s.writeHeaderIfEmpty(ctx, s.attemptsSheet, attemptHeader)
}

func (s *SheetsService) writeHeaderIfEmpty(ctx context.Context, sheetName string, header []interface{}) error {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, sheetName+"!1:1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("sheets: read header of %s: %w", sheetName, err)
	}
	if len(resp.Values) > 0 {
		return nil
	}

	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, sheetName+"!A1", &sheets.ValueRange{
		Values: [][]interface{}{header},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("sheets: write header of %s: %w", sheetName, err)
	}
	return nil
}

// Subscribe wires the mirror to the engine's event bus. Each handler copies
// the payload and returns immediately; the API call happens in a background
// goroutine with its own timeout.
func (s *SheetsService) Subscribe(bus *events.EventBus) {
	if s == nil || bus == nil {
		return
	}

	bus.Subscribe(events.TypeOverrideConsumed, func(ev events.Event) error {
		var grant override.Grant
		if err := json.Unmarshal(ev.Payload, &grant); err != nil {
			return err
		}
		s.async(func(ctx context.Context) {
			if err := s.AppendOverrideUsage(ctx, ev.ClassroomID, &grant); err != nil {
				s.log.Error().Err(err).Str("classroom_id", ev.ClassroomID).Msg("Failed to mirror override usage")
			}
		})
		return nil
	})

	bus.Subscribe(events.TypeAttemptStarted, func(ev events.Event) error {
		sess, err := decodeSession(ev.Payload)
		if err != nil {
			return err
		}
		s.async(func(ctx context.Context) {
			if err := s.AppendAttempt(ctx, sess); err != nil {
				s.log.Error().Err(err).Str("classroom_id", ev.ClassroomID).Msg("Failed to mirror attempt start")
			}
		})
		return nil
	})

	bus.Subscribe(events.TypeAttemptEnded, s.closeHandler("ended"))
	bus.Subscribe(events.TypeAttemptExpired, s.closeHandler("expired"))
}

func (s *SheetsService) closeHandler(status string) events.EventHandler {
	return func(ev events.Event) error {
		sess, err := decodeSession(ev.Payload)
		if err != nil {
			return err
		}
		s.async(func(ctx context.Context) {
			if err := s.CloseAttempt(ctx, sess, status); err != nil {
				s.log.Error().Err(err).Str("classroom_id", ev.ClassroomID).Msg("Failed to mirror attempt close")
			}
		})
		return nil
	}
}

func (s *SheetsService) async(fn func(ctx context.Context)) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		fn(ctx)
	}()
}

// AppendOverrideUsage adds one consumed-override row.
func (s *SheetsService) AppendOverrideUsage(ctx context.Context, classroomID string, grant *override.Grant) error {
	if s == nil {
		return nil
	}
	_, err := s.appendRow(ctx, s.overridesSheet, overrideRowValues(classroomID, grant))
	return err
}

// AppendAttempt adds a started-attempt row and remembers its row number so a
// later close can update the status cell in place.
func (s *SheetsService) AppendAttempt(ctx context.Context, sess *models.TestAttemptSession) error {
	if s == nil {
		return nil
	}
	row, err := s.appendRow(ctx, s.attemptsSheet, attemptRowValues(sess, "started"))
	if err != nil {
		return err
	}
	if row > 0 {
		s.setCachedRow(sess.Key().String(), row)
	}
	return nil
}

// CloseAttempt marks an attempt row as ended or expired. When the started row
// is not cached (restart, eviction) a full terminal row is appended instead.
func (s *SheetsService) CloseAttempt(ctx context.Context, sess *models.TestAttemptSession, status string) error {
	if s == nil {
		return nil
	}

	key := sess.Key().String()
	row, ok := s.getCachedRow(key)
	if !ok {
		_, err := s.appendRow(ctx, s.attemptsSheet, attemptRowValues(sess, status))
		return err
	}

	cell := fmt.Sprintf("%s!G%d", s.attemptsSheet, row)
	_, err := s.service.Spreadsheets.Values.Update(s.spreadsheetID, cell, &sheets.ValueRange{
		Values: [][]interface{}{{status}},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("sheets: update attempt status: %w", err)
	}

	s.deleteCacheRow(key)
	return nil
}

func (s *SheetsService) appendRow(ctx context.Context, sheetName string, values []interface{}) (int, error) {
	resp, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, sheetName+"!A:G", &sheets.ValueRange{
		Values: [][]interface{}{values},
	}).ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("sheets: append to %s: %w", sheetName, err)
	}

	if resp.Updates == nil {
		return 0, nil
	}
	return parseRowIndex(resp.Updates.UpdatedRange), nil
}

func (s *SheetsService) setCachedRow(key string, row int) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.rowCache == nil {
		s.rowCache = make(map[string]int)
	}
	s.rowCache[key] = row
}

func (s *SheetsService) getCachedRow(key string) (int, bool) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	row, ok := s.rowCache[key]
	return row, ok
}

func (s *SheetsService) deleteCacheRow(key string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	delete(s.rowCache, key)
}

// ClearCache drops all remembered row positions.
func (s *SheetsService) ClearCache() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache = make(map[string]int)
}

func decodeSession(payload []byte) (*models.TestAttemptSession, error) {
	var sess models.TestAttemptSession
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// overrideRowValues builds one spreadsheet row for a consumed override.
func overrideRowValues(classroomID string, grant *override.Grant) []interface{} {
	return []interface{}{
		grant.GrantedAt.Format("2006-01-02 15:04:05"),
		classroomID,
		grant.CodeID,
		grant.Reason,
		grant.RemainingUses,
	}
}

// attemptRowValues builds one spreadsheet row for an attempt session.
func attemptRowValues(sess *models.TestAttemptSession, status string) []interface{} {
	mode := "window " + sess.WindowID
	if sess.OverrideStarted {
		mode = "override"
	}

	deadline := ""
	if !sess.Deadline.IsZero() {
		deadline = sess.Deadline.Format("2006-01-02 15:04:05")
	}

	return []interface{}{
		sess.StartedAt.Format("2006-01-02 15:04:05"),
		sess.ClassroomID,
		sess.StudentID,
		sess.TestAttemptID,
		mode,
		deadline,
		status,
	}
}

// parseRowIndex extracts the row number from an A1 range like
// "Attempts!A12:G12". Returns 0 when the range is not parseable.
func parseRowIndex(a1Range string) int {
	if idx := strings.IndexByte(a1Range, '!'); idx >= 0 {
		a1Range = a1Range[idx+1:]
	}
	if idx := strings.IndexByte(a1Range, ':'); idx >= 0 {
		a1Range = a1Range[:idx]
	}

	digits := strings.TrimLeft(a1Range, "ABCDEFGHIJKLMNOPQRSTUVWXYZ$")
	row, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return row
}
