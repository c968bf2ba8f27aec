package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"examgate/internal/events"
	"examgate/internal/models"
	"examgate/internal/override"
)

// PutScheduleRequest replaces a classroom's schedule wholesale. Windows may
// be spelled out directly, referenced from the template catalog by id, or
// both; template ids are recorded on the stored schedule as provenance.
type PutScheduleRequest struct {
	Timezone           string                  `json:"timezone"`
	GracePeriodMinutes int                     `json:"grace_period_minutes"`
	IsActive           *bool                   `json:"is_active,omitempty"`
	Windows            []models.ScheduleWindow `json:"windows,omitempty"`
	Settings           models.ScheduleSettings `json:"settings"`
	TemplateIDs        []string                `json:"template_ids,omitempty"`
}

// CreateOverrideRequest mints a new override code. When Code is empty the
// server generates one from the unambiguous alphabet.
type CreateOverrideRequest struct {
	Code             string `json:"code,omitempty"`
	Reason           string `json:"reason,omitempty"`
	MaxUses          int    `json:"max_uses,omitempty"`
	ExpiresAt        string `json:"expires_at,omitempty"` // RFC3339
	ExpiresInMinutes int    `json:"expires_in_minutes,omitempty"`
	CreatedBy        string `json:"created_by,omitempty"`
}

// handleSchedule reads or replaces the classroom schedule.
// GET|PUT /api/v1/classrooms/{classroom_id}/schedule
func (s *HTTPServer) handleSchedule(w http.ResponseWriter, r *http.Request, classroomID string) {
	switch r.Method {
	case http.MethodGet:
		s.handleGetSchedule(w, r, classroomID)
	case http.MethodPut:
		s.handlePutSchedule(w, r, classroomID)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use GET or PUT")
	}
}

func (s *HTTPServer) handleGetSchedule(w http.ResponseWriter, r *http.Request, classroomID string) {
	s.countRequest("schedule_get")

	sched, err := s.db.GetSchedule(r.Context(), classroomID)
	if err != nil {
		if errors.Is(err, models.ErrScheduleNotFound) {
			writeError(w, http.StatusNotFound, "no schedule configured for this classroom")
			return
		}
		s.writeEngineError(w, "get schedule failed", err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

func (s *HTTPServer) handlePutSchedule(w http.ResponseWriter, r *http.Request, classroomID string) {
	s.countRequest("schedule_put")

	var req PutScheduleRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	windows, err := s.expandWindows(req.Windows, req.TemplateIDs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Deactivation has its own endpoint; a replaced schedule stays in the
	// activation state it had, and a brand-new one starts active.
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	} else if existing, err := s.db.GetSchedule(r.Context(), classroomID); err == nil {
		active = existing.IsActive
	}

	sched := &models.ClassroomTestSchedule{
		ClassroomID:        classroomID,
		IsActive:           active,
		Timezone:           req.Timezone,
		GracePeriodMinutes: req.GracePeriodMinutes,
		ScheduleData: models.ScheduleData{
			Windows:     windows,
			Settings:    req.Settings,
			TemplateIDs: req.TemplateIDs,
		},
	}

	if err := s.db.SaveSchedule(r.Context(), sched); err != nil {
		if errors.Is(err, models.ErrInvalidScheduleData) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeEngineError(w, "save schedule failed", err)
		return
	}

	s.publishScheduleUpdated(classroomID)
	s.log.Info().
		Str("classroom_id", classroomID).
		Int("windows", len(windows)).
		Bool("is_active", active).
		Msg("schedule replaced")

	saved, err := s.db.GetSchedule(r.Context(), classroomID)
	if err != nil {
		s.writeEngineError(w, "reload schedule failed", err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// expandWindows merges explicit windows with template references, assigning
// ids to windows that arrive without one.
func (s *HTTPServer) expandWindows(explicit []models.ScheduleWindow, templateIDs []string) ([]models.ScheduleWindow, error) {
	windows := make([]models.ScheduleWindow, 0, len(explicit)+len(templateIDs))
	seen := make(map[string]bool)

	for _, win := range explicit {
		if win.ID == "" {
			win.ID = uuid.New().String()
		}
		if seen[win.ID] {
			return nil, fmt.Errorf("duplicate window id '%s'", win.ID)
		}
		seen[win.ID] = true
		windows = append(windows, win)
	}

	if len(templateIDs) == 0 {
		return windows, nil
	}

	catalog := s.templateCatalog()
	if catalog == nil {
		return nil, fmt.Errorf("template catalog is not configured")
	}
	for _, id := range templateIDs {
		tpl, ok := catalog.Lookup(id)
		if !ok {
			return nil, fmt.Errorf("unknown template id '%s'", id)
		}
		win := tpl.Window()
		if seen[win.ID] {
			return nil, fmt.Errorf("duplicate window id '%s'", win.ID)
		}
		seen[win.ID] = true
		windows = append(windows, win)
	}
	return windows, nil
}

// handleScheduleActive flips the scheduling kill switch.
// POST /api/v1/classrooms/{classroom_id}/schedule/active
func (s *HTTPServer) handleScheduleActive(w http.ResponseWriter, r *http.Request, classroomID string) {
	s.countRequest("schedule_active")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	var req struct {
		Active *bool `json:"active"`
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil || req.Active == nil {
		writeError(w, http.StatusBadRequest, "active is required")
		return
	}

	if err := s.db.SetScheduleActive(r.Context(), classroomID, *req.Active); err != nil {
		if errors.Is(err, models.ErrScheduleNotFound) {
			writeError(w, http.StatusNotFound, "no schedule configured for this classroom")
			return
		}
		s.writeEngineError(w, "set schedule active failed", err)
		return
	}

	s.publishScheduleUpdated(classroomID)
	s.log.Info().
		Str("classroom_id", classroomID).
		Bool("is_active", *req.Active).
		Msg("schedule activation changed")

	writeJSON(w, http.StatusOK, map[string]any{
		"classroom_id": classroomID,
		"is_active":    *req.Active,
	})
}

// handleOverrides lists or creates override codes.
// GET|POST /api/v1/classrooms/{classroom_id}/overrides
func (s *HTTPServer) handleOverrides(w http.ResponseWriter, r *http.Request, classroomID string) {
	switch r.Method {
	case http.MethodGet:
		s.handleListOverrides(w, r, classroomID)
	case http.MethodPost:
		s.handleCreateOverride(w, r, classroomID)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use GET or POST")
	}
}

func (s *HTTPServer) handleListOverrides(w http.ResponseWriter, r *http.Request, classroomID string) {
	s.countRequest("override_list")

	codes, err := s.db.ListOverrideCodes(r.Context(), classroomID)
	if err != nil {
		s.writeEngineError(w, "list override codes failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"codes": codes})
}

func (s *HTTPServer) handleCreateOverride(w http.ResponseWriter, r *http.Request, classroomID string) {
	s.countRequest("override_create")

	var req CreateOverrideRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	expiresAt, err := s.resolveExpiry(req.ExpiresAt, req.ExpiresInMinutes)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	code := strings.TrimSpace(req.Code)
	if code == "" {
		code, err = override.GenerateCode(0)
		if err != nil {
			s.writeEngineError(w, "generate override code failed", err)
			return
		}
	}

	maxUses := req.MaxUses
	if maxUses <= 0 {
		maxUses = 1
	}

	record := &models.OverrideCode{
		ClassroomID:  classroomID,
		OverrideCode: code,
		Reason:       req.Reason,
		ExpiresAt:    expiresAt,
		MaxUses:      maxUses,
		CreatedBy:    req.CreatedBy,
	}
	if err := s.db.CreateOverrideCode(r.Context(), record); err != nil {
		if errors.Is(err, models.ErrOverrideCodeExists) {
			writeError(w, http.StatusConflict, "override code already exists for this classroom")
			return
		}
		s.writeEngineError(w, "create override code failed", err)
		return
	}

	s.log.Info().
		Str("classroom_id", classroomID).
		Str("code_id", record.ID).
		Int("max_uses", maxUses).
		Time("expires_at", expiresAt).
		Msg("override code created")

	writeJSON(w, http.StatusCreated, record)
}

// resolveExpiry turns the request's expiry fields into an absolute instant.
// Exactly one of expires_at and expires_in_minutes must be supplied.
func (s *HTTPServer) resolveExpiry(expiresAt string, expiresInMinutes int) (time.Time, error) {
	switch {
	case expiresAt != "" && expiresInMinutes > 0:
		return time.Time{}, fmt.Errorf("supply expires_at or expires_in_minutes, not both")
	case expiresAt != "":
		at, err := time.Parse(time.RFC3339, expiresAt)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid expires_at; expected RFC3339")
		}
		if !at.After(s.now()) {
			return time.Time{}, fmt.Errorf("expires_at must be in the future")
		}
		return at, nil
	case expiresInMinutes > 0:
		return s.now().Add(time.Duration(expiresInMinutes) * time.Minute), nil
	}
	return time.Time{}, fmt.Errorf("expires_at or expires_in_minutes is required")
}

// handleRevokeOverride expires a code immediately. Spent uses stay recorded.
// POST /api/v1/classrooms/{classroom_id}/overrides/{code_id}/revoke
func (s *HTTPServer) handleRevokeOverride(w http.ResponseWriter, r *http.Request, classroomID, codeID string) {
	s.countRequest("override_revoke")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	if err := s.db.RevokeOverrideCode(r.Context(), classroomID, codeID, s.now()); err != nil {
		if errors.Is(err, models.ErrOverrideNotFound) {
			writeError(w, http.StatusNotFound, "override code not found")
			return
		}
		s.writeEngineError(w, "revoke override code failed", err)
		return
	}

	s.log.Info().
		Str("classroom_id", classroomID).
		Str("code_id", codeID).
		Msg("override code revoked")

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// publishScheduleUpdated notifies subscribers that a classroom's schedule
// changed so caches and exports can refresh.
func (s *HTTPServer) publishScheduleUpdated(classroomID string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{
		Type:        events.TypeScheduleUpdated,
		ClassroomID: classroomID,
		CreatedAt:   s.now(),
	})
}
