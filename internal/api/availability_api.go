package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"examgate/internal/engine"
	"examgate/internal/models"
)

// AttemptRequest is the request body for the attempt lifecycle endpoints.
type AttemptRequest struct {
	StudentID     string `json:"student_id"`
	TestAttemptID string `json:"test_attempt_id"`
	OverrideCode  string `json:"override_code,omitempty"`
	At            string `json:"at,omitempty"` // RFC3339; defaults to the server clock
}

// ValidateOverrideRequest is the request body for the dry-run endpoint.
type ValidateOverrideRequest struct {
	Code string `json:"code"`
	At   string `json:"at,omitempty"`
}

// handleAvailability answers "may this student start right now?".
// GET /api/v1/classrooms/{classroom_id}/availability?student_id=&at=
func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request, classroomID string) {
	s.countRequest("availability")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use GET")
		return
	}

	studentID := r.URL.Query().Get("student_id")
	if studentID == "" {
		writeError(w, http.StatusBadRequest, "student_id is required")
		return
	}

	now, err := s.requestTime(r.URL.Query().Get("at"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid at value; expected RFC3339")
		return
	}

	status, err := s.engine.Availability(r.Context(), classroomID, studentID, now)
	if err != nil {
		s.writeEngineError(w, "availability check failed", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleStartAttempt admits or refuses one test start.
// POST /api/v1/classrooms/{classroom_id}/attempts/start
func (s *HTTPServer) handleStartAttempt(w http.ResponseWriter, r *http.Request, classroomID string) {
	s.countRequest("attempt_start")
	req, ok := s.decodeAttempt(w, r)
	if !ok {
		return
	}

	now, err := s.requestTime(req.At)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid at value; expected RFC3339")
		return
	}

	status, err := s.engine.Start(r.Context(), engine.StartRequest{
		ClassroomID:   classroomID,
		StudentID:     req.StudentID,
		TestAttemptID: req.TestAttemptID,
		OverrideCode:  req.OverrideCode,
		Now:           now,
	})
	if err != nil {
		s.writeEngineError(w, "start check failed", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleContinueAttempt answers "may this attempt keep going?".
// POST /api/v1/classrooms/{classroom_id}/attempts/continue
func (s *HTTPServer) handleContinueAttempt(w http.ResponseWriter, r *http.Request, classroomID string) {
	s.countRequest("attempt_continue")
	req, ok := s.decodeAttempt(w, r)
	if !ok {
		return
	}

	now, err := s.requestTime(req.At)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid at value; expected RFC3339")
		return
	}

	status, err := s.engine.Continue(r.Context(), engine.ContinueRequest{
		ClassroomID:   classroomID,
		StudentID:     req.StudentID,
		TestAttemptID: req.TestAttemptID,
		Now:           now,
	})
	if err != nil {
		s.writeEngineError(w, "continue check failed", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleEndAttempt removes a live attempt. Ending an attempt that is not
// registered is a success; the platform retries deliveries.
// POST /api/v1/classrooms/{classroom_id}/attempts/end
func (s *HTTPServer) handleEndAttempt(w http.ResponseWriter, r *http.Request, classroomID string) {
	s.countRequest("attempt_end")
	req, ok := s.decodeAttempt(w, r)
	if !ok {
		return
	}

	err := s.engine.End(r.Context(), models.SessionKey{
		ClassroomID:   classroomID,
		StudentID:     req.StudentID,
		TestAttemptID: req.TestAttemptID,
	})
	if err != nil {
		s.writeEngineError(w, "end attempt failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleValidateOverride dry-runs an override code without consuming a use.
// POST /api/v1/classrooms/{classroom_id}/overrides/validate
func (s *HTTPServer) handleValidateOverride(w http.ResponseWriter, r *http.Request, classroomID string) {
	s.countRequest("override_validate")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	var req ValidateOverrideRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	now, err := s.requestTime(req.At)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid at value; expected RFC3339")
		return
	}

	resp, err := s.engine.ValidateOverride(r.Context(), classroomID, req.Code, now)
	if err != nil {
		s.writeEngineError(w, "override validation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDashboard returns the teacher monitoring view.
// GET /api/v1/classrooms/{classroom_id}/dashboard?at=
func (s *HTTPServer) handleDashboard(w http.ResponseWriter, r *http.Request, classroomID string) {
	s.countRequest("dashboard")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use GET")
		return
	}

	now, err := s.requestTime(r.URL.Query().Get("at"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid at value; expected RFC3339")
		return
	}

	dash, err := s.engine.Dashboard(r.Context(), classroomID, now)
	if err != nil {
		if errors.Is(err, models.ErrScheduleNotFound) {
			writeError(w, http.StatusNotFound, "no schedule configured for this classroom")
			return
		}
		s.writeEngineError(w, "dashboard failed", err)
		return
	}

	resp := dashboardResponse{Dashboard: dash}
	if s.directory != nil {
		// Display names are decoration; a directory outage never fails the
		// dashboard.
		if room, err := s.directory.GetClassroom(r.Context(), classroomID); err == nil {
			resp.ClassroomName = room.Name
			resp.TeacherName = room.TeacherName
		} else {
			s.log.Debug().Err(err).Str("classroom_id", classroomID).Msg("Classroom directory lookup failed")
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// dashboardResponse decorates the engine view with directory display names.
type dashboardResponse struct {
	*engine.Dashboard
	ClassroomName string `json:"classroom_name,omitempty"`
	TeacherName   string `json:"teacher_name,omitempty"`
}

// decodeAttempt parses and validates the shared attempt request body.
func (s *HTTPServer) decodeAttempt(w http.ResponseWriter, r *http.Request) (AttemptRequest, bool) {
	var req AttemptRequest
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return req, false
	}

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return req, false
	}
	if req.StudentID == "" {
		writeError(w, http.StatusBadRequest, "student_id is required")
		return req, false
	}
	if req.TestAttemptID == "" {
		writeError(w, http.StatusBadRequest, "test_attempt_id is required")
		return req, false
	}
	return req, true
}

// writeEngineError maps infrastructure failures to HTTP codes. Denials never
// reach this path; they are ordinary allowed=false responses.
func (s *HTTPServer) writeEngineError(w http.ResponseWriter, msg string, err error) {
	if models.IsStorageUnavailable(err) {
		s.log.Error().Err(err).Msg(msg)
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	s.log.Error().Err(err).Msg(msg)
	writeError(w, http.StatusInternalServerError, "internal error")
}
