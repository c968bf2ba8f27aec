package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"examgate/internal/classroom"
	"examgate/internal/config"
	"examgate/internal/database"
	"examgate/internal/engine"
	"examgate/internal/events"
	"examgate/internal/metrics"
)

const classroomsPrefix = "/api/v1/classrooms/"

// HTTPServer serves the scheduling API consumed by the assessment platform
// and the teacher-facing admin UI. Availability denials are ordinary 200
// responses; HTTP error codes are reserved for malformed requests and
// infrastructure failures.
type HTTPServer struct {
	engine    *engine.Engine
	db        *database.DB
	bus       *events.EventBus
	metrics   *metrics.Metrics
	directory *classroom.Client
	log       zerolog.Logger
	apiKey    string
	now       func() time.Time

	mu        sync.RWMutex
	templates *config.TemplateCatalog
}

// NewHTTPServer wires the API. bus, m and templates may be nil; an empty
// apiKey disables authentication (local development only).
func NewHTTPServer(
	eng *engine.Engine,
	db *database.DB,
	bus *events.EventBus,
	m *metrics.Metrics,
	templates *config.TemplateCatalog,
	apiKey string,
	logger zerolog.Logger,
) *HTTPServer {
	return &HTTPServer{
		engine:    eng,
		db:        db,
		bus:       bus,
		metrics:   m,
		log:       logger.With().Str("component", "api").Logger(),
		apiKey:    apiKey,
		now:       time.Now,
		templates: templates,
	}
}

// SetDirectory attaches the optional classroom directory client used to
// enrich dashboards with display names.
func (s *HTTPServer) SetDirectory(client *classroom.Client) {
	s.directory = client
}

// SetTemplates swaps in a reloaded template catalog.
func (s *HTTPServer) SetTemplates(catalog *config.TemplateCatalog) {
	if catalog == nil {
		return
	}
	s.mu.Lock()
	s.templates = catalog
	s.mu.Unlock()
}

func (s *HTTPServer) templateCatalog() *config.TemplateCatalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.templates
}

// Handler returns the API routing handler.
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(classroomsPrefix, s.requireKey(s.handleClassrooms))
	return mux
}

// requireKey rejects requests without the configured X-Api-Key header.
func (s *HTTPServer) requireKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && r.Header.Get("X-Api-Key") != s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next(w, r)
	}
}

// handleClassrooms dispatches /api/v1/classrooms/{classroom_id}/... routes.
func (s *HTTPServer) handleClassrooms(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, classroomsPrefix)
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) < 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	classroomID := parts[0]

	switch parts[1] {
	case "availability":
		if len(parts) == 2 {
			s.handleAvailability(w, r, classroomID)
			return
		}
	case "attempts":
		if len(parts) == 3 {
			switch parts[2] {
			case "start":
				s.handleStartAttempt(w, r, classroomID)
				return
			case "continue":
				s.handleContinueAttempt(w, r, classroomID)
				return
			case "end":
				s.handleEndAttempt(w, r, classroomID)
				return
			}
		}
	case "dashboard":
		if len(parts) == 2 {
			s.handleDashboard(w, r, classroomID)
			return
		}
	case "schedule":
		if len(parts) == 2 {
			s.handleSchedule(w, r, classroomID)
			return
		}
		if len(parts) == 3 && parts[2] == "active" {
			s.handleScheduleActive(w, r, classroomID)
			return
		}
	case "overrides":
		if len(parts) == 2 {
			s.handleOverrides(w, r, classroomID)
			return
		}
		if len(parts) == 3 && parts[2] == "validate" {
			s.handleValidateOverride(w, r, classroomID)
			return
		}
		if len(parts) == 4 && parts[3] == "revoke" {
			s.handleRevokeOverride(w, r, classroomID, parts[2])
			return
		}
	}

	writeError(w, http.StatusNotFound, "not found")
}

// countRequest records one API hit for an endpoint.
func (s *HTTPServer) countRequest(endpoint string) {
	if s.metrics != nil {
		s.metrics.IncHTTP(endpoint)
	}
}

// requestTime resolves the decision instant: an explicit RFC3339 `at` value
// when supplied, the server clock otherwise.
func (s *HTTPServer) requestTime(at string) (time.Time, error) {
	if at == "" {
		return s.now(), nil
	}
	return time.Parse(time.RFC3339, at)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are already sent; nothing left to do for this response.
		return
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
