package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"examgate/internal/events"
	"examgate/internal/metrics"
	"examgate/internal/models"
	"examgate/internal/override"
	"examgate/internal/schedule"
	"examgate/internal/session"
)

// ScheduleStore reads classroom schedules.
type ScheduleStore interface {
	GetSchedule(ctx context.Context, classroomID string) (*models.ClassroomTestSchedule, error)
}

// OverrideValidator grants emergency override uses.
type OverrideValidator interface {
	ValidateAndConsume(ctx context.Context, sched *models.ClassroomTestSchedule, studentID, code string, now time.Time) (*override.Grant, error)
	Validate(ctx context.Context, sched *models.ClassroomTestSchedule, code string, now time.Time) (*override.Grant, error)
}

// AuditStore records attempt lifecycle events and serves recent usage.
type AuditStore interface {
	RecordAttemptEvent(ctx context.Context, event *models.AttemptEvent) error
	RecentOverrideUsage(ctx context.Context, classroomID string, limit int) ([]models.OverrideUsage, error)
}

// Engine answers "may this student start or continue a test right now".
// Every caller supplies the decision instant; the engine never reads the
// system clock, which keeps window math reproducible in tests.
type Engine struct {
	schedules ScheduleStore
	overrides OverrideValidator
	registry  *session.Registry
	audit     AuditStore
	bus       *events.EventBus
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// New wires the decision engine. bus and m may be nil.
func New(
	schedules ScheduleStore,
	overrides OverrideValidator,
	registry *session.Registry,
	audit AuditStore,
	bus *events.EventBus,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		schedules: schedules,
		overrides: overrides,
		registry:  registry,
		audit:     audit,
		bus:       bus,
		metrics:   m,
		logger:    logger.With().Str("component", "engine").Logger(),
	}
}

// StartRequest asks to admit one test attempt at a given instant.
type StartRequest struct {
	ClassroomID   string
	StudentID     string
	TestAttemptID string
	Now           time.Time
	OverrideCode  string
}

// Key returns the session key the attempt would register under.
func (r StartRequest) Key() models.SessionKey {
	return models.SessionKey{
		ClassroomID:   r.ClassroomID,
		StudentID:     r.StudentID,
		TestAttemptID: r.TestAttemptID,
	}
}

// Availability reports whether a student could start a test at now,
// without admitting anything. A live attempt of the same student is
// surfaced so the caller can offer "continue" instead of "start".
func (e *Engine) Availability(ctx context.Context, classroomID, studentID string, now time.Time) (*models.TestAvailabilityStatus, error) {
	defer e.observe(time.Now())

	sched, status, err := e.loadSchedule(ctx, classroomID)
	if err != nil {
		return nil, err
	}
	if status == nil {
		status, err = e.admissionStatus(sched, now)
		if err != nil {
			return nil, err
		}
	}

	if active, ok := e.registry.ActiveForStudent(classroomID, studentID); ok {
		status.ActiveAttemptID = active.TestAttemptID
	}

	e.count("availability", status)
	return status, nil
}

// Start admits a test attempt. Outside a window a supplied override code is
// validated and consumed; a consumed use is never refunded, even if the
// subsequent registration loses a race.
func (e *Engine) Start(ctx context.Context, req StartRequest) (*models.TestAvailabilityStatus, error) {
	defer e.observe(time.Now())

	sched, denied, err := e.loadSchedule(ctx, req.ClassroomID)
	if err != nil {
		return nil, err
	}
	if denied != nil {
		e.count("start", denied)
		return denied, nil
	}

	// Look for a live attempt before touching the override code so a
	// scarce use is not burnt on a request that cannot be admitted.
	if active, ok := e.registry.ActiveForStudent(req.ClassroomID, req.StudentID); ok {
		if active.TestAttemptID == req.TestAttemptID {
			status := resumedStatus(active, sched)
			e.count("start", status)
			return status, nil
		}
		status := denialStatus(models.ErrAlreadyActive, sched.IsActive)
		status.ActiveAttemptID = active.TestAttemptID
		e.count("start", status)
		return status, nil
	}

	result, err := schedule.Evaluate(sched, req.Now, schedule.ModeAdmission)
	if err != nil {
		return nil, err
	}

	if result.Kind == schedule.KindInside {
		status, err := e.startInWindow(ctx, req, sched, result)
		if err != nil {
			return nil, err
		}
		e.count("start", status)
		return status, nil
	}

	if req.OverrideCode != "" {
		status, err := e.startWithOverride(ctx, req, sched)
		if err != nil {
			return nil, err
		}
		e.count("start", status)
		return status, nil
	}

	status := e.outsideStatus(sched, result, req.Now)
	e.count("start", status)
	return status, nil
}

func (e *Engine) startInWindow(ctx context.Context, req StartRequest, sched *models.ClassroomTestSchedule, result *schedule.Result) (*models.TestAvailabilityStatus, error) {
	info := session.StartInfo{
		StartedAt:    req.Now,
		WindowEnd:    result.EffectiveEnd,
		GraceMinutes: sched.GracePeriodMinutes,
	}
	if result.Window != nil {
		info.WindowID = result.Window.ID
	}

	sess, err := e.registry.RegisterStart(ctx, req.Key(), info)
	if err != nil {
		if errors.Is(err, models.ErrAlreadyActive) {
			status := denialStatus(models.ErrAlreadyActive, true)
			if sess != nil {
				status.ActiveAttemptID = sess.TestAttemptID
			}
			return status, nil
		}
		return nil, err
	}

	e.recordEvent(ctx, &models.AttemptEvent{
		ClassroomID:   req.ClassroomID,
		StudentID:     req.StudentID,
		TestAttemptID: req.TestAttemptID,
		Event:         models.AttemptEventStarted,
		Detail:        fmt.Sprintf("window %s", info.WindowID),
		CreatedAt:     req.Now,
	})
	e.publish(events.TypeAttemptStarted, req.ClassroomID, sess)

	status := &models.TestAvailabilityStatus{
		Allowed:        true,
		ScheduleActive: true,
		Reason:         models.ReasonInsideWindow,
		Message:        "test attempt started",
	}
	end := result.EffectiveEnd
	status.CurrentWindowEnd = &end
	return status, nil
}

func (e *Engine) startWithOverride(ctx context.Context, req StartRequest, sched *models.ClassroomTestSchedule) (*models.TestAvailabilityStatus, error) {
	grant, err := e.overrides.ValidateAndConsume(ctx, sched, req.StudentID, req.OverrideCode, req.Now)
	if err != nil {
		if models.IsDenial(err) {
			status := denialStatus(err, sched.IsActive)
			if e.metrics != nil {
				e.metrics.IncOverrideRejected(status.Reason)
			}
			return status, nil
		}
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.IncOverrideConsumed()
	}

	sess, err := e.registry.RegisterStart(ctx, req.Key(), session.StartInfo{
		StartedAt: req.Now,
		Override:  true,
	})
	if err != nil {
		if errors.Is(err, models.ErrAlreadyActive) {
			// The consumed use stays spent; scarcity wins over comfort.
			e.logger.Warn().
				Str("classroom_id", req.ClassroomID).
				Str("student_id", req.StudentID).
				Str("code_id", grant.CodeID).
				Msg("Override use consumed but another attempt is already active")
			status := denialStatus(models.ErrAlreadyActive, sched.IsActive)
			if sess != nil {
				status.ActiveAttemptID = sess.TestAttemptID
			}
			return status, nil
		}
		return nil, err
	}

	e.recordEvent(ctx, &models.AttemptEvent{
		ClassroomID:   req.ClassroomID,
		StudentID:     req.StudentID,
		TestAttemptID: req.TestAttemptID,
		Event:         models.AttemptEventStarted,
		Detail:        fmt.Sprintf("override %s", grant.CodeID),
		CreatedAt:     req.Now,
	})
	e.publish(events.TypeOverrideConsumed, req.ClassroomID, grant)
	e.publish(events.TypeAttemptStarted, req.ClassroomID, sess)

	return &models.TestAvailabilityStatus{
		Allowed:        true,
		ScheduleActive: sched.IsActive,
		Reason:         models.ReasonOverrideGranted,
		Message:        "override granted",
		RemainingUses:  grant.RemainingUses,
	}, nil
}

// ContinueRequest asks whether a running attempt may keep going.
type ContinueRequest struct {
	ClassroomID   string
	StudentID     string
	TestAttemptID string
	Now           time.Time
}

// Continue decides whether an attempt may keep submitting answers. The
// attempt survives past its window end until grace runs out; a schedule
// made more generous since the start is honored, a schedule made stricter
// is not (the deadline recorded at admission still applies).
func (e *Engine) Continue(ctx context.Context, req ContinueRequest) (*models.TestAvailabilityStatus, error) {
	defer e.observe(time.Now())

	sched, denied, err := e.loadSchedule(ctx, req.ClassroomID)
	if err != nil {
		return nil, err
	}
	if denied != nil {
		e.count("continue", denied)
		return denied, nil
	}

	key := models.SessionKey{
		ClassroomID:   req.ClassroomID,
		StudentID:     req.StudentID,
		TestAttemptID: req.TestAttemptID,
	}
	sess, cerr := e.registry.ContinueCheck(key, req.Now)
	if cerr != nil && !errors.Is(cerr, models.ErrGraceExpired) {
		status := denialStatus(cerr, sched.IsActive)
		e.count("continue", status)
		return status, nil
	}

	status := e.continueStatus(sched, sess, cerr, req.Now)

	if !status.Allowed && status.Reason == models.ReasonGraceExpired {
		e.registry.End(ctx, key)
		e.recordEvent(ctx, &models.AttemptEvent{
			ClassroomID:   req.ClassroomID,
			StudentID:     req.StudentID,
			TestAttemptID: req.TestAttemptID,
			Event:         models.AttemptEventExpired,
			Detail:        "grace period ended",
			CreatedAt:     req.Now,
		})
		e.publish(events.TypeAttemptExpired, req.ClassroomID, sess)
	}

	e.count("continue", status)
	return status, nil
}

// continueStatus applies the continuation union: override session, live
// window or grace, or the deadline recorded at admission.
func (e *Engine) continueStatus(sched *models.ClassroomTestSchedule, sess *models.TestAttemptSession, cerr error, now time.Time) *models.TestAvailabilityStatus {
	if sess.OverrideStarted {
		return &models.TestAvailabilityStatus{
			Allowed:         true,
			ScheduleActive:  sched.IsActive,
			Reason:          models.ReasonContinueAllowed,
			Message:         "override session active",
			ActiveAttemptID: sess.TestAttemptID,
		}
	}

	result, err := schedule.Evaluate(sched, now, schedule.ModeContinuation)
	if err == nil {
		switch result.Kind {
		case schedule.KindInside:
			end := result.EffectiveEnd
			return &models.TestAvailabilityStatus{
				Allowed:          true,
				ScheduleActive:   sched.IsActive,
				Reason:           models.ReasonContinueAllowed,
				Message:          "inside testing window",
				CurrentWindowEnd: &end,
				ActiveAttemptID:  sess.TestAttemptID,
			}
		case schedule.KindGrace:
			graceEnd := result.GraceEnd
			return &models.TestAvailabilityStatus{
				Allowed:          true,
				ScheduleActive:   sched.IsActive,
				Reason:           models.ReasonGraceActive,
				Message:          fmt.Sprintf("grace period active until %s", graceEnd.Format("15:04")),
				CurrentWindowEnd: &graceEnd,
				ActiveAttemptID:  sess.TestAttemptID,
			}
		}
	}

	if cerr == nil {
		deadline := sess.Deadline
		return &models.TestAvailabilityStatus{
			Allowed:          true,
			ScheduleActive:   sched.IsActive,
			Reason:           models.ReasonContinueAllowed,
			Message:          "within recorded attempt deadline",
			CurrentWindowEnd: &deadline,
			ActiveAttemptID:  sess.TestAttemptID,
		}
	}

	status := denialStatus(models.ErrGraceExpired, sched.IsActive)
	status.ActiveAttemptID = sess.TestAttemptID
	return status
}

// End removes an attempt from the registry. Ending an attempt that is not
// registered is a no-op.
func (e *Engine) End(ctx context.Context, key models.SessionKey) error {
	ended := e.registry.End(ctx, key)
	if ended == nil {
		return nil
	}

	e.recordEvent(ctx, &models.AttemptEvent{
		ClassroomID:   key.ClassroomID,
		StudentID:     key.StudentID,
		TestAttemptID: key.TestAttemptID,
		Event:         models.AttemptEventEnded,
	})
	e.publish(events.TypeAttemptEnded, key.ClassroomID, ended)
	return nil
}

// ValidateOverrideResponse answers a teacher's pre-flight code check.
type ValidateOverrideResponse struct {
	Valid         bool       `json:"valid"`
	Reason        string     `json:"reason"`
	Message       string     `json:"message"`
	RemainingUses int        `json:"remaining_uses,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// ValidateOverride dry-runs a code without consuming a use.
func (e *Engine) ValidateOverride(ctx context.Context, classroomID, code string, now time.Time) (*ValidateOverrideResponse, error) {
	sched, denied, err := e.loadSchedule(ctx, classroomID)
	if err != nil {
		return nil, err
	}
	if denied != nil {
		return &ValidateOverrideResponse{Valid: false, Reason: denied.Reason, Message: denied.Message}, nil
	}

	grant, err := e.overrides.Validate(ctx, sched, code, now)
	if err != nil {
		if models.IsDenial(err) {
			reason, message := reasonForError(err)
			if e.metrics != nil {
				e.metrics.IncOverrideRejected(reason)
			}
			return &ValidateOverrideResponse{Valid: false, Reason: reason, Message: message}, nil
		}
		return nil, err
	}

	expires := grant.ExpiresAt
	return &ValidateOverrideResponse{
		Valid:         true,
		Reason:        "valid",
		Message:       "override code valid",
		RemainingUses: grant.RemainingUses,
		ExpiresAt:     &expires,
	}, nil
}

// Sweep expires sessions past their continue deadline and records audit
// events for them. Intended to run on a ticker.
func (e *Engine) Sweep(ctx context.Context, now time.Time) int {
	expired := e.registry.Sweep(ctx, now)
	for _, sess := range expired {
		e.recordEvent(ctx, &models.AttemptEvent{
			ClassroomID:   sess.ClassroomID,
			StudentID:     sess.StudentID,
			TestAttemptID: sess.TestAttemptID,
			Event:         models.AttemptEventExpired,
			Detail:        "removed by sweep",
			CreatedAt:     now,
		})
		e.publish(events.TypeAttemptExpired, sess.ClassroomID, sess)
	}
	if len(expired) > 0 && e.metrics != nil {
		e.metrics.IncSessionsExpired(len(expired))
	}
	return len(expired)
}

// loadSchedule fetches a classroom schedule and pre-computes the denial for
// missing or deactivated schedules. Storage failures propagate as errors.
func (e *Engine) loadSchedule(ctx context.Context, classroomID string) (*models.ClassroomTestSchedule, *models.TestAvailabilityStatus, error) {
	sched, err := e.schedules.GetSchedule(ctx, classroomID)
	if err != nil {
		if errors.Is(err, models.ErrScheduleNotFound) {
			return nil, denialStatus(models.ErrScheduleNotFound, false), nil
		}
		return nil, nil, err
	}
	if !sched.IsActive {
		return sched, denialStatus(models.ErrScheduleInactive, false), nil
	}
	return sched, nil, nil
}

// admissionStatus classifies now for a would-be start without registering.
func (e *Engine) admissionStatus(sched *models.ClassroomTestSchedule, now time.Time) (*models.TestAvailabilityStatus, error) {
	result, err := schedule.Evaluate(sched, now, schedule.ModeAdmission)
	if err != nil {
		return nil, err
	}

	if result.Kind == schedule.KindInside {
		end := result.EffectiveEnd
		return &models.TestAvailabilityStatus{
			Allowed:          true,
			ScheduleActive:   true,
			Reason:           models.ReasonInsideWindow,
			Message:          "inside testing window",
			CurrentWindowEnd: &end,
		}, nil
	}
	return e.outsideStatus(sched, result, now), nil
}

// outsideStatus builds the denial for an instant outside every window,
// distinguishing "no window right now" from "no windows at all".
func (e *Engine) outsideStatus(sched *models.ClassroomTestSchedule, result *schedule.Result, now time.Time) *models.TestAvailabilityStatus {
	if result.EligibleWindows == 0 {
		return denialStatus(models.ErrNoWindowConfigured, sched.IsActive)
	}

	status := denialStatus(models.ErrOutsideWindow, sched.IsActive)
	if result.HasNext {
		next := result.NextStart
		nextEnd := result.NextEnd
		status.NextWindow = &next
		status.NextWindowEnd = &nextEnd
		if until := int64(next.Sub(now).Seconds()); until > 0 {
			status.TimeUntilNext = until
		}
		status.Message = fmt.Sprintf("outside testing window; next window %s", next.Format("Mon Jan 2 15:04 MST"))
	}
	return status
}

// resumedStatus answers an idempotent re-start of an already-live attempt.
func resumedStatus(active *models.TestAttemptSession, sched *models.ClassroomTestSchedule) *models.TestAvailabilityStatus {
	reason := models.ReasonInsideWindow
	if active.OverrideStarted {
		reason = models.ReasonOverrideGranted
	}
	status := &models.TestAvailabilityStatus{
		Allowed:         true,
		ScheduleActive:  sched.IsActive,
		Reason:          reason,
		Message:         "attempt already started",
		ActiveAttemptID: active.TestAttemptID,
	}
	if !active.Deadline.IsZero() {
		deadline := active.Deadline
		status.CurrentWindowEnd = &deadline
	}
	return status
}

// denialStatus turns a denial sentinel into an allowed=false result.
func denialStatus(err error, scheduleActive bool) *models.TestAvailabilityStatus {
	reason, message := reasonForError(err)
	return &models.TestAvailabilityStatus{
		Allowed:        false,
		ScheduleActive: scheduleActive,
		Reason:         reason,
		Message:        message,
	}
}

// reasonForError maps a denial sentinel to its reason code and message.
func reasonForError(err error) (string, string) {
	switch {
	case errors.Is(err, models.ErrScheduleInactive):
		return models.ReasonScheduleInactive, "scheduling disabled"
	case errors.Is(err, models.ErrScheduleNotFound):
		return models.ReasonScheduleMissing, "no test schedule configured"
	case errors.Is(err, models.ErrNoWindowConfigured):
		return models.ReasonNoWindowConfigured, "no testing windows configured"
	case errors.Is(err, models.ErrOutsideWindow):
		return models.ReasonOutsideWindow, "outside testing window"
	case errors.Is(err, models.ErrOverridesDisabled):
		return models.ReasonOverridesDisabled, "override codes are disabled for this classroom"
	case errors.Is(err, models.ErrOverrideNotFound):
		return models.ReasonOverrideNotFound, "override code not recognized"
	case errors.Is(err, models.ErrOverrideExpired):
		return models.ReasonOverrideExpired, "override code has expired"
	case errors.Is(err, models.ErrOverrideExhausted):
		return models.ReasonOverrideExhausted, "override code has no remaining uses"
	case errors.Is(err, models.ErrOverrideRateLimited):
		return models.ReasonOverrideRateLimited, "too many override attempts, try again shortly"
	case errors.Is(err, models.ErrAlreadyActive):
		return models.ReasonAlreadyActive, "another attempt is already active"
	case errors.Is(err, models.ErrSessionNotFound):
		return models.ReasonNoActiveSession, "no active session for this attempt"
	case errors.Is(err, models.ErrGraceExpired):
		return models.ReasonGraceExpired, "grace period has ended"
	}
	return "denied", err.Error()
}

// recordEvent appends to the audit log; failures are logged, never fatal.
func (e *Engine) recordEvent(ctx context.Context, event *models.AttemptEvent) {
	if e.audit == nil {
		return
	}
	if err := e.audit.RecordAttemptEvent(ctx, event); err != nil {
		e.logger.Warn().Err(err).
			Str("classroom_id", event.ClassroomID).
			Str("event", event.Event).
			Msg("Failed to record attempt event")
	}
}

func (e *Engine) publish(eventType, classroomID string, payload any) {
	if e.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	e.bus.Publish(events.Event{Type: eventType, ClassroomID: classroomID, Payload: data})
}

func (e *Engine) count(operation string, status *models.TestAvailabilityStatus) {
	if e.metrics == nil {
		return
	}
	e.metrics.IncCheck(operation, status.Allowed)
	if !status.Allowed {
		e.metrics.IncDenial(status.Reason)
	}
}

func (e *Engine) observe(start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.ObserveCheckDuration(time.Since(start).Seconds())
}
