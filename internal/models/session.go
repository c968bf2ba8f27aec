package models

import (
	"fmt"
	"time"
)

// Attempt event kinds recorded for the audit trail.
const (
	AttemptEventStarted = "started"
	AttemptEventEnded   = "ended"
	AttemptEventExpired = "expired"
)

// SessionKey identifies one test attempt by one student in one classroom.
type SessionKey struct {
	ClassroomID   string `json:"classroom_id"`
	StudentID     string `json:"student_id"`
	TestAttemptID string `json:"test_attempt_id"`
}

// String renders the key for logs and storage fields.
func (k SessionKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.ClassroomID, k.StudentID, k.TestAttemptID)
}

// TestAttemptSession is a live attempt tracked by the session registry.
// Window-started sessions carry an absolute continue deadline (window end
// plus grace); override-started sessions carry none and leave the registry
// only through an explicit end or the registry's max-age sweep.
type TestAttemptSession struct {
	ClassroomID     string    `json:"classroom_id"`
	StudentID       string    `json:"student_id"`
	TestAttemptID   string    `json:"test_attempt_id"`
	StartedAt       time.Time `json:"started_at"`
	WindowID        string    `json:"window_id,omitempty"` // empty when override-started
	OverrideStarted bool      `json:"override_started"`
	Deadline        time.Time `json:"deadline"` // zero when override-started
}

// Key returns the registry key for this session.
func (s *TestAttemptSession) Key() SessionKey {
	return SessionKey{
		ClassroomID:   s.ClassroomID,
		StudentID:     s.StudentID,
		TestAttemptID: s.TestAttemptID,
	}
}

// WithinDeadline reports whether the session may still continue at now.
// Override-started sessions always pass.
func (s *TestAttemptSession) WithinDeadline(now time.Time) bool {
	if s.OverrideStarted || s.Deadline.IsZero() {
		return true
	}
	return !now.After(s.Deadline)
}

// AttemptEvent is one recorded lifecycle transition of a test attempt.
type AttemptEvent struct {
	ID            int64     `json:"id"`
	ClassroomID   string    `json:"classroom_id"`
	StudentID     string    `json:"student_id"`
	TestAttemptID string    `json:"test_attempt_id"`
	Event         string    `json:"event"` // started, ended, expired
	Detail        string    `json:"detail,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
