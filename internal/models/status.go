package models

import "time"

// Machine-readable reason codes carried by every availability decision.
const (
	ReasonInsideWindow        = "inside_window"
	ReasonOverrideGranted     = "override_granted"
	ReasonGraceActive         = "grace_active"
	ReasonContinueAllowed     = "continue_allowed"
	ReasonScheduleInactive    = "schedule_inactive"
	ReasonScheduleMissing     = "schedule_missing"
	ReasonNoWindowConfigured  = "no_window_configured"
	ReasonOutsideWindow       = "outside_window"
	ReasonOverridesDisabled   = "overrides_disabled"
	ReasonOverrideNotFound    = "override_not_found"
	ReasonOverrideExpired     = "override_expired"
	ReasonOverrideExhausted   = "override_exhausted"
	ReasonOverrideRateLimited = "override_rate_limited"
	ReasonAlreadyActive       = "already_active"
	ReasonNoActiveSession     = "no_active_session"
	ReasonGraceExpired        = "grace_expired"
)

// TestAvailabilityStatus is the engine's answer to "may this student act
// now?". Denials are normal results, not errors; Reason is always set.
type TestAvailabilityStatus struct {
	Allowed          bool       `json:"allowed"`
	ScheduleActive   bool       `json:"schedule_active"`
	Reason           string     `json:"reason"`
	Message          string     `json:"message"`
	NextWindow       *time.Time `json:"next_window,omitempty"`        // earliest future admission instant
	NextWindowEnd    *time.Time `json:"next_window_end,omitempty"`    // end of that window
	CurrentWindowEnd *time.Time `json:"current_window_end,omitempty"` // set while inside a window
	TimeUntilNext    int64      `json:"time_until_next_seconds,omitempty"`
	ActiveAttemptID  string     `json:"active_attempt_id,omitempty"` // set when the student already has a live attempt
	RemainingUses    int        `json:"override_remaining_uses,omitempty"`
}
