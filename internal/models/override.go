package models

import "time"

// OverrideCode is a scarce, expiring, usage-capped token granting one-time
// admission outside configured windows. current_uses only ever moves up,
// by exactly one per successful validation.
type OverrideCode struct {
	ID           string    `json:"id"`
	ClassroomID  string    `json:"classroom_id"`
	OverrideCode string    `json:"override_code"`
	Reason       string    `json:"reason"`
	ExpiresAt    time.Time `json:"expires_at"`
	MaxUses      int       `json:"max_uses"`
	CurrentUses  int       `json:"current_uses"`
	CreatedBy    string    `json:"created_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsExpired reports whether the code has passed its expiry.
func (c *OverrideCode) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// IsExhausted reports whether every use has been consumed.
func (c *OverrideCode) IsExhausted() bool {
	return c.CurrentUses >= c.MaxUses
}

// IsSpent reports whether the code can never grant again.
func (c *OverrideCode) IsSpent(now time.Time) bool {
	return c.IsExpired(now) || c.IsExhausted()
}

// RemainingUses returns how many grants are left.
func (c *OverrideCode) RemainingUses() int {
	if remaining := c.MaxUses - c.CurrentUses; remaining > 0 {
		return remaining
	}
	return 0
}

// OverrideUsage is one recorded consumption of an override code, written in
// the same transaction as the increment.
type OverrideUsage struct {
	ID            int64     `json:"id"`
	CodeID        string    `json:"code_id"`
	ClassroomID   string    `json:"classroom_id"`
	OverrideCode  string    `json:"override_code,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	StudentID     string    `json:"student_id"`
	UsedAt        time.Time `json:"used_at"`
	RemainingUses int       `json:"remaining_uses"`
}
