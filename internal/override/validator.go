// Package override arbitrates emergency override codes: scarce, expiring,
// usage-capped tokens that admit a single test start outside configured
// windows. Consumption is atomic against concurrent callers; the store
// contract carries the conditional-update requirement.
package override

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"examgate/internal/models"
)

// Store is the persistence contract for override codes.
type Store interface {
	// GetOverrideCode returns the code scoped to the classroom, or nil
	// when no such code exists. It never mutates usage.
	GetOverrideCode(ctx context.Context, classroomID, code string) (*models.OverrideCode, error)

	// ConsumeOverrideCode atomically increments current_uses by one iff the
	// code is unexpired and below max_uses, returning the post-increment
	// record. Failures are models.ErrOverrideNotFound, ErrOverrideExpired
	// or ErrOverrideExhausted. Two concurrent calls against a code with one
	// use left must yield exactly one success.
	ConsumeOverrideCode(ctx context.Context, classroomID, code, studentID string, now time.Time) (*models.OverrideCode, error)
}

// Grant is the proof of a successful validation. It admits exactly one test
// start and is never refunded, even if the caller abandons the start.
type Grant struct {
	CodeID        string    `json:"code_id"`
	ClassroomID   string    `json:"classroom_id"`
	Reason        string    `json:"reason,omitempty"`
	RemainingUses int       `json:"remaining_uses"`
	ExpiresAt     time.Time `json:"expires_at"`
	GrantedAt     time.Time `json:"granted_at"`
}

// Config tunes the per-classroom attempt throttle. A non-positive
// AttemptsPerMinute disables throttling.
type Config struct {
	AttemptsPerMinute float64
	AttemptsBurst     int
}

// DefaultConfig returns the throttle defaults.
func DefaultConfig() Config {
	return Config{
		AttemptsPerMinute: 30,
		AttemptsBurst:     10,
	}
}

// Validator checks and consumes override codes. Lookup attempts are
// throttled per classroom so code strings stay impractical to brute-force.
type Validator struct {
	store    Store
	cfg      Config
	logger   zerolog.Logger
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewValidator creates a validator backed by the given store.
func NewValidator(store Store, cfg Config, logger zerolog.Logger) *Validator {
	return &Validator{
		store:    store,
		cfg:      cfg,
		logger:   logger.With().Str("component", "override").Logger(),
		limiters: make(map[string]*rate.Limiter),
	}
}

// ValidateAndConsume validates the code for the classroom and consumes one
// use. The increment is atomic at the store; once persisted it is never
// rolled back.
func (v *Validator) ValidateAndConsume(ctx context.Context, sched *models.ClassroomTestSchedule, studentID, code string, now time.Time) (*Grant, error) {
	if !sched.Settings().EmergencyOverrideEnabled {
		return nil, models.ErrOverridesDisabled
	}
	if !v.allowAttempt(sched.ClassroomID) {
		v.logger.Warn().
			Str("classroom_id", sched.ClassroomID).
			Msg("override attempts throttled")
		return nil, models.ErrOverrideRateLimited
	}

	oc, err := v.store.ConsumeOverrideCode(ctx, sched.ClassroomID, code, studentID, now)
	if err != nil {
		return nil, err
	}

	v.logger.Info().
		Str("classroom_id", sched.ClassroomID).
		Str("code_id", oc.ID).
		Str("student_id", studentID).
		Int("remaining_uses", oc.RemainingUses()).
		Msg("override granted")

	return &Grant{
		CodeID:        oc.ID,
		ClassroomID:   oc.ClassroomID,
		Reason:        oc.Reason,
		RemainingUses: oc.RemainingUses(),
		ExpiresAt:     oc.ExpiresAt,
		GrantedAt:     now,
	}, nil
}

// Validate is the dry-run twin of ValidateAndConsume: same checks, same
// error taxonomy, no mutation of current_uses.
func (v *Validator) Validate(ctx context.Context, sched *models.ClassroomTestSchedule, code string, now time.Time) (*Grant, error) {
	if !sched.Settings().EmergencyOverrideEnabled {
		return nil, models.ErrOverridesDisabled
	}
	if !v.allowAttempt(sched.ClassroomID) {
		return nil, models.ErrOverrideRateLimited
	}

	oc, err := v.store.GetOverrideCode(ctx, sched.ClassroomID, code)
	if err != nil {
		return nil, err
	}
	if oc == nil {
		return nil, models.ErrOverrideNotFound
	}
	if oc.IsExpired(now) {
		return nil, models.ErrOverrideExpired
	}
	if oc.IsExhausted() {
		return nil, models.ErrOverrideExhausted
	}

	return &Grant{
		CodeID:        oc.ID,
		ClassroomID:   oc.ClassroomID,
		Reason:        oc.Reason,
		RemainingUses: oc.RemainingUses(),
		ExpiresAt:     oc.ExpiresAt,
		GrantedAt:     now,
	}, nil
}

// allowAttempt consults the classroom's token bucket.
func (v *Validator) allowAttempt(classroomID string) bool {
	if v.cfg.AttemptsPerMinute <= 0 {
		return true
	}

	v.mu.Lock()
	limiter, ok := v.limiters[classroomID]
	if !ok {
		burst := v.cfg.AttemptsBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(v.cfg.AttemptsPerMinute/60.0), burst)
		v.limiters[classroomID] = limiter
	}
	v.mu.Unlock()

	return limiter.Allow()
}

const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// GenerateCode produces an unguessable override code from an alphabet
// without visually ambiguous characters.
func GenerateCode(length int) (string, error) {
	if length <= 0 {
		length = 8
	}
	max := big.NewInt(int64(len(codeAlphabet)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate override code: %w", err)
		}
		out[i] = codeAlphabet[n.Int64()]
	}
	return string(out), nil
}
