package session

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"examgate/internal/models"
)

// shardCount spreads classrooms over independent locks so admission checks
// in one classroom never wait on another.
const shardCount = 16

// Journal persists registry changes so active attempts survive a restart.
// All journal calls are best effort: a failed write is logged and the
// in-memory registry remains authoritative.
type Journal interface {
	RecordStart(ctx context.Context, session *models.TestAttemptSession) error
	RecordEnd(ctx context.Context, key models.SessionKey) error
	LoadAll(ctx context.Context) ([]*models.TestAttemptSession, error)
}

// StartInfo carries the admission facts recorded with a new session.
type StartInfo struct {
	StartedAt    time.Time
	WindowID     string
	WindowEnd    time.Time // zero when override-started
	GraceMinutes int
	Override     bool
}

type ownerKey struct {
	classroomID string
	studentID   string
}

type shard struct {
	mu          sync.RWMutex
	sessions    map[models.SessionKey]*models.TestAttemptSession
	byOwner     map[ownerKey]models.SessionKey
	byClassroom map[string]map[models.SessionKey]struct{}
}

func newShard() *shard {
	return &shard{
		sessions:    make(map[models.SessionKey]*models.TestAttemptSession),
		byOwner:     make(map[ownerKey]models.SessionKey),
		byClassroom: make(map[string]map[models.SessionKey]struct{}),
	}
}

// Registry tracks in-progress test attempts keyed by
// (classroom, student, attempt). One student holds at most one active
// attempt per classroom at a time.
type Registry struct {
	shards  [shardCount]*shard
	journal Journal // nil disables persistence
	logger  zerolog.Logger

	// MaxSessionAge caps how long any session stays registered, regardless
	// of its deadline. It is the only exit for an override-started or
	// abandoned attempt whose end never arrives. Zero disables the cap.
	// Set before serving traffic.
	MaxSessionAge time.Duration
}

// NewRegistry creates an empty registry. journal may be nil.
func NewRegistry(journal Journal, logger zerolog.Logger) *Registry {
	r := &Registry{
		journal: journal,
		logger:  logger.With().Str("component", "session_registry").Logger(),
	}
	for i := range r.shards {
		r.shards[i] = newShard()
	}
	return r
}

func (r *Registry) shardFor(classroomID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(classroomID))
	return r.shards[h.Sum32()%shardCount]
}

// RegisterStart records a new active attempt. Registering the same key again
// returns the existing session unchanged. A second attempt by the same
// student in the same classroom fails with ErrAlreadyActive and reports the
// attempt already running.
func (r *Registry) RegisterStart(ctx context.Context, key models.SessionKey, info StartInfo) (*models.TestAttemptSession, error) {
	sh := r.shardFor(key.ClassroomID)

	sh.mu.Lock()
	if existing, ok := sh.sessions[key]; ok {
		cp := *existing
		sh.mu.Unlock()
		return &cp, nil
	}

	owner := ownerKey{classroomID: key.ClassroomID, studentID: key.StudentID}
	if activeKey, ok := sh.byOwner[owner]; ok {
		cp := *sh.sessions[activeKey]
		sh.mu.Unlock()
		return &cp, models.ErrAlreadyActive
	}

	sess := &models.TestAttemptSession{
		ClassroomID:     key.ClassroomID,
		StudentID:       key.StudentID,
		TestAttemptID:   key.TestAttemptID,
		StartedAt:       info.StartedAt,
		WindowID:        info.WindowID,
		OverrideStarted: info.Override,
	}
	if !info.Override && !info.WindowEnd.IsZero() {
		sess.Deadline = info.WindowEnd.Add(time.Duration(info.GraceMinutes) * time.Minute)
	}

	sh.sessions[key] = sess
	sh.byOwner[owner] = key
	if sh.byClassroom[key.ClassroomID] == nil {
		sh.byClassroom[key.ClassroomID] = make(map[models.SessionKey]struct{})
	}
	sh.byClassroom[key.ClassroomID][key] = struct{}{}
	cp := *sess
	sh.mu.Unlock()

	if r.journal != nil {
		if err := r.journal.RecordStart(ctx, &cp); err != nil {
			r.logger.Warn().Err(err).Str("session", key.String()).Msg("Failed to journal session start")
		}
	}

	return &cp, nil
}

// ContinueCheck reports whether the attempt may keep submitting answers at
// now. The session is returned alongside ErrGraceExpired so the caller can
// record the expiry; removal is the caller's decision.
func (r *Registry) ContinueCheck(key models.SessionKey, now time.Time) (*models.TestAttemptSession, error) {
	sh := r.shardFor(key.ClassroomID)
	sh.mu.RLock()
	sess, ok := sh.sessions[key]
	if !ok {
		sh.mu.RUnlock()
		return nil, models.ErrSessionNotFound
	}
	cp := *sess
	sh.mu.RUnlock()

	if !cp.WithinDeadline(now) {
		return &cp, models.ErrGraceExpired
	}
	return &cp, nil
}

// ActiveForStudent returns the attempt a student currently holds in a
// classroom, if any.
func (r *Registry) ActiveForStudent(classroomID, studentID string) (*models.TestAttemptSession, bool) {
	sh := r.shardFor(classroomID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	key, ok := sh.byOwner[ownerKey{classroomID: classroomID, studentID: studentID}]
	if !ok {
		return nil, false
	}
	cp := *sh.sessions[key]
	return &cp, true
}

// End removes the attempt. Ending an unknown key is a no-op; the removed
// session is returned when one existed.
func (r *Registry) End(ctx context.Context, key models.SessionKey) *models.TestAttemptSession {
	sh := r.shardFor(key.ClassroomID)

	sh.mu.Lock()
	sess, ok := sh.sessions[key]
	if !ok {
		sh.mu.Unlock()
		return nil
	}
	cp := *sess
	sh.removeLocked(key)
	sh.mu.Unlock()

	if r.journal != nil {
		if err := r.journal.RecordEnd(ctx, key); err != nil {
			r.logger.Warn().Err(err).Str("session", key.String()).Msg("Failed to journal session end")
		}
	}

	return &cp
}

// removeLocked deletes a session from all shard indexes. Caller holds mu.
func (sh *shard) removeLocked(key models.SessionKey) {
	delete(sh.sessions, key)
	delete(sh.byOwner, ownerKey{classroomID: key.ClassroomID, studentID: key.StudentID})
	if keys := sh.byClassroom[key.ClassroomID]; keys != nil {
		delete(keys, key)
		if len(keys) == 0 {
			delete(sh.byClassroom, key.ClassroomID)
		}
	}
}

// ActiveCount returns the number of attempts running in a classroom.
func (r *Registry) ActiveCount(classroomID string) int {
	sh := r.shardFor(classroomID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return len(sh.byClassroom[classroomID])
}

// ActiveSessions lists a classroom's running attempts ordered by start time.
func (r *Registry) ActiveSessions(classroomID string) []*models.TestAttemptSession {
	sh := r.shardFor(classroomID)
	sh.mu.RLock()
	out := make([]*models.TestAttemptSession, 0, len(sh.byClassroom[classroomID]))
	for key := range sh.byClassroom[classroomID] {
		cp := *sh.sessions[key]
		out = append(out, &cp)
	}
	sh.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StudentID < out[j].StudentID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// TotalActive returns the number of attempts running across all classrooms.
func (r *Registry) TotalActive() int {
	total := 0
	for _, sh := range r.shards {
		sh.mu.RLock()
		total += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return total
}

// Sweep removes sessions whose continue deadline has passed, plus any
// session older than MaxSessionAge, and returns them for audit recording.
// Without a MaxSessionAge, override-started sessions are never swept.
func (r *Registry) Sweep(ctx context.Context, now time.Time) []*models.TestAttemptSession {
	var expired []*models.TestAttemptSession
	for _, sh := range r.shards {
		sh.mu.Lock()
		for key, sess := range sh.sessions {
			if sess.WithinDeadline(now) && !r.pastMaxAge(sess, now) {
				continue
			}
			cp := *sess
			expired = append(expired, &cp)
			sh.removeLocked(key)
		}
		sh.mu.Unlock()
	}

	for _, sess := range expired {
		r.logger.Info().
			Str("session", sess.Key().String()).
			Time("started_at", sess.StartedAt).
			Time("deadline", sess.Deadline).
			Msg("Removed expired test session")
		if r.journal != nil {
			if err := r.journal.RecordEnd(ctx, sess.Key()); err != nil {
				r.logger.Warn().Err(err).Str("session", sess.Key().String()).Msg("Failed to journal swept session")
			}
		}
	}
	return expired
}

// pastMaxAge reports whether the session exceeded the registry-wide age cap.
func (r *Registry) pastMaxAge(sess *models.TestAttemptSession, now time.Time) bool {
	return r.MaxSessionAge > 0 && now.Sub(sess.StartedAt) > r.MaxSessionAge
}

// Restore seeds the registry from the journal after a restart. Entries that
// conflict with sessions registered since startup are skipped.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	if r.journal == nil {
		return 0, nil
	}
	sessions, err := r.journal.LoadAll(ctx)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, sess := range sessions {
		key := sess.Key()
		sh := r.shardFor(key.ClassroomID)
		sh.mu.Lock()
		owner := ownerKey{classroomID: key.ClassroomID, studentID: key.StudentID}
		if _, taken := sh.sessions[key]; taken {
			sh.mu.Unlock()
			continue
		}
		if _, taken := sh.byOwner[owner]; taken {
			sh.mu.Unlock()
			continue
		}
		cp := *sess
		sh.sessions[key] = &cp
		sh.byOwner[owner] = key
		if sh.byClassroom[key.ClassroomID] == nil {
			sh.byClassroom[key.ClassroomID] = make(map[models.SessionKey]struct{})
		}
		sh.byClassroom[key.ClassroomID][key] = struct{}{}
		restored++
		sh.mu.Unlock()
	}

	if restored > 0 {
		r.logger.Info().Int("count", restored).Msg("Restored test sessions from journal")
	}
	return restored, nil
}
