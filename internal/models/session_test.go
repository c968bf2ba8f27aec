package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSessionKey_String(t *testing.T) {
	key := SessionKey{ClassroomID: "class-1", StudentID: "student-7", TestAttemptID: "attempt-42"}
	assert.Equal(t, "class-1/student-7/attempt-42", key.String())
}

func TestTestAttemptSession_Key(t *testing.T) {
	sess := TestAttemptSession{
		ClassroomID:   "class-1",
		StudentID:     "student-7",
		TestAttemptID: "attempt-42",
	}

	key := sess.Key()
	assert.Equal(t, "class-1", key.ClassroomID)
	assert.Equal(t, "student-7", key.StudentID)
	assert.Equal(t, "attempt-42", key.TestAttemptID)
}

func TestTestAttemptSession_WithinDeadline(t *testing.T) {
	deadline := time.Date(2026, 1, 5, 10, 5, 0, 0, time.UTC)

	tests := []struct {
		name     string
		session  TestAttemptSession
		now      time.Time
		expected bool
	}{
		{
			name:     "before deadline",
			session:  TestAttemptSession{Deadline: deadline},
			now:      deadline.Add(-time.Minute),
			expected: true,
		},
		{
			name:     "exactly at deadline is inclusive",
			session:  TestAttemptSession{Deadline: deadline},
			now:      deadline,
			expected: true,
		},
		{
			name:     "past deadline",
			session:  TestAttemptSession{Deadline: deadline},
			now:      deadline.Add(time.Second),
			expected: false,
		},
		{
			name:     "override sessions have no deadline",
			session:  TestAttemptSession{OverrideStarted: true, Deadline: deadline},
			now:      deadline.Add(time.Hour),
			expected: true,
		},
		{
			name:     "zero deadline never expires",
			session:  TestAttemptSession{},
			now:      deadline.Add(240 * time.Hour),
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.session.WithinDeadline(tt.now))
		})
	}
}
