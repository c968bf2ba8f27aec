package session

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"examgate/internal/models"
)

const defaultJournalKey = "examgate:sessions"

// RedisJournal mirrors active sessions into a single Redis hash keyed by
// "classroom/student/attempt" so the registry can be rebuilt after a
// restart. Entries live only as long as the session; the sweep removes
// anything stale that survives a restore.
type RedisJournal struct {
	client *redis.Client
	key    string
}

// NewRedisJournal creates a journal writing under key. An empty key selects
// the default.
func NewRedisJournal(client *redis.Client, key string) *RedisJournal {
	if key == "" {
		key = defaultJournalKey
	}
	return &RedisJournal{client: client, key: key}
}

func (j *RedisJournal) RecordStart(ctx context.Context, sess *models.TestAttemptSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return j.client.HSet(ctx, j.key, sess.Key().String(), data).Err()
}

func (j *RedisJournal) RecordEnd(ctx context.Context, key models.SessionKey) error {
	return j.client.HDel(ctx, j.key, key.String()).Err()
}

func (j *RedisJournal) LoadAll(ctx context.Context) ([]*models.TestAttemptSession, error) {
	entries, err := j.client.HGetAll(ctx, j.key).Result()
	if err != nil {
		return nil, err
	}

	sessions := make([]*models.TestAttemptSession, 0, len(entries))
	for _, raw := range entries {
		var sess models.TestAttemptSession
		if err := json.Unmarshal([]byte(raw), &sess); err != nil {
			continue
		}
		sessions = append(sessions, &sess)
	}
	return sessions, nil
}
