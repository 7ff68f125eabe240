package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/umrum/umrum/pkg/errors"
	pkgredis "github.com/umrum/umrum/pkg/redis"
)

const sessionPrefix = "session:"

// Session is what a signed-in browser's cookie points at.
type Session struct {
	ID        string `json:"-"`
	UserID    int64  `json:"user_id"`
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// KV is the subset of the Redis client sessions need.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Sessions stores sessions as JSON strings with a TTL.
type Sessions struct {
	kv  KV
	ttl time.Duration
}

func NewSessions(kv KV, ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Sessions{kv: kv, ttl: ttl}
}

func (s *Sessions) TTL() time.Duration { return s.ttl }

// Create stores a new session under a random id.
func (s *Sessions) Create(ctx context.Context, sess Session) (Session, error) {
	sess.ID = uuid.NewString()
	data, err := json.Marshal(sess)
	if err != nil {
		return Session{}, fmt.Errorf("encoding session: %w", err)
	}
	if err := s.kv.Set(ctx, sessionPrefix+sess.ID, data, s.ttl); err != nil {
		return Session{}, fmt.Errorf("storing session: %w", err)
	}
	return sess, nil
}

// Get loads the session with id. Unknown or expired ids yield
// ErrUnauthorized.
func (s *Sessions) Get(ctx context.Context, id string) (Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Session{}, apperrors.ErrUnauthorized
	}
	raw, err := s.kv.Get(ctx, sessionPrefix+id)
	if pkgredis.IsNilError(err) {
		return Session{}, apperrors.ErrUnauthorized
	}
	if err != nil {
		return Session{}, apperrors.Unavailable("loading session", err)
	}
	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return Session{}, apperrors.ErrUnauthorized
	}
	sess.ID = id
	return sess, nil
}

func (s *Sessions) Delete(ctx context.Context, id string) error {
	if err := s.kv.Del(ctx, sessionPrefix+id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}
