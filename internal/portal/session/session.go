// Package session is the redis-backed browser session store used by the
// portal's auth hook chain.
package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/altivon/vpn-portal/internal/portal/config"
	"github.com/altivon/vpn-portal/internal/shared/errors"
	"github.com/redis/go-redis/v9"
)

// Session is one browser session. Permissions are a snapshot taken at
// login; the hook chain refreshes them once per session.
type Session struct {
	UserID      string    `json:"user_id"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists sessions in redis with a sliding TTL.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore creates a session store from configuration.
func NewStore(cfg config.SessionsConfig) *Store {
	return &Store{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}),
		ttl: cfg.TTL,
	}
}

// NewStoreFromClient creates a session store around an existing client.
// Useful for testing.
func NewStoreFromClient(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func sessionKey(sessionID string) string {
	return "session:" + sessionID
}

func sentinelKey(sessionID, name string) string {
	return "session:" + sessionID + ":once:" + name
}

// Get returns the session, or nil when it does not exist or expired.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	raw, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewBaseError("session", errors.ErrCodeInternal, "session lookup failed", err, nil)
	}

	var session Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, errors.NewBaseError("session", errors.ErrCodeInternal, "session decode failed", err, nil)
	}
	return &session, nil
}

// Put stores the session and resets its TTL.
func (s *Store) Put(ctx context.Context, sessionID string, session *Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return errors.NewBaseError("session", errors.ErrCodeInternal, "session encode failed", err, nil)
	}
	if err := s.client.Set(ctx, sessionKey(sessionID), raw, s.ttl).Err(); err != nil {
		return errors.NewBaseError("session", errors.ErrCodeInternal, "session store failed", err, nil)
	}
	return nil
}

// Delete removes the session and its sentinels.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	keys, err := s.client.Keys(ctx, sessionKey(sessionID)+"*").Result()
	if err != nil {
		return errors.NewBaseError("session", errors.ErrCodeInternal, "session delete failed", err, nil)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return errors.NewBaseError("session", errors.ErrCodeInternal, "session delete failed", err, nil)
	}
	return nil
}

// MarkOnce sets a named per-session sentinel and reports whether this call
// was the first to set it. The hook chain uses it to run last-seen and
// permission refresh updates once per session; concurrent tabs racing on
// it is harmless, worst case one redundant update.
func (s *Store) MarkOnce(ctx context.Context, sessionID, name string) (bool, error) {
	first, err := s.client.SetNX(ctx, sentinelKey(sessionID, name), "1", s.ttl).Result()
	if err != nil {
		return false, errors.NewBaseError("session", errors.ErrCodeInternal, "session sentinel failed", err, nil)
	}
	return first, nil
}

// Ping checks the redis connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
