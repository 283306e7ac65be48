package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openshelf/libms-api/internal/models"
)

// ErrSessionNotFound is returned when no session exists for a token.
var ErrSessionNotFound = errors.New("session not found")

// SessionRepository stores server-side sessions in Redis. Keys carry a TTL of
// the maximum session lifetime; the idle-timeout check is enforced by the
// session guard on top of LastActivity.
type SessionRepository struct {
	client      *redis.Client
	maxLifetime time.Duration
}

// NewSessionRepository constructs a session repository.
func NewSessionRepository(client *redis.Client, maxLifetime time.Duration) *SessionRepository {
	if maxLifetime <= 0 {
		maxLifetime = 12 * time.Hour
	}
	return &SessionRepository{client: client, maxLifetime: maxLifetime}
}

func sessionKey(token string) string {
	return "session:" + token
}

// Save persists the session under its token.
func (r *SessionRepository) Save(ctx context.Context, session *models.Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ttl := r.maxLifetime - time.Since(session.CreatedAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := r.client.Set(ctx, sessionKey(session.Token), payload, ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Find loads the session stored for the token.
func (r *SessionRepository) Find(ctx context.Context, token string) (*models.Session, error) {
	raw, err := r.client.Get(ctx, sessionKey(token)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	var session models.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &session, nil
}

// Delete discards the session. Idempotent.
func (r *SessionRepository) Delete(ctx context.Context, token string) error {
	if err := r.client.Del(ctx, sessionKey(token)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
