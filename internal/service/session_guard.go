package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/openshelf/libms-api/internal/models"
	"github.com/openshelf/libms-api/internal/repository"
)

type sessionStore interface {
	Save(ctx context.Context, session *models.Session) error
	Find(ctx context.Context, token string) (*models.Session, error)
	Delete(ctx context.Context, token string) error
}

// RejectedError reports a refused session validation with its reason.
type RejectedError struct {
	Reason models.RejectReason
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("session rejected: %s", e.Reason)
}

// RejectReasonOf extracts the reject reason from an error, if present.
func RejectReasonOf(err error) (models.RejectReason, bool) {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected.Reason, true
	}
	return "", false
}

// SessionGuardConfig tunes the guard.
type SessionGuardConfig struct {
	IdleTimeout time.Duration
}

// SessionGuard validates the server-side session on every privileged request.
// The IP/User-Agent fingerprint snapshot taken at login is a coarse defense
// against stolen session tokens; it false-positives on legitimate IP churn
// (mobile networks), which is an accepted trade-off rather than a bug.
type SessionGuard struct {
	store  sessionStore
	logger *zap.Logger
	config SessionGuardConfig
}

// NewSessionGuard constructs a SessionGuard.
func NewSessionGuard(store sessionStore, logger *zap.Logger, config SessionGuardConfig) *SessionGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 15 * time.Minute
	}
	return &SessionGuard{store: store, logger: logger, config: config}
}

// Create snapshots the caller fingerprint into a fresh session and persists it.
func (g *SessionGuard) Create(ctx context.Context, user *models.User, ip, userAgent string) (*models.Session, error) {
	token, err := generateSessionToken()
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}
	now := time.Now().UTC()
	session := &models.Session{
		Token:        token,
		UserID:       user.ID,
		Role:         user.Role,
		Email:        user.Email,
		FullName:     user.FullName,
		IPAddress:    ip,
		UserAgent:    userAgent,
		CreatedAt:    now,
		LastActivity: now,
	}
	if err := g.store.Save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Validate checks the session for the token against the current request
// fingerprint. A valid check refreshes LastActivity; any rejection discards
// the stored session, which is terminal and never healed.
//
// The fingerprint comparison runs before the idle-timeout check so a hijack
// suspicion is reported as such even on a stale session.
func (g *SessionGuard) Validate(ctx context.Context, token, ip, userAgent string) (*models.Session, error) {
	if token == "" {
		return nil, &RejectedError{Reason: models.RejectNoSession}
	}

	session, err := g.store.Find(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, &RejectedError{Reason: models.RejectNoSession}
		}
		return nil, err
	}

	if session.IPAddress != ip || session.UserAgent != userAgent {
		g.logger.Warn("session fingerprint mismatch",
			zap.String("user_id", session.UserID),
			zap.String("session_ip", session.IPAddress),
			zap.String("request_ip", ip),
		)
		g.discard(ctx, token)
		return nil, &RejectedError{Reason: models.RejectFingerprintMismatch}
	}

	now := time.Now().UTC()
	if now.Sub(session.LastActivity) > g.config.IdleTimeout {
		g.discard(ctx, token)
		return nil, &RejectedError{Reason: models.RejectTimeout}
	}

	session.LastActivity = now
	if err := g.store.Save(ctx, session); err != nil {
		// The check already passed; a store hiccup on refresh should not
		// fail the request.
		g.logger.Warn("failed to refresh session activity", zap.Error(err))
	}

	return session, nil
}

// Destroy removes the session for the token.
func (g *SessionGuard) Destroy(ctx context.Context, token string) error {
	return g.store.Delete(ctx, token)
}

func (g *SessionGuard) discard(ctx context.Context, token string) {
	if err := g.store.Delete(ctx, token); err != nil {
		g.logger.Warn("failed to discard session", zap.Error(err))
	}
}

func generateSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
