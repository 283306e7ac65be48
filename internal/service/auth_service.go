package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/openshelf/libms-api/internal/models"
	appErrors "github.com/openshelf/libms-api/pkg/errors"
)

type authUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
}

type loginAttemptRepository interface {
	Record(ctx context.Context, attempt *models.LoginAttempt) error
	CountRecentFailures(ctx context.Context, email, ip string, window time.Duration) (int, error)
	Purge(ctx context.Context, olderThan time.Time) (int64, error)
}

type activityLogger interface {
	Log(ctx context.Context, entry models.ActivityEntry)
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	LockoutWindow      time.Duration
	LockoutMaxFailures int
	LockoutRetention   time.Duration
	SessionIdleTimeout time.Duration
	ResetTokenSecret   string
	ResetTokenTTL      time.Duration
}

// AuthService provides authentication use cases on top of the login-attempt
// ledger and the session guard.
type AuthService struct {
	users     authUserRepository
	attempts  loginAttemptRepository
	activity  activityLogger
	guard     *SessionGuard
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(users authUserRepository, attempts loginAttemptRepository, activity activityLogger, guard *SessionGuard, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.LockoutWindow <= 0 {
		config.LockoutWindow = 30 * time.Minute
	}
	if config.LockoutMaxFailures <= 0 {
		config.LockoutMaxFailures = 5
	}
	return &AuthService{users: users, attempts: attempts, activity: activity, guard: guard, metrics: metrics, validator: validate, logger: logger, config: config}
}

// IsLocked reports whether the identifier or ip has reached the failure
// threshold within the trailing window. Locks release by time alone, as the
// counted rows age out of the window.
func (s *AuthService) IsLocked(ctx context.Context, email, ip string) (bool, error) {
	failures, err := s.attempts.CountRecentFailures(ctx, email, ip, s.config.LockoutWindow)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count login failures")
	}
	return failures >= s.config.LockoutMaxFailures, nil
}

// Login authenticates a user and opens a server-side session. The lock check
// runs before credential verification; a lock short-circuits verification and
// the blocked attempt is still recorded as a failure.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	locked, err := s.IsLocked(ctx, req.Email, req.IP)
	if err != nil {
		return nil, err
	}
	if locked {
		s.metrics.RecordLockout()
		s.recordAttempt(ctx, req, false)
		s.logFailedLogin(ctx, req, "multiple failed attempts, login blocked")
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.recordAttempt(ctx, req, false)
			s.logFailedLogin(ctx, req, "unknown account")
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	if !user.Active {
		s.recordAttempt(ctx, req, false)
		s.logFailedLogin(ctx, req, "inactive account")
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		s.recordAttempt(ctx, req, false)
		s.logFailedLogin(ctx, req, "wrong password")
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}

	session, err := s.guard.Create(ctx, user, req.IP, req.UserAgent)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create session")
	}

	s.recordAttempt(ctx, req, true)

	if err := s.users.UpdateLastLogin(ctx, user.ID, time.Now().UTC()); err != nil {
		s.logger.Warn("failed to update last login", zap.Error(err))
	}

	s.activity.Log(ctx, models.ActivityEntry{
		ActorID:    &user.ID,
		ActorLabel: user.Email,
		Action:     models.ActionLogin,
		Module:     models.ModuleAuth,
		IPAddress:  req.IP,
		UserAgent:  req.UserAgent,
		Status:     models.ActivitySuccess,
	})

	return &models.LoginResponse{
		Token:     session.Token,
		ExpiresIn: int64(s.config.SessionIdleTimeout.Seconds()),
		IssuedAt:  session.CreatedAt,
		User: models.UserInfo{
			ID:       user.ID,
			Username: user.Username,
			Email:    user.Email,
			FullName: user.FullName,
			Role:     user.Role,
		},
	}, nil
}

// Logout discards the caller's session.
func (s *AuthService) Logout(ctx context.Context, session *models.Session, meta models.RequestMeta) error {
	if err := s.guard.Destroy(ctx, session.Token); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to destroy session")
	}

	s.activity.Log(ctx, models.ActivityEntry{
		ActorID:    &session.UserID,
		ActorLabel: session.Email,
		Action:     models.ActionLogout,
		Module:     models.ModuleAuth,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
		Status:     models.ActivitySuccess,
	})
	return nil
}

// ChangePassword changes the password for the authenticated user.
func (s *AuthService) ChangePassword(ctx context.Context, session *models.Session, req models.ChangePasswordRequest, meta models.RequestMeta) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid change password payload")
	}

	user, err := s.users.FindByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.OldPassword)); err != nil {
		return appErrors.Clone(appErrors.ErrForbidden, "old password does not match")
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	if err := s.users.UpdatePassword(ctx, user.ID, string(newHash), time.Now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update password")
	}

	s.activity.Log(ctx, models.ActivityEntry{
		ActorID:    &user.ID,
		ActorLabel: user.Email,
		Action:     models.ActionPasswordChange,
		Module:     models.ModuleAuth,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
		Status:     models.ActivitySuccess,
	})
	return nil
}

// ForgotPassword issues a signed reset token for the account. The token is
// returned to the caller for delivery; the HTTP response stays generic so the
// endpoint cannot be used to enumerate accounts.
func (s *AuthService) ForgotPassword(ctx context.Context, req models.ForgotPasswordRequest) (string, error) {
	if err := s.validator.Struct(req); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid forgot password payload")
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   user.ID,
		ExpiresAt: jwt.NewNumericDate(now.Add(s.config.ResetTokenTTL)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.ResetTokenSecret))
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign reset token")
	}

	s.logger.Info("password reset requested", zap.String("user_id", user.ID))
	return signed, nil
}

// ResetPassword consumes a reset token and sets the new password.
func (s *AuthService) ResetPassword(ctx context.Context, req models.ResetPasswordRequest, meta models.RequestMeta) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reset password payload")
	}

	token, err := jwt.ParseWithClaims(req.Token, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.ResetTokenSecret), nil
	})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid reset token")
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return appErrors.Clone(appErrors.ErrUnauthorized, "invalid reset token")
	}

	user, err := s.users.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrUnauthorized, "invalid reset token")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	if err := s.users.UpdatePassword(ctx, user.ID, string(newHash), time.Now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update password")
	}

	s.activity.Log(ctx, models.ActivityEntry{
		ActorID:    &user.ID,
		ActorLabel: user.Email,
		Action:     models.ActionPasswordReset,
		Module:     models.ModuleAuth,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
		Status:     models.ActivitySuccess,
	})
	return nil
}

// PurgeAttempts deletes ledger rows past the retention cutoff.
func (s *AuthService) PurgeAttempts(ctx context.Context) (int64, error) {
	if s.config.LockoutRetention <= 0 {
		return 0, nil
	}
	deleted, err := s.attempts.Purge(ctx, time.Now().UTC().Add(-s.config.LockoutRetention))
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to purge login attempts")
	}
	return deleted, nil
}

func (s *AuthService) recordAttempt(ctx context.Context, req models.LoginRequest, success bool) {
	if !success {
		s.metrics.RecordLoginFailure()
	}
	err := s.attempts.Record(ctx, &models.LoginAttempt{
		Email:     req.Email,
		IPAddress: req.IP,
		UserAgent: req.UserAgent,
		Success:   success,
	})
	if err != nil {
		s.logger.Warn("failed to record login attempt", zap.Error(err))
	}
}

func (s *AuthService) logFailedLogin(ctx context.Context, req models.LoginRequest, details string) {
	s.activity.Log(ctx, models.ActivityEntry{
		ActorLabel: req.Email,
		Action:     models.ActionLoginFailed,
		Details:    &details,
		Module:     models.ModuleAuth,
		IPAddress:  req.IP,
		UserAgent:  req.UserAgent,
		Status:     models.ActivityFailure,
	})
}
