package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/openshelf/libms-api/internal/models"
	appErrors "github.com/openshelf/libms-api/pkg/errors"
)

type fakeUserRepo struct {
	users           map[string]*models.User
	lastLoginID     string
	updatedPassword string
	emailLookups    int
}

func (f *fakeUserRepo) FindByEmail(_ context.Context, email string) (*models.User, error) {
	f.emailLookups++
	for _, u := range f.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeUserRepo) FindByID(_ context.Context, id string) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *u
	return &copied, nil
}

func (f *fakeUserRepo) UpdateLastLogin(_ context.Context, id string, _ time.Time) error {
	f.lastLoginID = id
	return nil
}

func (f *fakeUserRepo) UpdatePassword(_ context.Context, id, hash string, _ time.Time) error {
	f.updatedPassword = hash
	if u, ok := f.users[id]; ok {
		u.PasswordHash = hash
	}
	return nil
}

type fakeAttemptRepo struct {
	failures    int
	recorded    []models.LoginAttempt
	purged      int64
	purgeCalls  int
	purgeCutoff time.Time
}

func (f *fakeAttemptRepo) Record(_ context.Context, attempt *models.LoginAttempt) error {
	f.recorded = append(f.recorded, *attempt)
	return nil
}

func (f *fakeAttemptRepo) CountRecentFailures(_ context.Context, _, _ string, _ time.Duration) (int, error) {
	return f.failures, nil
}

func (f *fakeAttemptRepo) Purge(_ context.Context, olderThan time.Time) (int64, error) {
	f.purgeCalls++
	f.purgeCutoff = olderThan
	return f.purged, nil
}

type capturingLogger struct {
	entries []models.ActivityEntry
}

func (c *capturingLogger) Log(_ context.Context, entry models.ActivityEntry) {
	c.entries = append(c.entries, entry)
}

func hashOf(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func newTestAuthService(t *testing.T, users *fakeUserRepo, attempts *fakeAttemptRepo, audit *capturingLogger) *AuthService {
	t.Helper()
	svc, _ := newTestAuthServiceWithMetrics(t, users, attempts, audit)
	return svc
}

func newTestAuthServiceWithMetrics(t *testing.T, users *fakeUserRepo, attempts *fakeAttemptRepo, audit *capturingLogger) (*AuthService, *MetricsService) {
	t.Helper()
	guard := newTestGuard(newFakeSessionStore())
	metrics := NewMetricsService()
	svc := NewAuthService(users, attempts, audit, guard, metrics, nil, zap.NewNop(), AuthConfig{
		LockoutWindow:      30 * time.Minute,
		LockoutMaxFailures: 5,
		LockoutRetention:   30 * 24 * time.Hour,
		SessionIdleTimeout: 15 * time.Minute,
		ResetTokenSecret:   "test-secret",
		ResetTokenTTL:      15 * time.Minute,
	})
	return svc, metrics
}

func loginReq(password string) models.LoginRequest {
	return models.LoginRequest{
		Email:     "ada@example.com",
		Password:  password,
		IP:        "203.0.113.7",
		UserAgent: "Mozilla/5.0",
	}
}

func TestAuthServiceLoginSuccess(t *testing.T) {
	users := &fakeUserRepo{users: map[string]*models.User{
		"user-1": {ID: "user-1", Username: "ada", Email: "ada@example.com", FullName: "Ada Lovelace", Role: models.RoleMember, Active: true, PasswordHash: hashOf(t, "s3cret-pass")},
	}}
	attempts := &fakeAttemptRepo{}
	audit := &capturingLogger{}
	svc := newTestAuthService(t, users, attempts, audit)

	res, err := svc.Login(context.Background(), loginReq("s3cret-pass"))
	require.NoError(t, err)
	require.NotEmpty(t, res.Token)
	require.Equal(t, int64(900), res.ExpiresIn)
	require.Equal(t, "user-1", users.lastLoginID)

	require.Len(t, attempts.recorded, 1)
	require.True(t, attempts.recorded[0].Success)

	require.Len(t, audit.entries, 1)
	require.Equal(t, models.ActionLogin, audit.entries[0].Action)
}

func TestAuthServiceLoginWrongPassword(t *testing.T) {
	users := &fakeUserRepo{users: map[string]*models.User{
		"user-1": {ID: "user-1", Email: "ada@example.com", Active: true, PasswordHash: hashOf(t, "s3cret-pass")},
	}}
	attempts := &fakeAttemptRepo{}
	audit := &capturingLogger{}
	svc := newTestAuthService(t, users, attempts, audit)

	_, err := svc.Login(context.Background(), loginReq("wrong-pass"))
	require.Error(t, err)
	require.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)

	require.Len(t, attempts.recorded, 1)
	require.False(t, attempts.recorded[0].Success)
	require.Len(t, audit.entries, 1)
	require.Equal(t, models.ActionLoginFailed, audit.entries[0].Action)
}

func TestAuthServiceLoginLockedBeforeVerification(t *testing.T) {
	users := &fakeUserRepo{users: map[string]*models.User{
		"user-1": {ID: "user-1", Email: "ada@example.com", Active: true, PasswordHash: hashOf(t, "s3cret-pass")},
	}}
	attempts := &fakeAttemptRepo{failures: 5}
	audit := &capturingLogger{}
	svc, metrics := newTestAuthServiceWithMetrics(t, users, attempts, audit)

	// Correct password, but the ledger already carries five failures: the
	// attempt is blocked without touching the hash.
	_, err := svc.Login(context.Background(), loginReq("s3cret-pass"))
	require.Error(t, err)
	require.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
	require.Zero(t, users.emailLookups)

	require.Len(t, attempts.recorded, 1)
	require.False(t, attempts.recorded[0].Success)

	require.Len(t, audit.entries, 1)
	require.Equal(t, models.ActionLoginFailed, audit.entries[0].Action)
	require.NotNil(t, audit.entries[0].Details)
	require.Contains(t, *audit.entries[0].Details, "multiple failed attempts")

	// The distinction survives internally as a lockout metric.
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.lockouts))
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.loginFailures))
}

func TestAuthServiceLockedMatchesBadPasswordResponse(t *testing.T) {
	users := func() *fakeUserRepo {
		return &fakeUserRepo{users: map[string]*models.User{
			"user-1": {ID: "user-1", Email: "ada@example.com", Active: true, PasswordHash: hashOf(t, "s3cret-pass")},
		}}
	}

	badPwdSvc := newTestAuthService(t, users(), &fakeAttemptRepo{}, &capturingLogger{})
	_, badPwdErr := badPwdSvc.Login(context.Background(), loginReq("wrong-pass"))
	require.Error(t, badPwdErr)

	lockedSvc := newTestAuthService(t, users(), &fakeAttemptRepo{failures: 5}, &capturingLogger{})
	_, lockedErr := lockedSvc.Login(context.Background(), loginReq("s3cret-pass"))
	require.Error(t, lockedErr)

	// A locked account and a bad password must be indistinguishable to the
	// caller: same code, status and message in the response envelope.
	require.Equal(t, appErrors.FromError(badPwdErr).Code, appErrors.FromError(lockedErr).Code)
	require.Equal(t, appErrors.FromError(badPwdErr).Status, appErrors.FromError(lockedErr).Status)
	require.Equal(t, appErrors.FromError(badPwdErr).Message, appErrors.FromError(lockedErr).Message)
}

func TestAuthServiceLoginBelowThresholdProceeds(t *testing.T) {
	users := &fakeUserRepo{users: map[string]*models.User{
		"user-1": {ID: "user-1", Email: "ada@example.com", Active: true, PasswordHash: hashOf(t, "s3cret-pass")},
	}}
	attempts := &fakeAttemptRepo{failures: 4}
	svc := newTestAuthService(t, users, attempts, &capturingLogger{})

	res, err := svc.Login(context.Background(), loginReq("s3cret-pass"))
	require.NoError(t, err)
	require.NotEmpty(t, res.Token)
}

func TestAuthServiceLoginInactiveAccount(t *testing.T) {
	users := &fakeUserRepo{users: map[string]*models.User{
		"user-1": {ID: "user-1", Email: "ada@example.com", Active: false, PasswordHash: hashOf(t, "s3cret-pass")},
	}}
	attempts := &fakeAttemptRepo{}
	svc := newTestAuthService(t, users, attempts, &capturingLogger{})

	_, err := svc.Login(context.Background(), loginReq("s3cret-pass"))
	require.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)
	require.Len(t, attempts.recorded, 1)
	require.False(t, attempts.recorded[0].Success)
}

func TestAuthServiceLoginUnknownAccount(t *testing.T) {
	users := &fakeUserRepo{users: map[string]*models.User{}}
	attempts := &fakeAttemptRepo{}
	audit := &capturingLogger{}
	svc := newTestAuthService(t, users, attempts, audit)

	_, err := svc.Login(context.Background(), loginReq("whatever"))
	require.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
	// The miss still lands in the ledger so it counts toward the lockout.
	require.Len(t, attempts.recorded, 1)
}

func TestAuthServiceForgotAndResetPassword(t *testing.T) {
	users := &fakeUserRepo{users: map[string]*models.User{
		"user-1": {ID: "user-1", Email: "ada@example.com", Active: true, PasswordHash: hashOf(t, "old-pass-123")},
	}}
	svc := newTestAuthService(t, users, &fakeAttemptRepo{}, &capturingLogger{})

	token, err := svc.ForgotPassword(context.Background(), models.ForgotPasswordRequest{Email: "ada@example.com"})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	err = svc.ResetPassword(context.Background(), models.ResetPasswordRequest{
		Token:       token,
		NewPassword: "new-pass-456",
	}, models.RequestMeta{IP: "203.0.113.7"})
	require.NoError(t, err)
	require.NotEmpty(t, users.updatedPassword)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(users.updatedPassword), []byte("new-pass-456")))
}

func TestAuthServiceForgotPasswordUnknownEmailIsSilent(t *testing.T) {
	svc := newTestAuthService(t, &fakeUserRepo{users: map[string]*models.User{}}, &fakeAttemptRepo{}, &capturingLogger{})

	token, err := svc.ForgotPassword(context.Background(), models.ForgotPasswordRequest{Email: "ghost@example.com"})
	require.NoError(t, err)
	require.Empty(t, token)
}

func TestAuthServiceResetPasswordBadToken(t *testing.T) {
	svc := newTestAuthService(t, &fakeUserRepo{users: map[string]*models.User{}}, &fakeAttemptRepo{}, &capturingLogger{})

	err := svc.ResetPassword(context.Background(), models.ResetPasswordRequest{
		Token:       "not-a-token",
		NewPassword: "new-pass-456",
	}, models.RequestMeta{})
	require.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAuthServicePurgeAttempts(t *testing.T) {
	attempts := &fakeAttemptRepo{purged: 12}
	svc := newTestAuthService(t, &fakeUserRepo{users: map[string]*models.User{}}, attempts, &capturingLogger{})

	removed, err := svc.PurgeAttempts(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(12), removed)
	require.Equal(t, 1, attempts.purgeCalls)
	require.WithinDuration(t, time.Now().UTC().Add(-30*24*time.Hour), attempts.purgeCutoff, time.Minute)
}

func TestAuthServicePurgeAttemptsWithoutRetention(t *testing.T) {
	attempts := &fakeAttemptRepo{purged: 12}
	guard := newTestGuard(newFakeSessionStore())
	svc := NewAuthService(&fakeUserRepo{users: map[string]*models.User{}}, attempts, &capturingLogger{}, guard, nil, nil, zap.NewNop(), AuthConfig{
		LockoutWindow:      30 * time.Minute,
		LockoutMaxFailures: 5,
	})

	removed, err := svc.PurgeAttempts(context.Background())
	require.NoError(t, err)
	require.Zero(t, removed)
	require.Zero(t, attempts.purgeCalls)
}

func TestAuthServiceChangePasswordWrongOld(t *testing.T) {
	users := &fakeUserRepo{users: map[string]*models.User{
		"user-1": {ID: "user-1", Email: "ada@example.com", Active: true, PasswordHash: hashOf(t, "old-pass-123")},
	}}
	svc := newTestAuthService(t, users, &fakeAttemptRepo{}, &capturingLogger{})

	err := svc.ChangePassword(context.Background(), &models.Session{UserID: "user-1"}, models.ChangePasswordRequest{
		OldPassword: "nope",
		NewPassword: "new-pass-456",
	}, models.RequestMeta{})
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	require.Empty(t, users.updatedPassword)
}
