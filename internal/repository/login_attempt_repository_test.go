package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/openshelf/libms-api/internal/models"
)

func newLoginAttemptRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestLoginAttemptRepositoryRecord(t *testing.T) {
	db, mock, cleanup := newLoginAttemptRepoMock(t)
	defer cleanup()

	repo := NewLoginAttemptRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO login_attempts")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	attempt := &models.LoginAttempt{
		Email:     "member@example.com",
		IPAddress: "203.0.113.7",
		UserAgent: "Mozilla/5.0",
		Success:   false,
	}
	require.NoError(t, repo.Record(context.Background(), attempt))
	require.NotEmpty(t, attempt.ID)
	require.False(t, attempt.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoginAttemptRepositoryCountRecentFailures(t *testing.T) {
	db, mock, cleanup := newLoginAttemptRepoMock(t)
	defer cleanup()

	repo := NewLoginAttemptRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM login_attempts WHERE success = FALSE AND created_at > $3 AND (email = $1 OR ip_address = $2)")).
		WithArgs("member@example.com", "203.0.113.7", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	count, err := repo.CountRecentFailures(context.Background(), "member@example.com", "203.0.113.7", 30*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 4, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoginAttemptRepositoryPurge(t *testing.T) {
	db, mock, cleanup := newLoginAttemptRepoMock(t)
	defer cleanup()

	repo := NewLoginAttemptRepository(db)
	cutoff := time.Now().Add(-30 * 24 * time.Hour)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM login_attempts WHERE created_at < $1")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 42))

	deleted, err := repo.Purge(context.Background(), cutoff)
	require.NoError(t, err)
	require.Equal(t, int64(42), deleted)
	require.NoError(t, mock.ExpectationsWereMet())
}
