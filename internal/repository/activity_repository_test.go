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

func newActivityRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestActivityRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newActivityRepoMock(t)
	defer cleanup()

	repo := NewActivityRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO activity_logs")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	actor := "user-1"
	entry := &models.ActivityEntry{
		ActorID:    &actor,
		ActorLabel: "Ada Lovelace",
		Action:     models.ActionLogin,
		Module:     models.ModuleAuth,
		IPAddress:  "203.0.113.7",
		UserAgent:  "Mozilla/5.0",
		Status:     models.ActivitySuccess,
	}
	require.NoError(t, repo.Create(context.Background(), entry))
	require.NotEmpty(t, entry.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActivityRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newActivityRepoMock(t)
	defer cleanup()

	repo := NewActivityRepository(db)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"id", "actor_id", "actor_label", "action", "details", "module", "ip_address", "user_agent", "status", "created_at"}).
		AddRow("act-1", nil, "member@example.com", "LOGIN_FAILED", "invalid password", "auth", "203.0.113.7", "Mozilla/5.0", "failure", now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, actor_id, actor_label, action")).
		WithArgs("LOGIN_FAILED", "failure").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WithArgs("LOGIN_FAILED", "failure").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	entries, total, err := repo.List(context.Background(), models.ActivityFilter{
		Action: "LOGIN_FAILED",
		Status: models.ActivityFailure,
	})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, entries, 1)
	require.Equal(t, "LOGIN_FAILED", entries[0].Action)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActivityRepositoryPurge(t *testing.T) {
	db, mock, cleanup := newActivityRepoMock(t)
	defer cleanup()

	repo := NewActivityRepository(db)
	cutoff := time.Now().Add(-90 * 24 * time.Hour)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM activity_logs WHERE created_at < $1")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 17))

	deleted, err := repo.Purge(context.Background(), cutoff)
	require.NoError(t, err)
	require.Equal(t, int64(17), deleted)
	require.NoError(t, mock.ExpectationsWereMet())
}
