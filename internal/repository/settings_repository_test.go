package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newSettingsRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestSettingsRepositoryGet(t *testing.T) {
	db, mock, cleanup := newSettingsRepoMock(t)
	defer cleanup()

	repo := NewSettingsRepository(db)
	rows := sqlmock.NewRows([]string{"key", "value", "updated_at"}).
		AddRow("loan_period_days", "14", time.Now().UTC())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT key, value, updated_at FROM settings WHERE key = $1")).
		WithArgs("loan_period_days").
		WillReturnRows(rows)

	setting, err := repo.Get(context.Background(), "loan_period_days")
	require.NoError(t, err)
	require.Equal(t, "14", setting.Value)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSettingsRepositoryUpsert(t *testing.T) {
	db, mock, cleanup := newSettingsRepoMock(t)
	defer cleanup()

	repo := NewSettingsRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, $3) ON CONFLICT (key) DO UPDATE")).
		WithArgs("fine_per_day", "0.75", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Upsert(context.Background(), "fine_per_day", "0.75"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSettingsRepositorySeedSkipsExisting(t *testing.T) {
	db, mock, cleanup := newSettingsRepoMock(t)
	defer cleanup()

	repo := NewSettingsRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (key) DO NOTHING")).
		WithArgs("max_books_per_user", "5", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Seed(context.Background(), map[string]string{"max_books_per_user": "5"}))
	require.NoError(t, mock.ExpectationsWereMet())
}
