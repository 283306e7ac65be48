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

func newBorrowingRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestBorrowingRepositoryBorrow(t *testing.T) {
	db, mock, cleanup := newBorrowingRepoMock(t)
	defer cleanup()

	repo := NewBorrowingRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE books SET copies_available = copies_available - 1")).
		WithArgs("book-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO borrowings")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	borrowing := &models.Borrowing{
		UserID:     "user-1",
		BookID:     "book-1",
		BorrowedAt: time.Now().UTC(),
		DueAt:      time.Now().UTC().Add(14 * 24 * time.Hour),
	}
	require.NoError(t, repo.Borrow(context.Background(), borrowing))
	require.NotEmpty(t, borrowing.ID)
	require.Equal(t, models.BorrowingActive, borrowing.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBorrowingRepositoryBorrowNoCopies(t *testing.T) {
	db, mock, cleanup := newBorrowingRepoMock(t)
	defer cleanup()

	repo := NewBorrowingRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE books SET copies_available = copies_available - 1")).
		WithArgs("book-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	borrowing := &models.Borrowing{
		UserID:     "user-1",
		BookID:     "book-1",
		BorrowedAt: time.Now().UTC(),
		DueAt:      time.Now().UTC().Add(14 * 24 * time.Hour),
	}
	err := repo.Borrow(context.Background(), borrowing)
	require.ErrorIs(t, err, ErrNoAvailableCopies)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBorrowingRepositoryReturn(t *testing.T) {
	db, mock, cleanup := newBorrowingRepoMock(t)
	defer cleanup()

	repo := NewBorrowingRepository(db)
	returnedAt := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE borrowings SET status = 'returned'")).
		WithArgs("borrow-1", returnedAt, 1.5).
		WillReturnRows(sqlmock.NewRows([]string{"book_id"}).AddRow("book-1"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE books SET copies_available = copies_available + 1")).
		WithArgs("book-1", returnedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Return(context.Background(), "borrow-1", returnedAt, 1.5))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBorrowingRepositoryReturnAlreadyClosed(t *testing.T) {
	db, mock, cleanup := newBorrowingRepoMock(t)
	defer cleanup()

	repo := NewBorrowingRepository(db)
	returnedAt := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE borrowings SET status = 'returned'")).
		WithArgs("borrow-1", returnedAt, 0.0).
		WillReturnRows(sqlmock.NewRows([]string{"book_id"}))
	mock.ExpectRollback()

	err := repo.Return(context.Background(), "borrow-1", returnedAt, 0)
	require.ErrorIs(t, err, ErrBorrowingNotActive)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBorrowingRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newBorrowingRepoMock(t)
	defer cleanup()

	repo := NewBorrowingRepository(db)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"id", "user_id", "book_id", "borrowed_at", "due_at", "returned_at", "fine", "status", "created_at", "updated_at", "book_title", "borrower_name"}).
		AddRow("borrow-1", "user-1", "book-1", now, now.Add(14*24*time.Hour), nil, 0.0, "active", now, now, "The Go Programming Language", "Ada Lovelace")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT b.id, b.user_id, b.book_id")).
		WithArgs("user-1", "active").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WithArgs("user-1", "active").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	status := models.BorrowingActive
	list, total, err := repo.List(context.Background(), models.BorrowingFilter{UserID: "user-1", Status: &status})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, list, 1)
	require.Equal(t, "The Go Programming Language", list[0].BookTitle)
	require.Equal(t, "Ada Lovelace", list[0].BorrowerName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBorrowingRepositoryMarkOverdue(t *testing.T) {
	db, mock, cleanup := newBorrowingRepoMock(t)
	defer cleanup()

	repo := NewBorrowingRepository(db)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"id", "user_id", "book_id", "borrowed_at", "due_at", "returned_at", "fine", "status", "created_at", "updated_at"}).
		AddRow("borrow-1", "user-1", "book-1", now.Add(-20*24*time.Hour), now.Add(-6*24*time.Hour), nil, 0.0, "overdue", now, now)
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE borrowings SET status = 'overdue'")).
		WithArgs(now).
		WillReturnRows(rows)

	overdue, err := repo.MarkOverdue(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	require.Equal(t, models.BorrowingOverdue, overdue[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}
