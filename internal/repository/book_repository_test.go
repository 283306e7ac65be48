package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/openshelf/libms-api/internal/models"
)

func newBookRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func bookRows() *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{"id", "isbn", "title", "author", "category", "publisher", "published_year", "shelf_location", "copies_total", "copies_available", "status", "created_at", "updated_at"}).
		AddRow("book-1", "9780134190440", "The Go Programming Language", "Donovan & Kernighan", "Programming", "Addison-Wesley", 2015, "A3", 3, 2, "available", now, now)
}

func TestBookRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newBookRepoMock(t)
	defer cleanup()

	repo := NewBookRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, isbn, title, author")).
		WithArgs("book-1").
		WillReturnRows(bookRows())

	book, err := repo.FindByID(context.Background(), "book-1")
	require.NoError(t, err)
	require.Equal(t, "The Go Programming Language", book.Title)
	require.Equal(t, models.BookAvailable, book.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBookRepositoryFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newBookRepoMock(t)
	defer cleanup()

	repo := NewBookRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, isbn, title, author")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBookRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newBookRepoMock(t)
	defer cleanup()

	repo := NewBookRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO books")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	book := &models.Book{
		ISBN:            "9780134190440",
		Title:           "The Go Programming Language",
		Author:          "Donovan & Kernighan",
		Category:        "Programming",
		CopiesTotal:     3,
		CopiesAvailable: 3,
		Status:          models.BookAvailable,
	}
	require.NoError(t, repo.Create(context.Background(), book))
	require.NotEmpty(t, book.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBookRepositoryListSearch(t *testing.T) {
	db, mock, cleanup := newBookRepoMock(t)
	defer cleanup()

	repo := NewBookRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, isbn, title, author")).
		WithArgs("%go%", "go").
		WillReturnRows(bookRows())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WithArgs("%go%", "go").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	books, total, err := repo.List(context.Background(), models.BookFilter{Search: "go"})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, books, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}
