package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/openshelf/libms-api/internal/models"
)

// Sentinel errors surfaced by the circulation transactions.
var (
	// ErrNoAvailableCopies signals the conditional decrement matched no row.
	ErrNoAvailableCopies = errors.New("no available copies")
	// ErrBorrowingNotActive signals the borrowing was already returned (or
	// never existed) when the return transaction ran.
	ErrBorrowingNotActive = errors.New("borrowing not active")
)

// BorrowingRepository provides database access for loans. Multi-entity
// mutations (borrow, return) run in a single transaction so no partial state
// is ever observable.
type BorrowingRepository struct {
	db *sqlx.DB
}

// NewBorrowingRepository creates a new instance of BorrowingRepository.
func NewBorrowingRepository(db *sqlx.DB) *BorrowingRepository {
	return &BorrowingRepository{db: db}
}

const borrowingColumns = `id, user_id, book_id, borrowed_at, due_at, returned_at, fine, status, created_at, updated_at`

// FindByID returns a borrowing by identifier.
func (r *BorrowingRepository) FindByID(ctx context.Context, id string) (*models.Borrowing, error) {
	const query = `SELECT ` + borrowingColumns + ` FROM borrowings WHERE id = $1 LIMIT 1`
	var borrowing models.Borrowing
	if err := r.db.GetContext(ctx, &borrowing, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find borrowing by id: %w", err)
	}
	return &borrowing, nil
}

// CountActiveByUser returns the number of open loans held by a user.
func (r *BorrowingRepository) CountActiveByUser(ctx context.Context, userID string) (int, error) {
	const query = `SELECT COUNT(*) FROM borrowings WHERE user_id = $1 AND status IN ('active', 'overdue')`
	var count int
	if err := r.db.GetContext(ctx, &count, query, userID); err != nil {
		return 0, fmt.Errorf("count active borrowings: %w", err)
	}
	return count, nil
}

// Borrow lends one copy: it decrements copies_available only while a copy
// remains, flips the book to unavailable when the last copy leaves, and
// inserts the borrowing row. Any failure rolls the whole sequence back.
func (r *BorrowingRepository) Borrow(ctx context.Context, borrowing *models.Borrowing) error {
	if borrowing.ID == "" {
		borrowing.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if borrowing.CreatedAt.IsZero() {
		borrowing.CreatedAt = now
	}
	borrowing.UpdatedAt = now
	if borrowing.Status == "" {
		borrowing.Status = models.BorrowingActive
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin borrow tx: %w", err)
	}

	const decrement = `UPDATE books SET copies_available = copies_available - 1, status = CASE WHEN copies_available - 1 = 0 THEN 'unavailable' ELSE status END, updated_at = $2 WHERE id = $1 AND copies_available > 0`
	res, err := tx.ExecContext(ctx, decrement, borrowing.BookID, now)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("decrement available copies: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("decrement rows affected: %w", err)
	}
	if affected == 0 {
		_ = tx.Rollback()
		return ErrNoAvailableCopies
	}

	const insert = `INSERT INTO borrowings (id, user_id, book_id, borrowed_at, due_at, returned_at, fine, status, created_at, updated_at) VALUES (:id, :user_id, :book_id, :borrowed_at, :due_at, :returned_at, :fine, :status, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, insert, borrowing); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert borrowing: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit borrow tx: %w", err)
	}
	return nil
}

// Return closes a loan: it marks the borrowing returned only if it is still
// open, increments copies_available and flips the book back to available once
// every copy is on the shelf. The status guard on the first update makes
// concurrent returns of the same borrowing lose cleanly instead of
// double-counting the copy.
func (r *BorrowingRepository) Return(ctx context.Context, id string, returnedAt time.Time, fine float64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin return tx: %w", err)
	}

	const closeLoan = `UPDATE borrowings SET status = 'returned', returned_at = $2, fine = $3, updated_at = $2 WHERE id = $1 AND status IN ('active', 'overdue') RETURNING book_id`
	var bookID string
	if err := tx.QueryRowxContext(ctx, closeLoan, id, returnedAt, fine).Scan(&bookID); err != nil {
		_ = tx.Rollback()
		if err == sql.ErrNoRows {
			return ErrBorrowingNotActive
		}
		return fmt.Errorf("close borrowing: %w", err)
	}

	const increment = `UPDATE books SET copies_available = copies_available + 1, status = CASE WHEN copies_available + 1 = copies_total THEN 'available' ELSE status END, updated_at = $2 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, increment, bookID, returnedAt); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("increment available copies: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit return tx: %w", err)
	}
	return nil
}

// List returns loans matching the filter with total count, joined with book
// and borrower labels.
func (r *BorrowingRepository) List(ctx context.Context, filter models.BorrowingFilter) ([]models.BorrowingDetail, int, error) {
	baseQuery := `FROM borrowings b JOIN books bk ON bk.id = b.book_id JOIN users u ON u.id = b.user_id WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("b.user_id = $%d", len(args)+1))
		args = append(args, filter.UserID)
	}
	if filter.BookID != "" {
		conditions = append(conditions, fmt.Sprintf("b.book_id = $%d", len(args)+1))
		args = append(args, filter.BookID)
	}
	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("b.status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.Overdue {
		conditions = append(conditions, fmt.Sprintf("b.status != 'returned' AND b.due_at < $%d", len(args)+1))
		args = append(args, time.Now().UTC())
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf(`SELECT b.id, b.user_id, b.book_id, b.borrowed_at, b.due_at, b.returned_at, b.fine, b.status, b.created_at, b.updated_at, bk.title AS book_title, u.full_name AS borrower_name %s ORDER BY b.borrowed_at DESC LIMIT %d OFFSET %d`, baseQuery, pageSize, offset)

	var borrowings []models.BorrowingDetail
	if err := r.db.SelectContext(ctx, &borrowings, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list borrowings: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count borrowings: %w", err)
	}

	return borrowings, total, nil
}

// MarkOverdue flips active loans past their due date to overdue and returns
// the affected rows for notification fan-out.
func (r *BorrowingRepository) MarkOverdue(ctx context.Context, now time.Time) ([]models.Borrowing, error) {
	const query = `UPDATE borrowings SET status = 'overdue', updated_at = $1 WHERE status = 'active' AND due_at < $1 RETURNING ` + borrowingColumns
	var overdue []models.Borrowing
	if err := r.db.SelectContext(ctx, &overdue, query, now); err != nil {
		return nil, fmt.Errorf("mark overdue borrowings: %w", err)
	}
	return overdue, nil
}

// CountByStatus returns the number of loans carrying the given status.
func (r *BorrowingRepository) CountByStatus(ctx context.Context, status models.BorrowingStatus) (int, error) {
	const query = `SELECT COUNT(*) FROM borrowings WHERE status = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, status); err != nil {
		return 0, fmt.Errorf("count borrowings by status: %w", err)
	}
	return count, nil
}
