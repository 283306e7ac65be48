package models

import "time"

// BorrowingStatus tracks the lifecycle of a loan.
type BorrowingStatus string

const (
	BorrowingActive   BorrowingStatus = "active"
	BorrowingReturned BorrowingStatus = "returned"
	BorrowingOverdue  BorrowingStatus = "overdue"
)

// Borrowing represents a loan of one book copy to a user.
type Borrowing struct {
	ID         string          `db:"id" json:"id"`
	UserID     string          `db:"user_id" json:"user_id"`
	BookID     string          `db:"book_id" json:"book_id"`
	BorrowedAt time.Time       `db:"borrowed_at" json:"borrowed_at"`
	DueAt      time.Time       `db:"due_at" json:"due_at"`
	ReturnedAt *time.Time      `db:"returned_at" json:"returned_at,omitempty"`
	Fine       float64         `db:"fine" json:"fine"`
	Status     BorrowingStatus `db:"status" json:"status"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updated_at"`
}

// BorrowingDetail joins loan rows with book and borrower labels for listings.
type BorrowingDetail struct {
	Borrowing
	BookTitle    string `db:"book_title" json:"book_title"`
	BorrowerName string `db:"borrower_name" json:"borrower_name"`
}

// BorrowingFilter captures filtering criteria for loan listings.
type BorrowingFilter struct {
	UserID   string
	BookID   string
	Status   *BorrowingStatus
	Overdue  bool
	Page     int
	PageSize int
}

// BorrowRequest is the payload for lending a copy.
type BorrowRequest struct {
	UserID string `json:"user_id" validate:"required"`
	BookID string `json:"book_id" validate:"required"`
}
