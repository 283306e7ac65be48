package models

import "time"

// ReservationStatus tracks the hold queue lifecycle.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationReady     ReservationStatus = "ready"
	ReservationFulfilled ReservationStatus = "fulfilled"
	ReservationCancelled ReservationStatus = "cancelled"
)

// Reservation represents a hold placed on a currently unavailable book.
type Reservation struct {
	ID        string            `db:"id" json:"id"`
	UserID    string            `db:"user_id" json:"user_id"`
	BookID    string            `db:"book_id" json:"book_id"`
	Status    ReservationStatus `db:"status" json:"status"`
	ReadyAt   *time.Time        `db:"ready_at" json:"ready_at,omitempty"`
	CreatedAt time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt time.Time         `db:"updated_at" json:"updated_at"`
}

// ReservationFilter captures filtering criteria for hold listings.
type ReservationFilter struct {
	UserID   string
	BookID   string
	Status   *ReservationStatus
	Page     int
	PageSize int
}

// ReserveRequest is the payload for placing a hold.
type ReserveRequest struct {
	UserID string `json:"user_id" validate:"required"`
	BookID string `json:"book_id" validate:"required"`
}
