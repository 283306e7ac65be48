package models

import "time"

// Notification types generated by circulation flows.
const (
	NotificationDueSoon          = "due_soon"
	NotificationOverdue          = "overdue"
	NotificationReservationReady = "reservation_ready"
	NotificationAccount          = "account"
)

// Notification is a per-user message shown in the patron or admin UI.
type Notification struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Type      string    `db:"type" json:"type"`
	Title     string    `db:"title" json:"title"`
	Body      string    `db:"body" json:"body"`
	Read      bool      `db:"read" json:"read"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
