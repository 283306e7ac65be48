package models

import "time"

// LoginAttempt is one row in the append-only login ledger. Rows are never
// updated; the lockout check counts recent failures and a retention purge
// deletes aged rows.
type LoginAttempt struct {
	ID        string    `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	IPAddress string    `db:"ip_address" json:"ip_address"`
	UserAgent string    `db:"user_agent" json:"user_agent"`
	Success   bool      `db:"success" json:"success"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
