package models

import "time"

// Well-known settings keys seeded at startup.
const (
	SettingLoanPeriodDays  = "loan_period_days"
	SettingMaxBooksPerUser = "max_books_per_user"
	SettingFinePerDay      = "fine_per_day"
	SettingLibraryName     = "library_name"
)

// Setting is one row of the mutable key/value settings table.
type Setting struct {
	Key       string    `db:"key" json:"key"`
	Value     string    `db:"value" json:"value"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
