package models

import "time"

// DashboardSummary carries the headline counters shown on the admin landing page.
type DashboardSummary struct {
	TotalBooks        int       `json:"total_books"`
	AvailableBooks    int       `json:"available_books"`
	ActiveBorrowings  int       `json:"active_borrowings"`
	OverdueBorrowings int       `json:"overdue_borrowings"`
	TotalUsers        int       `json:"total_users"`
	RecentFailures24h int       `json:"recent_failures_24h"`
	GeneratedAt       time.Time `json:"generated_at"`
}
