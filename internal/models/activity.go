package models

import "time"

// Activity actions recorded in the audit trail.
const (
	ActionLogin              = "LOGIN"
	ActionLoginFailed        = "LOGIN_FAILED"
	ActionLogout             = "LOGOUT"
	ActionPasswordChange     = "PASSWORD_CHANGE"
	ActionPasswordReset      = "PASSWORD_RESET"
	ActionUserCreate         = "USER_CREATE"
	ActionUserUpdate         = "USER_UPDATE"
	ActionUserDelete         = "USER_DELETE"
	ActionBookCreate         = "BOOK_CREATE"
	ActionBookUpdate         = "BOOK_UPDATE"
	ActionBookDelete         = "BOOK_DELETE"
	ActionBorrowCreate       = "BORROW_CREATE"
	ActionBorrowReturn       = "BORROW_RETURN"
	ActionBorrowOverdue      = "BORROW_OVERDUE"
	ActionReservationCreate  = "RESERVATION_CREATE"
	ActionReservationCancel  = "RESERVATION_CANCEL"
	ActionReservationFulfill = "RESERVATION_FULFILL"
	ActionSettingsUpdate     = "SETTINGS_UPDATE"
	ActionReportExport       = "REPORT_EXPORT"
)

// Modules group activity entries for filtering and reports.
const (
	ModuleAuth         = "auth"
	ModuleUsers        = "users"
	ModuleBooks        = "books"
	ModuleBorrowings   = "borrowings"
	ModuleReservations = "reservations"
	ModuleSettings     = "settings"
	ModuleReports      = "reports"
)

// ActivityStatus marks an entry as a successful or failed action.
type ActivityStatus string

const (
	ActivitySuccess ActivityStatus = "success"
	ActivityFailure ActivityStatus = "failure"
)

// ActivityEntry is one row of the append-only audit trail. ActorID is nil
// for anonymous events such as failed logins against unknown accounts.
type ActivityEntry struct {
	ID         string         `db:"id" json:"id"`
	ActorID    *string        `db:"actor_id" json:"actor_id,omitempty"`
	ActorLabel string         `db:"actor_label" json:"actor_label"`
	Action     string         `db:"action" json:"action"`
	Details    *string        `db:"details" json:"details,omitempty"`
	Module     string         `db:"module" json:"module"`
	IPAddress  string         `db:"ip_address" json:"ip_address"`
	UserAgent  string         `db:"user_agent" json:"user_agent"`
	Status     ActivityStatus `db:"status" json:"status"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
}

// ActivityFilter captures the read-view filters for the audit trail.
type ActivityFilter struct {
	ActorID  string
	Action   string
	Module   string
	Status   ActivityStatus
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

// RiskBand is the display-only severity band derived from the risk score.
type RiskBand string

const (
	RiskNormal RiskBand = "normal"
	RiskLow    RiskBand = "low"
	RiskMedium RiskBand = "medium"
	RiskHigh   RiskBand = "high"
)

// ScoredActivityEntry pairs an audit entry with its presentation risk score.
type ScoredActivityEntry struct {
	ActivityEntry
	RiskScore int      `json:"risk_score"`
	RiskBand  RiskBand `json:"risk_band"`
}
