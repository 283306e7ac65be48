package models

import "time"

// Session is the server-side state held for a logged-in principal. The
// IP/User-Agent pair is the fingerprint snapshot taken at login and compared
// on every privileged request.
type Session struct {
	Token        string    `json:"token"`
	UserID       string    `json:"user_id"`
	Role         UserRole  `json:"role"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name"`
	IPAddress    string    `json:"ip_address"`
	UserAgent    string    `json:"user_agent"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// RejectReason classifies why the session guard refused a request.
type RejectReason string

const (
	RejectNoSession           RejectReason = "no_session"
	RejectTimeout             RejectReason = "timeout"
	RejectFingerprintMismatch RejectReason = "fingerprint_mismatch"
)
