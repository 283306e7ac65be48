package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/openshelf/libms-api/internal/models"
)

// LoginAttemptRepository persists the append-only login ledger used for
// brute-force lockout decisions.
type LoginAttemptRepository struct {
	db *sqlx.DB
}

// NewLoginAttemptRepository creates a new instance of LoginAttemptRepository.
func NewLoginAttemptRepository(db *sqlx.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

// Record appends one attempt row. Rows are never updated afterwards.
func (r *LoginAttemptRepository) Record(ctx context.Context, attempt *models.LoginAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO login_attempts (id, email, ip_address, user_agent, success, created_at) VALUES (:id, :email, :ip_address, :user_agent, :success, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, attempt); err != nil {
		return fmt.Errorf("record login attempt: %w", err)
	}
	return nil
}

// CountRecentFailures counts failed attempts for the email OR the ip within
// the trailing window.
func (r *LoginAttemptRepository) CountRecentFailures(ctx context.Context, email, ip string, window time.Duration) (int, error) {
	const query = `SELECT COUNT(*) FROM login_attempts WHERE success = FALSE AND created_at > $3 AND (email = $1 OR ip_address = $2)`
	since := time.Now().UTC().Add(-window)
	var count int
	if err := r.db.GetContext(ctx, &count, query, email, ip, since); err != nil {
		return 0, fmt.Errorf("count recent failures: %w", err)
	}
	return count, nil
}

// Purge deletes attempts older than the retention cutoff. Advisory only; the
// lockout window never looks that far back.
func (r *LoginAttemptRepository) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	const query = `DELETE FROM login_attempts WHERE created_at < $1`
	res, err := r.db.ExecContext(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("purge login attempts: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge login attempts rows: %w", err)
	}
	return deleted, nil
}
