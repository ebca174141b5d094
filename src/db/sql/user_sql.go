package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// Reasons reported when bank integration is not available to a user.
const (
	ReasonUnknownUser         = "unknown_user"
	ReasonLocked              = "locked"
	ReasonNoSubscription      = "no_subscription"
	ReasonSubscriptionExpired = "subscription_expired"
)

// CanUseBankIntegration checks the user's lock and subscription state. Users
// are managed elsewhere; this only reads them.
func (r *Repository) CanUseBankIntegration(ctx context.Context, userID int64) (bool, string, error) {
	query := `
		SELECT is_locked, subscription_status, subscription_expires_at
		FROM users
		WHERE id = $1
	`
	var (
		locked    bool
		status    string
		expiresAt *time.Time
	)
	err := r.q.QueryRow(ctx, query, userID).Scan(&locked, &status, &expiresAt)
	if err == pgx.ErrNoRows {
		return false, ReasonUnknownUser, nil
	}
	if err != nil {
		return false, "", err
	}
	allowed, reason := entitled(locked, status, expiresAt, time.Now())
	return allowed, reason, nil
}

func entitled(locked bool, status string, expiresAt *time.Time, now time.Time) (bool, string) {
	switch {
	case locked:
		return false, ReasonLocked
	case status != "active" && status != "trialing":
		return false, ReasonNoSubscription
	case expiresAt != nil && !expiresAt.After(now):
		return false, ReasonSubscriptionExpired
	}
	return true, ""
}
