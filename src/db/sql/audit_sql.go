package db

import (
	"context"

	"budgee-sync/src/models"
)

// InsertAuditEvent appends e to the audit log. Details must already be
// sanitized.
func (r *Repository) InsertAuditEvent(ctx context.Context, e models.AuditEvent) error {
	query := `
		INSERT INTO audit_log (id, action_type, result, user_id, connection_id, sanitized_details, created_at)
		VALUES ($1, $2, $3, NULLIF($4::bigint, 0), NULLIF($5::bigint, 0), $6, $7)
	`
	details := e.Details
	if details == nil {
		details = map[string]interface{}{}
	}
	_, err := r.q.Exec(ctx, query, e.ID, e.ActionType, e.Result, e.UserID, e.ConnectionID, details, e.Timestamp)
	return err
}
