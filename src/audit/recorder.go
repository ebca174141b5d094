package audit

import (
	"context"
	"time"

	"budgee-sync/src/logger"
	"budgee-sync/src/models"

	"github.com/google/uuid"
)

const (
	ActionSyncConnection  = "sync_connection"
	ActionSyncRun         = "sync_run"
	ActionMarkDuplicate   = "mark_duplicate"
	ActionConfirmSeparate = "confirm_separate"
	ActionCleanup         = "cleanup"

	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

// Sink persists audit events.
type Sink interface {
	InsertAuditEvent(ctx context.Context, e models.AuditEvent) error
}

type Recorder struct {
	sink Sink
	now  func() time.Time
}

// NewRecorder returns a recorder writing to sink. A nil sink only logs.
func NewRecorder(sink Sink) *Recorder {
	return &Recorder{sink: sink, now: time.Now}
}

// Record sanitizes details, logs the event and persists it. A persistence
// failure is logged and returned but the event is still emitted to the log.
func (r *Recorder) Record(ctx context.Context, action, result string, userID, connectionID int64, details map[string]interface{}) (models.AuditEvent, error) {
	event := models.AuditEvent{
		ID:           uuid.NewString(),
		ActionType:   action,
		Result:       result,
		UserID:       userID,
		ConnectionID: connectionID,
		Details:      Sanitize(details),
		Timestamp:    r.now().UTC(),
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("audit_id", event.ID).
		Str("action", event.ActionType).
		Str("result", event.Result).
		Int64("user_id", event.UserID).
		Int64("connection_id", event.ConnectionID).
		Fields(event.Details).
		Msg("audit")

	if r.sink == nil {
		return event, nil
	}
	if err := r.sink.InsertAuditEvent(ctx, event); err != nil {
		log.Error().Err(err).Str("audit_id", event.ID).Msg("failed to persist audit event")
		return event, err
	}
	return event, nil
}
