package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"budgee-sync/src/audit"
	"budgee-sync/src/logger"
	"budgee-sync/src/models"
)

// Reconciler is the slice of reconcile.Service the review endpoints drive.
type Reconciler interface {
	MarkDuplicate(ctx context.Context, userID, entryID, txnID int64, note string) (models.LedgerEntry, error)
	ConfirmSeparate(ctx context.Context, userID, entryID int64, note string) (models.LedgerEntry, error)
}

// Auditor records user review actions.
type Auditor interface {
	Record(ctx context.Context, action, result string, userID, connectionID int64, details map[string]interface{}) (models.AuditEvent, error)
}

func MarkDuplicate(svc Reconciler, rec Auditor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := currentUser(w, r)
		if !ok {
			return
		}
		entryID, ok := pathID(r, "entry_id")
		if !ok {
			http.Error(w, "invalid entry id", http.StatusBadRequest)
			return
		}
		var req struct {
			TransactionID int64  `json:"transaction_id"`
			Note          string `json:"note"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TransactionID <= 0 {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}

		entry, err := svc.MarkDuplicate(r.Context(), userID, entryID, req.TransactionID, req.Note)
		rec.Record(r.Context(), audit.ActionMarkDuplicate, auditResult(err), userID, 0, map[string]interface{}{
			"entry_id":       entryID,
			"transaction_id": req.TransactionID,
		})
		if err != nil {
			writeError(w, r, "failed to mark entry as duplicate", err)
			return
		}

		lg := logger.FromContext(r.Context())
		lg.Info().Int64("user_id", userID).Int64("entry_id", entryID).
			Int64("transaction_id", req.TransactionID).Msg("entry marked as duplicate")
		writeJSON(w, http.StatusOK, entry)
	}
}

func ConfirmSeparate(svc Reconciler, rec Auditor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := currentUser(w, r)
		if !ok {
			return
		}
		entryID, ok := pathID(r, "entry_id")
		if !ok {
			http.Error(w, "invalid entry id", http.StatusBadRequest)
			return
		}
		var req struct {
			Note string `json:"note"`
		}
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "invalid request", http.StatusBadRequest)
				return
			}
		}

		entry, err := svc.ConfirmSeparate(r.Context(), userID, entryID, req.Note)
		rec.Record(r.Context(), audit.ActionConfirmSeparate, auditResult(err), userID, 0, map[string]interface{}{"entry_id": entryID})
		if err != nil {
			writeError(w, r, "failed to confirm entry", err)
			return
		}

		lg := logger.FromContext(r.Context())
		lg.Info().Int64("user_id", userID).Int64("entry_id", entryID).Msg("entry confirmed as separate")
		writeJSON(w, http.StatusOK, entry)
	}
}

func auditResult(err error) string {
	if err != nil {
		return audit.ResultFailure
	}
	return audit.ResultSuccess
}
