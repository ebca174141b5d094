package handlers

import (
	"context"
	"errors"
	"net/http"

	"budgee-sync/src/apperrors"
	"budgee-sync/src/models"
	"budgee-sync/src/scheduler"
)

type ConnectionSyncer interface {
	SyncConnection(ctx context.Context, connectionID int64) (models.ConnectionResult, error)
}

type ConnectionGetter interface {
	GetConnection(ctx context.Context, connectionID int64) (models.Connection, error)
}

// JobRunner is the scheduler surface exposed to admins.
type JobRunner interface {
	RunNow(ctx context.Context, name string) error
	Jobs() []scheduler.JobInfo
}

// TriggerSync syncs one of the caller's connections now.
func TriggerSync(conns ConnectionGetter, syncer ConnectionSyncer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := currentUser(w, r)
		if !ok {
			return
		}
		connID, ok := pathID(r, "connection_id")
		if !ok {
			http.Error(w, "invalid connection id", http.StatusBadRequest)
			return
		}

		conn, err := conns.GetConnection(r.Context(), connID)
		if err == nil && conn.UserID != userID {
			// Someone else's connection looks the same as a missing one.
			err = apperrors.New(apperrors.NotFound, apperrors.CodeNotFound, "trigger sync", "connection not found")
		}
		if err != nil {
			writeError(w, r, "failed to load connection", err)
			return
		}

		res, err := syncer.SyncConnection(r.Context(), connID)
		if err != nil {
			writeError(w, r, "failed to sync connection", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// RunJob runs a scheduler job immediately and waits for it.
func RunJob(jobs JobRunner, name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := jobs.RunNow(r.Context(), name)
		switch {
		case errors.Is(err, scheduler.ErrJobRunning):
			http.Error(w, "job already running", http.StatusConflict)
			return
		case errors.Is(err, scheduler.ErrUnknownJob):
			http.Error(w, "job not found", http.StatusNotFound)
			return
		case err != nil:
			writeError(w, r, "job failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": name + " finished"})
	}
}

func ListJobs(jobs JobRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, jobs.Jobs())
	}
}
