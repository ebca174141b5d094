package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"budgee-sync/src/apperrors"
	"budgee-sync/src/logger"
	"budgee-sync/src/middleware"

	"github.com/go-chi/chi/v5"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// statusFor maps an error kind and code to the HTTP status returned to the
// caller.
func statusFor(err error) int {
	switch apperrors.KindOf(err) {
	case apperrors.NotFound:
		return http.StatusNotFound
	case apperrors.PolicyViolation:
		switch apperrors.CodeOf(err) {
		case apperrors.CodeInvalidReference:
			return http.StatusUnprocessableEntity
		case apperrors.CodeIneligible:
			return http.StatusForbidden
		}
		return http.StatusConflict
	case apperrors.Transient:
		return http.StatusServiceUnavailable
	case apperrors.Fatal:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError logs err and answers with its mapped status. Internal errors
// never leak their message.
func writeError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := statusFor(err)
	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg(msg)
	} else {
		log.Warn().Err(err).Int("status", status).Msg(msg)
	}

	body := errorBody{Error: msg, Code: apperrors.CodeOf(err)}
	if status < http.StatusInternalServerError {
		body.Error = err.Error()
	}
	writeJSON(w, status, body)
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

// currentUser reads the authenticated user id set by the auth middleware.
func currentUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
	return userID, ok
}

func Health(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok"))
}
