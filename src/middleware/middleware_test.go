package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func echoUser(w http.ResponseWriter, r *http.Request) {
	id, ok := UserIDFromContext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if IsSuperAdmin(r.Context()) {
		w.Header().Set("X-Admin", "1")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte{byte('0' + id)})
}

func TestJWTAuthMiddleware(t *testing.T) {
	h := JWTAuthMiddleware(testSecret)(http.HandlerFunc(echoUser))
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
		{"no expiry", "Bearer " + signed(t, jwt.MapClaims{"user_id": 7}), http.StatusUnauthorized},
		{"expired", "Bearer " + signed(t, jwt.MapClaims{"user_id": 7, "exp": time.Now().Add(-time.Hour).Unix()}), http.StatusUnauthorized},
		{"missing user", "Bearer " + signed(t, jwt.MapClaims{"exp": exp}), http.StatusUnauthorized},
		{"valid", "Bearer " + signed(t, jwt.MapClaims{"user_id": 7, "exp": exp}), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestSuperAdminMiddleware(t *testing.T) {
	h := JWTAuthMiddleware(testSecret)(SuperAdminMiddleware(http.HandlerFunc(echoUser)))
	exp := time.Now().Add(time.Hour).Unix()

	req := httptest.NewRequest(http.MethodGet, "/api/admin", nil)
	req.Header.Set("Authorization", "Bearer "+signed(t, jwt.MapClaims{"user_id": 1, "exp": exp}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req.Header.Set("Authorization", "Bearer "+signed(t, jwt.MapClaims{"user_id": 1, "super_admin": true, "exp": exp}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-Admin"))
}

func TestCORSMiddleware(t *testing.T) {
	h := CORSMiddleware([]string{"https://budgeeapp.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/x", nil)
	req.Header.Set("Origin", "https://budgeeapp.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://budgeeapp.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/x", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestReadOnlyMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := ReadOnlyMiddleware(true, "/api/webhooks/plaid")(ok)

	serve := func(req *http.Request) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, serve(httptest.NewRequest(http.MethodGet, "/api/x", nil)))
	assert.Equal(t, http.StatusServiceUnavailable, serve(httptest.NewRequest(http.MethodPost, "/api/x", nil)))
	assert.Equal(t, http.StatusNoContent, serve(httptest.NewRequest(http.MethodPost, "/api/webhooks/plaid", nil)))

	admin := httptest.NewRequest(http.MethodPost, "/api/x", nil)
	admin = admin.WithContext(WithUser(admin.Context(), 1, true))
	assert.Equal(t, http.StatusNoContent, serve(admin))

	open := ReadOnlyMiddleware(false)(ok)
	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/x", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
