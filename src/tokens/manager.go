// Package tokens keeps provider access tokens valid for the sync pipeline.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"budgee-sync/src/apperrors"
	"budgee-sync/src/logger"
	"budgee-sync/src/models"
	"budgee-sync/src/retry"
)

// Refresher exchanges a connection's refresh token for a new access token.
type Refresher interface {
	RefreshToken(ctx context.Context, conn models.Connection) (models.Token, error)
}

// Store persists refreshed credentials so a restart does not refresh again.
type Store interface {
	SaveTokens(ctx context.Context, connectionID int64, tok models.Token) error
}

type Manager struct {
	cache        *Cache
	store        Store
	policy       retry.Policy
	safetyMargin time.Duration
	now          func() time.Time

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(cache *Cache, store Store, policy retry.Policy, safetyMargin time.Duration, opts ...Option) *Manager {
	m := &Manager{
		cache:        cache,
		store:        store,
		policy:       policy,
		safetyMargin: safetyMargin,
		now:          time.Now,
		locks:        make(map[int64]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetValidToken returns an access token that stays valid for at least the
// safety margin, refreshing it through r when needed. conn is updated in place
// with refreshed credentials. Revoked credentials yield an apperrors.Fatal.
func (m *Manager) GetValidToken(ctx context.Context, conn *models.Connection, r Refresher) (string, error) {
	if tok, ok := m.cached(conn.ID); ok {
		return tok, nil
	}

	lock := m.connectionLock(conn.ID)
	lock.Lock()
	defer lock.Unlock()

	if tok, ok := m.cached(conn.ID); ok {
		return tok, nil
	}
	if conn.AccessToken != "" && m.fresh(conn.TokenExpiresAt) {
		m.cache.Set(conn.ID, conn.AccessToken, conn.TokenExpiresAt)
		return conn.AccessToken, nil
	}
	if conn.RefreshToken == "" {
		return "", apperrors.New(apperrors.Fatal, apperrors.CodeAuthRevoked, "refresh token",
			fmt.Sprintf("connection %d has no refresh token", conn.ID))
	}

	log := logger.FromContext(ctx)
	log.Debug().Int64("connection_id", conn.ID).Str("provider", conn.Provider).Msg("refreshing access token")

	tok, err := retry.DoValue(ctx, m.policy, conn.Provider+" token refresh", func(ctx context.Context) (models.Token, error) {
		return r.RefreshToken(ctx, *conn)
	})
	if err != nil {
		m.cache.Delete(conn.ID)
		var se *retry.StatusError
		if errors.As(err, &se) && se.IsAuthError() {
			return "", apperrors.Wrap(apperrors.Fatal, apperrors.CodeAuthRevoked, "refresh token", err)
		}
		return "", fmt.Errorf("refresh token for connection %d: %w", conn.ID, err)
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = conn.RefreshToken
	}

	if err := m.store.SaveTokens(ctx, conn.ID, tok); err != nil {
		return "", fmt.Errorf("save refreshed tokens for connection %d: %w", conn.ID, err)
	}
	conn.AccessToken = tok.AccessToken
	conn.RefreshToken = tok.RefreshToken
	conn.TokenExpiresAt = tok.ExpiresAt
	m.cache.Set(conn.ID, tok.AccessToken, tok.ExpiresAt)

	return tok.AccessToken, nil
}

// Invalidate drops the cached token, e.g. after the provider rejected it.
func (m *Manager) Invalidate(connectionID int64) {
	m.cache.Delete(connectionID)
}

func (m *Manager) cached(connectionID int64) (string, bool) {
	tok, expiresAt, ok := m.cache.Get(connectionID)
	if !ok || !m.fresh(expiresAt) {
		return "", false
	}
	return tok, true
}

// fresh treats a zero expiry as a non-expiring token.
func (m *Manager) fresh(expiresAt time.Time) bool {
	if expiresAt.IsZero() {
		return true
	}
	return m.now().Before(expiresAt.Add(-m.safetyMargin))
}

func (m *Manager) connectionLock(connectionID int64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[connectionID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[connectionID] = l
	}
	return l
}
