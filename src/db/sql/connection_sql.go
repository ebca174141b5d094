package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"budgee-sync/src/apperrors"
	"budgee-sync/src/models"

	"github.com/jackc/pgx/v5"
)

const connectionColumns = `id, user_id, provider, external_id, access_token, refresh_token, token_expires_at, account_ids, active, last_sync_at, sync_cursor, created_at`

func (r *Repository) scanConnection(row pgx.Row) (models.Connection, error) {
	var (
		c         models.Connection
		access    string
		refresh   string
		expiresAt *time.Time
	)
	err := row.Scan(&c.ID, &c.UserID, &c.Provider, &c.ExternalID, &access, &refresh, &expiresAt, &c.AccountIDs, &c.Active, &c.LastSyncAt, &c.SyncCursor, &c.CreatedAt)
	if err != nil {
		return c, err
	}
	if expiresAt != nil {
		c.TokenExpiresAt = *expiresAt
	}
	if c.AccessToken, err = r.open(access); err != nil {
		return c, fmt.Errorf("open access token of connection %d: %w", c.ID, err)
	}
	if c.RefreshToken, err = r.open(refresh); err != nil {
		return c, fmt.Errorf("open refresh token of connection %d: %w", c.ID, err)
	}
	return c, nil
}

func (r *Repository) ListActiveConnections(ctx context.Context) ([]models.Connection, error) {
	return r.queryConnections(ctx, `SELECT `+connectionColumns+` FROM connections WHERE active ORDER BY id`)
}

// ListConnections returns every connection, including deactivated ones.
func (r *Repository) ListConnections(ctx context.Context) ([]models.Connection, error) {
	return r.queryConnections(ctx, `SELECT `+connectionColumns+` FROM connections ORDER BY id`)
}

func (r *Repository) queryConnections(ctx context.Context, query string) ([]models.Connection, error) {
	rows, err := r.q.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []models.Connection
	for rows.Next() {
		c, err := r.scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

func (r *Repository) GetConnection(ctx context.Context, connectionID int64) (models.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE id = $1`

	c, err := r.scanConnection(r.q.QueryRow(ctx, query, connectionID))
	if err != nil {
		return c, notFound(err, "get connection", "connection", connectionID)
	}
	return c, nil
}

// ConnectionByExternalID resolves the connection a provider webhook refers to.
func (r *Repository) ConnectionByExternalID(ctx context.Context, provider, externalID string) (models.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE provider = $1 AND external_id = $2`

	c, err := r.scanConnection(r.q.QueryRow(ctx, query, provider, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return c, apperrors.New(apperrors.NotFound, apperrors.CodeNotFound, "connection by external id",
			fmt.Sprintf("no %s connection for %s", provider, externalID))
	}
	return c, err
}

func (r *Repository) DeactivateConnection(ctx context.Context, connectionID int64, reason string) error {
	query := `UPDATE connections SET active = FALSE, deactivated_reason = $2 WHERE id = $1`

	cmd, err := r.q.Exec(ctx, query, connectionID, reason)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return apperrors.New(apperrors.NotFound, apperrors.CodeNotFound, "deactivate connection",
			fmt.Sprintf("connection %d not found", connectionID))
	}
	return nil
}

// SaveTokens stores refreshed credentials. An empty refresh token keeps the
// stored one, since providers do not always rotate it.
func (r *Repository) SaveTokens(ctx context.Context, connectionID int64, tok models.Token) error {
	access, err := r.seal(tok.AccessToken)
	if err != nil {
		return err
	}
	refresh, err := r.seal(tok.RefreshToken)
	if err != nil {
		return err
	}
	var expiresAt *time.Time
	if !tok.ExpiresAt.IsZero() {
		expiresAt = &tok.ExpiresAt
	}

	query := `
		UPDATE connections
		SET access_token = $2,
			refresh_token = CASE WHEN $3 = '' THEN refresh_token ELSE $3 END,
			token_expires_at = $4
		WHERE id = $1
	`
	_, err = r.q.Exec(ctx, query, connectionID, access, refresh, expiresAt)
	return err
}

func (r *Repository) UpdateConnectionSync(ctx context.Context, connectionID int64, lastSyncAt time.Time, cursor string) error {
	query := `UPDATE connections SET last_sync_at = $2, sync_cursor = $3 WHERE id = $1`

	_, err := r.q.Exec(ctx, query, connectionID, lastSyncAt, cursor)
	return err
}

func (r *Repository) seal(plaintext string) (string, error) {
	if r.sealer == nil {
		return plaintext, nil
	}
	return r.sealer.Seal(plaintext)
}

func (r *Repository) open(stored string) (string, error) {
	if r.sealer == nil {
		return stored, nil
	}
	return r.sealer.Open(stored)
}
