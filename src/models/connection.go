package models

import "time"

type Connection struct {
	ID             int64      `json:"id"`
	UserID         int64      `json:"user_id"`
	Provider       string     `json:"provider"`
	// ExternalID is the provider's id for the link (Plaid item id).
	ExternalID     string     `json:"external_id,omitempty"`
	AccessToken    string     `json:"-"`
	RefreshToken   string     `json:"-"`
	TokenExpiresAt time.Time  `json:"token_expires_at"`
	AccountIDs     []string   `json:"account_ids"`
	Active         bool       `json:"active"`
	LastSyncAt     *time.Time `json:"last_sync_at"`
	SyncCursor     string     `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Token is a provider credential pair as returned by a refresh.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}
