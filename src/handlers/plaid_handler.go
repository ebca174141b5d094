package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"budgee-sync/src/apperrors"
	"budgee-sync/src/logger"
	"budgee-sync/src/models"
)

const maxWebhookBody = 1 << 20

type WebhookVerifier interface {
	Verify(ctx context.Context, body []byte, headers map[string]string) error
}

// ConnectionResolver finds the connection a provider webhook refers to and
// deactivates it when the provider reports revoked access.
type ConnectionResolver interface {
	ConnectionByExternalID(ctx context.Context, provider, externalID string) (models.Connection, error)
	DeactivateConnection(ctx context.Context, connectionID int64, reason string) error
}

type plaidWebhook struct {
	WebhookType string `json:"webhook_type"`
	WebhookCode string `json:"webhook_code"`
	ItemID      string `json:"item_id"`
	Error       *struct {
		ErrorCode string `json:"error_code"`
	} `json:"error"`
}

// PlaidWebhook verifies the Plaid-Verification JWT and turns item webhooks into
// connection syncs or deactivations. Unknown webhooks are acknowledged.
func PlaidWebhook(verifier WebhookVerifier, conns ConnectionResolver, syncer ConnectionSyncer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		headers := make(map[string]string, len(r.Header))
		for k := range r.Header {
			headers[k] = r.Header.Get(k)
		}
		if err := verifier.Verify(r.Context(), body, headers); err != nil {
			log.Warn().Err(err).Msg("rejected plaid webhook")
			http.Error(w, "invalid webhook signature", http.StatusUnauthorized)
			return
		}

		var hook plaidWebhook
		if err := json.Unmarshal(body, &hook); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		log = log.With().Str("webhook_type", hook.WebhookType).Str("webhook_code", hook.WebhookCode).Logger()

		action := webhookAction(hook)
		if action == "" {
			log.Info().Msg("ignoring plaid webhook")
			w.WriteHeader(http.StatusOK)
			return
		}

		conn, err := conns.ConnectionByExternalID(r.Context(), models.ProviderPlaid, hook.ItemID)
		if err != nil {
			if apperrors.Is(err, apperrors.NotFound) {
				log.Warn().Msg("plaid webhook for unknown item")
				w.WriteHeader(http.StatusOK)
				return
			}
			writeError(w, r, "failed to resolve plaid item", err)
			return
		}
		log = log.With().Int64("connection_id", conn.ID).Logger()

		switch action {
		case "sync":
			res, err := syncer.SyncConnection(r.Context(), conn.ID)
			if err != nil {
				writeError(w, r, "webhook sync failed", err)
				return
			}
			log.Info().Int("imported", res.TransactionsImported).Msg("webhook sync finished")
		case "deactivate":
			if err := conns.DeactivateConnection(r.Context(), conn.ID, apperrors.CodeAuthRevoked); err != nil {
				writeError(w, r, "failed to deactivate connection", err)
				return
			}
			log.Warn().Msg("connection deactivated by plaid webhook")
		}
		w.WriteHeader(http.StatusOK)
	}
}

func webhookAction(h plaidWebhook) string {
	switch {
	case h.WebhookType == "TRANSACTIONS" && h.WebhookCode == "SYNC_UPDATES_AVAILABLE":
		return "sync"
	case h.WebhookType == "ITEM" && h.WebhookCode == "ERROR" && h.Error != nil && h.Error.ErrorCode == "ITEM_LOGIN_REQUIRED":
		return "deactivate"
	case h.WebhookType == "ITEM" && h.WebhookCode == "USER_PERMISSION_REVOKED":
		return "deactivate"
	}
	return ""
}
