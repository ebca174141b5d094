package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"budgee-sync/src/logger"
	"budgee-sync/src/models"
)

type RuleStore interface {
	CreateTransactionRule(ctx context.Context, rule models.TransactionRule) (models.TransactionRule, error)
	GetTransactionRuleByID(ctx context.Context, userID, ruleID int64) (models.TransactionRule, error)
	ListRules(ctx context.Context, userID int64) ([]models.TransactionRule, error)
	UpdateTransactionRule(ctx context.Context, rule models.TransactionRule) (models.TransactionRule, error)
	DeleteTransactionRule(ctx context.Context, userID, ruleID int64) error
}

type ruleRequest struct {
	Name       string          `json:"name"`
	Conditions json.RawMessage `json:"conditions"`
	Category   string          `json:"category"`
	Priority   int             `json:"priority"`
}

// decodeRule rejects bodies whose conditions do not parse as a condition
// tree, so the categorizer never has to skip them later.
func decodeRule(r *http.Request) (ruleRequest, bool) {
	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, false
	}
	var cond models.Condition
	if req.Name == "" || req.Category == "" || json.Unmarshal(req.Conditions, &cond) != nil {
		return req, false
	}
	return req, true
}

func CreateTransactionRule(store RuleStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := currentUser(w, r)
		if !ok {
			return
		}
		req, ok := decodeRule(r)
		if !ok {
			http.Error(w, "invalid request", http.StatusUnprocessableEntity)
			return
		}
		created, err := store.CreateTransactionRule(r.Context(), models.TransactionRule{
			UserID:     userID,
			Name:       req.Name,
			Conditions: req.Conditions,
			Category:   req.Category,
			Priority:   req.Priority,
		})
		if err != nil {
			writeError(w, r, "failed to create transaction rule", err)
			return
		}
		lg := logger.FromContext(r.Context())
		lg.Info().Int64("user_id", userID).Int64("rule_id", created.ID).Msg("created transaction rule")
		writeJSON(w, http.StatusCreated, created)
	}
}

func GetTransactionRuleByID(store RuleStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := currentUser(w, r)
		if !ok {
			return
		}
		ruleID, ok := pathID(r, "rule_id")
		if !ok {
			http.Error(w, "invalid rule id", http.StatusBadRequest)
			return
		}
		rule, err := store.GetTransactionRuleByID(r.Context(), userID, ruleID)
		if err != nil {
			writeError(w, r, "failed to get transaction rule", err)
			return
		}
		writeJSON(w, http.StatusOK, rule)
	}
}

func GetAllTransactionRules(store RuleStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := currentUser(w, r)
		if !ok {
			return
		}
		rules, err := store.ListRules(r.Context(), userID)
		if err != nil {
			writeError(w, r, "failed to get transaction rules", err)
			return
		}
		if rules == nil {
			rules = []models.TransactionRule{}
		}
		writeJSON(w, http.StatusOK, rules)
	}
}

func UpdateTransactionRule(store RuleStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := currentUser(w, r)
		if !ok {
			return
		}
		ruleID, ok := pathID(r, "rule_id")
		if !ok {
			http.Error(w, "invalid rule id", http.StatusBadRequest)
			return
		}
		req, ok := decodeRule(r)
		if !ok {
			http.Error(w, "invalid request", http.StatusUnprocessableEntity)
			return
		}
		updated, err := store.UpdateTransactionRule(r.Context(), models.TransactionRule{
			ID:         ruleID,
			UserID:     userID,
			Name:       req.Name,
			Conditions: req.Conditions,
			Category:   req.Category,
			Priority:   req.Priority,
		})
		if err != nil {
			writeError(w, r, "failed to update transaction rule", err)
			return
		}
		lg := logger.FromContext(r.Context())
		lg.Info().Int64("user_id", userID).Int64("rule_id", ruleID).Msg("updated transaction rule")
		writeJSON(w, http.StatusOK, updated)
	}
}

func DeleteTransactionRule(store RuleStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := currentUser(w, r)
		if !ok {
			return
		}
		ruleID, ok := pathID(r, "rule_id")
		if !ok {
			http.Error(w, "invalid rule id", http.StatusBadRequest)
			return
		}
		if err := store.DeleteTransactionRule(r.Context(), userID, ruleID); err != nil {
			writeError(w, r, "failed to delete transaction rule", err)
			return
		}
		lg := logger.FromContext(r.Context())
		lg.Info().Int64("user_id", userID).Int64("rule_id", ruleID).Msg("deleted transaction rule")
		writeJSON(w, http.StatusOK, map[string]string{"message": "transaction rule deleted"})
	}
}
