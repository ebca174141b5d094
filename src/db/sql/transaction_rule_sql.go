package db

import (
	"context"
	"fmt"

	"budgee-sync/src/apperrors"
	"budgee-sync/src/models"

	"github.com/jackc/pgx/v5"
)

const ruleColumns = `id, user_id, name, conditions, category, priority, created_at, updated_at`

func scanRule(row pgx.Row) (models.TransactionRule, error) {
	var r models.TransactionRule
	err := row.Scan(&r.ID, &r.UserID, &r.Name, &r.Conditions, &r.Category, &r.Priority, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (r *Repository) CreateTransactionRule(ctx context.Context, rule models.TransactionRule) (models.TransactionRule, error) {
	query := `
		INSERT INTO transaction_rules (user_id, name, conditions, category, priority)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + ruleColumns

	return scanRule(r.q.QueryRow(ctx, query, rule.UserID, rule.Name, rule.Conditions, rule.Category, rule.Priority))
}

func (r *Repository) GetTransactionRuleByID(ctx context.Context, userID, ruleID int64) (models.TransactionRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM transaction_rules WHERE id = $1 AND user_id = $2`

	rule, err := scanRule(r.q.QueryRow(ctx, query, ruleID, userID))
	if err != nil {
		return rule, notFound(err, "get transaction rule", "transaction rule", ruleID)
	}
	return rule, nil
}

// ListRules returns the user's rules in evaluation order.
func (r *Repository) ListRules(ctx context.Context, userID int64) ([]models.TransactionRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM transaction_rules WHERE user_id = $1 ORDER BY priority, id`

	rows, err := r.q.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []models.TransactionRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r *Repository) UpdateTransactionRule(ctx context.Context, rule models.TransactionRule) (models.TransactionRule, error) {
	query := `
		UPDATE transaction_rules
		SET name = $1, conditions = $2, category = $3, priority = $4, updated_at = NOW()
		WHERE id = $5 AND user_id = $6
		RETURNING ` + ruleColumns

	updated, err := scanRule(r.q.QueryRow(ctx, query, rule.Name, rule.Conditions, rule.Category, rule.Priority, rule.ID, rule.UserID))
	if err != nil {
		return updated, notFound(err, "update transaction rule", "transaction rule", rule.ID)
	}
	return updated, nil
}

func (r *Repository) DeleteTransactionRule(ctx context.Context, userID, ruleID int64) error {
	query := `DELETE FROM transaction_rules WHERE id = $1 AND user_id = $2`
	cmd, err := r.q.Exec(ctx, query, ruleID, userID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return apperrors.New(apperrors.NotFound, apperrors.CodeNotFound, "delete transaction rule",
			fmt.Sprintf("transaction rule %d not found", ruleID))
	}
	return nil
}
