// Package rules assigns categories to bank-imported ledger entries from the
// user's condition trees.
package rules

import (
	"encoding/json"
	"sort"
	"strings"

	"budgee-sync/src/models"
)

const Uncategorized = "uncategorized"

// Subject is the view of a bank transaction that conditions can inspect.
type Subject struct {
	Name         string
	MerchantName string
	// Amount is the absolute transaction amount.
	Amount  float64
	Account string
}

func SubjectFromTransaction(t models.BankTransaction) Subject {
	amount, _ := t.Amount.Abs().Float64()
	merchant := t.Counterparty().Name
	return Subject{
		Name:         t.DisplayDescription,
		MerchantName: merchant,
		Amount:       amount,
		Account:      t.AccountID,
	}
}

type compiledRule struct {
	rule models.TransactionRule
	cond models.Condition
}

// Categorizer evaluates one user's rules in priority order.
type Categorizer struct {
	rules   []compiledRule
	skipped int
}

// NewCategorizer parses rules, skipping those with invalid conditions.
func NewCategorizer(rules []models.TransactionRule) *Categorizer {
	c := &Categorizer{}
	for _, r := range rules {
		var cond models.Condition
		if err := json.Unmarshal(r.Conditions, &cond); err != nil || r.Category == "" {
			c.skipped++
			continue
		}
		c.rules = append(c.rules, compiledRule{rule: r, cond: cond})
	}
	sort.SliceStable(c.rules, func(i, j int) bool {
		if c.rules[i].rule.Priority != c.rules[j].rule.Priority {
			return c.rules[i].rule.Priority < c.rules[j].rule.Priority
		}
		return c.rules[i].rule.ID < c.rules[j].rule.ID
	})
	return c
}

// Skipped is the number of rules dropped for invalid conditions.
func (c *Categorizer) Skipped() int { return c.skipped }

// Match returns the first matching rule.
func (c *Categorizer) Match(s Subject) (models.TransactionRule, bool) {
	for _, r := range c.rules {
		if Evaluate(r.cond, s) {
			return r.rule, true
		}
	}
	return models.TransactionRule{}, false
}

// Categorize picks the category for a bank-backed entry: a matching rule,
// then the provider's category, then Uncategorized.
func (c *Categorizer) Categorize(t models.BankTransaction) string {
	if r, ok := c.Match(SubjectFromTransaction(t)); ok {
		return r.Category
	}
	if cat := strings.TrimSpace(t.ProviderCategory); cat != "" {
		return strings.ToLower(cat)
	}
	return Uncategorized
}

// Evaluate reports whether s satisfies cond. Unknown fields and operators
// never match.
func Evaluate(cond models.Condition, s Subject) bool {
	if len(cond.And) > 0 {
		for _, c := range cond.And {
			if !Evaluate(c, s) {
				return false
			}
		}
		return true
	}
	if len(cond.Or) > 0 {
		for _, c := range cond.Or {
			if Evaluate(c, s) {
				return true
			}
		}
		return false
	}

	var fieldValue interface{}
	switch cond.Field {
	case "name":
		fieldValue = s.Name
	case "merchant_name":
		fieldValue = s.MerchantName
	case "amount":
		fieldValue = s.Amount
	case "account":
		fieldValue = s.Account
	default:
		return false
	}

	switch cond.Op {
	case "equals":
		switch v := fieldValue.(type) {
		case string:
			val, ok := cond.Value.(string)
			return ok && strings.EqualFold(v, val)
		case float64:
			val, ok := cond.Value.(float64)
			return ok && v == val
		}
		return false
	case "contains":
		str, ok := fieldValue.(string)
		val, ok2 := cond.Value.(string)
		return ok && ok2 && strings.Contains(strings.ToLower(str), strings.ToLower(val))
	case "gte", "lte", "gt", "lt":
		f, ok := fieldValue.(float64)
		val, ok2 := cond.Value.(float64)
		if !ok || !ok2 {
			return false
		}
		return compare(cond.Op, f, val)
	case "in":
		str, ok := fieldValue.(string)
		arr, ok2 := cond.Value.([]interface{})
		if !ok || !ok2 {
			return false
		}
		for _, v := range arr {
			if item, ok := v.(string); ok && strings.EqualFold(str, item) {
				return true
			}
		}
		return false
	}
	return false
}

func compare(op string, a, b float64) bool {
	switch op {
	case "gte":
		return a >= b
	case "lte":
		return a <= b
	case "gt":
		return a > b
	default:
		return a < b
	}
}
