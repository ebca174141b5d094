package models

import (
	"encoding/json"
	"time"
)

// TransactionRule assigns Category to bank-imported entries whose transaction
// satisfies Conditions. Rules are evaluated in Priority order, first match wins.
type TransactionRule struct {
	ID         int64           `json:"id"`
	UserID     int64           `json:"user_id"`
	Name       string          `json:"name"`
	Conditions json.RawMessage `json:"conditions"` // JSONB
	Category   string          `json:"category"`
	Priority   int             `json:"priority"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Condition is one node of a rule's predicate tree: a branch when And or Or
// is set, otherwise a Field/Op/Value leaf over the rule subject.
type Condition struct {
	And   []Condition `json:"and,omitempty"`
	Or    []Condition `json:"or,omitempty"`
	Field string      `json:"field,omitempty"`
	Op    string      `json:"op,omitempty"`
	Value interface{} `json:"value,omitempty"`
}
