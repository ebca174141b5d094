package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type EntryKind string

const (
	KindExpense EntryKind = "expense"
	KindIncome  EntryKind = "income"
)

type EntrySource string

const (
	SourceManual     EntrySource = "manual"
	SourceBankImport EntrySource = "bank_import"
)

type ReconciliationStatus string

const (
	StatusUnreviewed      ReconciliationStatus = "unreviewed"
	StatusBankBacked      ReconciliationStatus = "bank_backed"
	StatusManualConfirmed ReconciliationStatus = "manual_confirmed"
	StatusDuplicateOfBank ReconciliationStatus = "duplicate_of_bank"
	StatusPreBankEra      ReconciliationStatus = "pre_bank_era"
)

// LedgerEntry is an expense or income record. Amount is always positive; Kind
// carries the direction.
type LedgerEntry struct {
	ID                       int64                `json:"id"`
	UserID                   int64                `json:"user_id"`
	Kind                     EntryKind            `json:"kind"`
	Amount                   decimal.Decimal      `json:"amount"`
	Currency                 string               `json:"currency"`
	Category                 string               `json:"category"`
	Description              string               `json:"description"`
	Date                     time.Time            `json:"date"`
	Source                   EntrySource          `json:"source"`
	BankTransactionID        *int64               `json:"bank_transaction_id,omitempty"`
	Status                   ReconciliationStatus `json:"status"`
	DuplicateOfTransactionID *int64               `json:"duplicate_of_transaction_id,omitempty"`
	ReviewNote               string               `json:"review_note,omitempty"`
	ReviewedAt               *time.Time           `json:"reviewed_at,omitempty"`
	CreatedAt                time.Time            `json:"created_at"`
}

// SignedAmount returns the amount in bank sign convention.
func (e LedgerEntry) SignedAmount() decimal.Decimal {
	if e.Kind == KindExpense {
		return e.Amount.Abs().Neg()
	}
	return e.Amount.Abs()
}
