package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Party is one side of a transfer as reported by the bank.
type Party struct {
	Name        string `json:"name,omitempty"`
	BIC         string `json:"bic,omitempty"`
	IBAN        string `json:"-"`
	AddressLine string `json:"address_line,omitempty"`
}

// BankTransaction is the provider-agnostic view of one bank movement.
// Amount is signed: negative means money left the account.
type BankTransaction struct {
	ID                    int64           `json:"id"`
	ConnectionID          int64           `json:"connection_id"`
	UserID                int64           `json:"user_id"`
	Provider              string          `json:"provider"`
	ProviderTransactionID string          `json:"provider_transaction_id"`
	AccountID             string          `json:"account_id"`
	Amount                decimal.Decimal `json:"amount"`
	Currency              string          `json:"currency"`
	BookingDate           time.Time       `json:"booking_date"`
	DisplayDescription    string          `json:"display_description"`
	OriginalDescription   string          `json:"original_description"`
	DetailedDescription   string          `json:"detailed_description"`
	Debtor                Party           `json:"debtor"`
	Creditor              Party           `json:"creditor"`
	ProviderCategory      string          `json:"provider_category,omitempty"`
	RawPayload            json.RawMessage `json:"-"`
	// Pending rows are provisional; the provider replaces them with a posted
	// row under a new id, so they are never imported.
	Pending bool `json:"-"`

	IsInternalTransfer  bool    `json:"is_internal_transfer"`
	DuplicateConfidence float64 `json:"duplicate_confidence"`
	DuplicateReason     string  `json:"duplicate_reason,omitempty"`
	SuspectedEntryID    *int64  `json:"suspected_entry_id,omitempty"`
	LedgerEntryID       *int64  `json:"ledger_entry_id,omitempty"`
}

func (t BankTransaction) IsDebit() bool {
	return t.Amount.IsNegative()
}

// Counterparty is the side of the transfer that is not the account holder.
func (t BankTransaction) Counterparty() Party {
	if t.IsDebit() {
		return t.Creditor
	}
	return t.Debtor
}

// Holder is the account holder's side of the transfer.
func (t BankTransaction) Holder() Party {
	if t.IsDebit() {
		return t.Debtor
	}
	return t.Creditor
}
