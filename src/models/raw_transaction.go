package models

import "encoding/json"

const (
	ProviderOpenBanking = "openbanking"
	ProviderPlaid       = "plaid"
)

// RawTransaction is the typed union handed from a provider adapter to the
// normalizer. Exactly one variant matching Provider is set.
type RawTransaction struct {
	Provider    string
	AccountID   string
	OpenBanking *OpenBankingTxn
	Plaid       *PlaidTxn
	Raw         json.RawMessage
}

type OpenBankingAmount struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type OpenBankingAgent struct {
	BIC string `json:"bic_fi"`
}

type OpenBankingAddress struct {
	AddressLine []string `json:"address_line"`
	TownName    string   `json:"town_name"`
	Country     string   `json:"country"`
}

type OpenBankingParty struct {
	Name          string              `json:"name"`
	PostalAddress *OpenBankingAddress `json:"postal_address"`
}

type OpenBankingAccountRef struct {
	IBAN string `json:"iban"`
}

// OpenBankingTxn mirrors the fields of an open-banking aggregator transaction
// that reconciliation consumes. Everything except the id is optional.
type OpenBankingTxn struct {
	EntryReference        string                 `json:"entry_reference"`
	TransactionID         string                 `json:"transaction_id"`
	TransactionAmount     OpenBankingAmount      `json:"transaction_amount"`
	CreditDebitIndicator  string                 `json:"credit_debit_indicator"`
	BookingDate           string                 `json:"booking_date"`
	ValueDate             string                 `json:"value_date"`
	RemittanceInformation []string               `json:"remittance_information"`
	Debtor                *OpenBankingParty      `json:"debtor"`
	Creditor              *OpenBankingParty      `json:"creditor"`
	DebtorAgent           *OpenBankingAgent      `json:"debtor_agent"`
	CreditorAgent         *OpenBankingAgent      `json:"creditor_agent"`
	DebtorAccount         *OpenBankingAccountRef `json:"debtor_account"`
	CreditorAccount       *OpenBankingAccountRef `json:"creditor_account"`
	BankTransactionCode   string                 `json:"bank_transaction_code"`
	Reference             string                 `json:"reference_number"`
}

// PlaidTxn holds the Plaid transaction fields reconciliation consumes. Plaid
// reports outflows as positive amounts.
type PlaidTxn struct {
	TransactionID       string  `json:"transaction_id"`
	AccountID           string  `json:"account_id"`
	Amount              float64 `json:"amount"`
	IsoCurrencyCode     string  `json:"iso_currency_code"`
	Date                string  `json:"date"`
	Name                string  `json:"name"`
	MerchantName        string  `json:"merchant_name"`
	OriginalDescription string  `json:"original_description"`
	PaymentChannel      string  `json:"payment_channel"`
	Category            string  `json:"personal_finance_category"`
	Pending             bool    `json:"pending"`
}
