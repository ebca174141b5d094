package openbanking

import "encoding/json"

type accountsResponse struct {
	Accounts []accountResource `json:"accounts"`
}

type accountResource struct {
	UID             string `json:"uid"`
	Name            string `json:"name"`
	Product         string `json:"product"`
	Currency        string `json:"currency"`
	CashAccountType string `json:"cash_account_type"`
	AccountID       struct {
		IBAN string `json:"iban"`
	} `json:"account_id"`
	Servicer struct {
		BIC string `json:"bic_fi"`
	} `json:"account_servicer"`
}

type transactionsResponse struct {
	Transactions    []json.RawMessage `json:"transactions"`
	ContinuationKey string            `json:"continuation_key"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
