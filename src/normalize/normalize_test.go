package normalize

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"budgee-sync/src/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openBankingRaw() models.RawTransaction {
	return models.RawTransaction{
		Provider:  models.ProviderOpenBanking,
		AccountID: "acc-1",
		OpenBanking: &models.OpenBankingTxn{
			TransactionID:         "tx-1",
			TransactionAmount:     models.OpenBankingAmount{Amount: "45.20", Currency: "pln"},
			CreditDebitIndicator:  "DBIT",
			BookingDate:           "2026-03-14",
			RemittanceInformation: []string{"  LIDL   WARSZAWA ", "karta 1234"},
			Debtor:                &models.OpenBankingParty{Name: "Jan Kowalski"},
			Creditor: &models.OpenBankingParty{
				Name:          "LIDL SP Z O.O.",
				PostalAddress: &models.OpenBankingAddress{AddressLine: []string{"ul. Poznanska 48"}},
			},
			DebtorAgent:   &models.OpenBankingAgent{BIC: "ingbplpwxxx"},
			CreditorAgent: &models.OpenBankingAgent{BIC: "PKOPPLPW"},
			DebtorAccount: &models.OpenBankingAccountRef{IBAN: "PL61 1090 1014 0000 0712 1981 2874"},
			Reference:     "REF-9",
		},
		Raw: json.RawMessage(`{"transaction_id":"tx-1"}`),
	}
}

func TestNormalize_OpenBanking(t *testing.T) {
	txn, err := Normalize(openBankingRaw())
	require.NoError(t, err)

	assert.Equal(t, "tx-1", txn.ProviderTransactionID)
	assert.Equal(t, "acc-1", txn.AccountID)
	assert.True(t, txn.Amount.Equal(decimal.RequireFromString("-45.20")))
	assert.Equal(t, "PLN", txn.Currency)
	assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), txn.BookingDate)
	assert.Equal(t, "LIDL WARSZAWA", txn.DisplayDescription)
	assert.Equal(t, "LIDL WARSZAWA karta 1234", txn.OriginalDescription)
	assert.Equal(t, "LIDL WARSZAWA karta 1234 LIDL SP Z O.O. REF-9", txn.DetailedDescription)
	assert.Equal(t, "INGBPLPW", txn.Debtor.BIC)
	assert.Equal(t, "PKOPPLPW", txn.Creditor.BIC)
	assert.Equal(t, "PL61109010140000071219812874", txn.Debtor.IBAN)
	assert.Equal(t, "ul. Poznanska 48", txn.Creditor.AddressLine)
	assert.Empty(t, Warnings(txn))
}

func TestNormalize_OpenBankingCreditAndFallbacks(t *testing.T) {
	raw := openBankingRaw()
	raw.OpenBanking.TransactionID = ""
	raw.OpenBanking.EntryReference = "entry-7"
	raw.OpenBanking.CreditDebitIndicator = "CRDT"
	raw.OpenBanking.RemittanceInformation = nil
	raw.OpenBanking.BookingDate = ""
	raw.OpenBanking.ValueDate = "2026-03-15"
	raw.OpenBanking.Debtor = &models.OpenBankingParty{Name: "Employer SA"}

	txn, err := Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, "entry-7", txn.ProviderTransactionID)
	assert.True(t, txn.Amount.IsPositive())
	assert.Equal(t, "Employer SA", txn.DisplayDescription)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), txn.BookingDate)
}

func TestNormalize_HashIDWhenNoIdentifiers(t *testing.T) {
	raw := openBankingRaw()
	raw.OpenBanking.TransactionID = ""

	a, err := Normalize(raw)
	require.NoError(t, err)
	b, err := Normalize(raw)
	require.NoError(t, err)

	assert.Contains(t, a.ProviderTransactionID, "sha256:")
	assert.Equal(t, a.ProviderTransactionID, b.ProviderTransactionID)

	raw.Raw = json.RawMessage(`{"other":true}`)
	c, err := Normalize(raw)
	require.NoError(t, err)
	assert.NotEqual(t, a.ProviderTransactionID, c.ProviderTransactionID)
}

func TestNormalize_DegradesUnparsableFields(t *testing.T) {
	raw := openBankingRaw()
	raw.OpenBanking.TransactionAmount.Amount = "12,50 zl"
	raw.OpenBanking.BookingDate = "14/03/2026"

	txn, err := Normalize(raw)
	require.NoError(t, err)
	assert.True(t, txn.Amount.IsZero())
	assert.True(t, txn.BookingDate.IsZero())
	assert.Len(t, Warnings(txn), 2)
}

func TestWarnings_InvalidCurrency(t *testing.T) {
	raw := openBankingRaw()
	raw.OpenBanking.TransactionAmount.Currency = "zł"

	txn, err := Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"invalid currency code ZŁ"}, Warnings(txn))

	raw.OpenBanking.TransactionAmount.Currency = ""
	txn, err = Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"missing currency"}, Warnings(txn))
}

func TestNormalize_Plaid(t *testing.T) {
	raw := models.RawTransaction{
		Provider: models.ProviderPlaid,
		Plaid: &models.PlaidTxn{
			TransactionID:       "p-1",
			AccountID:           "plaid-acc",
			Amount:              12.5,
			IsoCurrencyCode:     "USD",
			Date:                "2026-02-01",
			Name:                "STARBUCKS 123",
			MerchantName:        "Starbucks",
			OriginalDescription: "STARBUCKS STORE 123 SEATTLE",
			PaymentChannel:      "in store",
			Category:            "FOOD_AND_DRINK",
		},
	}

	txn, err := Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, "p-1", txn.ProviderTransactionID)
	assert.Equal(t, "plaid-acc", txn.AccountID)
	assert.True(t, txn.Amount.Equal(decimal.RequireFromString("-12.5")))
	assert.Equal(t, "Starbucks", txn.DisplayDescription)
	assert.Equal(t, "STARBUCKS STORE 123 SEATTLE", txn.OriginalDescription)
	assert.Equal(t, "STARBUCKS 123 Starbucks in store", txn.DetailedDescription)
	assert.Equal(t, "FOOD_AND_DRINK", txn.ProviderCategory)
	assert.Equal(t, "Starbucks", txn.Creditor.Name)

	raw.Plaid.Amount = -1000
	raw.Plaid.MerchantName = ""
	raw.Plaid.OriginalDescription = ""
	income, err := Normalize(raw)
	require.NoError(t, err)
	assert.True(t, income.Amount.IsPositive())
	assert.Equal(t, "STARBUCKS 123", income.DisplayDescription)
	assert.Equal(t, "STARBUCKS 123", income.OriginalDescription)
}

func TestNormalize_Idempotent(t *testing.T) {
	raw := openBankingRaw()
	a, err := Normalize(raw)
	require.NoError(t, err)
	b, err := Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestNormalize_UnsupportedVariant(t *testing.T) {
	_, err := Normalize(models.RawTransaction{Provider: "nordigen"})
	assert.True(t, errors.Is(err, ErrUnsupportedVariant))

	_, err = Normalize(models.RawTransaction{Provider: models.ProviderPlaid})
	assert.True(t, errors.Is(err, ErrUnsupportedVariant))
}
