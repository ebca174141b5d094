// Package normalize maps provider transaction variants onto
// models.BankTransaction. It does no I/O and is idempotent.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"budgee-sync/src/models"
	"budgee-sync/src/util"

	"github.com/shopspring/decimal"
)

var ErrUnsupportedVariant = errors.New("unsupported raw transaction variant")

var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05"}

// Normalize converts raw into a BankTransaction. Missing optional fields
// become empty values and unparsable amounts or dates become zero values;
// see Warnings. Only a union with no variant for its tag is an error.
func Normalize(raw models.RawTransaction) (models.BankTransaction, error) {
	switch strings.ToLower(raw.Provider) {
	case models.ProviderOpenBanking:
		if raw.OpenBanking == nil {
			break
		}
		return fromOpenBanking(raw), nil
	case models.ProviderPlaid:
		if raw.Plaid == nil {
			break
		}
		return fromPlaid(raw), nil
	}
	return models.BankTransaction{}, fmt.Errorf("%w: provider %q", ErrUnsupportedVariant, raw.Provider)
}

// Warnings lists degraded fields of a normalized transaction for the caller
// to log.
func Warnings(t models.BankTransaction) []string {
	var w []string
	if t.BookingDate.IsZero() {
		w = append(w, "missing or unparsable booking date")
	}
	if t.Amount.IsZero() {
		w = append(w, "zero or unparsable amount")
	}
	switch {
	case t.Currency == "":
		w = append(w, "missing currency")
	case !util.ValidateCurrency(t.Currency):
		w = append(w, "invalid currency code "+t.Currency)
	}
	return w
}

func fromOpenBanking(raw models.RawTransaction) models.BankTransaction {
	ob := raw.OpenBanking

	amount, err := decimal.NewFromString(strings.TrimSpace(ob.TransactionAmount.Amount))
	if err != nil {
		amount = decimal.Zero
	}
	amount = amount.Abs()
	if strings.EqualFold(ob.CreditDebitIndicator, "DBIT") {
		amount = amount.Neg()
	}

	date := parseDate(ob.BookingDate)
	if date.IsZero() {
		date = parseDate(ob.ValueDate)
	}

	t := models.BankTransaction{
		Provider:              models.ProviderOpenBanking,
		ProviderTransactionID: openBankingID(raw),
		AccountID:             raw.AccountID,
		Amount:                amount,
		Currency:              strings.ToUpper(strings.TrimSpace(ob.TransactionAmount.Currency)),
		BookingDate:           date,
		Debtor:                party(ob.Debtor, ob.DebtorAgent, ob.DebtorAccount),
		Creditor:              party(ob.Creditor, ob.CreditorAgent, ob.CreditorAccount),
		ProviderCategory:      ob.BankTransactionCode,
		RawPayload:            raw.Raw,
	}

	remittance := make([]string, 0, len(ob.RemittanceInformation))
	for _, line := range ob.RemittanceInformation {
		if line = clean(line); line != "" {
			remittance = append(remittance, line)
		}
	}
	counterparty := t.Counterparty().Name

	t.OriginalDescription = strings.Join(remittance, " ")
	if len(remittance) > 0 {
		t.DisplayDescription = remittance[0]
	} else {
		t.DisplayDescription = counterparty
	}
	t.DetailedDescription = join(t.OriginalDescription, counterparty, clean(ob.Reference))
	return t
}

func fromPlaid(raw models.RawTransaction) models.BankTransaction {
	p := raw.Plaid

	accountID := raw.AccountID
	if accountID == "" {
		accountID = p.AccountID
	}

	name := clean(p.Name)
	merchant := clean(p.MerchantName)

	t := models.BankTransaction{
		Provider:              models.ProviderPlaid,
		ProviderTransactionID: p.TransactionID,
		AccountID:             accountID,
		// Plaid reports outflows as positive.
		Amount:           decimal.NewFromFloat(p.Amount).Neg(),
		Currency:         strings.ToUpper(strings.TrimSpace(p.IsoCurrencyCode)),
		BookingDate:      parseDate(p.Date),
		ProviderCategory: p.Category,
		RawPayload:       raw.Raw,
		Pending:          p.Pending,
	}
	if t.ProviderTransactionID == "" {
		t.ProviderTransactionID = hashID(raw)
	}

	t.DisplayDescription = firstNonEmpty(merchant, name)
	t.OriginalDescription = firstNonEmpty(clean(p.OriginalDescription), name)
	t.DetailedDescription = join(name, merchant, clean(p.PaymentChannel))
	if t.IsDebit() {
		t.Creditor.Name = firstNonEmpty(merchant, name)
	} else {
		t.Debtor.Name = firstNonEmpty(merchant, name)
	}
	return t
}

func openBankingID(raw models.RawTransaction) string {
	if id := strings.TrimSpace(raw.OpenBanking.TransactionID); id != "" {
		return id
	}
	if ref := strings.TrimSpace(raw.OpenBanking.EntryReference); ref != "" {
		return ref
	}
	return hashID(raw)
}

// hashID derives a stable id from the payload for providers that omit one.
func hashID(raw models.RawTransaction) string {
	payload := []byte(raw.Raw)
	if len(payload) == 0 {
		var err error
		if raw.OpenBanking != nil {
			payload, err = json.Marshal(raw.OpenBanking)
		} else {
			payload, err = json.Marshal(raw.Plaid)
		}
		if err != nil {
			payload = nil
		}
	}
	sum := sha256.Sum256(append([]byte(raw.AccountID+"|"), payload...))
	return "sha256:" + hex.EncodeToString(sum[:])
}

func party(p *models.OpenBankingParty, agent *models.OpenBankingAgent, account *models.OpenBankingAccountRef) models.Party {
	var out models.Party
	if p != nil {
		out.Name = clean(p.Name)
		if p.PostalAddress != nil && len(p.PostalAddress.AddressLine) > 0 {
			out.AddressLine = strings.TrimSpace(p.PostalAddress.AddressLine[0])
		}
	}
	if agent != nil {
		out.BIC = util.NormalizeBIC(agent.BIC)
	}
	if account != nil {
		out.IBAN = strings.ToUpper(strings.ReplaceAll(account.IBAN, " ", ""))
	}
	return out
}

func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		}
	}
	return time.Time{}
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func join(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
