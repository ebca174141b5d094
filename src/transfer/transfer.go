// Package transfer recognises movements between a user's own accounts so
// they never become income or expense entries.
package transfer

import (
	"sort"
	"strings"

	"budgee-sync/src/models"
)

// DefaultInternalPhrases are matched case-insensitively against transaction
// descriptions. Entries must be lower case.
var DefaultInternalPhrases = []string{
	"przelew własny",
	"przelew wlasny",
	"przelew wewnętrzny",
	"przelew wewnetrzny",
	"przelew między rachunkami",
	"przelew miedzy rachunkami",
	"moje cele",
	"automatyczne oszczędzanie",
	"automatyczne oszczedzanie",
	"skarbonka",
	"wpłatomat",
	"wplatomat",
	"wpłata własna",
	"wplata wlasna",
	"kapitalizacja odsetek",
	"own transfer",
	"transfer between own accounts",
	"internal transfer",
	"savings sweep",
	"round up savings",
	"atm deposit",
	"interest capitalization",
	"interest capitalisation",
}

// AccountBICs maps a provider account id to the BIC of the bank holding it.
type AccountBICs map[string]string

type Classifier struct {
	phrases []string
}

// New returns a classifier matching DefaultInternalPhrases plus extra.
func New(extra ...string) *Classifier {
	phrases := make([]string, 0, len(DefaultInternalPhrases)+len(extra))
	phrases = append(phrases, DefaultInternalPhrases...)
	for _, p := range extra {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			phrases = append(phrases, p)
		}
	}
	return &Classifier{phrases: phrases}
}

// IsInternalTransfer reports whether txn moves money between the holder's own
// accounts, either by description or by matching debtor and creditor.
func (c *Classifier) IsInternalTransfer(txn models.BankTransaction, bics AccountBICs) bool {
	if c.MatchesTextPattern(txn.DetailedDescription, txn.OriginalDescription, txn.DisplayDescription) {
		return true
	}
	return structuralMatch(txn, bics)
}

// MatchesTextPattern reports whether any of texts contains a known phrase.
func (c *Classifier) MatchesTextPattern(texts ...string) bool {
	for _, text := range texts {
		if text == "" {
			continue
		}
		lower := strings.ToLower(text)
		for _, phrase := range c.phrases {
			if strings.Contains(lower, phrase) {
				return true
			}
		}
	}
	return false
}

// ClassifyStoredDescriptions is the fallback for stored transactions whose
// raw payload is gone. Descriptions are checked in priority order original,
// detailed, display and the first match wins.
func (c *Classifier) ClassifyStoredDescriptions(original, detailed, display string) bool {
	return c.MatchesTextPattern(original, detailed, display)
}

// structuralMatch needs the account to be known, both agents to share a
// BIC, and the two parties to be the same person by name or address. When
// only one agent is reported, the missing one is taken to be the account's
// bank.
func structuralMatch(txn models.BankTransaction, bics AccountBICs) bool {
	accountBIC, ok := bics[txn.AccountID]
	if !ok {
		return false
	}
	d, cr := txn.Debtor, txn.Creditor
	switch {
	case d.BIC == "" && cr.BIC != "":
		d.BIC = accountBIC
	case cr.BIC == "" && d.BIC != "":
		cr.BIC = accountBIC
	}
	if d.BIC == "" || d.BIC != cr.BIC {
		return false
	}

	dn := strings.TrimSpace(d.Name)
	cn := strings.TrimSpace(cr.Name)
	if dn != "" && strings.EqualFold(dn, cn) {
		return true
	}
	return d.AddressLine != "" && d.AddressLine == cr.AddressLine
}

// InferAccountBICs derives each account's BIC from a batch by majority vote:
// a debit votes for the debtor's BIC, a credit for the creditor's. Ties go to
// the lexicographically smallest BIC. Accounts with no vote are omitted.
func InferAccountBICs(batch []models.BankTransaction) AccountBICs {
	votes := make(map[string]map[string]int)
	for _, txn := range batch {
		bic := txn.Holder().BIC
		if bic == "" || txn.AccountID == "" {
			continue
		}
		if votes[txn.AccountID] == nil {
			votes[txn.AccountID] = make(map[string]int)
		}
		votes[txn.AccountID][bic]++
	}

	out := make(AccountBICs, len(votes))
	for account, counts := range votes {
		bics := make([]string, 0, len(counts))
		for bic := range counts {
			bics = append(bics, bic)
		}
		sort.Strings(bics)

		best := bics[0]
		for _, bic := range bics[1:] {
			if counts[bic] > counts[best] {
				best = bic
			}
		}
		out[account] = best
	}
	return out
}
