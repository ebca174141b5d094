package dedupe

import (
	"time"

	"budgee-sync/src/models"

	"github.com/shopspring/decimal"
)

// Candidate is anything a bank transaction can be a duplicate of: a manual
// ledger entry before import, or another bank entry during cleanup. Amount is
// signed in bank convention.
type Candidate struct {
	ID          int64
	AccountID   string
	Description string
	Amount      decimal.Decimal
	Currency    string
	Date        time.Time
}

func CandidateFromEntry(e models.LedgerEntry) Candidate {
	return Candidate{
		ID:          e.ID,
		Description: e.Description,
		Amount:      e.SignedAmount(),
		Currency:    e.Currency,
		Date:        e.Date,
	}
}

// CandidateFromTransaction uses id as the candidate id so callers can key it
// by transaction or by ledger entry.
func CandidateFromTransaction(id int64, t models.BankTransaction) Candidate {
	desc := t.DisplayDescription
	if desc == "" {
		desc = t.OriginalDescription
	}
	return Candidate{
		ID:          id,
		AccountID:   t.AccountID,
		Description: desc,
		Amount:      t.Amount,
		Currency:    t.Currency,
		Date:        t.BookingDate,
	}
}

type indexKey struct {
	sign   int
	bucket int64
}

// Index groups candidates by amount sign and date bucket so a lookup only
// touches the three buckets that can hold a date within the window.
type Index struct {
	window  int
	buckets map[indexKey][]Candidate
	size    int
}

func NewIndex(windowDays int, candidates []Candidate) *Index {
	if windowDays < 1 {
		windowDays = 1
	}
	idx := &Index{window: windowDays, buckets: make(map[indexKey][]Candidate)}
	for _, c := range candidates {
		idx.Add(c)
	}
	return idx
}

func (idx *Index) Add(c Candidate) {
	k := indexKey{sign: c.Amount.Sign(), bucket: Bucket(c.Date, idx.window)}
	idx.buckets[k] = append(idx.buckets[k], c)
	idx.size++
}

func (idx *Index) Len() int { return idx.size }

// Lookup returns the candidates with the same amount sign whose date is
// within the window of date.
func (idx *Index) Lookup(amount decimal.Decimal, date time.Time) []Candidate {
	sign := amount.Sign()
	b := Bucket(date, idx.window)
	var out []Candidate
	for bucket := b - 1; bucket <= b+1; bucket++ {
		for _, c := range idx.buckets[indexKey{sign: sign, bucket: bucket}] {
			if daysBetween(c.Date, date) <= int64(idx.window) {
				out = append(out, c)
			}
		}
	}
	return out
}

// ConsumedSet records candidates already matched in the current batch.
type ConsumedSet map[int64]struct{}

func (s ConsumedSet) Add(id int64) { s[id] = struct{}{} }

func (s ConsumedSet) Contains(id int64) bool {
	_, ok := s[id]
	return ok
}
