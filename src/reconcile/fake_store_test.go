package reconcile

import (
	"context"
	"sort"

	"budgee-sync/src/apperrors"
	"budgee-sync/src/models"
)

// memStore is an in-memory Store. WithTx works on a copy that only replaces
// the committed state when fn succeeds.
type memStore struct {
	data memData
}

type memData struct {
	entries map[int64]models.LedgerEntry
	txns    map[int64]models.BankTransaction
	rules   map[int64][]models.TransactionRule
	conns   []models.Connection
	nextID  int64
}

func newMemStore() *memStore {
	return &memStore{data: memData{
		entries: make(map[int64]models.LedgerEntry),
		txns:    make(map[int64]models.BankTransaction),
		rules:   make(map[int64][]models.TransactionRule),
		nextID:  1000,
	}}
}

func (d memData) clone() memData {
	c := memData{
		entries: make(map[int64]models.LedgerEntry, len(d.entries)),
		txns:    make(map[int64]models.BankTransaction, len(d.txns)),
		rules:   d.rules,
		conns:   d.conns,
		nextID:  d.nextID,
	}
	for k, v := range d.entries {
		c.entries[k] = v
	}
	for k, v := range d.txns {
		c.txns[k] = v
	}
	return c
}

func (s *memStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	work := &memTx{data: s.data.clone()}
	if err := fn(work); err != nil {
		return err
	}
	s.data = work.data
	return nil
}

type memTx struct {
	data memData
}

func (t *memTx) GetEntry(_ context.Context, userID, entryID int64) (models.LedgerEntry, error) {
	e, ok := t.data.entries[entryID]
	if !ok || e.UserID != userID {
		return models.LedgerEntry{}, apperrors.New(apperrors.NotFound, apperrors.CodeNotFound, "GetEntry", "entry not found")
	}
	return e, nil
}

func (t *memTx) UpdateEntryReconciliation(_ context.Context, e models.LedgerEntry) error {
	t.data.entries[e.ID] = e
	return nil
}

func (t *memTx) CreateLedgerEntry(_ context.Context, e models.LedgerEntry) (int64, error) {
	t.data.nextID++
	e.ID = t.data.nextID
	t.data.entries[e.ID] = e
	return e.ID, nil
}

func (t *memTx) DeleteLedgerEntry(_ context.Context, entryID int64) error {
	delete(t.data.entries, entryID)
	return nil
}

func (t *memTx) GetTransaction(_ context.Context, userID, txnID int64) (models.BankTransaction, error) {
	txn, ok := t.data.txns[txnID]
	if !ok || txn.UserID != userID {
		return models.BankTransaction{}, apperrors.New(apperrors.NotFound, apperrors.CodeNotFound, "GetTransaction", "transaction not found")
	}
	return txn, nil
}

func (t *memTx) TransactionsSuspecting(_ context.Context, userID, entryID int64) ([]models.BankTransaction, error) {
	var out []models.BankTransaction
	for _, txn := range t.data.txns {
		if txn.UserID == userID && txn.SuspectedEntryID != nil && *txn.SuspectedEntryID == entryID {
			out = append(out, txn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) UpdateTransactionReconciliation(_ context.Context, txn models.BankTransaction) error {
	t.data.txns[txn.ID] = txn
	return nil
}

func (t *memTx) ListRules(_ context.Context, userID int64) ([]models.TransactionRule, error) {
	return t.data.rules[userID], nil
}

func (t *memTx) ListConnections(_ context.Context) ([]models.Connection, error) {
	return t.data.conns, nil
}

func (t *memTx) EntriesDuplicateOf(_ context.Context, txnID int64) ([]models.LedgerEntry, error) {
	var out []models.LedgerEntry
	for _, e := range t.data.entries {
		if e.DuplicateOfTransactionID != nil && *e.DuplicateOfTransactionID == txnID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) DeleteTransaction(_ context.Context, txnID int64) error {
	delete(t.data.txns, txnID)
	return nil
}

func (t *memTx) ListManualEntries(_ context.Context, userID int64, status models.ReconciliationStatus) ([]models.LedgerEntry, error) {
	var out []models.LedgerEntry
	for _, e := range t.data.entries {
		if e.UserID == userID && e.Source == models.SourceManual && e.Status == status {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) ListBankBacked(_ context.Context) ([]BankBacked, error) {
	var out []BankBacked
	for _, e := range t.data.entries {
		if e.Status == models.StatusBankBacked && e.BankTransactionID != nil {
			out = append(out, BankBacked{Entry: e, Txn: t.data.txns[*e.BankTransactionID]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Entry.ID < out[j].Entry.ID })
	return out, nil
}

func (t *memTx) ListTransactionsForReclassify(_ context.Context) ([]models.BankTransaction, error) {
	var out []models.BankTransaction
	for _, txn := range t.data.txns {
		if !txn.IsInternalTransfer {
			out = append(out, txn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
