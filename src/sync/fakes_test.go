package sync

import (
	"context"
	"errors"
	"sort"
	"time"

	"budgee-sync/src/apperrors"
	"budgee-sync/src/models"
	"budgee-sync/src/providers"
	"budgee-sync/src/tokens"
)

type memState struct {
	conns   map[int64]models.Connection
	txns    map[int64]models.BankTransaction
	entries map[int64]models.LedgerEntry
	rules   map[int64][]models.TransactionRule
	nextID  int64
}

func (s memState) clone() memState {
	c := memState{
		conns:   make(map[int64]models.Connection, len(s.conns)),
		txns:    make(map[int64]models.BankTransaction, len(s.txns)),
		entries: make(map[int64]models.LedgerEntry, len(s.entries)),
		rules:   s.rules,
		nextID:  s.nextID,
	}
	for k, v := range s.conns {
		c.conns[k] = v
	}
	for k, v := range s.txns {
		c.txns[k] = v
	}
	for k, v := range s.entries {
		c.entries[k] = v
	}
	return c
}

type memStore struct {
	state       memState
	listErr     error
	failInsert  map[int64]bool
	deactivated map[int64]string
}

func newMemStore(conns ...models.Connection) *memStore {
	s := &memStore{
		state: memState{
			conns:   make(map[int64]models.Connection),
			txns:    make(map[int64]models.BankTransaction),
			entries: make(map[int64]models.LedgerEntry),
			rules:   make(map[int64][]models.TransactionRule),
			nextID:  100,
		},
		failInsert:  make(map[int64]bool),
		deactivated: make(map[int64]string),
	}
	for _, c := range conns {
		s.state.conns[c.ID] = c
	}
	return s
}

func (s *memStore) ListActiveConnections(context.Context) ([]models.Connection, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []models.Connection
	for _, c := range s.state.conns {
		if c.Active {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) GetConnection(_ context.Context, id int64) (models.Connection, error) {
	c, ok := s.state.conns[id]
	if !ok {
		return models.Connection{}, apperrors.New(apperrors.NotFound, apperrors.CodeNotFound, "GetConnection", "connection not found")
	}
	return c, nil
}

func (s *memStore) DeactivateConnection(_ context.Context, id int64, reason string) error {
	c := s.state.conns[id]
	c.Active = false
	s.state.conns[id] = c
	s.deactivated[id] = reason
	return nil
}

func (s *memStore) WithTx(_ context.Context, fn func(tx Tx) error) error {
	work := &memTx{state: s.state.clone(), failInsert: s.failInsert}
	if err := fn(work); err != nil {
		return err
	}
	s.state = work.state
	return nil
}

func (s *memStore) entriesBySource(src models.EntrySource) []models.LedgerEntry {
	var out []models.LedgerEntry
	for _, e := range s.state.entries {
		if e.Source == src {
			out = append(out, e)
		}
	}
	return out
}

type memTx struct {
	state      memState
	failInsert map[int64]bool
}

func (t *memTx) ListManualEntries(_ context.Context, userID int64, status models.ReconciliationStatus) ([]models.LedgerEntry, error) {
	var out []models.LedgerEntry
	for _, e := range t.state.entries {
		if e.UserID == userID && e.Source == models.SourceManual && e.Status == status {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) ListRules(_ context.Context, userID int64) ([]models.TransactionRule, error) {
	return t.state.rules[userID], nil
}

func (t *memTx) ExistingProviderIDs(_ context.Context, provider string, ids []string) (map[string]bool, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make(map[string]bool)
	for _, txn := range t.state.txns {
		if txn.Provider == provider && want[txn.ProviderTransactionID] {
			out[txn.ProviderTransactionID] = true
		}
	}
	return out, nil
}

func (t *memTx) InsertTransaction(_ context.Context, txn models.BankTransaction) (int64, bool, error) {
	if t.failInsert[txn.ConnectionID] {
		return 0, false, errors.New("insert failed: connection reset")
	}
	for _, existing := range t.state.txns {
		if existing.Provider == txn.Provider && existing.ProviderTransactionID == txn.ProviderTransactionID {
			return 0, false, nil
		}
	}
	t.state.nextID++
	txn.ID = t.state.nextID
	t.state.txns[txn.ID] = txn
	return txn.ID, true, nil
}

func (t *memTx) CreateLedgerEntry(_ context.Context, e models.LedgerEntry) (int64, error) {
	t.state.nextID++
	e.ID = t.state.nextID
	t.state.entries[e.ID] = e
	return e.ID, nil
}

func (t *memTx) UpdateTransactionReconciliation(_ context.Context, txn models.BankTransaction) error {
	t.state.txns[txn.ID] = txn
	return nil
}

func (t *memTx) UpdateConnectionSync(_ context.Context, id int64, at time.Time, cursor string) error {
	c := t.state.conns[id]
	c.LastSyncAt = &at
	c.SyncCursor = cursor
	t.state.conns[id] = c
	return nil
}

func (t *memTx) TransactionsByProviderIDs(_ context.Context, provider string, ids []string) ([]models.BankTransaction, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []models.BankTransaction
	for _, txn := range t.state.txns {
		if txn.Provider == provider && want[txn.ProviderTransactionID] {
			out = append(out, txn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) DeleteLedgerEntry(_ context.Context, entryID int64) error {
	delete(t.state.entries, entryID)
	return nil
}

func (t *memTx) EntriesDuplicateOf(_ context.Context, txnID int64) ([]models.LedgerEntry, error) {
	var out []models.LedgerEntry
	for _, e := range t.state.entries {
		if e.DuplicateOfTransactionID != nil && *e.DuplicateOfTransactionID == txnID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) UpdateEntryReconciliation(_ context.Context, e models.LedgerEntry) error {
	t.state.entries[e.ID] = e
	return nil
}

func (t *memTx) DeleteTransaction(_ context.Context, txnID int64) error {
	delete(t.state.txns, txnID)
	return nil
}

type fakeProvider struct {
	name        string
	txns        map[int64][]models.RawTransaction
	removed     map[int64][]string
	accounts    map[int64][]models.Account
	accountsErr error
	listCalls   int
	err         map[int64]error
	panic       map[int64]bool
	since       map[int64]time.Time
}

var _ providers.Provider = (*fakeProvider)(nil)

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		name:     models.ProviderOpenBanking,
		txns:     make(map[int64][]models.RawTransaction),
		removed:  make(map[int64][]string),
		accounts: make(map[int64][]models.Account),
		err:      make(map[int64]error),
		panic:    make(map[int64]bool),
		since:    make(map[int64]time.Time),
	}
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) RefreshToken(context.Context, models.Connection) (models.Token, error) {
	return models.Token{AccessToken: "fresh"}, nil
}

func (p *fakeProvider) ListAccounts(_ context.Context, _ string, conn models.Connection) ([]models.Account, error) {
	p.listCalls++
	if p.accountsErr != nil {
		return nil, p.accountsErr
	}
	return p.accounts[conn.ID], nil
}

func (p *fakeProvider) FetchTransactions(_ context.Context, _ string, conn models.Connection, since time.Time) (providers.FetchResult, error) {
	p.since[conn.ID] = since
	if p.panic[conn.ID] {
		panic("unexpected payload shape")
	}
	if err := p.err[conn.ID]; err != nil {
		return providers.FetchResult{}, err
	}
	return providers.FetchResult{Transactions: p.txns[conn.ID], Removed: p.removed[conn.ID], NextCursor: "cursor-1"}, nil
}

type fakeTokens struct {
	err         map[int64]error
	invalidated []int64
}

func (f *fakeTokens) GetValidToken(_ context.Context, conn *models.Connection, _ tokens.Refresher) (string, error) {
	if err := f.err[conn.ID]; err != nil {
		return "", err
	}
	return "token", nil
}

func (f *fakeTokens) Invalidate(id int64) { f.invalidated = append(f.invalidated, id) }

type fakeEntitlements struct {
	denied map[int64]string
}

func (f fakeEntitlements) CanUseBankIntegration(_ context.Context, userID int64) (bool, string, error) {
	if reason, ok := f.denied[userID]; ok {
		return false, reason, nil
	}
	return true, "", nil
}

type memAudit struct {
	events []models.AuditEvent
	err    error
}

func (m *memAudit) Record(_ context.Context, action, result string, userID, connectionID int64, details map[string]interface{}) (models.AuditEvent, error) {
	if m.err != nil {
		return models.AuditEvent{}, m.err
	}
	e := models.AuditEvent{ActionType: action, Result: result, UserID: userID, ConnectionID: connectionID, Details: details}
	m.events = append(m.events, e)
	return e, nil
}
