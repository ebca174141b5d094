package reconcile

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"budgee-sync/src/apperrors"
	"budgee-sync/src/dedupe"
	"budgee-sync/src/models"
	"budgee-sync/src/transfer"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var reviewTime = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func day(d int) time.Time { return time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC) }

func ptr(v int64) *int64 { return &v }

func manualEntry(id int64, desc, amount string, date time.Time) models.LedgerEntry {
	return models.LedgerEntry{
		ID:          id,
		UserID:      1,
		Kind:        models.KindExpense,
		Amount:      decimal.RequireFromString(amount),
		Currency:    "PLN",
		Description: desc,
		Date:        date,
		Source:      models.SourceManual,
		Status:      models.StatusUnreviewed,
	}
}

func bankTxn(id int64, account, desc, amount string, date time.Time) models.BankTransaction {
	return models.BankTransaction{
		ID:                 id,
		UserID:             1,
		AccountID:          account,
		Amount:             decimal.RequireFromString(amount),
		Currency:           "PLN",
		DisplayDescription: desc,
		BookingDate:        date,
	}
}

func newService(t *testing.T, store Store) *Service {
	t.Helper()
	engine, err := dedupe.NewEngine(dedupe.DefaultConfig())
	require.NoError(t, err)
	svc := NewService(store, engine, transfer.New())
	svc.now = func() time.Time { return reviewTime }
	return svc
}

func TestTransition_Legality(t *testing.T) {
	events := []Event{EventConfirmSeparate, EventMarkDuplicate, EventBackfillPreBankEra}
	statuses := []models.ReconciliationStatus{
		models.StatusUnreviewed, models.StatusBankBacked, models.StatusManualConfirmed,
		models.StatusDuplicateOfBank, models.StatusPreBankEra,
	}
	want := map[Event]models.ReconciliationStatus{
		EventConfirmSeparate:    models.StatusManualConfirmed,
		EventMarkDuplicate:      models.StatusDuplicateOfBank,
		EventBackfillPreBankEra: models.StatusPreBankEra,
	}

	for _, from := range statuses {
		for _, ev := range events {
			e := manualEntry(1, "x", "10", day(1))
			e.Status = from
			out, err := Transition(e, ev, reviewTime, "", ptr(9))
			if from != models.StatusUnreviewed {
				require.Error(t, err, "%s -> %s", from, ev)
				assert.Equal(t, apperrors.CodeInvalidState, apperrors.CodeOf(err))
				assert.Equal(t, apperrors.PolicyViolation, apperrors.KindOf(err))
				assert.Equal(t, from, out.Status)
				continue
			}
			require.NoError(t, err)
			assert.Equal(t, want[ev], out.Status)
			assert.NoError(t, ValidateEntry(out))
		}
	}
}

func TestTransition_BankBackedIsAuthoritative(t *testing.T) {
	e := NewBankBackedEntry(bankTxn(5, "a", "Lidl", "-10", day(1)), "groceries", reviewTime)
	_, err := Transition(e, EventConfirmSeparate, reviewTime, "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authoritative")
}

func TestTransition_StampsReview(t *testing.T) {
	e := manualEntry(1, "x", "10", day(1))

	out, err := Transition(e, EventMarkDuplicate, reviewTime, "  same as card payment ", ptr(42))
	require.NoError(t, err)
	require.NotNil(t, out.ReviewedAt)
	assert.Equal(t, reviewTime, *out.ReviewedAt)
	assert.Equal(t, "same as card payment", out.ReviewNote)
	assert.Equal(t, int64(42), *out.DuplicateOfTransactionID)

	out, err = Transition(e, EventBackfillPreBankEra, reviewTime, "", nil)
	require.NoError(t, err)
	assert.Nil(t, out.ReviewedAt)

	_, err = Transition(e, EventMarkDuplicate, reviewTime, "", nil)
	assert.Equal(t, apperrors.CodeInvalidReference, apperrors.CodeOf(err))
}

func TestNewBankBackedEntry(t *testing.T) {
	income := NewBankBackedEntry(bankTxn(7, "a", "Salary", "5000", day(1)), "salary", reviewTime)
	assert.Equal(t, models.KindIncome, income.Kind)
	assert.Equal(t, models.SourceBankImport, income.Source)
	assert.Equal(t, int64(7), *income.BankTransactionID)
	assert.NoError(t, ValidateEntry(income))

	expense := NewBankBackedEntry(bankTxn(8, "a", "Lidl", "-45.20", day(1)), "groceries", reviewTime)
	assert.Equal(t, models.KindExpense, expense.Kind)
	assert.True(t, expense.Amount.Equal(decimal.RequireFromString("45.20")))
}

func TestValidateEntry(t *testing.T) {
	e := manualEntry(1, "x", "1", day(1))
	e.BankTransactionID = ptr(3)
	assert.Error(t, ValidateEntry(e))

	e = manualEntry(1, "x", "1", day(1))
	e.Status = models.StatusDuplicateOfBank
	assert.Error(t, ValidateEntry(e))

	e.Status = "archived"
	assert.Error(t, ValidateEntry(e))
}

func TestService_MarkDuplicate(t *testing.T) {
	store := newMemStore()
	store.data.entries[1] = manualEntry(1, "Lidl zakupy", "45.20", day(13))
	txn := bankTxn(10, "acc-1", "LIDL WARSZAWA", "-45.20", day(14))
	txn.SuspectedEntryID = ptr(1)
	txn.DuplicateConfidence = 0.718
	store.data.txns[10] = txn
	store.data.rules[1] = []models.TransactionRule{{ID: 1, Category: "groceries", Conditions: json.RawMessage(`{"field":"name","op":"contains","value":"lidl"}`)}}

	svc := newService(t, store)
	out, err := svc.MarkDuplicate(context.Background(), 1, 1, 10, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDuplicateOfBank, out.Status)

	saved := store.data.txns[10]
	require.NotNil(t, saved.LedgerEntryID)
	assert.Nil(t, saved.SuspectedEntryID)

	backed := store.data.entries[*saved.LedgerEntryID]
	assert.Equal(t, models.StatusBankBacked, backed.Status)
	assert.Equal(t, "groceries", backed.Category)
	assert.Equal(t, int64(10), *backed.BankTransactionID)
}

func TestService_MarkDuplicate_Errors(t *testing.T) {
	store := newMemStore()
	store.data.entries[1] = manualEntry(1, "x", "10", day(1))
	other := bankTxn(20, "acc-1", "x", "-10", day(1))
	other.UserID = 2
	store.data.txns[20] = other
	svc := newService(t, store)
	ctx := context.Background()

	_, err := svc.MarkDuplicate(ctx, 1, 99, 20, "")
	assert.Equal(t, apperrors.NotFound, apperrors.KindOf(err))

	_, err = svc.MarkDuplicate(ctx, 1, 1, 20, "")
	assert.Equal(t, apperrors.CodeInvalidReference, apperrors.CodeOf(err))

	// Nothing was committed.
	assert.Equal(t, models.StatusUnreviewed, store.data.entries[1].Status)
}

func TestService_MarkDuplicate_InternalTransferGetsNoEntry(t *testing.T) {
	store := newMemStore()
	store.data.entries[1] = manualEntry(1, "savings", "100", day(3))
	txn := bankTxn(10, "acc-1", "Moje cele", "-100", day(3))
	txn.IsInternalTransfer = true
	store.data.txns[10] = txn

	_, err := newService(t, store).MarkDuplicate(context.Background(), 1, 1, 10, "")
	require.NoError(t, err)
	assert.Nil(t, store.data.txns[10].LedgerEntryID)
	assert.Len(t, store.data.entries, 1)
}

func TestService_ConfirmSeparate(t *testing.T) {
	store := newMemStore()
	store.data.entries[1] = manualEntry(1, "Zabka", "12", day(5))
	a := bankTxn(10, "acc-1", "ZABKA Z1234", "-12", day(5))
	a.SuspectedEntryID = ptr(1)
	store.data.txns[10] = a
	unrelated := bankTxn(11, "acc-1", "Orlen", "-200", day(5))
	store.data.txns[11] = unrelated

	out, err := newService(t, store).ConfirmSeparate(context.Background(), 1, 1, "two purchases")
	require.NoError(t, err)
	assert.Equal(t, models.StatusManualConfirmed, out.Status)
	assert.Equal(t, "two purchases", out.ReviewNote)

	require.NotNil(t, store.data.txns[10].LedgerEntryID)
	assert.Nil(t, store.data.txns[10].SuspectedEntryID)
	assert.Equal(t, "uncategorized", store.data.entries[*store.data.txns[10].LedgerEntryID].Category)
	assert.Nil(t, store.data.txns[11].LedgerEntryID)

	_, err = newService(t, store).ConfirmSeparate(context.Background(), 1, 1, "")
	assert.Equal(t, apperrors.CodeInvalidState, apperrors.CodeOf(err))
}

func TestPlanPreBankEraBackfill(t *testing.T) {
	starts := map[int64]time.Time{1: day(10)}
	before := manualEntry(1, "a", "1", day(9))
	sameDay := manualEntry(2, "b", "1", day(10))
	confirmed := manualEntry(3, "c", "1", day(1))
	confirmed.Status = models.StatusManualConfirmed
	otherUser := manualEntry(4, "d", "1", day(1))
	otherUser.UserID = 2

	got := PlanPreBankEraBackfill([]models.LedgerEntry{before, sameDay, confirmed, otherUser}, starts)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].EntryID)
}

func TestBankEraStarts(t *testing.T) {
	conns := []models.Connection{
		{ID: 1, UserID: 1, CreatedAt: day(10)},
		{ID: 2, UserID: 1, CreatedAt: day(4), Active: false},
		{ID: 3, UserID: 2, CreatedAt: day(7), Active: true},
	}
	assert.Equal(t, map[int64]time.Time{1: day(4), 2: day(7)}, BankEraStarts(conns))
	assert.Empty(t, BankEraStarts(nil))
}

func TestService_BackfillPreBankEra(t *testing.T) {
	store := newMemStore()
	store.data.conns = []models.Connection{{ID: 1, UserID: 1, Active: true, CreatedAt: day(8)}}
	// The first import is later than the connection; the cutoff is still day 8.
	store.data.txns[10] = bankTxn(10, "acc-1", "Lidl", "-1", day(10))
	store.data.entries[1] = manualEntry(1, "old", "5", day(2))
	store.data.entries[2] = manualEntry(2, "between", "5", day(9))
	store.data.entries[3] = manualEntry(3, "new", "5", day(12))
	svc := newService(t, store)

	plan, err := svc.BackfillPreBankEra(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, int64(1), plan[0].EntryID)
	assert.Equal(t, day(8), plan[0].BankEraStart)
	assert.Equal(t, models.StatusUnreviewed, store.data.entries[1].Status)

	_, err = svc.BackfillPreBankEra(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPreBankEra, store.data.entries[1].Status)
	assert.Equal(t, models.StatusUnreviewed, store.data.entries[2].Status)
	assert.Equal(t, models.StatusUnreviewed, store.data.entries[3].Status)
}

func TestService_BackfillPreBankEra_ConnectionWithoutTransactions(t *testing.T) {
	store := newMemStore()
	store.data.conns = []models.Connection{{ID: 1, UserID: 1, Active: false, CreatedAt: day(5)}}
	store.data.entries[1] = manualEntry(1, "old", "5", day(3))
	store.data.entries[2] = manualEntry(2, "later", "5", day(6))

	plan, err := newService(t, store).BackfillPreBankEra(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, models.StatusPreBankEra, store.data.entries[1].Status)
	assert.Equal(t, models.StatusUnreviewed, store.data.entries[2].Status)
}

func TestService_BackfillPreBankEra_NoConnection(t *testing.T) {
	store := newMemStore()
	store.data.txns[10] = bankTxn(10, "acc-1", "Lidl", "-1", day(10))
	store.data.entries[1] = manualEntry(1, "old", "5", day(2))

	plan, err := newService(t, store).BackfillPreBankEra(context.Background(), true)
	require.NoError(t, err)
	assert.Empty(t, plan)
	assert.Equal(t, models.StatusUnreviewed, store.data.entries[1].Status)
}

func TestReopen(t *testing.T) {
	e := manualEntry(1, "x", "10", day(1))
	dup, err := Transition(e, EventMarkDuplicate, reviewTime, "same", ptr(9))
	require.NoError(t, err)

	out := Reopen(dup)
	assert.Equal(t, models.StatusUnreviewed, out.Status)
	assert.Nil(t, out.DuplicateOfTransactionID)
	assert.Nil(t, out.ReviewedAt)
	assert.Empty(t, out.ReviewNote)
	assert.NoError(t, ValidateEntry(out))

	confirmed, err := Transition(e, EventConfirmSeparate, reviewTime, "two", nil)
	require.NoError(t, err)
	assert.Equal(t, confirmed, Reopen(confirmed))
}

func TestWithdrawTransaction(t *testing.T) {
	store := newMemStore()
	txn := bankTxn(10, "acc-1", "Lidl", "-45", day(5))
	backed := NewBankBackedEntry(txn, "groceries", reviewTime)
	backed.ID = 100
	store.data.entries[100] = backed
	txn.LedgerEntryID = ptr(100)
	store.data.txns[10] = txn

	dup, err := Transition(manualEntry(1, "lidl", "45", day(5)), EventMarkDuplicate, reviewTime, "", ptr(10))
	require.NoError(t, err)
	store.data.entries[1] = dup
	store.data.entries[2] = manualEntry(2, "other", "45", day(5))

	err = store.WithTx(context.Background(), func(tx Tx) error {
		return WithdrawTransaction(context.Background(), tx.(*memTx), txn)
	})
	require.NoError(t, err)

	assert.NotContains(t, store.data.txns, int64(10))
	assert.NotContains(t, store.data.entries, int64(100))
	assert.Equal(t, models.StatusUnreviewed, store.data.entries[1].Status)
	assert.Nil(t, store.data.entries[1].DuplicateOfTransactionID)
	assert.Equal(t, models.StatusUnreviewed, store.data.entries[2].Status)
}

func TestService_CleanupDuplicates(t *testing.T) {
	store := newMemStore()
	// The same card payment reported by two linked accounts.
	store.data.txns[10] = bankTxn(10, "acc-1", "Netflix", "-43", day(5))
	store.data.txns[11] = bankTxn(11, "acc-2", "NETFLIX.COM", "-43", day(6))
	// Same account twice is a real repeat purchase.
	store.data.txns[12] = bankTxn(12, "acc-1", "Zabka", "-9", day(5))
	store.data.txns[13] = bankTxn(13, "acc-1", "Zabka", "-9", day(5))
	for id, entryID := range map[int64]int64{10: 100, 11: 101, 12: 102, 13: 103} {
		txn := store.data.txns[id]
		entry := NewBankBackedEntry(txn, "x", reviewTime)
		entry.ID = entryID
		store.data.entries[entryID] = entry
		txn.LedgerEntryID = ptr(entryID)
		store.data.txns[id] = txn
	}

	decisions, err := newService(t, store).CleanupDuplicates(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, int64(100), decisions[0].KeepEntryID)
	assert.Equal(t, int64(101), decisions[0].DropEntryID)

	_, exists := store.data.entries[101]
	assert.False(t, exists)
	assert.Nil(t, store.data.txns[11].LedgerEntryID)
	assert.Equal(t, decisions[0].Reason, store.data.txns[11].DuplicateReason)
	assert.Len(t, store.data.entries, 3)
}

func TestService_CleanupTransfers(t *testing.T) {
	store := newMemStore()
	sweep := bankTxn(10, "acc-1", "Automatyczne oszczędzanie", "-50", day(5))
	sweep.LedgerEntryID = ptr(100)
	store.data.txns[10] = sweep
	entry := NewBankBackedEntry(sweep, "x", reviewTime)
	entry.ID = 100
	store.data.entries[100] = entry

	own := bankTxn(11, "acc-1", "Transfer", "-200", day(6))
	own.Debtor = models.Party{Name: "Jan Kowalski", BIC: "INGBPLPW"}
	own.Creditor = models.Party{Name: "JAN KOWALSKI", BIC: "INGBPLPW"}
	store.data.txns[11] = own

	store.data.txns[12] = bankTxn(12, "acc-1", "Biedronka", "-30", day(6))

	decisions, err := newService(t, store).CleanupTransfers(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	assert.Equal(t, int64(10), decisions[0].TransactionID)
	assert.Equal(t, int64(11), decisions[1].TransactionID)

	assert.True(t, store.data.txns[10].IsInternalTransfer)
	assert.Nil(t, store.data.txns[10].LedgerEntryID)
	_, exists := store.data.entries[100]
	assert.False(t, exists)
	assert.True(t, store.data.txns[11].IsInternalTransfer)
	assert.False(t, store.data.txns[12].IsInternalTransfer)
}
