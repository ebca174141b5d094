package reconcile

import (
	"context"
	"fmt"
	"time"

	"budgee-sync/src/apperrors"
	"budgee-sync/src/dedupe"
	"budgee-sync/src/logger"
	"budgee-sync/src/models"
	"budgee-sync/src/rules"
	"budgee-sync/src/transfer"
)

// Tx is the slice of the ledger store reconciliation writes through. All
// calls made inside one Store.WithTx commit or roll back together.
type Tx interface {
	GetEntry(ctx context.Context, userID, entryID int64) (models.LedgerEntry, error)
	UpdateEntryReconciliation(ctx context.Context, e models.LedgerEntry) error
	CreateLedgerEntry(ctx context.Context, e models.LedgerEntry) (int64, error)
	DeleteLedgerEntry(ctx context.Context, entryID int64) error

	GetTransaction(ctx context.Context, userID, txnID int64) (models.BankTransaction, error)
	TransactionsSuspecting(ctx context.Context, userID, entryID int64) ([]models.BankTransaction, error)
	UpdateTransactionReconciliation(ctx context.Context, t models.BankTransaction) error

	ListRules(ctx context.Context, userID int64) ([]models.TransactionRule, error)

	ListConnections(ctx context.Context) ([]models.Connection, error)
	ListManualEntries(ctx context.Context, userID int64, status models.ReconciliationStatus) ([]models.LedgerEntry, error)
	ListBankBacked(ctx context.Context) ([]BankBacked, error)
	ListTransactionsForReclassify(ctx context.Context) ([]models.BankTransaction, error)
}

type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

type Service struct {
	store      Store
	engine     *dedupe.Engine
	classifier *transfer.Classifier
	now        func() time.Time
}

func NewService(store Store, engine *dedupe.Engine, classifier *transfer.Classifier) *Service {
	return &Service{store: store, engine: engine, classifier: classifier, now: time.Now}
}

// MarkDuplicate records that entryID duplicates bank transaction txnID.
// The transaction gets its own bank-backed entry when it has none.
func (s *Service) MarkDuplicate(ctx context.Context, userID, entryID, txnID int64, note string) (models.LedgerEntry, error) {
	const op = "reconcile.MarkDuplicate"
	var out models.LedgerEntry

	err := s.store.WithTx(ctx, func(tx Tx) error {
		entry, err := tx.GetEntry(ctx, userID, entryID)
		if err != nil {
			return err
		}
		txn, err := tx.GetTransaction(ctx, userID, txnID)
		if err != nil {
			if apperrors.Is(err, apperrors.NotFound) {
				return apperrors.Wrap(apperrors.PolicyViolation, apperrors.CodeInvalidReference, op,
					fmt.Errorf("bank transaction %d does not exist", txnID))
			}
			return err
		}

		out, err = Transition(entry, EventMarkDuplicate, s.now(), note, &txn.ID)
		if err != nil {
			return err
		}
		if err := s.saveEntry(ctx, tx, out); err != nil {
			return err
		}

		suspects, err := tx.TransactionsSuspecting(ctx, userID, entryID)
		if err != nil {
			return fmt.Errorf("load suspecting transactions: %w", err)
		}
		if !containsTxn(suspects, txn.ID) {
			suspects = append(suspects, txn)
		}
		return s.backSuspects(ctx, tx, userID, suspects)
	})
	if err != nil {
		return models.LedgerEntry{}, err
	}

	lg := logger.FromContext(ctx)
	lg.Info().
		Int64("user_id", userID).
		Int64("entry_id", entryID).
		Int64("transaction_id", txnID).
		Msg("entry marked as duplicate of bank transaction")
	return out, nil
}

// ConfirmSeparate records that entryID is a genuine manual entry. Bank
// transactions that were held back as its suspected duplicates are imported.
func (s *Service) ConfirmSeparate(ctx context.Context, userID, entryID int64, note string) (models.LedgerEntry, error) {
	var out models.LedgerEntry

	err := s.store.WithTx(ctx, func(tx Tx) error {
		entry, err := tx.GetEntry(ctx, userID, entryID)
		if err != nil {
			return err
		}
		out, err = Transition(entry, EventConfirmSeparate, s.now(), note, nil)
		if err != nil {
			return err
		}
		if err := s.saveEntry(ctx, tx, out); err != nil {
			return err
		}

		suspects, err := tx.TransactionsSuspecting(ctx, userID, entryID)
		if err != nil {
			return fmt.Errorf("load suspecting transactions: %w", err)
		}
		return s.backSuspects(ctx, tx, userID, suspects)
	})
	if err != nil {
		return models.LedgerEntry{}, err
	}

	lg := logger.FromContext(ctx)
	lg.Info().
		Int64("user_id", userID).
		Int64("entry_id", entryID).
		Msg("entry confirmed as separate")
	return out, nil
}

func (s *Service) saveEntry(ctx context.Context, tx Tx, e models.LedgerEntry) error {
	if err := ValidateEntry(e); err != nil {
		return err
	}
	if err := tx.UpdateEntryReconciliation(ctx, e); err != nil {
		return fmt.Errorf("update entry %d: %w", e.ID, err)
	}
	return nil
}

// backSuspects clears the suspicion on txns and gives each one that is not an
// internal transfer a bank-backed entry.
func (s *Service) backSuspects(ctx context.Context, tx Tx, userID int64, txns []models.BankTransaction) error {
	if len(txns) == 0 {
		return nil
	}
	ruleSet, err := tx.ListRules(ctx, userID)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	categorizer := rules.NewCategorizer(ruleSet)

	for _, txn := range txns {
		txn.SuspectedEntryID = nil
		if txn.LedgerEntryID == nil && !txn.IsInternalTransfer {
			id, err := CreateBankBacked(ctx, tx, txn, categorizer.Categorize(txn), s.now())
			if err != nil {
				return err
			}
			txn.LedgerEntryID = &id
		}
		if err := tx.UpdateTransactionReconciliation(ctx, txn); err != nil {
			return fmt.Errorf("update transaction %d: %w", txn.ID, err)
		}
	}
	return nil
}

// EntryCreator is satisfied by every store transaction that can insert
// ledger entries.
type EntryCreator interface {
	CreateLedgerEntry(ctx context.Context, e models.LedgerEntry) (int64, error)
}

// CreateBankBacked inserts the bank-backed entry for txn and returns its id.
// The caller links the transaction back to it.
func CreateBankBacked(ctx context.Context, tx EntryCreator, txn models.BankTransaction, category string, now time.Time) (int64, error) {
	entry := NewBankBackedEntry(txn, category, now)
	if err := ValidateEntry(entry); err != nil {
		return 0, err
	}
	id, err := tx.CreateLedgerEntry(ctx, entry)
	if err != nil {
		return 0, fmt.Errorf("create bank-backed entry for transaction %d: %w", txn.ID, err)
	}
	return id, nil
}

// WithdrawTx is what WithdrawTransaction needs from a store transaction.
type WithdrawTx interface {
	DeleteLedgerEntry(ctx context.Context, entryID int64) error
	EntriesDuplicateOf(ctx context.Context, txnID int64) ([]models.LedgerEntry, error)
	UpdateEntryReconciliation(ctx context.Context, e models.LedgerEntry) error
	DeleteTransaction(ctx context.Context, txnID int64) error
}

// WithdrawTransaction removes a bank transaction the provider retracted,
// along with its bank-backed entry. Manual entries marked as its duplicate
// go back to review.
func WithdrawTransaction(ctx context.Context, tx WithdrawTx, txn models.BankTransaction) error {
	if txn.LedgerEntryID != nil {
		if err := tx.DeleteLedgerEntry(ctx, *txn.LedgerEntryID); err != nil {
			return fmt.Errorf("delete entry %d: %w", *txn.LedgerEntryID, err)
		}
	}

	dups, err := tx.EntriesDuplicateOf(ctx, txn.ID)
	if err != nil {
		return fmt.Errorf("load duplicates of transaction %d: %w", txn.ID, err)
	}
	for _, e := range dups {
		if err := tx.UpdateEntryReconciliation(ctx, Reopen(e)); err != nil {
			return fmt.Errorf("reopen entry %d: %w", e.ID, err)
		}
	}

	if err := tx.DeleteTransaction(ctx, txn.ID); err != nil {
		return fmt.Errorf("delete transaction %d: %w", txn.ID, err)
	}
	return nil
}

func containsTxn(txns []models.BankTransaction, id int64) bool {
	for _, t := range txns {
		if t.ID == id {
			return true
		}
	}
	return false
}
