package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"budgee-sync/src/dedupe"
	"budgee-sync/src/logger"
	"budgee-sync/src/models"
	"budgee-sync/src/transfer"
)

// BankBacked is a bank-backed entry together with its transaction.
type BankBacked struct {
	Entry models.LedgerEntry
	Txn   models.BankTransaction
}

type PreBankEraDecision struct {
	UserID       int64     `json:"user_id"`
	EntryID      int64     `json:"entry_id"`
	Date         time.Time `json:"date"`
	BankEraStart time.Time `json:"bank_era_start"`
}

type DuplicateDecision struct {
	UserID        int64   `json:"user_id"`
	KeepEntryID   int64   `json:"keep_entry_id"`
	DropEntryID   int64   `json:"drop_entry_id"`
	TransactionID int64   `json:"transaction_id"`
	Confidence    float64 `json:"confidence"`
	Reason        string  `json:"reason"`
}

type TransferDecision struct {
	UserID        int64  `json:"user_id"`
	TransactionID int64  `json:"transaction_id"`
	DropEntryID   *int64 `json:"drop_entry_id,omitempty"`
}

// BankEraStarts maps each user to the creation time of their first
// connection. Deactivated connections count; the user was bank-backed from
// then on regardless of what the provider returned.
func BankEraStarts(conns []models.Connection) map[int64]time.Time {
	out := make(map[int64]time.Time)
	for _, c := range conns {
		if cur, ok := out[c.UserID]; !ok || c.CreatedAt.Before(cur) {
			out[c.UserID] = c.CreatedAt
		}
	}
	return out
}

// PlanPreBankEraBackfill selects unreviewed manual entries dated before the
// user's first connection. Such entries can never be matched.
func PlanPreBankEraBackfill(entries []models.LedgerEntry, starts map[int64]time.Time) []PreBankEraDecision {
	var out []PreBankEraDecision
	for _, e := range entries {
		if e.Source != models.SourceManual || e.Status != models.StatusUnreviewed {
			continue
		}
		start, ok := starts[e.UserID]
		if !ok || !dayOf(e.Date).Before(dayOf(start)) {
			continue
		}
		out = append(out, PreBankEraDecision{UserID: e.UserID, EntryID: e.ID, Date: e.Date, BankEraStart: start})
	}
	return out
}

// PlanDuplicateCleanup finds bank-backed entries imported twice through
// different provider accounts. The earlier entry is kept and the later one
// dropped; a kept entry absorbs at most one duplicate.
func PlanDuplicateCleanup(rows []BankBacked, engine *dedupe.Engine) []DuplicateDecision {
	byUser := make(map[int64][]BankBacked)
	var users []int64
	for _, r := range rows {
		if r.Entry.Status != models.StatusBankBacked {
			continue
		}
		if _, ok := byUser[r.Entry.UserID]; !ok {
			users = append(users, r.Entry.UserID)
		}
		byUser[r.Entry.UserID] = append(byUser[r.Entry.UserID], r)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })

	var out []DuplicateDecision
	for _, userID := range users {
		group := byUser[userID]
		sort.Slice(group, func(i, j int) bool { return group[i].Entry.ID < group[j].Entry.ID })

		idx := dedupe.NewIndex(engine.Config().WindowDays, nil)
		consumed := make(dedupe.ConsumedSet)
		for _, r := range group {
			c := dedupe.CandidateFromTransaction(r.Entry.ID, r.Txn)

			var others []dedupe.Candidate
			for _, k := range idx.Lookup(c.Amount, c.Date) {
				if k.AccountID != c.AccountID && !consumed.Contains(k.ID) {
					others = append(others, k)
				}
			}

			res := engine.DetectDuplicate(c, others)
			if res.Match == nil {
				idx.Add(c)
				continue
			}
			consumed.Add(res.Match.ID)
			out = append(out, DuplicateDecision{
				UserID:        userID,
				KeepEntryID:   res.Match.ID,
				DropEntryID:   r.Entry.ID,
				TransactionID: r.Txn.ID,
				Confidence:    res.Confidence,
				Reason:        res.Reason,
			})
		}
	}
	return out
}

// PlanTransferCleanup re-runs transfer classification over stored
// transactions. Transactions without stored parties fall back to their
// descriptions.
func PlanTransferCleanup(txns []models.BankTransaction, classifier *transfer.Classifier) []TransferDecision {
	byUser := make(map[int64][]models.BankTransaction)
	for _, t := range txns {
		byUser[t.UserID] = append(byUser[t.UserID], t)
	}

	var out []TransferDecision
	for userID, group := range byUser {
		bics := transfer.InferAccountBICs(group)
		for _, t := range group {
			if t.IsInternalTransfer {
				continue
			}
			var internal bool
			if hasParties(t) {
				internal = classifier.IsInternalTransfer(t, bics)
			} else {
				internal = classifier.ClassifyStoredDescriptions(t.OriginalDescription, t.DetailedDescription, t.DisplayDescription)
			}
			if internal {
				out = append(out, TransferDecision{UserID: userID, TransactionID: t.ID, DropEntryID: t.LedgerEntryID})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransactionID < out[j].TransactionID })
	return out
}

func hasParties(t models.BankTransaction) bool {
	return t.Debtor != (models.Party{}) || t.Creditor != (models.Party{})
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// BackfillPreBankEra plans the backfill and, when apply is set, writes it in
// one transaction.
func (s *Service) BackfillPreBankEra(ctx context.Context, apply bool) ([]PreBankEraDecision, error) {
	var decisions []PreBankEraDecision
	err := s.store.WithTx(ctx, func(tx Tx) error {
		conns, err := tx.ListConnections(ctx)
		if err != nil {
			return fmt.Errorf("load connections: %w", err)
		}
		starts := BankEraStarts(conns)

		users := make([]int64, 0, len(starts))
		for u := range starts {
			users = append(users, u)
		}
		sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })

		for _, userID := range users {
			entries, err := tx.ListManualEntries(ctx, userID, models.StatusUnreviewed)
			if err != nil {
				return fmt.Errorf("load entries for user %d: %w", userID, err)
			}
			decisions = append(decisions, PlanPreBankEraBackfill(entries, starts)...)
		}
		if !apply {
			return nil
		}

		for _, d := range decisions {
			entry, err := tx.GetEntry(ctx, d.UserID, d.EntryID)
			if err != nil {
				return err
			}
			updated, err := Transition(entry, EventBackfillPreBankEra, s.now(), "", nil)
			if err != nil {
				return err
			}
			if err := s.saveEntry(ctx, tx, updated); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	lg := logger.FromContext(ctx)
	lg.Info().Int("entries", len(decisions)).Bool("applied", apply).Msg("pre-bank-era backfill")
	return decisions, nil
}

// CleanupDuplicates drops the later of two bank-backed entries imported for
// the same movement. The dropped entry's transaction keeps the duplicate
// score and reason but loses its link.
func (s *Service) CleanupDuplicates(ctx context.Context, apply bool) ([]DuplicateDecision, error) {
	var decisions []DuplicateDecision
	err := s.store.WithTx(ctx, func(tx Tx) error {
		rows, err := tx.ListBankBacked(ctx)
		if err != nil {
			return fmt.Errorf("load bank-backed entries: %w", err)
		}
		decisions = PlanDuplicateCleanup(rows, s.engine)
		if !apply {
			return nil
		}

		byEntry := make(map[int64]BankBacked, len(rows))
		for _, r := range rows {
			byEntry[r.Entry.ID] = r
		}
		for _, d := range decisions {
			txn := byEntry[d.DropEntryID].Txn
			txn.LedgerEntryID = nil
			txn.DuplicateConfidence = d.Confidence
			txn.DuplicateReason = d.Reason
			if err := tx.UpdateTransactionReconciliation(ctx, txn); err != nil {
				return fmt.Errorf("unlink transaction %d: %w", txn.ID, err)
			}
			if err := tx.DeleteLedgerEntry(ctx, d.DropEntryID); err != nil {
				return fmt.Errorf("delete entry %d: %w", d.DropEntryID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	lg := logger.FromContext(ctx)
	lg.Info().Int("duplicates", len(decisions)).Bool("applied", apply).Msg("duplicate cleanup")
	return decisions, nil
}

// CleanupTransfers flags stored transactions that turn out to be internal
// transfers and removes the ledger entries created for them.
func (s *Service) CleanupTransfers(ctx context.Context, apply bool) ([]TransferDecision, error) {
	var decisions []TransferDecision
	err := s.store.WithTx(ctx, func(tx Tx) error {
		txns, err := tx.ListTransactionsForReclassify(ctx)
		if err != nil {
			return fmt.Errorf("load transactions: %w", err)
		}
		decisions = PlanTransferCleanup(txns, s.classifier)
		if !apply {
			return nil
		}

		byID := make(map[int64]models.BankTransaction, len(txns))
		for _, t := range txns {
			byID[t.ID] = t
		}
		for _, d := range decisions {
			txn := byID[d.TransactionID]
			txn.IsInternalTransfer = true
			txn.LedgerEntryID = nil
			txn.SuspectedEntryID = nil
			if err := tx.UpdateTransactionReconciliation(ctx, txn); err != nil {
				return fmt.Errorf("flag transaction %d: %w", txn.ID, err)
			}
			if d.DropEntryID != nil {
				if err := tx.DeleteLedgerEntry(ctx, *d.DropEntryID); err != nil {
					return fmt.Errorf("delete entry %d: %w", *d.DropEntryID, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	lg := logger.FromContext(ctx)
	lg.Info().Int("transfers", len(decisions)).Bool("applied", apply).Msg("transfer cleanup")
	return decisions, nil
}
