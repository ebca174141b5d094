package db

import (
	"context"
	"time"

	"budgee-sync/src/apperrors"
	"budgee-sync/src/models"
	"budgee-sync/src/reconcile"

	"github.com/jackc/pgx/v5"
)

const entryColumns = `
	e.id, e.user_id, e.kind, e.amount, e.currency, e.category, e.description, e.entry_date, e.source,
	e.bank_transaction_id, e.reconciliation_status, e.duplicate_of_transaction_id, e.review_note,
	e.reviewed_at, e.created_at`

func scanEntry(row pgx.Row, extra ...any) (models.LedgerEntry, error) {
	var e models.LedgerEntry
	dest := []any{
		&e.ID, &e.UserID, &e.Kind, &e.Amount, &e.Currency, &e.Category, &e.Description, &e.Date, &e.Source,
		&e.BankTransactionID, &e.Status, &e.DuplicateOfTransactionID, &e.ReviewNote,
		&e.ReviewedAt, &e.CreatedAt,
	}
	err := row.Scan(append(dest, extra...)...)
	e.Date = e.Date.UTC()
	return e, err
}

func (r *Repository) GetEntry(ctx context.Context, userID, entryID int64) (models.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries e WHERE e.id = $1 AND e.user_id = $2`

	e, err := scanEntry(r.q.QueryRow(ctx, query, entryID, userID))
	if err != nil {
		return e, notFound(err, "get ledger entry", "ledger entry", entryID)
	}
	return e, nil
}

func (r *Repository) CreateLedgerEntry(ctx context.Context, e models.LedgerEntry) (int64, error) {
	query := `
		INSERT INTO ledger_entries (
			user_id, kind, amount, currency, category, description, entry_date, source,
			bank_transaction_id, reconciliation_status, duplicate_of_transaction_id, review_note, reviewed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`
	var id int64
	err := r.q.QueryRow(ctx, query,
		e.UserID, e.Kind, e.Amount, e.Currency, e.Category, e.Description, e.Date, e.Source,
		e.BankTransactionID, e.Status, e.DuplicateOfTransactionID, e.ReviewNote, e.ReviewedAt,
	).Scan(&id)
	return id, err
}

// UpdateEntryReconciliation writes the review columns of e.
func (r *Repository) UpdateEntryReconciliation(ctx context.Context, e models.LedgerEntry) error {
	query := `
		UPDATE ledger_entries
		SET reconciliation_status = $3, duplicate_of_transaction_id = $4, review_note = $5, reviewed_at = $6
		WHERE id = $1 AND user_id = $2
	`
	cmd, err := r.q.Exec(ctx, query, e.ID, e.UserID, e.Status, e.DuplicateOfTransactionID, e.ReviewNote, e.ReviewedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return apperrors.New(apperrors.NotFound, apperrors.CodeNotFound, "update ledger entry", "ledger entry not found")
	}
	return nil
}

func (r *Repository) DeleteLedgerEntry(ctx context.Context, entryID int64) error {
	query := `DELETE FROM ledger_entries WHERE id = $1`
	_, err := r.q.Exec(ctx, query, entryID)
	return err
}

// EntriesDuplicateOf lists the entries marked as duplicates of txnID.
func (r *Repository) EntriesDuplicateOf(ctx context.Context, txnID int64) ([]models.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries e WHERE e.duplicate_of_transaction_id = $1 ORDER BY e.id`

	rows, err := r.q.Query(ctx, query, txnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *Repository) ListManualEntries(ctx context.Context, userID int64, status models.ReconciliationStatus) ([]models.LedgerEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM ledger_entries e
		WHERE e.user_id = $1 AND e.source = $2 AND e.reconciliation_status = $3
		ORDER BY e.id
	`
	rows, err := r.q.Query(ctx, query, userID, models.SourceManual, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListBankBacked joins every bank-backed entry with the transaction it was
// created from.
func (r *Repository) ListBankBacked(ctx context.Context) ([]reconcile.BankBacked, error) {
	query := `
		SELECT ` + entryColumns + `, ` + transactionColumns + `
		FROM ledger_entries e
		JOIN bank_transactions t ON t.ledger_entry_id = e.id
		WHERE e.reconciliation_status = $1
		ORDER BY e.user_id, e.id
	`
	rows, err := r.q.Query(ctx, query, models.StatusBankBacked)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reconcile.BankBacked
	for rows.Next() {
		var (
			t           models.BankTransaction
			bookingDate *time.Time
		)
		e, err := scanEntry(rows, transactionDest(&t, &bookingDate)...)
		if err != nil {
			return nil, err
		}
		if bookingDate != nil {
			t.BookingDate = bookingDate.UTC()
		}
		out = append(out, reconcile.BankBacked{Entry: e, Txn: t})
	}
	return out, rows.Err()
}
