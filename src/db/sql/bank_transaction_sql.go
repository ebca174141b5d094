package db

import (
	"context"
	"encoding/json"
	"time"

	"budgee-sync/src/models"

	"github.com/jackc/pgx/v5"
)

const transactionColumns = `
	t.id, t.connection_id, t.user_id, t.provider, t.provider_transaction_id, t.account_id, t.amount, t.currency,
	t.booking_date, t.display_description, t.original_description, t.detailed_description,
	t.debtor_name, t.debtor_bic, t.debtor_address, t.creditor_name, t.creditor_bic, t.creditor_address,
	t.provider_category, t.is_internal_transfer, t.duplicate_confidence, t.duplicate_reason,
	t.suspected_entry_id, t.ledger_entry_id`

// transactionDest lists scan destinations matching transactionColumns.
// booking_date is nullable and lands in bookingDate.
func transactionDest(t *models.BankTransaction, bookingDate **time.Time) []any {
	return []any{
		&t.ID, &t.ConnectionID, &t.UserID, &t.Provider, &t.ProviderTransactionID, &t.AccountID, &t.Amount, &t.Currency,
		bookingDate, &t.DisplayDescription, &t.OriginalDescription, &t.DetailedDescription,
		&t.Debtor.Name, &t.Debtor.BIC, &t.Debtor.AddressLine, &t.Creditor.Name, &t.Creditor.BIC, &t.Creditor.AddressLine,
		&t.ProviderCategory, &t.IsInternalTransfer, &t.DuplicateConfidence, &t.DuplicateReason,
		&t.SuspectedEntryID, &t.LedgerEntryID,
	}
}

func scanTransaction(row pgx.Row) (models.BankTransaction, error) {
	var (
		t           models.BankTransaction
		bookingDate *time.Time
	)
	err := row.Scan(transactionDest(&t, &bookingDate)...)
	if bookingDate != nil {
		t.BookingDate = bookingDate.UTC()
	}
	return t, err
}

func collectTransactions(rows pgx.Rows, err error) ([]models.BankTransaction, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []models.BankTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// ExistingProviderIDs reports which of ids are already stored for provider.
func (r *Repository) ExistingProviderIDs(ctx context.Context, provider string, ids []string) (map[string]bool, error) {
	out := make(map[string]bool)
	if len(ids) == 0 {
		return out, nil
	}
	query := `SELECT provider_transaction_id FROM bank_transactions WHERE provider = $1 AND provider_transaction_id = ANY($2)`

	rows, err := r.q.Query(ctx, query, provider, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// InsertTransaction stores t unless (provider, provider_transaction_id) is
// already present. inserted is false for a repeat.
func (r *Repository) InsertTransaction(ctx context.Context, t models.BankTransaction) (int64, bool, error) {
	query := `
		INSERT INTO bank_transactions (
			connection_id, user_id, provider, provider_transaction_id, account_id, amount, currency,
			booking_date, display_description, original_description, detailed_description,
			debtor_name, debtor_bic, debtor_address, creditor_name, creditor_bic, creditor_address,
			provider_category, raw_payload, is_internal_transfer, duplicate_confidence, duplicate_reason,
			suspected_entry_id, ledger_entry_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
		ON CONFLICT (provider, provider_transaction_id) DO NOTHING
		RETURNING id
	`
	var bookingDate *time.Time
	if !t.BookingDate.IsZero() {
		bookingDate = &t.BookingDate
	}
	var raw *json.RawMessage
	if len(t.RawPayload) > 0 {
		raw = &t.RawPayload
	}

	var id int64
	err := r.q.QueryRow(ctx, query,
		t.ConnectionID, t.UserID, t.Provider, t.ProviderTransactionID, t.AccountID, t.Amount, t.Currency,
		bookingDate, t.DisplayDescription, t.OriginalDescription, t.DetailedDescription,
		t.Debtor.Name, t.Debtor.BIC, t.Debtor.AddressLine, t.Creditor.Name, t.Creditor.BIC, t.Creditor.AddressLine,
		t.ProviderCategory, raw, t.IsInternalTransfer, t.DuplicateConfidence, t.DuplicateReason,
		t.SuspectedEntryID, t.LedgerEntryID,
	).Scan(&id)
	if err == pgx.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (r *Repository) GetTransaction(ctx context.Context, userID, txnID int64) (models.BankTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM bank_transactions t WHERE t.id = $1 AND t.user_id = $2`

	t, err := scanTransaction(r.q.QueryRow(ctx, query, txnID, userID))
	if err != nil {
		return t, notFound(err, "get bank transaction", "bank transaction", txnID)
	}
	return t, nil
}

func (r *Repository) TransactionsSuspecting(ctx context.Context, userID, entryID int64) ([]models.BankTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM bank_transactions t WHERE t.user_id = $1 AND t.suspected_entry_id = $2 ORDER BY t.id`

	return collectTransactions(r.q.Query(ctx, query, userID, entryID))
}

// UpdateTransactionReconciliation writes the reconciliation columns of t.
// Imported fields never change after insert.
func (r *Repository) UpdateTransactionReconciliation(ctx context.Context, t models.BankTransaction) error {
	query := `
		UPDATE bank_transactions
		SET is_internal_transfer = $2, duplicate_confidence = $3, duplicate_reason = $4,
			suspected_entry_id = $5, ledger_entry_id = $6
		WHERE id = $1
	`
	_, err := r.q.Exec(ctx, query, t.ID, t.IsInternalTransfer, t.DuplicateConfidence, t.DuplicateReason, t.SuspectedEntryID, t.LedgerEntryID)
	return err
}

// ListTransactionsForReclassify returns every transaction not yet flagged as
// an internal transfer.
func (r *Repository) ListTransactionsForReclassify(ctx context.Context) ([]models.BankTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM bank_transactions t WHERE NOT t.is_internal_transfer ORDER BY t.user_id, t.id`

	return collectTransactions(r.q.Query(ctx, query))
}

// TransactionsByProviderIDs loads the stored rows among ids for provider.
func (r *Repository) TransactionsByProviderIDs(ctx context.Context, provider string, ids []string) ([]models.BankTransaction, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `
		SELECT ` + transactionColumns + `
		FROM bank_transactions t
		WHERE t.provider = $1 AND t.provider_transaction_id = ANY($2)
		ORDER BY t.id
	`
	return collectTransactions(r.q.Query(ctx, query, provider, ids))
}

func (r *Repository) DeleteTransaction(ctx context.Context, txnID int64) error {
	query := `DELETE FROM bank_transactions WHERE id = $1`
	_, err := r.q.Exec(ctx, query, txnID)
	return err
}
