// Package reconcile owns the review state of ledger entries and the passes
// that repair it in bulk.
package reconcile

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"budgee-sync/src/apperrors"
	"budgee-sync/src/models"
)

type Event string

const (
	EventConfirmSeparate    Event = "confirm_separate"
	EventMarkDuplicate      Event = "mark_duplicate"
	EventBackfillPreBankEra Event = "backfill_pre_bank_era"
)

// Transition applies event to entry. Only unreviewed entries move, and
// bank_backed is reachable only through NewBankBackedEntry. ref is the bank
// transaction a duplicate points at; the caller checks it exists.
func Transition(entry models.LedgerEntry, event Event, at time.Time, note string, ref *int64) (models.LedgerEntry, error) {
	const op = "reconcile.Transition"

	if entry.Status == models.StatusBankBacked {
		return entry, apperrors.Wrap(apperrors.PolicyViolation, apperrors.CodeInvalidState, op,
			errors.New("bank-backed entries are authoritative"))
	}
	if entry.Status != models.StatusUnreviewed {
		return entry, apperrors.Wrap(apperrors.PolicyViolation, apperrors.CodeInvalidState, op,
			fmt.Errorf("entry %d is %s, only unreviewed entries can be %s", entry.ID, entry.Status, event))
	}

	out := entry
	switch event {
	case EventConfirmSeparate:
		out.Status = models.StatusManualConfirmed
		stampReview(&out, at, note)
	case EventMarkDuplicate:
		if ref == nil {
			return entry, apperrors.Wrap(apperrors.PolicyViolation, apperrors.CodeInvalidReference, op,
				errors.New("duplicate must reference a bank transaction"))
		}
		id := *ref
		out.Status = models.StatusDuplicateOfBank
		out.DuplicateOfTransactionID = &id
		stampReview(&out, at, note)
	case EventBackfillPreBankEra:
		out.Status = models.StatusPreBankEra
	default:
		return entry, apperrors.Wrap(apperrors.PolicyViolation, apperrors.CodeInvalidState, op,
			fmt.Errorf("unknown event %q", event))
	}
	return out, nil
}

// Reopen returns a duplicate_of_bank entry to unreviewed once the bank
// transaction it pointed at is gone.
func Reopen(entry models.LedgerEntry) models.LedgerEntry {
	if entry.Status != models.StatusDuplicateOfBank {
		return entry
	}
	entry.Status = models.StatusUnreviewed
	entry.DuplicateOfTransactionID = nil
	entry.ReviewedAt = nil
	entry.ReviewNote = ""
	return entry
}

func stampReview(e *models.LedgerEntry, at time.Time, note string) {
	ts := at.UTC()
	e.ReviewedAt = &ts
	if note = strings.TrimSpace(note); note != "" {
		e.ReviewNote = note
	}
}

// NewBankBackedEntry is the only way an entry becomes bank_backed.
func NewBankBackedEntry(txn models.BankTransaction, category string, now time.Time) models.LedgerEntry {
	kind := models.KindIncome
	if txn.IsDebit() {
		kind = models.KindExpense
	}
	id := txn.ID
	description := txn.DisplayDescription
	if description == "" {
		description = txn.OriginalDescription
	}
	return models.LedgerEntry{
		UserID:            txn.UserID,
		Kind:              kind,
		Amount:            txn.Amount.Abs(),
		Currency:          txn.Currency,
		Category:          category,
		Description:       description,
		Date:              txn.BookingDate,
		Source:            models.SourceBankImport,
		BankTransactionID: &id,
		Status:            models.StatusBankBacked,
		CreatedAt:         now.UTC(),
	}
}

// ValidateEntry checks that the reconciliation fields agree with the status.
func ValidateEntry(e models.LedgerEntry) error {
	const op = "reconcile.ValidateEntry"
	bad := func(msg string) error {
		return apperrors.Wrap(apperrors.PolicyViolation, apperrors.CodeInvalidState, op,
			fmt.Errorf("entry %d: %s", e.ID, msg))
	}

	switch e.Status {
	case models.StatusBankBacked:
		if e.BankTransactionID == nil {
			return bad("bank_backed entry without bank transaction")
		}
		if e.DuplicateOfTransactionID != nil {
			return bad("bank_backed entry marked as duplicate")
		}
	case models.StatusDuplicateOfBank:
		if e.DuplicateOfTransactionID == nil {
			return bad("duplicate_of_bank entry without reference")
		}
		if e.BankTransactionID != nil {
			return bad("duplicate_of_bank entry linked to a bank transaction")
		}
	case models.StatusUnreviewed, models.StatusManualConfirmed, models.StatusPreBankEra:
		if e.BankTransactionID != nil || e.DuplicateOfTransactionID != nil {
			return bad(string(e.Status) + " entry carries bank references")
		}
	default:
		return bad("unknown status " + string(e.Status))
	}
	return nil
}
