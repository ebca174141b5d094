package models

import "time"

type SyncFailure struct {
	ConnectionID int64  `json:"connection_id"`
	UserID       int64  `json:"user_id"`
	Kind         string `json:"kind"`
	Error        string `json:"error"`
}

// SyncStats aggregates one orchestrator run. It is never persisted.
type SyncStats struct {
	RunID                string         `json:"run_id"`
	StartedAt            time.Time      `json:"started_at"`
	FinishedAt           time.Time      `json:"finished_at"`
	Eligible             int            `json:"eligible_connections"`
	Skipped              int            `json:"skipped_connections"`
	SkipReasons          map[string]int `json:"skip_reasons"`
	Succeeded            int            `json:"successful_syncs"`
	Failed               int            `json:"failed_syncs"`
	Failures             []SyncFailure  `json:"failures"`
	TransactionsImported int            `json:"transactions_imported"`
	LedgerEntriesCreated int            `json:"ledger_entries_created"`
	DuplicatesFlagged    int            `json:"duplicates_flagged"`
	InternalTransfers    int            `json:"internal_transfers"`
}

func NewSyncStats(runID string, startedAt time.Time) SyncStats {
	return SyncStats{RunID: runID, StartedAt: startedAt, SkipReasons: make(map[string]int)}
}

// ConnectionResult is what one connection's pipeline contributes to the run.
type ConnectionResult struct {
	Fetched              int `json:"fetched"`
	TransactionsImported int `json:"transactions_imported"`
	AlreadyImported      int `json:"already_imported"`
	LedgerEntriesCreated int `json:"ledger_entries_created"`
	DuplicatesFlagged    int `json:"duplicates_flagged"`
	InternalTransfers    int `json:"internal_transfers"`
	Malformed            int `json:"malformed"`
	PendingSkipped       int `json:"pending_skipped"`
	Removed              int `json:"removed"`
}

func (s *SyncStats) Add(r ConnectionResult) {
	s.TransactionsImported += r.TransactionsImported
	s.LedgerEntriesCreated += r.LedgerEntriesCreated
	s.DuplicatesFlagged += r.DuplicatesFlagged
	s.InternalTransfers += r.InternalTransfers
}
