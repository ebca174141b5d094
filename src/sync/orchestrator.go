// Package sync runs the bank import pipeline for every active connection:
// token, fetch, normalize, classify, dedupe, persist.
package sync

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"budgee-sync/src/apperrors"
	"budgee-sync/src/audit"
	"budgee-sync/src/dedupe"
	"budgee-sync/src/logger"
	"budgee-sync/src/models"
	"budgee-sync/src/normalize"
	"budgee-sync/src/providers"
	"budgee-sync/src/reconcile"
	"budgee-sync/src/rules"
	"budgee-sync/src/tokens"
	"budgee-sync/src/transfer"
	"budgee-sync/src/util"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	DefaultBootstrapWindow = 90 * 24 * time.Hour

	SkipIneligible = "ineligible"
)

// Tx is the connection-scoped unit of work. Everything written through it
// commits together or not at all.
type Tx interface {
	ListManualEntries(ctx context.Context, userID int64, status models.ReconciliationStatus) ([]models.LedgerEntry, error)
	ListRules(ctx context.Context, userID int64) ([]models.TransactionRule, error)
	ExistingProviderIDs(ctx context.Context, provider string, ids []string) (map[string]bool, error)
	InsertTransaction(ctx context.Context, t models.BankTransaction) (int64, bool, error)
	CreateLedgerEntry(ctx context.Context, e models.LedgerEntry) (int64, error)
	UpdateTransactionReconciliation(ctx context.Context, t models.BankTransaction) error
	UpdateConnectionSync(ctx context.Context, connectionID int64, lastSyncAt time.Time, cursor string) error

	TransactionsByProviderIDs(ctx context.Context, provider string, ids []string) ([]models.BankTransaction, error)
	DeleteLedgerEntry(ctx context.Context, entryID int64) error
	EntriesDuplicateOf(ctx context.Context, txnID int64) ([]models.LedgerEntry, error)
	UpdateEntryReconciliation(ctx context.Context, e models.LedgerEntry) error
	DeleteTransaction(ctx context.Context, txnID int64) error
}

type Store interface {
	ListActiveConnections(ctx context.Context) ([]models.Connection, error)
	GetConnection(ctx context.Context, connectionID int64) (models.Connection, error)
	DeactivateConnection(ctx context.Context, connectionID int64, reason string) error
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Entitlements answers whether a user may use bank integration. reason is
// reported when allowed is false.
type Entitlements interface {
	CanUseBankIntegration(ctx context.Context, userID int64) (allowed bool, reason string, err error)
}

type TokenSource interface {
	GetValidToken(ctx context.Context, conn *models.Connection, r tokens.Refresher) (string, error)
	Invalidate(connectionID int64)
}

type Recorder interface {
	Record(ctx context.Context, action, result string, userID, connectionID int64, details map[string]interface{}) (models.AuditEvent, error)
}

type Config struct {
	BootstrapWindow time.Duration
	// ConnectionDelay is the minimum spacing between two connection pipelines.
	ConnectionDelay time.Duration
}

type Deps struct {
	Store        Store
	Entitlements Entitlements
	Tokens       TokenSource
	Providers    *providers.Registry
	Classifier   *transfer.Classifier
	Engine       *dedupe.Engine
	Audit        Recorder
}

type Orchestrator struct {
	Deps
	cfg     Config
	limiter *rate.Limiter
	now     func() time.Time
}

func New(deps Deps, cfg Config) *Orchestrator {
	if cfg.BootstrapWindow <= 0 {
		cfg.BootstrapWindow = DefaultBootstrapWindow
	}
	limit := rate.Inf
	if cfg.ConnectionDelay > 0 {
		limit = rate.Every(cfg.ConnectionDelay)
	}
	return &Orchestrator{
		Deps:    deps,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
	}
}

// Run syncs every active connection in turn. A failing connection is
// recorded in the stats and never stops the run; the only error returned is
// failing to list connections.
func (o *Orchestrator) Run(ctx context.Context) (models.SyncStats, error) {
	stats := models.NewSyncStats(uuid.NewString(), o.now().UTC())
	log := logger.FromContext(ctx).With().Str("run_id", stats.RunID).Logger()
	ctx = logger.WithContext(ctx, log)

	conns, err := o.Store.ListActiveConnections(ctx)
	if err != nil {
		return stats, fmt.Errorf("list active connections: %w", err)
	}
	log.Info().Int("connections", len(conns)).Msg("sync run started")

	for _, conn := range conns {
		if err := o.limiter.Wait(ctx); err != nil {
			log.Warn().Err(err).Msg("sync run interrupted")
			break
		}

		allowed, reason, err := o.Entitlements.CanUseBankIntegration(ctx, conn.UserID)
		if err != nil {
			o.recordFailure(ctx, &stats, conn, fmt.Errorf("check entitlements: %w", err))
			continue
		}
		if !allowed {
			stats.Skipped++
			if reason == "" {
				reason = SkipIneligible
			}
			stats.SkipReasons[reason]++
			o.audit(ctx, conn, audit.ResultSkipped, models.ConnectionResult{}, map[string]interface{}{"reason": reason})
			continue
		}
		stats.Eligible++

		res, err := o.syncConnection(ctx, conn)
		if err != nil {
			o.recordFailure(ctx, &stats, conn, err)
			continue
		}
		stats.Succeeded++
		stats.Add(res)
	}

	stats.FinishedAt = o.now().UTC()
	log.Info().
		Int("eligible", stats.Eligible).
		Int("skipped", stats.Skipped).
		Int("succeeded", stats.Succeeded).
		Int("failed", stats.Failed).
		Int("imported", stats.TransactionsImported).
		Int("entries_created", stats.LedgerEntriesCreated).
		Int("duplicates", stats.DuplicatesFlagged).
		Int("internal_transfers", stats.InternalTransfers).
		Msg("sync run finished")

	if o.Audit != nil {
		_, err := o.Audit.Record(ctx, audit.ActionSyncRun, audit.ResultSuccess, 0, 0, map[string]interface{}{
			"run_id":      stats.RunID,
			"eligible":    stats.Eligible,
			"skipped":     stats.Skipped,
			"skip_reason": stats.SkipReasons,
			"succeeded":   stats.Succeeded,
			"failed":      stats.Failed,
			"imported":    stats.TransactionsImported,
		})
		if err != nil {
			log.Warn().Err(err).Msg("audit record failed")
		}
	}
	return stats, nil
}

// SyncConnection runs one connection's pipeline on demand, for a webhook or
// an admin trigger.
func (o *Orchestrator) SyncConnection(ctx context.Context, connectionID int64) (models.ConnectionResult, error) {
	const op = "sync.SyncConnection"

	conn, err := o.Store.GetConnection(ctx, connectionID)
	if err != nil {
		return models.ConnectionResult{}, err
	}
	if !conn.Active {
		return models.ConnectionResult{}, apperrors.Wrap(apperrors.PolicyViolation, apperrors.CodeInvalidState, op,
			fmt.Errorf("connection %d is inactive", connectionID))
	}
	allowed, reason, err := o.Entitlements.CanUseBankIntegration(ctx, conn.UserID)
	if err != nil {
		return models.ConnectionResult{}, fmt.Errorf("check entitlements: %w", err)
	}
	if !allowed {
		return models.ConnectionResult{}, apperrors.Wrap(apperrors.PolicyViolation, apperrors.CodeIneligible, op,
			fmt.Errorf("user %d cannot use bank integration: %s", conn.UserID, reason))
	}

	res, err := o.syncConnection(ctx, conn)
	if err != nil {
		o.handleFailure(ctx, conn, err)
		return res, err
	}
	return res, nil
}

func (o *Orchestrator) recordFailure(ctx context.Context, stats *models.SyncStats, conn models.Connection, err error) {
	stats.Failed++
	stats.Failures = append(stats.Failures, models.SyncFailure{
		ConnectionID: conn.ID,
		UserID:       conn.UserID,
		Kind:         apperrors.KindOf(err).String(),
		Error:        audit.SanitizeString(err.Error()),
	})
	o.handleFailure(ctx, conn, err)
}

// handleFailure deactivates connections whose credentials are gone. It runs
// after the connection's transaction has rolled back.
func (o *Orchestrator) handleFailure(ctx context.Context, conn models.Connection, err error) {
	log := logger.FromContext(ctx).With().Int64("connection_id", conn.ID).Int64("user_id", conn.UserID).Logger()
	kind := apperrors.KindOf(err)
	log.Error().Err(err).Str("kind", kind.String()).Msg("connection sync failed")

	if kind == apperrors.Fatal {
		reason := apperrors.CodeOf(err)
		if reason == "" {
			reason = apperrors.CodeAuthRevoked
		}
		o.Tokens.Invalidate(conn.ID)
		if derr := o.Store.DeactivateConnection(ctx, conn.ID, reason); derr != nil {
			log.Error().Err(derr).Msg("failed to deactivate connection")
		} else {
			log.Warn().Msg("connection deactivated, user must relink")
		}
	}
	o.audit(ctx, conn, audit.ResultFailure, models.ConnectionResult{}, map[string]interface{}{
		"kind":  kind.String(),
		"error": err.Error(),
	})
}

func (o *Orchestrator) syncConnection(ctx context.Context, conn models.Connection) (res models.ConnectionResult, err error) {
	log := logger.FromContext(ctx).With().
		Int64("connection_id", conn.ID).
		Int64("user_id", conn.UserID).
		Str("provider", conn.Provider).
		Logger()
	ctx = logger.WithContext(ctx, log)

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("stack", string(debug.Stack())).Msg("connection pipeline panicked")
			res = models.ConnectionResult{}
			err = fmt.Errorf("connection %d pipeline panicked: %v", conn.ID, r)
		}
	}()

	provider, err := o.Providers.Get(conn.Provider)
	if err != nil {
		return res, err
	}

	accessToken, err := o.Tokens.GetValidToken(ctx, &conn, provider)
	if err != nil {
		return res, err
	}

	since := o.now().Add(-o.cfg.BootstrapWindow)
	if conn.LastSyncAt != nil {
		since = *conn.LastSyncAt
	}
	fetched, err := provider.FetchTransactions(ctx, accessToken, conn, since)
	if err != nil {
		return res, fmt.Errorf("fetch transactions: %w", err)
	}
	res.Fetched = len(fetched.Transactions)
	res.Malformed = fetched.Malformed

	batch := o.normalizeBatch(log, conn, fetched.Transactions, &res)
	bics := transfer.InferAccountBICs(batch)
	o.seedAccountBICs(ctx, provider, accessToken, conn, batch, bics)

	err = o.Store.WithTx(ctx, func(tx Tx) error {
		if err := o.withdraw(ctx, tx, conn, fetched.Removed, &res); err != nil {
			return err
		}
		return o.persist(ctx, tx, conn, batch, bics, fetched.NextCursor, &res)
	})
	if err != nil {
		return models.ConnectionResult{}, err
	}

	log.Info().
		Int("fetched", res.Fetched).
		Int("imported", res.TransactionsImported).
		Int("already_imported", res.AlreadyImported).
		Int("entries_created", res.LedgerEntriesCreated).
		Int("duplicates", res.DuplicatesFlagged).
		Int("internal_transfers", res.InternalTransfers).
		Int("malformed", res.Malformed).
		Int("pending_skipped", res.PendingSkipped).
		Int("removed", res.Removed).
		Msg("connection synced")
	o.audit(ctx, conn, audit.ResultSuccess, res, nil)
	return res, nil
}

// normalizeBatch drops entries that cannot be normalized, pending entries and
// repeats of the same provider id within the batch.
func (o *Orchestrator) normalizeBatch(log zerolog.Logger, conn models.Connection, raws []models.RawTransaction, res *models.ConnectionResult) []models.BankTransaction {
	seen := make(map[string]bool, len(raws))
	batch := make([]models.BankTransaction, 0, len(raws))
	for _, raw := range raws {
		txn, err := normalize.Normalize(raw)
		if err != nil {
			res.Malformed++
			log.Warn().Err(err).Msg("skipping transaction that could not be normalized")
			continue
		}
		if warnings := normalize.Warnings(txn); len(warnings) > 0 {
			log.Warn().Str("provider_transaction_id", txn.ProviderTransactionID).Strs("warnings", warnings).Msg("degraded transaction")
		}
		if txn.Pending {
			res.PendingSkipped++
			continue
		}
		if seen[txn.ProviderTransactionID] {
			continue
		}
		seen[txn.ProviderTransactionID] = true

		txn.ConnectionID = conn.ID
		txn.UserID = conn.UserID
		batch = append(batch, txn)
	}
	return batch
}

// seedAccountBICs fills in accounts the batch gave no BIC vote for from the
// provider's account list. A failed lookup only weakens transfer detection.
func (o *Orchestrator) seedAccountBICs(ctx context.Context, provider providers.Provider, accessToken string, conn models.Connection, batch []models.BankTransaction, bics transfer.AccountBICs) {
	missing := false
	for _, t := range batch {
		if _, ok := bics[t.AccountID]; !ok {
			missing = true
			break
		}
	}
	if !missing {
		return
	}

	accounts, err := provider.ListAccounts(ctx, accessToken, conn)
	if err != nil {
		lg := logger.FromContext(ctx)
		lg.Warn().Err(err).Msg("could not list accounts for BIC lookup")
		return
	}
	for _, a := range accounts {
		if _, ok := bics[a.AccountID]; ok {
			continue
		}
		if bic := util.NormalizeBIC(a.BIC); bic != "" {
			bics[a.AccountID] = bic
		}
	}
}

// withdraw drops transactions the provider retracted since the last sync.
func (o *Orchestrator) withdraw(ctx context.Context, tx Tx, conn models.Connection, removed []string, res *models.ConnectionResult) error {
	if len(removed) == 0 {
		return nil
	}
	txns, err := tx.TransactionsByProviderIDs(ctx, conn.Provider, removed)
	if err != nil {
		return fmt.Errorf("load removed transactions: %w", err)
	}
	for _, txn := range txns {
		if txn.UserID != conn.UserID {
			continue
		}
		if err := reconcile.WithdrawTransaction(ctx, tx, txn); err != nil {
			return err
		}
		res.Removed++
	}
	return nil
}

func (o *Orchestrator) persist(ctx context.Context, tx Tx, conn models.Connection, batch []models.BankTransaction, bics transfer.AccountBICs, cursor string, res *models.ConnectionResult) error {
	ids := make([]string, len(batch))
	for i, t := range batch {
		ids[i] = t.ProviderTransactionID
	}
	existing, err := tx.ExistingProviderIDs(ctx, conn.Provider, ids)
	if err != nil {
		return fmt.Errorf("load existing transactions: %w", err)
	}

	manual, err := tx.ListManualEntries(ctx, conn.UserID, models.StatusUnreviewed)
	if err != nil {
		return fmt.Errorf("load manual entries: %w", err)
	}
	candidates := make([]dedupe.Candidate, 0, len(manual))
	for _, e := range manual {
		candidates = append(candidates, dedupe.CandidateFromEntry(e))
	}
	matcher := o.Engine.NewBatch(candidates)

	ruleSet, err := tx.ListRules(ctx, conn.UserID)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	categorizer := rules.NewCategorizer(ruleSet)

	for _, txn := range batch {
		if existing[txn.ProviderTransactionID] {
			res.AlreadyImported++
			continue
		}

		txn.IsInternalTransfer = o.Classifier.IsInternalTransfer(txn, bics)
		var dup dedupe.Result
		if !txn.IsInternalTransfer {
			dup = matcher.Detect(dedupe.CandidateFromTransaction(0, txn))
			if dup.IsDuplicate() {
				matchID := dup.Match.ID
				txn.SuspectedEntryID = &matchID
				txn.DuplicateConfidence = dup.Confidence
				txn.DuplicateReason = dup.Reason
			}
		}

		id, inserted, err := tx.InsertTransaction(ctx, txn)
		if err != nil {
			return fmt.Errorf("insert transaction %s: %w", txn.ProviderTransactionID, err)
		}
		if !inserted {
			res.AlreadyImported++
			continue
		}
		txn.ID = id
		res.TransactionsImported++

		switch {
		case txn.IsInternalTransfer:
			res.InternalTransfers++
		case dup.IsDuplicate():
			res.DuplicatesFlagged++
		default:
			entryID, err := reconcile.CreateBankBacked(ctx, tx, txn, categorizer.Categorize(txn), o.now())
			if err != nil {
				return err
			}
			txn.LedgerEntryID = &entryID
			if err := tx.UpdateTransactionReconciliation(ctx, txn); err != nil {
				return fmt.Errorf("link transaction %d: %w", txn.ID, err)
			}
			res.LedgerEntriesCreated++
		}
	}

	if err := tx.UpdateConnectionSync(ctx, conn.ID, o.now().UTC(), cursor); err != nil {
		return fmt.Errorf("update connection sync state: %w", err)
	}
	return nil
}

func (o *Orchestrator) audit(ctx context.Context, conn models.Connection, result string, res models.ConnectionResult, extra map[string]interface{}) {
	if o.Audit == nil {
		return
	}
	details := map[string]interface{}{
		"provider":           conn.Provider,
		"fetched":            res.Fetched,
		"imported":           res.TransactionsImported,
		"already_imported":   res.AlreadyImported,
		"entries_created":    res.LedgerEntriesCreated,
		"duplicates_flagged": res.DuplicatesFlagged,
		"internal_transfers": res.InternalTransfers,
		"malformed":          res.Malformed,
		"pending_skipped":    res.PendingSkipped,
		"removed":            res.Removed,
	}
	for k, v := range extra {
		details[k] = v
	}
	if _, err := o.Audit.Record(ctx, audit.ActionSyncConnection, result, conn.UserID, conn.ID, details); err != nil {
		lg := logger.FromContext(ctx)
		lg.Warn().Err(err).Msg("audit record failed")
	}
}
