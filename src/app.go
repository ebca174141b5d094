package main

import (
	"context"
	"fmt"

	"budgee-sync/src/audit"
	"budgee-sync/src/config"
	"budgee-sync/src/db"
	dbsql "budgee-sync/src/db/sql"
	"budgee-sync/src/dedupe"
	"budgee-sync/src/logger"
	"budgee-sync/src/providers"
	"budgee-sync/src/providers/openbanking"
	plaidprovider "budgee-sync/src/providers/plaid"
	"budgee-sync/src/reconcile"
	banksync "budgee-sync/src/sync"
	"budgee-sync/src/tokens"
	"budgee-sync/src/transfer"
	"budgee-sync/src/util"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/plaid/plaid-go/v41/plaid"
)

// app holds the wired services every command shares.
type app struct {
	cfg          config.Config
	pool         *pgxpool.Pool
	store        *dbsql.Store
	cache        *tokens.Cache
	plaidClient  *plaid.APIClient
	audit        *audit.Recorder
	orchestrator *banksync.Orchestrator
	reconciler   *reconcile.Service
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	log := logger.FromContext(ctx)

	tuning, err := config.LoadTuning(cfg.TuningFile)
	if err != nil {
		return nil, err
	}
	dedupeCfg, err := tuning.DedupeConfig()
	if err != nil {
		return nil, err
	}
	engine, err := dedupe.NewEngine(dedupeCfg)
	if err != nil {
		return nil, err
	}
	classifier := transfer.New(tuning.InternalTransferPhrases...)

	var sealer *util.Sealer
	if cfg.TokenEncryptionKey != "" {
		if sealer, err = util.NewSealer(cfg.TokenEncryptionKey); err != nil {
			return nil, err
		}
	} else {
		log.Warn().Msg("TOKEN_ENCRYPTION_KEY not set, provider tokens are stored unsealed")
	}

	// Connect to database
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("DB connection failed: %w", err)
	}
	store := dbsql.NewStore(pool, sealer)

	a := &app{cfg: cfg, pool: pool, store: store}

	registry := providers.NewRegistry()
	policy := cfg.RetryPolicy()
	if cfg.OpenBankingEnabled() {
		client, err := openbanking.New(openbanking.Config{
			ClientID:     cfg.OpenBankingClientID,
			ClientSecret: cfg.OpenBankingClientSecret,
			TokenURL:     cfg.OpenBankingTokenURL,
			APIURL:       cfg.OpenBankingAPIURL,
			Timeout:      cfg.ProviderTimeout,
			Policy:       policy,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		registry.Register(client)
	}
	if cfg.PlaidEnabled() {
		client, err := plaidprovider.NewClient(cfg.PlaidClientID, cfg.PlaidSecret, cfg.PlaidEnv)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.plaidClient = client
		registry.Register(plaidprovider.NewAdapter(client, policy))
	}
	if len(registry.Names()) == 0 {
		log.Warn().Msg("no bank providers configured")
	}

	cache, err := tokens.NewCache(cfg.TokenCacheCapacity)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.cache = cache
	a.audit = audit.NewRecorder(store)

	a.orchestrator = banksync.New(banksync.Deps{
		Store:        store.Sync(),
		Entitlements: store,
		Tokens:       tokens.NewManager(cache, store, policy, cfg.TokenSafetyMargin),
		Providers:    registry,
		Classifier:   classifier,
		Engine:       engine,
		Audit:        a.audit,
	}, banksync.Config{
		BootstrapWindow: cfg.BootstrapWindow,
		ConnectionDelay: cfg.ConnectionDelay,
	})
	a.reconciler = reconcile.NewService(store.Reconcile(), engine, classifier)
	return a, nil
}

func (a *app) Close() {
	if a.cache != nil {
		a.cache.Close()
	}
	a.pool.Close()
}
