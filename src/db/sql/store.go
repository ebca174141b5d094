// Package db holds the PostgreSQL repositories behind the sync engine. A
// Repository runs against either the pool or one open transaction; Store
// hands out transaction-scoped repositories to the reconcile and sync
// services.
package db

import (
	"context"
	"errors"
	"fmt"

	"budgee-sync/src/apperrors"
	"budgee-sync/src/db"
	"budgee-sync/src/reconcile"
	banksync "budgee-sync/src/sync"
	"budgee-sync/src/util"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository implements every query the services issue. Credentials are
// sealed with sealer before they are written.
type Repository struct {
	q      DBTX
	sealer *util.Sealer
}

func NewRepository(q DBTX, sealer *util.Sealer) *Repository {
	return &Repository{q: q, sealer: sealer}
}

type Store struct {
	*Repository
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool, sealer *util.Sealer) *Store {
	return &Store{Repository: NewRepository(pool, sealer), pool: pool}
}

func (s *Store) withTx(ctx context.Context, fn func(r *Repository) error) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(NewRepository(tx, s.sealer))
	})
}

// Reconcile adapts the store to the reconciliation service.
func (s *Store) Reconcile() reconcile.Store { return reconcileStore{s} }

// Sync adapts the store to the orchestrator.
func (s *Store) Sync() banksync.Store { return syncStore{s} }

type reconcileStore struct{ *Store }

func (a reconcileStore) WithTx(ctx context.Context, fn func(tx reconcile.Tx) error) error {
	return a.withTx(ctx, func(r *Repository) error { return fn(r) })
}

type syncStore struct{ *Store }

func (a syncStore) WithTx(ctx context.Context, fn func(tx banksync.Tx) error) error {
	return a.withTx(ctx, func(r *Repository) error { return fn(r) })
}

var (
	_ reconcile.Tx = (*Repository)(nil)
	_ banksync.Tx  = (*Repository)(nil)
)

// notFound maps pgx.ErrNoRows to an apperrors NotFound carrying what was
// looked up.
func notFound(err error, op, what string, id int64) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.Wrap(apperrors.NotFound, apperrors.CodeNotFound, op, fmt.Errorf("%s %d not found", what, id))
	}
	return fmt.Errorf("%s: %w", op, err)
}
