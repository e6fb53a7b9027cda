package postgres

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/stock"
)

// PostgreSQL error codes a transaction may be retried on.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

// DBTX is the subset of pgx shared by pools and transactions.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Options tune a DB.
type Options struct {
	// WarehouseID is the warehouse whose level is reported as variant stock.
	WarehouseID int64
	// Retries bounds how many times a cart or stock transaction is rerun
	// after a serialization failure, deadlock or lock timeout.
	Retries int
}

// DB runs domain transactions on a pool.
type DB struct {
	pool        *pgxpool.Pool
	warehouseID int64
	retries     int
}

// New creates a DB.
func New(pool *pgxpool.Pool, opts Options) *DB {
	if opts.WarehouseID == 0 {
		opts.WarehouseID = 1
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &DB{pool: pool, warehouseID: opts.WarehouseID, retries: opts.Retries}
}

// Carts returns the cart.Store view.
func (d *DB) Carts() cart.Store { return cartStore{d} }

// Orders returns the order.Store view. Order transactions are never
// retried: a conflicting checkout surfaces to the caller, who resubmits.
func (d *DB) Orders() order.Store { return orderStore{d} }

// Stock returns the stock.Store view.
func (d *DB) Stock() stock.Store { return stockStore{d} }

type cartStore struct{ d *DB }

func (s cartStore) InTx(ctx context.Context, fn func(ctx context.Context, tx cart.Tx) error) error {
	return s.d.inTx(ctx, s.d.retries, func(ctx context.Context, q *Queries) error { return fn(ctx, q) })
}

type orderStore struct{ d *DB }

func (s orderStore) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	return s.d.inTx(ctx, 0, func(ctx context.Context, q *Queries) error { return fn(ctx, q) })
}

type stockStore struct{ d *DB }

func (s stockStore) InTx(ctx context.Context, fn func(ctx context.Context, tx stock.Tx) error) error {
	return s.d.inTx(ctx, s.d.retries, func(ctx context.Context, q *Queries) error { return fn(ctx, q) })
}

// inTx runs fn in a read-committed transaction, rerunning it up to retries
// times on transient lock errors.
func (d *DB) inTx(ctx context.Context, retries int, fn func(ctx context.Context, q *Queries) error) error {
	attempt := 0
	op := func() error {
		attempt++
		err := pgx.BeginTxFunc(ctx, d.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
			return fn(ctx, &Queries{db: tx, warehouseID: d.warehouseID})
		})
		if err == nil {
			return nil
		}
		if !Retryable(err) {
			return backoff.Permanent(err)
		}
		zctx.From(ctx).Debug("Retrying transaction",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return err
	}

	if retries == 0 {
		err := op()
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return permanent.Err
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx))
}

// Retryable reports whether err is a serialization failure, a deadlock or
// a lock timeout.
func Retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return true
	default:
		return false
	}
}
