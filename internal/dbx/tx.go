package dbx

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Tx is a scoped transaction handle supporting parameterized query, row
// locking, commit, and rollback. A transaction that exits abnormally (panic
// or a non-nil error returned to WithTx) rolls back.
type Tx struct {
	pgx.Tx
}

// Begin opens a new transaction scope on the gateway's pool.
func (g *Gateway) Begin(ctx context.Context) (*Tx, error) {
	pt, err := g.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return &Tx{Tx: pt}, nil
}

// WithTx begins a transaction, invokes fn, and commits on success. If fn
// returns an error or panics, the transaction is rolled back; a panic is
// re-raised after rollback.
func (g *Gateway) WithTx(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) (err error) {
	tx, err := g.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()

	err = fn(ctx, tx)
	return err
}
