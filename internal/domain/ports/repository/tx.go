package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an infra-defined transaction handle (pgx.Tx for Postgres).
// Repositories accept nil and fall back to a non-transactional path.
type Tx interface{}

var NoTX interface{}

// TransactionManager runs fn inside one database transaction.
//
// Reconciliation relies on it to make "credit funds", "pay invoice" and
// "persist processed" commit or roll back together:
//
//	tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx Tx) error {
//		t, err := transactions.GetByID(ctx, tx, id) // row locked
//		...
//		return transactions.Store(ctx, tx, t)
//	})
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
