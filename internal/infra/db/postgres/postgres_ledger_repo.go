package postgres

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v4/pgxpool"

	"billing-gateway/internal/domain"
	"billing-gateway/internal/domain/ports/repository"
)

var _ repository.Ledger = (*ledgerRepo)(nil)

// ledgerRepo keeps client credits in client_balances; the balance is the sum
// of all entries for a client and currency.
type ledgerRepo struct{ pool *pgxpool.Pool }

func NewLedgerRepo(pool *pgxpool.Pool) *ledgerRepo {
	return &ledgerRepo{pool: pool}
}

func (r *ledgerRepo) AddFunds(ctx context.Context, tx repository.Tx, clientID int64, amount int64, currency, description string, meta repository.FundsMeta) error {
	if amount == 0 || currency == "" {
		return domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO client_balances (client_id, type, rel_id, amount, currency, description)
VALUES ($1,$2,$3,$4,$5,$6);`
	_, err := execSQL(ctx, r.pool, tx, q, clientID, meta.Type, meta.RelID, amount, strings.ToUpper(currency), description)
	return repoErr(err)
}

func (r *ledgerRepo) Balance(ctx context.Context, tx repository.Tx, clientID int64, currency string) (int64, error) {
	const q = `SELECT COALESCE(SUM(amount),0) FROM client_balances WHERE client_id=$1 AND currency=$2;`
	row, err := pickRow(ctx, r.pool, tx, q, clientID, strings.ToUpper(currency))
	if err != nil {
		return 0, err
	}
	var sum int64
	if err := row.Scan(&sum); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return sum, nil
}
