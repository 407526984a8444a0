package repository

import (
	"context"
)

// FundsMeta tags a ledger entry with what caused it.
type FundsMeta struct {
	Type  string // "transaction"
	RelID string // transaction id
}

type Ledger interface {
	AddFunds(ctx context.Context, tx Tx, clientID int64, amount int64, currency, description string, meta FundsMeta) error
	Balance(ctx context.Context, tx Tx, clientID int64, currency string) (int64, error)
}
