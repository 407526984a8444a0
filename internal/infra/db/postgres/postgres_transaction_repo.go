package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"billing-gateway/internal/domain"
	"billing-gateway/internal/domain/model"
	"billing-gateway/internal/domain/ports/repository"
)

var _ repository.TransactionRepository = (*transactionRepo)(nil)

type transactionRepo struct{ pool *pgxpool.Pool }

func NewTransactionRepo(pool *pgxpool.Pool) *transactionRepo {
	return &transactionRepo{pool: pool}
}

const transactionColumns = `id, invoice_id, gateway_id, gateway, txn_id, txn_status, status, type, amount, currency, ipn, error, error_code, created_at, updated_at`

func scanTransaction(row pgx.Row) (*model.Transaction, error) {
	t := &model.Transaction{}
	var status, typ string
	if err := row.Scan(&t.ID, &t.InvoiceID, &t.GatewayID, &t.Gateway, &t.TxnID, &t.TxnStatus, &status, &typ,
		&t.Amount, &t.Currency, &t.IPN, &t.Error, &t.ErrorCode, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, scanErr(err)
	}
	t.Status = model.TransactionStatus(status)
	t.Type = model.TransactionType(typ)
	return t, nil
}

func (r *transactionRepo) Create(ctx context.Context, tx repository.Tx, t *model.Transaction) error {
	const q = `
INSERT INTO transactions (` + transactionColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15);`

	_, err := execSQL(ctx, r.pool, tx, q, t.ID, t.InvoiceID, t.GatewayID, t.Gateway, t.TxnID, t.TxnStatus, string(t.Status), string(t.Type),
		t.Amount, t.Currency, t.IPN, t.Error, t.ErrorCode, t.CreatedAt, t.UpdatedAt)
	return repoErr(err)
}

func (r *transactionRepo) GetByID(ctx context.Context, tx repository.Tx, id string) (*model.Transaction, error) {
	q := `SELECT ` + transactionColumns + ` FROM transactions WHERE id=$1`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanTransaction(row)
}

func (r *transactionRepo) Store(ctx context.Context, tx repository.Tx, t *model.Transaction) error {
	const q = `
UPDATE transactions SET
  invoice_id=$2, txn_id=$3, txn_status=$4, status=$5, type=$6, amount=$7, currency=$8,
  error=$9, error_code=$10, updated_at=NOW()
WHERE id=$1;`

	tag, err := execSQL(ctx, r.pool, tx, q, t.ID, t.InvoiceID, t.TxnID, t.TxnStatus, string(t.Status), string(t.Type),
		t.Amount, t.Currency, t.Error, t.ErrorCode)
	if err != nil {
		return repoErr(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	t.UpdatedAt = time.Now()
	return nil
}

// MarkProcessed only flips rows that are not processed yet. The partial unique
// index rejects a second processed row for the same gateway transaction.
func (r *transactionRepo) MarkProcessed(ctx context.Context, tx repository.Tx, id, txnID string) (bool, error) {
	const q = `
UPDATE transactions
   SET status='processed', txn_id=$2, updated_at=NOW()
 WHERE id=$1
   AND status <> 'processed'`

	tag, err := execSQL(ctx, r.pool, tx, q, id, txnID)
	if err != nil {
		return false, repoErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *transactionRepo) FindProcessedByTxnID(ctx context.Context, tx repository.Tx, gatewayID int64, txnID string) (*model.Transaction, error) {
	const q = `SELECT ` + transactionColumns + ` FROM transactions
WHERE gateway_id=$1 AND txn_id=$2 AND status='processed' AND type <> 'refund' LIMIT 1;`
	row, err := pickRow(ctx, r.pool, tx, q, gatewayID, txnID)
	if err != nil {
		return nil, err
	}
	return scanTransaction(row)
}

func (r *transactionRepo) ListReceivedOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + transactionColumns + ` FROM transactions
WHERE status='received' AND txn_id <> '' AND created_at < $1
ORDER BY created_at ASC LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, olderThan, limit)
	if err != nil {
		return nil, repoErr(err)
	}
	defer rows.Close()

	var out []*model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if rows.Err() != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

// repoErr keeps domain errors and hides driver details behind ErrOperationFailed.
func repoErr(err error) error {
	switch err {
	case nil:
		return nil
	case domain.ErrInvalidArgument, domain.ErrInvalidExecContext, domain.ErrDuplicateTransaction, domain.ErrAlreadyExists:
		return err
	default:
		return domain.ErrOperationFailed
	}
}
