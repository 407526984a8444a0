package postgres

import (
	"context"
	"strconv"

	"github.com/jackc/pgx/v4/pgxpool"

	"billing-gateway/internal/domain"
	"billing-gateway/internal/domain/model"
	"billing-gateway/internal/domain/ports/repository"
)

var _ repository.InvoiceRepository = (*invoiceRepo)(nil)

type invoiceRepo struct {
	pool   *pgxpool.Pool
	ledger *ledgerRepo
}

func NewInvoiceRepo(pool *pgxpool.Pool) *invoiceRepo {
	return &invoiceRepo{pool: pool, ledger: NewLedgerRepo(pool)}
}

const invoiceSelect = `
SELECT i.id, i.client_id, i.serie, i.nr, i.hash, i.currency, i.status, i.created_at, i.paid_at,
       c.first_name, c.last_name, c.email, c.country
  FROM invoices i JOIN clients c ON c.id = i.client_id
`

func (r *invoiceRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.Invoice, error) {
	return r.findOne(ctx, tx, invoiceSelect+` WHERE i.id=$1;`, id)
}

// FindByHash loads an invoice by its public hash, the only identifier shown
// to guests.
func (r *invoiceRepo) FindByHash(ctx context.Context, tx repository.Tx, hash string) (*model.Invoice, error) {
	if hash == "" {
		return nil, domain.ErrNotFound
	}
	return r.findOne(ctx, tx, invoiceSelect+` WHERE i.hash=$1;`, hash)
}

func (r *invoiceRepo) findOne(ctx context.Context, tx repository.Tx, q string, arg any) (*model.Invoice, error) {
	row, err := pickRow(ctx, r.pool, tx, q, arg)
	if err != nil {
		return nil, err
	}
	inv := &model.Invoice{}
	var status string
	if err := row.Scan(&inv.ID, &inv.ClientID, &inv.Serie, &inv.Nr, &inv.Hash, &inv.Currency, &status, &inv.CreatedAt, &inv.PaidAt,
		&inv.Buyer.FirstName, &inv.Buyer.LastName, &inv.Buyer.Email, &inv.Buyer.Country); err != nil {
		return nil, scanErr(err)
	}
	inv.Status = model.InvoiceStatus(status)

	const qi = `SELECT title, price, quantity, tax FROM invoice_items WHERE invoice_id=$1 ORDER BY id;`
	rows, err := queryRows(ctx, r.pool, tx, qi, inv.ID)
	if err != nil {
		return nil, repoErr(err)
	}
	defer rows.Close()
	for rows.Next() {
		var it model.InvoiceItem
		if err := rows.Scan(&it.Title, &it.Price, &it.Quantity, &it.Tax); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		inv.Items = append(inv.Items, it)
	}
	if rows.Err() != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return inv, nil
}

// PayInvoiceWithCredits locks the invoice row, debits the client's balance
// for the invoice total and marks the invoice paid. A paid invoice is a no-op
// that reports true.
func (r *invoiceRepo) PayInvoiceWithCredits(ctx context.Context, tx repository.Tx, inv *model.Invoice) (bool, error) {
	q := `SELECT status FROM invoices WHERE id=$1`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q, inv.ID)
	if err != nil {
		return false, err
	}
	var status string
	if err := row.Scan(&status); err != nil {
		return false, scanErr(err)
	}
	if model.InvoiceStatus(status) == model.InvoiceStatusPaid {
		return true, nil
	}

	total := inv.TotalWithTax()
	balance, err := r.ledger.Balance(ctx, tx, inv.ClientID, inv.Currency)
	if err != nil {
		return false, err
	}
	if balance < total {
		return false, nil
	}

	meta := repository.FundsMeta{Type: "invoice", RelID: strconv.FormatInt(inv.ID, 10)}
	if err := r.ledger.AddFunds(ctx, tx, inv.ClientID, -total, inv.Currency, "Payment for invoice "+inv.Number(), meta); err != nil {
		return false, err
	}

	const qp = `UPDATE invoices SET status='paid', paid_at=NOW() WHERE id=$1 AND status <> 'paid';`
	if _, err := execSQL(ctx, r.pool, tx, qp, inv.ID); err != nil {
		return false, repoErr(err)
	}
	return true, nil
}
