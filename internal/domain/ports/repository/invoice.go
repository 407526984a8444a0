package repository

import (
	"context"

	"billing-gateway/internal/domain/model"
)

type InvoiceRepository interface {
	FindByID(ctx context.Context, tx Tx, id int64) (*model.Invoice, error)
	FindByHash(ctx context.Context, tx Tx, hash string) (*model.Invoice, error)
	// PayInvoiceWithCredits settles the invoice from the client's balance.
	// It returns false when the balance does not cover the total.
	PayInvoiceWithCredits(ctx context.Context, tx Tx, inv *model.Invoice) (bool, error)
}
