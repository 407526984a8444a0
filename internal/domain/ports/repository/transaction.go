package repository

import (
	"context"
	"time"

	"billing-gateway/internal/domain/model"
)

type TransactionRepository interface {
	Create(ctx context.Context, tx Tx, t *model.Transaction) error
	// GetByID locks the row (SELECT ... FOR UPDATE) when tx is a database transaction.
	GetByID(ctx context.Context, tx Tx, id string) (*model.Transaction, error)
	// Store persists every mutable column of t.
	Store(ctx context.Context, tx Tx, t *model.Transaction) error
	// MarkProcessed is the compare-and-set guard: it flips the row to processed only
	// when it is not processed yet and reports whether this call won.
	MarkProcessed(ctx context.Context, tx Tx, id, txnID string) (bool, error)
	FindProcessedByTxnID(ctx context.Context, tx Tx, gatewayID int64, txnID string) (*model.Transaction, error)
	ListReceivedOlderThan(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.Transaction, error)
}
