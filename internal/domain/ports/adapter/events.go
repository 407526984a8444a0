package adapter

import (
	"context"
	"time"
)

type PaymentEventKind string

const (
	PaymentEventProcessed PaymentEventKind = "payment.processed"
	PaymentEventFailed    PaymentEventKind = "payment.failed"
	PaymentEventRefunded  PaymentEventKind = "payment.refunded"
)

// PaymentEvent is emitted after a reconciliation outcome has been committed.
type PaymentEvent struct {
	Kind          PaymentEventKind `json:"kind"`
	TransactionID string           `json:"transaction_id"`
	Gateway       string           `json:"gateway"`
	TxnID         string           `json:"txn_id"`
	InvoiceID     *int64           `json:"invoice_id,omitempty"`
	Amount        int64            `json:"amount"`
	Currency      string           `json:"currency"`
	OccurredAt    time.Time        `json:"occurred_at"`
}

type EventPublisher interface {
	Publish(ctx context.Context, ev PaymentEvent) error
}

// NoopPublisher drops events; used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, PaymentEvent) error { return nil }
