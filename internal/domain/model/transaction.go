package model

import (
	"time"

	"billing-gateway/internal/domain"

	"github.com/oklog/ulid/v2"
)

type TransactionStatus string

const (
	TransactionStatusReceived  TransactionStatus = "received"  // callback stored; not yet applied
	TransactionStatusProcessed TransactionStatus = "processed" // funds credited and invoice paid; terminal
	TransactionStatusError     TransactionStatus = "error"     // gateway reported failure; terminal
)

// Terminal reports whether no further reconciliation may change the status.
func (s TransactionStatus) Terminal() bool {
	return s == TransactionStatusProcessed || s == TransactionStatusError
}

type TransactionType string

const (
	TransactionTypePayment      TransactionType = "payment"
	TransactionTypeRefund       TransactionType = "refund"
	TransactionTypeSubscription TransactionType = "subscription"
)

// Transaction is one inbound gateway notification and its reconciliation outcome.
type Transaction struct {
	ID        string // ULID
	InvoiceID *int64 // nil until the adapter resolves the invoice reference
	GatewayID int64  // pay_gateways.id
	Gateway   string // adapter name, e.g. "Stripe"
	TxnID     string // gateway's external reference; idempotency key
	TxnStatus string // gateway-native status string
	Status    TransactionStatus
	Type      TransactionType
	Amount    int64 // minor units
	Currency  string
	IPN       []byte // serialized CallbackEnvelope (JSONB)
	Error     string
	ErrorCode string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewTransaction creates a received transaction for an inbound callback.
func NewTransaction(id string, gatewayID int64, gateway string, invoiceID *int64, ipn []byte) (*Transaction, error) {
	if gatewayID <= 0 || gateway == "" {
		return nil, domain.ErrInvalidArgument
	}
	if id == "" {
		id = NewTransactionID()
	}
	now := time.Now()
	return &Transaction{
		ID:        id,
		InvoiceID: invoiceID,
		GatewayID: gatewayID,
		Gateway:   gateway,
		Status:    TransactionStatusReceived,
		Type:      TransactionTypePayment,
		IPN:       ipn,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// NewTransactionID returns a lexicographically sortable ULID.
func NewTransactionID() string {
	return ulid.Make().String()
}
