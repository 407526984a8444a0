package adapter

import (
	"context"
	"net/http"

	"billing-gateway/internal/domain/model"

	"github.com/rs/zerolog"
)

// PaymentAdapter is the contract every payment gateway integration fulfils.
// Instances are built per request and keep no state between requests.
type PaymentAdapter interface {
	// Config returns the static descriptor; it never performs I/O.
	Config() model.GatewayConfig

	// BuildPaymentRequest performs at most one gateway call to obtain a redirect.
	BuildPaymentRequest(ctx context.Context, inv *model.Invoice, pc model.PaymentContext) (*model.PaymentIntentRequest, error)

	// VerifyCallback authenticates an inbound callback. It must not touch persisted state.
	VerifyCallback(ctx context.Context, env *model.CallbackEnvelope) (*model.VerifiedPayment, error)

	// MapStatus is a pure lookup; unknown statuses map to received.
	MapStatus(gatewayStatus string) model.TransactionStatus

	Refund(ctx context.Context, tx *model.Transaction, amount int64, reason string) (*model.RefundResult, error)

	CreateRecurringProfile(ctx context.Context, inv *model.Invoice, pc model.PaymentContext) (*model.PaymentIntentRequest, error)
	CancelRecurringProfile(ctx context.Context, profileID string) error
	UpdateRecurringProfile(ctx context.Context, profileID string, amount int64) error
}

// StatusFetcher is implemented by adapters that can look a payment up server side.
// The stale transaction sweeper uses it to settle callbacks that never completed.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, tx *model.Transaction) (*model.VerifiedPayment, error)
}

// AdapterConfig is everything an adapter needs to be constructed.
type AdapterConfig struct {
	Credentials map[string]string
	TestMode    bool
	// BaseURL overrides the gateway API endpoint derived from TestMode.
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// AdapterFactory builds adapters for one gateway type.
type AdapterFactory interface {
	Name() string
	Schema() model.GatewayConfig
	New(cfg AdapterConfig) (PaymentAdapter, error)
}
