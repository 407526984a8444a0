// File: internal/usecase/payment_uc.go
package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"billing-gateway/internal/domain"
	"billing-gateway/internal/domain/model"
	"billing-gateway/internal/domain/ports/adapter"
	"billing-gateway/internal/domain/ports/repository"
	"billing-gateway/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ PaymentUseCase = (*paymentUC)(nil)

// AdminContext identifies who triggered an operation. The zero value is a
// guest (payer or gateway callback).
type AdminContext struct {
	AdminID string
	IP      string
}

func (a AdminContext) IsAdmin() bool { return a.AdminID != "" }

// GatewaySummary is the admin view of a configured gateway.
type GatewaySummary struct {
	ID              int64
	Gateway         string
	Title           string
	Enabled         bool
	TestMode        bool
	AllowSingle     bool
	AllowRecurrent  bool
	SupportsRefunds bool
	Currencies      []string
}

type PaymentUseCase interface {
	// GetPayPage renders the page that sends a guest payer to the gateway.
	// Guests only know an invoice by its hash.
	GetPayPage(ctx context.Context, gatewayID int64, invoiceHash string, subscription bool) (string, error)
	// GetHTML is the admin preview of the payment page, addressed by invoice id.
	GetHTML(ctx context.Context, admin AdminContext, gatewayID, invoiceID int64, subscription bool) (string, error)
	// ReturnURL is the invoice page a payer's browser lands on after the gateway.
	ReturnURL(ctx context.Context, invoiceID int64) (string, error)
	// RecordCallback stores an inbound callback as a received transaction.
	RecordCallback(ctx context.Context, gatewayID int64, invoiceID *int64, env model.CallbackEnvelope) (*model.Transaction, error)
	// ProcessTransaction verifies the callback with the gateway's adapter and reconciles it.
	ProcessTransaction(ctx context.Context, admin AdminContext, transactionID string, env model.CallbackEnvelope, gatewayID int64) error
	// Reprocess replays the stored callback of a transaction.
	Reprocess(ctx context.Context, admin AdminContext, transactionID string) error
	// ReconcileStale asks the gateway for the current status of a received transaction.
	ReconcileStale(ctx context.Context, t *model.Transaction) error
	Refund(ctx context.Context, admin AdminContext, transactionID string, amount int64, reason string) (*model.Transaction, error)
	ListGateways(ctx context.Context, admin AdminContext) ([]GatewaySummary, error)
}

type paymentUC struct {
	registry     *GatewayRegistry
	reconciler   *ReconcileUseCase
	gateways     repository.GatewayRepository
	invoices     repository.InvoiceRepository
	transactions repository.TransactionRepository
	publisher    adapter.EventPublisher
	baseURL      string
	messages     Messages
	log          *zerolog.Logger
}

func NewPaymentUseCase(
	registry *GatewayRegistry,
	reconciler *ReconcileUseCase,
	gateways repository.GatewayRepository,
	invoices repository.InvoiceRepository,
	transactions repository.TransactionRepository,
	publisher adapter.EventPublisher,
	baseURL string,
	logger *zerolog.Logger,
) *paymentUC {
	if publisher == nil {
		publisher = adapter.NoopPublisher{}
	}
	return &paymentUC{
		registry:     registry,
		reconciler:   reconciler,
		gateways:     gateways,
		invoices:     invoices,
		transactions: transactions,
		publisher:    publisher,
		baseURL:      strings.TrimRight(baseURL, "/"),
		messages:     englishMessages{},
		log:          logger,
	}
}

// WithMessages localises the payment page; nil restores English.
func (u *paymentUC) WithMessages(m Messages) *paymentUC {
	if m == nil {
		m = englishMessages{}
	}
	u.messages = m
	return u
}

func (u *paymentUC) invoiceURL(inv *model.Invoice) string {
	return fmt.Sprintf("%s/invoice/%s", u.baseURL, url.PathEscape(inv.Hash))
}

func (u *paymentUC) paymentContext(gatewayID int64, inv *model.Invoice, subscription bool) model.PaymentContext {
	invoiceURL := u.invoiceURL(inv)
	return model.PaymentContext{
		ReturnURL:    invoiceURL,
		CancelURL:    invoiceURL + "?status=cancel",
		NotifyURL:    fmt.Sprintf("%s/ipn/%d?invoice_id=%d", u.baseURL, gatewayID, inv.ID),
		Subscription: subscription,
		Interval:     "month",
	}
}

func (u *paymentUC) GetPayPage(ctx context.Context, gatewayID int64, invoiceHash string, subscription bool) (string, error) {
	inv, err := u.invoices.FindByHash(ctx, nil, invoiceHash)
	if err != nil {
		return "", err
	}
	return u.render(ctx, AdminContext{}, gatewayID, inv, subscription)
}

func (u *paymentUC) GetHTML(ctx context.Context, admin AdminContext, gatewayID, invoiceID int64, subscription bool) (string, error) {
	if !admin.IsAdmin() {
		return "", domain.ErrAdminRequired
	}
	inv, err := u.invoices.FindByID(ctx, nil, invoiceID)
	if err != nil {
		return "", err
	}
	return u.render(ctx, admin, gatewayID, inv, subscription)
}

func (u *paymentUC) ReturnURL(ctx context.Context, invoiceID int64) (string, error) {
	inv, err := u.invoices.FindByID(ctx, nil, invoiceID)
	if err != nil {
		return "", err
	}
	return u.invoiceURL(inv), nil
}

func (u *paymentUC) render(ctx context.Context, admin AdminContext, gatewayID int64, inv *model.Invoice, subscription bool) (string, error) {
	if inv.IsPaid() {
		return renderNotice(inv.Title(), u.messages.T(msgInvoicePaid, inv.Number()))
	}
	a, _, err := u.registry.Resolve(ctx, gatewayID)
	if err != nil {
		return "", err
	}

	pc := u.paymentContext(gatewayID, inv, subscription)
	var intent *model.PaymentIntentRequest
	if subscription {
		intent, err = a.CreateRecurringProfile(ctx, inv, pc)
	} else {
		intent, err = a.BuildPaymentRequest(ctx, inv, pc)
	}
	if err != nil {
		u.log.Error().Err(err).Str("gateway", a.Config().Name).Int64("invoice_id", inv.ID).Msg("payment request failed")
		if admin.IsAdmin() {
			return "", err
		}
		return renderNotice(inv.Title(), u.messages.T(publicMessageKey(err)))
	}
	return renderIntent(u.messages, inv.Title(), intent, !admin.IsAdmin())
}

func (u *paymentUC) RecordCallback(ctx context.Context, gatewayID int64, invoiceID *int64, env model.CallbackEnvelope) (*model.Transaction, error) {
	g, err := u.gateways.FindByID(ctx, nil, gatewayID)
	if err != nil {
		return nil, err
	}
	ipn, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	t, err := model.NewTransaction("", g.ID, g.Gateway, invoiceID, ipn)
	if err != nil {
		return nil, err
	}
	if err := u.transactions.Create(ctx, nil, t); err != nil {
		return nil, err
	}
	u.log.Debug().Str("gateway", g.Gateway).Str("transaction_id", t.ID).Msg("callback recorded")
	return t, nil
}

func (u *paymentUC) ProcessTransaction(ctx context.Context, admin AdminContext, transactionID string, env model.CallbackEnvelope, gatewayID int64) error {
	t, err := u.transactions.GetByID(ctx, nil, transactionID)
	if err != nil {
		return err
	}
	if t.GatewayID != gatewayID {
		return domain.ErrInvalidArgument
	}
	a, _, err := u.registry.Resolve(ctx, gatewayID)
	if err != nil {
		return err
	}
	name := a.Config().Name
	log := u.log.With().Str("gateway", name).Str("transaction_id", transactionID).Str("admin_id", admin.AdminID).Logger()

	vp, err := a.VerifyCallback(ctx, &env)
	if err != nil {
		var ve *domain.VerificationError
		if errors.As(err, &ve) {
			metrics.IncCallback(name, "rejected")
			log.Warn().Err(err).Msg("callback rejected")
		} else {
			metrics.IncCallback(name, "error")
			log.Error().Err(err).Msg("callback verification failed")
		}
		return err
	}
	metrics.IncCallback(name, "accepted")

	_, err = u.reconciler.Reconcile(ctx, transactionID, a, vp)
	return err
}

func (u *paymentUC) Reprocess(ctx context.Context, admin AdminContext, transactionID string) error {
	if !admin.IsAdmin() {
		return domain.ErrAdminRequired
	}
	t, err := u.transactions.GetByID(ctx, nil, transactionID)
	if err != nil {
		return err
	}
	var env model.CallbackEnvelope
	if len(t.IPN) > 0 {
		if err := json.Unmarshal(t.IPN, &env); err != nil {
			return fmt.Errorf("decode stored callback: %w", err)
		}
	}
	return u.ProcessTransaction(ctx, admin, t.ID, env, t.GatewayID)
}

func (u *paymentUC) ReconcileStale(ctx context.Context, t *model.Transaction) error {
	a, _, err := u.registry.Resolve(ctx, t.GatewayID)
	if err != nil {
		return err
	}
	fetcher, ok := a.(adapter.StatusFetcher)
	if !ok {
		return &domain.UnsupportedOperationError{Gateway: a.Config().Name, Operation: "status lookup"}
	}
	vp, err := fetcher.FetchStatus(ctx, t)
	if err != nil {
		return err
	}
	_, err = u.reconciler.Reconcile(ctx, t.ID, a, vp)
	return err
}

func (u *paymentUC) Refund(ctx context.Context, admin AdminContext, transactionID string, amount int64, reason string) (*model.Transaction, error) {
	if !admin.IsAdmin() {
		return nil, domain.ErrAdminRequired
	}
	t, err := u.transactions.GetByID(ctx, nil, transactionID)
	if err != nil {
		return nil, err
	}
	if t.Status != model.TransactionStatusProcessed || t.Type == model.TransactionTypeRefund {
		return nil, domain.ErrInvalidArgument
	}
	if amount <= 0 {
		amount = t.Amount
	}
	if amount > t.Amount {
		return nil, domain.ErrInvalidArgument
	}
	a, g, err := u.registry.Resolve(ctx, t.GatewayID)
	if err != nil {
		return nil, err
	}
	res, err := a.Refund(ctx, t, amount, reason)
	if err != nil {
		return nil, err
	}

	r, err := model.NewTransaction("", g.ID, g.Gateway, t.InvoiceID, nil)
	if err != nil {
		return nil, err
	}
	r.Type = model.TransactionTypeRefund
	r.TxnID = res.RefundID
	if r.TxnID == "" {
		// processed rows are unique per gateway txn id
		r.TxnID = t.TxnID + ":refund:" + r.ID
	}
	r.TxnStatus = res.Status
	r.Status = model.TransactionStatusProcessed
	r.Amount = amount
	r.Currency = t.Currency
	if err := u.transactions.Create(ctx, nil, r); err != nil {
		return nil, err
	}

	u.log.Info().
		Str("gateway", g.Gateway).
		Str("transaction_id", t.ID).
		Str("refund_id", r.TxnID).
		Str("admin_id", admin.AdminID).
		Int64("amount", amount).
		Msg("payment refunded")
	if err := u.publisher.Publish(ctx, *newEvent(adapter.PaymentEventRefunded, r)); err != nil {
		u.log.Warn().Err(err).Msg("refund event not published")
	}
	return r, nil
}

func (u *paymentUC) ListGateways(ctx context.Context, admin AdminContext) ([]GatewaySummary, error) {
	if !admin.IsAdmin() {
		return nil, domain.ErrAdminRequired
	}
	rows, err := u.gateways.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	out := make([]GatewaySummary, 0, len(rows))
	for _, g := range rows {
		s := GatewaySummary{ID: g.ID, Gateway: g.Gateway, Title: g.Title, Enabled: g.Enabled, TestMode: g.TestMode}
		if f, err := u.registry.Factory(g.Gateway); err == nil {
			caps := f.Schema().Capabilities
			s.AllowSingle = caps.SupportsOneTime
			s.AllowRecurrent = caps.SupportsRecurring
			s.SupportsRefunds = caps.SupportsRefunds
			s.Currencies = caps.SupportedCurrencies
		}
		out = append(out, s)
	}
	return out, nil
}
