//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"billing-gateway/internal/domain"
	"billing-gateway/internal/domain/model"
	"billing-gateway/internal/domain/ports/adapter"
	"billing-gateway/internal/domain/ports/repository"
)

// -----------------------------
// Transactions
// -----------------------------

type MockTransactionRepo struct {
	mu    sync.Mutex
	store map[string]*model.Transaction

	CreateFunc        func(ctx context.Context, tx repository.Tx, t *model.Transaction) error
	StoreFunc         func(ctx context.Context, tx repository.Tx, t *model.Transaction) error
	MarkProcessedFunc func(ctx context.Context, tx repository.Tx, id, txnID string) (bool, error)
}

func NewMockTransactionRepo() *MockTransactionRepo {
	return &MockTransactionRepo{store: map[string]*model.Transaction{}}
}

var _ repository.TransactionRepository = (*MockTransactionRepo)(nil)

func (m *MockTransactionRepo) Create(ctx context.Context, tx repository.Tx, t *model.Transaction) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, tx, t)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[t.ID]; ok {
		return domain.ErrAlreadyExists
	}
	if t.Status == model.TransactionStatusProcessed {
		for _, other := range m.store {
			if other.Status == model.TransactionStatusProcessed && other.GatewayID == t.GatewayID && other.TxnID == t.TxnID {
				return domain.ErrDuplicateTransaction
			}
		}
	}
	cp := *t
	m.store[t.ID] = &cp
	return nil
}

func (m *MockTransactionRepo) GetByID(ctx context.Context, tx repository.Tx, id string) (*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MockTransactionRepo) Store(ctx context.Context, tx repository.Tx, t *model.Transaction) error {
	if m.StoreFunc != nil {
		return m.StoreFunc(ctx, tx, t)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[t.ID]; !ok {
		return domain.ErrNotFound
	}
	cp := *t
	m.store[t.ID] = &cp
	return nil
}

// MarkProcessed emulates both the conditional UPDATE and the unique partial
// index on (gateway_id, txn_id) WHERE status = 'processed'.
func (m *MockTransactionRepo) MarkProcessed(ctx context.Context, tx repository.Tx, id, txnID string) (bool, error) {
	if m.MarkProcessedFunc != nil {
		return m.MarkProcessedFunc(ctx, tx, id, txnID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.store[id]
	if !ok || t.Status == model.TransactionStatusProcessed {
		return false, nil
	}
	for _, other := range m.store {
		if other.ID != id && other.GatewayID == t.GatewayID && other.TxnID == txnID && other.Status == model.TransactionStatusProcessed {
			return false, domain.ErrDuplicateTransaction
		}
	}
	t.Status = model.TransactionStatusProcessed
	t.TxnID = txnID
	return true, nil
}

func (m *MockTransactionRepo) FindProcessedByTxnID(ctx context.Context, tx repository.Tx, gatewayID int64, txnID string) (*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.store {
		if t.GatewayID == gatewayID && t.TxnID == txnID && t.Status == model.TransactionStatusProcessed && t.Type != model.TransactionTypeRefund {
			cp := *t
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockTransactionRepo) ListReceivedOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Transaction
	for _, t := range m.store {
		if t.Status == model.TransactionStatusReceived && t.TxnID != "" && t.CreatedAt.Before(olderThan) {
			cp := *t
			out = append(out, &cp)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockTransactionRepo) seed(t *model.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.store[t.ID] = &cp
}

func (m *MockTransactionRepo) all() []*model.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Transaction, 0, len(m.store))
	for _, t := range m.store {
		cp := *t
		out = append(out, &cp)
	}
	return out
}

// restore replaces the store with a snapshot taken by all, emulating a rollback.
func (m *MockTransactionRepo) restore(snapshot []*model.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store = make(map[string]*model.Transaction, len(snapshot))
	for _, t := range snapshot {
		m.store[t.ID] = t
	}
}

// -----------------------------
// Ledger and invoices
// -----------------------------

type fundsEntry struct {
	ClientID    int64
	Amount      int64
	Currency    string
	Description string
	Meta        repository.FundsMeta
}

type MockLedger struct {
	mu      sync.Mutex
	Entries []fundsEntry

	AddFundsFunc func(ctx context.Context, tx repository.Tx, clientID, amount int64, currency, description string, meta repository.FundsMeta) error
}

func NewMockLedger() *MockLedger { return &MockLedger{} }

var _ repository.Ledger = (*MockLedger)(nil)

func (m *MockLedger) AddFunds(ctx context.Context, tx repository.Tx, clientID int64, amount int64, currency, description string, meta repository.FundsMeta) error {
	if m.AddFundsFunc != nil {
		return m.AddFundsFunc(ctx, tx, clientID, amount, currency, description, meta)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = append(m.Entries, fundsEntry{clientID, amount, currency, description, meta})
	return nil
}

func (m *MockLedger) Balance(ctx context.Context, tx repository.Tx, clientID int64, currency string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, e := range m.Entries {
		if e.ClientID == clientID && strings.EqualFold(e.Currency, currency) {
			sum += e.Amount
		}
	}
	return sum, nil
}

func (m *MockLedger) credits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.Entries {
		if e.Amount > 0 {
			n++
		}
	}
	return n
}

type MockInvoiceRepo struct {
	mu     sync.Mutex
	store  map[int64]*model.Invoice
	ledger *MockLedger
	Pays   int

	PayInvoiceWithCreditsFunc func(ctx context.Context, tx repository.Tx, inv *model.Invoice) (bool, error)
}

// NewMockInvoiceRepo debits ledger when an invoice is paid from credits.
func NewMockInvoiceRepo(ledger *MockLedger) *MockInvoiceRepo {
	return &MockInvoiceRepo{store: map[int64]*model.Invoice{}, ledger: ledger}
}

var _ repository.InvoiceRepository = (*MockInvoiceRepo)(nil)

func (m *MockInvoiceRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (m *MockInvoiceRepo) FindByHash(ctx context.Context, tx repository.Tx, hash string) (*model.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.store {
		if hash != "" && inv.Hash == hash {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockInvoiceRepo) PayInvoiceWithCredits(ctx context.Context, tx repository.Tx, inv *model.Invoice) (bool, error) {
	if m.PayInvoiceWithCreditsFunc != nil {
		return m.PayInvoiceWithCreditsFunc(ctx, tx, inv)
	}
	balance, _ := m.ledger.Balance(ctx, tx, inv.ClientID, inv.Currency)
	total := inv.TotalWithTax()
	if balance < total {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.store[inv.ID]
	if stored.IsPaid() {
		return true, nil
	}
	_ = m.ledger.AddFunds(ctx, tx, inv.ClientID, -total, inv.Currency, "Invoice "+inv.Number()+" payment", repository.FundsMeta{Type: "invoice"})
	stored.Status = model.InvoiceStatusPaid
	now := time.Now()
	stored.PaidAt = &now
	m.Pays++
	return true, nil
}

func (m *MockInvoiceRepo) seed(inv *model.Invoice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *inv
	m.store[inv.ID] = &cp
}

func (m *MockInvoiceRepo) pays() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Pays
}

// -----------------------------
// Gateways
// -----------------------------

type MockGatewayRepo struct {
	mu    sync.Mutex
	store map[int64]*model.PayGateway
}

func NewMockGatewayRepo(gateways ...*model.PayGateway) *MockGatewayRepo {
	m := &MockGatewayRepo{store: map[int64]*model.PayGateway{}}
	for _, g := range gateways {
		m.store[g.ID] = g
	}
	return m
}

var _ repository.GatewayRepository = (*MockGatewayRepo)(nil)

func (m *MockGatewayRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.PayGateway, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *MockGatewayRepo) FindByName(ctx context.Context, tx repository.Tx, name string) (*model.PayGateway, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.store {
		if strings.EqualFold(g.Gateway, name) {
			cp := *g
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockGatewayRepo) List(ctx context.Context, tx repository.Tx) ([]*model.PayGateway, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.PayGateway, 0, len(m.store))
	for _, g := range m.store {
		cp := *g
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockGatewayRepo) Save(ctx context.Context, tx repository.Tx, g *model.PayGateway) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *g
	m.store[g.ID] = &cp
	return nil
}

// -----------------------------
// Transaction manager, locker, publisher
// -----------------------------

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

// WithTx runs fn immediately with NoTX unless WithTxFunc overrides it.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

type MockLocker struct {
	mu    sync.Mutex
	held  map[string]string
	Keys  []string
	ErrOn map[string]error
}

func NewMockLocker() *MockLocker {
	return &MockLocker{held: map[string]string{}, ErrOn: map[string]error{}}
}

var _ adapter.Locker = (*MockLocker)(nil)

func (l *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Keys = append(l.Keys, key)
	if err, bad := l.ErrOn[key]; bad {
		return "", err
	}
	if tok, ok := l.held[key]; ok && tok != "" {
		return "", domain.ErrLockNotAcquired
	}
	tok := uuid.NewString()
	l.held[key] = tok
	return tok, nil
}

func (l *MockLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
		return nil
	}
	return errors.New("unlock token mismatch")
}

// openLocker grants every lock so tests can race the database guard directly.
type openLocker struct{}

func (openLocker) TryLock(context.Context, string, time.Duration) (string, error) {
	return uuid.NewString(), nil
}
func (openLocker) Unlock(context.Context, string, string) error { return nil }

type MockPublisher struct {
	mu     sync.Mutex
	Events []adapter.PaymentEvent
	Err    error
}

func (m *MockPublisher) Publish(ctx context.Context, ev adapter.PaymentEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Events = append(m.Events, ev)
	return nil
}

func (m *MockPublisher) kinds() []adapter.PaymentEventKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]adapter.PaymentEventKind, len(m.Events))
	for i, e := range m.Events {
		out[i] = e.Kind
	}
	return out
}

// -----------------------------
// Adapter
// -----------------------------

var mockStatuses = map[string]model.TransactionStatus{
	"paid":    model.TransactionStatusProcessed,
	"pending": model.TransactionStatusReceived,
	"failed":  model.TransactionStatusError,
}

type MockAdapter struct {
	Schema model.GatewayConfig

	BuildPaymentRequestFunc func(ctx context.Context, inv *model.Invoice, pc model.PaymentContext) (*model.PaymentIntentRequest, error)
	VerifyCallbackFunc      func(ctx context.Context, env *model.CallbackEnvelope) (*model.VerifiedPayment, error)
	RefundFunc              func(ctx context.Context, tx *model.Transaction, amount int64, reason string) (*model.RefundResult, error)
}

var _ adapter.PaymentAdapter = (*MockAdapter)(nil)

func (m *MockAdapter) Config() model.GatewayConfig { return m.Schema }

func (m *MockAdapter) BuildPaymentRequest(ctx context.Context, inv *model.Invoice, pc model.PaymentContext) (*model.PaymentIntentRequest, error) {
	if m.BuildPaymentRequestFunc != nil {
		return m.BuildPaymentRequestFunc(ctx, inv, pc)
	}
	return &model.PaymentIntentRequest{
		Amount: inv.TotalWithTax(), Currency: inv.Currency, InvoiceID: inv.ID,
		RedirectURL: "https://pay.example.com/checkout/1", RedirectMethod: "GET",
	}, nil
}

func (m *MockAdapter) VerifyCallback(ctx context.Context, env *model.CallbackEnvelope) (*model.VerifiedPayment, error) {
	if m.VerifyCallbackFunc != nil {
		return m.VerifyCallbackFunc(ctx, env)
	}
	return nil, &domain.VerificationError{Gateway: m.Schema.Name, Reason: "no verifier"}
}

func (m *MockAdapter) MapStatus(status string) model.TransactionStatus {
	if s, ok := mockStatuses[strings.ToLower(status)]; ok {
		return s
	}
	return model.TransactionStatusReceived
}

func (m *MockAdapter) Refund(ctx context.Context, tx *model.Transaction, amount int64, reason string) (*model.RefundResult, error) {
	if m.RefundFunc != nil {
		return m.RefundFunc(ctx, tx, amount, reason)
	}
	return nil, &domain.UnsupportedOperationError{Gateway: m.Schema.Name, Operation: "refund"}
}

func (m *MockAdapter) CreateRecurringProfile(ctx context.Context, inv *model.Invoice, pc model.PaymentContext) (*model.PaymentIntentRequest, error) {
	return nil, &domain.UnsupportedOperationError{Gateway: m.Schema.Name, Operation: "recurring payments"}
}

func (m *MockAdapter) CancelRecurringProfile(ctx context.Context, profileID string) error {
	return &domain.UnsupportedOperationError{Gateway: m.Schema.Name, Operation: "recurring payments"}
}

func (m *MockAdapter) UpdateRecurringProfile(ctx context.Context, profileID string, amount int64) error {
	return &domain.UnsupportedOperationError{Gateway: m.Schema.Name, Operation: "recurring payments"}
}

// fetchingAdapter adds a server-side status lookup to MockAdapter.
type fetchingAdapter struct {
	*MockAdapter
	FetchStatusFunc func(ctx context.Context, tx *model.Transaction) (*model.VerifiedPayment, error)
}

func (f *fetchingAdapter) FetchStatus(ctx context.Context, tx *model.Transaction) (*model.VerifiedPayment, error) {
	return f.FetchStatusFunc(ctx, tx)
}

type MockFactory struct {
	Adapter adapter.PaymentAdapter
	NewFunc func(cfg adapter.AdapterConfig) (adapter.PaymentAdapter, error)
}

var _ adapter.AdapterFactory = (*MockFactory)(nil)

func (f *MockFactory) Name() string                { return f.Adapter.Config().Name }
func (f *MockFactory) Schema() model.GatewayConfig { return f.Adapter.Config() }
func (f *MockFactory) New(cfg adapter.AdapterConfig) (adapter.PaymentAdapter, error) {
	if f.NewFunc != nil {
		return f.NewFunc(cfg)
	}
	return f.Adapter, nil
}

// -----------------------------
// Fixtures
// -----------------------------

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

func newTestInvoice() *model.Invoice {
	return &model.Invoice{
		ID: 42, ClientID: 7, Serie: "FOSS", Nr: 42, Hash: "c0ffee", Currency: "USD",
		Status: model.InvoiceStatusUnpaid,
		Items:  []model.InvoiceItem{{Title: "Hosting", Price: 4999, Quantity: 1}},
	}
}

func newReceivedTransaction(id string, gatewayID int64, gateway string) *model.Transaction {
	t, _ := model.NewTransaction(id, gatewayID, gateway, nil, nil)
	return t
}

func int64Ptr(v int64) *int64 { return &v }
