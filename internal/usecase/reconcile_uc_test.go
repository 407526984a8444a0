//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v4"

	"billing-gateway/internal/domain"
	"billing-gateway/internal/domain/model"
	"billing-gateway/internal/domain/ports/adapter"
	"billing-gateway/internal/domain/ports/repository"
	"billing-gateway/internal/usecase"
)

type reconcileFixture struct {
	txs       *MockTransactionRepo
	ledger    *MockLedger
	invoices  *MockInvoiceRepo
	tm        *MockTxManager
	locker    *MockLocker
	publisher *MockPublisher
	adapter   *MockAdapter
}

func newReconcileFixture() *reconcileFixture {
	ledger := NewMockLedger()
	f := &reconcileFixture{
		txs:       NewMockTransactionRepo(),
		ledger:    ledger,
		invoices:  NewMockInvoiceRepo(ledger),
		tm:        NewMockTxManager(),
		locker:    NewMockLocker(),
		publisher: &MockPublisher{},
		adapter:   &MockAdapter{Schema: model.GatewayConfig{Name: "Mock"}},
	}
	f.invoices.seed(newTestInvoice())
	return f
}

func (f *reconcileFixture) useCase(locker adapter.Locker) *usecase.ReconcileUseCase {
	if locker == nil {
		locker = f.locker
	}
	return usecase.NewReconcileUseCase(f.txs, f.invoices, f.ledger, f.tm, locker, f.publisher, time.Minute, newTestLogger())
}

func paidPayment() *model.VerifiedPayment {
	return &model.VerifiedPayment{
		TxnID: "ch_1", GatewayStatus: "paid", Amount: 4999, Currency: "usd",
		InvoiceID: int64Ptr(42), Type: model.TransactionTypePayment,
	}
}

func TestReconcileUseCase_Reconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("should credit funds before paying the invoice and mark the transaction processed", func(t *testing.T) {
		// --- Arrange ---
		f := newReconcileFixture()
		f.txs.seed(newReceivedTransaction("tx-1", 3, "Mock"))
		var order []string
		f.ledger.AddFundsFunc = func(ctx context.Context, tx repository.Tx, clientID, amount int64, currency, description string, meta repository.FundsMeta) error {
			order = append(order, "credit")
			if clientID != 7 || amount != 4999 || currency != "USD" {
				t.Errorf("unexpected credit %d %d %s", clientID, amount, currency)
			}
			if description != "Mock transaction ch_1" || meta.Type != "transaction" || meta.RelID != "tx-1" {
				t.Errorf("unexpected ledger description %q meta %+v", description, meta)
			}
			return nil
		}
		f.invoices.PayInvoiceWithCreditsFunc = func(ctx context.Context, tx repository.Tx, inv *model.Invoice) (bool, error) {
			order = append(order, "pay")
			return true, nil
		}

		// --- Act ---
		got, err := f.useCase(nil).Reconcile(ctx, "tx-1", f.adapter, paidPayment())

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got.Status != model.TransactionStatusProcessed || got.TxnID != "ch_1" || got.Amount != 4999 || got.Currency != "USD" {
			t.Errorf("unexpected transaction %+v", got)
		}
		if fmt.Sprint(order) != "[credit pay]" {
			t.Errorf("expected credit before pay, got %v", order)
		}
		if kinds := f.publisher.kinds(); len(kinds) != 1 || kinds[0] != adapter.PaymentEventProcessed {
			t.Errorf("expected one processed event, got %v", kinds)
		}
		if len(f.locker.Keys) != 1 || f.locker.Keys[0] != "payment:txn:mock:ch_1" {
			t.Errorf("unexpected lock keys %v", f.locker.Keys)
		}
	})

	t.Run("should credit exactly once when the same payment is reconciled twice", func(t *testing.T) {
		// --- Arrange ---
		f := newReconcileFixture()
		f.txs.seed(newReceivedTransaction("tx-1", 3, "Mock"))
		uc := f.useCase(nil)

		// --- Act ---
		_, err1 := uc.Reconcile(ctx, "tx-1", f.adapter, paidPayment())
		second, err2 := uc.Reconcile(ctx, "tx-1", f.adapter, paidPayment())

		// --- Assert ---
		if err1 != nil || err2 != nil {
			t.Fatalf("expected no errors, got %v / %v", err1, err2)
		}
		if second.Status != model.TransactionStatusProcessed {
			t.Errorf("expected processed after both calls, got %s", second.Status)
		}
		if f.ledger.credits() != 1 || f.invoices.pays() != 1 {
			t.Errorf("expected one credit and one payment, got %d / %d", f.ledger.credits(), f.invoices.pays())
		}
		if balance, _ := f.ledger.Balance(ctx, nil, 7, "USD"); balance != 0 {
			t.Errorf("invoice payment must consume the credit, balance %d", balance)
		}
	})

	t.Run("should credit once under concurrent deliveries of the same row", func(t *testing.T) {
		// --- Arrange ---
		f := newReconcileFixture()
		f.txs.seed(newReceivedTransaction("tx-1", 3, "Mock"))
		uc := f.useCase(openLocker{})

		// --- Act ---
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = uc.Reconcile(ctx, "tx-1", f.adapter, paidPayment())
			}()
		}
		wg.Wait()

		// --- Assert ---
		if f.ledger.credits() != 1 {
			t.Errorf("expected one credit, got %d", f.ledger.credits())
		}
		got, _ := f.txs.GetByID(ctx, nil, "tx-1")
		if got.Status != model.TransactionStatusProcessed {
			t.Errorf("expected processed, got %s", got.Status)
		}
	})

	t.Run("should credit once when the same gateway payment arrives on different rows concurrently", func(t *testing.T) {
		// --- Arrange ---
		f := newReconcileFixture()
		for i := 0; i < 6; i++ {
			f.txs.seed(newReceivedTransaction(fmt.Sprintf("tx-%d", i), 3, "Mock"))
		}
		uc := f.useCase(openLocker{})

		// --- Act ---
		var wg sync.WaitGroup
		for i := 0; i < 6; i++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_, _ = uc.Reconcile(ctx, id, f.adapter, paidPayment())
			}(fmt.Sprintf("tx-%d", i))
		}
		wg.Wait()

		// --- Assert ---
		if f.ledger.credits() != 1 {
			t.Fatalf("expected one credit, got %d", f.ledger.credits())
		}
		processed, duplicates := 0, 0
		for _, tx := range f.txs.all() {
			switch {
			case tx.Status == model.TransactionStatusProcessed:
				processed++
			case tx.ErrorCode == usecase.ErrorCodeDuplicate && tx.Status == model.TransactionStatusError:
				duplicates++
			}
		}
		if processed != 1 || duplicates != 5 {
			t.Errorf("expected 1 processed and 5 duplicates, got %d / %d", processed, duplicates)
		}
	})

	t.Run("should flag a second row carrying an already processed txn id as duplicate", func(t *testing.T) {
		// --- Arrange ---
		f := newReconcileFixture()
		f.txs.seed(newReceivedTransaction("tx-1", 3, "Mock"))
		f.txs.seed(newReceivedTransaction("tx-2", 3, "Mock"))
		uc := f.useCase(nil)
		_, _ = uc.Reconcile(ctx, "tx-1", f.adapter, paidPayment())

		// --- Act ---
		got, err := uc.Reconcile(ctx, "tx-2", f.adapter, paidPayment())

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got.Status != model.TransactionStatusError || got.ErrorCode != usecase.ErrorCodeDuplicate {
			t.Errorf("expected duplicate error status, got %s / %s", got.Status, got.ErrorCode)
		}
		if f.ledger.credits() != 1 {
			t.Errorf("duplicate must not move money, got %d credits", f.ledger.credits())
		}
	})

	t.Run("should leave the row received and propagate when the invoice cannot be found", func(t *testing.T) {
		// --- Arrange ---
		f := newReconcileFixture()
		f.txs.seed(newReceivedTransaction("tx-1", 3, "Mock"))
		vp := paidPayment()
		vp.InvoiceID = int64Ptr(999)

		// --- Act ---
		_, err := f.useCase(nil).Reconcile(ctx, "tx-1", f.adapter, vp)

		// --- Assert ---
		var rec *domain.ReconciliationError
		if !errors.As(err, &rec) || rec.Reason != "invoice not found" {
			t.Fatalf("expected ReconciliationError, got %v", err)
		}
		got, _ := f.txs.GetByID(ctx, nil, "tx-1")
		if got.Status != model.TransactionStatusReceived || got.Error != "invoice not found" {
			t.Errorf("expected received with error, got %s %q", got.Status, got.Error)
		}
		if got.TxnID != "ch_1" || got.Amount != 4999 {
			t.Errorf("verified fields must be kept for manual review, got %+v", got)
		}
		if f.ledger.credits() != 0 {
			t.Error("no funds may be credited")
		}
	})

	t.Run("should refuse to credit a payment in another currency", func(t *testing.T) {
		// --- Arrange ---
		f := newReconcileFixture()
		f.txs.seed(newReceivedTransaction("tx-1", 3, "Mock"))
		vp := paidPayment()
		vp.Currency = "EUR"

		// --- Act ---
		_, err := f.useCase(nil).Reconcile(ctx, "tx-1", f.adapter, vp)

		// --- Assert ---
		var rec *domain.ReconciliationError
		if !errors.As(err, &rec) {
			t.Fatalf("expected ReconciliationError, got %v", err)
		}
		if f.ledger.credits() != 0 {
			t.Error("no funds may be credited")
		}
	})

	t.Run("should return ErrLockNotAcquired while another worker holds the payment", func(t *testing.T) {
		// --- Arrange ---
		f := newReconcileFixture()
		f.txs.seed(newReceivedTransaction("tx-1", 3, "Mock"))
		_, _ = f.locker.TryLock(ctx, "payment:txn:mock:ch_1", time.Minute)

		// --- Act ---
		_, err := f.useCase(nil).Reconcile(ctx, "tx-1", f.adapter, paidPayment())

		// --- Assert ---
		if !errors.Is(err, domain.ErrLockNotAcquired) {
			t.Fatalf("expected ErrLockNotAcquired, got %v", err)
		}
		got, _ := f.txs.GetByID(ctx, nil, "tx-1")
		if got.TxnID != "" {
			t.Error("row must not be touched without the lock")
		}
	})

	t.Run("should map pending and failed statuses without moving money", func(t *testing.T) {
		// --- Arrange ---
		f := newReconcileFixture()
		f.txs.seed(newReceivedTransaction("tx-1", 3, "Mock"))
		f.txs.seed(newReceivedTransaction("tx-2", 3, "Mock"))
		uc := f.useCase(nil)
		pending := paidPayment()
		pending.GatewayStatus = "pending"
		failed := paidPayment()
		failed.TxnID, failed.GatewayStatus = "ch_2", "FAILED"

		// --- Act ---
		p, err1 := uc.Reconcile(ctx, "tx-1", f.adapter, pending)
		e, err2 := uc.Reconcile(ctx, "tx-2", f.adapter, failed)

		// --- Assert ---
		if err1 != nil || err2 != nil {
			t.Fatalf("unexpected errors %v / %v", err1, err2)
		}
		if p.Status != model.TransactionStatusReceived || e.Status != model.TransactionStatusError {
			t.Errorf("unexpected statuses %s / %s", p.Status, e.Status)
		}
		if f.ledger.credits() != 0 {
			t.Error("no funds may be credited")
		}
		if kinds := f.publisher.kinds(); len(kinds) != 1 || kinds[0] != adapter.PaymentEventFailed {
			t.Errorf("expected one failed event, got %v", kinds)
		}
	})

	t.Run("should never auto approve an unknown gateway status", func(t *testing.T) {
		// --- Arrange ---
		f := newReconcileFixture()
		f.txs.seed(newReceivedTransaction("tx-1", 3, "Mock"))
		vp := paidPayment()
		vp.GatewayStatus = "totally_made_up"

		// --- Act ---
		got, err := f.useCase(nil).Reconcile(ctx, "tx-1", f.adapter, vp)

		// --- Assert ---
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != model.TransactionStatusReceived || f.ledger.credits() != 0 {
			t.Errorf("unknown status must stay received, got %s", got.Status)
		}
	})

	t.Run("should leave the row received when crediting fails inside the transaction", func(t *testing.T) {
		// --- Arrange ---
		f := newReconcileFixture()
		f.txs.seed(newReceivedTransaction("tx-1", 3, "Mock"))
		f.tm.WithTxFunc = func(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
			snapshot := f.txs.all()
			if err := fn(ctx, repository.NoTX); err != nil {
				f.txs.restore(snapshot)
				return err
			}
			return nil
		}
		boom := errors.New("ledger offline")
		f.ledger.AddFundsFunc = func(context.Context, repository.Tx, int64, int64, string, string, repository.FundsMeta) error {
			return boom
		}

		// --- Act ---
		_, err := f.useCase(nil).Reconcile(ctx, "tx-1", f.adapter, paidPayment())

		// --- Assert ---
		if !errors.Is(err, boom) {
			t.Fatalf("expected ledger error, got %v", err)
		}
		got, _ := f.txs.GetByID(ctx, nil, "tx-1")
		if got.Status != model.TransactionStatusReceived {
			t.Errorf("expected received after rollback, got %s", got.Status)
		}
		if f.invoices.pays() != 0 {
			t.Error("invoice must not be paid")
		}
	})

	t.Run("should keep the committed result when publishing the event fails", func(t *testing.T) {
		// --- Arrange ---
		f := newReconcileFixture()
		f.txs.seed(newReceivedTransaction("tx-1", 3, "Mock"))
		f.publisher.Err = errors.New("broker down")

		// --- Act ---
		got, err := f.useCase(nil).Reconcile(ctx, "tx-1", f.adapter, paidPayment())

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got.Status != model.TransactionStatusProcessed || f.ledger.credits() != 1 {
			t.Errorf("expected processed with one credit, got %s / %d", got.Status, f.ledger.credits())
		}
	})
}
