package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"billing-gateway/internal/domain"
	"billing-gateway/internal/domain/model"
	"billing-gateway/internal/domain/ports/adapter"
	"billing-gateway/internal/domain/ports/repository"
	"billing-gateway/internal/infra/metrics"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
)

const (
	ErrorCodeDuplicate      = "duplicate"
	ErrorCodeReconciliation = "reconciliation"
)

// ReconcileUseCase applies a verified gateway result to the transaction, the
// client's funds and the invoice.
type ReconcileUseCase struct {
	transactions repository.TransactionRepository
	invoices     repository.InvoiceRepository
	ledger       repository.Ledger
	tm           repository.TransactionManager
	locker       adapter.Locker
	publisher    adapter.EventPublisher
	lockTTL      time.Duration
	log          *zerolog.Logger
}

func NewReconcileUseCase(
	transactions repository.TransactionRepository,
	invoices repository.InvoiceRepository,
	ledger repository.Ledger,
	tm repository.TransactionManager,
	locker adapter.Locker,
	publisher adapter.EventPublisher,
	lockTTL time.Duration,
	logger *zerolog.Logger,
) *ReconcileUseCase {
	if publisher == nil {
		publisher = adapter.NoopPublisher{}
	}
	if lockTTL <= 0 {
		lockTTL = time.Minute
	}
	return &ReconcileUseCase{
		transactions: transactions,
		invoices:     invoices,
		ledger:       ledger,
		tm:           tm,
		locker:       locker,
		publisher:    publisher,
		lockTTL:      lockTTL,
		log:          logger,
	}
}

func lockKey(gateway, txnID string) string {
	return fmt.Sprintf("payment:txn:%s:%s", strings.ToLower(gateway), txnID)
}

// Reconcile is idempotent per gateway transaction id: a second delivery of the
// same processed payment neither credits funds nor pays the invoice again.
func (uc *ReconcileUseCase) Reconcile(ctx context.Context, transactionID string, a adapter.PaymentAdapter, vp *model.VerifiedPayment) (*model.Transaction, error) {
	if vp == nil || vp.TxnID == "" {
		return nil, domain.ErrInvalidArgument
	}
	gateway := a.Config().Name
	log := uc.log.With().Str("gateway", gateway).Str("transaction_id", transactionID).Str("txn_id", vp.TxnID).Logger()

	key := lockKey(gateway, vp.TxnID)
	token, err := uc.locker.TryLock(ctx, key, uc.lockTTL)
	if err != nil {
		log.Warn().Err(err).Msg("reconcile lock not acquired")
		return nil, err
	}
	defer func() {
		if err := uc.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
			log.Warn().Err(err).Msg("reconcile unlock failed")
		}
	}()

	var (
		pending *model.Transaction
		result  *model.Transaction
		event   *adapter.PaymentEvent
		outcome string
	)
	err = uc.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		t, err := uc.transactions.GetByID(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		if t.Status.Terminal() {
			result, outcome = t, "noop"
			return nil
		}
		populate(t, vp)
		pending = t

		dup, err := uc.transactions.FindProcessedByTxnID(ctx, tx, t.GatewayID, t.TxnID)
		switch {
		case err == nil && dup.ID != t.ID:
			markDuplicate(t, dup.ID)
			result, outcome = t, ErrorCodeDuplicate
			return uc.transactions.Store(ctx, tx, t)
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			return err
		}

		status := a.MapStatus(vp.GatewayStatus)
		if status == model.TransactionStatusProcessed {
			won, err := uc.apply(ctx, tx, gateway, t)
			if err != nil {
				return err
			}
			if !won {
				result, outcome = t, "noop"
				return nil
			}
			event = newEvent(adapter.PaymentEventProcessed, t)
		}
		if status == model.TransactionStatusError {
			event = newEvent(adapter.PaymentEventFailed, t)
		}

		t.Status = status
		t.Error, t.ErrorCode = "", ""
		t.UpdatedAt = time.Now()
		if err := uc.transactions.Store(ctx, tx, t); err != nil {
			return err
		}
		result, outcome = t, string(status)
		return nil
	})

	var recErr *domain.ReconciliationError
	switch {
	case err == nil:
	case errors.As(err, &recErr) && pending != nil:
		pending.Status = model.TransactionStatusReceived
		pending.Error, pending.ErrorCode = recErr.Reason, ErrorCodeReconciliation
		pending.UpdatedAt = time.Now()
		if serr := uc.transactions.Store(ctx, repository.NoTX, pending); serr != nil {
			log.Error().Err(serr).Msg("failed to persist unresolved transaction")
		}
		metrics.IncReconciliation(gateway, "unresolved")
		log.Error().Str("reason", recErr.Reason).Msg("transaction left for manual review")
		return pending, err
	case errors.Is(err, domain.ErrDuplicateTransaction) && pending != nil:
		// the unique index caught a concurrent delivery through another row
		markDuplicate(pending, "")
		if serr := uc.transactions.Store(ctx, repository.NoTX, pending); serr != nil {
			log.Error().Err(serr).Msg("failed to persist duplicate transaction")
		}
		metrics.IncReconciliation(gateway, ErrorCodeDuplicate)
		return pending, nil
	default:
		log.Error().Err(err).Msg("reconcile failed")
		return nil, err
	}

	metrics.IncReconciliation(gateway, outcome)
	if event != nil {
		if event.Kind == adapter.PaymentEventProcessed {
			metrics.AddPaymentRevenue(result.Currency, result.Amount)
		}
		if perr := uc.publisher.Publish(ctx, *event); perr != nil {
			log.Warn().Err(perr).Str("event", string(event.Kind)).Msg("payment event not published")
		}
	}
	log.Info().Str("status", string(result.Status)).Str("outcome", outcome).Msg("transaction reconciled")
	return result, nil
}

// apply credits the client and pays the invoice. It reports false when another
// delivery already claimed the row.
func (uc *ReconcileUseCase) apply(ctx context.Context, tx repository.Tx, gateway string, t *model.Transaction) (bool, error) {
	if t.InvoiceID == nil {
		return false, &domain.ReconciliationError{TransactionID: t.ID, Reason: "invoice not found"}
	}
	inv, err := uc.invoices.FindByID(ctx, tx, *t.InvoiceID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, &domain.ReconciliationError{TransactionID: t.ID, Reason: "invoice not found"}
	}
	if err != nil {
		return false, err
	}
	if !strings.EqualFold(inv.Currency, t.Currency) {
		return false, &domain.ReconciliationError{
			TransactionID: t.ID,
			Reason:        fmt.Sprintf("currency mismatch: paid %s, invoice %s", t.Currency, inv.Currency),
		}
	}

	won, err := uc.transactions.MarkProcessed(ctx, tx, t.ID, t.TxnID)
	if err != nil || !won {
		return false, err
	}

	desc := fmt.Sprintf("%s transaction %s", gateway, t.TxnID)
	meta := repository.FundsMeta{Type: "transaction", RelID: t.ID}
	if err := uc.ledger.AddFunds(ctx, tx, inv.ClientID, t.Amount, t.Currency, desc, meta); err != nil {
		return false, err
	}
	paid, err := uc.invoices.PayInvoiceWithCredits(ctx, tx, inv)
	if err != nil {
		return false, err
	}
	if !paid {
		uc.log.Warn().Int64("invoice_id", inv.ID).Int64("amount", t.Amount).Msg("credited funds do not cover the invoice")
	}
	return true, nil
}

func populate(t *model.Transaction, vp *model.VerifiedPayment) {
	t.TxnID = vp.TxnID
	t.TxnStatus = vp.GatewayStatus
	t.Amount = vp.Amount
	t.Currency = strings.ToUpper(vp.Currency)
	if vp.Type != "" {
		t.Type = vp.Type
	}
	if vp.InvoiceID != nil {
		t.InvoiceID = vp.InvoiceID
	}
}

func markDuplicate(t *model.Transaction, of string) {
	t.Status = model.TransactionStatusError
	t.ErrorCode = ErrorCodeDuplicate
	t.Error = "gateway transaction already processed"
	if of != "" {
		t.Error += " by " + of
	}
	t.UpdatedAt = time.Now()
}

func newEvent(kind adapter.PaymentEventKind, t *model.Transaction) *adapter.PaymentEvent {
	return &adapter.PaymentEvent{
		Kind:          kind,
		TransactionID: t.ID,
		Gateway:       t.Gateway,
		TxnID:         t.TxnID,
		InvoiceID:     t.InvoiceID,
		Amount:        t.Amount,
		Currency:      t.Currency,
		OccurredAt:    time.Now().UTC(),
	}
}
