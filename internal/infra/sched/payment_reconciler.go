package sched

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"billing-gateway/internal/domain"
	"billing-gateway/internal/domain/model"
	"billing-gateway/internal/domain/ports/repository"
	"billing-gateway/internal/infra/metrics"
	"billing-gateway/internal/infra/worker"
)

// StaleReconciler asks a gateway for the current status of a transaction.
// usecase.PaymentUseCase satisfies it.
type StaleReconciler interface {
	ReconcileStale(ctx context.Context, t *model.Transaction) error
}

// PaymentReconciler revisits transactions that stayed received longer than
// staleAfter, covering lost callbacks and crashes between verify and reconcile.
type PaymentReconciler struct {
	uc           StaleReconciler
	transactions repository.TransactionRepository
	pool         *worker.Pool
	staleAfter   time.Duration
	batch        int
	log          *zerolog.Logger
}

func NewPaymentReconciler(uc StaleReconciler, transactions repository.TransactionRepository, pool *worker.Pool, staleAfter time.Duration, batch int, logger *zerolog.Logger) *PaymentReconciler {
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}
	if batch <= 0 {
		batch = 100
	}
	return &PaymentReconciler{uc: uc, transactions: transactions, pool: pool, staleAfter: staleAfter, batch: batch, log: logger}
}

func (w *PaymentReconciler) Name() string { return "payment-reconciler" }

// Run sweeps one batch and waits for every submitted lookup to finish.
func (w *PaymentReconciler) Run(ctx context.Context) error {
	cutoff := time.Now().Add(-w.staleAfter)
	stale, err := w.transactions.ListReceivedOlderThan(ctx, nil, cutoff, w.batch)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	for _, t := range stale {
		t := t
		wg.Add(1)
		err := w.pool.SubmitWait(ctx, func(ctx context.Context) error {
			defer wg.Done()
			return w.reconcile(ctx, t)
		})
		if err != nil {
			wg.Done()
			wg.Wait()
			return err
		}
	}
	wg.Wait()
	w.log.Info().Int("count", len(stale)).Msg("stale transactions swept")
	return nil
}

func (w *PaymentReconciler) reconcile(ctx context.Context, t *model.Transaction) error {
	log := w.log.With().Str("transaction_id", t.ID).Str("gateway", t.Gateway).Logger()
	err := w.uc.ReconcileStale(ctx, t)

	var unsupported *domain.UnsupportedOperationError
	switch {
	case err == nil:
		metrics.IncStaleSweep("reconciled")
		return nil
	case errors.As(err, &unsupported):
		metrics.IncStaleSweep("unsupported")
		log.Debug().Msg("gateway has no status lookup")
		return nil
	case errors.Is(err, domain.ErrLockNotAcquired):
		metrics.IncStaleSweep("locked")
		return nil
	default:
		metrics.IncStaleSweep("error")
		log.Warn().Err(err).Msg("stale reconciliation failed")
		return err
	}
}
