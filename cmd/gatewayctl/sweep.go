package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	payAdapters "billing-gateway/internal/infra/adapters/payment"
	pg "billing-gateway/internal/infra/db/postgres"
	"billing-gateway/internal/infra/logging"
	red "billing-gateway/internal/infra/redis"
	"billing-gateway/internal/infra/sched"
	"billing-gateway/internal/infra/security"
	"billing-gateway/internal/infra/worker"
	"billing-gateway/internal/usecase"
)

func sweepCmd() *cobra.Command {
	var batch int
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Reconcile stale received transactions once against their gateways",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if batch > 0 {
				cfg.Payment.SweepBatch = batch
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			logger := logging.New(cfg.Log, cfg.Runtime.Dev)

			sealer, err := security.NewEncryptionService(cfg.Security.EncryptionKey)
			if err != nil {
				return err
			}
			pool, err := pg.Connect(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer pool.Close()
			rc, err := red.NewClient(ctx, &cfg.Redis)
			if err != nil {
				return err
			}
			defer rc.Close()

			gateways := pg.NewGatewayRepo(pool, sealer)
			invoices := pg.NewInvoiceRepo(pool)
			txs := pg.NewTransactionRepo(pool)
			registry := usecase.NewGatewayRegistry(payAdapters.Factories(), gateways, cfg.Payment.HTTPTimeout, logger)
			reconcile := usecase.NewReconcileUseCase(txs, invoices, pg.NewLedgerRepo(pool), pg.NewTxManager(pool), red.NewLocker(rc), nil, cfg.Redis.LockTTL, logger)
			payments := usecase.NewPaymentUseCase(registry, reconcile, gateways, invoices, txs, nil, cfg.HTTP.BaseURL, logger)

			workers := worker.NewPool(cfg.Payment.Workers, logger)
			workers.Start(ctx)
			defer workers.Stop()

			job := sched.NewPaymentReconciler(payments, txs, workers, cfg.Payment.StaleAfter, cfg.Payment.SweepBatch, logger)
			if err := job.Run(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sweep finished")
			return nil
		},
	}
	cmd.Flags().IntVarP(&batch, "batch", "n", 0, "maximum transactions to revisit (default from config)")
	return cmd
}
