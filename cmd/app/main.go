// File: cmd/app/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"billing-gateway/internal/config"
	"billing-gateway/internal/domain/ports/adapter"
	payAdapters "billing-gateway/internal/infra/adapters/payment"
	"billing-gateway/internal/infra/api"
	pg "billing-gateway/internal/infra/db/postgres"
	httpapi "billing-gateway/internal/infra/http"
	"billing-gateway/internal/infra/i18n"
	"billing-gateway/internal/infra/logging"
	"billing-gateway/internal/infra/messaging"
	"billing-gateway/internal/infra/metrics"
	red "billing-gateway/internal/infra/redis"
	"billing-gateway/internal/infra/sched"
	"billing-gateway/internal/infra/scheduler"
	"billing-gateway/internal/infra/security"
	"billing-gateway/internal/infra/web"
	"billing-gateway/internal/infra/worker"
	"billing-gateway/internal/usecase"
)

// Set with -ldflags "-X main.Version=... -X main.Commit=...".
var (
	Version = "dev"
	Commit  = "none"
)

// insecureDevKey is only accepted with -dev.
const insecureDevKey = "0123456789abcdef0123456789abcdef"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger := logging.New(config.LogConfig{Level: "info", Format: "json"}, false)
		logger.Fatal().Err(err).Msg("config")
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}
	metrics.MustRegister()
	metrics.SetBuildInfo(Version, Commit)

	// ---- Postgres ----
	pool, err := pg.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	go pg.ReportPoolStats(ctx, pool, 15*time.Second, logger)

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	locker := red.NewLocker(redisClient)
	rateLimiter := red.NewRateLimiter(redisClient)

	// ---- Encryption ----
	encKey := cfg.Security.EncryptionKey
	if encKey == "" {
		if !cfg.Runtime.Dev {
			logger.Fatal().Msg("security.encryption_key is required")
		}
		logger.Warn().Msg("security.encryption_key not set; falling back to dev key (INSECURE)")
		encKey = insecureDevKey
	}
	encSvc, err := security.NewEncryptionService(encKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("encryption")
	}

	// ---- Events ----
	var publisher adapter.EventPublisher = adapter.NoopPublisher{}
	if cfg.AMQP.URL != "" {
		rmq, err := messaging.NewRabbitMQPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("rabbitmq")
		}
		defer rmq.Close()
		publisher = rmq
	} else {
		logger.Info().Msg("amqp.url not set; payment events are not published")
	}

	// ---- Repositories ----
	tm := pg.NewTxManager(pool)
	gatewayRepo := pg.NewGatewayRepo(pool, encSvc)
	invoiceRepo := pg.NewInvoiceRepo(pool)
	txRepo := pg.NewTransactionRepo(pool)
	ledger := pg.NewLedgerRepo(pool)

	// ---- Use cases ----
	registry := usecase.NewGatewayRegistry(payAdapters.Factories(), gatewayRepo, cfg.Payment.HTTPTimeout, logger)
	reconcileUC := usecase.NewReconcileUseCase(txRepo, invoiceRepo, ledger, tm, locker, publisher, cfg.Redis.LockTTL, logger)
	translator, err := i18n.NewTranslator(i18n.LocalesFS, cfg.HTTP.Locale)
	if err != nil {
		logger.Fatal().Err(err).Msg("i18n")
	}
	paymentUC := usecase.NewPaymentUseCase(registry, reconcileUC, gatewayRepo, invoiceRepo, txRepo, publisher, cfg.HTTP.BaseURL, logger).
		WithMessages(translator)

	// ---- Stale transaction sweeper ----
	workers := worker.NewPool(cfg.Payment.Workers, logger)
	workers.Start(ctx)
	reconciler := sched.NewPaymentReconciler(paymentUC, txRepo, workers, cfg.Payment.StaleAfter, cfg.Payment.SweepBatch, logger)
	sweeper := scheduler.NewScheduler(cfg.Payment.ReconcileInterval, cfg.Payment.ReconcileInterval, reconciler, logger)
	sweeper.Start(ctx)

	// ---- HTTP ----
	auth := web.NewAuthManager(cfg.Admin.APIKey, cfg.Admin.JWTSecret, cfg.Admin.SecureCookie, cfg.Admin.CookieDomain, cfg.Admin.SessionTTL)
	server := httpapi.NewServer(cfg.HTTP, logger,
		api.NewServer(paymentUC, rateLimiter, cfg.Payment.CallbackRateLimit, logger),
		web.NewServer(paymentUC, auth, logger),
	)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("http server error")
			cancel()
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
	case <-ctx.Done():
	}
	logger.Info().Msg("shutdown requested")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	sweeper.Stop()
	workers.Stop()
	cancel()
}
