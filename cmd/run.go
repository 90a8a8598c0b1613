package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"tokenledger/api"
	"tokenledger/application"
	"tokenledger/config"
	"tokenledger/database"
	"tokenledger/domain/interfaces"
	"tokenledger/domain/services"
	"tokenledger/events"
	"tokenledger/infrastructure"
	"tokenledger/infrastructure/observability"

	log "github.com/sirupsen/logrus"
)

// Run initializes and starts the ledger service
func Run(ctx context.Context) error {
	cfg := config.Get()
	ConfigureLogging(cfg)

	log.WithField("environment", cfg.Environment).Info("Starting token ledger...")

	if cfg.OTelEnabled {
		if err := observability.InitializeGlobalMetrics(ctx, cfg); err != nil {
			return fmt.Errorf("failed to initialize metrics: %w", err)
		}
	}

	log.Info("Connecting to database...")
	db, err := database.NewConnection(ctx, cfg.GetDatabaseURL())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	log.Info("Database connection established successfully")

	// In-process subscribers: read cache invalidation and ledger metrics
	bus := events.NewBus()
	infrastructure.RegisterMetricsHandlers(bus, observability.GetMetrics())

	var publisher interfaces.EventPublisher = bus
	var natsClient *infrastructure.NATSClient
	if cfg.NATSEnabled {
		natsClient = infrastructure.NewNATSClient(cfg.NATSServers)
		if err := natsClient.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		natsPublisher := infrastructure.NewNATSEventPublisher(natsClient, infrastructure.NewEventSubjectMapper(), bus)
		if err := natsPublisher.EnsureLedgerEventStream(natsClient); err != nil {
			return fmt.Errorf("failed to ensure ledger event stream: %w", err)
		}
		publisher = natsPublisher
	} else {
		log.Info("NATS disabled, events are dispatched in-process only")
	}

	uowFactory := infrastructure.NewUnitOfWorkFactory(db, cfg.LockTimeout, publisher)

	engine := services.NewAccountingEngine(cfg.Ledger)
	accountService := services.NewAccountService(uowFactory, engine)
	grantService := services.NewGrantService(uowFactory, engine, cfg.Packs)
	referralService := services.NewReferralService(uowFactory, engine)
	spendCoordinator := services.NewSpendCoordinator(uowFactory, engine)

	var balances api.BalanceReader = accountService
	if cfg.RedisAddr != "" {
		redisClient, err := infrastructure.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer redisClient.Close()

		cache := infrastructure.NewRedisBalanceCache(redisClient, accountService, cfg.BalanceCacheTTL)
		cache.Subscribe(bus)
		balances = cache
	}

	stopDaily := application.NewDailyGrantWorker(uowFactory, grantService, cfg.Ledger.DailyGrantWindow).
		Start(ctx, cfg.DailyGrantInterval)
	stopRefill := application.NewLifetimeRefillWorker(uowFactory, grantService).
		Start(ctx, cfg.LifetimeRefillDay)
	stopReferral := application.NewReferralBonusWorker(uowFactory, referralService).
		Start(ctx, cfg.ReferralRetryInterval)

	server := api.NewServer(api.Services{
		Accounts:  accountService,
		Grants:    grantService,
		Referrals: referralService,
		Spends:    spendCoordinator,
		Balances:  balances,
	}, cfg.WebhookSecret)
	httpServer := server.NewHTTPServer(cfg.HTTPAddr)

	serverErr := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			log.WithError(err).Error("HTTP server failed")
		}
	}

	log.Info("Shutting down token ledger...")

	stopDaily()
	stopRefill()
	stopReferral()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Error shutting down HTTP server")
	}
	if natsClient != nil {
		if err := natsClient.Close(); err != nil {
			log.WithError(err).Error("Error closing NATS connection")
		}
	}
	if err := observability.ShutdownGlobalMetrics(shutdownCtx); err != nil {
		log.WithError(err).Error("Error shutting down metrics")
	}

	log.Info("Shutdown completed")
	return nil
}
