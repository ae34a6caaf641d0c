package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"vendor-payouts/config"
	"vendor-payouts/internal/adapter/events"
	httpHandler "vendor-payouts/internal/adapter/http/handler"
	"vendor-payouts/internal/adapter/processor"
	pgStorage "vendor-payouts/internal/adapter/storage/postgres"
	redisStorage "vendor-payouts/internal/adapter/storage/redis"
	"vendor-payouts/internal/core/domain"
	"vendor-payouts/internal/core/ports"
	"vendor-payouts/internal/service"
	"vendor-payouts/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting vendor payouts service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	if err := pgStorage.RunMigrations(ctx, pool, log); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories
	balanceRepo := pgStorage.NewBalanceRepo(pool)
	reservationRepo := pgStorage.NewReservationRepo()
	creditRepo := pgStorage.NewCreditRepo()
	payoutRepo := pgStorage.NewPayoutRepo(pool)
	transitionRepo := pgStorage.NewTransitionRepo(pool)
	eventRepo := pgStorage.NewWebhookEventRepo()
	accountRepo := pgStorage.NewPayoutAccountRepo(pool)
	profileRepo := pgStorage.NewVendorProfileRepo(pool)
	scheduleRepo := pgStorage.NewScheduleRepo(pool)
	transactor := pgStorage.NewTransactor(pool)

	// Initialize Redis stores
	idempotencyCache := redisStorage.NewIdempotencyCache(rdb)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)
	jobLock := redisStorage.NewJobLock(rdb)

	// Processor adapters
	procCfg := cfg.Processors
	processors := processor.NewRegistry(
		processor.NewStripeAdapter(procCfg.Stripe, nil),
		processor.NewPayPalAdapter(procCfg.PayPal, nil),
		processor.NewBankAdapter(procCfg.Bank, nil),
	)
	feeSchedules, err := buildFeeSchedules(procCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid processor fee configuration")
	}
	webhookSecrets := map[domain.ProcessorKind]string{
		domain.ProcessorStripe: procCfg.Stripe.WebhookSecret,
		domain.ProcessorPayPal: procCfg.PayPal.WebhookSecret,
		domain.ProcessorBank:   procCfg.Bank.WebhookSecret,
	}

	commissionRate, err := decimal.NewFromString(cfg.Payout.DefaultCommissionRate)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid payout.default_commission_rate")
	}
	if commissionRate.IsNegative() || commissionRate.GreaterThan(decimal.NewFromInt(1)) {
		log.Fatal().Str("value", cfg.Payout.DefaultCommissionRate).Msg("payout.default_commission_rate must be within [0, 1]")
	}

	// Initialize business services
	balanceSvc := service.NewBalanceService(
		balanceRepo, reservationRepo, creditRepo, profileRepo, transactor,
		service.BalanceSettings{Currency: cfg.Payout.Currency, DefaultCommissionRate: commissionRate},
		logger.Component(log, "balance"),
	)
	payoutSvc := service.NewPayoutService(
		payoutRepo, transitionRepo, accountRepo, balanceSvc, processors, idempotencyCache, transactor,
		service.PayoutSettings{
			Currency:      cfg.Payout.Currency,
			MinAmount:     cfg.Payout.MinAmount,
			FeeSchedules:  feeSchedules,
			SubmitTimeout: cfg.Payout.SubmitTimeout,
		},
		logger.Component(log, "payout"),
	)
	reconciler := service.NewWebhookReconciler(eventRepo, payoutRepo, payoutSvc, processors, webhookSecrets, transactor, logger.Component(log, "webhook"))
	accountSvc := service.NewAccountService(accountRepo, processors, logger.Component(log, "account"))
	scheduleSvc := service.NewScheduleService(scheduleRepo, logger.Component(log, "schedule"))
	tokenSvc := service.NewJWTTokenService(cfg.Identity.Secret, cfg.Identity.Issuer)

	var wg sync.WaitGroup

	if cfg.Scheduler.Enabled {
		scheduler := service.NewScheduler(
			scheduleRepo, accountRepo, payoutRepo, balanceSvc, payoutSvc, accountSvc, processors, jobLock,
			service.SchedulerSettings{
				AutoPayoutInterval: cfg.Scheduler.AutoPayoutInterval,
				ReconcileInterval:  cfg.Scheduler.ReconcileInterval,
				BatchSize:          cfg.Scheduler.BatchSize,
				LockTTL:            cfg.Scheduler.LockTTL,
				MinAmount:          cfg.Payout.MinAmount,
				StaleAfter:         cfg.Payout.StaleAfter,
				ReservedRetryAfter: cfg.Payout.ReservedRetryAfter,
				SubmitDeadline:     cfg.Payout.SubmitDeadline,
			},
			logger.Component(log, "scheduler"),
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			scheduler.Start(ctx)
		}()
	}

	if cfg.Kafka.Enabled {
		reader, err := events.NewKafkaReader(cfg.Kafka)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid kafka configuration")
		}
		consumer := events.NewSaleConsumer(reader, balanceSvc, logger.Component(log, "sale_consumer"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Run(ctx); err != nil {
				log.Error().Err(err).Msg("Sale consumer stopped")
			}
			if err := consumer.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close sale consumer")
			}
		}()
	}

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		PayoutSvc:      payoutSvc,
		BalanceSvc:     balanceSvc,
		ScheduleSvc:    scheduleSvc,
		AccountSvc:     accountSvc,
		Reconciler:     reconciler,
		TokenSvc:       tokenSvc,
		RateLimitStore: rateLimitStore,
		HealthCheckers: []ports.HealthChecker{pgStorage.NewHealthCheck(pool), redisStorage.NewHealthCheck(rdb)},
		Logger:         log,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	wg.Wait()

	log.Info().Msg("Server exited")
}

func buildFeeSchedules(cfg config.ProcessorsConfig) (map[domain.ProcessorKind]domain.FeeSchedule, error) {
	fees := map[domain.ProcessorKind]config.FeeConfig{
		domain.ProcessorStripe: cfg.Stripe.FeeConfig,
		domain.ProcessorPayPal: cfg.PayPal.FeeConfig,
		domain.ProcessorBank:   cfg.Bank.FeeConfig,
	}
	out := make(map[domain.ProcessorKind]domain.FeeSchedule, len(fees))
	for kind, fc := range fees {
		s, err := domain.ParseFeeSchedule(fc.Percent, fc.Fixed)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", kind, err)
		}
		out[kind] = s
	}
	return out, nil
}
