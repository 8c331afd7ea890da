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

	"partnership-ledger/config"
	"partnership-ledger/internal/adapter/http/dto"
	httpHandler "partnership-ledger/internal/adapter/http/handler"
	"partnership-ledger/internal/adapter/messaging/rabbitmq"
	"partnership-ledger/internal/adapter/storage/memory"
	pgStorage "partnership-ledger/internal/adapter/storage/postgres"
	redisStorage "partnership-ledger/internal/adapter/storage/redis"
	"partnership-ledger/internal/core/ports"
	"partnership-ledger/internal/service"
	"partnership-ledger/pkg/logger"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// storage bundles the repositories of one storage driver.
type storage struct {
	wallets      ports.WalletRepository
	ledger       ports.LedgerRepository
	agreements   ports.AgreementRepository
	partnerships ports.PartnershipRepository
	violations   ports.ViolationRepository
	audits       ports.AuditRepository
	transactor   ports.DBTransactor
	health       ports.HealthChecker
	close        func()
}

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Str("storage", cfg.Storage.Driver).
		Str("currency", cfg.Ledger.Currency).
		Msg("Starting Partnership Ledger")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer store.close()

	healthCheckers := []ports.HealthChecker{store.health}

	var (
		rdb            *goredis.Client
		idempCache     ports.IdempotencyCache
		rateLimitStore ports.RateLimitStore
	)
	if cfg.Redis.Enabled {
		rdb, err = redisStorage.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
		log.Info().Msg("Redis connected")

		idempCache = redisStorage.NewBreakerCache(redisStorage.NewIdempotencyCache(rdb), redisStorage.DefaultBreakerSettings(), log)
		rateLimitStore = redisStorage.NewRateLimitStore(rdb)
		healthCheckers = append(healthCheckers, redisStorage.NewHealthCheck(rdb))
	}

	var locker ports.WalletLocker
	switch {
	case cfg.Lock.Driver == "redis" && rdb != nil:
		locker = redisStorage.NewWalletLocker(rdb, cfg.Lock, log)
	case cfg.Lock.Driver == "redis":
		log.Fatal().Msg("lock.driver=redis requires redis.enabled=true")
	default:
		locker = memory.NewLocker(cfg.Lock.Wait)
	}

	opts := service.OptionsFromConfig(cfg.Ledger)
	walletSvc := service.NewWalletService(store.wallets, store.ledger, idempCache, locker, store.transactor, opts, log)
	escrowSvc := service.NewEscrowService(store.partnerships, store.wallets, store.ledger, store.agreements, locker, store.transactor, opts, log)
	penaltySvc := service.NewPenaltyService(store.violations, store.wallets, store.ledger, locker, store.transactor, opts, log)
	reconSvc := service.NewReconciliationService(store.wallets, store.ledger, store.agreements, store.audits, locker, store.transactor, opts, log)
	auditSvc := service.NewAuditService(store.audits, logger.Component(log, "audit"))
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, 0, cfg.JWT.Issuer)

	var workers sync.WaitGroup

	sweeper := service.NewPenaltySweeper(penaltySvc, cfg.Penalty.SweepInterval, cfg.Penalty.SweepBatch, logger.Component(log, "penalty_sweep"))
	workers.Add(1)
	go func() {
		defer workers.Done()
		sweeper.Run(ctx)
	}()

	if cfg.RabbitMQ.Enabled {
		conn, ch, err := rabbitmq.Dial(cfg.RabbitMQ)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to RabbitMQ")
		}
		defer conn.Close()
		log.Info().Str("queue", cfg.RabbitMQ.Queue).Msg("RabbitMQ connected")

		consumer := rabbitmq.NewViolationConsumer(ch, cfg.RabbitMQ, penaltySvc, logger.Component(log, "violation_consumer"))
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := consumer.Run(ctx); err != nil {
				log.Error().Err(err).Msg("violation consumer stopped")
				stop()
			}
		}()
	}

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		WalletSvc:      walletSvc,
		EscrowSvc:      escrowSvc,
		PenaltySvc:     penaltySvc,
		ReconSvc:       reconSvc,
		TokenSvc:       tokenSvc,
		RateLimitStore: rateLimitStore,
		HealthCheckers: healthCheckers,
		AuditSvc:       auditSvc,
		Money:          dto.MoneyFormatter{Currency: cfg.Ledger.Currency, Exponent: cfg.Ledger.CurrencyExponent},
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
			log.Error().Err(err).Msg("HTTP server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	workers.Wait()

	log.Info().Msg("Server exited")
}

// openStorage connects the configured storage driver.
func openStorage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*storage, error) {
	switch cfg.Storage.Driver {
	case "memory":
		log.Warn().Msg("using in-memory storage, data is lost on restart")
		s := memory.NewStore()
		return &storage{
			wallets:      s.Wallets(),
			ledger:       s.Ledger(),
			agreements:   s.Agreements(),
			partnerships: s.Partnerships(),
			violations:   s.Violations(),
			audits:       s.Audits(),
			transactor:   s,
			health:       s,
			close:        func() {},
		}, nil

	case "postgres":
		pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		log.Info().Msg("PostgreSQL connected")

		if cfg.Database.AutoMigrate {
			if err := pgStorage.Migrate(pool, cfg.Database.DBName, log); err != nil {
				pool.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}

		return &storage{
			wallets:      pgStorage.NewWalletRepo(pool),
			ledger:       pgStorage.NewLedgerRepo(pool),
			agreements:   pgStorage.NewAgreementRepo(pool),
			partnerships: pgStorage.NewPartnershipRepo(pool),
			violations:   pgStorage.NewViolationRepo(pool),
			audits:       pgStorage.NewAuditRepo(pool),
			transactor:   pgStorage.NewTransactor(pool, cfg.Database.LockTimeout),
			health:       pgStorage.NewHealthCheck(pool),
			close:        pool.Close,
		}, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}
