package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"custodial-wallet/config"
	"custodial-wallet/internal/adapter/gateway/paystack"
	httpHandler "custodial-wallet/internal/adapter/http/handler"
	"custodial-wallet/internal/adapter/identity/google"
	pgStorage "custodial-wallet/internal/adapter/storage/postgres"
	redisStorage "custodial-wallet/internal/adapter/storage/redis"
	"custodial-wallet/internal/core/ports"
	"custodial-wallet/internal/service"
	"custodial-wallet/pkg/logger"
	"custodial-wallet/pkg/metrics"

	"github.com/gin-gonic/gin"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (defaults to ./config.yaml or ./config/config.yaml)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty, "custodial-wallet")
	gin.SetMode(cfg.Server.Mode)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting custodial wallet backend")

	ctx := context.Background()

	// PostgreSQL, migrated first when database.auto_migrate is set
	pool, err := pgStorage.Open(ctx, cfg.Database, logger.Component(log, "postgres"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open PostgreSQL")
	}
	defer pool.Close()

	userRepo := pgStorage.NewUserRepo(pool)
	walletRepo := pgStorage.NewWalletRepo(pool)
	txRepo := pgStorage.NewTransactionRepo(pool)
	keyRepo := pgStorage.NewAPIKeyRepo(pool)
	auditRepo := pgStorage.NewAuditRepo(pool)
	transactor := pgStorage.NewTransactor(pool)
	checkers := []ports.HealthChecker{pgStorage.NewHealthCheck(pool)}

	// Redis is optional: without it webhook replays fall through to the
	// database and rate limiting is off.
	var (
		replay    ports.WebhookReplayCache
		rateLimit ports.RateLimitStore
	)
	if cfg.Redis.Enabled {
		rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
		log.Info().Msg("Redis connected")

		replay = redisStorage.NewReplayCache(rdb)
		rateLimit = redisStorage.NewRateLimitStore(rdb)
		checkers = append(checkers, redisStorage.NewHealthCheck(rdb))
	}

	m := metrics.New()

	tokenSvc, err := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Algorithm, cfg.JWT.Expiry, cfg.JWT.Issuer)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize token service")
	}
	gateway := paystack.New(cfg.Gateway, service.NewSHA512SignatureService(), logger.Component(log, "paystack"))

	var identity ports.IdentityProvider
	if cfg.Identity.ClientID != "" {
		identity = google.New(cfg.Identity, nil, logger.Component(log, "google"))
	} else {
		log.Warn().Msg("identity.client_id not set, Google sign-in disabled")
	}

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		Authenticator:  service.NewAuthenticator(tokenSvc, keyRepo, cfg.APIKeys.Prefix, m, log),
		AuthSvc:        service.NewAuthService(userRepo, walletRepo, transactor, tokenSvc, log),
		Identity:       identity,
		KeySvc:         service.NewAPIKeyService(keyRepo, userRepo, transactor, cfg.APIKeys.Prefix, cfg.APIKeys.MaxActive, m, log),
		Ledger:         service.NewLedgerService(userRepo, walletRepo, txRepo, transactor, gateway, replay, cfg.Webhook.ReplayTTL, m, log),
		Query:          service.NewQueryService(walletRepo, txRepo),
		RateLimitStore: rateLimit,
		AuditSvc:       service.NewAuditService(auditRepo, log),
		Metrics:        m,
		HealthCheckers: checkers,
		SecureCookies:  cfg.Server.Mode == gin.ReleaseMode,
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

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
