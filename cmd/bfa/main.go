package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/fincontrol-bfa-go/internal/config"
	"github.com/boddenberg/fincontrol-bfa-go/internal/handler"
	"github.com/boddenberg/fincontrol-bfa-go/internal/infra/amqp"
	"github.com/boddenberg/fincontrol-bfa-go/internal/infra/cache"
	"github.com/boddenberg/fincontrol-bfa-go/internal/infra/observability"
	"github.com/boddenberg/fincontrol-bfa-go/internal/infra/resilience"
	"github.com/boddenberg/fincontrol-bfa-go/internal/infra/sqlite"
	"github.com/boddenberg/fincontrol-bfa-go/internal/infra/supabase"
	"github.com/boddenberg/fincontrol-bfa-go/internal/port"
	"github.com/boddenberg/fincontrol-bfa-go/internal/service"

	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel, "fincontrol-bfa")
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("data_backend", cfg.DataBackend),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Int("balance_max_retries", cfg.BalanceMaxRetries),
		zap.String("timezone", cfg.Timezone),
		zap.String("reconcile_epsilon", cfg.ReconcileEpsilon.String()),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "fincontrol-bfa")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Cache ---
	categoryCache := cache.New[string](cfg.CacheTTL)
	defer categoryCache.Close()

	// --- Store ---
	var store port.BillingStore
	switch cfg.DataBackend {
	case config.BackendSQLite:
		logger.Info("using SQLite as data backend", zap.String("path", cfg.SQLiteDBPath))
		sqlStore, err := sqlite.Open(cfg.SQLiteDBPath, logger)
		if err != nil {
			logger.Fatal("failed to open sqlite store", zap.Error(err))
		}
		defer sqlStore.Close()
		store = sqlStore
	default:
		logger.Info("using Supabase as data backend", zap.String("supabase_url", cfg.SupabaseURL))
		store = supabase.NewClient(
			&http.Client{Timeout: cfg.HTTPTimeout},
			cfg.SupabaseURL,
			cfg.SupabaseAnonKey,
			cfg.SupabaseServiceKey,
			resilience.NewCircuitBreaker("supabase"),
			resilience.Config{
				MaxRetries:     cfg.MaxRetries,
				InitialBackoff: cfg.InitialBackoff,
				MaxConcurrency: cfg.MaxConcurrency,
			},
			logger,
		)
	}

	// --- Events ---
	var publisher port.EventPublisher = amqp.NoopPublisher{}
	if cfg.AMQPURL != "" {
		p, err := amqp.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey, logger)
		if err != nil {
			logger.Fatal("failed to connect to amqp", zap.Error(err))
		}
		defer p.Close()
		publisher = p
		logger.Info("fatura events enabled", zap.String("exchange", cfg.AMQPExchange))
	} else {
		logger.Warn("AMQP_URL not set, fatura events disabled")
	}

	// --- Services ---
	billingSvc := service.NewBillingService(
		store,
		publisher,
		port.SystemClock{Location: cfg.Location()},
		categoryCache,
		service.BillingConfig{
			BalanceRetry: resilience.Config{
				MaxRetries:     cfg.BalanceMaxRetries,
				InitialBackoff: cfg.InitialBackoff,
			},
			ReconcileEpsilon: cfg.ReconcileEpsilon,
			ReconcileJobs:    cfg.ListReconcileJobs,
		},
		metrics,
		logger,
	)

	authSvc := service.NewAuthService(cfg.SupabaseJWTSecret, cfg.AdminKeyHash, logger)
	if cfg.AdminKeyHash == "" {
		logger.Warn("ADMIN_KEY_HASH not set, admin routes disabled")
	}

	// --- Router ---
	router := handler.NewRouter(billingSvc, authSvc, metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
