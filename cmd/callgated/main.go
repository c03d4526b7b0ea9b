// Command callgated runs the two-tier concurrent-call admission controller:
// it fronts the upstream voice-agent provider, enforces the platform-wide
// and per-tenant concurrency caps, and ingests the provider's lifecycle
// webhooks.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/voicegate/callgate/pkg/admission"
	"github.com/voicegate/callgate/pkg/api"
	"github.com/voicegate/callgate/pkg/batchcall"
	"github.com/voicegate/callgate/pkg/capacity"
	"github.com/voicegate/callgate/pkg/config"
	"github.com/voicegate/callgate/pkg/database"
	"github.com/voicegate/callgate/pkg/provider"
	"github.com/voicegate/callgate/pkg/reconcile"
	"github.com/voicegate/callgate/pkg/sessions"
	"github.com/voicegate/callgate/pkg/tenants"
	"github.com/voicegate/callgate/pkg/webhook"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("warning: could not load %s: %v", envPath, err)
		log.Printf("continuing with existing environment variables")
	} else {
		log.Printf("loaded environment from %s", envPath)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, database.Config{
		DSN:             cfg.Postgres.DSN(),
		Database:        cfg.Postgres.Database,
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("error closing database", "error", err)
		}
	}()
	logger.Info("connected to postgres", "database", cfg.Postgres.Database)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("error closing redis client", "error", err)
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	logger.Info("connected to redis", "addr", cfg.Redis.Addr)

	global := capacity.NewRedisStore(redisClient)
	tenantRepo := tenants.NewPostgresRepository(db)
	sessionRepo := sessions.NewPostgresRepository(db)
	batchRepo := batchcall.NewPostgresRepository(db)
	batchAgg := batchcall.NewAggregator(batchRepo)
	idempotency := webhook.NewPostgresIdempotencyStore(db)

	controller := admission.New(global, tenantRepo, sessionRepo, cfg.PodID, cfg.GlobalCap, logger)
	verifier := webhook.NewVerifier(cfg.ProviderWebhookSecret, !cfg.Production)
	processor := webhook.NewProcessor(verifier, idempotency, controller, batchAgg, cfg, sessionRepo, logger)

	providerClient := provider.NewClient(cfg.ProviderBaseURL, cfg.ProviderAPIKey, nil)

	reconciler := reconcile.New(global, sessionRepo, tenantRepo, reconcile.Config{
		Mode:         reconcile.Mode(cfg.ReconcileMode),
		Interval:     cfg.ReconcileInterval,
		StuckCallAge: cfg.StuckCallAge,
		PodID:        cfg.PodID,
	}, logger)

	if err := reconciler.StartupReconcile(ctx); err != nil {
		log.Fatalf("startup reconciliation failed: %v", err)
	}
	reconciler.Start(ctx)

	server := api.NewServer(cfg, db, processor, controller, global, reconciler, providerClient)

	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := server.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("error during http shutdown", "error", err)
	}
	reconciler.Stop()
	logger.Info("shutdown complete")
}
