package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/moorlabs/driftsync/internal/config"
	"github.com/moorlabs/driftsync/internal/database"
	"github.com/moorlabs/driftsync/internal/handlers"
	"github.com/moorlabs/driftsync/internal/logging"
	"github.com/moorlabs/driftsync/internal/models"
	"github.com/moorlabs/driftsync/internal/notify"
	"github.com/moorlabs/driftsync/internal/repositories"
	"github.com/moorlabs/driftsync/internal/services"
	"github.com/moorlabs/driftsync/internal/utils"
)

func main() {
	ctx := context.Background()

	godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)

	// Initialize database connections
	postgresPool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("Failed to create postgres pool: %v", err)
	}
	defer postgresPool.Close()

	if err := database.RunMigrations(ctx, postgresPool, cfg.MigrationsDir); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}

	redisClient, err := database.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatalf("Failed to create redis client: %v", err)
	}
	defer redisClient.Close()

	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.NATSURL != "" {
		natsNotifier, err := notify.NewNATSNotifier(cfg.NATSURL, cfg.NATSSubject, logger)
		if err != nil {
			logger.Fatalf("Failed to connect to NATS: %v", err)
		}
		notifier = natsNotifier
	}
	defer notifier.Close()

	// Repositories
	changeLogRepo := repositories.NewPostgresChangeLogRepository(postgresPool)
	tenantRepo := repositories.NewPostgresTenantRepository(postgresPool)
	deviceRepo := repositories.NewPostgresDeviceRepository(postgresPool)
	checkpointRepo := repositories.NewRedisCheckpointRepository(redisClient)
	idempotencyRepo := repositories.NewRedisIdempotencyRepository(redisClient)
	sessionRepo := repositories.NewRedisSessionRepository(redisClient)
	blobRepo := repositories.NewRedisBlobManifestRepository(redisClient)

	// Optional bootstrap tenant for fresh deployments.
	if seedID := os.Getenv("SEED_TENANT_ID"); seedID != "" {
		if err := seedTenant(ctx, tenantRepo, seedID, os.Getenv("SEED_TENANT_NAME"), os.Getenv("SEED_API_KEY")); err != nil {
			logger.Fatalf("Failed to seed tenant: %v", err)
		}
	}

	// Services
	syncService := services.NewSyncService(
		changeLogRepo, checkpointRepo, idempotencyRepo, tenantRepo, deviceRepo,
		notifier, logger,
		services.WithMaxBatch(cfg.MaxBatchSize),
		services.WithPullLimit(cfg.PullLimit),
	)
	authService := services.NewAuthService(tenantRepo, deviceRepo, sessionRepo, cfg.JWTSecret, cfg.JWTExpiry)
	blobService := services.NewBlobService(blobRepo, tenantRepo)

	server := handlers.NewServer(syncService, blobService, authService, authService, logger)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: server.Router(),
	}

	// graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(ctx)
	}()

	logger.Infof("Starting server on port %s", cfg.ServerPort)
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatalf("Server error: %v", err)
	}

	logger.Info("Server stopped gracefully")
}

// seedTenant creates the tenant when it does not exist yet. Reboots with the
// same seed are no-ops.
func seedTenant(ctx context.Context, tenants repositories.TenantRepository, id, name, apiKey string) error {
	if apiKey == "" {
		return fmt.Errorf("SEED_API_KEY is required when SEED_TENANT_ID is set")
	}
	if _, err := tenants.GetByID(ctx, id); err == nil {
		return nil
	} else if !errors.Is(err, repositories.ErrNotFound) {
		return err
	}

	hash, err := utils.HashAPIKey(apiKey)
	if err != nil {
		return fmt.Errorf("invalid seed api key: %w", err)
	}
	if name == "" {
		name = id
	}
	return tenants.Create(ctx, &models.Tenant{ID: id, Name: name, APIKeyHash: hash})
}
