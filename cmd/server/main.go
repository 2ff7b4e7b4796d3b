package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/prudhvinik1/crmsync/internal/config"
	"github.com/prudhvinik1/crmsync/internal/crm"
	"github.com/prudhvinik1/crmsync/internal/database"
	"github.com/prudhvinik1/crmsync/internal/dedup"
	"github.com/prudhvinik1/crmsync/internal/handlers"
	"github.com/prudhvinik1/crmsync/internal/normalizer"
	"github.com/prudhvinik1/crmsync/internal/queue"
	"github.com/prudhvinik1/crmsync/internal/ratelimit"
	"github.com/prudhvinik1/crmsync/internal/repositories"
	"github.com/prudhvinik1/crmsync/internal/services"
	"github.com/prudhvinik1/crmsync/internal/stats"
)

const statusCacheTTL = 60 * time.Second

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	registry := cfg.Registry()

	// Initialize database connections
	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	postgresPool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to create postgres pool: %v", err)
	}
	defer postgresPool.Close()

	redisClient, err := database.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to create redis client: %v", err)
	}
	defer redisClient.Close()

	queueClient := redisClient
	if cfg.QueueConnection != cfg.RedisURL {
		queueClient, err = database.NewRedisClient(ctx, cfg.QueueConnection)
		if err != nil {
			log.Fatalf("Failed to create queue redis client: %v", err)
		}
		defer queueClient.Close()
	}

	// Repositories
	recordRepo := repositories.NewPostgresRecordRepository(postgresPool)
	webhookLogRepo := repositories.NewPostgresWebhookLogRepository(postgresPool)
	conflictRepo := repositories.NewPostgresConflictRepository(postgresPool)
	metadataRepo := repositories.NewPostgresSyncMetadataRepository(postgresPool)

	// Pipeline pieces
	dedupStore := dedup.NewRedisStore(redisClient, cfg.DedupTTL)
	collector := stats.NewRedisCollector(redisClient)

	syncQueue, err := queue.NewRedisQueue(ctx, queueClient, registry, cfg.MaxDeliveryCount)
	if err != nil {
		log.Fatalf("Failed to create sync queue: %v", err)
	}

	limiter := ratelimit.New(cfg.RateLimitPerMin, 0)
	// Token acquisition is out of scope here; the configured token is
	// assumed valid for the process lifetime.
	crmClient := crm.NewClient(cfg.CRMBaseURL, crm.StaticToken(cfg.CRMAPIToken), limiter)
	fieldNormalizer := normalizer.New(cfg.DefaultOwner)

	worker := services.NewSyncWorker(syncQueue, crmClient, fieldNormalizer, recordRepo, collector, cfg.WorkerCount)
	poller := services.NewPoller(registry, crmClient, fieldNormalizer, recordRepo, metadataRepo, cfg.PollInterval)
	reporter := services.NewStatusReporter(
		webhookLogRepo, conflictRepo, recordRepo, metadataRepo,
		syncQueue, collector, dedupStore, registry,
		services.NewRedisStatusCache(redisClient, statusCacheTTL),
		cfg.PollInterval,
	)

	// HTTP server
	webhookHandler := handlers.NewWebhookHandler(cfg.WebhookSecret, registry, dedupStore, syncQueue, webhookLogRepo)
	adminHandler := handlers.NewAdminHandler(reporter, syncQueue)
	router := handlers.NewRouter(webhookHandler, adminHandler, cfg.AdminJWTSecret)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("Starting server on port %s (modules: %v)", cfg.ServerPort, cfg.ModulesToSync)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return worker.Run(gctx)
	})

	g.Go(func() error {
		if err := poller.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	// graceful shutdown
	g.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sigChan:
		case <-gctx.Done():
			return nil
		}

		log.Println("Shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server stopped gracefully")
}
