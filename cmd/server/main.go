package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"promptly-backend/internal/config"
	"promptly-backend/internal/database"
	"promptly-backend/internal/handlers"
	"promptly-backend/internal/middleware"
	"promptly-backend/internal/repository"
	"promptly-backend/internal/router"
	"promptly-backend/internal/services"
	"promptly-backend/internal/storage"
	"promptly-backend/internal/websocket"
	"promptly-backend/internal/worker"
	"promptly-backend/migrations"
)

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	setupLogger(cfg)
	slog.Info("🚀 Starting Promptly Backend...")
	slog.Info("✓ Environment variables loaded", "env", cfg.Env)

	// ──── Step 2: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(cfg.DatabaseURL)
	if err != nil {
		fatal("✗ PostgreSQL connection failed", err)
	}
	defer pool.Close()
	slog.Info("✓ PostgreSQL connected")

	// ──── Step 3: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(cfg.RedisURL)
	if err != nil {
		fatal("✗ Redis connection failed", err)
	}
	defer redisClients.Close()
	slog.Info("✓ Redis connected")

	// ──── Step 4: Run Database Migrations ────
	if err := database.RunMigrations(pool, migrations.FS); err != nil {
		fatal("✗ Database migration failed", err)
	}
	slog.Info("✓ Database migrations applied")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ──── Step 5: Initialize Asset Storage ────
	assetStore, err := newAssetStore(ctx, cfg)
	if err != nil {
		fatal("✗ Asset storage initialization failed", err)
	}
	slog.Info("✓ Asset storage ready", "type", cfg.StorageType)

	// ──── Initialize Repositories ────
	assetRepo := repository.NewAssetRepo(pool)
	jobRepo := repository.NewJobRepo(pool)
	indexRepo := repository.NewChatIndexRepo(pool)

	// ──── Initialize Services ────
	jwtAuth := middleware.NewJWTAuth(cfg.AuthJWTSecret, cfg.AuthIssuer)
	publisher := services.NewRedisPublisher(redisClients.Queue)
	chatService := services.NewChatService(
		services.NewPostgresRepos(pool),
		assetRepo,
		services.NewRedisChatCache(redisClients.Queue, cfg.ChatCacheTTL),
		publisher,
		services.NewRedisJobQueue(redisClients.Queue, jobRepo),
	)

	// ──── Initialize Handlers ────
	chatHandler := handlers.NewChatHandler(chatService)
	uploadHandler := handlers.NewUploadHandler(assetStore, assetRepo, cfg.MaxUploadMB)

	// ──── Step 6: Start WebSocket Hub ────
	wsHub := websocket.NewHub(redisClients.PubSub, jwtAuth)
	defer wsHub.Close()
	slog.Info("✓ WebSocket hub started")

	// ──── Step 7: Start HTTP Server and Workers ────
	r := router.New(jwtAuth, chatHandler, uploadHandler, wsHub, cfg.FrontendURL, cfg.StaticDir)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	workerPool := worker.NewPool(
		redisClients.Queue,
		jobRepo,
		indexRepo,
		repository.NewChatRepo(pool),
		assetRepo,
		assetStore,
		publisher,
		cfg.WorkerCount,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return workerPool.Run(gctx)
	})
	g.Go(func() error {
		slog.Info(fmt.Sprintf("✓ Promptly Backend ready on http://localhost:%s", cfg.Port))
		slog.Info(fmt.Sprintf("  API: http://localhost:%s/api", cfg.Port))
		slog.Info(fmt.Sprintf("  WS:  ws://localhost:%s/api/ws", cfg.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		fatal("Server error", err)
	}
}

func newAssetStore(ctx context.Context, cfg *config.Config) (storage.AssetStore, error) {
	if cfg.StorageType == "s3" {
		return storage.NewS3Store(ctx, storage.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
	}
	return storage.NewLocalStore(cfg.StoragePath)
}

func setupLogger(cfg *config.Config) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.Env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
