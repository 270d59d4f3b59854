package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jwestbrook/imageflow/internal/config"
	"github.com/jwestbrook/imageflow/internal/database"
	"github.com/jwestbrook/imageflow/internal/queue"
	"github.com/jwestbrook/imageflow/internal/router"
	"github.com/jwestbrook/imageflow/internal/storage"
	"github.com/jwestbrook/imageflow/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment")
	}

	cfg := config.Load()
	if cfg.JWTSecret == "" {
		slog.Error("IMGFLOW_JWT_SECRET must be set")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewSQLiteDB(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	store, err := newStorage(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise storage", "error", err)
		os.Exit(1)
	}

	q := queue.NewRedis(cfg.RedisAddr)
	if err := q.Ping(ctx); err != nil {
		slog.Error("failed to reach redis", "addr", cfg.RedisAddr, "error", err)
		os.Exit(1)
	}

	pool := &worker.Pool{DB: db, Store: store, Queue: q, Cfg: cfg}
	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		pool.Run(ctx)
	}()

	srv := router.New(db, store, q, cfg)
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("http shutdown failed", "error", err)
		}
	}()

	slog.Info("starting server", "addr", cfg.ListenAddr,
		"storage", cfg.StorageBackend, "workers", cfg.WorkerCount)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}

	// Let in-flight jobs notice the cancelled context and exit.
	<-workersDone
	slog.Info("shutdown complete")
}

// newStorage selects the blob backend from configuration.
func newStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	switch cfg.StorageBackend {
	case "minio":
		return storage.NewMinio(ctx, storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
	default:
		return storage.NewFileSystem(cfg.StoragePath, cfg.BaseURL), nil
	}
}
