package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/erpbridge/internal/api"
	"github.com/hyperengineering/erpbridge/internal/auth"
	"github.com/hyperengineering/erpbridge/internal/backup"
	"github.com/hyperengineering/erpbridge/internal/config"
	"github.com/hyperengineering/erpbridge/internal/erp"
	"github.com/hyperengineering/erpbridge/internal/service"
	"github.com/hyperengineering/erpbridge/internal/store"
	syncengine "github.com/hyperengineering/erpbridge/internal/sync"
	"github.com/hyperengineering/erpbridge/internal/worker"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "erpbridge",
	Short: "ERPBridge - offline-tolerant bridge between a local issue store and an ERP endpoint",
	RunE:  run,
}

func run(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("configuration loaded")

	// 3. Initialize logger
	logger := slog.New(newLogHandler(cfg.Log))
	slog.SetDefault(logger)
	slog.Info("logger initialized", "level", cfg.Log.Level)

	// 4. Initialize store (migrations, WAL mode)
	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	slog.Info("store initialized", "path", cfg.Database.Path)

	// 5. Initialize ERP client
	client := erp.New(cfg.ERP.BaseURL, cfg.ERP.SID, time.Duration(cfg.ERP.RequestTimeout))
	if client.Configured() {
		slog.Info("erp client initialized", "base_url", client.BaseURL())
	} else {
		slog.Warn("erp endpoint not configured, outbound pushes will stay pending")
	}

	// 6. Initialize sync engine and issue lifecycle service
	engine := syncengine.NewEngine(db, client)
	svc := service.NewIssueService(db, client)
	slog.Info("sync engine initialized", "interval", time.Duration(cfg.Sync.Interval).String())

	// 7. Initialize auth (dev mode serves the API openly when unset)
	var tokens *auth.TokenManager
	var verifier auth.IdentityVerifier
	if cfg.Auth.TokenSecret != "" {
		tokens = auth.NewTokenManager(cfg.Auth.TokenSecret, time.Duration(cfg.Auth.TokenTTL))
		verifier = auth.NewGoogleVerifier(cfg.Auth.GoogleClientID, time.Duration(cfg.ERP.RequestTimeout))
		slog.Info("auth initialized", "token_ttl", time.Duration(cfg.Auth.TokenTTL).String())
	} else {
		slog.Warn("auth not configured, serving API without authentication")
	}

	// 8. Initialize HTTP router
	handler := api.NewHandler(db, svc, engine, client, tokens, verifier, api.HandlerConfig{
		Version:           Version,
		InboundBatchSize:  cfg.Sync.InboundBatchSize,
		InboundMaxRecords: cfg.Sync.InboundMaxRecords,
	})
	router := api.NewRouter(handler)
	slog.Info("router initialized")

	// 9. Configure HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// 10. Start background workers
	uploader, err := backup.NewUploader(cfg.Backup)
	if err != nil {
		return fmt.Errorf("init backup uploader: %w", err)
	}

	var wg sync.WaitGroup
	startWorker(ctx, &wg, "outbound-sync",
		worker.NewSyncWorker(engine, time.Duration(cfg.Sync.Interval)).Run)
	startWorker(ctx, &wg, "snapshot",
		worker.NewSnapshotWorker(db, uploader, time.Duration(cfg.Backup.SnapshotInterval)).Run)

	// 11. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called gracefully.
		// Any other error indicates an actual server failure that should trigger shutdown.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel() // Trigger shutdown on server failure
		}
	}()

	// 12. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 13. Graceful shutdown sequence
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	// 13a. Stop HTTP server (drains in-flight requests)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// 13b. Wait for workers to complete
	wg.Wait()

	// 13c. Close store
	if err := db.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// newLogHandler builds the slog handler described by the log config.
func newLogHandler(cfg config.LogConfig) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.NewJSONHandler(os.Stdout, opts)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background worker goroutine that respects context cancellation.
// Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
