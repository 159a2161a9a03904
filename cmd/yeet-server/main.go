package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	internalhttp "github.com/yeetme/yeet/internal/api/http"
	"github.com/yeetme/yeet/internal/db"
	"github.com/yeetme/yeet/internal/metrics"
	"github.com/yeetme/yeet/internal/registry"
	"github.com/yeetme/yeet/internal/snapshot"
)

var AppVersion string

func main() {
	InitConfig()

	slog.Info("Yeet Server", "version", AppVersion)

	if err := run(); err != nil {
		slog.Error("Server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := registry.New()
	if err := snapshot.Load(ctx, store, reg); err != nil {
		return fmt.Errorf("failed to restore registry: %w", err)
	}

	adminKeys, err := parseKeys(config.AdminKeys)
	if err != nil {
		return fmt.Errorf("admin_keys: %w", err)
	}
	buildKeys, err := parseKeys(config.BuildKeys)
	if err != nil {
		return fmt.Errorf("build_keys: %w", err)
	}
	reg.Bootstrap(adminKeys, buildKeys)
	slog.Info("Registry ready", "admin_keys", len(adminKeys), "build_keys", len(buildKeys))

	m := metrics.New(reg)
	sweeper := snapshot.NewSweeper(reg, store, config.SweepInterval, m)

	services := &internalhttp.Services{
		Registry: reg,
		Metrics:  m,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST"},
		AllowHeaders:  []string{"Origin", "Content-Length", "Content-Type", "Content-Digest", "Signature", "Signature-Input"},
		ExposeHeaders: []string{"Content-Length", "X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}))
	engine.Use(gin.Recovery())
	internalhttp.SetupRoute(engine, services)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", config.Http.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sweeperDone := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(sweeperDone)
	}()

	errChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var serveErr error
	select {
	case serveErr = <-errChan:
		slog.Error("Server error", "error", serveErr)
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	}

	slog.Info("Shutting down servers...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	// The sweeper flushes once more after the HTTP server stops accepting writes.
	cancel()
	<-sweeperDone

	slog.Info("Shutdown complete")
	return serveErr
}

func openStore(ctx context.Context) (snapshot.Store, func(), error) {
	switch config.State.Backend {
	case STATE_BACKEND_FILE:
		slog.Info("Using file state backend", "path", config.State.Path)
		return snapshot.NewFileStore(config.State.Path), func() {}, nil
	case STATE_BACKEND_POSTGRES:
		if err := db.RunMigrations(ctx, config.Db); err != nil {
			return nil, nil, err
		}
		pool, err := db.InitDB(ctx, config.Db)
		if err != nil {
			return nil, nil, err
		}
		return snapshot.NewPostgresStore(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown state backend %q", config.State.Backend)
	}
}
