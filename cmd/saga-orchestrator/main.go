package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/magasin/saga-orchestrator/internal/config"
	eventlogsqlite "github.com/magasin/saga-orchestrator/internal/eventlog/sqlite"
	"github.com/magasin/saga-orchestrator/internal/gateway"
	"github.com/magasin/saga-orchestrator/internal/httpx"
	"github.com/magasin/saga-orchestrator/internal/orchestrator"
	"github.com/magasin/saga-orchestrator/internal/pkg/telemetry"
	"github.com/magasin/saga-orchestrator/internal/projection"
	sagastoresqlite "github.com/magasin/saga-orchestrator/internal/sagastore/sqlite"
)

func main() {
	cfg := config.FromEnv()
	telemetry.InitLogger(cfg.ServiceName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.SetupTracer(ctx, cfg.ServiceName)
	if err != nil {
		slog.Error("tracer setup failed", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	if err := os.MkdirAll(filepath.Dir(cfg.SagaDBPath), 0o755); err != nil {
		slog.Error("create data directory failed", "error", err)
		os.Exit(1)
	}

	sagaStore, err := sagastoresqlite.Open(cfg.SagaDBPath)
	if err != nil {
		slog.Error("open saga store failed", "path", cfg.SagaDBPath, "error", err)
		os.Exit(1)
	}
	defer sagaStore.Close()

	log, err := eventlogsqlite.Open(cfg.EventDBPath)
	if err != nil {
		slog.Error("open event log failed", "path", cfg.EventDBPath, "error", err)
		os.Exit(1)
	}
	defer log.Close()

	readModel := openReadModel(ctx, cfg)

	gw := gateway.NewHTTPGateway(gateway.HTTPConfig{
		InventoryURL: cfg.InventoryURL,
		CatalogueURL: cfg.CatalogueURL,
		OrdersURL:    cfg.OrdersURL,
		APIKey:       cfg.APIKey,
		Timeout:      cfg.GatewayTimeout,
		RetryCount:   cfg.RetryCount,
		RetryDelay:   cfg.RetryDelay,
	})

	engine := orchestrator.New(sagaStore, log, gw, orchestrator.WithStream(cfg.Stream))

	projector := projection.NewProjector(log, readModel, cfg.Stream, cfg.ProjectorInterval)
	go func() {
		if err := projector.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("projector stopped", "error", err)
		}
	}()

	handler := httpx.NewHandler(engine, log, readModel, cfg.Stream)
	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httpx.NewRouter(handler),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("http shutdown failed", "error", err)
		}
	}()

	slog.Info("saga orchestrator listening",
		"addr", cfg.HTTPAddr, "stream", cfg.Stream, "saga_db", cfg.SagaDBPath)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server failed", "error", err)
		os.Exit(1)
	}
}

// openReadModel picks Redis when configured, otherwise the in-process
// read model. Both expose the same watermark semantics.
func openReadModel(ctx context.Context, cfg config.Config) projection.ReadModelStore {
	if cfg.RedisAddr == "" {
		slog.Info("using in-memory read model")
		return projection.NewMemoryReadModel()
	}
	rm := projection.NewRedisReadModel(cfg.RedisAddr)
	if err := rm.Ping(ctx); err != nil {
		slog.Error("redis unreachable", "addr", cfg.RedisAddr, "error", err)
		os.Exit(1)
	}
	return rm
}
