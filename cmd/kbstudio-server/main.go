// Package main provides the HTTP import server for kbstudio.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/raphaelgruber/kbstudio/internal/blob"
	"github.com/raphaelgruber/kbstudio/internal/config"
	"github.com/raphaelgruber/kbstudio/internal/db"
	"github.com/raphaelgruber/kbstudio/internal/importer"
	"github.com/raphaelgruber/kbstudio/internal/mapping"
	"github.com/raphaelgruber/kbstudio/internal/memstore"
	"github.com/raphaelgruber/kbstudio/internal/metrics"
	"github.com/raphaelgruber/kbstudio/internal/pgstore"
	"github.com/raphaelgruber/kbstudio/internal/server"
	"github.com/raphaelgruber/kbstudio/internal/service"
)

// backend bundles the selected store with its lifecycle hooks.
type backend struct {
	store importer.Store
	wipe  func(context.Context) error
	close func()
}

func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backend, error) {
	switch cfg.StoreBackend {
	case config.StoreSurreal:
		client, err := db.NewClient(ctx, db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to surrealdb: %w", err)
		}
		if err := client.InitSchema(ctx); err != nil {
			_ = client.Close(ctx)
			return nil, fmt.Errorf("initialize schema: %w", err)
		}
		return &backend{
			store: client,
			wipe:  client.WipeData,
			close: func() {
				if err := client.Close(context.Background()); err != nil {
					logger.Error("failed to close database", "error", err)
				}
			},
		}, nil

	case config.StorePostgres:
		store, err := pgstore.Open(ctx, cfg.PostgresURL, logger)
		if err != nil {
			return nil, err
		}
		if err := store.InitSchema(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("initialize schema: %w", err)
		}
		return &backend{store: store, wipe: store.Truncate, close: store.Close}, nil

	case config.StoreMemory:
		return &backend{
			store: memstore.New(),
			wipe:  func(context.Context) error { return nil },
			close: func() {},
		}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

// newHTTPServer builds the listener. ReadTimeout has to cover a
// DefaultMaxUploadBytes multipart upload from a slow client.
func newHTTPServer(port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Minute,
		// No WriteTimeout: synchronous batches and progress sockets are long-lived.
		IdleTimeout: 120 * time.Second,
	}
}

func main() {
	wipeDB := flag.Bool("wipe", false, "wipe all data from the store on startup (testing only)")
	flag.Parse()

	cfg := config.Load()

	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer closeLog()
	slog.SetDefault(logger)

	slog.Info("starting kbstudio-server", "port", cfg.ServerPort, "store", cfg.StoreBackend, "blobs", cfg.BlobBackend)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		cancel()
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer be.close()

	if *wipeDB || os.Getenv("KBSTUDIO_WIPE_DB") == "true" {
		if err := be.wipe(ctx); err != nil {
			cancel()
			slog.Error("failed to wipe store", "error", err)
			os.Exit(1)
		}
		slog.Warn("store wiped")
	}

	blobs, err := blob.Open(ctx, cfg)
	cancel()
	if err != nil {
		slog.Error("failed to open blob store", "error", err)
		os.Exit(1)
	}

	mapper, err := mapping.LoadFile(cfg.MappingFile)
	if err != nil {
		slog.Error("failed to load column mapping", "error", err, "file", cfg.MappingFile)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector()

	orchestrator := importer.NewOrchestrator(be.store, importer.Config{
		Logger:      logger,
		Recorder:    metrics.Multi{collector, metrics.NewPrometheus(reg)},
		Concurrency: cfg.ImportConcurrency,
		Timeout:     cfg.ImportTimeout,
		MaxErrors:   cfg.ImportMaxErrors,
	})
	manager := service.NewJobManager(orchestrator, logger)

	resumeCtx, resumeCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if _, err := manager.ResumeInterrupted(resumeCtx, be.store); err != nil {
		slog.Warn("failed to resume interrupted imports", "error", err)
	}
	resumeCancel()

	srv := server.New(server.Deps{
		Jobs:      be.store,
		Stager:    importer.NewStager(be.store, blobs, mapper, logger),
		Manager:   manager,
		Collector: collector,
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Logger:    logger,
	})

	httpServer := newHTTPServer(cfg.ServerPort, srv.Handler())

	go func() {
		slog.Info("import API available", "url", fmt.Sprintf("http://localhost:%d/api/imports", cfg.ServerPort))
		slog.Info("metrics available", "url", fmt.Sprintf("http://localhost:%d/metrics", cfg.ServerPort))

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		slog.Error("import runs did not stop in time", "error", err)
	}

	slog.Info("server stopped")
}
