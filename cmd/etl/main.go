package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gfsweather/gfs-etl-service/internal/adapter/gdal"
	httpadapter "github.com/gfsweather/gfs-etl-service/internal/adapter/http"
	kafkaadapter "github.com/gfsweather/gfs-etl-service/internal/adapter/kafka"
	"github.com/gfsweather/gfs-etl-service/internal/adapter/nomads"
	"github.com/gfsweather/gfs-etl-service/internal/config"
	"github.com/gfsweather/gfs-etl-service/internal/observability"
	"github.com/gfsweather/gfs-etl-service/internal/pipeline"
	"github.com/gfsweather/gfs-etl-service/internal/store"
	"github.com/gfsweather/gfs-etl-service/internal/tracker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.LayersPath, 0o755); err != nil {
		logger.Error("failed to create layers dir", "error", err)
		os.Exit(1)
	}

	db, err := store.Open(ctx, cfg.DatabaseURL, cfg.RasterTable)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.CreateSchema(ctx); err != nil {
		logger.Error("failed to create schema", "error", err)
		os.Exit(1)
	}

	trk := tracker.New(db, cfg.LayersPath, cfg.ForecastLimit, cfg.ForecastStep, logger, metrics)
	engine := gdal.NewEngine(cfg.TileZoom, cfg.TileProcesses, logger)
	fetcher := nomads.NewFetcher(cfg.SourceBaseURL, cfg.FetchTimeout, logger)
	encoder := store.NewRasterEncoder(cfg.RasterTable, logger)
	reader := kafkaadapter.NewReader(cfg, logger)

	p := pipeline.New(reader, fetcher, engine, encoder, trk,
		cfg.LayersPath, cfg.ScratchDir, cfg.Workers, logger, metrics)

	srv := httpadapter.NewServer(cfg, p, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start ETL pipeline.
	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}

	logger.Info("shutdown complete")
}
