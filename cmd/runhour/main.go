// Command runhour runs the full transform for a single GFS object key,
// without consuming from Kafka. Useful for reprocessing an hour by hand and
// for smoke-testing the toolchain:
//
//	runhour gfs.20240601/00/atmos/gfs.t00z.pgrb2.0p25.f006
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gfsweather/gfs-etl-service/internal/adapter/gdal"
	"github.com/gfsweather/gfs-etl-service/internal/adapter/nomads"
	"github.com/gfsweather/gfs-etl-service/internal/config"
	"github.com/gfsweather/gfs-etl-service/internal/observability"
	"github.com/gfsweather/gfs-etl-service/internal/pipeline"
	"github.com/gfsweather/gfs-etl-service/internal/store"
	"github.com/gfsweather/gfs-etl-service/internal/tracker"
)

func main() {
	legendsOnly := flag.Bool("legends", false, "render layer legends and exit")
	flag.Parse()

	if err := run(*legendsOnly, flag.Arg(0)); err != nil {
		slog.Error("runhour failed", "error", err)
		os.Exit(1)
	}
}

func run(legendsOnly bool, key string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.LayersPath, 0o755); err != nil {
		return err
	}

	db, err := store.Open(ctx, cfg.DatabaseURL, cfg.RasterTable)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.CreateSchema(ctx); err != nil {
		return err
	}

	trk := tracker.New(db, cfg.LayersPath, cfg.ForecastLimit, cfg.ForecastStep, logger, metrics)
	engine := gdal.NewEngine(cfg.TileZoom, cfg.TileProcesses, logger)
	fetcher := nomads.NewFetcher(cfg.SourceBaseURL, cfg.FetchTimeout, logger)
	encoder := store.NewRasterEncoder(cfg.RasterTable, logger)

	p := pipeline.New(nil, fetcher, engine, encoder, trk,
		cfg.LayersPath, cfg.ScratchDir, 1, logger, metrics)

	if legendsOnly {
		return p.WriteLegends()
	}
	if key == "" {
		return fmt.Errorf("usage: runhour [-legends] <object-key>")
	}

	if err := p.ProcessKey(ctx, key); err != nil {
		return err
	}
	logger.Info("hour processed", "key", key)
	return nil
}
