package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gfsweather/gfs-etl-service/internal/domain"
	"github.com/gfsweather/gfs-etl-service/internal/observability"
)

// Extractor blocks for the next object-key notification.
type Extractor interface {
	Extract(ctx context.Context) (domain.Notification, error)
}

// Fetcher downloads a source object to a local file.
type Fetcher interface {
	Fetch(ctx context.Context, key, dest string) error
}

// Engine is the raster toolchain: band inspection, extraction, resampling,
// shading, tiling, and pixel dumps. All inputs and outputs are file paths.
type Engine interface {
	Inventory(ctx context.Context, path string) ([]domain.Band, error)
	VectorMeta(ctx context.Context, path string) (domain.BandMeta, error)
	Translate(ctx context.Context, dst, src string, opts domain.TranslateOptions) error
	Warp(ctx context.Context, dst, src string, opts domain.WarpOptions) error
	Shade(ctx context.Context, dst, src, colorTable string) error
	Tiles(ctx context.Context, destDir, src string) error
	PixelData(ctx context.Context, dst, src string) error
}

// RasterEncoder turns a GeoTIFF into the SQL batch that appends it to the
// spatial store.
type RasterEncoder interface {
	Encode(ctx context.Context, file string) (string, error)
}

// Registrar is the cycle consistency keeper: it decides which hours are in
// scope and durably records processed ones.
type Registrar interface {
	Accepts(hour int) bool
	RegisterHour(ctx context.Context, ref domain.SourceRef, rasterSQL string) error
}

// Pipeline orchestrates the extract-transform-load run for each notified
// forecast hour.
type Pipeline struct {
	extractor Extractor
	fetcher   Fetcher
	engine    Engine
	encoder   RasterEncoder
	registrar Registrar

	layers     []domain.Layer
	layersPath string
	scratchDir string
	workers    int

	logger  *slog.Logger
	metrics *observability.Metrics
	ready   atomic.Bool
}

// New creates a Pipeline with the given stages and observability.
func New(e Extractor, f Fetcher, eng Engine, enc RasterEncoder, reg Registrar,
	layersPath, scratchDir string, workers int,
	logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		extractor:  e,
		fetcher:    f,
		engine:     eng,
		encoder:    enc,
		registrar:  reg,
		layers:     domain.StandardLayers(),
		layersPath: layersPath,
		scratchDir: scratchDir,
		workers:    workers,
		logger:     logger,
		metrics:    metrics,
	}
}

// CheckReadiness returns nil if the pipeline has processed at least one
// notification, or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not processed any notifications yet")
	}
	return nil
}

// Run renders the layer legends and then consumes notifications with a pool
// of workers until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "workers", p.workers)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	if err := p.WriteLegends(); err != nil {
		return err
	}

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			p.work(ctx, worker)
		}(i)
	}
	wg.Wait()

	p.logger.Info("pipeline stopped")
	return nil
}

// work is one worker's extract loop. Extraction errors back off
// exponentially from 200ms to 5s to ride out broker outages without tight
// looping.
func (p *Pipeline) work(ctx context.Context, worker int) {
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := p.extractor.Extract(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("extract failed", "worker", worker, "error", err)
			if !sleepWithContext(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}
		backoff = 200 * time.Millisecond

		p.handle(ctx, n)
	}
}

// handle classifies and processes one notification. Irrelevant keys and
// out-of-scope hours are committed immediately; processing failures leave
// the message uncommitted so the broker redelivers it.
func (p *Pipeline) handle(ctx context.Context, n domain.Notification) {
	ref, ok := domain.ParseObjectKey(n.Key)
	if !ok {
		p.logger.Debug("skipping unrecognized key", "key", n.Key)
		p.metrics.HoursSkipped.Inc()
		p.commit(ctx, n)
		return
	}

	if !p.registrar.Accepts(ref.ForecastHour) {
		p.logger.Info("skipping out-of-scope hour",
			"cycle", ref.CycleName(), "hour", ref.ForecastHour)
		p.metrics.HoursSkipped.Inc()
		p.commit(ctx, n)
		return
	}

	start := time.Now()
	if err := p.processHour(ctx, ref); err != nil {
		p.logger.Error("hour processing failed",
			"cycle", ref.CycleName(), "hour", ref.ForecastHour, "error", err)
		return
	}

	p.commit(ctx, n)
	p.metrics.HoursProcessed.Inc()
	p.metrics.HourProcessingDuration.Observe(time.Since(start).Seconds())
	p.ready.Store(true)
	p.logger.Info("hour processed",
		"cycle", ref.CycleName(), "hour", ref.ForecastHour,
		"duration", time.Since(start))
}

// ProcessKey runs the full transform for a single object key, outside the
// consume loop. Used by the one-shot command.
func (p *Pipeline) ProcessKey(ctx context.Context, key string) error {
	ref, ok := domain.ParseObjectKey(key)
	if !ok {
		return errors.New("unrecognized object key")
	}
	if !p.registrar.Accepts(ref.ForecastHour) {
		return errors.New("forecast hour out of scope")
	}
	return p.processHour(ctx, ref)
}

// commit acknowledges the notification if a commit function is available.
func (p *Pipeline) commit(ctx context.Context, n domain.Notification) {
	if n.Commit == nil {
		return
	}
	if err := n.Commit(ctx); err != nil {
		p.logger.Warn("commit failed", "error", err,
			"topic", n.Topic, "partition", n.Partition, "offset", n.Offset)
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
