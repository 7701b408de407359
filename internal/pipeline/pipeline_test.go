package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gfsweather/gfs-etl-service/internal/domain"
	"github.com/gfsweather/gfs-etl-service/internal/observability"
	"github.com/gfsweather/gfs-etl-service/internal/pipeline"
)

const testKey = "gfs.20240601/00/atmos/gfs.t00z.pgrb2.0p25.f006"

// --- fakes ---

type fakeExtractor struct {
	notifications []domain.Notification
	index         atomic.Int64
}

func (f *fakeExtractor) Extract(ctx context.Context) (domain.Notification, error) {
	i := int(f.index.Add(1) - 1)
	if i >= len(f.notifications) {
		// Block until context cancelled to simulate waiting for messages.
		<-ctx.Done()
		return domain.Notification{}, ctx.Err()
	}
	return f.notifications[i], nil
}

type fakeFetcher struct {
	err error
}

func (f *fakeFetcher) Fetch(_ context.Context, key, dest string) error {
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(dest, []byte("GRIB"), 0o644)
}

type fakeEngine struct {
	inventory []domain.Band
	tilesErr  error

	mu    sync.Mutex
	tiled []string
}

func testInventory() []domain.Band {
	return []domain.Band{
		{Index: 1, Element: "UGRD", Layer: "10-HTGL", TemplateID: "0"},
		{Index: 2, Element: "VGRD", Layer: "10-HTGL", TemplateID: "0"},
		{Index: 3, Element: "TMP", Layer: "2-HTGL", TemplateID: "0"},
		{Index: 4, Element: "PRATE", Layer: "0-SFC", TemplateID: "0"},
		{Index: 5, Element: "TCDC", Layer: "0-EATM", TemplateID: "0"},
		{Index: 6, Element: "PRMSL", Layer: "0-MSL", TemplateID: "0"},
		{Index: 7, Element: "RH", Layer: "2-HTGL", TemplateID: "0"},
		{Index: 8, Element: "GUST", Layer: "0-SFC", TemplateID: "0"},
	}
}

func (e *fakeEngine) Inventory(_ context.Context, _ string) ([]domain.Band, error) {
	return e.inventory, nil
}

// VectorMeta returns the GRIB metadata gdalinfo reports for 10m wind bands:
// parameterCategory 2, parameterNumber 2 (UGRD) or 3 (VGRD).
func (e *fakeEngine) VectorMeta(_ context.Context, path string) (domain.BandMeta, error) {
	template := "2 2 2 0 81 0 0 1 0 103 0 10 255 0 0"
	if strings.Contains(filepath.Base(path), "VGRD") {
		template = "2 3 2 0 81 0 0 1 0 103 0 10 255 0 0"
	}
	return domain.BandMeta{
		RefTime:         1717200000,
		ForecastSeconds: 21600,
		PDSTemplate:     template,
		Nx:              360,
		Ny:              181,
	}, nil
}

func (e *fakeEngine) Translate(_ context.Context, dst, _ string, _ domain.TranslateOptions) error {
	return touch(dst)
}

func (e *fakeEngine) Warp(_ context.Context, dst, _ string, _ domain.WarpOptions) error {
	return touch(dst)
}

func (e *fakeEngine) Shade(_ context.Context, dst, _, _ string) error {
	return touch(dst)
}

func (e *fakeEngine) Tiles(_ context.Context, destDir, _ string) error {
	if e.tilesErr != nil {
		return e.tilesErr
	}
	e.mu.Lock()
	e.tiled = append(e.tiled, destDir)
	e.mu.Unlock()
	return os.MkdirAll(destDir, 0o755)
}

func (e *fakeEngine) PixelData(_ context.Context, dst, _ string) error {
	return os.WriteFile(dst, []byte("[1.234, -2.0, 0.5]"), 0o644)
}

func touch(path string) error {
	return os.WriteFile(path, nil, 0o644)
}

type fakeEncoder struct{}

func (fakeEncoder) Encode(_ context.Context, file string) (string, error) {
	return "INSERT INTO rasters -- " + filepath.Base(file), nil
}

type registration struct {
	ref       domain.SourceRef
	rasterSQL string
}

type fakeRegistrar struct {
	err error

	mu         sync.Mutex
	registered []registration
}

func (r *fakeRegistrar) Accepts(hour int) bool {
	return hour < 24 && hour%3 == 0
}

func (r *fakeRegistrar) RegisterHour(_ context.Context, ref domain.SourceRef, rasterSQL string) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	r.registered = append(r.registered, registration{ref: ref, rasterSQL: rasterSQL})
	r.mu.Unlock()
	return nil
}

func (r *fakeRegistrar) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.registered)
}

type harness struct {
	pipeline   *pipeline.Pipeline
	extractor  *fakeExtractor
	fetcher    *fakeFetcher
	engine     *fakeEngine
	registrar  *fakeRegistrar
	metrics    *observability.Metrics
	layersPath string
}

func newHarness(t *testing.T, notifications ...domain.Notification) *harness {
	t.Helper()
	h := &harness{
		extractor:  &fakeExtractor{notifications: notifications},
		fetcher:    &fakeFetcher{},
		engine:     &fakeEngine{inventory: testInventory()},
		registrar:  &fakeRegistrar{},
		metrics:    observability.NewMetricsForTesting(),
		layersPath: t.TempDir(),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.pipeline = pipeline.New(
		h.extractor, h.fetcher, h.engine, fakeEncoder{}, h.registrar,
		h.layersPath, t.TempDir(), 1,
		logger, h.metrics,
	)
	return h
}

func runPipeline(t *testing.T, h *harness) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	require.NoError(t, h.pipeline.Run(ctx))
}

// --- tests ---

func TestProcessKey_HappyPath(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.pipeline.ProcessKey(context.Background(), testKey))

	// Wind vector document lands in the forecast directory.
	vectorPath := filepath.Join(h.layersPath, "2024-06-01T00", "2024-06-01T06", "wind_velocity.json")
	raw, err := os.ReadFile(vectorPath)
	require.NoError(t, err)

	var field []struct {
		Header map[string]any `json:"header"`
		Data   []float64      `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &field))
	require.Len(t, field, 2)
	assert.Equal(t, "2024-06-01T00:00:00Z", field[0].Header["refTime"])
	assert.Equal(t, []float64{1.23, -2, 0.5}, field[0].Data)

	// Parameter numbers must survive into the document so decoders can tell
	// U (2) from V (3).
	assert.Equal(t, float64(2), field[0].Header["parameterNumber"])
	assert.Equal(t, float64(3), field[1].Header["parameterNumber"])

	// One tile pyramid per color layer.
	require.Len(t, h.engine.tiled, 5)
	assert.DirExists(t, filepath.Join(h.layersPath, "2024-06-01T00", "2024-06-01T06", "tmp"))
	assert.DirExists(t, filepath.Join(h.layersPath, "2024-06-01T00", "2024-06-01T06", "gust"))

	// The hour registered with its raster batch, named by the cycle-hour key.
	require.Equal(t, 1, h.registrar.count())
	reg := h.registrar.registered[0]
	assert.Equal(t, 6, reg.ref.ForecastHour)
	assert.Contains(t, reg.rasterSQL, "2024-06-01T00+6")
}

func TestProcessKey_UnrecognizedKey(t *testing.T) {
	h := newHarness(t)
	err := h.pipeline.ProcessKey(context.Background(), "not-a-gfs-key")
	require.Error(t, err)
	assert.Equal(t, 0, h.registrar.count())
}

func TestProcessKey_OutOfScopeHour(t *testing.T) {
	h := newHarness(t)
	err := h.pipeline.ProcessKey(context.Background(), "gfs.20240601/00/atmos/gfs.t00z.pgrb2.0p25.f120")
	require.Error(t, err)
	assert.Equal(t, 0, h.registrar.count())
}

func TestProcessKey_AmbiguousBandFailsHour(t *testing.T) {
	h := newHarness(t)
	h.engine.inventory = append(h.engine.inventory,
		domain.Band{Index: 9, Element: "TMP", Layer: "2-HTGL", TemplateID: "0"})

	err := h.pipeline.ProcessKey(context.Background(), testKey)
	require.ErrorIs(t, err, domain.ErrBandAmbiguous)
	assert.Equal(t, 0, h.registrar.count())
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.TransformErrors))
}

func TestProcessKey_TilingFailureKeepsHour(t *testing.T) {
	h := newHarness(t)
	h.engine.tilesErr = errors.New("tiler crashed")

	require.NoError(t, h.pipeline.ProcessKey(context.Background(), testKey))
	assert.Equal(t, 1, h.registrar.count(), "hour registers despite lost layers")
	assert.Equal(t, float64(5), testutil.ToFloat64(h.metrics.TransformErrors), "one per lost layer")
}

func TestRun_CommitsProcessedNotification(t *testing.T) {
	var commits atomic.Int64
	n := domain.Notification{
		Key: testKey,
		Commit: func(context.Context) error {
			commits.Add(1)
			return nil
		},
	}
	h := newHarness(t, n)

	runPipeline(t, h)

	assert.Equal(t, 1, h.registrar.count())
	assert.Equal(t, int64(1), commits.Load())
	assert.NoError(t, h.pipeline.CheckReadiness(context.Background()))
}

func TestRun_SkipsAndCommitsIrrelevantKeys(t *testing.T) {
	var commits atomic.Int64
	commit := func(context.Context) error {
		commits.Add(1)
		return nil
	}
	h := newHarness(t,
		domain.Notification{Key: "gfs.20240601/00/atmos/gfs.t00z.pgrb2.0p25.f006.idx", Commit: commit},
		domain.Notification{Key: "gfs.20240601/00/atmos/gfs.t00z.pgrb2.0p25.f120", Commit: commit},
	)

	runPipeline(t, h)

	assert.Equal(t, 0, h.registrar.count())
	assert.Equal(t, int64(2), commits.Load())
	assert.Error(t, h.pipeline.CheckReadiness(context.Background()))
}

func TestRun_FailedHourIsNotCommitted(t *testing.T) {
	var commits atomic.Int64
	n := domain.Notification{
		Key: testKey,
		Commit: func(context.Context) error {
			commits.Add(1)
			return nil
		},
	}
	h := newHarness(t, n)
	h.fetcher.err = errors.New("bucket unavailable")

	runPipeline(t, h)

	assert.Equal(t, 0, h.registrar.count())
	assert.Equal(t, int64(0), commits.Load(), "failed hour stays uncommitted for redelivery")
	assert.Error(t, h.pipeline.CheckReadiness(context.Background()))
}

func TestRun_RegistrationFailureIsNotCommitted(t *testing.T) {
	var commits atomic.Int64
	n := domain.Notification{
		Key: testKey,
		Commit: func(context.Context) error {
			commits.Add(1)
			return nil
		},
	}
	h := newHarness(t, n)
	h.registrar.err = errors.New("db down")

	runPipeline(t, h)

	assert.Equal(t, int64(0), commits.Load())
}

func TestRun_WritesLegends(t *testing.T) {
	h := newHarness(t)

	runPipeline(t, h)

	for _, name := range []string{"tmp", "prate", "pres", "rh", "gust"} {
		assert.FileExists(t, filepath.Join(h.layersPath, name+".png"))
	}
}

func TestRun_ContextCancellation(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, h.pipeline.Run(ctx))
	assert.Equal(t, 0, h.registrar.count())
}
