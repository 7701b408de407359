//go:build integration

package integration_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gfsweather/gfs-etl-service/internal/adapter/kafka"
	"github.com/gfsweather/gfs-etl-service/internal/config"
	"github.com/gfsweather/gfs-etl-service/internal/domain"
	"github.com/gfsweather/gfs-etl-service/internal/observability"
	"github.com/gfsweather/gfs-etl-service/internal/pipeline"
)

const testTopic = "test-object-keys"

const validKey = "gfs.20240601/00/atmos/gfs.t00z.pgrb2.0p25.f006"

// TestKafkaReader verifies the adapter layer: kafka.Reader delivers
// notifications with the object key as value and a working commit callback.
func TestKafkaReader(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testTopic)

	cfg := &config.Config{
		KafkaBrokers: []string{broker},
		KafkaTopic:   testTopic,
		KafkaGroupID: fmt.Sprintf("test-reader-%d", time.Now().UnixNano()),
	}

	producer := &kafkago.Writer{
		Addr:  kafkago.TCP(broker),
		Topic: testTopic,
	}
	t.Cleanup(func() { _ = producer.Close() })

	require.NoError(t, producer.WriteMessages(ctx, kafkago.Message{
		Value: []byte(validKey),
	}))

	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	n, err := reader.Extract(ctx)
	require.NoError(t, err)
	assert.Equal(t, validKey, n.Key)
	assert.Equal(t, testTopic, n.Topic)
	require.NotNil(t, n.Commit, "commit callback should be set")
	require.NoError(t, n.Commit(ctx))
}

// nullEngine satisfies pipeline.Engine with file-touching stand-ins so the
// end-to-end test exercises the consume loop against real Kafka without the
// raster toolchain.
type nullEngine struct{}

func (nullEngine) Inventory(_ context.Context, _ string) ([]domain.Band, error) {
	return []domain.Band{
		{Index: 1, Element: "UGRD", Layer: "10-HTGL", TemplateID: "0"},
		{Index: 2, Element: "VGRD", Layer: "10-HTGL", TemplateID: "0"},
		{Index: 3, Element: "TMP", Layer: "2-HTGL", TemplateID: "0"},
		{Index: 4, Element: "PRATE", Layer: "0-SFC", TemplateID: "0"},
		{Index: 5, Element: "TCDC", Layer: "0-EATM", TemplateID: "0"},
		{Index: 6, Element: "PRMSL", Layer: "0-MSL", TemplateID: "0"},
		{Index: 7, Element: "RH", Layer: "2-HTGL", TemplateID: "0"},
		{Index: 8, Element: "GUST", Layer: "0-SFC", TemplateID: "0"},
	}, nil
}

func (nullEngine) VectorMeta(_ context.Context, _ string) (domain.BandMeta, error) {
	return domain.BandMeta{
		RefTime:         1717200000,
		ForecastSeconds: 21600,
		PDSTemplate:     "2 2 2 0 81 0 0 1 0 103 0 10 255 0 0",
		Nx:              360,
		Ny:              181,
	}, nil
}

func (nullEngine) Translate(_ context.Context, dst, _ string, _ domain.TranslateOptions) error {
	return os.WriteFile(dst, nil, 0o644)
}

func (nullEngine) Warp(_ context.Context, dst, _ string, _ domain.WarpOptions) error {
	return os.WriteFile(dst, nil, 0o644)
}

func (nullEngine) Shade(_ context.Context, dst, _, _ string) error {
	return os.WriteFile(dst, nil, 0o644)
}

func (nullEngine) Tiles(_ context.Context, destDir, _ string) error {
	return os.MkdirAll(destDir, 0o755)
}

func (nullEngine) PixelData(_ context.Context, dst, _ string) error {
	return os.WriteFile(dst, []byte("[1.0, 2.0]"), 0o644)
}

type nullFetcher struct{}

func (nullFetcher) Fetch(_ context.Context, _, dest string) error {
	return os.WriteFile(dest, []byte("GRIB"), 0o644)
}

type nullEncoder struct{}

func (nullEncoder) Encode(_ context.Context, file string) (string, error) {
	return "-- " + filepath.Base(file), nil
}

type recordingRegistrar struct {
	mu   sync.Mutex
	keys []string
}

func (r *recordingRegistrar) Accepts(hour int) bool { return hour < 24 && hour%3 == 0 }

func (r *recordingRegistrar) RegisterHour(_ context.Context, ref domain.SourceRef, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, ref.CycleHourKey())
	return nil
}

func (r *recordingRegistrar) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.keys...)
}

// TestPipelineEndToEnd wires the consume loop against real Kafka: relevant
// keys are processed and registered, irrelevant ones are skipped, and both
// end up committed so the group offset advances past them.
func TestPipelineEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testTopic)

	cfg := &config.Config{
		KafkaBrokers: []string{broker},
		KafkaTopic:   testTopic,
		KafkaGroupID: fmt.Sprintf("test-pipeline-%d", time.Now().UnixNano()),
	}

	producer := &kafkago.Writer{
		Addr:  kafkago.TCP(broker),
		Topic: testTopic,
	}
	t.Cleanup(func() { _ = producer.Close() })

	require.NoError(t, producer.WriteMessages(ctx,
		kafkago.Message{Value: []byte(validKey + ".idx")}, // index sidecar, skipped
		kafkago.Message{Value: []byte(validKey)},
		kafkago.Message{Value: []byte("gfs.20240601/00/atmos/gfs.t00z.pgrb2.0p25.f009")},
	))

	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	registrar := &recordingRegistrar{}
	p := pipeline.New(reader, nullFetcher{}, nullEngine{}, nullEncoder{}, registrar,
		t.TempDir(), t.TempDir(), 2, discardLogger(), observability.NewMetricsForTesting())

	pipelineCtx, pipelineCancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(pipelineCtx) }()

	require.Eventually(t, func() bool {
		return len(registrar.snapshot()) == 2
	}, 90*time.Second, 500*time.Millisecond, "both forecast hours should register")

	pipelineCancel()
	require.NoError(t, <-errCh)

	keys := registrar.snapshot()
	assert.ElementsMatch(t, []string{"2024-06-01T00+6", "2024-06-01T00+9"}, keys)
}
