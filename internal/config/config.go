package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var tileZoomRe = regexp.MustCompile(`^\d+-\d+$`)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	DatabaseURL string
	RasterTable string

	HTTPAddr        string
	HTTPReadTimeout time.Duration
	HTTPIdleTimeout time.Duration
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// LayersPath is the published artifact root: one directory per cycle
	// plus the "current" pointer. ScratchDir hosts per-hour workspaces;
	// empty means the system temp dir.
	LayersPath string
	ScratchDir string

	SourceBaseURL string
	FetchTimeout  time.Duration

	// ForecastLimit and ForecastStep define the expected hour set
	// {0, step, 2*step, ...} strictly below the limit.
	ForecastLimit int
	ForecastStep  int

	Workers       int
	TileZoom      string
	TileProcesses int
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	httpReadTimeout, err := parseDuration("HTTP_READ_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	httpIdleTimeout, err := parseDuration("HTTP_IDLE_TIMEOUT", "60s")
	if err != nil {
		return nil, err
	}
	fetchTimeout, err := parseDuration("FETCH_TIMEOUT", "10m")
	if err != nil {
		return nil, err
	}
	forecastLimit, err := parsePositiveInt("FORECAST_LIMIT", 24)
	if err != nil {
		return nil, err
	}
	forecastStep, err := parsePositiveInt("FORECAST_STEP", 3)
	if err != nil {
		return nil, err
	}
	workers, err := parsePositiveInt("WORKERS", 4)
	if err != nil {
		return nil, err
	}
	tileProcesses, err := parsePositiveInt("TILE_PROCESSES", 4)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		KafkaBrokers: parseBrokers(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   envOrDefault("KAFKA_TOPIC", "gfs-object-keys"),
		KafkaGroupID: envOrDefault("KAFKA_GROUP_ID", "gfs-etl"),

		DatabaseURL: envOrDefault("DATABASE_URL", "postgres://localhost:5432/gfsweather"),
		RasterTable: envOrDefault("RASTER_TABLE", "gfs.rasters"),

		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		HTTPReadTimeout: httpReadTimeout,
		HTTPIdleTimeout: httpIdleTimeout,
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		LayersPath: envOrDefault("LAYERS_PATH", "layers"),
		ScratchDir: os.Getenv("SCRATCH_DIR"),

		SourceBaseURL: envOrDefault("SOURCE_BASE_URL", "https://noaa-gfs-bdp-pds.s3.amazonaws.com"),
		FetchTimeout:  fetchTimeout,

		ForecastLimit: forecastLimit,
		ForecastStep:  forecastStep,

		Workers:       workers,
		TileZoom:      envOrDefault("TILE_ZOOM", "2-6"),
		TileProcesses: tileProcesses,
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_TOPIC is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.LayersPath == "" {
		return nil, errors.New("LAYERS_PATH is required")
	}
	if cfg.ForecastStep > cfg.ForecastLimit {
		return nil, fmt.Errorf("FORECAST_STEP %d exceeds FORECAST_LIMIT %d", cfg.ForecastStep, cfg.ForecastLimit)
	}
	if !tileZoomRe.MatchString(cfg.TileZoom) {
		return nil, fmt.Errorf("TILE_ZOOM must look like \"2-6\", got %q", cfg.TileZoom)
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseBrokers(s string) []string {
	parts := strings.Split(s, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}
