// Package nomads downloads GFS source files from the NOAA open-data bucket
// over plain HTTP. Object keys map directly onto URL paths under the bucket
// endpoint.
package nomads

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// Fetcher downloads source objects to local files.
type Fetcher struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewFetcher creates a source fetcher rooted at baseURL. The timeout bounds
// the whole download, not just connection setup; GRIB files run to hundreds
// of megabytes.
func NewFetcher(baseURL string, timeout time.Duration, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Fetch downloads the object at key into the file at dest. A partial file is
// removed on failure so retries start clean.
func (f *Fetcher) Fetch(ctx context.Context, key, dest string) error {
	u := f.baseURL + "/" + key

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	f.logger.Info("downloading source object", "key", key)
	start := time.Now()

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("fetch %s: status %d: %s", key, resp.StatusCode, body)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}

	n, err := io.Copy(out, resp.Body)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dest)
		return fmt.Errorf("download %s: %w", key, err)
	}

	f.logger.Info("download complete", "key", key, "bytes", n, "duration", time.Since(start))
	return nil
}
