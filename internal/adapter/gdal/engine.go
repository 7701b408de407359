// Package gdal drives the GDAL command-line tools that do the actual raster
// work: gdalinfo, gdal_translate, gdalwarp, gdaldem, gdal2tiles.py, and the
// gtiff2json pixel dumper. Each operation shells out and treats the tool as
// an opaque engine; inputs and outputs are files on disk.
package gdal

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"

	"github.com/gfsweather/gfs-etl-service/internal/domain"
)

// Engine runs GDAL subprocesses. It is safe for concurrent use; every
// invocation is an independent process.
type Engine struct {
	tileZoom      string
	tileProcesses int
	logger        *slog.Logger
}

func NewEngine(tileZoom string, tileProcesses int, logger *slog.Logger) *Engine {
	return &Engine{
		tileZoom:      tileZoom,
		tileProcesses: tileProcesses,
		logger:        logger,
	}
}

// Translate extracts the selected bands of src into a GeoTIFF at dst.
func (e *Engine) Translate(ctx context.Context, dst, src string, opts domain.TranslateOptions) error {
	_, err := e.run(ctx, "gdal_translate", translateArgs(dst, src, opts)...)
	return err
}

func translateArgs(dst, src string, opts domain.TranslateOptions) []string {
	args := []string{"-of", "Gtiff", "-a_nodata", "none"}
	for _, b := range opts.Bands {
		args = append(args, "-b", strconv.Itoa(b))
	}
	if opts.Clip {
		args = append(args, "-ot", "Float32", "-projwin", "-180", "85.06", "180", "-85.06")
	}
	if opts.Scale != nil {
		args = append(args,
			"-ot", "Byte",
			"-scale", formatFloat(opts.Scale.Min), formatFloat(opts.Scale.Max),
		)
	}
	return append(args, src, dst)
}

// Warp resamples src into dst with cubic-spline interpolation.
func (e *Engine) Warp(ctx context.Context, dst, src string, opts domain.WarpOptions) error {
	_, err := e.run(ctx, "gdalwarp", warpArgs(dst, src, opts)...)
	return err
}

func warpArgs(dst, src string, opts domain.WarpOptions) []string {
	args := []string{
		"-r", "cubicspline",
		"-ts", strconv.Itoa(opts.Width), strconv.Itoa(opts.Height),
		"-overwrite",
	}
	if opts.Reproject {
		args = append(args,
			"-t_srs", "EPSG:3857",
			"-te", "-20037508.34", "-20037508.34", "20037508.34", "20037508.34",
		)
	}
	return append(args, src, dst)
}

// Shade applies a color-relief table to a single-band byte raster.
func (e *Engine) Shade(ctx context.Context, dst, src, colorTable string) error {
	_, err := e.run(ctx, "gdaldem", "color-relief", src, colorTable, dst)
	return err
}

// Tiles renders src into an XYZ tile pyramid rooted at destDir.
func (e *Engine) Tiles(ctx context.Context, destDir, src string) error {
	_, err := e.run(ctx, "gdal2tiles.py",
		"--processes", strconv.Itoa(e.tileProcesses),
		"-z", e.tileZoom,
		src, destDir,
	)
	return err
}

// PixelData dumps the pixel values of a single-band raster as a JSON array
// at dst.
func (e *Engine) PixelData(ctx context.Context, dst, src string) error {
	_, err := e.run(ctx, "gtiff2json", src, "-o", dst)
	return err
}

func (e *Engine) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	e.logger.Debug("running gdal tool", "tool", name, "args", args)

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.Bytes(), nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
