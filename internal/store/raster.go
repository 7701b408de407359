package store

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
)

// RasterEncoder turns a web-mercator GeoTIFF into an append-mode SQL batch
// for the PostGIS raster table by shelling out to raster2pgsql. The batch is
// executed later inside the hour's registration transaction.
type RasterEncoder struct {
	table  string
	logger *slog.Logger
}

func NewRasterEncoder(table string, logger *slog.Logger) *RasterEncoder {
	return &RasterEncoder{table: table, logger: logger}
}

// Encode returns the SQL batch that appends the raster's tiles to the table,
// with the cycle-hour key stored in the filename column. The file must be
// named after its cycle-hour key for the rows to join back to bookkeeping.
func (r *RasterEncoder) Encode(ctx context.Context, file string) (string, error) {
	args := rasterArgs(file, r.table)
	r.logger.Debug("encoding raster", "file", file, "table", r.table)

	cmd := exec.CommandContext(ctx, "raster2pgsql", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("raster2pgsql: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.String(), nil
}

func rasterArgs(file, table string) []string {
	return []string{
		"-s", "3857", // web-mercator srid
		"-C", // standard raster constraints
		"-k",
		"-F", // filename column carries the cycle hour key
		"-n", "cycle_hour_key",
		"-t", "auto", // tile the raster
		"-a", // append
		file,
		table,
	}
}
