package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gfsweather/gfs-etl-service/internal/domain"
)

// processHour runs the complete transform for one forecast hour: fetch the
// source file into a scratch workspace, build the wind vector document and
// the color tile layers under the cycle tree, and register the hour together
// with its spatial-store rows. The workspace is released whatever happens.
func (p *Pipeline) processHour(ctx context.Context, ref domain.SourceRef) error {
	ws, err := os.MkdirTemp(p.scratchDir, "gfs-etl-")
	if err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	defer os.RemoveAll(ws)

	srcFile := filepath.Join(ws, "gfs.grib")
	if err := p.fetcher.Fetch(ctx, ref.Key, srcFile); err != nil {
		return fmt.Errorf("fetch source: %w", err)
	}

	inventory, err := p.engine.Inventory(ctx, srcFile)
	if err != nil {
		p.metrics.TransformErrors.Inc()
		return fmt.Errorf("inspect source: %w", err)
	}

	forecastDir := filepath.Join(p.layersPath, ref.CycleName(), ref.ForecastName())
	if err := os.MkdirAll(forecastDir, 0o755); err != nil {
		return fmt.Errorf("create forecast dir: %w", err)
	}

	if err := p.transformVector(ctx, ws, srcFile, inventory, forecastDir); err != nil {
		p.metrics.TransformErrors.Inc()
		return fmt.Errorf("wind vector: %w", err)
	}

	if err := p.transformLayers(ctx, ws, srcFile, inventory, forecastDir); err != nil {
		p.metrics.TransformErrors.Inc()
		return err
	}

	rasterSQL, err := p.transformStoreRaster(ctx, ws, srcFile, inventory, ref)
	if err != nil {
		p.metrics.TransformErrors.Inc()
		return fmt.Errorf("store raster: %w", err)
	}

	if err := p.registrar.RegisterHour(ctx, ref, rasterSQL); err != nil {
		p.metrics.LoadErrors.Inc()
		return fmt.Errorf("register hour: %w", err)
	}
	return nil
}

// transformVector builds the wind velocity document from the U and V
// components and writes it into the forecast directory.
func (p *Pipeline) transformVector(ctx context.Context, ws, srcFile string, inventory []domain.Band, forecastDir string) error {
	u, err := p.transformComponent(ctx, ws, srcFile, inventory, domain.WindU)
	if err != nil {
		return err
	}
	v, err := p.transformComponent(ctx, ws, srcFile, inventory, domain.WindV)
	if err != nil {
		return err
	}

	field, err := domain.BuildVectorField(u, v)
	if err != nil {
		return err
	}

	data, err := json.Marshal(field)
	if err != nil {
		return fmt.Errorf("encode vector document: %w", err)
	}
	dest := filepath.Join(forecastDir, "wind_velocity.json")
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return fmt.Errorf("write vector document: %w", err)
	}
	return nil
}

// transformComponent extracts one wind component, downsamples it to the
// 1°×1° grid in the source projection, and reads back its pixel values and
// metadata.
func (p *Pipeline) transformComponent(ctx context.Context, ws, srcFile string, inventory []domain.Band, sel domain.BandSelector) (domain.Component, error) {
	idx, err := domain.MatchBand(inventory, sel)
	if err != nil {
		return domain.Component{}, err
	}

	translated := filepath.Join(ws, sel.Element+".t.tif")
	if err := p.engine.Translate(ctx, translated, srcFile, domain.TranslateOptions{Bands: []int{idx}}); err != nil {
		return domain.Component{}, err
	}

	warped := filepath.Join(ws, sel.Element+".w.tif")
	if err := p.engine.Warp(ctx, warped, translated, domain.WarpOptions{Width: 360, Height: 181}); err != nil {
		return domain.Component{}, err
	}

	dataFile := filepath.Join(ws, sel.Element+".json")
	if err := p.engine.PixelData(ctx, dataFile, warped); err != nil {
		return domain.Component{}, err
	}
	raw, err := os.ReadFile(dataFile)
	if err != nil {
		return domain.Component{}, err
	}
	var data []float64
	if err := json.Unmarshal(raw, &data); err != nil {
		return domain.Component{}, fmt.Errorf("parse %s pixel data: %w", sel.Element, err)
	}

	meta, err := p.engine.VectorMeta(ctx, warped)
	if err != nil {
		return domain.Component{}, err
	}

	return domain.Component{Meta: meta, Data: data}, nil
}

// transformLayers renders each color layer's tile pyramid into the forecast
// directory. A tiling failure loses that layer for this hour but does not
// fail the hour; every earlier stage does.
func (p *Pipeline) transformLayers(ctx context.Context, ws, srcFile string, inventory []domain.Band, forecastDir string) error {
	for _, layer := range p.layers {
		idx, err := domain.MatchBand(inventory, layer.Band)
		if err != nil {
			return fmt.Errorf("layer %s: %w", layer.Name, err)
		}

		translated := filepath.Join(ws, layer.Name+".t.tif")
		opts := domain.TranslateOptions{Bands: []int{idx}, Scale: &layer.Scale}
		if err := p.engine.Translate(ctx, translated, srcFile, opts); err != nil {
			return fmt.Errorf("layer %s: %w", layer.Name, err)
		}

		warped := filepath.Join(ws, layer.Name+".w.tif")
		if err := p.engine.Warp(ctx, warped, translated, domain.WarpOptions{Width: 6400, Height: 6400, Reproject: true}); err != nil {
			return fmt.Errorf("layer %s: %w", layer.Name, err)
		}

		colorTable := filepath.Join(ws, layer.Name+".color.txt")
		if err := writeColorTable(colorTable, layer); err != nil {
			return fmt.Errorf("layer %s: %w", layer.Name, err)
		}

		shaded := filepath.Join(ws, layer.Name+".s.tif")
		if err := p.engine.Shade(ctx, shaded, warped, colorTable); err != nil {
			return fmt.Errorf("layer %s: %w", layer.Name, err)
		}

		tilesDir := filepath.Join(forecastDir, layer.Name)
		if err := p.engine.Tiles(ctx, tilesDir, shaded); err != nil {
			p.logger.Error("tiling failed, dropping layer for this hour",
				"layer", layer.Name, "error", err)
			p.metrics.TransformErrors.Inc()
		}
	}
	return nil
}

// transformStoreRaster builds the multi-band web-mercator raster for the
// spatial store and encodes it into the SQL batch executed at registration.
// The warped file is named by the cycle-hour key; the loader stores that
// name in the filename column, which is what ties raster rows to their hour.
func (p *Pipeline) transformStoreRaster(ctx context.Context, ws, srcFile string, inventory []domain.Band, ref domain.SourceRef) (string, error) {
	indices, err := domain.MatchBands(inventory, domain.RasterBands())
	if err != nil {
		return "", err
	}

	clipped := filepath.Join(ws, "bands.tif")
	if err := p.engine.Translate(ctx, clipped, srcFile, domain.TranslateOptions{Bands: indices, Clip: true}); err != nil {
		return "", err
	}

	warped := filepath.Join(ws, ref.CycleHourKey())
	if err := p.engine.Warp(ctx, warped, clipped, domain.WarpOptions{Width: 1800, Height: 1800, Reproject: true}); err != nil {
		return "", err
	}

	return p.encoder.Encode(ctx, warped)
}

// WriteLegends renders one legend image per color layer at the artifact
// root, next to the cycle directories.
func (p *Pipeline) WriteLegends() error {
	for _, layer := range p.layers {
		dest := filepath.Join(p.layersPath, layer.Name+".png")
		f, err := os.Create(dest)
		if err != nil {
			return fmt.Errorf("legend %s: %w", layer.Name, err)
		}
		err = domain.RenderLegend(layer, f)
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return fmt.Errorf("legend %s: %w", layer.Name, err)
		}
	}
	return nil
}

func writeColorTable(path string, layer domain.Layer) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	err = layer.WriteColorTable(f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	return err
}
