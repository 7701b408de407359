package gdal

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/gfsweather/gfs-etl-service/internal/domain"
)

// gdalinfo -json band metadata lives under the unnamed metadata domain, so
// the document is decoded as nested maps rather than tagged structs.
type infoDoc struct {
	Size  []int      `json:"size"`
	Bands []infoBand `json:"bands"`
}

type infoBand struct {
	Band     int                          `json:"band"`
	Metadata map[string]map[string]string `json:"metadata"`
}

func (b infoBand) grib(key string) string {
	return b.Metadata[""][key]
}

// Inventory reports the band listing of a GRIB file, one entry per band with
// the element, vertical layer, and product definition template needed for
// selector matching.
func (e *Engine) Inventory(ctx context.Context, path string) ([]domain.Band, error) {
	doc, err := e.info(ctx, path)
	if err != nil {
		return nil, err
	}

	bands := make([]domain.Band, 0, len(doc.Bands))
	for _, b := range doc.Bands {
		bands = append(bands, domain.Band{
			Index:      b.Band,
			Element:    b.grib("GRIB_ELEMENT"),
			Layer:      b.grib("GRIB_SHORT_NAME"),
			TemplateID: b.grib("GRIB_PDS_PDTN"),
		})
	}
	return bands, nil
}

// VectorMeta reads the GRIB timing and parameter metadata of the first band
// of a warped single-band component raster.
func (e *Engine) VectorMeta(ctx context.Context, path string) (domain.BandMeta, error) {
	doc, err := e.info(ctx, path)
	if err != nil {
		return domain.BandMeta{}, err
	}
	if len(doc.Bands) == 0 {
		return domain.BandMeta{}, fmt.Errorf("%s: no bands", path)
	}
	if len(doc.Size) != 2 {
		return domain.BandMeta{}, fmt.Errorf("%s: missing raster size", path)
	}

	band := doc.Bands[0]
	refTime, err := strconv.ParseInt(band.grib("GRIB_REF_TIME"), 10, 64)
	if err != nil {
		return domain.BandMeta{}, fmt.Errorf("%s: parse GRIB_REF_TIME: %w", path, err)
	}
	forecastSeconds, err := strconv.ParseInt(band.grib("GRIB_FORECAST_SECONDS"), 10, 64)
	if err != nil {
		return domain.BandMeta{}, fmt.Errorf("%s: parse GRIB_FORECAST_SECONDS: %w", path, err)
	}

	return domain.BandMeta{
		RefTime:         refTime,
		ForecastSeconds: forecastSeconds,
		PDSTemplate:     band.grib("GRIB_PDS_TEMPLATE_NUMBERS"),
		Nx:              doc.Size[0],
		Ny:              doc.Size[1],
	}, nil
}

func (e *Engine) info(ctx context.Context, path string) (infoDoc, error) {
	out, err := e.run(ctx, "gdalinfo", "-json", path)
	if err != nil {
		return infoDoc{}, err
	}
	var doc infoDoc
	if err := json.Unmarshal(out, &doc); err != nil {
		return infoDoc{}, fmt.Errorf("parse gdalinfo output for %s: %w", path, err)
	}
	return doc, nil
}
