package domain

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Wind component selectors, 10m above ground. U (eastward) must always come
// before V (northward) in the output document.
var (
	WindU = BandSelector{Element: "UGRD", Layer: "10-HTGL", TemplateID: "0"}
	WindV = BandSelector{Element: "VGRD", Layer: "10-HTGL", TemplateID: "0"}
)

// BandMeta is the GRIB metadata of a single-band raster, as reported by the
// raster engine for a warped component file.
type BandMeta struct {
	RefTime         int64  // GRIB_REF_TIME, unix seconds UTC
	ForecastSeconds int64  // GRIB_FORECAST_SECONDS
	PDSTemplate     string // GRIB_PDS_TEMPLATE_NUMBERS, space-separated
	Nx              int
	Ny              int
}

// Component pairs a band's metadata with its row-major pixel values.
type Component struct {
	Meta BandMeta
	Data []float64
}

// VectorHeader is the self-describing header of one vector component,
// consumed by grid-decoding clients. The geographic fields are fixed by the
// global 1°×1° grid the components are resampled to.
type VectorHeader struct {
	ScanMode          string  `json:"scanMode"`
	RefTime           string  `json:"refTime"`
	ForecastTime      float64 `json:"forecastTime"`
	ParameterCategory int     `json:"parameterCategory"`
	ParameterNumber   int     `json:"parameterNumber"`
	Nx                int     `json:"nx"`
	Ny                int     `json:"ny"`
	Lo1               float64 `json:"lo1"`
	La1               float64 `json:"la1"`
	Dx                float64 `json:"dx"`
	Dy                float64 `json:"dy"`
}

// VectorComponent is one {header, data} element of the wind velocity
// document.
type VectorComponent struct {
	Header VectorHeader `json:"header"`
	Data   []float64    `json:"data"`
}

// VectorField is the complete wind velocity document: U component first,
// then V. The order is positional contract with downstream decoders.
type VectorField [2]VectorComponent

// BuildVectorField assembles the wind velocity document from the two warped
// component rasters. It fails when a component carries no data or its
// reference-time metadata is absent or unparseable.
func BuildVectorField(u, v Component) (VectorField, error) {
	uc, err := buildComponent(u)
	if err != nil {
		return VectorField{}, fmt.Errorf("u component: %w", err)
	}
	vc, err := buildComponent(v)
	if err != nil {
		return VectorField{}, fmt.Errorf("v component: %w", err)
	}
	return VectorField{uc, vc}, nil
}

func buildComponent(c Component) (VectorComponent, error) {
	if len(c.Data) == 0 {
		return VectorComponent{}, errors.New("no pixel data")
	}
	if c.Meta.Nx <= 0 || c.Meta.Ny <= 0 {
		return VectorComponent{}, fmt.Errorf("invalid grid size %dx%d", c.Meta.Nx, c.Meta.Ny)
	}
	if c.Meta.RefTime == 0 {
		return VectorComponent{}, errors.New("missing reference time")
	}

	category, number, err := parameterNumbers(c.Meta.PDSTemplate)
	if err != nil {
		return VectorComponent{}, err
	}

	data := make([]float64, len(c.Data))
	for i, n := range c.Data {
		data[i] = math.Round(n*100) / 100
	}

	return VectorComponent{
		Header: VectorHeader{
			ScanMode:          "0",
			RefTime:           time.Unix(c.Meta.RefTime, 0).UTC().Format("2006-01-02T15:04:05") + "Z",
			ForecastTime:      float64(c.Meta.ForecastSeconds) / 3600,
			ParameterCategory: category,
			ParameterNumber:   number,
			Nx:                c.Meta.Nx,
			Ny:                c.Meta.Ny,
			Lo1:               -180.0,
			La1:               90.0,
			Dx:                1.0,
			Dy:                1.0,
		},
		Data: data,
	}, nil
}

// parameterNumbers extracts the parameter category and number from the PDS
// template octets: GRIB_PDS_TEMPLATE_NUMBERS leads with parameterCategory
// then parameterNumber, so UGRD reads "2 2 ..." and VGRD "2 3 ...". The
// number is what lets decoders tell the two components apart.
func parameterNumbers(template string) (int, int, error) {
	fields := strings.Fields(template)
	if len(fields) < 2 {
		return 0, 0, fmt.Errorf("short PDS template %q", template)
	}
	category, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, fmt.Errorf("parse parameter category: %w", err)
	}
	number, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, fmt.Errorf("parse parameter number: %w", err)
	}
	return category, number, nil
}
