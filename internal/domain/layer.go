package domain

import (
	"fmt"
	"io"
	"math"
)

// ScaleRange is the linear mapping applied upstream of color classification:
// raster values in [Min, Max] are rescaled into the 8-bit index range
// scaled = round((v - Min) / ((Max - Min) / 255)), clamped to [0, 255].
type ScaleRange struct {
	Min float64
	Max float64
}

// ByteValue rescales a value in the layer's native units into the 8-bit
// domain the shaded raster uses.
func (s ScaleRange) ByteValue(v float64) int {
	step := (s.Max - s.Min) / 255
	scaled := math.Round((v - s.Min) / step)
	if scaled < 0 {
		return 0
	}
	if scaled > 255 {
		return 255
	}
	return int(scaled)
}

// RampEntry is one breakpoint of a color ramp: a threshold in the layer's
// native units and the color assigned at it. Alpha is optional.
type RampEntry struct {
	Threshold float64
	R, G, B   uint8
	A         *uint8
}

// ColorRamp is an ordered classification table. The first and last entries
// act as domain bounds; intermediate values are interpolated by the shader.
type ColorRamp []RampEntry

// Layer describes one visualized forecast variable: which band to extract,
// how to rescale it, and how to colorize it.
type Layer struct {
	Name  string
	Band  BandSelector
	Scale ScaleRange
	Ramp  ColorRamp
}

// WriteColorTable writes the layer's ramp as a gdaldem color-relief table,
// one "value r g b [a]" row per entry, with thresholds rescaled into the
// byte domain so they line up with the rescaled raster.
func (l Layer) WriteColorTable(w io.Writer) error {
	for _, e := range l.Ramp {
		row := fmt.Sprintf("%d %d %d %d", l.Scale.ByteValue(e.Threshold), e.R, e.G, e.B)
		if e.A != nil {
			row = fmt.Sprintf("%s %d", row, *e.A)
		}
		if _, err := io.WriteString(w, row+"\n"); err != nil {
			return fmt.Errorf("write color table: %w", err)
		}
	}
	return nil
}

func alpha(a uint8) *uint8 { return &a }

// tmpRamp is the shared temperature ramp (°C), warm colors down to cool.
var tmpRamp = ColorRamp{
	{Threshold: 50, R: 158, G: 1, B: 66},
	{Threshold: 40, R: 213, G: 62, B: 79},
	{Threshold: 35, R: 244, G: 109, B: 67},
	{Threshold: 30, R: 253, G: 174, B: 97},
	{Threshold: 25, R: 254, G: 224, B: 139},
	{Threshold: 20, R: 255, G: 255, B: 191},
	{Threshold: 15, R: 230, G: 245, B: 152},
	{Threshold: 10, R: 171, G: 221, B: 164},
	{Threshold: 5, R: 102, G: 194, B: 165},
	{Threshold: 0, R: 50, G: 136, B: 189},
	{Threshold: -50, R: 94, G: 79, B: 162},
}

// StandardLayers returns the tiled layer set. Ramp thresholds are authored
// in each variable's native units; the scale range rebases them onto the
// rescaled byte raster.
func StandardLayers() []Layer {
	return []Layer{
		{
			Name:  "tmp",
			Band:  BandSelector{Element: "TMP", Layer: "2-HTGL", TemplateID: "0"},
			Scale: ScaleRange{Min: -50, Max: 50},
			Ramp:  tmpRamp,
		},
		{
			Name:  "prate",
			Band:  BandSelector{Element: "PRATE", Layer: "0-SFC", TemplateID: "0"},
			Scale: ScaleRange{Min: 0, Max: 32.0 / 3600},
			Ramp: ColorRamp{
				{Threshold: 32.0 / 3600, R: 158, G: 1, B: 66},
				{Threshold: 16.0 / 3600, R: 213, G: 62, B: 79},
				{Threshold: 8.0 / 3600, R: 244, G: 109, B: 67},
				{Threshold: 4.0 / 3600, R: 253, G: 174, B: 97},
				{Threshold: 2.0 / 3600, R: 171, G: 221, B: 164},
				{Threshold: 1.0 / 3600, R: 102, G: 194, B: 165},
				{Threshold: 0.5 / 3600, R: 50, G: 136, B: 189},
				{Threshold: 0, R: 223, G: 223, B: 223, A: alpha(0)},
			},
		},
		{
			Name:  "pres",
			Band:  BandSelector{Element: "PRMSL", Layer: "0-MSL", TemplateID: "0"},
			Scale: ScaleRange{Min: 98000, Max: 103000},
			Ramp: ColorRamp{
				{Threshold: 103000, R: 140, G: 81, B: 10},
				{Threshold: 102000, R: 216, G: 179, B: 101},
				{Threshold: 101000, R: 245, G: 245, B: 245},
				{Threshold: 100000, R: 90, G: 180, B: 172},
				{Threshold: 98000, R: 1, G: 102, B: 94},
			},
		},
		{
			Name:  "rh",
			Band:  BandSelector{Element: "RH", Layer: "2-HTGL", TemplateID: "0"},
			Scale: ScaleRange{Min: 0, Max: 100},
			Ramp: ColorRamp{
				{Threshold: 100, R: 140, G: 81, B: 10},
				{Threshold: 75, R: 216, G: 179, B: 101},
				{Threshold: 50, R: 245, G: 245, B: 245},
				{Threshold: 25, R: 90, G: 180, B: 172},
				{Threshold: 0, R: 1, G: 102, B: 94},
			},
		},
		{
			Name:  "gust",
			Band:  BandSelector{Element: "GUST", Layer: "0-SFC", TemplateID: "0"},
			Scale: ScaleRange{Min: 0, Max: 40},
			Ramp: ColorRamp{
				{Threshold: 40, R: 189, G: 0, B: 38},
				{Threshold: 30, R: 227, G: 26, B: 28},
				{Threshold: 20, R: 252, G: 78, B: 42},
				{Threshold: 10, R: 253, G: 141, B: 60},
				{Threshold: 5, R: 254, G: 178, B: 76},
				{Threshold: 0, R: 223, G: 223, B: 223},
			},
		},
	}
}

// RasterBands returns the selectors for the bands appended to the spatial
// raster table, in storage order.
func RasterBands() []BandSelector {
	return []BandSelector{
		{Element: "TMP", Layer: "2-HTGL", TemplateID: "0"},
		{Element: "PRATE", Layer: "0-SFC", TemplateID: "0"},
		{Element: "TCDC", Layer: "0-EATM", TemplateID: "0"},
		{Element: "PRMSL", Layer: "0-MSL", TemplateID: "0"},
		{Element: "RH", Layer: "2-HTGL", TemplateID: "0"},
	}
}
