package domain

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
)

const (
	legendWidth  = 120
	legendHeight = 300
	colorBarW    = 20
)

// RenderLegend draws the layer's color ramp as a vertical gradient bar on a
// white background and encodes it as PNG. Entry order is preserved: the
// first ramp entry is the top of the bar.
func RenderLegend(l Layer, w io.Writer) error {
	if len(l.Ramp) < 2 {
		return errors.New("legend needs at least two ramp entries")
	}

	img := image.NewRGBA(image.Rect(0, 0, legendWidth, legendHeight))
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	for y := 0; y < legendHeight; y++ {
		for x := 0; x < legendWidth; x++ {
			img.SetRGBA(x, y, white)
		}
	}

	segments := len(l.Ramp) - 1
	segmentH := float64(legendHeight) / float64(segments)
	for y := 0; y < legendHeight; y++ {
		seg := int(float64(y) / segmentH)
		if seg >= segments {
			seg = segments - 1
		}
		t := (float64(y) - float64(seg)*segmentH) / segmentH
		c := lerpColor(l.Ramp[seg], l.Ramp[seg+1], t)
		for x := 0; x < colorBarW; x++ {
			img.SetRGBA(x, y, c)
		}
	}

	return png.Encode(w, img)
}

func lerpColor(a, b RampEntry, t float64) color.RGBA {
	lerp := func(x, y uint8) uint8 {
		return uint8(float64(x) + (float64(y)-float64(x))*t)
	}
	return color.RGBA{
		R: lerp(a.R, b.R),
		G: lerp(a.G, b.G),
		B: lerp(a.B, b.B),
		A: 255,
	}
}
