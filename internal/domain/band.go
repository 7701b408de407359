package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrBandNotFound reports a selector that matched no band in the source
	// file. The variable is missing; the hour cannot be processed for it.
	ErrBandNotFound = errors.New("band not found")

	// ErrBandAmbiguous reports a selector that matched more than one band.
	// Ambiguity is an integrity condition: a band is never picked arbitrarily.
	ErrBandAmbiguous = errors.New("band selector matched multiple bands")
)

// Band is one entry of a source file's band inventory as reported by the
// raster engine. Index is the 1-based band number used in extraction
// commands.
type Band struct {
	Index      int
	Element    string // GRIB_ELEMENT
	Layer      string // GRIB_SHORT_NAME
	TemplateID string // GRIB_PDS_PDTN
}

// BandSelector declaratively identifies a single variable inside a
// multi-band GRIB file by exact match on element, vertical layer, and
// product definition template.
type BandSelector struct {
	Element    string
	Layer      string
	TemplateID string
}

func (s BandSelector) String() string {
	return fmt.Sprintf("%s/%s/%s", s.Element, s.Layer, s.TemplateID)
}

func (s BandSelector) matches(b Band) bool {
	return s.Element == b.Element && s.Layer == b.Layer && s.TemplateID == b.TemplateID
}

// MatchBand finds the single band matching sel in the inventory and returns
// its 1-based index. Zero matches yields ErrBandNotFound, more than one
// ErrBandAmbiguous; both wrap the selector for context.
func MatchBand(inventory []Band, sel BandSelector) (int, error) {
	index := 0
	for _, b := range inventory {
		if !sel.matches(b) {
			continue
		}
		if index != 0 {
			return 0, fmt.Errorf("%s: %w", sel, ErrBandAmbiguous)
		}
		index = b.Index
	}
	if index == 0 {
		return 0, fmt.Errorf("%s: %w", sel, ErrBandNotFound)
	}
	return index, nil
}

// MatchBands resolves an ordered selector list into an ordered index list,
// failing on the first selector that cannot be resolved to exactly one band.
func MatchBands(inventory []Band, sels []BandSelector) ([]int, error) {
	indices := make([]int, 0, len(sels))
	for _, sel := range sels {
		idx, err := MatchBand(inventory, sel)
		if err != nil {
			return nil, err
		}
		indices = append(indices, idx)
	}
	return indices, nil
}
