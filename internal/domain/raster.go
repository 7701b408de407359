package domain

// TranslateOptions selects bands and output encoding for a band extraction.
// Clip cuts the source to the mercator-displayable latitude window and
// widens samples to 32-bit float. Scale, when set, byte-quantizes the output
// over that range.
type TranslateOptions struct {
	Bands []int
	Clip  bool
	Scale *ScaleRange
}

// WarpOptions sets the output grid for a resample. Reproject targets
// web-mercator over the full extent; otherwise the source projection is kept
// and only the resolution changes.
type WarpOptions struct {
	Width     int
	Height    int
	Reproject bool
}
