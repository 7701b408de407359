// Package domain models GFS (Global Forecast System) forecast artifacts.
//
// # Data Source
//
// Source files are NOAA GFS GRIB2 outputs published to the public
// noaa-gfs-bdp-pds bucket. Each object key encodes the model run and the
// forecast lead time:
//
//	gfs.<YYYYMMDD>/<CC>/atmos/gfs.t<CC>z.pgrb2.<res>.f<FFF>
//
// where YYYYMMDD+CC is the cycle reference time (UTC, CC in {00,06,12,18})
// and FFF is the forecast hour offset. An upstream notifier publishes each
// arriving object key to the Kafka source topic; keys that do not match the
// pattern are classified as non-matching and skipped, never failed.
//
// # GRIB Band Conventions
//
// A GRIB2 file is a stack of bands, one per (variable, vertical layer,
// product template). gdalinfo exposes three metadata fields per band that
// together identify a variable uniquely:
//
//	GRIB_ELEMENT     variable code, e.g. "TMP", "UGRD"
//	GRIB_SHORT_NAME  vertical layer code, e.g. "2-HTGL" (2m above ground)
//	GRIB_PDS_PDTN    product definition template number, e.g. "0"
//
// A [BandSelector] matches on all three. Zero matches means the variable is
// missing from the file; more than one match means the selector is
// underspecified. Both are integrity conditions: a band is never picked
// arbitrarily. See [MatchBand].
//
// # Cycle and Hour Naming
//
// A cycle is one model run, named by its reference time truncated to the
// hour: "2024-06-01T00". A forecast hour's artifacts live under
// <layers>/<cycle>/<forecast> where <forecast> is the valid time in the same
// format. The durable CycleHour key is "<cycle>+<hour>", e.g.
// "2024-06-01T00+6". These names sort lexically in chronological order,
// which the retirement sweep relies on.
//
// # Wind Velocity Documents
//
// The wind vector product is a JSON array of exactly two {header, data}
// objects, U component (UGRD) first then V (VGRD), on a fixed global
// 1°×1° grid (origin lon -180, lat +90). Downstream decoders index the pair
// by position, so the order is part of the contract. See [BuildVectorField].
package domain
