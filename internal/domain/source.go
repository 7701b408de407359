package domain

import (
	"fmt"
	"regexp"
	"time"
)

// cycleNameLayout names cycles and forecast hours on disk and in CycleHour
// keys: reference time truncated to the hour, e.g. "2024-06-01T06".
const cycleNameLayout = "2006-01-02T15"

// objectKeyRe matches GFS object keys, e.g.
// "gfs.20240601/00/atmos/gfs.t00z.pgrb2.0p25.f006".
var objectKeyRe = regexp.MustCompile(`^gfs\.(\d{8})/(\d{2})/atmos/gfs\.t\d{2}z\.pgrb2\.\d+p\d+\.f(\d{3})$`)

// SourceRef identifies one forecast-hour source artifact: the object key it
// arrived under, the cycle reference time, and the lead time in hours.
type SourceRef struct {
	Key          string
	CycleTime    time.Time
	ForecastHour int
}

// ParseObjectKey parses a GFS object key into a SourceRef. The second return
// value is false when the key does not match the GFS naming pattern or
// encodes an impossible timestamp. That is a classification, not an error,
// so callers can skip unrelated keys.
func ParseObjectKey(key string) (SourceRef, bool) {
	m := objectKeyRe.FindStringSubmatch(key)
	if m == nil {
		return SourceRef{}, false
	}

	cycleTime, err := time.ParseInLocation("2006010215", m[1]+m[2], time.UTC)
	if err != nil {
		return SourceRef{}, false
	}

	var hour int
	if _, err := fmt.Sscanf(m[3], "%d", &hour); err != nil {
		return SourceRef{}, false
	}

	return SourceRef{
		Key:          key,
		CycleTime:    cycleTime,
		ForecastHour: hour,
	}, true
}

// CycleName returns the cycle's on-disk directory name, e.g. "2024-06-01T00".
func (r SourceRef) CycleName() string {
	return r.CycleTime.UTC().Format(cycleNameLayout)
}

// ForecastTime returns the valid time of this forecast hour.
func (r SourceRef) ForecastTime() time.Time {
	return r.CycleTime.Add(time.Duration(r.ForecastHour) * time.Hour)
}

// ForecastName returns the forecast hour's on-disk directory name, the valid
// time in cycle-name format.
func (r SourceRef) ForecastName() string {
	return r.ForecastTime().UTC().Format(cycleNameLayout)
}

// CycleHourKey returns the durable key identifying this (cycle, hour) pair,
// e.g. "2024-06-01T00+6". The same key names the rows appended to the raster
// table, tying spatial data back to its CycleHour.
func (r SourceRef) CycleHourKey() string {
	return fmt.Sprintf("%s+%d", r.CycleName(), r.ForecastHour)
}

// CycleNameRe matches on-disk cycle directory names. The retirement sweep
// uses it to recognize cycle trees left behind by earlier failed cleanups.
var CycleNameRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}$`)

// FormatCycleName renders a cycle reference time as its on-disk directory
// name.
func FormatCycleName(t time.Time) string {
	return t.UTC().Format(cycleNameLayout)
}
