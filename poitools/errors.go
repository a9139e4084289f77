package poitools

import (
	"fmt"
	"time"
)

// OutOfBoundsError reports a POI whose pixel falls outside a band raster.
// Sampling records a missing value for it instead of failing.
type OutOfBoundsError struct {
	POI           string
	Band          string
	Date          time.Time
	X, Y          float64
	Row, Col      int
	Width, Height int
}

func (e *OutOfBoundsError) Error() string {
	msg := fmt.Sprintf("poi %s at (%v, %v) maps to pixel (row %d, col %d) outside the %dx%d raster of band %s",
		e.POI, e.X, e.Y, e.Row, e.Col, e.Width, e.Height, e.Band)
	if !e.Date.IsZero() {
		msg += " on " + e.Date.Format("2006-01-02")
	}
	return msg
}

// MalformedTileError reports a tile or slice folder that cannot be indexed:
// no dates, two slices on the same date, a band present twice, or a raster
// without a usable geotransform.
type MalformedTileError struct {
	Path   string
	Reason string
}

func (e *MalformedTileError) Error() string {
	return fmt.Sprintf("malformed tile input %s: %s", e.Path, e.Reason)
}
