// Package dataset holds the labeled (poi, date, band) array assembled from
// sampled tiles, with the static ground-truth attributes of every POI.
package dataset

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rotisserie/eris"
)

// Dataset is a dense poi x date table per band plus one label per POI for
// every attribute. Axes are kept sorted: POIs and bands lexically, dates
// ascending. Missing values are NaN, missing labels are "".
type Dataset struct {
	POIs  []string
	Dates []time.Time
	Bands []string
	// Values[band] is row-major: Values[band][poi*len(Dates)+date].
	Values     map[string][]float64
	Attributes map[string][]string

	poiIndex  map[string]int
	dateIndex map[int64]int
}

// Day normalises a date to midnight UTC, the resolution of the time axis.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// New allocates a dataset with every cell missing. Axes are copied and
// sorted; duplicates are rejected.
func New(pois []string, dates []time.Time, bands []string) (*Dataset, error) {
	d := &Dataset{
		POIs:       append([]string(nil), pois...),
		Dates:      make([]time.Time, len(dates)),
		Bands:      append([]string(nil), bands...),
		Values:     make(map[string][]float64, len(bands)),
		Attributes: make(map[string][]string),
	}
	for i, t := range dates {
		d.Dates[i] = Day(t)
	}
	sort.Strings(d.POIs)
	sort.Strings(d.Bands)
	sort.Slice(d.Dates, func(i, j int) bool { return d.Dates[i].Before(d.Dates[j]) })

	if dup := firstDuplicate(d.POIs); dup != "" {
		return nil, eris.Errorf("duplicate poi %q", dup)
	}
	if dup := firstDuplicate(d.Bands); dup != "" {
		return nil, eris.Errorf("duplicate band %q", dup)
	}
	for i := 1; i < len(d.Dates); i++ {
		if d.Dates[i].Equal(d.Dates[i-1]) {
			return nil, eris.Errorf("duplicate date %s", d.Dates[i].Format("2006-01-02"))
		}
	}

	for _, b := range d.Bands {
		d.Values[b] = missing(len(d.POIs) * len(d.Dates))
	}
	d.reindex()
	return d, nil
}

func firstDuplicate(sorted []string) string {
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			return sorted[i]
		}
	}
	return ""
}

func missing(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = math.NaN()
	}
	return v
}

func (d *Dataset) reindex() {
	d.poiIndex = make(map[string]int, len(d.POIs))
	for i, p := range d.POIs {
		d.poiIndex[p] = i
	}
	d.dateIndex = make(map[int64]int, len(d.Dates))
	for i, t := range d.Dates {
		d.dateIndex[t.Unix()] = i
	}
}

func (d *Dataset) String() string {
	return fmt.Sprintf("Dataset of %d pois, %d dates, %d bands, %d attributes",
		len(d.POIs), len(d.Dates), len(d.Bands), len(d.Attributes))
}

func (d *Dataset) cell(poi string, date time.Time) (int, bool) {
	i, ok := d.poiIndex[poi]
	if !ok {
		return 0, false
	}
	j, ok := d.dateIndex[Day(date).Unix()]
	if !ok {
		return 0, false
	}
	return i*len(d.Dates) + j, true
}

// HasPOI reports whether poi is on the POI axis.
func (d *Dataset) HasPOI(poi string) bool {
	_, ok := d.poiIndex[poi]
	return ok
}

// Set stores one sample. The poi, date and band must be on the axes.
func (d *Dataset) Set(band, poi string, date time.Time, v float64) error {
	vals, ok := d.Values[band]
	if !ok {
		return eris.Errorf("unknown band %q", band)
	}
	k, ok := d.cell(poi, date)
	if !ok {
		return eris.Errorf("no cell for poi %q on %s", poi, date.Format("2006-01-02"))
	}
	vals[k] = v
	return nil
}

// At returns a sample and whether it is present (on the axes and not NaN).
func (d *Dataset) At(band, poi string, date time.Time) (float64, bool) {
	vals, ok := d.Values[band]
	if !ok {
		return math.NaN(), false
	}
	k, ok := d.cell(poi, date)
	if !ok {
		return math.NaN(), false
	}
	return vals[k], !math.IsNaN(vals[k])
}

// SetAttribute labels a POI. The attribute column is created on first use.
func (d *Dataset) SetAttribute(name, poi, value string) error {
	i, ok := d.poiIndex[poi]
	if !ok {
		return eris.Errorf("unknown poi %q", poi)
	}
	col, ok := d.Attributes[name]
	if !ok {
		col = make([]string, len(d.POIs))
		d.Attributes[name] = col
	}
	col[i] = value
	return nil
}

// Attribute returns the label of a POI, "" when missing.
func (d *Dataset) Attribute(name, poi string) string {
	i, ok := d.poiIndex[poi]
	if !ok {
		return ""
	}
	col, ok := d.Attributes[name]
	if !ok {
		return ""
	}
	return col[i]
}

// AttributeNames returns the attribute columns in lexical order.
func (d *Dataset) AttributeNames() []string {
	names := make([]string, 0, len(d.Attributes))
	for n := range d.Attributes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate checks that the exported fields are consistent with the axes and
// rebuilds the lookup indexes. Call it after filling a Dataset by hand.
func (d *Dataset) Validate() error {
	if !sort.StringsAreSorted(d.POIs) || firstDuplicate(d.POIs) != "" {
		return eris.New("poi axis must be sorted and unique")
	}
	if !sort.StringsAreSorted(d.Bands) || firstDuplicate(d.Bands) != "" {
		return eris.New("band axis must be sorted and unique")
	}
	for i := 1; i < len(d.Dates); i++ {
		if !d.Dates[i-1].Before(d.Dates[i]) {
			return eris.New("time axis must be ascending and unique")
		}
	}
	if len(d.Values) != len(d.Bands) {
		return eris.Errorf("%d band variables for %d bands", len(d.Values), len(d.Bands))
	}
	n := len(d.POIs) * len(d.Dates)
	for _, b := range d.Bands {
		vals, ok := d.Values[b]
		if !ok {
			return eris.Errorf("band %q has no values", b)
		}
		if len(vals) != n {
			return eris.Errorf("band %q has %d values, want %d", b, len(vals), n)
		}
	}
	for name, col := range d.Attributes {
		if len(col) != len(d.POIs) {
			return eris.Errorf("attribute %q has %d labels, want %d", name, len(col), len(d.POIs))
		}
	}
	d.reindex()
	return nil
}
