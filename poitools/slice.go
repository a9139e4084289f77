package poitools

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"s2-datacube/groundtruth"
)

// Options configures how tile folders are read and sampled.
type Options struct {
	// DateOffset and DateLayout locate the acquisition date in a slice
	// folder name: name[DateOffset:DateOffset+len(DateLayout)].
	DateOffset  int
	DateLayout  string
	Window      int
	Agg         AggFunc
	GroundTruth groundtruth.Options
	Logger      logrus.FieldLogger
}

func DefaultOptions() Options {
	return Options{
		DateOffset:  4,
		DateLayout:  "20060102",
		Window:      1,
		Agg:         Mean,
		GroundTruth: groundtruth.DefaultOptions(),
	}
}

func (o Options) logger() logrus.FieldLogger {
	if o.Logger == nil {
		return logrus.StandardLogger()
	}
	return o.Logger
}

func (o Options) validate() error {
	if o.DateOffset < 0 || o.DateLayout == "" {
		return eris.Errorf("invalid slice date location: offset %d, layout %q", o.DateOffset, o.DateLayout)
	}
	if o.Window > 1 && o.Window%2 == 0 {
		return eris.Errorf("sampling window must be odd, got %d", o.Window)
	}
	return nil
}

// ParseSliceDate reads the acquisition date encoded in a slice folder name.
func ParseSliceDate(name string, offset int, layout string) (time.Time, error) {
	end := offset + len(layout)
	if offset < 0 || end > len(name) {
		return time.Time{}, eris.Errorf("folder name %q too short for a date at offset %d", name, offset)
	}
	date, err := time.Parse(layout, name[offset:end])
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "parse date of %q", name)
	}
	return date.UTC(), nil
}

// TileSlice is one acquisition date of a tile: one Layer per roster band.
type TileSlice struct {
	Name   string
	Path   string
	Date   time.Time
	layers map[string]*Layer
	log    logrus.FieldLogger
}

// NewTileSlice indexes the band files of a slice folder by their band code.
// Files that are not roster bands (masks, sidecars) are ignored.
func NewTileSlice(path string, opts Options) (*TileSlice, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	name := filepath.Base(path)
	date, err := ParseSliceDate(name, opts.DateOffset, opts.DateLayout)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, eris.Wrapf(err, "list slice %s", path)
	}

	s := &TileSlice{
		Name:   name,
		Path:   path,
		Date:   date,
		layers: make(map[string]*Layer, len(Bands)),
	}
	s.log = opts.logger().WithFields(logrus.Fields{"slice": name, "date": date.Format("2006-01-02")})

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		code, ok := ParseBandCode(e.Name())
		if !ok || BandIndex(code) < 0 {
			s.log.Debugf("Ignoring %s", e.Name())
			continue
		}
		if prev, dup := s.layers[code]; dup {
			return nil, &MalformedTileError{
				Path:   path,
				Reason: fmt.Sprintf("band %s found in both %s and %s", code, filepath.Base(prev.Path), e.Name()),
			}
		}
		l := NewLayer(filepath.Join(path, e.Name()), code)
		l.Window, l.Agg = opts.Window, opts.Agg
		s.layers[code] = l
	}
	for _, b := range Bands {
		if _, ok := s.layers[b]; !ok {
			s.log.WithField("band", b).Warn("Band missing from slice, its values will be missing")
		}
	}
	return s, nil
}

func (s *TileSlice) String() string {
	return fmt.Sprintf("Tile %s on %s", s.Name, s.Date.Format("2006-01-02"))
}

// Layers returns the slice's layers in roster order.
func (s *TileSlice) Layers() []*Layer {
	out := make([]*Layer, 0, len(s.layers))
	for _, b := range Bands {
		if l, ok := s.layers[b]; ok {
			out = append(out, l)
		}
	}
	return out
}

// Sample returns, for every POI, one value per roster band in roster order.
// Missing bands and out-of-extent POIs yield NaN; the latter are logged.
func (s *TileSlice) Sample(pois []groundtruth.POI) (map[string][]float64, error) {
	out := make(map[string][]float64, len(pois))
	for _, p := range pois {
		vals := make([]float64, len(Bands))
		for i := range vals {
			vals[i] = math.NaN()
		}
		out[p.ID] = vals
	}

	var missed []*OutOfBoundsError
	for i, b := range Bands {
		l, ok := s.layers[b]
		if !ok {
			continue
		}
		values, oob, err := l.Sample(pois)
		if err != nil {
			return nil, eris.Wrapf(err, "sample %s", s)
		}
		for id, v := range values {
			out[id][i] = v
		}
		missed = append(missed, oob...)
	}

	for _, m := range missed {
		m.Date = s.Date
		s.log.WithFields(logrus.Fields{"band": m.Band, "poi": m.POI}).Warn(m.Error())
	}
	return out, nil
}

// sortedDates returns the keys of a date-keyed map in ascending order.
func sortedDates[V any](m map[time.Time]V) []time.Time {
	keys := make([]time.Time, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].Before(keys[j])
	})
	return keys
}
