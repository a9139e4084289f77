package poitools

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"s2-datacube/dataset"
	"s2-datacube/groundtruth"
)

// BandTable holds one band's samples: poi -> date -> value.
type BandTable map[string]map[time.Time]float64

// TileCube is one tile over all its acquisition dates, sampled against one
// ground truth.
type TileCube struct {
	Name        string
	Path        string
	GroundTruth *groundtruth.GroundTruth
	slices      map[time.Time]*TileSlice
	log         logrus.FieldLogger
}

// NewTileCube loads the ground truth at gtPath and indexes the slices under root.
func NewTileCube(root, gtPath string, opts Options) (*TileCube, error) {
	gtOpts := opts.GroundTruth
	if gtOpts.Logger == nil {
		gtOpts.Logger = opts.Logger
	}
	gt, err := groundtruth.Load(gtPath, gtOpts)
	if err != nil {
		return nil, err
	}
	return NewTileCubeWith(root, gt, opts)
}

// NewTileCubeWith indexes the slices under root. Every sub-folder whose name
// carries a date is a slice; anything else is skipped with a warning.
func NewTileCubeWith(root string, gt *groundtruth.GroundTruth, opts Options) (*TileCube, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, eris.Wrapf(err, "list tile %s", root)
	}
	c := &TileCube{
		Name:        filepath.Base(root),
		Path:        root,
		GroundTruth: gt,
		slices:      make(map[time.Time]*TileSlice),
	}
	c.log = opts.logger().WithField("tile", c.Name)
	opts.Logger = c.log

	for _, e := range entries {
		if !e.IsDir() {
			c.log.Warnf("Skipping file %s", e.Name())
			continue
		}
		s, err := NewTileSlice(filepath.Join(root, e.Name()), opts)
		if err != nil {
			var malformed *MalformedTileError
			if errors.As(err, &malformed) {
				return nil, err
			}
			c.log.WithError(err).Warnf("Skipping folder %s", e.Name())
			continue
		}
		if prev, dup := c.slices[s.Date]; dup {
			return nil, &MalformedTileError{
				Path:   root,
				Reason: fmt.Sprintf("slices %s and %s share the date %s", prev.Name, s.Name, s.Date.Format("2006-01-02")),
			}
		}
		c.slices[s.Date] = s
	}
	if len(c.slices) == 0 {
		return nil, &MalformedTileError{Path: root, Reason: "no dated slice folder"}
	}
	c.log.Infof("Indexed %d slices", len(c.slices))
	return c, nil
}

func (c *TileCube) String() string {
	return fmt.Sprintf("Tile cube %s: %d dates, %d pois", c.Name, len(c.slices), c.GroundTruth.Len())
}

// Dates returns the acquisition dates in ascending order.
func (c *TileCube) Dates() []time.Time {
	return sortedDates(c.slices)
}

func (c *TileCube) Slice(date time.Time) (*TileSlice, bool) {
	s, ok := c.slices[date]
	return s, ok
}

// SampleAllDates samples every slice over the whole POI set and transposes
// the per-date, band-ordered values into one poi x date table per band.
func (c *TileCube) SampleAllDates() (map[string]BandTable, error) {
	pois := c.GroundTruth.POIs()
	tables := make(map[string]BandTable, len(Bands))
	for _, b := range Bands {
		t := make(BandTable, len(pois))
		for _, p := range pois {
			t[p.ID] = make(map[time.Time]float64, len(c.slices))
		}
		tables[b] = t
	}

	for _, date := range c.Dates() {
		s := c.slices[date]
		values, err := s.Sample(pois)
		if err != nil {
			return nil, err
		}
		for poi, vals := range values {
			for i, b := range Bands {
				tables[b][poi][date] = vals[i]
			}
		}
		c.log.Debugf("Sampled %s", s)
	}
	return tables, nil
}

// Assemble builds the tile's dataset: the POI axis is exactly the ground
// truth's POI set, the time axis the union of the tables' dates, one
// variable per band and one label column per ground-truth attribute.
func (c *TileCube) Assemble(tables map[string]BandTable) (*dataset.Dataset, error) {
	bands := make([]string, 0, len(tables))
	seen := map[time.Time]struct{}{}
	for b, t := range tables {
		bands = append(bands, b)
		for _, byDate := range t {
			for date := range byDate {
				seen[date] = struct{}{}
			}
		}
	}
	sort.Strings(bands)

	d, err := dataset.New(c.GroundTruth.IDs(), sortedDates(seen), bands)
	if err != nil {
		return nil, eris.Wrapf(err, "assemble %s", c.Name)
	}
	for b, t := range tables {
		for poi, byDate := range t {
			if !d.HasPOI(poi) {
				c.log.WithFields(logrus.Fields{"band": b, "poi": poi}).Warn("Sample for a poi unknown to the ground truth, dropped")
				continue
			}
			for date, v := range byDate {
				if err := d.Set(b, poi, date, v); err != nil {
					return nil, eris.Wrapf(err, "assemble %s", c.Name)
				}
			}
		}
	}
	for _, poi := range d.POIs {
		for col, v := range c.GroundTruth.Row(poi) {
			if err := d.SetAttribute(col, poi, v); err != nil {
				return nil, eris.Wrapf(err, "assemble %s", c.Name)
			}
		}
	}
	return d, nil
}

func (c *TileCube) QuickAssemble() (*dataset.Dataset, error) {
	tables, err := c.SampleAllDates()
	if err != nil {
		return nil, err
	}
	return c.Assemble(tables)
}
