// Package groundtruth loads surveyed point files and exposes them as a set of
// uniquely named points of interest with a static attribute table.
package groundtruth

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"github.com/twpayne/go-geom"
)

// POI is one named ground-truth location in the source's spatial reference.
type POI struct {
	ID    string
	Point *geom.Point
}

func (p POI) X() float64 { return p.Point.X() }
func (p POI) Y() float64 { return p.Point.Y() }

// Feature is a raw record of a point source, before indexing.
type Feature struct {
	Point *geom.Point
	Attrs map[string]string
}

// Options controls which columns carry the identifier and the vegetation type.
type Options struct {
	IDField       string
	PrimaryField  string
	FallbackField string
	Logger        logrus.FieldLogger
}

func DefaultOptions() Options {
	return Options{
		IDField:       "Id_sitesAS",
		PrimaryField:  "typo_veg",
		FallbackField: "MILIEU",
	}
}

func (o Options) logger() logrus.FieldLogger {
	if o.Logger == nil {
		return logrus.StandardLogger()
	}
	return o.Logger
}

// GroundTruth is a deduplicated point set indexed by site identifier.
type GroundTruth struct {
	name    string
	path    string
	srsWKT  string
	pois    []POI
	index   map[string]int
	columns []string
	rows    map[string]map[string]string
}

// Load reads a point source. Shapefiles are read directly, every other
// extension goes through OGR.
func Load(path string, opts Options) (*GroundTruth, error) {
	var (
		src *source
		err error
	)
	if strings.EqualFold(filepath.Ext(path), ".shp") {
		src, err = readShapefile(path, opts.logger())
	} else {
		src, err = readOGR(path, opts.logger())
	}
	if err != nil {
		return nil, err
	}
	gt, err := New(path, src.columns, src.features, opts)
	if err != nil {
		return nil, err
	}
	gt.srsWKT = src.srsWKT
	opts.logger().WithFields(logrus.Fields{
		"path": path,
		"pois": len(gt.pois),
	}).Debug("Loaded ground truth")
	return gt, nil
}

// New indexes features read from path. Duplicate geometries are dropped
// (first occurrence kept), the fallback column fills gaps of the primary
// column and is then removed.
func New(path string, columns []string, features []Feature, opts Options) (*GroundTruth, error) {
	if !contains(columns, opts.IDField) {
		return nil, &MalformedSourceError{Path: path, Reason: fmt.Sprintf("identifier field %q not found", opts.IDField)}
	}
	features, err := DropDuplicateGeometries(features)
	if err != nil {
		return nil, eris.Wrapf(err, "deduplicate %s", path)
	}

	gt := &GroundTruth{
		name:  filepath.Base(path),
		path:  path,
		index: make(map[string]int, len(features)),
		rows:  make(map[string]map[string]string, len(features)),
	}
	for _, c := range columns {
		if c == opts.IDField || c == opts.FallbackField {
			continue
		}
		gt.columns = append(gt.columns, c)
	}
	hasFallback := opts.FallbackField != "" && contains(columns, opts.FallbackField)
	if hasFallback && opts.PrimaryField != "" && !contains(gt.columns, opts.PrimaryField) {
		gt.columns = append(gt.columns, opts.PrimaryField)
	}

	for _, f := range features {
		id := strings.TrimSpace(f.Attrs[opts.IDField])
		if id == "" {
			return nil, &MalformedSourceError{Path: path, Reason: "empty identifier"}
		}
		if _, dup := gt.index[id]; dup {
			return nil, &MalformedSourceError{Path: path, Reason: fmt.Sprintf("identifier %q is not unique", id)}
		}
		row := make(map[string]string, len(gt.columns))
		for _, c := range gt.columns {
			row[c] = f.Attrs[c]
		}
		if hasFallback && opts.PrimaryField != "" {
			row[opts.PrimaryField] = Reconcile(f.Attrs[opts.PrimaryField], f.Attrs[opts.FallbackField])
		}
		gt.index[id] = len(gt.pois)
		gt.pois = append(gt.pois, POI{ID: id, Point: f.Point})
		gt.rows[id] = row
	}
	return gt, nil
}

func (g *GroundTruth) String() string {
	return fmt.Sprintf("Ground truth points %s from %s", g.name, g.path)
}

// POIs returns the points in source order.
func (g *GroundTruth) POIs() []POI {
	out := make([]POI, len(g.pois))
	copy(out, g.pois)
	return out
}

// IDs returns the sorted identifiers.
func (g *GroundTruth) IDs() []string {
	ids := make([]string, 0, len(g.pois))
	for _, p := range g.pois {
		ids = append(ids, p.ID)
	}
	sort.Strings(ids)
	return ids
}

// Coordinates maps each identifier to its (x, y) location.
func (g *GroundTruth) Coordinates() map[string][2]float64 {
	out := make(map[string][2]float64, len(g.pois))
	for _, p := range g.pois {
		out[p.ID] = [2]float64{p.X(), p.Y()}
	}
	return out
}

func (g *GroundTruth) Lookup(id string) (POI, bool) {
	i, ok := g.index[id]
	if !ok {
		return POI{}, false
	}
	return g.pois[i], true
}

// Columns lists the attribute columns, identifier and fallback excluded.
func (g *GroundTruth) Columns() []string {
	out := make([]string, len(g.columns))
	copy(out, g.columns)
	return out
}

// Row returns the attribute row of a POI. Missing values are empty strings.
func (g *GroundTruth) Row(id string) map[string]string {
	row, ok := g.rows[id]
	if !ok {
		return nil
	}
	out := make(map[string]string, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

// SpatialRefWKT is the WKT of the source's spatial reference, empty when
// the source did not declare one.
func (g *GroundTruth) SpatialRefWKT() string { return g.srsWKT }

func (g *GroundTruth) Len() int { return len(g.pois) }

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
