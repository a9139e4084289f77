package groundtruth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/airbusgeo/godal"
	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"github.com/twpayne/go-geom"
)

var registerOnce sync.Once

func registerDrivers() {
	registerOnce.Do(godal.RegisterAll)
}

type source struct {
	columns  []string
	features []Feature
	srsWKT   string
}

func readShapefile(path string, log logrus.FieldLogger) (*source, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	src := &source{columns: make([]string, len(fields))}
	for i, f := range fields {
		src.columns[i] = strings.TrimRight(f.String(), "\x00")
	}

	var skipped int
	for reader.Next() {
		n, shape := reader.Shape()
		var pt *geom.Point
		switch s := shape.(type) {
		case *shp.Point:
			pt = geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
		case *shp.PointZ:
			pt = geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
		case *shp.PointM:
			pt = geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
		case nil, *shp.Null:
			skipped++
			continue
		default:
			return nil, &MalformedSourceError{Path: path, Reason: fmt.Sprintf("record %d is a %T, not a point", n, shape)}
		}
		attrs := make(map[string]string, len(fields))
		for i, name := range src.columns {
			attrs[name] = strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
		}
		src.features = append(src.features, Feature{Point: pt, Attrs: attrs})
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(err, "read shapefile %s", path)
	}
	if skipped > 0 {
		log.WithField("path", path).Warnf("Skipped %d records without geometry", skipped)
	}

	prj := strings.TrimSuffix(path, filepath.Ext(path)) + ".prj"
	if b, err := os.ReadFile(prj); err == nil {
		src.srsWKT = strings.TrimSpace(string(b))
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, eris.Wrapf(err, "read %s", prj)
	}
	return src, nil
}

func readOGR(path string, log logrus.FieldLogger) (src *source, err error) {
	registerDrivers()
	ds, err := godal.Open(path, godal.VectorOnly())
	if err != nil {
		return nil, eris.Wrapf(err, "open vector source %s", path)
	}
	defer func() {
		err = errors.Join(err, ds.Close())
	}()

	layers := ds.Layers()
	if len(layers) == 0 {
		return nil, &MalformedSourceError{Path: path, Reason: "no layer"}
	}
	layer := layers[0]

	src = &source{}
	if sr := layer.SpatialRef(); sr != nil {
		if wkt, werr := sr.WKT(); werr == nil {
			src.srsWKT = wkt
		}
	}

	columns := map[string]struct{}{}
	var skipped int
	for {
		feat := layer.NextFeature()
		if feat == nil {
			break
		}
		pt, perr := featurePoint(feat)
		if perr != nil {
			feat.Close()
			return nil, &MalformedSourceError{Path: path, Reason: perr.Error()}
		}
		if pt == nil {
			skipped++
			feat.Close()
			continue
		}
		attrs := map[string]string{}
		for name, fld := range feat.Fields() {
			columns[name] = struct{}{}
			attrs[name] = strings.TrimSpace(fld.String())
		}
		feat.Close()
		src.features = append(src.features, Feature{Point: pt, Attrs: attrs})
	}
	if skipped > 0 {
		log.WithField("path", path).Warnf("Skipped %d features without geometry", skipped)
	}

	for name := range columns {
		src.columns = append(src.columns, name)
	}
	sort.Strings(src.columns)
	return src, nil
}

// featurePoint returns nil without error for features that carry no geometry.
// Geometry never returns nil: a feature without geometry yields a handle
// to nothing, which GDAL reports as empty.
func featurePoint(feat *godal.Feature) (*geom.Point, error) {
	g := feat.Geometry()
	defer g.Close()
	if g.Empty() {
		return nil, nil
	}
	b, err := g.Bounds()
	if err != nil {
		return nil, eris.Wrap(err, "feature bounds")
	}
	if b[0] != b[2] || b[1] != b[3] {
		return nil, eris.New("feature geometry is not a point")
	}
	return geom.NewPointFlat(geom.XY, []float64{b[0], b[1]}), nil
}
