package groundtruth

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/airbusgeo/godal"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
)

// PolygonOptions controls the conversion of a polygon survey into points.
type PolygonOptions struct {
	// IDField and TypeField are read from the polygons.
	IDField   string
	TypeField string
	// PointIDField and PointTypeField are written on the points.
	PointIDField   string
	PointTypeField string
	// Resolution is the spacing of the point grid, in layer units.
	Resolution float64
	Logger     logrus.FieldLogger
}

func DefaultPolygonOptions() PolygonOptions {
	return PolygonOptions{
		IDField:        "id_polygon",
		TypeField:      "typo_AS",
		PointIDField:   "Id_sitesAS",
		PointTypeField: "TYPO_VEGET",
		Resolution:     10,
	}
}

func (o PolygonOptions) logger() logrus.FieldLogger {
	if o.Logger == nil {
		return logrus.StandardLogger()
	}
	return o.Logger
}

// PointsPath is where the points converted from the polygon file src are
// written under dir.
func PointsPath(dir, src string) string {
	return filepath.Join(dir, "point_from_"+filepath.Base(src)+".json")
}

// PolygonFiles lists the shapefiles of a folder of polygon surveys, sorted.
func PolygonFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "list polygon folder %s", dir)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".shp") {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// ConvertPolygons fills every polygon of src with a regular grid of points
// and writes the points inside it as GeoJSON to dst. The grid starts at the
// polygon's lower-left bound; point i of the grid, counted row by row from
// the bottom, is named <polygon id>_<i> and carries the polygon's type.
// Polygons without an identifier are skipped with a warning. It returns the
// number of points written.
func ConvertPolygons(src, dst string, opts PolygonOptions) (n int, err error) {
	if opts.Resolution <= 0 {
		return 0, eris.Errorf("grid resolution must be positive, got %v", opts.Resolution)
	}
	log := opts.logger().WithField("path", src)
	registerDrivers()

	in, err := godal.Open(src, godal.VectorOnly())
	if err != nil {
		return 0, eris.Wrapf(err, "open polygon source %s", src)
	}
	defer func() {
		err = errors.Join(err, in.Close())
	}()
	layers := in.Layers()
	if len(layers) == 0 {
		return 0, &MalformedSourceError{Path: src, Reason: "no layer"}
	}
	polygons := layers[0]
	sr := polygons.SpatialRef()

	mem, err := godal.CreateVector(godal.Memory, "")
	if err != nil {
		return 0, eris.Wrap(err, "create point layer")
	}
	defer func() {
		err = errors.Join(err, mem.Close())
	}()
	points, err := mem.CreateLayer("points", sr, godal.GTPoint,
		godal.NewFieldDefinition(opts.PointIDField, godal.FTString),
		godal.NewFieldDefinition(opts.PointTypeField, godal.FTString))
	if err != nil {
		return 0, eris.Wrap(err, "create point layer")
	}

	var skipped int
	for {
		feat := polygons.NextFeature()
		if feat == nil {
			break
		}
		fields := feat.Fields()
		idFld, ok := fields[opts.IDField]
		if !ok {
			feat.Close()
			return 0, &MalformedSourceError{Path: src, Reason: "identifier field " + strconv.Quote(opts.IDField) + " not found"}
		}
		id := strings.TrimSpace(idFld.String())
		var typ string
		if fld, ok := fields[opts.TypeField]; ok {
			typ = fld.String()
		}
		if id == "" {
			skipped++
			feat.Close()
			continue
		}
		poly := feat.Geometry()
		written, werr := fillPolygon(points, poly, sr, id, typ, opts)
		poly.Close()
		feat.Close()
		if werr != nil {
			return n, eris.Wrapf(werr, "polygon %s of %s", id, src)
		}
		n += written
	}
	if skipped > 0 {
		log.Warnf("Skipped %d polygons without identifier", skipped)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return n, eris.Wrap(err, "create output folder")
	}
	if err := os.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
		return n, eris.Wrapf(err, "replace %s", dst)
	}
	out, err := mem.VectorTranslate(dst, []string{"-f", "GeoJSON"})
	if err != nil {
		return n, eris.Wrapf(err, "write %s", dst)
	}
	if err := out.Close(); err != nil {
		return n, eris.Wrapf(err, "close %s", dst)
	}
	log.WithField("points", n).Info("Converted polygons to points")
	return n, nil
}

func fillPolygon(points godal.Layer, poly *godal.Geometry, sr *godal.SpatialRef, id, typ string, opts PolygonOptions) (int, error) {
	if poly.Empty() {
		return 0, nil
	}
	b, err := poly.Bounds()
	if err != nil {
		return 0, eris.Wrap(err, "polygon bounds")
	}
	nx := gridSteps(b[0], b[2], opts.Resolution)
	ny := gridSteps(b[1], b[3], opts.Resolution)

	var n int
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			x := b[0] + float64(i)*opts.Resolution
			y := b[1] + float64(j)*opts.Resolution
			pt, err := godal.NewGeometryFromWKT(pointWKT(x, y), sr)
			if err != nil {
				return n, eris.Wrap(err, "grid point")
			}
			if poly.Contains(pt) {
				err = addPoint(points, pt, id+"_"+strconv.Itoa(j*nx+i), typ, opts)
				n++
			}
			pt.Close()
			if err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

// gridSteps counts the grid positions lo, lo+res, ... strictly below hi.
func gridSteps(lo, hi, res float64) int {
	if hi <= lo {
		return 0
	}
	return int(math.Ceil((hi - lo) / res))
}

func addPoint(points godal.Layer, pt *godal.Geometry, name, typ string, opts PolygonOptions) error {
	feat, err := points.NewFeature(pt)
	if err != nil {
		return eris.Wrapf(err, "create point %s", name)
	}
	defer feat.Close()
	fields := feat.Fields()
	if err := feat.SetFieldValue(fields[opts.PointIDField], name); err != nil {
		return eris.Wrapf(err, "set identifier of %s", name)
	}
	if err := feat.SetFieldValue(fields[opts.PointTypeField], typ); err != nil {
		return eris.Wrapf(err, "set type of %s", name)
	}
	return eris.Wrapf(points.UpdateFeature(feat), "store point %s", name)
}
