package groundtruth

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/s2"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"s2-datacube/internal/fixtures"
)

var fields = []string{"Id_sitesAS", "typo_veg", "MILIEU", "massif"}

func feature(x, y float64, attrs ...string) Feature {
	m := map[string]string{}
	for i, v := range attrs {
		m[fields[i]] = v
	}
	return Feature{Point: geom.NewPointFlat(geom.XY, []float64{x, y}), Attrs: m}
}

func TestReconcile(t *testing.T) {
	cases := []struct {
		primary, fallback, want string
	}{
		{"pelouse", "lande", "pelouse"},
		{"", "lande", "lande"},
		{"  ", "lande", "lande"},
		{"", "", ""},
		{"pelouse", "", "pelouse"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Reconcile(c.primary, c.fallback), "Reconcile(%q, %q)", c.primary, c.fallback)
	}
}

func TestDropDuplicateGeometriesIdempotent(t *testing.T) {
	in := []Feature{
		feature(1, 1, "a"),
		feature(2, 2, "b"),
		feature(1, 1, "c"),
		feature(3, 3, "d"),
		feature(2, 2, "e"),
	}
	once, err := DropDuplicateGeometries(in)
	require.NoError(t, err)
	require.Len(t, once, 3)
	assert.Equal(t, "a", once[0].Attrs["Id_sitesAS"])
	assert.Equal(t, "b", once[1].Attrs["Id_sitesAS"])
	assert.Equal(t, "d", once[2].Attrs["Id_sitesAS"])

	twice, err := DropDuplicateGeometries(once)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestNewFillsPrimaryAndDropsFallback(t *testing.T) {
	gt, err := New("gt.shp", fields, []Feature{
		feature(1, 1, "s1", "pelouse", "lande", "Vercors"),
		feature(2, 2, "s2", "", "forêt", "Chartreuse"),
		feature(1, 1, "s3", "dup", "dup", "dup"),
	}, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, []string{"s1", "s2"}, gt.IDs())
	assert.Equal(t, []string{"typo_veg", "massif"}, gt.Columns())
	assert.Equal(t, map[string]string{"typo_veg": "pelouse", "massif": "Vercors"}, gt.Row("s1"))
	assert.Equal(t, map[string]string{"typo_veg": "forêt", "massif": "Chartreuse"}, gt.Row("s2"))
	assert.Nil(t, gt.Row("s3"))

	coords := gt.Coordinates()
	assert.Equal(t, [2]float64{2, 2}, coords["s2"])
}

func TestNewMalformed(t *testing.T) {
	t.Run("missing identifier field", func(t *testing.T) {
		_, err := New("gt.shp", []string{"typo_veg"}, nil, DefaultOptions())
		var mErr *MalformedSourceError
		require.True(t, errors.As(err, &mErr))
		assert.Equal(t, "gt.shp", mErr.Path)
	})
	t.Run("duplicate identifier", func(t *testing.T) {
		_, err := New("gt.shp", fields, []Feature{
			feature(1, 1, "s1"),
			feature(2, 2, "s1"),
		}, DefaultOptions())
		var mErr *MalformedSourceError
		require.True(t, errors.As(err, &mErr))
	})
	t.Run("empty identifier", func(t *testing.T) {
		_, err := New("gt.shp", fields, []Feature{feature(1, 1, "")}, DefaultOptions())
		var mErr *MalformedSourceError
		require.True(t, errors.As(err, &mErr))
	})
}

func TestLoadShapefile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "TFE_T31TGL.shp")
	fixtures.WriteShapefile(t, path, fields, []fixtures.Point{
		{X: 5.5, Y: 45.1, Attrs: []string{"s1", "", "lande", "Vercors"}},
		{X: 5.6, Y: 45.2, Attrs: []string{"s2", "pelouse", "", "Vercors"}},
		{X: 5.5, Y: 45.1, Attrs: []string{"s3", "x", "y", "z"}},
	}, fixtures.WGS84WKT(t))

	gt, err := Load(path, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 2, gt.Len())
	assert.Equal(t, "lande", gt.Row("s1")["typo_veg"])
	assert.NotEmpty(t, gt.SpatialRefWKT())

	p, ok := gt.Lookup("s2")
	require.True(t, ok)
	assert.InDelta(t, 5.6, p.X(), 1e-9)
	assert.InDelta(t, 45.2, p.Y(), 1e-9)

	cells, err := gt.S2Cells(13)
	require.NoError(t, err)
	want := s2.CellIDFromLatLng(s2.LatLngFromDegrees(45.2, 5.6)).Parent(13)
	assert.Equal(t, want, cells["s2"])
}

func TestLoadGeoJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "TFE_T31TGM.geojson")
	fixtures.WriteGeoJSON(t, path, fields, []fixtures.Point{
		{X: 900100, Y: 6450100, Attrs: []string{"a1", "", "éboulis", "Belledonne"}},
		{X: 900200, Y: 6450200, Attrs: []string{"a2", "pelouse", "", "Belledonne"}},
	})

	gt, err := Load(path, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2"}, gt.IDs())
	assert.Equal(t, "éboulis", gt.Row("a1")["typo_veg"])
	assert.NotContains(t, gt.Columns(), "MILIEU")
	assert.Contains(t, gt.Columns(), "massif")
}

func TestS2CellsWithoutSpatialRef(t *testing.T) {
	gt, err := New("gt.shp", fields, []Feature{feature(1, 1, "s1")}, DefaultOptions())
	require.NoError(t, err)
	_, err = gt.S2Cells(10)
	var mErr *MalformedSourceError
	assert.True(t, errors.As(err, &mErr))
}

func warnings(hook *test.Hook) int {
	var n int
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			n++
		}
	}
	return n
}

func TestLoadGeoJSONSkipsNullGeometry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "TFE_T31TGM.geojson")
	fixtures.WriteGeoJSON(t, path, fields, []fixtures.Point{
		{X: 900100, Y: 6450100, Attrs: []string{"a1", "pelouse", "", "Belledonne"}},
		{Attrs: []string{"a2", "lande", "", "Belledonne"}, NoGeometry: true},
		{X: 900300, Y: 6450300, Attrs: []string{"a3", "", "forêt", "Belledonne"}},
	})
	logger, hook := test.NewNullLogger()
	opts := DefaultOptions()
	opts.Logger = logger

	gt, err := Load(path, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a3"}, gt.IDs())
	_, ok := gt.Lookup("a2")
	assert.False(t, ok)
	assert.Equal(t, 1, warnings(hook))
}

func str(s string) *string { return &s }

func TestConvertPolygons(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "polygons.geojson")
	fixtures.WritePolygonGeoJSON(t, src, []fixtures.Polygon{
		{
			Ring:  [][2]float64{{0, 0}, {30, 0}, {30, 20}, {0, 20}},
			Props: map[string]*string{"id_polygon": str("p1"), "typo_AS": str("pelouse")},
		},
		{
			Ring:  [][2]float64{{100, 100}, {130, 100}, {130, 120}, {100, 120}},
			Props: map[string]*string{"id_polygon": nil, "typo_AS": str("lande")},
		},
	})
	logger, hook := test.NewNullLogger()
	opts := DefaultPolygonOptions()
	opts.Logger = logger

	dst := PointsPath(filepath.Join(dir, "points"), src)
	assert.Equal(t, filepath.Join(dir, "points", "point_from_polygons.geojson.json"), dst)
	n, err := ConvertPolygons(src, dst, opts)
	require.NoError(t, err)
	// Grid of 3x2 points from (0, 0); only (10, 10) and (20, 10) are inside.
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, warnings(hook))

	gt, err := Load(dst, Options{IDField: "Id_sitesAS", PrimaryField: "TYPO_VEGET", Logger: logger})
	require.NoError(t, err)
	assert.Equal(t, []string{"p1_4", "p1_5"}, gt.IDs())
	assert.Equal(t, "pelouse", gt.Row("p1_4")["TYPO_VEGET"])
	coords := gt.Coordinates()
	assert.Equal(t, [2]float64{10, 10}, coords["p1_4"])
	assert.Equal(t, [2]float64{20, 10}, coords["p1_5"])

	// Converting again replaces the output.
	n, err = ConvertPolygons(src, dst, opts)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestConvertPolygonsRejects(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "polygons.geojson")
	fixtures.WritePolygonGeoJSON(t, src, []fixtures.Polygon{{
		Ring:  [][2]float64{{0, 0}, {30, 0}, {30, 20}},
		Props: map[string]*string{"name": str("p1")},
	}})
	logger, _ := test.NewNullLogger()
	opts := DefaultPolygonOptions()
	opts.Logger = logger

	_, err := ConvertPolygons(src, filepath.Join(dir, "out.json"), opts)
	var mErr *MalformedSourceError
	assert.True(t, errors.As(err, &mErr))

	opts.Resolution = 0
	_, err = ConvertPolygons(src, filepath.Join(dir, "out.json"), opts)
	assert.Error(t, err)
}

func TestPolygonFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.shp", "b.dbf", "a.SHP", "a.shp.xml"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	files, err := PolygonFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.SHP"), filepath.Join(dir, "b.shp")}, files)
}
