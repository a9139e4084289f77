// Package fixtures writes small rasters and point files for tests.
package fixtures

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/airbusgeo/godal"
	"github.com/jonas-p/go-shp"
)

// Raster describes a single-band float64 GeoTIFF.
type Raster struct {
	OriginX, OriginY float64
	PixelSize        float64
	Width, Height    int
	Data             []float64
	NoData           *float64
}

// WriteGeoTIFF writes r to path, creating parent folders.
func WriteGeoTIFF(t testing.TB, path string, r Raster) {
	t.Helper()
	godal.RegisterAll()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	ds, err := godal.Create(godal.GTiff, path, 1, godal.Float64, r.Width, r.Height)
	if err != nil {
		t.Fatal(err)
	}
	if err := ds.SetGeoTransform([6]float64{r.OriginX, r.PixelSize, 0, r.OriginY, 0, -r.PixelSize}); err != nil {
		t.Fatal(err)
	}
	band := ds.Bands()[0]
	if r.NoData != nil {
		if err := band.SetNoData(*r.NoData); err != nil {
			t.Fatal(err)
		}
	}
	if err := band.Write(0, 0, r.Data, r.Width, r.Height); err != nil {
		t.Fatal(err)
	}
	if err := ds.Close(); err != nil {
		t.Fatal(err)
	}
}

// Fill returns a w*h grid where every pixel holds base + row*w + col.
func Fill(w, h int, base float64) []float64 {
	out := make([]float64, w*h)
	for i := range out {
		out[i] = base + float64(i)
	}
	return out
}

// Point is a point record. NoGeometry writes a null geometry in GeoJSON and
// is ignored by shapefiles.
type Point struct {
	X, Y       float64
	Attrs      []string
	NoGeometry bool
}

// WriteShapefile writes a point shapefile with string fields. When prjWKT is
// not empty a .prj sidecar is written too.
func WriteShapefile(t testing.TB, path string, fields []string, points []Point, prjWKT string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	w, err := shp.Create(path, shp.POINT)
	if err != nil {
		t.Fatal(err)
	}
	defs := make([]shp.Field, len(fields))
	for i, f := range fields {
		defs[i] = shp.StringField(f, 32)
	}
	if err := w.SetFields(defs); err != nil {
		t.Fatal(err)
	}
	for _, p := range points {
		n := w.Write(&shp.Point{X: p.X, Y: p.Y})
		for i, v := range p.Attrs {
			if err := w.WriteAttribute(int(n), i, v); err != nil {
				t.Fatal(err)
			}
		}
	}
	w.Close()

	if prjWKT != "" {
		prj := strings.TrimSuffix(path, filepath.Ext(path)) + ".prj"
		if err := os.WriteFile(prj, []byte(prjWKT), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

// WGS84WKT returns the WKT of EPSG:4326.
func WGS84WKT(t testing.TB) string {
	t.Helper()
	godal.RegisterAll()
	sr, err := godal.NewSpatialRefFromEPSG(4326)
	if err != nil {
		t.Fatal(err)
	}
	defer sr.Close()
	wkt, err := sr.WKT()
	if err != nil {
		t.Fatal(err)
	}
	return wkt
}

// WriteGeoJSON writes a point FeatureCollection with string properties.
func WriteGeoJSON(t testing.TB, path string, fields []string, points []Point) {
	t.Helper()
	var feats []string
	for _, p := range points {
		props := make([]string, len(fields))
		for i, f := range fields {
			props[i] = fmt.Sprintf("%q: %q", f, p.Attrs[i])
		}
		geometry := fmt.Sprintf(`{"type": "Point", "coordinates": [%v, %v]}`, p.X, p.Y)
		if p.NoGeometry {
			geometry = "null"
		}
		feats = append(feats, fmt.Sprintf(
			`{"type": "Feature", "properties": {%s}, "geometry": %s}`,
			strings.Join(props, ", "), geometry))
	}
	writeCollection(t, path, feats)
}

// Polygon is a single-ring polygon record. A nil property is written as null.
type Polygon struct {
	Ring  [][2]float64
	Props map[string]*string
}

// WritePolygonGeoJSON writes a polygon FeatureCollection. Rings are closed
// when their last vertex differs from the first.
func WritePolygonGeoJSON(t testing.TB, path string, polygons []Polygon) {
	t.Helper()
	var feats []string
	for _, p := range polygons {
		ring := p.Ring
		if len(ring) > 0 && ring[0] != ring[len(ring)-1] {
			ring = append(ring[:len(ring):len(ring)], ring[0])
		}
		coords := make([]string, len(ring))
		for i, c := range ring {
			coords[i] = fmt.Sprintf("[%v, %v]", c[0], c[1])
		}
		var props []string
		for k, v := range p.Props {
			if v == nil {
				props = append(props, fmt.Sprintf("%q: null", k))
				continue
			}
			props = append(props, fmt.Sprintf("%q: %q", k, *v))
		}
		feats = append(feats, fmt.Sprintf(
			`{"type": "Feature", "properties": {%s}, "geometry": {"type": "Polygon", "coordinates": [[%s]]}}`,
			strings.Join(props, ", "), strings.Join(coords, ", ")))
	}
	writeCollection(t, path, feats)
}

func writeCollection(t testing.TB, path string, feats []string) {
	t.Helper()
	body := fmt.Sprintf(`{"type": "FeatureCollection", "features": [%s]}`, strings.Join(feats, ", "))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

// BandSuffixes are the band file suffixes of a full Sentinel-2 slice, in
// roster order.
var BandSuffixes = []string{"B2", "B3", "B4", "B5", "B6", "B7", "B8A", "B8", "B11", "B12"}

// SliceRaster returns the 4x4 raster, 10 m pixels, origin (1000, 2000), used
// by slice fixtures.
func SliceRaster(base float64) Raster {
	return Raster{
		OriginX: 1000, OriginY: 2000,
		PixelSize: 10,
		Width:     4, Height: 4,
		Data: Fill(4, 4, base),
	}
}

// WriteSlice writes a slice folder dir/name with one GeoTIFF per band plus a
// cloud mask layer. Band i holds base + 100*i + pixel index.
func WriteSlice(t testing.TB, dir, name string, base float64) string {
	t.Helper()
	slice := filepath.Join(dir, name)
	for i, code := range BandSuffixes {
		WriteGeoTIFF(t, filepath.Join(slice, fmt.Sprintf("%s_%s.tif", name, code)), SliceRaster(base+100*float64(i)))
	}
	WriteGeoTIFF(t, filepath.Join(slice, name+"_CLM_R1.tif"), SliceRaster(-1))
	return slice
}
