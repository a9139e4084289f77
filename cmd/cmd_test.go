package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/gocarina/gocsv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"s2-datacube/datasetio"
	"s2-datacube/groundtruth"
	"s2-datacube/internal/fixtures"
	"s2-datacube/pipeline"
	"s2-datacube/poitools"
)

var gtFields = []string{"Id_sitesAS", "typo_veg", "MILIEU", "massif"}

func TestChooseAggFunc(t *testing.T) {
	cases := map[string]poitools.AggFunc{
		"mean":   poitools.Mean,
		"sum":    poitools.Sum,
		"max":    poitools.Max,
		"min":    poitools.Min,
		"median": poitools.Mean,
	}
	for name, want := range cases {
		got := chooseAggFunc(name)
		assert.Equal(t, reflect.ValueOf(want).Pointer(), reflect.ValueOf(got).Pointer(), name)
	}
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute(), out.String())
	return out.String()
}

func writeGroundTruth(t *testing.T, path string) {
	fixtures.WriteShapefile(t, path, gtFields, []fixtures.Point{
		{X: 1005, Y: 1995, Attrs: []string{"s1", "pelouse", "", "Vercors"}},
		{X: 500, Y: 2500, Attrs: []string{"s2", "", "lande", "Vercors"}},
	}, "")
}

func TestSampleCommand(t *testing.T) {
	slice := fixtures.WriteSlice(t, t.TempDir(), "S2A_20180102_T31TGL", 0)
	gtPath := filepath.Join(t.TempDir(), "TFE_T31TGL.shp")
	writeGroundTruth(t, gtPath)

	out := execute(t, "sample", slice, gtPath)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1+2*len(poitools.Bands))
	assert.Equal(t, "poi,band,value", lines[0])
	assert.Equal(t, "s1,B02,0", lines[1])
	assert.Equal(t, "s1,B03,100", lines[2])
	assert.Equal(t, "s2,B02,NaN", lines[1+len(poitools.Bands)])
}

func TestBuildMergeExport(t *testing.T) {
	tiles, gtDir, out := t.TempDir(), t.TempDir(), t.TempDir()
	fixtures.WriteSlice(t, filepath.Join(tiles, "2018", "sortieT31TGL"), "S2A_20180102_T31TGL", 0)
	fixtures.WriteSlice(t, filepath.Join(tiles, "2019", "sortieT31TGL"), "S2A_20190105_T31TGL", 1000)
	gtPath := filepath.Join(gtDir, "TFE_T31TGL.shp")
	writeGroundTruth(t, gtPath)

	report := execute(t, "build", "--tiles", tiles, "--groundTruth", gtDir, "--out", out, "--numWorkers", "2")
	assert.Contains(t, report, "2 tiles built, 0 failed")
	final := pipeline.FinalPath(out)
	_, err := os.Stat(final)
	require.NoError(t, err)

	merged := filepath.Join(out, "merged.nc")
	execute(t, "merge", "--out", merged, pipeline.YearPath(out, "2018"), pipeline.YearPath(out, "2019"))
	want, err := os.ReadFile(final)
	require.NoError(t, err)
	got, err := os.ReadFile(merged)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	csvPath := filepath.Join(out, "dataset.csv")
	execute(t, "export", "--format", "csv", final, csvPath)
	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()
	var rows []datasetio.CellRow
	require.NoError(t, gocsv.UnmarshalFile(f, &rows))
	// s1 has every band on both dates, s2 is outside the rasters.
	require.Len(t, rows, 2*len(poitools.Bands))
	assert.Equal(t, datasetio.CellRow{POI: "s1", Date: "2018-01-02", Band: "B02", Value: 0}, rows[0])
	assert.Equal(t, "2019-01-05", rows[len(rows)-1].Date)
}

func TestConvertCommand(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "TFE_T31TGL.geojson")
	id, typ := "p7", "éboulis"
	fixtures.WritePolygonGeoJSON(t, src, []fixtures.Polygon{{
		Ring:  [][2]float64{{1000, 1950}, {1040, 1950}, {1040, 2000}, {1000, 2000}},
		Props: map[string]*string{"id_polygon": &id, "typo_AS": &typ},
	}})
	outDir := filepath.Join(dir, "points")

	out := execute(t, "convert", "--resolution", "20", src, outDir)
	dst := groundtruth.PointsPath(outDir, src)
	assert.Contains(t, out, dst+": 2 points")

	gt, err := groundtruth.Load(dst, groundtruth.Options{IDField: "Id_sitesAS", PrimaryField: "TYPO_VEGET"})
	require.NoError(t, err)
	// Grid of 2x3 points from (1000, 1950); (1020, 1970) and (1020, 1990) are inside.
	assert.Equal(t, []string{"p7_3", "p7_5"}, gt.IDs())
	assert.Equal(t, "éboulis", gt.Row("p7_3")["TYPO_VEGET"])
}
