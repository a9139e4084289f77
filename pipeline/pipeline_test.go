package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"s2-datacube/datasetio"
	"s2-datacube/internal/fixtures"
	"s2-datacube/poitools"
)

var gtFields = []string{"Id_sitesAS", "typo_veg", "MILIEU", "massif"}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, nil, 0o644))
}

func TestIndexMatcher(t *testing.T) {
	m := IndexMatcher{"t31tgl": "/gt/a.shp", "T31TGM": "/gt/b.shp"}

	path, err := m.Match("T31TGL")
	require.NoError(t, err)
	assert.Equal(t, "/gt/a.shp", path)

	_, err = m.Match("T32ULU")
	var missing *MissingMatchError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "T32ULU", missing.Tile)

	m["T31tgl"] = "/gt/c.shp"
	_, err = m.Match("T31TGL")
	var ambiguous *AmbiguousMatchError
	require.True(t, errors.As(err, &ambiguous))
	assert.Equal(t, []string{"/gt/a.shp", "/gt/c.shp"}, ambiguous.Candidates)
}

func TestFolderMatcher(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"TFE_T31TGL.shp", "TFE_T31TGL.dbf", "TFE_T31TGL.shx",
		"TFE_T31TGM_v1.gpkg", "TFE_T31TGM_v2.geojson",
		"notes_T31TGK.txt",
	} {
		touch(t, filepath.Join(dir, name))
	}
	m, err := NewFolderMatcher(dir)
	require.NoError(t, err)

	path, err := m.Match("T31TGL")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "TFE_T31TGL.shp"), path)

	_, err = m.Match("T31TGK")
	var missing *MissingMatchError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, dir, missing.Dir)

	_, err = m.Match("T31TGM")
	var ambiguous *AmbiguousMatchError
	require.True(t, errors.As(err, &ambiguous))
	assert.Len(t, ambiguous.Candidates, 2)
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	for _, dir := range []string{"2019/sortieT31TGL", "2018/sortieT31TGM", "2018/sortieT31TGL", "misc/sortieT31TGL"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0o755))
	}
	touch(t, filepath.Join(root, "2018", "readme.txt"))

	tiles, err := Discover(root, nil, "sortie")
	require.NoError(t, err)
	require.Len(t, tiles, 3)
	assert.Equal(t, Tile{Year: "2018", Key: "T31TGL", Path: filepath.Join(root, "2018", "sortieT31TGL")}, tiles[0])
	assert.Equal(t, "2018/T31TGM", tiles[1].String())
	assert.Equal(t, "2019/T31TGL", tiles[2].String())

	tiles, err = Discover(root, []string{"2019"}, "sortie")
	require.NoError(t, err)
	assert.Len(t, tiles, 1)

	_, err = Discover(root, []string{"2020"}, "sortie")
	assert.Error(t, err)
}

func TestPaths(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "2018", "dataset_2018_T31TGL.nc"), TilePath("out", "2018", "T31TGL"))
	assert.Equal(t, filepath.Join("out", "2018", "dataset_2018.nc"), YearPath("out", "2018"))
	assert.Equal(t, filepath.Join("out", "dataset.nc"), FinalPath("out"))
}

// layout writes two years of tile T31TGL and a tile T31TGM without ground truth.
func layout(t *testing.T) (tilesDir, gtDir string) {
	t.Helper()
	tilesDir, gtDir = t.TempDir(), t.TempDir()
	fixtures.WriteSlice(t, filepath.Join(tilesDir, "2018", "sortieT31TGL"), "S2A_20180102_T31TGL", 0)
	fixtures.WriteSlice(t, filepath.Join(tilesDir, "2018", "sortieT31TGL"), "S2B_20180107_T31TGL", 1000)
	fixtures.WriteSlice(t, filepath.Join(tilesDir, "2019", "sortieT31TGL"), "S2A_20190105_T31TGL", 2000)
	fixtures.WriteSlice(t, filepath.Join(tilesDir, "2018", "sortieT31TGM"), "S2A_20180102_T31TGM", 0)

	fixtures.WriteShapefile(t, filepath.Join(gtDir, "TFE_T31TGL.shp"), gtFields, []fixtures.Point{
		{X: 1005, Y: 1995, Attrs: []string{"s1", "", "lande", "Vercors"}},
		{X: 1025, Y: 1975, Attrs: []string{"s2", "pelouse", "", "Vercors"}},
		{X: 500, Y: 2500, Attrs: []string{"s3", "forêt", "", "Chartreuse"}},
	}, "")
	return tilesDir, gtDir
}

func TestRun(t *testing.T) {
	tilesDir, gtDir := layout(t)
	out := t.TempDir()
	logger, _ := test.NewNullLogger()

	cube := poitools.DefaultOptions()
	r, err := NewRunner(Config{
		TilesDir:       tilesDir,
		GroundTruthDir: gtDir,
		OutDir:         out,
		TilePrefix:     "sortie",
		NumWorkers:     2,
		Cube:           cube,
		Logger:         logger,
	})
	require.NoError(t, err)

	report, err := r.Run(context.Background())
	require.Error(t, err)
	var missing *MissingMatchError
	assert.True(t, errors.As(err, &missing), "run error should carry the missing match: %v", err)

	require.Len(t, report.Tiles, 3)
	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "T31TGM", failed[0].Key)
	assert.True(t, errors.As(failed[0].Err, &missing))

	assert.Equal(t, map[string]string{"2018": YearPath(out, "2018"), "2019": YearPath(out, "2019")}, report.YearFiles)
	assert.Equal(t, FinalPath(out), report.Final)

	tile, err := datasetio.ReadNetCDF(TilePath(out, "2018", "T31TGL"))
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2", "s3"}, tile.POIs)
	assert.Len(t, tile.Dates, 2)
	assert.Len(t, tile.Bands, len(poitools.Bands))

	final, err := datasetio.ReadNetCDF(FinalPath(out))
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2", "s3"}, final.POIs)
	require.Len(t, final.Dates, 3)
	jan5 := time.Date(2019, 1, 5, 0, 0, 0, 0, time.UTC)
	v, ok := final.At("B02", "s2", jan5)
	assert.True(t, ok)
	assert.Equal(t, 2010.0, v)
	_, ok = final.At("B02", "s3", jan5)
	assert.False(t, ok)
	assert.Equal(t, "lande", final.Attribute("typo_veg", "s1"))
}

func TestRunIsIdempotent(t *testing.T) {
	tilesDir, gtDir := layout(t)
	out := t.TempDir()
	logger, _ := test.NewNullLogger()
	r, err := NewRunner(Config{
		TilesDir:   tilesDir,
		OutDir:     out,
		Years:      []string{"2018"},
		TilePrefix: "sortie",
		Matcher:    IndexMatcher{"T31TGL": filepath.Join(gtDir, "TFE_T31TGL.shp")},
		Cube:       poitools.DefaultOptions(),
		Logger:     logger,
	})
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	require.Error(t, err)
	first, err := os.ReadFile(TilePath(out, "2018", "T31TGL"))
	require.NoError(t, err)
	firstYear, err := os.ReadFile(YearPath(out, "2018"))
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	require.Error(t, err)
	second, err := os.ReadFile(TilePath(out, "2018", "T31TGL"))
	require.NoError(t, err)
	secondYear, err := os.ReadFile(YearPath(out, "2018"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, firstYear, secondYear)
}

func TestRunCancelled(t *testing.T) {
	tilesDir, gtDir := layout(t)
	logger, _ := test.NewNullLogger()
	r, err := NewRunner(Config{
		TilesDir:       tilesDir,
		GroundTruthDir: gtDir,
		OutDir:         t.TempDir(),
		TilePrefix:     "sortie",
		Cube:           poitools.DefaultOptions(),
		Logger:         logger,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMergeFilesConflict(t *testing.T) {
	tilesDir, gtDir := layout(t)
	out := t.TempDir()
	logger, _ := test.NewNullLogger()
	opts := poitools.DefaultOptions()
	opts.Logger = logger

	gt := filepath.Join(gtDir, "TFE_T31TGL.shp")
	a, err := poitools.NewTileCube(filepath.Join(tilesDir, "2018", "sortieT31TGL"), gt, opts)
	require.NoError(t, err)
	da, err := a.QuickAssemble()
	require.NoError(t, err)
	require.NoError(t, datasetio.WriteNetCDF(filepath.Join(out, "a.nc"), da))

	// Same POIs and date, different pixel values.
	b, err := poitools.NewTileCube(filepath.Join(tilesDir, "2018", "sortieT31TGM"), gt, opts)
	require.NoError(t, err)
	db, err := b.QuickAssemble()
	require.NoError(t, err)
	require.NoError(t, db.Set("B02", "s1", time.Date(2018, 1, 2, 0, 0, 0, 0, time.UTC), 42))
	require.NoError(t, datasetio.WriteNetCDF(filepath.Join(out, "b.nc"), db))

	_, err = MergeFiles([]string{filepath.Join(out, "a.nc"), filepath.Join(out, "b.nc")}, filepath.Join(out, "m.nc"))
	require.Error(t, err)
	_, statErr := os.Stat(filepath.Join(out, "m.nc"))
	assert.True(t, os.IsNotExist(statErr))
}
