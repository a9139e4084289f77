package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"s2-datacube/dataset"
	"s2-datacube/datasetio"
	"s2-datacube/poitools"
)

type Config struct {
	TilesDir       string
	GroundTruthDir string
	OutDir         string
	// Years restricts the run to these year folders, all of them when empty.
	Years      []string
	TilePrefix string
	// NumWorkers is the number of tiles built concurrently.
	NumWorkers int
	// Matcher overrides the folder matcher built on GroundTruthDir.
	Matcher Matcher
	Cube    poitools.Options
	Logger  logrus.FieldLogger
}

type Runner struct {
	cfg     Config
	matcher Matcher
	log     logrus.FieldLogger
}

func NewRunner(cfg Config) (*Runner, error) {
	if cfg.TilesDir == "" || cfg.OutDir == "" {
		return nil, eris.New("tiles and output folders are required")
	}
	if cfg.NumWorkers < 1 {
		cfg.NumWorkers = 1
	}
	r := &Runner{cfg: cfg, matcher: cfg.Matcher, log: cfg.Logger}
	if r.log == nil {
		r.log = logrus.StandardLogger()
	}
	if r.matcher == nil {
		if cfg.GroundTruthDir == "" {
			return nil, eris.New("a ground truth folder or index is required")
		}
		m, err := NewFolderMatcher(cfg.GroundTruthDir)
		if err != nil {
			return nil, err
		}
		r.matcher = m
	}
	return r, nil
}

// TileResult is the outcome of building one tile.
type TileResult struct {
	Tile
	Output string
	POIs   int
	Dates  int
	Err    error
}

type Report struct {
	Tiles     []TileResult
	YearFiles map[string]string
	Final     string
	Elapsed   time.Duration
}

func (r *Report) Failed() []TileResult {
	var out []TileResult
	for _, t := range r.Tiles {
		if t.Err != nil {
			out = append(out, t)
		}
	}
	return out
}

func (r *Report) String() string {
	h := int(r.Elapsed.Hours())
	m := int(r.Elapsed.Minutes()) % 60
	s := int(r.Elapsed.Seconds()) % 60
	return fmt.Sprintf("%d tiles built, %d failed, %d year files, in %dh %dm %ds",
		len(r.Tiles)-len(r.Failed()), len(r.Failed()), len(r.YearFiles), h, m, s)
}

// Run builds and persists every tile, then merges each year's tile files
// and finally every year file. A failing tile is recorded in the report and
// left out of the merges; the returned error then lists the failed tiles.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{YearFiles: map[string]string{}}
	defer func() {
		report.Elapsed = time.Since(start)
	}()

	tiles, err := Discover(r.cfg.TilesDir, r.cfg.Years, r.cfg.TilePrefix)
	if err != nil {
		return report, err
	}
	r.log.Infof("Found %d tiles", len(tiles))

	report.Tiles = r.buildAll(ctx, tiles)
	if err := ctx.Err(); err != nil {
		return report, eris.Wrap(err, "build tiles")
	}

	byYear := map[string][]string{}
	var years []string
	for _, t := range report.Tiles {
		if t.Err != nil {
			r.log.WithFields(logrus.Fields{"year": t.Year, "tile": t.Key}).WithError(t.Err).Error("Tile failed")
			continue
		}
		if _, ok := byYear[t.Year]; !ok {
			years = append(years, t.Year)
		}
		byYear[t.Year] = append(byYear[t.Year], t.Output)
	}

	var yearFiles []string
	for _, y := range years {
		out := YearPath(r.cfg.OutDir, y)
		if _, err := MergeFiles(byYear[y], out); err != nil {
			return report, eris.Wrapf(err, "merge year %s", y)
		}
		r.log.WithField("year", y).Infof("Merged %d tiles into %s", len(byYear[y]), out)
		report.YearFiles[y] = out
		yearFiles = append(yearFiles, out)
	}

	if len(yearFiles) > 0 {
		out := FinalPath(r.cfg.OutDir)
		if _, err := MergeFiles(yearFiles, out); err != nil {
			return report, eris.Wrap(err, "merge years")
		}
		report.Final = out
	}

	report.Elapsed = time.Since(start)
	r.log.Info(report.String())
	if failed := report.Failed(); len(failed) > 0 {
		errs := make([]error, len(failed))
		for i, t := range failed {
			errs[i] = eris.Wrapf(t.Err, "tile %s", t.Tile)
		}
		return report, eris.Wrapf(errors.Join(errs...), "%d of %d tiles failed", len(failed), len(report.Tiles))
	}
	return report, nil
}

// buildAll builds tiles with at most NumWorkers at a time. Every tile owns
// its result slot so no locking is needed.
func (r *Runner) buildAll(ctx context.Context, tiles []Tile) []TileResult {
	results := make([]TileResult, len(tiles))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.NumWorkers)
	for i, t := range tiles {
		g.Go(func() error {
			results[i] = r.buildTile(gctx, t)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r *Runner) buildTile(ctx context.Context, t Tile) TileResult {
	res := TileResult{Tile: t}
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}
	log := r.log.WithFields(logrus.Fields{"year": t.Year, "tile": t.Key})

	gtPath, err := r.matcher.Match(t.Key)
	if err != nil {
		res.Err = err
		return res
	}
	opts := r.cfg.Cube
	opts.Logger = log
	cube, err := poitools.NewTileCube(t.Path, gtPath, opts)
	if err != nil {
		res.Err = err
		return res
	}
	log.Debugf("Built %s", cube)

	d, err := cube.QuickAssemble()
	if err != nil {
		res.Err = err
		return res
	}
	out := TilePath(r.cfg.OutDir, t.Year, t.Key)
	if err := datasetio.WriteNetCDF(out, d); err != nil {
		res.Err = err
		return res
	}
	res.Output, res.POIs, res.Dates = out, len(d.POIs), len(d.Dates)
	log.Infof("Saved %s", out)
	return res
}

// MergeFiles outer-joins dataset files and writes the result to out.
func MergeFiles(paths []string, out string) (*dataset.Dataset, error) {
	if len(paths) == 0 {
		return nil, eris.New("no dataset to merge")
	}
	parts := make([]*dataset.Dataset, 0, len(paths))
	for _, p := range paths {
		d, err := datasetio.ReadNetCDF(p)
		if err != nil {
			return nil, err
		}
		parts = append(parts, d)
	}
	merged, err := dataset.Merge(parts...)
	if err != nil {
		return nil, err
	}
	if err := datasetio.WriteNetCDF(out, merged); err != nil {
		return nil, err
	}
	return merged, nil
}
