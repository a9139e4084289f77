package poitools

import (
	"errors"
	"math"
	"path/filepath"
	"sync"

	"github.com/airbusgeo/godal"
	"github.com/rotisserie/eris"

	"s2-datacube/groundtruth"
)

var registerOnce sync.Once

func registerDrivers() {
	registerOnce.Do(godal.RegisterAll)
}

// Geotransform holds the north-up affine transform of a raster. PixelHeight
// is stored as a positive magnitude.
type Geotransform struct {
	OriginX     float64
	OriginY     float64
	PixelWidth  float64
	PixelHeight float64
}

// Pixel converts a map coordinate to the (row, col) of the pixel containing it.
func (gt Geotransform) Pixel(x, y float64) (row, col int) {
	col = int(math.Floor((x - gt.OriginX) / gt.PixelWidth))
	row = int(math.Floor((gt.OriginY - y) / gt.PixelHeight))
	return row, col
}

// Layer is one single-band raster file of a slice.
type Layer struct {
	Path string
	Band string
	// Window is the side of the pixel window aggregated around each POI.
	// Zero or one samples the single pixel under the POI.
	Window int
	Agg    AggFunc
}

func NewLayer(path, band string) *Layer {
	return &Layer{Path: path, Band: band}
}

func (l *Layer) String() string {
	return "Band " + l.Band + ", path: " + filepath.Base(l.Path)
}

// raster is a band fully read into memory, row-major.
type raster struct {
	gt        Geotransform
	width     int
	height    int
	data      []float64
	noData    float64
	hasNoData bool
}

func (r *raster) at(row, col int) float64 {
	v := r.data[row*r.width+col]
	if r.hasNoData && v == r.noData {
		return math.NaN()
	}
	return v
}

func (r *raster) contains(row, col int) bool {
	return row >= 0 && col >= 0 && row < r.height && col < r.width
}

// Geotransform opens the raster only to read its transform.
func (l *Layer) Geotransform() (gt Geotransform, err error) {
	registerDrivers()
	ds, err := godal.Open(l.Path, godal.RasterOnly())
	if err != nil {
		return Geotransform{}, eris.Wrapf(err, "open band %s", l.Path)
	}
	defer func() {
		err = errors.Join(err, ds.Close())
	}()
	return l.geotransformOf(ds)
}

func (l *Layer) geotransformOf(ds *godal.Dataset) (Geotransform, error) {
	gt, err := ds.GeoTransform()
	if err != nil {
		return Geotransform{}, eris.Wrapf(err, "geotransform of %s", l.Path)
	}
	if gt[2] != 0 || gt[4] != 0 {
		return Geotransform{}, &MalformedTileError{Path: l.Path, Reason: "rotated geotransform"}
	}
	if gt[1] == 0 || gt[5] == 0 {
		return Geotransform{}, &MalformedTileError{Path: l.Path, Reason: "zero pixel size"}
	}
	return Geotransform{
		OriginX:     gt[0],
		OriginY:     gt[3],
		PixelWidth:  gt[1],
		PixelHeight: -gt[5],
	}, nil
}

// read loads the whole band. The dataset is closed before returning.
func (l *Layer) read() (r *raster, err error) {
	registerDrivers()
	ds, err := godal.Open(l.Path, godal.RasterOnly())
	if err != nil {
		return nil, eris.Wrapf(err, "open band %s", l.Path)
	}
	defer func() {
		err = errors.Join(err, ds.Close())
	}()

	gt, err := l.geotransformOf(ds)
	if err != nil {
		return nil, err
	}
	bands := ds.Bands()
	if len(bands) == 0 {
		return nil, &MalformedTileError{Path: l.Path, Reason: "no raster band"}
	}
	band := bands[0]
	struc := band.Structure()
	r = &raster{
		gt:     gt,
		width:  struc.SizeX,
		height: struc.SizeY,
		data:   make([]float64, struc.SizeX*struc.SizeY),
	}
	if err := band.Read(0, 0, r.data, r.width, r.height); err != nil {
		return nil, eris.Wrapf(err, "read band %s", l.Path)
	}
	r.noData, r.hasNoData = band.NoData()
	return r, nil
}

// Sample returns the value under every POI. The raster is read once per
// call. POIs outside the raster get NaN and are reported in the returned
// OutOfBoundsError list; the error return is reserved for I/O failures.
func (l *Layer) Sample(pois []groundtruth.POI) (map[string]float64, []*OutOfBoundsError, error) {
	r, err := l.read()
	if err != nil {
		return nil, nil, err
	}
	values := make(map[string]float64, len(pois))
	var missed []*OutOfBoundsError
	for _, p := range pois {
		row, col := r.gt.Pixel(p.X(), p.Y())
		if !r.contains(row, col) {
			values[p.ID] = math.NaN()
			missed = append(missed, &OutOfBoundsError{
				POI: p.ID, Band: l.Band,
				X: p.X(), Y: p.Y(),
				Row: row, Col: col,
				Width: r.width, Height: r.height,
			})
			continue
		}
		values[p.ID] = l.windowValue(r, row, col)
	}
	return values, missed, nil
}

func (l *Layer) windowValue(r *raster, row, col int) float64 {
	if l.Window <= 1 {
		return r.at(row, col)
	}
	agg := l.Agg
	if agg == nil {
		agg = Mean
	}
	half := l.Window / 2
	valid := make([]float64, 0, l.Window*l.Window)
	for i := row - half; i <= row+half; i++ {
		for j := col - half; j <= col+half; j++ {
			if !r.contains(i, j) {
				continue
			}
			if v := r.at(i, j); !math.IsNaN(v) {
				valid = append(valid, v)
			}
		}
	}
	if len(valid) == 0 {
		return math.NaN()
	}
	return agg(valid...)
}
