package groundtruth

import (
	"fmt"
	"strconv"

	"github.com/airbusgeo/godal"
	"github.com/golang/geo/s2"
	"github.com/rotisserie/eris"
)

func pointWKT(x, y float64) string {
	return fmt.Sprintf("POINT (%s %s)",
		strconv.FormatFloat(x, 'f', -1, 64), strconv.FormatFloat(y, 'f', -1, 64))
}

// S2Cells returns the S2 cell of every POI at the given level. The points
// are reprojected to WGS84 first, which requires a declared spatial reference.
func (g *GroundTruth) S2Cells(level int) (map[string]s2.CellID, error) {
	if g.srsWKT == "" {
		return nil, &MalformedSourceError{Path: g.path, Reason: "no spatial reference"}
	}
	if level < 0 || level > s2.MaxLevel {
		return nil, eris.Errorf("s2 level %d out of range [0, %d]", level, s2.MaxLevel)
	}
	registerDrivers()

	srcSRS, err := godal.NewSpatialRefFromWKT(g.srsWKT)
	if err != nil {
		return nil, eris.Wrapf(err, "parse spatial reference of %s", g.path)
	}
	defer srcSRS.Close()
	wgs84, err := godal.NewSpatialRefFromEPSG(4326)
	if err != nil {
		return nil, eris.Wrap(err, "create wgs84 spatial reference")
	}
	defer wgs84.Close()

	out := make(map[string]s2.CellID, len(g.pois))
	for _, p := range g.pois {
		lng, lat, err := toWGS84(p, srcSRS, wgs84)
		if err != nil {
			return nil, eris.Wrapf(err, "reproject poi %s", p.ID)
		}
		out[p.ID] = s2.CellIDFromLatLng(s2.LatLngFromDegrees(lat, lng)).Parent(level)
	}
	return out, nil
}

func toWGS84(p POI, from, to *godal.SpatialRef) (lng, lat float64, err error) {
	pt, err := godal.NewGeometryFromWKT(pointWKT(p.X(), p.Y()), from)
	if err != nil {
		return 0, 0, err
	}
	defer pt.Close()
	if err := pt.Reproject(to); err != nil {
		return 0, 0, err
	}
	b, err := pt.Bounds()
	if err != nil {
		return 0, 0, err
	}
	return b[0], b[1], nil
}
