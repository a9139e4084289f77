package groundtruth

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/wkb"
)

// Reconcile merges two columns carrying the same vegetation type: the
// primary value wins, the fallback only fills an absent primary.
func Reconcile(primary, fallback string) string {
	if strings.TrimSpace(primary) != "" {
		return primary
	}
	return fallback
}

// DropDuplicateGeometries keeps the first feature of every distinct point.
func DropDuplicateGeometries(features []Feature) ([]Feature, error) {
	seen := make(map[string]struct{}, len(features))
	out := make([]Feature, 0, len(features))
	for _, f := range features {
		if f.Point == nil {
			continue
		}
		key, err := wkb.Marshal(f.Point, wkb.NDR)
		if err != nil {
			return nil, eris.Wrap(err, "encode point")
		}
		if _, ok := seen[string(key)]; ok {
			continue
		}
		seen[string(key)] = struct{}{}
		out = append(out, f)
	}
	return out, nil
}
