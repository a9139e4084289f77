package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Tile is one tile folder of one year.
type Tile struct {
	Year string
	// Key is the folder name without the tile prefix, used for matching and
	// file names.
	Key  string
	Path string
}

func (t Tile) String() string {
	return t.Year + "/" + t.Key
}

// Discover lists the tiles under root, laid out as <year>/<prefix><tile>/.
// Year folders are the four-digit sub-folders of root; when years is not
// empty only those are listed and each must exist. Tiles are returned
// sorted by year then key.
func Discover(root string, years []string, prefix string) ([]Tile, error) {
	if len(years) == 0 {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, eris.Wrapf(err, "list %s", root)
		}
		for _, e := range entries {
			if e.IsDir() && isYear(e.Name()) {
				years = append(years, e.Name())
			}
		}
	}
	years = append([]string(nil), years...)
	sort.Strings(years)

	var tiles []Tile
	for _, y := range years {
		dir := filepath.Join(root, y)
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, eris.Wrapf(err, "list year %s", y)
		}
		seen := map[string]string{}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			key := strings.TrimPrefix(e.Name(), prefix)
			if prev, dup := seen[key]; dup {
				return nil, eris.Errorf("year %s: folders %s and %s have the same tile key %s", y, prev, e.Name(), key)
			}
			seen[key] = e.Name()
			tiles = append(tiles, Tile{Year: y, Key: key, Path: filepath.Join(dir, e.Name())})
		}
	}
	sort.Slice(tiles, func(i, j int) bool {
		if tiles[i].Year != tiles[j].Year {
			return tiles[i].Year < tiles[j].Year
		}
		return tiles[i].Key < tiles[j].Key
	})
	return tiles, nil
}

func isYear(name string) bool {
	if len(name) != 4 {
		return false
	}
	_, err := strconv.Atoi(name)
	return err == nil
}

// TilePath is the dataset file of one tile of one year.
func TilePath(out, year, tile string) string {
	return filepath.Join(out, year, fmt.Sprintf("dataset_%s_%s.nc", year, tile))
}

// YearPath is the merged dataset file of one year.
func YearPath(out, year string) string {
	return filepath.Join(out, year, fmt.Sprintf("dataset_%s.nc", year))
}

// FinalPath is the dataset merged over every year.
func FinalPath(out string) string {
	return filepath.Join(out, "dataset.nc")
}
