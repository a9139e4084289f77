// Package pipeline builds the per-tile datasets of every year, persists them
// and merges them into per-year and final datasets.
package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// MissingMatchError reports a tile no ground-truth source could be found for.
type MissingMatchError struct {
	Tile string
	Dir  string
}

func (e *MissingMatchError) Error() string {
	if e.Dir == "" {
		return fmt.Sprintf("no ground truth indexed for tile %s", e.Tile)
	}
	return fmt.Sprintf("no ground truth for tile %s in %s", e.Tile, e.Dir)
}

// AmbiguousMatchError reports a tile several ground-truth sources match.
type AmbiguousMatchError struct {
	Tile       string
	Candidates []string
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("tile %s matches several ground truth sources: %s", e.Tile, strings.Join(e.Candidates, ", "))
}

// Matcher associates a tile key with the path of its ground-truth source.
type Matcher interface {
	Match(tile string) (string, error)
}

// IndexMatcher looks tiles up in an explicit tile -> path index. Keys are
// compared case-insensitively since config loaders lowercase map keys.
type IndexMatcher map[string]string

func (m IndexMatcher) Match(tile string) (string, error) {
	var found []string
	for k, path := range m {
		if strings.EqualFold(k, tile) {
			found = append(found, path)
		}
	}
	switch len(found) {
	case 0:
		return "", &MissingMatchError{Tile: tile}
	case 1:
		return found[0], nil
	default:
		sort.Strings(found)
		return "", &AmbiguousMatchError{Tile: tile, Candidates: found}
	}
}

var sourceExts = map[string]bool{
	".shp":     true,
	".gpkg":    true,
	".geojson": true,
	".json":    true,
}

// FolderMatcher picks, in a folder of point sources, the one whose file name
// contains the tile key.
type FolderMatcher struct {
	Dir     string
	sources []string
}

// NewFolderMatcher lists the point sources of dir once.
func NewFolderMatcher(dir string) (*FolderMatcher, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "list ground truth folder %s", dir)
	}
	m := &FolderMatcher{Dir: dir}
	for _, e := range entries {
		if e.IsDir() || !sourceExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		m.sources = append(m.sources, e.Name())
	}
	sort.Strings(m.sources)
	return m, nil
}

func (m *FolderMatcher) Match(tile string) (string, error) {
	if tile == "" {
		return "", &MissingMatchError{Tile: tile, Dir: m.Dir}
	}
	var found []string
	for _, name := range m.sources {
		base := strings.TrimSuffix(name, filepath.Ext(name))
		if strings.Contains(base, tile) {
			found = append(found, filepath.Join(m.Dir, name))
		}
	}
	switch len(found) {
	case 0:
		return "", &MissingMatchError{Tile: tile, Dir: m.Dir}
	case 1:
		return found[0], nil
	default:
		return "", &AmbiguousMatchError{Tile: tile, Candidates: found}
	}
}
