// Package datasetio persists datasets as NetCDF classic files and exports
// them as long tables.
package datasetio

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ctessum/cdf"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"s2-datacube/dataset"
)

const (
	poiDim  = "poi"
	timeDim = "time"

	kindAttr    = "kind"
	labelsAttr  = "labels"
	kindBand    = "band"
	kindLabel   = "attribute"
	timeUnits   = "days since 1970-01-01"
	missingCode = -1
)

const day = 24 * time.Hour

// WriteNetCDF writes d to path. The file is first written under a temporary
// name in the same folder, then renamed over path.
func WriteNetCDF(path string, d *dataset.Dataset) (err error) {
	h, labels, err := header(d)
	if err != nil {
		return eris.Wrapf(err, "netcdf header for %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "create output folder")
	}
	tmp := filepath.Join(filepath.Dir(path), "."+uuid.NewString()+".nc.tmp")
	ff, err := os.Create(tmp)
	if err != nil {
		return eris.Wrapf(err, "create %s", tmp)
	}
	defer func() {
		if err != nil {
			_ = ff.Close()
			_ = os.Remove(tmp)
		}
	}()

	f, err := cdf.Create(ff, h) // writes the header to ff
	if err != nil {
		return eris.Wrapf(err, "write header of %s", path)
	}
	if err := writeVariables(f, d, labels); err != nil {
		return eris.Wrapf(err, "write %s", path)
	}
	if err := cdf.UpdateNumRecs(ff); err != nil {
		return eris.Wrapf(err, "write %s", path)
	}
	if err := ff.Close(); err != nil {
		return eris.Wrapf(err, "close %s", tmp)
	}
	return eris.Wrapf(os.Rename(tmp, path), "replace %s", path)
}

// header declares dims poi and time, the poi and time coordinate variables,
// one (poi, time) double variable per band and one (poi) int variable per
// attribute. Variable names are sorted so files are written the same way
// every time. It also returns the category labels of every attribute.
func header(d *dataset.Dataset) (*cdf.Header, map[string][]string, error) {
	if len(d.POIs) == 0 || len(d.Dates) == 0 {
		return nil, nil, eris.Errorf("cannot persist a dataset with %d pois and %d dates", len(d.POIs), len(d.Dates))
	}
	for _, p := range d.POIs {
		if p == "" || strings.Contains(p, "\n") {
			return nil, nil, eris.Errorf("poi name %q cannot be stored", p)
		}
	}
	names := map[string]string{poiDim: "axis", timeDim: "axis"}
	for _, b := range d.Bands {
		if prev, ok := names[b]; ok {
			return nil, nil, eris.Errorf("band %q clashes with %s variable of the same name", b, prev)
		}
		names[b] = kindBand
	}
	attrs := d.AttributeNames()
	for _, a := range attrs {
		if prev, ok := names[a]; ok {
			return nil, nil, eris.Errorf("attribute %q clashes with %s variable of the same name", a, prev)
		}
		names[a] = kindLabel
	}

	h := cdf.NewHeader([]string{poiDim, timeDim}, []int{len(d.POIs), len(d.Dates)})
	h.AddAttribute("", "comment", "Sentinel-2 band samples of ground truth points")

	h.AddVariable(poiDim, []string{poiDim}, []int32{0})
	h.AddAttribute(poiDim, labelsAttr, strings.Join(d.POIs, "\n"))
	h.AddVariable(timeDim, []string{timeDim}, []int32{0})
	h.AddAttribute(timeDim, "units", timeUnits)

	for _, b := range d.Bands {
		h.AddVariable(b, []string{poiDim, timeDim}, []float64{0})
		h.AddAttribute(b, kindAttr, kindBand)
	}

	labels := make(map[string][]string, len(attrs))
	for _, a := range attrs {
		cats, err := categories(d.Attributes[a])
		if err != nil {
			return nil, nil, eris.Wrapf(err, "attribute %q", a)
		}
		labels[a] = cats
		h.AddVariable(a, []string{poiDim}, []int32{0})
		h.AddAttribute(a, kindAttr, kindLabel)
		if len(cats) > 0 {
			h.AddAttribute(a, labelsAttr, strings.Join(cats, "\n"))
		}
	}
	h.Define()
	if errs := h.Check(); len(errs) > 0 {
		return nil, nil, errors.Join(errs...)
	}
	return h, labels, nil
}

// categories lists the distinct non-empty values of a label column, sorted.
func categories(col []string) ([]string, error) {
	seen := map[string]struct{}{}
	for _, v := range col {
		if v == "" {
			continue
		}
		if strings.Contains(v, "\n") {
			return nil, eris.Errorf("label %q cannot be stored", v)
		}
		seen[v] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out, nil
}

func writeVariables(f *cdf.File, d *dataset.Dataset, labels map[string][]string) error {
	index := make([]int32, len(d.POIs))
	for i := range index {
		index[i] = int32(i)
	}
	if err := writeVar(f, poiDim, index); err != nil {
		return err
	}

	days := make([]int32, len(d.Dates))
	for i, t := range d.Dates {
		days[i] = int32(dataset.Day(t).Unix() / int64(day/time.Second))
	}
	if err := writeVar(f, timeDim, days); err != nil {
		return err
	}

	for _, b := range d.Bands {
		if err := writeVar(f, b, d.Values[b]); err != nil {
			return err
		}
	}

	for _, a := range d.AttributeNames() {
		code := make(map[string]int32, len(labels[a]))
		for i, c := range labels[a] {
			code[c] = int32(i)
		}
		codes := make([]int32, len(d.POIs))
		for i, v := range d.Attributes[a] {
			c, ok := code[v]
			if !ok {
				c = missingCode
			}
			codes[i] = c
		}
		if err := writeVar(f, a, codes); err != nil {
			return err
		}
	}
	return nil
}

// writeVar fills a whole variable. The writer reports io.EOF once the
// variable is full, which is the expected outcome here.
func writeVar(f *cdf.File, name string, data interface{}) error {
	w := f.Writer(name, nil, nil)
	if w == nil {
		return eris.Errorf("no variable %s", name)
	}
	n, err := w.Write(data)
	if err != nil && !errors.Is(err, io.EOF) {
		return eris.Wrapf(err, "write variable %s", name)
	}
	if want := numValues(f.Header.Lengths(name)); n != want {
		return eris.Errorf("variable %s: wrote %d of %d values", name, n, want)
	}
	return nil
}

func numValues(lengths []int) int {
	n := 1
	for _, l := range lengths {
		n *= l
	}
	return n
}

// ReadNetCDF loads a file written by WriteNetCDF.
func ReadNetCDF(path string) (d *dataset.Dataset, err error) {
	ff, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	defer func() {
		err = errors.Join(err, ff.Close())
	}()
	f, err := cdf.Open(ff)
	if err != nil {
		return nil, eris.Wrapf(err, "read header of %s", path)
	}
	h := f.Header

	pois := splitLabels(h.GetAttribute(poiDim, labelsAttr))
	if n := h.Lengths(poiDim); len(n) != 1 || n[0] != len(pois) {
		return nil, eris.Errorf("%s: poi labels do not match the poi dimension", path)
	}
	n := h.Lengths(timeDim)
	if len(n) != 1 {
		return nil, eris.Errorf("%s: no time variable", path)
	}
	days := make([]int32, n[0])
	if err := readVar(f, timeDim, days); err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}
	dates := make([]time.Time, len(days))
	for i, n := range days {
		dates[i] = time.Unix(int64(n)*int64(day/time.Second), 0).UTC()
	}

	var bands, attrs []string
	for _, v := range h.Variables() {
		kind, _ := h.GetAttribute(v, kindAttr).(string)
		switch kind {
		case kindBand:
			bands = append(bands, v)
		case kindLabel:
			attrs = append(attrs, v)
		}
	}

	d, err = dataset.New(pois, dates, bands)
	if err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}
	if !sameStrings(d.POIs, pois) || !sameDates(d.Dates, dates) {
		return nil, eris.Errorf("%s: axes are not sorted", path)
	}
	for _, b := range d.Bands {
		if err := readVar(f, b, d.Values[b]); err != nil {
			return nil, eris.Wrapf(err, "read %s", path)
		}
	}
	for _, a := range attrs {
		cats := splitLabels(h.GetAttribute(a, labelsAttr))
		codes := make([]int32, len(pois))
		if err := readVar(f, a, codes); err != nil {
			return nil, eris.Wrapf(err, "read %s", path)
		}
		col := make([]string, len(pois))
		for i, c := range codes {
			switch {
			case c == missingCode:
			case c >= 0 && int(c) < len(cats):
				col[i] = cats[c]
			default:
				return nil, eris.Errorf("%s: code %d of attribute %s has no label", path, c, a)
			}
		}
		d.Attributes[a] = col
	}
	return d, nil
}

func readVar(f *cdf.File, name string, buf interface{}) error {
	r := f.Reader(name, nil, nil)
	if r == nil {
		return eris.Errorf("no variable %s", name)
	}
	if _, err := r.Read(buf); err != nil {
		return eris.Wrapf(err, "read variable %s", name)
	}
	return nil
}

func splitLabels(v interface{}) []string {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sameDates(a, b []time.Time) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

