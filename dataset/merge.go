package dataset

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// MergeConflictError reports a cell, or a POI label, on which two merged
// datasets hold different values.
type MergeConflictError struct {
	Variable string
	POI      string
	// Date is zero for attribute conflicts.
	Date        time.Time
	Left, Right string
}

func (e *MergeConflictError) Error() string {
	if e.Date.IsZero() {
		return fmt.Sprintf("merge conflict on %s for poi %s: %q vs %q", e.Variable, e.POI, e.Left, e.Right)
	}
	return fmt.Sprintf("merge conflict on %s for poi %s on %s: %s vs %s",
		e.Variable, e.POI, e.Date.Format("2006-01-02"), e.Left, e.Right)
}

// Merge outer-joins datasets on the poi and date axes. The result spans the
// union of POIs, dates, bands and attributes; cells no input provides stay
// missing. A cell (or label) present in two inputs must hold the same value,
// every disagreement is returned joined as *MergeConflictError.
func Merge(datasets ...*Dataset) (*Dataset, error) {
	var (
		pois  = map[string]struct{}{}
		dates = map[int64]time.Time{}
		bands = map[string]struct{}{}
	)
	for _, d := range datasets {
		for _, p := range d.POIs {
			pois[p] = struct{}{}
		}
		for _, t := range d.Dates {
			dates[Day(t).Unix()] = Day(t)
		}
		for _, b := range d.Bands {
			bands[b] = struct{}{}
		}
	}
	dateAxis := make([]time.Time, 0, len(dates))
	for _, t := range dates {
		dateAxis = append(dateAxis, t)
	}
	out, err := New(keys(pois), dateAxis, keys(bands))
	if err != nil {
		return nil, err
	}

	var conflicts []error
	for _, d := range datasets {
		conflicts = append(conflicts, out.absorb(d)...)
	}
	if len(conflicts) > 0 {
		return nil, errors.Join(conflicts...)
	}
	return out, nil
}

// absorb copies every present value of d into out.
func (out *Dataset) absorb(d *Dataset) []error {
	var conflicts []error
	for _, b := range d.Bands {
		src, dst := d.Values[b], out.Values[b]
		for i, p := range d.POIs {
			for j, t := range d.Dates {
				v := src[i*len(d.Dates)+j]
				if math.IsNaN(v) {
					continue
				}
				k, _ := out.cell(p, t)
				switch cur := dst[k]; {
				case math.IsNaN(cur):
					dst[k] = v
				case cur != v:
					conflicts = append(conflicts, &MergeConflictError{
						Variable: b, POI: p, Date: Day(t),
						Left:  fmt.Sprint(cur),
						Right: fmt.Sprint(v),
					})
				}
			}
		}
	}
	for _, name := range d.AttributeNames() {
		col, ok := out.Attributes[name]
		if !ok {
			col = make([]string, len(out.POIs))
			out.Attributes[name] = col
		}
		for i, p := range d.POIs {
			v := d.Attributes[name][i]
			if v == "" {
				continue
			}
			k := out.poiIndex[p]
			switch cur := col[k]; {
			case cur == "":
				col[k] = v
			case cur != v:
				conflicts = append(conflicts, &MergeConflictError{Variable: name, POI: p, Left: cur, Right: v})
			}
		}
	}
	return conflicts
}

func keys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
