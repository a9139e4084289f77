package datasetio

import (
	"errors"
	"math"
	"os"

	"github.com/gocarina/gocsv"
	"github.com/golang/geo/s2"
	"github.com/parquet-go/parquet-go"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"s2-datacube/dataset"
)

// CellRow is one present (poi, date, band) sample of a dataset. S2id is the
// cell of the POI, 0 when unknown.
type CellRow struct {
	S2id  int64   `parquet:"s2_id" csv:"s2_id"`
	POI   string  `parquet:"poi" csv:"poi"`
	Date  string  `parquet:"date" csv:"date"`
	Band  string  `parquet:"band" csv:"band"`
	Value float64 `parquet:"value" csv:"value"`
}

// LongTable flattens d into rows sorted by poi, date then band. Missing
// samples produce no row.
func LongTable(d *dataset.Dataset, cells map[string]s2.CellID) []CellRow {
	var rows []CellRow
	for i, p := range d.POIs {
		id := int64(cells[p])
		for j, t := range d.Dates {
			date := t.Format("2006-01-02")
			for _, b := range d.Bands {
				v := d.Values[b][i*len(d.Dates)+j]
				if math.IsNaN(v) {
					continue
				}
				rows = append(rows, CellRow{S2id: id, POI: p, Date: date, Band: b, Value: v})
			}
		}
	}
	return rows
}

// WriteParquet writes rows as a Snappy-compressed parquet file.
func WriteParquet(rows []CellRow, path string) (err error) {
	output, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "create %s", path)
	}
	defer func() {
		err = errors.Join(err, output.Close())
	}()

	schema := parquet.SchemaOf(new(CellRow))
	writer := parquet.NewGenericWriter[CellRow](output, schema, parquet.Compression(&parquet.Snappy))
	if _, err := writer.Write(rows); err != nil {
		return eris.Wrapf(err, "write %s", path)
	}
	if err := writer.Close(); err != nil {
		return eris.Wrapf(err, "write %s", path)
	}
	logrus.Infof("Wrote %d rows to %s", len(rows), path)
	return nil
}

func WriteCSV(rows []CellRow, path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "create %s", path)
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()

	if err := gocsv.MarshalFile(&rows, f); err != nil {
		return eris.Wrapf(err, "write %s", path)
	}
	if err := f.Sync(); err != nil {
		return eris.Wrapf(err, "sync %s", path)
	}
	logrus.Infof("Wrote %d rows to %s", len(rows), path)
	return nil
}
