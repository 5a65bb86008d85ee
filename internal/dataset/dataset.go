// Package dataset provides the tabular data model flowing through the
// pipeline and the sources that produce it.
package dataset

import (
	"errors"
	"fmt"
	"math/rand"
)

// ErrEmptyDataset indicates a source produced no rows.
var ErrEmptyDataset = errors.New("dataset is empty")

// Dataset is an ordered tabular artifact: a column header and rows of string
// cells aligned to it. Cells keep their source representation; typing is the
// schema validator's concern.
type Dataset struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// ColumnIndex returns the position of a column, or -1 if absent.
func (d *Dataset) ColumnIndex(name string) int {
	for i, c := range d.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Column extracts a single column's cells in row order.
func (d *Dataset) Column(name string) ([]string, error) {
	idx := d.ColumnIndex(name)
	if idx < 0 {
		return nil, fmt.Errorf("column %q not present", name)
	}
	out := make([]string, len(d.Rows))
	for i, row := range d.Rows {
		out[i] = row[idx]
	}
	return out, nil
}

// Row returns row i as a column-name to cell mapping. Used by the serving
// path, where records arrive as key/value documents.
func (d *Dataset) Row(i int) map[string]string {
	out := make(map[string]string, len(d.Columns))
	for j, c := range d.Columns {
		out[c] = d.Rows[i][j]
	}
	return out
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	return len(d.Rows)
}

// Split partitions the dataset into train and holdout slices by a seeded
// shuffle. The same seed and input always produce the same partition, so a
// run is replayable from its configuration.
func Split(d *Dataset, holdoutRatio float64, seed int64) (train, holdout *Dataset, err error) {
	if d.Len() == 0 {
		return nil, nil, ErrEmptyDataset
	}
	if holdoutRatio <= 0 || holdoutRatio >= 1 {
		return nil, nil, fmt.Errorf("holdout ratio %v out of range (0, 1)", holdoutRatio)
	}

	n := d.Len()
	indices := rand.New(rand.NewSource(seed)).Perm(n)
	nHoldout := int(float64(n) * holdoutRatio)
	if nHoldout == 0 {
		nHoldout = 1
	}
	if nHoldout >= n {
		return nil, nil, fmt.Errorf("holdout ratio %v leaves no training rows (n=%d)", holdoutRatio, n)
	}

	train = &Dataset{Columns: d.Columns}
	holdout = &Dataset{Columns: d.Columns}
	for i, idx := range indices {
		if i < nHoldout {
			holdout.Rows = append(holdout.Rows, d.Rows[idx])
		} else {
			train.Rows = append(train.Rows, d.Rows[idx])
		}
	}
	return train, holdout, nil
}
