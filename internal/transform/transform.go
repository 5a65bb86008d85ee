// Package transform builds deterministic feature encoders from training
// data and applies them identically at training and inference time.
//
// Fit computes per-column statistics and categorical encodings strictly from
// the dataset it is given. Apply is a pure function of its inputs: the same
// Params and the same row always produce the same vector, across repeated
// calls and across process restarts. Params travel inside the estimator so
// the serving path reproduces training-time preprocessing exactly.
package transform

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/fyrsmithlabs/traind/internal/dataset"
	"github.com/fyrsmithlabs/traind/internal/schema"
)

// FeatureKind distinguishes encoder behavior per column.
type FeatureKind string

const (
	KindNumeric     FeatureKind = "numeric"
	KindCategorical FeatureKind = "categorical"
)

// Feature holds the fitted encoder for one input column.
type Feature struct {
	Column string      `json:"column"`
	Kind   FeatureKind `json:"kind"`

	// Mean and Std are the fitted scaling statistics for numeric columns.
	Mean float64 `json:"mean,omitempty"`
	Std  float64 `json:"std,omitempty"`

	// Vocab is the sorted category vocabulary for categorical columns.
	// A category's encoding is its index; values outside the vocabulary
	// map to the out-of-vocabulary slot at index len(Vocab).
	Vocab []string `json:"vocab,omitempty"`
}

// width returns the number of output vector slots the feature occupies.
func (f *Feature) width() int {
	if f.Kind == KindCategorical {
		return len(f.Vocab) + 1 // one-hot plus OOV slot
	}
	return 1
}

// Params is the complete fitted transformer state.
type Params struct {
	SchemaID string    `json:"schema_id"`
	Target   string    `json:"target"`
	Scale    bool      `json:"scale"`
	Features []Feature `json:"features"`

	// Names is the expanded output feature layout, in vector order.
	Names []string `json:"names"`
}

// Width returns the length of vectors produced by Apply.
func (p *Params) Width() int {
	return len(p.Names)
}

// Batch is a numeric matrix with its originating parameters, the unit
// handed from the transformer to the trainer and evaluator.
type Batch struct {
	X      [][]float64
	Y      []float64
	Params *Params
}

// Fit computes transformer parameters from a validated dataset. The target
// column is excluded from the feature layout; every other dataset column
// must be declared in the schema (guaranteed by validation).
func Fit(ds *dataset.Dataset, s *schema.Schema, target string, scale bool) (*Params, error) {
	if ds.ColumnIndex(target) < 0 {
		return nil, fmt.Errorf("target column %q not present", target)
	}
	if ds.Len() == 0 {
		return nil, dataset.ErrEmptyDataset
	}

	p := &Params{
		SchemaID: s.ID,
		Target:   target,
		Scale:    scale,
	}

	for idx, name := range ds.Columns {
		if name == target {
			continue
		}
		decl, ok := s.Column(name)
		if !ok {
			return nil, fmt.Errorf("column %q not declared in schema %s", name, s.ID)
		}

		switch decl.Type {
		case schema.TypeNumeric:
			mean, std, err := fitNumeric(ds, idx)
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", name, err)
			}
			p.Features = append(p.Features, Feature{
				Column: name,
				Kind:   KindNumeric,
				Mean:   mean,
				Std:    std,
			})
		case schema.TypeCategorical:
			p.Features = append(p.Features, Feature{
				Column: name,
				Kind:   KindCategorical,
				Vocab:  fitVocab(ds, idx),
			})
		}
	}

	for _, f := range p.Features {
		switch f.Kind {
		case KindNumeric:
			p.Names = append(p.Names, f.Column)
		case KindCategorical:
			for _, v := range f.Vocab {
				p.Names = append(p.Names, f.Column+"="+v)
			}
			p.Names = append(p.Names, f.Column+"=<oov>")
		}
	}

	return p, nil
}

// fitNumeric computes mean and standard deviation of a numeric column.
// A zero deviation is mapped to 1 so constant columns scale to zero.
func fitNumeric(ds *dataset.Dataset, idx int) (mean, std float64, err error) {
	n := float64(ds.Len())
	for _, row := range ds.Rows {
		v, perr := strconv.ParseFloat(row[idx], 64)
		if perr != nil {
			return 0, 0, fmt.Errorf("value %q is not numeric", row[idx])
		}
		mean += v
	}
	mean /= n

	var variance float64
	for _, row := range ds.Rows {
		v, _ := strconv.ParseFloat(row[idx], 64)
		d := v - mean
		variance += d * d
	}
	variance /= n

	std = math.Sqrt(variance)
	if std == 0 {
		std = 1
	}
	return mean, std, nil
}

// fitVocab collects the sorted unique values of a categorical column.
// Sorting makes the encoding independent of row order.
func fitVocab(ds *dataset.Dataset, idx int) []string {
	seen := make(map[string]struct{})
	for _, row := range ds.Rows {
		seen[row[idx]] = struct{}{}
	}
	vocab := make([]string, 0, len(seen))
	for v := range seen {
		vocab = append(vocab, v)
	}
	sort.Strings(vocab)
	return vocab
}

// Apply encodes every row of a dataset and extracts the target column,
// producing the batch consumed by the trainer and evaluator.
func Apply(ds *dataset.Dataset, p *Params) (*Batch, error) {
	targetIdx := ds.ColumnIndex(p.Target)
	if targetIdx < 0 {
		return nil, fmt.Errorf("target column %q not present", p.Target)
	}

	batch := &Batch{
		X:      make([][]float64, ds.Len()),
		Y:      make([]float64, ds.Len()),
		Params: p,
	}

	for i := 0; i < ds.Len(); i++ {
		x, err := ApplyRow(ds.Row(i), p)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		batch.X[i] = x

		y, err := strconv.ParseFloat(ds.Rows[i][targetIdx], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: target %q is not numeric", i, ds.Rows[i][targetIdx])
		}
		batch.Y[i] = y
	}

	return batch, nil
}

// ApplyRow encodes a single record into a feature vector. Unknown
// categorical values map to the out-of-vocabulary slot; unseen categories at
// inference time are expected, not exceptional. Missing feature columns are
// an error.
func ApplyRow(row map[string]string, p *Params) ([]float64, error) {
	out := make([]float64, 0, p.Width())

	for _, f := range p.Features {
		cell, ok := row[f.Column]
		if !ok {
			return nil, fmt.Errorf("column %q missing from record", f.Column)
		}

		switch f.Kind {
		case KindNumeric:
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("column %q: value %q is not numeric", f.Column, cell)
			}
			if p.Scale {
				v = (v - f.Mean) / f.Std
			}
			out = append(out, v)
		case KindCategorical:
			slot := sort.SearchStrings(f.Vocab, cell)
			oneHot := make([]float64, f.width())
			if slot < len(f.Vocab) && f.Vocab[slot] == cell {
				oneHot[slot] = 1
			} else {
				oneHot[len(f.Vocab)] = 1 // OOV
			}
			out = append(out, oneHot...)
		}
	}

	return out, nil
}
