package schema

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/traind/internal/dataset"
)

// Violation records a single schema conformance failure.
type Violation struct {
	Column string `json:"column"`
	Reason string `json:"reason"`

	// Row is the first offending row index for type violations, -1 for
	// column-level violations.
	Row int `json:"row"`
}

// ValidationError reports every violated column of a validation pass, not
// just the first.
type ValidationError struct {
	SchemaID   string      `json:"schema_id"`
	Violations []Violation `json:"violations"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = fmt.Sprintf("%s: %s", v.Column, v.Reason)
	}
	return fmt.Sprintf("schema %s: %d violation(s): %s", e.SchemaID, len(e.Violations), strings.Join(parts, "; "))
}

// Validate checks a dataset against a schema and returns the validated
// dataset: declared columns only, schema order, drop columns removed.
//
// Checks, accumulated across all columns before failing:
//   - every required column is present
//   - every present column is declared
//   - every cell of a numeric column parses as a number
//
// Validating an already-validated output is a no-op: it returns an equal
// dataset and no error.
func Validate(ds *dataset.Dataset, s *Schema) (*dataset.Dataset, error) {
	var violations []Violation

	present := make(map[string]int, len(ds.Columns))
	for i, name := range ds.Columns {
		present[name] = i
	}

	for _, col := range s.Columns {
		idx, ok := present[col.Name]
		if !ok {
			if col.Required {
				violations = append(violations, Violation{
					Column: col.Name,
					Reason: "required column missing",
					Row:    -1,
				})
			}
			continue
		}

		if col.Type == TypeNumeric {
			for rowIdx, row := range ds.Rows {
				if _, err := strconv.ParseFloat(row[idx], 64); err != nil {
					violations = append(violations, Violation{
						Column: col.Name,
						Reason: fmt.Sprintf("value %q is not numeric", row[idx]),
						Row:    rowIdx,
					})
					break
				}
			}
		}
	}

	for _, name := range ds.Columns {
		if _, declared := s.Column(name); !declared {
			violations = append(violations, Violation{
				Column: name,
				Reason: "column not declared in schema",
				Row:    -1,
			})
		}
	}

	if len(violations) > 0 {
		return nil, &ValidationError{SchemaID: s.ID, Violations: violations}
	}

	// Build the output in schema order with drop columns removed.
	out := &dataset.Dataset{}
	var keep []int
	for _, col := range s.Columns {
		idx, ok := present[col.Name]
		if !ok || col.Drop {
			continue
		}
		out.Columns = append(out.Columns, col.Name)
		keep = append(keep, idx)
	}

	out.Rows = make([][]string, len(ds.Rows))
	for i, row := range ds.Rows {
		cells := make([]string, len(keep))
		for j, idx := range keep {
			cells[j] = row[idx]
		}
		out.Rows[i] = cells
	}

	return out, nil
}
