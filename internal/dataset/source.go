package dataset

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strings"
)

// Source is a read-only, idempotent producer of raw records. The
// orchestrator treats Fetch as synchronous and does not proceed until it
// completes or fails.
type Source interface {
	// Fetch enumerates the full record set.
	Fetch(ctx context.Context) (*Dataset, error)
}

// Open resolves a locator string from the pipeline configuration to a
// source. Plain paths and file:// URLs are read as CSV with a header row.
func Open(locator string) (Source, error) {
	if locator == "" {
		return nil, fmt.Errorf("empty source locator")
	}
	path := strings.TrimPrefix(locator, "file://")
	return &csvSource{path: path}, nil
}

// csvSource reads a CSV file with a header row.
type csvSource struct {
	path string
}

func (s *csvSource) Fetch(ctx context.Context) (*Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open source %s: %w", s.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read source %s: %w", s.path, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("source %s: %w", s.path, ErrEmptyDataset)
	}

	return &Dataset{
		Columns: records[0],
		Rows:    records[1:],
	}, nil
}
