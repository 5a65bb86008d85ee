// Package schema declares dataset schemas and validates ingested data
// against them.
//
// A schema is an ordered list of column declarations loaded once per run
// from a YAML resource. Validation is a fail-fast gate: the orchestrator
// does not proceed past a validation failure.
package schema

import (
	"errors"
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// ErrInvalidSchema marks malformed schema declarations. Like configuration
// errors, these are fatal before the pipeline starts.
var ErrInvalidSchema = errors.New("invalid schema")

// ColumnType is the declared type of a column.
type ColumnType string

const (
	// TypeNumeric columns must parse as floating point numbers.
	TypeNumeric ColumnType = "numeric"

	// TypeCategorical columns hold string-like values.
	TypeCategorical ColumnType = "categorical"
)

// Column is a single column declaration.
type Column struct {
	Name     string     `koanf:"name" json:"name"`
	Type     ColumnType `koanf:"type" json:"type"`
	Required bool       `koanf:"required" json:"required"`
	Drop     bool       `koanf:"drop" json:"drop"`
}

// Schema is a versioned, ordered set of column declarations.
type Schema struct {
	ID      string   `koanf:"id" json:"id"`
	Columns []Column `koanf:"columns" json:"columns"`
}

// Column returns the declaration for a column name, if declared.
func (s *Schema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Load reads a schema declaration from a YAML resource and validates it.
func Load(path string) (*Schema, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %v", ErrInvalidSchema, path, err)
	}
	return Parse(content)
}

// Parse decodes and validates a schema declaration.
func Parse(content []byte) (*Schema, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("%w: failed to parse schema: %v", ErrInvalidSchema, err)
	}

	var s Schema
	if err := k.Unmarshal("", &s); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal schema: %v", ErrInvalidSchema, err)
	}

	if s.ID == "" {
		return nil, fmt.Errorf("%w: schema id is required", ErrInvalidSchema)
	}
	if len(s.Columns) == 0 {
		return nil, fmt.Errorf("%w: schema declares no columns", ErrInvalidSchema)
	}

	seen := make(map[string]struct{}, len(s.Columns))
	for _, c := range s.Columns {
		if c.Name == "" {
			return nil, fmt.Errorf("%w: column with empty name", ErrInvalidSchema)
		}
		if _, dup := seen[c.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate column %q", ErrInvalidSchema, c.Name)
		}
		seen[c.Name] = struct{}{}
		switch c.Type {
		case TypeNumeric, TypeCategorical:
		default:
			return nil, fmt.Errorf("%w: column %q has unknown type %q", ErrInvalidSchema, c.Name, c.Type)
		}
		// A required column that validation removes would fail revalidation
		// of its own output, breaking validate-is-idempotent.
		if c.Required && c.Drop {
			return nil, fmt.Errorf("%w: column %q cannot be both required and drop", ErrInvalidSchema, c.Name)
		}
	}

	return &s, nil
}
