// Package upsert derives natural-key match filters from declared key fields.
// The same Collection shape parameterizes every record kind.
package upsert

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// ErrInvalidCollection marks a collection declaration rejected at setup time.
var ErrInvalidCollection = errors.New("invalid collection")

var validName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Order is the sort direction of one index field.
type Order int

const (
	// Ascending sorts the key field low to high.
	Ascending Order = 1
	// Descending sorts the key field high to low.
	Descending Order = -1
)

// Key declares one natural-key field and its index order.
type Key struct {
	Field string `mapstructure:"field"`
	Order Order  `mapstructure:"order"`
}

// Collection names where a record kind lives and which fields identify it.
type Collection struct {
	Database string `mapstructure:"database"`
	Name     string `mapstructure:"name"`
	Keys     []Key  `mapstructure:"keys"`
}

// Document is the flat mapping produced by a record.
type Document = map[string]any

// Field is one element of a match filter.
type Field struct {
	Name  string
	Value any
}

// Filter holds the natural-key fields of a document in declared order.
type Filter []Field

// Map returns the filter as an unordered mapping.
func (f Filter) Map() map[string]any {
	out := make(map[string]any, len(f))
	for _, fld := range f {
		out[fld.Name] = fld.Value
	}
	return out
}

// Validate rejects collections that could not enforce a natural key.
func (c Collection) Validate() error {
	if !validName.MatchString(c.Database) {
		return fmt.Errorf("%w: database name %q", ErrInvalidCollection, c.Database)
	}
	if !validName.MatchString(c.Name) {
		return fmt.Errorf("%w: collection name %q", ErrInvalidCollection, c.Name)
	}
	if len(c.Keys) == 0 {
		return fmt.Errorf("%w: %s.%s declares no key fields", ErrInvalidCollection, c.Database, c.Name)
	}
	seen := make(map[string]struct{}, len(c.Keys))
	for _, k := range c.Keys {
		if !validName.MatchString(k.Field) {
			return fmt.Errorf("%w: key field %q", ErrInvalidCollection, k.Field)
		}
		if k.Order != Ascending && k.Order != Descending {
			return fmt.Errorf("%w: key %s has order %d, want 1 or -1", ErrInvalidCollection, k.Field, k.Order)
		}
		if _, dup := seen[k.Field]; dup {
			return fmt.Errorf("%w: key field %q declared twice", ErrInvalidCollection, k.Field)
		}
		seen[k.Field] = struct{}{}
	}
	return nil
}

// FullName is the dotted database.collection name used in logs and metrics.
func (c Collection) FullName() string {
	return c.Database + "." + c.Name
}

// KeyFields returns the declared key field names in order.
func (c Collection) KeyFields() []string {
	out := make([]string, len(c.Keys))
	for i, k := range c.Keys {
		out[i] = k.Field
	}
	return out
}

// Filter extracts exactly the declared key fields from doc.
func (c Collection) Filter(doc Document) (Filter, error) {
	out := make(Filter, 0, len(c.Keys))
	for _, k := range c.Keys {
		v, ok := doc[k.Field]
		if !ok {
			return nil, fmt.Errorf("document is missing key field %q", k.Field)
		}
		out = append(out, Field{Name: k.Field, Value: v})
	}
	return out, nil
}

// KeyString encodes the key values of doc into a stable string. Two documents
// share a natural key exactly when their key strings are equal.
func (c Collection) KeyString(doc Document) (string, error) {
	filter, err := c.Filter(doc)
	if err != nil {
		return "", err
	}
	values := make([]any, len(filter))
	for i, f := range filter {
		values[i] = canonical(f.Value)
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("encode key: %w", err)
	}
	return string(raw), nil
}

func canonical(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}
