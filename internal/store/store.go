package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/techtrend/internal/upsert"
)

// ErrPartialCommit signals that some items of a bulk upsert were rejected by
// the store while the rest were committed.
var ErrPartialCommit = errors.New("bulk upsert partially committed")

// Store persists flat documents keyed by a collection's natural key.
type Store interface {
	// EnsureIndex creates the unique natural-key index. Re-running it with the
	// same keys is a no-op.
	EnsureIndex(ctx context.Context, coll upsert.Collection) error
	// BulkUpsert replaces the document matching each item's filter, or inserts
	// it when nothing matches, in one request. Item failures are reported in
	// the result; the returned error is reserved for transport failures.
	BulkUpsert(ctx context.Context, coll upsert.Collection, items []Item) (BulkResult, error)
	// FindAll decodes every document matching query into results, which must
	// be a pointer to a slice.
	FindAll(ctx context.Context, coll upsert.Collection, query Query, results any) error
	// Close releases the connection.
	Close(ctx context.Context) error
}

// Item pairs a document with its precomputed match filter and key.
type Item struct {
	Key      string
	Filter   upsert.Filter
	Document upsert.Document
}

// NewItem builds an Item for doc under coll's key declaration.
func NewItem(coll upsert.Collection, doc upsert.Document) (Item, error) {
	filter, err := coll.Filter(doc)
	if err != nil {
		return Item{}, err
	}
	key, err := coll.KeyString(doc)
	if err != nil {
		return Item{}, err
	}
	return Item{Key: key, Filter: filter, Document: doc}, nil
}

// Query selects documents by field equality and an optional time range.
type Query struct {
	Equals map[string]any
	Range  *TimeRange
}

// TimeRange bounds a timestamp field; both ends are inclusive. Results are
// sorted ascending by the ranged field.
type TimeRange struct {
	Field string
	From  time.Time
	To    time.Time
}

// Contains reports whether t falls inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.From) && !t.After(r.To)
}

// ItemFailure describes one rejected bulk item.
type ItemFailure struct {
	Index   int
	Key     string
	Message string
}

// BulkResult summarizes per-item outcomes of a bulk upsert.
type BulkResult struct {
	Inserted int
	Matched  int
	Failures []ItemFailure
}

// Err returns ErrPartialCommit describing the failures, or nil.
func (r BulkResult) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	first := r.Failures[0]
	return fmt.Errorf("%w: %d item(s) failed, first at index %d: %s",
		ErrPartialCommit, len(r.Failures), first.Index, first.Message)
}
