// Package memory keeps documents in-process for development and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/techtrend/internal/store"
	"github.com/JakeFAU/techtrend/internal/upsert"
)

// RejectFunc lets tests simulate store-side validation failures per item.
type RejectFunc func(doc upsert.Document) error

// Store is an in-memory store.Store keyed by natural-key string.
type Store struct {
	mu      sync.RWMutex
	colls   map[string]*collection
	reject  RejectFunc
	closed  bool
	indexed map[string][]string
}

type collection struct {
	docs  map[string]upsert.Document
	order []string
}

// Option customizes a Store.
type Option func(*Store)

// WithReject installs a per-item rejection hook.
func WithReject(fn RejectFunc) Option {
	return func(s *Store) {
		s.reject = fn
	}
}

// New creates an empty in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		colls:   make(map[string]*collection),
		indexed: make(map[string][]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureIndex records the key declaration. Redeclaring different keys fails.
func (s *Store) EnsureIndex(_ context.Context, coll upsert.Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("memory store is closed")
	}
	fields := coll.KeyFields()
	if existing, ok := s.indexed[coll.FullName()]; ok && !reflect.DeepEqual(existing, fields) {
		return fmt.Errorf("index on %s already declared with keys %v", coll.FullName(), existing)
	}
	s.indexed[coll.FullName()] = fields
	return nil
}

// BulkUpsert fully replaces matching documents and inserts the rest.
func (s *Store) BulkUpsert(_ context.Context, coll upsert.Collection, items []store.Item) (store.BulkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.BulkResult{}, fmt.Errorf("memory store is closed")
	}
	c := s.collection(coll.FullName())
	var res store.BulkResult
	for i, item := range items {
		if s.reject != nil {
			if err := s.reject(item.Document); err != nil {
				res.Failures = append(res.Failures, store.ItemFailure{Index: i, Key: item.Key, Message: err.Error()})
				continue
			}
		}
		if _, ok := c.docs[item.Key]; ok {
			res.Matched++
		} else {
			c.order = append(c.order, item.Key)
			res.Inserted++
		}
		c.docs[item.Key] = clone(item.Document)
	}
	return res, nil
}

// FindAll decodes matching documents into results through JSON.
func (s *Store) FindAll(_ context.Context, coll upsert.Collection, query store.Query, results any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("memory store is closed")
	}
	matched := make([]upsert.Document, 0)
	if c, ok := s.colls[coll.FullName()]; ok {
		for _, key := range c.order {
			doc := c.docs[key]
			if matches(doc, query) {
				matched = append(matched, doc)
			}
		}
	}
	if query.Range != nil {
		field := query.Range.Field
		sort.SliceStable(matched, func(i, j int) bool {
			ti, _ := matched[i][field].(time.Time)
			tj, _ := matched[j][field].(time.Time)
			return ti.Before(tj)
		})
	}
	raw, err := json.Marshal(matched)
	if err != nil {
		return fmt.Errorf("encode documents: %w", err)
	}
	if err := json.Unmarshal(raw, results); err != nil {
		return fmt.Errorf("decode documents: %w", err)
	}
	return nil
}

// Close marks the store closed; later calls fail.
func (s *Store) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Store) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Docs returns copies of the stored documents in insertion order.
func (s *Store) Docs(coll upsert.Collection) []upsert.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.colls[coll.FullName()]
	if !ok {
		return nil
	}
	out := make([]upsert.Document, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, clone(c.docs[key]))
	}
	return out
}

func (s *Store) collection(name string) *collection {
	c, ok := s.colls[name]
	if !ok {
		c = &collection{docs: make(map[string]upsert.Document)}
		s.colls[name] = c
	}
	return c
}

func matches(doc upsert.Document, q store.Query) bool {
	for field, want := range q.Equals {
		got, ok := doc[field]
		if !ok || !sameValue(got, want) {
			return false
		}
	}
	if q.Range != nil {
		t, ok := doc[q.Range.Field].(time.Time)
		if !ok || !q.Range.Contains(t) {
			return false
		}
	}
	return true
}

func sameValue(a, b any) bool {
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return string(ra) == string(rb)
}

func clone(doc upsert.Document) upsert.Document {
	out := make(upsert.Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}
