// Package ingest stages validated records and commits them to a store as one
// bulk upsert keyed by the collection's natural key.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/techtrend/internal/metrics"
	"github.com/JakeFAU/techtrend/internal/store"
	"github.com/JakeFAU/techtrend/internal/upsert"
)

// ErrInvalidRecord is returned by Stage for records that fail validation.
var ErrInvalidRecord = errors.New("record rejected")

// Record is anything the sink can validate and flatten.
type Record interface {
	Validate() error
	Document() map[string]any
}

// Sink owns one in-memory batch for one collection.
type Sink struct {
	store  store.Store
	coll   upsert.Collection
	logger *zap.Logger
	batch  []store.Item
}

// NewSink validates coll and returns an empty sink.
func NewSink(s store.Store, coll upsert.Collection, logger *zap.Logger) (*Sink, error) {
	if s == nil {
		return nil, fmt.Errorf("store is required")
	}
	if err := coll.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{
		store:  s,
		coll:   coll,
		logger: logger.Named("ingest").With(zap.String("collection", coll.FullName())),
	}, nil
}

// Stage validates rec as a whole and appends it to the batch.
func (s *Sink) Stage(rec Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	item, err := store.NewItem(s.coll, rec.Document())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	s.batch = append(s.batch, item)
	return nil
}

// Len reports how many records are staged.
func (s *Sink) Len() int {
	return len(s.batch)
}

// Commit sends the staged batch as one bulk upsert. Records sharing a natural
// key collapse to the last one staged, kept at the first one's position.
//
// A transport failure returns the error and keeps the batch staged. Otherwise
// the batch is cleared; item failures come back as store.ErrPartialCommit
// alongside the result, and the other items stay committed.
func (s *Sink) Commit(ctx context.Context) (store.BulkResult, error) {
	if len(s.batch) == 0 {
		return store.BulkResult{}, nil
	}
	items := dedupe(s.batch)
	if dropped := len(s.batch) - len(items); dropped > 0 {
		s.logger.Debug("collapsed duplicate natural keys", zap.Int("dropped", dropped))
	}

	res, err := s.store.BulkUpsert(ctx, s.coll, items)
	if err != nil {
		s.logger.Error("bulk upsert failed", zap.Int("items", len(items)), zap.Error(err))
		return store.BulkResult{}, fmt.Errorf("commit %s: %w", s.coll.FullName(), err)
	}
	s.batch = nil
	metrics.ObserveUpsert(s.coll.FullName(), res.Inserted, res.Matched, len(res.Failures))

	for _, f := range res.Failures {
		s.logger.Warn("item rejected by store",
			zap.Int("index", f.Index),
			zap.String("key", f.Key),
			zap.String("reason", f.Message),
		)
	}
	s.logger.Info("batch committed",
		zap.Int("items", len(items)),
		zap.Int("inserted", res.Inserted),
		zap.Int("matched", res.Matched),
		zap.Int("failed", len(res.Failures)),
	)
	return res, res.Err()
}

func dedupe(batch []store.Item) []store.Item {
	pos := make(map[string]int, len(batch))
	out := make([]store.Item, 0, len(batch))
	for _, item := range batch {
		if i, ok := pos[item.Key]; ok {
			out[i] = item
			continue
		}
		pos[item.Key] = len(out)
		out = append(out, item)
	}
	return out
}
