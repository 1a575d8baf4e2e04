package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/techtrend/internal/clock"
	"github.com/JakeFAU/techtrend/internal/metrics"
	"github.com/JakeFAU/techtrend/internal/store"
	"github.com/JakeFAU/techtrend/internal/upsert"
	"github.com/JakeFAU/techtrend/internal/vacancy"
)

// ErrInvalidRequest marks a request rejected before any I/O.
var ErrInvalidRequest = errors.New("invalid aggregation request")

// Window selects postings published between now-From and now-To, inclusive.
type Window struct {
	From time.Duration
	To   time.Duration
}

// Request describes one aggregation run. Exactly one of Text or Window is set.
type Request struct {
	Category     string
	Text         string
	Window       *Window
	ExtraFilters []string
	Limit        int
}

// Validate checks the request shape.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Category) == "" {
		return fmt.Errorf("%w: category is required", ErrInvalidRequest)
	}
	hasText := r.Text != ""
	hasWindow := r.Window != nil
	switch {
	case hasText && hasWindow:
		return fmt.Errorf("%w: text and window are mutually exclusive", ErrInvalidRequest)
	case !hasText && !hasWindow:
		return fmt.Errorf("%w: one of text or window is required", ErrInvalidRequest)
	}
	if hasWindow {
		if r.Window.To < 0 {
			return fmt.Errorf("%w: window end offset must be >= 0", ErrInvalidRequest)
		}
		if r.Window.From < r.Window.To {
			return fmt.Errorf("%w: window start offset %s is smaller than end offset %s",
				ErrInvalidRequest, r.Window.From, r.Window.To)
		}
	}
	if r.Limit < 0 {
		return fmt.Errorf("%w: limit must be >= 0", ErrInvalidRequest)
	}
	return nil
}

// VacancySource returns the descriptions of a category's postings published
// in [from, to].
type VacancySource interface {
	Descriptions(ctx context.Context, category string, from, to time.Time) ([]string, error)
}

// StoreSource reads descriptions from the vacancies collection.
type StoreSource struct {
	Store      store.Store
	Collection upsert.Collection
}

// Descriptions queries by category and inclusive publication date range.
func (s StoreSource) Descriptions(ctx context.Context, category string, from, to time.Time) ([]string, error) {
	var found []vacancy.Vacancy
	err := s.Store.FindAll(ctx, s.Collection, store.Query{
		Equals: map[string]any{"category": category},
		Range:  &store.TimeRange{Field: "publication_date", From: from.UTC(), To: to.UTC()},
	}, &found)
	if err != nil {
		return nil, fmt.Errorf("fetch vacancies: %w", err)
	}
	out := make([]string, 0, len(found))
	for _, v := range found {
		out = append(out, v.Description)
	}
	return out, nil
}

// Aggregator produces Statistics records.
type Aggregator struct {
	analyzer *Analyzer
	source   VacancySource
	clock    clock.Clock
	logger   *zap.Logger
}

// NewAggregator wires the dependencies. source may be nil when only text
// requests are served.
func NewAggregator(analyzer *Analyzer, source VacancySource, clk clock.Clock, logger *zap.Logger) (*Aggregator, error) {
	if analyzer == nil {
		return nil, fmt.Errorf("analyzer is required")
	}
	if clk == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{analyzer: analyzer, source: source, clock: clk, logger: logger.Named("analysis")}, nil
}

// Calculate runs one aggregation and returns a validated Statistics record.
func (a *Aggregator) Calculate(ctx context.Context, req Request) (vacancy.Statistics, error) {
	if err := req.Validate(); err != nil {
		return vacancy.Statistics{}, err
	}
	stats, err := a.calculate(ctx, req)
	if err != nil {
		metrics.ObserveAggregation("error")
		return vacancy.Statistics{}, err
	}
	metrics.ObserveAggregation("success")
	return stats, nil
}

func (a *Aggregator) calculate(ctx context.Context, req Request) (vacancy.Statistics, error) {
	now := a.clock.Now()
	from, to := now, now
	text := req.Text
	if req.Window != nil {
		if a.source == nil {
			return vacancy.Statistics{}, fmt.Errorf("window request needs a vacancy source")
		}
		from, to = now.Add(-req.Window.From), now.Add(-req.Window.To)
		descriptions, err := a.source.Descriptions(ctx, req.Category, from, to)
		if err != nil {
			return vacancy.Statistics{}, err
		}
		a.logger.Info("loaded descriptions",
			zap.String("category", req.Category),
			zap.Time("from", from),
			zap.Time("to", to),
			zap.Int("vacancies", len(descriptions)),
		)
		text = strings.Join(descriptions, " ")
	}

	freq, err := a.analyzer.WithExtraFilters(req.ExtraFilters...).FrequencyDistribution(text, req.Limit)
	if err != nil {
		return vacancy.Statistics{}, err
	}
	stats := vacancy.Statistics{
		Category:            req.Category,
		FromDatetime:        from,
		ToDatetime:          to,
		TechnologyFrequency: freq,
	}
	if err := stats.Validate(); err != nil {
		return vacancy.Statistics{}, err
	}
	a.logger.Info("statistics computed",
		zap.String("category", req.Category),
		zap.Int("terms", len(freq)),
	)
	return stats, nil
}
