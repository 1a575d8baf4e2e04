// Package scrape crawls the djinni job listings and hands every parsed
// vacancy to a callback. It never stores anything itself.
package scrape

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/techtrend/internal/archive"
	"github.com/JakeFAU/techtrend/internal/clock"
	"github.com/JakeFAU/techtrend/internal/metrics"
	"github.com/JakeFAU/techtrend/internal/vacancy"
)

// DefaultMaxPages bounds pagination per category when none is configured.
const DefaultMaxPages = 20

// ErrNoPages is returned when every listing request of a run failed.
var ErrNoPages = errors.New("no listing page could be fetched")

// Config controls what is crawled and how politely.
type Config struct {
	BaseURL        string        `mapstructure:"base_url"`
	Categories     []string      `mapstructure:"categories"`
	MaxPages       int           `mapstructure:"max_pages"`
	UserAgent      string        `mapstructure:"user_agent"`
	AllowedDomains []string      `mapstructure:"allowed_domains"`
	Delay          time.Duration `mapstructure:"delay"`
	Parallelism    int           `mapstructure:"parallelism"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RenderJS       bool          `mapstructure:"render_js"`
	RenderTimeout  time.Duration `mapstructure:"render_timeout"`
	RenderQPS      float64       `mapstructure:"render_qps"`
}

// Emit receives every parsed vacancy in page order.
type Emit func(vacancy.Vacancy)

// Summary counts what a run saw.
type Summary struct {
	Categories []string
	Pages      int
	Vacancies  int
	Skipped    int
	Errors     int
}

// Spider walks the listing pages of each configured category.
type Spider struct {
	cfg      Config
	base     *url.URL
	logger   *zap.Logger
	clock    clock.Clock
	archive  archive.BlobStore
	renderer Renderer
}

// Option customizes a Spider.
type Option func(*Spider)

// WithArchive stores every fetched listing page.
func WithArchive(b archive.BlobStore) Option {
	return func(s *Spider) { s.archive = b }
}

// WithRenderer fetches pages through a headless browser instead of colly.
func WithRenderer(r Renderer) Option {
	return func(s *Spider) { s.renderer = r }
}

// WithClock overrides the clock used to date archived pages.
func WithClock(c clock.Clock) Option {
	return func(s *Spider) { s.clock = c }
}

// New validates cfg and builds a Spider.
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Spider, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("scrape base url %q must be absolute", cfg.BaseURL)
	}
	categories := make([]string, 0, len(cfg.Categories))
	for _, c := range cfg.Categories {
		if c = strings.TrimSpace(c); c != "" {
			categories = append(categories, c)
		}
	}
	if len(categories) == 0 {
		return nil, fmt.Errorf("at least one scrape category is required")
	}
	cfg.Categories = categories
	switch {
	case cfg.MaxPages < 0:
		return nil, fmt.Errorf("scrape max_pages must not be negative, got %d", cfg.MaxPages)
	case cfg.MaxPages == 0:
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	s := &Spider{
		cfg:    cfg,
		base:   base,
		logger: logger.Named("scrape"),
		clock:  clock.System{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// StartURL returns the first listing page of a category.
func (s *Spider) StartURL(category string) string {
	u := *s.base
	q := u.Query()
	q.Set("primary_keyword", category)
	u.RawQuery = q.Encode()
	return u.String()
}

// Run crawls every category in order and emits each parsed vacancy. A failed
// page ends pagination for its category but not the run.
func (s *Spider) Run(ctx context.Context, emit Emit) (Summary, error) {
	sum := Summary{Categories: append([]string(nil), s.cfg.Categories...)}
	for _, category := range s.cfg.Categories {
		var err error
		if s.renderer != nil {
			err = s.crawlRendered(ctx, category, emit, &sum)
		} else {
			err = s.crawlColly(ctx, category, emit, &sum)
		}
		if err != nil {
			return sum, fmt.Errorf("scrape %s: %w", category, err)
		}
	}
	s.logger.Info("crawl finished",
		zap.Strings("categories", sum.Categories),
		zap.Int("pages", sum.Pages),
		zap.Int("vacancies", sum.Vacancies),
		zap.Int("skipped", sum.Skipped),
		zap.Int("errors", sum.Errors),
	)
	if sum.Pages == 0 && sum.Errors > 0 {
		return sum, ErrNoPages
	}
	return sum, nil
}

func (s *Spider) newCollector() (*colly.Collector, error) {
	opts := []colly.CollectorOption{colly.Async(false)}
	if s.cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(s.cfg.UserAgent))
	}
	if len(s.cfg.AllowedDomains) > 0 {
		opts = append(opts, colly.AllowedDomains(s.cfg.AllowedDomains...))
	}
	c := colly.NewCollector(opts...)
	c.SetRequestTimeout(s.cfg.Timeout)
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Delay:       s.cfg.Delay,
		Parallelism: s.cfg.Parallelism,
	}); err != nil {
		return nil, fmt.Errorf("configure limit rule: %w", err)
	}
	return c, nil
}

func (s *Spider) crawlColly(ctx context.Context, category string, emit Emit, sum *Summary) error {
	c, err := s.newCollector()
	if err != nil {
		return err
	}
	logger := s.logger.With(zap.String("category", category))
	pages := 0

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})
	c.OnResponse(func(r *colly.Response) {
		pageURL := r.Request.URL.String()
		metrics.ObservePage(pageURL, r.StatusCode)
		s.archivePage(ctx, pageURL, r.Body)
	})
	c.OnError(func(r *colly.Response, err error) {
		sum.Errors++
		status := 0
		pageURL := ""
		if r != nil {
			status = r.StatusCode
			if r.Request != nil {
				pageURL = r.Request.URL.String()
			}
		}
		metrics.ObservePage(pageURL, status)
		logger.Warn("listing request failed", zap.String("url", pageURL), zap.Int("status", status), zap.Error(err))
	})
	c.OnHTML("html", func(e *colly.HTMLElement) {
		pages++
		next := s.handleListing(e.Request.URL, e.DOM, category, emit, sum)
		if next == "" || pages >= s.cfg.MaxPages || ctx.Err() != nil {
			return
		}
		if err := e.Request.Visit(next); err != nil {
			logger.Debug("next page not visited", zap.String("url", next), zap.Error(err))
		}
	})

	errorsBefore := sum.Errors
	if err := c.Visit(s.StartURL(category)); err != nil && sum.Errors == errorsBefore {
		sum.Errors++
		logger.Warn("start page not visited", zap.Error(err))
	}
	c.Wait()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("crawl canceled: %w", err)
	}
	return nil
}

func (s *Spider) crawlRendered(ctx context.Context, category string, emit Emit, sum *Summary) error {
	logger := s.logger.With(zap.String("category", category))
	next := s.StartURL(category)
	for pages := 0; next != "" && pages < s.cfg.MaxPages; pages++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("crawl canceled: %w", err)
		}
		page, err := s.renderer.Render(ctx, next)
		if err != nil {
			sum.Errors++
			metrics.ObservePage(next, 0)
			logger.Warn("listing render failed", zap.String("url", next), zap.Error(err))
			return nil
		}
		metrics.ObservePage(next, page.StatusCode)
		s.archivePage(ctx, next, page.Body)

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
		if err != nil {
			sum.Errors++
			logger.Warn("rendered page is not html", zap.String("url", next), zap.Error(err))
			return nil
		}
		pageURL, err := url.Parse(next)
		if err != nil {
			return fmt.Errorf("parse page url: %w", err)
		}
		next = s.handleListing(pageURL, doc.Selection, category, emit, sum)
	}
	return nil
}

// handleListing parses one page, emits its vacancies and returns the absolute
// URL of the next page, or "" on the last one.
func (s *Spider) handleListing(pageURL *url.URL, root *goquery.Selection, category string, emit Emit, sum *Summary) string {
	listing := ParseListing(root, category)
	sum.Pages++
	sum.Vacancies += len(listing.Vacancies)
	sum.Skipped += listing.Skipped
	for _, v := range listing.Vacancies {
		metrics.ObserveScraped(category)
		emit(v)
	}
	if listing.Skipped > 0 {
		for range listing.Skipped {
			metrics.ObserveRejected("unparseable")
		}
		s.logger.Warn("skipped unparseable listing items",
			zap.String("category", category),
			zap.String("url", pageURL.String()),
			zap.Int("skipped", listing.Skipped),
		)
	}
	if listing.Next == "" {
		return ""
	}
	ref, err := url.Parse(listing.Next)
	if err != nil {
		s.logger.Warn("bad pagination link", zap.String("href", listing.Next), zap.Error(err))
		return ""
	}
	return pageURL.ResolveReference(ref).String()
}

func (s *Spider) archivePage(ctx context.Context, pageURL string, body []byte) {
	if s.archive == nil {
		return
	}
	path := archive.ObjectPath(pageURL, s.clock.Now())
	uri, err := s.archive.PutObject(ctx, path, archive.ContentTypeHTML, bytes.NewReader(body))
	if err != nil {
		s.logger.Warn("archive listing page", zap.String("url", pageURL), zap.Error(err))
		return
	}
	s.logger.Debug("listing page archived", zap.String("uri", uri))
}
