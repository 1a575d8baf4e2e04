package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/techtrend/internal/analysis"
	"github.com/JakeFAU/techtrend/internal/export"
	"github.com/JakeFAU/techtrend/internal/ingest"
	"github.com/JakeFAU/techtrend/internal/logging"
	"github.com/JakeFAU/techtrend/internal/metrics"
	"github.com/JakeFAU/techtrend/internal/notify"
	"github.com/JakeFAU/techtrend/internal/scrape"
	"github.com/JakeFAU/techtrend/internal/store"
	"github.com/JakeFAU/techtrend/internal/tracing"
	"github.com/JakeFAU/techtrend/internal/upsert"
	"github.com/JakeFAU/techtrend/internal/vacancy"
)

// ScrapeOptions overrides the scrape configuration for one run.
type ScrapeOptions struct {
	Categories []string
	MaxPages   int
}

// ScrapeReport describes a finished scrape run.
type ScrapeReport struct {
	RunID    string
	Summary  scrape.Summary
	Staged   int
	Rejected int
	Result   store.BulkResult
}

// StatsOptions describes one aggregation run. Exactly one of Text or Window
// is set. A non-empty CSVPath appends the result to that file instead of
// upserting it.
type StatsOptions struct {
	Category     string
	Text         string
	Window       *analysis.Window
	Limit        int
	ExtraFilters []string
	CSVPath      string
}

// StatsReport describes a finished aggregation run.
type StatsReport struct {
	RunID      string
	Statistics vacancy.Statistics
	Sink       string
	Result     store.BulkResult
}

// CrawlCSVOptions drives the store-free crawl, export and aggregate mode.
type CrawlCSVOptions struct {
	Category       string
	MaxPages       int
	VacanciesPath  string
	StatisticsPath string
	Limit          int
	ExtraFilters   []string
}

// CrawlCSVReport describes a finished crawl-csv run.
type CrawlCSVReport struct {
	RunID      string
	Summary    scrape.Summary
	Written    int
	Rejected   int
	Statistics vacancy.Statistics
}

// Scrape crawls the configured categories, stages every valid vacancy and
// commits them as one bulk upsert when the crawl ends.
func (a *App) Scrape(ctx context.Context, opts ScrapeOptions) (report ScrapeReport, err error) {
	report.RunID = notify.NewRunID()
	logger := logging.ForRun(a.logger, "scrape", report.RunID)
	defer a.observeRun(ctx, "scrape", logger, time.Now(), &err)()

	ctx, span := tracing.Start(ctx, "scrape")
	defer span.End()

	spider, closeRenderer, err := a.newSpider(opts.Categories, opts.MaxPages, logger)
	if err != nil {
		return report, err
	}
	defer closeRenderer()

	coll := a.cfg.Collections.Vacancies
	err = a.WithStore(ctx, []upsert.Collection{coll}, func(s store.Store) error {
		sink, err := ingest.NewSink(s, coll, logger)
		if err != nil {
			return err
		}
		summary, err := spider.Run(ctx, func(v vacancy.Vacancy) {
			if err := sink.Stage(v); err != nil {
				report.Rejected++
				metrics.ObserveRejected("invalid")
				logger.Warn("vacancy rejected",
					zap.String("company", v.CompanyName),
					zap.Time("published", v.PublicationDate),
					zap.Error(err),
				)
			}
		})
		report.Summary = summary
		report.Staged = sink.Len()
		if err != nil {
			return err
		}
		res, commitErr := sink.Commit(ctx)
		report.Result = res
		return commitErr
	})

	if err == nil || errors.Is(err, store.ErrPartialCommit) {
		a.publish(ctx, a.cfg.Notify.IngestTopic, notify.IngestCompleted{
			RunID:      report.RunID,
			Categories: report.Summary.Categories,
			Staged:     report.Staged,
			Rejected:   report.Rejected,
			Upserted:   report.Result.Inserted,
			Matched:    report.Result.Matched,
			Failed:     len(report.Result.Failures),
			FinishedAt: a.clock.Now(),
		})
	}
	return report, err
}

// Stats computes one Statistics record and persists it to the statistics
// collection or appends it to a CSV file.
func (a *App) Stats(ctx context.Context, opts StatsOptions) (report StatsReport, err error) {
	report.RunID = notify.NewRunID()
	logger := logging.ForRun(a.logger, "stats", report.RunID)
	defer a.observeRun(ctx, "stats", logger, time.Now(), &err)()

	req := analysis.Request{
		Category:     opts.Category,
		Text:         opts.Text,
		Window:       opts.Window,
		ExtraFilters: opts.ExtraFilters,
		Limit:        opts.Limit,
	}
	if err := req.Validate(); err != nil {
		return report, err
	}
	analyzer, err := a.newAnalyzer()
	if err != nil {
		return report, err
	}

	ctx, span := tracing.Start(ctx, "stats")
	defer span.End()

	if opts.Window == nil && opts.CSVPath != "" {
		report.Statistics, err = a.calculate(ctx, analyzer, nil, req, logger)
		if err != nil {
			return report, err
		}
		report.Sink, err = appendStatistics(opts.CSVPath, report.Statistics)
		if err != nil {
			return report, err
		}
		a.publishStatistics(ctx, report)
		return report, nil
	}

	var colls []upsert.Collection
	if opts.Window != nil {
		colls = append(colls, a.cfg.Collections.Vacancies)
	}
	if opts.CSVPath == "" {
		colls = append(colls, a.cfg.Collections.Statistics)
	}
	err = a.WithStore(ctx, colls, func(s store.Store) error {
		source := analysis.StoreSource{Store: s, Collection: a.cfg.Collections.Vacancies}
		stats, err := a.calculate(ctx, analyzer, source, req, logger)
		if err != nil {
			return err
		}
		report.Statistics = stats
		if opts.CSVPath != "" {
			report.Sink, err = appendStatistics(opts.CSVPath, stats)
			return err
		}
		coll := a.cfg.Collections.Statistics
		sink, err := ingest.NewSink(s, coll, logger)
		if err != nil {
			return err
		}
		if err := sink.Stage(stats); err != nil {
			return err
		}
		report.Result, err = sink.Commit(ctx)
		report.Sink = coll.FullName()
		return err
	})
	if err != nil {
		return report, err
	}
	a.publishStatistics(ctx, report)
	return report, nil
}

// CrawlCSV scrapes one category, appends the postings to the vacancy CSV file
// and appends statistics over this run's descriptions to the statistics CSV.
// Rows left in the vacancy file by earlier runs are not counted again. No
// store is used.
func (a *App) CrawlCSV(ctx context.Context, opts CrawlCSVOptions) (report CrawlCSVReport, err error) {
	report.RunID = notify.NewRunID()
	logger := logging.ForRun(a.logger, "crawl-csv", report.RunID)
	defer a.observeRun(ctx, "crawl-csv", logger, time.Now(), &err)()

	if strings.TrimSpace(opts.Category) == "" {
		return report, fmt.Errorf("%w: category is required", analysis.ErrInvalidRequest)
	}
	if opts.VacanciesPath == "" || opts.StatisticsPath == "" {
		return report, fmt.Errorf("vacancy and statistics csv paths are required")
	}
	analyzer, err := a.newAnalyzer()
	if err != nil {
		return report, err
	}

	ctx, span := tracing.Start(ctx, "crawl-csv")
	defer span.End()

	spider, closeRenderer, err := a.newSpider([]string{opts.Category}, opts.MaxPages, logger)
	if err != nil {
		return report, err
	}
	defer closeRenderer()

	var valid []vacancy.Vacancy
	report.Summary, err = spider.Run(ctx, func(v vacancy.Vacancy) {
		if err := v.Validate(); err != nil {
			report.Rejected++
			metrics.ObserveRejected("invalid")
			logger.Warn("vacancy rejected", zap.String("company", v.CompanyName), zap.Error(err))
			return
		}
		valid = append(valid, v)
	})
	if err != nil {
		return report, err
	}
	if err := (export.VacancyCSV{Path: opts.VacanciesPath}).Append(valid...); err != nil {
		return report, err
	}
	report.Written = len(valid)

	descriptions := make([]string, 0, len(valid))
	for _, v := range valid {
		if v.Category == opts.Category {
			descriptions = append(descriptions, v.Description)
		}
	}
	text := strings.Join(descriptions, " ")
	if strings.TrimSpace(text) == "" {
		return report, fmt.Errorf("no descriptions scraped for %s", opts.Category)
	}
	req := analysis.Request{
		Category:     opts.Category,
		Text:         text,
		ExtraFilters: opts.ExtraFilters,
		Limit:        opts.Limit,
	}
	report.Statistics, err = a.calculate(ctx, analyzer, nil, req, logger)
	if err != nil {
		return report, err
	}
	sink, err := appendStatistics(opts.StatisticsPath, report.Statistics)
	if err != nil {
		return report, err
	}
	a.publishStatistics(ctx, StatsReport{RunID: report.RunID, Statistics: report.Statistics, Sink: sink})
	return report, nil
}

func (a *App) newSpider(categories []string, maxPages int, logger *zap.Logger) (*scrape.Spider, func(), error) {
	cfg := a.cfg.Scrape
	if len(categories) > 0 {
		cfg.Categories = categories
	}
	if maxPages > 0 {
		cfg.MaxPages = maxPages
	}

	opts := []scrape.Option{scrape.WithClock(a.clock)}
	if a.archive != nil {
		opts = append(opts, scrape.WithArchive(a.archive))
	}
	closeRenderer := func() {}
	if cfg.RenderJS {
		renderer, err := scrape.NewChromedpRenderer(scrape.RenderConfig{
			UserAgent: cfg.UserAgent,
			Timeout:   cfg.RenderTimeout,
			DomainQPS: cfg.RenderQPS,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("init renderer: %w", err)
		}
		opts = append(opts, scrape.WithRenderer(renderer))
		closeRenderer = func() {
			if err := renderer.Close(context.Background()); err != nil {
				logger.Warn("close renderer", zap.Error(err))
			}
		}
	}

	spider, err := scrape.New(cfg, logger, opts...)
	if err != nil {
		closeRenderer()
		return nil, nil, err
	}
	return spider, closeRenderer, nil
}

func (a *App) newAnalyzer() (*analysis.Analyzer, error) {
	stopwords, err := analysis.LoadStopwords(a.cfg.Analysis.StopwordFiles...)
	if err != nil {
		return nil, err
	}
	return analysis.NewAnalyzer(a.tagger, stopwords, analysis.NewNoiseFilter(a.cfg.Analysis.ExtraFilters...))
}

func (a *App) calculate(ctx context.Context, analyzer *analysis.Analyzer, source analysis.VacancySource, req analysis.Request, logger *zap.Logger) (vacancy.Statistics, error) {
	agg, err := analysis.NewAggregator(analyzer, source, a.clock, logger)
	if err != nil {
		return vacancy.Statistics{}, err
	}
	return agg.Calculate(ctx, req)
}

func (a *App) publishStatistics(ctx context.Context, report StatsReport) {
	a.publish(ctx, a.cfg.Notify.StatisticsTopic, notify.StatisticsComputed{
		RunID:      report.RunID,
		Category:   report.Statistics.Category,
		Terms:      report.Statistics.TechnologyFrequency.Terms(),
		Sink:       report.Sink,
		FinishedAt: a.clock.Now(),
	})
}

// observeRun starts the metrics endpoint when configured and returns the
// function recording the run outcome and stopping the endpoint.
func (a *App) observeRun(ctx context.Context, command string, logger *zap.Logger, started time.Time, errp *error) func() {
	var srv *metrics.Server
	if addr := a.cfg.Metrics.Addr; addr != "" {
		var err error
		srv, err = metrics.Start(addr, logger)
		if err != nil {
			logger.Warn("metrics endpoint not started", zap.String("addr", addr), zap.Error(err))
		}
	}
	logger.Info("run started")
	return func() {
		status := "success"
		if *errp != nil {
			status = "error"
		}
		elapsed := time.Since(started)
		metrics.ObserveRun(command, status, elapsed)
		if *errp != nil {
			logger.Error("run failed", zap.Duration("elapsed", elapsed), zap.Error(*errp))
		} else {
			logger.Info("run finished", zap.Duration("elapsed", elapsed))
		}
		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics endpoint shutdown", zap.Error(err))
			}
		}
	}
}

func appendStatistics(path string, stats vacancy.Statistics) (string, error) {
	if err := (export.StatisticsCSV{Path: path}).Append(stats); err != nil {
		return "", err
	}
	return "csv:" + path, nil
}
