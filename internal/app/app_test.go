package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/techtrend/internal/analysis"
	archivememory "github.com/JakeFAU/techtrend/internal/archive/memory"
	"github.com/JakeFAU/techtrend/internal/clock"
	"github.com/JakeFAU/techtrend/internal/config"
	"github.com/JakeFAU/techtrend/internal/notify"
	notifymemory "github.com/JakeFAU/techtrend/internal/notify/memory"
	"github.com/JakeFAU/techtrend/internal/scrape"
	"github.com/JakeFAU/techtrend/internal/store"
	storememory "github.com/JakeFAU/techtrend/internal/store/memory"
	"github.com/JakeFAU/techtrend/internal/upsert"
	"github.com/JakeFAU/techtrend/internal/vacancy"
)

var now = time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

// wordTagger marks every whitespace-separated word as a proper noun.
type wordTagger struct{}

func (wordTagger) Tag(text string) ([]analysis.Token, error) {
	fields := strings.Fields(text)
	out := make([]analysis.Token, 0, len(fields))
	for _, f := range fields {
		out = append(out, analysis.Token{Text: strings.Trim(f, ".,"), Tag: "NNP", Role: analysis.RoleProperNoun})
	}
	return out, nil
}

// keepOpen lets a test inspect a memory store after WithStore closed it.
type keepOpen struct {
	store.Store
}

func (keepOpen) Close(context.Context) error { return nil }

const listingItem = `
  <li class="list-jobs__item">
    <header>
      <a class="mr-2" href="#">%s</a>
      <span class="text-muted">
        <span class="mr-2 nobr" title="%s">date</span>
        <span class="nobr"><span class="mr-2" title="10 views">10</span><span class="mr-2" title="2 applications">2</span></span>
      </span>
    </header>
    <div class="job-list-item__job-info"><span>Product</span><span>%d years of experience</span></div>
    <div class="job-list-item__description"><span data-original-text="%s">x</span></div>
  </li>`

func listingServer(t *testing.T, items ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<html><body><ul class="list-jobs">%s</ul></body></html>`, strings.Join(items, ""))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func item(company, published string, years int, description string) string {
	return fmt.Sprintf(listingItem, company, published, years, description)
}

func testConfig(baseURL string) config.Config {
	return config.Config{
		Store: config.StoreConfig{Provider: config.ProviderMemory},
		Collections: config.CollectionsConfig{
			Vacancies: upsert.Collection{
				Database: "vacancy_statistics",
				Name:     "vacancies",
				Keys: []upsert.Key{
					{Field: "publication_date", Order: upsert.Descending},
					{Field: "company_name", Order: upsert.Ascending},
					{Field: "years_of_experience", Order: upsert.Ascending},
				},
			},
			Statistics: upsert.Collection{
				Database: "vacancy_statistics",
				Name:     "statistics",
				Keys:     []upsert.Key{{Field: "category", Order: upsert.Ascending}},
			},
		},
		Scrape:  scrape.Config{BaseURL: baseURL + "/jobs/", Categories: []string{"Python"}, MaxPages: 2},
		Archive: config.ArchiveConfig{Provider: config.ProviderNone},
		Notify: config.NotifyConfig{
			Provider:        config.ProviderMemory,
			IngestTopic:     "vacancies-ingested",
			StatisticsTopic: "statistics-computed",
		},
		Analysis: config.AnalysisConfig{
			StopwordFiles: []string{
				"../../assets/stopwords/ukrainian-stopwords.json",
				"../../assets/stopwords/common-words.json",
			},
			Limit: 20,
		},
	}
}

type harness struct {
	app   *App
	store *storememory.Store
	pub   *notifymemory.Publisher
	cfg   config.Config
}

func newHarness(t *testing.T, cfg config.Config, opts ...Option) harness {
	t.Helper()
	mem := storememory.New()
	pub := notifymemory.New()
	base := []Option{
		WithLogger(zap.NewNop()),
		WithClock(clock.Fixed(now)),
		WithPublisher(pub),
		WithTagger(wordTagger{}),
		WithStoreOpener(func(context.Context) (store.Store, error) { return keepOpen{mem}, nil }),
	}
	a, err := New(context.Background(), cfg, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return harness{app: a, store: mem, pub: pub, cfg: cfg}
}

func TestScrapeUpsertsIdempotently(t *testing.T) {
	t.Parallel()

	srv := listingServer(t,
		item("Acme", "09:30 01.03.2024", 3, "Python Django"),
		item("Globex", "10:00 02.03.2024", 1, "Python FastAPI"),
		item("", "10:00 02.03.2024", 1, "missing company"),
	)
	h := newHarness(t, testConfig(srv.URL))

	first, err := h.app.Scrape(context.Background(), ScrapeOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, first.Staged)
	assert.Equal(t, 1, first.Rejected)
	assert.Equal(t, 2, first.Result.Inserted)

	second, err := h.app.Scrape(context.Background(), ScrapeOptions{Categories: []string{"Python"}})
	require.NoError(t, err)
	assert.Zero(t, second.Result.Inserted)
	assert.Equal(t, 2, second.Result.Matched)
	assert.NotEqual(t, first.RunID, second.RunID)

	assert.Len(t, h.store.Docs(h.cfg.Collections.Vacancies), 2)

	msgs := h.pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "vacancies-ingested", msgs[0].Topic)
	event, ok := msgs[0].Payload.(notify.IngestCompleted)
	require.True(t, ok)
	assert.Equal(t, first.RunID, event.RunID)
	assert.Equal(t, []string{"Python"}, event.Categories)
	assert.Equal(t, 2, event.Upserted)
	assert.Equal(t, 1, event.Rejected)
	assert.Equal(t, now, event.FinishedAt)
}

func TestScrapeArchivesPages(t *testing.T) {
	t.Parallel()

	srv := listingServer(t, item("Acme", "09:30 01.03.2024", 3, "Python"))
	blobs := archivememory.NewBlobStore()
	h := newHarness(t, testConfig(srv.URL), WithArchive(blobs))

	_, err := h.app.Scrape(context.Background(), ScrapeOptions{})
	require.NoError(t, err)
	require.Len(t, blobs.Paths(), 1)
	assert.True(t, strings.HasPrefix(blobs.Paths()[0], "listings/2024-03-05/"))
}

func TestScrapeStoreUnavailable(t *testing.T) {
	t.Parallel()

	srv := listingServer(t, item("Acme", "09:30 01.03.2024", 3, "Python"))
	boom := errors.New("connection refused")
	h := newHarness(t, testConfig(srv.URL),
		WithStoreOpener(func(context.Context) (store.Store, error) { return nil, boom }))

	_, err := h.app.Scrape(context.Background(), ScrapeOptions{})
	require.ErrorIs(t, err, boom)
	assert.Empty(t, h.pub.Messages())
}

func TestWithStoreClosesOnEveryPath(t *testing.T) {
	t.Parallel()

	coll := testConfig("http://unused").Collections.Vacancies
	boom := errors.New("boom")

	t.Run("fn error", func(t *testing.T) {
		t.Parallel()
		mem := storememory.New()
		h := newHarness(t, testConfig("http://unused"),
			WithStoreOpener(func(context.Context) (store.Store, error) { return mem, nil }))
		err := h.app.WithStore(context.Background(), []upsert.Collection{coll}, func(store.Store) error { return boom })
		require.ErrorIs(t, err, boom)
		assert.True(t, mem.Closed())
	})

	t.Run("ensure index error", func(t *testing.T) {
		t.Parallel()
		ms := new(store.MockStore)
		ms.On("EnsureIndex", mock.Anything, coll).Return(boom)
		ms.On("Close", mock.Anything).Return(nil)
		h := newHarness(t, testConfig("http://unused"),
			WithStoreOpener(func(context.Context) (store.Store, error) { return ms, nil }))
		called := false
		err := h.app.WithStore(context.Background(), []upsert.Collection{coll}, func(store.Store) error {
			called = true
			return nil
		})
		require.ErrorIs(t, err, boom)
		assert.False(t, called)
		ms.AssertExpectations(t)
	})

	t.Run("close error joins", func(t *testing.T) {
		t.Parallel()
		ms := new(store.MockStore)
		ms.On("Close", mock.Anything).Return(boom)
		h := newHarness(t, testConfig("http://unused"),
			WithStoreOpener(func(context.Context) (store.Store, error) { return ms, nil }))
		err := h.app.WithStore(context.Background(), nil, func(store.Store) error { return nil })
		require.ErrorIs(t, err, boom)
		ms.AssertExpectations(t)
	})

	t.Run("cancelled run still closes with live context", func(t *testing.T) {
		t.Parallel()
		ms := new(store.MockStore)
		var closeErr error
		var hasDeadline bool
		ms.On("Close", mock.Anything).Run(func(args mock.Arguments) {
			closeCtx := args.Get(0).(context.Context)
			closeErr = closeCtx.Err()
			_, hasDeadline = closeCtx.Deadline()
		}).Return(nil)
		h := newHarness(t, testConfig("http://unused"),
			WithStoreOpener(func(context.Context) (store.Store, error) { return ms, nil }))
		ctx, cancel := context.WithCancel(context.Background())
		err := h.app.WithStore(ctx, nil, func(store.Store) error {
			cancel()
			return ctx.Err()
		})
		require.ErrorIs(t, err, context.Canceled)
		require.NoError(t, closeErr)
		assert.True(t, hasDeadline)
		ms.AssertExpectations(t)
	})
}

func seedVacancies(t *testing.T, h harness, vs ...vacancy.Vacancy) {
	t.Helper()
	coll := h.cfg.Collections.Vacancies
	require.NoError(t, h.store.EnsureIndex(context.Background(), coll))
	items := make([]store.Item, 0, len(vs))
	for _, v := range vs {
		it, err := store.NewItem(coll, v.Document())
		require.NoError(t, err)
		items = append(items, it)
	}
	_, err := h.store.BulkUpsert(context.Background(), coll, items)
	require.NoError(t, err)
}

func posting(company string, published time.Time, description string) vacancy.Vacancy {
	return vacancy.Vacancy{
		Source:          vacancy.Source,
		Category:        "Python",
		CompanyName:     company,
		Description:     description,
		PublicationDate: published,
	}
}

func TestStatsWindowUpsertsStatistics(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig("http://unused"))
	seedVacancies(t, h,
		posting("Acme", now.Add(-2*24*time.Hour), "Python Django Python"),
		posting("Globex", now.Add(-3*24*time.Hour), "Python Kubernetes"),
		posting("Old", now.Add(-90*24*time.Hour), "Cobol Cobol Cobol Cobol"),
	)

	window := &analysis.Window{From: 30 * 24 * time.Hour}
	report, err := h.app.Stats(context.Background(), StatsOptions{Category: "Python", Window: window})
	require.NoError(t, err)

	// Descriptions arrive oldest first, so Kubernetes wins the tie.
	assert.Equal(t, []string{"Python", "Kubernetes", "Django"}, report.Statistics.TechnologyFrequency.Terms())
	assert.Equal(t, 3, report.Statistics.TechnologyFrequency.Map()["Python"])
	assert.Equal(t, now.Add(-30*24*time.Hour), report.Statistics.FromDatetime)
	assert.Equal(t, now, report.Statistics.ToDatetime)
	assert.Equal(t, "vacancy_statistics.statistics", report.Sink)

	// A second run replaces the record keyed by category.
	_, err = h.app.Stats(context.Background(), StatsOptions{Category: "Python", Window: window, Limit: 1})
	require.NoError(t, err)
	docs := h.store.Docs(h.cfg.Collections.Statistics)
	require.Len(t, docs, 1)

	msgs := h.pub.Messages()
	require.Len(t, msgs, 2)
	event, ok := msgs[1].Payload.(notify.StatisticsComputed)
	require.True(t, ok)
	assert.Equal(t, "statistics-computed", msgs[1].Topic)
	assert.Equal(t, []string{"Python"}, event.Terms)
}

func TestStatsTextToCSVNeedsNoStore(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig("http://unused"),
		WithStoreOpener(func(context.Context) (store.Store, error) {
			return nil, errors.New("store must not be opened")
		}))
	path := filepath.Join(t.TempDir(), "statistics.csv")

	report, err := h.app.Stats(context.Background(), StatsOptions{
		Category: "Python",
		Text:     "Go <b>Docker</b> Go",
		CSVPath:  path,
	})
	require.NoError(t, err)
	assert.Equal(t, "csv:"+path, report.Sink)
	assert.Equal(t, now, report.Statistics.FromDatetime)
	assert.Equal(t, now, report.Statistics.ToDatetime)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, vacancy.StatisticsFields, rows[0])
	assert.Equal(t, `{"Go":2,"Docker":1}`, rows[1][3])
}

func TestStatsRejectsInvalidRequestBeforeIO(t *testing.T) {
	t.Parallel()

	opened := false
	h := newHarness(t, testConfig("http://unused"),
		WithStoreOpener(func(context.Context) (store.Store, error) {
			opened = true
			return storememory.New(), nil
		}))

	_, err := h.app.Stats(context.Background(), StatsOptions{
		Category: "Python",
		Text:     "Go",
		Window:   &analysis.Window{From: time.Hour},
	})
	require.ErrorIs(t, err, analysis.ErrInvalidRequest)

	_, err = h.app.Stats(context.Background(), StatsOptions{Category: "Python"})
	require.ErrorIs(t, err, analysis.ErrInvalidRequest)
	assert.False(t, opened)
	assert.Empty(t, h.pub.Messages())
}

func TestCrawlCSVWritesBothFiles(t *testing.T) {
	t.Parallel()

	srv := listingServer(t,
		item("Acme", "09:30 01.03.2024", 3, "Python Django"),
		item("Globex", "10:00 02.03.2024", 1, "Python Flask"),
	)
	h := newHarness(t, testConfig(srv.URL),
		WithStoreOpener(func(context.Context) (store.Store, error) {
			return nil, errors.New("store must not be opened")
		}))
	dir := t.TempDir()

	report, err := h.app.CrawlCSV(context.Background(), CrawlCSVOptions{
		Category:       "Python",
		VacanciesPath:  filepath.Join(dir, "vacancies.csv"),
		StatisticsPath: filepath.Join(dir, "statistics.csv"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Written)
	assert.Equal(t, "Python", report.Statistics.TechnologyFrequency[0].Term)
	assert.Equal(t, 2, report.Statistics.TechnologyFrequency[0].Count)

	_, err = os.Stat(filepath.Join(dir, "statistics.csv"))
	require.NoError(t, err)
}

func TestCrawlCSVCountsOnlyThisRun(t *testing.T) {
	t.Parallel()

	srv := listingServer(t,
		item("Acme", "09:30 01.03.2024", 3, "Python Django"),
		item("Globex", "10:00 02.03.2024", 1, "Python Flask"),
	)
	h := newHarness(t, testConfig(srv.URL))
	dir := t.TempDir()
	opts := CrawlCSVOptions{
		Category:       "Python",
		VacanciesPath:  filepath.Join(dir, "vacancies.csv"),
		StatisticsPath: filepath.Join(dir, "statistics.csv"),
	}

	for run := 1; run <= 2; run++ {
		report, err := h.app.CrawlCSV(context.Background(), opts)
		require.NoError(t, err, "run %d", run)
		assert.Equal(t, 2, report.Written, "run %d", run)
		assert.Equal(t, 2, report.Statistics.TechnologyFrequency[0].Count, "run %d", run)
	}

	raw, err := os.ReadFile(opts.VacanciesPath)
	require.NoError(t, err)
	assert.Equal(t, 5, strings.Count(string(raw), "\n"))
}

func TestCrawlCSVRequiresCategory(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig("http://unused"))
	_, err := h.app.CrawlCSV(context.Background(), CrawlCSVOptions{VacanciesPath: "a", StatisticsPath: "b"})
	require.ErrorIs(t, err, analysis.ErrInvalidRequest)
}

func TestNewBuildsConfiguredServices(t *testing.T) {
	t.Parallel()

	cfg := testConfig("http://unused")
	cfg.Archive = config.ArchiveConfig{Provider: config.ProviderMemory}
	a, err := New(context.Background(), cfg, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	assert.IsType(t, &notifymemory.Publisher{}, a.publisher)
	assert.IsType(t, &archivememory.BlobStore{}, a.archive)
	assert.IsType(t, &analysis.ProseTagger{}, a.tagger)

	// The memory backend survives across runs of one process.
	coll := cfg.Collections.Statistics
	stats := vacancy.Statistics{Category: "Go", FromDatetime: now, ToDatetime: now}
	require.NoError(t, a.WithStore(context.Background(), []upsert.Collection{coll}, func(s store.Store) error {
		it, err := store.NewItem(coll, stats.Document())
		if err != nil {
			return err
		}
		_, err = s.BulkUpsert(context.Background(), coll, []store.Item{it})
		return err
	}))
	require.NoError(t, a.WithStore(context.Background(), nil, func(s store.Store) error {
		var got []vacancy.Statistics
		if err := s.FindAll(context.Background(), coll, store.Query{}, &got); err != nil {
			return err
		}
		assert.Len(t, got, 1)
		return nil
	}))
}

func TestNewRejectsUnknownProviders(t *testing.T) {
	t.Parallel()

	cfg := testConfig("http://unused")
	cfg.Notify.Provider = "carrier-pigeon"
	_, err := New(context.Background(), cfg, WithLogger(zap.NewNop()))
	require.Error(t, err)

	cfg = testConfig("http://unused")
	cfg.Archive.Provider = "tape"
	_, err = New(context.Background(), cfg, WithLogger(zap.NewNop()))
	require.Error(t, err)

	cfg = testConfig("http://unused")
	cfg.Store.Provider = "redis"
	a, err := New(context.Background(), cfg, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	t.Cleanup(a.Close)
	err = a.WithStore(context.Background(), nil, func(store.Store) error { return nil })
	require.ErrorContains(t, err, "unknown store provider")
}
