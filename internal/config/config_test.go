package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mongostore "github.com/JakeFAU/techtrend/internal/store/mongo"
	"github.com/JakeFAU/techtrend/internal/upsert"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadWithFileOverrides(t *testing.T) {
	path := writeConfig(t, `
logging:
  development: false
  level: warn
store:
  provider: postgres
  postgres:
    dsn: postgres://localhost/techtrend
collections:
  statistics:
    database: vacancy_statistics
    name: statistics
    keys:
      - field: category
        order: 1
      - field: from_datetime
        order: -1
      - field: to_datetime
        order: -1
scrape:
  categories: [Python, Golang]
  max_pages: 3
  delay: 250ms
notify:
  provider: kafka
  kafka:
    brokers: ["kafka:9092"]
analysis:
  limit: 10
  window_from: 240h
  window_to: 24h
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.False(t, cfg.Logging.Development)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, ProviderPostgres, cfg.Store.Provider)
	assert.Equal(t, "postgres://localhost/techtrend", cfg.Store.Postgres.DSN)
	assert.Equal(t, []string{"Python", "Golang"}, cfg.Scrape.Categories)
	assert.Equal(t, 3, cfg.Scrape.MaxPages)
	assert.Equal(t, 250*time.Millisecond, cfg.Scrape.Delay)
	assert.Equal(t, []string{"kafka:9092"}, cfg.Notify.Kafka.Brokers)
	assert.Equal(t, 10, cfg.Analysis.Limit)
	assert.Equal(t, 240*time.Hour, cfg.Analysis.WindowFrom)
	assert.Equal(t, 24*time.Hour, cfg.Analysis.WindowTo)
	assert.Equal(t, []upsert.Key{
		{Field: "category", Order: upsert.Ascending},
		{Field: "from_datetime", Order: upsert.Descending},
		{Field: "to_datetime", Order: upsert.Descending},
	}, cfg.Collections.Statistics.Keys)
}

func TestLoadDefaultsInTestMode(t *testing.T) {
	t.Setenv("IS_TEST", "true")
	t.Setenv("MONGODB_PORT", "27018")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, ProviderMongo, cfg.Store.Provider)
	assert.True(t, cfg.Store.Mongo.IsTest)
	assert.Equal(t, "localhost", cfg.Store.Mongo.Host)
	assert.Equal(t, 27018, cfg.Store.Mongo.Port)
	assert.Equal(t, 10*time.Second, cfg.Store.Mongo.ConnectTimeout)
	assert.Equal(t, "https://djinni.co/jobs/", cfg.Scrape.BaseURL)
	assert.Equal(t, 20, cfg.Analysis.Limit)
	assert.Equal(t, 720*time.Hour, cfg.Analysis.WindowFrom)
	assert.Equal(t, []string{"publication_date", "company_name", "years_of_experience"},
		cfg.Collections.Vacancies.KeyFields())
	assert.Equal(t, upsert.Descending, cfg.Collections.Vacancies.Keys[0].Order)
	assert.Equal(t, []string{"category"}, cfg.Collections.Statistics.KeyFields())
}

func TestLoadRequiresProductionCredentials(t *testing.T) {
	t.Setenv("IS_TEST", "false")
	t.Setenv("MONGODB_USERNAME", "reader")
	t.Setenv("MONGODB_PASSWORD", "")
	t.Setenv("MONGODB_CLUSTER_HOST", "")

	_, err := Load("")
	require.Error(t, err)
	assert.True(t, errors.Is(err, mongostore.ErrMissingCredentials))
	assert.ErrorContains(t, err, "password, cluster_host")
}

func TestLoadProductionCredentialsFromEnv(t *testing.T) {
	t.Setenv("IS_TEST", "false")
	t.Setenv("MONGODB_USERNAME", "reader")
	t.Setenv("MONGODB_PASSWORD", "s3cret")
	t.Setenv("MONGODB_CLUSTER_HOST", "cluster0.abcde")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "cluster0.abcde", cfg.Store.Mongo.ClusterHost)
}

func TestLoadPrefixedEnvOverride(t *testing.T) {
	t.Setenv("IS_TEST", "true")
	t.Setenv("TECHTREND_STORE_PROVIDER", "memory")
	t.Setenv("TECHTREND_METRICS_ADDR", "127.0.0.1:9100")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ProviderMemory, cfg.Store.Provider)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.Addr)
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("IS_TEST", "true")

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func validConfig() Config {
	return Config{
		Store: StoreConfig{Provider: ProviderMemory},
		Collections: CollectionsConfig{
			Vacancies: upsert.Collection{
				Database: "vacancy_statistics",
				Name:     "vacancies",
				Keys:     []upsert.Key{{Field: "publication_date", Order: upsert.Descending}},
			},
			Statistics: upsert.Collection{
				Database: "vacancy_statistics",
				Name:     "statistics",
				Keys:     []upsert.Key{{Field: "category", Order: upsert.Ascending}},
			},
		},
		Archive:  ArchiveConfig{Provider: ProviderNone},
		Notify:   NotifyConfig{Provider: ProviderNone},
		Analysis: AnalysisConfig{StopwordFiles: []string{"stop.json"}, Limit: 20, WindowFrom: time.Hour},
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "unknown store", mutate: func(c *Config) { c.Store.Provider = "redis" }, wantErr: "store.provider"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Store.Provider = ProviderPostgres }, wantErr: "store.postgres.dsn"},
		{name: "elastic without addresses", mutate: func(c *Config) { c.Store.Provider = ProviderElasticsearch }, wantErr: "store.elasticsearch.addresses"},
		{name: "collection without keys", mutate: func(c *Config) { c.Collections.Vacancies.Keys = nil }, wantErr: "collections.vacancies"},
		{name: "local archive without dir", mutate: func(c *Config) { c.Archive.Provider = ProviderLocal }, wantErr: "archive.local.base_dir"},
		{name: "gcs archive without bucket", mutate: func(c *Config) { c.Archive.Provider = ProviderGCS }, wantErr: "archive.gcs.bucket"},
		{name: "pubsub without project", mutate: func(c *Config) { c.Notify.Provider = ProviderPubSub }, wantErr: "notify.pubsub.project_id"},
		{name: "kafka without brokers", mutate: func(c *Config) { c.Notify.Provider = ProviderKafka }, wantErr: "notify.kafka.brokers"},
		{name: "no stopwords", mutate: func(c *Config) { c.Analysis.StopwordFiles = nil }, wantErr: "analysis.stopword_files"},
		{name: "negative limit", mutate: func(c *Config) { c.Analysis.Limit = -1 }, wantErr: "analysis.limit"},
		{name: "inverted window", mutate: func(c *Config) { c.Analysis.WindowTo = 2 * time.Hour }, wantErr: "analysis window"},
		{name: "unknown log level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "logging.level"},
		{name: "unknown log encoding", mutate: func(c *Config) { c.Logging.Encoding = "xml" }, wantErr: "logging.encoding"},
		{name: "negative pages", mutate: func(c *Config) { c.Scrape.MaxPages = -1 }, wantErr: "scrape.max_pages"},
		{name: "mongo test mode without port", mutate: func(c *Config) {
			c.Store.Provider = ProviderMongo
			c.Store.Mongo.IsTest = true
		}, wantErr: "store.mongo.port"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}
