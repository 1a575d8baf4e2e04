// Package config loads and validates techtrend configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/techtrend/internal/archive/gcs"
	"github.com/JakeFAU/techtrend/internal/archive/local"
	"github.com/JakeFAU/techtrend/internal/logging"
	"github.com/JakeFAU/techtrend/internal/notify/kafka"
	"github.com/JakeFAU/techtrend/internal/notify/pubsub"
	"github.com/JakeFAU/techtrend/internal/scrape"
	elasticstore "github.com/JakeFAU/techtrend/internal/store/elastic"
	mongostore "github.com/JakeFAU/techtrend/internal/store/mongo"
	"github.com/JakeFAU/techtrend/internal/store/postgres"
	"github.com/JakeFAU/techtrend/internal/upsert"
)

// Store providers.
const (
	ProviderMongo         = "mongo"
	ProviderElasticsearch = "elasticsearch"
	ProviderPostgres      = "postgres"
	ProviderMemory        = "memory"
)

// Archive and notify providers share the "none" and "memory" values.
const (
	ProviderNone   = "none"
	ProviderLocal  = "local"
	ProviderGCS    = "gcs"
	ProviderPubSub = "pubsub"
	ProviderKafka  = "kafka"
)

// envBindings maps config keys to the bare environment names used by existing
// deployments, alongside the TECHTREND_ prefixed form.
var envBindings = map[string]string{
	"store.mongo.is_test":      "IS_TEST",
	"store.mongo.host":         "MONGODB_HOST",
	"store.mongo.port":         "MONGODB_PORT",
	"store.mongo.username":     "MONGODB_USERNAME",
	"store.mongo.password":     "MONGODB_PASSWORD",
	"store.mongo.cluster_host": "MONGODB_CLUSTER_HOST",
}

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Logging     logging.Config    `mapstructure:"logging"`
	Store       StoreConfig       `mapstructure:"store"`
	Collections CollectionsConfig `mapstructure:"collections"`
	Scrape      scrape.Config     `mapstructure:"scrape"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
	Notify      NotifyConfig      `mapstructure:"notify"`
	Analysis    AnalysisConfig    `mapstructure:"analysis"`
	Export      ExportConfig      `mapstructure:"export"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
}

// StoreConfig selects the document store backend.
type StoreConfig struct {
	Provider      string              `mapstructure:"provider"`
	Mongo         mongostore.Config   `mapstructure:"mongo"`
	Elasticsearch elasticstore.Config `mapstructure:"elasticsearch"`
	Postgres      postgres.Config     `mapstructure:"postgres"`
}

// CollectionsConfig declares where each record kind lives and its natural key.
type CollectionsConfig struct {
	Vacancies  upsert.Collection `mapstructure:"vacancies"`
	Statistics upsert.Collection `mapstructure:"statistics"`
}

// ArchiveConfig selects where raw listing pages are kept.
type ArchiveConfig struct {
	Provider string       `mapstructure:"provider"`
	Local    local.Config `mapstructure:"local"`
	GCS      gcs.Config   `mapstructure:"gcs"`
}

// NotifyConfig selects the event broker and topic names.
type NotifyConfig struct {
	Provider        string        `mapstructure:"provider"`
	IngestTopic     string        `mapstructure:"ingest_topic"`
	StatisticsTopic string        `mapstructure:"statistics_topic"`
	PubSub          pubsub.Config `mapstructure:"pubsub"`
	Kafka           kafka.Config  `mapstructure:"kafka"`
}

// AnalysisConfig holds the aggregation defaults a stats run starts from.
type AnalysisConfig struct {
	StopwordFiles []string      `mapstructure:"stopword_files"`
	ExtraFilters  []string      `mapstructure:"extra_filters"`
	Limit         int           `mapstructure:"limit"`
	WindowFrom    time.Duration `mapstructure:"window_from"`
	WindowTo      time.Duration `mapstructure:"window_to"`
}

// ExportConfig names the flat files used by the CSV modes.
type ExportConfig struct {
	VacanciesCSV  string `mapstructure:"vacancies_csv"`
	StatisticsCSV string `mapstructure:"statistics_csv"`
}

// MetricsConfig enables the Prometheus endpoint for the lifetime of a run.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// TracingConfig toggles the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// Load builds a Config from defaults, an optional file, a .env file and the
// environment. Later sources win.
func Load(path string) (Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("TECHTREND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, "TECHTREND_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("logging.encoding", "")

	v.SetDefault("store.provider", ProviderMongo)
	v.SetDefault("store.mongo.is_test", false)
	v.SetDefault("store.mongo.host", "localhost")
	v.SetDefault("store.mongo.port", 27017)
	v.SetDefault("store.mongo.username", "")
	v.SetDefault("store.mongo.password", "")
	v.SetDefault("store.mongo.cluster_host", "")
	v.SetDefault("store.mongo.app_name", "techtrend")
	v.SetDefault("store.mongo.connect_timeout", "10s")
	v.SetDefault("store.elasticsearch.addresses", []string{"http://localhost:9200"})
	v.SetDefault("store.elasticsearch.username", "")
	v.SetDefault("store.elasticsearch.password", "")
	v.SetDefault("store.elasticsearch.refresh", "wait_for")
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.max_conns", 4)

	v.SetDefault("collections.vacancies.database", "vacancy_statistics")
	v.SetDefault("collections.vacancies.name", "vacancies")
	v.SetDefault("collections.vacancies.keys", []map[string]any{
		{"field": "publication_date", "order": -1},
		{"field": "company_name", "order": 1},
		{"field": "years_of_experience", "order": 1},
	})
	v.SetDefault("collections.statistics.database", "vacancy_statistics")
	v.SetDefault("collections.statistics.name", "statistics")
	v.SetDefault("collections.statistics.keys", []map[string]any{
		{"field": "category", "order": 1},
	})

	v.SetDefault("scrape.base_url", "https://djinni.co/jobs/")
	v.SetDefault("scrape.categories", []string{"Python"})
	v.SetDefault("scrape.max_pages", scrape.DefaultMaxPages)
	v.SetDefault("scrape.user_agent", "techtrend-bot/0.1")
	v.SetDefault("scrape.allowed_domains", []string{"djinni.co"})
	v.SetDefault("scrape.delay", "1s")
	v.SetDefault("scrape.parallelism", 1)
	v.SetDefault("scrape.timeout", "15s")
	v.SetDefault("scrape.render_js", false)
	v.SetDefault("scrape.render_timeout", "25s")
	v.SetDefault("scrape.render_qps", 0.5)

	v.SetDefault("archive.provider", ProviderNone)
	v.SetDefault("archive.local.base_dir", "data/listings")
	v.SetDefault("archive.gcs.bucket", "")
	v.SetDefault("archive.gcs.prefix", "techtrend")

	v.SetDefault("notify.provider", ProviderNone)
	v.SetDefault("notify.ingest_topic", "vacancies-ingested")
	v.SetDefault("notify.statistics_topic", "statistics-computed")
	v.SetDefault("notify.pubsub.project_id", "")
	v.SetDefault("notify.pubsub.topic_prefix", "")
	v.SetDefault("notify.kafka.brokers", []string{})
	v.SetDefault("notify.kafka.topic_prefix", "")
	v.SetDefault("notify.kafka.max_attempts", 3)

	v.SetDefault("analysis.stopword_files", []string{
		"assets/stopwords/ukrainian-stopwords.json",
		"assets/stopwords/common-words.json",
	})
	v.SetDefault("analysis.extra_filters", []string{})
	v.SetDefault("analysis.limit", 20)
	v.SetDefault("analysis.window_from", "720h")
	v.SetDefault("analysis.window_to", "0s")

	v.SetDefault("export.vacancies_csv", "vacancies.csv")
	v.SetDefault("export.statistics_csv", "statistics.csv")

	v.SetDefault("metrics.addr", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "techtrend")
}

// Validate enforces required values before any network I/O.
func (c Config) Validate() error {
	var errs []error
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Store.Provider {
	case ProviderMongo:
		if err := validateMongo(c.Store.Mongo); err != nil {
			errs = append(errs, err)
		}
	case ProviderElasticsearch:
		if len(c.Store.Elasticsearch.Addresses) == 0 {
			errs = append(errs, fmt.Errorf("store.elasticsearch.addresses must not be empty"))
		}
	case ProviderPostgres:
		if c.Store.Postgres.DSN == "" {
			errs = append(errs, fmt.Errorf("store.postgres.dsn is required"))
		}
	case ProviderMemory:
	default:
		errs = append(errs, fmt.Errorf("store.provider %q is not supported", c.Store.Provider))
	}

	if err := c.Collections.Vacancies.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("collections.vacancies: %w", err))
	}
	if err := c.Collections.Statistics.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("collections.statistics: %w", err))
	}

	switch c.Archive.Provider {
	case ProviderNone, ProviderMemory:
	case ProviderLocal:
		if c.Archive.Local.BaseDir == "" {
			errs = append(errs, fmt.Errorf("archive.local.base_dir is required"))
		}
	case ProviderGCS:
		if c.Archive.GCS.Bucket == "" {
			errs = append(errs, fmt.Errorf("archive.gcs.bucket is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("archive.provider %q is not supported", c.Archive.Provider))
	}

	switch c.Notify.Provider {
	case ProviderNone, ProviderMemory:
	case ProviderPubSub:
		if c.Notify.PubSub.ProjectID == "" {
			errs = append(errs, fmt.Errorf("notify.pubsub.project_id is required"))
		}
	case ProviderKafka:
		if len(c.Notify.Kafka.Brokers) == 0 {
			errs = append(errs, fmt.Errorf("notify.kafka.brokers must not be empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("notify.provider %q is not supported", c.Notify.Provider))
	}

	if len(c.Analysis.StopwordFiles) == 0 {
		errs = append(errs, fmt.Errorf("analysis.stopword_files must not be empty"))
	}
	if c.Analysis.Limit < 0 {
		errs = append(errs, fmt.Errorf("analysis.limit must be >= 0"))
	}
	if c.Analysis.WindowTo < 0 || c.Analysis.WindowFrom < c.Analysis.WindowTo {
		errs = append(errs, fmt.Errorf("analysis window must satisfy window_from >= window_to >= 0"))
	}
	if c.Scrape.MaxPages < 0 {
		errs = append(errs, fmt.Errorf("scrape.max_pages must be >= 0"))
	}
	return errors.Join(errs...)
}

func validateMongo(m mongostore.Config) error {
	if m.IsTest {
		if m.Port <= 0 {
			return fmt.Errorf("store.mongo.port must be > 0")
		}
		return nil
	}
	var missing []string
	if m.Username == "" {
		missing = append(missing, "username")
	}
	if m.Password == "" {
		missing = append(missing, "password")
	}
	if m.ClusterHost == "" {
		missing = append(missing, "cluster_host")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: store.mongo %s required outside test mode",
			mongostore.ErrMissingCredentials, strings.Join(missing, ", "))
	}
	return nil
}
