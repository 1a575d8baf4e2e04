// The main package for the techtrend executable.
//
// Commands:
//   - scrape: crawls the djinni listing pages of the configured categories, validates
//     every posting and commits them as one bulk upsert keyed by
//     (publication_date, company_name, years_of_experience). An ingest event is
//     published when a notify provider is configured.
//   - stats: aggregates the proper nouns of a category's descriptions over a time window
//     (or of a given text) into a ranked frequency distribution, then upserts it into
//     the statistics collection or appends it to a CSV file.
//   - crawl-csv: the store-free mode. Scrapes one category into a vacancy CSV and
//     appends the aggregated statistics to a statistics CSV.
//
// Configuration & plumbing: viper reads config.yaml plus TECHTREND_* env vars (and the
// IS_TEST / MONGODB_* names, optionally from .env); zap provides structured logging;
// Prometheus metrics are served on metrics.addr for the lifetime of a run when set.
// The store provider is one of mongo, elasticsearch, postgres or memory.
//
// Quick checklist:
//   - Test mode: IS_TEST=true MONGODB_HOST=localhost MONGODB_PORT=27017 techtrend scrape
//   - Production: MONGODB_USERNAME, MONGODB_PASSWORD and MONGODB_CLUSTER_HOST are required.
//   - Run locally: go run . stats --category Python --from 720h
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/JakeFAU/techtrend/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd.Execute(ctx)
}
