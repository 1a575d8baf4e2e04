// Package cmd defines and implements the CLI commands for the techtrend executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/techtrend/internal/app"
	"github.com/JakeFAU/techtrend/internal/config"
	"github.com/JakeFAU/techtrend/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// This allows us to inject a mock app during tests.
type App interface {
	Close()
	Logger() *zap.Logger
	Config() config.Config
	Scrape(ctx context.Context, opts app.ScrapeOptions) (app.ScrapeReport, error)
	Stats(ctx context.Context, opts app.StatsOptions) (app.StatsReport, error)
	CrawlCSV(ctx context.Context, opts app.CrawlCSVOptions) (app.CrawlCSVReport, error)
}

// newApp is the application factory. It's a variable so we can
// replace it with a mock factory in our tests.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}

// session owns the App built for one command invocation.
type session struct {
	app App
}

// close releases the App once; later calls are no-ops.
func (s *session) close() {
	if s.app != nil {
		s.app.Close()
		s.app = nil
	}
}

// newRootCmd creates and configures the root command. The returned func
// closes the App when a failed command skipped PersistentPostRun.
func newRootCmd() (*cobra.Command, func()) {
	var cfgPath string
	s := &session{}

	cmd := &cobra.Command{
		Use:   "techtrend",
		Short: "Tracks which technologies djinni job postings ask for.",
		Long: `techtrend scrapes djinni job listings per category, upserts the postings
into a document store keyed by their natural key, and aggregates the proper
nouns of their descriptions into technology frequency statistics.`,
		SilenceUsage: true,

		// Build the application once flags are parsed and before the
		// subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgPath)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			s.app = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(*cobra.Command, []string) {
			s.close()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (YAML); env TECHTREND_* overrides it")

	cmd.AddCommand(newScrapeCmd(), newStatsCmd(), newCrawlCSVCmd())
	return cmd, s.close
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute(ctx context.Context) {
	root, closeApp := newRootCmd()
	err := root.ExecuteContext(ctx)
	closeApp()
	if err != nil {
		logger, lerr := logging.New(logging.Config{})
		if lerr != nil {
			fmt.Fprintf(os.Stderr, "command execution failed: %v\n", err)
			os.Exit(1)
		}
		logger.Fatal("Command execution failed", zap.Error(err))
	}
}
