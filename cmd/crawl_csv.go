package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/techtrend/internal/app"
)

func newCrawlCSVCmd() *cobra.Command {
	var opts app.CrawlCSVOptions

	cmd := &cobra.Command{
		Use:   "crawl-csv",
		Short: "Scrapes one category into CSV files without a store",
		Long: `Scrapes a single category, appends the valid postings to the vacancy CSV,
then aggregates the descriptions read back from that file and appends the
statistics row to the statistics CSV.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := appInstance.Config()
			if opts.VacanciesPath == "" {
				opts.VacanciesPath = cfg.Export.VacanciesCSV
			}
			if opts.StatisticsPath == "" {
				opts.StatisticsPath = cfg.Export.StatisticsCSV
			}
			if opts.Limit == 0 {
				opts.Limit = cfg.Analysis.Limit
			}
			report, err := appInstance.CrawlCSV(cmd.Context(), opts)
			if err != nil {
				return err
			}
			appInstance.Logger().Info("Crawl-csv command finished.",
				zap.String("run_id", report.RunID),
				zap.Int("written", report.Written),
				zap.Int("rejected", report.Rejected),
				zap.Strings("terms", report.Statistics.TechnologyFrequency.Terms()),
			)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.Category, "category", "", "category to scrape (required)")
	flags.IntVar(&opts.MaxPages, "max-pages", 0, "pages to follow (default from config)")
	flags.StringVar(&opts.VacanciesPath, "vacancies", "", "vacancy CSV path (default from config)")
	flags.StringVar(&opts.StatisticsPath, "statistics", "", "statistics CSV path (default from config)")
	flags.IntVar(&opts.Limit, "limit", 0, "maximum number of terms (default from config)")
	flags.StringSliceVar(&opts.ExtraFilters, "extra-filter", nil, "additional literal to strip before tagging; repeatable")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}
