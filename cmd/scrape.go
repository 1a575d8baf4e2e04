package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/techtrend/internal/app"
)

func newScrapeCmd() *cobra.Command {
	var opts app.ScrapeOptions

	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Scrapes job listings and upserts them into the store",
		Long: `Walks the paginated listing pages of every configured category, validates
each posting and commits all of them to the vacancies collection in one bulk
upsert once the crawl ends. Re-running over the same postings updates them in
place.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			report, err := appInstance.Scrape(cmd.Context(), opts)
			if err != nil {
				return err
			}
			appInstance.Logger().Info("Scrape command finished.",
				zap.String("run_id", report.RunID),
				zap.Int("pages", report.Summary.Pages),
				zap.Int("staged", report.Staged),
				zap.Int("rejected", report.Rejected),
				zap.Int("inserted", report.Result.Inserted),
				zap.Int("matched", report.Result.Matched),
			)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&opts.Categories, "category", nil, "category to scrape; repeatable (default from config)")
	cmd.Flags().IntVar(&opts.MaxPages, "max-pages", 0, "pages to follow per category (default from config)")
	return cmd
}
