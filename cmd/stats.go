package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/techtrend/internal/analysis"
	"github.com/JakeFAU/techtrend/internal/app"
)

type statsFlags struct {
	category     string
	from         time.Duration
	to           time.Duration
	text         string
	textFile     string
	csvPath      string
	limit        int
	extraFilters []string
}

func newStatsCmd() *cobra.Command {
	var f statsFlags

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Computes technology frequency statistics for a category",
		Long: `Aggregates the proper nouns of a category's postings into a ranked frequency
distribution. By default the postings published between now-from and now-to
are read from the store; --text or --text-file aggregates the given text
instead. The result is upserted into the statistics collection unless --csv
names a file to append it to.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			opts, err := f.options(cmd, appInstance)
			if err != nil {
				return err
			}
			report, err := appInstance.Stats(cmd.Context(), opts)
			if err != nil {
				return err
			}
			appInstance.Logger().Info("Stats command finished.",
				zap.String("run_id", report.RunID),
				zap.String("category", report.Statistics.Category),
				zap.Strings("terms", report.Statistics.TechnologyFrequency.Terms()),
				zap.String("sink", report.Sink),
			)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.category, "category", "", "category to aggregate (required)")
	flags.DurationVar(&f.from, "from", 0, "window start as an offset before now (default from config)")
	flags.DurationVar(&f.to, "to", 0, "window end as an offset before now (default from config)")
	flags.StringVar(&f.text, "text", "", "aggregate this text instead of stored postings")
	flags.StringVar(&f.textFile, "text-file", "", "aggregate the contents of this file instead of stored postings")
	flags.StringVar(&f.csvPath, "csv", "", "append the result to this CSV file instead of the store")
	flags.IntVar(&f.limit, "limit", 0, "maximum number of terms (default from config)")
	flags.StringSliceVar(&f.extraFilters, "extra-filter", nil, "additional literal to strip before tagging; repeatable")
	cmd.MarkFlagsMutuallyExclusive("text", "text-file")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func (f statsFlags) options(cmd *cobra.Command, appInstance App) (app.StatsOptions, error) {
	cfg := appInstance.Config()
	opts := app.StatsOptions{
		Category:     f.category,
		Text:         f.text,
		Limit:        f.limit,
		ExtraFilters: f.extraFilters,
		CSVPath:      f.csvPath,
	}
	if opts.Limit == 0 {
		opts.Limit = cfg.Analysis.Limit
	}
	if f.textFile != "" {
		raw, err := os.ReadFile(f.textFile)
		if err != nil {
			return opts, fmt.Errorf("read text file: %w", err)
		}
		opts.Text = string(raw)
		if opts.Text == "" {
			return opts, fmt.Errorf("%w: text file %s is empty", analysis.ErrInvalidRequest, f.textFile)
		}
	}

	windowSet := cmd.Flags().Changed("from") || cmd.Flags().Changed("to")
	if opts.Text != "" {
		if windowSet {
			return opts, errors.New("--from/--to cannot be combined with --text or --text-file")
		}
		return opts, nil
	}
	window := &analysis.Window{From: cfg.Analysis.WindowFrom, To: cfg.Analysis.WindowTo}
	if cmd.Flags().Changed("from") {
		window.From = f.from
	}
	if cmd.Flags().Changed("to") {
		window.To = f.to
	}
	opts.Window = window
	return opts, nil
}
