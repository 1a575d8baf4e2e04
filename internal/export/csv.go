// Package export appends records to CSV files.
package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/JakeFAU/techtrend/internal/vacancy"
)

// appendRows opens path for appending, writes header first when the file is
// new or empty, then writes rows.
func appendRows(path string, header []string, rows [][]string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(header); err != nil {
			f.Close()
			return fmt.Errorf("write header: %w", err)
		}
	}
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return fmt.Errorf("write rows: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// StatisticsCSV is an append-only log of aggregation results. It never
// deduplicates: every Append adds a row.
type StatisticsCSV struct {
	Path string
}

// Append writes one statistics row.
func (s StatisticsCSV) Append(stats vacancy.Statistics) error {
	freq, err := stats.TechnologyFrequency.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode technology_frequency: %w", err)
	}
	row := []string{
		stats.Category,
		stats.FromDatetime.UTC().Format(time.RFC3339),
		stats.ToDatetime.UTC().Format(time.RFC3339),
		string(freq),
	}
	return appendRows(s.Path, vacancy.StatisticsFields, [][]string{row})
}

// VacancyCSV appends scraped vacancies, used when crawling without a store.
type VacancyCSV struct {
	Path string
}

// Append writes the vacancies as rows.
func (v VacancyCSV) Append(items ...vacancy.Vacancy) error {
	if len(items) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		rows = append(rows, []string{
			it.Source,
			it.Category,
			it.CompanyName,
			optionalString(it.CompanyType),
			it.Description,
			strconv.Itoa(it.YearsOfExperience),
			it.PublicationDate.UTC().Format(time.RFC3339),
			optionalInt(it.Views),
			optionalInt(it.Applications),
		})
	}
	return appendRows(v.Path, vacancy.VacancyFields, rows)
}

func optionalString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optionalInt(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}
