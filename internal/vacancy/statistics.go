package vacancy

import (
	"fmt"
	"time"
)

// StatisticsFields lists the stored field names in export order.
var StatisticsFields = []string{
	"category",
	"from_datetime",
	"to_datetime",
	"technology_frequency",
}

// Statistics is the result of one aggregation run over a category.
type Statistics struct {
	Category            string      `json:"category" bson:"category" validate:"required"`
	FromDatetime        time.Time   `json:"from_datetime" bson:"from_datetime"`
	ToDatetime          time.Time   `json:"to_datetime" bson:"to_datetime"`
	TechnologyFrequency Frequencies `json:"technology_frequency" bson:"technology_frequency"`
}

// Validate checks the window bounds and the distribution entries.
func (s Statistics) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, describe(err))
	}
	if s.FromDatetime.IsZero() || s.ToDatetime.IsZero() {
		return fmt.Errorf("%w: from_datetime and to_datetime are required", ErrInvalid)
	}
	if s.FromDatetime.After(s.ToDatetime) {
		return fmt.Errorf("%w: from_datetime %s is after to_datetime %s",
			ErrInvalid, s.FromDatetime.Format(time.RFC3339), s.ToDatetime.Format(time.RFC3339))
	}
	seen := make(map[string]struct{}, len(s.TechnologyFrequency))
	for _, tc := range s.TechnologyFrequency {
		if tc.Term == "" {
			return fmt.Errorf("%w: technology_frequency has an empty term", ErrInvalid)
		}
		if tc.Count < 1 {
			return fmt.Errorf("%w: technology_frequency[%s] must be positive", ErrInvalid, tc.Term)
		}
		if _, dup := seen[tc.Term]; dup {
			return fmt.Errorf("%w: technology_frequency repeats %q", ErrInvalid, tc.Term)
		}
		seen[tc.Term] = struct{}{}
	}
	return nil
}

// Document flattens the statistics into the mapping handed to the stores.
func (s Statistics) Document() map[string]any {
	freq := s.TechnologyFrequency
	if freq == nil {
		freq = Frequencies{}
	}
	return map[string]any{
		"category":             s.Category,
		"from_datetime":        s.FromDatetime.UTC(),
		"to_datetime":          s.ToDatetime.UTC(),
		"technology_frequency": freq,
	}
}
