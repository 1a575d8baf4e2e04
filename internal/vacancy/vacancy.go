// Package vacancy defines the records persisted by the pipeline: scraped job
// postings and the technology statistics aggregated from them.
package vacancy

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Source is the provenance tag stamped on every scraped posting.
const Source = "djinni"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid record")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// VacancyFields lists the stored field names in export order.
var VacancyFields = []string{
	"source",
	"category",
	"company_name",
	"company_type",
	"description",
	"years_of_experience",
	"publication_date",
	"views",
	"applications",
}

// Vacancy is a single job posting as scraped from the listing pages.
type Vacancy struct {
	Source            string    `json:"source" bson:"source" validate:"eq=djinni"`
	Category          string    `json:"category" bson:"category" validate:"required"`
	CompanyName       string    `json:"company_name" bson:"company_name" validate:"required"`
	CompanyType       *string   `json:"company_type" bson:"company_type" validate:"omitnil,min=1"`
	Description       string    `json:"description" bson:"description"`
	YearsOfExperience int       `json:"years_of_experience" bson:"years_of_experience" validate:"gte=0"`
	PublicationDate   time.Time `json:"publication_date" bson:"publication_date"`
	Views             *int      `json:"views" bson:"views" validate:"omitnil,gte=0"`
	Applications      *int      `json:"applications" bson:"applications" validate:"omitnil,gte=0"`
}

// Validate rejects the whole record when any field is malformed.
func (v Vacancy) Validate() error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, describe(err))
	}
	if v.PublicationDate.IsZero() {
		return fmt.Errorf("%w: publication_date is required", ErrInvalid)
	}
	return nil
}

// Document flattens the vacancy into the mapping handed to the stores.
// Timestamps are normalized to UTC so natural keys compare consistently.
func (v Vacancy) Document() map[string]any {
	return map[string]any{
		"source":              v.Source,
		"category":            v.Category,
		"company_name":        v.CompanyName,
		"company_type":        nullableString(v.CompanyType),
		"description":         v.Description,
		"years_of_experience": v.YearsOfExperience,
		"publication_date":    v.PublicationDate.UTC(),
		"views":               nullableInt(v.Views),
		"applications":        nullableInt(v.Applications),
	}
}

// String returns a pointer to s, for the nullable fields.
func String(s string) *string {
	return &s
}

// Int returns a pointer to n, for the nullable fields.
func Int(n int) *int {
	return &n
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableInt(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
