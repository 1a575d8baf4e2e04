package scrape

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // Europe/Kyiv on hosts without a zoneinfo database

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/techtrend/internal/vacancy"
)

const (
	listingItemSelector = "ul .list-jobs__item"
	nextPageSelector    = ".pagination li.active + li a"

	companySelector     = "header a.mr-2"
	jobInfoSelector     = ".job-list-item__job-info span"
	descriptionSelector = ".job-list-item__description span[data-original-text]"
	publishedSelector   = "span.text-muted span.mr-2.nobr"
	counterSelector     = "span.text-muted span.nobr .mr-2"

	// PublishedLayout is the format of the publication timestamp title.
	PublishedLayout = "15:04 02.01.2006"

	productMarker = "Product"
	outsourceType = "Outsource/staff"
)

var (
	firstInt = regexp.MustCompile(`\b(\d+)\b`)

	// listingLocation is the zone the listing timestamps are written in.
	listingLocation = mustLoadLocation("Europe/Kyiv")

	errMissingDate = errors.New("publication date is missing")
)

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("load location %s: %v", name, err))
	}
	return loc
}

// Listing is the parsed content of one listing page.
type Listing struct {
	Vacancies []vacancy.Vacancy
	// Skipped counts items whose timestamp could not be read.
	Skipped int
	// Next is the raw href of the following page, empty on the last page.
	Next string
}

// ParseListing extracts every vacancy item of a listing page. The same parser
// serves colly responses and rendered pages.
func ParseListing(root *goquery.Selection, category string) Listing {
	var out Listing
	root.Find(listingItemSelector).Each(func(_ int, item *goquery.Selection) {
		v, err := parseItem(item, category)
		if err != nil {
			out.Skipped++
			return
		}
		out.Vacancies = append(out.Vacancies, v)
	})
	if href, ok := root.Find(nextPageSelector).First().Attr("href"); ok {
		out.Next = strings.TrimSpace(href)
	}
	return out
}

func parseItem(item *goquery.Selection, category string) (vacancy.Vacancy, error) {
	published, err := parsePublished(item)
	if err != nil {
		return vacancy.Vacancy{}, err
	}

	years, companyType := 0, outsourceType
	item.Find(jobInfoSelector).Each(func(_ int, info *goquery.Selection) {
		text := info.Text()
		if m := firstInt.FindStringSubmatch(text); m != nil {
			if n, convErr := strconv.Atoi(m[1]); convErr == nil {
				years = n
			}
		}
		if strings.Contains(text, productMarker) {
			companyType = productMarker
		}
	})

	description, _ := item.Find(descriptionSelector).First().Attr("data-original-text")

	counters := item.Find(counterSelector)
	return vacancy.Vacancy{
		Source:            vacancy.Source,
		Category:          category,
		CompanyName:       strings.TrimSpace(item.Find(companySelector).First().Text()),
		CompanyType:       vacancy.String(companyType),
		Description:       description,
		YearsOfExperience: years,
		PublicationDate:   published,
		Views:             counterAt(counters, 0),
		Applications:      counterAt(counters, 1),
	}, nil
}

func parsePublished(item *goquery.Selection) (time.Time, error) {
	title, ok := item.Find(publishedSelector).First().Attr("title")
	if !ok || strings.TrimSpace(title) == "" {
		return time.Time{}, errMissingDate
	}
	t, err := time.ParseInLocation(PublishedLayout, strings.TrimSpace(title), listingLocation)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse publication date %q: %w", title, err)
	}
	return t, nil
}

// counterAt reads the leading integer of the idx-th counter title. A missing
// counter is reported as unknown rather than zero.
func counterAt(counters *goquery.Selection, idx int) *int {
	if counters.Length() <= idx {
		return nil
	}
	title, ok := counters.Eq(idx).Attr("title")
	if !ok {
		return nil
	}
	m := firstInt.FindStringSubmatch(title)
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return vacancy.Int(n)
}
