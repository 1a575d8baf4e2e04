package scrape

import (
	"os"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/techtrend/internal/vacancy"
)

func loadFixture(t *testing.T, name string) *goquery.Document {
	t.Helper()
	f, err := os.Open("testdata/" + name)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	doc, err := goquery.NewDocumentFromReader(f)
	require.NoError(t, err)
	return doc
}

func TestParseListingFirstPage(t *testing.T) {
	t.Parallel()

	listing := ParseListing(loadFixture(t, "python_page1.html").Selection, "Python")

	require.Len(t, listing.Vacancies, 2)
	assert.Equal(t, 1, listing.Skipped)
	assert.Equal(t, "?primary_keyword=Python&page=2", listing.Next)

	acme := listing.Vacancies[0]
	assert.Equal(t, vacancy.Source, acme.Source)
	assert.Equal(t, "Python", acme.Category)
	assert.Equal(t, "Acme", acme.CompanyName)
	require.NotNil(t, acme.CompanyType)
	assert.Equal(t, "Product", *acme.CompanyType)
	assert.Equal(t, "We use Python and Django with PostgreSQL.", acme.Description)
	assert.Equal(t, 3, acme.YearsOfExperience)
	assert.True(t, acme.PublicationDate.Equal(time.Date(2024, 3, 1, 7, 30, 0, 0, time.UTC)),
		"got %s", acme.PublicationDate)
	require.NotNil(t, acme.Views)
	require.NotNil(t, acme.Applications)
	assert.Equal(t, 42, *acme.Views)
	assert.Equal(t, 7, *acme.Applications)
	require.NoError(t, acme.Validate())

	globex := listing.Vacancies[1]
	assert.Equal(t, "Outsource/staff", *globex.CompanyType)
	assert.Equal(t, 0, globex.YearsOfExperience)
	assert.Empty(t, globex.Description)
	assert.Nil(t, globex.Views)
	assert.Nil(t, globex.Applications)
	require.NoError(t, globex.Validate())
}

func TestParseListingLastPage(t *testing.T) {
	t.Parallel()

	listing := ParseListing(loadFixture(t, "python_page2.html").Selection, "Python")
	require.Len(t, listing.Vacancies, 1)
	assert.Empty(t, listing.Next)
	assert.Equal(t, 5, listing.Vacancies[0].YearsOfExperience)
}

func TestParseListingEmptyPage(t *testing.T) {
	t.Parallel()

	doc, err := goquery.NewDocumentFromReader(stringsReader("<html><body><p>nothing</p></body></html>"))
	require.NoError(t, err)
	listing := ParseListing(doc.Selection, "Go")
	assert.Empty(t, listing.Vacancies)
	assert.Zero(t, listing.Skipped)
	assert.Empty(t, listing.Next)
}
