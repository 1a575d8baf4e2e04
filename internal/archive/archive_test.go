package archive

import (
	"strings"
	"testing"
	"time"
)

func TestObjectPath(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 3, 9, 23, 30, 0, 0, time.FixedZone("EET", 2*60*60))
	first := ObjectPath("https://djinni.co/jobs/?primary_keyword=Python", at)
	second := ObjectPath("https://djinni.co/jobs/?primary_keyword=Python&page=2", at)

	if !strings.HasPrefix(first, "listings/2024-03-09/djinni.co_jobs_") {
		t.Fatalf("unexpected path %q", first)
	}
	if !strings.HasSuffix(first, ".html") {
		t.Fatalf("expected .html suffix, got %q", first)
	}
	if first == second {
		t.Fatalf("expected distinct paths for distinct pages, got %q", first)
	}
	if again := ObjectPath("https://djinni.co/jobs/?primary_keyword=Python", at); again != first {
		t.Fatalf("expected stable path, got %q then %q", first, again)
	}
}

func TestObjectPathInvalidURL(t *testing.T) {
	t.Parallel()

	got := ObjectPath("://bad", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	if !strings.HasPrefix(got, "listings/2024-01-01/unknown_") {
		t.Fatalf("unexpected path %q", got)
	}
}
