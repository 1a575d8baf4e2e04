// Package archive keeps raw listing pages next to the parsed vacancies so a
// parser change can be replayed against past crawls.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// ContentTypeHTML is the content type used for listing pages.
const ContentTypeHTML = "text/html; charset=utf-8"

// BlobStore persists one object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// ObjectPath builds listings/YYYY-MM-DD/<host>_<path>_<hash>.html for a page.
// The hash covers the full URL so paginated pages do not collide.
func ObjectPath(rawURL string, fetchedAt time.Time) string {
	host, path := "unknown", ""
	if u, err := url.Parse(rawURL); err == nil {
		if u.Hostname() != "" {
			host = strings.ToLower(u.Hostname())
		}
		path = strings.Trim(u.Path, "/")
	}
	slug := unsafeChars.ReplaceAllString(host+"_"+path, "_")
	slug = strings.Trim(slug, "_")
	if len(slug) > 80 {
		slug = slug[:80]
	}
	sum := sha256.Sum256([]byte(rawURL))
	return fmt.Sprintf("listings/%s/%s_%s.html",
		fetchedAt.UTC().Format("2006-01-02"), slug, hex.EncodeToString(sum[:])[:16])
}
