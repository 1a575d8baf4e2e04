package analysis

import (
	"regexp"
	"sort"
	"strings"
)

// DefaultNoise lists the markup remnants and bullet artifacts found in
// scraped descriptions.
var DefaultNoise = []string{"<br>", "<b>", "</b>", "â€¢ ", "- "}

// NoiseFilter replaces literal substrings with a single space, ignoring case.
type NoiseFilter struct {
	extra    []string
	literals []string
	re       *regexp.Regexp
}

// NewNoiseFilter builds a filter for DefaultNoise plus extra. Empty extras
// are ignored.
func NewNoiseFilter(extra ...string) *NoiseFilter {
	kept := make([]string, 0, len(extra))
	for _, lit := range extra {
		if lit != "" {
			kept = append(kept, lit)
		}
	}
	seen := make(map[string]struct{}, len(DefaultNoise)+len(extra))
	literals := make([]string, 0, len(DefaultNoise)+len(extra))
	for _, lit := range append(append([]string(nil), DefaultNoise...), kept...) {
		key := strings.ToLower(lit)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		literals = append(literals, lit)
	}
	// Longest first so overlapping literals prefer the longer match.
	sort.SliceStable(literals, func(i, j int) bool {
		return len(literals[i]) > len(literals[j])
	})
	quoted := make([]string, len(literals))
	for i, lit := range literals {
		quoted[i] = regexp.QuoteMeta(lit)
	}
	return &NoiseFilter{
		extra:    kept,
		literals: literals,
		re:       regexp.MustCompile(`(?i)` + strings.Join(quoted, "|")),
	}
}

// Literals returns the literals the filter removes.
func (f *NoiseFilter) Literals() []string {
	return append([]string(nil), f.literals...)
}

// With returns a new filter that also removes extra.
func (f *NoiseFilter) With(extra ...string) *NoiseFilter {
	return NewNoiseFilter(append(append([]string(nil), f.extra...), extra...)...)
}

// Strip replaces every literal occurrence with a space until nothing is left
// to replace, so Strip(Strip(s)) == Strip(s).
func (f *NoiseFilter) Strip(text string) string {
	for {
		next := f.re.ReplaceAllLiteralString(text, " ")
		if next == text {
			return next
		}
		text = next
	}
}
