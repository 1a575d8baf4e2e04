package analysis

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Stopwords is a case-insensitive word set.
type Stopwords map[string]struct{}

// LoadStopwords reads JSON arrays of strings and returns their union. A
// missing or malformed file is an error.
func LoadStopwords(paths ...string) (Stopwords, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("at least one stopword file is required")
	}
	out := make(Stopwords)
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read stopwords %s: %w", path, err)
		}
		var words []string
		if err := json.Unmarshal(raw, &words); err != nil {
			return nil, fmt.Errorf("decode stopwords %s: %w", path, err)
		}
		out.Add(words...)
	}
	return out, nil
}

// Add inserts words, lowercased.
func (s Stopwords) Add(words ...string) {
	for _, w := range words {
		s[strings.ToLower(w)] = struct{}{}
	}
}

// Contains reports whether word is a stopword, ignoring case.
func (s Stopwords) Contains(word string) bool {
	_, ok := s[strings.ToLower(word)]
	return ok
}
