package analysis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/JakeFAU/techtrend/internal/vacancy"
)

// DefaultLimit caps the ranking when no limit is given.
const DefaultLimit = 20

// Analyzer turns text into a ranked term distribution.
type Analyzer struct {
	tagger    Tagger
	stopwords Stopwords
	noise     *NoiseFilter
}

// NewAnalyzer wires a tagger, a stopword set and a noise filter. A nil noise
// filter uses DefaultNoise only.
func NewAnalyzer(tagger Tagger, stopwords Stopwords, noise *NoiseFilter) (*Analyzer, error) {
	if tagger == nil {
		return nil, fmt.Errorf("tagger is required")
	}
	if stopwords == nil {
		stopwords = Stopwords{}
	}
	if noise == nil {
		noise = NewNoiseFilter()
	}
	return &Analyzer{tagger: tagger, stopwords: stopwords, noise: noise}, nil
}

// WithExtraFilters returns a copy that also strips extra literals.
func (a *Analyzer) WithExtraFilters(extra ...string) *Analyzer {
	if len(extra) == 0 {
		return a
	}
	cp := *a
	cp.noise = a.noise.With(extra...)
	return &cp
}

// FrequencyDistribution returns at most limit terms, most frequent first.
// The result depends only on text, the stopwords, the noise literals and limit.
func (a *Analyzer) FrequencyDistribution(text string, limit int) (vacancy.Frequencies, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	tokens, err := a.tagger.Tag(a.noise.Strip(text))
	if err != nil {
		return nil, err
	}

	index := make(map[string]int)
	buckets := make(vacancy.Frequencies, 0)
	for _, tok := range tokens {
		if !a.candidate(tok) {
			continue
		}
		key := strings.ToLower(tok.Text)
		if i, ok := index[key]; ok {
			buckets[i].Count++
			continue
		}
		index[key] = len(buckets)
		buckets = append(buckets, vacancy.TermCount{Term: tok.Text, Count: 1})
	}

	sort.SliceStable(buckets, func(i, j int) bool {
		return buckets[i].Count > buckets[j].Count
	})
	if len(buckets) > limit {
		buckets = buckets[:limit]
	}
	return buckets, nil
}

func (a *Analyzer) candidate(tok Token) bool {
	if tok.Role != RoleProperNoun || tok.Text == "" {
		return false
	}
	if !isLatinLetter(tok.Text[0]) {
		return false
	}
	return !a.stopwords.Contains(tok.Text)
}

func isLatinLetter(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}
