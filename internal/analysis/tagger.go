package analysis

import (
	"fmt"

	"github.com/jdkato/prose/v2"
)

// Role is the coarse grammatical role the aggregator cares about.
type Role int

const (
	// RoleOther is any token that is not a proper noun.
	RoleOther Role = iota
	// RoleProperNoun marks name-like tokens.
	RoleProperNoun
)

// Token is one tagged token.
type Token struct {
	Text string
	Tag  string
	Role Role
}

// Tagger splits text into tagged tokens.
type Tagger interface {
	Tag(text string) ([]Token, error)
}

// ProseTagger tags English text with the prose averaged perceptron model.
type ProseTagger struct{}

// NewProseTagger returns a tagger backed by prose.
func NewProseTagger() *ProseTagger {
	return &ProseTagger{}
}

// Tag tokenizes and tags text; NNP and NNPS become RoleProperNoun.
func (ProseTagger) Tag(text string) ([]Token, error) {
	doc, err := prose.NewDocument(text,
		prose.WithExtraction(false),
		prose.WithSegmentation(false),
	)
	if err != nil {
		return nil, fmt.Errorf("tag text: %w", err)
	}
	toks := doc.Tokens()
	out := make([]Token, 0, len(toks))
	for _, tok := range toks {
		role := RoleOther
		if tok.Tag == "NNP" || tok.Tag == "NNPS" {
			role = RoleProperNoun
		}
		out = append(out, Token{Text: tok.Text, Tag: tok.Tag, Role: role})
	}
	return out, nil
}
