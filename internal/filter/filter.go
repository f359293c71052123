// Package filter rejects chat-sourced text that should not become news.
package filter

import (
	"strings"

	"golang.org/x/text/cases"
)

// Reason explains why a text was rejected. The zero value means accepted.
type Reason string

const (
	Accepted     Reason = ""
	Empty        Reason = "empty"
	Banned       Reason = "banned_term"
	TooShort     Reason = "too_short"
	Insufficient Reason = "insufficient_information"
)

// DefaultMinTokens is the smallest number of whitespace-delimited tokens a
// text must have.
const DefaultMinTokens = 3

// DefaultInsufficientPhrases signal that the text carries no real news.
var DefaultInsufficientPhrases = []string{
	"not enough information",
	"no information available",
	"недостаточно информации",
	"нет информации",
}

// Rules configure a Filter.
type Rules struct {
	BannedTerms         []string `yaml:"banned_terms"`
	InsufficientPhrases []string `yaml:"insufficient_phrases"`
	MinTokens           int      `yaml:"min_tokens"`
}

// Filter applies Rules to raw and rewritten chat text.
type Filter struct {
	banned    []string
	phrases   []string
	minTokens int
}

// New builds a filter. An unset MinTokens falls back to DefaultMinTokens and
// an empty phrase list to DefaultInsufficientPhrases.
func New(rules Rules) *Filter {
	f := &Filter{minTokens: rules.MinTokens}
	if f.minTokens <= 0 {
		f.minTokens = DefaultMinTokens
	}

	phrases := rules.InsufficientPhrases
	if len(phrases) == 0 {
		phrases = DefaultInsufficientPhrases
	}
	f.banned = foldAll(rules.BannedTerms)
	f.phrases = foldAll(phrases)
	return f
}

// fold maps s to its case-folded form. A Caser keeps state, so each call
// gets its own.
func fold(s string) string {
	return cases.Fold().String(s)
}

func foldAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, fold(s))
		}
	}
	return out
}

// CheckRaw screens extracted chat text before it is rewritten.
func (f *Filter) CheckRaw(text string) Reason {
	text = strings.TrimSpace(text)
	if text == "" {
		return Empty
	}

	folded := fold(text)
	for _, term := range f.banned {
		if strings.Contains(folded, term) {
			return Banned
		}
	}
	return f.checkQuality(text, folded)
}

// CheckRewritten screens the rewrite result. The rewrite step itself may
// answer that it had nothing to work with.
func (f *Filter) CheckRewritten(text string) Reason {
	text = strings.TrimSpace(text)
	if text == "" {
		return Empty
	}
	return f.checkQuality(text, fold(text))
}

func (f *Filter) checkQuality(text, folded string) Reason {
	if len(strings.Fields(text)) < f.minTokens {
		return TooShort
	}
	for _, phrase := range f.phrases {
		if strings.Contains(folded, phrase) {
			return Insufficient
		}
	}
	return Accepted
}
