package flow

import (
	"strings"
	"unicode"
)

// normalizedText is a message prepared for keyword matching.
type normalizedText struct {
	raw    string
	lower  string
	tokens []string
	// padded is the token stream joined by single spaces with a leading and
	// trailing space, so " phrase " lookups respect word boundaries.
	padded string
	counts map[string]int
}

func normalize(text string) normalizedText {
	lower := strings.ToLower(strings.NewReplacer("’", "'", "‘", "'").Replace(text))
	tokens := tokenize(lower)
	counts := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		counts[tok]++
	}
	return normalizedText{
		raw:    text,
		lower:  lower,
		tokens: tokens,
		padded: " " + strings.Join(tokens, " ") + " ",
		counts: counts,
	}
}

// tokenize splits on anything that is not a letter, digit, apostrophe or
// hyphen, then trims apostrophes and hyphens from token edges.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '-'
	})
	tokens := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "'-")
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// hits counts keyword occurrences in the text.
func (t normalizedText) hits(keywords []string) int {
	n := 0
	for _, kw := range keywords {
		n += t.count(kw)
	}
	return n
}

// has reports whether any keyword occurs in the text.
func (t normalizedText) has(keywords []string) bool {
	for _, kw := range keywords {
		if t.count(kw) > 0 {
			return true
		}
	}
	return false
}

func (t normalizedText) count(keyword string) int {
	kw := strings.ToLower(keyword)
	if !strings.ContainsFunc(kw, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) {
		if kw == "" {
			return 0
		}
		return strings.Count(t.lower, kw)
	}
	kwTokens := tokenize(kw)
	switch len(kwTokens) {
	case 0:
		return 0
	case 1:
		return t.counts[kwTokens[0]]
	default:
		return strings.Count(t.padded, " "+strings.Join(kwTokens, " ")+" ")
	}
}

func clamp01(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
