package services

import (
	"regexp"
	"strings"
)

// legalSuffixes is corporate boilerplate removed when building the join key
// for company names. Order does not matter; stripping repeats until stable.
var legalSuffixes = []string{
	"incorporated", "corporation", "company", "limited", "holdings", "holding",
	"group", "inc", "corp", "ltd", "llc", "plc", "co", "sa", "nv", "ag", "ab",
	"as", "asa", "oyj", "spa", "bhd", "berhad", "tbk", "pt",
}

var (
	punctuationScrub = regexp.MustCompile(`[^\p{L}\p{N}\s]`)
	whitespaceScrub  = regexp.MustCompile(`\s+`)
)

// FormatCompanyName reduces a company name to the join key used when
// matching rows across systems that spell the same issuer differently:
// lowercase, punctuation stripped, legal-entity suffixes removed.
func FormatCompanyName(name string) string {
	s := strings.ToLower(name)
	s = punctuationScrub.ReplaceAllString(s, " ")
	s = whitespaceScrub.ReplaceAllString(strings.TrimSpace(s), " ")

	words := strings.Split(s, " ")
	for len(words) > 1 {
		last := words[len(words)-1]
		if !isLegalSuffix(last) {
			break
		}
		words = words[:len(words)-1]
	}
	return strings.Join(words, " ")
}

func isLegalSuffix(word string) bool {
	for _, suf := range legalSuffixes {
		if word == suf {
			return true
		}
	}
	return false
}

// NormalizeWhitespace collapses runs of whitespace, including non-breaking
// spaces scraped from HTML, into single spaces.
func NormalizeWhitespace(s string) string {
	s = strings.ReplaceAll(s, " ", " ")
	return strings.Join(strings.Fields(s), " ")
}

// SameTicker compares tickers ignoring case, surrounding whitespace and
// leading zeroes, which Chinese exchanges are inconsistent about.
func SameTicker(a, b string) bool {
	clean := func(s string) string {
		s = strings.ToUpper(strings.TrimSpace(s))
		return strings.TrimLeft(s, "0")
	}
	ca, cb := clean(a), clean(b)
	return ca != "" && ca == cb
}
