// Package normalize turns free-text field values scraped off listing pages
// into typed values. Every parser returns absent on unrecognized input
// instead of an error; the caller decides whether absence is fatal.
package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	digitsRe  = regexp.MustCompile(`[0-9]`)
	intRe     = regexp.MustCompile(`\d+`)
	numTokRe  = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
	lowerCase = cases.Lower(language.English)
)

// Price parses a free-text price into whole currency units. Currency
// symbols and thousands separators (comma, dot, space) are stripped, so
// "R 1,250,000", "$1.250.000" and "1250000" all come out as 1250000.
func Price(text string) (int64, bool) {
	var digits strings.Builder
	for _, c := range text {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	if digits.Len() == 0 {
		return 0, false
	}
	v, err := strconv.ParseInt(digits.String(), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Area parses a land or floor size into square meters. The leading numeric
// token is taken; "m²", "m2" and "sqm" pass through, "ha" multiplies by
// 10000. A unit the parser does not know yields absent.
func Area(text string) (float64, bool) {
	text = strings.TrimSpace(text)
	tok := numTokRe.FindString(text)
	if tok == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(tok, ",", "."), 64)
	if err != nil {
		return 0, false
	}

	rest := strings.TrimSpace(text[strings.Index(text, tok)+len(tok):])
	unit := lowerCase.String(strings.TrimSpace(strings.Trim(rest, ".")))
	switch unit {
	case "", "m²", "m2", "sqm", "sq m", "sq.m", "square meters", "square metres":
		return v, true
	case "ha", "hectare", "hectares":
		return v * 10000, true
	}
	return 0, false
}

// SmallInt extracts the first integer token, for bedroom/bathroom/garage
// counts ("3 beds" -> 3).
func SmallInt(text string) (int32, bool) {
	tok := intRe.FindString(text)
	if tok == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(tok, 10, 32)
	if err != nil {
		return 0, false
	}
	return int32(v), true
}

// Float extracts the first numeric token as a float, used for coordinates.
func Float(text string) (float64, bool) {
	text = strings.TrimSpace(text)
	neg := strings.HasPrefix(text, "-")
	tok := numTokRe.FindString(text)
	if tok == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(tok, ",", "."), 64)
	if err != nil {
		return 0, false
	}
	if neg && strings.HasPrefix(text[1:], tok) {
		v = -v
	}
	return v, true
}

// Address passes the scraped address through as trimmed free text.
// Province, city and suburb come only from their own selectors; there is
// no implicit geocoding here.
func Address(text string) (string, bool) {
	trimmed := strings.Join(strings.Fields(text), " ")
	return trimmed, trimmed != ""
}

// PropertyType lowercases the scraped type so "Residential" and
// "residential" collapse to one bucket. Empty input yields absent.
func PropertyType(text string) (string, bool) {
	t := strings.TrimSpace(text)
	if t == "" {
		return "", false
	}
	return lowerCase.String(t), true
}

// HasDigits is a cheap pre-check used before the numeric parsers.
func HasDigits(text string) bool {
	return digitsRe.MatchString(text)
}
