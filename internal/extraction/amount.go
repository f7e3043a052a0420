package extraction

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	amountNoise = regexp.MustCompile(`[^\d.,\-\s]`)
	whitespace  = regexp.MustCompile(`\s+`)

	// groupedInteger matches amounts whose separators only mark thousands.
	groupedInteger = regexp.MustCompile(`^\d{1,3}(?:[, ]\d{3})+$`)
	currencyMark   = regexp.MustCompile(`(?i)^\s*(?:zar|r)\s*`)
)

// Normalize parses free-form numeric text into an amount. It never fails: text
// that cannot be read as a number yields 0, and the result is never negative.
func Normalize(text string) float64 {
	s := amountNoise.ReplaceAllString(text, "")
	s = strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
	s = strings.ReplaceAll(s, "-", "")

	dots := strings.Count(s, ".")
	commas := strings.Count(s, ",")
	switch {
	case dots == 1 && commas == 0:
		if len(s)-strings.Index(s, ".")-1 >= 3 {
			s = strings.Replace(s, ".", "", 1)
		}
	case commas == 1 && dots == 0:
		if len(strings.TrimSpace(s[strings.Index(s, ",")+1:])) <= 3 {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.Replace(s, ",", "", 1)
		}
	case dots > 0 || commas > 0:
		s = strings.ReplaceAll(s, ",", "")
		if i := strings.LastIndex(s, "."); i >= 0 {
			s = strings.ReplaceAll(s[:i], ".", "") + s[i:]
		}
	}
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return 0
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Abs(v)
}

// ParseAmount reads an amount captured next to a recognition code or keyword.
// Comma or space groups of exactly three digits are thousands separators;
// anything else is handed to Normalize.
func ParseAmount(raw string) float64 {
	s := strings.TrimSpace(currencyMark.ReplaceAllString(raw, ""))
	if groupedInteger.MatchString(s) {
		return Normalize(strings.NewReplacer(",", "", " ", "").Replace(s))
	}
	return Normalize(s)
}
