package extraction

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MinTextLength is the shortest document text worth classifying.
	MinTextLength = 100
	// MinIndicators is the number of distinct indicators a certificate must show.
	MinIndicators = 2
)

// Rejection explains why text was not accepted as a certificate.
type Rejection string

const (
	RejectLowQuality     Rejection = "low-quality-scan"
	RejectNotCertificate Rejection = "not-a-certificate"
)

// ValidationOutcome is the classifier's verdict.
type ValidationOutcome struct {
	Valid     bool      `json:"valid"`
	Matched   []string  `json:"matched"`
	Rejection Rejection `json:"rejection,omitempty"`
}

type indicator struct {
	name string
	expr *regexp.Regexp
}

// Classifier decides whether document text is a payroll tax certificate.
type Classifier struct {
	indicators []indicator
}

// NewClassifier builds a classifier over the standard indicator list.
func NewClassifier() *Classifier {
	named := []struct{ name, expr string }{
		{"IRP5", `(?i)\bIRP\s?5\b`},
		{"IT3(a)", `(?i)\bIT\s?3\s?\(?a\)?`},
		{"employees tax certificate", `(?i)employees'?\s+tax\s+certificate`},
		{"SARS", `\bSARS\b|(?i:south\s+african\s+revenue\s+service)`},
		{"year of assessment", `(?i)year\s+of\s+assessment`},
		{"gross remuneration", `(?i)gross\s+remuneration`},
		{"PAYE", `(?i)\bPAYE\b`},
		{"UIF", `(?i)\bUIF\b`},
		{"tax reference number", `(?i)tax\s+ref(?:erence)?\.?\s+(?:no|number)`},
		{"employer", `(?i)\bemployer\b`},
	}
	c := &Classifier{}
	for _, n := range named {
		c.indicators = append(c.indicators, indicator{name: n.name, expr: regexp.MustCompile(n.expr)})
	}
	for _, code := range []string{"3601", "3699", "4102", "4141"} {
		c.indicators = append(c.indicators, indicator{
			name: "code " + code,
			expr: regexp.MustCompile(`\b` + code + `\b`),
		})
	}
	return c
}

// Classify checks text length first, then counts distinct indicators.
func (c *Classifier) Classify(text string) ValidationOutcome {
	var out ValidationOutcome
	for _, ind := range c.indicators {
		if ind.expr.MatchString(text) {
			out.Matched = append(out.Matched, ind.name)
		}
	}

	switch {
	case utf8.RuneCountInString(strings.TrimSpace(text)) < MinTextLength:
		out.Rejection = RejectLowQuality
	case len(out.Matched) < MinIndicators:
		out.Rejection = RejectNotCertificate
	default:
		out.Valid = true
	}
	return out
}
