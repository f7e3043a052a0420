package extraction

import (
	"regexp"
	"strconv"
	"time"
)

// Candidate is one pattern match, kept whether or not it populated its field.
type Candidate struct {
	Field    Field       `json:"field"`
	Pattern  int         `json:"pattern"`
	Kind     PatternKind `json:"kind"`
	Raw      string      `json:"raw"`
	Value    float64     `json:"value"`
	Offset   int         `json:"offset"`
	Accepted bool        `json:"accepted"`
}

// Extraction is the raw result of the first phase, before correction.
type Extraction struct {
	Document   Document
	Candidates []Candidate
}

var (
	labeledYear = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:tax\s+year|year\s+of\s+assessment|tax\s+period)[^\d\n]{0,20}((?:19|20)\d{2})(?:\s*[/\-]\s*((?:19|20)\d{2}))?`),
		regexp.MustCompile(`(?i)period\s+ending[^\d\n]{0,20}(?:\d{1,2}[/\-. ](?:\d{1,2}|[A-Za-z]{3,9})[/\-. ])?((?:19|20)\d{2})`),
	}
	bareYear = regexp.MustCompile(`\b((?:19|20)\d{2})\b`)
	bareInt  = regexp.MustCompile(`^\d{4}$`)
)

// Extractor runs the catalog's patterns over document text.
type Extractor struct {
	catalog *Catalog
	now     func() time.Time
}

// NewExtractor creates an extractor. A nil clock uses time.Now.
func NewExtractor(catalog *Catalog, now func() time.Time) *Extractor {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if now == nil {
		now = time.Now
	}
	return &Extractor{catalog: catalog, now: now}
}

// Extract populates each field from the first pattern yielding a positive
// amount. Every match of every pattern is logged as a candidate.
func (e *Extractor) Extract(text string, source Source) Extraction {
	doc := NewDocument(source, e.now())
	var candidates []Candidate

	for _, spec := range e.catalog.Specs() {
		for i, p := range spec.Patterns {
			for _, c := range e.match(text, spec.Field, i, p) {
				if !doc.Populated(spec.Field) && c.Value > 0 {
					doc.Set(spec.Field, c.Value)
					c.Accepted = true
				}
				candidates = append(candidates, c)
			}
		}
	}

	doc.TaxYear = e.taxYear(text)
	doc.Confidence = doc.Score()
	return Extraction{Document: doc, Candidates: candidates}
}

func (e *Extractor) match(text string, f Field, index int, p Pattern) []Candidate {
	var out []Candidate
	for _, loc := range p.Expr.FindAllStringSubmatchIndex(text, -1) {
		if len(loc) < 4 || loc[2] < 0 {
			continue
		}
		raw := text[loc[2]:loc[3]]
		if e.shadowed(raw, p.Kind) {
			continue
		}
		out = append(out, Candidate{
			Field:   f,
			Pattern: index,
			Kind:    p.Kind,
			Raw:     raw,
			Value:   ParseAmount(raw),
			Offset:  loc[2],
		})
	}
	return out
}

// shadowed reports whether a captured amount is really a recognition code, or
// a calendar year picked up by a keyword pattern. Code-anchored patterns keep
// year-like amounts.
func (e *Extractor) shadowed(raw string, kind PatternKind) bool {
	if !bareInt.MatchString(raw) {
		return false
	}
	if e.catalog.IsCode(raw) {
		return true
	}
	if kind != Keyword {
		return false
	}
	year, _ := strconv.Atoi(raw)
	return year >= 1990 && year <= 2100
}

func (e *Extractor) taxYear(text string) string {
	for _, re := range labeledYear {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if len(m) > 2 && m[2] != "" {
			return m[2]
		}
		return m[1]
	}

	latest := e.now().Year() + 1
	for _, m := range bareYear.FindAllStringSubmatch(text, -1) {
		year, err := strconv.Atoi(m[1])
		if err == nil && year >= 2000 && year <= latest {
			return m[1]
		}
	}
	return ""
}
