package extraction

import (
	"regexp"
	"strings"
)

// PatternKind orders patterns from most to least specific.
type PatternKind int

const (
	AmountBeforeCode PatternKind = iota
	CodeBeforeAmount
	Keyword
)

func (k PatternKind) String() string {
	switch k {
	case AmountBeforeCode:
		return "amount-before-code"
	case CodeBeforeAmount:
		return "code-before-amount"
	case Keyword:
		return "keyword"
	default:
		return "unknown"
	}
}

// Pattern is one compiled matcher. The first capture group is the amount.
type Pattern struct {
	Kind PatternKind
	Expr *regexp.Regexp
}

// FieldSpec describes how a single field is recognised.
type FieldSpec struct {
	Field    Field
	Label    string
	Codes    []string
	Keywords []string
	Patterns []Pattern

	// Priority decides cross-field collisions; the lower number keeps its value.
	Priority int
	// Ceiling is the largest plausible amount for the field.
	Ceiling float64
	// PreferSmaller picks the smallest of several distinct matches.
	PreferSmaller bool
	// Collides marks membership of the cross-field collision group.
	Collides bool
}

// Primary returns the field's most specific pattern.
func (s FieldSpec) Primary() Pattern {
	return s.Patterns[0]
}

const (
	// amountExpr accepts grouped thousands or plain digits with up to two decimals.
	// Each group ends at a word boundary so a following code is never absorbed.
	amountExpr = `(\d{1,3}(?:[ ,]\d{3}\b)+(?:\.\d{1,2})?|\d+(?:[.,]\d{1,2})?)`
	currency   = `(?:(?:R|ZAR)[ \t]?)?`
	// labelGap allows a few words of label text, but never digits or a line break.
	labelGap = `(?:[ \t:.\-]+[A-Za-z()'/&]+){0,4}[ \t:.\-=]*`
	// skipCode steps over a recognition code sitting between a label and its amount.
	skipCode = `(?:\b\d{4}\b[ \t:]+)?`
)

// Catalog is the immutable field table shared by every extraction.
type Catalog struct {
	specs []FieldSpec
	codes map[string]struct{}
}

type catalogEntry struct {
	field         Field
	label         string
	codes         []string
	keywords      []string
	priority      int
	ceiling       float64
	preferSmaller bool
	collides      bool
}

var entries = []catalogEntry{
	{field: GrossRemuneration, label: "Gross remuneration", codes: []string{"3699", "3601"},
		keywords: []string{`gross\s+remuneration`, `total\s+income`, `salary`}, priority: 0, ceiling: 50_000_000},
	{field: TaxWithheld, label: "Tax withheld", codes: []string{"4102"},
		keywords: []string{`paye`, `employees'?\s+tax`}, priority: 1, ceiling: 50_000_000},
	{field: UIFContribution, label: "UIF contribution", codes: []string{"4141"},
		keywords: []string{`uif`, `unemployment\s+insurance`}, priority: 2, ceiling: 10_000_000,
		preferSmaller: true, collides: true},
	{field: RetirementFund, label: "Retirement fund contribution", codes: []string{"4001", "4003", "4006"},
		keywords: []string{`pension\s+fund`, `provident\s+fund`, `retirement\s+annuity`}, priority: 3, ceiling: 10_000_000,
		collides: true},
	{field: MedicalScheme, label: "Medical scheme contribution", codes: []string{"4005"},
		keywords: []string{`medical\s+aid`, `medical\s+scheme\s+contribution`}, priority: 4, ceiling: 10_000_000,
		collides: true},
	{field: TravelAllowance, label: "Travel allowance", codes: []string{"3701"},
		keywords: []string{`travel\s+allowance`}, priority: 5, ceiling: 10_000_000, collides: true},
	{field: MedicalTaxCredit, label: "Medical tax credit", codes: []string{"4116"},
		keywords: []string{`medical\s+scheme\s+fees\s+tax\s+credit`}, priority: 6, ceiling: 10_000_000,
		collides: true},
	{field: TotalTax, label: "Total tax", codes: []string{"4149"},
		keywords: []string{`total\s+tax`, `sdl\s+and\s+uif`}, priority: 7, ceiling: 50_000_000},
}

var defaultCatalog = buildCatalog(entries)

// DefaultCatalog returns the IRP5/IT3(a) field table.
func DefaultCatalog() *Catalog {
	return defaultCatalog
}

func buildCatalog(entries []catalogEntry) *Catalog {
	c := &Catalog{codes: make(map[string]struct{})}
	for _, e := range entries {
		spec := FieldSpec{
			Field:         e.field,
			Label:         e.label,
			Codes:         e.codes,
			Keywords:      e.keywords,
			Priority:      e.priority,
			Ceiling:       e.ceiling,
			PreferSmaller: e.preferSmaller,
			Collides:      e.collides,
		}
		for _, code := range e.codes {
			c.codes[code] = struct{}{}
			spec.Patterns = append(spec.Patterns, Pattern{
				Kind: AmountBeforeCode,
				Expr: regexp.MustCompile(`(?:^|[^\d.,])` + currency + amountExpr + `[ \t]+` + code + `\b`),
			})
		}
		for _, code := range e.codes {
			spec.Patterns = append(spec.Patterns, Pattern{
				Kind: CodeBeforeAmount,
				Expr: regexp.MustCompile(`\b` + code + `\b` + labelGap + currency + amountExpr),
			})
		}
		spec.Patterns = append(spec.Patterns, Pattern{
			Kind: Keyword,
			Expr: regexp.MustCompile(`(?i)\b(?:` + strings.Join(e.keywords, "|") + `)\b` + labelGap + skipCode + currency + amountExpr),
		})
		c.specs = append(c.specs, spec)
	}
	return c
}

// Specs returns the field specs in catalog order.
func (c *Catalog) Specs() []FieldSpec {
	out := make([]FieldSpec, len(c.specs))
	copy(out, c.specs)
	return out
}

// Spec returns the spec for f.
func (c *Catalog) Spec(f Field) FieldSpec {
	for _, s := range c.specs {
		if s.Field == f {
			return s
		}
	}
	return FieldSpec{Field: f}
}

// IsCode reports whether raw is exactly one of the catalog's recognition codes.
func (c *Catalog) IsCode(raw string) bool {
	_, ok := c.codes[strings.TrimSpace(raw)]
	return ok
}
