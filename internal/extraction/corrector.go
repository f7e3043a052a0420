package extraction

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrGrossNotFound means no pass, fallback search included, produced gross remuneration.
	ErrGrossNotFound = errors.New("gross remuneration not found")
	// ErrImplausible means the corrected amounts fail the guard clauses.
	ErrImplausible = errors.New("implausible amounts")
)

// Correction is the second-phase result. The raw extraction is left untouched.
type Correction struct {
	Document          Document
	InitialConfidence float64
	Notes             []string
}

// Corrector repairs common extraction mistakes and enforces plausibility.
type Corrector struct {
	catalog *Catalog
	limits  Limits
}

// NewCorrector creates a corrector over catalog using limits.
func NewCorrector(catalog *Catalog, limits Limits) *Corrector {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Corrector{catalog: catalog, limits: limits}
}

// Correct runs disambiguation, magnitude and collision passes, then the gross
// fallback search and guard clauses. The returned Correction is always
// populated, even alongside an error.
func (c *Corrector) Correct(text string, ext Extraction) (Correction, error) {
	out := Correction{
		Document:          ext.Document.Clone(),
		InitialConfidence: ext.Document.Score(),
	}
	doc := &out.Document

	c.disambiguate(doc, ext.Candidates, &out.Notes)
	c.enforceCeilings(doc, text, &out.Notes)
	c.resolveCollisions(doc, &out.Notes)

	if !doc.Populated(GrossRemuneration) {
		best, ok := searchGross(text, c.limits)
		if !ok {
			doc.Confidence = doc.Score()
			return out, ErrGrossNotFound
		}
		doc.SetEstimated(GrossRemuneration, best.value)
		out.Notes = append(out.Notes, fmt.Sprintf("gross remuneration estimated at %.2f by %s search", best.value, best.rule))
	}
	doc.Confidence = doc.Score()

	return out, c.limits.Check(*doc)
}

func (c *Corrector) disambiguate(doc *Document, candidates []Candidate, notes *[]string) {
	for _, spec := range c.catalog.Specs() {
		if !spec.PreferSmaller || !doc.Populated(spec.Field) {
			continue
		}
		smallest := 0.0
		distinct := map[int64]struct{}{}
		for _, cand := range candidates {
			if cand.Field != spec.Field || cand.Value <= 0 {
				continue
			}
			distinct[cents(cand.Value)] = struct{}{}
			if smallest == 0 || cand.Value < smallest {
				smallest = cand.Value
			}
		}
		if len(distinct) > 1 && cents(smallest) != cents(doc.Value(spec.Field)) {
			*notes = append(*notes, fmt.Sprintf("%s: chose %.2f over %.2f", spec.Field, smallest, doc.Value(spec.Field)))
			doc.Set(spec.Field, smallest)
		}
	}
}

func (c *Corrector) enforceCeilings(doc *Document, text string, notes *[]string) {
	for _, spec := range c.catalog.Specs() {
		ceiling := c.limits.Ceiling(spec)
		if !doc.Populated(spec.Field) || doc.Value(spec.Field) <= ceiling {
			continue
		}
		*notes = append(*notes, fmt.Sprintf("%s: discarded %.2f above ceiling %.0f", spec.Field, doc.Value(spec.Field), ceiling))
		doc.Clear(spec.Field)

		primary := spec.Primary()
		for _, loc := range primary.Expr.FindAllStringSubmatchIndex(text, -1) {
			if loc[2] < 0 {
				continue
			}
			if v := ParseAmount(text[loc[2]:loc[3]]); v > 0 && v <= ceiling {
				doc.Set(spec.Field, v)
				*notes = append(*notes, fmt.Sprintf("%s: rescanned %.2f", spec.Field, v))
				break
			}
		}
	}
}

func (c *Corrector) resolveCollisions(doc *Document, notes *[]string) {
	specs := c.catalog.Specs()
	for i, a := range specs {
		for _, b := range specs[i+1:] {
			if !a.Collides || !b.Collides || !doc.Populated(a.Field) || !doc.Populated(b.Field) {
				continue
			}
			if cents(doc.Value(a.Field)) != cents(doc.Value(b.Field)) {
				continue
			}
			loser := b
			if b.Priority < a.Priority {
				loser = a
			}
			*notes = append(*notes, fmt.Sprintf("%s: reset, same amount as %s", loser.Field, other(loser, a, b).Field))
			doc.Clear(loser.Field)
		}
	}
}

func other(x, a, b FieldSpec) FieldSpec {
	if x.Field == a.Field {
		return b
	}
	return a
}

func cents(v float64) int64 {
	return int64(math.Round(v * 100))
}
