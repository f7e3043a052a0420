package extraction

import (
	"fmt"
	"math"
	"time"
)

// Field identifies one of the numeric values read from a certificate.
type Field int

const (
	GrossRemuneration Field = iota
	TaxWithheld
	UIFContribution
	RetirementFund
	MedicalScheme
	TravelAllowance
	MedicalTaxCredit
	TotalTax

	fieldCount
)

var fieldNames = [fieldCount]string{
	"gross_remuneration",
	"tax_withheld",
	"uif_contribution",
	"retirement_fund",
	"medical_scheme",
	"travel_allowance",
	"medical_tax_credit",
	"total_tax",
}

// Fields returns every field in catalog order.
func Fields() []Field {
	fields := make([]Field, 0, fieldCount)
	for f := Field(0); f < fieldCount; f++ {
		fields = append(fields, f)
	}
	return fields
}

// ParseField looks a field up by its wire name.
func ParseField(name string) (Field, bool) {
	for f, n := range fieldNames {
		if n == name {
			return Field(f), true
		}
	}
	return 0, false
}

func (f Field) String() string {
	if f < 0 || f >= fieldCount {
		return fmt.Sprintf("field(%d)", int(f))
	}
	return fieldNames[f]
}

// MarshalText lets fields be used as JSON object keys.
func (f Field) MarshalText() ([]byte, error) {
	if f < 0 || f >= fieldCount {
		return nil, fmt.Errorf("unknown field %d", int(f))
	}
	return []byte(fieldNames[f]), nil
}

// UnmarshalText parses a field wire name.
func (f *Field) UnmarshalText(text []byte) error {
	parsed, ok := ParseField(string(text))
	if !ok {
		return fmt.Errorf("unknown field %q", text)
	}
	*f = parsed
	return nil
}

// Source records which extraction path produced a document.
type Source string

const (
	SourceOCR          Source = "ocr"
	SourceImageOCR     Source = "image-ocr"
	SourceEmbeddedText Source = "embedded-text"
	SourceManual       Source = "manual"
)

// estimatedWeight is the share of a populated field that a fallback-search value
// contributes to the confidence score.
const estimatedWeight = 0.5

// Document is the structured result of reading one certificate. A zero value
// for a field means the field was not found.
type Document struct {
	Values      map[Field]float64 `json:"values"`
	Estimated   map[Field]bool    `json:"estimated,omitempty"`
	TaxYear     string            `json:"tax_year,omitempty"`
	Source      Source            `json:"source"`
	ExtractedAt time.Time         `json:"extracted_at"`
	Confidence  float64           `json:"confidence"`
}

// NewDocument returns an empty document for the given source.
func NewDocument(source Source, at time.Time) Document {
	return Document{
		Values:      make(map[Field]float64),
		Estimated:   make(map[Field]bool),
		Source:      source,
		ExtractedAt: at,
	}
}

// Value returns the amount recorded for f, or 0.
func (d Document) Value(f Field) float64 {
	return d.Values[f]
}

// Populated reports whether f holds a non-zero amount.
func (d Document) Populated(f Field) bool {
	return d.Values[f] > 0
}

// Set records an anchored amount for f. Negative amounts are stored as their
// absolute value and zero clears the field.
func (d *Document) Set(f Field, v float64) {
	d.ensure()
	v = math.Abs(v)
	delete(d.Estimated, f)
	if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		delete(d.Values, f)
		return
	}
	d.Values[f] = v
}

// SetEstimated records an amount found by fallback search, which counts for
// less in the confidence score.
func (d *Document) SetEstimated(f Field, v float64) {
	d.Set(f, v)
	if d.Populated(f) {
		d.Estimated[f] = true
	}
}

// Clear resets f to unpopulated.
func (d *Document) Clear(f Field) {
	d.Set(f, 0)
}

// PopulatedCount returns the number of fields holding an amount.
func (d Document) PopulatedCount() int {
	n := 0
	for _, f := range Fields() {
		if d.Populated(f) {
			n++
		}
	}
	return n
}

// Score computes the confidence percentage from the current field state.
func (d Document) Score() float64 {
	var sum float64
	for _, f := range Fields() {
		if !d.Populated(f) {
			continue
		}
		if d.Estimated[f] {
			sum += estimatedWeight
		} else {
			sum++
		}
	}
	pct := sum / float64(fieldCount) * 100
	return math.Round(pct*10) / 10
}

// Clone returns a deep copy so correction never mutates the raw extraction.
func (d Document) Clone() Document {
	out := d
	out.Values = make(map[Field]float64, len(d.Values))
	for f, v := range d.Values {
		out.Values[f] = v
	}
	out.Estimated = make(map[Field]bool, len(d.Estimated))
	for f, v := range d.Estimated {
		out.Estimated[f] = v
	}
	return out
}

func (d *Document) ensure() {
	if d.Values == nil {
		d.Values = make(map[Field]float64)
	}
	if d.Estimated == nil {
		d.Estimated = make(map[Field]bool)
	}
}
