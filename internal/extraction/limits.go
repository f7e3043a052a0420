package extraction

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Limits holds the plausibility bounds used by correction and fallback search.
type Limits struct {
	GrossMin         float64
	GrossMax         float64
	SalaryBandMin    float64
	SalaryBandMax    float64
	FallbackMidpoint float64
	// Ceilings overrides the catalog's per-field magnitude ceilings.
	Ceilings map[Field]float64
}

// DefaultLimits returns the compiled-in bounds.
func DefaultLimits() Limits {
	return Limits{
		GrossMin:         1_000,
		GrossMax:         50_000_000,
		SalaryBandMin:    50_000,
		SalaryBandMax:    5_000_000,
		FallbackMidpoint: 400_000,
		Ceilings:         map[Field]float64{},
	}
}

// Ceiling returns the magnitude ceiling for spec, honouring overrides.
func (l Limits) Ceiling(spec FieldSpec) float64 {
	if v, ok := l.Ceilings[spec.Field]; ok && v > 0 {
		return v
	}
	return spec.Ceiling
}

// Validate rejects bounds that would make every document fail.
func (l Limits) Validate() error {
	if l.GrossMin <= 0 || l.GrossMax <= l.GrossMin {
		return fmt.Errorf("gross range [%v, %v] is empty", l.GrossMin, l.GrossMax)
	}
	if l.SalaryBandMin <= 0 || l.SalaryBandMax <= l.SalaryBandMin {
		return fmt.Errorf("salary band [%v, %v] is empty", l.SalaryBandMin, l.SalaryBandMax)
	}
	if l.FallbackMidpoint <= 0 {
		return errors.New("fallback midpoint must be positive")
	}
	return nil
}

// Check applies the guard clauses to doc: gross remuneration must be present
// and within range, and tax withheld must not exceed it.
func (l Limits) Check(doc Document) error {
	if !doc.Populated(GrossRemuneration) {
		return ErrGrossNotFound
	}
	gross := doc.Value(GrossRemuneration)
	if gross < l.GrossMin || gross > l.GrossMax {
		return fmt.Errorf("%w: gross remuneration %.2f outside [%.0f, %.0f]", ErrImplausible, gross, l.GrossMin, l.GrossMax)
	}
	if tax := doc.Value(TaxWithheld); tax > gross {
		return fmt.Errorf("%w: tax withheld %.2f exceeds gross remuneration %.2f", ErrImplausible, tax, gross)
	}
	return nil
}

type limitsFile struct {
	Gross struct {
		Min *float64 `toml:"min"`
		Max *float64 `toml:"max"`
	} `toml:"gross"`
	Fallback struct {
		BandMin  *float64 `toml:"band_min"`
		BandMax  *float64 `toml:"band_max"`
		Midpoint *float64 `toml:"midpoint"`
	} `toml:"fallback"`
	Ceilings map[string]float64 `toml:"ceilings"`
}

// LoadLimits reads overrides from a TOML file on top of DefaultLimits.
func LoadLimits(path string) (Limits, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Limits{}, fmt.Errorf("failed to read limits file: %w", err)
	}
	return ParseLimits(data)
}

// ParseLimits decodes TOML overrides on top of DefaultLimits.
func ParseLimits(data []byte) (Limits, error) {
	var file limitsFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return Limits{}, fmt.Errorf("failed to parse limits: %w", err)
	}

	l := DefaultLimits()
	set := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	set(&l.GrossMin, file.Gross.Min)
	set(&l.GrossMax, file.Gross.Max)
	set(&l.SalaryBandMin, file.Fallback.BandMin)
	set(&l.SalaryBandMax, file.Fallback.BandMax)
	set(&l.FallbackMidpoint, file.Fallback.Midpoint)
	for name, v := range file.Ceilings {
		f, ok := ParseField(name)
		if !ok {
			return Limits{}, fmt.Errorf("unknown field %q in ceilings", name)
		}
		l.Ceilings[f] = v
	}

	if err := l.Validate(); err != nil {
		return Limits{}, fmt.Errorf("invalid limits: %w", err)
	}
	return l, nil
}
