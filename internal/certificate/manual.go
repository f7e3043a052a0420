package certificate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/zombor/taxcert/internal/extraction"
)

const manualSchemaURL = "manual-entry.json"

// ManualEntry is the payload accepted when a user types the values in
type ManualEntry struct {
	Values  map[string]float64 `json:"values"`
	TaxYear string             `json:"tax_year,omitempty"`
}

// manualSchemaMap builds the JSON schema for ManualEntry from the field list
func manualSchemaMap() map[string]any {
	props := make(map[string]any, len(extraction.Fields()))
	for _, f := range extraction.Fields() {
		props[f.String()] = map[string]any{"type": "number", "minimum": 0}
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"values"},
		"properties": map[string]any{
			"tax_year": map[string]any{
				"type":    "string",
				"pattern": `^(19|20)\d{2}$`,
			},
			"values": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"required":             []string{extraction.GrossRemuneration.String()},
				"properties":           props,
			},
		},
	}
}

var manualSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	b, err := json.Marshal(manualSchemaMap())
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(manualSchemaURL, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	return compiler.Compile(manualSchemaURL)
})

// ParseManualEntry validates data against the manual-entry schema
func ParseManualEntry(data []byte) (*ManualEntry, error) {
	schema, err := manualSchema()
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return nil, fmt.Errorf("payload does not match schema: %w", err)
	}

	var entry ManualEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	return &entry, nil
}

// Document converts the entry into a manual-source document
func (m *ManualEntry) Document(at time.Time) extraction.Document {
	doc := extraction.NewDocument(extraction.SourceManual, at)
	for name, v := range m.Values {
		if f, ok := extraction.ParseField(name); ok {
			doc.Set(f, v)
		}
	}
	doc.TaxYear = m.TaxYear
	doc.Confidence = doc.Score()
	return doc
}
