package certificate

import (
	"errors"
	"time"

	"github.com/zombor/taxcert/internal/extraction"
	"github.com/zombor/taxcert/internal/pipeline"
)

// Status tracks where a certificate is in processing
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// Certificate is an uploaded tax certificate and the values read from it
type Certificate struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	StoredAs    string `json:"stored_as"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
	Status      Status `json:"status"`

	Document   *extraction.Document `json:"document,omitempty"`
	Confidence float64              `json:"confidence"`
	Warnings   []string             `json:"warnings,omitempty"`
	Manual     bool                 `json:"manual"`

	FailureKind    pipeline.Kind `json:"failure_kind,omitempty"`
	FailureMessage string        `json:"failure_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Succeeded records a completed extraction
func (c *Certificate) Succeeded(result *pipeline.Success, at time.Time) {
	doc := result.Document.Clone()
	c.Status = StatusDone
	c.Document = &doc
	c.Confidence = result.Confidence
	c.Warnings = result.Warnings
	c.FailureKind = ""
	c.FailureMessage = ""
	c.UpdatedAt = at
}

// Failed records a pipeline failure. The user-facing message is kept, never the cause.
func (c *Certificate) Failed(err error, at time.Time) {
	c.Status = StatusFailed
	c.FailureKind = pipeline.KindOf(err)
	c.FailureMessage = c.FailureKind.Message()
	var pe *pipeline.Error
	if errors.As(err, &pe) && pe.Message != "" {
		c.FailureMessage = pe.Message
	}
	c.UpdatedAt = at
}

// Value returns the amount held for a field, or 0 when nothing was extracted
func (c *Certificate) Value(f extraction.Field) float64 {
	if c.Document == nil {
		return 0
	}
	return c.Document.Value(f)
}
