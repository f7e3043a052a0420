package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	InvalidInput        Kind = "invalid_input"
	PasswordProtected   Kind = "password_protected"
	CorruptedDocument   Kind = "corrupted_document"
	NoRenderablePages   Kind = "no_renderable_pages"
	RenderTimeout       Kind = "render_timeout"
	OcrEngineFailure    Kind = "ocr_engine_failure"
	NotACertificate     Kind = "not_a_certificate"
	LowQualityScan      Kind = "low_quality_scan"
	GrossAmountNotFound Kind = "gross_amount_not_found"
	ImplausibleAmounts  Kind = "implausible_amounts"
	UnexpectedFailure   Kind = "unexpected_failure"
)

var messages = map[Kind]string{
	InvalidInput:        "The file could not be accepted.",
	PasswordProtected:   "This document is password protected. Remove the password and upload it again.",
	CorruptedDocument:   "This document appears to be damaged and could not be opened.",
	NoRenderablePages:   "None of the pages in this document could be read.",
	RenderTimeout:       "Reading this document took too long.",
	OcrEngineFailure:    "No text could be recognised in this document.",
	NotACertificate:     "This does not look like an IRP5 or IT3(a) tax certificate.",
	LowQualityScan:      "The scan is too unclear to read. Upload a sharper scan or enter the values manually.",
	GrossAmountNotFound: "The gross remuneration amount could not be found. Enter the values manually.",
	ImplausibleAmounts:  "The amounts read from this certificate do not add up. Check the document or enter the values manually.",
	UnexpectedFailure:   "Something went wrong while reading this document.",
}

// Message returns the user-facing text for k.
func (k Kind) Message() string {
	if m, ok := messages[k]; ok {
		return m
	}
	return messages[UnexpectedFailure]
}

// Error is a typed pipeline failure with a message fit for display.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Fail builds an Error with the kind's standard message.
func Fail(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Message: kind.Message(), Cause: cause}
}

// Failf builds an Error with a specific message.
func Failf(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the kind of a pipeline error, or UnexpectedFailure.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return UnexpectedFailure
}
