package scanning

import (
	"context"
	"errors"
	"strings"

	"github.com/zombor/taxcert/internal/render"
)

// Charset is every character that can appear on a certificate.
const Charset = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz .,:;/()-&'%"

// ErrNoText means no page produced any recognisable text.
var ErrNoText = errors.New("no text recognised")

// Engine creates OCR workers. A worker serves exactly one page.
type Engine interface {
	NewWorker(ctx context.Context) (Worker, error)
	// Close releases resources shared by all workers.
	Close() error
}

// Worker recognises the text on a single page. progress reports the
// fraction of the page completed, in [0, 1].
type Worker interface {
	Recognize(ctx context.Context, page *render.Surface, charset string, progress func(float64)) (string, error)
	Close() error
}

// transcriptionPrompt is the shared prompt used by the vision model engines.
const transcriptionPrompt = `You are transcribing a scanned South African employee tax certificate (IRP5 or IT3(a)).

Copy every line of printed text exactly as it appears, top to bottom, keeping each label, amount and four digit code on the same line as in the document.

Important:
- Do not summarise, translate, correct or reformat anything
- Keep thousands separators and decimal points exactly as printed
- Use only these characters: ` + Charset + `
- Do not include any text before or after the transcription
- Do not use markdown code blocks`

// stripFences removes a markdown code block that models sometimes add anyway.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```text")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// restrict drops characters outside charset, keeping line breaks.
func restrict(text, charset string) string {
	if charset == "" {
		return text
	}
	return strings.Map(func(r rune) rune {
		if r == '\n' || strings.ContainsRune(charset, r) {
			return r
		}
		return -1
	}, text)
}
