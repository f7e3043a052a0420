package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// MinEmbeddedText is the shortest embedded text worth classifying.
const MinEmbeddedText = 100

// TextSource reads the embedded text layer of a PDF.
type TextSource interface {
	Name() string
	PageTexts(ctx context.Context, data []byte, maxPages int) ([]string, error)
}

// TextExtractor pulls embedded text when rasterization has failed.
type TextExtractor struct {
	sources  []TextSource
	maxPages int
	logger   *slog.Logger
}

// NewTextExtractor tries sources in order. A nil logger uses slog.Default().
func NewTextExtractor(logger *slog.Logger, sources ...TextSource) *TextExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &TextExtractor{sources: sources, maxPages: DefaultMaxPages, logger: logger}
}

// ExtractEmbeddedText returns the text layer of the leading pages from the
// first source that yields enough of it. When none does, the longest text
// found is returned alongside ErrInsufficientText.
func (t *TextExtractor) ExtractEmbeddedText(ctx context.Context, data []byte) (string, error) {
	best := ""
	for _, src := range t.sources {
		if err := ctx.Err(); err != nil {
			return best, err
		}
		pages, err := src.PageTexts(ctx, data, t.maxPages)
		if err != nil {
			t.logger.Debug("embedded text source failed", "source", src.Name(), "error", err)
			continue
		}
		text := strings.Join(pages, PageBreak)
		n := utf8.RuneCountInString(strings.TrimSpace(text))
		if n >= MinEmbeddedText {
			return text, nil
		}
		if n > utf8.RuneCountInString(strings.TrimSpace(best)) {
			best = text
		}
	}
	return best, ErrInsufficientText
}

// ServiceText reads the text layer through a rendering service.
type ServiceText struct {
	Service Service
}

func (s ServiceText) Name() string { return "renderer" }

func (s ServiceText) PageTexts(ctx context.Context, data []byte, maxPages int) ([]string, error) {
	doc, err := s.Service.Open(data)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	var pages []string
	for page := 0; page < min(doc.NumPage(), maxPages); page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := doc.Text(page)
		if err != nil {
			continue
		}
		pages = append(pages, text)
	}
	return pages, nil
}

// PlainText reads the text layer with a pure Go PDF parser, independent of
// the rendering service.
type PlainText struct{}

func (PlainText) Name() string { return "pdf" }

func (PlainText) PageTexts(ctx context.Context, data []byte, maxPages int) (pages []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("panic while reading PDF text: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	for num := 1; num <= min(reader.NumPage(), maxPages); num++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(num)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pages = append(pages, text)
	}
	if len(pages) == 0 {
		return nil, errors.New("no text layer")
	}
	return pages, nil
}
