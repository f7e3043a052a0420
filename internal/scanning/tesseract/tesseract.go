// Package tesseract provides the libtesseract OCR engine. Importing it
// requires cgo and the tesseract headers.
package tesseract

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"

	"github.com/zombor/taxcert/internal/render"
	"github.com/zombor/taxcert/internal/scanning"
)

// Engine recognises pages with libtesseract.
type Engine struct {
	language string
}

// New creates an engine for language (default "eng").
func New(language string) *Engine {
	if language == "" {
		language = "eng"
	}
	return &Engine{language: language}
}

// NewWorker creates a fresh client for one page.
func (t *Engine) NewWorker(ctx context.Context) (scanning.Worker, error) {
	client := gosseract.NewClient()
	if err := client.SetLanguage(t.language); err != nil {
		client.Close()
		return nil, fmt.Errorf("setting tesseract language: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_AUTO); err != nil {
		client.Close()
		return nil, fmt.Errorf("setting page segmentation mode: %w", err)
	}
	return &tesseractWorker{client: client}, nil
}

// Close is a no-op; clients are closed per worker.
func (t *Engine) Close() error {
	return nil
}

type tesseractWorker struct {
	client *gosseract.Client
}

func (w *tesseractWorker) Recognize(ctx context.Context, page *render.Surface, charset string, progress func(float64)) (string, error) {
	data, err := page.PNG()
	if err != nil {
		return "", err
	}
	progress(0.1)

	if charset != "" {
		if err := w.client.SetWhitelist(charset); err != nil {
			return "", fmt.Errorf("setting character whitelist: %w", err)
		}
	}
	if err := w.client.SetImageFromBytes(data); err != nil {
		return "", fmt.Errorf("loading page image: %w", err)
	}
	progress(0.2)

	text, err := w.client.Text()
	if err != nil {
		return "", fmt.Errorf("recognising text: %w", err)
	}
	progress(1)
	return text, nil
}

func (w *tesseractWorker) Close() error {
	return w.client.Close()
}
