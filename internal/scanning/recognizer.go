package scanning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/zombor/taxcert/internal/render"
)

// DefaultPageTimeout bounds OCR of a single page.
const DefaultPageTimeout = 30 * time.Second

// PageText is the recognised text of one page.
type PageText struct {
	Page int
	Text string
}

// Recognition is the OCR result for a document.
type Recognition struct {
	Pages    []PageText
	Warnings []string
}

// Text joins the page texts in page order.
func (r *Recognition) Text() string {
	parts := make([]string, 0, len(r.Pages))
	for _, p := range r.Pages {
		parts = append(parts, p.Text)
	}
	return strings.Join(parts, render.PageBreak)
}

// Recognizer runs an engine over rendered pages, one worker per page.
type Recognizer struct {
	engine      Engine
	charset     string
	pageTimeout time.Duration
	logger      *slog.Logger
}

// NewRecognizer creates a recognizer. A nil logger uses slog.Default().
func NewRecognizer(engine Engine, pageTimeout time.Duration, logger *slog.Logger) *Recognizer {
	if pageTimeout <= 0 {
		pageTimeout = DefaultPageTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recognizer{engine: engine, charset: Charset, pageTimeout: pageTimeout, logger: logger}
}

// Recognize processes pages sequentially. Each surface is released once its
// page is done. A page that fails or times out is skipped; ErrNoText is
// returned when no page yields text.
func (r *Recognizer) Recognize(ctx context.Context, pages []*render.Surface, onProgress func(float64)) (*Recognition, error) {
	if onProgress == nil {
		onProgress = func(float64) {}
	}
	out := &Recognition{}
	n := float64(len(pages))

	for i, page := range pages {
		if err := ctx.Err(); err != nil {
			releaseAll(pages[i:])
			return nil, err
		}

		base := float64(i)
		text, err := r.recognizePage(ctx, page, func(p float64) {
			onProgress((base + clamp(p)) / n)
		})
		if err != nil {
			r.logger.Warn("skipping page", "page", page.Page+1, "error", err)
			out.Warnings = append(out.Warnings, fmt.Sprintf("page %d not recognised: %v", page.Page+1, err))
			continue
		}
		if strings.TrimSpace(text) == "" {
			out.Warnings = append(out.Warnings, fmt.Sprintf("page %d is blank", page.Page+1))
			continue
		}
		out.Pages = append(out.Pages, PageText{Page: page.Page, Text: text})
		onProgress((base + 1) / n)
	}

	if len(out.Pages) == 0 {
		return out, ErrNoText
	}
	return out, nil
}

type recognized struct {
	text string
	err  error
}

// recognizePage owns page and the worker: both are released on every path,
// after the engine has returned.
func (r *Recognizer) recognizePage(ctx context.Context, page *render.Surface, progress func(float64)) (string, error) {
	worker, err := r.engine.NewWorker(ctx)
	if err != nil {
		page.Release()
		return "", fmt.Errorf("starting OCR worker: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.pageTimeout)
	defer cancel()

	var mu sync.Mutex
	live := true
	report := func(p float64) {
		mu.Lock()
		defer mu.Unlock()
		if live {
			progress(p)
		}
	}

	done := make(chan recognized, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- recognized{err: fmt.Errorf("OCR engine panicked: %v", p)}
			}
		}()
		text, err := worker.Recognize(ctx, page, r.charset, report)
		done <- recognized{text: text, err: err}
	}()

	finish := func() {
		if err := worker.Close(); err != nil {
			r.logger.Warn("closing OCR worker", "error", err)
		}
		page.Release()
	}

	select {
	case res := <-done:
		finish()
		return res.text, res.err
	case <-ctx.Done():
		mu.Lock()
		live = false
		mu.Unlock()
		go func() {
			<-done
			finish()
		}()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("timed out after %s", r.pageTimeout)
		}
		return "", ctx.Err()
	}
}

func releaseAll(pages []*render.Surface) {
	for _, p := range pages {
		p.Release()
	}
}

func clamp(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}
