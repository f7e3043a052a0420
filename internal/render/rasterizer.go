package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultMaxPages    = 3
	DefaultScale       = 2.0
	DefaultPageTimeout = 30 * time.Second

	pointsPerInch = 72.0
)

// Raster is the outcome of rasterizing a document.
type Raster struct {
	Surfaces []*Surface
	// Warnings lists pages that were skipped and why.
	Warnings []string
}

// Release drops every surface's pixel buffer.
func (r *Raster) Release() {
	for _, s := range r.Surfaces {
		s.Release()
	}
}

// Rasterizer turns the first pages of a PDF into raster surfaces.
type Rasterizer struct {
	service     Service
	inspect     func([]byte) (Inspection, error)
	maxPages    int
	scale       float64
	pageTimeout time.Duration
	logger      *slog.Logger
}

// Option configures a Rasterizer.
type Option func(*Rasterizer)

// WithMaxPages caps how many leading pages are rendered.
func WithMaxPages(n int) Option {
	return func(r *Rasterizer) {
		if n > 0 {
			r.maxPages = n
		}
	}
}

// WithScale sets the magnification relative to 72 DPI.
func WithScale(scale float64) Option {
	return func(r *Rasterizer) {
		if scale > 0 {
			r.scale = scale
		}
	}
}

// WithPageTimeout bounds how long a single page may take to render.
func WithPageTimeout(d time.Duration) Option {
	return func(r *Rasterizer) {
		if d > 0 {
			r.pageTimeout = d
		}
	}
}

// WithInspector replaces the structural pre-check.
func WithInspector(inspect func([]byte) (Inspection, error)) Option {
	return func(r *Rasterizer) {
		r.inspect = inspect
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Rasterizer) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRasterizer creates a rasterizer over service.
func NewRasterizer(service Service, opts ...Option) *Rasterizer {
	r := &Rasterizer{
		service:     service,
		inspect:     Inspect,
		maxPages:    DefaultMaxPages,
		scale:       DefaultScale,
		pageTimeout: DefaultPageTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rasterize renders up to the configured number of leading pages. Pages that
// fail or time out are skipped; an empty result is an error.
func (r *Rasterizer) Rasterize(ctx context.Context, data []byte) (*Raster, error) {
	if r.inspect != nil {
		info, err := r.inspect(data)
		switch {
		case errors.Is(err, ErrPasswordProtected):
			return nil, ErrPasswordProtected
		case err != nil:
			r.logger.Debug("PDF inspection failed, trying renderer anyway", "error", err)
		case info.Encrypted:
			r.logger.Debug("PDF is encrypted without a user password")
		}
	}

	doc, err := r.service.Open(data)
	if err != nil {
		return nil, err
	}

	pages := min(doc.NumPage(), r.maxPages)
	out := &Raster{}
	var inflight inflightRenders
	defer r.closeWhenIdle(doc, &inflight)
	timeouts, attempted := 0, 0

	for page := 0; page < pages; page++ {
		if err := ctx.Err(); err != nil {
			out.Release()
			return nil, err
		}

		w, h, err := doc.Bounds(page)
		if err != nil || w <= 0 || h <= 0 {
			out.Warnings = append(out.Warnings, fmt.Sprintf("page %d skipped: invalid viewport", page+1))
			continue
		}

		attempted++
		img, err := r.renderPage(ctx, doc, page, &inflight)
		if err != nil {
			if errors.Is(err, ErrRenderTimeout) {
				timeouts++
			}
			r.logger.Warn("skipping page", "page", page+1, "error", err)
			out.Warnings = append(out.Warnings, fmt.Sprintf("page %d skipped: %v", page+1, err))
			continue
		}
		out.Surfaces = append(out.Surfaces, NewSurface(page, img))
	}

	if len(out.Surfaces) == 0 {
		if attempted > 0 && timeouts == attempted {
			return nil, ErrRenderTimeout
		}
		return nil, ErrNoRenderablePages
	}
	return out, nil
}

type rendered struct {
	img image.Image
	err error
}

// inflightRenders tracks renders abandoned after a timeout.
type inflightRenders struct {
	wg    sync.WaitGroup
	count int
}

func (r *Rasterizer) renderPage(ctx context.Context, doc Document, page int, inflight *inflightRenders) (image.Image, error) {
	ctx, cancel := context.WithTimeout(ctx, r.pageTimeout)
	defer cancel()

	done := make(chan rendered, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- rendered{err: fmt.Errorf("renderer panicked: %v", p)}
			}
		}()
		img, err := doc.Render(page, r.scale*pointsPerInch)
		done <- rendered{img: img, err: err}
	}()

	select {
	case res := <-done:
		if res.err == nil && res.img == nil {
			return nil, errors.New("renderer returned no image")
		}
		return res.img, res.err
	case <-ctx.Done():
		// The render keeps running; the document stays open until it returns.
		inflight.count++
		inflight.wg.Add(1)
		go func() {
			defer inflight.wg.Done()
			<-done
		}()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: page %d after %s", ErrRenderTimeout, page+1, r.pageTimeout)
		}
		return nil, ctx.Err()
	}
}

// closeWhenIdle closes doc once every abandoned render has returned.
func (r *Rasterizer) closeWhenIdle(doc Document, inflight *inflightRenders) {
	if inflight.count == 0 {
		r.close(doc)
		return
	}
	go func() {
		inflight.wg.Wait()
		r.close(doc)
	}()
}

func (r *Rasterizer) close(doc Document) {
	if err := doc.Close(); err != nil {
		r.logger.Warn("closing document", "error", err)
	}
}
