package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zombor/taxcert/internal/extraction"
	"github.com/zombor/taxcert/internal/render"
	"github.com/zombor/taxcert/internal/scanning"
)

// Rasterizer renders the leading pages of a PDF.
type Rasterizer interface {
	Rasterize(ctx context.Context, data []byte) (*render.Raster, error)
}

// TextFallback reads a PDF's embedded text layer.
type TextFallback interface {
	ExtractEmbeddedText(ctx context.Context, data []byte) (string, error)
}

// Recognizer runs OCR over rendered pages.
type Recognizer interface {
	Recognize(ctx context.Context, pages []*render.Surface, onProgress func(float64)) (*scanning.Recognition, error)
}

// Success is a completed extraction.
type Success struct {
	Document   extraction.Document    `json:"document"`
	Confidence float64                `json:"confidence"`
	Warnings   []string               `json:"warnings,omitempty"`
	Candidates []extraction.Candidate `json:"candidates,omitempty"`
	Stages     []Stage                `json:"stages"`
}

// Pipeline turns an uploaded certificate into a corrected document.
type Pipeline struct {
	rasterizer Rasterizer
	text       TextFallback
	recognizer Recognizer
	catalog    *extraction.Catalog
	limits     extraction.Limits
	now        func() time.Time
	logger     *slog.Logger

	classifier *extraction.Classifier
	extractor  *extraction.Extractor
	corrector  *extraction.Corrector
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLimits overrides the plausibility limits.
func WithLimits(l extraction.Limits) Option {
	return func(p *Pipeline) { p.limits = l }
}

// WithClock sets the time source used for timestamps and tax year bounds.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a pipeline. text may be nil, which disables the embedded text
// fallback.
func New(rasterizer Rasterizer, text TextFallback, recognizer Recognizer, opts ...Option) *Pipeline {
	p := &Pipeline{
		rasterizer: rasterizer,
		text:       text,
		recognizer: recognizer,
		catalog:    extraction.DefaultCatalog(),
		limits:     extraction.DefaultLimits(),
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.classifier = extraction.NewClassifier()
	p.extractor = extraction.NewExtractor(p.catalog, p.now)
	p.corrector = extraction.NewCorrector(p.catalog, p.limits)
	return p
}

// Process runs one document through every stage. Failures are returned as
// *Error; a panic anywhere becomes UnexpectedFailure.
func (p *Pipeline) Process(ctx context.Context, in Input, onProgress ProgressFunc) (result *Success, err error) {
	m := newMachine()
	rep := &reporter{fn: onProgress, logger: p.logger}
	start := time.Now()

	defer func() {
		if v := recover(); v != nil {
			result, err = nil, Fail(UnexpectedFailure, fmt.Errorf("panic: %v", v))
		}
		if err != nil {
			_ = m.to(Failed)
			p.logger.Info("extraction failed",
				"file", in.Filename,
				"kind", KindOf(err),
				"stages", m.history,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}
	}()

	advance := func(stage Stage, percent float64, message string) error {
		if err := m.to(stage); err != nil {
			return Fail(UnexpectedFailure, err)
		}
		rep.emit(stage, percent, message)
		return nil
	}

	rep.emit(Loading, 5, "Checking document")
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, Fail(UnexpectedFailure, err)
	}

	if err := advance(Rasterizing, 15, "Rendering pages"); err != nil {
		return nil, err
	}
	var (
		pages    []*render.Surface
		warnings []string
		rawText  string
		source   extraction.Source
	)
	if in.IsImage() {
		surface, err := render.DecodeImage(in.Data, in.ContentType)
		if err != nil {
			return nil, Fail(rasterKind(err), err)
		}
		pages = []*render.Surface{surface}
		source = extraction.SourceImageOCR
	} else {
		raster, rerr := p.rasterizer.Rasterize(ctx, in.Data)
		if rerr != nil {
			kind := rasterKind(rerr)
			if kind == PasswordProtected || kind == UnexpectedFailure || p.text == nil {
				return nil, Fail(kind, rerr)
			}
			p.logger.Info("rasterization failed, reading embedded text", "file", in.Filename, "error", rerr)
			if err := advance(DirectTextFallback, 70, "Reading embedded text"); err != nil {
				return nil, err
			}
			text, ferr := p.text.ExtractEmbeddedText(ctx, in.Data)
			if ferr != nil {
				return nil, Failf(kind, errors.Join(rerr, ferr),
					"%s The document has no usable text layer either. Upload a higher quality scan or enter the values manually.", kind.Message())
			}
			rawText = text
			source = extraction.SourceEmbeddedText
			warnings = append(warnings, "pages could not be rendered; values were read from the embedded text layer")
		} else {
			pages = raster.Surfaces
			warnings = append(warnings, raster.Warnings...)
			source = extraction.SourceOCR
		}
	}

	if pages != nil {
		if err := advance(Recognizing, 25, "Recognising text"); err != nil {
			return nil, err
		}
		rec, err := p.recognizer.Recognize(ctx, pages, func(f float64) {
			rep.emit(Recognizing, 25+f*50, "Recognising text")
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, Fail(UnexpectedFailure, err)
			}
			return nil, Fail(OcrEngineFailure, err)
		}
		rawText = rec.Text()
		warnings = append(warnings, rec.Warnings...)
	}

	text := scanning.Normalize(rawText)

	if err := advance(Classifying, 80, "Checking the document is a tax certificate"); err != nil {
		return nil, err
	}
	outcome := p.classifier.Classify(text)
	switch outcome.Rejection {
	case extraction.RejectLowQuality:
		return nil, Fail(LowQualityScan, nil)
	case extraction.RejectNotCertificate:
		return nil, Failf(NotACertificate, nil, "%s Found %d of %d required markers.",
			NotACertificate.Message(), len(outcome.Matched), extraction.MinIndicators)
	}

	if err := advance(Extracting, 85, "Reading amounts"); err != nil {
		return nil, err
	}
	ext := p.extractor.Extract(text, source)

	if err := advance(Correcting, 95, "Checking amounts"); err != nil {
		return nil, err
	}
	corr, cerr := p.corrector.Correct(text, ext)
	switch {
	case errors.Is(cerr, extraction.ErrGrossNotFound):
		return nil, Fail(GrossAmountNotFound, cerr)
	case errors.Is(cerr, extraction.ErrImplausible):
		return nil, Fail(ImplausibleAmounts, cerr)
	case cerr != nil:
		return nil, Fail(UnexpectedFailure, cerr)
	}

	if err := advance(Done, 100, "Extraction complete"); err != nil {
		return nil, err
	}
	p.logger.Info("extraction complete",
		"file", in.Filename,
		"source", source,
		"confidence", corr.Document.Confidence,
		"fields", corr.Document.PopulatedCount(),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &Success{
		Document:   corr.Document,
		Confidence: corr.Document.Confidence,
		Warnings:   append(warnings, corr.Notes...),
		Candidates: ext.Candidates,
		Stages:     m.history,
	}, nil
}

func rasterKind(err error) Kind {
	switch {
	case errors.Is(err, render.ErrPasswordProtected):
		return PasswordProtected
	case errors.Is(err, render.ErrRenderTimeout):
		return RenderTimeout
	case errors.Is(err, render.ErrNoRenderablePages):
		return NoRenderablePages
	case errors.Is(err, render.ErrCorrupted):
		return CorruptedDocument
	default:
		return UnexpectedFailure
	}
}
