package render

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
)

// PageBreak separates page texts in assembled document text.
const PageBreak = "\n\f\n"

var (
	ErrPasswordProtected = errors.New("document is password protected")
	ErrCorrupted         = errors.New("document could not be opened")
	ErrNoRenderablePages = errors.New("no renderable pages")
	ErrRenderTimeout     = errors.New("page rendering timed out")
	ErrInsufficientText  = errors.New("embedded text too short")
)

// Service opens documents for rendering. Implementations must return
// ErrPasswordProtected for encrypted input and ErrCorrupted for anything
// they cannot parse.
type Service interface {
	Open(data []byte) (Document, error)
}

// Document is an opened, renderable document. Pages are zero-indexed.
type Document interface {
	NumPage() int
	// Bounds returns the page size in points.
	Bounds(page int) (width, height float64, err error)
	Render(page int, dpi float64) (image.Image, error)
	Text(page int) (string, error)
	Close() error
}

// Surface is one rendered page, held only until OCR has consumed it.
type Surface struct {
	Page   int
	Width  int
	Height int
	Image  image.Image
}

// NewSurface wraps img as the surface for page.
func NewSurface(page int, img image.Image) *Surface {
	b := img.Bounds()
	return &Surface{Page: page, Width: b.Dx(), Height: b.Dy(), Image: img}
}

// PNG encodes the surface for engines that take encoded images.
func (s *Surface) PNG() ([]byte, error) {
	if s.Image == nil {
		return nil, fmt.Errorf("page %d already released", s.Page+1)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, s.Image); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// Release drops the pixel buffer.
func (s *Surface) Release() {
	s.Image = nil
}

// Released reports whether the pixel buffer has been dropped.
func (s *Surface) Released() bool {
	return s.Image == nil
}
