package render

import (
	"errors"
	"fmt"
	"image"

	"github.com/gen2brain/go-fitz"
)

// Fitz renders documents with MuPDF.
type Fitz struct{}

// Open implements Service.
func (Fitz) Open(data []byte) (Document, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		if errors.Is(err, fitz.ErrNeedsPassword) {
			return nil, ErrPasswordProtected
		}
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return &fitzDocument{doc: doc}, nil
}

type fitzDocument struct {
	doc *fitz.Document
}

func (d *fitzDocument) NumPage() int {
	return d.doc.NumPage()
}

func (d *fitzDocument) Bounds(page int) (float64, float64, error) {
	rect, err := d.doc.Bound(page)
	if err != nil {
		return 0, 0, fmt.Errorf("reading page bounds: %w", err)
	}
	return float64(rect.Dx()), float64(rect.Dy()), nil
}

func (d *fitzDocument) Render(page int, dpi float64) (image.Image, error) {
	img, err := d.doc.ImageDPI(page, dpi)
	if err != nil {
		return nil, fmt.Errorf("rendering page: %w", err)
	}
	return img, nil
}

func (d *fitzDocument) Text(page int) (string, error) {
	text, err := d.doc.Text(page)
	if err != nil {
		return "", fmt.Errorf("reading page text: %w", err)
	}
	return text, nil
}

func (d *fitzDocument) Close() error {
	return d.doc.Close()
}
