package render

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"strings"

	"github.com/gen2brain/heic"
)

// IsImageType reports whether contentType is an image upload that skips
// rasterization.
func IsImageType(contentType string) bool {
	switch normalizeType(contentType) {
	case "image/jpeg", "image/jpg", "image/png", "image/gif", "image/heic", "image/heif":
		return true
	}
	return false
}

// DecodeImage turns an uploaded photo or scan into a single surface.
func DecodeImage(data []byte, contentType string) (*Surface, error) {
	var (
		img image.Image
		err error
	)
	if isHEIC(data) || isHEICType(contentType) {
		img, err = decodeHEIC(data)
		if err != nil {
			return nil, fmt.Errorf("%w: decoding HEIC/HEIF image: %v", ErrCorrupted, err)
		}
	} else {
		img, _, err = image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: decoding image: %v", ErrCorrupted, err)
		}
	}

	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, ErrNoRenderablePages
	}
	return NewSurface(0, img), nil
}

func decodeHEIC(data []byte) (img image.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			img, err = nil, fmt.Errorf("HEIC decoder panicked: %v", r)
		}
	}()
	return heic.Decode(bytes.NewReader(data))
}

// isHEIC checks for an ftyp box with a HEIF family brand.
func isHEIC(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func isHEICType(contentType string) bool {
	t := normalizeType(contentType)
	return strings.Contains(t, "heic") || strings.Contains(t, "heif")
}

func normalizeType(contentType string) string {
	t := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(t, ";"); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	return t
}
