package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/zombor/taxcert/internal/render"
)

const (
	MinInputSize = 1 << 10
	MaxInputSize = 10 << 20

	ContentTypePDF = "application/pdf"
)

var suspiciousName = regexp.MustCompile(`(?i)(encrypt|password|protected|locked|secured)|\.(enc|gpg|pgp|aes|p7m)$`)

// Input is one uploaded document.
type Input struct {
	Filename    string
	ContentType string
	Data        []byte
}

// IsImage reports whether the input skips rasterization.
func (in Input) IsImage() bool {
	return render.IsImageType(in.ContentType)
}

// Validate runs the pre-checks that need no parsing.
func (in Input) Validate() error {
	contentType := strings.ToLower(strings.TrimSpace(in.ContentType))
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	if contentType != ContentTypePDF && !in.IsImage() {
		return Failf(InvalidInput, nil, "Unsupported file type %q. Upload a PDF or a photo of the certificate.", in.ContentType)
	}

	switch n := len(in.Data); {
	case n < MinInputSize:
		return Failf(InvalidInput, nil, "The file is too small (%d bytes) to be a certificate.", n)
	case n > MaxInputSize:
		return Failf(InvalidInput, nil, "The file is larger than %d MB.", MaxInputSize>>20)
	}

	if suspiciousName.MatchString(in.Filename) {
		return Failf(InvalidInput, nil, "The file name %q suggests the document is encrypted. Upload an unprotected copy.", in.Filename)
	}

	detected := mimetype.Detect(in.Data)
	if contentType == ContentTypePDF && !detected.Is(ContentTypePDF) {
		return Failf(InvalidInput, fmt.Errorf("content sniffed as %s", detected.String()), "The file is not a PDF.")
	}
	if in.IsImage() && !strings.HasPrefix(detected.String(), "image/") {
		return Failf(InvalidInput, fmt.Errorf("content sniffed as %s", detected.String()), "The file is not an image.")
	}
	return nil
}
