package render

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Inspection is what can be learned about a PDF without rendering it.
type Inspection struct {
	Pages     int
	Encrypted bool
}

// Inspect parses the PDF structure. A password error is reported as
// ErrPasswordProtected; other errors are returned as is, since the renderer
// may still cope with files pdfcpu rejects.
func Inspect(data []byte) (info Inspection, err error) {
	defer func() {
		if r := recover(); r != nil {
			info, err = Inspection{}, fmt.Errorf("panic while inspecting PDF: %v", r)
		}
	}()

	conf := model.NewDefaultConfiguration()
	ctx, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "password") {
			return Inspection{}, ErrPasswordProtected
		}
		return Inspection{}, fmt.Errorf("inspecting PDF: %w", err)
	}
	return Inspection{Pages: ctx.PageCount, Encrypted: ctx.Encrypt != nil}, nil
}
