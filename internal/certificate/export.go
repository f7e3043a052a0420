package certificate

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/zombor/taxcert/internal/extraction"
)

const exportSheet = "Certificates"

// WriteXLSX writes one row per certificate with a column per field
func WriteXLSX(w io.Writer, certs []*Certificate, catalog *extraction.Catalog) error {
	if catalog == nil {
		catalog = extraction.DefaultCatalog()
	}

	f := excelize.NewFile()
	defer f.Close()

	if _, err := f.NewSheet(exportSheet); err != nil {
		return fmt.Errorf("creating sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("removing default sheet: %w", err)
	}
	index, _ := f.GetSheetIndex(exportSheet)
	f.SetActiveSheet(index)

	headers := []string{"ID", "Filename", "Status", "Tax Year", "Source", "Confidence"}
	for _, field := range extraction.Fields() {
		headers = append(headers, catalog.Spec(field).Label)
	}
	headers = append(headers, "Manual", "Failure", "Uploaded")

	row := 1
	write := func(col int, v any) {
		cell, _ := excelize.CoordinatesToCellName(col, row)
		_ = f.SetCellValue(exportSheet, cell, v)
	}

	for i, h := range headers {
		write(i+1, h)
	}

	for _, c := range certs {
		row++
		write(1, c.ID)
		write(2, c.Filename)
		write(3, string(c.Status))
		col := 4
		if c.Document != nil {
			write(col, c.Document.TaxYear)
			write(col+1, string(c.Document.Source))
		}
		write(col+2, c.Confidence)
		col += 3
		for _, field := range extraction.Fields() {
			if v := c.Value(field); v > 0 {
				write(col, v)
			}
			col++
		}
		write(col, c.Manual)
		write(col+1, c.FailureMessage)
		write(col+2, c.CreatedAt.Format("2006-01-02 15:04"))
	}

	_ = f.SetColWidth(exportSheet, "A", "A", 38)
	_ = f.SetColWidth(exportSheet, "B", "B", 28)
	last, _ := excelize.ColumnNumberToName(len(headers))
	_ = f.SetColWidth(exportSheet, "C", last, 16)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}
