package certificate

import (
	"bytes"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/xuri/excelize/v2"

	"github.com/zombor/taxcert/internal/extraction"
	"github.com/zombor/taxcert/internal/pipeline"
)

var _ = Describe("WriteXLSX", func() {
	var (
		certs []*Certificate
		rows  [][]string
	)

	BeforeEach(func() {
		created := time.Date(2024, 7, 1, 9, 30, 0, 0, time.UTC)
		doc := extraction.NewDocument(extraction.SourceOCR, created)
		doc.Set(extraction.GrossRemuneration, 482000)
		doc.Set(extraction.TaxWithheld, 98450.5)
		doc.TaxYear = "2024"
		certs = []*Certificate{
			{ID: "a", Filename: "irp5.pdf", Status: StatusDone, Document: &doc, Confidence: 25, CreatedAt: created},
			{ID: "b", Filename: "photo.jpg", Status: StatusFailed, FailureKind: pipeline.LowQualityScan,
				FailureMessage: "too blurry", CreatedAt: created},
		}
	})

	JustBeforeEach(func() {
		var buf bytes.Buffer
		Expect(WriteXLSX(&buf, certs, nil)).To(Succeed())

		f, err := excelize.OpenReader(&buf)
		Expect(err).NotTo(HaveOccurred())
		defer f.Close()
		Expect(f.GetSheetList()).To(Equal([]string{exportSheet}))
		rows, err = f.GetRows(exportSheet)
		Expect(err).NotTo(HaveOccurred())
	})

	It("should write a header and one row per certificate", func() {
		Expect(rows).To(HaveLen(3))
		Expect(rows[0][0]).To(Equal("ID"))
		Expect(rows[0]).To(ContainElement("Gross remuneration"))
		Expect(rows[0]).To(ContainElement("Total tax"))
	})

	It("should write the extracted values under their labels", func() {
		header := rows[0]
		col := func(name string) int {
			for i, h := range header {
				if h == name {
					return i
				}
			}
			return -1
		}
		Expect(rows[1][col("Gross remuneration")]).To(Equal("482000"))
		Expect(rows[1][col("Tax Year")]).To(Equal("2024"))
		Expect(rows[1][col("Source")]).To(Equal("ocr"))
	})

	It("should include the failure message for rejected certificates", func() {
		Expect(rows[2]).To(ContainElement("too blurry"))
		Expect(rows[2]).To(ContainElement("failed"))
	})
})
