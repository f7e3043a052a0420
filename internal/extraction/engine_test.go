package extraction

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const certificateText = `EMPLOYEES TAX CERTIFICATE
IRP5 South African Revenue Service
Year of assessment 2024
Employer: Acme Holdings (Pty) Ltd
Gross remuneration 482,000.00 3699
Employees tax 98,450.00 4102
UIF contribution 1,460.00 4141
Pension fund 36,000.00 4001
Medical aid 24,000.00 4005
Travel allowance 60,000.00 3701
Medical tax credit 8,736.00 4116
Total tax 101,200.00 4149
`

var fixedNow = func() time.Time {
	return time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)
}

var _ = Describe("Extractor", func() {
	var (
		text      string
		extractor *Extractor
		result    Extraction
	)

	BeforeEach(func() {
		extractor = NewExtractor(DefaultCatalog(), fixedNow)
	})

	JustBeforeEach(func() {
		result = extractor.Extract(text, SourceOCR)
	})

	When("reading a complete certificate", func() {
		BeforeEach(func() {
			text = certificateText
		})

		It("should populate every field", func() {
			doc := result.Document
			Expect(doc.Value(GrossRemuneration)).To(Equal(482000.0))
			Expect(doc.Value(TaxWithheld)).To(Equal(98450.0))
			Expect(doc.Value(UIFContribution)).To(Equal(1460.0))
			Expect(doc.Value(RetirementFund)).To(Equal(36000.0))
			Expect(doc.Value(MedicalScheme)).To(Equal(24000.0))
			Expect(doc.Value(TravelAllowance)).To(Equal(60000.0))
			Expect(doc.Value(MedicalTaxCredit)).To(Equal(8736.0))
			Expect(doc.Value(TotalTax)).To(Equal(101200.0))
		})

		It("should read the tax year", func() {
			Expect(result.Document.TaxYear).To(Equal("2024"))
		})

		It("should stamp provenance and time", func() {
			Expect(result.Document.Source).To(Equal(SourceOCR))
			Expect(result.Document.ExtractedAt).To(Equal(fixedNow()))
		})

		It("should score full confidence", func() {
			Expect(result.Document.Confidence).To(Equal(100.0))
		})

		It("should mark accepted candidates", func() {
			accepted := 0
			for _, c := range result.Candidates {
				if c.Accepted {
					accepted++
				}
			}
			Expect(accepted).To(Equal(len(Fields())))
		})
	})

	When("a later pattern matches a different amount", func() {
		BeforeEach(func() {
			text = "3699 gross 510,000.00\nGross remuneration 482,000.00 3699\n"
		})

		It("should keep the first pattern's amount", func() {
			Expect(result.Document.Value(GrossRemuneration)).To(Equal(482000.0))
		})

		It("should still log the later match", func() {
			Expect(result.Candidates).To(ContainElement(And(
				HaveField("Field", GrossRemuneration),
				HaveField("Raw", "510,000.00"),
				HaveField("Kind", CodeBeforeAmount),
				HaveField("Accepted", false),
			)))
		})
	})

	When("a keyword is followed only by a recognition code", func() {
		BeforeEach(func() {
			text = "UIF 4141\n"
		})

		It("should not read the code as an amount", func() {
			Expect(result.Document.Populated(UIFContribution)).To(BeFalse())
		})
	})

	When("a space-grouped whole amount sits between two codes", func() {
		BeforeEach(func() {
			text = "UIF contribution 4141 1 460 4102\nTravel allowance 3701 24 000 4005 1 200.00\n"
		})

		It("should stop the amount before the next code", func() {
			Expect(result.Document.Value(UIFContribution)).To(Equal(1460.0))
			Expect(result.Document.Value(TravelAllowance)).To(Equal(24000.0))
		})

		It("should never capture digits of the next code", func() {
			Expect(result.Candidates).NotTo(ContainElement(HaveField("Raw", "1 460 410")))
			Expect(result.Candidates).NotTo(ContainElement(HaveField("Raw", "24 000 400")))
		})
	})

	When("a code-anchored amount looks like a year", func() {
		BeforeEach(func() {
			text = "Medical tax credit 4116 2016\nAllowance 3701 2000\n"
		})

		It("should keep the amount", func() {
			Expect(result.Document.Value(MedicalTaxCredit)).To(Equal(2016.0))
			Expect(result.Document.Value(TravelAllowance)).To(Equal(2000.0))
		})
	})

	When("a keyword is followed only by a year", func() {
		BeforeEach(func() {
			text = "Total tax 2024\n"
		})

		It("should not read the year as an amount", func() {
			Expect(result.Document.Populated(TotalTax)).To(BeFalse())
		})
	})

	When("the year is written as a range", func() {
		BeforeEach(func() {
			text = "Tax year 2023/2024\n"
		})

		It("should use the closing year", func() {
			Expect(result.Document.TaxYear).To(Equal("2024"))
		})
	})

	When("only bare years appear", func() {
		BeforeEach(func() {
			text = "Printed 2031 reissued 1998 filed 2024\n"
		})

		It("should accept the first year in the plausible range", func() {
			Expect(result.Document.TaxYear).To(Equal("2024"))
		})
	})

	When("no plausible year appears", func() {
		BeforeEach(func() {
			text = "Reference 2031\n"
		})

		It("should leave the tax year empty", func() {
			Expect(result.Document.TaxYear).To(BeEmpty())
		})
	})
})

var _ = Describe("Document", func() {
	It("should raise confidence as fields are populated", func() {
		doc := NewDocument(SourceOCR, fixedNow())
		previous := doc.Score()
		for _, f := range Fields() {
			doc.Set(f, 100)
			Expect(doc.Score()).To(BeNumerically(">", previous))
			previous = doc.Score()
		}
		Expect(previous).To(Equal(100.0))
	})

	It("should count an estimated field at half weight", func() {
		anchored := NewDocument(SourceOCR, fixedNow())
		anchored.Set(GrossRemuneration, 482000)

		estimated := NewDocument(SourceOCR, fixedNow())
		estimated.SetEstimated(GrossRemuneration, 482000)

		Expect(anchored.Score()).To(Equal(12.5))
		Expect(estimated.Score()).To(Equal(6.3))
	})

	It("should store negative amounts as absolute values", func() {
		doc := NewDocument(SourceOCR, fixedNow())
		doc.Set(TaxWithheld, -98450)
		Expect(doc.Value(TaxWithheld)).To(Equal(98450.0))
	})

	It("should clone without sharing state", func() {
		doc := NewDocument(SourceOCR, fixedNow())
		doc.Set(TaxWithheld, 10)
		clone := doc.Clone()
		clone.Set(TaxWithheld, 20)
		Expect(doc.Value(TaxWithheld)).To(Equal(10.0))
	})
})
