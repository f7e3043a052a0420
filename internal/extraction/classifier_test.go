package extraction

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Classifier", func() {
	var (
		text    string
		outcome ValidationOutcome
	)

	JustBeforeEach(func() {
		outcome = NewClassifier().Classify(text)
	})

	When("the text is a certificate", func() {
		BeforeEach(func() {
			text = certificateText
		})

		It("should accept it", func() {
			Expect(outcome.Valid).To(BeTrue())
			Expect(outcome.Rejection).To(BeEmpty())
		})

		It("should list the matched indicators", func() {
			Expect(outcome.Matched).To(ContainElements("IRP5", "SARS", "year of assessment", "code 4102"))
		})
	})

	When("the text is shorter than the minimum", func() {
		BeforeEach(func() {
			text = "IRP5 SARS UIF PAYE 3699 4102"
		})

		It("should report a low quality scan even with indicators present", func() {
			Expect(outcome.Valid).To(BeFalse())
			Expect(outcome.Rejection).To(Equal(RejectLowQuality))
		})
	})

	When("only one indicator is present", func() {
		BeforeEach(func() {
			text = strings.Repeat("The quick brown fox jumps over the lazy dog. ", 4) + "IRP5"
		})

		It("should report that it is not a certificate", func() {
			Expect(outcome.Valid).To(BeFalse())
			Expect(outcome.Rejection).To(Equal(RejectNotCertificate))
			Expect(outcome.Matched).To(ConsistOf("IRP5"))
		})
	})

	When("exactly two indicators are present", func() {
		BeforeEach(func() {
			text = strings.Repeat("The quick brown fox jumps over the lazy dog. ", 3) + "IRP5 PAYE"
		})

		It("should accept it", func() {
			Expect(outcome.Valid).To(BeTrue())
		})
	})
})
