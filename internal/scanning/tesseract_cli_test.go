package scanning

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"os"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/taxcert/internal/render"
)

// MockRunner is a mock implementation of Runner
type MockRunner struct {
	Name   string
	Args   []string
	Stdout string
	Err    error
}

func (m *MockRunner) Run(ctx context.Context, name string, logger *slog.Logger, args ...string) ([]byte, []byte, error) {
	m.Name = name
	m.Args = args
	if m.Err != nil {
		return nil, []byte("read error"), m.Err
	}
	return []byte(m.Stdout), nil, nil
}

var _ = Describe("TesseractCLI", func() {
	var (
		runner *MockRunner
		worker Worker
		text   string
		err    error
	)

	BeforeEach(func() {
		runner = &MockRunner{Stdout: "IRP5\n"}
	})

	JustBeforeEach(func() {
		engine := NewTesseractCLI("", "", runner, quietLogger)
		worker, err = engine.NewWorker(context.Background())
		Expect(err).NotTo(HaveOccurred())
		page := render.NewSurface(0, image.NewGray(image.Rect(0, 0, 8, 8)))
		text, err = worker.Recognize(context.Background(), page, Charset, func(float64) {})
	})

	It("should run tesseract with the whitelist", func() {
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(Equal("IRP5\n"))
		Expect(runner.Name).To(Equal("tesseract"))
		Expect(runner.Args).To(ContainElement("tessedit_char_whitelist=" + Charset))
		Expect(runner.Args[1]).To(Equal("stdout"))
	})

	It("should remove its scratch directory on close", func() {
		dir := runner.Args[0][:strings.LastIndex(runner.Args[0], string(os.PathSeparator))]
		Expect(worker.Close()).To(Succeed())
		_, statErr := os.Stat(dir)
		Expect(os.IsNotExist(statErr)).To(BeTrue())
	})

	When("tesseract fails", func() {
		BeforeEach(func() {
			runner.Err = errors.New("exit status 1")
		})

		It("should include stderr in the error", func() {
			Expect(err).To(MatchError(ContainSubstring("read error")))
		})
	})
})
