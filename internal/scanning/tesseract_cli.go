package scanning

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/zombor/taxcert/internal/render"
)

// Runner lets us stub external commands in tests.
type Runner interface {
	Run(ctx context.Context, name string, logger *slog.Logger, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, logger *slog.Logger, args ...string) ([]byte, []byte, error) {
	start := time.Now()
	logger.Debug("running command", "cmd_line", strings.Join(append([]string{name}, args...), " "))

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	if err != nil {
		logger.Error("exec failed",
			"cmd", name,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
			"stderr", truncate(errb.String(), 8<<10),
		)
	}
	return out.Bytes(), errb.Bytes(), err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}

// TesseractCLI recognises pages by running the tesseract binary, for hosts
// without libtesseract headers.
type TesseractCLI struct {
	binary   string
	language string
	runner   Runner
	logger   *slog.Logger
}

// NewTesseractCLI creates the engine. A nil runner executes real commands.
func NewTesseractCLI(binary, language string, runner Runner, logger *slog.Logger) *TesseractCLI {
	if binary == "" {
		binary = "tesseract"
	}
	if language == "" {
		language = "eng"
	}
	if runner == nil {
		runner = execRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TesseractCLI{binary: binary, language: language, runner: runner, logger: logger}
}

// NewWorker creates a scratch directory for one page.
func (t *TesseractCLI) NewWorker(ctx context.Context) (Worker, error) {
	dir, err := os.MkdirTemp("", "taxcert-ocr-*")
	if err != nil {
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}
	return &cliWorker{engine: t, dir: dir}, nil
}

func (t *TesseractCLI) Close() error {
	return nil
}

type cliWorker struct {
	engine *TesseractCLI
	dir    string
}

func (w *cliWorker) Recognize(ctx context.Context, page *render.Surface, charset string, progress func(float64)) (string, error) {
	data, err := page.PNG()
	if err != nil {
		return "", err
	}
	in := filepath.Join(w.dir, fmt.Sprintf("page-%d.png", page.Page+1))
	if err := os.WriteFile(in, data, 0600); err != nil {
		return "", fmt.Errorf("writing page image: %w", err)
	}
	progress(0.1)

	args := []string{in, "stdout", "-l", w.engine.language, "--psm", "3"}
	if charset != "" {
		args = append(args, "-c", "tessedit_char_whitelist="+charset)
	}
	stdout, stderr, err := w.engine.runner.Run(ctx, w.engine.binary, w.engine.logger, args...)
	if err != nil {
		return "", fmt.Errorf("tesseract failed: %w: %s", err, truncate(string(stderr), 512))
	}
	progress(1)
	return string(stdout), nil
}

func (w *cliWorker) Close() error {
	return os.RemoveAll(w.dir)
}
