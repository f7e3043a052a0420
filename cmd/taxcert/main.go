package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"golang.org/x/sync/errgroup"

	"github.com/zombor/taxcert/internal/certificate"
	"github.com/zombor/taxcert/internal/extraction"
	"github.com/zombor/taxcert/internal/pipeline"
	"github.com/zombor/taxcert/internal/render"
	"github.com/zombor/taxcert/internal/scanning"
	"github.com/zombor/taxcert/internal/scanning/tesseract"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

type config struct {
	port          int
	dbPath        string
	storagePath   string
	engine        string
	language      string
	tesseractBin  string
	geminiKey     string
	geminiModel   string
	geminiRPM     int
	ollamaURL     string
	ollamaModel   string
	authUser      string
	authPass      string
	limitsPath    string
	workers       int
	maxPages      int
	pageTimeout   time.Duration
	jobTimeout    time.Duration
	progressEvery time.Duration
	extract       bool
	concurrency   int
	debug         bool
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	cfg, files, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, files); err != nil {
		slog.Error("Exiting", "error", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (*config, []string, error) {
	fs := ff.NewFlagSet("taxcert")
	var (
		port          = fs.IntLong("port", 8080, "HTTP server port")
		dbPath        = fs.StringLong("db", "taxcert.db", "Database file path")
		storagePath   = fs.StringLong("storage", "./certificates", "Storage directory for uploads")
		engine        = fs.StringLong("ocr-engine", "tesseract", "OCR engine: tesseract, tesseract-cli, gemini or ollama")
		language      = fs.StringLong("ocr-language", "eng", "Tesseract language")
		tesseractBin  = fs.StringLong("tesseract-bin", "tesseract", "tesseract binary for the tesseract-cli engine")
		geminiKey     = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel   = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		geminiRPM     = fs.IntLong("gemini-rpm", 30, "Maximum Gemini requests per minute")
		ollamaURL     = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel   = fs.StringLong("ollama-model", "llava", "Ollama vision model name")
		authUser      = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass      = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		limitsPath    = fs.StringLong("limits", "", "TOML file overriding the plausibility limits")
		workers       = fs.IntLong("workers", 2, "Number of background extraction workers")
		maxPages      = fs.IntLong("max-pages", render.DefaultMaxPages, "Maximum PDF pages to rasterize")
		pageTimeout   = fs.StringLong("page-timeout", "30s", "Per-page render and OCR timeout")
		jobTimeout    = fs.StringLong("job-timeout", "3m", "Timeout for one certificate")
		progressEvery = fs.StringLong("progress-interval", "250ms", "Minimum interval between progress events")
		extract       = fs.BoolLong("extract", "Extract the files given as arguments and print JSON instead of serving")
		concurrency   = fs.IntLong("concurrency", 2, "Files extracted at once in --extract mode")
		debug         = fs.BoolLong("debug", "Enable debug logging")
		_             = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix("TAXCERT")); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		return nil, nil, err
	}

	cfg := &config{
		port:         *port,
		dbPath:       *dbPath,
		storagePath:  *storagePath,
		engine:       *engine,
		language:     *language,
		tesseractBin: *tesseractBin,
		geminiKey:    *geminiKey,
		geminiModel:  *geminiModel,
		geminiRPM:    *geminiRPM,
		ollamaURL:    *ollamaURL,
		ollamaModel:  *ollamaModel,
		authUser:     *authUser,
		authPass:     *authPass,
		limitsPath:   *limitsPath,
		workers:      *workers,
		maxPages:     *maxPages,
		extract:      *extract,
		concurrency:  *concurrency,
		debug:        *debug,
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"page-timeout", *pageTimeout, &cfg.pageTimeout},
		{"job-timeout", *jobTimeout, &cfg.jobTimeout},
		{"progress-interval", *progressEvery, &cfg.progressEvery},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid --%s: %w", d.name, err)
		}
		*d.dst = v
	}

	return cfg, fs.GetArgs(), nil
}

func run(ctx context.Context, cfg *config, files []string) error {
	limits := extraction.DefaultLimits()
	if cfg.limitsPath != "" {
		var err error
		if limits, err = extraction.LoadLimits(cfg.limitsPath); err != nil {
			return err
		}
		slog.Info("Loaded limits", "path", cfg.limitsPath)
	}

	engine, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	fitz := render.Fitz{}
	pipe := pipeline.New(
		render.NewRasterizer(fitz, render.WithMaxPages(cfg.maxPages), render.WithPageTimeout(cfg.pageTimeout)),
		render.NewTextExtractor(nil, render.ServiceText{Service: fitz}, render.PlainText{}),
		scanning.NewRecognizer(engine, cfg.pageTimeout, nil),
		pipeline.WithLimits(limits),
	)

	if cfg.extract {
		return extractFiles(ctx, pipe, files, cfg.concurrency)
	}
	return serve(ctx, cfg, pipe, limits)
}

func newEngine(cfg *config) (scanning.Engine, error) {
	switch cfg.engine {
	case "tesseract":
		slog.Info("Initializing Tesseract engine...", "language", cfg.language)
		return tesseract.New(cfg.language), nil
	case "tesseract-cli":
		slog.Info("Initializing Tesseract CLI engine...", "binary", cfg.tesseractBin, "language", cfg.language)
		return scanning.NewTesseractCLI(cfg.tesseractBin, cfg.language, nil, nil), nil
	case "gemini":
		apiKey := cfg.geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, errors.New("gemini API key is required: set --gemini-key or GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini engine...", "model", cfg.geminiModel)
		return scanning.NewGemini(apiKey, cfg.geminiModel, cfg.geminiRPM)
	case "ollama":
		slog.Info("Initializing Ollama engine...", "url", cfg.ollamaURL, "model", cfg.ollamaModel)
		return scanning.NewOllama(cfg.ollamaURL, cfg.ollamaModel)
	}
	return nil, fmt.Errorf("invalid OCR engine %q: want tesseract, tesseract-cli, gemini or ollama", cfg.engine)
}

func serve(ctx context.Context, cfg *config, pipe *pipeline.Pipeline, limits extraction.Limits) error {
	slog.Info("Initializing database...", "path", cfg.dbPath)
	db, err := certificate.NewBoltDB(cfg.dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := certificate.NewLocalStorage(cfg.storagePath)
	if err != nil {
		return err
	}

	hub := certificate.NewProgressHub(cfg.progressEvery)
	service := certificate.NewService(db, pipe, store, hub)
	service.SetLimits(limits)

	queue := certificate.NewQueue(service, slog.Default(),
		certificate.WithWorkers(cfg.workers),
		certificate.WithProcessTimeout(cfg.jobTimeout),
	)

	server := certificate.NewServer(service, hub, queue, certificate.BasicAuth{
		Username: cfg.authUser,
		Password: cfg.authPass,
	})
	if cfg.authUser != "" || cfg.authPass != "" {
		slog.Info("Basic auth enabled", "user", cfg.authUser)
	}

	err = server.Start(ctx, fmt.Sprintf(":%d", cfg.port))

	slog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.jobTimeout)
	defer cancel()
	if qerr := queue.Shutdown(shutdownCtx); qerr != nil {
		slog.Warn("Queue did not drain", "error", qerr)
	}
	return err
}

type fileResult struct {
	File   string            `json:"file"`
	Result *pipeline.Success `json:"result,omitempty"`
	Error  *fileError        `json:"error,omitempty"`
}

type fileError struct {
	Kind    pipeline.Kind `json:"kind"`
	Message string        `json:"message"`
}

// extractFiles runs the pipeline over each file and prints one JSON line per
// file in argument order.
func extractFiles(ctx context.Context, pipe *pipeline.Pipeline, files []string, concurrency int) error {
	if len(files) == 0 {
		return errors.New("--extract needs at least one file")
	}

	results := make([]fileResult, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))

	for i, path := range files {
		g.Go(func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", path, err)
			}
			in := pipeline.Input{
				Filename:    filepath.Base(path),
				ContentType: mimetype.Detect(data).String(),
				Data:        data,
			}
			res := fileResult{File: path}
			success, err := pipe.Process(ctx, in, nil)
			if err != nil {
				var pe *pipeline.Error
				msg := err.Error()
				if errors.As(err, &pe) {
					msg = pe.Message
				}
				res.Error = &fileError{Kind: pipeline.KindOf(err), Message: msg}
				slog.Warn("Extraction failed", "file", path, "kind", res.Error.Kind)
			} else {
				res.Result = success
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}
