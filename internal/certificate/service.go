package certificate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/taxcert/internal/extraction"
	"github.com/zombor/taxcert/internal/pipeline"
)

var (
	// ErrInvalidEntry is returned when manually entered values are rejected
	ErrInvalidEntry = errors.New("invalid manual entry")
	// ErrBusy is returned for changes to a certificate that is being processed
	ErrBusy = errors.New("certificate is being processed")
)

// IDGenerator generates unique IDs for certificates
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Extractor runs the extraction pipeline over one upload
type Extractor interface {
	Process(ctx context.Context, in pipeline.Input, onProgress pipeline.ProgressFunc) (*pipeline.Success, error)
}

// Publisher receives progress events
type Publisher interface {
	Publish(ev Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(Event) {}

// Service handles certificate operations
type Service struct {
	db          DB
	extractor   Extractor
	storage     Storage
	publisher   Publisher
	limits      extraction.Limits
	catalog     *extraction.Catalog
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a Service with uuid IDs and the wall clock
func NewService(db DB, extractor Extractor, storage Storage, publisher Publisher) *Service {
	return NewServiceWithDeps(db, extractor, storage, publisher, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a Service with custom dependencies for testing
func NewServiceWithDeps(db DB, extractor Extractor, storage Storage, publisher Publisher, idGen IDGenerator, timeSrc TimeSource) *Service {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &Service{
		db:          db,
		extractor:   extractor,
		storage:     storage,
		publisher:   publisher,
		limits:      extraction.DefaultLimits(),
		catalog:     extraction.DefaultCatalog(),
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// SetLimits replaces the bounds used to check manual entries
func (s *Service) SetLimits(l extraction.Limits) {
	s.limits = l
}

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	spaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename strips special characters and long phone-generated names
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if len(ext) > 6 {
		ext = ""
	}
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	base = unsafeChars.ReplaceAllString(base, "")
	base = strings.TrimSpace(spaces.ReplaceAllString(base, " "))
	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "certificate"
	}
	return base + ext
}

// Upload validates and stores a file, creating a pending certificate
func (s *Service) Upload(filename string, data []byte, contentType string) (*Certificate, error) {
	in := pipeline.Input{Filename: filename, ContentType: contentType, Data: data}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	cert := &Certificate{
		ID:          id,
		Filename:    filename,
		StoredAs:    savedPath,
		ContentType: contentType,
		Size:        len(data),
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.SaveCertificate(cert); err != nil {
		s.storage.Delete(savedPath)
		return nil, fmt.Errorf("saving certificate to database: %w", err)
	}

	slog.Info("Certificate uploaded", "id", id, "filename", filename, "content_type", contentType, "size", len(data))
	return cert, nil
}

// Process runs the pipeline for a stored certificate and records the outcome.
// A rejected document is a successful call returning a failed certificate.
func (s *Service) Process(ctx context.Context, id string) (*Certificate, error) {
	cert, err := s.db.GetCertificate(id)
	if err != nil {
		return nil, fmt.Errorf("getting certificate: %w", err)
	}
	data, err := s.storage.Get(cert.StoredAs)
	if err != nil {
		return nil, fmt.Errorf("getting certificate file: %w", err)
	}

	cert.Status = StatusProcessing
	cert.UpdatedAt = s.timeSource.Now()
	if err := s.db.SaveCertificate(cert); err != nil {
		return nil, fmt.Errorf("saving certificate: %w", err)
	}

	in := pipeline.Input{Filename: cert.Filename, ContentType: cert.ContentType, Data: data}
	result, perr := s.extractor.Process(ctx, in, func(p pipeline.Progress) {
		s.publisher.Publish(Event{
			CertificateID: id,
			Percent:       p.Percent,
			Stage:         p.Stage,
			Message:       p.Message,
			Status:        StatusProcessing,
		})
	})

	now := s.timeSource.Now()
	final := Event{CertificateID: id, Percent: 100}
	if perr != nil {
		cert.Failed(perr, now)
		final.Stage = pipeline.Failed
		final.FailureKind = cert.FailureKind
		slog.Warn("Certificate extraction failed", "id", id, "kind", cert.FailureKind, "error", perr)
	} else {
		cert.Succeeded(result, now)
		final.Stage = pipeline.Done
		slog.Info("Certificate extracted", "id", id, "confidence", cert.Confidence, "warnings", len(cert.Warnings))
	}
	final.Status = cert.Status
	final.Message = cert.FailureMessage
	if final.Message == "" {
		final.Message = "Extraction complete"
	}

	if err := s.db.SaveCertificate(cert); err != nil {
		return nil, fmt.Errorf("saving certificate: %w", err)
	}
	s.publisher.Publish(final)
	return cert, nil
}

// EnterManually replaces the extracted values with user-entered ones. The
// entry must match the manual-entry schema and pass the same guard clauses as
// extraction.
func (s *Service) EnterManually(id string, payload []byte) (*Certificate, error) {
	entry, err := ParseManualEntry(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEntry, err)
	}

	now := s.timeSource.Now()
	doc := entry.Document(now)
	if err := s.limits.Check(doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEntry, err)
	}

	cert, err := s.db.GetCertificate(id)
	if err != nil {
		return nil, fmt.Errorf("getting certificate: %w", err)
	}
	if cert.Status == StatusProcessing {
		return nil, ErrBusy
	}

	cert.Status = StatusDone
	cert.Document = &doc
	cert.Confidence = doc.Confidence
	cert.Manual = true
	cert.Warnings = nil
	cert.FailureKind = ""
	cert.FailureMessage = ""
	cert.UpdatedAt = now

	if err := s.db.SaveCertificate(cert); err != nil {
		return nil, fmt.Errorf("saving certificate: %w", err)
	}
	return cert, nil
}

// Get retrieves a certificate by ID
func (s *Service) Get(id string) (*Certificate, error) {
	cert, err := s.db.GetCertificate(id)
	if err != nil {
		return nil, fmt.Errorf("getting certificate: %w", err)
	}
	return cert, nil
}

// List returns all certificates, newest first
func (s *Service) List() ([]*Certificate, error) {
	certs, err := s.db.ListCertificates()
	if err != nil {
		return nil, fmt.Errorf("listing certificates: %w", err)
	}
	return certs, nil
}

// Delete removes a certificate and its file
func (s *Service) Delete(id string) error {
	cert, err := s.db.GetCertificate(id)
	if err != nil {
		return fmt.Errorf("getting certificate for deletion: %w", err)
	}
	if cert.Status == StatusProcessing {
		return ErrBusy
	}

	if err := s.storage.Delete(cert.StoredAs); err != nil {
		slog.Warn("Failed to delete file", "filename", cert.StoredAs, "error", err)
	}
	if err := s.db.DeleteCertificate(id); err != nil {
		return fmt.Errorf("deleting certificate from database: %w", err)
	}
	return nil
}

// GetFile returns the uploaded bytes and their content type
func (s *Service) GetFile(id string) ([]byte, string, error) {
	cert, err := s.db.GetCertificate(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting certificate: %w", err)
	}
	data, err := s.storage.Get(cert.StoredAs)
	if err != nil {
		return nil, "", fmt.Errorf("getting certificate file: %w", err)
	}
	return data, cert.ContentType, nil
}

// Export writes every certificate to w as an XLSX workbook
func (s *Service) Export(w io.Writer) error {
	certs, err := s.List()
	if err != nil {
		return err
	}
	return WriteXLSX(w, certs, s.catalog)
}
