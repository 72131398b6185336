package upload

import (
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/skypro1111/whisper-web/internal/metrics"
)

// FileField is the multipart field carrying the audio file.
const FileField = "file"

// Gate validates uploads and stores accepted ones in per-request scratch
// directories below a root folder.
type Gate struct {
	dir     string
	allowed map[string]struct{}
	exts    []string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewGate creates the scratch root if needed. m may be nil.
func NewGate(dir string, allowedExtensions []string, logger *slog.Logger, m *metrics.Metrics) (*Gate, error) {
	if dir == "" {
		return nil, fmt.Errorf("scratch directory cannot be empty")
	}
	if len(allowedExtensions) == 0 {
		return nil, fmt.Errorf("allowed extensions cannot be empty")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create scratch directory %s: %w", dir, err)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve scratch directory %s: %w", dir, err)
	}

	g := &Gate{
		dir:     abs,
		allowed: make(map[string]struct{}, len(allowedExtensions)),
		exts:    make([]string, 0, len(allowedExtensions)),
		logger:  logger,
		metrics: m,
	}
	for _, ext := range allowedExtensions {
		if _, dup := g.allowed[ext]; dup {
			continue
		}
		g.allowed[ext] = struct{}{}
		g.exts = append(g.exts, ext)
	}

	return g, nil
}

// Dir returns the absolute scratch root.
func (g *Gate) Dir() string {
	return g.dir
}

// AllowedExtensions returns the accepted suffixes in configuration order.
func (g *Gate) AllowedExtensions() []string {
	return append([]string(nil), g.exts...)
}

// Check sanitizes filename and verifies its extension. It returns the
// sanitized name and the detected audio format.
func (g *Gate) Check(filename string) (string, string, error) {
	if filename == "" {
		return "", "", ErrEmptyFilename
	}

	name := SanitizeFilename(filename)
	ext, ok := Extension(name)
	if !ok {
		return "", "", &ExtensionError{Filename: filename, Allowed: g.AllowedExtensions()}
	}
	if _, allowed := g.allowed[ext]; !allowed {
		return "", "", &ExtensionError{Filename: filename, Allowed: g.AllowedExtensions()}
	}

	return name, DetectFormat(name), nil
}

// FromForm picks the file field out of a parsed multipart form and stores it.
func (g *Gate) FromForm(form *multipart.Form) (*ScratchFile, error) {
	if form == nil {
		return nil, g.reject(ErrMissingFile)
	}

	headers := form.File[FileField]
	if len(headers) == 0 {
		// A file input submitted without a selection arrives as a plain value.
		if _, ok := form.Value[FileField]; ok {
			return nil, g.reject(ErrEmptyFilename)
		}
		return nil, g.reject(ErrMissingFile)
	}

	return g.Accept(headers[0])
}

// Accept validates a multipart file header and copies its content to scratch space.
func (g *Gate) Accept(fh *multipart.FileHeader) (*ScratchFile, error) {
	if _, _, err := g.Check(fh.Filename); err != nil {
		return nil, g.reject(err)
	}

	src, err := fh.Open()
	if err != nil {
		return nil, g.reject(fmt.Errorf("failed to open uploaded file: %w", err))
	}
	defer src.Close()

	return g.Store(fh.Filename, src)
}

// Store validates filename and writes src to <dir>/<request-id>/<sanitized name>.
// Nothing is written when validation fails. The caller owns the returned
// ScratchFile and must Release it.
func (g *Gate) Store(filename string, src io.Reader) (*ScratchFile, error) {
	name, format, err := g.Check(filename)
	if err != nil {
		return nil, g.reject(err)
	}

	reqDir := filepath.Join(g.dir, uuid.NewString())
	if err := os.Mkdir(reqDir, 0o700); err != nil {
		return nil, g.reject(fmt.Errorf("failed to create scratch directory: %w", err))
	}

	path := filepath.Join(reqDir, name)
	size, err := writeFile(path, src)
	if err != nil {
		os.RemoveAll(reqDir)
		return nil, g.reject(err)
	}

	if g.metrics != nil {
		g.metrics.RecordUploadAccepted(size)
	}
	g.logger.Debug("Upload stored",
		slog.String("filename", name),
		slog.String("path", path),
		slog.Int64("size", size),
	)

	return &ScratchFile{
		Name:   name,
		Format: format,
		Path:   path,
		Size:   size,
		dir:    reqDir,
		gate:   g,
	}, nil
}

func writeFile(path string, src io.Reader) (int64, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return 0, fmt.Errorf("failed to create scratch file: %w", err)
	}

	n, err := io.Copy(f, src)
	if err != nil {
		f.Close()
		return 0, fmt.Errorf("failed to write scratch file: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("failed to close scratch file: %w", err)
	}
	return n, nil
}

func (g *Gate) reject(err error) error {
	reason := RejectionReason(err)
	if g.metrics != nil {
		g.metrics.RecordUploadRejected(reason)
	}
	g.logger.Info("Upload rejected",
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	)
	return err
}

// ScratchFile is an accepted upload living in scratch space for the
// duration of one request.
type ScratchFile struct {
	Name   string // sanitized file name
	Format string // lowercased extension
	Path   string
	Size   int64

	dir  string
	gate *Gate

	once sync.Once
	err  error
}

// Open opens the scratch file for reading.
func (s *ScratchFile) Open() (*os.File, error) {
	return os.Open(s.Path)
}

// Release removes the file together with its request directory. It is safe
// to call more than once; only the first call does any work.
func (s *ScratchFile) Release() error {
	s.once.Do(func() {
		s.err = os.RemoveAll(s.dir)
		if s.gate == nil {
			return
		}
		if s.gate.metrics != nil {
			s.gate.metrics.RecordScratchReleased()
		}
		if s.err != nil {
			s.gate.logger.Error("Failed to release scratch file",
				slog.String("path", s.Path),
				slog.String("error", s.err.Error()),
			)
		}
	})
	return s.err
}
