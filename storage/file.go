package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/teerand/tee-randomness-backend/interfaces"
)

// FileBackend stores proof documents on the local file system, organized
// into one subdirectory per content type. Useful for development and for
// deployments where an external ledger is mounted as a file system.
type FileBackend struct {
	baseDir     string
	prefixes    map[interfaces.ContentType]string
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates a file backend rooted at baseDir, creating the
// per-type subdirectories if needed.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	prefixes := map[interfaces.ContentType]string{
		interfaces.ProofType: "proofs",
		interfaces.QuoteType: "quotes",
	}

	for _, sub := range prefixes {
		if err := os.MkdirAll(filepath.Join(baseDir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", sub, err)
		}
	}

	return &FileBackend{
		baseDir:     baseDir,
		prefixes:    prefixes,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

func (b *FileBackend) path(id interfaces.ContentID, contentType interfaces.ContentType) string {
	return filepath.Join(b.baseDir, b.prefixes[contentType], id.String())
}

// Fetch retrieves data by content ID. Returns ErrContentNotFound when the
// file does not exist.
func (b *FileBackend) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	data, err := os.ReadFile(b.path(id, contentType))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, interfaces.ErrContentNotFound
		}
		return nil, fmt.Errorf("failed to read content: %w", err)
	}
	return data, nil
}

// Store writes data under its content ID.
func (b *FileBackend) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	id := interfaces.ComputeID(data)

	if err := os.WriteFile(b.path(id, contentType), data, 0o644); err != nil {
		return id, fmt.Errorf("failed to write content: %w", err)
	}

	b.log.Debug("Stored content on file system",
		slog.String("content_id", id.String()),
		slog.String("content_type", contentType.String()))
	return id, nil
}

// Available reports whether the base directory is accessible.
func (b *FileBackend) Available(ctx context.Context) bool {
	info, err := os.Stat(b.baseDir)
	return err == nil && info.IsDir()
}

// Name returns an identifier for logging.
func (b *FileBackend) Name() string {
	return fmt.Sprintf("file-%s", b.baseDir)
}

// LocationURI returns the URI that identifies this backend.
func (b *FileBackend) LocationURI() string {
	return b.locationURI
}
