package blobstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/xhare/sealshare/interfaces"
)

// FileMirror serves blobs from a local directory, one file per blob ID.
// Useful for tests and for air-gapped replicas synced out of band.
type FileMirror struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileMirror creates a file mirror over baseDir, creating it if needed.
func NewFileMirror(baseDir string, log *slog.Logger) (*FileMirror, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create mirror directory: %w", err)
	}
	return &FileMirror{
		baseDir:     baseDir,
		log:         log,
		locationURI: "file://" + baseDir,
	}, nil
}

// Fetch reads blob bytes from the directory.
func (m *FileMirror) Fetch(_ context.Context, id interfaces.BlobID) ([]byte, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	path := filepath.Join(m.baseDir, id.String())
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, interfaces.ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob file: %w", err)
	}
	m.log.Debug("fetched blob from file mirror",
		slog.String("path", path),
		slog.Int("size", len(data)))
	return data, nil
}

// Put writes blob bytes into the directory. Only tests and sync tooling
// call this; the mirror is read-only from the protocol's point of view.
func (m *FileMirror) Put(id interfaces.BlobID, data []byte) error {
	if err := id.Validate(); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(m.baseDir, id.String()), data, 0o644)
}

// Available checks the directory is still accessible.
func (m *FileMirror) Available(context.Context) bool {
	_, err := os.Stat(m.baseDir)
	return err == nil
}

// Name returns an identifier for logging.
func (m *FileMirror) Name() string {
	return "file"
}

// LocationURI returns the URI this mirror was built from.
func (m *FileMirror) LocationURI() string {
	return m.locationURI
}
