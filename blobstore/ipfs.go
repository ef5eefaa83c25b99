package blobstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/xhare/sealshare/interfaces"
)

// IPFSMirror serves blobs pinned under one IPFS directory: the directory
// lists each blob by its blob ID, so a fetch is a single path cat.
type IPFSMirror struct {
	shell       *shell.Shell
	rootPath    string
	host        string
	log         *slog.Logger
	locationURI string
}

// NewIPFSMirror creates a mirror over an IPFS API endpoint. rootPath is
// the IPFS path of the directory holding the blobs.
func NewIPFSMirror(host, port, rootPath string, log *slog.Logger) (*IPFSMirror, error) {
	if rootPath == "" {
		return nil, fmt.Errorf("%w: ipfs mirror needs a root path", interfaces.ErrInvalidMirrorURI)
	}
	apiURL := fmt.Sprintf("%s:%s", host, port)
	return &IPFSMirror{
		shell:       shell.NewShell(apiURL),
		rootPath:    strings.Trim(rootPath, "/"),
		host:        host,
		log:         log,
		locationURI: fmt.Sprintf("ipfs://%s/%s", apiURL, strings.Trim(rootPath, "/")),
	}, nil
}

// Fetch retrieves blob bytes by ID from the pinned directory.
func (m *IPFSMirror) Fetch(ctx context.Context, id interfaces.BlobID) ([]byte, error) {
	start := time.Now()

	if !m.shell.IsUp() {
		m.log.Warn("ipfs node unavailable", slog.String("host", m.host))
		return nil, interfaces.ErrMirrorUnavailable
	}

	path := m.rootPath + "/" + id.String()
	reader, err := m.shell.Cat(path)
	if err != nil {
		if strings.Contains(err.Error(), "no link named") {
			return nil, interfaces.ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to fetch blob from ipfs: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob from ipfs: %w", err)
	}

	m.log.Debug("fetched blob from ipfs",
		slog.String("path", path),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))
	return data, nil
}

// Available checks if the IPFS node is accessible.
func (m *IPFSMirror) Available(context.Context) bool {
	return m.shell.IsUp()
}

// Name returns an identifier for logging.
func (m *IPFSMirror) Name() string {
	return "ipfs"
}

// LocationURI returns the URI this mirror was built from.
func (m *IPFSMirror) LocationURI() string {
	return m.locationURI
}
