// Package blobstore talks to the decentralized blob store: a publisher
// endpoint for the four-phase write flow and interchangeable read mirrors
// for fetching committed blobs.
package blobstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xhare/sealshare/interfaces"
)

// AggregatorMirror reads committed blobs from a blob store aggregator
// over HTTP.
type AggregatorMirror struct {
	baseURL     string
	client      *http.Client
	log         *slog.Logger
	locationURI string
}

// NewAggregatorMirror creates a read mirror over an aggregator base URL.
func NewAggregatorMirror(baseURL string, log *slog.Logger) (*AggregatorMirror, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("%w: %q", interfaces.ErrInvalidMirrorURI, baseURL)
	}
	return &AggregatorMirror{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		client:      &http.Client{Timeout: 30 * time.Second},
		log:         log,
		locationURI: baseURL,
	}, nil
}

// Fetch retrieves blob bytes by ID from the aggregator.
func (m *AggregatorMirror) Fetch(ctx context.Context, id interfaces.BlobID) ([]byte, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.blobURL(id), nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		m.log.Warn("aggregator fetch failed",
			slog.String("mirror", m.baseURL),
			slog.String("blob_id", id.String()),
			"err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrMirrorUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, interfaces.ErrBlobNotFound
	default:
		return nil, fmt.Errorf("%w: aggregator returned %d", interfaces.ErrMirrorUnavailable, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob body: %w", err)
	}

	m.log.Debug("fetched blob from aggregator",
		slog.String("blob_id", id.String()),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))
	return data, nil
}

// Available probes the aggregator with a HEAD request.
func (m *AggregatorMirror) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.baseURL+"/v1/blobs", nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// Name returns an identifier for logging.
func (m *AggregatorMirror) Name() string {
	return "aggregator"
}

// LocationURI returns the URI this mirror was built from.
func (m *AggregatorMirror) LocationURI() string {
	return m.locationURI
}

func (m *AggregatorMirror) blobURL(id interfaces.BlobID) string {
	return m.baseURL + "/v1/blobs/" + url.PathEscape(id.String())
}
