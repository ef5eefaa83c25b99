package blobstore

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/xhare/sealshare/interfaces"
)

// MirrorFactory creates read mirrors from URI strings and assembles
// mirror pools for redundant reads.
type MirrorFactory struct {
	log *slog.Logger
}

// NewMirrorFactory creates a factory instance.
func NewMirrorFactory(log *slog.Logger) *MirrorFactory {
	return &MirrorFactory{log: log}
}

// MirrorFor creates a read mirror from a location URI.
//
// Supported schemes:
//   - walrus:// - a blob store aggregator endpoint (http underneath)
//   - ipfs://   - an IPFS node holding the blobs under a pinned directory
//   - s3://     - an S3 or compatible bucket
//   - file://   - a local directory
func (f *MirrorFactory) MirrorFor(locationURI string) (interfaces.ReadMirror, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidMirrorURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "walrus":
		return f.createAggregatorMirror(u)
	case "ipfs":
		return f.createIPFSMirror(u)
	case "s3":
		return f.createS3Mirror(u)
	case "file":
		return NewFileMirror(u.Host+u.Path, f.log)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", interfaces.ErrInvalidMirrorURI, u.Scheme)
	}
}

// PoolFor creates a mirror pool from a list of location URIs. Invalid
// URIs are skipped with a warning; at least one mirror must survive.
func (f *MirrorFactory) PoolFor(locationURIs []string) (*Pool, error) {
	mirrors := make([]interfaces.ReadMirror, 0, len(locationURIs))
	for _, uri := range locationURIs {
		mirror, err := f.MirrorFor(uri)
		if err != nil {
			f.log.Warn("failed to create blob mirror",
				"err", err,
				slog.String("locationURI", uri))
			continue
		}
		mirrors = append(mirrors, mirror)
	}
	if len(mirrors) == 0 {
		return nil, fmt.Errorf("no valid blob mirrors created")
	}
	return NewPool(mirrors, f.log), nil
}

// createAggregatorMirror handles walrus://host[:port][/path][?insecure].
// The wire protocol is HTTP; insecure selects plain http.
func (f *MirrorFactory) createAggregatorMirror(u *url.URL) (interfaces.ReadMirror, error) {
	scheme := "https"
	if u.Query().Has("insecure") {
		scheme = "http"
	}
	return NewAggregatorMirror(scheme+"://"+u.Host+strings.TrimSuffix(u.Path, "/"), f.log)
}

// createIPFSMirror handles ipfs://host:port/rootPath.
func (f *MirrorFactory) createIPFSMirror(u *url.URL) (interfaces.ReadMirror, error) {
	port := u.Port()
	if port == "" {
		port = "5001"
	}
	return NewIPFSMirror(u.Hostname(), port, u.Path, f.log)
}

// createS3Mirror handles s3://[accessKey:secretKey@]bucket/prefix?region=r[&endpoint=e].
func (f *MirrorFactory) createS3Mirror(u *url.URL) (interfaces.ReadMirror, error) {
	region := u.Query().Get("region")
	if region == "" {
		return nil, fmt.Errorf("%w: s3 mirror needs a region parameter", interfaces.ErrInvalidMirrorURI)
	}
	var accessKey, secretKey string
	if u.User != nil {
		accessKey = u.User.Username()
		secretKey, _ = u.User.Password()
	}
	return NewS3Mirror(u.Host, strings.TrimPrefix(u.Path, "/"), region,
		u.Query().Get("endpoint"), accessKey, secretKey, f.log)
}
