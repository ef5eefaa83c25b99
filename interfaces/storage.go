package interfaces

import (
	"context"
	"errors"
)

var (
	// ErrBlobNotFound is returned when a mirror does not have the blob.
	ErrBlobNotFound = errors.New("blob not found")

	// ErrMirrorUnavailable is returned when a read mirror is not accessible.
	ErrMirrorUnavailable = errors.New("blob mirror unavailable")

	// ErrInvalidMirrorURI is returned for a malformed or unsupported mirror
	// location URI.
	ErrInvalidMirrorURI = errors.New("invalid blob mirror URI")
)

// ReadMirror serves committed blobs by content ID. Mirrors are
// interchangeable replicas; readers pick one at random per attempt.
type ReadMirror interface {
	// Fetch retrieves blob bytes by ID.
	Fetch(ctx context.Context, id BlobID) ([]byte, error)

	// Available checks if the mirror is accessible.
	Available(ctx context.Context) bool

	// Name returns an identifier for logging.
	Name() string

	// LocationURI returns the URI this mirror was built from.
	LocationURI() string
}

// KeyServerRef points at one threshold key server: its on-chain object
// identity and its HTTP endpoint.
type KeyServerRef struct {
	ObjectID ObjectID
	URL      string
}
