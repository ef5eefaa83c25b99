package blobstore

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/xhare/sealshare/interfaces"
)

// FetchTimeout bounds one whole GetBlob call across the mirror set. A
// fetch that exhausts it is abandoned, not retried.
const FetchTimeout = 10 * time.Second

// Pool reads blobs from a set of interchangeable mirrors. Each attempt
// picks a mirror at random; a GetBlob call tries every mirror at most
// once before giving up.
type Pool struct {
	mirrors []interfaces.ReadMirror
	timeout time.Duration
	log     *slog.Logger
}

// NewPool creates a pool over the given mirrors.
func NewPool(mirrors []interfaces.ReadMirror, log *slog.Logger) *Pool {
	return &Pool{mirrors: mirrors, timeout: FetchTimeout, log: log}
}

// SetTimeout overrides the per-attempt timeout.
func (p *Pool) SetTimeout(timeout time.Duration) {
	p.timeout = timeout
}

// Mirrors returns the pool's mirrors.
func (p *Pool) Mirrors() []interfaces.ReadMirror {
	return p.mirrors
}

// GetBlob fetches one blob, trying mirrors in random order until one
// serves it. The timeout covers the whole call: a mirror that exhausts
// it leaves no budget for the rest. Returns ErrCiphertextUnavailable
// once every mirror has failed or the timeout elapsed.
func (p *Pool) GetBlob(ctx context.Context, id interfaces.BlobID) ([]byte, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	order := rand.Perm(len(p.mirrors))
	var lastErr error
	for _, idx := range order {
		mirror := p.mirrors[idx]

		data, err := mirror.Fetch(fetchCtx, id)
		if err == nil {
			return data, nil
		}
		lastErr = err
		p.log.Debug("blob mirror attempt failed",
			slog.String("mirror", mirror.Name()),
			slog.String("blob_id", id.String()),
			"err", err)

		if fetchCtx.Err() != nil {
			break
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no mirrors configured")
	}
	return nil, &UnavailableError{BlobID: id, Cause: lastErr}
}

// BlobResult is the outcome of one blob in a GetFiles call.
type BlobResult struct {
	BlobID interfaces.BlobID
	Data   []byte
	Err    error
}

// GetFiles fetches several blobs concurrently. Results keep the input
// order; a failed blob is recorded in its result, not propagated.
func (p *Pool) GetFiles(ctx context.Context, ids []interfaces.BlobID) []BlobResult {
	results := make([]BlobResult, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id interfaces.BlobID) {
			defer wg.Done()
			data, err := p.GetBlob(ctx, id)
			results[i] = BlobResult{BlobID: id, Data: data, Err: err}
		}(i, id)
	}
	wg.Wait()
	return results
}

// UnavailableError reports that no mirror served the blob. It unwraps to
// ErrCiphertextUnavailable so callers can match the class, while keeping
// the last mirror error for diagnostics.
type UnavailableError struct {
	BlobID interfaces.BlobID
	Cause  error
}

func (e *UnavailableError) Error() string {
	return interfaces.ErrCiphertextUnavailable.Error() + ": " + e.BlobID.String() + ": " + e.Cause.Error()
}

func (e *UnavailableError) Unwrap() error {
	return interfaces.ErrCiphertextUnavailable
}
