// Package orchestrator runs the full decryption flow: fetch ciphertexts
// from blob mirrors in parallel, fetch key shares in bounded batches under
// one session credential, and reconstruct files one by one.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.uber.org/atomic"

	"github.com/xhare/sealshare/blobstore"
	"github.com/xhare/sealshare/interfaces"
	"github.com/xhare/sealshare/keyserver"
	"github.com/xhare/sealshare/policy"
	"github.com/xhare/sealshare/seal"
	"github.com/xhare/sealshare/session"
)

// BatchSize caps how many envelope identifiers one approval transaction
// and one key server request cover.
const BatchSize = 10

// Phase is the orchestrator's current position in the flow.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseFetchingCiphertext
	PhaseFetchingKeys
	PhaseReconstructing
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseFetchingCiphertext:
		return "fetching_ciphertext"
	case PhaseFetchingKeys:
		return "fetching_keys"
	case PhaseReconstructing:
		return "reconstructing"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// FetchResult is the outcome of one ciphertext fetch.
type FetchResult struct {
	BlobID   interfaces.BlobID
	Envelope *seal.Envelope
	Err      error
}

// File is one reconstructed plaintext.
type File struct {
	Name string
	Data []byte
}

// Orchestrator drives decryption for one policy's published blobs.
type Orchestrator struct {
	pool      *blobstore.Pool
	keys      *keyserver.Client
	sessions  *session.Manager
	policies  *policy.Client
	servers   []interfaces.KeyServerRef
	threshold int
	log       *slog.Logger

	phase atomic.Int32
}

// New creates an orchestrator. threshold is how many servers must release
// a share before an envelope can be opened.
func New(pool *blobstore.Pool, keys *keyserver.Client, sessions *session.Manager, policies *policy.Client, servers []interfaces.KeyServerRef, threshold int, log *slog.Logger) (*Orchestrator, error) {
	if threshold < 2 || threshold > len(servers) {
		return nil, fmt.Errorf("invalid threshold %d for %d servers", threshold, len(servers))
	}
	return &Orchestrator{
		pool:      pool,
		keys:      keys,
		sessions:  sessions,
		policies:  policies,
		servers:   servers,
		threshold: threshold,
		log:       log,
	}, nil
}

// Phase reports the orchestrator's current phase.
func (o *Orchestrator) Phase() Phase {
	return Phase(o.phase.Load())
}

func (o *Orchestrator) setPhase(p Phase) {
	o.phase.Store(int32(p))
	o.log.Debug("decryption phase", slog.String("phase", p.String()))
}

// Decrypt fetches, authorizes and opens the given blobs under one policy.
// Blobs no mirror serves are skipped, as are blobs that do not parse as
// sealed envelopes (files uploaded without encryption travel through the
// metadata download path instead). If nothing is left the flow stops
// before any wallet or key server interaction. A key server access
// denial fails the whole call with no partial results.
func (o *Orchestrator) Decrypt(ctx context.Context, policyID interfaces.ObjectID, blobIDs []interfaces.BlobID) ([]File, error) {
	files, err := o.decrypt(ctx, policyID, blobIDs)
	if err != nil {
		o.setPhase(PhaseFailed)
		return nil, err
	}
	o.setPhase(PhaseDone)
	return files, nil
}

func (o *Orchestrator) decrypt(ctx context.Context, policyID interfaces.ObjectID, blobIDs []interfaces.BlobID) ([]File, error) {
	if len(blobIDs) == 0 {
		return nil, errors.New("nothing to decrypt")
	}

	o.setPhase(PhaseFetchingCiphertext)
	fetched := o.fetchCiphertexts(ctx, policyID, blobIDs)

	envelopes := make([]*seal.Envelope, 0, len(fetched))
	for _, result := range fetched {
		if result.Err != nil {
			o.log.Warn("skipping unavailable blob",
				slog.String("blob_id", result.BlobID.String()),
				"err", result.Err)
			continue
		}
		envelopes = append(envelopes, result.Envelope)
	}
	if len(envelopes) == 0 {
		return nil, fmt.Errorf("%w: none of %d blobs could be fetched", interfaces.ErrCiphertextUnavailable, len(blobIDs))
	}

	o.setPhase(PhaseFetchingKeys)
	cred, err := o.sessions.Obtain(ctx)
	if err != nil {
		return nil, err
	}

	shares := make(map[string][][]byte)
	for start := 0; start < len(envelopes); start += BatchSize {
		end := start + BatchSize
		if end > len(envelopes) {
			end = len(envelopes)
		}
		if err := o.fetchKeyBatch(ctx, cred, policyID, envelopes[start:end], shares); err != nil {
			return nil, err
		}
	}

	o.setPhase(PhaseReconstructing)
	files := make([]File, 0, len(envelopes))
	for i, env := range envelopes {
		plaintext, err := seal.Decrypt(env, shares[env.IDHex()])
		if err != nil {
			return nil, fmt.Errorf("could not open envelope %s: %w", env.IDHex(), err)
		}
		files = append(files, File{
			Name: fmt.Sprintf("decrypted_file_%d", i+1),
			Data: plaintext,
		})
	}
	return files, nil
}

// fetchCiphertexts pulls every blob from the mirror pool in parallel and
// parses the envelopes. Results keep the input order.
func (o *Orchestrator) fetchCiphertexts(ctx context.Context, policyID interfaces.ObjectID, blobIDs []interfaces.BlobID) []FetchResult {
	fetched := o.pool.GetFiles(ctx, blobIDs)
	results := make([]FetchResult, len(fetched))
	for i, raw := range fetched {
		if raw.Err != nil {
			results[i] = FetchResult{BlobID: raw.BlobID, Err: raw.Err}
			continue
		}
		results[i] = parseFetched(policyID, raw)
	}
	return results
}

func parseFetched(policyID interfaces.ObjectID, raw blobstore.BlobResult) FetchResult {
	env, err := seal.ParseEnvelope(raw.Data)
	if err != nil {
		return FetchResult{BlobID: raw.BlobID, Err: err}
	}
	envPolicy, err := env.PolicyID()
	if err != nil {
		return FetchResult{BlobID: raw.BlobID, Err: err}
	}
	if !envPolicy.Equal(policyID) {
		return FetchResult{BlobID: raw.BlobID, Err: fmt.Errorf("envelope belongs to policy %s", envPolicy)}
	}
	return FetchResult{BlobID: raw.BlobID, Envelope: env}
}

// fetchKeyBatch authorizes one batch of envelopes with a single approval
// transaction and collects threshold shares per envelope. An access
// denial from any server aborts immediately; a transport failure moves on
// to the next server.
func (o *Orchestrator) fetchKeyBatch(ctx context.Context, cred *session.Credential, policyID interfaces.ObjectID, batch []*seal.Envelope, shares map[string][][]byte) error {
	ids := make([]string, 0, len(batch))
	for _, env := range batch {
		ids = append(ids, env.IDHex())
	}
	txBytes, err := o.policies.ApprovalTransaction(policyID, ids)
	if err != nil {
		return err
	}

	succeeded := 0
	for _, ref := range o.servers {
		if succeeded >= o.threshold {
			break
		}
		items := make([]keyserver.ShareRequest, 0, len(batch))
		for _, env := range batch {
			wrapped, ok := env.ShareFor(ref.ObjectID)
			if !ok {
				return fmt.Errorf("envelope %s carries no share for server %s", env.IDHex(), ref.ObjectID)
			}
			items = append(items, keyserver.ShareRequest{IDHex: env.IDHex(), Wrapped: wrapped})
		}

		released, err := o.keys.FetchKeys(ctx, ref, cred, txBytes, o.threshold, items)
		if errors.Is(err, interfaces.ErrNoAccess) {
			return fmt.Errorf("%w: server %s denied the request", interfaces.ErrNoAccess, ref.ObjectID)
		}
		if err != nil {
			o.log.Warn("key server unavailable, trying next",
				slog.String("server", ref.URL),
				"err", err)
			continue
		}
		for idHex, share := range released {
			shares[idHex] = append(shares[idHex], share)
		}
		succeeded++
	}
	if succeeded < o.threshold {
		return fmt.Errorf("only %d of required %d key servers responded", succeeded, o.threshold)
	}
	return nil
}
