package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xhare/sealshare/chain"
	"github.com/xhare/sealshare/interfaces"
)

// DefaultEpochs is the retention period requested for new blobs when the
// caller does not pick one. There is no renewal: expired blobs are gone.
const DefaultEpochs = 53

// blobPackageID is the ledger's native blob package hosting register and
// certify.
const blobPackageID = "0x0000000000000000000000000000000000000000000000000000000000000002"

// Publisher submits blob bytes to a blob store publisher endpoint.
type Publisher struct {
	baseURL string
	client  *http.Client
	log     *slog.Logger
}

// NewPublisher creates a publisher client over a base URL.
func NewPublisher(baseURL string, log *slog.Logger) *Publisher {
	return &Publisher{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 60 * time.Second},
		log:     log,
	}
}

// publishResponse is the publisher's answer: either the blob was already
// certified by someone else, or a new blob object was created.
type publishResponse struct {
	AlreadyCertified *struct {
		BlobID string `json:"blobId"`
	} `json:"alreadyCertified"`
	NewlyCreated *struct {
		BlobObject struct {
			BlobID string `json:"blobId"`
		} `json:"blobObject"`
	} `json:"newlyCreated"`
}

// Put uploads blob bytes, binding the upload to the prior on-chain
// registration through the registered digest. Returns the blob ID the
// publisher derived, which the caller must cross-check.
func (p *Publisher) Put(ctx context.Context, data []byte, epochs int, registeredDigest string) (interfaces.BlobID, error) {
	query := url.Values{}
	query.Set("epochs", strconv.Itoa(epochs))
	if registeredDigest != "" {
		query.Set("registered_digest", registeredDigest)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		p.baseURL+"/v1/blobs?"+query.Encode(), bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("publisher unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read publisher response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("publisher returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed publishResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("could not parse publisher response: %w", err)
	}
	switch {
	case parsed.AlreadyCertified != nil:
		p.log.Debug("blob already certified", slog.String("blob_id", parsed.AlreadyCertified.BlobID))
		return interfaces.BlobID(parsed.AlreadyCertified.BlobID), nil
	case parsed.NewlyCreated != nil:
		return interfaces.BlobID(parsed.NewlyCreated.BlobObject.BlobID), nil
	default:
		return "", fmt.Errorf("publisher response names no blob")
	}
}

// writeState tracks the strict phase order of a WriteFlow.
type writeState int

const (
	stateInitial writeState = iota
	stateEncoded
	stateRegistered
	stateUploaded
	stateCertified
)

var stateNames = map[writeState]string{
	stateInitial:    "initial",
	stateEncoded:    "encoded",
	stateRegistered: "registered",
	stateUploaded:   "uploaded",
	stateCertified:  "certified",
}

// WriteFlow runs the four-phase blob commit: encode, register on chain,
// upload to the publisher, certify on chain. Phases must run in order; a
// failed phase poisons the flow and a fresh one must be started.
type WriteFlow struct {
	publisher *Publisher
	chain     interfaces.ChainClient
	signer    interfaces.WalletSigner
	log       *slog.Logger

	state          writeState
	data           []byte
	blobID         interfaces.BlobID
	registerDigest string
	epochs         int
}

// NewWriteFlow creates a flow for one blob commit.
func NewWriteFlow(publisher *Publisher, chainClient interfaces.ChainClient, signer interfaces.WalletSigner, log *slog.Logger) *WriteFlow {
	return &WriteFlow{
		publisher: publisher,
		chain:     chainClient,
		signer:    signer,
		log:       log,
		epochs:    DefaultEpochs,
	}
}

// BlobID returns the content-derived blob ID once Encode has run.
func (w *WriteFlow) BlobID() interfaces.BlobID {
	return w.blobID
}

// Record describes the committed blob. Valid only after Certify.
func (w *WriteFlow) Record() (interfaces.BlobRecord, error) {
	if w.state != stateCertified {
		return interfaces.BlobRecord{}, fmt.Errorf("%w: blob not certified", interfaces.ErrUploadStepFailed)
	}
	return interfaces.BlobRecord{
		BlobID: w.blobID,
		Epochs: w.epochs,
		Owner:  w.signer.Address(),
	}, nil
}

// advance checks phase order and moves the flow forward, or poisons it.
func (w *WriteFlow) advance(from, to writeState, err error) error {
	if err != nil {
		w.state = stateInitial
		w.data = nil
		return fmt.Errorf("%w: %s: %v", interfaces.ErrUploadStepFailed, stateNames[to], err)
	}
	if w.state != from {
		prev := w.state
		w.state = stateInitial
		w.data = nil
		return fmt.Errorf("%w: %s attempted in state %s", interfaces.ErrUploadStepFailed, stateNames[to], stateNames[prev])
	}
	w.state = to
	return nil
}

// Encode derives the blob's content ID.
func (w *WriteFlow) Encode(data []byte, epochs int) error {
	if len(data) == 0 {
		return w.advance(stateInitial, stateEncoded, fmt.Errorf("empty blob"))
	}
	if w.state != stateInitial {
		return w.advance(stateInitial, stateEncoded, nil)
	}
	if epochs > 0 {
		w.epochs = epochs
	}
	w.data = data
	w.blobID = interfaces.ComputeBlobID(data)
	return w.advance(stateInitial, stateEncoded, nil)
}

// Register announces the blob on chain, reserving its retention period.
// The transaction's digest keys the subsequent upload.
func (w *WriteFlow) Register(ctx context.Context) error {
	if w.state != stateEncoded {
		return w.advance(stateEncoded, stateRegistered, nil)
	}
	effects, err := w.execute(ctx, chain.NewTransaction().MoveCall(
		blobPackageID+"::blob::register",
		chain.PureString(w.blobID.String()),
		chain.PureString(strconv.Itoa(w.epochs)),
	))
	if err == nil {
		w.registerDigest = effects.Digest.String()
	}
	return w.advance(stateEncoded, stateRegistered, err)
}

// Upload sends the blob bytes to the publisher, keyed by the register
// transaction's digest, and cross-checks the blob ID the publisher
// derived against the locally computed one.
func (w *WriteFlow) Upload(ctx context.Context) error {
	if w.state != stateRegistered {
		return w.advance(stateRegistered, stateUploaded, nil)
	}
	reported, err := w.publisher.Put(ctx, w.data, w.epochs, w.registerDigest)
	if err == nil && reported != w.blobID {
		err = fmt.Errorf("publisher derived blob %s, expected %s", reported, w.blobID)
	}
	return w.advance(stateRegistered, stateUploaded, err)
}

// Certify finalizes the blob on chain. After this the blob is committed
// and readable from the mirrors.
func (w *WriteFlow) Certify(ctx context.Context) error {
	if w.state != stateUploaded {
		return w.advance(stateUploaded, stateCertified, nil)
	}
	_, err := w.execute(ctx, chain.NewTransaction().MoveCall(
		blobPackageID+"::blob::certify",
		chain.PureString(w.blobID.String()),
	))
	if err == nil {
		w.log.Info("blob committed",
			slog.String("blob_id", w.blobID.String()),
			slog.Int("epochs", w.epochs),
			slog.Int("size", len(w.data)))
	}
	return w.advance(stateUploaded, stateCertified, err)
}

// Commit runs all four phases in order.
func (w *WriteFlow) Commit(ctx context.Context, data []byte, epochs int) (interfaces.BlobRecord, error) {
	if err := w.Encode(data, epochs); err != nil {
		return interfaces.BlobRecord{}, err
	}
	if err := w.Register(ctx); err != nil {
		return interfaces.BlobRecord{}, err
	}
	if err := w.Upload(ctx); err != nil {
		return interfaces.BlobRecord{}, err
	}
	if err := w.Certify(ctx); err != nil {
		return interfaces.BlobRecord{}, err
	}
	return w.Record()
}

// Writer commits blobs through fresh WriteFlows and remembers what it
// committed. ListFiles needs no wallet interaction.
type Writer struct {
	publisher *Publisher
	chain     interfaces.ChainClient
	signer    interfaces.WalletSigner
	log       *slog.Logger

	mu        sync.Mutex
	committed []interfaces.BlobRecord
}

// NewWriter creates a blob writer for one wallet.
func NewWriter(publisher *Publisher, chainClient interfaces.ChainClient, signer interfaces.WalletSigner, log *slog.Logger) *Writer {
	return &Writer{
		publisher: publisher,
		chain:     chainClient,
		signer:    signer,
		log:       log,
	}
}

// Commit runs the four-phase flow for one blob and records the result.
func (wr *Writer) Commit(ctx context.Context, data []byte, epochs int) (interfaces.BlobRecord, error) {
	flow := NewWriteFlow(wr.publisher, wr.chain, wr.signer, wr.log)
	record, err := flow.Commit(ctx, data, epochs)
	if err != nil {
		return interfaces.BlobRecord{}, err
	}
	wr.mu.Lock()
	wr.committed = append(wr.committed, record)
	wr.mu.Unlock()
	return record, nil
}

// ListFiles returns the records committed through this writer.
func (wr *Writer) ListFiles() []interfaces.BlobRecord {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	out := make([]interfaces.BlobRecord, len(wr.committed))
	copy(out, wr.committed)
	return out
}

func (w *WriteFlow) execute(ctx context.Context, tx *chain.Transaction) (*interfaces.TransactionEffects, error) {
	txBytes, err := tx.Build(false)
	if err != nil {
		return nil, err
	}
	signature, err := w.signer.SignTransaction(ctx, txBytes)
	if err != nil {
		return nil, fmt.Errorf("wallet declined transaction: %w", err)
	}
	return w.chain.ExecuteTransaction(ctx, txBytes, signature)
}
