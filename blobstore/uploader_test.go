package blobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xhare/sealshare/chain"
	"github.com/xhare/sealshare/interfaces"
	"github.com/xhare/sealshare/wallet"
)

const testAllowlistPackage = "0x00a5113f9eefc2571cb2f3c5af5a1a2bbcbc91299d6b6357bac60b0e3351bf51"

// fakePublisher mimics the publisher endpoint, deriving the blob ID from
// the uploaded bytes like the real service does.
func fakePublisher(t *testing.T, failUpload bool, sawDigest *string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/v1/blobs", r.URL.Path)
		if sawDigest != nil {
			*sawDigest = r.URL.Query().Get("registered_digest")
		}
		if failUpload {
			http.Error(w, "storage full", http.StatusInsufficientStorage)
			return
		}
		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		resp := map[string]any{
			"newlyCreated": map[string]any{
				"blobObject": map[string]any{"blobId": interfaces.ComputeBlobID(data).String()},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func testFlow(t *testing.T, publisherURL string) *WriteFlow {
	t.Helper()
	signer, err := wallet.NewSigner()
	require.NoError(t, err)
	ledger := chain.NewMockLedger(testAllowlistPackage)
	return NewWriteFlow(NewPublisher(publisherURL, slog.Default()), ledger, signer, slog.Default())
}

func TestCommitHappyPath(t *testing.T) {
	var digest string
	srv := fakePublisher(t, false, &digest)
	defer srv.Close()

	flow := testFlow(t, srv.URL)
	data := []byte("encrypted payload bytes")

	record, err := flow.Commit(context.Background(), data, 0)
	require.NoError(t, err)
	require.Equal(t, interfaces.ComputeBlobID(data), record.BlobID)
	require.Equal(t, DefaultEpochs, record.Epochs)

	// Register is the flow's first transaction; the publisher must see
	// that transaction's digest, not a content hash.
	require.Equal(t, "mock-tx-1", digest, "upload must be keyed by the register transaction's digest")
}

func TestCommitCustomEpochs(t *testing.T) {
	srv := fakePublisher(t, false, nil)
	defer srv.Close()

	record, err := testFlow(t, srv.URL).Commit(context.Background(), []byte("data"), 7)
	require.NoError(t, err)
	require.Equal(t, 7, record.Epochs)
}

func TestPhasesOutOfOrder(t *testing.T) {
	srv := fakePublisher(t, false, nil)
	defer srv.Close()

	flow := testFlow(t, srv.URL)

	// Upload before encode and register.
	err := flow.Upload(context.Background())
	require.ErrorIs(t, err, interfaces.ErrUploadStepFailed)

	// Certify straight after encode.
	flow = testFlow(t, srv.URL)
	require.NoError(t, flow.Encode([]byte("data"), 0))
	err = flow.Certify(context.Background())
	require.ErrorIs(t, err, interfaces.ErrUploadStepFailed)
}

func TestFailedUploadPoisonsFlow(t *testing.T) {
	srv := fakePublisher(t, true, nil)
	defer srv.Close()

	flow := testFlow(t, srv.URL)
	ctx := context.Background()
	require.NoError(t, flow.Encode([]byte("data"), 0))
	require.NoError(t, flow.Register(ctx))

	err := flow.Upload(ctx)
	require.ErrorIs(t, err, interfaces.ErrUploadStepFailed)

	// The flow cannot be resumed; certify fails and so does a restart
	// within the same flow value.
	err = flow.Certify(ctx)
	require.ErrorIs(t, err, interfaces.ErrUploadStepFailed)
	_, err = flow.Record()
	require.ErrorIs(t, err, interfaces.ErrUploadStepFailed)
}

func TestEncodeRejectsEmptyBlob(t *testing.T) {
	srv := fakePublisher(t, false, nil)
	defer srv.Close()

	err := testFlow(t, srv.URL).Encode(nil, 0)
	require.ErrorIs(t, err, interfaces.ErrUploadStepFailed)
}

func TestPublisherBlobIDMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"alreadyCertified":{"blobId":"bm90LXRoZS1yaWdodC1ibG9i"}}`)
	}))
	defer srv.Close()

	flow := testFlow(t, srv.URL)
	ctx := context.Background()
	require.NoError(t, flow.Encode([]byte("data"), 0))
	require.NoError(t, flow.Register(ctx))
	err := flow.Upload(ctx)
	require.ErrorIs(t, err, interfaces.ErrUploadStepFailed)
}
