package fileflow

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xhare/sealshare/blobstore"
	"github.com/xhare/sealshare/chain"
	"github.com/xhare/sealshare/interfaces"
	"github.com/xhare/sealshare/policy"
	"github.com/xhare/sealshare/seal"
	"github.com/xhare/sealshare/wallet"
)

const testPackageID = "0x00a5113f9eefc2571cb2f3c5af5a1a2bbcbc91299d6b6357bac60b0e3351bf51"

type fixture struct {
	uploader *Uploader
	writer   *blobstore.Writer
	policies *policy.Client
	policyID interfaces.ObjectID
	servers  map[interfaces.ObjectID]*seal.ServerInfo
	dirErr   error
}

func (f *fixture) ServiceInfo(_ context.Context, ref interfaces.KeyServerRef) (*seal.ServerInfo, error) {
	if f.dirErr != nil {
		return nil, f.dirErr
	}
	return f.servers[ref.ObjectID], nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := slog.Default()
	f := &fixture{servers: map[interfaces.ObjectID]*seal.ServerInfo{}}

	refs := make([]interfaces.KeyServerRef, 0, 2)
	for i := 0; i < 2; i++ {
		var raw [32]byte
		_, err := io.ReadFull(rand.Reader, raw[:])
		require.NoError(t, err)
		objectID, err := interfaces.NewObjectIDFromBytes(raw[:])
		require.NoError(t, err)

		key, err := seal.GenerateServerKey()
		require.NoError(t, err)
		pubPEM, err := seal.MarshalPublicKeyPEM(&key.PublicKey)
		require.NoError(t, err)
		f.servers[objectID] = &seal.ServerInfo{ObjectID: objectID, PublicKey: pubPEM}
		refs = append(refs, interfaces.KeyServerRef{ObjectID: objectID, URL: "http://keyserver.test"})
	}

	engine, err := seal.NewEngine(f, refs, 2, log)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		resp := map[string]any{
			"newlyCreated": map[string]any{
				"blobObject": map[string]any{"blobId": interfaces.ComputeBlobID(data).String()},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)

	ledger := chain.NewMockLedger(testPackageID)
	signer, err := wallet.NewSigner()
	require.NoError(t, err)
	f.policies = policy.NewClient(ledger, signer, testPackageID, log)
	f.policyID, _, err = f.policies.CreatePolicy(context.Background(), "shared")
	require.NoError(t, err)

	f.writer = blobstore.NewWriter(blobstore.NewPublisher(srv.URL, log), ledger, signer, log)
	f.uploader = NewUploader(engine, f.writer, f.policies, nil, log)
	return f
}

func TestUploadEncrypted(t *testing.T) {
	f := newFixture(t)
	data := []byte("confidential report")

	result, err := f.uploader.Upload(context.Background(), "report.pdf", data, f.policyID, Options{})
	require.NoError(t, err)
	require.True(t, result.Protected)
	require.NotEmpty(t, result.EncryptionID)
	require.Equal(t, blobstore.DefaultEpochs, result.Record.Epochs)

	// The blob is published against the policy.
	published, err := f.policies.GetPolicy(context.Background(), f.policyID)
	require.NoError(t, err)
	require.Equal(t, []interfaces.BlobID{result.Record.BlobID}, published.BlobRefs)

	// The committed bytes are an envelope sealed for this policy, not
	// the plaintext.
	require.NotEqual(t, interfaces.ComputeBlobID(data), result.Record.BlobID)

	files := f.writer.ListFiles()
	require.Len(t, files, 1)
	require.Equal(t, result.Record.BlobID, files[0].BlobID)
}

func TestUploadEngineDownWithoutConsent(t *testing.T) {
	f := newFixture(t)
	f.dirErr = errors.New("key servers down")

	_, err := f.uploader.Upload(context.Background(), "report.pdf", []byte("data"), f.policyID, Options{})
	require.ErrorIs(t, err, interfaces.ErrEncryptionUnavailable)
}

func TestUploadPlaintextDegraded(t *testing.T) {
	f := newFixture(t)
	f.dirErr = errors.New("key servers down")
	data := []byte("public notes")

	result, err := f.uploader.Upload(context.Background(), "notes.txt", data, f.policyID, Options{AllowPlaintext: true})
	require.NoError(t, err)
	require.False(t, result.Protected)
	require.Empty(t, result.EncryptionID)

	// Plaintext mode commits the raw bytes.
	require.Equal(t, interfaces.ComputeBlobID(data), result.Record.BlobID)
}

func TestUploadRejectsEmptyFile(t *testing.T) {
	f := newFixture(t)
	_, err := f.uploader.Upload(context.Background(), "empty", nil, f.policyID, Options{})
	require.Error(t, err)
}
