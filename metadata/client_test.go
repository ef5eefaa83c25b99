package metadata

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/xhare/sealshare/interfaces"
	"github.com/xhare/sealshare/wallet"
)

// fakeBackend is a minimal metadata backend: signature-checked login,
// bearer-gated metadata storage, and labeled downloads.
type fakeBackend struct {
	t     *testing.T
	token string
	files []fileRecord
	blobs map[interfaces.BlobID][]byte
}

func newFakeBackend(t *testing.T) (*fakeBackend, *httptest.Server) {
	b := &fakeBackend{t: t, blobs: map[interfaces.BlobID][]byte{}}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/wallet", b.handleAuth)
	mux.HandleFunc("POST /file/upload-metadata", b.handleUpload)
	mux.HandleFunc("GET /files", b.handleList)
	mux.HandleFunc("GET /file/{id}/download", b.handleDownload)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return b, srv
}

func (b *fakeBackend) handleAuth(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	require.NoError(b.t, json.NewDecoder(r.Body).Decode(&req))

	sig, err := base64.StdEncoding.DecodeString(req.Signature)
	require.NoError(b.t, err)
	addr, err := wallet.VerifyPersonalMessage(sig, authChallenge(interfaces.Address(req.WalletAddress)))
	if err != nil || !addr.Equal(interfaces.Address(req.WalletAddress)) {
		http.Error(w, "bad signature", http.StatusUnauthorized)
		return
	}
	b.token = uuid.New().String()
	json.NewEncoder(w).Encode(authResponse{Token: b.token})
}

func (b *fakeBackend) authorized(r *http.Request) bool {
	return b.token != "" && r.Header.Get("Authorization") == "Bearer "+b.token
}

func (b *fakeBackend) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !b.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var rec fileRecord
	require.NoError(b.t, json.NewDecoder(r.Body).Decode(&rec))
	b.files = append(b.files, rec)
	json.NewEncoder(w).Encode(uploadResponse{FileCid: rec.WalrusCid})
}

func (b *fakeBackend) handleList(w http.ResponseWriter, r *http.Request) {
	if !b.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	json.NewEncoder(w).Encode(listResponse{Files: b.files})
}

func (b *fakeBackend) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	data, ok := b.blobs[interfaces.BlobID(id)]
	if !ok {
		http.NotFound(w, r)
		return
	}
	for _, rec := range b.files {
		if rec.WalrusCid == id && rec.EnableEncryption && rec.EncryptionKeys != nil {
			w.Header().Set(HeaderFileEncrypted, "true")
			w.Header().Set(HeaderEncryptionID, rec.EncryptionKeys.EncryptionID)
		}
	}
	w.Write(data)
}

func TestAuthenticateAndUpload(t *testing.T) {
	backend, srv := newFakeBackend(t)
	client := NewClient(srv.URL, slog.Default())
	signer, err := wallet.NewSigner()
	require.NoError(t, err)
	ctx := context.Background()

	// Protected endpoints fail before login.
	require.Error(t, client.UploadMetadata(ctx, FileMeta{Name: "early"}))

	require.NoError(t, client.Authenticate(ctx, signer))

	meta := FileMeta{
		BlobID:       interfaces.ComputeBlobID([]byte("payload")),
		Name:         "report.pdf",
		Size:         7,
		Encrypted:    true,
		EncryptionID: "00aa11bb",
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, client.UploadMetadata(ctx, meta))

	files, err := client.ListFiles(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, meta.Name, files[0].Name)
	require.Equal(t, meta.EncryptionID, files[0].EncryptionID)
	require.Equal(t, len(backend.files), 1)
}

func TestDownloadLabelsEncryptedContent(t *testing.T) {
	backend, srv := newFakeBackend(t)
	client := NewClient(srv.URL, slog.Default())
	signer, err := wallet.NewSigner()
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, client.Authenticate(ctx, signer))

	data := []byte("sealed envelope bytes")
	blobID := interfaces.ComputeBlobID(data)
	backend.blobs[blobID] = data
	require.NoError(t, client.UploadMetadata(ctx, FileMeta{
		BlobID: blobID, Name: "sealed", Encrypted: true, EncryptionID: "deadbeef",
	}))

	got, meta, err := client.Download(ctx, blobID)
	require.NoError(t, err)
	require.Equal(t, data, got)
	require.True(t, meta.Encrypted)
	require.Equal(t, "deadbeef", meta.EncryptionID)

	// Plain content carries no labels.
	plain := []byte("plain bytes")
	plainID := interfaces.ComputeBlobID(plain)
	backend.blobs[plainID] = plain
	_, meta, err = client.Download(ctx, plainID)
	require.NoError(t, err)
	require.False(t, meta.Encrypted)
	require.Empty(t, meta.EncryptionID)

	_, _, err = client.Download(ctx, interfaces.ComputeBlobID([]byte("missing")))
	require.ErrorIs(t, err, interfaces.ErrBlobNotFound)
}
