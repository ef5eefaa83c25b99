// Package metadata talks to the file metadata backend: wallet-based
// authentication, per-file metadata records, and the download endpoint
// that labels encrypted content.
package metadata

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xhare/sealshare/interfaces"
)

// Download response headers labeling encrypted content.
const (
	HeaderFileEncrypted = "X-File-Encrypted"
	HeaderEncryptionID  = "X-Seal-Encryption-Id"
)

// FileMeta is one file record in the backend.
type FileMeta struct {
	BlobID       interfaces.BlobID
	Name         string
	Size         int64
	ContentType  string
	Encrypted    bool
	EncryptionID string
	PolicyID     string
	Epochs       int
	CreatedAt    time.Time
}

// Client is an authenticated metadata backend client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
	token      string
}

// NewClient creates an unauthenticated client; call Authenticate before
// the protected endpoints.
func NewClient(baseURL string, log *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log,
	}
}

// authChallenge renders the fixed login statement the wallet signs.
func authChallenge(addr interfaces.Address) []byte {
	return []byte("sealshare backend login for " + addr.String())
}

type authRequest struct {
	WalletAddress string `json:"walletAddress"`
	Signature     string `json:"signature"`
}

type authResponse struct {
	Token string `json:"token"`
}

type encryptionKeys struct {
	EncryptionID string `json:"encryptionId"`
	PolicyID     string `json:"policyId,omitempty"`
}

type walrusOptions struct {
	Epochs int `json:"epochs"`
}

type fileRecord struct {
	WalrusCid        string          `json:"walrusCid"`
	Filename         string          `json:"filename"`
	FileSize         int64           `json:"fileSize"`
	ContentType      string          `json:"contentType"`
	EnableEncryption bool            `json:"enableEncryption"`
	EncryptionKeys   *encryptionKeys `json:"encryptionKeys,omitempty"`
	WalrusOptions    walrusOptions   `json:"walrusOptions"`
	CreatedAt        time.Time       `json:"createdAt,omitzero"`
}

type uploadResponse struct {
	FileCid string `json:"fileCid"`
}

type listResponse struct {
	Files []fileRecord `json:"files"`
}

func toRecord(meta FileMeta) fileRecord {
	rec := fileRecord{
		WalrusCid:        meta.BlobID.String(),
		Filename:         meta.Name,
		FileSize:         meta.Size,
		ContentType:      meta.ContentType,
		EnableEncryption: meta.Encrypted,
		WalrusOptions:    walrusOptions{Epochs: meta.Epochs},
		CreatedAt:        meta.CreatedAt,
	}
	if rec.ContentType == "" {
		rec.ContentType = "application/octet-stream"
	}
	if meta.Encrypted {
		rec.EncryptionKeys = &encryptionKeys{
			EncryptionID: meta.EncryptionID,
			PolicyID:     meta.PolicyID,
		}
	}
	return rec
}

func (r fileRecord) toMeta() FileMeta {
	meta := FileMeta{
		BlobID:      interfaces.BlobID(r.WalrusCid),
		Name:        r.Filename,
		Size:        r.FileSize,
		ContentType: r.ContentType,
		Encrypted:   r.EnableEncryption,
		Epochs:      r.WalrusOptions.Epochs,
		CreatedAt:   r.CreatedAt,
	}
	if r.EncryptionKeys != nil {
		meta.EncryptionID = r.EncryptionKeys.EncryptionID
		meta.PolicyID = r.EncryptionKeys.PolicyID
	}
	return meta
}

// Authenticate proves wallet ownership to the backend and stores the
// bearer token for subsequent calls.
func (c *Client) Authenticate(ctx context.Context, signer interfaces.WalletSigner) error {
	sig, err := signer.SignPersonalMessage(ctx, authChallenge(signer.Address()))
	if err != nil {
		return fmt.Errorf("wallet declined login challenge: %w", err)
	}

	body, err := json.Marshal(authRequest{
		WalletAddress: signer.Address().String(),
		Signature:     base64.StdEncoding.EncodeToString(sig),
	})
	if err != nil {
		return err
	}
	var parsed authResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/wallet", body, &parsed); err != nil {
		return err
	}
	if parsed.Token == "" {
		return fmt.Errorf("backend returned no token")
	}
	c.token = parsed.Token
	c.log.Debug("authenticated to metadata backend", slog.String("address", signer.Address().String()))
	return nil
}

// UploadMetadata records a committed file in the backend.
func (c *Client) UploadMetadata(ctx context.Context, meta FileMeta) error {
	body, err := json.Marshal(toRecord(meta))
	if err != nil {
		return err
	}
	var parsed uploadResponse
	if err := c.doJSON(ctx, http.MethodPost, "/file/upload-metadata", body, &parsed); err != nil {
		return err
	}
	if parsed.FileCid != "" && parsed.FileCid != meta.BlobID.String() {
		return fmt.Errorf("backend recorded cid %s for blob %s", parsed.FileCid, meta.BlobID)
	}
	return nil
}

// ListFiles returns the caller's file records.
func (c *Client) ListFiles(ctx context.Context) ([]FileMeta, error) {
	var parsed listResponse
	if err := c.doJSON(ctx, http.MethodGet, "/files", nil, &parsed); err != nil {
		return nil, err
	}
	out := make([]FileMeta, 0, len(parsed.Files))
	for _, rec := range parsed.Files {
		out = append(out, rec.toMeta())
	}
	return out, nil
}

// Download fetches file bytes. The returned meta reflects the labeling
// headers: whether the content is an envelope and, if so, its
// encryption identifier.
func (c *Client) Download(ctx context.Context, blobID interfaces.BlobID) ([]byte, *FileMeta, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/file/"+url.PathEscape(blobID.String())+"/download", nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("metadata backend unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil, interfaces.ErrBlobNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("metadata backend returned %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read download body: %w", err)
	}
	meta := &FileMeta{
		BlobID:       blobID,
		Size:         int64(len(data)),
		Encrypted:    resp.Header.Get(HeaderFileEncrypted) == "true",
		EncryptionID: resp.Header.Get(HeaderEncryptionID),
	}
	return data, meta, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body []byte, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("metadata backend unreachable: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read backend response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("metadata backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("could not parse backend response: %w", err)
		}
	}
	return nil
}
