package keyserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/xhare/sealshare/interfaces"
	"github.com/xhare/sealshare/seal"
	"github.com/xhare/sealshare/session"
)

// Client talks to key servers over HTTP. It satisfies seal.ServerDirectory.
type Client struct {
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient creates a key server client.
func NewClient(log *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log,
	}
}

// ServiceInfo fetches a server's identity and wrapping key.
func (c *Client) ServiceInfo(ctx context.Context, ref interfaces.KeyServerRef) (*seal.ServerInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(ref.URL, "/")+"/v1/service", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("key server unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("key server returned %d", resp.StatusCode)
	}

	var parsed ServiceResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("could not parse service response: %w", err)
	}
	objectID, err := interfaces.NewObjectIDFromHex(parsed.ObjectID)
	if err != nil {
		return nil, fmt.Errorf("key server reports invalid object id: %w", err)
	}
	return &seal.ServerInfo{ObjectID: objectID, PublicKey: []byte(parsed.PubKey)}, nil
}

// ShareRequest is one identifier with its wrapped share for one server.
type ShareRequest struct {
	IDHex   string
	Wrapped []byte
}

// FetchKeys asks one server to release its shares for a batch of
// identifiers authorized by the approval transaction. A 403 maps to
// ErrNoAccess; other failures are transport errors and may be retried.
func (c *Client) FetchKeys(ctx context.Context, ref interfaces.KeyServerRef, cred *session.Credential, txBytes []byte, threshold int, items []ShareRequest) (map[string][]byte, error) {
	if len(items) == 0 || len(items) > MaxIDsPerRequest {
		return nil, fmt.Errorf("fetch batch must hold 1 to %d identifiers, got %d", MaxIDsPerRequest, len(items))
	}
	if threshold < 1 {
		return nil, fmt.Errorf("threshold must be at least 1, got %d", threshold)
	}

	ids := make([]string, 0, len(items))
	shares := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.IDHex)
		shares = append(shares, base64.StdEncoding.EncodeToString(item.Wrapped))
	}

	payload := FetchKeysRequest{
		IDs:              ids,
		Shares:           shares,
		TxBytes:          base64.StdEncoding.EncodeToString(txBytes),
		Certificate:      cred.Certificate,
		RequestSignature: base64.StdEncoding.EncodeToString(cred.SignRequest(txBytes, ids)),
		Threshold:        threshold,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(ref.URL, "/")+"/v1/fetch_keys", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("key server unreachable: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read key server response: %w", err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden:
		return nil, interfaces.ErrNoAccess
	default:
		return nil, fmt.Errorf("key server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed FetchKeysResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("could not parse fetch response: %w", err)
	}

	out := make(map[string][]byte, len(parsed.Shares))
	for idHex, encoded := range parsed.Shares {
		share, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("invalid share encoding for %s: %w", idHex, err)
		}
		out[idHex] = share
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			return nil, fmt.Errorf("key server omitted share for %s", id)
		}
	}
	c.log.Debug("fetched key shares",
		slog.String("server", ref.URL),
		slog.Int("ids", len(ids)))
	return out, nil
}
