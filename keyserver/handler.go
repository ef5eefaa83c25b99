// Package keyserver implements one threshold key server: it verifies a
// session credential and the on-chain policy, then unwraps the data key
// shares addressed to it. The HTTP client side lives here too.
package keyserver

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/xhare/sealshare/chain"
	"github.com/xhare/sealshare/interfaces"
	"github.com/xhare/sealshare/seal"
	"github.com/xhare/sealshare/session"
)

// MaxIDsPerRequest caps how many identifiers one fetch may carry.
const MaxIDsPerRequest = 10

// FetchKeysRequest asks the server to release its share for each
// identifier. Shares[i] is the wrapped share of IDs[i] addressed to this
// server; TxBytes is the approval transaction authorizing the whole set.
type FetchKeysRequest struct {
	IDs              []string            `json:"ids"`
	Shares           []string            `json:"shares"`
	TxBytes          string              `json:"tx_bytes"`
	Certificate      session.Certificate `json:"certificate"`
	RequestSignature string              `json:"request_signature"`
	Threshold        int                 `json:"threshold"`
}

// FetchKeysResponse carries the released shares, keyed by identifier.
type FetchKeysResponse struct {
	Shares map[string]string `json:"shares"`
}

// ServiceResponse is the server's public identity.
type ServiceResponse struct {
	ObjectID string `json:"object_id"`
	PubKey   string `json:"pubkey"`
}

// Handler holds the key server's secrets and policy checking logic.
type Handler struct {
	objectID   interfaces.ObjectID
	privateKey *ecdsa.PrivateKey
	packageID  string
	chain      interfaces.ChainClient
	log        *slog.Logger

	// now is replaced in tests.
	now func() time.Time
}

// NewHandler creates a handler for one key server identity.
func NewHandler(objectID interfaces.ObjectID, privateKey *ecdsa.PrivateKey, packageID string, chainClient interfaces.ChainClient, log *slog.Logger) *Handler {
	return &Handler{
		objectID:   objectID,
		privateKey: privateKey,
		packageID:  packageID,
		chain:      chainClient,
		log:        log,
		now:        time.Now,
	}
}

// HandleService reports the server's on-chain identity and wrapping key.
func (h *Handler) HandleService(w http.ResponseWriter, r *http.Request) {
	pubPEM, err := seal.MarshalPublicKeyPEM(&h.privateKey.PublicKey)
	if err != nil {
		h.log.Error("could not marshal public key", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ServiceResponse{
		ObjectID: h.objectID.String(),
		PubKey:   string(pubPEM),
	})
}

// HandleFetchKeys verifies the credential and the approval transaction
// against the on-chain policy, then unwraps and returns the shares. Any
// authorization failure is reported uniformly as no access.
func (h *Handler) HandleFetchKeys(w http.ResponseWriter, r *http.Request) {
	var req FetchKeysRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"malformed request"}`, http.StatusBadRequest)
		return
	}
	if len(req.IDs) == 0 || len(req.IDs) > MaxIDsPerRequest || len(req.Shares) != len(req.IDs) || req.Threshold < 1 {
		http.Error(w, `{"error":"malformed request"}`, http.StatusBadRequest)
		return
	}

	shares, err := h.fetchKeys(r.Context(), &req)
	if err != nil {
		h.log.Info("fetch keys denied",
			slog.String("address", req.Certificate.Address.String()),
			slog.Int("ids", len(req.IDs)),
			"err", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"no access"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(FetchKeysResponse{Shares: shares})
}

func (h *Handler) fetchKeys(ctx context.Context, req *FetchKeysRequest) (map[string]string, error) {
	cert := &req.Certificate
	if err := cert.Verify(); err != nil {
		return nil, err
	}
	if cert.IsExpiredAt(h.now()) {
		return nil, interfaces.ErrCredentialExpired
	}
	if !strings.EqualFold(cert.PackageID.String(), h.packageID) {
		return nil, fmt.Errorf("credential bound to package %s", cert.PackageID)
	}

	txBytes, err := base64.StdEncoding.DecodeString(req.TxBytes)
	if err != nil {
		return nil, fmt.Errorf("invalid tx bytes encoding: %w", err)
	}
	reqSig, err := base64.StdEncoding.DecodeString(req.RequestSignature)
	if err != nil {
		return nil, fmt.Errorf("invalid request signature encoding: %w", err)
	}
	if err := cert.VerifyRequestSignature(reqSig, txBytes, req.IDs); err != nil {
		return nil, err
	}

	approvals, err := h.parseApprovals(txBytes)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(req.IDs))
	policies := make(map[interfaces.ObjectID]*interfaces.ObjectData)
	for i, idHex := range req.IDs {
		policyID, ok := approvals[strings.ToLower(strings.TrimPrefix(idHex, "0x"))]
		if !ok {
			return nil, fmt.Errorf("identifier %s not covered by approval transaction", idHex)
		}
		if err := h.checkMembership(ctx, policies, policyID, cert.Address); err != nil {
			return nil, err
		}

		wrapped, err := base64.StdEncoding.DecodeString(req.Shares[i])
		if err != nil {
			return nil, fmt.Errorf("invalid share encoding for %s: %w", idHex, err)
		}
		share, err := seal.DecryptWithServerKey(h.privateKey, wrapped)
		if err != nil {
			return nil, fmt.Errorf("share for %s not addressed to this server: %w", idHex, err)
		}
		out[idHex] = base64.StdEncoding.EncodeToString(share)
	}
	return out, nil
}

// parseApprovals decodes the approval transaction into a map from
// identifier hex to the policy object each approval names. The identifier
// must carry the policy ID as its prefix, binding ciphertext to policy.
func (h *Handler) parseApprovals(txBytes []byte) (map[string]interfaces.ObjectID, error) {
	tx, err := chain.DecodeTransaction(txBytes)
	if err != nil {
		return nil, err
	}

	out := make(map[string]interfaces.ObjectID)
	for _, call := range tx.Calls() {
		pkg, module, function, err := call.SplitTarget()
		if err != nil {
			return nil, err
		}
		if !strings.EqualFold(pkg, h.packageID) || module != "allowlist" || function != "seal_approve" {
			return nil, fmt.Errorf("unexpected call %s in approval transaction", call.Target)
		}
		if len(call.Args) != 2 {
			return nil, fmt.Errorf("seal_approve expects 2 arguments")
		}
		idRaw, err := chain.DecodeBytesArg(call.Args[0])
		if err != nil {
			return nil, err
		}
		policyID, err := chain.DecodeObjectArg(call.Args[1])
		if err != nil {
			return nil, err
		}
		if len(idRaw) < 32 || !bytes.Equal(idRaw[:32], policyID.Bytes()) {
			return nil, fmt.Errorf("identifier does not belong to policy %s", policyID)
		}
		out[hex.EncodeToString(idRaw)] = policyID
	}
	return out, nil
}

// checkMembership reads the policy object (once per request per policy)
// and verifies the credential's address is in its member list.
func (h *Handler) checkMembership(ctx context.Context, cache map[interfaces.ObjectID]*interfaces.ObjectData, policyID interfaces.ObjectID, addr interfaces.Address) error {
	obj, ok := cache[policyID]
	if !ok {
		var err error
		obj, err = h.chain.GetObject(ctx, policyID)
		if err != nil {
			return fmt.Errorf("could not read policy %s: %w", policyID, err)
		}
		if obj.Type != h.packageID+"::allowlist::Allowlist" {
			return fmt.Errorf("object %s is not a policy", policyID)
		}
		cache[policyID] = obj
	}

	members, _ := obj.Fields["list"].([]any)
	for _, member := range members {
		if s, ok := member.(string); ok && interfaces.Address(s).Equal(addr) {
			return nil
		}
	}
	return interfaces.ErrNoAccess
}
