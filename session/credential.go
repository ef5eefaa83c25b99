// Package session manages the wallet-signed credential that authorizes
// decryption key requests for a bounded time window.
package session

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xhare/sealshare/interfaces"
	"github.com/xhare/sealshare/wallet"
)

// Certificate is the wallet-signed statement that a short-lived session
// key may request decryption keys on the wallet's behalf. Key servers
// verify the signature over the challenge message and check the time
// window themselves.
type Certificate struct {
	Address      interfaces.Address  `json:"address"`
	PackageID    interfaces.ObjectID `json:"package_id"`
	SessionVK    string              `json:"session_vk"`
	CreationTime string              `json:"creation_time"`
	TTLMin       int                 `json:"ttl_min"`
	Signature    []byte              `json:"signature"`
}

// Credential pairs a certificate with the session secret key that signs
// individual key-fetch requests.
type Credential struct {
	Certificate Certificate
	sessionSK   ed25519.PrivateKey
}

// exportedCredential is the at-rest JSON form. The session secret key
// travels with it, so stores holding it must be treated as sensitive.
type exportedCredential struct {
	Certificate Certificate `json:"certificate"`
	SessionSK   string      `json:"session_sk"`
}

// ChallengeMessage renders the exact byte string the wallet signs. Every
// verifier must rebuild it identically, so the format never changes
// without a protocol version bump.
func (c *Certificate) ChallengeMessage() []byte {
	return []byte(fmt.Sprintf("Accessing keys of package %s for %d mins from %s, session key %s",
		c.PackageID, c.TTLMin, c.CreationTime, c.SessionVK))
}

// Verify checks the wallet signature over the challenge message and that
// the recovered address matches the certificate.
func (c *Certificate) Verify() error {
	addr, err := wallet.VerifyPersonalMessage(c.Signature, c.ChallengeMessage())
	if err != nil {
		return fmt.Errorf("certificate signature invalid: %w", err)
	}
	if !addr.Equal(c.Address) {
		return fmt.Errorf("certificate signed by %s, claims %s", addr, c.Address)
	}
	return nil
}

// ExpiresAt returns the end of the credential's validity window.
func (c *Certificate) ExpiresAt() (time.Time, error) {
	created, err := time.Parse(time.RFC3339, c.CreationTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid creation time: %w", err)
	}
	return created.Add(time.Duration(c.TTLMin) * time.Minute), nil
}

// IsExpiredAt reports whether the credential is outside its validity
// window at the given instant. A malformed creation time counts as
// expired.
func (c *Certificate) IsExpiredAt(now time.Time) bool {
	expiry, err := c.ExpiresAt()
	if err != nil {
		return true
	}
	created, _ := time.Parse(time.RFC3339, c.CreationTime)
	return now.Before(created) || !now.Before(expiry)
}

// SessionPublicKey decodes the certificate's session verification key.
func (c *Certificate) SessionPublicKey() (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(c.SessionVK)
	if err != nil {
		return nil, fmt.Errorf("invalid session key encoding: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("session key has invalid size %d", len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// NewCredential mints a fresh session key pair and asks the wallet to
// sign the challenge binding it to the package for ttl minutes.
func NewCredential(ctx context.Context, signer interfaces.WalletSigner, packageID interfaces.ObjectID, ttl time.Duration, now time.Time) (*Credential, error) {
	vk, sk, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("could not generate session key: %w", err)
	}

	cert := Certificate{
		Address:      signer.Address(),
		PackageID:    packageID,
		SessionVK:    base64.StdEncoding.EncodeToString(vk),
		CreationTime: now.UTC().Format(time.RFC3339),
		TTLMin:       int(ttl / time.Minute),
	}
	sig, err := signer.SignPersonalMessage(ctx, cert.ChallengeMessage())
	if err != nil {
		return nil, fmt.Errorf("wallet declined session challenge: %w", err)
	}
	cert.Signature = sig

	return &Credential{Certificate: cert, sessionSK: sk}, nil
}

// SignRequest signs a key-fetch request body with the session key: the
// approval transaction bytes followed by each requested identifier.
func (c *Credential) SignRequest(txBytes []byte, ids []string) []byte {
	msg := append([]byte{}, txBytes...)
	for _, id := range ids {
		msg = append(msg, []byte(id)...)
	}
	return ed25519.Sign(c.sessionSK, msg)
}

// VerifyRequestSignature checks a session-key signature over a key-fetch
// request against the certificate's session verification key.
func (c *Certificate) VerifyRequestSignature(sig, txBytes []byte, ids []string) error {
	vk, err := c.SessionPublicKey()
	if err != nil {
		return err
	}
	msg := append([]byte{}, txBytes...)
	for _, id := range ids {
		msg = append(msg, []byte(id)...)
	}
	if !ed25519.Verify(vk, msg, sig) {
		return fmt.Errorf("request signature does not match session key")
	}
	return nil
}

// Export serializes the credential, session secret key included.
func (c *Credential) Export() ([]byte, error) {
	return json.Marshal(exportedCredential{
		Certificate: c.Certificate,
		SessionSK:   base64.StdEncoding.EncodeToString(c.sessionSK),
	})
}

// ImportCredential restores a credential serialized by Export.
func ImportCredential(raw []byte) (*Credential, error) {
	var exported exportedCredential
	if err := json.Unmarshal(raw, &exported); err != nil {
		return nil, fmt.Errorf("could not parse stored credential: %w", err)
	}
	sk, err := base64.StdEncoding.DecodeString(exported.SessionSK)
	if err != nil {
		return nil, fmt.Errorf("invalid stored session key: %w", err)
	}
	if len(sk) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("stored session key has invalid size %d", len(sk))
	}
	return &Credential{Certificate: exported.Certificate, sessionSK: ed25519.PrivateKey(sk)}, nil
}
