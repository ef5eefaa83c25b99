package seal

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/hashicorp/vault/shamir"
	"github.com/xhare/sealshare/interfaces"
	"go.uber.org/atomic"
)

const dataKeySize = 32

// ServerInfo is a key server's self-reported identity: its on-chain object
// ID and its PEM-encoded share-wrapping public key.
type ServerInfo struct {
	ObjectID  interfaces.ObjectID
	PublicKey []byte
}

// ServerDirectory resolves a key server reference to its identity and
// public key. Implemented by the key server HTTP client.
type ServerDirectory interface {
	ServiceInfo(ctx context.Context, ref interfaces.KeyServerRef) (*ServerInfo, error)
}

// Engine encrypts data under a policy so that any Threshold of the
// configured key servers can jointly release it. Key material is fetched
// from the servers lazily on first use.
type Engine struct {
	directory ServerDirectory
	servers   []interfaces.KeyServerRef
	threshold int
	log       *slog.Logger

	mu          sync.Mutex
	initialized atomic.Bool
	serverKeys  map[interfaces.ObjectID]*ecdsa.PublicKey
}

// NewEngine configures a threshold engine over the given key servers. At
// least two servers and a threshold of at least two are required, so no
// single server can release data on its own.
func NewEngine(directory ServerDirectory, servers []interfaces.KeyServerRef, threshold int, log *slog.Logger) (*Engine, error) {
	if threshold < 2 {
		return nil, fmt.Errorf("threshold must be at least 2, got %d", threshold)
	}
	if threshold > len(servers) {
		return nil, fmt.Errorf("threshold %d exceeds server count %d", threshold, len(servers))
	}
	return &Engine{
		directory: directory,
		servers:   servers,
		threshold: threshold,
		log:       log,
		serverKeys: make(map[interfaces.ObjectID]*ecdsa.PublicKey),
	}, nil
}

// Threshold returns the number of shares required to recover a data key.
func (e *Engine) Threshold() int { return e.threshold }

// Servers returns the configured key server references.
func (e *Engine) Servers() []interfaces.KeyServerRef { return e.servers }

// Ready reports whether server key material has been fetched.
func (e *Engine) Ready() bool { return e.initialized.Load() }

// Init fetches every server's wrapping key. It is idempotent and safe to
// call concurrently; callers normally rely on Encrypt doing this lazily.
func (e *Engine) Init(ctx context.Context) error {
	if e.initialized.Load() {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized.Load() {
		return nil
	}

	keys := make(map[interfaces.ObjectID]*ecdsa.PublicKey, len(e.servers))
	for _, ref := range e.servers {
		info, err := e.directory.ServiceInfo(ctx, ref)
		if err != nil {
			return fmt.Errorf("%w: key server %s: %v", interfaces.ErrEncryptionUnavailable, ref.URL, err)
		}
		if !info.ObjectID.Equal(ref.ObjectID) {
			return fmt.Errorf("%w: key server %s reports object %s, expected %s", interfaces.ErrEncryptionUnavailable, ref.URL, info.ObjectID, ref.ObjectID)
		}
		pub, err := ParsePublicKeyPEM(info.PublicKey)
		if err != nil {
			return fmt.Errorf("%w: key server %s: %v", interfaces.ErrEncryptionUnavailable, ref.URL, err)
		}
		keys[ref.ObjectID] = pub
	}

	e.serverKeys = keys
	e.initialized.Store(true)
	e.log.Info("threshold engine initialized", "servers", len(e.servers), "threshold", e.threshold)
	return nil
}

// Encrypt seals plaintext under the policy. The returned envelope carries
// the threshold identifier (policy ID plus a fresh nonce), one wrapped data
// key share per server, and the AES-256-GCM payload bound to the
// identifier.
func (e *Engine) Encrypt(ctx context.Context, plaintext []byte, policyID interfaces.ObjectID) (*Envelope, error) {
	if err := e.Init(ctx); err != nil {
		return nil, err
	}

	idNonce := make([]byte, IDNonceSize)
	if _, err := io.ReadFull(rand.Reader, idNonce); err != nil {
		return nil, fmt.Errorf("failed to generate id nonce: %w", err)
	}
	id := append(policyID.Bytes(), idNonce...)

	dek := make([]byte, dataKeySize)
	if _, err := io.ReadFull(rand.Reader, dek); err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}
	defer wipeBytes(dek)

	rawShares, err := shamir.Split(dek, len(e.servers), e.threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split data key: %w", err)
	}
	defer func() {
		for _, s := range rawShares {
			wipeBytes(s)
		}
	}()

	wrapped := make([]WrappedShare, 0, len(e.servers))
	for i, ref := range e.servers {
		pub := e.serverKeys[ref.ObjectID]
		sealed, err := EncryptToServer(pub, rawShares[i])
		if err != nil {
			return nil, fmt.Errorf("failed to wrap share for server %s: %w", ref.ObjectID, err)
		}
		wrapped = append(wrapped, WrappedShare{ServerID: ref.ObjectID, Share: sealed})
	}

	block, err := aes.NewCipher(dek)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	env := &Envelope{
		ID:        id,
		Threshold: e.threshold,
		Shares:    wrapped,
	}
	if _, err := io.ReadFull(rand.Reader, env.Nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	env.Ciphertext = aesGCM.Seal(nil, env.Nonce[:], plaintext, env.ID)

	e.log.Debug("sealed envelope", "id", env.IDHex(), "shares", len(wrapped), "bytes", len(plaintext))
	return env, nil
}

// Decrypt recovers plaintext from an envelope given at least Threshold
// unwrapped data key shares. Shares come from key servers after policy
// approval; reconstruction itself needs no network access.
func Decrypt(env *Envelope, shares [][]byte) ([]byte, error) {
	if len(shares) < env.Threshold {
		return nil, fmt.Errorf("need %d shares to decrypt, got %d", env.Threshold, len(shares))
	}

	dek, err := shamir.Combine(shares[:env.Threshold])
	if err != nil {
		return nil, fmt.Errorf("failed to combine shares: %w", err)
	}
	defer wipeBytes(dek)
	if len(dek) != dataKeySize {
		return nil, fmt.Errorf("reconstructed key has invalid size %d", len(dek))
	}

	block, err := aes.NewCipher(dek)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	plaintext, err := aesGCM.Open(nil, env.Nonce[:], env.Ciphertext, env.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt envelope: %w", err)
	}
	return plaintext, nil
}
