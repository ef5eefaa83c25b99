// Package wallet implements an in-memory ed25519 wallet and the signature
// envelope format shared with every verifier in the system.
package wallet

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/xhare/sealshare/interfaces"
)

// SchemeED25519 is the only signature scheme in use.
const SchemeED25519 byte = 0x00

// Intent prefixes distinguish what a signature covers, so transaction
// signatures can never be replayed as personal-message signatures.
var (
	intentTransaction     = []byte{0x00, 0x00, 0x00}
	intentPersonalMessage = []byte{0x03, 0x00, 0x00}
)

// Signer is an in-memory wallet key. It satisfies interfaces.WalletSigner.
type Signer struct {
	priv ed25519.PrivateKey
	addr interfaces.Address
}

// NewSigner generates a fresh wallet key.
func NewSigner() (*Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("could not generate wallet key: %w", err)
	}
	return newSigner(priv), nil
}

// NewSignerFromSeed derives a deterministic wallet key from a 32-byte seed.
func NewSignerFromSeed(seed []byte) (*Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, errors.New("wallet seed must be 32 bytes")
	}
	return newSigner(ed25519.NewKeyFromSeed(seed)), nil
}

func newSigner(priv ed25519.PrivateKey) *Signer {
	pub := priv.Public().(ed25519.PublicKey)
	return &Signer{priv: priv, addr: AddressFromPublicKey(pub)}
}

// AddressFromPublicKey derives the ledger address of an ed25519 public key:
// 0x-prefixed blake2b-256 over scheme byte and key bytes.
func AddressFromPublicKey(pub ed25519.PublicKey) interfaces.Address {
	digest := blake2b.Sum256(append([]byte{SchemeED25519}, pub...))
	return interfaces.Address("0x" + hex.EncodeToString(digest[:]))
}

// Address returns the wallet's ledger address.
func (s *Signer) Address() interfaces.Address {
	return s.addr
}

// SignPersonalMessage signs an off-chain challenge message.
func (s *Signer) SignPersonalMessage(_ context.Context, message []byte) ([]byte, error) {
	return s.sign(intentPersonalMessage, message), nil
}

// SignTransaction signs transaction bytes for execution.
func (s *Signer) SignTransaction(_ context.Context, txBytes []byte) ([]byte, error) {
	return s.sign(intentTransaction, txBytes), nil
}

// sign produces the signature envelope: scheme ‖ signature ‖ public key.
// Carrying the public key lets verifiers recover the signing address.
func (s *Signer) sign(intent, payload []byte) []byte {
	msg := append(append([]byte{}, intent...), payload...)
	sig := ed25519.Sign(s.priv, msg)
	envelope := make([]byte, 0, 1+ed25519.SignatureSize+ed25519.PublicKeySize)
	envelope = append(envelope, SchemeED25519)
	envelope = append(envelope, sig...)
	envelope = append(envelope, s.priv.Public().(ed25519.PublicKey)...)
	return envelope
}

// ParseSignature splits a signature envelope and returns the signer's
// address and public key. It does not verify the signature.
func ParseSignature(envelope []byte) (interfaces.Address, ed25519.PublicKey, error) {
	if len(envelope) != 1+ed25519.SignatureSize+ed25519.PublicKeySize {
		return "", nil, errors.New("invalid signature envelope length")
	}
	if envelope[0] != SchemeED25519 {
		return "", nil, fmt.Errorf("unsupported signature scheme 0x%02x", envelope[0])
	}
	pub := ed25519.PublicKey(envelope[1+ed25519.SignatureSize:])
	return AddressFromPublicKey(pub), pub, nil
}

// VerifyPersonalMessage checks a personal-message signature envelope and
// returns the signing address on success.
func VerifyPersonalMessage(envelope, message []byte) (interfaces.Address, error) {
	addr, pub, err := ParseSignature(envelope)
	if err != nil {
		return "", err
	}
	sig := envelope[1 : 1+ed25519.SignatureSize]
	msg := append(append([]byte{}, intentPersonalMessage...), message...)
	if !ed25519.Verify(pub, msg, sig) {
		return "", errors.New("invalid personal message signature")
	}
	return addr, nil
}

// VerifyTransaction checks a transaction signature envelope and returns
// the signing address on success.
func VerifyTransaction(envelope, txBytes []byte) (interfaces.Address, error) {
	addr, pub, err := ParseSignature(envelope)
	if err != nil {
		return "", err
	}
	sig := envelope[1 : 1+ed25519.SignatureSize]
	msg := append(append([]byte{}, intentTransaction...), txBytes...)
	if !ed25519.Verify(pub, msg, sig) {
		return "", errors.New("invalid transaction signature")
	}
	return addr, nil
}
