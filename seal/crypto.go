// Package seal implements the threshold encryption engine: envelopes bind
// a ciphertext to an on-chain policy identifier, and the data key is
// Shamir-split across the configured key servers.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
)

// EncryptToServer wraps a key share for one key server using ECIES: ECDH
// against the server's P-256 key, SHA-256 key derivation, AES-GCM. A fresh
// ephemeral key is generated per share.
//
// Wire format: [ephemeral key length (2 bytes)][ephemeral key][iv][ciphertext].
func EncryptToServer(serverKey *ecdsa.PublicKey, share []byte) ([]byte, error) {
	ephemeralKey, err := ecdsa.GenerateKey(serverKey.Curve, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}

	x, _ := serverKey.Curve.ScalarMult(serverKey.X, serverKey.Y, ephemeralKey.D.Bytes())
	sharedSecret := sha256.Sum256(x.Bytes())

	iv := make([]byte, 12)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	aesBlock, err := aes.NewCipher(sharedSecret[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(aesBlock)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	ciphertext := aesGCM.Seal(nil, iv, share, nil)

	ephemeralPub := elliptic.Marshal(ephemeralKey.Curve, ephemeralKey.X, ephemeralKey.Y)

	result := make([]byte, 2+len(ephemeralPub)+len(iv)+len(ciphertext))
	binary.BigEndian.PutUint16(result[0:2], uint16(len(ephemeralPub)))
	copy(result[2:], ephemeralPub)
	copy(result[2+len(ephemeralPub):], iv)
	copy(result[2+len(ephemeralPub)+len(iv):], ciphertext)
	return result, nil
}

// DecryptWithServerKey unwraps a share produced by EncryptToServer using
// the server's private key.
func DecryptWithServerKey(serverKey *ecdsa.PrivateKey, wrapped []byte) ([]byte, error) {
	if len(wrapped) < 2 {
		return nil, errors.New("wrapped share too short")
	}
	ephemeralLen := binary.BigEndian.Uint16(wrapped[0:2])
	if len(wrapped) < int(2+ephemeralLen+12) {
		return nil, errors.New("wrapped share has invalid format")
	}

	ephemeralBytes := wrapped[2 : 2+ephemeralLen]
	x, y := elliptic.Unmarshal(serverKey.Curve, ephemeralBytes)
	if x == nil {
		return nil, errors.New("failed to unmarshal ephemeral public key")
	}

	sx, _ := serverKey.Curve.ScalarMult(x, y, serverKey.D.Bytes())
	sharedSecret := sha256.Sum256(sx.Bytes())

	iv := wrapped[2+ephemeralLen : 2+ephemeralLen+12]
	ciphertext := wrapped[2+ephemeralLen+12:]

	aesBlock, err := aes.NewCipher(sharedSecret[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(aesBlock)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	share, err := aesGCM.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap share: %w", err)
	}
	return share, nil
}

// GenerateServerKey creates a fresh P-256 key server key pair.
func GenerateServerKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

// MarshalPublicKeyPEM encodes a server public key to PEM for transport.
func MarshalPublicKeyPEM(pub *ecdsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// ParsePublicKeyPEM decodes a PEM server public key.
func ParsePublicKeyPEM(pemBytes []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("failed to decode public key PEM")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	pub, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("not an ECDSA public key")
	}
	return pub, nil
}

// MarshalPrivateKeyPEM encodes a server private key to PEM.
func MarshalPrivateKeyPEM(priv *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}

// ParsePrivateKeyPEM decodes a PEM server private key.
func ParsePrivateKeyPEM(pemBytes []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("failed to decode private key PEM")
	}
	priv, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return priv, nil
}

// wipeBytes zeroes sensitive material once it is no longer needed.
func wipeBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
