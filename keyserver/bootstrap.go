package keyserver

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/hashicorp/vault/shamir"
	"github.com/xhare/sealshare/seal"
)

// SplitServerKey splits a server's private key into operator shares for
// offline backup. Any threshold of them restores the key; fewer reveal
// nothing.
func SplitServerKey(key *ecdsa.PrivateKey, parts, threshold int) ([][]byte, error) {
	if threshold < 2 || threshold > parts {
		return nil, fmt.Errorf("invalid split: %d of %d", threshold, parts)
	}
	pemBytes, err := seal.MarshalPrivateKeyPEM(key)
	if err != nil {
		return nil, err
	}
	shares, err := shamir.Split(pemBytes, parts, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split server key: %w", err)
	}
	return shares, nil
}

// RecoverServerKey reconstructs a server private key from operator shares.
func RecoverServerKey(shares [][]byte) (*ecdsa.PrivateKey, error) {
	pemBytes, err := shamir.Combine(shares)
	if err != nil {
		return nil, fmt.Errorf("failed to combine server key shares: %w", err)
	}
	return seal.ParsePrivateKeyPEM(pemBytes)
}
