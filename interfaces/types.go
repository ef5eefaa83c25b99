// Package interfaces defines the core types and component contracts of the
// sealshare protocol. It carries no implementation and no dependencies so
// that every other package can share it.
package interfaces

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// addressPattern is the only accepted wallet/object address form. Anything
// else is rejected locally, before a network call is made.
var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40,66}$`)

// Address is a validated hex ledger address (0x followed by 40-66 hex chars).
type Address string

// NewAddress validates and normalizes an address string.
func NewAddress(addr string) (Address, error) {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty address", ErrInvalidAddress)
	}
	if !addressPattern.MatchString(trimmed) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, trimmed)
	}
	return Address(strings.ToLower(trimmed)), nil
}

// String returns the 0x-prefixed hex form.
func (a Address) String() string {
	return string(a)
}

// Equal compares two addresses case-insensitively.
func (a Address) Equal(other Address) bool {
	return strings.EqualFold(string(a), string(other))
}

// Validate re-checks the address format.
func (a Address) Validate() error {
	_, err := NewAddress(string(a))
	return err
}

// ObjectID is a 32-byte on-chain object identifier.
type ObjectID [32]byte

// NewObjectIDFromBytes creates an object ID from raw bytes.
func NewObjectIDFromBytes(source []byte) (ObjectID, error) {
	if len(source) != 32 {
		return ObjectID{}, errors.New("invalid object ID length: must be 32 bytes")
	}
	var id ObjectID
	copy(id[:], source)
	return id, nil
}

// NewObjectIDFromHex creates an object ID from a 0x-prefixed hex string.
func NewObjectIDFromHex(source string) (ObjectID, error) {
	clean := strings.TrimPrefix(source, "0x")
	if len(clean) != 64 {
		return ObjectID{}, errors.New("invalid object ID length: hex string must be 64 characters")
	}
	idBytes, err := hex.DecodeString(clean)
	if err != nil {
		return ObjectID{}, fmt.Errorf("invalid hex format: %w", err)
	}
	return NewObjectIDFromBytes(idBytes)
}

// String returns the 0x-prefixed hex representation.
func (id ObjectID) String() string {
	return "0x" + hex.EncodeToString(id[:])
}

// Bytes returns the raw 32-byte identifier.
func (id ObjectID) Bytes() []byte {
	return id[:]
}

// Equal compares two object IDs.
func (id ObjectID) Equal(other ObjectID) bool {
	return bytes.Equal(id[:], other[:])
}

// Address returns the object ID in address form.
func (id ObjectID) Address() Address {
	return Address(id.String())
}

// MarshalJSON writes the 0x-prefixed hex form.
func (id ObjectID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.String() + `"`), nil
}

// UnmarshalJSON reads the 0x-prefixed hex form.
func (id *ObjectID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := NewObjectIDFromHex(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// BlobID is a content-derived blob store identifier: base64url of the
// blake2b-256 digest of the blob bytes, without padding.
type BlobID string

// ComputeBlobID derives the blob ID from blob content.
func ComputeBlobID(data []byte) BlobID {
	digest := blake2b.Sum256(data)
	return BlobID(base64.RawURLEncoding.EncodeToString(digest[:]))
}

// String returns the blob ID as a string.
func (id BlobID) String() string {
	return string(id)
}

// Validate checks that the ID decodes to a 32-byte digest.
func (id BlobID) Validate() error {
	raw, err := base64.RawURLEncoding.DecodeString(string(id))
	if err != nil {
		return fmt.Errorf("invalid blob ID encoding: %w", err)
	}
	if len(raw) != 32 {
		return errors.New("invalid blob ID length: must decode to 32 bytes")
	}
	return nil
}

// TxDigest identifies an executed ledger transaction.
type TxDigest string

// String returns the digest as a string.
func (d TxDigest) String() string {
	return string(d)
}

// PolicyObject is the on-chain access-policy record (an allowlist).
type PolicyObject struct {
	ID      ObjectID
	Name    string
	Members []Address
	// BlobRefs holds the blob IDs published against this policy, stored
	// on chain as dynamic child fields of the policy object.
	BlobRefs []BlobID
}

// HasMember reports whether addr is in the policy's member set.
func (p *PolicyObject) HasMember(addr Address) bool {
	for _, m := range p.Members {
		if m.Equal(addr) {
			return true
		}
	}
	return false
}

// Capability proves mutation rights over exactly one PolicyObject. It is
// owned exclusively by the signer of the transaction that created it.
type Capability struct {
	ID       ObjectID
	PolicyID ObjectID
}

// BlobRecord describes one committed blob store unit. Retention is
// time-boxed: once Epochs elapse the blob may become unavailable, and no
// renewal mechanism exists in this design.
type BlobRecord struct {
	BlobID    BlobID
	Epochs    int
	Deletable bool
	Owner     Address
}
