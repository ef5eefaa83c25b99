package seal

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/xhare/sealshare/interfaces"
)

const (
	envelopeVersion byte = 0x01

	// IDNonceSize is the fresh random suffix appended to the policy ID to
	// form the envelope's threshold identifier.
	IDNonceSize = 5

	gcmNonceSize = 12
)

// WrappedShare is one key share encrypted to a single key server.
type WrappedShare struct {
	ServerID interfaces.ObjectID
	Share    []byte
}

// Envelope is the self-describing encrypted object. Its header can be
// parsed without any key material to recover the threshold identifier.
type Envelope struct {
	// ID is the threshold identifier: policy object ID bytes followed by
	// a fresh nonce. Unique per encryption with overwhelming probability.
	ID []byte

	// Threshold is the number of shares required to recover the data key.
	Threshold int

	// Shares holds the data key shares, one wrapped per key server.
	Shares []WrappedShare

	// Nonce and Ciphertext are the AES-256-GCM payload; ID is the AAD.
	Nonce      [gcmNonceSize]byte
	Ciphertext []byte
}

// IDHex returns the identifier in the hex form used on the wire and inside
// approval transactions.
func (e *Envelope) IDHex() string {
	return hex.EncodeToString(e.ID)
}

// PolicyID recovers the policy object ID prefix of the identifier.
func (e *Envelope) PolicyID() (interfaces.ObjectID, error) {
	if len(e.ID) < 32 {
		return interfaces.ObjectID{}, errors.New("envelope id shorter than a policy id")
	}
	return interfaces.NewObjectIDFromBytes(e.ID[:32])
}

// ShareFor returns the wrapped share addressed to the given server.
func (e *Envelope) ShareFor(serverID interfaces.ObjectID) ([]byte, bool) {
	for _, share := range e.Shares {
		if share.ServerID.Equal(serverID) {
			return share.Share, true
		}
	}
	return nil, false
}

// Encode serializes the envelope.
func (e *Envelope) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteByte(envelopeVersion)

	var idLen [2]byte
	binary.BigEndian.PutUint16(idLen[:], uint16(len(e.ID)))
	buf.Write(idLen[:])
	buf.Write(e.ID)

	buf.WriteByte(byte(e.Threshold))
	buf.WriteByte(byte(len(e.Shares)))
	for _, share := range e.Shares {
		buf.Write(share.ServerID.Bytes())
		var shareLen [2]byte
		binary.BigEndian.PutUint16(shareLen[:], uint16(len(share.Share)))
		buf.Write(shareLen[:])
		buf.Write(share.Share)
	}

	buf.Write(e.Nonce[:])
	buf.Write(e.Ciphertext)
	return buf.Bytes()
}

// ParseEnvelope decodes an envelope from raw bytes. It is the only way to
// identify a ciphertext: the ID is recovered from the header.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	r := bytes.NewReader(raw)

	version, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("envelope truncated: %w", err)
	}
	if version != envelopeVersion {
		return nil, fmt.Errorf("unsupported envelope version 0x%02x", version)
	}

	var idLen [2]byte
	if _, err := readFull(r, idLen[:]); err != nil {
		return nil, fmt.Errorf("envelope truncated: %w", err)
	}
	id := make([]byte, binary.BigEndian.Uint16(idLen[:]))
	if _, err := readFull(r, id); err != nil {
		return nil, fmt.Errorf("envelope truncated reading id: %w", err)
	}

	threshold, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("envelope truncated: %w", err)
	}
	shareCount, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("envelope truncated: %w", err)
	}
	if threshold == 0 || shareCount == 0 || threshold > shareCount {
		return nil, fmt.Errorf("invalid envelope header: threshold %d of %d shares", threshold, shareCount)
	}

	shares := make([]WrappedShare, 0, shareCount)
	for i := 0; i < int(shareCount); i++ {
		var serverIDBytes [32]byte
		if _, err := readFull(r, serverIDBytes[:]); err != nil {
			return nil, fmt.Errorf("envelope truncated reading share %d: %w", i, err)
		}
		serverID, _ := interfaces.NewObjectIDFromBytes(serverIDBytes[:])

		var shareLen [2]byte
		if _, err := readFull(r, shareLen[:]); err != nil {
			return nil, fmt.Errorf("envelope truncated reading share %d: %w", i, err)
		}
		share := make([]byte, binary.BigEndian.Uint16(shareLen[:]))
		if _, err := readFull(r, share); err != nil {
			return nil, fmt.Errorf("envelope truncated reading share %d: %w", i, err)
		}
		shares = append(shares, WrappedShare{ServerID: serverID, Share: share})
	}

	var env Envelope
	env.ID = id
	env.Threshold = int(threshold)
	env.Shares = shares
	if _, err := readFull(r, env.Nonce[:]); err != nil {
		return nil, fmt.Errorf("envelope truncated reading nonce: %w", err)
	}
	env.Ciphertext = make([]byte, r.Len())
	if _, err := readFull(r, env.Ciphertext); err != nil {
		return nil, fmt.Errorf("envelope truncated reading ciphertext: %w", err)
	}
	return &env, nil
}

// readFull reads exactly len(buf) bytes from r.
func readFull(r *bytes.Reader, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	n, err := r.Read(buf)
	if err != nil {
		return n, err
	}
	if n != len(buf) {
		return n, errors.New("unexpected EOF")
	}
	return n, nil
}
