// Package chain provides the ledger adapter: a move-call transaction
// builder, a JSON-RPC client, and an in-memory mock ledger for tests.
package chain

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xhare/sealshare/interfaces"
)

// DefaultGasBudget matches the budget the reference deployment uses for
// every policy mutation.
const DefaultGasBudget = 10_000_000

// Arg is one positional move-call argument.
type Arg struct {
	// Kind is "pure" or "object".
	Kind string `json:"kind"`
	// Value is the canonical string encoding: object IDs and addresses in
	// 0x hex, raw byte vectors in base64, strings verbatim.
	Value string `json:"value"`
}

// PureString encodes a string argument.
func PureString(s string) Arg {
	return Arg{Kind: "pure", Value: s}
}

// PureAddress encodes an address argument.
func PureAddress(addr interfaces.Address) Arg {
	return Arg{Kind: "pure", Value: addr.String()}
}

// PureBytes encodes a vector<u8> argument.
func PureBytes(b []byte) Arg {
	return Arg{Kind: "pure", Value: base64.StdEncoding.EncodeToString(b)}
}

// Object references an owned or shared object by ID.
func Object(id interfaces.ObjectID) Arg {
	return Arg{Kind: "object", Value: id.String()}
}

// MoveCall is one call of a programmable transaction.
type MoveCall struct {
	// Target is package::module::function.
	Target string `json:"target"`
	Args   []Arg  `json:"args"`
}

// SplitTarget decomposes the call target into package, module and function.
func (c MoveCall) SplitTarget() (pkg, module, function string, err error) {
	parts := strings.Split(c.Target, "::")
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("invalid move call target %q", c.Target)
	}
	return parts[0], parts[1], parts[2], nil
}

// Transaction accumulates move calls and builds the canonical wire form.
// The wire form is a versioned canonical JSON document; both consumers of
// transaction bytes in this system (the ledger client's mock and the key
// servers) decode this same form.
type Transaction struct {
	calls     []MoveCall
	gasBudget uint64
}

// NewTransaction creates an empty transaction.
func NewTransaction() *Transaction {
	return &Transaction{}
}

// MoveCall appends one call with positional arguments.
func (t *Transaction) MoveCall(target string, args ...Arg) *Transaction {
	t.calls = append(t.calls, MoveCall{Target: target, Args: args})
	return t
}

// SetGasBudget sets an explicit gas budget for execution.
func (t *Transaction) SetGasBudget(budget uint64) *Transaction {
	t.gasBudget = budget
	return t
}

// Calls returns the accumulated move calls.
func (t *Transaction) Calls() []MoveCall {
	return t.calls
}

// wireTransaction is the serialized transaction document.
type wireTransaction struct {
	Version   int        `json:"version"`
	Kind      string     `json:"kind"`
	Calls     []MoveCall `json:"calls"`
	GasBudget uint64     `json:"gas_budget,omitempty"`
}

// Build serializes the transaction. With onlyKind set, the gas budget is
// omitted and the result is suitable only as an authorization proof (the
// approval-transaction bytes handed to key servers), not for execution.
func (t *Transaction) Build(onlyKind bool) ([]byte, error) {
	if len(t.calls) == 0 {
		return nil, errors.New("transaction has no calls")
	}
	doc := wireTransaction{Version: 1, Kind: "programmable", Calls: t.calls}
	if !onlyKind {
		budget := t.gasBudget
		if budget == 0 {
			budget = DefaultGasBudget
		}
		doc.GasBudget = budget
	}
	return json.Marshal(doc)
}

// DecodeTransaction parses transaction bytes back into move calls.
func DecodeTransaction(txBytes []byte) (*Transaction, error) {
	var doc wireTransaction
	if err := json.Unmarshal(txBytes, &doc); err != nil {
		return nil, fmt.Errorf("could not decode transaction: %w", err)
	}
	if doc.Version != 1 || doc.Kind != "programmable" {
		return nil, fmt.Errorf("unsupported transaction form %d/%q", doc.Version, doc.Kind)
	}
	return &Transaction{calls: doc.Calls, gasBudget: doc.GasBudget}, nil
}

// DecodeObjectArg interprets an argument as an object ID.
func DecodeObjectArg(a Arg) (interfaces.ObjectID, error) {
	if a.Kind != "object" {
		return interfaces.ObjectID{}, fmt.Errorf("argument is %q, not an object", a.Kind)
	}
	return interfaces.NewObjectIDFromHex(a.Value)
}

// DecodeBytesArg interprets a pure argument as a byte vector.
func DecodeBytesArg(a Arg) ([]byte, error) {
	if a.Kind != "pure" {
		return nil, fmt.Errorf("argument is %q, not pure", a.Kind)
	}
	if raw, err := base64.StdEncoding.DecodeString(a.Value); err == nil {
		return raw, nil
	}
	return hex.DecodeString(strings.TrimPrefix(a.Value, "0x"))
}
