package chain

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/xhare/sealshare/interfaces"
	"github.com/xhare/sealshare/wallet"
)

// MockLedger is an in-memory interfaces.ChainClient that executes the
// allowlist move package semantics. It exists for tests; the production
// adapter is Client.
type MockLedger struct {
	mu        sync.Mutex
	packageID string
	objects   map[interfaces.ObjectID]*interfaces.ObjectData
	children  map[interfaces.ObjectID][]string
	seq       uint64

	// ReportCreatedAsMutated makes execution effects list newly created
	// objects under Mutated with an empty Created list, mimicking ledgers
	// whose effect shape diverges from the actual mutation.
	ReportCreatedAsMutated bool

	// OmitCapFromEffects drops capability objects from execution effects
	// while still creating them, mimicking incomplete effect lists.
	OmitCapFromEffects bool
}

// NewMockLedger creates a mock ledger hosting the allowlist package at the
// given package ID.
func NewMockLedger(packageID string) *MockLedger {
	return &MockLedger{
		packageID: packageID,
		objects:   make(map[interfaces.ObjectID]*interfaces.ObjectData),
		children:  make(map[interfaces.ObjectID][]string),
	}
}

func (m *MockLedger) nextObjectID() interfaces.ObjectID {
	m.seq++
	var seed [8]byte
	binary.BigEndian.PutUint64(seed[:], m.seq)
	digest := blake2b.Sum256(seed[:])
	id, _ := interfaces.NewObjectIDFromBytes(digest[:])
	return id
}

// GetObject reads one object by ID.
func (m *MockLedger) GetObject(_ context.Context, id interfaces.ObjectID) (*interfaces.ObjectData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[id]
	if !ok {
		return nil, fmt.Errorf("object %s not found", id)
	}
	copied := *obj
	return &copied, nil
}

// GetOwnedObjects lists objects owned by an address filtered by type.
func (m *MockLedger) GetOwnedObjects(_ context.Context, owner interfaces.Address, structType string) ([]interfaces.ObjectData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []interfaces.ObjectData
	for _, obj := range m.objects {
		if obj.Owner.Shared || !obj.Owner.AddressOwner.Equal(owner) {
			continue
		}
		if obj.Type != structType {
			continue
		}
		out = append(out, *obj)
	}
	return out, nil
}

// GetDynamicFields lists the dynamic child fields of a parent object.
func (m *MockLedger) GetDynamicFields(_ context.Context, parent interfaces.ObjectID) ([]interfaces.DynamicField, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := m.children[parent]
	out := make([]interfaces.DynamicField, 0, len(names))
	for _, name := range names {
		out = append(out, interfaces.DynamicField{Name: name})
	}
	return out, nil
}

// GetBalance reports a fixed balance for any address.
func (m *MockLedger) GetBalance(context.Context, interfaces.Address, string) (uint64, error) {
	return 1_000_000_000, nil
}

// ExecuteTransaction decodes and applies the transaction's move calls.
// The sender is recovered from the signature envelope.
func (m *MockLedger) ExecuteTransaction(_ context.Context, txBytes []byte, signature []byte) (*interfaces.TransactionEffects, error) {
	sender, _, err := wallet.ParseSignature(signature)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction signature: %w", err)
	}
	tx, err := DecodeTransaction(txBytes)
	if err != nil {
		return nil, err
	}
	if tx.gasBudget == 0 {
		return nil, errors.New("transaction has no gas budget")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	effects := &interfaces.TransactionEffects{Status: "success"}
	for _, call := range tx.Calls() {
		pkg, module, function, err := call.SplitTarget()
		if err != nil {
			return nil, err
		}
		if pkg != m.packageID || module != "allowlist" {
			// Foreign packages (e.g. the blob store's own registration
			// calls) execute as no-ops; only their digest matters.
			continue
		}
		if err := m.applyAllowlistCall(function, call.Args, sender, effects); err != nil {
			return nil, err
		}
	}

	m.seq++
	effects.Digest = interfaces.TxDigest(fmt.Sprintf("mock-tx-%d", m.seq))
	if m.OmitCapFromEffects {
		kept := effects.Created[:0]
		for _, ref := range effects.Created {
			if !strings.HasSuffix(ref.Type, "::Cap") {
				kept = append(kept, ref)
			}
		}
		effects.Created = kept
	}
	if m.ReportCreatedAsMutated {
		effects.Mutated = append(effects.Mutated, effects.Created...)
		effects.Created = nil
	}
	return effects, nil
}

func (m *MockLedger) applyAllowlistCall(function string, args []Arg, sender interfaces.Address, effects *interfaces.TransactionEffects) error {
	switch function {
	case "create_allowlist_entry":
		if len(args) != 1 {
			return errors.New("create_allowlist_entry expects 1 argument")
		}
		policyID := m.nextObjectID()
		capID := m.nextObjectID()
		m.objects[policyID] = &interfaces.ObjectData{
			ID:      policyID,
			Type:    m.packageID + "::allowlist::Allowlist",
			Version: 1,
			Owner:   interfaces.ObjectOwner{Shared: true},
			Fields:  map[string]any{"name": args[0].Value, "list": []any{}},
		}
		m.objects[capID] = &interfaces.ObjectData{
			ID:      capID,
			Type:    m.packageID + "::allowlist::Cap",
			Version: 1,
			Owner:   interfaces.ObjectOwner{AddressOwner: sender},
			Fields:  map[string]any{"allowlist_id": policyID.String()},
		}
		effects.Created = append(effects.Created,
			interfaces.ObjectRef{ID: policyID, Type: m.objects[policyID].Type, Owner: m.objects[policyID].Owner},
			interfaces.ObjectRef{ID: capID, Type: m.objects[capID].Type, Owner: m.objects[capID].Owner},
		)
		return nil

	case "add", "remove":
		policy, err := m.authorizedPolicy(args, sender)
		if err != nil {
			return err
		}
		addr, err := interfaces.NewAddress(args[2].Value)
		if err != nil {
			return err
		}
		members, _ := policy.Fields["list"].([]any)
		if function == "add" {
			members = append(members, addr.String())
		} else {
			filtered := members[:0]
			for _, member := range members {
				if s, ok := member.(string); ok && s != addr.String() {
					filtered = append(filtered, member)
				}
			}
			members = filtered
		}
		policy.Fields["list"] = members
		policy.Version++
		effects.Mutated = append(effects.Mutated, interfaces.ObjectRef{ID: policy.ID, Type: policy.Type, Owner: policy.Owner})
		return nil

	case "publish":
		policy, err := m.authorizedPolicy(args, sender)
		if err != nil {
			return err
		}
		m.children[policy.ID] = append(m.children[policy.ID], args[2].Value)
		policy.Version++
		effects.Mutated = append(effects.Mutated, interfaces.ObjectRef{ID: policy.ID, Type: policy.Type, Owner: policy.Owner})
		return nil

	default:
		return fmt.Errorf("unknown allowlist function %q", function)
	}
}

// authorizedPolicy resolves (allowlist, cap, value) call arguments and
// verifies the cap belongs to the sender and matches the allowlist.
func (m *MockLedger) authorizedPolicy(args []Arg, sender interfaces.Address) (*interfaces.ObjectData, error) {
	if len(args) != 3 {
		return nil, errors.New("allowlist mutation expects 3 arguments")
	}
	policyID, err := DecodeObjectArg(args[0])
	if err != nil {
		return nil, err
	}
	capID, err := DecodeObjectArg(args[1])
	if err != nil {
		return nil, err
	}
	policy, ok := m.objects[policyID]
	if !ok {
		return nil, fmt.Errorf("allowlist %s not found", policyID)
	}
	capability, ok := m.objects[capID]
	if !ok || !capability.Owner.AddressOwner.Equal(sender) {
		return nil, errors.New("capability not owned by sender")
	}
	if linked, _ := capability.Fields["allowlist_id"].(string); linked != policyID.String() {
		return nil, errors.New("capability does not match allowlist")
	}
	return policy, nil
}
