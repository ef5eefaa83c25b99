// Package policy drives the on-chain allowlist package: shared policy
// objects listing member addresses, owned capability tokens authorizing
// mutation, and published blob references as dynamic fields.
package policy

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xhare/sealshare/chain"
	"github.com/xhare/sealshare/interfaces"
)

// Client mutates and reads policy objects on behalf of one wallet.
type Client struct {
	chain     interfaces.ChainClient
	signer    interfaces.WalletSigner
	packageID string
	log       *slog.Logger
}

// NewClient builds a policy client for the allowlist package deployed at
// packageID.
func NewClient(chainClient interfaces.ChainClient, signer interfaces.WalletSigner, packageID string, log *slog.Logger) *Client {
	return &Client{chain: chainClient, signer: signer, packageID: packageID, log: log}
}

// PackageID returns the allowlist package address.
func (c *Client) PackageID() string {
	return c.packageID
}

func (c *Client) target(function string) string {
	return c.packageID + "::allowlist::" + function
}

func (c *Client) policyType() string {
	return c.packageID + "::allowlist::Allowlist"
}

func (c *Client) capType() string {
	return c.packageID + "::allowlist::Cap"
}

// execute signs and submits a transaction built by this client.
func (c *Client) execute(ctx context.Context, tx *chain.Transaction) (*interfaces.TransactionEffects, error) {
	txBytes, err := tx.Build(false)
	if err != nil {
		return nil, err
	}
	signature, err := c.signer.SignTransaction(ctx, txBytes)
	if err != nil {
		return nil, fmt.Errorf("wallet declined transaction: %w", err)
	}
	return c.chain.ExecuteTransaction(ctx, txBytes, signature)
}

// CreatePolicy creates a named policy and returns the shared policy
// object ID and the capability token minted to the creating wallet.
// Creation is only a success once both appear in the effects: a policy
// without its capability can never be mutated. Some ledgers misreport
// freshly created shared objects under the mutated effects list, so both
// lists are scanned before the creation is declared failed.
func (c *Client) CreatePolicy(ctx context.Context, name string) (interfaces.ObjectID, interfaces.ObjectID, error) {
	tx := chain.NewTransaction().MoveCall(c.target("create_allowlist_entry"), chain.PureString(name))
	effects, err := c.execute(ctx, tx)
	if err != nil {
		return interfaces.ObjectID{}, interfaces.ObjectID{}, fmt.Errorf("policy creation failed: %w", err)
	}

	var policyID, capID interfaces.ObjectID
	var havePolicy, haveCap bool
	for _, refs := range [][]interfaces.ObjectRef{effects.Created, effects.Mutated} {
		for _, ref := range refs {
			switch {
			case !havePolicy && ref.Owner.Shared && strings.HasSuffix(ref.Type, "::Allowlist"):
				policyID, havePolicy = ref.ID, true
			case !haveCap && strings.HasSuffix(ref.Type, "::Cap"):
				capID, haveCap = ref.ID, true
			}
		}
	}
	if !havePolicy || !haveCap {
		return interfaces.ObjectID{}, interfaces.ObjectID{}, interfaces.ErrPolicyCreationFailed
	}
	c.log.Info("created policy", "policy", policyID, "cap", capID, "name", name, "tx", effects.Digest)
	return policyID, capID, nil
}

// FindCapability scans the wallet's owned capability tokens for one bound
// to the policy.
func (c *Client) FindCapability(ctx context.Context, policyID interfaces.ObjectID) (*interfaces.Capability, error) {
	owned, err := c.chain.GetOwnedObjects(ctx, c.signer.Address(), c.capType())
	if err != nil {
		return nil, fmt.Errorf("could not list capabilities: %w", err)
	}
	for _, obj := range owned {
		linked, _ := obj.Fields["allowlist_id"].(string)
		if linked == policyID.String() {
			return &interfaces.Capability{ID: obj.ID, PolicyID: policyID}, nil
		}
	}
	return nil, interfaces.ErrCapabilityNotFound
}

// mutate runs one capability-gated allowlist call with a trailing value
// argument.
func (c *Client) mutate(ctx context.Context, function string, policyID interfaces.ObjectID, value chain.Arg) error {
	capability, err := c.FindCapability(ctx, policyID)
	if err != nil {
		return err
	}
	tx := chain.NewTransaction().MoveCall(c.target(function),
		chain.Object(policyID), chain.Object(capability.ID), value)
	effects, err := c.execute(ctx, tx)
	if err != nil {
		return fmt.Errorf("allowlist %s failed: %w", function, err)
	}
	c.log.Info("policy updated", "policy", policyID, "op", function, "tx", effects.Digest)
	return nil
}

// AddMember grants the address access to everything published under the
// policy. The address is validated locally first; an invalid one is
// rejected without any network traffic.
func (c *Client) AddMember(ctx context.Context, policyID interfaces.ObjectID, member string) error {
	addr, err := interfaces.NewAddress(member)
	if err != nil {
		return err
	}
	return c.mutate(ctx, "add", policyID, chain.PureAddress(addr))
}

// RemoveMember revokes the address from the policy.
func (c *Client) RemoveMember(ctx context.Context, policyID interfaces.ObjectID, member string) error {
	addr, err := interfaces.NewAddress(member)
	if err != nil {
		return err
	}
	return c.mutate(ctx, "remove", policyID, chain.PureAddress(addr))
}

// PublishBlob attaches a committed blob ID to the policy as a dynamic
// field, making it decryptable by the policy's members.
func (c *Client) PublishBlob(ctx context.Context, policyID interfaces.ObjectID, blobID interfaces.BlobID) error {
	if err := blobID.Validate(); err != nil {
		return err
	}
	return c.mutate(ctx, "publish", policyID, chain.PureString(string(blobID)))
}

// GetPolicy reads a policy object with its member list and published blob
// references.
func (c *Client) GetPolicy(ctx context.Context, policyID interfaces.ObjectID) (*interfaces.PolicyObject, error) {
	obj, err := c.chain.GetObject(ctx, policyID)
	if err != nil {
		return nil, fmt.Errorf("could not read policy %s: %w", policyID, err)
	}
	if obj.Type != c.policyType() {
		return nil, fmt.Errorf("object %s is %q, not a policy", policyID, obj.Type)
	}

	out := &interfaces.PolicyObject{ID: policyID}
	out.Name, _ = obj.Fields["name"].(string)
	if rawList, ok := obj.Fields["list"].([]any); ok {
		for _, entry := range rawList {
			if s, ok := entry.(string); ok {
				if addr, err := interfaces.NewAddress(s); err == nil {
					out.Members = append(out.Members, addr)
				}
			}
		}
	}

	fields, err := c.chain.GetDynamicFields(ctx, policyID)
	if err != nil {
		return nil, fmt.Errorf("could not read policy blobs: %w", err)
	}
	for _, field := range fields {
		out.BlobRefs = append(out.BlobRefs, interfaces.BlobID(field.Name))
	}
	return out, nil
}

// ListOwnedPolicies resolves every capability the wallet holds to its
// policy object.
func (c *Client) ListOwnedPolicies(ctx context.Context) ([]interfaces.PolicyObject, error) {
	owned, err := c.chain.GetOwnedObjects(ctx, c.signer.Address(), c.capType())
	if err != nil {
		return nil, fmt.Errorf("could not list capabilities: %w", err)
	}

	out := make([]interfaces.PolicyObject, 0, len(owned))
	for _, capObj := range owned {
		linked, _ := capObj.Fields["allowlist_id"].(string)
		policyID, err := interfaces.NewObjectIDFromHex(linked)
		if err != nil {
			c.log.Warn("capability with malformed policy link", "cap", capObj.ID, "link", linked)
			continue
		}
		policy, err := c.GetPolicy(ctx, policyID)
		if err != nil {
			c.log.Warn("capability points at unreadable policy", "cap", capObj.ID, "policy", policyID, "err", err)
			continue
		}
		out = append(out, *policy)
	}
	return out, nil
}

// ApprovalTransaction builds the unsigned approval proof for a set of
// envelope identifiers under one policy: one seal_approve call per
// identifier. The result carries no gas budget and cannot be executed.
func (c *Client) ApprovalTransaction(policyID interfaces.ObjectID, idsHex []string) ([]byte, error) {
	if len(idsHex) == 0 {
		return nil, fmt.Errorf("approval transaction needs at least one identifier")
	}
	tx := chain.NewTransaction()
	for _, idHex := range idsHex {
		raw, err := decodeHexID(idHex)
		if err != nil {
			return nil, err
		}
		tx.MoveCall(c.target("seal_approve"), chain.PureBytes(raw), chain.Object(policyID))
	}
	return tx.Build(true)
}

// decodeHexID parses an envelope identifier in its wire hex form.
func decodeHexID(idHex string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(idHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid envelope identifier %q: %w", idHex, err)
	}
	if len(raw) < 32 {
		return nil, fmt.Errorf("envelope identifier %q shorter than a policy id", idHex)
	}
	return raw, nil
}
