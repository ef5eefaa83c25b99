package policy

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xhare/sealshare/chain"
	"github.com/xhare/sealshare/interfaces"
	"github.com/xhare/sealshare/wallet"
)

const testPackageID = "0x00a5113f9eefc2571cb2f3c5af5a1a2bbcbc91299d6b6357bac60b0e3351bf51"

func testClient(t *testing.T) (*Client, *chain.MockLedger, *wallet.Signer) {
	t.Helper()
	ledger := chain.NewMockLedger(testPackageID)
	signer, err := wallet.NewSigner()
	require.NoError(t, err)
	return NewClient(ledger, signer, testPackageID, slog.Default()), ledger, signer
}

func TestCreatePolicy(t *testing.T) {
	client, _, _ := testClient(t)

	policyID, capID, err := client.CreatePolicy(context.Background(), "friends")
	require.NoError(t, err)

	policy, err := client.GetPolicy(context.Background(), policyID)
	require.NoError(t, err)
	require.Equal(t, "friends", policy.Name)
	require.Empty(t, policy.Members)

	// Creation also minted a capability for the creator, and the
	// returned ID is that capability.
	capability, err := client.FindCapability(context.Background(), policyID)
	require.NoError(t, err)
	require.True(t, capability.PolicyID.Equal(policyID))
	require.True(t, capability.ID.Equal(capID))
}

func TestCreatePolicyWithoutCapabilityFails(t *testing.T) {
	client, ledger, _ := testClient(t)
	ledger.OmitCapFromEffects = true

	_, _, err := client.CreatePolicy(context.Background(), "orphan")
	require.ErrorIs(t, err, interfaces.ErrPolicyCreationFailed)
}

func TestCreatePolicyEffectsFallback(t *testing.T) {
	client, ledger, _ := testClient(t)
	ledger.ReportCreatedAsMutated = true

	policyID, _, err := client.CreatePolicy(context.Background(), "fallback")
	require.NoError(t, err)

	policy, err := client.GetPolicy(context.Background(), policyID)
	require.NoError(t, err)
	require.Equal(t, "fallback", policy.Name)
}

func TestAddRemoveMember(t *testing.T) {
	client, _, _ := testClient(t)
	ctx := context.Background()

	policyID, _, err := client.CreatePolicy(ctx, "team")
	require.NoError(t, err)

	member, err := wallet.NewSigner()
	require.NoError(t, err)

	require.NoError(t, client.AddMember(ctx, policyID, member.Address().String()))
	policy, err := client.GetPolicy(ctx, policyID)
	require.NoError(t, err)
	require.True(t, policy.HasMember(member.Address()))

	require.NoError(t, client.RemoveMember(ctx, policyID, member.Address().String()))
	policy, err = client.GetPolicy(ctx, policyID)
	require.NoError(t, err)
	require.False(t, policy.HasMember(member.Address()))
}

func TestAddMemberRejectsInvalidAddressLocally(t *testing.T) {
	client, _, _ := testClient(t)

	policyID, _, err := client.CreatePolicy(context.Background(), "strict")
	require.NoError(t, err)

	for _, bad := range []string{"", "not-an-address", "0x12345", "0xZZa5113f9eefc2571cb2f3c5af5a1a2bbcbc91299d6b6357bac60b0e3351bf51"} {
		err := client.AddMember(context.Background(), policyID, bad)
		require.ErrorIs(t, err, interfaces.ErrInvalidAddress, "address %q", bad)
	}
}

func TestMutationWithoutCapability(t *testing.T) {
	client, ledger, _ := testClient(t)
	ctx := context.Background()

	policyID, _, err := client.CreatePolicy(ctx, "theirs")
	require.NoError(t, err)

	// A different wallet holds no capability for this policy.
	stranger, err := wallet.NewSigner()
	require.NoError(t, err)
	strangerClient := NewClient(ledger, stranger, testPackageID, slog.Default())

	err = strangerClient.AddMember(ctx, policyID, stranger.Address().String())
	require.ErrorIs(t, err, interfaces.ErrCapabilityNotFound)
}

func TestPublishBlobAndList(t *testing.T) {
	client, _, _ := testClient(t)
	ctx := context.Background()

	first, _, err := client.CreatePolicy(ctx, "alpha")
	require.NoError(t, err)
	second, _, err := client.CreatePolicy(ctx, "beta")
	require.NoError(t, err)

	blobID := interfaces.ComputeBlobID([]byte("payload"))
	require.NoError(t, client.PublishBlob(ctx, first, blobID))

	policies, err := client.ListOwnedPolicies(ctx)
	require.NoError(t, err)
	require.Len(t, policies, 2)

	byID := map[interfaces.ObjectID]interfaces.PolicyObject{}
	for _, p := range policies {
		byID[p.ID] = p
	}
	require.Equal(t, []interfaces.BlobID{blobID}, byID[first].BlobRefs)
	require.Empty(t, byID[second].BlobRefs)
}

func TestApprovalTransaction(t *testing.T) {
	client, _, _ := testClient(t)

	policyID, _, err := client.CreatePolicy(context.Background(), "approve")
	require.NoError(t, err)

	idHex := policyID.String()[2:] + "0102030405"
	txBytes, err := client.ApprovalTransaction(policyID, []string{idHex})
	require.NoError(t, err)

	tx, err := chain.DecodeTransaction(txBytes)
	require.NoError(t, err)
	require.Len(t, tx.Calls(), 1)
	_, module, function, err := tx.Calls()[0].SplitTarget()
	require.NoError(t, err)
	require.Equal(t, "allowlist", module)
	require.Equal(t, "seal_approve", function)

	_, err = client.ApprovalTransaction(policyID, nil)
	require.Error(t, err)
	_, err = client.ApprovalTransaction(policyID, []string{"zz"})
	require.Error(t, err)
}
