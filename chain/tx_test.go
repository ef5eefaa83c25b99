package chain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xhare/sealshare/interfaces"
	"github.com/xhare/sealshare/wallet"
)

func TestTransactionBuildDecodeRoundTrip(t *testing.T) {
	id, err := interfaces.NewObjectIDFromHex("0x1100a5113f9eefc2571cb2f3c5af5a1a2bbcbc91299d6b6357bac60b0e3351bf")
	require.NoError(t, err)

	tx := NewTransaction().
		MoveCall("0xabc::allowlist::add", Object(id), PureString("value")).
		SetGasBudget(55)
	txBytes, err := tx.Build(false)
	require.NoError(t, err)

	decoded, err := DecodeTransaction(txBytes)
	require.NoError(t, err)
	require.Len(t, decoded.Calls(), 1)
	require.Equal(t, "0xabc::allowlist::add", decoded.Calls()[0].Target)
	require.Equal(t, uint64(55), decoded.gasBudget)

	gotID, err := DecodeObjectArg(decoded.Calls()[0].Args[0])
	require.NoError(t, err)
	require.True(t, gotID.Equal(id))
}

func TestBuildOnlyKindOmitsGas(t *testing.T) {
	tx := NewTransaction().MoveCall("0xabc::allowlist::seal_approve", PureBytes([]byte{1, 2, 3}))
	txBytes, err := tx.Build(true)
	require.NoError(t, err)

	decoded, err := DecodeTransaction(txBytes)
	require.NoError(t, err)
	require.Zero(t, decoded.gasBudget)

	raw, err := DecodeBytesArg(decoded.Calls()[0].Args[0])
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, raw)
}

func TestBuildEmptyTransaction(t *testing.T) {
	_, err := NewTransaction().Build(false)
	require.Error(t, err)
}

func TestDefaultGasBudgetApplied(t *testing.T) {
	txBytes, err := NewTransaction().MoveCall("0xabc::allowlist::add").Build(false)
	require.NoError(t, err)
	decoded, err := DecodeTransaction(txBytes)
	require.NoError(t, err)
	require.Equal(t, uint64(DefaultGasBudget), decoded.gasBudget)
}

func TestMockLedgerRejectsApprovalProofExecution(t *testing.T) {
	ledger := NewMockLedger("0x00a5113f9eefc2571cb2f3c5af5a1a2bbcbc91299d6b6357bac60b0e3351bf51")
	signer, err := wallet.NewSigner()
	require.NoError(t, err)

	// Approval proofs carry no gas budget and must never execute.
	txBytes, err := NewTransaction().
		MoveCall("0xother::blob::register", PureString("x")).
		Build(true)
	require.NoError(t, err)
	sig, err := signer.SignTransaction(context.Background(), txBytes)
	require.NoError(t, err)

	_, err = ledger.ExecuteTransaction(context.Background(), txBytes, sig)
	require.Error(t, err)
}
