package keyserver

import (
	"context"
	"crypto/rand"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xhare/sealshare/chain"
	"github.com/xhare/sealshare/interfaces"
	"github.com/xhare/sealshare/policy"
	"github.com/xhare/sealshare/seal"
	"github.com/xhare/sealshare/session"
	"github.com/xhare/sealshare/wallet"
)

const testPackageID = "0x00a5113f9eefc2571cb2f3c5af5a1a2bbcbc91299d6b6357bac60b0e3351bf51"

type testEnv struct {
	ledger   *chain.MockLedger
	owner    *wallet.Signer
	member   *wallet.Signer
	policies *policy.Client
	policyID interfaces.ObjectID
	refs     []interfaces.KeyServerRef
	client   *Client
	engine   *seal.Engine
}

func newTestEnv(t *testing.T, servers int) *testEnv {
	t.Helper()
	log := slog.Default()

	ledger := chain.NewMockLedger(testPackageID)
	owner, err := wallet.NewSigner()
	require.NoError(t, err)
	member, err := wallet.NewSigner()
	require.NoError(t, err)

	policies := policy.NewClient(ledger, owner, testPackageID, log)
	ctx := context.Background()
	policyID, _, err := policies.CreatePolicy(ctx, "integration")
	require.NoError(t, err)
	require.NoError(t, policies.AddMember(ctx, policyID, member.Address().String()))

	refs := make([]interfaces.KeyServerRef, 0, servers)
	for i := 0; i < servers; i++ {
		var raw [32]byte
		_, err := io.ReadFull(rand.Reader, raw[:])
		require.NoError(t, err)
		objectID, err := interfaces.NewObjectIDFromBytes(raw[:])
		require.NoError(t, err)

		key, err := seal.GenerateServerKey()
		require.NoError(t, err)
		handler := NewHandler(objectID, key, testPackageID, ledger, log)
		srv, err := NewServer(&ServerConfig{Log: log}, handler)
		require.NoError(t, err)

		ts := httptest.NewServer(srv.getRouter())
		t.Cleanup(ts.Close)
		refs = append(refs, interfaces.KeyServerRef{ObjectID: objectID, URL: ts.URL})
	}

	client := NewClient(log)
	engine, err := seal.NewEngine(client, refs, 2, log)
	require.NoError(t, err)

	return &testEnv{
		ledger:   ledger,
		owner:    owner,
		member:   member,
		policies: policies,
		policyID: policyID,
		refs:     refs,
		client:   client,
		engine:   engine,
	}
}

func (e *testEnv) credentialFor(t *testing.T, signer *wallet.Signer) *session.Credential {
	t.Helper()
	pkgID, err := interfaces.NewObjectIDFromHex(testPackageID)
	require.NoError(t, err)
	cred, err := session.NewCredential(context.Background(), signer, pkgID, session.DefaultTTL, time.Now())
	require.NoError(t, err)
	return cred
}

func TestFetchKeysEndToEnd(t *testing.T) {
	env := newTestEnv(t, 2)
	ctx := context.Background()
	plaintext := []byte("guarded document")

	envelope, err := env.engine.Encrypt(ctx, plaintext, env.policyID)
	require.NoError(t, err)

	txBytes, err := env.policies.ApprovalTransaction(env.policyID, []string{envelope.IDHex()})
	require.NoError(t, err)
	cred := env.credentialFor(t, env.member)

	shares := make([][]byte, 0, 2)
	for _, ref := range env.refs {
		wrapped, ok := envelope.ShareFor(ref.ObjectID)
		require.True(t, ok)
		released, err := env.client.FetchKeys(ctx, ref, cred, txBytes, 2,
			[]ShareRequest{{IDHex: envelope.IDHex(), Wrapped: wrapped}})
		require.NoError(t, err)
		shares = append(shares, released[envelope.IDHex()])
	}

	recovered, err := seal.Decrypt(envelope, shares)
	require.NoError(t, err)
	require.Equal(t, plaintext, recovered)
}

func TestFetchKeysDeniesNonMember(t *testing.T) {
	env := newTestEnv(t, 2)
	ctx := context.Background()

	envelope, err := env.engine.Encrypt(ctx, []byte("secret"), env.policyID)
	require.NoError(t, err)
	txBytes, err := env.policies.ApprovalTransaction(env.policyID, []string{envelope.IDHex()})
	require.NoError(t, err)

	stranger, err := wallet.NewSigner()
	require.NoError(t, err)
	cred := env.credentialFor(t, stranger)

	wrapped, _ := envelope.ShareFor(env.refs[0].ObjectID)
	_, err = env.client.FetchKeys(ctx, env.refs[0], cred, txBytes, 2,
		[]ShareRequest{{IDHex: envelope.IDHex(), Wrapped: wrapped}})
	require.ErrorIs(t, err, interfaces.ErrNoAccess)
}

func TestFetchKeysDeniesExpiredCredential(t *testing.T) {
	env := newTestEnv(t, 2)
	ctx := context.Background()

	envelope, err := env.engine.Encrypt(ctx, []byte("secret"), env.policyID)
	require.NoError(t, err)
	txBytes, err := env.policies.ApprovalTransaction(env.policyID, []string{envelope.IDHex()})
	require.NoError(t, err)

	pkgID, err := interfaces.NewObjectIDFromHex(testPackageID)
	require.NoError(t, err)
	stale, err := session.NewCredential(ctx, env.member, pkgID, session.DefaultTTL, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	wrapped, _ := envelope.ShareFor(env.refs[0].ObjectID)
	_, err = env.client.FetchKeys(ctx, env.refs[0], stale, txBytes, 2,
		[]ShareRequest{{IDHex: envelope.IDHex(), Wrapped: wrapped}})
	require.ErrorIs(t, err, interfaces.ErrNoAccess)
}

func TestFetchKeysDeniesUnapprovedID(t *testing.T) {
	env := newTestEnv(t, 2)
	ctx := context.Background()

	first, err := env.engine.Encrypt(ctx, []byte("one"), env.policyID)
	require.NoError(t, err)
	second, err := env.engine.Encrypt(ctx, []byte("two"), env.policyID)
	require.NoError(t, err)

	// Approval covers only the first envelope.
	txBytes, err := env.policies.ApprovalTransaction(env.policyID, []string{first.IDHex()})
	require.NoError(t, err)
	cred := env.credentialFor(t, env.member)

	wrapped, _ := second.ShareFor(env.refs[0].ObjectID)
	_, err = env.client.FetchKeys(ctx, env.refs[0], cred, txBytes, 2,
		[]ShareRequest{{IDHex: second.IDHex(), Wrapped: wrapped}})
	require.ErrorIs(t, err, interfaces.ErrNoAccess)
}

func TestFetchKeysRejectsOversizedBatch(t *testing.T) {
	env := newTestEnv(t, 2)
	cred := env.credentialFor(t, env.member)

	items := make([]ShareRequest, MaxIDsPerRequest+1)
	for i := range items {
		items[i] = ShareRequest{IDHex: "00", Wrapped: []byte{0}}
	}
	_, err := env.client.FetchKeys(context.Background(), env.refs[0], cred, []byte("tx"), 2, items)
	require.Error(t, err)
}

func TestServiceInfo(t *testing.T) {
	env := newTestEnv(t, 2)

	info, err := env.client.ServiceInfo(context.Background(), env.refs[0])
	require.NoError(t, err)
	require.True(t, info.ObjectID.Equal(env.refs[0].ObjectID))
	_, err = seal.ParsePublicKeyPEM(info.PublicKey)
	require.NoError(t, err)
}

func TestServerKeyBackupRoundTrip(t *testing.T) {
	key, err := seal.GenerateServerKey()
	require.NoError(t, err)

	shares, err := SplitServerKey(key, 5, 3)
	require.NoError(t, err)
	require.Len(t, shares, 5)

	recovered, err := RecoverServerKey(shares[1:4])
	require.NoError(t, err)
	require.True(t, key.Equal(recovered))

	_, err = SplitServerKey(key, 3, 1)
	require.Error(t, err)
}
