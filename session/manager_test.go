package session

import (
	"context"
	"crypto/rand"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xhare/sealshare/interfaces"
	"github.com/xhare/sealshare/wallet"
)

func testPackageID(t *testing.T) interfaces.ObjectID {
	t.Helper()
	var raw [32]byte
	_, err := io.ReadFull(rand.Reader, raw[:])
	require.NoError(t, err)
	id, err := interfaces.NewObjectIDFromBytes(raw[:])
	require.NoError(t, err)
	return id
}

func testManager(t *testing.T) (*Manager, *wallet.Signer, *MemoryStore) {
	t.Helper()
	signer, err := wallet.NewSigner()
	require.NoError(t, err)
	store := NewMemoryStore()
	return NewManager(signer, testPackageID(t), store, slog.Default()), signer, store
}

func TestObtainMintsWhenAbsent(t *testing.T) {
	mgr, signer, store := testManager(t)

	cred, err := mgr.Obtain(context.Background())
	require.NoError(t, err)
	require.True(t, cred.Certificate.Address.Equal(signer.Address()))
	require.Equal(t, 10, cred.Certificate.TTLMin)
	require.NoError(t, cred.Certificate.Verify())

	// It landed in the store too.
	raw, err := store.Get()
	require.NoError(t, err)
	stored, err := ImportCredential(raw)
	require.NoError(t, err)
	require.Equal(t, cred.Certificate.SessionVK, stored.Certificate.SessionVK)
}

func TestObtainReusesValidCredential(t *testing.T) {
	mgr, _, _ := testManager(t)

	first, err := mgr.Obtain(context.Background())
	require.NoError(t, err)
	second, err := mgr.Obtain(context.Background())
	require.NoError(t, err)
	require.Equal(t, first.Certificate.SessionVK, second.Certificate.SessionVK)
}

func TestObtainRegeneratesWhenExpired(t *testing.T) {
	mgr, _, _ := testManager(t)

	first, err := mgr.Obtain(context.Background())
	require.NoError(t, err)

	mgr.now = func() time.Time { return time.Now().Add(11 * time.Minute) }
	second, err := mgr.Obtain(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, first.Certificate.SessionVK, second.Certificate.SessionVK)
}

func TestObtainRegeneratesOnAddressMismatch(t *testing.T) {
	mgr, _, store := testManager(t)

	first, err := mgr.Obtain(context.Background())
	require.NoError(t, err)

	// A different wallet takes over the same store slot.
	other, err := wallet.NewSigner()
	require.NoError(t, err)
	mgr.signer = other

	second, err := mgr.Obtain(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, first.Certificate.SessionVK, second.Certificate.SessionVK)
	require.True(t, second.Certificate.Address.Equal(other.Address()))

	raw, err := store.Get()
	require.NoError(t, err)
	stored, err := ImportCredential(raw)
	require.NoError(t, err)
	require.True(t, stored.Certificate.Address.Equal(other.Address()))
}

func TestCredentialValidForMostOfWindow(t *testing.T) {
	signer, err := wallet.NewSigner()
	require.NoError(t, err)

	now := time.Now()
	cred, err := NewCredential(context.Background(), signer, testPackageID(t), DefaultTTL, now)
	require.NoError(t, err)

	require.False(t, cred.Certificate.IsExpiredAt(now.Add(9*time.Minute)))
	require.True(t, cred.Certificate.IsExpiredAt(now.Add(11*time.Minute)))
}

func TestRequestSignatureRoundTrip(t *testing.T) {
	signer, err := wallet.NewSigner()
	require.NoError(t, err)

	cred, err := NewCredential(context.Background(), signer, testPackageID(t), DefaultTTL, time.Now())
	require.NoError(t, err)

	txBytes := []byte(`{"version":1}`)
	ids := []string{"aa01", "bb02"}
	sig := cred.SignRequest(txBytes, ids)
	require.NoError(t, cred.Certificate.VerifyRequestSignature(sig, txBytes, ids))

	// Any change to the signed material must fail verification.
	require.Error(t, cred.Certificate.VerifyRequestSignature(sig, txBytes, []string{"aa01"}))
	require.Error(t, cred.Certificate.VerifyRequestSignature(sig, []byte("other"), ids))
}

func TestExportImportRoundTrip(t *testing.T) {
	signer, err := wallet.NewSigner()
	require.NoError(t, err)

	cred, err := NewCredential(context.Background(), signer, testPackageID(t), DefaultTTL, time.Now())
	require.NoError(t, err)

	exported, err := cred.Export()
	require.NoError(t, err)
	// The package ID travels as a hex string, not a byte array.
	require.Contains(t, string(exported), `"package_id":"0x`)
	restored, err := ImportCredential(exported)
	require.NoError(t, err)
	require.NoError(t, restored.Certificate.Verify())
	require.True(t, restored.Certificate.PackageID.Equal(cred.Certificate.PackageID))

	// The restored session key still signs requests correctly.
	sig := restored.SignRequest([]byte("tx"), []string{"id"})
	require.NoError(t, restored.Certificate.VerifyRequestSignature(sig, []byte("tx"), []string{"id"}))
}

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get()
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Set([]byte(`{"x":1}`)))
	raw, err := store.Get()
	require.NoError(t, err)
	require.JSONEq(t, `{"x":1}`, string(raw))

	require.NoError(t, store.Clear())
	_, err = store.Get()
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, store.Clear())
}
