package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xhare/sealshare/interfaces"
)

// DefaultTTL is how long a freshly minted credential stays valid.
const DefaultTTL = 10 * time.Minute

// Manager hands out a valid session credential, reusing the stored one
// while it is still inside its window and bound to the current wallet,
// and regenerating otherwise. The wallet is only prompted on
// regeneration.
type Manager struct {
	signer    interfaces.WalletSigner
	packageID interfaces.ObjectID
	store     Store
	ttl       time.Duration
	log       *slog.Logger

	// now is replaced in tests.
	now func() time.Time
}

// NewManager builds a session manager over a credential store.
func NewManager(signer interfaces.WalletSigner, packageID interfaces.ObjectID, store Store, log *slog.Logger) *Manager {
	return &Manager{
		signer:    signer,
		packageID: packageID,
		store:     store,
		ttl:       DefaultTTL,
		log:       log,
		now:       time.Now,
	}
}

// SetTTL overrides the credential lifetime for newly minted credentials.
func (m *Manager) SetTTL(ttl time.Duration) {
	m.ttl = ttl
}

// Obtain returns a credential valid for the current wallet. A stored
// credential that is expired or bound to another address is discarded and
// a new one minted, which prompts the wallet.
func (m *Manager) Obtain(ctx context.Context) (*Credential, error) {
	raw, err := m.store.Get()
	switch {
	case err == nil:
		cred, err := ImportCredential(raw)
		if err != nil {
			m.log.Warn("stored session credential unreadable", "err", err)
		} else if reason := m.usable(cred); reason != nil {
			m.log.Debug("discarding stored session credential", "reason", reason)
		} else {
			return cred, nil
		}
	case errors.Is(err, ErrNotFound):
		// First use, nothing stored yet.
	default:
		return nil, fmt.Errorf("could not read session store: %w", err)
	}

	return m.regenerate(ctx)
}

// usable returns nil if the credential can be reused, or the reason it
// cannot.
func (m *Manager) usable(cred *Credential) error {
	if !cred.Certificate.Address.Equal(m.signer.Address()) {
		return interfaces.ErrCredentialExpired
	}
	if !cred.Certificate.PackageID.Equal(m.packageID) {
		return interfaces.ErrCredentialExpired
	}
	if cred.Certificate.IsExpiredAt(m.now()) {
		return interfaces.ErrCredentialExpired
	}
	return nil
}

// regenerate clears the slot first, then mints and stores a fresh
// credential. Clearing before the wallet prompt means a declined prompt
// never leaves a stale credential behind.
func (m *Manager) regenerate(ctx context.Context) (*Credential, error) {
	if err := m.store.Clear(); err != nil {
		return nil, fmt.Errorf("could not clear session store: %w", err)
	}

	cred, err := NewCredential(ctx, m.signer, m.packageID, m.ttl, m.now())
	if err != nil {
		return nil, err
	}

	exported, err := cred.Export()
	if err != nil {
		return nil, fmt.Errorf("could not export session credential: %w", err)
	}
	if err := m.store.Set(exported); err != nil {
		return nil, fmt.Errorf("could not store session credential: %w", err)
	}

	m.log.Info("minted session credential",
		"address", cred.Certificate.Address,
		"ttl_min", cred.Certificate.TTLMin)
	return cred, nil
}
