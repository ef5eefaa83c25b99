package session

import (
	"context"
	"errors"
	"fmt"

	vaultapi "github.com/hashicorp/vault/api"
)

// VaultStore persists the credential in a Vault KV v2 secret, for setups
// where the client runs server-side and must not keep key material on
// local disk.
type VaultStore struct {
	kv   *vaultapi.KVv2
	path string
}

// NewVaultStore connects to Vault and stores credentials under
// mount/path. The client picks up VAULT_ADDR and VAULT_TOKEN from the
// environment unless cfg overrides them.
func NewVaultStore(cfg *vaultapi.Config, mount, path string) (*VaultStore, error) {
	if cfg == nil {
		cfg = vaultapi.DefaultConfig()
	}
	client, err := vaultapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("could not create vault client: %w", err)
	}
	return &VaultStore{kv: client.KVv2(mount), path: path}, nil
}

func (s *VaultStore) Get() ([]byte, error) {
	secret, err := s.kv.Get(context.Background(), s.path)
	if err != nil {
		if errors.Is(err, vaultapi.ErrSecretNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("vault read failed: %w", err)
	}
	raw, ok := secret.Data[slotKey].(string)
	if !ok {
		return nil, ErrNotFound
	}
	return []byte(raw), nil
}

func (s *VaultStore) Set(raw []byte) error {
	_, err := s.kv.Put(context.Background(), s.path, map[string]any{slotKey: string(raw)})
	if err != nil {
		return fmt.Errorf("vault write failed: %w", err)
	}
	return nil
}

func (s *VaultStore) Clear() error {
	err := s.kv.Delete(context.Background(), s.path)
	if err != nil && !errors.Is(err, vaultapi.ErrSecretNotFound) {
		return fmt.Errorf("vault delete failed: %w", err)
	}
	return nil
}
