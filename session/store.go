package session

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// slotKey is the single storage slot credentials live under. One
// credential per store; a new one always replaces the old.
const slotKey = "sessionKey"

// ErrNotFound is returned by a Store when no credential is stored.
var ErrNotFound = errors.New("no stored session credential")

// Store persists one exported credential. Implementations must treat the
// payload as sensitive: it contains the session secret key.
type Store interface {
	Get() ([]byte, error)
	Set(raw []byte) error
	Clear() error
}

// MemoryStore keeps the credential in process memory only.
type MemoryStore struct {
	mu  sync.Mutex
	raw []byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.raw == nil {
		return nil, ErrNotFound
	}
	return append([]byte{}, s.raw...), nil
}

func (s *MemoryStore) Set(raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw = append([]byte{}, raw...)
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw = nil
	return nil
}

// FileStore persists the credential as a 0600 file in a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed and returns a store over it.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path() string {
	return filepath.Join(s.dir, slotKey+".json")
}

func (s *FileStore) Get() ([]byte, error) {
	raw, err := os.ReadFile(s.path())
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return raw, err
}

func (s *FileStore) Set(raw []byte) error {
	return os.WriteFile(s.path(), raw, 0o600)
}

func (s *FileStore) Clear() error {
	err := os.Remove(s.path())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
