// Package credential persists the session bearer token across restarts.
package credential

import (
	"errors"
	"fmt"
	"sync"

	"github.com/99designs/keyring"
)

// TokenKey is the fixed keyring entry holding the bearer token.
const TokenKey = "auth-token"

// ErrNotFound is returned by Load when no token has been persisted.
var ErrNotFound = errors.New("credential: token not found")

// TokenStore is durable storage for exactly one value: the bearer token.
type TokenStore interface {
	Load() (string, error)
	Save(token string) error
	Clear() error
}

// KeyringStore keeps the token in the operating system keyring.
type KeyringStore struct {
	ring keyring.Keyring
}

// OpenKeyring returns a KeyringStore for the given service name. dir is
// used by the encrypted-file fallback backend.
func OpenKeyring(service, dir string) (*KeyringStore, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: service,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  dir,
		FilePasswordFunc:         keyring.FixedStringPrompt(service + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return NewKeyringStore(ring), nil
}

// NewKeyringStore wraps an already opened keyring.
func NewKeyringStore(ring keyring.Keyring) *KeyringStore {
	return &KeyringStore{ring: ring}
}

// Load retrieves the persisted token.
func (s *KeyringStore) Load() (string, error) {
	item, err := s.ring.Get(TokenKey)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", TokenKey, err)
	}
	if len(item.Data) == 0 {
		return "", ErrNotFound
	}
	return string(item.Data), nil
}

// Save stores the token, replacing any previous value.
func (s *KeyringStore) Save(token string) error {
	err := s.ring.Set(keyring.Item{
		Key:         TokenKey,
		Data:        []byte(token),
		Label:       "Sortify session token",
		Description: "bearer token for the Sortify API",
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", TokenKey, err)
	}
	return nil
}

// Clear removes the token. Clearing an absent token is not an error.
func (s *KeyringStore) Clear() error {
	err := s.ring.Remove(TokenKey)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", TokenKey, err)
	}
	return nil
}

// MemoryStore is a process-local TokenStore.
type MemoryStore struct {
	mu    sync.Mutex
	token string
}

// NewMemoryStore returns a MemoryStore seeded with token ("" for empty).
func NewMemoryStore(token string) *MemoryStore {
	return &MemoryStore{token: token}
}

func (s *MemoryStore) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		return "", ErrNotFound
	}
	return s.token, nil
}

func (s *MemoryStore) Save(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	return nil
}
