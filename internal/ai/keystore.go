package ai

import (
	"strings"
	"sync"
)

// Credentials supplies the provider API key and allows it to be replaced at runtime.
type Credentials interface {
	APIKey() string
	SetAPIKey(key string)
	Configured() bool
}

// KeyStore is a concurrency-safe in-memory Credentials implementation.
type KeyStore struct {
	mu  sync.RWMutex
	key string
}

// NewKeyStore seeds the store with an initial key, which may be empty.
func NewKeyStore(initial string) *KeyStore {
	return &KeyStore{key: strings.TrimSpace(initial)}
}

func (s *KeyStore) APIKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key
}

func (s *KeyStore) SetAPIKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.key = strings.TrimSpace(key)
}

func (s *KeyStore) Configured() bool {
	return s.APIKey() != ""
}
