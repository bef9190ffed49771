// Package memstore keeps credentials in process memory. Nothing survives a
// restart, which makes it the storage of choice for tests and throwaway portals.
package memstore

import (
	"context"
	"sync"
)

// Store implements session.CredentialStorage over a guarded map.
type Store struct {
	mu     sync.RWMutex
	values map[string]string
}

// New returns an empty Store.
func New() *Store {
	return &Store{values: make(map[string]string)}
}

func (store *Store) LoadCredential(_ context.Context, key string) (string, bool, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()
	value, found := store.values[key]
	return value, found, nil
}

func (store *Store) SaveCredential(_ context.Context, key string, credential string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.values[key] = credential
	return nil
}

func (store *Store) DeleteCredential(_ context.Context, key string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	delete(store.values, key)
	return nil
}

// Len reports how many credentials are held.
func (store *Store) Len() int {
	store.mu.RLock()
	defer store.mu.RUnlock()
	return len(store.values)
}

// Close is a no-op kept for parity with the durable backends.
func (store *Store) Close() error {
	return nil
}
