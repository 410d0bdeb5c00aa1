package formskit

import (
	"context"
	"sync"
)

// MemoryCredentialStore keeps the credential mapping in process memory.
// Intended for tests and local runs without persistence.
type MemoryCredentialStore struct {
	mutex       sync.Mutex
	credentials map[string]CredentialRecord
}

// NewMemoryCredentialStore creates an empty in-memory store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{credentials: make(map[string]CredentialRecord)}
}

// Load returns a copy of the stored mapping.
func (store *MemoryCredentialStore) Load(ctx context.Context) (map[string]CredentialRecord, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return cloneCredentials(store.credentials), nil
}

// Save replaces the stored mapping with a copy of the supplied one.
func (store *MemoryCredentialStore) Save(ctx context.Context, credentials map[string]CredentialRecord) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.credentials = cloneCredentials(credentials)
	return nil
}

func cloneCredentials(credentials map[string]CredentialRecord) map[string]CredentialRecord {
	clone := make(map[string]CredentialRecord, len(credentials))
	for userID, record := range credentials {
		clone[userID] = record
	}
	return clone
}
