package formskit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var (
	errEmptyStoreURL  = errors.New("credential_store.empty_url")
	errEmptyStorePath = errors.New("credential_store.file.empty_path")
)

// FileCredentialStore persists the credential mapping as a single JSON
// document. A missing file is not an error; it is the "no user yet
// authorized" state.
type FileCredentialStore struct {
	path string
}

// NewFileCredentialStore constructs a store backed by the given file path.
func NewFileCredentialStore(path string) (*FileCredentialStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("credential_store.file.open: %w", errEmptyStorePath)
	}
	return &FileCredentialStore{path: path}, nil
}

// Load reads the whole mapping. A missing file yields an empty map; an
// unreadable or corrupt file yields an ErrStoreUnavailable-wrapped error.
func (store *FileCredentialStore) Load(ctx context.Context) (map[string]CredentialRecord, error) {
	data, readErr := os.ReadFile(store.path)
	if readErr != nil {
		if errors.Is(readErr, fs.ErrNotExist) {
			return make(map[string]CredentialRecord), nil
		}
		return nil, fmt.Errorf("credential_store.file.load: %w: %v", ErrStoreUnavailable, readErr)
	}
	credentials := make(map[string]CredentialRecord)
	if unmarshalErr := json.Unmarshal(data, &credentials); unmarshalErr != nil {
		return nil, fmt.Errorf("credential_store.file.load: %w: %v", ErrStoreUnavailable, unmarshalErr)
	}
	return credentials, nil
}

// Save writes the whole mapping atomically: a temp file in the same
// directory followed by a rename, so a crashed save never truncates the
// previous document.
func (store *FileCredentialStore) Save(ctx context.Context, credentials map[string]CredentialRecord) error {
	data, marshalErr := json.MarshalIndent(credentials, "", "  ")
	if marshalErr != nil {
		return fmt.Errorf("credential_store.file.save: %w: %v", ErrStoreUnavailable, marshalErr)
	}
	directory := filepath.Dir(store.path)
	tempFile, tempErr := os.CreateTemp(directory, filepath.Base(store.path)+".tmp-*")
	if tempErr != nil {
		return fmt.Errorf("credential_store.file.save: %w: %v", ErrStoreUnavailable, tempErr)
	}
	tempPath := tempFile.Name()
	if _, writeErr := tempFile.Write(data); writeErr != nil {
		_ = tempFile.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("credential_store.file.save: %w: %v", ErrStoreUnavailable, writeErr)
	}
	if closeErr := tempFile.Close(); closeErr != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("credential_store.file.save: %w: %v", ErrStoreUnavailable, closeErr)
	}
	if renameErr := os.Rename(tempPath, store.path); renameErr != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("credential_store.file.save: %w: %v", ErrStoreUnavailable, renameErr)
	}
	return nil
}
