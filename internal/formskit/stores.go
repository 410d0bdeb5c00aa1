package formskit

import (
	"context"
	"fmt"
	"strings"

	forms "google.golang.org/api/forms/v1"
)

// CredentialStore persists the full user-to-credential mapping. Access is
// always a whole-map load-mutate-save cycle; partial updates are not part of
// the contract. Concurrency discipline belongs to the caller.
type CredentialStore interface {
	Load(ctx context.Context) (map[string]CredentialRecord, error)
	Save(ctx context.Context, credentials map[string]CredentialRecord) error
}

// FormSummary is the trimmed form metadata returned to protocol callers.
type FormSummary struct {
	FormID        string `json:"formId"`
	Title         string `json:"title"`
	DocumentTitle string `json:"documentTitle"`
}

// FormsBackend performs upstream Google Forms calls on behalf of a user.
// An unauthorized user surfaces ErrNotAuthorized; upstream rejections wrap
// ErrUpstreamCall.
type FormsBackend interface {
	GetForm(ctx context.Context, userID string, formID string) (FormSummary, error)
	ListResponses(ctx context.Context, userID string, formID string, maxResults int64) ([]*forms.FormResponse, error)
}

// OpenCredentialStore selects a store implementation by URL scheme:
// file:// for the single-document JSON store, sqlite:// or postgres:// for
// the database store.
func OpenCredentialStore(ctx context.Context, storeURL string) (CredentialStore, string, error) {
	trimmed := strings.TrimSpace(storeURL)
	switch {
	case trimmed == "":
		return nil, "", fmt.Errorf("credential_store.open: %w", errEmptyStoreURL)
	case strings.HasPrefix(trimmed, "file://"):
		store, fileErr := NewFileCredentialStore(strings.TrimPrefix(trimmed, "file://"))
		if fileErr != nil {
			return nil, "", fileErr
		}
		return store, "file", nil
	default:
		store, databaseErr := NewDatabaseCredentialStore(ctx, trimmed)
		if databaseErr != nil {
			return nil, "", databaseErr
		}
		return store, store.Driver(), nil
	}
}
