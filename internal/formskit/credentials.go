package formskit

import "strings"

// DefaultUserID is the sentinel tenant used when a request carries no user id.
const DefaultUserID = "default"

// ResolveUserID normalizes a raw user identifier, falling back to the sentinel.
// Every request boundary resolves the user exactly once through this function.
func ResolveUserID(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return DefaultUserID
	}
	return trimmed
}

// CredentialRecord is the stored OAuth credential pair for one user. The JSON
// field names are the persisted wire format and must not change.
type CredentialRecord struct {
	AccessToken  string `json:"token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// MergeCredential combines a freshly exchanged record with the previously
// stored one. Google omits the refresh token on repeat consent, so an empty
// incoming refresh token never overwrites a stored one.
func MergeCredential(previous CredentialRecord, next CredentialRecord) CredentialRecord {
	merged := next
	if merged.RefreshToken == "" {
		merged.RefreshToken = previous.RefreshToken
	}
	return merged
}
