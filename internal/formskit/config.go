package formskit

import (
	"fmt"
	"time"
)

// ServiceConfig carries the immutable gateway configuration. It is built once
// at startup and injected into constructors; nothing reads it ambiently.
type ServiceConfig struct {
	GoogleClientID     string
	GoogleClientSecret string
	// PublicBaseURL is the externally reachable base URL, no trailing slash.
	// It anchors both the OAuth redirect URI and the recovery link embedded
	// in authorization errors.
	PublicBaseURL   string
	UpstreamTimeout time.Duration
}

// RedirectURL is the OAuth callback registered with the provider.
func (configuration ServiceConfig) RedirectURL() string {
	return configuration.PublicBaseURL + "/auth/google/callback"
}

// AuthorizationHintURL is the recovery link handed to unauthorized callers.
// Its exact shape is part of the protocol contract.
func (configuration ServiceConfig) AuthorizationHintURL(userID string) string {
	return fmt.Sprintf("%s/auth/google?user_id=%s", configuration.PublicBaseURL, userID)
}
