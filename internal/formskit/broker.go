package formskit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	forms "google.golang.org/api/forms/v1"
)

// CredentialBroker bridges stored token pairs and live refreshable
// credentials, and owns the three-legged OAuth exchange. All credential
// writes go through its mutex, which serializes the load-merge-save cycle so
// two callbacks for the same user cannot lose a refresh token.
type CredentialBroker struct {
	configuration ServiceConfig
	oauthConfig   *oauth2.Config
	store         CredentialStore
	logger        *zap.Logger

	writeMutex sync.Mutex

	sourceMutex sync.Mutex
	sources     map[string]oauth2.TokenSource
}

// NewCredentialBroker constructs a broker for the Google Forms scopes.
func NewCredentialBroker(configuration ServiceConfig, store CredentialStore, logger *zap.Logger) *CredentialBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CredentialBroker{
		configuration: configuration,
		oauthConfig: &oauth2.Config{
			ClientID:     configuration.GoogleClientID,
			ClientSecret: configuration.GoogleClientSecret,
			Endpoint:     google.Endpoint,
			RedirectURL:  configuration.RedirectURL(),
			Scopes:       []string{forms.FormsBodyScope, forms.FormsResponsesReadonlyScope},
		},
		store:   store,
		logger:  logger,
		sources: make(map[string]oauth2.TokenSource),
	}
}

// AuthorizationURL builds the provider consent URL for a user. Offline access
// and forced consent make Google (re)issue a refresh token on every
// authorization; the state parameter carries the raw user id, which is the
// only thing the callback needs to recover the tenant.
func (broker *CredentialBroker) AuthorizationURL(userID string) string {
	return broker.oauthConfig.AuthCodeURL(userID, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a credential record.
func (broker *CredentialBroker) Exchange(ctx context.Context, code string) (CredentialRecord, error) {
	exchangeCtx, cancel := broker.boundedContext(ctx)
	defer cancel()
	token, exchangeErr := broker.oauthConfig.Exchange(exchangeCtx, code)
	if exchangeErr != nil {
		return CredentialRecord{}, fmt.Errorf("broker.exchange: %w: %v", ErrExchangeFailed, exchangeErr)
	}
	return CredentialRecord{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}, nil
}

// StoreAuthorization merges a freshly exchanged record into the store under
// the write mutex and returns the merged record. Save failures propagate; a
// swallowed save would leave the authorization flow silently incomplete.
func (broker *CredentialBroker) StoreAuthorization(ctx context.Context, userID string, record CredentialRecord) (CredentialRecord, error) {
	broker.writeMutex.Lock()
	defer broker.writeMutex.Unlock()

	credentials := broker.loadOrEmpty(ctx)
	merged := MergeCredential(credentials[userID], record)
	credentials[userID] = merged
	if saveErr := broker.store.Save(ctx, credentials); saveErr != nil {
		return CredentialRecord{}, fmt.Errorf("broker.store_authorization: %w", saveErr)
	}
	broker.invalidateSource(userID)
	return merged, nil
}

// TokenSource materializes a live credential for a user. The source refreshes
// the access token silently through the provider token endpoint whenever the
// backend client finds it expired. Sources are cached per user so the
// refreshed token is reused across calls.
func (broker *CredentialBroker) TokenSource(ctx context.Context, userID string) (oauth2.TokenSource, error) {
	broker.sourceMutex.Lock()
	defer broker.sourceMutex.Unlock()

	if source, ok := broker.sources[userID]; ok {
		return source, nil
	}

	credentials := broker.loadOrEmpty(ctx)
	record, ok := credentials[userID]
	if !ok {
		return nil, fmt.Errorf("broker.token_source: %w", ErrNotAuthorized)
	}

	token := &oauth2.Token{
		AccessToken:  record.AccessToken,
		RefreshToken: record.RefreshToken,
	}
	if record.RefreshToken != "" {
		// The stored record carries no expiry; mark the token stale so the
		// source mints a fresh access token on first use.
		token.Expiry = time.Now().Add(-time.Minute)
	}
	source := broker.oauthConfig.TokenSource(context.Background(), token)
	broker.sources[userID] = source
	return source, nil
}

// loadOrEmpty applies the degrade-to-empty policy: an unreadable store is
// equivalent to "no user yet authorized" and never crashes a request.
func (broker *CredentialBroker) loadOrEmpty(ctx context.Context) map[string]CredentialRecord {
	credentials, loadErr := broker.store.Load(ctx)
	if loadErr != nil {
		broker.logger.Warn("credential load degraded to empty mapping",
			zap.String("code", "broker.load_degraded"),
			zap.Error(loadErr))
		return make(map[string]CredentialRecord)
	}
	if credentials == nil {
		return make(map[string]CredentialRecord)
	}
	return credentials
}

func (broker *CredentialBroker) invalidateSource(userID string) {
	broker.sourceMutex.Lock()
	defer broker.sourceMutex.Unlock()
	delete(broker.sources, userID)
}

func (broker *CredentialBroker) boundedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if broker.configuration.UpstreamTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, broker.configuration.UpstreamTimeout)
}
