package formskit

import (
	"context"
	"fmt"

	forms "google.golang.org/api/forms/v1"
	"google.golang.org/api/option"
)

// GoogleFormsBackend performs Forms API calls with per-user credentials
// materialized by the broker.
type GoogleFormsBackend struct {
	configuration ServiceConfig
	broker        *CredentialBroker
	clientOptions []option.ClientOption
}

// NewGoogleFormsBackend constructs the upstream backend. Extra client options
// let callers point the service at a non-production endpoint.
func NewGoogleFormsBackend(configuration ServiceConfig, broker *CredentialBroker, clientOptions ...option.ClientOption) *GoogleFormsBackend {
	return &GoogleFormsBackend{
		configuration: configuration,
		broker:        broker,
		clientOptions: clientOptions,
	}
}

// GetForm fetches trimmed metadata for one form.
func (backend *GoogleFormsBackend) GetForm(ctx context.Context, userID string, formID string) (FormSummary, error) {
	callCtx, cancel := backend.boundedContext(ctx)
	defer cancel()

	service, serviceErr := backend.service(callCtx, userID)
	if serviceErr != nil {
		return FormSummary{}, serviceErr
	}
	form, getErr := service.Forms.Get(formID).Context(callCtx).Do()
	if getErr != nil {
		return FormSummary{}, fmt.Errorf("forms_backend.get_form: %w: %v", ErrUpstreamCall, getErr)
	}
	summary := FormSummary{FormID: form.FormId}
	if form.Info != nil {
		summary.Title = form.Info.Title
		summary.DocumentTitle = form.Info.DocumentTitle
	}
	return summary, nil
}

// ListResponses lists up to maxResults responses for one form.
func (backend *GoogleFormsBackend) ListResponses(ctx context.Context, userID string, formID string, maxResults int64) ([]*forms.FormResponse, error) {
	callCtx, cancel := backend.boundedContext(ctx)
	defer cancel()

	service, serviceErr := backend.service(callCtx, userID)
	if serviceErr != nil {
		return nil, serviceErr
	}
	listing, listErr := service.Forms.Responses.List(formID).PageSize(maxResults).Context(callCtx).Do()
	if listErr != nil {
		return nil, fmt.Errorf("forms_backend.list_responses: %w: %v", ErrUpstreamCall, listErr)
	}
	if listing.Responses == nil {
		return []*forms.FormResponse{}, nil
	}
	return listing.Responses, nil
}

func (backend *GoogleFormsBackend) service(ctx context.Context, userID string) (*forms.Service, error) {
	source, sourceErr := backend.broker.TokenSource(ctx, userID)
	if sourceErr != nil {
		return nil, sourceErr
	}
	serviceOptions := append([]option.ClientOption{option.WithTokenSource(source)}, backend.clientOptions...)
	service, buildErr := forms.NewService(ctx, serviceOptions...)
	if buildErr != nil {
		return nil, fmt.Errorf("forms_backend.service: %w: %v", ErrUpstreamCall, buildErr)
	}
	return service, nil
}

func (backend *GoogleFormsBackend) boundedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if backend.configuration.UpstreamTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, backend.configuration.UpstreamTimeout)
}
