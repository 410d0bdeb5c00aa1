package formskit

import "errors"

var (
	// ErrNotAuthorized indicates no stored credential exists for the user.
	ErrNotAuthorized = errors.New("broker.not_authorized")
	// ErrExchangeFailed indicates the OAuth authorization-code exchange was rejected.
	ErrExchangeFailed = errors.New("broker.exchange_failed")
	// ErrStoreUnavailable indicates the credential persistence layer cannot be reached.
	ErrStoreUnavailable = errors.New("credential_store.unavailable")
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("credential_store.unsupported_dialect")
	// ErrUpstreamCall indicates the Google Forms API rejected or errored a call.
	ErrUpstreamCall = errors.New("forms_backend.upstream_call_failed")
	// ErrInvalidArguments indicates a tool invocation omitted or mistyped a required argument.
	ErrInvalidArguments = errors.New("rpc.invalid_params")
)
