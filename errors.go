package oauth

import (
	"fmt"
	"net/http"

	"github.com/loamlabs/project-oauth/server"
)

// OAuth 2.0 error codes carried in error responses.
const (
	ErrorCodeInvalidRequest     = "invalid_request"
	ErrorCodeInvalidClient      = "invalid_client"
	ErrorCodeInvalidGrant       = "invalid_grant"
	ErrorCodeInvalidRedirectURI = "invalid_redirect_uri"
	ErrorCodeServerError        = "server_error"
)

// OAuthError is the wire form of a failed request: the error code and
// description the JSON body carries, plus the HTTP status to respond with.
type OAuthError struct {
	Code        string
	Description string
	Status      int
}

func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewOAuthError builds an error with an explicit status.
func NewOAuthError(code, description string, status int) *OAuthError {
	return &OAuthError{Code: code, Description: description, Status: status}
}

// WithStatus overrides the HTTP status, for codes that surface under more
// than one (method not allowed, unauthenticated, rate limited).
func (e *OAuthError) WithStatus(status int) *OAuthError {
	e.Status = status
	return e
}

// ErrInvalidRequest reports a malformed or incomplete request.
func ErrInvalidRequest(description string) *OAuthError {
	return NewOAuthError(ErrorCodeInvalidRequest, description, http.StatusBadRequest)
}

// ErrInvalidClient reports failed client authentication.
func ErrInvalidClient(description string) *OAuthError {
	return NewOAuthError(ErrorCodeInvalidClient, description, http.StatusUnauthorized)
}

// ErrInvalidGrant reports an unusable authorization code or refresh token.
func ErrInvalidGrant(description string) *OAuthError {
	return NewOAuthError(ErrorCodeInvalidGrant, description, http.StatusBadRequest)
}

// ErrInvalidRedirectURI reports an unregistered redirect target.
func ErrInvalidRedirectURI(description string) *OAuthError {
	return NewOAuthError(ErrorCodeInvalidRedirectURI, description, http.StatusBadRequest)
}

// ErrServerError reports an internal failure without detail.
func ErrServerError(description string) *OAuthError {
	return NewOAuthError(ErrorCodeServerError, description, http.StatusInternalServerError)
}

// fromFlowError maps a flow failure onto its wire form.
func fromFlowError(fe *server.FlowError) *OAuthError {
	switch fe.Code {
	case ErrorCodeInvalidClient:
		return ErrInvalidClient(fe.Description)
	case ErrorCodeInvalidGrant:
		return ErrInvalidGrant(fe.Description)
	case ErrorCodeInvalidRedirectURI:
		return ErrInvalidRedirectURI(fe.Description)
	case ErrorCodeServerError:
		return ErrServerError(fe.Description)
	default:
		return ErrInvalidRequest(fe.Description)
	}
}
