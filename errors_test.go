package oauth

import (
	"net/http"
	"testing"

	"github.com/loamlabs/project-oauth/server"
)

func TestOAuthErrorMessage(t *testing.T) {
	err := NewOAuthError(ErrorCodeInvalidGrant, "code expired", http.StatusBadRequest)
	if got, want := err.Error(), "invalid_grant: code expired"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name   string
		err    *OAuthError
		code   string
		status int
	}{
		{"invalid request", ErrInvalidRequest("x"), ErrorCodeInvalidRequest, http.StatusBadRequest},
		{"invalid client", ErrInvalidClient("x"), ErrorCodeInvalidClient, http.StatusUnauthorized},
		{"invalid grant", ErrInvalidGrant("x"), ErrorCodeInvalidGrant, http.StatusBadRequest},
		{"invalid redirect", ErrInvalidRedirectURI("x"), ErrorCodeInvalidRedirectURI, http.StatusBadRequest},
		{"server error", ErrServerError("x"), ErrorCodeServerError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.code)
			}
			if tt.err.Status != tt.status {
				t.Errorf("Status = %d, want %d", tt.err.Status, tt.status)
			}
		})
	}
}

func TestWithStatus(t *testing.T) {
	err := ErrInvalidRequest("method not allowed").WithStatus(http.StatusMethodNotAllowed)
	if err.Status != http.StatusMethodNotAllowed {
		t.Errorf("Status = %d, want %d", err.Status, http.StatusMethodNotAllowed)
	}
	if err.Code != ErrorCodeInvalidRequest {
		t.Errorf("Code = %q, want invalid_request", err.Code)
	}
}

func TestFromFlowError(t *testing.T) {
	tests := []struct {
		code   string
		status int
	}{
		{ErrorCodeInvalidRequest, http.StatusBadRequest},
		{ErrorCodeInvalidClient, http.StatusUnauthorized},
		{ErrorCodeInvalidGrant, http.StatusBadRequest},
		{ErrorCodeInvalidRedirectURI, http.StatusBadRequest},
		{ErrorCodeServerError, http.StatusInternalServerError},
		{"unknown_code", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			oe := fromFlowError(&server.FlowError{Code: tt.code, Description: "d"})
			if oe.Status != tt.status {
				t.Errorf("Status = %d, want %d", oe.Status, tt.status)
			}
			if oe.Description != "d" {
				t.Errorf("Description = %q, want d", oe.Description)
			}
		})
	}
}
