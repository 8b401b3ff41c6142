package server

import (
	"fmt"
	"strings"

	"github.com/loamlabs/project-oauth/pkce"
	"github.com/loamlabs/project-oauth/security"
	"github.com/loamlabs/project-oauth/storage"
)

// resolveRedirectURI matches the requested URI against the client's
// registration by exact string comparison. No prefix, pattern, or port
// matching. An absent URI is accepted only when exactly one is registered.
func (s *Server) resolveRedirectURI(client *storage.Client, requested string) (string, error) {
	if len(client.RedirectURIs) == 0 {
		return "", flowErr(ErrorCodeInvalidRedirectURI, "client has no registered redirect URIs")
	}
	if requested == "" {
		if len(client.RedirectURIs) == 1 {
			return client.RedirectURIs[0], nil
		}
		return "", flowErr(ErrorCodeInvalidRedirectURI, "redirect_uri is required when multiple URIs are registered")
	}
	for _, registered := range client.RedirectURIs {
		if requested == registered {
			return requested, nil
		}
	}
	return "", flowErr(ErrorCodeInvalidRedirectURI, "redirect_uri is not registered for this client")
}

// validateScope checks the requested scopes against the client's grants and
// the server's supported set. An empty request inherits the client's scopes.
func (s *Server) validateScope(requested string, client *storage.Client) (string, error) {
	if strings.TrimSpace(requested) == "" {
		return strings.Join(client.Scopes, " "), nil
	}
	scopes := strings.Fields(requested)
	for _, scope := range scopes {
		if len(client.Scopes) > 0 && !contains(client.Scopes, scope) {
			return "", flowErr(ErrorCodeInvalidRequest, fmt.Sprintf("scope %q is not granted to this client", scope))
		}
		if len(s.config.SupportedScopes) > 0 && !contains(s.config.SupportedScopes, scope) {
			return "", flowErr(ErrorCodeInvalidRequest, fmt.Sprintf("scope %q is not supported", scope))
		}
	}
	return strings.Join(scopes, " "), nil
}

// validateChallenge enforces the PKCE policy for an authorization request.
// A challenge is mandatory when either the server or the client requires
// PKCE; the plain method needs an explicit opt-in and never satisfies a
// mandatory-PKCE client.
func (s *Server) validateChallenge(client *storage.Client, challenge, method string) error {
	required := s.config.RequirePKCE || client.RequirePKCE
	if challenge == "" {
		if required {
			return flowErr(ErrorCodeInvalidRequest, "code_challenge is required")
		}
		if method != "" {
			return flowErr(ErrorCodeInvalidRequest, "code_challenge_method without code_challenge")
		}
		return nil
	}

	switch normalizeChallengeMethod(method) {
	case pkce.MethodS256:
	case pkce.MethodPlain:
		if required || !s.config.AllowPKCEPlain {
			return flowErr(ErrorCodeInvalidRequest, "plain code_challenge_method is not allowed")
		}
	default:
		return flowErr(ErrorCodeInvalidRequest, "unsupported code_challenge_method")
	}

	if len(challenge) < pkce.MinVerifierLength || len(challenge) > pkce.MaxVerifierLength {
		return flowErr(ErrorCodeInvalidRequest, "code_challenge length is out of range")
	}
	return nil
}

// redirectURIMatches enforces the token-time redirect_uri binding. A token
// request must repeat the URI when the authorization request named one
// explicitly; a request that omitted it there may omit it here too.
func redirectURIMatches(code *storage.AuthorizationCode, requested string) bool {
	if requested == code.RedirectURI {
		return true
	}
	return requested == "" && !code.RedirectURIProvided
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}

func invalidRedirectEvent(clientID, ip, requested string) security.Event {
	return security.Event{
		Type:      security.EventInvalidRedirect,
		ClientID:  clientID,
		IPAddress: ip,
		Details:   map[string]any{"redirect_uri": safeTruncate(requested, 256)},
	}
}

func pkceFailureEvent(clientID, ip string) security.Event {
	return security.Event{
		Type:      security.EventPKCEValidationFailed,
		ClientID:  clientID,
		IPAddress: ip,
	}
}
