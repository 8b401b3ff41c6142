package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/loamlabs/project-oauth/membership"
	"github.com/loamlabs/project-oauth/pkce"
	"github.com/loamlabs/project-oauth/security"
	"github.com/loamlabs/project-oauth/storage"
	"github.com/loamlabs/project-oauth/token"
)

// OAuth error codes. Duplicated from the parent package to avoid a circular
// import; the HTTP layer maps FlowError values onto its response type.
const (
	ErrorCodeInvalidRequest     = "invalid_request"
	ErrorCodeInvalidClient      = "invalid_client"
	ErrorCodeInvalidGrant       = "invalid_grant"
	ErrorCodeInvalidRedirectURI = "invalid_redirect_uri"
	ErrorCodeServerError        = "server_error"
)

// FlowError is a flow failure with its OAuth error code. The HTTP layer
// translates it into the wire format; anything that is not a FlowError is a
// server_error and its detail stays out of the response.
type FlowError struct {
	Code        string
	Description string

	// RedirectURI and State are set on authorization failures that occur
	// after the redirect URI was validated, so the HTTP layer may deliver
	// the error to the client via redirect. Empty means respond directly.
	RedirectURI string
	State       string
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func flowErr(code, description string) *FlowError {
	return &FlowError{Code: code, Description: description}
}

// redirected marks a FlowError as deliverable to the client's redirect URI.
func redirected(err error, redirectURI, state string) error {
	var fe *FlowError
	if errors.As(err, &fe) {
		fe.RedirectURI = redirectURI
		fe.State = state
	}
	return err
}

// AuthenticatedUser is the end user resolved by the caller's authentication
// layer before the authorization endpoint runs.
type AuthenticatedUser struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

// AuthorizeRequest is a parsed authorization request.
type AuthorizeRequest struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string

	User     AuthenticatedUser
	ClientIP string
}

// AuthorizeResult carries the issued code and where to send it. State is
// echoed exactly as received.
type AuthorizeResult struct {
	Code        string
	State       string
	RedirectURI string
}

// Authorize validates an authorization request and issues a single-use code.
// Client and redirect URI failures never redirect; everything after the
// redirect URI is validated may be reported to the client via redirect.
func (s *Server) Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResult, error) {
	if req.ClientID == "" {
		return nil, flowErr(ErrorCodeInvalidRequest, "client_id is required")
	}
	client, err := s.store.GetClient(ctx, req.ClientID)
	if errors.Is(err, storage.ErrNotFound) {
		s.auditAuthFailure("", req.ClientID, req.ClientIP, "unknown client")
		return nil, flowErr(ErrorCodeInvalidClient, "unknown client")
	}
	if err != nil {
		return nil, fmt.Errorf("load client: %w", err)
	}

	redirectURI, err := s.resolveRedirectURI(client, req.RedirectURI)
	if err != nil {
		s.Auditor.LogEvent(invalidRedirectEvent(client.ID, req.ClientIP, req.RedirectURI))
		return nil, err
	}

	if req.ResponseType != "code" {
		return nil, redirected(flowErr(ErrorCodeInvalidRequest, "response_type must be code"), redirectURI, req.State)
	}
	if req.User.Provider == "" || req.User.Subject == "" {
		return nil, flowErr(ErrorCodeInvalidRequest, "request is not authenticated")
	}

	scope, err := s.validateScope(req.Scope, client)
	if err != nil {
		return nil, redirected(err, redirectURI, req.State)
	}
	if err := s.validateChallenge(client, req.CodeChallenge, req.CodeChallengeMethod); err != nil {
		return nil, redirected(err, redirectURI, req.State)
	}

	now := s.now()
	code := &storage.AuthorizationCode{
		Code:                oauth2.GenerateVerifier(),
		ClientID:            client.ID,
		RedirectURI:         redirectURI,
		RedirectURIProvided: req.RedirectURI != "",
		Scope:               scope,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: normalizeChallengeMethod(req.CodeChallengeMethod),
		Provider:            req.User.Provider,
		Subject:             req.User.Subject,
		Email:               req.User.Email,
		EmailVerified:       req.User.EmailVerified,
		Name:                req.User.Name,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.codeTTL()),
	}
	if err := s.store.SaveAuthorizationCode(ctx, code); err != nil {
		return nil, fmt.Errorf("save authorization code: %w", err)
	}

	s.Auditor.LogCodeIssued(req.User.Subject, client.ID, req.ClientIP, scope)
	if s.metrics != nil {
		s.metrics.RecordCodeIssued(ctx, client.ID)
	}

	return &AuthorizeResult{
		Code:        code.Code,
		State:       req.State,
		RedirectURI: redirectURI,
	}, nil
}

// TokenRequest is a parsed token endpoint request. ClientID and ClientSecret
// come from Basic auth or the form body; the HTTP layer resolves which.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string
	ClientID     string
	ClientSecret string
	ClientIP     string
}

// TokenResult is a successful token response.
type TokenResult struct {
	AccessToken  string
	TokenType    string
	ExpiresIn    int64
	RefreshToken string
	Scope        string
}

// ExchangeAuthorizationCode trades an authorization code for tokens. The code
// is consumed atomically; presenting a consumed code revokes every
// outstanding token the holder's user and client pair has.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, req TokenRequest) (*TokenResult, error) {
	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret, req.ClientIP)
	if err != nil {
		return nil, err
	}
	if req.Code == "" {
		return nil, flowErr(ErrorCodeInvalidRequest, "code is required")
	}

	code, err := s.store.ConsumeAuthorizationCode(ctx, req.Code)
	switch {
	case errors.Is(err, storage.ErrCodeConsumed):
		return nil, s.handleCodeReuse(ctx, code, client, req.ClientIP)
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrCodeExpired):
		s.auditAuthFailure("", client.ID, req.ClientIP, "invalid or expired code")
		return nil, flowErr(ErrorCodeInvalidGrant, "invalid or expired authorization code")
	case err != nil:
		return nil, fmt.Errorf("consume authorization code: %w", err)
	}

	// The code binds the exchange to the client and redirect URI it was
	// issued for. A mismatch on either is a stolen-code signal.
	if code.ClientID != client.ID {
		s.auditAuthFailure("", client.ID, req.ClientIP, "code issued to another client")
		return nil, flowErr(ErrorCodeInvalidGrant, "authorization code was not issued to this client")
	}
	if !redirectURIMatches(code, req.RedirectURI) {
		s.auditAuthFailure("", client.ID, req.ClientIP, "redirect_uri mismatch on exchange")
		return nil, flowErr(ErrorCodeInvalidGrant, "redirect_uri does not match the authorization request")
	}

	if code.CodeChallenge != "" {
		if err := pkce.Verify(code.CodeChallenge, code.CodeChallengeMethod, req.CodeVerifier); err != nil {
			s.Auditor.LogEvent(pkceFailureEvent(client.ID, req.ClientIP))
			if s.metrics != nil {
				s.metrics.RecordPKCEValidationFailed(ctx)
			}
			return nil, flowErr(ErrorCodeInvalidGrant, "PKCE verification failed")
		}
	} else if req.CodeVerifier != "" {
		return nil, flowErr(ErrorCodeInvalidGrant, "code_verifier provided for a code issued without a challenge")
	}

	user, m, err := s.provisioner.ProvisionLogin(ctx, membership.Login{
		ProjectID:     client.ProjectID,
		ClientID:      client.ID,
		FirstParty:    client.FirstParty,
		Provider:      code.Provider,
		Subject:       code.Subject,
		Email:         code.Email,
		EmailVerified: code.EmailVerified,
		Name:          code.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("provision login: %w", err)
	}
	role, err := membership.ParseRole(m.Role)
	if err != nil {
		return nil, fmt.Errorf("parse provisioned role: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordMembershipProvisioned(ctx, m.Role)
	}

	result, err := s.issueTokens(ctx, user, client, code.Scope, role)
	if err != nil {
		return nil, err
	}

	s.Auditor.LogTokenIssued(user.ExternalID, client.ID, req.ClientIP, code.Scope)
	if s.metrics != nil {
		s.metrics.RecordCodeExchange(ctx, client.ID)
		s.metrics.RecordTokenIssued(ctx, client.ID, "authorization_code")
	}
	return result, nil
}

// handleCodeReuse responds to a replayed authorization code: every token held
// by the code's user through this client is revoked before the error goes
// back.
func (s *Server) handleCodeReuse(ctx context.Context, stale *storage.AuthorizationCode, client *storage.Client, clientIP string) error {
	revoked := 0
	if stale != nil {
		if identity, err := s.store.GetIdentity(ctx, stale.Provider, stale.Subject); err == nil {
			n, err := s.store.RevokeAllForUserClient(ctx, identity.UserID, client.ID)
			if err != nil {
				s.logger.Error("revocation after code reuse failed", "error", err)
			}
			revoked = n
		}
	}
	s.Auditor.LogCodeReuse(subjectOf(stale), client.ID, clientIP, revoked)
	if s.metrics != nil {
		s.metrics.RecordCodeReuseDetected(ctx)
	}
	s.logger.Warn("authorization code reuse detected",
		"client_id", client.ID,
		"tokens_revoked", revoked)
	return flowErr(ErrorCodeInvalidGrant, "authorization code already used")
}

// RefreshAccessToken rotates a refresh token and mints a fresh access token
// reflecting the user's current state. Presenting a superseded token revokes
// its whole family.
func (s *Server) RefreshAccessToken(ctx context.Context, req TokenRequest) (*TokenResult, error) {
	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret, req.ClientIP)
	if err != nil {
		return nil, err
	}
	if req.RefreshToken == "" {
		return nil, flowErr(ErrorCodeInvalidRequest, "refresh_token is required")
	}

	presented, err := s.store.GetRefreshToken(ctx, req.RefreshToken)
	if errors.Is(err, storage.ErrNotFound) {
		s.auditAuthFailure("", client.ID, req.ClientIP, "unknown refresh token")
		return nil, flowErr(ErrorCodeInvalidGrant, "invalid refresh token")
	}
	if err != nil {
		return nil, fmt.Errorf("load refresh token: %w", err)
	}
	if presented.ClientID != client.ID {
		s.auditAuthFailure(presented.UserID, client.ID, req.ClientIP, "refresh token issued to another client")
		return nil, flowErr(ErrorCodeInvalidGrant, "invalid refresh token")
	}
	if security.IsExpired(presented.ExpiresAt) {
		return nil, flowErr(ErrorCodeInvalidGrant, "refresh token expired")
	}

	next := &storage.RefreshToken{
		Token:            oauth2.GenerateVerifier(),
		UserID:           presented.UserID,
		ClientID:         presented.ClientID,
		Scope:            presented.Scope,
		FamilyID:         presented.FamilyID,
		Generation:       presented.Generation + 1,
		PredecessorToken: presented.Token,
		CreatedAt:        s.now(),
		ExpiresAt:        s.now().Add(s.refreshTTL()),
	}
	err = s.store.RotateRefreshToken(ctx, presented.Token, next)
	switch {
	case errors.Is(err, storage.ErrTokenSuperseded):
		return nil, s.handleRefreshReuse(ctx, presented, client, req.ClientIP)
	case errors.Is(err, storage.ErrFamilyRevoked):
		s.auditAuthFailure(presented.UserID, client.ID, req.ClientIP, "refresh token family revoked")
		return nil, flowErr(ErrorCodeInvalidGrant, "invalid refresh token")
	case errors.Is(err, storage.ErrNotFound):
		return nil, flowErr(ErrorCodeInvalidGrant, "invalid refresh token")
	case err != nil:
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}

	// Claims come from the user's current state, not from issuance time. A
	// role change or revoked membership shows up on the next refresh.
	user, err := s.store.GetUser(ctx, presented.UserID)
	if err != nil {
		return nil, fmt.Errorf("load refresh user: %w", err)
	}
	m, err := s.store.GetMembership(ctx, client.ProjectID, user.ID)
	if errors.Is(err, storage.ErrNotFound) {
		s.auditAuthFailure(user.ExternalID, client.ID, req.ClientIP, "membership revoked")
		return nil, flowErr(ErrorCodeInvalidGrant, "access to this project has been revoked")
	}
	if err != nil {
		return nil, fmt.Errorf("load membership: %w", err)
	}
	role, err := membership.ParseRole(m.Role)
	if err != nil {
		return nil, fmt.Errorf("parse current role: %w", err)
	}

	access, expiresAt, err := s.signer.Sign(token.Identity{
		Subject:       user.ExternalID,
		ClientID:      client.ID,
		Scope:         presented.Scope,
		Permissions:   role.Permissions(),
		EmailVerified: user.EmailVerified,
	})
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	s.Auditor.LogTokenRefreshed(user.ExternalID, client.ID, req.ClientIP, next.Generation)
	if s.metrics != nil {
		s.metrics.RecordTokenRefresh(ctx, client.ID)
		s.metrics.RecordTokenIssued(ctx, client.ID, "refresh_token")
	}

	return &TokenResult{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int64(expiresAt.Sub(s.now()).Seconds()),
		RefreshToken: next.Token,
		Scope:        presented.Scope,
	}, nil
}

// handleRefreshReuse responds to a replayed refresh token by revoking the
// whole rotation family.
func (s *Server) handleRefreshReuse(ctx context.Context, presented *storage.RefreshToken, client *storage.Client, clientIP string) error {
	revoked, err := s.store.RevokeFamily(ctx, presented.FamilyID)
	if err != nil {
		s.logger.Error("family revocation after refresh reuse failed", "error", err)
	}
	s.Auditor.LogRefreshReuse(presented.UserID, client.ID, clientIP, presented.FamilyID, revoked)
	if s.metrics != nil {
		s.metrics.RecordRefreshReuseDetected(ctx)
	}
	s.logger.Warn("refresh token reuse detected",
		"client_id", client.ID,
		"family_id", presented.FamilyID,
		"generation", presented.Generation,
		"tokens_revoked", revoked)
	return flowErr(ErrorCodeInvalidGrant, "invalid refresh token")
}

// issueTokens signs an access token and starts a new refresh token family.
func (s *Server) issueTokens(ctx context.Context, user *storage.User, client *storage.Client, scope string, role membership.Role) (*TokenResult, error) {
	access, expiresAt, err := s.signer.Sign(token.Identity{
		Subject:       user.ExternalID,
		ClientID:      client.ID,
		Scope:         scope,
		Permissions:   role.Permissions(),
		EmailVerified: user.EmailVerified,
	})
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refresh := &storage.RefreshToken{
		Token:      oauth2.GenerateVerifier(),
		UserID:     user.ID,
		ClientID:   client.ID,
		Scope:      scope,
		FamilyID:   uuid.NewString(),
		Generation: 1,
		CreatedAt:  s.now(),
		ExpiresAt:  s.now().Add(s.refreshTTL()),
	}
	if err := s.store.SaveRefreshToken(ctx, refresh); err != nil {
		return nil, fmt.Errorf("save refresh token: %w", err)
	}

	return &TokenResult{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int64(expiresAt.Sub(s.now()).Seconds()),
		RefreshToken: refresh.Token,
		Scope:        scope,
	}, nil
}

func (s *Server) codeTTL() time.Duration {
	return time.Duration(s.config.AuthorizationCodeTTL) * time.Second
}

func (s *Server) refreshTTL() time.Duration {
	return time.Duration(s.config.RefreshTokenTTL) * time.Second
}

func subjectOf(code *storage.AuthorizationCode) string {
	if code == nil {
		return ""
	}
	return code.Subject
}

func normalizeChallengeMethod(method string) string {
	if strings.TrimSpace(method) == "" {
		return pkce.MethodS256
	}
	return method
}
