package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/loamlabs/project-oauth/membership"
	"github.com/loamlabs/project-oauth/pkce"
	"github.com/loamlabs/project-oauth/storage"
	"github.com/loamlabs/project-oauth/storage/memory"
	"github.com/loamlabs/project-oauth/token"
)

const (
	testIssuer    = "https://auth.example.com"
	testBootstrap = "bootstrap-user"
	testProject   = "proj-1"
)

type testEnv struct {
	server *Server
	store  storage.Store

	// confidential first-party client
	client *storage.Client
	secret string

	// public third-party client
	public *storage.Client
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()

	key, err := token.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}
	signer, err := token.NewSigner(testIssuer, key, time.Hour)
	if err != nil {
		t.Fatalf("NewSigner() error: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := New(store, signer, &Config{
		Issuer:          testIssuer,
		BootstrapUserID: testBootstrap,
	}, logger)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if err := store.CreateUser(ctx, &storage.User{
		ID:         testBootstrap,
		ExternalID: testBootstrap,
		Email:      "ops@example.com",
	}); err != nil {
		t.Fatalf("create bootstrap user: %v", err)
	}
	if err := srv.Provisioner().CreateProject(ctx, &storage.Project{ID: testProject, Name: "First"}); err != nil {
		t.Fatalf("CreateProject() error: %v", err)
	}

	client, secret, err := srv.RegisterClient(ctx, ClientRegistration{
		ProjectID:    testProject,
		Name:         "Dashboard",
		RedirectURIs: []string{"https://app.example.com/callback"},
		FirstParty:   true,
		Default:      true,
		Scopes:       []string{"openid", "records"},
	})
	if err != nil {
		t.Fatalf("RegisterClient() error: %v", err)
	}

	public, _, err := srv.RegisterClient(ctx, ClientRegistration{
		ProjectID:    testProject,
		Name:         "CLI",
		RedirectURIs: []string{"http://127.0.0.1:7777/callback"},
		Public:       true,
	})
	if err != nil {
		t.Fatalf("RegisterClient(public) error: %v", err)
	}

	return &testEnv{server: srv, store: store, client: client, secret: secret, public: public}
}

func (e *testEnv) authorize(t *testing.T, client *storage.Client, verifier string) *AuthorizeResult {
	t.Helper()
	res, err := e.server.Authorize(context.Background(), AuthorizeRequest{
		ClientID:            client.ID,
		RedirectURI:         client.RedirectURIs[0],
		ResponseType:        "code",
		Scope:               "openid",
		State:               "st-123",
		CodeChallenge:       pkce.Challenge(verifier),
		CodeChallengeMethod: pkce.MethodS256,
		User: AuthenticatedUser{
			Provider:      "github",
			Subject:       "gh-7",
			Email:         "dev@example.com",
			EmailVerified: true,
			Name:          "Dev",
		},
	})
	if err != nil {
		t.Fatalf("Authorize() error: %v", err)
	}
	return res
}

func (e *testEnv) exchange(t *testing.T, client *storage.Client, secret, code, verifier string) (*TokenResult, error) {
	t.Helper()
	return e.server.ExchangeAuthorizationCode(context.Background(), TokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  client.RedirectURIs[0],
		CodeVerifier: verifier,
		ClientID:     client.ID,
		ClientSecret: secret,
	})
}

func wantFlowError(t *testing.T, err error, code string) {
	t.Helper()
	var fe *FlowError
	if !errors.As(err, &fe) {
		t.Fatalf("got %v, want FlowError with code %s", err, code)
	}
	if fe.Code != code {
		t.Fatalf("error code = %s (%s), want %s", fe.Code, fe.Description, code)
	}
}

func TestAuthorizeIssuesCode(t *testing.T) {
	env := newTestEnv(t)
	verifier := oauth2.GenerateVerifier()
	res := env.authorize(t, env.client, verifier)

	if res.Code == "" {
		t.Fatal("no code issued")
	}
	if len(res.Code) < 32 {
		t.Errorf("code length = %d, want unguessable length", len(res.Code))
	}
	if res.State != "st-123" {
		t.Errorf("state = %q, want echo of st-123", res.State)
	}
	if res.RedirectURI != env.client.RedirectURIs[0] {
		t.Errorf("redirect = %q, want registered URI", res.RedirectURI)
	}

	// Codes are unique per request.
	again := env.authorize(t, env.client, verifier)
	if again.Code == res.Code {
		t.Error("two authorizations issued the same code")
	}
}

func TestAuthorizeRejections(t *testing.T) {
	env := newTestEnv(t)
	user := AuthenticatedUser{Provider: "github", Subject: "gh-7"}
	challenge := pkce.Challenge(oauth2.GenerateVerifier())

	tests := []struct {
		name string
		req  AuthorizeRequest
		code string
	}{
		{
			name: "unknown client",
			req:  AuthorizeRequest{ClientID: "nope", RedirectURI: "https://app.example.com/callback", ResponseType: "code", User: user, CodeChallenge: challenge},
			code: ErrorCodeInvalidClient,
		},
		{
			name: "missing client id",
			req:  AuthorizeRequest{ResponseType: "code", User: user},
			code: ErrorCodeInvalidRequest,
		},
		{
			name: "unregistered redirect",
			req:  AuthorizeRequest{ClientID: env.client.ID, RedirectURI: "https://evil.example.com/cb", ResponseType: "code", User: user, CodeChallenge: challenge},
			code: ErrorCodeInvalidRedirectURI,
		},
		{
			name: "prefix of registered redirect",
			req:  AuthorizeRequest{ClientID: env.client.ID, RedirectURI: "https://app.example.com/", ResponseType: "code", User: user, CodeChallenge: challenge},
			code: ErrorCodeInvalidRedirectURI,
		},
		{
			name: "wrong response type",
			req:  AuthorizeRequest{ClientID: env.client.ID, RedirectURI: "https://app.example.com/callback", ResponseType: "token", User: user, CodeChallenge: challenge},
			code: ErrorCodeInvalidRequest,
		},
		{
			name: "missing challenge",
			req:  AuthorizeRequest{ClientID: env.client.ID, RedirectURI: "https://app.example.com/callback", ResponseType: "code", User: user},
			code: ErrorCodeInvalidRequest,
		},
		{
			name: "plain challenge method",
			req:  AuthorizeRequest{ClientID: env.client.ID, RedirectURI: "https://app.example.com/callback", ResponseType: "code", User: user, CodeChallenge: challenge, CodeChallengeMethod: pkce.MethodPlain},
			code: ErrorCodeInvalidRequest,
		},
		{
			name: "unauthenticated request",
			req:  AuthorizeRequest{ClientID: env.client.ID, RedirectURI: "https://app.example.com/callback", ResponseType: "code", CodeChallenge: challenge},
			code: ErrorCodeInvalidRequest,
		},
		{
			name: "scope outside client grant",
			req:  AuthorizeRequest{ClientID: env.client.ID, RedirectURI: "https://app.example.com/callback", ResponseType: "code", User: user, CodeChallenge: challenge, Scope: "admin"},
			code: ErrorCodeInvalidRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.server.Authorize(context.Background(), tt.req)
			wantFlowError(t, err, tt.code)
		})
	}
}

func TestExchangeIssuesTokens(t *testing.T) {
	env := newTestEnv(t)
	verifier := oauth2.GenerateVerifier()
	res := env.authorize(t, env.client, verifier)

	tokens, err := env.exchange(t, env.client, env.secret, res.Code, verifier)
	if err != nil {
		t.Fatalf("ExchangeAuthorizationCode() error: %v", err)
	}
	if tokens.TokenType != "Bearer" {
		t.Errorf("token type = %q, want Bearer", tokens.TokenType)
	}
	if tokens.RefreshToken == "" {
		t.Error("no refresh token issued")
	}
	if tokens.ExpiresIn <= 0 {
		t.Errorf("expires_in = %d, want positive", tokens.ExpiresIn)
	}

	claims, err := env.server.CurrentClaims(tokens.AccessToken)
	if err != nil {
		t.Fatalf("CurrentClaims() error: %v", err)
	}
	if claims.Subject == "" {
		t.Fatal("claims carry no subject")
	}
	if claims.Scope != "openid" {
		t.Errorf("scope = %q, want openid", claims.Scope)
	}
	// First-party login provisions member, which can read and write records.
	if !containsString(claims.Permissions, "records.write") {
		t.Errorf("permissions = %v, want records.write for a member", claims.Permissions)
	}
	if containsString(claims.Permissions, "project.admin") {
		t.Errorf("permissions = %v, member must not hold project.admin", claims.Permissions)
	}

	ok, err := env.server.CheckRole(context.Background(), testProject, userIDFor(t, env, claims.Subject), membership.RoleMember)
	if err != nil {
		t.Fatalf("CheckRole() error: %v", err)
	}
	if !ok {
		t.Error("provisioned user does not hold member role")
	}
}

func TestExchangeThirdPartyProvisionsUserRole(t *testing.T) {
	env := newTestEnv(t)
	verifier := oauth2.GenerateVerifier()
	res := env.authorize(t, env.public, verifier)

	tokens, err := env.exchange(t, env.public, "", res.Code, verifier)
	if err != nil {
		t.Fatalf("ExchangeAuthorizationCode() error: %v", err)
	}
	claims, err := env.server.CurrentClaims(tokens.AccessToken)
	if err != nil {
		t.Fatalf("CurrentClaims() error: %v", err)
	}
	if containsString(claims.Permissions, "records.write") {
		t.Errorf("permissions = %v, third-party login must not grant records.write", claims.Permissions)
	}
	if !containsString(claims.Permissions, "records.read") {
		t.Errorf("permissions = %v, want records.read", claims.Permissions)
	}
}

func TestExchangeAcrossProjects(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.server.Provisioner().CreateProject(ctx, &storage.Project{ID: "proj-2", Name: "Second"}); err != nil {
		t.Fatalf("CreateProject() error: %v", err)
	}
	second, secondSecret, err := env.server.RegisterClient(ctx, ClientRegistration{
		ProjectID:    "proj-2",
		Name:         "Second Dashboard",
		RedirectURIs: []string{"https://second.example.com/callback"},
		FirstParty:   true,
		Scopes:       []string{"openid"},
	})
	if err != nil {
		t.Fatalf("RegisterClient() error: %v", err)
	}

	// Third-party login on the first project grants user there.
	verifier := oauth2.GenerateVerifier()
	res := env.authorize(t, env.public, verifier)
	tokens, err := env.exchange(t, env.public, "", res.Code, verifier)
	if err != nil {
		t.Fatalf("first exchange error: %v", err)
	}
	claims, err := env.server.CurrentClaims(tokens.AccessToken)
	if err != nil {
		t.Fatalf("CurrentClaims() error: %v", err)
	}
	userID := userIDFor(t, env, claims.Subject)
	first, err := env.store.GetMembership(ctx, testProject, userID)
	if err != nil {
		t.Fatalf("GetMembership(proj-1) error: %v", err)
	}
	if first.Role != membership.RoleUser.String() {
		t.Fatalf("first project role = %q, want user", first.Role)
	}

	// The same person through the second project's first-party client gets
	// a second membership there.
	verifier = oauth2.GenerateVerifier()
	res = env.authorize(t, second, verifier)
	if _, err := env.exchange(t, second, secondSecret, res.Code, verifier); err != nil {
		t.Fatalf("second exchange error: %v", err)
	}
	m2, err := env.store.GetMembership(ctx, "proj-2", userID)
	if err != nil {
		t.Fatalf("GetMembership(proj-2) error: %v", err)
	}
	if m2.Role != membership.RoleMember.String() {
		t.Errorf("second project role = %q, want member", m2.Role)
	}

	// The first project's membership is untouched.
	got, err := env.store.GetMembership(ctx, testProject, userID)
	if err != nil {
		t.Fatalf("GetMembership(proj-1) after second login error: %v", err)
	}
	if got.Role != membership.RoleUser.String() {
		t.Errorf("first project role changed to %q", got.Role)
	}
	if !got.CreatedAt.Equal(first.CreatedAt) {
		t.Error("first membership row was rewritten")
	}
}

func TestExchangeWithOmittedRedirectURI(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	authorizeWithout := func(t *testing.T, verifier string) *AuthorizeResult {
		t.Helper()
		res, err := env.server.Authorize(ctx, AuthorizeRequest{
			ClientID:            env.client.ID,
			ResponseType:        "code",
			Scope:               "openid",
			CodeChallenge:       pkce.Challenge(verifier),
			CodeChallengeMethod: pkce.MethodS256,
			User:                AuthenticatedUser{Provider: "github", Subject: "gh-7", Email: "dev@example.com"},
		})
		if err != nil {
			t.Fatalf("Authorize() error: %v", err)
		}
		return res
	}

	t.Run("omitted both times", func(t *testing.T) {
		verifier := oauth2.GenerateVerifier()
		res := authorizeWithout(t, verifier)
		if res.RedirectURI != env.client.RedirectURIs[0] {
			t.Fatalf("resolved redirect = %q", res.RedirectURI)
		}
		_, err := env.server.ExchangeAuthorizationCode(ctx, TokenRequest{
			Code:         res.Code,
			CodeVerifier: verifier,
			ClientID:     env.client.ID,
			ClientSecret: env.secret,
		})
		if err != nil {
			t.Errorf("exchange without redirect_uri error: %v", err)
		}
	})

	t.Run("omitted then supplied", func(t *testing.T) {
		verifier := oauth2.GenerateVerifier()
		res := authorizeWithout(t, verifier)
		if _, err := env.exchange(t, env.client, env.secret, res.Code, verifier); err != nil {
			t.Errorf("exchange with registered redirect_uri error: %v", err)
		}
	})

	t.Run("supplied then omitted", func(t *testing.T) {
		verifier := oauth2.GenerateVerifier()
		res := env.authorize(t, env.client, verifier)
		_, err := env.server.ExchangeAuthorizationCode(ctx, TokenRequest{
			Code:         res.Code,
			CodeVerifier: verifier,
			ClientID:     env.client.ID,
			ClientSecret: env.secret,
		})
		wantFlowError(t, err, ErrorCodeInvalidGrant)
	})
}

func TestExchangeRejections(t *testing.T) {
	env := newTestEnv(t)

	t.Run("wrong verifier", func(t *testing.T) {
		res := env.authorize(t, env.client, oauth2.GenerateVerifier())
		_, err := env.exchange(t, env.client, env.secret, res.Code, oauth2.GenerateVerifier())
		wantFlowError(t, err, ErrorCodeInvalidGrant)
	})

	t.Run("unknown code", func(t *testing.T) {
		_, err := env.exchange(t, env.client, env.secret, "no-such-code", "v")
		wantFlowError(t, err, ErrorCodeInvalidGrant)
	})

	t.Run("code issued to another client", func(t *testing.T) {
		verifier := oauth2.GenerateVerifier()
		res := env.authorize(t, env.client, verifier)
		_, err := env.exchange(t, env.public, "", res.Code, verifier)
		wantFlowError(t, err, ErrorCodeInvalidGrant)
	})

	t.Run("redirect mismatch", func(t *testing.T) {
		verifier := oauth2.GenerateVerifier()
		res := env.authorize(t, env.client, verifier)
		_, err := env.server.ExchangeAuthorizationCode(context.Background(), TokenRequest{
			Code:         res.Code,
			RedirectURI:  "https://app.example.com/other",
			CodeVerifier: verifier,
			ClientID:     env.client.ID,
			ClientSecret: env.secret,
		})
		wantFlowError(t, err, ErrorCodeInvalidGrant)
	})

	t.Run("bad client secret", func(t *testing.T) {
		verifier := oauth2.GenerateVerifier()
		res := env.authorize(t, env.client, verifier)
		_, err := env.exchange(t, env.client, "wrong", res.Code, verifier)
		wantFlowError(t, err, ErrorCodeInvalidClient)
	})

	t.Run("public client presenting a secret", func(t *testing.T) {
		verifier := oauth2.GenerateVerifier()
		res := env.authorize(t, env.public, verifier)
		_, err := env.exchange(t, env.public, "surprise", res.Code, verifier)
		wantFlowError(t, err, ErrorCodeInvalidClient)
	})

	t.Run("expired code", func(t *testing.T) {
		verifier := oauth2.GenerateVerifier()
		stale := &storage.AuthorizationCode{
			Code:                "stale-code",
			ClientID:            env.client.ID,
			RedirectURI:         env.client.RedirectURIs[0],
			CodeChallenge:       pkce.Challenge(verifier),
			CodeChallengeMethod: pkce.MethodS256,
			Provider:            "github",
			Subject:             "gh-7",
			CreatedAt:           time.Now().Add(-20 * time.Minute),
			ExpiresAt:           time.Now().Add(-10 * time.Minute),
		}
		if err := env.store.SaveAuthorizationCode(context.Background(), stale); err != nil {
			t.Fatalf("seed expired code: %v", err)
		}
		_, err := env.exchange(t, env.client, env.secret, stale.Code, verifier)
		wantFlowError(t, err, ErrorCodeInvalidGrant)
	})
}

func TestExchangeCodeReuseRevokesTokens(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	verifier := oauth2.GenerateVerifier()
	res := env.authorize(t, env.client, verifier)

	tokens, err := env.exchange(t, env.client, env.secret, res.Code, verifier)
	if err != nil {
		t.Fatalf("first exchange error: %v", err)
	}

	_, err = env.exchange(t, env.client, env.secret, res.Code, verifier)
	wantFlowError(t, err, ErrorCodeInvalidGrant)

	// The replay revoked the refresh token the first exchange produced.
	_, err = env.server.RefreshAccessToken(ctx, TokenRequest{
		RefreshToken: tokens.RefreshToken,
		ClientID:     env.client.ID,
		ClientSecret: env.secret,
	})
	wantFlowError(t, err, ErrorCodeInvalidGrant)
}

func TestRefreshRotatesToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	verifier := oauth2.GenerateVerifier()
	res := env.authorize(t, env.client, verifier)
	tokens, err := env.exchange(t, env.client, env.secret, res.Code, verifier)
	if err != nil {
		t.Fatalf("exchange error: %v", err)
	}

	refreshed, err := env.server.RefreshAccessToken(ctx, TokenRequest{
		RefreshToken: tokens.RefreshToken,
		ClientID:     env.client.ID,
		ClientSecret: env.secret,
	})
	if err != nil {
		t.Fatalf("RefreshAccessToken() error: %v", err)
	}
	if refreshed.RefreshToken == tokens.RefreshToken {
		t.Error("rotation returned the same refresh token")
	}
	if _, err := env.server.CurrentClaims(refreshed.AccessToken); err != nil {
		t.Errorf("refreshed access token does not verify: %v", err)
	}

	// Replaying the superseded token revokes the family, including the
	// successor.
	_, err = env.server.RefreshAccessToken(ctx, TokenRequest{
		RefreshToken: tokens.RefreshToken,
		ClientID:     env.client.ID,
		ClientSecret: env.secret,
	})
	wantFlowError(t, err, ErrorCodeInvalidGrant)

	_, err = env.server.RefreshAccessToken(ctx, TokenRequest{
		RefreshToken: refreshed.RefreshToken,
		ClientID:     env.client.ID,
		ClientSecret: env.secret,
	})
	wantFlowError(t, err, ErrorCodeInvalidGrant)
}

func TestRefreshReflectsCurrentRole(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	verifier := oauth2.GenerateVerifier()
	res := env.authorize(t, env.client, verifier)
	tokens, err := env.exchange(t, env.client, env.secret, res.Code, verifier)
	if err != nil {
		t.Fatalf("exchange error: %v", err)
	}
	claims, err := env.server.CurrentClaims(tokens.AccessToken)
	if err != nil {
		t.Fatalf("CurrentClaims() error: %v", err)
	}
	userID := userIDFor(t, env, claims.Subject)

	if err := env.server.Guard().ChangeRole(ctx, testProject, userID, membership.RoleAdmin); err != nil {
		t.Fatalf("ChangeRole() error: %v", err)
	}

	refreshed, err := env.server.RefreshAccessToken(ctx, TokenRequest{
		RefreshToken: tokens.RefreshToken,
		ClientID:     env.client.ID,
		ClientSecret: env.secret,
	})
	if err != nil {
		t.Fatalf("RefreshAccessToken() error: %v", err)
	}
	newClaims, err := env.server.CurrentClaims(refreshed.AccessToken)
	if err != nil {
		t.Fatalf("CurrentClaims() error: %v", err)
	}
	if !containsString(newClaims.Permissions, "members.manage") {
		t.Errorf("permissions = %v, want admin permissions after role change", newClaims.Permissions)
	}
}

func TestRefreshAfterMembershipRemoval(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	verifier := oauth2.GenerateVerifier()
	res := env.authorize(t, env.client, verifier)
	tokens, err := env.exchange(t, env.client, env.secret, res.Code, verifier)
	if err != nil {
		t.Fatalf("exchange error: %v", err)
	}
	claims, err := env.server.CurrentClaims(tokens.AccessToken)
	if err != nil {
		t.Fatalf("CurrentClaims() error: %v", err)
	}

	if err := env.server.Guard().RemoveMembership(ctx, testProject, userIDFor(t, env, claims.Subject)); err != nil {
		t.Fatalf("RemoveMembership() error: %v", err)
	}

	_, err = env.server.RefreshAccessToken(ctx, TokenRequest{
		RefreshToken: tokens.RefreshToken,
		ClientID:     env.client.ID,
		ClientSecret: env.secret,
	})
	wantFlowError(t, err, ErrorCodeInvalidGrant)
}

func TestRefreshWithWrongClient(t *testing.T) {
	env := newTestEnv(t)
	verifier := oauth2.GenerateVerifier()
	res := env.authorize(t, env.client, verifier)
	tokens, err := env.exchange(t, env.client, env.secret, res.Code, verifier)
	if err != nil {
		t.Fatalf("exchange error: %v", err)
	}

	_, err = env.server.RefreshAccessToken(context.Background(), TokenRequest{
		RefreshToken: tokens.RefreshToken,
		ClientID:     env.public.ID,
	})
	wantFlowError(t, err, ErrorCodeInvalidGrant)
}

func TestRegisterClientHashesSecret(t *testing.T) {
	env := newTestEnv(t)
	if env.secret == "" {
		t.Fatal("confidential client got no secret")
	}
	if strings.Contains(env.client.SecretHash, env.secret) {
		t.Error("secret stored in the clear")
	}
	if !strings.HasPrefix(env.client.SecretHash, "$2") {
		t.Errorf("secret hash = %q, want bcrypt", env.client.SecretHash)
	}
	if env.public.SecretHash != "" {
		t.Error("public client has a secret hash")
	}
	if !env.public.RequirePKCE {
		t.Error("public client does not require PKCE")
	}
}

func TestDeleteClientProtectsDefault(t *testing.T) {
	env := newTestEnv(t)
	err := env.server.DeleteClient(context.Background(), env.client.ID)
	if !errors.Is(err, storage.ErrClientProtected) {
		t.Fatalf("DeleteClient(default) = %v, want ErrClientProtected", err)
	}
	if err := env.server.DeleteClient(context.Background(), env.public.ID); err != nil {
		t.Fatalf("DeleteClient(public) error: %v", err)
	}
}

func TestApplySecureDefaults(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := applySecureDefaults(&Config{}, logger)
	if !cfg.RequirePKCE {
		t.Error("zero config did not default to mandatory PKCE")
	}
	if cfg.AuthorizationCodeTTL != 600 || cfg.AccessTokenTTL != 3600 || cfg.RefreshTokenTTL != 7776000 {
		t.Errorf("TTL defaults = %d/%d/%d", cfg.AuthorizationCodeTTL, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	}
	if cfg.TrustedProxyCount != 1 {
		t.Errorf("TrustedProxyCount = %d, want 1", cfg.TrustedProxyCount)
	}
}

// userIDFor resolves an external subject back to the storage user id.
func userIDFor(t *testing.T, env *testEnv, subject string) string {
	t.Helper()
	user, err := env.store.GetUserByExternalID(context.Background(), subject)
	if err != nil {
		t.Fatalf("GetUserByExternalID(%q) error: %v", subject, err)
	}
	return user.ID
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
