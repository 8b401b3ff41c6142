package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/loamlabs/project-oauth/storage"
)

// ClientRegistration describes a client to create.
type ClientRegistration struct {
	ProjectID    string
	Name         string
	RedirectURIs []string

	// Public marks a client that cannot hold a secret (native or browser
	// apps). Public clients always require PKCE.
	Public bool

	// FirstParty marks clients operated by the project itself. Logins
	// through them provision the member role.
	FirstParty bool

	// Default marks the client created alongside the project; it cannot be
	// deleted while the project exists.
	Default bool

	Scopes      []string
	RequirePKCE bool
}

// RegisterClient creates a client under a project. For confidential clients
// the generated secret is returned once, in the clear; only its bcrypt hash
// is stored.
func (s *Server) RegisterClient(ctx context.Context, reg ClientRegistration) (*storage.Client, string, error) {
	if reg.ProjectID == "" {
		return nil, "", fmt.Errorf("project id is required")
	}
	if len(reg.RedirectURIs) == 0 {
		return nil, "", fmt.Errorf("at least one redirect URI is required")
	}
	if _, err := s.store.GetProject(ctx, reg.ProjectID); err != nil {
		return nil, "", fmt.Errorf("load project: %w", err)
	}

	var secret, secretHash string
	if !reg.Public {
		secret = oauth2.GenerateVerifier()
		hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
		if err != nil {
			return nil, "", fmt.Errorf("hash client secret: %w", err)
		}
		secretHash = string(hash)
	}

	client := &storage.Client{
		ID:           uuid.NewString(),
		SecretHash:   secretHash,
		ProjectID:    reg.ProjectID,
		Name:         reg.Name,
		RedirectURIs: reg.RedirectURIs,
		Scopes:       reg.Scopes,
		RequirePKCE:  reg.RequirePKCE || reg.Public,
		FirstParty:   reg.FirstParty,
		Default:      reg.Default,
		CreatedAt:    s.now(),
	}
	if err := s.store.SaveClient(ctx, client); err != nil {
		return nil, "", fmt.Errorf("save client: %w", err)
	}

	s.logger.Info("client registered",
		"client_id", client.ID,
		"project_id", client.ProjectID,
		"public", reg.Public,
		"first_party", client.FirstParty)
	return client, secret, nil
}

// DeleteClient removes a client. The project's default client is protected.
func (s *Server) DeleteClient(ctx context.Context, clientID string) error {
	err := s.store.DeleteClient(ctx, clientID)
	if errors.Is(err, storage.ErrClientProtected) {
		return fmt.Errorf("client %s is the project default: %w", clientID, err)
	}
	return err
}

// authenticateClient verifies client credentials for the token endpoint.
// Confidential clients must present their secret; public clients must not
// present one. Every failure maps to invalid_client without detail.
func (s *Server) authenticateClient(ctx context.Context, clientID, clientSecret, clientIP string) (*storage.Client, error) {
	if clientID == "" {
		return nil, flowErr(ErrorCodeInvalidClient, "client authentication required")
	}
	client, err := s.store.GetClient(ctx, clientID)
	if errors.Is(err, storage.ErrNotFound) {
		// Burn a comparison anyway so unknown ids cost the same as bad
		// secrets.
		_ = bcrypt.CompareHashAndPassword([]byte(dummyBcryptHash), []byte(clientSecret))
		s.auditAuthFailure("", clientID, clientIP, "unknown client")
		return nil, flowErr(ErrorCodeInvalidClient, "invalid client credentials")
	}
	if err != nil {
		return nil, fmt.Errorf("load client: %w", err)
	}

	if client.SecretHash == "" {
		if clientSecret != "" {
			s.auditAuthFailure("", clientID, clientIP, "secret presented for public client")
			return nil, flowErr(ErrorCodeInvalidClient, "invalid client credentials")
		}
		return client, nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(clientSecret)); err != nil {
		s.auditAuthFailure("", clientID, clientIP, "bad client secret")
		return nil, flowErr(ErrorCodeInvalidClient, "invalid client credentials")
	}
	return client, nil
}

// dummyBcryptHash is a hash of random bytes, never a real secret. It keeps
// the unknown-client path timing-equivalent to the bad-secret path.
const dummyBcryptHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"
