// Package server implements the authorization server core: the authorization
// and token flows, client registration, and the role and claims surface that
// resource servers call. HTTP wiring lives in the parent package; everything
// here takes parsed requests and returns results or *FlowError values.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loamlabs/project-oauth/instrumentation"
	"github.com/loamlabs/project-oauth/membership"
	"github.com/loamlabs/project-oauth/security"
	"github.com/loamlabs/project-oauth/storage"
	"github.com/loamlabs/project-oauth/token"
)

// Server holds the wired dependencies for the OAuth flows.
type Server struct {
	store       storage.Store
	signer      *token.Signer
	verifier    *token.Verifier
	provisioner *membership.Provisioner
	guard       *membership.Guard
	config      *Config
	logger      *slog.Logger
	metrics     *instrumentation.Metrics
	now         func() time.Time

	// Auditor receives security events. Optional; a nil auditor is a no-op.
	Auditor *security.Auditor

	// SecurityEventRateLimiter caps per-IP audit volume for failure events
	// so an attacker cannot flood the audit log. Optional.
	SecurityEventRateLimiter *security.RateLimiter
}

// New creates a server. Store, signer, and config are required; the
// provisioner and guard are built from the store and the config's bootstrap
// account.
func New(store storage.Store, signer *token.Signer, config *Config, logger *slog.Logger) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if config.Issuer == "" {
		return nil, fmt.Errorf("config.Issuer is required")
	}
	if config.BootstrapUserID == "" {
		return nil, fmt.Errorf("config.BootstrapUserID is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	config = applySecureDefaults(config, logger)

	verifier, err := signer.VerifierFor()
	if err != nil {
		return nil, fmt.Errorf("build verifier: %w", err)
	}
	provisioner, err := membership.NewProvisioner(store, config.BootstrapUserID, logger)
	if err != nil {
		return nil, err
	}
	guard, err := membership.NewGuard(store, config.BootstrapUserID)
	if err != nil {
		return nil, err
	}

	return &Server{
		store:       store,
		signer:      signer,
		verifier:    verifier,
		provisioner: provisioner,
		guard:       guard,
		config:      config,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// SetMetrics attaches metric instruments. Flows record nothing without them.
func (s *Server) SetMetrics(m *instrumentation.Metrics) {
	s.metrics = m
}

// Config returns the effective configuration after defaults.
func (s *Server) Config() *Config {
	return s.config
}

// Provisioner exposes the membership provisioner for administrative use.
func (s *Server) Provisioner() *membership.Provisioner {
	return s.provisioner
}

// Guard exposes the role guard for administrative use.
func (s *Server) Guard() *membership.Guard {
	return s.guard
}

// KeySet returns the JWKS for the signer's active and retired keys.
func (s *Server) KeySet() token.JWKS {
	return s.signer.KeySet()
}

// CheckRole reports whether the user holds at least min in the project. This
// is the authorization question resource servers ask; a missing membership
// answers false without error.
func (s *Server) CheckRole(ctx context.Context, projectID, userID string, min membership.Role) (bool, error) {
	return s.guard.CheckRole(ctx, projectID, userID, min)
}

// CurrentClaims verifies an access token and returns its claims.
// Verification fails closed with token.ErrInvalidToken.
func (s *Server) CurrentClaims(raw string) (*token.Claims, error) {
	return s.verifier.Verify(raw)
}

// EnsureBootstrapOwner repairs the bootstrap account's owner memberships
// across all projects. Run at startup.
func (s *Server) EnsureBootstrapOwner(ctx context.Context) error {
	return s.provisioner.EnsureBootstrapOwner(ctx)
}

// RunCleanup periodically removes expired authorization codes and dead
// refresh tokens. Blocks until ctx is done.
func (s *Server) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	retention := time.Duration(s.config.DeadTokenRetention) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.store.CleanupExpired(ctx, s.now(), retention)
			if err != nil {
				s.logger.Error("cleanup failed", "error", err)
				continue
			}
			if removed > 0 {
				s.logger.Info("cleanup removed expired records", "count", removed)
			}
		}
	}
}

// auditAuthFailure logs an authentication failure unless the source IP has
// exhausted its security-event budget. Reuse detections bypass this; they are
// too important to drop.
func (s *Server) auditAuthFailure(userID, clientID, ip, reason string) {
	if s.SecurityEventRateLimiter != nil && !s.SecurityEventRateLimiter.Allow(ip) {
		return
	}
	s.Auditor.LogAuthFailure(userID, clientID, ip, reason)
}

// safeTruncate shortens a string for logging without panicking on short input.
func safeTruncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
