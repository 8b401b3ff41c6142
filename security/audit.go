// Package security provides the server's security plumbing: audit logging
// with PII protection, per-identifier rate limiting, client IP extraction,
// response header hardening, and clock-skew tolerant expiry checks.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor logs security events with hashed identifiers. User ids and emails
// never reach the log in the clear; the 16-hex-char hash is enough to
// correlate events for one subject.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates an auditor. A nil logger falls back to slog.Default.
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{logger: logger, enabled: enabled}
}

// Event is one security audit record.
type Event struct {
	Type      string
	UserID    string
	ClientID  string
	ProjectID string
	IPAddress string
	Details   map[string]any
}

// LogEvent writes an event with hashed PII.
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}
	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_id_hash", HashForLogging(event.UserID),
		"client_id", event.ClientID,
		"project_id", event.ProjectID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", time.Now(),
	)
}

// LogCodeIssued records an authorization code grant.
func (a *Auditor) LogCodeIssued(userID, clientID, ip, scope string) {
	a.LogEvent(Event{
		Type: EventCodeIssued, UserID: userID, ClientID: clientID, IPAddress: ip,
		Details: map[string]any{"scope": scope},
	})
}

// LogTokenIssued records an access token issuance.
func (a *Auditor) LogTokenIssued(userID, clientID, ip, scope string) {
	a.LogEvent(Event{
		Type: EventTokenIssued, UserID: userID, ClientID: clientID, IPAddress: ip,
		Details: map[string]any{"scope": scope},
	})
}

// LogTokenRefreshed records a refresh token rotation.
func (a *Auditor) LogTokenRefreshed(userID, clientID, ip string, generation int) {
	a.LogEvent(Event{
		Type: EventTokenRefreshed, UserID: userID, ClientID: clientID, IPAddress: ip,
		Details: map[string]any{"generation": generation},
	})
}

// LogCodeReuse records an authorization code replay and how many tokens the
// response revoked.
func (a *Auditor) LogCodeReuse(userID, clientID, ip string, revoked int) {
	a.LogEvent(Event{
		Type: EventCodeReuseDetected, UserID: userID, ClientID: clientID, IPAddress: ip,
		Details: map[string]any{"tokens_revoked": revoked},
	})
}

// LogRefreshReuse records a refresh token replay and the family revocation.
func (a *Auditor) LogRefreshReuse(userID, clientID, ip, familyID string, revoked int) {
	a.LogEvent(Event{
		Type: EventRefreshReuseDetected, UserID: userID, ClientID: clientID, IPAddress: ip,
		Details: map[string]any{"family_id": familyID, "tokens_revoked": revoked},
	})
}

// LogAuthFailure records a failed client or user authentication.
func (a *Auditor) LogAuthFailure(userID, clientID, ip, reason string) {
	a.LogEvent(Event{
		Type: EventAuthFailure, UserID: userID, ClientID: clientID, IPAddress: ip,
		Details: map[string]any{"reason": reason},
	})
}

// LogRateLimitExceeded records a rate limit violation.
func (a *Auditor) LogRateLimitExceeded(ip string) {
	a.LogEvent(Event{Type: EventRateLimitExceeded, IPAddress: ip})
}

// LogMembershipProvisioned records a first-login or invitation membership.
func (a *Auditor) LogMembershipProvisioned(userID, projectID, role string) {
	a.LogEvent(Event{
		Type: EventMembershipProvisioned, UserID: userID, ProjectID: projectID,
		Details: map[string]any{"role": role},
	})
}

// HashForLogging hashes sensitive data so logs can correlate without
// exposing it.
func HashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
