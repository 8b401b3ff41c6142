package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the shared metric instruments.
type Metrics struct {
	// HTTP layer
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Flow counters
	AuthorizationRequests metric.Int64Counter
	CodesIssued           metric.Int64Counter
	CodesExchanged        metric.Int64Counter
	TokensIssued          metric.Int64Counter
	TokensRefreshed       metric.Int64Counter

	// Security counters
	CodeReuseDetected    metric.Int64Counter
	RefreshReuseDetected metric.Int64Counter
	PKCEValidationFailed metric.Int64Counter
	RateLimitExceeded    metric.Int64Counter

	// Provisioning counters
	MembershipsProvisioned metric.Int64Counter
	ProjectsCreated        metric.Int64Counter
}

func newMetrics(inst *Instrumentation) (*Metrics, error) {
	httpMeter := inst.Meter("http")
	serverMeter := inst.Meter("server")
	securityMeter := inst.Meter("security")
	membershipMeter := inst.Meter("membership")

	m := &Metrics{}
	var err error

	m.HTTPRequestsTotal, err = httpMeter.Int64Counter(
		"oauth.http.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http.requests.total: %w", err)
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"oauth.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http.request.duration: %w", err)
	}

	m.AuthorizationRequests, err = serverMeter.Int64Counter(
		"oauth.authorization.requests",
		metric.WithDescription("Number of authorization requests processed"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create authorization.requests: %w", err)
	}

	m.CodesIssued, err = serverMeter.Int64Counter(
		"oauth.code.issued",
		metric.WithDescription("Number of authorization codes issued"),
		metric.WithUnit("{code}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create code.issued: %w", err)
	}

	m.CodesExchanged, err = serverMeter.Int64Counter(
		"oauth.code.exchanged",
		metric.WithDescription("Number of authorization codes exchanged for tokens"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create code.exchanged: %w", err)
	}

	m.TokensIssued, err = serverMeter.Int64Counter(
		"oauth.token.issued",
		metric.WithDescription("Number of access tokens issued"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create token.issued: %w", err)
	}

	m.TokensRefreshed, err = serverMeter.Int64Counter(
		"oauth.token.refreshed",
		metric.WithDescription("Number of refresh rotations completed"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create token.refreshed: %w", err)
	}

	m.CodeReuseDetected, err = securityMeter.Int64Counter(
		"oauth.code.reuse_detected",
		metric.WithDescription("Number of authorization code replay attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create code.reuse_detected: %w", err)
	}

	m.RefreshReuseDetected, err = securityMeter.Int64Counter(
		"oauth.refresh.reuse_detected",
		metric.WithDescription("Number of refresh token replay attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create refresh.reuse_detected: %w", err)
	}

	m.PKCEValidationFailed, err = securityMeter.Int64Counter(
		"oauth.pkce.validation_failed",
		metric.WithDescription("Number of PKCE verification failures"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create pkce.validation_failed: %w", err)
	}

	m.RateLimitExceeded, err = securityMeter.Int64Counter(
		"oauth.rate_limit.exceeded",
		metric.WithDescription("Number of rate limit violations"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create rate_limit.exceeded: %w", err)
	}

	m.MembershipsProvisioned, err = membershipMeter.Int64Counter(
		"membership.provisioned",
		metric.WithDescription("Number of memberships created by provisioning"),
		metric.WithUnit("{membership}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create membership.provisioned: %w", err)
	}

	m.ProjectsCreated, err = membershipMeter.Int64Counter(
		"membership.projects_created",
		metric.WithDescription("Number of projects created"),
		metric.WithUnit("{project}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create membership.projects_created: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
	))
}

// RecordCodeIssued records an authorization code grant.
func (m *Metrics) RecordCodeIssued(ctx context.Context, clientID string) {
	m.CodesIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordCodeExchange records a code-for-token exchange.
func (m *Metrics) RecordCodeExchange(ctx context.Context, clientID string) {
	m.CodesExchanged.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordTokenIssued records an access token issuance.
func (m *Metrics) RecordTokenIssued(ctx context.Context, clientID, grantType string) {
	m.TokensIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.String("grant_type", grantType),
	))
}

// RecordTokenRefresh records a completed rotation.
func (m *Metrics) RecordTokenRefresh(ctx context.Context, clientID string) {
	m.TokensRefreshed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordCodeReuseDetected records an authorization code replay.
func (m *Metrics) RecordCodeReuseDetected(ctx context.Context) {
	m.CodeReuseDetected.Add(ctx, 1)
}

// RecordRefreshReuseDetected records a refresh token replay.
func (m *Metrics) RecordRefreshReuseDetected(ctx context.Context) {
	m.RefreshReuseDetected.Add(ctx, 1)
}

// RecordPKCEValidationFailed records a verifier mismatch.
func (m *Metrics) RecordPKCEValidationFailed(ctx context.Context) {
	m.PKCEValidationFailed.Add(ctx, 1)
}

// RecordRateLimitExceeded records a rate limit violation.
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, endpoint string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
	))
}

// RecordMembershipProvisioned records a provisioned membership.
func (m *Metrics) RecordMembershipProvisioned(ctx context.Context, role string) {
	m.MembershipsProvisioned.Add(ctx, 1, metric.WithAttributes(
		attribute.String("role", role),
	))
}

// RecordProjectCreated records a new tenant.
func (m *Metrics) RecordProjectCreated(ctx context.Context) {
	m.ProjectsCreated.Add(ctx, 1)
}
