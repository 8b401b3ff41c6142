package instrumentation

import (
	"context"
	"testing"
)

func TestNewDefaults(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if inst.Metrics() == nil {
		t.Fatal("Metrics() returned nil")
	}
	if inst.Tracer("server") == nil {
		t.Error("Tracer() returned nil")
	}
	if inst.ShouldLogClientIPs() {
		t.Error("client IP logging should default to off")
	}
}

func TestMetricsRecordWithNoopProviders(t *testing.T) {
	inst, err := New(Config{ServiceName: "test", Enabled: false})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	ctx := context.Background()
	m := inst.Metrics()

	// No-op instruments must accept records without panicking.
	m.RecordHTTPRequest(ctx, "POST", "/oauth/token", 200, 1.5)
	m.RecordCodeIssued(ctx, "client-1")
	m.RecordCodeExchange(ctx, "client-1")
	m.RecordTokenIssued(ctx, "client-1", "authorization_code")
	m.RecordTokenRefresh(ctx, "client-1")
	m.RecordCodeReuseDetected(ctx)
	m.RecordRefreshReuseDetected(ctx)
	m.RecordPKCEValidationFailed(ctx)
	m.RecordRateLimitExceeded(ctx, "/oauth/token")
	m.RecordMembershipProvisioned(ctx, "member")
	m.RecordProjectCreated(ctx)
}

func TestShutdownIdempotent(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := inst.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error: %v", err)
	}
	if err := inst.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() error: %v", err)
	}
}
