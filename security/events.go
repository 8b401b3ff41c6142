package security

// Event type constants for security audit logging. Using constants keeps
// event names consistent across the codebase.
const (
	// EventCodeIssued is logged when an authorization code is issued.
	EventCodeIssued = "authorization_code_issued"

	// EventCodeReuseDetected is logged when a consumed authorization code
	// is presented again. Treated as theft of the code.
	EventCodeReuseDetected = "authorization_code_reuse_detected"

	// EventTokenIssued is logged when an access token is issued.
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged on a successful refresh rotation.
	EventTokenRefreshed = "token_refreshed"

	// EventRefreshReuseDetected is logged when a superseded refresh token
	// is presented. Treated as theft of the token family.
	EventRefreshReuseDetected = "refresh_token_reuse_detected"

	// EventAuthFailure is logged when client or user authentication fails.
	EventAuthFailure = "auth_failure"

	// EventRateLimitExceeded is logged when a rate limit trips.
	EventRateLimitExceeded = "rate_limit_exceeded"

	// EventPKCEValidationFailed is logged when code_verifier checking fails.
	EventPKCEValidationFailed = "pkce_validation_failed"

	// EventInvalidRedirect is logged when a redirect URI fails exact match.
	EventInvalidRedirect = "invalid_redirect"

	// EventMembershipProvisioned is logged when a membership is created.
	EventMembershipProvisioned = "membership_provisioned"
)
