package security

import "time"

// DefaultClockSkewGracePeriod absorbs NTP drift between the server and its
// storage or callers. Expiry checks only fail once a deadline is past by
// more than this.
const DefaultClockSkewGracePeriod = 5 * time.Second

// IsExpired checks a deadline with the default grace period. A zero time
// never expires.
func IsExpired(expiresAt time.Time) bool {
	return IsExpiredWithGrace(expiresAt, DefaultClockSkewGracePeriod)
}

// IsExpiredWithGrace checks a deadline with a custom grace period.
func IsExpiredWithGrace(expiresAt time.Time, grace time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return time.Now().After(expiresAt.Add(grace))
}
