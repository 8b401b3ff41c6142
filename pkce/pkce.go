// Package pkce implements Proof Key for Code Exchange (RFC 7636) challenge
// generation and verification for the authorization code flow.
//
// The package is stateless; callers persist the challenge alongside the
// authorization code and call Verify at exchange time.
package pkce

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
)

// Challenge methods defined by RFC 7636 section 4.3.
const (
	MethodS256  = "S256"
	MethodPlain = "plain"
)

// Verifier length bounds from RFC 7636 section 4.1.
const (
	MinVerifierLength = 43
	MaxVerifierLength = 128
)

var (
	// ErrVerifierRequired is returned when the client omits the code_verifier.
	ErrVerifierRequired = errors.New("pkce: code verifier is required")
	// ErrMismatch is returned when the verifier does not match the stored challenge.
	ErrMismatch = errors.New("pkce: code verifier does not match challenge")
)

// Challenge derives the S256 code challenge for a verifier.
// Used by tests and by first-party clients embedded in the same process.
func Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ValidateVerifier checks the RFC 7636 length and character constraints
// without comparing against a challenge. An empty verifier fails with
// ErrVerifierRequired.
func ValidateVerifier(verifier string) error {
	if verifier == "" {
		return ErrVerifierRequired
	}
	if len(verifier) < MinVerifierLength || len(verifier) > MaxVerifierLength {
		return fmt.Errorf("pkce: code verifier length must be between %d and %d characters", MinVerifierLength, MaxVerifierLength)
	}
	for _, c := range verifier {
		if !isUnreservedChar(c) {
			return errors.New("pkce: code verifier contains invalid characters")
		}
	}
	return nil
}

// Verify checks a code verifier against a stored challenge using the given
// method. The comparison is constant time for both methods so that timing
// does not reveal how many leading bytes matched.
func Verify(challenge, method, verifier string) error {
	if err := ValidateVerifier(verifier); err != nil {
		return err
	}
	if challenge == "" {
		return errors.New("pkce: no challenge to verify against")
	}

	switch method {
	case MethodS256, "":
		// S256 is the default when the method was stored empty.
		computed := Challenge(verifier)
		if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
			return ErrMismatch
		}
		return nil
	case MethodPlain:
		if subtle.ConstantTimeCompare([]byte(verifier), []byte(challenge)) != 1 {
			return ErrMismatch
		}
		return nil
	default:
		return fmt.Errorf("pkce: unsupported challenge method %q", method)
	}
}

// isUnreservedChar reports whether c is in the RFC 7636 unreserved set:
// ALPHA / DIGIT / "-" / "." / "_" / "~".
func isUnreservedChar(c rune) bool {
	switch {
	case c >= 'A' && c <= 'Z':
		return true
	case c >= 'a' && c <= 'z':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == '-' || c == '.' || c == '_' || c == '~':
		return true
	}
	return false
}
