// Package token issues and verifies the access tokens minted by the
// authorization server. Tokens are JWTs signed with Ed25519; the signing key
// is identified by a kid header so resource servers can verify offline via
// the published JWKS.
package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any token that fails verification.
// Callers get no detail about why; the reason is logged server side.
var ErrInvalidToken = errors.New("token: invalid token")

// Claims carries the registered claims plus the authorization attributes
// resource servers act on.
type Claims struct {
	jwt.RegisteredClaims
	Scope         string   `json:"scope,omitempty"`
	Permissions   []string `json:"permissions,omitempty"`
	EmailVerified bool     `json:"email_verified"`
}

// Key is an Ed25519 signing key with its JWKS identifier.
type Key struct {
	ID      string
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKey creates a fresh Ed25519 key. The kid is derived from the
// public key so the same key material always maps to the same identifier.
func GenerateKey() (*Key, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return &Key{ID: KeyID(pub), Public: pub, Private: priv}, nil
}

// KeyFromSeed reconstructs a key from a 32-byte Ed25519 seed, for loading
// key material from configuration.
func KeyFromSeed(seed []byte) (*Key, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing key seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &Key{ID: KeyID(pub), Public: pub, Private: priv}, nil
}

// KeyID derives a stable kid from the public key bytes.
func KeyID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return base64.RawURLEncoding.EncodeToString(sum[:8])
}

// Signer mints access tokens for a single issuer. The active key signs new
// tokens; previous keys remain in the JWKS so outstanding tokens verify
// until they expire.
type Signer struct {
	issuer   string
	active   *Key
	retired  []*Key
	lifetime time.Duration
	now      func() time.Time
}

// NewSigner creates a signer for the given issuer and active key.
func NewSigner(issuer string, key *Key, lifetime time.Duration) (*Signer, error) {
	if issuer == "" {
		return nil, errors.New("token: issuer is required")
	}
	if key == nil || len(key.Private) != ed25519.PrivateKeySize {
		return nil, errors.New("token: signing key is required")
	}
	if lifetime <= 0 {
		lifetime = time.Hour
	}
	return &Signer{issuer: issuer, active: key, lifetime: lifetime, now: time.Now}, nil
}

// AddRetiredKey registers a previous signing key so its outstanding tokens
// still verify and its public half stays in the JWKS.
func (s *Signer) AddRetiredKey(key *Key) {
	if key != nil {
		s.retired = append(s.retired, key)
	}
}

// Identity describes the subject a token is minted for.
type Identity struct {
	// Subject is the external user identifier, never a database row id.
	Subject       string
	ClientID      string
	Scope         string
	Permissions   []string
	EmailVerified bool
}

// Sign mints an access token for the identity. Returns the compact JWT and
// its expiry.
func (s *Signer) Sign(id Identity) (string, time.Time, error) {
	if id.Subject == "" {
		return "", time.Time{}, errors.New("token: subject is required")
	}
	now := s.now().UTC()
	expiresAt := now.Add(s.lifetime)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   id.Subject,
			Audience:  jwt.ClaimStrings{id.ClientID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Scope:         id.Scope,
		Permissions:   id.Permissions,
		EmailVerified: id.EmailVerified,
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	tok.Header["kid"] = s.active.ID

	signed, err := tok.SignedString(s.active.Private)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// Lifetime returns the configured access token lifetime.
func (s *Signer) Lifetime() time.Duration {
	return s.lifetime
}

// Verifier validates access tokens against a set of public keys keyed by kid.
type Verifier struct {
	issuer string
	keys   map[string]ed25519.PublicKey
	now    func() time.Time
}

// NewVerifier builds a verifier over the signer's issuer and key set.
func NewVerifier(issuer string, keys ...*Key) (*Verifier, error) {
	if issuer == "" {
		return nil, errors.New("token: issuer is required")
	}
	byID := make(map[string]ed25519.PublicKey, len(keys))
	for _, k := range keys {
		if k == nil || len(k.Public) != ed25519.PublicKeySize {
			continue
		}
		byID[k.ID] = k.Public
	}
	if len(byID) == 0 {
		return nil, errors.New("token: at least one public key is required")
	}
	return &Verifier{issuer: issuer, keys: byID, now: time.Now}, nil
}

// VerifierFor returns a verifier sharing the signer's issuer and keys.
func (s *Signer) VerifierFor() (*Verifier, error) {
	keys := append([]*Key{s.active}, s.retired...)
	return NewVerifier(s.issuer, keys...)
}

// Verify parses and validates a compact token. Verification fails closed:
// unknown kid, bad signature, wrong issuer, or expiry all yield
// ErrInvalidToken and the claims are never returned.
func (v *Verifier) Verify(raw string) (*Claims, error) {
	if raw == "" {
		return nil, ErrInvalidToken
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		pub, ok := v.keys[kid]
		if !ok {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return pub, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return v.now() }),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

// VerifyForAudience validates a token and additionally requires the given
// audience. Resource servers verifying tokens for a specific client use this
// instead of Verify; a mismatch is ErrInvalidToken like any other failure.
func (v *Verifier) VerifyForAudience(raw, audience string) (*Claims, error) {
	claims, err := v.Verify(raw)
	if err != nil {
		return nil, err
	}
	for _, aud := range claims.Audience {
		if aud == audience {
			return claims, nil
		}
	}
	return nil, ErrInvalidToken
}
