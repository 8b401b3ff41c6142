package server

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config holds authorization server configuration.
type Config struct {
	// Issuer is the server's issuer identifier (base URL). It appears in
	// token iss claims and discovery metadata.
	Issuer string

	// BootstrapUserID is the operator account that owns every project.
	// Injected configuration; the server refuses to start without it.
	BootstrapUserID string

	// AuthorizationCodeTTL is how long authorization codes are valid, in
	// seconds. Default: 600.
	AuthorizationCodeTTL int64

	// AccessTokenTTL is how long access tokens are valid, in seconds.
	// Default: 3600.
	AccessTokenTTL int64

	// RefreshTokenTTL is how long refresh tokens are valid, in seconds.
	// Default: 7776000 (90 days).
	RefreshTokenTTL int64

	// RequirePKCE makes code_challenge mandatory for every authorization
	// request regardless of per-client settings. Default: true.
	RequirePKCE bool

	// AllowPKCEPlain permits the deprecated 'plain' challenge method for
	// clients whose RequirePKCE flag is off. Never allowed when PKCE is
	// mandatory for the client. Default: false.
	AllowPKCEPlain bool

	// TrustProxy enables X-Forwarded-For and X-Real-IP handling. Only set
	// behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is the number of proxies we control in front of
	// the server. Default: 1.
	TrustedProxyCount int

	// SupportedScopes lists the scopes clients may request. Empty allows
	// any scope.
	SupportedScopes []string

	// DeadTokenRetention is how long superseded and revoked refresh
	// tokens are kept for forensics before cleanup, in seconds.
	// Default: 2592000 (30 days).
	DeadTokenRetention int64
}

// envConfig holds raw environment values before validation.
type envConfig struct {
	Issuer             string   `env:"OAUTH_ISSUER"`
	BootstrapUserID    string   `env:"OAUTH_BOOTSTRAP_USER_ID"`
	StoragePath        string   `env:"OAUTH_STORAGE_PATH" envDefault:"oauth.db"`
	SigningKeySeed     string   `env:"OAUTH_SIGNING_KEY_SEED"`
	ListenAddr         string   `env:"OAUTH_LISTEN_ADDR" envDefault:":8080"`
	AccessTokenTTL     int64    `env:"OAUTH_ACCESS_TOKEN_TTL"`
	RefreshTokenTTL    int64    `env:"OAUTH_REFRESH_TOKEN_TTL"`
	CodeTTL            int64    `env:"OAUTH_CODE_TTL"`
	TrustProxy         bool     `env:"OAUTH_TRUST_PROXY"`
	TrustedProxyCount  int      `env:"OAUTH_TRUSTED_PROXY_COUNT"`
	SupportedScopes    []string `env:"OAUTH_SUPPORTED_SCOPES" envSeparator:","`
	DeadTokenRetention int64    `env:"OAUTH_DEAD_TOKEN_RETENTION"`
}

// EnvSettings is the full environment-derived runtime configuration,
// including process-level settings that do not belong on Config.
type EnvSettings struct {
	Config         Config
	StoragePath    string
	ListenAddr     string
	SigningKeySeed []byte
}

// LoadConfigFromEnv reads and validates server configuration from the
// environment.
func LoadConfigFromEnv() (*EnvSettings, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	issuer := strings.TrimSpace(raw.Issuer)
	if issuer == "" {
		return nil, fmt.Errorf("OAUTH_ISSUER is required")
	}
	bootstrap := strings.TrimSpace(raw.BootstrapUserID)
	if bootstrap == "" {
		return nil, fmt.Errorf("OAUTH_BOOTSTRAP_USER_ID is required")
	}

	var seed []byte
	if s := strings.TrimSpace(raw.SigningKeySeed); s != "" {
		decoded, err := decodeBase64(s)
		if err != nil {
			return nil, fmt.Errorf("decode OAUTH_SIGNING_KEY_SEED: %w", err)
		}
		seed = decoded
	}

	cfg := Config{
		Issuer:               issuer,
		BootstrapUserID:      bootstrap,
		AuthorizationCodeTTL: raw.CodeTTL,
		AccessTokenTTL:       raw.AccessTokenTTL,
		RefreshTokenTTL:      raw.RefreshTokenTTL,
		TrustProxy:           raw.TrustProxy,
		TrustedProxyCount:    raw.TrustedProxyCount,
		SupportedScopes:      raw.SupportedScopes,
		DeadTokenRetention:   raw.DeadTokenRetention,
	}
	return &EnvSettings{
		Config:         cfg,
		StoragePath:    raw.StoragePath,
		ListenAddr:     raw.ListenAddr,
		SigningKeySeed: seed,
	}, nil
}

// applySecureDefaults fills zero values with secure defaults and warns
// about explicitly insecure settings.
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	if config.AuthorizationCodeTTL == 0 {
		config.AuthorizationCodeTTL = 600
	}
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = 3600
	}
	if config.RefreshTokenTTL == 0 {
		config.RefreshTokenTTL = 7776000
	}
	if config.TrustedProxyCount == 0 {
		config.TrustedProxyCount = 1
	}
	if config.DeadTokenRetention == 0 {
		config.DeadTokenRetention = 2592000
	}

	// A zero-value config gets the secure posture; explicit opt-outs are
	// honored but logged.
	if !config.RequirePKCE && !config.AllowPKCEPlain && !config.TrustProxy {
		config.RequirePKCE = true
		return config
	}
	if !config.RequirePKCE {
		logger.Warn("PKCE is not globally required; per-client settings decide",
			"risk", "authorization code interception for clients with PKCE off")
	}
	if config.AllowPKCEPlain {
		logger.Warn("plain PKCE method is allowed",
			"recommendation", "require S256")
	}
	if config.TrustProxy {
		logger.Warn("trusting proxy headers for client IPs",
			"trusted_proxy_count", config.TrustedProxyCount)
	}
	return config
}

func decodeBase64(value string) ([]byte, error) {
	if decoded, err := base64.RawStdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}
