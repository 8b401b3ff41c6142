package oauth

import (
	"log/slog"

	"github.com/loamlabs/project-oauth/server"
	"github.com/loamlabs/project-oauth/storage"
	"github.com/loamlabs/project-oauth/token"
)

// Server is the authorization server core.
type Server = server.Server

// Config is the server configuration.
type Config = server.Config

// EnvSettings is the environment-derived runtime configuration.
type EnvSettings = server.EnvSettings

// NewServer wires a server core from its dependencies.
func NewServer(store storage.Store, signer *token.Signer, config *Config, logger *slog.Logger) (*Server, error) {
	return server.New(store, signer, config, logger)
}

// LoadConfigFromEnv reads and validates configuration from the environment.
func LoadConfigFromEnv() (*EnvSettings, error) {
	return server.LoadConfigFromEnv()
}
