// Command projectauthd runs the authorization server as a standalone daemon.
// End-user authentication is delegated to a fronting reverse proxy that
// injects identity headers; the daemon trusts them only because nothing else
// can reach it.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	oauth "github.com/loamlabs/project-oauth"
	"github.com/loamlabs/project-oauth/instrumentation"
	"github.com/loamlabs/project-oauth/security"
	"github.com/loamlabs/project-oauth/storage"
	"github.com/loamlabs/project-oauth/storage/sqlite"
	"github.com/loamlabs/project-oauth/token"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	settings, err := oauth.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	cfg := settings.Config

	store, err := sqlite.Open(settings.StoragePath)
	if err != nil {
		return err
	}
	defer store.Close()

	key, err := loadSigningKey(settings.SigningKeySeed, logger)
	if err != nil {
		return err
	}
	signer, err := token.NewSigner(cfg.Issuer, key, time.Duration(cfg.AccessTokenTTL)*time.Second)
	if err != nil {
		return err
	}

	srv, err := oauth.NewServer(store, signer, &cfg, logger)
	if err != nil {
		return err
	}
	srv.Auditor = security.NewAuditor(logger, true)

	securityEvents := security.NewRateLimiter(5, 10, logger)
	defer securityEvents.Stop()
	srv.SecurityEventRateLimiter = securityEvents

	if err := ensureBootstrapUser(ctx, store, cfg.BootstrapUserID); err != nil {
		return err
	}
	if err := srv.EnsureBootstrapOwner(ctx); err != nil {
		return err
	}

	inst, err := instrumentation.New(instrumentation.Config{ServiceName: "projectauthd"})
	if err != nil {
		return err
	}
	defer inst.Shutdown(context.Background())

	rateLimiter := security.NewRateLimiter(10, 20, logger)
	defer rateLimiter.Stop()

	handler, err := oauth.NewHandler(srv, headerAuthenticator, logger)
	if err != nil {
		return err
	}
	handler.SetRateLimiter(rateLimiter)
	handler.SetMetrics(inst.Metrics())

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	go srv.RunCleanup(ctx, time.Hour)

	httpServer := &http.Server{
		Addr:              settings.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", settings.ListenAddr, "issuer", cfg.Issuer)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// loadSigningKey builds the token signing key from the configured seed. With
// no seed an ephemeral key is generated; tokens stop verifying after a
// restart, which is fine for development only.
func loadSigningKey(seed []byte, logger *slog.Logger) (*token.Key, error) {
	if len(seed) > 0 {
		return token.KeyFromSeed(seed)
	}
	logger.Warn("OAUTH_SIGNING_KEY_SEED is not set, using an ephemeral signing key")
	return token.GenerateKey()
}

// ensureBootstrapUser creates the operator account on first start.
func ensureBootstrapUser(ctx context.Context, store storage.Store, bootstrapUserID string) error {
	_, err := store.GetUser(ctx, bootstrapUserID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return store.CreateUser(ctx, &storage.User{
		ID:         bootstrapUserID,
		ExternalID: bootstrapUserID,
		Name:       "Bootstrap Operator",
		CreatedAt:  time.Now(),
	})
}

// headerAuthenticator trusts identity headers injected by the fronting
// authentication proxy. A request without them is unauthenticated.
func headerAuthenticator(r *http.Request) (*oauth.AuthenticatedUser, error) {
	provider := r.Header.Get("X-Auth-Provider")
	subject := r.Header.Get("X-Auth-Subject")
	if provider == "" || subject == "" {
		return nil, nil
	}
	return &oauth.AuthenticatedUser{
		Provider:      provider,
		Subject:       subject,
		Email:         r.Header.Get("X-Auth-Email"),
		EmailVerified: r.Header.Get("X-Auth-Email-Verified") == "true",
		Name:          r.Header.Get("X-Auth-Name"),
	}, nil
}
