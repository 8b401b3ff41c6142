// Package oauth is the HTTP surface of the authorization server. It parses
// OAuth 2.0 wire requests, hands them to the server core, and renders the
// responses; all flow logic lives in the server package.
package oauth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loamlabs/project-oauth/instrumentation"
	"github.com/loamlabs/project-oauth/security"
	"github.com/loamlabs/project-oauth/server"
)

// Endpoint paths served by the handler.
const (
	PathAuthorize = "/oauth/authorize"
	PathToken     = "/oauth/token"
	PathJWKS      = "/.well-known/jwks.json"
	PathMetadata  = "/.well-known/oauth-authorization-server"
)

const tokenTypeBearer = "Bearer"

// Authenticator resolves the logged-in end user behind an authorization
// request. Returning a nil user sends the browser to login; the handler
// answers 401 and leaves the login flow to the host application.
type Authenticator func(r *http.Request) (*AuthenticatedUser, error)

// Handler serves the OAuth endpoints.
type Handler struct {
	server        *server.Server
	logger        *slog.Logger
	authenticator Authenticator
	rateLimiter   *security.RateLimiter
	metrics       *instrumentation.Metrics
}

// NewHandler creates a handler around a server core. The authenticator is
// required; the authorization endpoint cannot run without knowing the user.
func NewHandler(srv *server.Server, authenticator Authenticator, logger *slog.Logger) (*Handler, error) {
	if srv == nil {
		return nil, errors.New("oauth: server is required")
	}
	if authenticator == nil {
		return nil, errors.New("oauth: authenticator is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{server: srv, authenticator: authenticator, logger: logger}, nil
}

// SetRateLimiter attaches per-IP rate limiting to the OAuth endpoints.
func (h *Handler) SetRateLimiter(rl *security.RateLimiter) {
	h.rateLimiter = rl
}

// SetMetrics attaches metric instruments to the HTTP layer and the flows.
func (h *Handler) SetMetrics(m *instrumentation.Metrics) {
	h.metrics = m
	h.server.SetMetrics(m)
}

// RegisterRoutes mounts the OAuth endpoints on a mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(PathAuthorize, h.HandleAuthorize)
	mux.HandleFunc(PathToken, h.HandleToken)
	mux.HandleFunc(PathJWKS, h.HandleJWKS)
	mux.HandleFunc(PathMetadata, h.HandleMetadata)
}

// HandleAuthorize serves GET and POST /oauth/authorize.
func (h *Handler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	security.SetSecurityHeaders(w, h.server.Config().Issuer)
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		h.writeError(w, ErrInvalidRequest("method not allowed").WithStatus(http.StatusMethodNotAllowed))
		h.recordHTTPMetrics(r, PathAuthorize, http.StatusMethodNotAllowed, start)
		return
	}
	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrInvalidRequest("malformed request"))
		h.recordHTTPMetrics(r, PathAuthorize, http.StatusBadRequest, start)
		return
	}

	clientIP := h.clientIP(r)
	if !h.allow(w, r, PathAuthorize, clientIP) {
		h.recordHTTPMetrics(r, PathAuthorize, http.StatusTooManyRequests, start)
		return
	}

	user, err := h.authenticator(r)
	if err != nil {
		h.logger.Error("authenticator failed", "error", err)
		h.writeError(w, ErrServerError("authentication failed"))
		h.recordHTTPMetrics(r, PathAuthorize, http.StatusInternalServerError, start)
		return
	}
	if user == nil {
		h.writeError(w, ErrInvalidRequest("authentication required").WithStatus(http.StatusUnauthorized))
		h.recordHTTPMetrics(r, PathAuthorize, http.StatusUnauthorized, start)
		return
	}

	// r.Form merges the query string and, for POST, the form body.
	q := r.Form
	result, err := h.server.Authorize(r.Context(), server.AuthorizeRequest{
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		ResponseType:        q.Get("response_type"),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		User:                *user,
		ClientIP:            clientIP,
	})
	if err != nil {
		status := h.writeFlowError(w, err)
		h.recordHTTPMetrics(r, PathAuthorize, status, start)
		return
	}

	redirect, err := url.Parse(result.RedirectURI)
	if err != nil {
		h.writeError(w, ErrServerError("invalid redirect target"))
		h.recordHTTPMetrics(r, PathAuthorize, http.StatusInternalServerError, start)
		return
	}
	params := redirect.Query()
	params.Set("code", result.Code)
	if result.State != "" {
		params.Set("state", result.State)
	}
	redirect.RawQuery = params.Encode()

	http.Redirect(w, r, redirect.String(), http.StatusFound)
	h.recordHTTPMetrics(r, PathAuthorize, http.StatusFound, start)
}

// HandleToken serves POST /oauth/token.
func (h *Handler) HandleToken(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	security.SetSecurityHeaders(w, h.server.Config().Issuer)
	if r.Method != http.MethodPost {
		h.writeError(w, ErrInvalidRequest("method not allowed").WithStatus(http.StatusMethodNotAllowed))
		h.recordHTTPMetrics(r, PathToken, http.StatusMethodNotAllowed, start)
		return
	}

	clientIP := h.clientIP(r)
	if !h.allow(w, r, PathToken, clientIP) {
		h.recordHTTPMetrics(r, PathToken, http.StatusTooManyRequests, start)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrInvalidRequest("malformed form body"))
		h.recordHTTPMetrics(r, PathToken, http.StatusBadRequest, start)
		return
	}

	clientID, clientSecret, err := clientCredentials(r)
	if err != nil {
		h.writeInvalidClient(w, err.Error())
		h.recordHTTPMetrics(r, PathToken, http.StatusUnauthorized, start)
		return
	}

	req := server.TokenRequest{
		GrantType:    r.PostFormValue("grant_type"),
		Code:         r.PostFormValue("code"),
		RedirectURI:  r.PostFormValue("redirect_uri"),
		CodeVerifier: r.PostFormValue("code_verifier"),
		RefreshToken: r.PostFormValue("refresh_token"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		ClientIP:     clientIP,
	}

	var result *server.TokenResult
	switch req.GrantType {
	case "authorization_code":
		result, err = h.server.ExchangeAuthorizationCode(r.Context(), req)
	case "refresh_token":
		result, err = h.server.RefreshAccessToken(r.Context(), req)
	case "":
		h.writeError(w, ErrInvalidRequest("grant_type is required"))
		h.recordHTTPMetrics(r, PathToken, http.StatusBadRequest, start)
		return
	default:
		h.writeError(w, ErrInvalidRequest("unsupported grant_type"))
		h.recordHTTPMetrics(r, PathToken, http.StatusBadRequest, start)
		return
	}
	if err != nil {
		status := h.writeFlowError(w, err)
		h.recordHTTPMetrics(r, PathToken, status, start)
		return
	}

	h.writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken:  result.AccessToken,
		TokenType:    result.TokenType,
		ExpiresIn:    result.ExpiresIn,
		RefreshToken: result.RefreshToken,
		Scope:        result.Scope,
	})
	h.recordHTTPMetrics(r, PathToken, http.StatusOK, start)
}

// HandleJWKS serves GET /.well-known/jwks.json. The key set only changes on
// rotation, so it is safe for resource servers to cache briefly.
func (h *Handler) HandleJWKS(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodGet {
		h.writeError(w, ErrInvalidRequest("method not allowed").WithStatus(http.StatusMethodNotAllowed))
		h.recordHTTPMetrics(r, PathJWKS, http.StatusMethodNotAllowed, start)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	h.writeJSON(w, http.StatusOK, h.server.KeySet())
	h.recordHTTPMetrics(r, PathJWKS, http.StatusOK, start)
}

// HandleMetadata serves GET /.well-known/oauth-authorization-server.
func (h *Handler) HandleMetadata(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodGet {
		h.writeError(w, ErrInvalidRequest("method not allowed").WithStatus(http.StatusMethodNotAllowed))
		h.recordHTTPMetrics(r, PathMetadata, http.StatusMethodNotAllowed, start)
		return
	}
	cfg := h.server.Config()
	issuer := strings.TrimRight(cfg.Issuer, "/")

	methods := []string{"S256"}
	if cfg.AllowPKCEPlain {
		methods = append(methods, "plain")
	}

	w.Header().Set("Cache-Control", "public, max-age=3600")
	h.writeJSON(w, http.StatusOK, ServerMetadata{
		Issuer:                            issuer,
		AuthorizationEndpoint:             issuer + PathAuthorize,
		TokenEndpoint:                     issuer + PathToken,
		JWKSURI:                           issuer + PathJWKS,
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token"},
		CodeChallengeMethodsSupported:     methods,
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post", "none"},
		ScopesSupported:                   cfg.SupportedScopes,
	})
	h.recordHTTPMetrics(r, PathMetadata, http.StatusOK, start)
}

// clientCredentials extracts client authentication from Basic auth or the
// form body. Basic auth wins; supplying both with different ids is rejected.
func clientCredentials(r *http.Request) (string, string, error) {
	if id, secret, ok := r.BasicAuth(); ok {
		// Basic auth credentials are form-urlencoded per RFC 6749 2.3.1.
		decodedID, err := url.QueryUnescape(id)
		if err != nil {
			return "", "", errors.New("malformed client credentials")
		}
		decodedSecret, err := url.QueryUnescape(secret)
		if err != nil {
			return "", "", errors.New("malformed client credentials")
		}
		if formID := r.PostFormValue("client_id"); formID != "" && formID != decodedID {
			return "", "", errors.New("conflicting client identities")
		}
		return decodedID, decodedSecret, nil
	}
	return r.PostFormValue("client_id"), r.PostFormValue("client_secret"), nil
}

// writeFlowError maps a flow failure onto the wire. Redirectable
// authorization errors go back to the client's redirect URI; everything else
// is an OAuthError body. Unexpected errors become an opaque server_error.
func (h *Handler) writeFlowError(w http.ResponseWriter, err error) int {
	var fe *server.FlowError
	if !errors.As(err, &fe) {
		h.logger.Error("flow failed", "error", err)
		h.writeError(w, ErrServerError("internal server error"))
		return http.StatusInternalServerError
	}

	if fe.RedirectURI != "" {
		redirect, parseErr := url.Parse(fe.RedirectURI)
		if parseErr == nil {
			params := redirect.Query()
			params.Set("error", fe.Code)
			params.Set("error_description", fe.Description)
			if fe.State != "" {
				params.Set("state", fe.State)
			}
			redirect.RawQuery = params.Encode()
			w.Header().Set("Location", redirect.String())
			w.WriteHeader(http.StatusFound)
			return http.StatusFound
		}
	}

	if fe.Code == ErrorCodeInvalidClient {
		h.writeInvalidClient(w, fe.Description)
		return http.StatusUnauthorized
	}
	oe := fromFlowError(fe)
	h.writeError(w, oe)
	return oe.Status
}

func (h *Handler) writeInvalidClient(w http.ResponseWriter, description string) {
	w.Header().Set("WWW-Authenticate", `Basic realm="oauth", charset="UTF-8"`)
	h.writeError(w, ErrInvalidClient(description))
}

func (h *Handler) writeError(w http.ResponseWriter, oe *OAuthError) {
	h.writeJSON(w, oe.Status, ErrorResponse{Error: oe.Code, ErrorDescription: oe.Description})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("write response failed", "error", err)
	}
}

// allow applies the per-IP rate limit. Returns false after writing the 429.
func (h *Handler) allow(w http.ResponseWriter, r *http.Request, endpoint, clientIP string) bool {
	if h.rateLimiter == nil || h.rateLimiter.Allow(clientIP) {
		return true
	}
	h.server.Auditor.LogRateLimitExceeded(clientIP)
	if h.metrics != nil {
		h.metrics.RecordRateLimitExceeded(r.Context(), endpoint)
	}
	w.Header().Set("Retry-After", "1")
	h.writeError(w, ErrInvalidRequest("rate limit exceeded").WithStatus(http.StatusTooManyRequests))
	return false
}

func (h *Handler) clientIP(r *http.Request) string {
	cfg := h.server.Config()
	return security.ClientIP(r, cfg.TrustProxy, cfg.TrustedProxyCount)
}

func (h *Handler) recordHTTPMetrics(r *http.Request, endpoint string, status int, start time.Time) {
	if h.metrics == nil {
		return
	}
	h.metrics.RecordHTTPRequest(r.Context(), r.Method, endpoint, status, float64(time.Since(start).Milliseconds()))
}
