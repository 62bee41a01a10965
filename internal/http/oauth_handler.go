package http

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"socialauth/internal/accounts"
	"socialauth/internal/auth"
)

// oauthStatePayload holds the CSRF state, the optional redirect path and the
// optional pending link nonce.
type oauthStatePayload struct {
	State      string `json:"s"`
	RedirectTo string `json:"r,omitempty"`
	Link       string `json:"l,omitempty"`
}

// isValidRedirectPath validates that a path is a safe relative redirect.
// It prevents open redirect attacks by ensuring the path:
// - Starts with a single "/" (not "//")
// - Has no scheme or host component
// - Cannot be bypassed via URL encoding
func isValidRedirectPath(path string) bool {
	if path == "" {
		return false
	}

	// Decode to catch encoded bypass attempts like /%2f%2f
	decoded, err := url.QueryUnescape(path)
	if err != nil {
		return false
	}

	if !strings.HasPrefix(decoded, "/") || strings.HasPrefix(decoded, "//") || strings.HasPrefix(decoded, "/\\") {
		return false
	}

	parsed, err := url.Parse(decoded)
	if err != nil {
		return false
	}

	return parsed.Scheme == "" && parsed.Host == ""
}

const (
	oauthStateCookieName = "socialauth_oauth_state"
	oauthStateCookieTTL  = 10 * time.Minute
	linkCookieName       = "socialauth_link"
)

// linkBinding is the link cookie value for nonce. The browser that requested
// the pending link holds it; any other browser presenting the nonce is refused.
func linkBinding(nonce string) string {
	sum := sha256.Sum256([]byte(nonce))
	return hex.EncodeToString(sum[:])
}

func setLinkCookie(w http.ResponseWriter, nonce string, expiresAt time.Time, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     linkCookieName,
		Value:    linkBinding(nonce),
		Path:     "/api/auth",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearLinkCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     linkCookieName,
		Value:    "",
		Path:     "/api/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
	})
}

func hasLinkBinding(r *http.Request, nonce string) bool {
	cookie, err := r.Cookie(linkCookieName)
	if err != nil || nonce == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(linkBinding(nonce))) == 1
}

// OAuthHandler drives the provider redirect and callback for every
// registered provider.
type OAuthHandler struct {
	providers    *auth.Registry
	engine       *auth.Engine
	gateway      *auth.Gateway
	allowlist    auth.Allowlist
	logger       *slog.Logger
	secureCookie bool
	frontendURL  string
}

// NewOAuthHandler creates a new OAuthHandler.
func NewOAuthHandler(providers *auth.Registry, engine *auth.Engine, gateway *auth.Gateway, allowlist auth.Allowlist, frontendURL, env string, logger *slog.Logger) *OAuthHandler {
	return &OAuthHandler{
		providers:    providers,
		engine:       engine,
		gateway:      gateway,
		allowlist:    allowlist,
		logger:       logger,
		secureCookie: !strings.EqualFold(env, "development"),
		frontendURL:  strings.TrimSuffix(frontendURL, "/"),
	}
}

func (h *OAuthHandler) provider(r *http.Request) (auth.Provider, bool) {
	kind, ok := accounts.ParseProviderKind(chi.URLParam(r, "provider"))
	if !ok {
		return nil, false
	}
	return h.providers.Get(kind)
}

// Initiate handles GET /api/auth/{provider}
// Redirects the user to the provider's consent screen.
func (h *OAuthHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.provider(r)
	if !ok {
		writeCodedError(w, http.StatusNotFound, "UNSUPPORTED_PROVIDER", "provider not available")
		return
	}

	query := r.URL.Query()
	link := strings.TrimSpace(query.Get("link"))
	if link != "" && !hasLinkBinding(r, link) {
		h.logger.Warn("oauth initiate: link nonce without matching browser binding", "provider", provider.Kind())
		h.redirectWithError(w, r, "link_invalid", "Start linking again from your account settings.")
		return
	}

	state, err := auth.GenerateState()
	if err != nil {
		h.logger.Error("failed to generate state", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// Store state in cookie for CSRF protection
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookieName,
		Value:    state,
		Path:     "/api/auth",
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(oauthStateCookieTTL.Seconds()),
	})

	payload := oauthStatePayload{State: state, Link: link}
	if redirectTo := query.Get("redirectTo"); redirectTo != "" && isValidRedirectPath(redirectTo) {
		payload.RedirectTo = redirectTo
	}

	// Encode state as base64 JSON to avoid delimiter issues
	stateJSON, _ := json.Marshal(payload)
	fullState := base64.RawURLEncoding.EncodeToString(stateJSON)

	http.Redirect(w, r, provider.AuthURL(fullState), http.StatusTemporaryRedirect)
}

// Callback handles GET /api/auth/{provider}/callback
// Exchanges the code, reconciles (or links) the identity and hands the token
// pair to the frontend.
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.provider(r)
	if !ok {
		h.redirectWithError(w, r, "unsupported_provider", "Unknown sign-in provider.")
		return
	}
	kind := provider.Kind()
	failure := string(kind) + "_auth_failed"

	statePayload, ok := h.verifyState(w, r)
	if !ok {
		return
	}

	if statePayload.Link != "" {
		clearLinkCookie(w, h.secureCookie)
		if !hasLinkBinding(r, statePayload.Link) {
			h.logger.Warn("oauth callback: link nonce without matching browser binding", "provider", kind)
			h.redirectWithError(w, r, "link_invalid", "Start linking again from your account settings.")
			return
		}
	}

	// Provider error values are logged, never reflected.
	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Warn("oauth callback: provider error",
			"provider", kind,
			"error", errParam,
			"description", r.URL.Query().Get("error_description"),
		)
		if errParam == "access_denied" {
			h.redirectWithError(w, r, "access_denied", "Sign-in was cancelled.")
		} else {
			h.redirectWithError(w, r, failure, "Failed to complete authentication.")
		}
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		h.redirectWithError(w, r, "invalid_request", "Missing authorization code.")
		return
	}

	identity, err := provider.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("oauth callback: exchange failed", "provider", kind, "error", err)
		h.redirectWithError(w, r, failure, "Failed to complete authentication.")
		return
	}

	var account accounts.Account
	if statePayload.Link != "" {
		account, err = h.gateway.CompleteLink(r.Context(), statePayload.Link, identity)
		if err != nil {
			h.logger.Warn("oauth callback: link failed", "provider", kind, "error", err)
			h.redirectWithError(w, r, callbackErrorCode(err, failure), "Failed to link account.")
			return
		}
	} else {
		if !h.allowlist.Allows(identity.Email) {
			h.logger.Warn("oauth callback: email not allowed", "provider", kind, "email", identity.Email)
			h.redirectWithError(w, r, "access_denied", "Your account is not authorized to access this application.")
			return
		}
		account, _, err = h.engine.Reconcile(r.Context(), identity)
		if err != nil {
			h.logger.Error("oauth callback: reconciliation failed", "provider", kind, "error", err)
			h.redirectWithError(w, r, callbackErrorCode(err, failure), "Failed to sign in.")
			return
		}
	}

	pair, err := h.gateway.CompleteLogin(account)
	if err != nil {
		h.logger.Error("oauth callback: token issue failed", "provider", kind, "error", err)
		h.redirectWithError(w, r, "token_generation_failed", "")
		return
	}

	h.logger.Info("oauth login successful", "provider", kind, "account_id", account.ID)

	values := url.Values{}
	values.Set("token", pair.AccessToken)
	values.Set("refresh_token", pair.RefreshToken)
	values.Set("expires_in", strconv.FormatInt(pair.ExpiresIn, 10))
	if statePayload.RedirectTo != "" {
		values.Set("redirect", statePayload.RedirectTo)
	}
	http.Redirect(w, r, h.frontendURL+"/auth/callback?"+values.Encode(), http.StatusTemporaryRedirect)
}

// verifyState checks the state parameter against the cookie and clears it.
func (h *OAuthHandler) verifyState(w http.ResponseWriter, r *http.Request) (oauthStatePayload, bool) {
	stateCookie, err := r.Cookie(oauthStateCookieName)
	if err != nil {
		h.logger.Warn("oauth callback: missing state cookie")
		h.redirectWithError(w, r, "invalid_request", "Session expired. Please try again.")
		return oauthStatePayload{}, false
	}

	stateBytes, err := base64.RawURLEncoding.DecodeString(r.URL.Query().Get("state"))
	if err != nil {
		h.logger.Warn("oauth callback: invalid state encoding")
		h.redirectWithError(w, r, "invalid_request", "Invalid state. Please try again.")
		return oauthStatePayload{}, false
	}

	var payload oauthStatePayload
	if err := json.Unmarshal(stateBytes, &payload); err != nil {
		h.logger.Warn("oauth callback: invalid state JSON")
		h.redirectWithError(w, r, "invalid_request", "Invalid state. Please try again.")
		return oauthStatePayload{}, false
	}

	if subtle.ConstantTimeCompare([]byte(payload.State), []byte(stateCookie.Value)) != 1 {
		h.logger.Warn("oauth callback: state mismatch")
		h.redirectWithError(w, r, "invalid_request", "Invalid state. Please try again.")
		return oauthStatePayload{}, false
	}

	if payload.RedirectTo != "" && !isValidRedirectPath(payload.RedirectTo) {
		payload.RedirectTo = ""
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookieName,
		Value:    "",
		Path:     "/api/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
	})
	return payload, true
}

// redirectWithError redirects to the login page with error details.
func (h *OAuthHandler) redirectWithError(w http.ResponseWriter, r *http.Request, code, message string) {
	target := h.frontendURL + "/login?error=" + url.QueryEscape(code)
	if message != "" {
		target += "&message=" + url.QueryEscape(message)
	}
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}
