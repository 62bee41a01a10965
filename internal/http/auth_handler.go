package http

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"socialauth/internal/accounts"
	"socialauth/internal/auth"
	"socialauth/internal/token"
)

var externalProviders = []accounts.ProviderKind{
	accounts.ProviderGoogle,
	accounts.ProviderGitHub,
	accounts.ProviderAzure,
}

// AuthHandler exposes token and provider-management endpoints.
type AuthHandler struct {
	gateway      *auth.Gateway
	providers    *auth.Registry
	logger       *slog.Logger
	secureCookie bool
}

// NewAuthHandler creates a handler.
func NewAuthHandler(gateway *auth.Gateway, providers *auth.Registry, env string, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		gateway:      gateway,
		providers:    providers,
		logger:       logger,
		secureCookie: !strings.EqualFold(env, "development"),
	}
}

type loginResponse struct {
	Success bool `json:"success"`
	token.Pair
	User accounts.PublicProfile `json:"user"`
}

type providerInfo struct {
	Provider accounts.ProviderKind `json:"provider"`
	Enabled  bool                  `json:"enabled"`
	AuthURL  string                `json:"authUrl,omitempty"`
	Linked   *bool                 `json:"linked,omitempty"`
}

// Providers lists the supported providers and whether each is configured.
// Authenticated callers also learn which ones they have linked.
func (h *AuthHandler) Providers(w http.ResponseWriter, r *http.Request) {
	var linked map[accounts.ProviderKind]bool
	if claims := ClaimsFromContext(r.Context()); claims != nil {
		account, err := h.gateway.Profile(r.Context(), claims.AccountID())
		if err == nil {
			linked = make(map[accounts.ProviderKind]bool, len(account.Providers))
			for _, link := range account.Providers {
				linked[link.Kind] = true
			}
		} else if !errors.Is(err, auth.ErrAccountNotFound) {
			h.logger.Error("load account for provider list", "error", err)
		}
	}

	out := make([]providerInfo, 0, len(externalProviders))
	for _, kind := range externalProviders {
		_, enabled := h.providers.Get(kind)
		info := providerInfo{Provider: kind, Enabled: enabled}
		if enabled {
			info.AuthURL = "/api/auth/" + string(kind)
		}
		if linked != nil {
			isLinked := linked[kind]
			info.Linked = &isLinked
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "providers": out})
}

// Refresh exchanges a refresh token for a new token pair.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeJSONBody(w, r, &payload); err != nil && !errors.Is(err, io.EOF) {
		writeJSONError(w, err)
		return
	}
	if strings.TrimSpace(payload.RefreshToken) == "" {
		writeCodedError(w, http.StatusBadRequest, "REFRESH_TOKEN_REQUIRED", "refresh token required")
		return
	}

	pair, account, err := h.gateway.Refresh(r.Context(), payload.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrPersistence) {
			h.logger.Error("token refresh", "error", err)
		}
		writeCodedError(w, http.StatusUnauthorized, "INVALID_REFRESH_TOKEN", "invalid refresh token")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Success: true, Pair: pair, User: account.Public()})
}

// Local signs in with email and password.
func (h *AuthHandler) Local(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return
	}

	pair, account, err := h.gateway.PasswordLogin(r.Context(), payload.Email, payload.Password)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Success: true, Pair: pair, User: account.Public()})
}

// Me returns the caller's public profile.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	accountID, ok := callerID(w, r)
	if !ok {
		return
	}
	account, err := h.gateway.Profile(r.Context(), accountID)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": account.Public()})
}

// Logout acknowledges a logout. Tokens are discarded client-side.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	accountID, ok := callerID(w, r)
	if !ok {
		return
	}
	h.gateway.Logout(r.Context(), accountID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Logged out successfully"})
}

// Link starts attaching another provider to the caller's account.
func (h *AuthHandler) Link(w http.ResponseWriter, r *http.Request) {
	accountID, ok := callerID(w, r)
	if !ok {
		return
	}
	kind, ok := accounts.ParseProviderKind(chi.URLParam(r, "provider"))
	if !ok || !kind.IsExternal() {
		handleServiceError(w, auth.ErrUnsupportedProvider, h.logger)
		return
	}
	if _, enabled := h.providers.Get(kind); !enabled {
		handleServiceError(w, auth.ErrUnsupportedProvider, h.logger)
		return
	}

	pending, err := h.gateway.LinkProvider(r.Context(), accountID, kind)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}

	// The redirect must be followed by the browser that received this cookie.
	setLinkCookie(w, pending.Nonce, pending.ExpiresAt, h.secureCookie)
	redirectURL := "/api/auth/" + string(kind) + "?" + url.Values{"link": {pending.Nonce}}.Encode()
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"redirectUrl": redirectURL,
		"expiresAt":   pending.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// Unlink removes a provider (or the local password) from the caller's account.
func (h *AuthHandler) Unlink(w http.ResponseWriter, r *http.Request) {
	accountID, ok := callerID(w, r)
	if !ok {
		return
	}
	kind, ok := accounts.ParseProviderKind(chi.URLParam(r, "provider"))
	if !ok {
		handleServiceError(w, auth.ErrUnsupportedProvider, h.logger)
		return
	}

	account, err := h.gateway.UnlinkProvider(r.Context(), accountID, kind)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": string(kind) + " unlinked",
		"user":    account.Public(),
	})
}

// callerID returns the authenticated account id placed in the context by the
// bearer middleware.
func callerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeCodedError(w, http.StatusUnauthorized, "NO_TOKEN", "access token required")
		return uuid.Nil, false
	}
	return claims.AccountID(), true
}
