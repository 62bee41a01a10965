package http

import (
	"log/slog"
	"net/http"

	"socialauth/internal/auth"
)

// UserHandler exposes account settings endpoints.
type UserHandler struct {
	gateway *auth.Gateway
	logger  *slog.Logger
}

// NewUserHandler creates a handler.
func NewUserHandler(gateway *auth.Gateway, logger *slog.Logger) *UserHandler {
	return &UserHandler{gateway: gateway, logger: logger}
}

// GetProfile returns the caller's profile.
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
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

// UpdateProfile changes the caller's display name and avatar.
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	accountID, ok := callerID(w, r)
	if !ok {
		return
	}

	var payload struct {
		Name   *string `json:"name"`
		Avatar *string `json:"avatar"`
	}
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return
	}

	account, err := h.gateway.UpdateProfile(r.Context(), accountID, auth.ProfileUpdate{
		DisplayName: payload.Name,
		AvatarURL:   payload.Avatar,
	})
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": account.Public()})
}

// Providers lists the caller's linked providers.
func (h *UserHandler) Providers(w http.ResponseWriter, r *http.Request) {
	accountID, ok := callerID(w, r)
	if !ok {
		return
	}
	statuses, err := h.gateway.Providers(r.Context(), accountID)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "providers": statuses})
}

// SetPassword sets the caller's local credential.
func (h *UserHandler) SetPassword(w http.ResponseWriter, r *http.Request) {
	accountID, ok := callerID(w, r)
	if !ok {
		return
	}

	var payload struct {
		Password string `json:"password"`
	}
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return
	}

	account, err := h.gateway.SetPassword(r.Context(), accountID, payload.Password)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": account.Public()})
}

// DeleteAccount removes the caller's account.
func (h *UserHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	accountID, ok := callerID(w, r)
	if !ok {
		return
	}
	if err := h.gateway.DeleteAccount(r.Context(), accountID); err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Account deleted successfully"})
}
