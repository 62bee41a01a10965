package http

import (
	"errors"
	"log/slog"
	"net/http"

	"socialauth/internal/accounts"
	"socialauth/internal/auth"
)

type errorMapping struct {
	err     error
	status  int
	code    string
	message string
}

// Order matters: persistence errors may also wrap a store sentinel.
var serviceErrors = []errorMapping{
	{auth.ErrNoToken, http.StatusUnauthorized, "NO_TOKEN", "access token required"},
	{auth.ErrInvalidToken, http.StatusForbidden, "INVALID_TOKEN", "invalid or expired token"},
	{auth.ErrInvalidRefreshToken, http.StatusUnauthorized, "INVALID_REFRESH_TOKEN", "invalid refresh token"},
	{auth.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password"},
	{auth.ErrAccountNotFound, http.StatusNotFound, "ACCOUNT_NOT_FOUND", "account not found"},
	{auth.ErrLastAuthMethod, http.StatusBadRequest, "LAST_AUTH_METHOD", "cannot remove the last authentication method"},
	{auth.ErrProviderNotLinked, http.StatusNotFound, "PROVIDER_NOT_LINKED", "provider not linked"},
	{auth.ErrUnsupportedProvider, http.StatusBadRequest, "UNSUPPORTED_PROVIDER", "unsupported provider"},
	{auth.ErrWeakPassword, http.StatusBadRequest, "WEAK_PASSWORD", "password must be at least 8 characters"},
	{auth.ErrInvalidProfile, http.StatusBadRequest, "INVALID_PROFILE", ""},
	{accounts.ErrProviderTaken, http.StatusConflict, "PROVIDER_TAKEN", "provider account is linked to another user"},
	{accounts.ErrDuplicateEmail, http.StatusConflict, "EMAIL_TAKEN", "email already registered"},
	{accounts.ErrConflict, http.StatusConflict, "ACCOUNT_CONFLICT", "account changed concurrently, please retry"},
}

func handleServiceError(w http.ResponseWriter, err error, logger *slog.Logger) {
	for _, m := range serviceErrors {
		if !errors.Is(err, m.err) {
			continue
		}
		message := m.message
		if message == "" {
			message = err.Error()
		}
		writeCodedError(w, m.status, m.code, message)
		return
	}
	logger.Error("service error", "error", err)
	writeCodedError(w, http.StatusInternalServerError, "SERVER_ERROR", "unexpected error")
}

// callbackErrorCode maps a login failure onto the short code placed in the
// login redirect.
func callbackErrorCode(err error, fallback string) string {
	switch {
	case errors.Is(err, auth.ErrMissingEmail):
		return "missing_email"
	case errors.Is(err, auth.ErrInvalidIdentity):
		return "invalid_identity"
	case errors.Is(err, accounts.ErrProviderTaken):
		return "provider_taken"
	case errors.Is(err, auth.ErrLinkNotFound):
		return "link_expired"
	case errors.Is(err, auth.ErrAccountNotFound):
		return "account_not_found"
	default:
		return fallback
	}
}
