package auth

import (
	"errors"

	"socialauth/internal/token"
)

var (
	// ErrMissingEmail is returned when a new identity carries no email to reconcile by.
	ErrMissingEmail = errors.New("provider did not supply an email address")
	// ErrInvalidIdentity is returned for identities with an unknown kind or empty provider id.
	ErrInvalidIdentity = errors.New("invalid external identity")
	// ErrInvalidToken is returned for any access token that fails verification.
	ErrInvalidToken = token.ErrInvalidToken
	// ErrInvalidRefreshToken is returned for any refresh token that fails verification.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrNoToken is returned when the Authorization header is absent or malformed.
	ErrNoToken = errors.New("no bearer token")
	// ErrAccountNotFound is returned when a token or request names an account that is gone.
	ErrAccountNotFound = errors.New("account not found")
	// ErrLastAuthMethod is returned when an unlink would leave the account without a login method.
	ErrLastAuthMethod = errors.New("cannot remove the last authentication method")
	// ErrProviderNotLinked is returned when unlinking a provider the account does not have.
	ErrProviderNotLinked = errors.New("provider not linked")
	// ErrUnsupportedProvider is returned for provider kinds that cannot be linked.
	ErrUnsupportedProvider = errors.New("unsupported provider")
	// ErrLinkNotFound is returned when a pending link is unknown, expired or already used.
	ErrLinkNotFound = errors.New("pending link not found")
	// ErrInvalidCredentials is returned when a password login fails for any reason.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrWeakPassword is returned when a new password does not meet the minimum length.
	ErrWeakPassword = errors.New("password too short")
	// ErrInvalidProfile is returned for profile updates that fail validation.
	ErrInvalidProfile = errors.New("invalid profile")
	// ErrEmailNotAllowed is returned when an email is outside the configured allowlist.
	ErrEmailNotAllowed = errors.New("email not allowed")
	// ErrPersistence marks failures of the account store.
	ErrPersistence = errors.New("persistence failure")
)

// persistenceError keeps both ErrPersistence and the store's own error in the chain.
type persistenceError struct {
	op  string
	err error
}

func (e *persistenceError) Error() string {
	return e.op + ": " + e.err.Error()
}

func (e *persistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.err}
}

func persistence(op string, err error) error {
	return &persistenceError{op: op, err: err}
}
