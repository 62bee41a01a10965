package accounts

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when an account cannot be located.
	ErrNotFound = errors.New("account not found")
	// ErrDuplicateEmail is returned when another account already owns the email.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrProviderTaken is returned when a provider identity is bound to a different account.
	ErrProviderTaken = errors.New("provider identity linked to another account")
	// ErrConflict is returned by Save when the account changed since it was read.
	ErrConflict = errors.New("account modified concurrently")
)

// ProviderKind enumerates the supported authentication methods.
type ProviderKind string

const (
	ProviderGoogle ProviderKind = "google"
	ProviderGitHub ProviderKind = "github"
	ProviderAzure  ProviderKind = "azure"
	ProviderLocal  ProviderKind = "local"
)

// ParseProviderKind normalizes and validates a provider name.
func ParseProviderKind(value string) (ProviderKind, bool) {
	kind := ProviderKind(strings.ToLower(strings.TrimSpace(value)))
	switch kind {
	case ProviderGoogle, ProviderGitHub, ProviderAzure, ProviderLocal:
		return kind, true
	default:
		return "", false
	}
}

// IsExternal reports whether the kind is a third-party identity provider.
func (k ProviderKind) IsExternal() bool {
	switch k {
	case ProviderGoogle, ProviderGitHub, ProviderAzure:
		return true
	default:
		return false
	}
}

// ProviderLink binds an external identity to an Account.
type ProviderLink struct {
	Kind       ProviderKind
	ProviderID string
	// Data holds provider-supplied auxiliary data. It is stored, never read.
	Data     map[string]any
	LinkedAt time.Time
}

// Account is the durable identity record.
type Account struct {
	ID              uuid.UUID
	Email           string
	DisplayName     string
	AvatarURL       string
	IsEmailVerified bool
	PasswordHash    string
	Providers       []ProviderLink
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastLoginAt     time.Time
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HasLocalCredential reports whether a password hash is set.
func (a *Account) HasLocalCredential() bool {
	return a.PasswordHash != ""
}

// Provider returns the link for kind, if any.
func (a *Account) Provider(kind ProviderKind) (ProviderLink, bool) {
	for _, link := range a.Providers {
		if link.Kind == kind {
			return link, true
		}
	}
	return ProviderLink{}, false
}

// HasProvider reports whether a link of the given kind exists.
func (a *Account) HasProvider(kind ProviderKind) bool {
	_, ok := a.Provider(kind)
	return ok
}

// UpsertProvider attaches a link, replacing the provider id and data of an
// existing link of the same kind instead of adding a second one.
func (a *Account) UpsertProvider(link ProviderLink) {
	for i := range a.Providers {
		if a.Providers[i].Kind == link.Kind {
			a.Providers[i].ProviderID = link.ProviderID
			a.Providers[i].Data = link.Data
			return
		}
	}
	a.Providers = append(a.Providers, link)
}

// RemoveProvider drops the link of the given kind and reports whether one was removed.
func (a *Account) RemoveProvider(kind ProviderKind) bool {
	for i := range a.Providers {
		if a.Providers[i].Kind == kind {
			a.Providers = append(a.Providers[:i:i], a.Providers[i+1:]...)
			return true
		}
	}
	return false
}

// ProviderKinds lists the linked provider kinds in link order.
func (a *Account) ProviderKinds() []string {
	kinds := make([]string, 0, len(a.Providers))
	for _, link := range a.Providers {
		kinds = append(kinds, string(link.Kind))
	}
	return kinds
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (a Account) Clone() Account {
	out := a
	if a.Providers != nil {
		out.Providers = make([]ProviderLink, len(a.Providers))
		for i, link := range a.Providers {
			out.Providers[i] = link
			if link.Data != nil {
				data := make(map[string]any, len(link.Data))
				for k, v := range link.Data {
					data[k] = v
				}
				out.Providers[i].Data = data
			}
		}
	}
	return out
}

// PublicProfile is the client-facing projection of an Account. It never
// includes provider data, provider tokens or password hashes.
type PublicProfile struct {
	ID              uuid.UUID `json:"id"`
	Email           string    `json:"email"`
	Name            string    `json:"name"`
	Avatar          string    `json:"avatar,omitempty"`
	Providers       []string  `json:"providers"`
	IsEmailVerified bool      `json:"isEmailVerified"`
	HasPassword     bool      `json:"hasPassword"`
	LastLogin       time.Time `json:"lastLogin"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Public builds the client-facing projection.
func (a *Account) Public() PublicProfile {
	return PublicProfile{
		ID:              a.ID,
		Email:           a.Email,
		Name:            a.DisplayName,
		Avatar:          a.AvatarURL,
		Providers:       a.ProviderKinds(),
		IsEmailVerified: a.IsEmailVerified,
		HasPassword:     a.HasLocalCredential(),
		LastLogin:       a.LastLoginAt,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}
