package auth

import (
	"strings"

	"socialauth/internal/accounts"
)

// ExternalIdentity is the normalized profile an OAuth adapter hands to the
// Engine. It carries facts only; the Engine makes every account decision.
type ExternalIdentity struct {
	Kind          accounts.ProviderKind
	ProviderID    string
	Email         string
	DisplayName   string
	AvatarURL     string
	EmailVerified bool
	// AuxData is stored on the provider link verbatim and never interpreted.
	AuxData map[string]any
}

func (id ExternalIdentity) validate() error {
	if !id.Kind.IsExternal() || strings.TrimSpace(id.ProviderID) == "" {
		return ErrInvalidIdentity
	}
	return nil
}

func (id ExternalIdentity) link() accounts.ProviderLink {
	return accounts.ProviderLink{
		Kind:       id.Kind,
		ProviderID: id.ProviderID,
		Data:       id.AuxData,
	}
}

func (id ExternalIdentity) displayName(email string) string {
	if name := strings.TrimSpace(id.DisplayName); name != "" {
		return name
	}
	if local, _, ok := strings.Cut(email, "@"); ok && local != "" {
		return local
	}
	return email
}
