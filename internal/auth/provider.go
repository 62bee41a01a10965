package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"strings"

	"socialauth/internal/accounts"
)

// Provider adapts one OAuth identity provider. Implementations return
// identity facts only and never create, link or look up accounts.
type Provider interface {
	Kind() accounts.ProviderKind
	// AuthURL returns the provider consent URL carrying state.
	AuthURL(state string) string
	// Exchange trades an authorization code for the caller's identity.
	Exchange(ctx context.Context, code string) (ExternalIdentity, error)
}

// Registry holds the configured providers keyed by kind.
type Registry struct {
	providers map[accounts.ProviderKind]Provider
	order     []accounts.ProviderKind
}

// NewRegistry registers providers in the given order. Nil entries are skipped.
func NewRegistry(list ...Provider) *Registry {
	r := &Registry{providers: make(map[accounts.ProviderKind]Provider, len(list))}
	for _, p := range list {
		if p == nil {
			continue
		}
		if _, dup := r.providers[p.Kind()]; !dup {
			r.order = append(r.order, p.Kind())
		}
		r.providers[p.Kind()] = p
	}
	return r
}

// Get returns the provider for kind.
func (r *Registry) Get(kind accounts.ProviderKind) (Provider, bool) {
	p, ok := r.providers[kind]
	return p, ok
}

// Kinds lists the registered kinds in registration order.
func (r *Registry) Kinds() []accounts.ProviderKind {
	out := make([]accounts.ProviderKind, len(r.order))
	copy(out, r.order)
	return out
}

// Allowlist restricts which emails may sign in.
type Allowlist struct {
	domains map[string]struct{}
	emails  map[string]struct{}
}

// NewAllowlist builds an allowlist from domain and email lists.
func NewAllowlist(domains, emails []string) Allowlist {
	return Allowlist{domains: toSet(domains), emails: toSet(emails)}
}

// Allows checks the email against the domain and email allowlists. With both
// lists empty every email is allowed.
func (a Allowlist) Allows(email string) bool {
	if !a.Restricted() {
		return true
	}
	email = accounts.NormalizeEmail(email)
	if _, ok := a.emails[email]; ok {
		return true
	}
	if _, domain, ok := strings.Cut(email, "@"); ok {
		if _, ok := a.domains[domain]; ok {
			return true
		}
	}
	return false
}

// Restricted reports whether any allowlist entries are configured.
func (a Allowlist) Restricted() bool {
	return len(a.domains) > 0 || len(a.emails) > 0
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

// GenerateState generates a cryptographically secure random state string.
func GenerateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
