package auth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"socialauth/internal/accounts"
)

const (
	googleIssuer         = "https://accounts.google.com"
	azureIssuerFormat    = "https://login.microsoftonline.com/%s/v2.0"
	azureIssuerMultiUser = "https://login.microsoftonline.com/{tenantid}/v2.0"
)

// OAuthClient holds the registered client credentials for one provider.
type OAuthClient struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// OIDCProvider handles OAuth 2.0 / OIDC providers that return an id_token.
type OIDCProvider struct {
	kind        accounts.ProviderKind
	config      *oauth2.Config
	verifier    *oidc.IDTokenVerifier
	authOptions []oauth2.AuthCodeOption
	identity    func(idToken *oidc.IDToken) (ExternalIdentity, error)
}

// NewGoogleProvider creates the Google adapter using OIDC discovery.
func NewGoogleProvider(ctx context.Context, client OAuthClient) (*OIDCProvider, error) {
	provider, err := oidc.NewProvider(ctx, googleIssuer)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}

	config := &oauth2.Config{
		ClientID:     client.ClientID,
		ClientSecret: client.ClientSecret,
		RedirectURL:  client.RedirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: client.ClientID})
	return newGoogleProvider(config, verifier), nil
}

func newGoogleProvider(config *oauth2.Config, verifier *oidc.IDTokenVerifier) *OIDCProvider {
	return &OIDCProvider{
		kind:     accounts.ProviderGoogle,
		config:   config,
		verifier: verifier,
		authOptions: []oauth2.AuthCodeOption{
			oauth2.AccessTypeOffline,
			oauth2.SetAuthURLParam("prompt", "select_account"),
		},
		identity: googleIdentity,
	}
}

// NewAzureProvider creates the Azure AD adapter for tenant. The multi-tenant
// aliases (common, organizations, consumers) skip the issuer check because
// their tokens carry the caller's own tenant as issuer.
func NewAzureProvider(ctx context.Context, client OAuthClient, tenant string) (*OIDCProvider, error) {
	if tenant == "" {
		tenant = "common"
	}

	oidcConfig := &oidc.Config{ClientID: client.ClientID}
	switch tenant {
	case "common", "organizations", "consumers":
		ctx = oidc.InsecureIssuerURLContext(ctx, azureIssuerMultiUser)
		oidcConfig.SkipIssuerCheck = true
	}

	provider, err := oidc.NewProvider(ctx, fmt.Sprintf(azureIssuerFormat, tenant))
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}

	config := &oauth2.Config{
		ClientID:     client.ClientID,
		ClientSecret: client.ClientSecret,
		RedirectURL:  client.RedirectURL,
		Endpoint:     provider.Endpoint(),
		Scopes:       []string{oidc.ScopeOpenID, "email", "profile", "User.Read"},
	}
	return newAzureProvider(config, provider.Verifier(oidcConfig)), nil
}

func newAzureProvider(config *oauth2.Config, verifier *oidc.IDTokenVerifier) *OIDCProvider {
	return &OIDCProvider{
		kind:     accounts.ProviderAzure,
		config:   config,
		verifier: verifier,
		authOptions: []oauth2.AuthCodeOption{
			oauth2.SetAuthURLParam("prompt", "select_account"),
		},
		identity: azureIdentity,
	}
}

// Kind returns the provider kind.
func (p *OIDCProvider) Kind() accounts.ProviderKind {
	return p.kind
}

// AuthURL generates the consent URL with the given state.
func (p *OIDCProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, p.authOptions...)
}

// Exchange exchanges the authorization code for tokens and maps the verified
// id_token claims onto an ExternalIdentity.
func (p *OIDCProvider) Exchange(ctx context.Context, code string) (ExternalIdentity, error) {
	tok, err := p.config.Exchange(ctx, code)
	if err != nil {
		return ExternalIdentity{}, fmt.Errorf("token exchange: %w", err)
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok {
		return ExternalIdentity{}, fmt.Errorf("no id_token in response")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return ExternalIdentity{}, fmt.Errorf("verify id_token: %w", err)
	}

	identity, err := p.identity(idToken)
	if err != nil {
		return ExternalIdentity{}, err
	}

	var profile map[string]any
	if err := idToken.Claims(&profile); err != nil {
		return ExternalIdentity{}, fmt.Errorf("parse claims: %w", err)
	}
	identity.AuxData = auxData(profile, tok)
	return identity, nil
}

type googleClaims struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

func googleIdentity(idToken *oidc.IDToken) (ExternalIdentity, error) {
	var claims googleClaims
	if err := idToken.Claims(&claims); err != nil {
		return ExternalIdentity{}, fmt.Errorf("parse claims: %w", err)
	}
	return ExternalIdentity{
		Kind:          accounts.ProviderGoogle,
		ProviderID:    claims.Sub,
		Email:         claims.Email,
		DisplayName:   claims.Name,
		AvatarURL:     claims.Picture,
		EmailVerified: claims.EmailVerified,
	}, nil
}

type azureClaims struct {
	OID               string `json:"oid"`
	Email             string `json:"email"`
	UPN               string `json:"upn"`
	PreferredUsername string `json:"preferred_username"`
	Name              string `json:"name"`
}

// Azure AD only issues tokens for directory-managed addresses, so the email
// is treated as verified.
func azureIdentity(idToken *oidc.IDToken) (ExternalIdentity, error) {
	var claims azureClaims
	if err := idToken.Claims(&claims); err != nil {
		return ExternalIdentity{}, fmt.Errorf("parse claims: %w", err)
	}

	email := claims.Email
	for _, candidate := range []string{claims.UPN, claims.PreferredUsername} {
		if email != "" {
			break
		}
		email = candidate
	}

	return ExternalIdentity{
		Kind:          accounts.ProviderAzure,
		ProviderID:    claims.OID,
		Email:         email,
		DisplayName:   claims.Name,
		EmailVerified: true,
	}, nil
}

func auxData(profile map[string]any, tok *oauth2.Token) map[string]any {
	data := map[string]any{"profile": profile}
	if tok.AccessToken != "" {
		data["accessToken"] = tok.AccessToken
	}
	if tok.RefreshToken != "" {
		data["refreshToken"] = tok.RefreshToken
	}
	return data
}
