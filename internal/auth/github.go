package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"socialauth/internal/accounts"
)

const githubAPIBase = "https://api.github.com"

// GitHubProvider handles GitHub OAuth. GitHub has no id_token, so the profile
// and verified emails come from the REST API.
type GitHubProvider struct {
	config  *oauth2.Config
	apiBase string
}

// NewGitHubProvider creates the GitHub adapter.
func NewGitHubProvider(client OAuthClient) *GitHubProvider {
	return &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     client.ClientID,
			ClientSecret: client.ClientSecret,
			RedirectURL:  client.RedirectURL,
			Endpoint:     github.Endpoint,
			Scopes:       []string{"read:user", "user:email"},
		},
		apiBase: githubAPIBase,
	}
}

// Kind returns the provider kind.
func (p *GitHubProvider) Kind() accounts.ProviderKind {
	return accounts.ProviderGitHub
}

// AuthURL generates the GitHub consent URL with the given state.
func (p *GitHubProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state)
}

type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// Exchange exchanges the code and fetches the user and their emails.
func (p *GitHubProvider) Exchange(ctx context.Context, code string) (ExternalIdentity, error) {
	tok, err := p.config.Exchange(ctx, code)
	if err != nil {
		return ExternalIdentity{}, fmt.Errorf("token exchange: %w", err)
	}
	client := p.config.Client(ctx, tok)

	var profile map[string]any
	if err := p.get(ctx, client, "/user", &profile); err != nil {
		return ExternalIdentity{}, err
	}
	var user githubUser
	if err := remarshal(profile, &user); err != nil {
		return ExternalIdentity{}, fmt.Errorf("decode github user: %w", err)
	}
	if user.ID == 0 {
		return ExternalIdentity{}, fmt.Errorf("github user has no id")
	}

	var emails []githubEmail
	if err := p.get(ctx, client, "/user/emails", &emails); err != nil {
		return ExternalIdentity{}, err
	}
	email, verified := pickGitHubEmail(emails, user.Email)

	name := strings.TrimSpace(user.Name)
	if name == "" {
		name = user.Login
	}

	return ExternalIdentity{
		Kind:          accounts.ProviderGitHub,
		ProviderID:    strconv.FormatInt(user.ID, 10),
		Email:         email,
		DisplayName:   name,
		AvatarURL:     user.AvatarURL,
		EmailVerified: verified,
		AuxData:       auxData(profile, tok),
	}, nil
}

func (p *GitHubProvider) get(ctx context.Context, client *http.Client, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBase+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("github %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("github %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode github %s: %w", path, err)
	}
	return nil
}

// pickGitHubEmail prefers the primary verified address, then any verified
// address, then the public profile email.
func pickGitHubEmail(emails []githubEmail, fallback string) (string, bool) {
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, true
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email, true
		}
	}
	return strings.TrimSpace(fallback), false
}

func remarshal(in any, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
