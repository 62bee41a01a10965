package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"socialauth/internal/accounts"
	"socialauth/internal/token"
)

const (
	bearerPrefix   = "bearer "
	defaultLinkTTL = 10 * time.Minute
	maxNameLength  = 100
)

// ProviderStatus describes one linked provider for account settings.
type ProviderStatus struct {
	Kind        accounts.ProviderKind `json:"provider"`
	ConnectedAt time.Time             `json:"connectedAt"`
	CanUnlink   bool                  `json:"canUnlink"`
}

// ProfileUpdate carries optional profile changes. Nil fields are left alone.
type ProfileUpdate struct {
	DisplayName *string
	AvatarURL   *string
}

// Gateway exposes token-backed sessions on top of the Engine and Store.
type Gateway struct {
	store   accounts.Store
	engine  *Engine
	tokens  *token.Service
	links   LinkStore
	linkTTL time.Duration
	logger  *slog.Logger
	now     func() time.Time
	observe func(purpose token.Purpose, ok bool)

	verifyPassword func(hash, password string) error
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithLinkTTL sets how long a pending link stays valid.
func WithLinkTTL(ttl time.Duration) GatewayOption {
	return func(g *Gateway) {
		if ttl > 0 {
			g.linkTTL = ttl
		}
	}
}

// WithGatewayLogger sets the logger.
func WithGatewayLogger(logger *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithGatewayClock overrides the clock used for pending links.
func WithGatewayClock(now func() time.Time) GatewayOption {
	return func(g *Gateway) {
		g.now = now
	}
}

// WithVerificationObserver registers a callback invoked for each token verification.
func WithVerificationObserver(fn func(purpose token.Purpose, ok bool)) GatewayOption {
	return func(g *Gateway) {
		g.observe = fn
	}
}

// NewGateway creates a Gateway.
func NewGateway(store accounts.Store, engine *Engine, tokens *token.Service, links LinkStore, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		store:   store,
		engine:  engine,
		tokens:  tokens,
		links:   links,
		linkTTL: defaultLinkTTL,
		logger:  slog.Default(),
		now:     time.Now,
		observe: func(token.Purpose, bool) {},

		verifyPassword: VerifyPassword,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CompleteLogin issues a token pair for account.
func (g *Gateway) CompleteLogin(account accounts.Account) (token.Pair, error) {
	pair, err := g.tokens.IssuePair(subjectOf(account))
	if err != nil {
		return token.Pair{}, fmt.Errorf("issue tokens: %w", err)
	}
	return pair, nil
}

// Authenticate verifies an Authorization header carrying an access token.
func (g *Gateway) Authenticate(header string) (*token.Claims, error) {
	raw, err := extractBearerToken(header)
	if err != nil {
		return nil, err
	}
	claims, err := g.tokens.VerifyAccess(raw)
	g.observe(token.PurposeAccess, err == nil)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// AuthenticateOptional is Authenticate for routes that also serve anonymous
// callers. It returns nil wherever Authenticate would fail.
func (g *Gateway) AuthenticateOptional(header string) *token.Claims {
	claims, err := g.Authenticate(header)
	if err != nil {
		return nil
	}
	return claims
}

// Refresh exchanges a refresh token for a new pair. The presented refresh
// token stays valid until it expires.
func (g *Gateway) Refresh(ctx context.Context, refreshToken string) (token.Pair, accounts.Account, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return token.Pair{}, accounts.Account{}, ErrInvalidRefreshToken
	}

	claims, err := g.tokens.VerifyRefresh(refreshToken)
	g.observe(token.PurposeRefresh, err == nil)
	if err != nil {
		return token.Pair{}, accounts.Account{}, ErrInvalidRefreshToken
	}

	account, err := g.load(ctx, claims.AccountID())
	if err != nil {
		return token.Pair{}, accounts.Account{}, err
	}

	pair, err := g.CompleteLogin(account)
	if err != nil {
		return token.Pair{}, accounts.Account{}, err
	}
	return pair, account, nil
}

// PasswordLogin verifies the local credential and records the login. Unknown
// emails and accounts without a password still pay for one bcrypt comparison.
func (g *Gateway) PasswordLogin(ctx context.Context, email, password string) (token.Pair, accounts.Account, error) {
	account, err := g.store.FindByEmail(ctx, email)
	if err != nil {
		return token.Pair{}, accounts.Account{}, persistence("find by email", err)
	}
	if account == nil || !account.HasLocalCredential() {
		_ = g.verifyPassword(decoyPasswordHash(), password)
		return token.Pair{}, accounts.Account{}, ErrInvalidCredentials
	}
	if err := g.verifyPassword(account.PasswordHash, password); err != nil {
		return token.Pair{}, accounts.Account{}, err
	}

	saved, err := g.update(ctx, "record login", account.ID, func(a *accounts.Account) error {
		g.engine.touch(a)
		return nil
	})
	if err != nil {
		return token.Pair{}, accounts.Account{}, err
	}

	pair, err := g.CompleteLogin(saved)
	if err != nil {
		return token.Pair{}, accounts.Account{}, err
	}
	return pair, saved, nil
}

// SetPassword sets or replaces the account's local credential.
func (g *Gateway) SetPassword(ctx context.Context, accountID uuid.UUID, password string) (accounts.Account, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return accounts.Account{}, err
	}

	saved, err := g.update(ctx, "set password", accountID, func(a *accounts.Account) error {
		a.PasswordHash = hash
		return nil
	})
	if err != nil {
		return accounts.Account{}, err
	}
	g.logger.Info("local credential set", "account_id", accountID)
	return saved, nil
}

// UnlinkProvider removes a login method. It fails with ErrLastAuthMethod
// when the account has exactly one provider link and no local credential.
// Kind local removes the password, which requires at least one provider link.
func (g *Gateway) UnlinkProvider(ctx context.Context, accountID uuid.UUID, kind accounts.ProviderKind) (accounts.Account, error) {
	saved, err := g.update(ctx, "unlink provider", accountID, func(a *accounts.Account) error {
		if kind == accounts.ProviderLocal {
			if !a.HasLocalCredential() {
				return ErrProviderNotLinked
			}
			if len(a.Providers) == 0 {
				return ErrLastAuthMethod
			}
			a.PasswordHash = ""
			return nil
		}

		if !a.HasProvider(kind) {
			return ErrProviderNotLinked
		}
		if len(a.Providers) == 1 && !a.HasLocalCredential() {
			return ErrLastAuthMethod
		}
		a.RemoveProvider(kind)
		return nil
	})
	if err != nil {
		return accounts.Account{}, err
	}
	g.logger.Info("provider unlinked", "provider", kind, "account_id", accountID)
	return saved, nil
}

// LinkProvider starts linking kind to the account and returns the pending link
// whose nonce must come back through the provider callback.
func (g *Gateway) LinkProvider(ctx context.Context, accountID uuid.UUID, kind accounts.ProviderKind) (PendingLink, error) {
	if !kind.IsExternal() {
		return PendingLink{}, ErrUnsupportedProvider
	}
	if _, err := g.load(ctx, accountID); err != nil {
		return PendingLink{}, err
	}

	link := PendingLink{
		Nonce:     uuid.NewString(),
		AccountID: accountID,
		Kind:      kind,
		ExpiresAt: g.now().Add(g.linkTTL),
	}
	if err := g.links.Put(ctx, link); err != nil {
		return PendingLink{}, fmt.Errorf("store pending link: %w", err)
	}
	return link, nil
}

// ConsumeLink takes a pending link exactly once.
func (g *Gateway) ConsumeLink(ctx context.Context, nonce string) (PendingLink, error) {
	if nonce == "" {
		return PendingLink{}, ErrLinkNotFound
	}
	link, err := g.links.Take(ctx, nonce)
	if err != nil {
		return PendingLink{}, fmt.Errorf("take pending link: %w", err)
	}
	if link == nil {
		return PendingLink{}, ErrLinkNotFound
	}
	return *link, nil
}

// CompleteLink consumes the pending link and attaches identity to its account.
func (g *Gateway) CompleteLink(ctx context.Context, nonce string, identity ExternalIdentity) (accounts.Account, error) {
	link, err := g.ConsumeLink(ctx, nonce)
	if err != nil {
		return accounts.Account{}, err
	}
	if link.Kind != identity.Kind {
		return accounts.Account{}, ErrLinkNotFound
	}
	return g.engine.LinkIdentity(ctx, link.AccountID, identity)
}

// Profile returns the account.
func (g *Gateway) Profile(ctx context.Context, accountID uuid.UUID) (accounts.Account, error) {
	return g.load(ctx, accountID)
}

// UpdateProfile changes the display name and avatar.
func (g *Gateway) UpdateProfile(ctx context.Context, accountID uuid.UUID, update ProfileUpdate) (accounts.Account, error) {
	var name, avatar string
	if update.DisplayName != nil {
		name = strings.TrimSpace(*update.DisplayName)
		if name == "" || len([]rune(name)) > maxNameLength {
			return accounts.Account{}, fmt.Errorf("%w: name must be 1-%d characters", ErrInvalidProfile, maxNameLength)
		}
	}
	if update.AvatarURL != nil {
		avatar = strings.TrimSpace(*update.AvatarURL)
	}

	return g.update(ctx, "update profile", accountID, func(a *accounts.Account) error {
		if update.DisplayName != nil {
			a.DisplayName = name
		}
		if update.AvatarURL != nil {
			a.AvatarURL = avatar
		}
		return nil
	})
}

// Providers lists linked providers and whether each may be unlinked.
func (g *Gateway) Providers(ctx context.Context, accountID uuid.UUID) ([]ProviderStatus, error) {
	account, err := g.load(ctx, accountID)
	if err != nil {
		return nil, err
	}

	canUnlink := len(account.Providers) > 1 || account.HasLocalCredential()
	statuses := make([]ProviderStatus, 0, len(account.Providers))
	for _, link := range account.Providers {
		statuses = append(statuses, ProviderStatus{
			Kind:        link.Kind,
			ConnectedAt: link.LinkedAt,
			CanUnlink:   canUnlink,
		})
	}
	return statuses, nil
}

// DeleteAccount removes the account and its provider links.
func (g *Gateway) DeleteAccount(ctx context.Context, accountID uuid.UUID) error {
	if err := g.store.Delete(ctx, accountID); err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			return ErrAccountNotFound
		}
		return persistence("delete account", err)
	}
	g.logger.Info("account deleted", "account_id", accountID)
	return nil
}

// Logout records the logout. Tokens are stateless and the client discards them.
func (g *Gateway) Logout(_ context.Context, accountID uuid.UUID) {
	g.logger.Info("user logged out", "account_id", accountID)
}

func (g *Gateway) load(ctx context.Context, accountID uuid.UUID) (accounts.Account, error) {
	account, err := g.store.FindByID(ctx, accountID)
	if err != nil {
		return accounts.Account{}, persistence("find account", err)
	}
	if account == nil {
		return accounts.Account{}, ErrAccountNotFound
	}
	return *account, nil
}

// update applies mutate to a freshly loaded account and saves it. When another
// writer saved first, the account is reloaded and mutate runs again.
func (g *Gateway) update(ctx context.Context, op string, accountID uuid.UUID, mutate func(*accounts.Account) error) (accounts.Account, error) {
	var err error
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		var account accounts.Account
		account, err = g.load(ctx, accountID)
		if err != nil {
			return accounts.Account{}, err
		}
		if err := mutate(&account); err != nil {
			return accounts.Account{}, err
		}

		var saved accounts.Account
		saved, err = g.store.Save(ctx, account)
		if err == nil {
			return saved, nil
		}
		if !errors.Is(err, accounts.ErrConflict) {
			break
		}
	}
	return accounts.Account{}, g.saveError(op, err)
}

func (g *Gateway) saveError(op string, err error) error {
	if errors.Is(err, accounts.ErrNotFound) {
		return ErrAccountNotFound
	}
	return persistence(op, err)
}

func subjectOf(account accounts.Account) token.Subject {
	return token.Subject{
		AccountID:     account.ID,
		Email:         account.Email,
		DisplayName:   account.DisplayName,
		ProviderKinds: account.ProviderKinds(),
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", ErrNoToken
	}
	raw := strings.TrimSpace(header[len(bearerPrefix):])
	if raw == "" {
		return "", ErrNoToken
	}
	return raw, nil
}
