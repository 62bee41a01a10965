package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"socialauth/internal/accounts"
)

// Outcome reports which reconciliation path produced the account.
type Outcome string

const (
	// OutcomeReturning means the provider identity was already linked.
	OutcomeReturning Outcome = "returning"
	// OutcomeLinked means the identity was attached to an account with the same email.
	OutcomeLinked Outcome = "linked"
	// OutcomeCreated means a new account was created.
	OutcomeCreated Outcome = "created"
	// OutcomeFailed is reported to observers when reconciliation returns an error.
	OutcomeFailed Outcome = "failed"
)

// maxSaveAttempts bounds how often a read-modify-write is repeated after the
// store reports accounts.ErrConflict.
const maxSaveAttempts = 3

// Engine maps external identities onto accounts.
type Engine struct {
	store   accounts.Store
	now     func() time.Time
	logger  *slog.Logger
	observe func(kind accounts.ProviderKind, outcome Outcome)
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineClock overrides the clock used for login timestamps.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// WithEngineLogger sets the logger.
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithReconcileObserver registers a callback invoked once per Reconcile call.
func WithReconcileObserver(fn func(kind accounts.ProviderKind, outcome Outcome)) EngineOption {
	return func(e *Engine) {
		e.observe = fn
	}
}

// NewEngine creates an Engine backed by store.
func NewEngine(store accounts.Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store:   store,
		now:     time.Now,
		logger:  slog.Default(),
		observe: func(accounts.ProviderKind, Outcome) {},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reconcile resolves identity to an account. Lookups happen in a fixed order:
// provider identity, then email, then creation.
func (e *Engine) Reconcile(ctx context.Context, identity ExternalIdentity) (accounts.Account, Outcome, error) {
	account, outcome, err := e.reconcile(ctx, identity)
	for attempt := 1; errors.Is(err, accounts.ErrConflict) && attempt < maxSaveAttempts; attempt++ {
		e.logger.Warn("account changed during reconciliation, retrying", "provider", identity.Kind, "attempt", attempt)
		account, outcome, err = e.reconcile(ctx, identity)
	}
	if err != nil {
		e.observe(identity.Kind, OutcomeFailed)
		return accounts.Account{}, OutcomeFailed, err
	}
	e.observe(identity.Kind, outcome)
	e.logger.Info("identity reconciled",
		"provider", identity.Kind,
		"account_id", account.ID,
		"outcome", outcome,
	)
	return account, outcome, nil
}

func (e *Engine) reconcile(ctx context.Context, identity ExternalIdentity) (accounts.Account, Outcome, error) {
	if err := identity.validate(); err != nil {
		return accounts.Account{}, "", err
	}

	existing, err := e.store.FindByProvider(ctx, identity.Kind, identity.ProviderID)
	if err != nil {
		return accounts.Account{}, "", persistence("find by provider", err)
	}
	if existing != nil {
		e.touch(existing)
		saved, err := e.store.Save(ctx, *existing)
		if err != nil {
			return accounts.Account{}, "", persistence("record login", err)
		}
		return saved, OutcomeReturning, nil
	}

	email := accounts.NormalizeEmail(identity.Email)
	if email == "" {
		return accounts.Account{}, "", ErrMissingEmail
	}

	for attempt := 0; ; attempt++ {
		owner, err := e.store.FindByEmail(ctx, email)
		if err != nil {
			return accounts.Account{}, "", persistence("find by email", err)
		}
		if owner != nil {
			owner.UpsertProvider(identity.link())
			e.touch(owner)
			saved, err := e.store.Save(ctx, *owner)
			if err != nil {
				return accounts.Account{}, "", persistence("link provider", err)
			}
			return saved, OutcomeLinked, nil
		}

		created, err := e.store.Create(ctx, accounts.Account{
			Email:           email,
			DisplayName:     identity.displayName(email),
			AvatarURL:       identity.AvatarURL,
			IsEmailVerified: identity.EmailVerified,
			Providers:       []accounts.ProviderLink{identity.link()},
			LastLoginAt:     e.now().UTC(),
		})
		if errors.Is(err, accounts.ErrDuplicateEmail) && attempt == 0 {
			e.logger.Warn("concurrent account creation, retrying by email", "provider", identity.Kind)
			continue
		}
		if err != nil {
			return accounts.Account{}, "", persistence("create account", err)
		}
		return created, OutcomeCreated, nil
	}
}

// LinkIdentity attaches identity to the named account regardless of email.
// It fails with accounts.ErrProviderTaken when another account owns the identity.
func (e *Engine) LinkIdentity(ctx context.Context, accountID uuid.UUID, identity ExternalIdentity) (accounts.Account, error) {
	if err := identity.validate(); err != nil {
		return accounts.Account{}, err
	}

	saved, err := e.linkIdentity(ctx, accountID, identity)
	for attempt := 1; errors.Is(err, accounts.ErrConflict) && attempt < maxSaveAttempts; attempt++ {
		saved, err = e.linkIdentity(ctx, accountID, identity)
	}
	if err != nil {
		return accounts.Account{}, err
	}

	e.logger.Info("provider linked", "provider", identity.Kind, "account_id", saved.ID)
	return saved, nil
}

func (e *Engine) linkIdentity(ctx context.Context, accountID uuid.UUID, identity ExternalIdentity) (accounts.Account, error) {
	holder, err := e.store.FindByProvider(ctx, identity.Kind, identity.ProviderID)
	if err != nil {
		return accounts.Account{}, persistence("find by provider", err)
	}
	if holder != nil && holder.ID != accountID {
		return accounts.Account{}, fmt.Errorf("link %s: %w", identity.Kind, accounts.ErrProviderTaken)
	}

	account, err := e.store.FindByID(ctx, accountID)
	if err != nil {
		return accounts.Account{}, persistence("find account", err)
	}
	if account == nil {
		return accounts.Account{}, ErrAccountNotFound
	}

	account.UpsertProvider(identity.link())
	saved, err := e.store.Save(ctx, *account)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			return accounts.Account{}, ErrAccountNotFound
		}
		return accounts.Account{}, persistence("link provider", err)
	}
	return saved, nil
}

// touch advances LastLoginAt, staying strictly increasing under a coarse clock.
func (e *Engine) touch(account *accounts.Account) {
	now := e.now().UTC()
	if !now.After(account.LastLoginAt) {
		now = account.LastLoginAt.Add(time.Microsecond)
	}
	account.LastLoginAt = now
}
