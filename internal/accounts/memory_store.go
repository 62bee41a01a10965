package accounts

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type providerKey struct {
	kind       ProviderKind
	providerID string
}

// MemoryStore keeps accounts in process memory, ideal for local development or tests.
type MemoryStore struct {
	mu         sync.RWMutex
	data       map[uuid.UUID]Account
	byEmail    map[string]uuid.UUID
	byProvider map[providerKey]uuid.UUID
	now        func() time.Time
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:       make(map[uuid.UUID]Account),
		byEmail:    make(map[string]uuid.UUID),
		byProvider: make(map[providerKey]uuid.UUID),
		now:        time.Now,
	}
}

// FindByProvider returns the account holding the provider identity.
func (s *MemoryStore) FindByProvider(_ context.Context, kind ProviderKind, providerID string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byProvider[providerKey{kind: kind, providerID: providerID}]
	if !ok {
		return nil, nil
	}
	return s.lookup(id), nil
}

// FindByEmail returns the account owning the email, compared case-insensitively.
func (s *MemoryStore) FindByEmail(_ context.Context, email string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, nil
	}
	return s.lookup(id), nil
}

// FindByID returns the account with the given id.
func (s *MemoryStore) FindByID(_ context.Context, id uuid.UUID) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lookup(id), nil
}

// Create stores a new account. The email check and insert happen under one lock.
func (s *MemoryStore) Create(_ context.Context, account Account) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account = account.Clone()
	account.Email = NormalizeEmail(account.Email)
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	if _, exists := s.data[account.ID]; exists {
		return Account{}, ErrDuplicateEmail
	}
	if _, taken := s.byEmail[account.Email]; taken {
		return Account{}, ErrDuplicateEmail
	}
	if err := s.checkProviders(account); err != nil {
		return Account{}, err
	}

	now := stamp(s.now())
	account.CreatedAt = now
	account.UpdatedAt = now
	if account.LastLoginAt.IsZero() {
		account.LastLoginAt = now
	}
	stampLinks(account.Providers, now)

	s.index(account)
	return account.Clone(), nil
}

// Save replaces an existing account if it is unchanged since account was read.
func (s *MemoryStore) Save(_ context.Context, account Account) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.data[account.ID]
	if !ok {
		return Account{}, ErrNotFound
	}
	if !account.UpdatedAt.Equal(existing.UpdatedAt) {
		return Account{}, ErrConflict
	}

	account = account.Clone()
	account.Email = NormalizeEmail(account.Email)
	if owner, taken := s.byEmail[account.Email]; taken && owner != account.ID {
		return Account{}, ErrDuplicateEmail
	}
	if err := s.checkProviders(account); err != nil {
		return Account{}, err
	}

	now := nextRevision(s.now(), existing.UpdatedAt)
	account.CreatedAt = existing.CreatedAt
	account.UpdatedAt = now
	stampLinks(account.Providers, now)

	s.unindex(existing)
	s.index(account)
	return account.Clone(), nil
}

// Delete removes an account by id.
func (s *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.data[id]
	if !ok {
		return ErrNotFound
	}
	s.unindex(existing)
	return nil
}

func (s *MemoryStore) lookup(id uuid.UUID) *Account {
	account, ok := s.data[id]
	if !ok {
		return nil
	}
	clone := account.Clone()
	return &clone
}

func (s *MemoryStore) checkProviders(account Account) error {
	for _, link := range account.Providers {
		owner, taken := s.byProvider[providerKey{kind: link.Kind, providerID: link.ProviderID}]
		if taken && owner != account.ID {
			return ErrProviderTaken
		}
	}
	return nil
}

func (s *MemoryStore) index(account Account) {
	s.data[account.ID] = account
	s.byEmail[account.Email] = account.ID
	for _, link := range account.Providers {
		s.byProvider[providerKey{kind: link.Kind, providerID: link.ProviderID}] = account.ID
	}
}

func (s *MemoryStore) unindex(account Account) {
	delete(s.data, account.ID)
	delete(s.byEmail, account.Email)
	for _, link := range account.Providers {
		delete(s.byProvider, providerKey{kind: link.Kind, providerID: link.ProviderID})
	}
}

func stampLinks(links []ProviderLink, now time.Time) {
	for i := range links {
		if links[i].LinkedAt.IsZero() {
			links[i].LinkedAt = now
		}
	}
}
