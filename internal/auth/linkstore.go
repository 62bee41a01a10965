package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"socialauth/internal/accounts"
)

// PendingLink records an authenticated account's request to attach a
// provider. The OAuth round trip carries only the nonce.
type PendingLink struct {
	Nonce     string                `json:"nonce"`
	AccountID uuid.UUID             `json:"accountId"`
	Kind      accounts.ProviderKind `json:"kind"`
	ExpiresAt time.Time             `json:"expiresAt"`
}

// LinkStore keeps pending links until they are consumed or expire.
type LinkStore interface {
	Put(ctx context.Context, link PendingLink) error
	// Take returns and removes the link. It returns (nil, nil) when the
	// nonce is unknown, expired or already taken.
	Take(ctx context.Context, nonce string) (*PendingLink, error)
}

// MemoryLinkStore keeps pending links in process memory. Expired entries are
// dropped when touched.
type MemoryLinkStore struct {
	mu    sync.Mutex
	links map[string]PendingLink
	now   func() time.Time
}

// NewMemoryLinkStore constructs an empty store.
func NewMemoryLinkStore() *MemoryLinkStore {
	return &MemoryLinkStore{
		links: make(map[string]PendingLink),
		now:   time.Now,
	}
}

// Put stores link under its nonce.
func (s *MemoryLinkStore) Put(_ context.Context, link PendingLink) error {
	if link.Nonce == "" {
		return errors.New("pending link: missing nonce")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.links[link.Nonce] = link
	return nil
}

// Take removes and returns the link if it has not expired.
func (s *MemoryLinkStore) Take(_ context.Context, nonce string) (*PendingLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.links[nonce]
	if !ok {
		return nil, nil
	}
	delete(s.links, nonce)
	if !s.now().Before(link.ExpiresAt) {
		return nil, nil
	}
	return &link, nil
}

const linkKeyPrefix = "socialauth:link:"

// RedisLinkStore keeps pending links in Redis with a key TTL.
type RedisLinkStore struct {
	client redis.Cmdable
	prefix string
	now    func() time.Time
}

// NewRedisLinkStore creates a Redis-backed link store.
func NewRedisLinkStore(client redis.Cmdable) *RedisLinkStore {
	return &RedisLinkStore{
		client: client,
		prefix: linkKeyPrefix,
		now:    time.Now,
	}
}

func (s *RedisLinkStore) key(nonce string) string {
	return s.prefix + nonce
}

// Put stores link with a TTL matching its expiry.
func (s *RedisLinkStore) Put(ctx context.Context, link PendingLink) error {
	if link.Nonce == "" {
		return errors.New("pending link: missing nonce")
	}

	ttl := link.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return errors.New("pending link: expires_at must be in the future")
	}

	data, err := json.Marshal(link)
	if err != nil {
		return fmt.Errorf("pending link: marshal: %w", err)
	}

	return s.client.Set(ctx, s.key(link.Nonce), data, ttl).Err()
}

// Take atomically reads and deletes the link.
func (s *RedisLinkStore) Take(ctx context.Context, nonce string) (*PendingLink, error) {
	val, err := s.client.GetDel(ctx, s.key(nonce)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var link PendingLink
	if err := json.Unmarshal([]byte(val), &link); err != nil {
		return nil, fmt.Errorf("pending link: unmarshal: %w", err)
	}
	if !s.now().Before(link.ExpiresAt) {
		return nil, nil
	}
	return &link, nil
}
