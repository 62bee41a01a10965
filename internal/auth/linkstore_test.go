package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"socialauth/internal/accounts"
)

// fakeRedis implements the two commands RedisLinkStore uses. Any other
// command panics through the nil embedded interface.
type fakeRedis struct {
	redis.Cmdable
	values map[string]string
	ttls   map[string]time.Duration
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx, "set", key, value)
	switch v := value.(type) {
	case []byte:
		f.values[key] = string(v)
	case string:
		f.values[key] = v
	}
	f.ttls[key] = expiration
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeRedis) GetDel(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx, "getdel", key)
	value, ok := f.values[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	delete(f.values, key)
	cmd.SetVal(value)
	return cmd
}

func pendingLink(expiresAt time.Time) PendingLink {
	return PendingLink{
		Nonce:     uuid.NewString(),
		AccountID: uuid.New(),
		Kind:      accounts.ProviderGitHub,
		ExpiresAt: expiresAt,
	}
}

func TestMemoryLinkStoreTakeIsSingleUse(t *testing.T) {
	store := NewMemoryLinkStore()
	ctx := context.Background()
	link := pendingLink(time.Now().Add(time.Minute))

	if err := store.Put(ctx, link); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	got, err := store.Take(ctx, link.Nonce)
	if err != nil || got == nil {
		t.Fatalf("expected link, got %+v (err %v)", got, err)
	}
	if got.AccountID != link.AccountID || got.Kind != link.Kind {
		t.Fatalf("unexpected link: %+v", got)
	}
	if again, _ := store.Take(ctx, link.Nonce); again != nil {
		t.Fatal("expected second take to find nothing")
	}
}

func TestMemoryLinkStoreDropsExpired(t *testing.T) {
	store := NewMemoryLinkStore()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	link := pendingLink(now.Add(time.Minute))
	if err := store.Put(ctx, link); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}

	now = now.Add(time.Minute)
	if got, _ := store.Take(ctx, link.Nonce); got != nil {
		t.Fatalf("expected expired link to be dropped, got %+v", got)
	}
	if _, ok := store.links[link.Nonce]; ok {
		t.Fatal("expected expired entry to be removed")
	}
}

func TestMemoryLinkStoreRejectsEmptyNonce(t *testing.T) {
	if err := NewMemoryLinkStore().Put(context.Background(), PendingLink{}); err == nil {
		t.Fatal("expected error for empty nonce")
	}
}

func TestRedisLinkStoreRoundTrip(t *testing.T) {
	client := newFakeRedis()
	store := NewRedisLinkStore(client)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	link := pendingLink(now.Add(10 * time.Minute))
	if err := store.Put(ctx, link); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	if ttl := client.ttls["socialauth:link:"+link.Nonce]; ttl != 10*time.Minute {
		t.Fatalf("expected 10m ttl, got %s", ttl)
	}

	got, err := store.Take(ctx, link.Nonce)
	if err != nil || got == nil {
		t.Fatalf("expected link, got %+v (err %v)", got, err)
	}
	if got.AccountID != link.AccountID || !got.ExpiresAt.Equal(link.ExpiresAt) {
		t.Fatalf("unexpected link: %+v", got)
	}

	missing, err := store.Take(ctx, link.Nonce)
	if err != nil || missing != nil {
		t.Fatalf("expected nothing on second take, got %+v (err %v)", missing, err)
	}
}

func TestRedisLinkStoreRejectsPastExpiry(t *testing.T) {
	store := NewRedisLinkStore(newFakeRedis())
	if err := store.Put(context.Background(), pendingLink(time.Now().Add(-time.Second))); err == nil {
		t.Fatal("expected error for past expiry")
	}
}
