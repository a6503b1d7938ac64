package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/westerly/go-push-dispatch/pkg/dispatch"
	"github.com/westerly/go-push-dispatch/pkg/push"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or an error on a miss.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the given keys in one call.
	Del(ctx context.Context, keys ...string) error
}

// CachedDeviceStore is a decorator that adds read-aside caching to any
// device registry. Only the provider-scoped collection query is cached;
// id-restricted reads always hit the real store so that dispatch sees
// current active flags.
type CachedDeviceStore struct {
	realStore dispatch.DeviceRegistry
	cache     CacheClient
	ttl       time.Duration
}

func NewCachedDeviceStore(realStore dispatch.DeviceRegistry, cache CacheClient, ttl time.Duration) *CachedDeviceStore {
	return &CachedDeviceStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

// --- READ PATHS ---

func (s *CachedDeviceStore) ByProvider(ctx context.Context, p push.Provider) ([]push.Device, error) {
	key := s.providerKey(p)

	var cached []push.Device
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}

	fresh, err := s.realStore.ByProvider(ctx, p)
	if err != nil {
		return nil, err
	}

	// Caching is an optimization, not a transaction: if Redis is down we
	// just serve from the store.
	_ = s.cache.Set(ctx, key, fresh, s.ttl)

	return fresh, nil
}

func (s *CachedDeviceStore) Get(ctx context.Context, id string) (*push.Device, error) {
	return s.realStore.Get(ctx, id)
}

func (s *CachedDeviceStore) GetMany(ctx context.Context, ids []string) ([]push.Device, error) {
	return s.realStore.GetMany(ctx, ids)
}

func (s *CachedDeviceStore) ByProviderIDs(ctx context.Context, p push.Provider, ids []string) ([]push.Device, error) {
	return s.realStore.ByProviderIDs(ctx, p, ids)
}

// --- WRITE PATHS (invalidate-on-write) ---

func (s *CachedDeviceStore) Save(ctx context.Context, d *push.Device) error {
	if err := s.realStore.Save(ctx, d); err != nil {
		return err
	}
	return s.cache.Del(ctx, s.providerKey(d.Provider))
}

// MarkInactive cannot know which providers the registration ids belong to,
// so it invalidates both scoped views.
func (s *CachedDeviceStore) MarkInactive(ctx context.Context, registrationIDs []string) error {
	if err := s.realStore.MarkInactive(ctx, registrationIDs); err != nil {
		return err
	}
	return s.invalidateAll(ctx)
}

func (s *CachedDeviceStore) Unregister(ctx context.Context, registrationID string) error {
	if err := s.realStore.Unregister(ctx, registrationID); err != nil {
		return err
	}
	return s.invalidateAll(ctx)
}

// --- Helpers ---

func (s *CachedDeviceStore) invalidateAll(ctx context.Context) error {
	return s.cache.Del(ctx, s.providerKey(push.APNS), s.providerKey(push.GCM))
}

func (s *CachedDeviceStore) providerKey(p push.Provider) string {
	return fmt.Sprintf("push:devices:%s", p)
}
