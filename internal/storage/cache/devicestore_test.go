package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/westerly/go-push-dispatch/internal/storage/cache"
	"github.com/westerly/go-push-dispatch/pkg/push"
)

// --- Mocks ---

type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key string, dest interface{}) error {
	args := m.Called(ctx, key, dest)
	return args.Error(0)
}
func (m *MockCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}
func (m *MockCache) Del(ctx context.Context, keys ...string) error {
	callArgs := make([]interface{}, 0, len(keys)+1)
	callArgs = append(callArgs, ctx)
	for _, k := range keys {
		callArgs = append(callArgs, k)
	}
	return m.Called(callArgs...).Error(0)
}

type MockRealStore struct {
	mock.Mock
}

func (m *MockRealStore) Save(ctx context.Context, d *push.Device) error {
	return m.Called(ctx, d).Error(0)
}
func (m *MockRealStore) Get(ctx context.Context, id string) (*push.Device, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(*push.Device), args.Error(1)
}
func (m *MockRealStore) GetMany(ctx context.Context, ids []string) ([]push.Device, error) {
	args := m.Called(ctx, ids)
	return args.Get(0).([]push.Device), args.Error(1)
}
func (m *MockRealStore) ByProvider(ctx context.Context, p push.Provider) ([]push.Device, error) {
	args := m.Called(ctx, p)
	return args.Get(0).([]push.Device), args.Error(1)
}
func (m *MockRealStore) ByProviderIDs(ctx context.Context, p push.Provider, ids []string) ([]push.Device, error) {
	args := m.Called(ctx, p, ids)
	return args.Get(0).([]push.Device), args.Error(1)
}
func (m *MockRealStore) MarkInactive(ctx context.Context, registrationIDs []string) error {
	return m.Called(ctx, registrationIDs).Error(0)
}
func (m *MockRealStore) Unregister(ctx context.Context, registrationID string) error {
	return m.Called(ctx, registrationID).Error(0)
}

// --- Tests ---

func TestCachedDeviceStore(t *testing.T) {
	ctx := context.Background()
	apnsKey := "push:devices:APNS"
	gcmKey := "push:devices:GCM"

	t.Run("ByProvider miss falls through and refills", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedDeviceStore(mockDB, mockCache, time.Hour)

		devices := []push.Device{{ID: "dev-1", Provider: push.APNS}}

		mockCache.On("Get", ctx, apnsKey, mock.Anything).Return(assert.AnError) // miss
		mockDB.On("ByProvider", ctx, push.APNS).Return(devices, nil)
		mockCache.On("Set", ctx, apnsKey, devices, mock.Anything).Return(nil)

		got, err := store.ByProvider(ctx, push.APNS)

		require.NoError(t, err)
		assert.Equal(t, devices, got)
		mockDB.AssertExpectations(t)
		mockCache.AssertExpectations(t)
	})

	t.Run("Save invalidates the provider view immediately", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedDeviceStore(mockDB, mockCache, time.Hour)

		dev := push.NewGCMDevice("reg-1")
		mockDB.On("Save", ctx, dev).Return(nil)
		mockCache.On("Del", ctx, gcmKey).Return(nil)

		require.NoError(t, store.Save(ctx, dev))
		mockDB.AssertExpectations(t)
		mockCache.AssertExpectations(t)
	})

	t.Run("MarkInactive invalidates both provider views in one call", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedDeviceStore(mockDB, mockCache, time.Hour)

		mockDB.On("MarkInactive", ctx, []string{"reg-dead"}).Return(nil)
		mockCache.On("Del", ctx, apnsKey, gcmKey).Return(nil).Once()

		require.NoError(t, store.MarkInactive(ctx, []string{"reg-dead"}))
		mockCache.AssertExpectations(t)
	})

	t.Run("ByProviderIDs bypasses the cache", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedDeviceStore(mockDB, mockCache, time.Hour)

		devices := []push.Device{{ID: "dev-1", Provider: push.APNS}}
		mockDB.On("ByProviderIDs", ctx, push.APNS, []string{"dev-1"}).Return(devices, nil)

		got, err := store.ByProviderIDs(ctx, push.APNS, []string{"dev-1"})

		require.NoError(t, err)
		assert.Equal(t, devices, got)
		mockCache.AssertNotCalled(t, "Get", mock.Anything, mock.Anything, mock.Anything)
	})
}
