//go:build !integration

package postgres

import (
	"context"
	"time"

	"omnicoder/internal/domain/model"
	"omnicoder/internal/domain/ports/repository"
	red "omnicoder/internal/infra/redis"
)

type mockInnerSettingsRepo struct {
	GetFunc  func(ctx context.Context, tx repository.Tx) (*model.Settings, error)
	SaveFunc func(ctx context.Context, tx repository.Tx, s *model.Settings) error
}

func (m *mockInnerSettingsRepo) Get(ctx context.Context, tx repository.Tx) (*model.Settings, error) {
	return m.GetFunc(ctx, tx)
}
func (m *mockInnerSettingsRepo) Save(ctx context.Context, tx repository.Tx, s *model.Settings) error {
	return m.SaveFunc(ctx, tx, s)
}

// mockRedisClient mocks our Redis client wrapper.
type mockRedisClient struct {
	GetFunc         func(ctx context.Context, key string) (string, error)
	SetFunc         func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	SetNXFunc       func(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	DelFunc         func(ctx context.Context, keys ...string) error
	DelIfEqualsFunc func(ctx context.Context, key, value string) (bool, error)
	PingFunc        func(ctx context.Context) error
	IncrFunc        func(ctx context.Context, key string) (int64, error)
	ExpireFunc      func(ctx context.Context, key string, expiration time.Duration) error
	CloseFunc       func() error
}

var _ red.RedisClient = &mockRedisClient{}

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	return m.GetFunc(ctx, key)
}
func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return m.SetFunc(ctx, key, value, expiration)
}
func (m *mockRedisClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	return m.SetNXFunc(ctx, key, value, expiration)
}
func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	return m.DelFunc(ctx, keys...)
}
func (m *mockRedisClient) DelIfEquals(ctx context.Context, key, value string) (bool, error) {
	return m.DelIfEqualsFunc(ctx, key, value)
}
func (m *mockRedisClient) Ping(ctx context.Context) error { return m.PingFunc(ctx) }
func (m *mockRedisClient) Incr(ctx context.Context, key string) (int64, error) {
	return m.IncrFunc(ctx, key)
}
func (m *mockRedisClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return m.ExpireFunc(ctx, key, expiration)
}
func (m *mockRedisClient) Close() error { return m.CloseFunc() }
