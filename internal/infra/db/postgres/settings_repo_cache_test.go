//go:build !integration

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"omnicoder/internal/domain/model"
	"omnicoder/internal/domain/ports/repository"
	red "omnicoder/internal/infra/redis"
)

func TestSettingsRepoCacheDecorator(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.Nop()
	stored := model.DefaultSettings()
	stored.ProjectName = "cached-project"

	t.Run("Get should fetch from DB and set cache on miss", func(t *testing.T) {
		innerCalled := 0
		var setKey string
		var setVal interface{}
		mockRedis := &mockRedisClient{
			GetFunc: func(ctx context.Context, key string) (string, error) { return "", red.Nil },
			SetFunc: func(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
				setKey, setVal = key, value
				return nil
			},
		}
		inner := &mockInnerSettingsRepo{
			GetFunc: func(ctx context.Context, tx repository.Tx) (*model.Settings, error) {
				innerCalled++
				s := stored
				return &s, nil
			},
		}

		got, err := NewSettingsRepoCacheDecorator(inner, mockRedis, time.Minute, &logger).Get(ctx, nil)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if innerCalled != 1 {
			t.Errorf("inner repository should be called once on a miss, got %d", innerCalled)
		}
		if got.ProjectName != "cached-project" {
			t.Errorf("unexpected settings %+v", got)
		}
		if setKey != settingsCacheKey || setVal == nil {
			t.Errorf("cache was not warmed: key=%q", setKey)
		}
	})

	t.Run("Get should serve from cache on hit", func(t *testing.T) {
		raw, _ := json.Marshal(stored)
		mockRedis := &mockRedisClient{
			GetFunc: func(ctx context.Context, key string) (string, error) { return string(raw), nil },
		}
		inner := &mockInnerSettingsRepo{
			GetFunc: func(ctx context.Context, tx repository.Tx) (*model.Settings, error) {
				t.Fatal("inner repository must not be called on a hit")
				return nil, nil
			},
		}

		got, err := NewSettingsRepoCacheDecorator(inner, mockRedis, time.Minute, &logger).Get(ctx, nil)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got.ProjectName != "cached-project" {
			t.Errorf("unexpected settings %+v", got)
		}
	})

	t.Run("Get inside a transaction bypasses the cache", func(t *testing.T) {
		mockRedis := &mockRedisClient{
			GetFunc: func(ctx context.Context, key string) (string, error) {
				t.Fatal("cache must not be read inside a transaction")
				return "", nil
			},
		}
		inner := &mockInnerSettingsRepo{
			GetFunc: func(ctx context.Context, tx repository.Tx) (*model.Settings, error) {
				s := stored
				return &s, nil
			},
		}
		if _, err := NewSettingsRepoCacheDecorator(inner, mockRedis, time.Minute, &logger).Get(ctx, struct{}{}); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	})

	t.Run("Save should invalidate after a successful write", func(t *testing.T) {
		deleted := false
		mockRedis := &mockRedisClient{
			DelFunc: func(ctx context.Context, keys ...string) error {
				deleted = len(keys) == 1 && keys[0] == settingsCacheKey
				return nil
			},
		}
		inner := &mockInnerSettingsRepo{
			SaveFunc: func(ctx context.Context, tx repository.Tx, s *model.Settings) error { return nil },
		}
		s := stored
		if err := NewSettingsRepoCacheDecorator(inner, mockRedis, time.Minute, &logger).Save(ctx, nil, &s); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !deleted {
			t.Error("cache key should be invalidated")
		}
	})

	t.Run("Save failure leaves the cache alone", func(t *testing.T) {
		boom := errors.New("db down")
		mockRedis := &mockRedisClient{
			DelFunc: func(ctx context.Context, keys ...string) error {
				t.Fatal("cache must not be touched when the write fails")
				return nil
			},
		}
		inner := &mockInnerSettingsRepo{
			SaveFunc: func(ctx context.Context, tx repository.Tx, s *model.Settings) error { return boom },
		}
		s := stored
		err := NewSettingsRepoCacheDecorator(inner, mockRedis, time.Minute, &logger).Save(ctx, nil, &s)
		if !errors.Is(err, boom) {
			t.Fatalf("expected %v, got %v", boom, err)
		}
	})
}
