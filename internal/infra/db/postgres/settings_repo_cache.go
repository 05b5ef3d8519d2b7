package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"omnicoder/internal/domain/model"
	"omnicoder/internal/domain/ports/repository"
	"omnicoder/internal/infra/metrics"
	red "omnicoder/internal/infra/redis"
)

const settingsCacheKey = "settings:singleton"

var _ repository.SettingsRepository = (*settingsRepoCacheDecorator)(nil)

// settingsRepoCacheDecorator serves the settings singleton from redis; the runner reads it on every job.
type settingsRepoCacheDecorator struct {
	inner repository.SettingsRepository
	cache red.RedisClient
	ttl   time.Duration
	log   zerolog.Logger
}

func NewSettingsRepoCacheDecorator(inner repository.SettingsRepository, cache red.RedisClient, ttl time.Duration, logger *zerolog.Logger) repository.SettingsRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &settingsRepoCacheDecorator{
		inner: inner,
		cache: cache,
		ttl:   ttl,
		log:   logger.With().Str("component", "settings_cache").Logger(),
	}
}

func (d *settingsRepoCacheDecorator) Get(ctx context.Context, tx repository.Tx) (*model.Settings, error) {
	// reads inside a transaction must see uncommitted writes
	if tx != nil {
		return d.inner.Get(ctx, tx)
	}
	val, err := d.cache.Get(ctx, settingsCacheKey)
	if err == nil {
		var s model.Settings
		if json.Unmarshal([]byte(val), &s) == nil {
			metrics.ObserveCacheLookup("settings", true)
			return &s, nil
		}
	} else if !errors.Is(err, red.Nil) {
		d.log.Warn().Err(err).Msg("settings cache read failed")
	}

	metrics.ObserveCacheLookup("settings", false)
	s, err := d.inner.Get(ctx, nil)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(s); err == nil {
		_ = d.cache.Set(ctx, settingsCacheKey, b, d.ttl)
	}
	return s, nil
}

func (d *settingsRepoCacheDecorator) Save(ctx context.Context, tx repository.Tx, s *model.Settings) error {
	if err := d.inner.Save(ctx, tx, s); err != nil {
		return err
	}
	if err := d.cache.Del(ctx, settingsCacheKey); err != nil {
		d.log.Warn().Err(err).Msg("settings cache invalidation failed")
	}
	return nil
}
