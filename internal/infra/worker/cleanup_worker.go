package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"omnicoder/internal/domain/ports/repository"
)

// CleanupWorker deletes conversation logs older than the configured retention.
type CleanupWorker struct {
	interval time.Duration
	settings repository.SettingsRepository
	logs     repository.ConversationLogRepository
	now      func() time.Time
	log      zerolog.Logger
}

func NewCleanupWorker(interval time.Duration, settings repository.SettingsRepository, logs repository.ConversationLogRepository, logger *zerolog.Logger) *CleanupWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &CleanupWorker{
		interval: interval,
		settings: settings,
		logs:     logs,
		now:      time.Now,
		log:      logger.With().Str("component", "cleanup_worker").Logger(),
	}
}

func (w *CleanupWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("starting cleanup worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("stopping cleanup worker")
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.log.Error().Err(err).Msg("cleanup failed")
			}
		}
	}
}

// RunOnce applies the retention from the current settings and returns the number of logs removed.
func (w *CleanupWorker) RunOnce(ctx context.Context) (int, error) {
	s, err := w.settings.Get(ctx, nil)
	if err != nil {
		return 0, err
	}
	if s.AutoCleanupDays <= 0 {
		return 0, nil
	}
	cutoff := w.now().AddDate(0, 0, -s.AutoCleanupDays)
	n, err := w.logs.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		w.log.Info().Int("count", n).Time("cutoff", cutoff).Msg("old conversation logs deleted")
	}
	return n, nil
}
