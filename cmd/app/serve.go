package main

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	pg "omnicoder/internal/infra/db/postgres"
	"omnicoder/internal/infra/web"
)

const poolStatsInterval = 15 * time.Second

func runServe(ctx context.Context, flags *rootFlags) error {
	cfg, logger, err := setup(flags)
	if err != nil {
		return err
	}
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	a.workers.Start(ctx)
	defer a.workers.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return web.NewServer(cfg.HTTP, a.facade, a.limiter, logger).Run(gctx)
	})
	g.Go(func() error { return ignoreCanceled(a.processor.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(a.cleanup.Run(gctx)) })
	if a.bot != nil {
		g.Go(func() error { return a.bot.Serve(gctx, a.facade) })
	}
	if a.db != nil {
		g.Go(func() error {
			pg.ReportPoolStats(gctx, a.db, poolStatsInterval, logger)
			return nil
		})
	}

	logger.Info().
		Str("version", version).
		Str("storage", cfg.Storage.Driver).
		Bool("telegram", a.bot != nil).
		Msg("omnicoder started")
	err = g.Wait()
	logger.Info().Msg("shutdown complete")
	return err
}
