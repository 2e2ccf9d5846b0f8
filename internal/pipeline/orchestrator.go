package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Orchestrator runs the background jobs that are configured. Either job may
// be nil.
type Orchestrator struct {
	snapshotter *Snapshotter
	archiver    *Archiver
	archiveCron string
	logger      *slog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(snapshotter *Snapshotter, archiver *Archiver, archiveCron string, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		snapshotter: snapshotter,
		archiver:    archiver,
		archiveCron: archiveCron,
		logger:      logger.With(slog.String("component", "pipeline")),
	}
}

// Run starts every configured job and waits for all of them. A job failing
// for any reason other than cancellation stops the others.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline starting",
		slog.Bool("snapshots", o.snapshotter != nil),
		slog.Bool("archive", o.archiver != nil),
		slog.String("archive_cron", o.archiveCron),
	)
	g, ctx := errgroup.WithContext(ctx)

	if o.snapshotter != nil {
		g.Go(func() error {
			if err := o.snapshotter.Run(ctx); err != nil && ctx.Err() == nil {
				return fmt.Errorf("snapshotter: %w", err)
			}
			return nil
		})
	}
	if o.archiver != nil {
		g.Go(func() error {
			if err := o.archiver.RunCron(ctx, o.archiveCron); err != nil && ctx.Err() == nil {
				return fmt.Errorf("archiver: %w", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline stopped cleanly")
	return nil
}
