// Package pipeline runs the engine's background maintenance jobs: periodic
// snapshots and the cold-storage event archive.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

// Archiver moves events older than the retention window to cold storage.
type Archiver struct {
	archiver      domain.Archiver
	retentionDays int
	logger        *slog.Logger
	nowFn         func() time.Time
}

// NewArchiver creates an Archiver.
func NewArchiver(archiver domain.Archiver, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		archiver:      archiver,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archiver")),
		nowFn:         time.Now,
	}
}

// Run archives every event older than the retention window once.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := a.nowFn().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	a.logger.Info("starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)
	n, err := a.archiver.ArchiveEvents(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving events before %v: %w", cutoff, err)
	}
	a.logger.Info("archive run complete", slog.Int64("events_archived", n))
	return nil
}

// RunCron runs the archiver on a 5-field cron schedule until ctx is
// cancelled. "0 3 * * *" runs daily at 03:00 UTC.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	sched, err := parseCron(cronExpr)
	if err != nil {
		return fmt.Errorf("parsing cron expression %q: %w", cronExpr, err)
	}
	a.logger.Info("archiver cron started", slog.String("cron", cronExpr))

	for {
		next, err := sched.next(a.nowFn().UTC())
		if err != nil {
			return fmt.Errorf("cron expression %q: %w", cronExpr, err)
		}
		wait := time.Until(next)
		a.logger.Debug("archiver waiting", slog.Time("next_run", next), slog.Duration("wait", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("archiver cron stopped")
			return ctx.Err()
		case <-timer.C:
			if err := a.Run(ctx); err != nil {
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
