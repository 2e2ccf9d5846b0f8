package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

// SnapshotSaver persists one engine snapshot.
type SnapshotSaver interface {
	Save(ctx context.Context) (domain.SnapshotRecord, error)
}

// Snapshotter saves a snapshot on a fixed interval and once more on
// shutdown.
type Snapshotter struct {
	saver    SnapshotSaver
	interval time.Duration
	logger   *slog.Logger
}

// NewSnapshotter creates a Snapshotter.
func NewSnapshotter(saver SnapshotSaver, interval time.Duration, logger *slog.Logger) *Snapshotter {
	return &Snapshotter{
		saver:    saver,
		interval: interval,
		logger:   logger.With(slog.String("component", "snapshotter")),
	}
}

// Run blocks until ctx is cancelled. Failed saves are logged and retried on
// the next tick.
func (s *Snapshotter) Run(ctx context.Context) error {
	s.logger.Info("snapshotter started", slog.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, err := s.saver.Save(final); err != nil {
				s.logger.Error("final snapshot failed", slog.String("error", err.Error()))
			}
			s.logger.Info("snapshotter stopped")
			return nil
		case <-ticker.C:
			if _, err := s.saver.Save(ctx); err != nil {
				s.logger.Error("snapshot failed", slog.String("error", err.Error()))
			}
		}
	}
}
