package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/creatormarket/internal/crypto"
	"github.com/alanyoungcy/creatormarket/internal/domain"
	"github.com/alanyoungcy/creatormarket/internal/engine"
	"github.com/alanyoungcy/creatormarket/internal/eventlog"
	"github.com/alanyoungcy/creatormarket/internal/pipeline"
	"github.com/alanyoungcy/creatormarket/internal/server"
	"github.com/alanyoungcy/creatormarket/internal/server/handler"
	"github.com/alanyoungcy/creatormarket/internal/server/ws"
)

// engineLeaseKey names the single-writer lease held while the engine serves.
const engineLeaseKey = "engine"

const shutdownTimeout = 10 * time.Second

// ServeMode restores (or creates) the engine and serves the HTTP and
// WebSocket API. Event delivery, snapshots and, when withArchive is set, the
// archive schedule run alongside it.
//
// The HTTP server stops first; background jobs are cancelled only after it
// returned so in-flight requests still get their events delivered and the
// final snapshot sees them.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies, withArchive bool) error {
	a.logger.InfoContext(ctx, "starting serve mode", slog.Bool("archive", withArchive))

	var lease domain.Lease
	if deps.LockManager != nil {
		l, err := deps.LockManager.AcquireLease(ctx, engineLeaseKey, a.cfg.Redis.LeaseTTL.Duration)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return fmt.Errorf("app: another instance holds the engine lease: %w", err)
			}
			return fmt.Errorf("app: acquire engine lease: %w", err)
		}
		lease = l
		defer lease.Release()
	} else {
		a.logger.WarnContext(ctx, "redis disabled, running without a single-writer lease")
	}

	eng, err := a.loadEngine(ctx, deps)
	if err != nil {
		return err
	}
	metrics := deps.Metrics
	startedAt := a.nowFn().UTC()

	hub := ws.NewHub(ws.Config{
		Bus: deps.SignalBus,
		Status: func() map[string]any {
			return map[string]any{
				"mode":          a.cfg.Mode,
				"last_event_id": eng.LastEventID(),
			}
		},
		AllowedOrigins: a.cfg.Server.CORSOrigins,
		OnConnections:  func(n int) { metrics.WSConnections.Set(float64(n)) },
		StartedAt:      startedAt,
	}, a.logger)

	dispatcher := eventlog.NewDispatcher(eng.Recorder(), a.logger, a.buildSinks(deps, hub)...)

	// Snapshot persistence needs the snapshot table; object storage only
	// holds backups.
	var saver handler.SnapshotSaver
	var snapshotter *pipeline.Snapshotter
	if deps.SnapshotStore != nil {
		var backups domain.BlobWriter
		if a.cfg.Snapshot.Backup {
			backups = deps.BlobWriter
		}
		instrumented := metrics.InstrumentSaver(
			engine.NewPersister(eng, deps.SnapshotStore, backups, a.cfg.Snapshot.Keep, a.logger),
		)
		saver = instrumented
		snapshotter = pipeline.NewSnapshotter(instrumented, a.cfg.Snapshot.Interval.Duration, a.logger)
	} else {
		a.logger.WarnContext(ctx, "postgres disabled, engine state will not survive a restart")
	}

	var archiver *pipeline.Archiver
	if withArchive && a.cfg.Archive.Enabled && deps.Archiver != nil {
		archiver = pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
	}

	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(a.healthChecks(deps, eng), a.logger),
		Status:      handler.NewStatusHandler(eng, startedAt),
		Creators:    handler.NewCreatorHandler(eng, a.logger),
		Trading:     handler.NewTradingHandler(eng, a.logger),
		Predictions: handler.NewPredictionHandler(eng, a.logger),
		Events:      handler.NewEventHandler(eng, eventStoreOrNil(deps), a.logger),
		Pipeline: handler.NewPipelineHandler(
			eng.Admin(), saver, deps.Archiver,
			time.Duration(a.cfg.Archive.RetentionDays)*24*time.Hour, a.logger,
		),
	}

	verifier := crypto.NewVerifier(crypto.VerifierConfig{
		Domain:    a.cfg.Auth.Domain,
		ChainID:   a.cfg.Auth.ChainID,
		MaxAge:    a.cfg.Auth.MaxAge.Duration,
		Skew:      a.cfg.Auth.Skew.Duration,
		SingleUse: a.cfg.Auth.SingleUse,
	}, deps.Nonces)
	if a.cfg.Auth.TrustCallerHeader {
		a.logger.WarnContext(ctx, "auth.trust_caller_header is enabled; callers are not authenticated")
	}

	srv := server.NewServer(server.Config{
		Host:              a.cfg.Server.Host,
		Port:              a.cfg.Server.Port,
		CORSOrigins:       a.cfg.Server.CORSOrigins,
		RateLimit:         a.cfg.Server.RateLimit,
		RateWindow:        a.cfg.Server.RateWindow.Duration,
		TrustCallerHeader: a.cfg.Auth.TrustCallerHeader,
	}, handlers, server.Deps{
		Verifier: verifier,
		Limiter:  deps.RateLimiter,
		Metrics:  metrics,
		Hub:      hub,
	}, a.logger)

	// Background jobs outlive the request-serving group.
	jobsCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()
	jobs, jobsCtx := errgroup.WithContext(jobsCtx)
	jobs.Go(func() error { return dispatcher.Run(jobsCtx) })
	jobs.Go(func() error {
		if err := hub.Run(jobsCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("ws hub: %w", err)
		}
		return nil
	})
	if snapshotter != nil || archiver != nil {
		orchestrator := pipeline.NewOrchestrator(snapshotter, archiver, a.cfg.Archive.Cron, a.logger)
		jobs.Go(func() error { return orchestrator.Run(jobsCtx) })
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		jobStopped := false
		select {
		case <-gctx.Done():
		case <-jobsCtx.Done():
			jobStopped = true
		}
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			return err
		}
		if jobStopped {
			// Cancels gctx so the lease keeper returns too.
			return errors.New("app: background job stopped")
		}
		return nil
	})
	if lease != nil {
		g.Go(func() error {
			if err := lease.Keep(gctx); err != nil && gctx.Err() == nil {
				return fmt.Errorf("app: engine lease: %w", err)
			}
			return nil
		})
	}
	serveErr := g.Wait()

	cancelJobs()
	jobsErr := jobs.Wait()
	a.logger.Info("serve mode stopped",
		slog.Uint64("last_event_id", eng.LastEventID()),
		slog.Int("pending_events", eng.Recorder().Pending()),
	)
	return errors.Join(serveErr, jobsErr)
}

// AuditMode loads the latest snapshot, checks every cross-component
// invariant and records the outcome in the audit log.
func (a *App) AuditMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting audit mode")

	engCfg, err := a.engineConfig()
	if err != nil {
		return err
	}
	snap, err := engine.LoadLatest(ctx, deps.SnapshotStore, deps.BlobReader)
	if err != nil {
		return fmt.Errorf("app: audit: %w", err)
	}
	rec := eventlog.NewRecorder(a.cfg.Engine.EventRetention, a.nowFn)

	// Restore runs the audit and refuses inconsistent state.
	_, auditErr := engine.Restore(engCfg, snap, rec, a.logger, a.nowFn)
	detail := map[string]any{
		"last_event_id": snap.LastEventID,
		"taken_at":      snap.TakenAt,
		"ledgers":       len(snap.Registry.Ledgers),
		"predictions":   len(snap.Market.Predictions),
		"ok":            auditErr == nil,
	}
	if auditErr != nil {
		detail["error"] = auditErr.Error()
	}
	if deps.AuditStore != nil {
		if err := deps.AuditStore.Log(ctx, "engine.audit", detail); err != nil {
			a.logger.WarnContext(ctx, "audit: failed to record result", slog.String("error", err.Error()))
		}
	}
	if auditErr != nil {
		return fmt.Errorf("app: audit failed: %w", auditErr)
	}
	a.logger.InfoContext(ctx, "audit passed",
		slog.Uint64("last_event_id", snap.LastEventID),
		slog.Time("taken_at", snap.TakenAt),
	)
	return nil
}

// ArchiveMode archives events older than the retention window once and
// exits. It suits an external scheduler.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")
	if deps.Archiver == nil {
		return fmt.Errorf("app: archive mode requires postgres and s3")
	}
	return pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger).Run(ctx)
}

// loadEngine restores the engine from the newest snapshot, or creates an
// empty one when there is none.
func (a *App) loadEngine(ctx context.Context, deps *Dependencies) (*engine.Engine, error) {
	engCfg, err := a.engineConfig()
	if err != nil {
		return nil, err
	}
	rec := eventlog.NewRecorder(a.cfg.Engine.EventRetention, a.nowFn)

	snap, err := engine.LoadLatest(ctx, deps.SnapshotStore, deps.BlobReader)
	switch {
	case err == nil:
		eng, err := engine.Restore(engCfg, snap, rec, a.logger, a.nowFn)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		return eng, nil
	case errors.Is(err, domain.ErrNotFound):
		a.logger.InfoContext(ctx, "no snapshot found, starting an empty engine")
	default:
		return nil, fmt.Errorf("app: %w", err)
	}

	if deps.EventStore != nil {
		// Continue numbering after events persisted by a run that never
		// saved a snapshot.
		last, err := deps.EventStore.LastID(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: read last event id: %w", err)
		}
		rec.Resume(last)
	}
	eng, err := engine.New(engCfg, rec, a.logger, a.nowFn)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	return eng, nil
}

func (a *App) engineConfig() (engine.Config, error) {
	admin, err := a.cfg.AdminAddress()
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Admin:                  admin,
		FeePercent:             a.cfg.Engine.FeePercent,
		PriceUpdateInterval:    a.cfg.Engine.PriceUpdateInterval.Duration,
		CooldownDuration:       a.cfg.Engine.CooldownDuration.Duration,
		ReportThresholdPercent: a.cfg.Engine.ReportThresholdPercent,
		MinReports:             a.cfg.Engine.MinReports,
		GrantOnRegister:        a.cfg.Engine.GrantOnRegister,
	}, nil
}

// buildSinks assembles the event sinks for the configured backends, each
// counted by the metrics wrapper.
func (a *App) buildSinks(deps *Dependencies, hub *ws.Hub) []domain.EventSink {
	metrics := deps.Metrics
	sinks := []domain.EventSink{metrics}

	if deps.EventStore != nil {
		sinks = append(sinks, metrics.Sink(eventlog.StoreSink{Store: deps.EventStore}))
	}
	if deps.SignalBus != nil {
		sinks = append(sinks, metrics.Sink(eventlog.BusSink{Bus: deps.SignalBus}))
	} else {
		// Without a bus the hub is fed directly.
		sinks = append(sinks, metrics.Sink(hub))
	}
	if deps.Kafka != nil {
		var sink domain.EventSink = deps.Kafka
		if len(a.cfg.Kafka.Kinds) > 0 {
			sink = eventlog.FilterSink{Prefixes: a.cfg.Kafka.Kinds, Next: sink}
		}
		sinks = append(sinks, metrics.Sink(sink))
	}
	if deps.Notifier != nil {
		sinks = append(sinks, metrics.Sink(deps.Notifier))
	}
	return sinks
}

func (a *App) healthChecks(deps *Dependencies, eng *engine.Engine) map[string]handler.HealthCheck {
	checks := make(map[string]handler.HealthCheck, len(deps.HealthChecks)+1)
	for name, check := range deps.HealthChecks {
		checks[name] = check
	}
	checks["engine"] = func(context.Context) error { return eng.Audit() }
	return checks
}

func eventStoreOrNil(deps *Dependencies) domain.EventStore {
	if deps.EventStore == nil {
		return nil
	}
	return deps.EventStore
}
