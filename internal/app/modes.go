package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/bookimbalance/internal/domain"
	"github.com/alanyoungcy/bookimbalance/internal/executor"
	"github.com/alanyoungcy/bookimbalance/internal/feed"
	"github.com/alanyoungcy/bookimbalance/internal/notify"
	"github.com/alanyoungcy/bookimbalance/internal/server"
	"github.com/alanyoungcy/bookimbalance/internal/server/handler"
	"github.com/alanyoungcy/bookimbalance/internal/strategy"
)

// LiveMode streams ticks from the websocket feed, evaluates on the wall
// clock and hands decisions to the executor while serving the API.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting live mode")

	release, err := a.lockInstruments(ctx, deps)
	if err != nil {
		return err
	}
	defer release()

	reg, err := a.buildRegistry()
	if err != nil {
		return err
	}
	a.seedPositions(ctx, deps, reg)

	decisionCh := make(chan domain.Decision, 64)
	engine := strategy.NewEngine(reg, decisionCh, strategy.EngineConfig{Interval: a.cfg.EvalInterval()}, a.logger)
	a.attachObservers(engine, deps)
	exec := executor.NewExecutor(decisionCh, a.executorDeps(deps), a.logger)
	ws := feed.NewWSFeed(a.cfg.Feed.WSURL, reg.List(), engine.HandleTick, a.logger)

	_ = deps.Notifier.Notify(ctx, notify.EventStartup, "imbalance bot started",
		fmt.Sprintf("live mode, instruments %v", reg.List()))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ws.Run(ctx) })
	g.Go(func() error { return engine.Run(ctx) })
	g.Go(func() error { return exec.Run(ctx) })
	if a.cfg.Server.Enabled {
		srv := a.newServer(deps, reg, engine, "live")
		g.Go(func() error { return srv.Run(ctx) })
	}
	return g.Wait()
}

// ReplayMode feeds a recorded tick file through the same engine, evaluating
// on the tick clock, then exports the day's metrics when S3 and Postgres are
// both configured.
func (a *App) ReplayMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting replay mode", slog.String("path", a.cfg.Feed.ReplayPath))

	reg, err := a.buildRegistry()
	if err != nil {
		return err
	}

	decisionCh := make(chan domain.Decision, 64)
	engine := strategy.NewEngine(reg, decisionCh, strategy.EngineConfig{
		Interval:  a.cfg.EvalInterval(),
		TickClock: true,
	}, a.logger)
	a.attachObservers(engine, deps)
	exec := executor.NewExecutor(decisionCh, a.executorDeps(deps), a.logger)
	replay := feed.NewReplayFeed(a.cfg.Feed.ReplayPath, a.cfg.Feed.ReplaySpeed, deps.BlobReader, engine, a.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return exec.Run(gctx) })
	g.Go(func() error {
		defer close(decisionCh)
		return replay.Run(gctx)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	for _, st := range reg.Statuses() {
		a.logger.InfoContext(ctx, "replay result",
			slog.String("instrument", st.Instrument),
			slog.String("position", string(st.Position)),
			slog.Int("ticks", st.Ticks),
			slog.Int("dropped", st.Dropped),
			slog.Int("malformed", st.Malformed),
			slog.Bool("halted", st.Halted),
		)
	}
	return a.exportMetrics(ctx, deps, reg.List(), replay.Stats())
}

// MonitorMode serves the API over the shared stores only; another process
// does the trading.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	if !a.cfg.Server.Enabled {
		return errors.New("app: monitor mode needs server.enabled")
	}
	return a.newServer(deps, nil, nil, "monitor").Run(ctx)
}

func (a *App) buildRegistry() (*strategy.Registry, error) {
	loc, err := a.cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("app: timezone: %w", err)
	}
	minQuote, err := a.cfg.MinQuotePrice()
	if err != nil {
		return nil, fmt.Errorf("app: min quote price: %w", err)
	}
	reg := strategy.NewRegistry()
	for _, inst := range a.cfg.Book.Instruments {
		t, err := strategy.NewTracker(strategy.TrackerConfig{
			Instrument:         inst,
			LevelCount:         a.cfg.Book.LevelCount,
			WeightDecay:        a.cfg.Book.WeightDecay,
			MinQuotePrice:      minQuote,
			Threshold:          a.cfg.Signal.Threshold,
			MinLevels:          a.cfg.Signal.MinLevels,
			SessionStartHour:   a.cfg.Signal.SessionStartHour,
			SessionEndHour:     a.cfg.Signal.SessionEndHour,
			MaxTicksPerSession: a.cfg.Signal.MaxTicksPerSession,
			Location:           loc,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		reg.Register(t)
	}
	return reg, nil
}

// seedPositions restores each tracker's position from the position cache,
// falling back to the last stored decision. Unknown positions stay Flat.
func (a *App) seedPositions(ctx context.Context, deps *Dependencies, reg *strategy.Registry) {
	for _, inst := range reg.List() {
		t, err := reg.Get(inst)
		if err != nil {
			continue
		}
		state, source := a.lookupPosition(ctx, deps, inst)
		t.Seed(state)
		a.logger.InfoContext(ctx, "position seeded",
			slog.String("instrument", inst),
			slog.String("position", string(state)),
			slog.String("source", source),
		)
	}
}

func (a *App) lookupPosition(ctx context.Context, deps *Dependencies, inst string) (domain.PositionState, string) {
	if deps.PositionCache != nil {
		s, err := deps.PositionCache.GetPosition(ctx, inst)
		if err == nil {
			return s, "redis"
		}
		if !errors.Is(err, domain.ErrNotFound) {
			a.logger.WarnContext(ctx, "position cache read failed", slog.String("error", err.Error()))
		}
	}
	if deps.DecisionStore != nil {
		s, err := deps.DecisionStore.LatestState(ctx, inst)
		if err == nil {
			return s, "postgres"
		}
		if !errors.Is(err, domain.ErrNotFound) {
			a.logger.WarnContext(ctx, "latest decision read failed", slog.String("error", err.Error()))
		}
	}
	return domain.Flat, "default"
}

// lockInstruments takes one lock per instrument so two live processes never
// trade the same book.
func (a *App) lockInstruments(ctx context.Context, deps *Dependencies) (func(), error) {
	if deps.LockManager == nil || !a.cfg.Redis.InstanceLock {
		return func() {}, nil
	}
	var releases []func()
	releaseAll := func() {
		for _, r := range releases {
			r()
		}
	}
	for _, inst := range a.cfg.Book.Instruments {
		r, err := deps.LockManager.Acquire(ctx, "instrument:"+inst, a.cfg.Redis.LockTTL.Duration)
		if err != nil {
			releaseAll()
			return nil, fmt.Errorf("app: lock %s: %w", inst, err)
		}
		releases = append(releases, r)
	}
	return releaseAll, nil
}

func (a *App) attachObservers(engine *strategy.Engine, deps *Dependencies) {
	engine.AddObserver(deps.Metrics)

	rd := executor.RecorderDeps{
		Metrics:  deps.MetricsStore,
		Books:    deps.BookCache,
		Bus:      deps.SignalBus,
		Audit:    deps.AuditStore,
		Limiter:  deps.RateLimiter,
		Errors:   deps.Metrics,
		AlertCap: a.cfg.Redis.HaltAlertCap,
	}
	if deps.Archiver != nil && a.cfg.S3.ArchiveSnapshot {
		rd.Archive = deps.Archiver
	}
	if deps.Notifier.Enabled() {
		rd.Alerter = deps.Notifier
	}
	engine.AddObserver(executor.NewRecorder(rd, a.logger))
}

func (a *App) executorDeps(deps *Dependencies) executor.Deps {
	ed := executor.Deps{
		Decisions: deps.DecisionStore,
		Positions: deps.PositionCache,
		Audit:     deps.AuditStore,
		Errors:    deps.Metrics,
	}
	if deps.Producer != nil {
		ed.Publisher = deps.Producer
	}
	if deps.Notifier.Enabled() {
		ed.Alerter = deps.Notifier
	}
	return ed
}

// newServer builds the API. reg and engine are nil in monitor mode.
func (a *App) newServer(deps *Dependencies, reg *strategy.Registry, engine *strategy.Engine, mode string) *server.Server {
	var (
		books  handler.BookSource
		recent handler.RecentDecisions
		status handler.StatusSource
	)
	if reg != nil {
		books, status = reg, reg
	}
	if engine != nil {
		recent = engine
	}
	return server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Redis.APIRateLimit,
	}, server.Handlers{
		Health:    handler.NewHealthHandler(deps.Pingers),
		Books:     handler.NewBookHandler(books, deps.BookCache, a.logger),
		Decisions: handler.NewDecisionHandler(deps.DecisionStore, deps.MetricsStore, recent, a.logger),
		Status:    handler.NewStatusHandler(mode, status),
		Audit:     handler.NewAuditHandler(deps.AuditStore, a.logger),
		Metrics:   deps.Metrics.Handler(),
	}, deps.RateLimiter, a.logger)
}

// exportMetrics writes one JSONL object per instrument and replayed day.
func (a *App) exportMetrics(ctx context.Context, deps *Dependencies, instruments []string, stats feed.ReplayStats) error {
	if deps.Archiver == nil || deps.MetricsStore == nil || stats.First.IsZero() {
		return nil
	}
	loc, err := a.cfg.Location()
	if err != nil {
		return fmt.Errorf("app: timezone: %w", err)
	}
	first, last := stats.First.In(loc), stats.Last.In(loc)
	for day := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, loc); !day.After(last); day = day.AddDate(0, 0, 1) {
		for _, inst := range instruments {
			key, n, err := deps.Archiver.ExportMetrics(ctx, inst, day)
			if err != nil {
				return fmt.Errorf("app: export metrics: %w", err)
			}
			if n > 0 {
				a.logger.InfoContext(ctx, "metrics exported",
					slog.String("instrument", inst),
					slog.String("key", key),
					slog.Int("records", n),
				)
			}
		}
	}
	return nil
}
