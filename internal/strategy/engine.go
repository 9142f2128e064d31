package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/bookimbalance/internal/domain"
)

// EngineConfig controls evaluation cadence.
type EngineConfig struct {
	Interval time.Duration
	// TickClock makes evaluation follow tick timestamps instead of the wall
	// clock. Replay uses it so that a day of history evaluates on the same
	// boundaries it would have live.
	TickClock bool
}

// Engine routes ticks to per-instrument trackers, runs the periodic
// evaluation cycle and forwards decisions to the executor layer.
type Engine struct {
	registry   *Registry
	decisionCh chan<- domain.Decision
	cfg        EngineConfig
	now        func() time.Time
	logger     *slog.Logger

	mu          sync.Mutex
	observers   []Observer
	nextEval    time.Time
	recent      []domain.Decision
	recentLimit int
}

// NewEngine creates an Engine. Decisions are sent to decisionCh.
func NewEngine(registry *Registry, decisionCh chan<- domain.Decision, cfg EngineConfig, logger *slog.Logger) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	return &Engine{
		registry:    registry,
		decisionCh:  decisionCh,
		cfg:         cfg,
		now:         time.Now,
		logger:      logger.With(slog.String("component", "strategy_engine")),
		recentLimit: 500,
	}
}

// AddObserver registers o for tick, evaluation and halt callbacks.
func (e *Engine) AddObserver(o Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, o)
}

// Registry returns the tracker registry.
func (e *Engine) Registry() *Registry { return e.registry }

// HandleTick routes tick to its instrument's tracker. Malformed ticks are
// logged and skipped, and ticks for an already halted tracker are dropped.
// An unknown instrument or the underflow that halts a tracker is returned.
func (e *Engine) HandleTick(ctx context.Context, tick domain.Tick) error {
	t, err := e.registry.Get(tick.Instrument)
	if err != nil {
		return fmt.Errorf("strategy: route tick: %w", err)
	}
	if e.cfg.TickClock {
		e.advance(ctx, tick.Time)
	}

	outcome, err := t.HandleTick(tick)
	e.notifyTick(tick.Instrument, outcome)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrMalformedTick):
		e.logger.Warn("malformed tick skipped",
			slog.String("instrument", tick.Instrument),
			slog.String("type", string(tick.Type)),
			slog.String("error", err.Error()),
		)
		return nil
	case errors.Is(err, domain.ErrHalted):
		return nil
	case errors.Is(err, domain.ErrCrossingUnderflow):
		e.logger.ErrorContext(ctx, "tracker halted", slog.String("instrument", tick.Instrument), slog.String("error", err.Error()))
		e.notifyHalt(ctx, tick.Instrument, err)
		return err
	default:
		return err
	}
}

// EvaluateAll runs one evaluation cycle for every tracker at now.
func (e *Engine) EvaluateAll(ctx context.Context, now time.Time) {
	for _, name := range e.registry.List() {
		t, err := e.registry.Get(name)
		if err != nil {
			continue
		}
		e.evaluate(ctx, t, now)
	}
}

func (e *Engine) evaluate(ctx context.Context, t *Tracker, now time.Time) {
	log := e.logger.With(slog.String("instrument", t.Instrument()))

	ev, err := t.Evaluate(now)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrSessionClosed), errors.Is(err, domain.ErrHalted):
		log.DebugContext(ctx, "evaluation skipped", slog.String("reason", err.Error()))
		return
	case errors.Is(err, domain.ErrInsufficientDepth), errors.Is(err, domain.ErrInvalidSignal):
		log.InfoContext(ctx, "evaluation skipped", slog.String("reason", err.Error()))
		return
	default:
		log.ErrorContext(ctx, "evaluation failed", slog.String("error", err.Error()))
		return
	}

	log.InfoContext(ctx, "book levels", slog.String("summary", ev.Summary), slog.Float64("mid", ev.Metrics.MidPrice))
	log.InfoContext(ctx, ev.Decision.Reason,
		slog.String("action", string(ev.Decision.Action)),
		slog.String("from", string(ev.Decision.From)),
		slog.String("to", string(ev.Decision.To)),
		slog.Float64("ratio", ev.Decision.Imbalance.Ratio),
	)

	for _, o := range e.snapshotObservers() {
		o.OnEvaluation(ctx, ev)
	}
	e.emit(ctx, ev.Decision)
}

// Run drives evaluation from the wall clock until ctx is cancelled. With
// TickClock set, evaluation is driven by HandleTick and Run only waits.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("strategy engine started",
		slog.Any("instruments", e.registry.List()),
		slog.Duration("interval", e.cfg.Interval),
		slog.Bool("tick_clock", e.cfg.TickClock),
	)
	defer e.logger.Info("strategy engine stopped")

	if e.cfg.TickClock {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.EvaluateAll(ctx, e.now())
		}
	}
}

// Flush evaluates any boundary up to and including ts. Replay calls it after
// the last tick so the final window is not lost.
func (e *Engine) Flush(ctx context.Context, ts time.Time) {
	e.advance(ctx, ts)
}

// advance runs every evaluation boundary passed by ts, in order, before the
// tick at ts is applied.
func (e *Engine) advance(ctx context.Context, ts time.Time) {
	if ts.IsZero() {
		return
	}
	e.mu.Lock()
	if e.nextEval.IsZero() {
		e.nextEval = ts.Truncate(e.cfg.Interval).Add(e.cfg.Interval)
	}
	var due []time.Time
	for !ts.Before(e.nextEval) {
		due = append(due, e.nextEval)
		e.nextEval = e.nextEval.Add(e.cfg.Interval)
	}
	e.mu.Unlock()

	for _, at := range due {
		e.EvaluateAll(ctx, at)
	}
}

// RecentDecisions returns up to limit most recent decisions, newest first.
func (e *Engine) RecentDecisions(limit int) []domain.Decision {
	if limit <= 0 {
		limit = 20
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.recent)
	out := make([]domain.Decision, 0, min(limit, n))
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, e.recent[i])
	}
	return out
}

// emit sends d to the decision channel. It respects context cancellation.
func (e *Engine) emit(ctx context.Context, d domain.Decision) {
	e.remember(d)
	if e.decisionCh == nil {
		return
	}
	select {
	case <-ctx.Done():
		e.logger.Warn("context cancelled while emitting decision", slog.String("decision_id", d.ID))
	case e.decisionCh <- d:
		e.logger.Debug("decision emitted",
			slog.String("decision_id", d.ID),
			slog.String("action", string(d.Action)),
		)
	}
}

func (e *Engine) remember(d domain.Decision) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recent = append(e.recent, d)
	if overflow := len(e.recent) - e.recentLimit; overflow > 0 {
		e.recent = append([]domain.Decision(nil), e.recent[overflow:]...)
	}
}

func (e *Engine) snapshotObservers() []Observer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Observer(nil), e.observers...)
}

func (e *Engine) notifyTick(instrument string, outcome TickOutcome) {
	for _, o := range e.snapshotObservers() {
		o.OnTick(instrument, outcome)
	}
}

func (e *Engine) notifyHalt(ctx context.Context, instrument string, cause error) {
	for _, o := range e.snapshotObservers() {
		o.OnHalt(ctx, instrument, cause)
	}
}
