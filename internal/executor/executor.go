// Package executor hands evaluation decisions to the outside world: it
// persists them, publishes target-position instructions, keeps the shared
// position cache current and raises alerts.
package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/bookimbalance/internal/domain"
)

// Publisher delivers a target-position instruction to execution.
type Publisher interface {
	Publish(ctx context.Context, d domain.Decision) error
}

// Alerter is told about position changes.
type Alerter interface {
	PositionChanged(ctx context.Context, d domain.Decision) error
}

// ErrorCounter counts hand-off failures per target.
type ErrorCounter interface {
	ExecutorError(target string)
}

// Deps are the optional hand-off targets. Nil fields are skipped.
type Deps struct {
	Decisions domain.DecisionStore
	Positions domain.PositionCache
	Audit     domain.AuditStore
	Publisher Publisher
	Alerter   Alerter
	Errors    ErrorCounter
}

// Executor reads decisions from a channel, drops duplicates and fans each
// one out to the configured targets. A failing target is logged and counted
// but never blocks the others.
type Executor struct {
	decisionCh <-chan domain.Decision
	deps       Deps
	dedup      *Dedup
	logger     *slog.Logger

	cleanupInterval time.Duration
	drainTimeout    time.Duration
}

// NewExecutor creates an Executor consuming decisionCh.
func NewExecutor(decisionCh <-chan domain.Decision, deps Deps, logger *slog.Logger) *Executor {
	return &Executor{
		decisionCh:      decisionCh,
		deps:            deps,
		dedup:           NewDedup(30 * time.Minute),
		logger:          logger.With(slog.String("component", "executor")),
		cleanupInterval: time.Minute,
		drainTimeout:    5 * time.Second,
	}
}

// Run processes decisions until ctx is cancelled or the channel is closed.
// On cancellation, decisions already buffered in the channel are drained
// with a short-lived context.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.InfoContext(ctx, "executor started")
	defer e.logger.Info("executor stopped")

	cleanup := time.NewTicker(e.cleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drain()
			return ctx.Err()
		case d, ok := <-e.decisionCh:
			if !ok {
				return nil
			}
			e.Process(ctx, d)
		case <-cleanup.C:
			e.dedup.Cleanup()
		}
	}
}

// Process hands off a single decision.
func (e *Executor) Process(ctx context.Context, d domain.Decision) {
	log := e.logger.With(
		slog.String("decision_id", d.ID),
		slog.String("instrument", d.Instrument),
		slog.String("action", string(d.Action)),
	)
	if e.dedup.Seen(d.ID) {
		log.DebugContext(ctx, "duplicate decision, skipping")
		return
	}

	if e.deps.Decisions != nil {
		if err := e.deps.Decisions.Insert(ctx, d); err != nil {
			e.fail(ctx, log, "postgres", "persist decision", err)
		}
	}

	if d.Action == domain.NoOp {
		return
	}

	if e.deps.Publisher != nil {
		if err := e.deps.Publisher.Publish(ctx, d); err != nil {
			e.fail(ctx, log, "kafka", "publish instruction", err)
		}
	} else {
		weight, _ := d.Action.TargetWeight()
		log.InfoContext(ctx, "target position",
			slog.Float64("weight", weight),
			slog.Float64("ratio", d.Imbalance.Ratio),
		)
	}

	if d.From == d.To {
		return
	}
	if e.deps.Positions != nil {
		if err := e.deps.Positions.SetPosition(ctx, d.Instrument, d.To); err != nil {
			e.fail(ctx, log, "redis", "store position", err)
		}
	}
	if e.deps.Audit != nil {
		if err := e.deps.Audit.Log(ctx, domain.AuditPositionChanged, positionDetail(d)); err != nil {
			e.fail(ctx, log, "postgres", "audit position change", err)
		}
	}
	if e.deps.Alerter != nil {
		if err := e.deps.Alerter.PositionChanged(ctx, d); err != nil {
			e.fail(ctx, log, "notify", "alert position change", err)
		}
	}
}

func positionDetail(d domain.Decision) map[string]any {
	return map[string]any{
		"instrument":  d.Instrument,
		"decision_id": d.ID,
		"action":      string(d.Action),
		"from":        string(d.From),
		"to":          string(d.To),
		"ratio":       d.Imbalance.Ratio,
		"decided_at":  d.DecidedAt,
	}
}

func (e *Executor) fail(ctx context.Context, log *slog.Logger, target, op string, err error) {
	log.ErrorContext(ctx, op+" failed",
		slog.String("target", target),
		slog.String("error", err.Error()),
	)
	if e.deps.Errors != nil {
		e.deps.Errors.ExecutorError(target)
	}
}

func (e *Executor) drain() {
	for {
		select {
		case d, ok := <-e.decisionCh:
			if !ok {
				return
			}
			e.logger.Warn("draining decision after shutdown", slog.String("decision_id", d.ID))
			ctx, cancel := context.WithTimeout(context.Background(), e.drainTimeout)
			e.Process(ctx, d)
			cancel()
		default:
			return
		}
	}
}
