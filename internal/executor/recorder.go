package executor

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/bookimbalance/internal/domain"
	"github.com/alanyoungcy/bookimbalance/internal/strategy"
)

// Stream and channel names on the signal bus.
const (
	MetricsStream  = "book:metrics"
	metricsChannel = "book:metrics:"
)

// HaltAlerter is told when a tracker halts.
type HaltAlerter interface {
	Halted(ctx context.Context, instrument string, cause error) error
}

// RecorderDeps are the optional sinks of the per-cycle record. Nil fields
// are skipped.
type RecorderDeps struct {
	Metrics  domain.MetricsStore
	Books    domain.BookCache
	Bus      domain.SignalBus
	Archive  domain.SnapshotArchiver
	Audit    domain.AuditStore
	Alerter  HaltAlerter
	Limiter  domain.RateLimiter
	Errors   ErrorCounter
	Timeout  time.Duration
	AlertCap int // halt alerts per instrument per hour
}

// Recorder is a strategy.Observer that persists every evaluation and
// raises halt alerts.
type Recorder struct {
	deps   RecorderDeps
	logger *slog.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(deps RecorderDeps, logger *slog.Logger) *Recorder {
	if deps.Timeout <= 0 {
		deps.Timeout = 5 * time.Second
	}
	if deps.AlertCap <= 0 {
		deps.AlertCap = 3
	}
	return &Recorder{deps: deps, logger: logger.With(slog.String("component", "recorder"))}
}

// OnTick is a no-op; tick accounting lives in the metrics observer.
func (r *Recorder) OnTick(string, strategy.TickOutcome) {}

// OnEvaluation writes the cycle record to every configured sink.
func (r *Recorder) OnEvaluation(ctx context.Context, ev strategy.Evaluation) {
	ctx, cancel := context.WithTimeout(ctx, r.deps.Timeout)
	defer cancel()

	m := ev.Metrics
	log := r.logger.With(slog.String("instrument", m.Instrument))

	if r.deps.Metrics != nil {
		if err := r.deps.Metrics.Insert(ctx, m); err != nil {
			r.fail(ctx, log, "postgres", "store metrics", err)
		}
	}
	if r.deps.Books != nil {
		if err := r.deps.Books.SetSnapshot(ctx, ev.Snapshot); err != nil {
			r.fail(ctx, log, "redis", "cache snapshot", err)
		}
	}
	if r.deps.Bus != nil {
		payload, err := json.Marshal(m)
		if err == nil {
			if err := r.deps.Bus.Publish(ctx, metricsChannel+m.Instrument, payload); err != nil {
				r.fail(ctx, log, "redis", "publish metrics", err)
			}
			if err := r.deps.Bus.StreamAppend(ctx, MetricsStream, payload); err != nil {
				r.fail(ctx, log, "redis", "append metrics", err)
			}
		}
	}
	if r.deps.Archive != nil {
		key, err := r.deps.Archive.ArchiveSnapshot(ctx, ev.Snapshot, m)
		if err != nil {
			r.fail(ctx, log, "s3", "archive snapshot", err)
		} else {
			log.DebugContext(ctx, "snapshot archived", slog.String("key", key))
		}
	}
}

// OnHalt records the halt in the audit log and alerts, throttled per
// instrument.
func (r *Recorder) OnHalt(ctx context.Context, instrument string, cause error) {
	ctx, cancel := context.WithTimeout(ctx, r.deps.Timeout)
	defer cancel()

	log := r.logger.With(slog.String("instrument", instrument))
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if r.deps.Audit != nil {
		detail := map[string]any{"instrument": instrument, "error": msg}
		if err := r.deps.Audit.Log(ctx, domain.AuditTrackerHalted, detail); err != nil {
			r.fail(ctx, log, "postgres", "audit halt", err)
		}
	}
	if r.deps.Alerter == nil {
		return
	}
	if r.deps.Limiter != nil {
		ok, err := r.deps.Limiter.Allow(ctx, "halt-alert:"+instrument, r.deps.AlertCap, time.Hour)
		if err != nil {
			log.WarnContext(ctx, "rate limiter unavailable", slog.String("error", err.Error()))
		} else if !ok {
			log.InfoContext(ctx, "halt alert throttled")
			return
		}
	}
	if err := r.deps.Alerter.Halted(ctx, instrument, cause); err != nil {
		r.fail(ctx, log, "notify", "alert halt", err)
	}
}

func (r *Recorder) fail(ctx context.Context, log *slog.Logger, target, op string, err error) {
	log.ErrorContext(ctx, op+" failed",
		slog.String("target", target),
		slog.String("error", err.Error()),
	)
	if r.deps.Errors != nil {
		r.deps.Errors.ExecutorError(target)
	}
}

var _ strategy.Observer = (*Recorder)(nil)
