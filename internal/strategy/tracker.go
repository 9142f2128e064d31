package strategy

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bookimbalance/internal/book"
	"github.com/alanyoungcy/bookimbalance/internal/domain"
	"github.com/alanyoungcy/bookimbalance/internal/signal"
)

// TrackerConfig holds the per-instrument strategy parameters.
type TrackerConfig struct {
	Instrument         string
	LevelCount         int
	WeightDecay        float64
	MinQuotePrice      decimal.Decimal
	Threshold          float64
	MinLevels          int
	SessionStartHour   int // evaluation requires hour > start
	SessionEndHour     int // and hour < end
	MaxTicksPerSession int // 0 disables the cap
	Location           *time.Location
}

// TickOutcome reports what happened to one tick.
type TickOutcome string

const (
	TickApplied   TickOutcome = "applied"
	TickIgnored   TickOutcome = "ignored"
	TickMalformed TickOutcome = "malformed"
	TickDropped   TickOutcome = "dropped"
	TickHalted    TickOutcome = "halted"
)

// Evaluation is the full output of one successful evaluation cycle.
type Evaluation struct {
	Snapshot domain.BookSnapshot
	Metrics  domain.BookMetrics
	Decision domain.Decision
	Summary  string
}

// TrackerStatus is a point-in-time view of a tracker for status APIs.
type TrackerStatus struct {
	Instrument string               `json:"instrument"`
	Position   domain.PositionState `json:"position"`
	Session    string               `json:"session"`
	Ticks      int                  `json:"ticks"`
	Dropped    int                  `json:"dropped"`
	Malformed  int                  `json:"malformed"`
	BidLevels  int                  `json:"bid_levels"`
	AskLevels  int                  `json:"ask_levels"`
	Halted     bool                 `json:"halted"`
	HaltReason string               `json:"halt_reason,omitempty"`
	LastRatio  *float64             `json:"last_ratio,omitempty"`
}

// orderBook is the part of book.Engine a tracker drives.
type orderBook interface {
	book.LevelView
	Apply(ev domain.OrderEvent) (book.ApplyResult, error)
	Snapshot(ts time.Time) domain.BookSnapshot
	Reset()
	Depth() (bids, asks int)
}

// Tracker owns the book and position state of one instrument. Tick
// ingestion and evaluation may arrive from different goroutines; the mutex
// serialises them.
type Tracker struct {
	cfg        TrackerConfig
	book       orderBook
	classifier *book.Classifier
	imbalance  *signal.Imbalance
	decider    *signal.Decider
	logger     *slog.Logger

	mu        sync.Mutex
	session   string
	ticks     int
	dropped   int
	malformed int
	halt      error
	lastRatio *float64
}

// NewTracker validates cfg and builds an empty, Flat tracker.
func NewTracker(cfg TrackerConfig, logger *slog.Logger) (*Tracker, error) {
	if cfg.Instrument == "" {
		return nil, fmt.Errorf("strategy: tracker: instrument is required")
	}
	im, err := signal.NewImbalance(cfg.LevelCount, cfg.WeightDecay)
	if err != nil {
		return nil, fmt.Errorf("strategy: tracker %s: %w", cfg.Instrument, err)
	}
	dec, err := signal.NewDecider(cfg.Threshold)
	if err != nil {
		return nil, fmt.Errorf("strategy: tracker %s: %w", cfg.Instrument, err)
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Tracker{
		cfg:        cfg,
		book:       book.NewEngine(cfg.Instrument),
		classifier: book.NewClassifier(cfg.MinQuotePrice),
		imbalance:  im,
		decider:    dec,
		logger:     logger.With(slog.String("component", "tracker"), slog.String("instrument", cfg.Instrument)),
	}, nil
}

// Instrument returns the tracked instrument.
func (t *Tracker) Instrument() string { return t.cfg.Instrument }

// Seed sets the starting position from the holding reported by execution.
func (t *Tracker) Seed(state domain.PositionState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.decider.Seed(state)
}

// HandleTick classifies tick and applies the resulting event to the book. A
// malformed tick is returned as an error but leaves the book untouched. A
// crossing underflow halts the tracker permanently.
func (t *Tracker) HandleTick(tick domain.Tick) (TickOutcome, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.halt != nil {
		return TickHalted, fmt.Errorf("strategy: %s: %w", t.cfg.Instrument, domain.ErrHalted)
	}
	t.rollover(tick.Time)

	if t.cfg.MaxTicksPerSession > 0 && t.ticks >= t.cfg.MaxTicksPerSession {
		t.dropped++
		return TickDropped, nil
	}
	t.ticks++

	ev, ok, err := t.classifier.Classify(tick, t.book)
	if err != nil {
		t.malformed++
		return TickMalformed, fmt.Errorf("strategy: %s: %w", t.cfg.Instrument, err)
	}
	if !ok {
		return TickIgnored, nil
	}
	if _, err := t.book.Apply(ev); err != nil {
		if errors.Is(err, domain.ErrMalformedTick) {
			t.malformed++
			return TickMalformed, fmt.Errorf("strategy: %s: %w", t.cfg.Instrument, err)
		}
		t.halt = err
		return TickHalted, fmt.Errorf("strategy: %s halted: %w", t.cfg.Instrument, err)
	}
	return TickApplied, nil
}

// Evaluate runs one signal and decision cycle at now. Cycles outside the
// session window, on a book shallower than MinLevels, or with no weighted
// volume return the matching sentinel error and leave the position alone.
func (t *Tracker) Evaluate(now time.Time) (Evaluation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.halt != nil {
		return Evaluation{}, fmt.Errorf("strategy: %s: %w", t.cfg.Instrument, domain.ErrHalted)
	}
	t.rollover(now)
	if !t.inSession(now) {
		return Evaluation{}, fmt.Errorf("strategy: %s at %s: %w", t.cfg.Instrument, now.In(t.cfg.Location).Format(time.TimeOnly), domain.ErrSessionClosed)
	}

	snap := t.book.Snapshot(now)
	if len(snap.Bids) < t.cfg.MinLevels || len(snap.Asks) < t.cfg.MinLevels {
		return Evaluation{}, fmt.Errorf("strategy: %s has %d bid / %d ask levels, need %d: %w",
			t.cfg.Instrument, len(snap.Bids), len(snap.Asks), t.cfg.MinLevels, domain.ErrInsufficientDepth)
	}

	res, err := t.imbalance.Compute(snap)
	if err != nil {
		return Evaluation{}, fmt.Errorf("strategy: %w", err)
	}
	ratio := res.Ratio
	t.lastRatio = &ratio

	from := t.decider.State()
	action, to := t.decider.Decide(res.Ratio)

	return Evaluation{
		Snapshot: snap,
		Metrics:  signal.BuildMetrics(snap, res, now),
		Summary:  signal.Summary(snap, t.imbalance.Levels()),
		Decision: domain.Decision{
			ID:         uuid.NewString(),
			Instrument: t.cfg.Instrument,
			Action:     action,
			From:       from,
			To:         to,
			Imbalance:  res,
			Reason:     signal.Reason(action, from, res.Ratio, t.decider.Threshold()),
			DecidedAt:  now,
		},
	}, nil
}

// Snapshot returns the current consolidated book.
func (t *Tracker) Snapshot(now time.Time) domain.BookSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.book.Snapshot(now)
}

// Status returns counters and state for status APIs.
func (t *Tracker) Status() TrackerStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	bids, asks := t.book.Depth()
	st := TrackerStatus{
		Instrument: t.cfg.Instrument,
		Position:   t.decider.State(),
		Session:    t.session,
		Ticks:      t.ticks,
		Dropped:    t.dropped,
		Malformed:  t.malformed,
		BidLevels:  bids,
		AskLevels:  asks,
		Halted:     t.halt != nil,
	}
	if t.halt != nil {
		st.HaltReason = t.halt.Error()
	}
	if t.lastRatio != nil {
		r := *t.lastRatio
		st.LastRatio = &r
	}
	return st
}

// rollover clears the book and the session counters when ts falls on a
// later trading day than the current session. A timestamp from an earlier
// day, such as a lagging tick after the wall clock crossed midnight, never
// moves the session back. Position state carries over.
func (t *Tracker) rollover(ts time.Time) {
	if ts.IsZero() {
		return
	}
	day := ts.In(t.cfg.Location).Format(time.DateOnly)
	if day <= t.session {
		return
	}
	if t.session != "" {
		t.logger.Info("session rollover",
			slog.String("from", t.session),
			slog.String("to", day),
			slog.Int("ticks", t.ticks),
			slog.Int("dropped", t.dropped),
		)
	}
	t.session = day
	t.book.Reset()
	t.ticks, t.dropped, t.malformed = 0, 0, 0
	t.lastRatio = nil
}

func (t *Tracker) inSession(now time.Time) bool {
	h := now.In(t.cfg.Location).Hour()
	return h > t.cfg.SessionStartHour && h < t.cfg.SessionEndHour
}
