package strategy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bookimbalance/internal/book"
	"github.com/alanyoungcy/bookimbalance/internal/domain"
)

type recordingObserver struct {
	mu          sync.Mutex
	ticks       map[TickOutcome]int
	evaluations []Evaluation
	halts       []string
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{ticks: make(map[TickOutcome]int)}
}

func (o *recordingObserver) OnTick(_ string, outcome TickOutcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ticks[outcome]++
}

func (o *recordingObserver) OnEvaluation(_ context.Context, ev Evaluation) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.evaluations = append(o.evaluations, ev)
}

func (o *recordingObserver) OnHalt(_ context.Context, instrument string, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.halts = append(o.halts, instrument)
}

func newTestEngine(t *testing.T, cfg EngineConfig) (*Engine, chan domain.Decision) {
	t.Helper()
	reg := NewRegistry()
	reg.Register(newTestTracker(t, testConfig()))
	ch := make(chan domain.Decision, 16)
	return NewEngine(reg, ch, cfg, testLogger()), ch
}

func TestEngine_TickClockEvaluatesOnBoundary(t *testing.T) {
	eng, ch := newTestEngine(t, EngineConfig{Interval: 5 * time.Minute, TickClock: true})
	obs := newRecordingObserver()
	eng.AddObserver(obs)
	ctx := context.Background()

	for _, tk := range referenceTicks(day.Add(time.Minute)) {
		require.NoError(t, eng.HandleTick(ctx, tk))
	}
	assert.Empty(t, ch)

	tk := bidQuote("98", "1", day.Add(6*time.Minute))
	require.NoError(t, eng.HandleTick(ctx, tk))

	require.Len(t, ch, 1)
	d := <-ch
	assert.Equal(t, domain.GoFullLong, d.Action)
	assert.Equal(t, day.Add(5*time.Minute), d.DecidedAt)

	assert.Equal(t, 5, obs.ticks[TickApplied])
	require.Len(t, obs.evaluations, 1)
	assert.Equal(t, 2, len(obs.evaluations[0].Snapshot.Bids))

	recent := eng.RecentDecisions(10)
	require.Len(t, recent, 1)
	assert.Equal(t, d.ID, recent[0].ID)
}

func TestEngine_FlushRunsEveryPassedBoundary(t *testing.T) {
	eng, ch := newTestEngine(t, EngineConfig{Interval: 5 * time.Minute, TickClock: true})
	ctx := context.Background()
	for _, tk := range referenceTicks(day) {
		require.NoError(t, eng.HandleTick(ctx, tk))
	}

	eng.Flush(ctx, day.Add(16*time.Minute))
	assert.Len(t, ch, 3)
	assert.Len(t, eng.RecentDecisions(0), 3)
}

func TestEngine_MalformedTickIsSkipped(t *testing.T) {
	eng, _ := newTestEngine(t, EngineConfig{Interval: time.Minute})
	obs := newRecordingObserver()
	eng.AddObserver(obs)

	err := eng.HandleTick(context.Background(), domain.Tick{Instrument: "SPY", Type: domain.TickQuote, Time: day})
	assert.NoError(t, err)
	assert.Equal(t, 1, obs.ticks[TickMalformed])
}

func TestEngine_UnknownInstrument(t *testing.T) {
	eng, _ := newTestEngine(t, EngineConfig{Interval: time.Minute})
	err := eng.HandleTick(context.Background(), domain.Tick{Instrument: "QQQ", Type: domain.TickQuote})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEngine_SkippedCycleEmitsNothing(t *testing.T) {
	eng, ch := newTestEngine(t, EngineConfig{Interval: time.Minute})
	eng.EvaluateAll(context.Background(), day)
	assert.Empty(t, ch)
	assert.Empty(t, eng.RecentDecisions(5))
}

func TestEngine_RunStopsOnCancel(t *testing.T) {
	eng, _ := newTestEngine(t, EngineConfig{Interval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("engine did not stop")
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	cfg := testConfig()
	reg.Register(newTestTracker(t, cfg))
	cfg.Instrument = "AAPL"
	reg.Register(newTestTracker(t, cfg))

	assert.Equal(t, []string{"AAPL", "SPY"}, reg.List())
	st := reg.Statuses()
	require.Len(t, st, 2)
	assert.Equal(t, "AAPL", st[0].Instrument)

	_, err := reg.Get("MSFT")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEngine_UnderflowHaltsOnce(t *testing.T) {
	reg := NewRegistry()
	tr := newTestTracker(t, testConfig())
	reg.Register(tr)
	ch := make(chan domain.Decision, 4)
	eng := NewEngine(reg, ch, EngineConfig{Interval: 5 * time.Minute, TickClock: true}, testLogger())
	obs := newRecordingObserver()
	eng.AddObserver(obs)
	ctx := context.Background()

	for _, tk := range referenceTicks(day) {
		require.NoError(t, eng.HandleTick(ctx, tk))
	}
	tr.book = underflowBook{Engine: tr.book.(*book.Engine)}

	err := eng.HandleTick(ctx, bidQuote("101", "1", day))
	assert.ErrorIs(t, err, domain.ErrCrossingUnderflow)
	assert.Equal(t, []string{"SPY"}, obs.halts)

	assert.NoError(t, eng.HandleTick(ctx, bidQuote("90", "1", day.Add(time.Minute))))
	assert.Equal(t, []string{"SPY"}, obs.halts)
	assert.Equal(t, 2, obs.ticks[TickHalted])

	eng.Flush(ctx, day.Add(20*time.Minute))
	assert.Empty(t, ch)
	assert.Empty(t, obs.evaluations)
	assert.True(t, reg.Statuses()[0].Halted)
}
