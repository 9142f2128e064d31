package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bookimbalance/internal/config"
	"github.com/alanyoungcy/bookimbalance/internal/domain"
	"github.com/alanyoungcy/bookimbalance/internal/metrics"
	"github.com/alanyoungcy/bookimbalance/internal/notify"
	"github.com/alanyoungcy/bookimbalance/internal/server/handler"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func bareDeps() *Dependencies {
	return &Dependencies{
		Metrics:  metrics.New(),
		Notifier: notify.NewNotifier(nil, nil, discardLogger()),
		Pingers:  map[string]handler.Pinger{},
	}
}

// Four resting quotes build a bid-heavy book during the New York session.
// The trade at 10:05 crosses the evaluation boundary and is then applied
// against the best bid.
const replayCSV = `time,instrument,type,price,quantity,bid_price,bid_size,ask_price,ask_size
2013-10-07T14:01:00Z,SPY,quote,,,100,50,0,0
2013-10-07T14:02:00Z,SPY,quote,,,99,40,0,0
2013-10-07T14:03:00Z,SPY,quote,,,0,0,101,5
2013-10-07T14:04:00Z,SPY,quote,,,0,0,102,5
2013-10-07T14:05:00Z,SPY,trade,100,10,,,,
`

func TestReplayMode_EndToEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ticks.csv")
	require.NoError(t, os.WriteFile(path, []byte(replayCSV), 0o600))

	cfg := config.Defaults()
	cfg.Mode = "replay"
	cfg.Feed.ReplayPath = path
	require.NoError(t, cfg.Validate())

	deps := bareDeps()
	a := New(&cfg, discardLogger())
	require.NoError(t, a.ReplayMode(context.Background(), deps))

	assert.Equal(t, 1.0, testutil.ToFloat64(deps.Metrics.DecisionsTotal.WithLabelValues("SPY", "go_full_long")))
	assert.Equal(t, 1.0, testutil.ToFloat64(deps.Metrics.Position.WithLabelValues("SPY")))
	assert.Equal(t, 5.0, testutil.ToFloat64(deps.Metrics.TicksTotal.WithLabelValues("SPY", "applied")))
}

func TestBuildRegistry(t *testing.T) {
	cfg := config.Defaults()
	cfg.Book.Instruments = []string{"SPY", "QQQ"}
	a := New(&cfg, discardLogger())

	reg, err := a.buildRegistry()
	require.NoError(t, err)
	assert.Equal(t, []string{"QQQ", "SPY"}, reg.List())

	cfg.Book.LevelCount = 0
	_, err = a.buildRegistry()
	assert.Error(t, err)
}

type stubPositions struct {
	state domain.PositionState
	err   error
}

func (s stubPositions) SetPosition(context.Context, string, domain.PositionState) error { return nil }

func (s stubPositions) GetPosition(context.Context, string) (domain.PositionState, error) {
	return s.state, s.err
}

type stubDecisions struct {
	state domain.PositionState
	err   error
}

func (s stubDecisions) Insert(context.Context, domain.Decision) error { return nil }

func (s stubDecisions) ListRecent(context.Context, string, domain.ListOpts) ([]domain.Decision, error) {
	return nil, nil
}

func (s stubDecisions) LatestState(context.Context, string) (domain.PositionState, error) {
	return s.state, s.err
}

func TestLookupPosition(t *testing.T) {
	cfg := config.Defaults()
	a := New(&cfg, discardLogger())
	ctx := context.Background()

	deps := bareDeps()
	state, src := a.lookupPosition(ctx, deps, "SPY")
	assert.Equal(t, domain.Flat, state)
	assert.Equal(t, "default", src)

	deps.PositionCache = stubPositions{err: domain.ErrNotFound}
	deps.DecisionStore = stubDecisions{state: domain.Short}
	state, src = a.lookupPosition(ctx, deps, "SPY")
	assert.Equal(t, domain.Short, state)
	assert.Equal(t, "postgres", src)

	deps.PositionCache = stubPositions{state: domain.Long}
	state, src = a.lookupPosition(ctx, deps, "SPY")
	assert.Equal(t, domain.Long, state)
	assert.Equal(t, "redis", src)
}

type stubLocks struct {
	held     map[string]bool
	released []string
}

func (s *stubLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	if s.held[key] {
		return nil, domain.ErrLockHeld
	}
	return func() { s.released = append(s.released, key) }, nil
}

func TestLockInstruments(t *testing.T) {
	cfg := config.Defaults()
	cfg.Book.Instruments = []string{"SPY", "QQQ"}
	a := New(&cfg, discardLogger())
	ctx := context.Background()

	locks := &stubLocks{held: map[string]bool{"instrument:QQQ": true}}
	deps := bareDeps()
	deps.LockManager = locks

	_, err := a.lockInstruments(ctx, deps)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrLockHeld))
	assert.Equal(t, []string{"instrument:SPY"}, locks.released)

	locks.held = nil
	locks.released = nil
	release, err := a.lockInstruments(ctx, deps)
	require.NoError(t, err)
	release()
	assert.Equal(t, []string{"instrument:SPY", "instrument:QQQ"}, locks.released)
}
