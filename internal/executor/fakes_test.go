package executor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/bookimbalance/internal/domain"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeDecisionStore struct {
	mu    sync.Mutex
	saved []domain.Decision
	err   error
}

func (f *fakeDecisionStore) Insert(_ context.Context, d domain.Decision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, d)
	return nil
}

func (f *fakeDecisionStore) ListRecent(context.Context, string, domain.ListOpts) ([]domain.Decision, error) {
	return nil, nil
}

func (f *fakeDecisionStore) LatestState(context.Context, string) (domain.PositionState, error) {
	return domain.Flat, domain.ErrNotFound
}

func (f *fakeDecisionStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

type fakePositions struct {
	states map[string]domain.PositionState
}

func (f *fakePositions) SetPosition(_ context.Context, inst string, s domain.PositionState) error {
	if f.states == nil {
		f.states = map[string]domain.PositionState{}
	}
	f.states[inst] = s
	return nil
}

func (f *fakePositions) GetPosition(_ context.Context, inst string) (domain.PositionState, error) {
	s, ok := f.states[inst]
	if !ok {
		return domain.Flat, domain.ErrNotFound
	}
	return s, nil
}

type fakePublisher struct {
	published []domain.Decision
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, d domain.Decision) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, d)
	return nil
}

type fakeAlerter struct {
	changes []domain.Decision
	halts   []string
}

func (f *fakeAlerter) PositionChanged(_ context.Context, d domain.Decision) error {
	f.changes = append(f.changes, d)
	return nil
}

func (f *fakeAlerter) Halted(_ context.Context, inst string, _ error) error {
	f.halts = append(f.halts, inst)
	return nil
}

type fakeCounter struct{ targets []string }

func (f *fakeCounter) ExecutorError(target string) { f.targets = append(f.targets, target) }

type fakeMetricsStore struct{ rows []domain.BookMetrics }

func (f *fakeMetricsStore) Insert(_ context.Context, m domain.BookMetrics) error {
	f.rows = append(f.rows, m)
	return nil
}

func (f *fakeMetricsStore) ListRange(context.Context, string, domain.ListOpts) ([]domain.BookMetrics, error) {
	return f.rows, nil
}

type fakeBooks struct{ snaps []domain.BookSnapshot }

func (f *fakeBooks) SetSnapshot(_ context.Context, s domain.BookSnapshot) error {
	f.snaps = append(f.snaps, s)
	return nil
}

func (f *fakeBooks) GetSnapshot(context.Context, string) (domain.BookSnapshot, error) {
	return domain.BookSnapshot{}, domain.ErrNotFound
}

type fakeBus struct {
	published map[string]int
	streamed  map[string]int
}

func (f *fakeBus) Publish(_ context.Context, ch string, _ []byte) error {
	if f.published == nil {
		f.published = map[string]int{}
	}
	f.published[ch]++
	return nil
}

func (f *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (f *fakeBus) StreamAppend(_ context.Context, s string, _ []byte) error {
	if f.streamed == nil {
		f.streamed = map[string]int{}
	}
	f.streamed[s]++
	return nil
}

func (f *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type fakeArchive struct{ keys []string }

func (f *fakeArchive) ArchiveSnapshot(_ context.Context, s domain.BookSnapshot, _ domain.BookMetrics) (string, error) {
	key := "snapshots/" + s.Instrument
	f.keys = append(f.keys, key)
	return key, nil
}

type fakeAudit struct {
	events  []string
	details []map[string]any
}

func (f *fakeAudit) Log(_ context.Context, event string, detail map[string]any) error {
	f.events = append(f.events, event)
	f.details = append(f.details, detail)
	return nil
}

func (f *fakeAudit) List(context.Context, domain.AuditFilter, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type countingLimiter struct {
	calls map[string]int
}

func (c *countingLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	if c.calls == nil {
		c.calls = map[string]int{}
	}
	c.calls[key]++
	return c.calls[key] <= limit, nil
}
