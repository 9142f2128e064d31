package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bookimbalance/internal/domain"
	"github.com/alanyoungcy/bookimbalance/internal/strategy"
)

func TestRecorder_OnEvaluation(t *testing.T) {
	ms := &fakeMetricsStore{}
	books := &fakeBooks{}
	bus := &fakeBus{}
	arch := &fakeArchive{}
	r := NewRecorder(RecorderDeps{Metrics: ms, Books: books, Bus: bus, Archive: arch}, discardLogger())

	ts := time.Date(2013, 10, 7, 10, 0, 0, 0, time.UTC)
	r.OnEvaluation(context.Background(), strategy.Evaluation{
		Snapshot: domain.BookSnapshot{Instrument: "SPY", Timestamp: ts},
		Metrics:  domain.BookMetrics{Instrument: "SPY", Ratio: 0.4, Timestamp: ts},
	})

	require.Len(t, ms.rows, 1)
	assert.Equal(t, 0.4, ms.rows[0].Ratio)
	assert.Len(t, books.snaps, 1)
	assert.Equal(t, 1, bus.published["book:metrics:SPY"])
	assert.Equal(t, 1, bus.streamed[MetricsStream])
	assert.Equal(t, []string{"snapshots/SPY"}, arch.keys)
}

func TestRecorder_OnHaltThrottlesAlerts(t *testing.T) {
	audit := &fakeAudit{}
	alert := &fakeAlerter{}
	lim := &countingLimiter{}
	r := NewRecorder(RecorderDeps{Audit: audit, Alerter: alert, Limiter: lim, AlertCap: 2}, discardLogger())

	for range 4 {
		r.OnHalt(context.Background(), "SPY", errors.New("underflow"))
	}

	assert.Len(t, audit.events, 4)
	assert.Equal(t, []string{"SPY", "SPY"}, alert.halts)
}

func TestRecorder_NoSinks(t *testing.T) {
	r := NewRecorder(RecorderDeps{}, discardLogger())
	assert.NotPanics(t, func() {
		r.OnTick("SPY", strategy.TickApplied)
		r.OnEvaluation(context.Background(), strategy.Evaluation{})
		r.OnHalt(context.Background(), "SPY", nil)
	})
}
