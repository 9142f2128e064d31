package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bookimbalance/internal/domain"
	"github.com/alanyoungcy/bookimbalance/internal/server/handler"
	"github.com/alanyoungcy/bookimbalance/internal/strategy"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func lvl(p, v string) domain.PriceLevel {
	return domain.PriceLevel{Price: decimal.RequireFromString(p), Volume: decimal.RequireFromString(v)}
}

type stubBooks map[string]domain.BookSnapshot

func (s stubBooks) Snapshot(inst string, _ time.Time) (domain.BookSnapshot, error) {
	snap, ok := s[inst]
	if !ok {
		return domain.BookSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

type stubRecent []domain.Decision

func (s stubRecent) RecentDecisions(limit int) []domain.Decision {
	return s[:min(limit, len(s))]
}

type stubStatus []strategy.TrackerStatus

func (s stubStatus) Statuses() []strategy.TrackerStatus { return s }

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type stubMetricsStore struct{}

func (stubMetricsStore) Insert(context.Context, domain.BookMetrics) error { return nil }

func (stubMetricsStore) ListRange(_ context.Context, inst string, _ domain.ListOpts) ([]domain.BookMetrics, error) {
	return []domain.BookMetrics{{Instrument: inst, Ratio: 0.25}}, nil
}

type stubAudit struct{ last domain.AuditFilter }

func (s *stubAudit) Log(context.Context, string, map[string]any) error { return nil }

func (s *stubAudit) List(_ context.Context, f domain.AuditFilter, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	s.last = f
	if f.Instrument == "QQQ" {
		return nil, nil
	}
	return []domain.AuditEntry{{ID: 1, Event: domain.AuditTrackerHalted, Instrument: "SPY"}}, nil
}

func newTestServer(t *testing.T, apiKey string, pingErr error) *httptest.Server {
	t.Helper()
	log := discardLogger()
	books := stubBooks{"SPY": {
		Instrument: "SPY",
		Bids:       []domain.PriceLevel{lvl("100", "10"), lvl("99", "8"), lvl("98", "5")},
		Asks:       []domain.PriceLevel{lvl("101", "3"), lvl("102", "2")},
	}}
	recent := stubRecent{
		{ID: "2", Instrument: "QQQ", Action: domain.NoOp},
		{ID: "1", Instrument: "SPY", Action: domain.GoFullLong},
	}
	s := NewServer(Config{APIKey: apiKey}, Handlers{
		Health:    handler.NewHealthHandler(map[string]handler.Pinger{"redis": stubPinger{err: pingErr}}),
		Books:     handler.NewBookHandler(books, nil, log),
		Decisions: handler.NewDecisionHandler(nil, stubMetricsStore{}, recent, log),
		Status:    handler.NewStatusHandler("live", stubStatus{{Instrument: "SPY", Position: domain.Long}}),
		Audit:     handler.NewAuditHandler(&stubAudit{}, log),
		Metrics:   http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { io.WriteString(w, "# metrics") }),
	}, nil, log)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestServer_Health(t *testing.T) {
	srv := newTestServer(t, "", nil)
	var body map[string]any
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/health", &body))
	assert.Equal(t, "ok", body["status"])

	degraded := newTestServer(t, "", errors.New("refused"))
	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, degraded.URL+"/api/health", &body))
	assert.Equal(t, "degraded", body["status"])
}

func TestServer_Book(t *testing.T) {
	srv := newTestServer(t, "", nil)

	var book struct {
		Bids   []domain.PriceLevel `json:"bids"`
		Asks   []domain.PriceLevel `json:"asks"`
		Mid    string              `json:"mid"`
		Source string              `json:"source"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/books/SPY?depth=2", &book))
	assert.Len(t, book.Bids, 2)
	assert.Len(t, book.Asks, 2)
	assert.Equal(t, "100.5", book.Mid)
	assert.Equal(t, "live", book.Source)

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/api/books/XYZ", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/api/books/SPY?depth=0", nil))
}

func TestServer_DecisionsFromRing(t *testing.T) {
	srv := newTestServer(t, "", nil)

	var all []domain.Decision
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/decisions", &all))
	assert.Len(t, all, 2)

	var spy []domain.Decision
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/decisions?instrument=SPY", &spy))
	require.Len(t, spy, 1)
	assert.Equal(t, "1", spy[0].ID)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/api/decisions?since=yesterday", nil))
}

func TestServer_MetricsAndStatus(t *testing.T) {
	srv := newTestServer(t, "", nil)

	var rows []domain.BookMetrics
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/metrics/SPY", &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, 0.25, rows[0].Ratio)

	var status struct {
		Mode     string                   `json:"mode"`
		Trackers []strategy.TrackerStatus `json:"trackers"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/status", &status))
	assert.Equal(t, "live", status.Mode)
	require.Len(t, status.Trackers, 1)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_Audit(t *testing.T) {
	audit := &stubAudit{}
	s := NewServer(Config{}, Handlers{
		Health:    handler.NewHealthHandler(nil),
		Books:     handler.NewBookHandler(stubBooks{}, nil, discardLogger()),
		Decisions: handler.NewDecisionHandler(nil, nil, nil, discardLogger()),
		Status:    handler.NewStatusHandler("monitor", nil),
		Audit:     handler.NewAuditHandler(audit, discardLogger()),
	}, nil, discardLogger())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	var entries []domain.AuditEntry
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/audit?event=tracker_halted&instrument=SPY", &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "SPY", entries[0].Instrument)
	assert.Equal(t, domain.AuditFilter{Event: "tracker_halted", Instrument: "SPY"}, audit.last)

	var none []domain.AuditEntry
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/audit?instrument=QQQ", &none))
	assert.NotNil(t, none)
	assert.Empty(t, none)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/api/audit?until=later", nil))
}

func TestServer_AuditWithoutStore(t *testing.T) {
	s := NewServer(Config{}, Handlers{
		Health:    handler.NewHealthHandler(nil),
		Books:     handler.NewBookHandler(stubBooks{}, nil, discardLogger()),
		Decisions: handler.NewDecisionHandler(nil, nil, nil, discardLogger()),
		Status:    handler.NewStatusHandler("monitor", nil),
		Audit:     handler.NewAuditHandler(nil, discardLogger()),
	}, nil, discardLogger())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	assert.Equal(t, http.StatusNotImplemented, getJSON(t, srv.URL+"/api/audit", nil))
}

func TestServer_AuthLeavesHealthOpen(t *testing.T) {
	srv := newTestServer(t, "k", nil)
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/health", nil))
	assert.Equal(t, http.StatusUnauthorized, getJSON(t, srv.URL+"/api/status", nil))
}

func TestCORS_Preflight(t *testing.T) {
	srv := newTestServer(t, "", nil)
	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/status", nil)
	req.Header.Set("Origin", "http://dash.local")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://dash.local", resp.Header.Get("Access-Control-Allow-Origin"))
}
