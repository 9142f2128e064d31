package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bookimbalance/internal/domain"
)

type recordingSender struct {
	name   string
	err    error
	titles []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifier_FiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventHalt}, discardLogger())
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, EventPosition, "ignored", ""))
	require.NoError(t, n.Halted(ctx, "SPY", errors.New("underflow")))

	assert.Equal(t, []string{"SPY halted"}, s.titles)
}

func TestNotifier_JoinsSenderErrors(t *testing.T) {
	good := &recordingSender{name: "good"}
	bad := &recordingSender{name: "bad", err: errors.New("down")}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.PositionChanged(context.Background(), domain.Decision{
		Instrument: "SPY", Action: domain.GoFullLong, From: domain.Flat, To: domain.Long,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: down")
	assert.Equal(t, []string{"SPY flat -> long"}, good.titles)
}

func TestNotifier_NoSenders(t *testing.T) {
	n := NewNotifier(nil, nil, discardLogger())
	assert.False(t, n.Enabled())
	assert.NoError(t, n.Notify(context.Background(), EventStartup, "t", "m"))

	var nilNotifier *Notifier
	assert.NoError(t, nilNotifier.Notify(context.Background(), EventStartup, "t", "m"))
}

func TestTelegramSender_Send(t *testing.T) {
	var got map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender(srv.URL, "tok", "42")
	require.NoError(t, s.Send(context.Background(), "Title", "body"))

	assert.Equal(t, "/bottok/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Title*\nbody", got["text"])
}

func TestDiscordSender_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord: unexpected status 429")
}
