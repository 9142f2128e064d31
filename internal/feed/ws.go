package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/bookimbalance/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// TickHandler receives every decoded tick.
type TickHandler func(ctx context.Context, tick domain.Tick) error

// subscribeCommand is sent once per connection.
type subscribeCommand struct {
	Type        string   `json:"type"`
	Channels    []string `json:"channels"`
	Instruments []string `json:"instruments"`
}

// WSFeed streams trade and quote ticks from a WebSocket endpoint and hands
// them to a TickHandler. It reconnects with exponential backoff.
type WSFeed struct {
	wsURL       string
	instruments []string
	onTick      TickHandler
	logger      *slog.Logger
	closeOnce   sync.Once
	done        chan struct{}
}

// NewWSFeed creates a feed subscribed to instruments.
func NewWSFeed(wsURL string, instruments []string, onTick TickHandler, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		wsURL:       wsURL,
		instruments: instruments,
		onTick:      onTick,
		logger:      logger.With(slog.String("component", "ws_feed")),
		done:        make(chan struct{}),
	}
}

// Run connects, subscribes and dispatches ticks until ctx is cancelled or
// Close is called.
func (f *WSFeed) Run(ctx context.Context) error {
	if len(f.instruments) == 0 {
		f.logger.Info("no instruments to subscribe, exiting")
		return nil
	}
	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		connected, err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-f.done:
			return nil
		default:
		}
		if connected {
			delay = reconnectDelay
		}
		f.logger.Warn("tick ws disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

// runConnection serves one connection. connected reports whether the dial
// and subscribe succeeded.
func (f *WSFeed) runConnection(ctx context.Context) (connected bool, err error) {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return false, fmt.Errorf("feed/ws: connect: %w", err)
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(subscribeCommand{
		Type:        "subscribe",
		Channels:    []string{string(domain.TickTrade), string(domain.TickQuote)},
		Instruments: f.instruments,
	}); err != nil {
		return false, fmt.Errorf("feed/ws: subscribe: %w", err)
	}
	f.logger.Info("tick ws subscribed", slog.Any("instruments", f.instruments))

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go f.pingLoop(connCtx, conn)
	go func() {
		select {
		case <-connCtx.Done():
		case <-f.done:
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("feed/ws: read: %w", err)
		}
		ticks, err := DecodeTicks(message)
		if err != nil {
			f.logger.Debug("undecodable ws message dropped", slog.String("error", err.Error()), slog.Int("len", len(message)))
			continue
		}
		for _, t := range ticks {
			if err := f.onTick(ctx, t); err != nil {
				f.logger.Warn("tick handler failed",
					slog.String("instrument", t.Instrument),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (f *WSFeed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// Close stops the feed.
func (f *WSFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

// DecodeTicks accepts a single JSON tick object or an array of them. Ticks
// without a timestamp are stamped with the receive time.
func DecodeTicks(raw []byte) ([]domain.Tick, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("feed: empty message")
	}
	var ticks []domain.Tick
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &ticks); err != nil {
			return nil, fmt.Errorf("feed: decode tick batch: %w", err)
		}
	} else {
		var t domain.Tick
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("feed: decode tick: %w", err)
		}
		ticks = []domain.Tick{t}
	}
	now := time.Now().UTC()
	out := ticks[:0]
	for _, t := range ticks {
		if t.Type != domain.TickTrade && t.Type != domain.TickQuote {
			continue
		}
		if t.Time.IsZero() {
			t.Time = now
		}
		out = append(out, t)
	}
	return out, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
