// Package ws fans bus traffic out to dashboard WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/arenarelay/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	queueSize      = 256
)

// Channels are the bus channels forwarded to clients.
var Channels = []string{domain.ChannelSignal, domain.ChannelTrigger}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API key middleware guards /ws; origins are not restricted further.
	CheckOrigin: func(r *http.Request) bool { return true },
}

var errNotJSON = errors.New("ws: bus payload is not JSON")

// envelope wraps a bus payload with the channel it arrived on.
type envelope struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

// control is a client request to change its filter. Tickers replaces the
// ticker filter when present; an empty list clears it.
type control struct {
	Action   string    `json:"action"`
	Channels []string  `json:"channels"`
	Tickers  *[]string `json:"tickers"`
}

// frame is a wrapped bus message plus the ticker it concerns, if any.
type frame struct {
	channel string
	ticker  string
	data    []byte
}

// filter decides which frames a viewer receives.
type filter struct {
	mu       sync.RWMutex
	channels map[string]bool
	tickers  map[string]bool
}

func newFilter() *filter {
	f := &filter{channels: make(map[string]bool, len(Channels))}
	for _, ch := range Channels {
		f.channels[ch] = true
	}
	return f
}

func (f *filter) apply(c control) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch c.Action {
	case "subscribe":
		for _, ch := range c.Channels {
			f.channels[ch] = true
		}
	case "unsubscribe":
		for _, ch := range c.Channels {
			delete(f.channels, ch)
		}
	}
	if c.Tickers != nil {
		f.tickers = nil
		for _, t := range *c.Tickers {
			if t = strings.TrimSpace(t); t != "" {
				if f.tickers == nil {
					f.tickers = make(map[string]bool)
				}
				f.tickers[t] = true
			}
		}
	}
}

// allows reports whether fr passes. Frames without a ticker pass any ticker
// filter.
func (f *filter) allows(fr frame) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.channels[fr.channel] {
		return false
	}
	if len(f.tickers) == 0 || fr.ticker == "" {
		return true
	}
	return f.tickers[fr.ticker]
}

// viewer is one connected dashboard.
type viewer struct {
	conn   *websocket.Conn
	queue  chan []byte
	filter *filter
	once   sync.Once
}

func (v *viewer) close() {
	v.once.Do(func() { close(v.queue) })
}

// Hub bridges a SignalBus to connected WebSocket viewers. Each message is
// sent as a JSON text frame {"channel":..., "payload":...}.
type Hub struct {
	bus       domain.SignalBus
	mode      string
	startedAt time.Time
	logger    *slog.Logger

	mu      sync.RWMutex
	viewers map[*viewer]struct{}
	closed  bool
}

// NewHub creates a Hub reading from bus.
func NewHub(bus domain.SignalBus, mode string, logger *slog.Logger) *Hub {
	return &Hub{
		bus:       bus,
		mode:      mode,
		startedAt: time.Now().UTC(),
		viewers:   make(map[*viewer]struct{}),
		logger:    logger.With(slog.String("component", "ws_hub")),
	}
}

// Run forwards every bus channel until ctx is cancelled, then disconnects all
// viewers.
func (h *Hub) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, ch := range Channels {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.forward(ctx, ch)
		}()
	}
	<-ctx.Done()
	wg.Wait()

	h.mu.Lock()
	h.closed = true
	for v := range h.viewers {
		v.close()
		delete(h.viewers, v)
	}
	h.mu.Unlock()
	return nil
}

// ClientCount returns the number of connected viewers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

func (h *Hub) forward(ctx context.Context, channel string) {
	msgs, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-msgs:
			if !ok {
				h.logger.Warn("subscription closed", slog.String("channel", channel))
				return
			}
			fr, err := wrap(channel, payload)
			if err != nil {
				h.logger.Warn("dropping non-JSON bus payload", slog.String("channel", channel))
				continue
			}
			h.deliver(fr)
		}
	}
}

// deliver queues fr for every viewer whose filter allows it. A viewer with a
// full queue misses the frame.
func (h *Hub) deliver(fr frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for v := range h.viewers {
		if !v.filter.allows(fr) {
			continue
		}
		select {
		case v.queue <- fr.data:
		default:
			h.logger.Warn("dropping frame for slow viewer",
				slog.String("channel", fr.channel),
				slog.String("ticker", fr.ticker),
			)
		}
	}
}

func (h *Hub) add(v *viewer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.viewers[v] = struct{}{}
	h.logger.Info("viewer connected", slog.Int("viewers", len(h.viewers)))
	return true
}

func (h *Hub) remove(v *viewer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.viewers[v]; !ok {
		return
	}
	delete(h.viewers, v)
	v.close()
	h.logger.Info("viewer disconnected", slog.Int("viewers", len(h.viewers)))
}

// wrap validates payload and extracts the ticker it concerns. Signals carry
// a top-level ticker; dispatch events carry it under "dispatch".
func wrap(channel string, payload []byte) (frame, error) {
	if !json.Valid(payload) {
		return frame{}, errNotJSON
	}
	var probe struct {
		Ticker   string `json:"ticker"`
		Dispatch *struct {
			Ticker string `json:"ticker"`
		} `json:"dispatch"`
	}
	_ = json.Unmarshal(payload, &probe)
	ticker := probe.Ticker
	if ticker == "" && probe.Dispatch != nil {
		ticker = probe.Dispatch.Ticker
	}

	data, err := json.Marshal(envelope{Channel: channel, Payload: payload})
	if err != nil {
		return frame{}, err
	}
	return frame{channel: channel, ticker: ticker, data: data}, nil
}

// HandleWS upgrades the request and registers a viewer subscribed to every
// channel. A "tickers" query parameter (comma separated) sets the initial
// ticker filter.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	v := &viewer{
		conn:   conn,
		queue:  make(chan []byte, queueSize),
		filter: newFilter(),
	}
	if q := r.URL.Query().Get("tickers"); q != "" {
		tickers := strings.Split(q, ",")
		v.filter.apply(control{Tickers: &tickers})
	}
	if !h.add(v) {
		conn.Close()
		return
	}
	h.hello(v)

	go h.writeLoop(v)
	go h.readLoop(v)
}

// hello lets the dashboard mark the connection healthy before any signal
// arrives.
func (h *Hub) hello(v *viewer) {
	msg, err := json.Marshal(map[string]any{
		"channel": "hello",
		"payload": map[string]any{
			"mode":           h.mode,
			"channels":       Channels,
			"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		},
	})
	if err != nil {
		return
	}
	select {
	case v.queue <- msg:
	default:
	}
}

func (h *Hub) readLoop(v *viewer) {
	defer func() {
		h.remove(v)
		v.conn.Close()
	}()

	v.conn.SetReadLimit(maxMessageSize)
	v.conn.SetReadDeadline(time.Now().Add(pongWait))
	v.conn.SetPongHandler(func(string) error {
		return v.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := v.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var c control
		if err := json.Unmarshal(raw, &c); err != nil {
			continue
		}
		v.filter.apply(c)
	}
}

func (h *Hub) writeLoop(v *viewer) {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		v.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-v.queue:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				v.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := v.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
