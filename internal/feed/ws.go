// Package feed ingests the dflow market-data WebSocket and turns its messages
// into domain.MarketUpdates.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/arenarelay/internal/domain"
)

const (
	writeWait           = 10 * time.Second
	pongWait            = 30 * time.Second
	handshakeTimeout    = 15 * time.Second
	baseReconnectDelay  = 2 * time.Second
	maxReconnectDelay   = 60 * time.Second
	stableConnThreshold = time.Minute
)

// Handler receives every parsed update. It is called from the read loop, so
// updates are delivered one at a time in arrival order. A slow handler delays
// reads but never expires the connection; long work belongs on a queue.
type Handler func(ctx context.Context, u domain.MarketUpdate)

// Config configures a Client.
type Config struct {
	URL      string
	APIKey   string
	Channels []string
	// Tickers restricts the subscription. Empty subscribes to all markets.
	Tickers []string
}

// Client maintains a dflow WebSocket subscription and reconnects with
// exponential backoff when the connection drops.
type Client struct {
	cfg       Config
	handler   Handler
	logger    *slog.Logger
	pongWait  time.Duration
	baseDelay time.Duration
	connected atomic.Bool
	received  atomic.Int64
	dropped   atomic.Int64
}

// NewClient creates a Client that delivers updates to handler.
func NewClient(cfg Config, handler Handler, logger *slog.Logger) *Client {
	if len(cfg.Channels) == 0 {
		cfg.Channels = DefaultChannels
	}
	return &Client{
		cfg:       cfg,
		handler:   handler,
		logger:    logger.With(slog.String("component", "dflow_feed")),
		pongWait:  pongWait,
		baseDelay: baseReconnectDelay,
	}
}

// Connected reports whether a subscription is currently live.
func (c *Client) Connected() bool { return c.connected.Load() }

// Stats returns the number of messages received and dropped as malformed.
func (c *Client) Stats() (received, dropped int64) {
	return c.received.Load(), c.dropped.Load()
}

// Run connects and reads until ctx is cancelled, reconnecting on failure.
func (c *Client) Run(ctx context.Context) error {
	delay := c.baseDelay
	for {
		start := time.Now()
		err := c.runConnection(ctx)
		c.connected.Store(false)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(start) > stableConnThreshold {
			delay = c.baseDelay
		}
		c.logger.Warn("dflow ws disconnected, reconnecting",
			slog.String("error", fmt.Sprint(err)),
			slog.Duration("backoff", delay),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (c *Client) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	header := http.Header{}
	if c.cfg.APIKey != "" {
		header.Set("x-api-key", c.cfg.APIKey)
	}

	dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	conn, _, err := dialer.DialContext(dialCtx, c.cfg.URL, header)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: dial: %v", domain.ErrWSDisconnect, err)
	}
	defer conn.Close()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for _, ch := range c.cfg.Channels {
		msg := subscribeMsg{Type: "subscribe", Channel: ch}
		if len(c.cfg.Tickers) > 0 {
			msg.Tickers = c.cfg.Tickers
		} else {
			msg.All = true
		}
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshal subscribe: %w", err)
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return fmt.Errorf("%w: subscribe %s: %v", domain.ErrWSDisconnect, ch, err)
		}
	}
	c.connected.Store(true)
	c.logger.Info("dflow ws subscribed",
		slog.Any("channels", c.cfg.Channels),
		slog.Int("tickers", len(c.cfg.Tickers)),
	)

	// Closing the connection unblocks ReadMessage on shutdown.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(c.pongWait * 9 / 10)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				_ = conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	for {
		// The deadline restarts on every read so time spent in the handler
		// does not count against the peer.
		_ = conn.SetReadDeadline(time.Now().Add(c.pongWait))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: read: %v", domain.ErrWSDisconnect, err)
		}
		c.received.Add(1)
		u, ok := ParseMessage(raw, time.Now())
		if !ok {
			c.dropped.Add(1)
			continue
		}
		if c.handler != nil {
			c.handler(ctx, u)
		}
	}
}
