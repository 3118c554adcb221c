package feed

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/arenarelay/internal/domain"
)

func TestClientSubscribesAndDelivers(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subs := make(chan subscribeMsg, 8)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for i := 0; i < len(DefaultChannels); i++ {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var m subscribeMsg
			_ = json.Unmarshal(data, &m)
			subs <- m
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribed"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"channel":"trades","market_ticker":"KX-A","count":"12"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"channel":"prices","market_ticker":"KX-A","yes_bid":"0.4","yes_ask":"0.5"}`))
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	var mu sync.Mutex
	var got []domain.MarketUpdate
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewClient(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}, func(_ context.Context, u domain.MarketUpdate) {
		mu.Lock()
		got = append(got, u)
		mu.Unlock()
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()

	deadline := time.After(3 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("received %d updates", n)
		case <-time.After(10 * time.Millisecond):
		}
	}

	for i := 0; i < len(DefaultChannels); i++ {
		m := <-subs
		if m.Type != "subscribe" || !m.All {
			t.Errorf("subscribe = %+v", m)
		}
	}
	if !c.Connected() {
		t.Error("client not reported connected")
	}
	mu.Lock()
	if got[0].Kind != domain.UpdateKindTrade || got[1].Kind != domain.UpdateKindPrice {
		t.Errorf("order = %s, %s", got[0].Kind, got[1].Kind)
	}
	mu.Unlock()
	if rcv, dropped := c.Stats(); rcv != 3 || dropped != 1 {
		t.Errorf("stats = %d/%d", rcv, dropped)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("client did not stop")
	}
}

func testWSURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// readSubscriptions consumes one subscribe message per default channel.
func readSubscriptions(conn *websocket.Conn, subs chan<- subscribeMsg) bool {
	for i := 0; i < len(DefaultChannels); i++ {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return false
		}
		var m subscribeMsg
		_ = json.Unmarshal(data, &m)
		subs <- m
	}
	return true
}

// holdOpen reads until the client disconnects so pings are answered.
func holdOpen(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func waitUpdates(t *testing.T, got <-chan domain.MarketUpdate, n int) []domain.MarketUpdate {
	t.Helper()
	var out []domain.MarketUpdate
	deadline := time.After(3 * time.Second)
	for len(out) < n {
		select {
		case u := <-got:
			out = append(out, u)
		case <-deadline:
			t.Fatalf("received %d of %d updates", len(out), n)
		}
	}
	return out
}

func TestClientResubscribesAfterServerClose(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var conns atomic.Int32
	subs := make(chan subscribeMsg, 4*len(DefaultChannels))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := conns.Add(1)
		if !readSubscriptions(conn, subs) || n == 1 {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"channel":"trades","market_ticker":"KX-B","count":"3"}`))
		holdOpen(conn)
	}))
	defer srv.Close()

	got := make(chan domain.MarketUpdate, 4)
	c := NewClient(Config{URL: testWSURL(srv)}, func(_ context.Context, u domain.MarketUpdate) {
		got <- u
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.baseDelay = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()

	us := waitUpdates(t, got, 1)
	if us[0].Ticker != "KX-B" {
		t.Errorf("ticker = %q", us[0].Ticker)
	}
	if n := conns.Load(); n != 2 {
		t.Errorf("connections = %d, want 2", n)
	}
	if n := len(subs); n != 2*len(DefaultChannels) {
		t.Errorf("subscribe messages = %d, want %d", n, 2*len(DefaultChannels))
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("client did not stop")
	}
}

func TestClientSlowHandlerKeepsConnection(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var conns atomic.Int32
	subs := make(chan subscribeMsg, 2*len(DefaultChannels))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conns.Add(1)
		if !readSubscriptions(conn, subs) {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"channel":"trades","market_ticker":"KX-A","count":"5"}`))
		time.Sleep(400 * time.Millisecond)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"channel":"trades","market_ticker":"KX-B","count":"6"}`))
		holdOpen(conn)
	}))
	defer srv.Close()

	got := make(chan domain.MarketUpdate, 4)
	c := NewClient(Config{URL: testWSURL(srv)}, func(_ context.Context, u domain.MarketUpdate) {
		if u.Ticker == "KX-A" {
			// Longer than the read window.
			time.Sleep(600 * time.Millisecond)
		}
		got <- u
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.pongWait = 300 * time.Millisecond
	c.baseDelay = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	us := waitUpdates(t, got, 2)
	if us[0].Ticker != "KX-A" || us[1].Ticker != "KX-B" {
		t.Errorf("order = %s, %s", us[0].Ticker, us[1].Ticker)
	}
	if n := conns.Load(); n != 1 {
		t.Errorf("connections = %d, want 1", n)
	}
}
