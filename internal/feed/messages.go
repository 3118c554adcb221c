package feed

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/arenarelay/internal/domain"
)

// Channel names on the dflow market-data socket.
const (
	ChannelPrices    = "prices"
	ChannelTrades    = "trades"
	ChannelOrderbook = "orderbook"
)

// DefaultChannels is the subscription set used when none is configured.
var DefaultChannels = []string{ChannelPrices, ChannelTrades, ChannelOrderbook}

// subscribeMsg is the client-to-server subscription command. Either All is
// set or Tickers lists the markets of interest.
type subscribeMsg struct {
	Type    string   `json:"type"`
	Channel string   `json:"channel"`
	All     bool     `json:"all,omitempty"`
	Tickers []string `json:"tickers,omitempty"`
}

// flexFloat decodes a JSON number, a numeric string, or null.
type flexFloat struct {
	v   float64
	set bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		s = strings.TrimSpace(str)
		if s == "" {
			return nil
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	f.v, f.set = v, true
	return nil
}

func (f flexFloat) ptr() *float64 {
	if !f.set {
		return nil
	}
	return domain.Float(f.v)
}

// wireMessage is the union of every server-to-client data message.
type wireMessage struct {
	Channel      string               `json:"channel"`
	Type         string               `json:"type"`
	MarketTicker string               `json:"market_ticker"`
	Ticker       string               `json:"ticker"`
	YesBid       flexFloat            `json:"yes_bid"`
	YesAsk       flexFloat            `json:"yes_ask"`
	Count        flexFloat            `json:"count"`
	Size         flexFloat            `json:"size"`
	YesBids      map[string]flexFloat `json:"yes_bids"`
	NoBids       map[string]flexFloat `json:"no_bids"`
}

// ParseMessage decodes one feed message into a MarketUpdate. It returns false
// for control messages, unknown channels and payloads missing a ticker.
func ParseMessage(raw []byte, receivedAt time.Time) (domain.MarketUpdate, bool) {
	var msg wireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.MarketUpdate{}, false
	}

	ticker := strings.TrimSpace(msg.MarketTicker)
	if ticker == "" {
		ticker = strings.TrimSpace(msg.Ticker)
	}
	if ticker == "" {
		return domain.MarketUpdate{}, false
	}

	u := domain.MarketUpdate{Ticker: ticker, ReceivedAt: receivedAt}
	switch msg.Channel {
	case ChannelPrices:
		u.Kind = domain.UpdateKindPrice
		u.YesBid = msg.YesBid.ptr()
		u.YesAsk = msg.YesAsk.ptr()
	case ChannelTrades:
		size := msg.Count
		if !size.set {
			size = msg.Size
		}
		if !size.set {
			return domain.MarketUpdate{}, false
		}
		u.Kind = domain.UpdateKindTrade
		u.TradeSize = size.v
	case ChannelOrderbook:
		u.Kind = domain.UpdateKindOrderbook
		u.YesLevels = levels(msg.YesBids)
		u.NoLevels = levels(msg.NoBids)
	default:
		return domain.MarketUpdate{}, false
	}
	return u, true
}

// levels converts a price->quantity map into levels ordered by price, best
// (highest) first. Unparseable prices are skipped.
func levels(m map[string]flexFloat) []domain.BookLevel {
	if len(m) == 0 {
		return nil
	}
	out := make([]domain.BookLevel, 0, len(m))
	for p, q := range m {
		price, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || !q.set {
			continue
		}
		out = append(out, domain.BookLevel{Price: price, Quantity: q.v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price > out[j].Price })
	return out
}
