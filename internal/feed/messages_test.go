package feed

import (
	"testing"
	"time"

	"github.com/alanyoungcy/arenarelay/internal/domain"
)

func TestParseMessage(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		raw    string
		wantOK bool
		check  func(t *testing.T, u domain.MarketUpdate)
	}{
		{
			name:   "price with string numbers",
			raw:    `{"channel":"prices","type":"ticker","market_ticker":"KX-A","yes_bid":"0.40","yes_ask":"0.42"}`,
			wantOK: true,
			check: func(t *testing.T, u domain.MarketUpdate) {
				if u.Kind != domain.UpdateKindPrice || u.YesBid == nil || *u.YesBid != 0.40 || *u.YesAsk != 0.42 {
					t.Errorf("update = %+v", u)
				}
			},
		},
		{
			name:   "price missing ask",
			raw:    `{"channel":"prices","market_ticker":"KX-A","yes_bid":0.4}`,
			wantOK: true,
			check: func(t *testing.T, u domain.MarketUpdate) {
				if u.YesBid == nil || u.YesAsk != nil {
					t.Errorf("bid=%v ask=%v", u.YesBid, u.YesAsk)
				}
			},
		},
		{
			name:   "trade with numeric count",
			raw:    `{"channel":"trades","market_ticker":"KX-A","count":150}`,
			wantOK: true,
			check: func(t *testing.T, u domain.MarketUpdate) {
				if u.Kind != domain.UpdateKindTrade || u.TradeSize != 150 {
					t.Errorf("update = %+v", u)
				}
			},
		},
		{
			name:   "orderbook levels sorted",
			raw:    `{"channel":"orderbook","ticker":"KX-B","yes_bids":{"0.39":"50","0.40":"100"},"no_bids":{"0.58":20}}`,
			wantOK: true,
			check: func(t *testing.T, u domain.MarketUpdate) {
				if u.Kind != domain.UpdateKindOrderbook || u.Ticker != "KX-B" {
					t.Fatalf("update = %+v", u)
				}
				if len(u.YesLevels) != 2 || u.YesLevels[0].Price != 0.40 {
					t.Errorf("yes levels = %+v", u.YesLevels)
				}
				if domain.Depth(u.YesLevels) != 150 || domain.Depth(u.NoLevels) != 20 {
					t.Errorf("depths = %v/%v", domain.Depth(u.YesLevels), domain.Depth(u.NoLevels))
				}
			},
		},
		{name: "trade without size", raw: `{"channel":"trades","market_ticker":"KX-A"}`},
		{name: "missing ticker", raw: `{"channel":"prices","yes_bid":"0.4","yes_ask":"0.5"}`},
		{name: "unknown channel", raw: `{"channel":"fills","market_ticker":"KX-A"}`},
		{name: "subscription ack", raw: `{"type":"subscribed","channel":"prices"}`},
		{name: "bad number", raw: `{"channel":"prices","market_ticker":"KX-A","yes_bid":"abc"}`},
		{name: "not json", raw: `hello`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, ok := ParseMessage([]byte(tt.raw), now)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v (%+v)", ok, tt.wantOK, u)
			}
			if ok && !u.ReceivedAt.Equal(now) {
				t.Errorf("received at = %v", u.ReceivedAt)
			}
			if tt.check != nil {
				tt.check(t, u)
			}
		})
	}
}
