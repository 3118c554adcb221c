package domain

import "time"

// UpdateKind discriminates the upstream channel a MarketUpdate came from.
type UpdateKind string

const (
	UpdateKindPrice     UpdateKind = "price"
	UpdateKindTrade     UpdateKind = "trade"
	UpdateKindOrderbook UpdateKind = "orderbook"
)

// MarketUpdate is a single observation for one ticker. It only lives for the
// duration of processing one feed event.
type MarketUpdate struct {
	Kind   UpdateKind
	Ticker string

	// Price updates. Nil means the field was absent upstream.
	YesBid *float64
	YesAsk *float64

	// Trade updates.
	TradeSize float64

	// Orderbook snapshots.
	YesLevels []BookLevel
	NoLevels  []BookLevel

	ReceivedAt time.Time
}

// Float returns a pointer to v. Handy for building price updates.
func Float(v float64) *float64 {
	return &v
}
