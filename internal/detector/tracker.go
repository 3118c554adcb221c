// Package detector turns raw market updates into signals. It keeps rolling
// per-ticker statistics and applies fixed thresholds to them.
package detector

import (
	"math"
	"sync"
)

// DefaultWindowSize is the capacity of the per-ticker trade-size window.
const DefaultWindowSize = 100

// tickerState is owned by the Tracker. It is created on first observation and
// lives for the life of the process.
type tickerState struct {
	lastMid float64
	hasMid  bool
	window  []float64
}

// Tracker maintains the last mid-price and a bounded FIFO of recent trade
// sizes for each ticker. It is safe for concurrent use.
type Tracker struct {
	windowSize int
	states     map[string]*tickerState
	mu         sync.Mutex
}

// NewTracker creates a Tracker whose trade windows hold at most windowSize
// entries. A non-positive size falls back to DefaultWindowSize.
func NewTracker(windowSize int) *Tracker {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Tracker{
		windowSize: windowSize,
		states:     make(map[string]*tickerState),
	}
}

// state returns the state for ticker, creating it lazily. Caller must hold mu.
func (t *Tracker) state(ticker string) *tickerState {
	s, ok := t.states[ticker]
	if !ok {
		s = &tickerState{}
		t.states[ticker] = s
	}
	return s
}

// ObservePrice records a new mid-price computed from bid and ask. It returns
// the previous mid and the new one; ok is false on the first observation for
// the ticker. A missing bid or ask leaves state untouched and returns ok=false.
func (t *Tracker) ObservePrice(ticker string, bid, ask *float64) (prev, cur float64, ok bool) {
	if bid == nil || ask == nil || !finite(*bid) || !finite(*ask) {
		return 0, 0, false
	}
	mid := (*bid + *ask) / 2

	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.state(ticker)
	prev, had := s.lastMid, s.hasMid
	s.lastMid = mid
	s.hasMid = true
	if !had {
		return 0, mid, false
	}
	return prev, mid, true
}

// ObserveTrade appends size to the ticker's window, evicting the oldest entry
// once capacity is exceeded, and returns a copy of the window with the newest
// entry last. Non-positive sizes are ignored and yield nil.
func (t *Tracker) ObserveTrade(ticker string, size float64) []float64 {
	if size <= 0 || !finite(size) {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.state(ticker)
	s.window = append(s.window, size)
	if over := len(s.window) - t.windowSize; over > 0 {
		// Shift in place so the backing array does not grow without bound.
		n := copy(s.window, s.window[over:])
		s.window = s.window[:n]
	}

	out := make([]float64, len(s.window))
	copy(out, s.window)
	return out
}

// LastPrice returns the last recorded mid-price for ticker.
func (t *Tracker) LastPrice(ticker string) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.states[ticker]
	if !ok || !s.hasMid {
		return 0, false
	}
	return s.lastMid, true
}

// WindowLen returns the number of trade sizes currently held for ticker.
func (t *Tracker) WindowLen(ticker string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.states[ticker]; ok {
		return len(s.window)
	}
	return 0
}

// Tickers returns the number of tickers observed so far.
func (t *Tracker) Tickers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.states)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
