package detector

import "testing"

func TestTrackerWindowIsBounded(t *testing.T) {
	tr := NewTracker(0)
	var last []float64
	for i := 1; i <= 250; i++ {
		last = tr.ObserveTrade("T", float64(i))
	}
	if len(last) != DefaultWindowSize {
		t.Fatalf("window len = %d, want %d", len(last), DefaultWindowSize)
	}
	if last[0] != 151 || last[len(last)-1] != 250 {
		t.Fatalf("window = [%v .. %v], want [151 .. 250]", last[0], last[len(last)-1])
	}
	if tr.WindowLen("T") != DefaultWindowSize {
		t.Fatalf("WindowLen = %d", tr.WindowLen("T"))
	}
}

func TestTrackerWindowCopyIsIndependent(t *testing.T) {
	tr := NewTracker(5)
	w := tr.ObserveTrade("T", 1)
	w[0] = 99
	w = tr.ObserveTrade("T", 2)
	if w[0] != 1 {
		t.Fatalf("caller mutation leaked into tracker: %v", w)
	}
}

func TestTrackerIgnoresInvalidTrades(t *testing.T) {
	tr := NewTracker(5)
	if w := tr.ObserveTrade("T", 0); w != nil {
		t.Fatalf("zero trade returned %v", w)
	}
	if w := tr.ObserveTrade("T", -3); w != nil {
		t.Fatalf("negative trade returned %v", w)
	}
	if tr.WindowLen("T") != 0 {
		t.Fatal("invalid trades were stored")
	}
}

func TestTrackerFirstPriceHasNoPrevious(t *testing.T) {
	tr := NewTracker(5)
	bid, ask := 0.5, 0.5
	if _, _, ok := tr.ObservePrice("T", &bid, &ask); ok {
		t.Fatal("first observation reported a previous price")
	}
	bid, ask = 0.6, 0.6
	prev, cur, ok := tr.ObservePrice("T", &bid, &ask)
	if !ok || prev != 0.5 || cur != 0.6 {
		t.Fatalf("got prev=%v cur=%v ok=%v", prev, cur, ok)
	}
	if _, _, ok := tr.ObservePrice("T", nil, &ask); ok {
		t.Fatal("missing bid was accepted")
	}
}
