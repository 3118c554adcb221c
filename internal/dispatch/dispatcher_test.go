package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alanyoungcy/arenarelay/internal/domain"
	"github.com/alanyoungcy/arenarelay/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTriggerer struct {
	mu    sync.Mutex
	calls []domain.TriggerRequest
	fail  map[string]error
}

func (f *fakeTriggerer) StartWork(_ context.Context, req domain.TriggerRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	return f.fail[req.RecipientID]
}

func (f *fakeTriggerer) called(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.RecipientID == id {
			n++
		}
	}
	return n
}

func testSignal() domain.Signal {
	return domain.Signal{
		ID:     "sig-1",
		Kind:   domain.SignalKindPriceSwing,
		Ticker: "KX-A",
		Swing:  &domain.SwingData{PreviousPrice: 0.40, CurrentPrice: 0.46, ChangePercent: 0.15, Direction: "up"},
	}
}

func TestDispatchSkipsRunningRecipient(t *testing.T) {
	ctx := context.Background()
	store := memory.NewTriggerStore()
	trig := &fakeTriggerer{}
	d := New(store, trig, Config{}, testLogger())

	active := domain.TriggerRecord{Token: domain.TriggerToken("A"), RecipientID: "A", Nonce: "n0", StartedAt: time.Now()}
	if ok, _ := store.Claim(ctx, active); !ok {
		t.Fatal("setup claim failed")
	}

	res := d.Dispatch(ctx, testSignal(), []string{"A", "B"})
	if res.Started != 1 || res.AlreadyRunning != 1 || res.Failed != 0 {
		t.Fatalf("counts = %d/%d/%d, want 1/1/0", res.Started, res.AlreadyRunning, res.Failed)
	}
	if trig.called("A") != 0 {
		t.Error("running recipient A was triggered")
	}
	if trig.called("B") != 1 {
		t.Errorf("B triggered %d times, want 1", trig.called("B"))
	}
	if res.SignalID != "sig-1" || res.Ticker != "KX-A" || len(res.Results) != 2 {
		t.Errorf("result = %+v", res)
	}

	rec, err := store.Get(ctx, domain.TriggerToken("B"))
	if err != nil {
		t.Fatalf("B has no trigger record: %v", err)
	}
	if rec.SignalID != "sig-1" || rec.Nonce == "" || rec.StartedAt.IsZero() {
		t.Errorf("record = %+v", rec)
	}
}

func TestDispatchFailureReleasesClaim(t *testing.T) {
	ctx := context.Background()
	store := memory.NewTriggerStore()
	trig := &fakeTriggerer{fail: map[string]error{"B": errors.New("503 from endpoint")}}
	d := New(store, trig, Config{}, testLogger())

	res := d.Dispatch(ctx, testSignal(), []string{"A", "B"})
	if res.Started != 1 || res.Failed != 1 {
		t.Fatalf("counts = %+v", res)
	}
	for _, r := range res.Results {
		if r.RecipientID == "B" && (r.Outcome != domain.OutcomeFailed || r.Error == "") {
			t.Errorf("B result = %+v", r)
		}
	}
	if _, err := store.Get(ctx, domain.TriggerToken("B")); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("failed recipient still claimed: %v", err)
	}

	// B is eligible again on the next signal; no automatic retry happened.
	trig.fail = nil
	res = d.Dispatch(ctx, testSignal(), []string{"B"})
	if res.Started != 1 {
		t.Fatalf("second dispatch = %+v", res)
	}
	if trig.called("B") != 2 {
		t.Errorf("B called %d times, want 2", trig.called("B"))
	}
}

func TestDispatchDedupesRecipients(t *testing.T) {
	trig := &fakeTriggerer{}
	d := New(memory.NewTriggerStore(), trig, Config{}, testLogger())

	res := d.Dispatch(context.Background(), testSignal(), []string{"A", " A", "", "A"})
	if len(res.Results) != 1 || res.Started != 1 {
		t.Fatalf("result = %+v", res)
	}
	if trig.called("A") != 1 {
		t.Errorf("A called %d times", trig.called("A"))
	}
}

func TestDispatchEmptyRecipients(t *testing.T) {
	d := New(memory.NewTriggerStore(), &fakeTriggerer{}, Config{}, testLogger())
	res := d.Dispatch(context.Background(), testSignal(), nil)
	if res.Started != 0 || res.AlreadyRunning != 0 || res.Failed != 0 || len(res.Results) != 0 {
		t.Fatalf("result = %+v", res)
	}
}

type countingTriggerer struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (c *countingTriggerer) StartWork(ctx context.Context, _ domain.TriggerRequest) error {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return nil
}

func TestDispatchBoundsConcurrency(t *testing.T) {
	trig := &countingTriggerer{}
	d := New(memory.NewTriggerStore(), trig, Config{Concurrency: 2}, testLogger())

	ids := []string{"a", "b", "c", "d", "e", "f"}
	res := d.Dispatch(context.Background(), testSignal(), ids)
	if res.Started != len(ids) {
		t.Fatalf("started = %d", res.Started)
	}
	if p := trig.peak.Load(); p > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", p)
	}
}

func TestStaticDirectory(t *testing.T) {
	dir := NewStaticDirectory([]string{"A", "B"}, map[string][]string{"kx-special": {"C"}})
	got, _ := dir.HoldersOf(context.Background(), "KX-OTHER")
	if len(got) != 2 {
		t.Fatalf("default holders = %v", got)
	}
	got, _ = dir.HoldersOf(context.Background(), "KX-SPECIAL")
	if len(got) != 1 || got[0] != "C" {
		t.Fatalf("ticker holders = %v", got)
	}
}
