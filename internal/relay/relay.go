// Package relay ties detection to dispatch: every market update that yields a
// signal is published, archived and fanned out to the ticker's holders.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	s3blob "github.com/alanyoungcy/arenarelay/internal/blob/s3"
	"github.com/alanyoungcy/arenarelay/internal/detector"
	"github.com/alanyoungcy/arenarelay/internal/dispatch"
	"github.com/alanyoungcy/arenarelay/internal/domain"
	"github.com/alanyoungcy/arenarelay/internal/notify"
	"github.com/alanyoungcy/arenarelay/internal/poller"
)

// Deps are the relay's collaborators. Bus, Audit, Archiver and Notifier are
// optional.
type Deps struct {
	Detector   *detector.Detector
	Dispatcher *dispatch.Dispatcher
	Directory  domain.RecipientDirectory
	Bus        domain.SignalBus
	Audit      domain.AuditStore
	Archiver   *s3blob.Archiver
	Notifier   *notify.Notifier
}

// Stats counts relay activity since start.
type Stats struct {
	Updates         int64 `json:"updates"`
	Signals         int64 `json:"signals"`
	Dispatches      int64 `json:"dispatches"`
	TriggersStarted int64 `json:"triggers_started"`
	TriggersSkipped int64 `json:"triggers_already_running"`
	TriggersFailed  int64 `json:"triggers_failed"`
	PollsCompleted  int64 `json:"polls_completed"`
	PollsFailed     int64 `json:"polls_failed"`
	PollsTimedOut   int64 `json:"polls_timed_out"`
}

// Relay processes market updates one at a time.
type Relay struct {
	deps   Deps
	logger *slog.Logger

	updates        atomic.Int64
	signals        atomic.Int64
	dispatches     atomic.Int64
	started        atomic.Int64
	skipped        atomic.Int64
	failed         atomic.Int64
	pollsCompleted atomic.Int64
	pollsFailed    atomic.Int64
	pollsTimedOut  atomic.Int64
}

// New creates a Relay.
func New(deps Deps, logger *slog.Logger) *Relay {
	return &Relay{
		deps:   deps,
		logger: logger.With(slog.String("component", "relay")),
	}
}

// Stats returns activity counters.
func (r *Relay) Stats() Stats {
	return Stats{
		Updates:         r.updates.Load(),
		Signals:         r.signals.Load(),
		Dispatches:      r.dispatches.Load(),
		TriggersStarted: r.started.Load(),
		TriggersSkipped: r.skipped.Load(),
		TriggersFailed:  r.failed.Load(),
		PollsCompleted:  r.pollsCompleted.Load(),
		PollsFailed:     r.pollsFailed.Load(),
		PollsTimedOut:   r.pollsTimedOut.Load(),
	}
}

// HandleUpdate runs u through detection and, when a signal fires, dispatches
// it. It returns the signal and dispatch result, or nil when u produced no
// signal. Failures of side channels are logged and never abort the update.
func (r *Relay) HandleUpdate(ctx context.Context, u domain.MarketUpdate) (*domain.Signal, *domain.DispatchResult) {
	r.updates.Add(1)
	sig := r.deps.Detector.Process(u)
	if sig == nil {
		return nil, nil
	}
	r.signals.Add(1)
	res := r.HandleSignal(ctx, *sig, nil)
	return sig, &res
}

// HandleSignal publishes sig and dispatches it to recipients, or to the
// ticker's holders when recipients is empty.
func (r *Relay) HandleSignal(ctx context.Context, sig domain.Signal, recipients []string) domain.DispatchResult {
	r.publish(ctx, domain.ChannelSignal, sig)
	r.streamAppend(ctx, sig)
	r.deps.Archiver.AddSignal(sig)
	r.audit(ctx, "signal.detected", map[string]any{
		"signal_id": sig.ID,
		"kind":      string(sig.Kind),
		"ticker":    sig.Ticker,
	})
	if err := r.deps.Notifier.Notify(ctx, notify.EventSignalDetected, "Signal detected", sig.Summary()); err != nil {
		r.logger.Warn("notify signal failed", slog.String("error", err.Error()))
	}

	if len(recipients) == 0 && r.deps.Directory != nil {
		holders, err := r.deps.Directory.HoldersOf(ctx, sig.Ticker)
		if err != nil {
			r.logger.Error("holder lookup failed",
				slog.String("ticker", sig.Ticker),
				slog.String("error", err.Error()),
			)
		}
		recipients = holders
	}

	res := r.deps.Dispatcher.Dispatch(ctx, sig, recipients)
	r.dispatches.Add(1)
	r.started.Add(int64(res.Started))
	r.skipped.Add(int64(res.AlreadyRunning))
	r.failed.Add(int64(res.Failed))

	r.publish(ctx, domain.ChannelTrigger, triggerEvent{Type: "dispatch", Dispatch: &res})
	r.deps.Archiver.AddDispatch(res)
	r.audit(ctx, "trigger.dispatched", map[string]any{
		"signal_id":       sig.ID,
		"ticker":          sig.Ticker,
		"started":         res.Started,
		"already_running": res.AlreadyRunning,
		"failed":          res.Failed,
	})
	if res.Failed > 0 {
		msg := sig.Summary() + "\n" + failureSummary(res)
		if err := r.deps.Notifier.Notify(ctx, notify.EventTriggerFailed, "Trigger failed", msg); err != nil {
			r.logger.Warn("notify trigger failure failed", slog.String("error", err.Error()))
		}
	}
	return res
}

// Run handles updates from ch in order until ch closes or ctx is cancelled.
func (r *Relay) Run(ctx context.Context, ch <-chan domain.MarketUpdate) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-ch:
			if !ok {
				return nil
			}
			r.HandleUpdate(ctx, u)
		}
	}
}

// OnPollTransition forwards a terminal poll result to the bus, audit log and
// notifier. It matches poller.TransitionFunc.
func (r *Relay) OnPollTransition(ctx context.Context, rec domain.TriggerRecord, res domain.PollResult) {
	switch res.Status {
	case domain.PollCompleted:
		r.pollsCompleted.Add(1)
	case domain.PollFailed:
		r.pollsFailed.Add(1)
		if res.Reason == poller.ReasonTimeout {
			r.pollsTimedOut.Add(1)
		}
	}
	r.publish(ctx, domain.ChannelTrigger, triggerEvent{Type: "poll", Poll: &res})
	r.audit(ctx, "trigger."+string(res.Status), map[string]any{
		"recipient_id": rec.RecipientID,
		"signal_id":    rec.SignalID,
		"reason":       res.Reason,
		"elapsed_ms":   res.Elapsed.Milliseconds(),
	})
	if res.Status == domain.PollFailed && res.Reason == poller.ReasonTimeout {
		msg := "recipient " + rec.RecipientID + " did not report a result for signal " + rec.SignalID
		if err := r.deps.Notifier.Notify(ctx, notify.EventTriggerTimeout, "Trigger timed out", msg); err != nil {
			r.logger.Warn("notify timeout failed", slog.String("error", err.Error()))
		}
	}
}

// triggerEvent is the payload on the trigger channel.
type triggerEvent struct {
	Type     string                 `json:"type"`
	Dispatch *domain.DispatchResult `json:"dispatch,omitempty"`
	Poll     *domain.PollResult     `json:"poll,omitempty"`
}

func (r *Relay) publish(ctx context.Context, channel string, v any) {
	if r.deps.Bus == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		r.logger.Error("marshal bus payload", slog.String("channel", channel), slog.String("error", err.Error()))
		return
	}
	if err := r.deps.Bus.Publish(ctx, channel, data); err != nil {
		r.logger.Warn("bus publish failed", slog.String("channel", channel), slog.String("error", err.Error()))
	}
}

func (r *Relay) streamAppend(ctx context.Context, sig domain.Signal) {
	if r.deps.Bus == nil {
		return
	}
	data, err := json.Marshal(sig)
	if err != nil {
		return
	}
	if err := r.deps.Bus.StreamAppend(ctx, domain.StreamSignals, data); err != nil {
		r.logger.Warn("stream append failed", slog.String("error", err.Error()))
	}
}

func (r *Relay) audit(ctx context.Context, event string, detail map[string]any) {
	if r.deps.Audit == nil {
		return
	}
	if err := r.deps.Audit.Log(ctx, event, detail); err != nil {
		r.logger.Warn("audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func failureSummary(res domain.DispatchResult) string {
	var b strings.Builder
	for _, rr := range res.Results {
		if rr.Outcome == domain.OutcomeFailed {
			fmt.Fprintf(&b, "- %s: %s\n", rr.RecipientID, rr.Error)
		}
	}
	return b.String()
}
