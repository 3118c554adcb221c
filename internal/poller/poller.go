// Package poller resolves dispatched triggers to a terminal state.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/arenarelay/internal/domain"
)

const (
	// DefaultTimeout is how long a trigger may run before it is failed.
	DefaultTimeout = 10 * time.Minute
	// DefaultInterval is the sweep period used by Run.
	DefaultInterval = 30 * time.Second

	// ReasonTimeout is reported for triggers that exceeded the timeout.
	ReasonTimeout = "timeout"
)

// Config configures a Poller.
type Config struct {
	Timeout  time.Duration
	Interval time.Duration
}

// TransitionFunc is called once for every trigger that reaches a terminal
// state, after its record has been removed.
type TransitionFunc func(ctx context.Context, rec domain.TriggerRecord, res domain.PollResult)

// Poller checks active trigger records against the result store.
type Poller struct {
	store        domain.TriggerStore
	results      domain.ResultStore
	cfg          Config
	now          func() time.Time
	onTransition TransitionFunc
	logger       *slog.Logger
}

// Option configures optional Poller behaviour.
type Option func(*Poller)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

// WithTransition registers fn to observe terminal transitions.
func WithTransition(fn TransitionFunc) Option {
	return func(p *Poller) { p.onTransition = fn }
}

// New creates a Poller.
func New(store domain.TriggerStore, results domain.ResultStore, cfg Config, logger *slog.Logger, opts ...Option) *Poller {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	p := &Poller{
		store:   store,
		results: results,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "poller")),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// PollOnce reports the state of the trigger identified by token. Terminal
// states remove the record; if another poller removed it first the result is
// not_found. A failed result query does not stop the timeout from applying,
// but before the timeout it reports running together with the error.
func (p *Poller) PollOnce(ctx context.Context, token string) (domain.PollResult, error) {
	rec, err := p.store.Get(ctx, token)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.PollResult{Token: token, Status: domain.PollNotFound}, nil
	}
	if err != nil {
		return domain.PollResult{Token: token, Status: domain.PollRunning},
			fmt.Errorf("poller: get %s: %w", token, err)
	}

	res := domain.PollResult{
		Token:       token,
		RecipientID: rec.RecipientID,
		Status:      domain.PollRunning,
		StartedAt:   rec.StartedAt,
		Elapsed:     p.now().Sub(rec.StartedAt),
	}

	done, qerr := p.results.HasResultSince(ctx, rec.RecipientID, rec.StartedAt)
	switch {
	case qerr == nil && done:
		res.Status = domain.PollCompleted
		return p.finish(ctx, rec, res)
	case res.Elapsed > p.cfg.Timeout:
		res.Status = domain.PollFailed
		res.Reason = ReasonTimeout
		return p.finish(ctx, rec, res)
	case qerr != nil:
		return res, fmt.Errorf("poller: query results for %s: %w", rec.RecipientID, qerr)
	}
	return res, nil
}

func (p *Poller) finish(ctx context.Context, rec domain.TriggerRecord, res domain.PollResult) (domain.PollResult, error) {
	removed, err := p.store.Remove(ctx, rec)
	if err != nil {
		// The record is still there, so the next poll resolves it again.
		running := res
		running.Status = domain.PollRunning
		running.Reason = ""
		return running, fmt.Errorf("poller: remove %s: %w", rec.Token, err)
	}
	if !removed {
		return domain.PollResult{Token: rec.Token, RecipientID: rec.RecipientID, Status: domain.PollNotFound}, nil
	}

	p.logger.Info("trigger resolved",
		slog.String("recipient", rec.RecipientID),
		slog.String("signal_id", rec.SignalID),
		slog.String("status", string(res.Status)),
		slog.String("reason", res.Reason),
		slog.Duration("elapsed", res.Elapsed),
	)
	if p.onTransition != nil {
		p.onTransition(ctx, rec, res)
	}
	return res, nil
}

// Sweep polls every active record once and returns the results.
func (p *Poller) Sweep(ctx context.Context) ([]domain.PollResult, error) {
	recs, err := p.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("poller: list triggers: %w", err)
	}

	out := make([]domain.PollResult, 0, len(recs))
	for _, rec := range recs {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		res, err := p.PollOnce(ctx, rec.Token)
		if err != nil {
			p.logger.Warn("poll failed",
				slog.String("token", rec.Token),
				slog.String("error", err.Error()),
			)
		}
		out = append(out, res)
	}
	return out, nil
}

// Run sweeps immediately and then on every interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller started",
		slog.Duration("interval", p.cfg.Interval),
		slog.Duration("timeout", p.cfg.Timeout),
	)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := p.Sweep(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("sweep failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}
