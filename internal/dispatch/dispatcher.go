// Package dispatch fans a signal out to recipients, starting at most one unit
// of work per recipient at a time.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arenarelay/internal/domain"
)

// DefaultConcurrency bounds the number of StartWork calls in flight.
const DefaultConcurrency = 8

// Config configures a Dispatcher.
type Config struct {
	// Concurrency is the maximum number of recipients triggered in parallel.
	Concurrency int
	// CallTimeout bounds a single StartWork call. Zero means no extra bound.
	CallTimeout time.Duration
}

// Dispatcher claims a trigger record for each recipient and then asks the
// Triggerer to start work. A recipient whose token is already claimed is
// reported as already running and is not called.
type Dispatcher struct {
	store     domain.TriggerStore
	triggerer domain.Triggerer
	cfg       Config
	now       func() time.Time
	logger    *slog.Logger
}

// New creates a Dispatcher.
func New(store domain.TriggerStore, triggerer domain.Triggerer, cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Dispatcher{
		store:     store,
		triggerer: triggerer,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "dispatcher")),
	}
}

// Dispatch triggers every recipient for sig and reports per-recipient
// outcomes. Individual failures are counted, never returned as an error.
// Duplicate and blank recipient IDs are ignored.
func (d *Dispatcher) Dispatch(ctx context.Context, sig domain.Signal, recipients []string) domain.DispatchResult {
	ids := uniqueRecipients(recipients)
	results := make([]domain.RecipientResult, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for i, id := range ids {
		g.Go(func() error {
			results[i] = d.dispatchOne(gctx, sig, id)
			return nil
		})
	}
	_ = g.Wait()

	res := domain.DispatchResult{
		SignalID: sig.ID,
		Ticker:   sig.Ticker,
		Results:  results,
	}
	for _, r := range results {
		switch r.Outcome {
		case domain.OutcomeStarted:
			res.Started++
		case domain.OutcomeAlreadyRunning:
			res.AlreadyRunning++
		case domain.OutcomeFailed:
			res.Failed++
		}
	}

	d.logger.Info("dispatch complete",
		slog.String("signal_id", sig.ID),
		slog.String("ticker", sig.Ticker),
		slog.Int("recipients", len(ids)),
		slog.Int("started", res.Started),
		slog.Int("already_running", res.AlreadyRunning),
		slog.Int("failed", res.Failed),
	)
	return res
}

func (d *Dispatcher) dispatchOne(ctx context.Context, sig domain.Signal, recipientID string) domain.RecipientResult {
	token := domain.TriggerToken(recipientID)
	res := domain.RecipientResult{RecipientID: recipientID, Token: token}

	rec := domain.TriggerRecord{
		Token:       token,
		RecipientID: recipientID,
		SignalID:    sig.ID,
		Nonce:       uuid.NewString(),
		StartedAt:   d.now().UTC(),
	}
	claimed, err := d.store.Claim(ctx, rec)
	if err != nil {
		res.Outcome = domain.OutcomeFailed
		res.Error = fmt.Sprintf("claim: %v", err)
		d.logger.Warn("trigger claim failed",
			slog.String("recipient", recipientID),
			slog.String("error", err.Error()),
		)
		return res
	}
	if !claimed {
		res.Outcome = domain.OutcomeAlreadyRunning
		d.logger.Debug("recipient already running", slog.String("recipient", recipientID))
		return res
	}

	callCtx := ctx
	if d.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.cfg.CallTimeout)
		defer cancel()
	}

	req := domain.TriggerRequest{Token: token, RecipientID: recipientID, Signal: sig}
	if err := d.triggerer.StartWork(callCtx, req); err != nil {
		// The claim never led to running work, so the recipient must stay
		// eligible for the next signal.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if _, rerr := d.store.Remove(releaseCtx, rec); rerr != nil {
			d.logger.Error("release claim after failed start",
				slog.String("recipient", recipientID),
				slog.String("error", rerr.Error()),
			)
		}
		res.Outcome = domain.OutcomeFailed
		res.Error = err.Error()
		d.logger.Warn("start work failed",
			slog.String("recipient", recipientID),
			slog.String("signal_id", sig.ID),
			slog.String("error", err.Error()),
		)
		return res
	}

	res.Outcome = domain.OutcomeStarted
	d.logger.Info("work started",
		slog.String("recipient", recipientID),
		slog.String("signal_id", sig.ID),
	)
	return res
}

func uniqueRecipients(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, id := range in {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
