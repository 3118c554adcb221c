// Package app wires the relay's dependencies and runs the configured mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/arenarelay/internal/config"
	"github.com/alanyoungcy/arenarelay/internal/detector"
	"github.com/alanyoungcy/arenarelay/internal/dispatch"
	"github.com/alanyoungcy/arenarelay/internal/metrics"
	"github.com/alanyoungcy/arenarelay/internal/poller"
	"github.com/alanyoungcy/arenarelay/internal/relay"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	startedAt time.Time
	closers   []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "app")),
		startedAt: time.Now().UTC(),
	}
}

// Run wires dependencies, starts the configured mode and blocks until ctx is
// cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("trigger_store", a.cfg.TriggerStore.Backend),
		slog.String("result_source", a.cfg.Poller.ResultSource),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	c := a.newCore(deps)
	if a.cfg.Metrics.Enabled {
		mc := a.cfg.Metrics
		c.metrics, err = metrics.NewPublisher(ctx, metrics.Config{
			Region:     mc.Region,
			Namespace:  mc.Namespace,
			Interval:   mc.Interval.Duration,
			Dimensions: map[string]string{"mode": strings.ToLower(a.cfg.Mode)},
		}, metricsSource(c.relay, deps), a.logger)
		if err != nil {
			return fmt.Errorf("app: metrics: %w", err)
		}
	}

	switch strings.ToLower(a.cfg.Mode) {
	case "relay":
		return a.RelayMode(ctx, deps, c)
	case "server":
		return a.ServerMode(ctx, deps, c)
	case "full":
		return a.FullMode(ctx, deps, c)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// core is the mode-independent pipeline: detection, dispatch and polling.
type core struct {
	relay   *relay.Relay
	poller  *poller.Poller
	metrics *metrics.Publisher
}

func (a *App) newCore(deps *Dependencies) core {
	dc := a.cfg.Detector
	det := detector.New(detector.Config{
		WindowSize: dc.WindowSize,
		Thresholds: detector.Thresholds{
			SwingThreshold:  dc.SwingThreshold,
			SpikeMultiplier: dc.SpikeMultiplier,
			MinHistory:      dc.MinHistory,
			ImbalanceRatio:  dc.ImbalanceRatio,
		},
		ImbalanceEnabled: dc.ImbalanceEnabled,
	}, a.logger)

	dispatcher := dispatch.New(deps.TriggerStore, deps.Triggerer, dispatch.Config{
		Concurrency: a.cfg.Dispatch.Concurrency,
		CallTimeout: a.cfg.Dispatch.CallTimeout.Duration,
	}, a.logger)

	r := relay.New(relay.Deps{
		Detector:   det,
		Dispatcher: dispatcher,
		Directory:  deps.Directory,
		Bus:        deps.Bus,
		Audit:      deps.Audit,
		Archiver:   deps.Archiver,
		Notifier:   deps.Notifier,
	}, a.logger)

	p := poller.New(deps.TriggerStore, deps.Results, poller.Config{
		Timeout:  a.cfg.Poller.Timeout.Duration,
		Interval: a.cfg.Poller.Interval.Duration,
	}, a.logger, poller.WithTransition(r.OnPollTransition))

	return core{relay: r, poller: p}
}

// metricsSource samples relay counters and the number of active triggers.
func metricsSource(r *relay.Relay, deps *Dependencies) metrics.Source {
	return func(ctx context.Context) []metrics.Sample {
		st := r.Stats()
		samples := []metrics.Sample{
			{Name: "Updates", Value: float64(st.Updates), Counter: true},
			{Name: "Signals", Value: float64(st.Signals), Counter: true},
			{Name: "Dispatches", Value: float64(st.Dispatches), Counter: true},
			{Name: "TriggersStarted", Value: float64(st.TriggersStarted), Counter: true},
			{Name: "TriggersAlreadyRunning", Value: float64(st.TriggersSkipped), Counter: true},
			{Name: "TriggersFailed", Value: float64(st.TriggersFailed), Counter: true},
			{Name: "PollsCompleted", Value: float64(st.PollsCompleted), Counter: true},
			{Name: "PollsFailed", Value: float64(st.PollsFailed), Counter: true},
			{Name: "PollsTimedOut", Value: float64(st.PollsTimedOut), Counter: true},
		}
		if recs, err := deps.TriggerStore.List(ctx); err == nil {
			samples = append(samples, metrics.Sample{Name: "ActiveTriggers", Value: float64(len(recs))})
		}
		return samples
	}
}
