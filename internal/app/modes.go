package app

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arenarelay/internal/domain"
	"github.com/alanyoungcy/arenarelay/internal/feed"
	"github.com/alanyoungcy/arenarelay/internal/server"
	"github.com/alanyoungcy/arenarelay/internal/server/handler"
	"github.com/alanyoungcy/arenarelay/internal/server/ws"
)

// RelayMode consumes the dflow feed and polls triggers. No HTTP server runs.
func (a *App) RelayMode(ctx context.Context, deps *Dependencies, c core) error {
	a.logger.InfoContext(ctx, "starting relay mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startBackground(ctx, g, deps, c)
	a.startFeed(ctx, g, c)
	return g.Wait()
}

// ServerMode serves the HTTP API and polls triggers. Updates arrive through
// POST /api/updates instead of the WebSocket feed.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies, c core) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startBackground(ctx, g, deps, c)
	a.startServer(ctx, g, deps, c, nil)
	return g.Wait()
}

// FullMode runs the feed, the poller and the HTTP API together.
func (a *App) FullMode(ctx context.Context, deps *Dependencies, c core) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startBackground(ctx, g, deps, c)
	feedClient := a.startFeed(ctx, g, c)
	var fs handler.FeedState
	if feedClient != nil {
		fs = feedClient
	}
	a.startServer(ctx, g, deps, c, fs)
	return g.Wait()
}

// startBackground runs the poller and, when configured, the archive flusher
// and the metrics publisher.
func (a *App) startBackground(ctx context.Context, g *errgroup.Group, deps *Dependencies, c core) {
	g.Go(func() error {
		return c.poller.Run(ctx)
	})
	if deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.Run(ctx)
		})
	}
	if c.metrics != nil {
		g.Go(func() error {
			return c.metrics.Run(ctx)
		})
	}
}

// updateQueueSize bounds the updates buffered between the feed read loop and
// the relay.
const updateQueueSize = 1024

// startFeed starts the dflow WebSocket client and the relay loop that drains
// it. Updates keep arrival order; a full queue blocks the reader until the
// relay catches up.
func (a *App) startFeed(ctx context.Context, g *errgroup.Group, c core) *feed.Client {
	if !a.cfg.Feed.Enabled {
		a.logger.WarnContext(ctx, "feed disabled, no market updates will be consumed")
		return nil
	}
	updates := make(chan domain.MarketUpdate, updateQueueSize)
	client := feed.NewClient(feed.Config{
		URL:      a.cfg.Feed.URL,
		APIKey:   a.cfg.Feed.APIKey,
		Channels: a.cfg.Feed.Channels,
		Tickers:  a.cfg.Feed.Tickers,
	}, enqueue(updates), a.logger)

	g.Go(func() error {
		return c.relay.Run(ctx, updates)
	})
	g.Go(func() error {
		return client.Run(ctx)
	})
	return client
}

// startServer starts the HTTP API, and the dashboard hub when a bus exists.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, c core, fs handler.FeedState) {
	h := server.Handlers{
		Health:   handler.NewHealthHandler(),
		Status:   handler.NewStatusHandler(a.cfg.Mode, a.startedAt, fs, deps.TriggerStore, c.relay, a.logger),
		Signals:  handler.NewSignalHandler(c.relay, a.logger),
		Triggers: handler.NewTriggerHandler(deps.TriggerStore, c.poller, a.logger),
		Updates:  handler.NewUpdateHandler(c.relay, a.logger),
	}
	if deps.Positions != nil && deps.Decisions != nil && deps.Audit != nil {
		h.Agent = handler.NewAgentHandler(deps.Positions, deps.Decisions, deps.Audit, a.logger)
	}
	if deps.Bus != nil {
		hub := ws.NewHub(deps.Bus, a.cfg.Mode, a.logger)
		h.Hub = hub
		g.Go(func() error {
			return hub.Run(ctx)
		})
	} else {
		a.logger.InfoContext(ctx, "redis disabled, /ws dashboard hub not served")
	}

	sc := a.cfg.Server
	srv := server.NewServer(server.Config{
		Port:            sc.Port,
		CORSOrigins:     sc.CORSOrigins,
		APIKey:          sc.APIKey,
		RateLimit:       sc.RateLimit,
		RateLimitWindow: sc.RateLimitWindow.Duration,
	}, h, deps.RateLimiter, a.logger)

	if sc.APIKey == "" {
		a.logger.WarnContext(ctx, "server api_key empty, authentication disabled")
	}
	g.Go(func() error {
		return srv.Run(ctx)
	})
	a.logger.InfoContext(ctx, "http api enabled", slog.Int("port", sc.Port))
}

// enqueue returns a feed handler that hands updates to the relay loop.
func enqueue(updates chan<- domain.MarketUpdate) feed.Handler {
	return func(ctx context.Context, u domain.MarketUpdate) {
		select {
		case updates <- u:
		case <-ctx.Done():
		}
	}
}
