package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/arenarelay/internal/domain"
	"github.com/alanyoungcy/arenarelay/internal/relay"
)

// FeedState reports the upstream feed connection.
type FeedState interface {
	Connected() bool
	Stats() (received, dropped int64)
}

// TriggerLister lists active trigger records.
type TriggerLister interface {
	List(ctx context.Context) ([]domain.TriggerRecord, error)
}

// StatsSource reports relay counters.
type StatsSource interface {
	Stats() relay.Stats
}

// StatusHandler serves the relay status for operators.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	feed      FeedState // nil in server mode
	triggers  TriggerLister
	stats     StatsSource
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler. feed may be nil.
func NewStatusHandler(mode string, startedAt time.Time, feed FeedState, triggers TriggerLister, stats StatsSource, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		mode:      mode,
		startedAt: startedAt,
		feed:      feed,
		triggers:  triggers,
		stats:     stats,
		logger:    logHandler(logger, "status"),
	}
}

type feedStatus struct {
	Enabled   bool  `json:"enabled"`
	Connected bool  `json:"connected"`
	Received  int64 `json:"received"`
	Dropped   int64 `json:"dropped"`
}

type statusResponse struct {
	Mode           string      `json:"mode"`
	UptimeSeconds  int64       `json:"uptime_seconds"`
	Feed           feedStatus  `json:"feed"`
	ActiveTriggers int         `json:"active_triggers"`
	Relay          relay.Stats `json:"relay"`
}

// GetStatus responds with mode, feed state and the active trigger count.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Mode:          h.mode,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	}
	if h.feed != nil {
		resp.Feed.Enabled = true
		resp.Feed.Connected = h.feed.Connected()
		resp.Feed.Received, resp.Feed.Dropped = h.feed.Stats()
	}
	if h.stats != nil {
		resp.Relay = h.stats.Stats()
	}

	recs, err := h.triggers.List(r.Context())
	if err != nil {
		h.logger.Error("list triggers failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list triggers")
		return
	}
	resp.ActiveTriggers = len(recs)

	writeJSON(w, http.StatusOK, resp)
}
