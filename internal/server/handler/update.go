package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/arenarelay/internal/domain"
	"github.com/alanyoungcy/arenarelay/internal/feed"
)

// UpdateRelay processes one market update.
type UpdateRelay interface {
	HandleUpdate(ctx context.Context, u domain.MarketUpdate) (*domain.Signal, *domain.DispatchResult)
}

// UpdateHandler ingests feed messages pushed over HTTP.
type UpdateHandler struct {
	relay  UpdateRelay
	logger *slog.Logger
}

// NewUpdateHandler creates an UpdateHandler.
func NewUpdateHandler(relay UpdateRelay, logger *slog.Logger) *UpdateHandler {
	return &UpdateHandler{relay: relay, logger: logHandler(logger, "update")}
}

type updateResponse struct {
	Accepted bool                   `json:"accepted"`
	Signal   *domain.Signal         `json:"signal,omitempty"`
	Dispatch *domain.DispatchResult `json:"dispatch,omitempty"`
}

// IngestUpdate runs one feed message through the relay. Malformed messages
// are dropped and acknowledged with accepted=false.
// POST /api/updates
func (h *UpdateHandler) IngestUpdate(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	u, ok := feed.ParseMessage(body, time.Now().UTC())
	if !ok {
		h.logger.Debug("dropping malformed update", slog.Int("bytes", len(body)))
		writeJSON(w, http.StatusAccepted, updateResponse{Accepted: false})
		return
	}

	sig, res := h.relay.HandleUpdate(r.Context(), u)
	writeJSON(w, http.StatusAccepted, updateResponse{
		Accepted: true,
		Signal:   sig,
		Dispatch: res,
	})
}
