package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arenarelay/internal/domain"
)

// SignalRelay dispatches an externally supplied signal.
type SignalRelay interface {
	HandleSignal(ctx context.Context, sig domain.Signal, recipients []string) domain.DispatchResult
}

// SignalHandler serves manual signal dispatch.
type SignalHandler struct {
	relay  SignalRelay
	logger *slog.Logger
}

// NewSignalHandler creates a SignalHandler.
func NewSignalHandler(relay SignalRelay, logger *slog.Logger) *SignalHandler {
	return &SignalHandler{relay: relay, logger: logHandler(logger, "signal")}
}

type triggerSignalRequest struct {
	Signal     domain.Signal `json:"signal"`
	Recipients []string      `json:"recipients,omitempty"`
}

// TriggerSignal dispatches the posted signal. Without recipients the ticker's
// holders are used. Per-recipient failures are reported in the body, not as
// an HTTP error.
// POST /api/signals/trigger
func (h *SignalHandler) TriggerSignal(w http.ResponseWriter, r *http.Request) {
	var req triggerSignalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sig := req.Signal
	sig.Ticker = strings.TrimSpace(sig.Ticker)
	if err := sig.Validate(); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	if sig.DetectedAt.IsZero() {
		sig.DetectedAt = time.Now().UTC()
	}

	res := h.relay.HandleSignal(r.Context(), sig, req.Recipients)
	h.logger.Info("manual signal dispatched",
		slog.String("signal_id", sig.ID),
		slog.String("ticker", sig.Ticker),
		slog.Int("started", res.Started),
		slog.Int("failed", res.Failed),
	)
	writeJSON(w, http.StatusOK, res)
}
