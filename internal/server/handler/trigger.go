package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/arenarelay/internal/domain"
)

// Poller checks a single trigger.
type Poller interface {
	PollOnce(ctx context.Context, token string) (domain.PollResult, error)
}

// TriggerHandler serves active trigger inspection.
type TriggerHandler struct {
	triggers TriggerLister
	poller   Poller
	logger   *slog.Logger
}

// NewTriggerHandler creates a TriggerHandler.
func NewTriggerHandler(triggers TriggerLister, poller Poller, logger *slog.Logger) *TriggerHandler {
	return &TriggerHandler{triggers: triggers, poller: poller, logger: logHandler(logger, "trigger")}
}

// ListTriggers returns every active trigger record, oldest first.
// GET /api/triggers
func (h *TriggerHandler) ListTriggers(w http.ResponseWriter, r *http.Request) {
	recs, err := h.triggers.List(r.Context())
	if err != nil {
		h.logger.Error("list triggers failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list triggers")
		return
	}
	if recs == nil {
		recs = []domain.TriggerRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(recs),
		"triggers": recs,
	})
}

// GetStatus polls the recipient's trigger once. A completed or timed-out
// trigger is removed as a side effect.
// GET /api/triggers/{recipient}/status
func (h *TriggerHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	recipient := strings.TrimSpace(r.PathValue("recipient"))
	if recipient == "" {
		writeError(w, http.StatusBadRequest, "recipient is required")
		return
	}

	res, err := h.poller.PollOnce(r.Context(), domain.TriggerToken(recipient))
	if err != nil {
		h.logger.Warn("poll failed",
			slog.String("recipient_id", recipient),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"result": res,
			"error":  err.Error(),
		})
		return
	}
	status := http.StatusOK
	if res.Status == domain.PollNotFound {
		status = http.StatusNotFound
	}
	writeJSON(w, status, res)
}
