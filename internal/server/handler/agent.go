package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/arenarelay/internal/domain"
)

// PositionWriter records agent holdings.
type PositionWriter interface {
	Upsert(ctx context.Context, agentID, ticker, side string, quantity float64) error
}

// DecisionWriter records agent workflow results.
type DecisionWriter interface {
	Record(ctx context.Context, agentID, ticker, action, reasoning string) error
}

// AgentHandler accepts position and decision reports from agents and exposes
// the audit log. It is only registered when PostgreSQL is enabled.
type AgentHandler struct {
	positions PositionWriter
	decisions DecisionWriter
	audit     domain.AuditStore
	logger    *slog.Logger
}

// NewAgentHandler creates an AgentHandler.
func NewAgentHandler(positions PositionWriter, decisions DecisionWriter, audit domain.AuditStore, logger *slog.Logger) *AgentHandler {
	return &AgentHandler{
		positions: positions,
		decisions: decisions,
		audit:     audit,
		logger:    logHandler(logger, "agent"),
	}
}

type positionRequest struct {
	AgentID  string  `json:"agent_id"`
	Ticker   string  `json:"ticker"`
	Side     string  `json:"side"`
	Quantity float64 `json:"quantity"`
}

// UpsertPosition stores an agent's holding. A zero quantity closes it.
// PUT /api/positions
func (h *AgentHandler) UpsertPosition(w http.ResponseWriter, r *http.Request) {
	var req positionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.AgentID = strings.TrimSpace(req.AgentID)
	req.Ticker = strings.ToUpper(strings.TrimSpace(req.Ticker))
	req.Side = strings.ToLower(strings.TrimSpace(req.Side))
	if req.AgentID == "" || req.Ticker == "" {
		writeError(w, http.StatusBadRequest, "agent_id and ticker are required")
		return
	}
	if req.Side != "yes" && req.Side != "no" {
		writeError(w, http.StatusBadRequest, "side must be yes or no")
		return
	}
	if req.Quantity < 0 {
		writeError(w, http.StatusBadRequest, "quantity must be >= 0")
		return
	}

	if err := h.positions.Upsert(r.Context(), req.AgentID, req.Ticker, req.Side, req.Quantity); err != nil {
		h.logger.Error("upsert position failed",
			slog.String("agent_id", req.AgentID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to store position")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type decisionRequest struct {
	AgentID   string `json:"agent_id"`
	Ticker    string `json:"ticker"`
	Action    string `json:"action"`
	Reasoning string `json:"reasoning"`
}

// RecordDecision stores a workflow result. The completion poller treats any
// decision newer than the trigger as completion.
// POST /api/decisions
func (h *AgentHandler) RecordDecision(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.AgentID = strings.TrimSpace(req.AgentID)
	if req.AgentID == "" || strings.TrimSpace(req.Action) == "" {
		writeError(w, http.StatusBadRequest, "agent_id and action are required")
		return
	}

	if err := h.decisions.Record(r.Context(), req.AgentID, strings.ToUpper(strings.TrimSpace(req.Ticker)), req.Action, req.Reasoning); err != nil {
		h.logger.Error("record decision failed",
			slog.String("agent_id", req.AgentID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to store decision")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}

// ListAudit returns audit log entries, newest first.
// GET /api/audit
func (h *AgentHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := h.audit.List(r.Context(), opts)
	if err != nil {
		h.logger.Error("list audit failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(entries),
		"entries": entries,
	})
}
