package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// PositionService defines the ledger methods the position handler requires.
type PositionService interface {
	Positions(ctx context.Context, accountID string) ([]domain.Position, error)
	ClosePosition(ctx context.Context, accountID, positionID, reason string) (domain.CloseResult, error)
	SetProtection(ctx context.Context, accountID, positionID string, enabled bool, plan domain.ProtectionPlan) (domain.Position, error)
	UpgradeProtectionPlan(ctx context.Context, accountID, positionID string, plan domain.ProtectionPlan) (domain.Position, error)
	EnableAllProtection(ctx context.Context, accountID string, plan domain.ProtectionPlan) (int, error)
	DisableAllProtection(ctx context.Context, accountID string) (int, error)
	ProtectedPositions(ctx context.Context, accountID string) ([]domain.Position, error)
}

// PositionHandler serves position and protection endpoints.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given service and logger.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{positions: positions, logger: logger}
}

type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns the open positions of an account.
// GET /api/accounts/{account}/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.positions.Positions(r.Context(), accountParam(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list positions", err)
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

type closeRequest struct {
	Reason string `json:"reason"`
}

// ClosePosition closes a position at the current mark.
// POST /api/accounts/{account}/positions/{id}/close
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	res, err := h.positions.ClosePosition(r.Context(), accountParam(r), r.PathValue("id"), req.Reason)
	if err != nil {
		writeServiceError(w, r, h.logger, "close position", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type protectionRequest struct {
	Enabled bool                  `json:"enabled"`
	Plan    domain.ProtectionPlan `json:"plan"`
}

// SetProtection enables or disables protection on one position.
// PUT /api/accounts/{account}/positions/{id}/protection
func (h *PositionHandler) SetProtection(w http.ResponseWriter, r *http.Request) {
	var req protectionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	pos, err := h.positions.SetProtection(r.Context(), accountParam(r), r.PathValue("id"), req.Enabled, req.Plan)
	if err != nil {
		writeServiceError(w, r, h.logger, "set protection", err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

type planRequest struct {
	Plan domain.ProtectionPlan `json:"plan"`
}

// UpgradeProtection switches the plan of a protected position.
// POST /api/accounts/{account}/positions/{id}/protection/upgrade
func (h *PositionHandler) UpgradeProtection(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	pos, err := h.positions.UpgradeProtectionPlan(r.Context(), accountParam(r), r.PathValue("id"), req.Plan)
	if err != nil {
		writeServiceError(w, r, h.logger, "upgrade protection", err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// EnableAll protects every open position with one plan.
// POST /api/accounts/{account}/protection/enable
func (h *PositionHandler) EnableAll(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	n, err := h.positions.EnableAllProtection(r.Context(), accountParam(r), req.Plan)
	if err != nil {
		writeServiceError(w, r, h.logger, "enable protection", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": n, "plan": req.Plan})
}

// DisableAll removes protection from every open position.
// POST /api/accounts/{account}/protection/disable
func (h *PositionHandler) DisableAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.positions.DisableAllProtection(r.Context(), accountParam(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "disable protection", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": n})
}

// ListProtected returns the positions with protection enabled.
// GET /api/accounts/{account}/protection
func (h *PositionHandler) ListProtected(w http.ResponseWriter, r *http.Request) {
	positions, err := h.positions.ProtectedPositions(r.Context(), accountParam(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list protected", err)
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}
