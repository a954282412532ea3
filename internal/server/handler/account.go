package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// AccountService defines the ledger methods the account handler requires.
type AccountService interface {
	Summary(ctx context.Context, accountID string) (domain.AccountSummary, error)
	SetExecutionMode(ctx context.Context, accountID string, mode domain.ExecutionMode) error
	History(ctx context.Context, accountID string) ([]domain.TradeHistoryEntry, error)
}

// HistoryArchive reads history entries that were moved to cold storage.
type HistoryArchive interface {
	ArchivedHistory(ctx context.Context, accountID string) ([]domain.TradeHistoryEntry, error)
}

// AccountHandler serves account summaries, execution mode and history.
type AccountHandler struct {
	accounts AccountService
	archive  HistoryArchive
	logger   *slog.Logger
}

// NewAccountHandler creates an AccountHandler. archive may be nil.
func NewAccountHandler(accounts AccountService, archive HistoryArchive, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, archive: archive, logger: logger}
}

// GetAccount returns balance, margin, available, unrealized PnL, mode and
// protection stats.
// GET /api/accounts/{account}
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	summary, err := h.accounts.Summary(r.Context(), accountParam(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "get account", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type setModeRequest struct {
	Mode domain.ExecutionMode `json:"mode"`
}

// SetMode changes how future orders are filled.
// PUT /api/accounts/{account}/mode
func (h *AccountHandler) SetMode(w http.ResponseWriter, r *http.Request) {
	var req setModeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.accounts.SetExecutionMode(r.Context(), accountParam(r), req.Mode); err != nil {
		writeServiceError(w, r, h.logger, "set mode", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mode": req.Mode})
}

// History returns closed trades, newest first. With ?archived=true the
// entries evicted to cold storage are returned instead.
// GET /api/accounts/{account}/history
func (h *AccountHandler) History(w http.ResponseWriter, r *http.Request) {
	var (
		entries []domain.TradeHistoryEntry
		err     error
	)
	if r.URL.Query().Get("archived") == "true" {
		if h.archive == nil {
			writeError(w, http.StatusNotFound, "history archive not configured")
			return
		}
		entries, err = h.archive.ArchivedHistory(r.Context(), accountParam(r))
	} else {
		entries, err = h.accounts.History(r.Context(), accountParam(r))
	}
	if err != nil {
		writeServiceError(w, r, h.logger, "list history", err)
		return
	}
	if entries == nil {
		entries = []domain.TradeHistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}
