package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// Positions returns the open positions of an account.
func (s *PositionService) Positions(ctx context.Context, accountID string) ([]domain.Position, error) {
	state, err := s.view(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return state.Positions, nil
}

// Position returns one open position.
func (s *PositionService) Position(ctx context.Context, accountID, positionID string) (domain.Position, error) {
	state, err := s.view(ctx, accountID)
	if err != nil {
		return domain.Position{}, err
	}
	idx := findPosition(&state, positionID)
	if idx < 0 {
		return domain.Position{}, fmt.Errorf("position_service: get %q: %w", positionID, domain.ErrPositionNotFound)
	}
	return state.Positions[idx], nil
}

// History returns the closed trades of an account, newest first.
func (s *PositionService) History(ctx context.Context, accountID string) ([]domain.TradeHistoryEntry, error) {
	state, err := s.view(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return state.History, nil
}

// Account returns the full account aggregate.
func (s *PositionService) Account(ctx context.Context, accountID string) (domain.AccountState, error) {
	return s.view(ctx, accountID)
}

// Accounts lists every persisted account.
func (s *PositionService) Accounts(ctx context.Context) ([]string, error) {
	ids, err := s.accounts.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("position_service: list accounts: %w", err)
	}
	return ids, nil
}

// Summary returns balance, margin and equity figures for an account.
func (s *PositionService) Summary(ctx context.Context, accountID string) (domain.AccountSummary, error) {
	state, err := s.view(ctx, accountID)
	if err != nil {
		return domain.AccountSummary{}, err
	}
	return Summarize(state), nil
}

// Summarize computes the account summary from a state snapshot.
func Summarize(state domain.AccountState) domain.AccountSummary {
	sum := domain.AccountSummary{
		ID:               state.ID,
		ExecutionMode:    state.ExecutionMode,
		PaperBalance:     state.PaperBalance,
		AvailableBalance: state.PaperBalance,
		OpenPositions:    len(state.Positions),
		ProtectionStats:  state.ProtectionStats,
	}
	for _, p := range state.Positions {
		sum.TotalMargin += p.Margin
		sum.TotalUnrealizedPnl += p.UnrealizedPnl
	}
	sum.Equity = state.PaperBalance + sum.TotalMargin + sum.TotalUnrealizedPnl
	return sum
}

// SetExecutionMode changes how future orders for the account are filled.
func (s *PositionService) SetExecutionMode(ctx context.Context, accountID string, mode domain.ExecutionMode) error {
	if !mode.Valid() {
		return fmt.Errorf("position_service: set mode %q: %w", mode, domain.ErrInvalidMode)
	}
	err := s.mutate(ctx, accountID, func(tx *txn) error {
		prev := tx.state.ExecutionMode
		tx.state.ExecutionMode = mode
		tx.emit("execution_mode_changed", map[string]any{
			"from": string(prev),
			"to":   string(mode),
		})
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "position_service: execution mode changed",
		slog.String("account", accountID),
		slog.String("mode", string(mode)),
	)
	return nil
}
