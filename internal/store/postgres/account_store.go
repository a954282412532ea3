package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

var _ domain.AccountStore = (*AccountStore)(nil)

// AccountStore implements domain.AccountStore using PostgreSQL. Settings
// live in accounts; positions, orders and history live in one table each,
// ordered by seq.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates a new AccountStore backed by the given pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

// Load reads the whole account. It returns domain.ErrNotFound when the
// account has never been saved.
func (s *AccountStore) Load(ctx context.Context, accountID string) (domain.AccountState, error) {
	state := domain.AccountState{ID: accountID}
	var stats []byte

	err := s.pool.QueryRow(ctx,
		`SELECT execution_mode, paper_balance, protection_stats, updated_at FROM accounts WHERE id = $1`,
		accountID,
	).Scan(&state.ExecutionMode, &state.PaperBalance, &stats, &state.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AccountState{}, fmt.Errorf("postgres: load account %s: %w", accountID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.AccountState{}, fmt.Errorf("postgres: load account %s: %w", accountID, err)
	}
	if len(stats) > 0 {
		if err := json.Unmarshal(stats, &state.ProtectionStats); err != nil {
			return domain.AccountState{}, fmt.Errorf("postgres: decode protection stats %s: %w", accountID, err)
		}
	}

	if state.Positions, err = loadCollection[domain.Position](ctx, s.pool,
		`SELECT data FROM account_positions WHERE account_id = $1 ORDER BY seq`, accountID); err != nil {
		return domain.AccountState{}, fmt.Errorf("postgres: load positions %s: %w", accountID, err)
	}
	if state.Orders, err = loadCollection[domain.OrderIntent](ctx, s.pool,
		`SELECT data FROM account_orders WHERE account_id = $1 ORDER BY seq`, accountID); err != nil {
		return domain.AccountState{}, fmt.Errorf("postgres: load orders %s: %w", accountID, err)
	}
	if state.History, err = loadCollection[domain.TradeHistoryEntry](ctx, s.pool,
		`SELECT data FROM account_history WHERE account_id = $1 ORDER BY seq`, accountID); err != nil {
		return domain.AccountState{}, fmt.Errorf("postgres: load history %s: %w", accountID, err)
	}
	return state, nil
}

func loadCollection[T any](ctx context.Context, pool *pgxpool.Pool, query, accountID string) ([]T, error) {
	rows, err := pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Save replaces the stored account with state in one transaction.
func (s *AccountStore) Save(ctx context.Context, state domain.AccountState) error {
	stats, err := json.Marshal(state.ProtectionStats)
	if err != nil {
		return fmt.Errorf("postgres: encode protection stats %s: %w", state.ID, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin save %s: %w", state.ID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const upsert = `
		INSERT INTO accounts (id, execution_mode, paper_balance, protection_stats, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE SET
			execution_mode   = EXCLUDED.execution_mode,
			paper_balance    = EXCLUDED.paper_balance,
			protection_stats = EXCLUDED.protection_stats,
			updated_at       = NOW()`
	if _, err := tx.Exec(ctx, upsert, state.ID, string(state.ExecutionMode), state.PaperBalance, stats); err != nil {
		return fmt.Errorf("postgres: upsert account %s: %w", state.ID, err)
	}

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM account_positions WHERE account_id = $1`, state.ID)
	batch.Queue(`DELETE FROM account_orders WHERE account_id = $1`, state.ID)
	batch.Queue(`DELETE FROM account_history WHERE account_id = $1`, state.ID)
	for i, p := range state.Positions {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("postgres: encode position %s: %w", p.ID, err)
		}
		batch.Queue(`INSERT INTO account_positions (account_id, position_id, seq, symbol, side, data)
			VALUES ($1, $2, $3, $4, $5, $6)`, state.ID, p.ID, i, p.Symbol, string(p.Side), data)
	}
	for i, o := range state.Orders {
		data, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("postgres: encode order %s: %w", o.ClientOrderID, err)
		}
		batch.Queue(`INSERT INTO account_orders (account_id, seq, client_order_id, data)
			VALUES ($1, $2, $3, $4)`, state.ID, i, o.ClientOrderID, data)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: save collections %s: %w", state.ID, err)
	}

	if len(state.History) > 0 {
		rows := make([][]any, 0, len(state.History))
		for i, h := range state.History {
			data, err := json.Marshal(h)
			if err != nil {
				return fmt.Errorf("postgres: encode history %s: %w", h.ID, err)
			}
			rows = append(rows, []any{state.ID, i, h.ID, h.Symbol, h.Reason, h.CloseTime, data})
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"account_history"},
			[]string{"account_id", "seq", "position_id", "symbol", "reason", "close_time", "data"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return fmt.Errorf("postgres: copy history %s: %w", state.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit save %s: %w", state.ID, err)
	}
	return nil
}

// ListAccounts returns every saved account id.
func (s *AccountStore) ListAccounts(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list accounts: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: list accounts: %w", err)
	}
	return ids, nil
}
