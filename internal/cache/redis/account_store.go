package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// accountsSetKey indexes every saved account id.
const accountsSetKey = keyPrefix + "accounts"

// AccountStore implements domain.AccountStore as one Redis hash per account
// at "perpbot:account:{id}" with a JSON field per collection: positions,
// orders, history and settings.
type AccountStore struct {
	rdb *redis.Client
}

// NewAccountStore creates an AccountStore backed by the given Client.
func NewAccountStore(c *Client) *AccountStore {
	return &AccountStore{rdb: c.Underlying()}
}

func accountKey(id string) string {
	return keyPrefix + "account:" + id
}

// accountSettings is the scalar part of an account.
type accountSettings struct {
	ExecutionMode   domain.ExecutionMode   `json:"executionMode"`
	PaperBalance    float64                `json:"paperBalance"`
	ProtectionStats domain.ProtectionStats `json:"protectionStats"`
	UpdatedAt       int64                  `json:"updatedAt"`
}

// Load returns the stored account or domain.ErrNotFound.
func (s *AccountStore) Load(ctx context.Context, accountID string) (domain.AccountState, error) {
	vals, err := s.rdb.HGetAll(ctx, accountKey(accountID)).Result()
	if err != nil {
		return domain.AccountState{}, fmt.Errorf("redis: load account %s: %w", accountID, err)
	}
	if len(vals) == 0 {
		return domain.AccountState{}, domain.ErrNotFound
	}

	state := domain.NewAccountState(accountID)
	fields := map[string]any{
		"positions": &state.Positions,
		"orders":    &state.Orders,
		"history":   &state.History,
	}
	for field, dst := range fields {
		raw, ok := vals[field]
		if !ok || raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(raw), dst); err != nil {
			return domain.AccountState{}, fmt.Errorf("redis: decode account %s %s: %w", accountID, field, err)
		}
	}

	if raw, ok := vals["settings"]; ok {
		var st accountSettings
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			return domain.AccountState{}, fmt.Errorf("redis: decode account %s settings: %w", accountID, err)
		}
		state.ExecutionMode = st.ExecutionMode
		state.PaperBalance = st.PaperBalance
		state.ProtectionStats = st.ProtectionStats
		state.UpdatedAt = unixMilli(st.UpdatedAt)
	}
	return state, nil
}

// Save writes every collection of the account in one transaction.
func (s *AccountStore) Save(ctx context.Context, state domain.AccountState) error {
	positions, err := json.Marshal(state.Positions)
	if err != nil {
		return fmt.Errorf("redis: encode positions: %w", err)
	}
	orders, err := json.Marshal(state.Orders)
	if err != nil {
		return fmt.Errorf("redis: encode orders: %w", err)
	}
	history, err := json.Marshal(state.History)
	if err != nil {
		return fmt.Errorf("redis: encode history: %w", err)
	}
	settings, err := json.Marshal(accountSettings{
		ExecutionMode:   state.ExecutionMode,
		PaperBalance:    state.PaperBalance,
		ProtectionStats: state.ProtectionStats,
		UpdatedAt:       state.UpdatedAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("redis: encode settings: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, accountKey(state.ID), map[string]any{
			"positions": positions,
			"orders":    orders,
			"history":   history,
			"settings":  settings,
		})
		pipe.SAdd(ctx, accountsSetKey, state.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: save account %s: %w", state.ID, err)
	}
	return nil
}

// ListAccounts returns every saved account id, sorted.
func (s *AccountStore) ListAccounts(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, accountsSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list accounts: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

func unixMilli(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

var _ domain.AccountStore = (*AccountStore)(nil)
