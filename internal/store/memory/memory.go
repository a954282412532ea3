// Package memory implements the domain stores in process. Accounts are kept
// JSON-encoded so every Load returns an independent copy.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// AccountStore is an in-process domain.AccountStore.
type AccountStore struct {
	mu       sync.RWMutex
	accounts map[string][]byte
}

// NewAccountStore returns an empty AccountStore.
func NewAccountStore() *AccountStore {
	return &AccountStore{accounts: make(map[string][]byte)}
}

// Load returns a copy of the stored account or domain.ErrNotFound.
func (s *AccountStore) Load(_ context.Context, accountID string) (domain.AccountState, error) {
	s.mu.RLock()
	raw, ok := s.accounts[accountID]
	s.mu.RUnlock()
	if !ok {
		return domain.AccountState{}, domain.ErrNotFound
	}
	var state domain.AccountState
	if err := json.Unmarshal(raw, &state); err != nil {
		return domain.AccountState{}, fmt.Errorf("memory: decode account %s: %w", accountID, err)
	}
	return state, nil
}

// Save replaces the stored account.
func (s *AccountStore) Save(_ context.Context, state domain.AccountState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("memory: encode account %s: %w", state.ID, err)
	}
	s.mu.Lock()
	s.accounts[state.ID] = raw
	s.mu.Unlock()
	return nil
}

// ListAccounts returns the stored account ids, sorted.
func (s *AccountStore) ListAccounts(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.accounts))
	for id := range s.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// AuditStore is an in-process append-only domain.AuditStore.
type AuditStore struct {
	mu      sync.RWMutex
	entries []domain.AuditEntry
	now     func() time.Time
}

// NewAuditStore returns an empty AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{now: time.Now}
}

// Log appends an audit entry.
func (s *AuditStore) Log(_ context.Context, accountID, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        int64(len(s.entries) + 1),
		AccountID: accountID,
		Event:     event,
		Detail:    detail,
		CreatedAt: s.now().UTC(),
	})
	return nil
}

// List returns the account's entries newest first, honouring opts.
func (s *AuditStore) List(_ context.Context, accountID string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.AuditEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if accountID != "" && e.AccountID != accountID {
			continue
		}
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

var (
	_ domain.AccountStore = (*AccountStore)(nil)
	_ domain.AuditStore   = (*AuditStore)(nil)
)
