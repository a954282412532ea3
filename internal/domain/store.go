package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AccountStore persists account state. Load returns ErrNotFound for an
// account that has never been saved.
type AccountStore interface {
	Load(ctx context.Context, accountID string) (AccountState, error)
	Save(ctx context.Context, state AccountState) error
	ListAccounts(ctx context.Context) ([]string, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	AccountID string
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, accountID, event string, detail map[string]any) error
	List(ctx context.Context, accountID string, opts ListOpts) ([]AuditEntry, error)
}
