package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/metrics"
)

// effect is a side effect emitted after a mutation has been saved.
type effect struct {
	event  string
	detail map[string]any

	// title and message are sent to the notifier when title is set.
	title   string
	message string
}

// txn is one serialized mutation of an account aggregate.
type txn struct {
	state   *domain.AccountState
	now     time.Time
	effects []effect
	evicted []domain.TradeHistoryEntry
	dirty   bool
}

func (t *txn) emit(event string, detail map[string]any) {
	t.effects = append(t.effects, effect{event: event, detail: detail})
	t.dirty = true
}

func (t *txn) notify(event string, detail map[string]any, title, message string) {
	t.effects = append(t.effects, effect{event: event, detail: detail, title: title, message: message})
	t.dirty = true
}

// accountLocks hands out one mutex per account.
type accountLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (a *accountLocks) get(id string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.locks == nil {
		a.locks = make(map[string]*sync.Mutex)
	}
	m, ok := a.locks[id]
	if !ok {
		m = &sync.Mutex{}
		a.locks[id] = m
	}
	return m
}

// mutate runs fn against a freshly loaded copy of the account while holding
// the account's lock. The state is saved only when fn succeeds and marks the
// transaction dirty; side effects run after the save.
func (s *PositionService) mutate(ctx context.Context, accountID string, fn func(tx *txn) error) error {
	if accountID == "" {
		accountID = s.cfg.DefaultAccount
	}

	local := s.locks.get(accountID)
	local.Lock()
	defer local.Unlock()

	if s.lockMgr != nil {
		unlock, err := s.lockMgr.Acquire(ctx, "account:"+accountID, s.cfg.LockTTL)
		if err != nil {
			return fmt.Errorf("position_service: lock account %q: %w", accountID, err)
		}
		defer unlock()
	}

	state, err := s.load(ctx, accountID)
	if err != nil {
		return err
	}

	tx := &txn{state: &state, now: s.now().UTC()}
	if err := fn(tx); err != nil {
		return err
	}
	if !tx.dirty {
		return nil
	}

	state.UpdatedAt = tx.now
	if err := s.accounts.Save(ctx, state); err != nil {
		return fmt.Errorf("position_service: save account %q: %w", accountID, err)
	}
	metrics.OpenPositions.WithLabelValues(accountID).Set(float64(len(state.Positions)))

	s.flush(ctx, accountID, tx)
	return nil
}

// view loads the account under its local lock without saving.
func (s *PositionService) view(ctx context.Context, accountID string) (domain.AccountState, error) {
	if accountID == "" {
		accountID = s.cfg.DefaultAccount
	}
	local := s.locks.get(accountID)
	local.Lock()
	defer local.Unlock()
	return s.load(ctx, accountID)
}

func (s *PositionService) load(ctx context.Context, accountID string) (domain.AccountState, error) {
	state, err := s.accounts.Load(ctx, accountID)
	if errors.Is(err, domain.ErrNotFound) {
		state = domain.NewAccountState(accountID)
		state.PaperBalance = s.cfg.InitialBalance
		state.ExecutionMode = s.cfg.DefaultMode
		return state, nil
	}
	if err != nil {
		return domain.AccountState{}, fmt.Errorf("position_service: load account %q: %w", accountID, err)
	}
	if state.Positions == nil {
		state.Positions = []domain.Position{}
	}
	if state.History == nil {
		state.History = []domain.TradeHistoryEntry{}
	}
	if state.Orders == nil {
		state.Orders = []domain.OrderIntent{}
	}
	return state, nil
}

// flush publishes events, writes audit rows, sends notifications and
// archives evicted history. Failures are logged and never surface.
func (s *PositionService) flush(ctx context.Context, accountID string, tx *txn) {
	for _, e := range tx.effects {
		payload := make(map[string]any, len(e.detail)+2)
		for k, v := range e.detail {
			payload[k] = v
		}
		payload["event"] = e.event
		payload["account"] = accountID

		evt, _ := json.Marshal(payload)
		if pubErr := s.bus.Publish(ctx, "positions", evt); pubErr != nil {
			s.logger.WarnContext(ctx, "position_service: publish event failed",
				slog.String("event", e.event),
				slog.String("account", accountID),
				slog.String("error", pubErr.Error()),
			)
		}

		if s.audit != nil {
			if auditErr := s.audit.Log(ctx, accountID, e.event, e.detail); auditErr != nil {
				s.logger.WarnContext(ctx, "position_service: audit log failed",
					slog.String("event", e.event),
					slog.String("account", accountID),
					slog.String("error", auditErr.Error()),
				)
			}
		}

		if e.title != "" && s.alerts != nil {
			if nErr := s.alerts.Notify(ctx, e.event, e.title, e.message); nErr != nil {
				s.logger.WarnContext(ctx, "position_service: notify failed",
					slog.String("event", e.event),
					slog.String("error", nErr.Error()),
				)
			}
		}
	}

	if len(tx.evicted) > 0 && s.archiver != nil {
		if err := s.archiver.ArchiveHistory(ctx, accountID, tx.evicted); err != nil {
			s.logger.WarnContext(ctx, "position_service: archive evicted history failed",
				slog.String("account", accountID),
				slog.Int("entries", len(tx.evicted)),
				slog.String("error", err.Error()),
			)
		}
	}
}

// pushHistory prepends entry and evicts the oldest entries beyond the limit.
func (s *PositionService) pushHistory(tx *txn, entry domain.TradeHistoryEntry) {
	h := make([]domain.TradeHistoryEntry, 0, len(tx.state.History)+1)
	h = append(h, entry)
	h = append(h, tx.state.History...)
	if len(h) > s.cfg.HistoryLimit {
		tx.evicted = append(tx.evicted, h[s.cfg.HistoryLimit:]...)
		h = h[:s.cfg.HistoryLimit]
	}
	tx.state.History = h
}

func findPosition(state *domain.AccountState, id string) int {
	for i := range state.Positions {
		if state.Positions[i].ID == id {
			return i
		}
	}
	return -1
}

func removePosition(state *domain.AccountState, idx int) {
	state.Positions = append(state.Positions[:idx], state.Positions[idx+1:]...)
}
