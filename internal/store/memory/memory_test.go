package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

func TestAccountStoreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewAccountStore()

	_, err := s.Load(ctx, "a")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	state := domain.NewAccountState("a")
	state.Positions = append(state.Positions, domain.Position{ID: "p1", Symbol: "BTC/USDC", Size: 1})
	require.NoError(t, s.Save(ctx, state))

	state.Positions[0].Size = 99

	got, err := s.Load(ctx, "a")
	require.NoError(t, err)
	require.Len(t, got.Positions, 1)
	assert.Equal(t, 1.0, got.Positions[0].Size)

	require.NoError(t, s.Save(ctx, domain.NewAccountState("b")))
	ids, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestAuditStoreList(t *testing.T) {
	ctx := context.Background()
	s := NewAuditStore()
	require.NoError(t, s.Log(ctx, "a", "position_opened", nil))
	require.NoError(t, s.Log(ctx, "b", "position_opened", nil))
	require.NoError(t, s.Log(ctx, "a", "position_closed", nil))

	got, err := s.List(ctx, "a", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "position_closed", got[0].Event)

	got, err = s.List(ctx, "a", domain.ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "position_opened", got[0].Event)
}
