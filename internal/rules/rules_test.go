package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/risk"
)

func ptr(f float64) *float64 { return &f }

func position(side domain.Side, entry, leverage float64) domain.Position {
	return domain.Position{
		ID:               "p1",
		Symbol:           "BTC/USDC",
		Side:             side,
		Size:             1,
		EntryPrice:       entry,
		Leverage:         leverage,
		LiquidationPrice: risk.LiquidationPrice(entry, leverage, side, risk.DefaultMaintenanceMarginRate),
	}
}

func TestLiquidationBoundary(t *testing.T) {
	long := position(domain.SideLong, 100, 10)
	require.InDelta(t, 90.5, long.LiquidationPrice, 1e-9)

	d, ok := First(Default(), long, long.LiquidationPrice)
	require.True(t, ok)
	assert.Equal(t, KindLiquidate, d.Kind)
	assert.Equal(t, "liquidation", d.Rule)

	_, ok = First(Default(), long, long.LiquidationPrice+0.1)
	assert.False(t, ok)

	short := position(domain.SideShort, 100, 10)
	d, ok = First(Default(), short, short.LiquidationPrice)
	require.True(t, ok)
	assert.Equal(t, KindLiquidate, d.Kind)

	_, ok = First(Default(), short, short.LiquidationPrice-0.1)
	assert.False(t, ok)
}

func TestPriorityOrder(t *testing.T) {
	// Stop-loss below the liquidation price: liquidation wins.
	pos := position(domain.SideLong, 100, 10)
	pos.StopLoss = ptr(80)
	d, ok := First(Default(), pos, 79)
	require.True(t, ok)
	assert.Equal(t, KindLiquidate, d.Kind)

	// Take-profit and stop-loss both satisfied: take-profit wins.
	pos = position(domain.SideLong, 100, 2)
	pos.TakeProfit = ptr(95)
	pos.StopLoss = ptr(96)
	d, ok = First(Default(), pos, 95)
	require.True(t, ok)
	assert.Equal(t, KindTakeProfit, d.Kind)
	assert.Equal(t, ReasonTakeProfit, d.Reason)
}

func TestTakeProfitAndStopLoss(t *testing.T) {
	tests := []struct {
		name string
		side domain.Side
		tp   *float64
		sl   *float64
		mark float64
		want Kind
		hit  bool
	}{
		{"long tp", domain.SideLong, ptr(110), nil, 110, KindTakeProfit, true},
		{"long tp not reached", domain.SideLong, ptr(110), nil, 109.9, "", false},
		{"long sl", domain.SideLong, nil, ptr(95), 95, KindStopLoss, true},
		{"short tp", domain.SideShort, ptr(90), nil, 89, KindTakeProfit, true},
		{"short sl", domain.SideShort, nil, ptr(105), 105.5, KindStopLoss, true},
		{"short sl not reached", domain.SideShort, nil, ptr(105), 104, "", false},
		{"zero levels ignored", domain.SideLong, ptr(0), ptr(0), 100, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos := position(tt.side, 100, 5)
			pos.TakeProfit = tt.tp
			pos.StopLoss = tt.sl
			d, ok := First(Default(), pos, tt.mark)
			assert.Equal(t, tt.hit, ok)
			assert.Equal(t, tt.want, d.Kind)
		})
	}
}

func TestProtectionThresholds(t *testing.T) {
	tests := []struct {
		plan   domain.ProtectionPlan
		action domain.ProtectionAction
		below  float64
		above  float64
	}{
		// Long 10x at 100: span 9.5, so closeness c sits at 100 - 9.5*c/100.
		{domain.PlanBasic, domain.ActionAlert, 92.5, 92.3},
		{domain.PlanStandard, domain.ActionAddMargin, 92.0, 91.8},
		{domain.PlanPremium, domain.ActionForceClose, 91.5, 91.3},
	}
	for _, tt := range tests {
		t.Run(string(tt.plan), func(t *testing.T) {
			pos := position(domain.SideLong, 100, 10)
			pos.Protection = &domain.Protection{Enabled: true, Plan: tt.plan}

			_, ok := First(Default(), pos, tt.below)
			assert.False(t, ok)

			d, ok := First(Default(), pos, tt.above)
			require.True(t, ok)
			assert.Equal(t, KindProtection, d.Kind)
			assert.Equal(t, tt.action, d.Action)
			assert.Equal(t, tt.plan, d.Plan)
			assert.GreaterOrEqual(t, d.Closeness, 80.0)
		})
	}
}

func TestProtectionFiresOnce(t *testing.T) {
	pos := position(domain.SideLong, 100, 10)
	pos.Protection = &domain.Protection{Enabled: true, Plan: domain.PlanBasic, Tripped: true}

	_, ok := First(Default(), pos, 91)
	assert.False(t, ok)
	assert.False(t, Rearm(pos, 91))
	assert.True(t, Rearm(pos, 99))

	pos.Protection.Enabled = false
	_, ok = First(Default(), pos, 91)
	assert.False(t, ok)
}

func TestUnavailableMarkNeverFires(t *testing.T) {
	pos := position(domain.SideShort, 100, 10)
	_, ok := First(Default(), pos, 0)
	assert.False(t, ok)
}
