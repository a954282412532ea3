package domain

import "time"

// ProtectionPlan is a liquidation protection tier.
type ProtectionPlan string

const (
	PlanBasic    ProtectionPlan = "basic"
	PlanStandard ProtectionPlan = "standard"
	PlanPremium  ProtectionPlan = "premium"
)

// ProtectionAction is what a plan does once its threshold is crossed.
type ProtectionAction string

const (
	ActionAlert      ProtectionAction = "alert"
	ActionAddMargin  ProtectionAction = "add_margin"
	ActionForceClose ProtectionAction = "force_close"
)

// PlanTerms describes the economics and trigger of a protection plan.
type PlanTerms struct {
	Plan ProtectionPlan

	// FeePercent is charged on notional per 30 days.
	FeePercent float64

	// Threshold is the closeness-to-liquidation percentage that fires Action.
	Threshold float64
	Action    ProtectionAction

	// CollateralPercent is the share of current margin added by ActionAddMargin.
	CollateralPercent float64

	// RefundPercent is the minimum share of margin returned by ActionForceClose.
	RefundPercent float64
}

var planTerms = map[ProtectionPlan]PlanTerms{
	PlanBasic:    {Plan: PlanBasic, FeePercent: 0.5, Threshold: 80, Action: ActionAlert},
	PlanStandard: {Plan: PlanStandard, FeePercent: 1.0, Threshold: 85, Action: ActionAddMargin, CollateralPercent: 20},
	PlanPremium:  {Plan: PlanPremium, FeePercent: 2.0, Threshold: 90, Action: ActionForceClose, RefundPercent: 80},
}

// Terms returns the plan's terms and whether the plan is known.
func (p ProtectionPlan) Terms() (PlanTerms, bool) {
	t, ok := planTerms[p]
	return t, ok
}

// Valid reports whether p is a known plan.
func (p ProtectionPlan) Valid() bool {
	_, ok := planTerms[p]
	return ok
}

// Protection is the per-position protection setting.
type Protection struct {
	Enabled       bool           `json:"enabled"`
	Plan          ProtectionPlan `json:"plan"`
	EnabledAt     time.Time      `json:"enabledAt"`
	LastChargedAt time.Time      `json:"lastChargedAt"`
	FeesPaid      float64        `json:"feesPaid"`

	// Tripped is set when the plan's threshold fires and cleared when the
	// position moves back below it.
	Tripped bool `json:"tripped"`
}

// ProtectionStats aggregates protection activity for an account.
type ProtectionStats struct {
	TotalProtected      float64 `json:"totalProtected"`
	LiquidationsAvoided int     `json:"liquidationsAvoided"`
	FeesCollected       float64 `json:"feesCollected"`
}
