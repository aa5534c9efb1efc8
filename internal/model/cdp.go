package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is one account's collateralized debt position for one collateral
// type. Debit is denominated in internal debt units; its stable value is
// debit * the collateral's debit exchange rate.
type Position struct {
	Owner      string          `json:"owner"`
	Collateral decimal.Decimal `json:"collateral"`
	Debit      decimal.Decimal `json:"debit"`
}

func (p Position) IsZero() bool {
	return p.Collateral.IsZero() && p.Debit.IsZero()
}

// RiskParams are the governance-controlled limits for one collateral type.
// nil pointer fields mean "not set"; a missing RiskParams entry altogether
// means the collateral type is not enabled.
type RiskParams struct {
	InterestRatePerSec      *decimal.Decimal `json:"interest_rate_per_sec,omitempty"`
	LiquidationRatio        *decimal.Decimal `json:"liquidation_ratio,omitempty"`
	LiquidationPenalty      *decimal.Decimal `json:"liquidation_penalty,omitempty"`
	RequiredCollateralRatio *decimal.Decimal `json:"required_collateral_ratio,omitempty"`
	MaxTotalDebitValue      decimal.Decimal  `json:"max_total_debit_value"`
}

func (p RiskParams) Clone() RiskParams {
	out := RiskParams{MaxTotalDebitValue: p.MaxTotalDebitValue}
	cp := func(d *decimal.Decimal) *decimal.Decimal {
		if d == nil {
			return nil
		}
		v := *d
		return &v
	}
	out.InterestRatePerSec = cp(p.InterestRatePerSec)
	out.LiquidationRatio = cp(p.LiquidationRatio)
	out.LiquidationPenalty = cp(p.LiquidationPenalty)
	out.RequiredCollateralRatio = cp(p.RequiredCollateralRatio)
	return out
}

// Change models a single field of a governance update: leave the stored value
// untouched, or replace it (replacing an optional field with nil clears it).
type Change[T any] struct {
	Set   bool
	Value T
}

func NoChange[T any]() Change[T] {
	return Change[T]{}
}

func NewValue[T any](v T) Change[T] {
	return Change[T]{Set: true, Value: v}
}

// ParamsUpdate carries one governance mutation of RiskParams. Every field is
// independent so an update can set, clear, or skip each one.
type ParamsUpdate struct {
	InterestRatePerSec      Change[*decimal.Decimal]
	LiquidationRatio        Change[*decimal.Decimal]
	LiquidationPenalty      Change[*decimal.Decimal]
	RequiredCollateralRatio Change[*decimal.Decimal]
	MaxTotalDebitValue      Change[decimal.Decimal]
}

// StatusKind is the outcome of a position health check.
type StatusKind int

const (
	StatusSafe StatusKind = iota
	StatusUnsafe
	StatusChecksFailed
)

func (k StatusKind) String() string {
	switch k {
	case StatusSafe:
		return "safe"
	case StatusUnsafe:
		return "unsafe"
	default:
		return "checks_failed"
	}
}

// Status pairs the outcome with the failure reason when checks could not run
// (e.g. the price feed has no price for the collateral).
type Status struct {
	Kind   StatusKind
	Reason string
}

// LiquidationRecord is the result record emitted after a liquidation or a
// forced settlement completes.
type LiquidationRecord struct {
	ID             string          `json:"id" gorm:"primaryKey"`
	CollateralType string          `json:"collateral_type" gorm:"index"`
	Owner          string          `json:"owner" gorm:"index"`
	Collateral     decimal.Decimal `json:"collateral_amount" gorm:"type:numeric"`
	BadDebtValue   decimal.Decimal `json:"bad_debt_value" gorm:"type:numeric"`
	TargetAmount   decimal.Decimal `json:"target_amount" gorm:"type:numeric"`
	RaisedAmount   decimal.Decimal `json:"raised_amount" gorm:"type:numeric"`
	Strategy       string          `json:"strategy"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Strategies recorded on LiquidationRecord.Strategy.
const (
	StrategyContract   = "contract"
	StrategySwap       = "swap"
	StrategyAuction    = "auction"
	StrategySettlement = "settlement"
	StrategyMixed      = "mixed"
)
