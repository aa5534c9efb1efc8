// Package engine implements the risk core: position validation and
// adjustment, interest accrual on the debit exchange rate, unsafe-position
// liquidation with its strategy fallback chain, and shutdown settlement.
//
// Every mutating operation takes a State; callers pass an Overlay and commit
// it only on success, so a failed operation leaves no partial writes behind.
package engine

import (
	"github.com/shopspring/decimal"

	"github.com/openstable/cdpcore/internal/model"
)

// Limits are the protocol-wide risk floors and guards.
type Limits struct {
	// MinimumCollateralAmount is the smallest collateral a position with no
	// outstanding debit may hold, in collateral units.
	MinimumCollateralAmount decimal.Decimal
	// MinimumDebitValue is the smallest non-zero stable-denominated debt a
	// position may carry.
	MinimumDebitValue decimal.Decimal
	// MaxSwapSlippage bounds how far below the oracle valuation a
	// liquidation sale through the swap venue may execute, as a fraction.
	MaxSwapSlippage decimal.Decimal
}

// Engine ties the risk core to its collaborators. All methods are safe for
// concurrent use as long as callers serialize access to the State they pass.
type Engine struct {
	assets   *model.AssetRegistry
	prices   PriceSource
	swap     SwapVenue
	auction  AuctionVenue
	caller   ContractCaller
	shutdown ShutdownStatus
	limits   Limits
}

// New assembles an Engine. Every collaborator is required.
func New(assets *model.AssetRegistry, prices PriceSource, swap SwapVenue, auction AuctionVenue, caller ContractCaller, shutdown ShutdownStatus, limits Limits) *Engine {
	return &Engine{
		assets:   assets,
		prices:   prices,
		swap:     swap,
		auction:  auction,
		caller:   caller,
		shutdown: shutdown,
		limits:   limits,
	}
}

// Limits returns the configured risk floors.
func (e *Engine) Limits() Limits { return e.limits }

// StableAsset returns the stable currency all debt is denominated in.
func (e *Engine) StableAsset() model.AssetID { return e.assets.StableAsset() }

// DebitValue converts a debit share amount into its stable-denominated value
// at the collateral's current debit exchange rate.
func (e *Engine) DebitValue(st State, collateral model.AssetID, debit decimal.Decimal) decimal.Decimal {
	return debit.Mul(st.ExchangeRate(collateral))
}
