package engine

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/openstable/cdpcore/internal/model"
)

// PriceSource supplies oracle prices denominated in the stable currency.
// A missing price is a normal condition (feed outage) and surfaces as
// INVALID_FEED_PRICE from the validator, never as a panic.
type PriceSource interface {
	GetPrice(asset model.AssetID) (decimal.Decimal, bool)
}

// SwapVenue is the exchange collaborator. Quotes let the engine validate a
// resulting position before committing funds; an executed swap never returns
// less than the requested minimum.
type SwapVenue interface {
	// QuoteExactSupply returns the target amount currently obtainable for
	// supplyAmount, without executing.
	QuoteExactSupply(supply, target model.AssetID, supplyAmount decimal.Decimal) (decimal.Decimal, error)
	// SwapExactSupply trades exactly supplyAmount and fails if the output
	// would be below minTarget. Returns (supplied, received).
	SwapExactSupply(supply, target model.AssetID, supplyAmount, minTarget decimal.Decimal) (decimal.Decimal, decimal.Decimal, error)
	// SwapExactTarget trades as little supply as possible to receive exactly
	// targetAmount, bounded by maxSupply. Returns (supplied, received).
	SwapExactTarget(supply, target model.AssetID, maxSupply, targetAmount decimal.Decimal) (decimal.Decimal, decimal.Decimal, error)
	// RemoveLiquidity decomposes an LP-share amount into its constituents.
	RemoveLiquidity(share model.AssetID, amount decimal.Decimal) ([]AssetLot, error)
}

// AssetLot is a (asset, amount) pair produced by LP-share decomposition.
type AssetLot struct {
	Asset  model.AssetID
	Amount decimal.Decimal
}

// AuctionVenue receives collateral the swap path could not absorb.
type AuctionVenue interface {
	CreateCollateralAuction(owner string, collateral model.AssetID, amount, target decimal.Decimal) error
}

// ContractCaller invokes a registered external liquidation contract. The
// repayment is the stable value the contract pays for the collateral; a
// repayment below minRepayment must be reported as an error.
type ContractCaller interface {
	Liquidate(ctx context.Context, endpoint string, collateral model.AssetID, amount, minRepayment decimal.Decimal) (decimal.Decimal, error)
}

// ShutdownStatus exposes the global shutdown flag.
type ShutdownStatus interface {
	IsShutdown() bool
}
