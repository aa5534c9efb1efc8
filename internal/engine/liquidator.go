package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openstable/cdpcore/internal/model"
	"github.com/openstable/cdpcore/internal/pkg/apperrors"
	"github.com/openstable/cdpcore/internal/pkg/logger"
)

// LiquidateUnsafeCDP confiscates an unsafe position and raises the
// liquidation target through the ordered strategy chain: registered
// liquidation contracts, then the swap venue bounded by the slippage guard,
// then a collateral auction for whatever remains. Confiscation zeroes the
// position first, so a racing second call fails MustBeUnsafe.
func (e *Engine) LiquidateUnsafeCDP(ctx context.Context, st State, owner string, collateral model.AssetID) (*model.LiquidationRecord, error) {
	return e.liquidate(ctx, st, owner, collateral, false)
}

// LiquidateViaContracts is the contract-only variant: no swap or auction
// fallback. If no registered contract raises the full target the whole
// operation fails with LiquidationFailed and nothing is confiscated.
func (e *Engine) LiquidateViaContracts(ctx context.Context, st State, owner string, collateral model.AssetID) (*model.LiquidationRecord, error) {
	return e.liquidate(ctx, st, owner, collateral, true)
}

func (e *Engine) liquidate(ctx context.Context, st State, owner string, collateral model.AssetID, contractsOnly bool) (*model.LiquidationRecord, error) {
	if e.shutdown.IsShutdown() {
		return nil, apperrors.New(apperrors.ErrAlreadyShutdown, "liquidation is disabled after shutdown, settle instead", nil)
	}
	params, ok := st.Params(collateral)
	if !ok {
		return nil, apperrors.New(apperrors.ErrInvalidCollateralType, "unknown collateral type "+string(collateral), nil)
	}
	pos := st.Position(collateral, owner)
	switch status := e.CheckCDPStatus(st, collateral, pos.Collateral, pos.Debit); status.Kind {
	case model.StatusChecksFailed:
		return nil, checksFailedErr(status.Reason)
	case model.StatusSafe:
		return nil, apperrors.New(apperrors.ErrMustBeUnsafe, "position is not below the liquidation ratio", nil)
	}

	// Confiscate. From here on the position is zero; a concurrent retry
	// re-fails the safety check above.
	badDebt := pos.Debit.Mul(st.ExchangeRate(collateral))
	penalty := decimal.Zero
	if params.LiquidationPenalty != nil {
		penalty = *params.LiquidationPenalty
	}
	target := badDebt.Mul(decimal.New(1, 0).Add(penalty)).RoundCeil(ratioScale)

	st.PutPosition(collateral, owner, model.Position{Owner: owner, Collateral: decimal.Zero, Debit: decimal.Zero})
	st.PutTotalDebit(collateral, st.TotalDebit(collateral).Sub(pos.Debit))
	st.PutDebtPool(st.DebtPool().Add(badDebt))
	if err := releasePool(st, collateral, pos.Collateral); err != nil {
		return nil, err
	}

	// A pool-share collateral is broken into its constituents before any
	// strategy runs; the stable constituent counts toward the target as is.
	lots := []AssetLot{{Asset: collateral, Amount: pos.Collateral}}
	if collateral.IsLPShare() {
		parts, err := e.swap.RemoveLiquidity(collateral, pos.Collateral)
		if err != nil {
			return nil, apperrors.New(apperrors.ErrCannotSwap, "could not decompose pool share "+string(collateral), err)
		}
		lots = parts
	}

	raised := decimal.Zero
	used := make(map[string]bool)
	stable := e.StableAsset()
	for _, lot := range lots {
		if !lot.Amount.IsPositive() {
			continue
		}
		if lot.Asset == stable {
			raised = raised.Add(lot.Amount)
			continue
		}
		remaining := target.Sub(raised)
		if !remaining.IsPositive() {
			// Target already met, the rest goes back to the owner.
			st.PutBalance(owner, lot.Asset, st.Balance(owner, lot.Asset).Add(lot.Amount))
			continue
		}

		if repay, ok := e.tryContracts(ctx, st, lot.Asset, lot.Amount, remaining); ok {
			raised = raised.Add(repay)
			used[model.StrategyContract] = true
			continue
		}
		if contractsOnly {
			continue
		}
		if sold, got, ok := e.trySwap(lot.Asset, lot.Amount, remaining); ok {
			raised = raised.Add(got)
			used[model.StrategySwap] = true
			if leftover := lot.Amount.Sub(sold); leftover.IsPositive() {
				st.PutBalance(owner, lot.Asset, st.Balance(owner, lot.Asset).Add(leftover))
			}
			continue
		}
		if err := e.auction.CreateCollateralAuction(owner, lot.Asset, lot.Amount, remaining); err != nil {
			return nil, apperrors.New(apperrors.ErrUpstream, "auction venue rejected the collateral auction", err)
		}
		used[model.StrategyAuction] = true
	}

	if contractsOnly && raised.LessThan(target) {
		return nil, apperrors.New(apperrors.ErrLiquidationFailed,
			"no registered contract raised the liquidation target", nil)
	}
	if raised.IsPositive() {
		st.PutSurplusPool(st.SurplusPool().Add(raised))
	}

	return &model.LiquidationRecord{
		ID:             uuid.NewString(),
		CollateralType: string(collateral),
		Owner:          owner,
		Collateral:     pos.Collateral,
		BadDebtValue:   badDebt,
		TargetAmount:   target,
		RaisedAmount:   raised,
		Strategy:       strategyLabel(used),
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// tryContracts walks the registry in order and accepts the first contract
// whose repayment meets the minimum bound. Rejections and call failures are
// strategy-local; they only move on to the next endpoint.
func (e *Engine) tryContracts(ctx context.Context, st State, asset model.AssetID, amount, minRepay decimal.Decimal) (decimal.Decimal, bool) {
	for _, endpoint := range st.Contracts() {
		repay, err := e.caller.Liquidate(ctx, endpoint, asset, amount, minRepay)
		if err != nil {
			logger.Get().Warn("liquidation contract call failed",
				"endpoint", endpoint, "collateral", string(asset), "error", err)
			continue
		}
		if repay.LessThan(minRepay) {
			continue
		}
		return repay, true
	}
	return decimal.Zero, false
}

// trySwap sells just enough of the lot to raise remaining, refusing to trade
// when the venue's quote for the lot falls below the oracle valuation by
// more than the slippage bound. The quote precheck uses the whole lot; a
// smaller exact-target sale only executes at a better average price.
func (e *Engine) trySwap(asset model.AssetID, amount, remaining decimal.Decimal) (sold, got decimal.Decimal, ok bool) {
	price, okP := e.prices.GetPrice(asset)
	if !okP || !price.IsPositive() {
		return decimal.Zero, decimal.Zero, false
	}
	quote, err := e.swap.QuoteExactSupply(asset, e.StableAsset(), amount)
	if err != nil {
		return decimal.Zero, decimal.Zero, false
	}
	floor := price.Mul(decimal.New(1, 0).Sub(e.limits.MaxSwapSlippage)).Mul(amount)
	if quote.LessThan(floor) {
		return decimal.Zero, decimal.Zero, false
	}
	supplied, received, err := e.swap.SwapExactTarget(asset, e.StableAsset(), amount, remaining)
	if err != nil {
		return decimal.Zero, decimal.Zero, false
	}
	return supplied, received, true
}

func strategyLabel(used map[string]bool) string {
	if len(used) > 1 {
		return model.StrategyMixed
	}
	for s := range used {
		return s
	}
	// Nothing was needed, e.g. a stable LP constituent covered the target.
	return model.StrategySwap
}

// SettleCDPHasDebit force-settles a position after shutdown: the collateral
// moves to the treasury and the debt value is written off into the bad-debt
// pool. No venue is involved.
func (e *Engine) SettleCDPHasDebit(st State, owner string, collateral model.AssetID) (*model.LiquidationRecord, error) {
	if !e.shutdown.IsShutdown() {
		return nil, apperrors.New(apperrors.ErrMustAfterShutdown, "settlement requires the shutdown flag", nil)
	}
	return e.settle(st, owner, collateral)
}

// ForceSettleCDP is the ungated variant used for operator-triggered cleanups
// before shutdown.
func (e *Engine) ForceSettleCDP(st State, owner string, collateral model.AssetID) (*model.LiquidationRecord, error) {
	return e.settle(st, owner, collateral)
}

func (e *Engine) settle(st State, owner string, collateral model.AssetID) (*model.LiquidationRecord, error) {
	if _, ok := st.Params(collateral); !ok {
		return nil, apperrors.New(apperrors.ErrInvalidCollateralType, "unknown collateral type "+string(collateral), nil)
	}
	pos := st.Position(collateral, owner)
	if pos.Debit.IsZero() {
		return nil, apperrors.New(apperrors.ErrNoDebitValue, "position has no outstanding debit", nil)
	}

	badDebt := pos.Debit.Mul(st.ExchangeRate(collateral))
	if err := transfer(st, ModuleAccount, TreasuryAccount, collateral, pos.Collateral); err != nil {
		return nil, err
	}
	st.PutDebtPool(st.DebtPool().Add(badDebt))
	st.PutPosition(collateral, owner, model.Position{Owner: owner, Collateral: decimal.Zero, Debit: decimal.Zero})
	st.PutTotalDebit(collateral, st.TotalDebit(collateral).Sub(pos.Debit))

	return &model.LiquidationRecord{
		ID:             uuid.NewString(),
		CollateralType: string(collateral),
		Owner:          owner,
		Collateral:     pos.Collateral,
		BadDebtValue:   badDebt,
		TargetAmount:   badDebt,
		RaisedAmount:   decimal.Zero,
		Strategy:       model.StrategySettlement,
		CreatedAt:      time.Now().UTC(),
	}, nil
}
