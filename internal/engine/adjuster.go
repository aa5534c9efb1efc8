package engine

import (
	"github.com/shopspring/decimal"

	"github.com/openstable/cdpcore/internal/model"
	"github.com/openstable/cdpcore/internal/pkg/apperrors"
)

// AdjustPosition applies signed collateral and debit-share deltas to the
// owner's position. Positive collateral moves funds from the owner into the
// module pool; negative returns them. Positive debit mints the corresponding
// stable value to the owner; negative burns it from the owner's balance.
// The resulting position must pass every validity check, including the
// required collateral ratio and, when debt grows, the collateral debt cap.
func (e *Engine) AdjustPosition(st State, owner string, collateral model.AssetID, collateralDelta, debitDelta decimal.Decimal) error {
	if e.shutdown.IsShutdown() {
		return apperrors.New(apperrors.ErrAlreadyShutdown, "position adjustments are disabled after shutdown", nil)
	}
	if _, ok := st.Params(collateral); !ok {
		return apperrors.New(apperrors.ErrInvalidCollateralType, "unknown collateral type "+string(collateral), nil)
	}

	pos := st.Position(collateral, owner)
	newCollateral := pos.Collateral.Add(collateralDelta)
	newDebit := pos.Debit.Add(debitDelta)
	if newCollateral.IsNegative() {
		return apperrors.New(apperrors.ErrInvalidRequest, "collateral decrement exceeds position collateral", nil)
	}
	if newDebit.IsNegative() {
		return apperrors.New(apperrors.ErrNotEnoughDebitDecrement, "debit decrement exceeds outstanding debit", nil)
	}

	rate := st.ExchangeRate(collateral)

	switch {
	case collateralDelta.IsPositive():
		if err := transfer(st, owner, ModuleAccount, collateral, collateralDelta); err != nil {
			return err
		}
	case collateralDelta.IsNegative():
		if err := transfer(st, ModuleAccount, owner, collateral, collateralDelta.Neg()); err != nil {
			return err
		}
	}

	switch {
	case debitDelta.IsPositive():
		e.mintStable(st, owner, debitDelta.Mul(rate))
	case debitDelta.IsNegative():
		if err := e.burnStable(st, owner, debitDelta.Neg().Mul(rate)); err != nil {
			return err
		}
	}

	st.PutPosition(collateral, owner, model.Position{Owner: owner, Collateral: newCollateral, Debit: newDebit})
	total := st.TotalDebit(collateral).Add(debitDelta)
	st.PutTotalDebit(collateral, total)

	// The required collateral ratio binds only when the adjustment makes the
	// position riskier; pure repayments and collateral top-ups skip it.
	enforceRequired := debitDelta.IsPositive() || collateralDelta.IsNegative()
	if err := e.CheckPositionValid(st, collateral, newCollateral, newDebit, enforceRequired); err != nil {
		return err
	}
	if debitDelta.IsPositive() {
		if err := e.CheckDebitCap(st, collateral, total.Mul(rate)); err != nil {
			return err
		}
	}
	return nil
}

// AdjustPositionByDebitValue is AdjustPosition with the debit leg expressed
// in stable value instead of debit shares. A repayment larger than the
// outstanding debt is clipped to an exact payoff rather than rejected.
func (e *Engine) AdjustPositionByDebitValue(st State, owner string, collateral model.AssetID, collateralDelta, debitValueDelta decimal.Decimal) error {
	if _, ok := st.Params(collateral); !ok {
		return apperrors.New(apperrors.ErrInvalidCollateralType, "unknown collateral type "+string(collateral), nil)
	}
	rate := st.ExchangeRate(collateral)
	var debitDelta decimal.Decimal
	if debitValueDelta.IsNegative() {
		repay := debitValueDelta.Neg().DivRound(rate, ratioScale)
		if outstanding := st.Position(collateral, owner).Debit; repay.GreaterThan(outstanding) {
			repay = outstanding
		}
		debitDelta = repay.Neg()
	} else {
		debitDelta = debitValueDelta.DivRound(rate, ratioScale)
	}
	return e.AdjustPosition(st, owner, collateral, collateralDelta, debitDelta)
}

// ExpandPositionCollateral mints increaseDebitValue of new debt and swaps it
// for additional collateral in one step. The swap must return at least
// minIncreaseCollateral; the grown position must stay fully valid.
func (e *Engine) ExpandPositionCollateral(st State, owner string, collateral model.AssetID, increaseDebitValue, minIncreaseCollateral decimal.Decimal) error {
	if e.shutdown.IsShutdown() {
		return apperrors.New(apperrors.ErrAlreadyShutdown, "position adjustments are disabled after shutdown", nil)
	}
	if _, ok := st.Params(collateral); !ok {
		return apperrors.New(apperrors.ErrInvalidCollateralType, "unknown collateral type "+string(collateral), nil)
	}
	if !increaseDebitValue.IsPositive() {
		return apperrors.New(apperrors.ErrInvalidRequest, "debit value increase must be positive", nil)
	}

	_, received, err := e.swap.SwapExactSupply(e.StableAsset(), collateral, increaseDebitValue, minIncreaseCollateral)
	if err != nil {
		return apperrors.New(apperrors.ErrCannotSwap, "swap venue rejected the expansion trade", err)
	}
	// The venue pays collateral into the module pool in exchange for the
	// freshly minted stable.
	st.PutBalance(ModuleAccount, collateral, st.Balance(ModuleAccount, collateral).Add(received))

	rate := st.ExchangeRate(collateral)
	debitDelta := increaseDebitValue.DivRound(rate, ratioScale)
	pos := st.Position(collateral, owner)
	newCollateral := pos.Collateral.Add(received)
	newDebit := pos.Debit.Add(debitDelta)

	st.PutPosition(collateral, owner, model.Position{Owner: owner, Collateral: newCollateral, Debit: newDebit})
	total := st.TotalDebit(collateral).Add(debitDelta)
	st.PutTotalDebit(collateral, total)

	if err := e.CheckPositionValid(st, collateral, newCollateral, newDebit, true); err != nil {
		return err
	}
	return e.CheckDebitCap(st, collateral, total.Mul(rate))
}

// ShrinkPositionDebit sells decreaseCollateral from the position through the
// swap venue and retires debt with the proceeds. Proceeds beyond the
// outstanding debt are refunded to the owner's stable balance, which lets a
// position be closed entirely.
func (e *Engine) ShrinkPositionDebit(st State, owner string, collateral model.AssetID, decreaseCollateral, minDecreaseDebitValue decimal.Decimal) error {
	if e.shutdown.IsShutdown() {
		return apperrors.New(apperrors.ErrAlreadyShutdown, "position adjustments are disabled after shutdown", nil)
	}
	if _, ok := st.Params(collateral); !ok {
		return apperrors.New(apperrors.ErrInvalidCollateralType, "unknown collateral type "+string(collateral), nil)
	}
	pos := st.Position(collateral, owner)
	if !decreaseCollateral.IsPositive() || decreaseCollateral.GreaterThan(pos.Collateral) {
		return apperrors.New(apperrors.ErrInvalidRequest, "collateral decrement exceeds position collateral", nil)
	}

	_, received, err := e.swap.SwapExactSupply(collateral, e.StableAsset(), decreaseCollateral, minDecreaseDebitValue)
	if err != nil {
		return apperrors.New(apperrors.ErrCannotSwap, "swap venue rejected the shrink trade", err)
	}
	if err := releasePool(st, collateral, decreaseCollateral); err != nil {
		return err
	}

	rate := st.ExchangeRate(collateral)
	outstanding := pos.Debit.Mul(rate)
	newDebit := decimal.Zero
	if received.GreaterThanOrEqual(outstanding) {
		if refund := received.Sub(outstanding); refund.IsPositive() {
			e.mintStable(st, owner, refund)
		}
	} else {
		newDebit = pos.Debit.Sub(received.DivRound(rate, ratioScale))
		if newDebit.IsNegative() {
			newDebit = decimal.Zero
		}
	}

	newCollateral := pos.Collateral.Sub(decreaseCollateral)
	st.PutPosition(collateral, owner, model.Position{Owner: owner, Collateral: newCollateral, Debit: newDebit})
	st.PutTotalDebit(collateral, st.TotalDebit(collateral).Sub(pos.Debit.Sub(newDebit)))

	return e.CheckPositionValid(st, collateral, newCollateral, newDebit, true)
}

// CloseCDPHasDebitByDEX closes a safe position by selling just enough of its
// collateral to repay the debt exactly, refunding the remainder to the
// owner. At most maxCollateralAmount of the position may be sold.
func (e *Engine) CloseCDPHasDebitByDEX(st State, owner string, collateral model.AssetID, maxCollateralAmount decimal.Decimal) error {
	if e.shutdown.IsShutdown() {
		return apperrors.New(apperrors.ErrAlreadyShutdown, "use settlement after shutdown", nil)
	}
	if _, ok := st.Params(collateral); !ok {
		return apperrors.New(apperrors.ErrInvalidCollateralType, "unknown collateral type "+string(collateral), nil)
	}
	pos := st.Position(collateral, owner)
	if pos.Debit.IsZero() {
		return apperrors.New(apperrors.ErrNoDebitValue, "position has no outstanding debit", nil)
	}
	switch status := e.CheckCDPStatus(st, collateral, pos.Collateral, pos.Debit); status.Kind {
	case model.StatusChecksFailed:
		return checksFailedErr(status.Reason)
	case model.StatusUnsafe:
		return apperrors.New(apperrors.ErrMustBeSafe, "unsafe positions must go through liquidation", nil)
	}

	debtValue := pos.Debit.Mul(st.ExchangeRate(collateral))
	maxSupply := maxCollateralAmount
	if maxSupply.GreaterThan(pos.Collateral) {
		maxSupply = pos.Collateral
	}
	supplied, _, err := e.swap.SwapExactTarget(collateral, e.StableAsset(), maxSupply, debtValue)
	if err != nil {
		return apperrors.New(apperrors.ErrCannotSwap, "swap venue could not raise the repayment", err)
	}

	// Sold collateral leaves the pool; the rest goes back to the owner.
	if err := releasePool(st, collateral, pos.Collateral); err != nil {
		return err
	}
	if refund := pos.Collateral.Sub(supplied); refund.IsPositive() {
		st.PutBalance(owner, collateral, st.Balance(owner, collateral).Add(refund))
	}

	st.PutPosition(collateral, owner, model.Position{Owner: owner, Collateral: decimal.Zero, Debit: decimal.Zero})
	st.PutTotalDebit(collateral, st.TotalDebit(collateral).Sub(pos.Debit))
	return nil
}

func checksFailedErr(reason string) *apperrors.AppError {
	t := apperrors.ErrorType(reason)
	if t == "" {
		t = apperrors.ErrInternal
	}
	return apperrors.New(t, "position status checks failed", nil)
}
