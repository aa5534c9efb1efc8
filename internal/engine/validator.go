package engine

import (
	"github.com/shopspring/decimal"

	"github.com/openstable/cdpcore/internal/pkg/apperrors"
	"github.com/openstable/cdpcore/internal/model"
)

// ratioScale is the decimal precision ratios and derived rates are rounded to.
const ratioScale = 18

// CalculateCollateralRatio returns (collateral * price) / (debit * rate).
// The boolean is false when the debit value is zero, in which case the ratio
// is undefined and the position is trivially safe.
func CalculateCollateralRatio(collateral, debit, price, exchangeRate decimal.Decimal) (decimal.Decimal, bool) {
	debitValue := debit.Mul(exchangeRate)
	if debitValue.IsZero() {
		return decimal.Zero, false
	}
	return collateral.Mul(price).DivRound(debitValue, ratioScale), true
}

// CheckCDPStatus classifies a hypothetical position under the collateral's
// current parameters, price and debit exchange rate. It never mutates state:
// missing parameters or a missing price yield StatusChecksFailed rather than
// an error so callers can distinguish "unsafe" from "could not check".
func (e *Engine) CheckCDPStatus(st State, collateral model.AssetID, collateralAmount, debit decimal.Decimal) model.Status {
	params, ok := st.Params(collateral)
	if !ok {
		return model.Status{Kind: model.StatusChecksFailed, Reason: string(apperrors.ErrInvalidCollateralType)}
	}
	if debit.IsZero() {
		return model.Status{Kind: model.StatusSafe}
	}
	if params.LiquidationRatio == nil {
		return model.Status{Kind: model.StatusSafe}
	}
	price, ok := e.prices.GetPrice(collateral)
	if !ok || !price.IsPositive() {
		return model.Status{Kind: model.StatusChecksFailed, Reason: string(apperrors.ErrInvalidFeedPrice)}
	}
	ratio, ok := CalculateCollateralRatio(collateralAmount, debit, price, st.ExchangeRate(collateral))
	if !ok {
		return model.Status{Kind: model.StatusSafe}
	}
	if ratio.LessThan(*params.LiquidationRatio) {
		return model.Status{Kind: model.StatusUnsafe}
	}
	return model.Status{Kind: model.StatusSafe}
}

// CheckDebitCap rejects a new aggregate debit value above the collateral's
// hard cap.
func (e *Engine) CheckDebitCap(st State, collateral model.AssetID, newTotalDebitValue decimal.Decimal) error {
	params, ok := st.Params(collateral)
	if !ok {
		return apperrors.New(apperrors.ErrInvalidCollateralType, "unknown collateral type "+string(collateral), nil)
	}
	if newTotalDebitValue.GreaterThan(params.MaxTotalDebitValue) {
		return apperrors.Newf(apperrors.ErrExceedDebitValueHardCap,
			"total debit value %s exceeds hard cap %s for %s",
			newTotalDebitValue, params.MaxTotalDebitValue, collateral)
	}
	return nil
}

// CheckPositionValid enforces the per-position floors and ratio rules on a
// hypothetical (collateral, debit) pair:
//
//  1. dust collateral with no debt: 0 < collateral < minimum and debit == 0
//     is rejected, so a position cannot be left as unrecoverable dust;
//  2. a non-zero debit value below the minimum is rejected;
//  3. with outstanding debt, the collateral ratio must meet the liquidation
//     ratio, and when enforceRequired is set also the required collateral
//     ratio if one is configured.
//
// A fully zero position is always valid (that is how positions close).
func (e *Engine) CheckPositionValid(st State, collateral model.AssetID, collateralAmount, debit decimal.Decimal, enforceRequired bool) error {
	params, ok := st.Params(collateral)
	if !ok {
		return apperrors.New(apperrors.ErrInvalidCollateralType, "unknown collateral type "+string(collateral), nil)
	}

	if debit.IsZero() {
		if collateralAmount.IsPositive() && collateralAmount.LessThan(e.limits.MinimumCollateralAmount) {
			return apperrors.Newf(apperrors.ErrCollateralAmountBelowMinimum,
				"collateral %s below minimum %s", collateralAmount, e.limits.MinimumCollateralAmount)
		}
		return nil
	}

	debitValue := debit.Mul(st.ExchangeRate(collateral))
	if debitValue.LessThan(e.limits.MinimumDebitValue) {
		return apperrors.Newf(apperrors.ErrRemainDebitValueTooSmall,
			"remaining debit value %s below minimum %s", debitValue, e.limits.MinimumDebitValue)
	}

	price, ok := e.prices.GetPrice(collateral)
	if !ok || !price.IsPositive() {
		return apperrors.New(apperrors.ErrInvalidFeedPrice, "no valid price for "+string(collateral), nil)
	}
	ratio, _ := CalculateCollateralRatio(collateralAmount, debit, price, st.ExchangeRate(collateral))

	if params.LiquidationRatio != nil && ratio.LessThan(*params.LiquidationRatio) {
		return apperrors.Newf(apperrors.ErrBelowLiquidationRatio,
			"collateral ratio %s below liquidation ratio %s", ratio, params.LiquidationRatio)
	}
	if enforceRequired && params.RequiredCollateralRatio != nil && ratio.LessThan(*params.RequiredCollateralRatio) {
		return apperrors.Newf(apperrors.ErrBelowRequiredCollateralRatio,
			"collateral ratio %s below required ratio %s", ratio, params.RequiredCollateralRatio)
	}
	return nil
}
