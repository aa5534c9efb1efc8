package engine

import (
	"github.com/shopspring/decimal"

	"github.com/openstable/cdpcore/internal/model"
	"github.com/openstable/cdpcore/internal/pkg/apperrors"
)

// transfer moves amount of asset between two ledger accounts. A zero amount
// is a no-op; the source must cover the full amount.
func transfer(st State, from, to string, asset model.AssetID, amount decimal.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	if amount.IsNegative() {
		return apperrors.New(apperrors.ErrInvalidRequest, "negative transfer amount", nil)
	}
	bal := st.Balance(from, asset)
	if bal.LessThan(amount) {
		return apperrors.Newf(apperrors.ErrInvalidRequest,
			"insufficient %s balance: have %s, need %s", asset, bal, amount)
	}
	st.PutBalance(from, asset, bal.Sub(amount))
	st.PutBalance(to, asset, st.Balance(to, asset).Add(amount))
	return nil
}

// mintStable issues newly created stable currency to an account.
func (e *Engine) mintStable(st State, to string, amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	asset := e.StableAsset()
	st.PutBalance(to, asset, st.Balance(to, asset).Add(amount))
}

// burnStable destroys stable currency held by an account.
func (e *Engine) burnStable(st State, from string, amount decimal.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	asset := e.StableAsset()
	bal := st.Balance(from, asset)
	if bal.LessThan(amount) {
		return apperrors.Newf(apperrors.ErrInvalidRequest,
			"insufficient stable balance to repay: have %s, need %s", bal, amount)
	}
	st.PutBalance(from, asset, bal.Sub(amount))
	return nil
}

// releasePool removes collateral from the module pool, e.g. when it is sold
// to a venue or handed to the treasury.
func releasePool(st State, asset model.AssetID, amount decimal.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	bal := st.Balance(ModuleAccount, asset)
	if bal.LessThan(amount) {
		return apperrors.Newf(apperrors.ErrInternal,
			"collateral pool underflow for %s: have %s, need %s", asset, bal, amount)
	}
	st.PutBalance(ModuleAccount, asset, bal.Sub(amount))
	return nil
}
