package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openstable/cdpcore/internal/model"
	"github.com/openstable/cdpcore/internal/pkg/apperrors"
)

func TestAdjustPositionOpenAndRepay(t *testing.T) {
	rig := newTestRig(t)
	rig.st.PutParams("BTC", btcParams())
	rig.st.PutBalance("alice", "BTC", d("100"))

	// Lock 100 BTC, issue 500 debit: mints 50 stable at rate 0.1.
	require.NoError(t, rig.eng.AdjustPosition(rig.st, "alice", "BTC", d("100"), d("500")))
	pos := rig.st.Position("BTC", "alice")
	assert.True(t, pos.Collateral.Equal(d("100")))
	assert.True(t, pos.Debit.Equal(d("500")))
	assert.True(t, rig.st.Balance("alice", "BTC").IsZero())
	assert.True(t, rig.st.Balance(ModuleAccount, "BTC").Equal(d("100")))
	assert.True(t, rig.st.Balance("alice", "USDS").Equal(d("50")))
	assert.True(t, rig.st.TotalDebit("BTC").Equal(d("500")))

	// Repay 200 debit: burns 20 stable.
	require.NoError(t, rig.eng.AdjustPosition(rig.st, "alice", "BTC", decimal.Zero, d("-200")))
	pos = rig.st.Position("BTC", "alice")
	assert.True(t, pos.Debit.Equal(d("300")))
	assert.True(t, rig.st.Balance("alice", "USDS").Equal(d("30")))
	assert.True(t, rig.st.TotalDebit("BTC").Equal(d("300")))
}

func TestAdjustPositionRoundTrip(t *testing.T) {
	rig := newTestRig(t)
	rig.st.PutParams("BTC", btcParams())
	rig.st.PutBalance("alice", "BTC", d("100"))

	require.NoError(t, rig.eng.AdjustPosition(rig.st, "alice", "BTC", d("100"), d("500")))
	require.NoError(t, rig.eng.AdjustPosition(rig.st, "alice", "BTC", d("-100"), d("-500")))

	assert.True(t, rig.st.Position("BTC", "alice").IsZero())
	assert.True(t, rig.st.Balance("alice", "BTC").Equal(d("100")))
	assert.True(t, rig.st.Balance("alice", "USDS").IsZero())
	assert.True(t, rig.st.TotalDebit("BTC").IsZero())
	assert.True(t, rig.st.Balance(ModuleAccount, "BTC").IsZero())
}

func TestAdjustPositionRequiredRatioOnlyBindsRiskier(t *testing.T) {
	rig := newTestRig(t)
	rig.st.PutParams("BTC", btcParams())
	rig.st.PutBalance("alice", "BTC", d("200"))

	// Borrowing to ratio 100/60 = 1.66 breaks the 1.8 requirement.
	err := rig.eng.AdjustPosition(rig.st, "alice", "BTC", d("100"), d("600"))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrBelowRequiredCollateralRatio, apperrors.TypeOf(err))

	// A position already under the required ratio can still be topped up:
	// 101/60 = 1.68 stays below 1.8 but the adjustment is risk-reducing.
	rig.openPosition("bob", "BTC", d("100"), d("600"))
	rig.st.PutBalance("bob", "BTC", d("1"))
	require.NoError(t, rig.eng.AdjustPosition(rig.st, "bob", "BTC", d("1"), decimal.Zero))
}

func TestAdjustPositionDebitCap(t *testing.T) {
	rig := newTestRig(t)
	p := btcParams()
	p.MaxTotalDebitValue = d("40")
	rig.st.PutParams("BTC", p)
	rig.st.PutBalance("alice", "BTC", d("100"))

	err := rig.eng.AdjustPosition(rig.st, "alice", "BTC", d("100"), d("500"))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrExceedDebitValueHardCap, apperrors.TypeOf(err))
}

func TestAdjustPositionErrors(t *testing.T) {
	rig := newTestRig(t)
	rig.st.PutParams("BTC", btcParams())

	err := rig.eng.AdjustPosition(rig.st, "alice", "DOGE", d("1"), d("1"))
	assert.Equal(t, apperrors.ErrInvalidCollateralType, apperrors.TypeOf(err))

	// No collateral balance to lock.
	err = rig.eng.AdjustPosition(rig.st, "alice", "BTC", d("100"), d("500"))
	assert.Equal(t, apperrors.ErrInvalidRequest, apperrors.TypeOf(err))

	// Repaying more shares than outstanding.
	rig.st.PutBalance("alice", "BTC", d("100"))
	require.NoError(t, rig.eng.AdjustPosition(rig.st, "alice", "BTC", d("100"), d("500")))
	err = rig.eng.AdjustPosition(rig.st, "alice", "BTC", decimal.Zero, d("-600"))
	assert.Equal(t, apperrors.ErrNotEnoughDebitDecrement, apperrors.TypeOf(err))

	rig.shutdown.active = true
	err = rig.eng.AdjustPosition(rig.st, "alice", "BTC", decimal.Zero, d("-100"))
	assert.Equal(t, apperrors.ErrAlreadyShutdown, apperrors.TypeOf(err))
}

func TestAdjustPositionByDebitValueClipsOverpayment(t *testing.T) {
	rig := newTestRig(t)
	rig.st.PutParams("BTC", btcParams())
	rig.st.PutBalance("alice", "BTC", d("100"))
	require.NoError(t, rig.eng.AdjustPosition(rig.st, "alice", "BTC", d("100"), d("500")))
	rig.st.PutBalance("alice", "USDS", d("80"))

	// Offering 80 against 50 outstanding burns exactly the payoff amount.
	require.NoError(t, rig.eng.AdjustPositionByDebitValue(rig.st, "alice", "BTC", decimal.Zero, d("-80")))
	assert.True(t, rig.st.Position("BTC", "alice").Debit.IsZero())
	assert.True(t, rig.st.Balance("alice", "USDS").Equal(d("30")))
}

func TestExpandPositionCollateral(t *testing.T) {
	rig := newTestRig(t)
	rig.st.PutParams("BTC", btcParams())
	rig.st.PutBalance("alice", "BTC", d("100"))
	require.NoError(t, rig.eng.AdjustPosition(rig.st, "alice", "BTC", d("100"), d("500")))

	rig.swap.exactSupplyFn = func(supply, target model.AssetID, amount, minTarget decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
		require.Equal(t, model.AssetID("USDS"), supply)
		require.Equal(t, model.AssetID("BTC"), target)
		require.True(t, amount.Equal(d("10")))
		return amount, d("8"), nil
	}

	// Mint 10 more stable of debt, swap for 8 BTC: {108, 600}, ratio 1.8.
	require.NoError(t, rig.eng.ExpandPositionCollateral(rig.st, "alice", "BTC", d("10"), d("5")))
	pos := rig.st.Position("BTC", "alice")
	assert.True(t, pos.Collateral.Equal(d("108")))
	assert.True(t, pos.Debit.Equal(d("600")))
	assert.True(t, rig.st.Balance(ModuleAccount, "BTC").Equal(d("108")))
	assert.True(t, rig.st.TotalDebit("BTC").Equal(d("600")))
}

func TestExpandPositionCollateralSwapFailure(t *testing.T) {
	rig := newTestRig(t)
	rig.st.PutParams("BTC", btcParams())
	rig.openPosition("alice", "BTC", d("100"), d("500"))

	err := rig.eng.ExpandPositionCollateral(rig.st, "alice", "BTC", d("10"), d("5"))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCannotSwap, apperrors.TypeOf(err))
}

func TestShrinkPositionDebit(t *testing.T) {
	rig := newTestRig(t)
	rig.st.PutParams("BTC", btcParams())
	rig.openPosition("alice", "BTC", d("100"), d("500"))

	rig.swap.exactSupplyFn = func(supply, target model.AssetID, amount, minTarget decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
		return amount, d("38"), nil
	}

	// Sell 40 BTC for 38 stable: retires 380 debit shares.
	require.NoError(t, rig.eng.ShrinkPositionDebit(rig.st, "alice", "BTC", d("40"), d("30")))
	pos := rig.st.Position("BTC", "alice")
	assert.True(t, pos.Collateral.Equal(d("60")))
	assert.True(t, pos.Debit.Equal(d("120")))
	assert.True(t, rig.st.Balance(ModuleAccount, "BTC").Equal(d("60")))
	assert.True(t, rig.st.TotalDebit("BTC").Equal(d("120")))
}

func TestShrinkPositionDebitClosesWithRefund(t *testing.T) {
	rig := newTestRig(t)
	rig.st.PutParams("BTC", btcParams())
	rig.openPosition("alice", "BTC", d("100"), d("500"))

	rig.swap.exactSupplyFn = func(supply, target model.AssetID, amount, minTarget decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
		return amount, d("55"), nil
	}

	// Proceeds exceed the 50 outstanding: debt fully retired, 5 refunded.
	require.NoError(t, rig.eng.ShrinkPositionDebit(rig.st, "alice", "BTC", d("40"), d("50")))
	pos := rig.st.Position("BTC", "alice")
	assert.True(t, pos.Collateral.Equal(d("60")))
	assert.True(t, pos.Debit.IsZero())
	assert.True(t, rig.st.Balance("alice", "USDS").Equal(d("5")))
	assert.True(t, rig.st.TotalDebit("BTC").IsZero())
}

func TestCloseCDPHasDebitByDEX(t *testing.T) {
	rig := newTestRig(t)
	rig.st.PutParams("BTC", btcParams())
	rig.openPosition("alice", "BTC", d("100"), d("500"))

	rig.swap.exactTargetFn = func(supply, target model.AssetID, maxSupply, targetAmount decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
		require.True(t, targetAmount.Equal(d("50")))
		return d("52"), targetAmount, nil
	}

	require.NoError(t, rig.eng.CloseCDPHasDebitByDEX(rig.st, "alice", "BTC", d("100")))
	assert.True(t, rig.st.Position("BTC", "alice").IsZero())
	assert.True(t, rig.st.Balance("alice", "BTC").Equal(d("48")))
	assert.True(t, rig.st.Balance(ModuleAccount, "BTC").IsZero())
	assert.True(t, rig.st.TotalDebit("BTC").IsZero())
}

func TestCloseCDPHasDebitByDEXGates(t *testing.T) {
	rig := newTestRig(t)
	rig.st.PutParams("BTC", btcParams())

	err := rig.eng.CloseCDPHasDebitByDEX(rig.st, "alice", "BTC", d("100"))
	assert.Equal(t, apperrors.ErrNoDebitValue, apperrors.TypeOf(err))

	// Unsafe position must go through liquidation instead.
	rig.openPosition("alice", "BTC", d("100"), d("500"))
	p := btcParams()
	p.LiquidationRatio = dp("3")
	rig.st.PutParams("BTC", p)
	err = rig.eng.CloseCDPHasDebitByDEX(rig.st, "alice", "BTC", d("100"))
	assert.Equal(t, apperrors.ErrMustBeSafe, apperrors.TypeOf(err))

	rig.shutdown.active = true
	err = rig.eng.CloseCDPHasDebitByDEX(rig.st, "alice", "BTC", d("100"))
	assert.Equal(t, apperrors.ErrAlreadyShutdown, apperrors.TypeOf(err))
}
