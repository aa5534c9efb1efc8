package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openstable/cdpcore/internal/model"
)

func TestSetCollateralParamsCreatesEntry(t *testing.T) {
	rig := newTestRig(t)

	_, ok := rig.st.Params("BTC")
	require.False(t, ok, "enabling is creating the entry")

	rig.eng.SetCollateralParams(rig.st, "BTC", model.ParamsUpdate{
		LiquidationRatio:   model.NewValue(dp("1.5")),
		MaxTotalDebitValue: model.NewValue(d("10000")),
	})

	p, ok := rig.st.Params("BTC")
	require.True(t, ok)
	require.NotNil(t, p.LiquidationRatio)
	assert.True(t, p.LiquidationRatio.Equal(d("1.5")))
	assert.True(t, p.MaxTotalDebitValue.Equal(d("10000")))
	assert.Nil(t, p.InterestRatePerSec)
}

func TestSetCollateralParamsFieldIndependence(t *testing.T) {
	rig := newTestRig(t)
	rig.st.PutParams("BTC", btcParams())

	// Raise the liquidation ratio, clear the penalty, leave the rest alone.
	rig.eng.SetCollateralParams(rig.st, "BTC", model.ParamsUpdate{
		LiquidationRatio:   model.NewValue(dp("3")),
		LiquidationPenalty: model.NewValue[*decimal.Decimal](nil),
	})

	p, _ := rig.st.Params("BTC")
	assert.True(t, p.LiquidationRatio.Equal(d("3")))
	assert.Nil(t, p.LiquidationPenalty)
	require.NotNil(t, p.RequiredCollateralRatio)
	assert.True(t, p.RequiredCollateralRatio.Equal(d("1.8")))
	require.NotNil(t, p.InterestRatePerSec)
	assert.True(t, p.InterestRatePerSec.Equal(d("0.00001")))
	assert.True(t, p.MaxTotalDebitValue.Equal(d("10000")))
}
