package engine

import (
	"github.com/shopspring/decimal"

	"github.com/openstable/cdpcore/internal/model"
	"github.com/openstable/cdpcore/internal/pkg/logger"
)

// SetCollateralParams applies a governance parameter update field by field:
// each field either keeps its stored value, is replaced, or (for optionals)
// cleared. Creating the entry is what enables the collateral type. Changed
// fields are logged individually for auditability. Authorization is checked
// by the caller before this runs.
func (e *Engine) SetCollateralParams(st State, collateral model.AssetID, update model.ParamsUpdate) {
	params, _ := st.Params(collateral)
	log := logger.With("collateral", string(collateral))

	if update.InterestRatePerSec.Set {
		params.InterestRatePerSec = update.InterestRatePerSec.Value
		log.Info("interest rate per sec updated", "value", optString(params.InterestRatePerSec))
	}
	if update.LiquidationRatio.Set {
		params.LiquidationRatio = update.LiquidationRatio.Value
		log.Info("liquidation ratio updated", "value", optString(params.LiquidationRatio))
	}
	if update.LiquidationPenalty.Set {
		params.LiquidationPenalty = update.LiquidationPenalty.Value
		log.Info("liquidation penalty updated", "value", optString(params.LiquidationPenalty))
	}
	if update.RequiredCollateralRatio.Set {
		params.RequiredCollateralRatio = update.RequiredCollateralRatio.Value
		log.Info("required collateral ratio updated", "value", optString(params.RequiredCollateralRatio))
	}
	if update.MaxTotalDebitValue.Set {
		params.MaxTotalDebitValue = update.MaxTotalDebitValue.Value
		log.Info("max total debit value updated", "value", params.MaxTotalDebitValue.String())
	}

	st.PutParams(collateral, params)
}

func optString(d *decimal.Decimal) string {
	if d == nil {
		return "unset"
	}
	return d.String()
}
