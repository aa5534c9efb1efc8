package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// CompoundInterestRate computes (1+rate)^periods - 1 by binary
// exponentiation, rounding each intermediate product to ratioScale places.
// A zero rate or zero period count yields zero.
func CompoundInterestRate(rate decimal.Decimal, periods uint64) decimal.Decimal {
	if rate.IsZero() || periods == 0 {
		return decimal.Zero
	}
	base := decimal.New(1, 0).Add(rate)
	acc := decimal.New(1, 0)
	for periods > 0 {
		if periods&1 == 1 {
			acc = acc.Mul(base).Round(ratioScale)
		}
		periods >>= 1
		if periods > 0 {
			base = base.Mul(base).Round(ratioScale)
		}
	}
	return acc.Sub(decimal.New(1, 0))
}

// AccumulateInterest advances every collateral's debit exchange rate by the
// compound interest accrued since the last pass. The rate only ever grows.
// After shutdown rates freeze but the timestamp still advances, so a later
// resume does not back-bill the gap.
func (e *Engine) AccumulateInterest(st State, now time.Time) {
	last := st.LastAccrual()
	st.PutLastAccrual(now)
	if last.IsZero() || !now.After(last) {
		return
	}
	if e.shutdown.IsShutdown() {
		return
	}
	elapsed := uint64(now.Sub(last) / time.Second)
	if elapsed == 0 {
		return
	}
	for _, c := range st.CollateralTypes() {
		params, ok := st.Params(c)
		if !ok || params.InterestRatePerSec == nil || params.InterestRatePerSec.IsZero() {
			continue
		}
		growth := CompoundInterestRate(*params.InterestRatePerSec, elapsed)
		if !growth.IsPositive() {
			continue
		}
		rate := st.ExchangeRate(c)
		st.PutExchangeRate(c, rate.Add(rate.Mul(growth).Round(ratioScale)))
	}
}
