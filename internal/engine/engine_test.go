package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/openstable/cdpcore/internal/model"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func dp(s string) *decimal.Decimal {
	v := decimal.RequireFromString(s)
	return &v
}

var errNoLiquidity = errors.New("no liquidity")

type stubPrices struct {
	prices map[model.AssetID]decimal.Decimal
}

func (s *stubPrices) GetPrice(a model.AssetID) (decimal.Decimal, bool) {
	p, ok := s.prices[a]
	return p, ok
}

type stubSwap struct {
	quoteFn       func(supply, target model.AssetID, amount decimal.Decimal) (decimal.Decimal, error)
	exactSupplyFn func(supply, target model.AssetID, amount, minTarget decimal.Decimal) (decimal.Decimal, decimal.Decimal, error)
	exactTargetFn func(supply, target model.AssetID, maxSupply, targetAmount decimal.Decimal) (decimal.Decimal, decimal.Decimal, error)
	removeFn      func(share model.AssetID, amount decimal.Decimal) ([]AssetLot, error)
}

func (s *stubSwap) QuoteExactSupply(supply, target model.AssetID, amount decimal.Decimal) (decimal.Decimal, error) {
	if s.quoteFn == nil {
		return decimal.Zero, errNoLiquidity
	}
	return s.quoteFn(supply, target, amount)
}

func (s *stubSwap) SwapExactSupply(supply, target model.AssetID, amount, minTarget decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	if s.exactSupplyFn == nil {
		return decimal.Zero, decimal.Zero, errNoLiquidity
	}
	return s.exactSupplyFn(supply, target, amount, minTarget)
}

func (s *stubSwap) SwapExactTarget(supply, target model.AssetID, maxSupply, targetAmount decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	if s.exactTargetFn == nil {
		return decimal.Zero, decimal.Zero, errNoLiquidity
	}
	return s.exactTargetFn(supply, target, maxSupply, targetAmount)
}

func (s *stubSwap) RemoveLiquidity(share model.AssetID, amount decimal.Decimal) ([]AssetLot, error) {
	if s.removeFn == nil {
		return nil, errNoLiquidity
	}
	return s.removeFn(share, amount)
}

type createdAuction struct {
	Owner      string
	Collateral model.AssetID
	Amount     decimal.Decimal
	Target     decimal.Decimal
}

type stubAuction struct {
	created []createdAuction
	err     error
}

func (s *stubAuction) CreateCollateralAuction(owner string, collateral model.AssetID, amount, target decimal.Decimal) error {
	if s.err != nil {
		return s.err
	}
	s.created = append(s.created, createdAuction{owner, collateral, amount, target})
	return nil
}

type stubCaller struct {
	fn func(ctx context.Context, endpoint string, collateral model.AssetID, amount, minRepayment decimal.Decimal) (decimal.Decimal, error)
}

func (s *stubCaller) Liquidate(ctx context.Context, endpoint string, collateral model.AssetID, amount, minRepayment decimal.Decimal) (decimal.Decimal, error) {
	if s.fn == nil {
		return decimal.Zero, errors.New("no contract backend")
	}
	return s.fn(ctx, endpoint, collateral, amount, minRepayment)
}

type stubShutdown struct{ active bool }

func (s *stubShutdown) IsShutdown() bool { return s.active }

type testRig struct {
	eng      *Engine
	st       *MemState
	prices   *stubPrices
	swap     *stubSwap
	auction  *stubAuction
	caller   *stubCaller
	shutdown *stubShutdown
}

// newTestRig wires an engine against stub collaborators with the stable
// currency USDS, a 0.1 default debit exchange rate, minimum collateral 10,
// minimum debit value 2 and 5% max swap slippage.
func newTestRig(t *testing.T) *testRig {
	t.Helper()
	assets := model.NewAssetRegistry("USDS")
	assets.Register("BTC", "ETH")

	rig := &testRig{
		st:       NewMemState(d("0.1")),
		prices:   &stubPrices{prices: map[model.AssetID]decimal.Decimal{"BTC": d("1"), "ETH": d("1")}},
		swap:     &stubSwap{},
		auction:  &stubAuction{},
		caller:   &stubCaller{},
		shutdown: &stubShutdown{},
	}
	rig.eng = New(assets, rig.prices, rig.swap, rig.auction, rig.caller, rig.shutdown, Limits{
		MinimumCollateralAmount: d("10"),
		MinimumDebitValue:       d("2"),
		MaxSwapSlippage:         d("0.05"),
	})
	return rig
}

// btcParams mirrors the canonical risk parameter fixture: 0.001% interest
// per second, liquidation ratio 1.5, penalty 20%, required ratio 1.8, debt
// value cap 10000.
func btcParams() model.RiskParams {
	return model.RiskParams{
		InterestRatePerSec:      dp("0.00001"),
		LiquidationRatio:        dp("1.5"),
		LiquidationPenalty:      dp("0.2"),
		RequiredCollateralRatio: dp("1.8"),
		MaxTotalDebitValue:      d("10000"),
	}
}

// openPosition seeds a funded, already-validated position directly in state.
func (r *testRig) openPosition(owner string, collateral model.AssetID, collateralAmt, debit decimal.Decimal) {
	r.st.PutPosition(collateral, owner, model.Position{Owner: owner, Collateral: collateralAmt, Debit: debit})
	r.st.PutTotalDebit(collateral, r.st.TotalDebit(collateral).Add(debit))
	r.st.PutBalance(ModuleAccount, collateral, r.st.Balance(ModuleAccount, collateral).Add(collateralAmt))
}
