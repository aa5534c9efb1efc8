package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openstable/cdpcore/internal/engine"
	"github.com/openstable/cdpcore/internal/model"
	"github.com/openstable/cdpcore/internal/pkg/apperrors"
)

func d(s string) decimal.Decimal   { return decimal.RequireFromString(s) }
func dp(s string) *decimal.Decimal { v := d(s); return &v }

type stubPrices struct{ prices map[model.AssetID]decimal.Decimal }

func (p stubPrices) GetPrice(a model.AssetID) (decimal.Decimal, bool) {
	v, ok := p.prices[a]
	return v, ok
}

type failingSwap struct{}

func (failingSwap) QuoteExactSupply(model.AssetID, model.AssetID, decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("no pool")
}
func (failingSwap) SwapExactSupply(model.AssetID, model.AssetID, decimal.Decimal, decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	return decimal.Zero, decimal.Zero, errors.New("no pool")
}
func (failingSwap) SwapExactTarget(model.AssetID, model.AssetID, decimal.Decimal, decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	return decimal.Zero, decimal.Zero, errors.New("no pool")
}
func (failingSwap) RemoveLiquidity(model.AssetID, decimal.Decimal) ([]engine.AssetLot, error) {
	return nil, errors.New("no pool")
}

type stubAuction struct{ created int }

func (a *stubAuction) CreateCollateralAuction(string, model.AssetID, decimal.Decimal, decimal.Decimal) error {
	a.created++
	return nil
}

type stubCaller struct{}

func (stubCaller) Liquidate(context.Context, string, model.AssetID, decimal.Decimal, decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("unreachable")
}

type captureStore struct {
	applied []engine.ChangeSet
	err     error
}

func (s *captureStore) Apply(_ context.Context, cs engine.ChangeSet) error {
	if s.err != nil {
		return s.err
	}
	s.applied = append(s.applied, cs)
	return nil
}

type captureRecords struct{ records []*model.LiquidationRecord }

func (r *captureRecords) Insert(_ context.Context, rec *model.LiquidationRecord) error {
	r.records = append(r.records, rec)
	return nil
}

type captureShutdownStore struct{ saved int }

func (s *captureShutdownStore) SaveShutdown(context.Context) error {
	s.saved++
	return nil
}

type svcRig struct {
	st       *engine.MemState
	svc      *CDPService
	store    *captureStore
	records  *captureRecords
	shutdown *ShutdownFlag
	auction  *stubAuction
}

func newSvcRig(t *testing.T) *svcRig {
	t.Helper()
	assets := model.NewAssetRegistry("USDS")
	assets.Register("BTC")
	st := engine.NewMemState(d("0.1"))
	st.PutParams("BTC", model.RiskParams{
		LiquidationRatio:   dp("1.5"),
		LiquidationPenalty: dp("0.2"),
		MaxTotalDebitValue: d("10000"),
	})
	shutdown := NewShutdownFlag()
	auction := &stubAuction{}
	eng := engine.New(assets,
		stubPrices{prices: map[model.AssetID]decimal.Decimal{"BTC": d("1")}},
		failingSwap{}, auction, stubCaller{}, shutdown,
		engine.Limits{
			MinimumCollateralAmount: d("10"),
			MinimumDebitValue:       d("2"),
			MaxSwapSlippage:         d("0.05"),
		})
	store := &captureStore{}
	records := &captureRecords{}
	svc := NewCDPService(CDPServiceOpts{
		State:      st,
		Engine:     eng,
		Assets:     assets,
		Shutdown:   shutdown,
		Store:      store,
		Records:    records,
		Governance: RootPolicy{Key: "gov"},
		Operator:   RootPolicy{Key: "ops"},
	})
	return &svcRig{st: st, svc: svc, store: store, records: records, shutdown: shutdown, auction: auction}
}

func TestAdjustPositionCommitsAndWritesThrough(t *testing.T) {
	r := newSvcRig(t)
	r.st.PutBalance("alice", "BTC", d("100"))

	err := r.svc.AdjustPosition(context.Background(), "alice", "BTC", d("100"), d("100"))
	require.NoError(t, err)

	pos := r.st.Position("BTC", "alice")
	assert.True(t, pos.Collateral.Equal(d("100")))
	assert.True(t, pos.Debit.Equal(d("100")))
	assert.True(t, r.st.Balance("alice", "USDS").Equal(d("10")), "borrowed value is minted to the owner")

	require.Len(t, r.store.applied, 1)
	cs := r.store.applied[0]
	assert.Contains(t, cs.Positions, engine.PositionKey{Collateral: "BTC", Owner: "alice"})
	assert.Contains(t, cs.Balances, engine.BalanceKey{Owner: "alice", Asset: "USDS"})
	assert.Contains(t, cs.Totals, model.AssetID("BTC"))
}

func TestAdjustPositionFailureLeavesStateUntouched(t *testing.T) {
	r := newSvcRig(t)
	r.st.PutBalance("alice", "BTC", d("100"))

	// Resulting debit value 1 is below the 2 minimum.
	err := r.svc.AdjustPosition(context.Background(), "alice", "BTC", d("100"), d("10"))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrRemainDebitValueTooSmall, apperrors.TypeOf(err))

	assert.True(t, r.st.Position("BTC", "alice").IsZero())
	assert.True(t, r.st.Balance("alice", "BTC").Equal(d("100")))
	assert.Empty(t, r.store.applied, "nothing reaches the store on failure")
}

func TestAdjustPositionSurvivesStoreOutage(t *testing.T) {
	r := newSvcRig(t)
	r.st.PutBalance("alice", "BTC", d("100"))
	r.store.err = errors.New("connection refused")

	err := r.svc.AdjustPosition(context.Background(), "alice", "BTC", d("100"), d("100"))
	require.NoError(t, err, "memory stays authoritative when persistence is down")
	assert.False(t, r.st.Position("BTC", "alice").IsZero())
}

func TestSetCollateralParamsAuthorization(t *testing.T) {
	r := newSvcRig(t)
	update := model.ParamsUpdate{MaxTotalDebitValue: model.NewValue(d("500"))}

	err := r.svc.SetCollateralParams(context.Background(), []string{"intruder"}, "BTC", update)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrBadOrigin, apperrors.TypeOf(err))

	require.NoError(t, r.svc.SetCollateralParams(context.Background(), []string{"gov"}, "BTC", update))
	params, ok := r.svc.Params("BTC")
	require.True(t, ok)
	assert.True(t, params.MaxTotalDebitValue.Equal(d("500")))
}

func TestSetCollateralParamsRejectsIneligibleAsset(t *testing.T) {
	r := newSvcRig(t)
	update := model.ParamsUpdate{MaxTotalDebitValue: model.NewValue(d("500"))}

	err := r.svc.SetCollateralParams(context.Background(), []string{"gov"}, "USDS", update)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrInvalidCollateralType, apperrors.TypeOf(err))

	err = r.svc.SetCollateralParams(context.Background(), []string{"gov"}, "DOGE", update)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrInvalidCollateralType, apperrors.TypeOf(err))
}

func TestTriggerShutdownOnce(t *testing.T) {
	r := newSvcRig(t)
	shutdownStore := &captureShutdownStore{}
	r.svc.shutdownStore = shutdownStore

	require.NoError(t, r.svc.TriggerShutdown(context.Background(), []string{"gov"}))
	assert.True(t, r.svc.IsShutdown())
	assert.Equal(t, 1, shutdownStore.saved)

	err := r.svc.TriggerShutdown(context.Background(), []string{"gov"})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrAlreadyShutdown, apperrors.TypeOf(err))
	assert.Equal(t, 1, shutdownStore.saved)
}

func TestTriggerShutdownUnauthorized(t *testing.T) {
	r := newSvcRig(t)
	err := r.svc.TriggerShutdown(context.Background(), []string{"nope"})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrBadOrigin, apperrors.TypeOf(err))
	assert.False(t, r.svc.IsShutdown())
}

func TestLiquidateUnsafeCDPSavesRecord(t *testing.T) {
	r := newSvcRig(t)
	// Ratio 100*1 / (500*0.1) = 2; raising the liquidation ratio to 3 makes
	// the position unsafe.
	r.st.PutPosition("BTC", "alice", model.Position{Owner: "alice", Collateral: d("100"), Debit: d("500")})
	r.st.PutTotalDebit("BTC", d("500"))
	r.st.PutBalance(engine.ModuleAccount, "BTC", d("100"))
	update := model.ParamsUpdate{LiquidationRatio: model.NewValue(dp("3"))}
	require.NoError(t, r.svc.SetCollateralParams(context.Background(), []string{"gov"}, "BTC", update))

	rec, err := r.svc.LiquidateUnsafeCDP(context.Background(), "alice", "BTC")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, model.StrategyAuction, rec.Strategy, "no swap liquidity forces the auction fallback")
	assert.Equal(t, 1, r.auction.created)

	require.Len(t, r.records.records, 1)
	assert.Equal(t, rec.ID, r.records.records[0].ID)
	assert.True(t, r.st.Position("BTC", "alice").IsZero())
}

func TestForceSettleRequiresOperator(t *testing.T) {
	r := newSvcRig(t)
	r.st.PutPosition("BTC", "alice", model.Position{Owner: "alice", Collateral: d("100"), Debit: d("500")})
	r.st.PutTotalDebit("BTC", d("500"))
	r.st.PutBalance(engine.ModuleAccount, "BTC", d("100"))

	_, err := r.svc.ForceSettleCDP(context.Background(), []string{"gov"}, "alice", "BTC")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrBadOrigin, apperrors.TypeOf(err))

	rec, err := r.svc.ForceSettleCDP(context.Background(), []string{"ops"}, "alice", "BTC")
	require.NoError(t, err)
	assert.Equal(t, model.StrategySettlement, rec.Strategy)
	assert.True(t, r.st.Balance(engine.TreasuryAccount, "BTC").Equal(d("100")))
}

func TestSettleRequiresShutdown(t *testing.T) {
	r := newSvcRig(t)
	r.st.PutPosition("BTC", "alice", model.Position{Owner: "alice", Collateral: d("100"), Debit: d("500")})
	r.st.PutTotalDebit("BTC", d("500"))
	r.st.PutBalance(engine.ModuleAccount, "BTC", d("100"))

	_, err := r.svc.SettleCDPHasDebit(context.Background(), "alice", "BTC")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrMustAfterShutdown, apperrors.TypeOf(err))

	require.NoError(t, r.svc.TriggerShutdown(context.Background(), []string{"gov"}))
	_, err = r.svc.SettleCDPHasDebit(context.Background(), "alice", "BTC")
	require.NoError(t, err)
}
