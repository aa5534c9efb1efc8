package scanner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openstable/cdpcore/internal/engine"
	"github.com/openstable/cdpcore/internal/model"
)

func d(s string) decimal.Decimal  { return decimal.RequireFromString(s) }
func dp(s string) *decimal.Decimal { v := d(s); return &v }

type stubLock struct {
	acquired bool
	err      error
	calls    int
}

func (l *stubLock) TryAcquire(context.Context, time.Duration) (bool, error) {
	l.calls++
	return l.acquired, l.err
}

type stubCursors struct {
	cursor model.ScanCursor
	saved  []model.ScanCursor
}

func (c *stubCursors) Load(context.Context) (model.ScanCursor, error) { return c.cursor, nil }
func (c *stubCursors) Save(_ context.Context, cur model.ScanCursor) error {
	c.saved = append(c.saved, cur)
	c.cursor = cur
	return nil
}

type stubPrices struct{ prices map[model.AssetID]decimal.Decimal }

func (p stubPrices) GetPrice(a model.AssetID) (decimal.Decimal, bool) {
	v, ok := p.prices[a]
	return v, ok
}

type stubShutdown struct{ active bool }

func (s stubShutdown) IsShutdown() bool { return s.active }

type nopSwap struct{}

func (nopSwap) QuoteExactSupply(model.AssetID, model.AssetID, decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("no pool")
}
func (nopSwap) SwapExactSupply(model.AssetID, model.AssetID, decimal.Decimal, decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	return decimal.Zero, decimal.Zero, errors.New("no pool")
}
func (nopSwap) SwapExactTarget(model.AssetID, model.AssetID, decimal.Decimal, decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	return decimal.Zero, decimal.Zero, errors.New("no pool")
}
func (nopSwap) RemoveLiquidity(model.AssetID, decimal.Decimal) ([]engine.AssetLot, error) {
	return nil, errors.New("no pool")
}

type nopAuction struct{}

func (nopAuction) CreateCollateralAuction(string, model.AssetID, decimal.Decimal, decimal.Decimal) error {
	return nil
}

type nopCaller struct{}

func (nopCaller) Liquidate(context.Context, string, model.AssetID, decimal.Decimal, decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("unreachable")
}

type rig struct {
	st       *engine.MemState
	eng      *engine.Engine
	prices   map[model.AssetID]decimal.Decimal
	shutdown *stubShutdown
	lock     *stubLock
	cursors  *stubCursors
	queue    chan model.Command
	scanner  *Scanner
}

func newRig(t *testing.T, maxIter int) *rig {
	t.Helper()
	assets := model.NewAssetRegistry("USDS")
	assets.Register("BTC", "ETH")
	st := engine.NewMemState(d("0.1"))
	st.PutParams("BTC", model.RiskParams{
		LiquidationRatio:   dp("1.5"),
		MaxTotalDebitValue: d("10000"),
	})
	st.PutParams("ETH", model.RiskParams{
		LiquidationRatio:   dp("1.5"),
		MaxTotalDebitValue: d("10000"),
	})
	prices := stubPrices{prices: map[model.AssetID]decimal.Decimal{"BTC": d("1"), "ETH": d("1")}}
	shutdown := &stubShutdown{}
	eng := engine.New(assets, prices, nopSwap{}, nopAuction{}, nopCaller{}, shutdown, engine.Limits{
		MinimumCollateralAmount: d("10"),
		MinimumDebitValue:       d("2"),
		MaxSwapSlippage:         d("0.05"),
	})
	lock := &stubLock{acquired: true}
	cursors := &stubCursors{}
	queue := make(chan model.Command, 64)
	sc := New(Opts{
		State:         st,
		Engine:        eng,
		Shutdown:      shutdown,
		Lock:          lock,
		Cursors:       cursors,
		Queue:         queue,
		Interval:      time.Minute,
		MaxIterations: maxIter,
	})
	return &rig{st: st, eng: eng, prices: prices.prices, shutdown: shutdown, lock: lock, cursors: cursors, queue: queue, scanner: sc}
}

// put seeds a position. With price 1 and exchange rate 0.1, debit 500 against
// collateral 100 gives ratio 2, safe at a 1.5 liquidation ratio; debit 1000
// gives ratio 1, unsafe.
func (r *rig) put(c model.AssetID, owner, collateral, debit string) {
	r.st.PutPosition(c, owner, model.Position{Owner: owner, Collateral: d(collateral), Debit: d(debit)})
}

func (r *rig) drain() []model.Command {
	var out []model.Command
	for {
		select {
		case cmd := <-r.queue:
			out = append(out, cmd)
		default:
			return out
		}
	}
}

func TestTickSkippedWhenLockHeld(t *testing.T) {
	r := newRig(t, 0)
	r.put("BTC", "alice", "100", "1000")
	r.lock.acquired = false

	r.scanner.Tick(context.Background())

	assert.Empty(t, r.drain())
	assert.Empty(t, r.cursors.saved, "a skipped tick must not move the cursor")
}

func TestTickSubmitsLiquidateForUnsafe(t *testing.T) {
	r := newRig(t, 0)
	r.put("BTC", "alice", "100", "1000")
	r.put("BTC", "bob", "100", "500")

	r.scanner.Tick(context.Background())

	cmds := r.drain()
	require.Len(t, cmds, 1)
	assert.Equal(t, model.CommandLiquidate, cmds[0].Kind)
	assert.Equal(t, model.AssetID("BTC"), cmds[0].CollateralType)
	assert.Equal(t, "alice", cmds[0].Owner)
	assert.NotEmpty(t, cmds[0].ID)

	require.Len(t, r.cursors.saved, 1)
	assert.Equal(t, model.ScanCursor{}, r.cursors.saved[0], "full sweep resets the cursor")
}

func TestTickSubmitsSettleAfterShutdown(t *testing.T) {
	r := newRig(t, 0)
	r.put("BTC", "alice", "100", "1000")
	r.put("BTC", "bob", "100", "0")
	r.shutdown.active = true

	r.scanner.Tick(context.Background())

	cmds := r.drain()
	require.Len(t, cmds, 1)
	assert.Equal(t, model.CommandSettle, cmds[0].Kind)
	assert.Equal(t, "alice", cmds[0].Owner, "debt-free positions are not settle candidates")
}

func TestTickIterationBudget(t *testing.T) {
	r := newRig(t, 2)
	r.put("BTC", "alice", "100", "1000")
	r.put("BTC", "bob", "100", "1000")
	r.put("BTC", "carol", "100", "1000")

	r.scanner.Tick(context.Background())

	cmds := r.drain()
	require.Len(t, cmds, 2, "budget of 2 covers alice and bob only")
	assert.Equal(t, "alice", cmds[0].Owner)
	assert.Equal(t, "bob", cmds[1].Owner)
	require.Len(t, r.cursors.saved, 1)
	assert.Equal(t, model.ScanCursor{CollateralType: "BTC", Owner: "bob"}, r.cursors.saved[0])
}

func TestTickResumesFromCursor(t *testing.T) {
	r := newRig(t, 0)
	r.put("BTC", "alice", "100", "1000")
	r.put("BTC", "bob", "100", "1000")
	r.put("ETH", "dave", "100", "1000")
	r.cursors.cursor = model.ScanCursor{CollateralType: "BTC", Owner: "alice"}

	r.scanner.Tick(context.Background())

	owners := map[string]int{}
	for _, cmd := range r.drain() {
		owners[cmd.Owner]++
	}
	assert.Equal(t, map[string]int{"bob": 1, "dave": 1}, owners,
		"owners at or before the cursor are skipped this tick")
}

func TestTickBudgetThenResumeCoversWholeSpace(t *testing.T) {
	r := newRig(t, 2)
	r.put("BTC", "alice", "100", "1000")
	r.put("BTC", "bob", "100", "1000")
	r.put("ETH", "carol", "100", "1000")

	r.scanner.Tick(context.Background())
	first := r.drain()
	require.Len(t, first, 2)
	assert.Equal(t, "alice", first[0].Owner)
	assert.Equal(t, "bob", first[1].Owner)
	assert.Equal(t, model.ScanCursor{CollateralType: "ETH"}, r.cursors.cursor)

	// Nothing was resolved between ticks, so after carol the sweep wraps back
	// to the still-unsafe BTC positions until the budget runs out again.
	r.scanner.Tick(context.Background())
	second := r.drain()
	require.Len(t, second, 2)
	assert.Equal(t, "carol", second[0].Owner)
	assert.Equal(t, "alice", second[1].Owner)
	assert.Equal(t, model.ScanCursor{CollateralType: "BTC", Owner: "alice"}, r.cursors.cursor)
}

func TestTickSkipsPositionsWithFailedChecks(t *testing.T) {
	r := newRig(t, 0)
	r.put("BTC", "alice", "100", "1000")
	r.put("ETH", "bob", "100", "1000")
	delete(r.prices, "ETH")

	r.scanner.Tick(context.Background())

	cmds := r.drain()
	require.Len(t, cmds, 1, "the unpriceable position is skipped, not fatal")
	assert.Equal(t, "alice", cmds[0].Owner)
	require.Len(t, r.cursors.saved, 1)
	assert.Equal(t, model.ScanCursor{}, r.cursors.saved[0], "the sweep still completes")
}

func TestTickLockErrorIsFatalForTheTick(t *testing.T) {
	r := newRig(t, 0)
	r.put("BTC", "alice", "100", "1000")
	r.lock.err = errors.New("redis down")
	r.lock.acquired = false

	r.scanner.Tick(context.Background())

	assert.Empty(t, r.drain())
}
