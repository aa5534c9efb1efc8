package venue

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/openstable/cdpcore/internal/engine"
	"github.com/openstable/cdpcore/internal/model"
)

var (
	ErrNoPool                = errors.New("no liquidity pool for pair")
	ErrInsufficientLiquidity = errors.New("insufficient pool liquidity")
	ErrBelowMinTarget        = errors.New("output below minimum target")
	ErrExceedMaxSupply       = errors.New("required supply exceeds maximum")
)

const swapScale = 18

// AMM is a constant-product swap venue over direct pairs. It backs both the
// position adjuster's expand/shrink trades and the liquidation sale path, and
// doubles as the liquidity source for LP-share decomposition.
type AMM struct {
	mu    sync.RWMutex
	pools map[model.AssetID]*pool
}

// pool reserves for one pair, keyed by the pair's LP-share identifier.
type pool struct {
	a, b               model.AssetID
	reserveA, reserveB decimal.Decimal
	totalShares        decimal.Decimal
}

func NewAMM() *AMM {
	return &AMM{pools: make(map[model.AssetID]*pool)}
}

// AddLiquidity seeds or grows the (a, b) pool and returns the LP shares
// issued. The first deposit mints shares equal to the amount of a.
func (m *AMM) AddLiquidity(a, b model.AssetID, amountA, amountB decimal.Decimal) (model.AssetID, decimal.Decimal, error) {
	if !amountA.IsPositive() || !amountB.IsPositive() {
		return "", decimal.Zero, fmt.Errorf("liquidity amounts must be positive")
	}
	share := model.LPShareOf(a, b)
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pools[share]
	if !ok {
		m.pools[share] = &pool{a: a, b: b, reserveA: amountA, reserveB: amountB, totalShares: amountA}
		return share, amountA, nil
	}
	// Proportional issue against the a-side reserve.
	issued := amountA.Mul(p.totalShares).DivRound(p.reserveA, swapScale)
	p.reserveA = p.reserveA.Add(amountA)
	p.reserveB = p.reserveB.Add(amountB)
	p.totalShares = p.totalShares.Add(issued)
	return share, issued, nil
}

// GetLiquidityPool returns the current reserves for the pair holding the two
// assets, in (supply, target) order.
func (m *AMM) GetLiquidityPool(supply, target model.AssetID) (decimal.Decimal, decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, sup, tgt, err := m.lookup(supply, target)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return sup, tgt, nil
}

func (m *AMM) lookup(supply, target model.AssetID) (*pool, decimal.Decimal, decimal.Decimal, error) {
	if p, ok := m.pools[model.LPShareOf(supply, target)]; ok {
		return p, p.reserveA, p.reserveB, nil
	}
	if p, ok := m.pools[model.LPShareOf(target, supply)]; ok {
		return p, p.reserveB, p.reserveA, nil
	}
	return nil, decimal.Zero, decimal.Zero, fmt.Errorf("%w: %s/%s", ErrNoPool, supply, target)
}

func (m *AMM) setReserves(p *pool, supply, target model.AssetID, reserveSupply, reserveTarget decimal.Decimal) {
	if p.a == supply {
		p.reserveA, p.reserveB = reserveSupply, reserveTarget
	} else {
		p.reserveA, p.reserveB = reserveTarget, reserveSupply
	}
}

// QuoteExactSupply prices a sale of supplyAmount without executing it.
func (m *AMM) QuoteExactSupply(supply, target model.AssetID, supplyAmount decimal.Decimal) (decimal.Decimal, error) {
	if !supplyAmount.IsPositive() {
		return decimal.Zero, fmt.Errorf("supply amount must be positive")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, rs, rt, err := m.lookup(supply, target)
	if err != nil {
		return decimal.Zero, err
	}
	return amountOut(rs, rt, supplyAmount), nil
}

// SwapExactSupply trades exactly supplyAmount for as much target as the pool
// gives, failing without effect when the output would be below minTarget.
func (m *AMM) SwapExactSupply(supply, target model.AssetID, supplyAmount, minTarget decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	if !supplyAmount.IsPositive() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("supply amount must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, rs, rt, err := m.lookup(supply, target)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	out := amountOut(rs, rt, supplyAmount)
	if out.LessThan(minTarget) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: %s < %s", ErrBelowMinTarget, out, minTarget)
	}
	m.setReserves(p, supply, target, rs.Add(supplyAmount), rt.Sub(out))
	return supplyAmount, out, nil
}

// SwapExactTarget trades as little supply as possible for exactly
// targetAmount, failing without effect when more than maxSupply is needed.
func (m *AMM) SwapExactTarget(supply, target model.AssetID, maxSupply, targetAmount decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	if !targetAmount.IsPositive() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("target amount must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, rs, rt, err := m.lookup(supply, target)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if targetAmount.GreaterThanOrEqual(rt) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: want %s of %s reserve", ErrInsufficientLiquidity, targetAmount, rt)
	}
	in := amountIn(rs, rt, targetAmount)
	if in.GreaterThan(maxSupply) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: need %s, max %s", ErrExceedMaxSupply, in, maxSupply)
	}
	m.setReserves(p, supply, target, rs.Add(in), rt.Sub(targetAmount))
	return in, targetAmount, nil
}

// RemoveLiquidity burns LP shares and pays out the proportional reserves.
func (m *AMM) RemoveLiquidity(share model.AssetID, amount decimal.Decimal) ([]engine.AssetLot, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("share amount must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[share]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoPool, share)
	}
	if amount.GreaterThan(p.totalShares) {
		return nil, fmt.Errorf("%w: burning %s of %s shares", ErrInsufficientLiquidity, amount, p.totalShares)
	}
	frac := amount.DivRound(p.totalShares, swapScale)
	outA := p.reserveA.Mul(frac).Round(swapScale)
	outB := p.reserveB.Mul(frac).Round(swapScale)
	p.reserveA = p.reserveA.Sub(outA)
	p.reserveB = p.reserveB.Sub(outB)
	p.totalShares = p.totalShares.Sub(amount)
	return []engine.AssetLot{
		{Asset: p.a, Amount: outA},
		{Asset: p.b, Amount: outB},
	}, nil
}

// amountOut = reserveTarget * in / (reserveSupply + in), rounded down so the
// pool never pays out more than the invariant allows.
func amountOut(reserveSupply, reserveTarget, in decimal.Decimal) decimal.Decimal {
	return reserveTarget.Mul(in).Div(reserveSupply.Add(in)).RoundDown(swapScale)
}

// amountIn = reserveSupply * out / (reserveTarget - out), rounded up so the
// trader always covers the invariant.
func amountIn(reserveSupply, reserveTarget, out decimal.Decimal) decimal.Decimal {
	return reserveSupply.Mul(out).Div(reserveTarget.Sub(out)).RoundUp(swapScale)
}
