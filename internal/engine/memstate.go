package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openstable/cdpcore/internal/model"
)

// MemState is the in-process authoritative State. Zero positions are dropped
// on write so scanner iteration only ever sees live positions.
type MemState struct {
	mu sync.RWMutex

	defaultRate decimal.Decimal

	params      map[model.AssetID]model.RiskParams
	rates       map[model.AssetID]decimal.Decimal
	positions   map[posKey]model.Position
	totals      map[model.AssetID]decimal.Decimal
	balances    map[balKey]decimal.Decimal
	debtPool    decimal.Decimal
	surplusPool decimal.Decimal
	contracts   []string
	lastAccrual time.Time
}

// NewMemState returns an empty state. defaultExchangeRate is served for any
// collateral whose debit exchange rate has never been accrued.
func NewMemState(defaultExchangeRate decimal.Decimal) *MemState {
	return &MemState{
		defaultRate: defaultExchangeRate,
		params:      make(map[model.AssetID]model.RiskParams),
		rates:       make(map[model.AssetID]decimal.Decimal),
		positions:   make(map[posKey]model.Position),
		totals:      make(map[model.AssetID]decimal.Decimal),
		balances:    make(map[balKey]decimal.Decimal),
	}
}

func (s *MemState) Params(c model.AssetID) (model.RiskParams, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.params[c]
	if !ok {
		return model.RiskParams{}, false
	}
	return p.Clone(), true
}

func (s *MemState) PutParams(c model.AssetID, p model.RiskParams) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params[c] = p.Clone()
}

func (s *MemState) CollateralTypes() []model.AssetID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.AssetID, 0, len(s.params))
	for c := range s.params {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *MemState) ExchangeRate(c model.AssetID) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.rates[c]; ok {
		return r
	}
	return s.defaultRate
}

func (s *MemState) PutExchangeRate(c model.AssetID, rate decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[c] = rate
}

func (s *MemState) Position(c model.AssetID, owner string) model.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.positions[posKey{c, owner}]; ok {
		return p
	}
	return model.Position{Owner: owner, Collateral: decimal.Zero, Debit: decimal.Zero}
}

func (s *MemState) PutPosition(c model.AssetID, owner string, p model.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.IsZero() {
		delete(s.positions, posKey{c, owner})
		return
	}
	p.Owner = owner
	s.positions[posKey{c, owner}] = p
}

func (s *MemState) PositionOwners(c model.AssetID) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for k := range s.positions {
		if k.collateral == c {
			out = append(out, k.owner)
		}
	}
	sort.Strings(out)
	return out
}

func (s *MemState) TotalDebit(c model.AssetID) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.totals[c]; ok {
		return d
	}
	return decimal.Zero
}

func (s *MemState) PutTotalDebit(c model.AssetID, d decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totals[c] = d
}

func (s *MemState) Balance(owner string, asset model.AssetID) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.balances[balKey{owner, asset}]; ok {
		return b
	}
	return decimal.Zero
}

func (s *MemState) PutBalance(owner string, asset model.AssetID, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if amount.IsZero() {
		delete(s.balances, balKey{owner, asset})
		return
	}
	s.balances[balKey{owner, asset}] = amount
}

func (s *MemState) DebtPool() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.debtPool
}

func (s *MemState) PutDebtPool(d decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.debtPool = d
}

func (s *MemState) SurplusPool() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.surplusPool
}

func (s *MemState) PutSurplusPool(v decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.surplusPool = v
}

func (s *MemState) Contracts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.contracts...)
}

func (s *MemState) PutContracts(endpoints []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contracts = append([]string(nil), endpoints...)
}

func (s *MemState) LastAccrual() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastAccrual
}

func (s *MemState) PutLastAccrual(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAccrual = t
}
