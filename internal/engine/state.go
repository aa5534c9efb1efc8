package engine

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openstable/cdpcore/internal/model"
)

// State is the authoritative protocol state the engine operates on: risk
// parameters, debit exchange rates, positions, aggregate debit counters, the
// internal ledger and the liquidation contract registry. Implementations are
// in-memory; durability is layered on top by the service.
type State interface {
	Params(collateral model.AssetID) (model.RiskParams, bool)
	PutParams(collateral model.AssetID, p model.RiskParams)
	// CollateralTypes lists every collateral with registered parameters,
	// sorted for deterministic iteration.
	CollateralTypes() []model.AssetID

	// ExchangeRate returns the debit exchange rate for the collateral,
	// falling back to the configured default when never accrued.
	ExchangeRate(collateral model.AssetID) decimal.Decimal
	PutExchangeRate(collateral model.AssetID, rate decimal.Decimal)

	Position(collateral model.AssetID, owner string) model.Position
	PutPosition(collateral model.AssetID, owner string, p model.Position)
	// PositionOwners lists owners holding a non-zero position under the
	// collateral, sorted.
	PositionOwners(collateral model.AssetID) []string

	TotalDebit(collateral model.AssetID) decimal.Decimal
	PutTotalDebit(collateral model.AssetID, d decimal.Decimal)

	Balance(owner string, asset model.AssetID) decimal.Decimal
	PutBalance(owner string, asset model.AssetID, amount decimal.Decimal)

	DebtPool() decimal.Decimal
	PutDebtPool(d decimal.Decimal)
	SurplusPool() decimal.Decimal
	PutSurplusPool(s decimal.Decimal)

	Contracts() []string
	PutContracts(endpoints []string)

	LastAccrual() time.Time
	PutLastAccrual(t time.Time)
}

// Reserved ledger accounts. ModuleAccount holds collateral locked behind
// open positions; TreasuryAccount holds collateral confiscated at settlement.
const (
	ModuleAccount   = "$cdp"
	TreasuryAccount = "$treasury"
)

type posKey struct {
	collateral model.AssetID
	owner      string
}

type balKey struct {
	owner string
	asset model.AssetID
}

// Overlay buffers writes against a base State so a multi-step operation can
// be discarded wholesale on error and flushed atomically on success. Reads
// see buffered writes first. Not safe for concurrent use; callers serialize.
type Overlay struct {
	base State

	params      map[model.AssetID]model.RiskParams
	rates       map[model.AssetID]decimal.Decimal
	positions   map[posKey]model.Position
	totals      map[model.AssetID]decimal.Decimal
	balances    map[balKey]decimal.Decimal
	debtPool    *decimal.Decimal
	surplusPool *decimal.Decimal
	contracts   []string
	hasContr    bool
	lastAccrual *time.Time
}

// NewOverlay wraps base with an empty write buffer.
func NewOverlay(base State) *Overlay {
	return &Overlay{
		base:      base,
		params:    make(map[model.AssetID]model.RiskParams),
		rates:     make(map[model.AssetID]decimal.Decimal),
		positions: make(map[posKey]model.Position),
		totals:    make(map[model.AssetID]decimal.Decimal),
		balances:  make(map[balKey]decimal.Decimal),
	}
}

func (o *Overlay) Params(c model.AssetID) (model.RiskParams, bool) {
	if p, ok := o.params[c]; ok {
		return p.Clone(), true
	}
	return o.base.Params(c)
}

func (o *Overlay) PutParams(c model.AssetID, p model.RiskParams) {
	o.params[c] = p.Clone()
}

func (o *Overlay) CollateralTypes() []model.AssetID {
	seen := make(map[model.AssetID]struct{})
	for _, c := range o.base.CollateralTypes() {
		seen[c] = struct{}{}
	}
	for c := range o.params {
		seen[c] = struct{}{}
	}
	out := make([]model.AssetID, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (o *Overlay) ExchangeRate(c model.AssetID) decimal.Decimal {
	if r, ok := o.rates[c]; ok {
		return r
	}
	return o.base.ExchangeRate(c)
}

func (o *Overlay) PutExchangeRate(c model.AssetID, rate decimal.Decimal) {
	o.rates[c] = rate
}

func (o *Overlay) Position(c model.AssetID, owner string) model.Position {
	k := posKey{c, owner}
	if p, ok := o.positions[k]; ok {
		return p
	}
	return o.base.Position(c, owner)
}

func (o *Overlay) PutPosition(c model.AssetID, owner string, p model.Position) {
	p.Owner = owner
	o.positions[posKey{c, owner}] = p
}

func (o *Overlay) PositionOwners(c model.AssetID) []string {
	seen := make(map[string]bool)
	for _, owner := range o.base.PositionOwners(c) {
		seen[owner] = true
	}
	for k, p := range o.positions {
		if k.collateral != c {
			continue
		}
		seen[k.owner] = !p.IsZero()
	}
	out := make([]string, 0, len(seen))
	for owner, live := range seen {
		if live {
			out = append(out, owner)
		}
	}
	sort.Strings(out)
	return out
}

func (o *Overlay) TotalDebit(c model.AssetID) decimal.Decimal {
	if d, ok := o.totals[c]; ok {
		return d
	}
	return o.base.TotalDebit(c)
}

func (o *Overlay) PutTotalDebit(c model.AssetID, d decimal.Decimal) {
	o.totals[c] = d
}

func (o *Overlay) Balance(owner string, asset model.AssetID) decimal.Decimal {
	if b, ok := o.balances[balKey{owner, asset}]; ok {
		return b
	}
	return o.base.Balance(owner, asset)
}

func (o *Overlay) PutBalance(owner string, asset model.AssetID, amount decimal.Decimal) {
	o.balances[balKey{owner, asset}] = amount
}

func (o *Overlay) DebtPool() decimal.Decimal {
	if o.debtPool != nil {
		return *o.debtPool
	}
	return o.base.DebtPool()
}

func (o *Overlay) PutDebtPool(d decimal.Decimal) { o.debtPool = &d }

func (o *Overlay) SurplusPool() decimal.Decimal {
	if o.surplusPool != nil {
		return *o.surplusPool
	}
	return o.base.SurplusPool()
}

func (o *Overlay) PutSurplusPool(s decimal.Decimal) { o.surplusPool = &s }

func (o *Overlay) Contracts() []string {
	if o.hasContr {
		return append([]string(nil), o.contracts...)
	}
	return o.base.Contracts()
}

func (o *Overlay) PutContracts(endpoints []string) {
	o.contracts = append([]string(nil), endpoints...)
	o.hasContr = true
}

func (o *Overlay) LastAccrual() time.Time {
	if o.lastAccrual != nil {
		return *o.lastAccrual
	}
	return o.base.LastAccrual()
}

func (o *Overlay) PutLastAccrual(t time.Time) { o.lastAccrual = &t }

// PositionKey and BalanceKey key a ChangeSet's flattened write buffer.
type PositionKey struct {
	Collateral model.AssetID
	Owner      string
}

type BalanceKey struct {
	Owner string
	Asset model.AssetID
}

// ChangeSet is the flattened content of an overlay's write buffer. The
// service hands it to the persistence layer after a successful commit so the
// database only sees keys that actually changed.
type ChangeSet struct {
	Params      map[model.AssetID]model.RiskParams
	Rates       map[model.AssetID]decimal.Decimal
	Positions   map[PositionKey]model.Position
	Totals      map[model.AssetID]decimal.Decimal
	Balances    map[BalanceKey]decimal.Decimal
	DebtPool    *decimal.Decimal
	SurplusPool *decimal.Decimal
	Contracts   []string
	HasContr    bool
	LastAccrual *time.Time
}

// Changes snapshots the overlay's buffered writes.
func (o *Overlay) Changes() ChangeSet {
	cs := ChangeSet{
		Params:      make(map[model.AssetID]model.RiskParams, len(o.params)),
		Rates:       make(map[model.AssetID]decimal.Decimal, len(o.rates)),
		Positions:   make(map[PositionKey]model.Position, len(o.positions)),
		Totals:      make(map[model.AssetID]decimal.Decimal, len(o.totals)),
		Balances:    make(map[BalanceKey]decimal.Decimal, len(o.balances)),
		DebtPool:    o.debtPool,
		SurplusPool: o.surplusPool,
		LastAccrual: o.lastAccrual,
		HasContr:    o.hasContr,
	}
	for c, p := range o.params {
		cs.Params[c] = p
	}
	for c, r := range o.rates {
		cs.Rates[c] = r
	}
	for k, p := range o.positions {
		cs.Positions[PositionKey{k.collateral, k.owner}] = p
	}
	for c, d := range o.totals {
		cs.Totals[c] = d
	}
	for k, b := range o.balances {
		cs.Balances[BalanceKey{k.owner, k.asset}] = b
	}
	if o.hasContr {
		cs.Contracts = append([]string(nil), o.contracts...)
	}
	return cs
}

// Commit flushes every buffered write into the base state. The overlay must
// not be reused afterwards.
func (o *Overlay) Commit() {
	for c, p := range o.params {
		o.base.PutParams(c, p)
	}
	for c, r := range o.rates {
		o.base.PutExchangeRate(c, r)
	}
	for k, p := range o.positions {
		o.base.PutPosition(k.collateral, k.owner, p)
	}
	for c, d := range o.totals {
		o.base.PutTotalDebit(c, d)
	}
	for k, b := range o.balances {
		o.base.PutBalance(k.owner, k.asset, b)
	}
	if o.debtPool != nil {
		o.base.PutDebtPool(*o.debtPool)
	}
	if o.surplusPool != nil {
		o.base.PutSurplusPool(*o.surplusPool)
	}
	if o.hasContr {
		o.base.PutContracts(o.contracts)
	}
	if o.lastAccrual != nil {
		o.base.PutLastAccrual(*o.lastAccrual)
	}
}
