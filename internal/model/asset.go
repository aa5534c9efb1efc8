package model

import (
	"fmt"
	"strings"
	"sync"
)

// AssetID identifies a currency usable inside the protocol. Plain assets are
// single tokens ("BTC"); composite assets are LP shares over a pair and carry
// a "LP-A-B" identifier so they survive serialization as ordinary strings.
type AssetID string

const lpPrefix = "LP-"

func (a AssetID) IsLPShare() bool {
	return strings.HasPrefix(string(a), lpPrefix)
}

// LPShareOf builds the composite asset identifier for a pair.
func LPShareOf(a, b AssetID) AssetID {
	return AssetID(fmt.Sprintf("%s%s-%s", lpPrefix, a, b))
}

// Constituents splits a composite asset into its pair. The second return is
// false for plain tokens or malformed identifiers.
func (a AssetID) Constituents() (AssetID, AssetID, bool) {
	if !a.IsLPShare() {
		return "", "", false
	}
	parts := strings.SplitN(strings.TrimPrefix(string(a), lpPrefix), "-", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return AssetID(parts[0]), AssetID(parts[1]), true
}

// AssetRegistry is the open set of known assets. Collateral eligibility is a
// registry question; whether a collateral type is *enabled* stays with the
// parameter store (an entry there is the sole gate).
type AssetRegistry struct {
	mu     sync.RWMutex
	stable AssetID
	known  map[AssetID]struct{}
}

func NewAssetRegistry(stable AssetID) *AssetRegistry {
	r := &AssetRegistry{
		stable: stable,
		known:  make(map[AssetID]struct{}),
	}
	r.known[stable] = struct{}{}
	return r
}

func (r *AssetRegistry) StableAsset() AssetID {
	return r.stable
}

func (r *AssetRegistry) Register(ids ...AssetID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		r.known[id] = struct{}{}
	}
}

func (r *AssetRegistry) IsKnown(id AssetID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.known[id]
	return ok
}

// IsCollateralEligible reports whether the asset may back a position at all.
// The stable currency itself can never be its own collateral.
func (r *AssetRegistry) IsCollateralEligible(id AssetID) bool {
	if id == r.stable {
		return false
	}
	if a, b, ok := id.Constituents(); ok {
		return r.IsKnown(a) && r.IsKnown(b)
	}
	return r.IsKnown(id)
}
