package venue

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openstable/cdpcore/internal/model"
	"github.com/openstable/cdpcore/internal/pkg/logger"
)

// Auction is one open collateral auction handed over by the liquidator.
type Auction struct {
	ID         string          `json:"id"`
	Owner      string          `json:"owner"`
	Collateral model.AssetID   `json:"collateral"`
	Amount     decimal.Decimal `json:"amount"`
	Target     decimal.Decimal `json:"target"`
	CreatedAt  time.Time       `json:"created_at"`
}

// AuctionHouse accepts collateral the swap path could not absorb and keeps
// the open auctions queryable. Bid matching and clearing happen elsewhere;
// this is the hand-off point only.
type AuctionHouse struct {
	mu   sync.RWMutex
	open []Auction
}

func NewAuctionHouse() *AuctionHouse {
	return &AuctionHouse{}
}

func (h *AuctionHouse) CreateCollateralAuction(owner string, collateral model.AssetID, amount, target decimal.Decimal) error {
	a := Auction{
		ID:         uuid.NewString(),
		Owner:      owner,
		Collateral: collateral,
		Amount:     amount,
		Target:     target,
		CreatedAt:  time.Now().UTC(),
	}
	h.mu.Lock()
	h.open = append(h.open, a)
	h.mu.Unlock()

	logger.Info("collateral auction created",
		"auction_id", a.ID, "owner", owner, "collateral", string(collateral),
		"amount", amount.String(), "target", target.String())
	return nil
}

// Open lists the currently open auctions, newest last.
func (h *AuctionHouse) Open() []Auction {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Auction(nil), h.open...)
}
