package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/openstable/cdpcore/internal/model"
	"github.com/openstable/cdpcore/internal/repository"
	"github.com/openstable/cdpcore/internal/service"
	"github.com/openstable/cdpcore/internal/venue"
)

type LiquidationHandler struct {
	svc      *service.CDPService
	records  *repository.RecordStore
	auctions *venue.AuctionHouse
}

func NewLiquidationHandler(svc *service.CDPService, records *repository.RecordStore, auctions *venue.AuctionHouse) *LiquidationHandler {
	return &LiquidationHandler{svc: svc, records: records, auctions: auctions}
}

type liquidateRequest struct {
	CollateralType string `json:"collateral_type" binding:"required"`
	Owner          string `json:"owner" binding:"required"`
	ContractsOnly  bool   `json:"contracts_only"`
}

// Liquidate runs the full strategy chain against one unsafe position, or
// only the registered contracts when contracts_only is set.
func (h *LiquidationHandler) Liquidate(c *gin.Context) {
	var req liquidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var (
		rec *model.LiquidationRecord
		err error
	)
	if req.ContractsOnly {
		rec, err = h.svc.LiquidateViaContracts(c.Request.Context(), req.Owner, model.AssetID(req.CollateralType))
	} else {
		rec, err = h.svc.LiquidateUnsafeCDP(c.Request.Context(), req.Owner, model.AssetID(req.CollateralType))
	}
	if err != nil {
		c.Error(err)
		c.Abort()
		return
	}
	c.JSON(http.StatusOK, rec)
}

type settleRequest struct {
	CollateralType string `json:"collateral_type" binding:"required"`
	Owner          string `json:"owner" binding:"required"`
}

// Settle writes off one position after global shutdown.
func (h *LiquidationHandler) Settle(c *gin.Context) {
	var req settleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := h.svc.SettleCDPHasDebit(c.Request.Context(), req.Owner, model.AssetID(req.CollateralType))
	if err != nil {
		c.Error(err)
		c.Abort()
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Records lists liquidation records, newest first.
func (h *LiquidationHandler) Records(c *gin.Context) {
	if h.records == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "record store not configured"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	filter := repository.RecordFilter{
		CollateralType: c.Query("collateral_type"),
		Owner:          c.Query("owner"),
		Strategy:       c.Query("strategy"),
		Limit:          limit,
		Offset:         offset,
	}
	records, err := h.records.List(c.Request.Context(), filter)
	if err != nil {
		c.Error(err)
		c.Abort()
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

// Pools returns the debt and surplus pool balances.
func (h *LiquidationHandler) Pools(c *gin.Context) {
	debt, surplus := h.svc.Pools()
	c.JSON(http.StatusOK, gin.H{
		"debt_pool":    debt,
		"surplus_pool": surplus,
	})
}

// Auctions lists open collateral auctions.
func (h *LiquidationHandler) Auctions(c *gin.Context) {
	if h.auctions == nil {
		c.JSON(http.StatusOK, gin.H{"auctions": []venue.Auction{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"auctions": h.auctions.Open()})
}

// Shutdown reports the global shutdown flag.
func (h *LiquidationHandler) Shutdown(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"shutdown": h.svc.IsShutdown()})
}
