package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/openstable/cdpcore/internal/middleware"
	"github.com/openstable/cdpcore/internal/model"
	"github.com/openstable/cdpcore/internal/pkg/apperrors"
	"github.com/openstable/cdpcore/internal/service"
)

type PositionHandler struct {
	svc *service.CDPService
}

func NewPositionHandler(svc *service.CDPService) *PositionHandler {
	return &PositionHandler{svc: svc}
}

// caller resolves the position owner: the authenticated account's ID.
func caller(c *gin.Context) (string, bool) {
	accountVal, exists := c.Get(middleware.ContextAccountKey)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized: missing account context"})
		return "", false
	}
	return accountVal.(*model.Account).ID, true
}

func parseAmount(c *gin.Context, field, raw string) (decimal.Decimal, bool) {
	if raw == "" {
		return decimal.Zero, true
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": field + " is not a valid decimal"})
		return decimal.Decimal{}, false
	}
	return v, true
}

type adjustRequest struct {
	CollateralType  string `json:"collateral_type" binding:"required"`
	CollateralDelta string `json:"collateral_delta"`
	DebitDelta      string `json:"debit_delta"`
}

// Adjust changes a position by collateral and debit share deltas.
func (h *PositionHandler) Adjust(c *gin.Context) {
	owner, ok := caller(c)
	if !ok {
		return
	}
	var req adjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	collateralDelta, ok := parseAmount(c, "collateral_delta", req.CollateralDelta)
	if !ok {
		return
	}
	debitDelta, ok := parseAmount(c, "debit_delta", req.DebitDelta)
	if !ok {
		return
	}

	if err := h.svc.AdjustPosition(c.Request.Context(), owner, model.AssetID(req.CollateralType), collateralDelta, debitDelta); err != nil {
		c.Error(err)
		c.Abort()
		return
	}
	c.JSON(http.StatusOK, h.svc.Position(model.AssetID(req.CollateralType), owner))
}

type adjustByValueRequest struct {
	CollateralType  string `json:"collateral_type" binding:"required"`
	CollateralDelta string `json:"collateral_delta"`
	DebitValueDelta string `json:"debit_value_delta"`
}

// AdjustByDebitValue changes a position with the debit leg expressed in
// stable value rather than debit shares. Overpayment is clipped.
func (h *PositionHandler) AdjustByDebitValue(c *gin.Context) {
	owner, ok := caller(c)
	if !ok {
		return
	}
	var req adjustByValueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	collateralDelta, ok := parseAmount(c, "collateral_delta", req.CollateralDelta)
	if !ok {
		return
	}
	debitValueDelta, ok := parseAmount(c, "debit_value_delta", req.DebitValueDelta)
	if !ok {
		return
	}

	if err := h.svc.AdjustPositionByDebitValue(c.Request.Context(), owner, model.AssetID(req.CollateralType), collateralDelta, debitValueDelta); err != nil {
		c.Error(err)
		c.Abort()
		return
	}
	c.JSON(http.StatusOK, h.svc.Position(model.AssetID(req.CollateralType), owner))
}

type expandRequest struct {
	CollateralType        string `json:"collateral_type" binding:"required"`
	IncreaseDebitValue    string `json:"increase_debit_value" binding:"required"`
	MinIncreaseCollateral string `json:"min_increase_collateral"`
}

// Expand borrows stable value and swaps it into additional collateral in one
// operation.
func (h *PositionHandler) Expand(c *gin.Context) {
	owner, ok := caller(c)
	if !ok {
		return
	}
	var req expandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	increase, ok := parseAmount(c, "increase_debit_value", req.IncreaseDebitValue)
	if !ok {
		return
	}
	minCollateral, ok := parseAmount(c, "min_increase_collateral", req.MinIncreaseCollateral)
	if !ok {
		return
	}

	if err := h.svc.ExpandPositionCollateral(c.Request.Context(), owner, model.AssetID(req.CollateralType), increase, minCollateral); err != nil {
		c.Error(err)
		c.Abort()
		return
	}
	c.JSON(http.StatusOK, h.svc.Position(model.AssetID(req.CollateralType), owner))
}

type shrinkRequest struct {
	CollateralType        string `json:"collateral_type" binding:"required"`
	DecreaseCollateral    string `json:"decrease_collateral" binding:"required"`
	MinDecreaseDebitValue string `json:"min_decrease_debit_value"`
}

// Shrink sells collateral through the swap venue and retires debt with the
// proceeds.
func (h *PositionHandler) Shrink(c *gin.Context) {
	owner, ok := caller(c)
	if !ok {
		return
	}
	var req shrinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	decrease, ok := parseAmount(c, "decrease_collateral", req.DecreaseCollateral)
	if !ok {
		return
	}
	minDebitValue, ok := parseAmount(c, "min_decrease_debit_value", req.MinDecreaseDebitValue)
	if !ok {
		return
	}

	if err := h.svc.ShrinkPositionDebit(c.Request.Context(), owner, model.AssetID(req.CollateralType), decrease, minDebitValue); err != nil {
		c.Error(err)
		c.Abort()
		return
	}
	c.JSON(http.StatusOK, h.svc.Position(model.AssetID(req.CollateralType), owner))
}

type closeRequest struct {
	CollateralType      string `json:"collateral_type" binding:"required"`
	MaxCollateralAmount string `json:"max_collateral_amount" binding:"required"`
}

// Close retires the whole debt by selling collateral and refunds the rest.
func (h *PositionHandler) Close(c *gin.Context) {
	owner, ok := caller(c)
	if !ok {
		return
	}
	var req closeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	maxAmount, ok := parseAmount(c, "max_collateral_amount", req.MaxCollateralAmount)
	if !ok {
		return
	}

	if err := h.svc.CloseCDPHasDebitByDEX(c.Request.Context(), owner, model.AssetID(req.CollateralType), maxAmount); err != nil {
		c.Error(err)
		c.Abort()
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "closed"})
}

// Get returns the caller's position for one collateral type.
func (h *PositionHandler) Get(c *gin.Context) {
	owner, ok := caller(c)
	if !ok {
		return
	}
	collateral := model.AssetID(c.Param("collateral"))
	pos := h.svc.Position(collateral, owner)
	if pos.IsZero() {
		c.Error(apperrors.New(apperrors.ErrNotFound, "position not found", nil))
		c.Abort()
		return
	}
	c.JSON(http.StatusOK, pos)
}

// Status returns the health classification of the caller's position.
func (h *PositionHandler) Status(c *gin.Context) {
	owner, ok := caller(c)
	if !ok {
		return
	}
	collateral := model.AssetID(c.Param("collateral"))
	status := h.svc.PositionStatus(collateral, owner)
	c.JSON(http.StatusOK, gin.H{
		"kind":   status.Kind.String(),
		"reason": status.Reason,
	})
}
