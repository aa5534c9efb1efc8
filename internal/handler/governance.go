package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/openstable/cdpcore/internal/middleware"
	"github.com/openstable/cdpcore/internal/model"
	"github.com/openstable/cdpcore/internal/service"
)

type GovernanceHandler struct {
	svc *service.CDPService
}

func NewGovernanceHandler(svc *service.CDPService) *GovernanceHandler {
	return &GovernanceHandler{svc: svc}
}

// paramChange is one nullable risk parameter in a set-params request. Omit
// the field to leave the parameter alone; send {"value": null} to clear it;
// send {"value": "1.5"} to set it.
type paramChange struct {
	Value *string `json:"value"`
}

type setParamsRequest struct {
	InterestRatePerSec      *paramChange `json:"interest_rate_per_sec"`
	LiquidationRatio        *paramChange `json:"liquidation_ratio"`
	LiquidationPenalty      *paramChange `json:"liquidation_penalty"`
	RequiredCollateralRatio *paramChange `json:"required_collateral_ratio"`
	MaxTotalDebitValue      *string      `json:"max_total_debit_value"`
}

func (r setParamsRequest) toUpdate() (model.ParamsUpdate, error) {
	var update model.ParamsUpdate

	optional := func(ch *paramChange, dst *model.Change[*decimal.Decimal]) error {
		if ch == nil {
			return nil
		}
		if ch.Value == nil {
			*dst = model.NewValue[*decimal.Decimal](nil)
			return nil
		}
		v, err := decimal.NewFromString(*ch.Value)
		if err != nil {
			return err
		}
		*dst = model.NewValue(&v)
		return nil
	}

	if err := optional(r.InterestRatePerSec, &update.InterestRatePerSec); err != nil {
		return update, err
	}
	if err := optional(r.LiquidationRatio, &update.LiquidationRatio); err != nil {
		return update, err
	}
	if err := optional(r.LiquidationPenalty, &update.LiquidationPenalty); err != nil {
		return update, err
	}
	if err := optional(r.RequiredCollateralRatio, &update.RequiredCollateralRatio); err != nil {
		return update, err
	}
	if r.MaxTotalDebitValue != nil {
		v, err := decimal.NewFromString(*r.MaxTotalDebitValue)
		if err != nil {
			return update, err
		}
		update.MaxTotalDebitValue = model.NewValue(v)
	}
	return update, nil
}

// SetParams applies a partial risk-parameter update to one collateral type.
func (h *GovernanceHandler) SetParams(c *gin.Context) {
	collateral := model.AssetID(c.Param("collateral"))
	var req setParamsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	update, err := req.toUpdate()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.svc.SetCollateralParams(c.Request.Context(), middleware.Callers(c), collateral, update); err != nil {
		c.Error(err)
		c.Abort()
		return
	}
	params, _ := h.svc.Params(collateral)
	c.JSON(http.StatusOK, params)
}

// GetParams returns the current risk parameters for one collateral type.
func (h *GovernanceHandler) GetParams(c *gin.Context) {
	collateral := model.AssetID(c.Param("collateral"))
	params, ok := h.svc.Params(collateral)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "collateral type not configured"})
		return
	}
	c.JSON(http.StatusOK, params)
}

// ListCollateralTypes returns every configured collateral type.
func (h *GovernanceHandler) ListCollateralTypes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"collateral_types": h.svc.CollateralTypes()})
}

type registerContractRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// RegisterContract appends a liquidation contract endpoint to the registry.
func (h *GovernanceHandler) RegisterContract(c *gin.Context) {
	var req registerContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.svc.RegisterLiquidationContract(c.Request.Context(), middleware.Callers(c), req.Endpoint); err != nil {
		c.Error(err)
		c.Abort()
		return
	}
	c.JSON(http.StatusOK, gin.H{"contracts": h.svc.Contracts()})
}

// DeregisterContract removes a liquidation contract endpoint.
func (h *GovernanceHandler) DeregisterContract(c *gin.Context) {
	var req registerContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.svc.DeregisterLiquidationContract(c.Request.Context(), middleware.Callers(c), req.Endpoint); err != nil {
		c.Error(err)
		c.Abort()
		return
	}
	c.JSON(http.StatusOK, gin.H{"contracts": h.svc.Contracts()})
}

// ListContracts returns the ordered contract registry.
func (h *GovernanceHandler) ListContracts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"contracts": h.svc.Contracts()})
}

// TriggerShutdown flips the one-way global shutdown switch.
func (h *GovernanceHandler) TriggerShutdown(c *gin.Context) {
	if err := h.svc.TriggerShutdown(c.Request.Context(), middleware.Callers(c)); err != nil {
		c.Error(err)
		c.Abort()
		return
	}
	c.JSON(http.StatusOK, gin.H{"shutdown": true})
}

// ForceSettle settles one position regardless of the shutdown flag. Operator
// capability is checked in the service.
func (h *GovernanceHandler) ForceSettle(c *gin.Context) {
	collateral := model.AssetID(c.Param("collateral"))
	owner := c.Param("owner")
	rec, err := h.svc.ForceSettleCDP(c.Request.Context(), middleware.Callers(c), owner, collateral)
	if err != nil {
		c.Error(err)
		c.Abort()
		return
	}
	c.JSON(http.StatusOK, rec)
}
