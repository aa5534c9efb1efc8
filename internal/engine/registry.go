package engine

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/openstable/cdpcore/internal/pkg/apperrors"
)

// MaxLiquidationContracts bounds the registry so the contract strategy walk
// stays cheap.
const MaxLiquidationContracts = 10

// RegisterLiquidationContract appends a contract endpoint to the ordered
// registry. Endpoints are hex contract addresses; duplicates and overflow
// are rejected.
func (e *Engine) RegisterLiquidationContract(st State, endpoint string) error {
	if !common.IsHexAddress(endpoint) {
		return apperrors.New(apperrors.ErrInvalidRequest, "endpoint is not a valid contract address", nil)
	}
	canonical := common.HexToAddress(endpoint).Hex()
	contracts := st.Contracts()
	if len(contracts) >= MaxLiquidationContracts {
		return apperrors.Newf(apperrors.ErrInvalidRequest,
			"contract registry is full (max %d)", MaxLiquidationContracts)
	}
	for _, c := range contracts {
		if c == canonical {
			return apperrors.New(apperrors.ErrInvalidRequest, "contract already registered", nil)
		}
	}
	st.PutContracts(append(contracts, canonical))
	return nil
}

// DeregisterLiquidationContract removes an endpoint from the registry.
func (e *Engine) DeregisterLiquidationContract(st State, endpoint string) error {
	if !common.IsHexAddress(endpoint) {
		return apperrors.New(apperrors.ErrInvalidRequest, "endpoint is not a valid contract address", nil)
	}
	canonical := common.HexToAddress(endpoint).Hex()
	contracts := st.Contracts()
	for i, c := range contracts {
		if c == canonical {
			st.PutContracts(append(contracts[:i], contracts[i+1:]...))
			return nil
		}
	}
	return apperrors.New(apperrors.ErrNotFound, "contract is not registered", nil)
}
