package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openstable/cdpcore/internal/pkg/apperrors"
)

func TestRegisterLiquidationContract(t *testing.T) {
	rig := newTestRig(t)

	require.NoError(t, rig.eng.RegisterLiquidationContract(rig.st, contractA))
	require.NoError(t, rig.eng.RegisterLiquidationContract(rig.st, contractB))
	assert.Len(t, rig.st.Contracts(), 2)

	// Registration order is preserved; contracts are tried in order.
	contracts := rig.st.Contracts()
	assert.Contains(t, contracts[0], "0x1111")
	assert.Contains(t, contracts[1], "0x2222")
}

func TestRegisterLiquidationContractRejectsDuplicates(t *testing.T) {
	rig := newTestRig(t)
	require.NoError(t, rig.eng.RegisterLiquidationContract(rig.st, contractA))

	// Same address in a different checksum casing is still a duplicate.
	err := rig.eng.RegisterLiquidationContract(rig.st, "0X1111111111111111111111111111111111111111")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrInvalidRequest, apperrors.TypeOf(err))
	assert.Len(t, rig.st.Contracts(), 1)
}

func TestRegisterLiquidationContractValidation(t *testing.T) {
	rig := newTestRig(t)
	err := rig.eng.RegisterLiquidationContract(rig.st, "not-an-address")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrInvalidRequest, apperrors.TypeOf(err))
}

func TestRegisterLiquidationContractBounded(t *testing.T) {
	rig := newTestRig(t)
	for i := 0; i < MaxLiquidationContracts; i++ {
		addr := fmt.Sprintf("0x%040x", i+1)
		require.NoError(t, rig.eng.RegisterLiquidationContract(rig.st, addr))
	}
	err := rig.eng.RegisterLiquidationContract(rig.st, fmt.Sprintf("0x%040x", 99))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrInvalidRequest, apperrors.TypeOf(err))
}

func TestDeregisterLiquidationContract(t *testing.T) {
	rig := newTestRig(t)
	require.NoError(t, rig.eng.RegisterLiquidationContract(rig.st, contractA))
	require.NoError(t, rig.eng.RegisterLiquidationContract(rig.st, contractB))

	require.NoError(t, rig.eng.DeregisterLiquidationContract(rig.st, contractA))
	contracts := rig.st.Contracts()
	require.Len(t, contracts, 1)
	assert.Contains(t, contracts[0], "0x2222")

	err := rig.eng.DeregisterLiquidationContract(rig.st, contractA)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrNotFound, apperrors.TypeOf(err))
}
