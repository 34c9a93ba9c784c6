package listing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_ValidatePrice(t *testing.T) {
	m := &Manager{}

	evr := decimal.NewFromInt(10)
	require.NoError(t, m.validatePrice(PriceSpec{AssetName: "GOLD", PriceEVR: &evr}))

	assetName := "SILVER"
	assetAmt := decimal.NewFromInt(5)
	require.NoError(t, m.validatePrice(PriceSpec{AssetName: "GOLD", PriceAssetName: &assetName, PriceAssetAmount: &assetAmt}))

	err := m.validatePrice(PriceSpec{AssetName: "GOLD"})
	assert.Error(t, err)

	err = m.validatePrice(PriceSpec{})
	assert.Error(t, err)
}

func TestAssetGuardPrice_IsDistinguishable(t *testing.T) {
	assert.True(t, AssetGuardPrice.Equal(decimal.New(999999999999, 0)))
	assert.False(t, decimal.NewFromInt(100).Equal(AssetGuardPrice))
}
