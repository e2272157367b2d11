package chain

import (
	"math/big"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestIsTxHash(t *testing.T) {
	assert.True(t, IsTxHash("0x"+strings.Repeat("ab", 32)))
	assert.False(t, IsTxHash("0xabc"))
	assert.False(t, IsTxHash("abc"))
	assert.False(t, IsTxHash(""))
}

func TestIsAddress(t *testing.T) {
	assert.True(t, IsAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7"))
	assert.False(t, IsAddress("0x123"))
}

func TestWeiConversion(t *testing.T) {
	amt := decimal.RequireFromString("1.5")
	wei := ToWei(amt)
	assert.Equal(t, "1500000000000000000", wei.String())
	assert.True(t, FromWei(wei).Equal(amt))
	assert.True(t, FromWei(nil).IsZero())
	assert.Equal(t, 0, ToWei(decimal.RequireFromString("0.0000000000000000001")).Cmp(big.NewInt(0)))
}
