package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixedFee = 800

func TestCalculate_FullPaymentWaivesFee(t *testing.T) {
	b, err := Calculate(100000, 100000, fixedFee)
	require.NoError(t, err)
	assert.Equal(t, int64(0), b.SplitFeePortion)
	assert.Equal(t, int64(100000), b.TotalToPay)
}

func TestCalculate_HalfSplit(t *testing.T) {
	first, err := Calculate(100000, 50000, fixedFee)
	require.NoError(t, err)
	second, err := Calculate(100000, 50000, fixedFee)
	require.NoError(t, err)

	assert.Equal(t, int64(400), first.SplitFeePortion)
	assert.Equal(t, int64(50400), first.TotalToPay)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(100000), first.ClaimedAmount+second.ClaimedAmount)
}

func TestCalculate_Rounding(t *testing.T) {
	tests := []struct {
		total, claimed, want int64
	}{
		{100000, 33333, 267}, // 266.664
		{100000, 1, 0},       // 0.008
		{3, 1, 267},          // 266.67
		{1000, 1, 1},         // 0.8
		{1600, 1, 1},         // 0.5 rounds half away from zero
		{100000, 99999, 800},
	}
	for _, tt := range tests {
		b, err := Calculate(tt.total, tt.claimed, fixedFee)
		require.NoError(t, err)
		assert.Equal(t, tt.want, b.SplitFeePortion, "total=%d claimed=%d", tt.total, tt.claimed)
		assert.Equal(t, tt.claimed+tt.want, b.TotalToPay)
	}
}

func TestCalculate_OverClaimIsTreatedAsFull(t *testing.T) {
	b, err := Calculate(1000, 1500, fixedFee)
	require.NoError(t, err)
	assert.Zero(t, b.SplitFeePortion)
}

func TestCalculate_InvalidInput(t *testing.T) {
	_, err := Calculate(0, 10, fixedFee)
	assert.ErrorIs(t, err, ErrInvalidTotal)
	_, err = Calculate(100, 0, fixedFee)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = Calculate(100, -5, fixedFee)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestMarketplaceFee(t *testing.T) {
	assert.Equal(t, int64(1008), MarketplaceFee(50400, 200))
	assert.Equal(t, int64(0), MarketplaceFee(50400, 0))
	assert.Equal(t, int64(1), MarketplaceFee(50, 100)) // 0.5
}

func TestMajorMinorConversion(t *testing.T) {
	assert.True(t, decimal.RequireFromString("504").Equal(ToMajor(504, 0)))
	assert.True(t, decimal.RequireFromString("5.04").Equal(ToMajor(504, 2)))
	assert.Equal(t, int64(504), FromMajor(decimal.RequireFromString("5.04"), 2))
	assert.Equal(t, int64(50400), FromMajor(decimal.RequireFromString("50400"), 0))
	assert.Equal(t, int64(505), FromMajor(decimal.RequireFromString("5.045"), 2))
}
