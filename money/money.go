// Package money computes claim amounts and fees in integer minor currency units.
//
// The same Calculate is used for the diner-facing fee estimate and for the
// amount sent to the gateway, so a client estimate can never drift from the
// authoritative charge.
package money

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidTotal  = errors.New("order total must be positive")
	ErrInvalidAmount = errors.New("claimed amount must be positive")
)

// Breakdown is what one diner pays for a claimed portion of the bill
type Breakdown struct {
	ClaimedAmount   int64 `json:"claimed_amount"`
	SplitFeePortion int64 `json:"split_fee_portion"`
	TotalToPay      int64 `json:"total_to_pay"`
}

// Calculate allocates the fixed per-transaction fee proportionally among diners
// who split the bill. Paying the whole bill waives the fee. The share is always
// computed against the full order total, not what is left of it.
func Calculate(totalAmount, claimedAmount, fixedFeePerTransaction int64) (Breakdown, error) {
	if totalAmount <= 0 {
		return Breakdown{}, ErrInvalidTotal
	}
	if claimedAmount <= 0 {
		return Breakdown{}, ErrInvalidAmount
	}
	var fee int64
	if claimedAmount < totalAmount {
		fee = decimal.NewFromInt(fixedFeePerTransaction).
			Mul(decimal.NewFromInt(claimedAmount)).
			Div(decimal.NewFromInt(totalAmount)).
			Round(0).
			IntPart()
	}
	return Breakdown{
		ClaimedAmount:   claimedAmount,
		SplitFeePortion: fee,
		TotalToPay:      claimedAmount + fee,
	}, nil
}

// MarketplaceFee is the platform commission on amount, in basis points
func MarketplaceFee(amount int64, bps int64) int64 {
	if amount <= 0 || bps <= 0 {
		return 0
	}
	return decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(bps)).
		Div(decimal.NewFromInt(10000)).
		Round(0).
		IntPart()
}

// ToMajor converts minor units into the decimal amount a gateway expects
func ToMajor(minor int64, decimals int32) decimal.Decimal {
	return decimal.New(minor, -decimals)
}

// FromMajor converts a gateway decimal amount back into minor units
func FromMajor(major decimal.Decimal, decimals int32) int64 {
	return major.Shift(decimals).Round(0).IntPart()
}
