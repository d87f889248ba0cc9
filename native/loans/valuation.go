package loans

import (
	"errors"
	"math/big"

	"tranchor/fixedpoint"
)

// ErrExpiredMaturity signals a valuation or drawdown strictly after the
// maturity date. Valuation at the maturity second itself is defined.
var ErrExpiredMaturity = errors.New("loans: maturity date has passed")

// Valuation is the result of valuing a single loan at a point in time.
type Valuation struct {
	Pool string `json:"pool"`
	ID   uint64 `json:"id"`
	// At is the valuation time in unix seconds.
	At int64 `json:"at"`
	// Debt is the accrued outstanding debt in pool currency.
	Debt *big.Int `json:"debt"`
	// Value is the present value in pool currency after any write-off
	// markdown.
	Value *big.Int `json:"value"`
	// ExpectedLoss is debt scaled by default probability and loss severity;
	// zero outside discounted cashflow valuation.
	ExpectedLoss *big.Int       `json:"expected_loss"`
	WriteOff     WriteOffStatus `json:"write_off"`
}

// DiscountedValue projects the debt to maturity at the per-second rate,
// strips the loss given default from the expected cashflow and discounts the
// remainder back to now:
//
//	ecf = debt * ratePerSec^(maturity-now) * (One - lossGivenDefault)
//	pv  = ecf / discountPerSec^(maturity-now)
//
// Valuing strictly after maturity fails with ErrExpiredMaturity; at the
// maturity second the projection window is empty, leaving the debt net of
// loss given default with no discounting.
func DiscountedValue(debt, ratePerSec *big.Int, dcf *DiscountedCashFlow, now, maturity int64) (*big.Int, error) {
	if dcf == nil {
		return nil, ErrInvalidPricing
	}
	if now > maturity {
		return nil, ErrExpiredMaturity
	}
	if debt == nil || debt.Sign() == 0 {
		return big.NewInt(0), nil
	}
	window := uint64(maturity - now)
	factor, err := fixedpoint.RayPow(ratePerSec, window)
	if err != nil {
		return nil, err
	}
	projected, err := fixedpoint.RayMul(debt, factor)
	if err != nil {
		return nil, err
	}
	recovery := new(big.Int).Set(fixedpoint.One)
	if dcf.LossGivenDefault != nil {
		recovery.Sub(recovery, dcf.LossGivenDefault)
	}
	expected, err := fixedpoint.FractionOf(projected, recovery)
	if err != nil {
		return nil, err
	}
	discountPerSec, err := fixedpoint.RatePerSecond(dcf.DiscountRate)
	if err != nil {
		return nil, err
	}
	discount, err := fixedpoint.RayPow(discountPerSec, window)
	if err != nil {
		return nil, err
	}
	return fixedpoint.RayDiv(expected, discount)
}

// ExpectedLoss scales the debt by default probability times loss severity.
func ExpectedLoss(debt *big.Int, dcf *DiscountedCashFlow) (*big.Int, error) {
	if dcf == nil {
		return big.NewInt(0), nil
	}
	if debt == nil || debt.Sign() == 0 {
		return big.NewInt(0), nil
	}
	severity, err := fixedpoint.RayMul(orZero(dcf.ProbabilityOfDefault), orZero(dcf.LossGivenDefault))
	if err != nil {
		return nil, err
	}
	return fixedpoint.FractionOf(debt, severity)
}

// ExternalValue prices an outstanding quantity at an oracle price and
// converts the result into the pool currency. Quantity and price both carry
// QuantityDecimals fractional digits.
func ExternalValue(quantity, price *big.Int, currency fixedpoint.Precision) (*big.Int, error) {
	if quantity == nil || quantity.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if price == nil || price.Sign() < 0 {
		return nil, ErrInvalidPricing
	}
	value := new(big.Int).Mul(quantity, price)
	value.Quo(value, QuantityPrecision().Unit())
	return fixedpoint.Convert(value, QuantityPrecision(), currency)
}

// applyWriteOff marks the value down by the write-off percentage.
func applyWriteOff(value *big.Int, status WriteOffStatus) (*big.Int, error) {
	if value == nil {
		return big.NewInt(0), nil
	}
	if bigIsZero(status.Percentage) {
		return new(big.Int).Set(value), nil
	}
	markdown, err := fixedpoint.FractionOf(value, status.Percentage)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Sub(value, markdown), nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
