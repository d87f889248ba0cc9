package fixedpoint

import "math/big"

var (
	// One is the ray unit, 10^27. A compounding factor of One means no
	// interest has accrued; a fraction of One means 100%.
	One = mustBigInt("1000000000000000000000000000")

	secondsPerYear = big.NewInt(SecondsPerYear)
)

func checkRay(v *big.Int) error {
	return Ray.Check(v)
}

// RayMul multiplies two ray-scaled values and truncates the product back to
// ray precision. Operands must be non-negative.
func RayMul(a, b *big.Int) (*big.Int, error) {
	if a == nil || b == nil {
		return big.NewInt(0), nil
	}
	if err := checkRay(a); err != nil {
		return nil, err
	}
	if err := checkRay(b); err != nil {
		return nil, err
	}
	product := new(big.Int).Mul(a, b)
	product.Quo(product, One)
	if err := checkRay(product); err != nil {
		return nil, err
	}
	return product, nil
}

// RayDiv divides a by b at ray precision, truncating toward zero.
func RayDiv(a, b *big.Int) (*big.Int, error) {
	if b == nil || b.Sign() == 0 {
		return nil, ErrDivideByZero
	}
	if a == nil {
		return big.NewInt(0), nil
	}
	if err := checkRay(a); err != nil {
		return nil, err
	}
	if err := checkRay(b); err != nil {
		return nil, err
	}
	quotient := new(big.Int).Mul(a, One)
	quotient.Quo(quotient, b)
	if err := checkRay(quotient); err != nil {
		return nil, err
	}
	return quotient, nil
}

// RayPow raises a ray-scaled base to an integer exponent by square and
// multiply, truncating after every step. The zero exponent yields One.
func RayPow(base *big.Int, exp uint64) (*big.Int, error) {
	if exp == 0 {
		return new(big.Int).Set(One), nil
	}
	if base == nil {
		return big.NewInt(0), nil
	}
	if err := checkRay(base); err != nil {
		return nil, err
	}
	result := new(big.Int).Set(One)
	square := new(big.Int).Set(base)
	var err error
	for e := exp; e > 0; e >>= 1 {
		if e&1 == 1 {
			if result, err = RayMul(result, square); err != nil {
				return nil, err
			}
		}
		if e > 1 {
			if square, err = RayMul(square, square); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

// RatePerSecond converts a nominal annual rate expressed as a ray fraction
// into the per-second compounding rate One + rate/SecondsPerYear.
func RatePerSecond(annualRate *big.Int) (*big.Int, error) {
	if annualRate == nil || annualRate.Sign() == 0 {
		return new(big.Int).Set(One), nil
	}
	if err := checkRay(annualRate); err != nil {
		return nil, err
	}
	perSecond := new(big.Int).Quo(annualRate, secondsPerYear)
	perSecond.Add(perSecond, One)
	return perSecond, nil
}

// FractionOf applies a ray fraction to an amount, truncating toward zero.
// FractionOf(x, One) returns x; FractionOf(x, 0) returns zero.
func FractionOf(amount, fraction *big.Int) (*big.Int, error) {
	return RayMul(amount, fraction)
}
