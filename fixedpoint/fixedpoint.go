// Package fixedpoint implements the integer fixed-point arithmetic used by
// the loan ledger. Amounts are big integers tagged with a Precision that
// records their fractional digits and signedness; rates and compounding
// factors are rays carrying 27 fractional digits. Every division truncates
// toward zero so repeated conversions can never mint value.
package fixedpoint

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

const (
	// RayDecimals is the number of fractional digits carried by ray values.
	RayDecimals = 27
	// SecondsPerYear is the accrual year used to derive per-second rates.
	SecondsPerYear = 31_536_000
)

var (
	// ErrPrecisionMismatch is returned when a value cannot be represented in
	// the requested precision, e.g. a negative amount in an unsigned one.
	ErrPrecisionMismatch = errors.New("fixedpoint: value not representable in target precision")
	// ErrOverflow is returned when a result exceeds the 256-bit range.
	ErrOverflow = errors.New("fixedpoint: result out of range")
	// ErrDivideByZero is returned on division by a zero denominator.
	ErrDivideByZero = errors.New("fixedpoint: divide by zero")
)

// Precision describes a fixed-point representation: the number of decimal
// fractional digits and whether negative values are admitted.
type Precision struct {
	Decimals uint8 `json:"decimals" yaml:"decimals"`
	Signed   bool  `json:"signed,omitempty" yaml:"signed,omitempty"`
}

// Ray is the precision of rates, compounding factors and fractions.
var Ray = Precision{Decimals: RayDecimals}

// Currency returns the unsigned precision of a pool currency with the given
// number of decimals.
func Currency(decimals uint8) Precision {
	return Precision{Decimals: decimals}
}

func (p Precision) scale() *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(p.Decimals)), nil)
}

// Unit returns one whole token in this precision, i.e. 10^Decimals.
func (p Precision) Unit() *big.Int {
	return p.scale()
}

// Check reports whether raw is representable in precision p: non-negative
// unless p is signed, and within 256 bits of magnitude.
func (p Precision) Check(raw *big.Int) error {
	if raw == nil {
		return nil
	}
	if raw.Sign() < 0 {
		if !p.Signed {
			return ErrPrecisionMismatch
		}
		if raw.BitLen() > 255 {
			return ErrOverflow
		}
		return nil
	}
	if p.Signed {
		if raw.BitLen() > 255 {
			return ErrOverflow
		}
		return nil
	}
	if _, overflow := uint256.FromBig(raw); overflow {
		return ErrOverflow
	}
	return nil
}

// Convert rescales raw from one precision to another of the same signedness.
// The value is multiplied by the target scale before dividing by the source
// scale, so a narrowing conversion truncates toward zero exactly once and a
// widening conversion is exact. A nil input converts to zero. Mixing signed
// and unsigned precisions is rejected rather than reinterpreted.
func Convert(raw *big.Int, from, to Precision) (*big.Int, error) {
	if raw == nil {
		return big.NewInt(0), nil
	}
	if from.Signed != to.Signed {
		return nil, ErrPrecisionMismatch
	}
	if err := from.Check(raw); err != nil {
		return nil, err
	}
	scaled := new(big.Int).Mul(raw, to.scale())
	scaled.Quo(scaled, from.scale())
	if err := to.Check(scaled); err != nil {
		return nil, err
	}
	return scaled, nil
}

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}
