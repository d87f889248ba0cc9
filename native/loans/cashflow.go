package loans

import (
	"errors"
	"math/big"

	"tranchor/fixedpoint"
)

// ErrInvalidLifetime signals a cashflow projection whose maturity does not
// lie strictly after the origination date.
var ErrInvalidLifetime = errors.New("loans: maturity precedes origination")

// CashflowPayment is one expected repayment leg of a loan.
type CashflowPayment struct {
	// When is the unix second the payment falls due.
	When int64 `json:"when"`
	// Principal is the principal portion of the payment.
	Principal *big.Int `json:"principal"`
	// Interest is the interest portion of the payment.
	Interest *big.Int `json:"interest"`
}

// Clone returns a deep copy.
func (c CashflowPayment) Clone() CashflowPayment {
	clone := CashflowPayment{When: c.When}
	if c.Principal != nil {
		clone.Principal = new(big.Int).Set(c.Principal)
	}
	if c.Interest != nil {
		clone.Interest = new(big.Int).Set(c.Interest)
	}
	return clone
}

// ExpectedCashflows projects the repayment legs of the schedule. Principal
// is the amount expected back, principalBase the amount interest has not yet
// been charged on; for a bullet loan both are the outstanding principal. The
// total interest over the lifetime is principal compounded from origination
// to maturity minus the base. With interest due once at maturity and no
// pay-down schedule the projection is a single payment at the maturity date.
// Perpetual schedules have no scheduled legs and project to nil.
func (s RepaymentSchedule) ExpectedCashflows(principal, principalBase, ratePerSec *big.Int, origination int64) ([]CashflowPayment, error) {
	if s.Maturity.Kind == MaturityNone {
		return nil, nil
	}
	maturity := s.Maturity.Date
	if maturity <= origination {
		return nil, ErrInvalidLifetime
	}
	base := big.NewInt(0)
	if principalBase != nil {
		base.Set(principalBase)
	}
	due := big.NewInt(0)
	if principal != nil {
		due.Set(principal)
	}
	factor, err := fixedpoint.RayPow(ratePerSec, uint64(maturity-origination))
	if err != nil {
		return nil, err
	}
	compounded, err := fixedpoint.RayMul(due, factor)
	if err != nil {
		return nil, err
	}
	interest := new(big.Int).Sub(compounded, base)
	if interest.Sign() < 0 {
		interest.SetInt64(0)
	}
	return []CashflowPayment{{
		When:      maturity,
		Principal: due,
		Interest:  interest,
	}}, nil
}

// SumCashflowsBefore totals principal and interest of every payment falling
// strictly before the cutoff.
func SumCashflowsBefore(flows []CashflowPayment, until int64) *big.Int {
	total := big.NewInt(0)
	for _, flow := range flows {
		if flow.When >= until {
			continue
		}
		if flow.Principal != nil {
			total.Add(total, flow.Principal)
		}
		if flow.Interest != nil {
			total.Add(total, flow.Interest)
		}
	}
	return total
}
