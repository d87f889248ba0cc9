package loans

import (
	"errors"
	"math/big"

	"tranchor/fixedpoint"
)

var (
	// ErrInvalidRate signals a per-second rate below One, which would
	// compound debt downwards.
	ErrInvalidRate = errors.New("loans: rate per second below one")
	// ErrAccrualOutOfOrder signals an accrual time before the last update.
	ErrAccrualOutOfOrder = errors.New("loans: accrual time precedes last update")
	// ErrDebtUnderflow signals a normalized debt decrease below zero.
	ErrDebtUnderflow = errors.New("loans: normalized debt underflow")
)

// RateGroup compounds interest for every loan sharing one per-second rate.
// The accumulated factor starts at One when the rate is first referenced and
// multiplies by ratePerSec for every elapsed second. Debt bookkeeping stays
// rate-independent: loans store their debt divided by the factor at drawdown
// time, and multiplying by the current factor recovers the accrued amount.
type RateGroup struct {
	RatePerSec        *big.Int `json:"rate_per_sec"`
	AccumulatedFactor *big.Int `json:"accumulated_factor"`
	LastUpdated       int64    `json:"last_updated"`
}

// NewRateGroup starts a rate group at factor One as of now.
func NewRateGroup(ratePerSec *big.Int, now int64) (*RateGroup, error) {
	if ratePerSec == nil || ratePerSec.Cmp(fixedpoint.One) < 0 {
		return nil, ErrInvalidRate
	}
	return &RateGroup{
		RatePerSec:        new(big.Int).Set(ratePerSec),
		AccumulatedFactor: new(big.Int).Set(fixedpoint.One),
		LastUpdated:       now,
	}, nil
}

// Clone returns a deep copy.
func (g *RateGroup) Clone() *RateGroup {
	if g == nil {
		return nil
	}
	clone := &RateGroup{LastUpdated: g.LastUpdated}
	if g.RatePerSec != nil {
		clone.RatePerSec = new(big.Int).Set(g.RatePerSec)
	}
	if g.AccumulatedFactor != nil {
		clone.AccumulatedFactor = new(big.Int).Set(g.AccumulatedFactor)
	}
	return clone
}

// Advance compounds the accumulated factor up to now. Advancing to the
// current update time is a no-op; moving backwards is rejected.
func (g *RateGroup) Advance(now int64) error {
	if g == nil || g.RatePerSec == nil || g.AccumulatedFactor == nil {
		return ErrInvalidRate
	}
	if now < g.LastUpdated {
		return ErrAccrualOutOfOrder
	}
	if now == g.LastUpdated {
		return nil
	}
	step, err := fixedpoint.RayPow(g.RatePerSec, uint64(now-g.LastUpdated))
	if err != nil {
		return err
	}
	factor, err := fixedpoint.RayMul(g.AccumulatedFactor, step)
	if err != nil {
		return err
	}
	g.AccumulatedFactor = factor
	g.LastUpdated = now
	return nil
}

// Debt converts a normalized debt back into pool currency at the current
// factor.
func (g *RateGroup) Debt(normalized *big.Int) (*big.Int, error) {
	if g == nil || g.AccumulatedFactor == nil {
		return nil, ErrInvalidRate
	}
	if normalized == nil || normalized.Sign() == 0 {
		return big.NewInt(0), nil
	}
	return fixedpoint.RayMul(normalized, g.AccumulatedFactor)
}

// Normalize divides a pool-currency amount by the current factor. The
// truncated result can understate the amount by one unit at most.
func (g *RateGroup) Normalize(amount *big.Int) (*big.Int, error) {
	if g == nil || g.AccumulatedFactor == nil {
		return nil, ErrInvalidRate
	}
	if amount == nil || amount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	return fixedpoint.RayDiv(amount, g.AccumulatedFactor)
}

// AdjustNormalizedDebt applies a signed pool-currency delta to a normalized
// debt under this rate group: positive deltas add newly normalized debt,
// negative deltas subtract and fail with ErrDebtUnderflow when they would
// push the normalized debt below zero.
func (g *RateGroup) AdjustNormalizedDebt(normalized, delta *big.Int) (*big.Int, error) {
	current := big.NewInt(0)
	if normalized != nil {
		current.Set(normalized)
	}
	if delta == nil || delta.Sign() == 0 {
		return current, nil
	}
	magnitude, err := g.Normalize(new(big.Int).Abs(delta))
	if err != nil {
		return nil, err
	}
	if delta.Sign() > 0 {
		return current.Add(current, magnitude), nil
	}
	if current.Cmp(magnitude) < 0 {
		return nil, ErrDebtUnderflow
	}
	return current.Sub(current, magnitude), nil
}

// rateKey derives the state key a per-second rate is grouped under.
func rateKey(ratePerSec *big.Int) string {
	if ratePerSec == nil {
		return "0"
	}
	return ratePerSec.String()
}
