package loans

import (
	"errors"
	"math/big"
	"testing"

	"tranchor/fixedpoint"
)

func exp10(n int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
}

// rayPercent renders n percent as a ray fraction.
func rayPercent(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), exp10(25))
}

// rayBps renders n basis points as a ray fraction.
func rayBps(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), exp10(23))
}

func perSecond(t *testing.T, annual *big.Int) *big.Int {
	t.Helper()
	rate, err := fixedpoint.RatePerSecond(annual)
	if err != nil {
		t.Fatalf("rate per second: %v", err)
	}
	return rate
}

func TestRateGroupHalfYearAccrual(t *testing.T) {
	group, err := NewRateGroup(perSecond(t, rayPercent(5)), 0)
	if err != nil {
		t.Fatalf("new rate group: %v", err)
	}
	if group.AccumulatedFactor.Cmp(fixedpoint.One) != 0 {
		t.Fatalf("fresh group should start at One, got %s", group.AccumulatedFactor)
	}

	if err := group.Advance(fixedpoint.SecondsPerYear / 2); err != nil {
		t.Fatalf("advance: %v", err)
	}
	wantFactor, _ := new(big.Int).SetString("1025315120504108509948011521", 10)
	if group.AccumulatedFactor.Cmp(wantFactor) != 0 {
		t.Fatalf("unexpected factor: got %s want %s", group.AccumulatedFactor, wantFactor)
	}

	// 100 units at six decimals grow to ~102.53 over half a year at 5%.
	debt, err := group.Debt(big.NewInt(100_000000))
	if err != nil {
		t.Fatalf("debt: %v", err)
	}
	if debt.Cmp(big.NewInt(102_531512)) != 0 {
		t.Fatalf("unexpected debt: got %s want 102531512", debt)
	}
}

func TestRateGroupAdvanceIsIdempotentAtSameTime(t *testing.T) {
	group, err := NewRateGroup(perSecond(t, rayPercent(5)), 100)
	if err != nil {
		t.Fatalf("new rate group: %v", err)
	}
	if err := group.Advance(200); err != nil {
		t.Fatalf("advance: %v", err)
	}
	factor := new(big.Int).Set(group.AccumulatedFactor)
	if err := group.Advance(200); err != nil {
		t.Fatalf("advance to same time: %v", err)
	}
	if group.AccumulatedFactor.Cmp(factor) != 0 {
		t.Fatalf("advancing to the same time changed the factor: %s -> %s", factor, group.AccumulatedFactor)
	}
}

func TestRateGroupRejectsBackwardsAccrual(t *testing.T) {
	group, err := NewRateGroup(perSecond(t, rayPercent(5)), 1000)
	if err != nil {
		t.Fatalf("new rate group: %v", err)
	}
	if err := group.Advance(999); !errors.Is(err, ErrAccrualOutOfOrder) {
		t.Fatalf("expected ErrAccrualOutOfOrder, got %v", err)
	}
}

func TestRateGroupFactorIsMonotonic(t *testing.T) {
	group, err := NewRateGroup(perSecond(t, rayPercent(12)), 0)
	if err != nil {
		t.Fatalf("new rate group: %v", err)
	}
	previous := new(big.Int).Set(group.AccumulatedFactor)
	for _, now := range []int64{60, 3600, 86400, 2 * 86400, 30 * 86400} {
		if err := group.Advance(now); err != nil {
			t.Fatalf("advance to %d: %v", now, err)
		}
		if group.AccumulatedFactor.Cmp(previous) < 0 {
			t.Fatalf("factor decreased at %d: %s -> %s", now, previous, group.AccumulatedFactor)
		}
		previous.Set(group.AccumulatedFactor)
	}
}

func TestRateGroupNormalizeRoundTrip(t *testing.T) {
	group, err := NewRateGroup(perSecond(t, rayPercent(5)), 0)
	if err != nil {
		t.Fatalf("new rate group: %v", err)
	}
	if err := group.Advance(fixedpoint.SecondsPerYear / 2); err != nil {
		t.Fatalf("advance: %v", err)
	}

	amount := big.NewInt(50_000000)
	normalized, err := group.Normalize(amount)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if normalized.Cmp(big.NewInt(48_765495)) != 0 {
		t.Fatalf("unexpected normalized debt: got %s want 48765495", normalized)
	}

	back, err := group.Debt(normalized)
	if err != nil {
		t.Fatalf("debt: %v", err)
	}
	loss := new(big.Int).Sub(amount, back)
	if loss.Sign() < 0 || loss.Cmp(big.NewInt(1)) > 0 {
		t.Fatalf("round trip should lose at most one unit, lost %s", loss)
	}
}

func TestAdjustNormalizedDebt(t *testing.T) {
	group, err := NewRateGroup(perSecond(t, rayPercent(5)), 0)
	if err != nil {
		t.Fatalf("new rate group: %v", err)
	}

	normalized, err := group.AdjustNormalizedDebt(nil, big.NewInt(100))
	if err != nil {
		t.Fatalf("increase: %v", err)
	}
	if normalized.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected normalized debt after increase: %s", normalized)
	}

	normalized, err = group.AdjustNormalizedDebt(normalized, big.NewInt(-40))
	if err != nil {
		t.Fatalf("decrease: %v", err)
	}
	if normalized.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("unexpected normalized debt after decrease: %s", normalized)
	}

	if _, err := group.AdjustNormalizedDebt(normalized, big.NewInt(-100)); !errors.Is(err, ErrDebtUnderflow) {
		t.Fatalf("expected ErrDebtUnderflow, got %v", err)
	}
}

func TestNewRateGroupRejectsSubUnitRate(t *testing.T) {
	below := new(big.Int).Sub(fixedpoint.One, big.NewInt(1))
	if _, err := NewRateGroup(below, 0); !errors.Is(err, ErrInvalidRate) {
		t.Fatalf("expected ErrInvalidRate, got %v", err)
	}
	if _, err := NewRateGroup(nil, 0); !errors.Is(err, ErrInvalidRate) {
		t.Fatalf("expected ErrInvalidRate for nil rate, got %v", err)
	}
}

func TestRateGroupAccrualOverflow(t *testing.T) {
	doubling := new(big.Int).Mul(fixedpoint.One, big.NewInt(2))
	group, err := NewRateGroup(doubling, 0)
	if err != nil {
		t.Fatalf("new rate group: %v", err)
	}
	if err := group.Advance(400); !errors.Is(err, fixedpoint.ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}
