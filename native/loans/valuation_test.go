package loans

import (
	"errors"
	"math/big"
	"testing"

	"tranchor/fixedpoint"
)

func TestDiscountedValueTwoYearProjection(t *testing.T) {
	now := int64(1_700_000_000)
	maturity := now + 2*fixedpoint.SecondsPerYear
	dcf := &DiscountedCashFlow{
		ProbabilityOfDefault: rayPercent(1),
		LossGivenDefault:     rayBps(20),
		DiscountRate:         rayPercent(4),
	}

	// 100 units of debt at 5% for two years, marked down by a 0.2% loss
	// assumption and discounted back at 4%.
	pv, err := DiscountedValue(big.NewInt(100_000000), perSecond(t, rayPercent(5)), dcf, now, maturity)
	if err != nil {
		t.Fatalf("discounted value: %v", err)
	}
	if pv.Cmp(big.NewInt(101_816092)) != 0 {
		t.Fatalf("unexpected present value: got %s want 101816092", pv)
	}
}

func TestDiscountedValueAtMaturityBoundary(t *testing.T) {
	now := int64(5000)
	dcf := &DiscountedCashFlow{
		ProbabilityOfDefault: big.NewInt(0),
		LossGivenDefault:     big.NewInt(0),
		DiscountRate:         rayPercent(4),
	}
	debt := big.NewInt(777_000000)

	// An empty projection window degenerates to the debt itself.
	pv, err := DiscountedValue(debt, perSecond(t, rayPercent(5)), dcf, now, now)
	if err != nil {
		t.Fatalf("discounted value at maturity: %v", err)
	}
	if pv.Cmp(debt) != 0 {
		t.Fatalf("value at maturity should equal debt, got %s", pv)
	}

	if _, err := DiscountedValue(debt, perSecond(t, rayPercent(5)), dcf, now+1, now); !errors.Is(err, ErrExpiredMaturity) {
		t.Fatalf("expected ErrExpiredMaturity past maturity, got %v", err)
	}
}

func TestDiscountedValueZeroDebt(t *testing.T) {
	dcf := &DiscountedCashFlow{
		ProbabilityOfDefault: rayPercent(1),
		LossGivenDefault:     rayPercent(50),
		DiscountRate:         rayPercent(4),
	}
	pv, err := DiscountedValue(big.NewInt(0), perSecond(t, rayPercent(5)), dcf, 0, 1000)
	if err != nil {
		t.Fatalf("discounted value: %v", err)
	}
	if pv.Sign() != 0 {
		t.Fatalf("zero debt should value to zero, got %s", pv)
	}
}

func TestExpectedLoss(t *testing.T) {
	dcf := &DiscountedCashFlow{
		ProbabilityOfDefault: rayPercent(1),
		LossGivenDefault:     rayBps(20),
		DiscountRate:         rayPercent(4),
	}
	loss, err := ExpectedLoss(big.NewInt(100_000000), dcf)
	if err != nil {
		t.Fatalf("expected loss: %v", err)
	}
	// 100 units x 1% default probability x 0.2% severity.
	if loss.Cmp(big.NewInt(2000)) != 0 {
		t.Fatalf("unexpected loss: got %s want 2000", loss)
	}

	loss, err = ExpectedLoss(big.NewInt(100_000000), nil)
	if err != nil {
		t.Fatalf("expected loss without assumptions: %v", err)
	}
	if loss.Sign() != 0 {
		t.Fatalf("missing assumptions should produce zero loss, got %s", loss)
	}
}

func TestExternalValue(t *testing.T) {
	currency := fixedpoint.Currency(6)

	// Ten units of face value at a price of 100 settle to 1000 pool units.
	quantity := new(big.Int).Mul(big.NewInt(10), exp10(18))
	price := new(big.Int).Mul(big.NewInt(100), exp10(18))
	value, err := ExternalValue(quantity, price, currency)
	if err != nil {
		t.Fatalf("external value: %v", err)
	}
	if value.Cmp(big.NewInt(1000_000000)) != 0 {
		t.Fatalf("unexpected value: got %s want 1000000000", value)
	}

	// A dust quantity below currency resolution truncates to zero.
	value, err = ExternalValue(big.NewInt(1), exp10(18), currency)
	if err != nil {
		t.Fatalf("external value: %v", err)
	}
	if value.Sign() != 0 {
		t.Fatalf("dust quantity should truncate to zero, got %s", value)
	}

	value, err = ExternalValue(nil, price, currency)
	if err != nil {
		t.Fatalf("external value: %v", err)
	}
	if value.Sign() != 0 {
		t.Fatalf("nil quantity should value to zero, got %s", value)
	}
}

func TestApplyWriteOffMarksDown(t *testing.T) {
	value, err := applyWriteOff(big.NewInt(102_531512), WriteOffStatus{Percentage: rayPercent(25), Penalty: big.NewInt(0)})
	if err != nil {
		t.Fatalf("apply write-off: %v", err)
	}
	if value.Cmp(big.NewInt(76_898634)) != 0 {
		t.Fatalf("unexpected marked down value: got %s want 76898634", value)
	}

	value, err = applyWriteOff(big.NewInt(500), WriteOffStatus{})
	if err != nil {
		t.Fatalf("apply write-off: %v", err)
	}
	if value.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("empty status must not change value, got %s", value)
	}

	value, err = applyWriteOff(big.NewInt(500), WriteOffStatus{Percentage: rayPercent(100), Penalty: big.NewInt(0)})
	if err != nil {
		t.Fatalf("apply write-off: %v", err)
	}
	if value.Sign() != 0 {
		t.Fatalf("full write-off should zero the value, got %s", value)
	}
}
