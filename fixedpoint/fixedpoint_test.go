package fixedpoint

import (
	"errors"
	"math/big"
	"testing"
)

func TestConvertWideningIsExact(t *testing.T) {
	got, err := Convert(big.NewInt(125), Currency(2), Currency(6))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if got.Cmp(big.NewInt(1250000)) != 0 {
		t.Fatalf("unexpected widened value: got %s want 1250000", got)
	}
}

func TestConvertNarrowingTruncatesTowardZero(t *testing.T) {
	got, err := Convert(big.NewInt(1999), Currency(3), Currency(1))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if got.Cmp(big.NewInt(19)) != 0 {
		t.Fatalf("unexpected narrowed value: got %s want 19", got)
	}

	signed := Precision{Decimals: 3, Signed: true}
	narrow := Precision{Decimals: 1, Signed: true}
	got, err = Convert(big.NewInt(-1999), signed, narrow)
	if err != nil {
		t.Fatalf("convert negative: %v", err)
	}
	if got.Cmp(big.NewInt(-19)) != 0 {
		t.Fatalf("negative narrowing should truncate toward zero: got %s want -19", got)
	}
}

func TestConvertRoundTripLosesAtMostOneCoarseUnit(t *testing.T) {
	from := Currency(6)
	to := Currency(2)
	coarseUnit := big.NewInt(10000)
	for _, raw := range []int64{0, 1, 9999, 10000, 1234567, 99999999} {
		original := big.NewInt(raw)
		narrowed, err := Convert(original, from, to)
		if err != nil {
			t.Fatalf("narrow %d: %v", raw, err)
		}
		back, err := Convert(narrowed, to, from)
		if err != nil {
			t.Fatalf("widen %d: %v", raw, err)
		}
		if back.Cmp(original) > 0 {
			t.Fatalf("round trip minted value: %d -> %s", raw, back)
		}
		loss := new(big.Int).Sub(original, back)
		if loss.Cmp(coarseUnit) >= 0 {
			t.Fatalf("round trip of %d lost %s, more than one coarse unit", raw, loss)
		}
	}
}

func TestConvertRejectsSignednessMismatch(t *testing.T) {
	signed := Precision{Decimals: 6, Signed: true}
	// Mixed signedness is rejected even when the value itself would fit.
	if _, err := Convert(big.NewInt(42), signed, Currency(6)); !errors.Is(err, ErrPrecisionMismatch) {
		t.Fatalf("signed into unsigned should mismatch, got %v", err)
	}
	if _, err := Convert(big.NewInt(42), Currency(6), signed); !errors.Is(err, ErrPrecisionMismatch) {
		t.Fatalf("unsigned into signed should mismatch, got %v", err)
	}
	if _, err := Convert(big.NewInt(-1), Currency(6), Currency(2)); !errors.Is(err, ErrPrecisionMismatch) {
		t.Fatalf("negative raw in unsigned source should mismatch, got %v", err)
	}
}

func TestConvertOverflow(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 256)
	if _, err := Convert(huge, Currency(0), Currency(0)); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow for 2^256 input, got %v", err)
	}

	almost := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	if _, err := Convert(almost, Currency(0), Currency(18)); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow when widening near the bound, got %v", err)
	}

	signedMax := Precision{Decimals: 0, Signed: true}
	tooWide := new(big.Int).Lsh(big.NewInt(1), 255)
	if err := signedMax.Check(tooWide); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected signed overflow at 2^255, got %v", err)
	}
}

func TestConvertNilIsZero(t *testing.T) {
	got, err := Convert(nil, Currency(6), Currency(2))
	if err != nil {
		t.Fatalf("convert nil: %v", err)
	}
	if got.Sign() != 0 {
		t.Fatalf("expected zero, got %s", got)
	}
}

func TestUnit(t *testing.T) {
	if got := Currency(6).Unit(); got.Cmp(big.NewInt(1000000)) != 0 {
		t.Fatalf("unexpected unit: %s", got)
	}
	if got := Ray.Unit(); got.Cmp(One) != 0 {
		t.Fatalf("ray unit should equal One, got %s", got)
	}
}
