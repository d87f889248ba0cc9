package loans

import (
	"math/big"
	"testing"

	"tranchor/fixedpoint"
	"tranchor/storage"
)

func TestStoreLoanRoundTrip(t *testing.T) {
	store := NewStore(storage.NewMemDB())

	missing, err := store.GetLoan("alpha", 1)
	if err != nil {
		t.Fatalf("get missing loan: %v", err)
	}
	if missing != nil {
		t.Fatalf("missing loan should be nil, got %+v", missing)
	}

	loan := &Loan{
		Pool:       "alpha",
		ID:         1,
		Collateral: Collateral{Collection: 1, Item: 1},
		Pricing: Pricing{
			Kind: PricingInternal,
			Internal: &InternalPricing{
				CollateralValue: big.NewInt(1_000_000000),
				Valuation:       ValuationMethod{Kind: ValuationOutstandingDebt},
				MaxBorrow:       UpToTotalBorrowed,
				AdvanceRate:     rayPercent(90),
			},
		},
		InterestRate: rayPercent(5),
		Schedule: RepaymentSchedule{
			Maturity:         Maturity{Kind: MaturityFixed, Date: testEpoch + 1000},
			InterestPayments: InterestOnceAtMaturity,
			PayDownSchedule:  PayDownNone,
		},
		Restrictions:   Restrictions{Borrow: BorrowNotWrittenOff, Repay: RepayNoRestriction},
		Status:         StatusActive,
		CreatedAt:      testEpoch,
		OriginatedAt:   testEpoch,
		NormalizedDebt: big.NewInt(100_000000),
		TotalBorrowed:  big.NewInt(100_000000),
		TotalRepaid:    big.NewInt(0),
	}
	if err := store.PutLoan("alpha", loan); err != nil {
		t.Fatalf("put loan: %v", err)
	}

	got, err := store.GetLoan("alpha", 1)
	if err != nil {
		t.Fatalf("get loan: %v", err)
	}
	if got == nil {
		t.Fatalf("expected stored loan")
	}
	if got.ID != loan.ID || got.Pool != loan.Pool || got.Collateral != loan.Collateral {
		t.Fatalf("identity fields do not round trip: %+v", got)
	}
	if got.NormalizedDebt.Cmp(loan.NormalizedDebt) != 0 {
		t.Fatalf("normalized debt does not round trip: %s", got.NormalizedDebt)
	}
	if got.Pricing.Internal == nil || got.Pricing.Internal.AdvanceRate.Cmp(rayPercent(90)) != 0 {
		t.Fatalf("pricing does not round trip: %+v", got.Pricing)
	}
	if got.Schedule.Maturity.Date != loan.Schedule.Maturity.Date {
		t.Fatalf("schedule does not round trip: %+v", got.Schedule)
	}
}

func TestStoreListLoansFollowsIndex(t *testing.T) {
	store := NewStore(storage.NewMemDB())

	for _, id := range []uint64{3, 1, 2} {
		loan := &Loan{
			Pool:           "alpha",
			ID:             id,
			Status:         StatusCreated,
			NormalizedDebt: big.NewInt(0),
			TotalBorrowed:  big.NewInt(0),
			TotalRepaid:    big.NewInt(0),
		}
		if err := store.PutLoan("alpha", loan); err != nil {
			t.Fatalf("put loan %d: %v", id, err)
		}
	}
	// Overwriting must not duplicate the index entry.
	if err := store.PutLoan("alpha", &Loan{Pool: "alpha", ID: 2, Status: StatusActive, NormalizedDebt: big.NewInt(0), TotalBorrowed: big.NewInt(0), TotalRepaid: big.NewInt(0)}); err != nil {
		t.Fatalf("overwrite loan: %v", err)
	}

	loans, err := store.ListLoans("alpha")
	if err != nil {
		t.Fatalf("list loans: %v", err)
	}
	if len(loans) != 3 {
		t.Fatalf("expected three loans, got %d", len(loans))
	}
	for i, want := range []uint64{1, 2, 3} {
		if loans[i].ID != want {
			t.Fatalf("index should order by id, got %d at %d", loans[i].ID, i)
		}
	}
	if loans[1].Status != StatusActive {
		t.Fatalf("overwrite did not stick, got %v", loans[1].Status)
	}

	empty, err := store.ListLoans("beta")
	if err != nil {
		t.Fatalf("list empty pool: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("empty pool should list nothing, got %d", len(empty))
	}
}

func TestStoreSequencePerPool(t *testing.T) {
	store := NewStore(storage.NewMemDB())

	for want := uint64(1); want <= 3; want++ {
		id, err := store.NextLoanID("alpha")
		if err != nil {
			t.Fatalf("next id: %v", err)
		}
		if id != want {
			t.Fatalf("unexpected id: got %d want %d", id, want)
		}
	}
	id, err := store.NextLoanID("beta")
	if err != nil {
		t.Fatalf("next id in other pool: %v", err)
	}
	if id != 1 {
		t.Fatalf("pools must count independently, got %d", id)
	}
}

func TestStoreRateGroupRoundTrip(t *testing.T) {
	store := NewStore(storage.NewMemDB())

	missing, err := store.GetRateGroup("nope")
	if err != nil {
		t.Fatalf("get missing group: %v", err)
	}
	if missing != nil {
		t.Fatalf("missing group should be nil")
	}

	group, err := NewRateGroup(perSecond(t, rayPercent(5)), testEpoch)
	if err != nil {
		t.Fatalf("new rate group: %v", err)
	}
	key := rateKey(group.RatePerSec)
	if err := store.PutRateGroup(key, group); err != nil {
		t.Fatalf("put group: %v", err)
	}

	got, err := store.GetRateGroup(key)
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if got.RatePerSec.Cmp(group.RatePerSec) != 0 {
		t.Fatalf("rate does not round trip: %s", got.RatePerSec)
	}
	if got.AccumulatedFactor.Cmp(group.AccumulatedFactor) != 0 {
		t.Fatalf("factor does not round trip: %s", got.AccumulatedFactor)
	}
	if got.LastUpdated != testEpoch {
		t.Fatalf("timestamp does not round trip: %d", got.LastUpdated)
	}

	if err := store.PutRateGroup(key, nil); err == nil {
		t.Fatalf("nil group must be rejected")
	}
}

func TestStoreWriteOffPolicyRoundTrip(t *testing.T) {
	store := NewStore(storage.NewMemDB())

	missing, err := store.GetWriteOffPolicy("alpha")
	if err != nil {
		t.Fatalf("get missing policy: %v", err)
	}
	if missing != nil {
		t.Fatalf("missing policy should be nil")
	}

	policy := ladderPolicy()
	if err := store.PutWriteOffPolicy("alpha", &policy); err != nil {
		t.Fatalf("put policy: %v", err)
	}
	got, err := store.GetWriteOffPolicy("alpha")
	if err != nil {
		t.Fatalf("get policy: %v", err)
	}
	if got == nil || len(got.Rules) != 3 {
		t.Fatalf("policy does not round trip: %+v", got)
	}
	if got.Rules[1].Status.Percentage.Cmp(rayPercent(40)) != 0 {
		t.Fatalf("rule status does not round trip: %s", got.Rules[1].Status.Percentage)
	}
	if got.Rules[2].Triggers[0].Seconds != 30*86400 {
		t.Fatalf("trigger does not round trip: %d", got.Rules[2].Triggers[0].Seconds)
	}
}

func TestStoreDrivesEngine(t *testing.T) {
	engine := NewEngine()
	engine.SetState(NewStore(storage.NewMemDB()))
	engine.SetCurrency(fixedpoint.Currency(6))

	maturity := testEpoch + fixedpoint.SecondsPerYear
	loan, err := engine.CreateLoan("alpha", internalLoanInfo(Collateral{Collection: 1, Item: 1}, maturity), testEpoch)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := engine.Borrow("alpha", loan.ID, amountOf(100_000000), testEpoch); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	valuation, err := engine.PresentValue("alpha", loan.ID, testEpoch+15_768_000)
	if err != nil {
		t.Fatalf("present value: %v", err)
	}
	if valuation.Debt.Cmp(big.NewInt(102_531512)) != 0 {
		t.Fatalf("unexpected debt over persistent store: %s", valuation.Debt)
	}
}
