package reporting

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/google/uuid"

	"tranchor/native/loans"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	store, err := Open(dsn)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func rayPct(t *testing.T, n int64) *big.Int {
	t.Helper()
	v := big.NewInt(n)
	return v.Mul(v, new(big.Int).Exp(big.NewInt(10), big.NewInt(25), nil))
}

func samplePortfolio(t *testing.T, pool string, at int64) *loans.PortfolioValuation {
	t.Helper()
	return &loans.PortfolioValuation{
		Pool:  pool,
		At:    at,
		Total: big.NewInt(153_797268),
		Loans: []*loans.Valuation{
			{
				Pool:  pool,
				ID:    1,
				At:    at,
				Debt:  big.NewInt(102_531512),
				Value: big.NewInt(102_531512),
			},
			{
				Pool:         pool,
				ID:           2,
				At:           at,
				Debt:         big.NewInt(51_265756),
				Value:        big.NewInt(38_449317),
				ExpectedLoss: big.NewInt(2000),
				WriteOff: loans.WriteOffStatus{
					Percentage: rayPct(t, 25),
					Penalty:    rayPct(t, 2),
				},
			},
		},
	}
}

func TestSaveSnapshotPersistsRows(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	snapshot, err := store.SaveSnapshot(ctx, samplePortfolio(t, "alpha", 1_700_000_000))
	if err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	if snapshot.LoanCount != 2 {
		t.Fatalf("unexpected loan count %d", snapshot.LoanCount)
	}
	if snapshot.Total != "153797268" {
		t.Fatalf("unexpected total %q", snapshot.Total)
	}

	listed, err := store.ListSnapshots(ctx, "alpha", 0)
	if err != nil {
		t.Fatalf("list snapshots: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected one snapshot, got %d", len(listed))
	}
	stored := listed[0]
	if stored.ID != snapshot.ID {
		t.Fatalf("snapshot id mismatch: %s vs %s", stored.ID, snapshot.ID)
	}
	if stored.ValuedAt != 1_700_000_000 {
		t.Fatalf("unexpected valued_at %d", stored.ValuedAt)
	}
	if len(stored.Rows) != 2 {
		t.Fatalf("expected two rows, got %d", len(stored.Rows))
	}
	byLoan := make(map[uint64]LoanValuationRow, len(stored.Rows))
	for _, row := range stored.Rows {
		if row.SnapshotID != snapshot.ID {
			t.Fatalf("row %d not linked to snapshot", row.LoanID)
		}
		byLoan[row.LoanID] = row
	}
	first, ok := byLoan[1]
	if !ok {
		t.Fatalf("missing row for loan 1")
	}
	if first.Debt != "102531512" || first.Value != "102531512" {
		t.Fatalf("unexpected loan 1 amounts: debt=%q value=%q", first.Debt, first.Value)
	}
	if first.ExpectedLoss != "0" || first.WriteOffPct != "0" || first.PenaltyRate != "0" {
		t.Fatalf("nil big values must persist as zero: %+v", first)
	}
	second, ok := byLoan[2]
	if !ok {
		t.Fatalf("missing row for loan 2")
	}
	if second.Value != "38449317" {
		t.Fatalf("unexpected loan 2 value %q", second.Value)
	}
	if second.ExpectedLoss != "2000" {
		t.Fatalf("unexpected loan 2 expected loss %q", second.ExpectedLoss)
	}
	if second.WriteOffPct != rayPct(t, 25).String() {
		t.Fatalf("unexpected write-off pct %q", second.WriteOffPct)
	}
	if second.PenaltyRate != rayPct(t, 2).String() {
		t.Fatalf("unexpected penalty rate %q", second.PenaltyRate)
	}
}

func TestSaveSnapshotSkipsNilLoans(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	portfolio := samplePortfolio(t, "alpha", 1_700_000_000)
	portfolio.Loans = append(portfolio.Loans, nil)

	snapshot, err := store.SaveSnapshot(ctx, portfolio)
	if err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	if snapshot.LoanCount != 2 {
		t.Fatalf("nil loans must not be counted: %d", snapshot.LoanCount)
	}
	if len(snapshot.Rows) != 2 {
		t.Fatalf("nil loans must not produce rows: %d", len(snapshot.Rows))
	}
}

func TestSaveSnapshotEmptyPortfolio(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	snapshot, err := store.SaveSnapshot(ctx, &loans.PortfolioValuation{
		Pool:  "empty",
		At:    1_700_000_000,
		Total: big.NewInt(0),
	})
	if err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	if snapshot.LoanCount != 0 {
		t.Fatalf("unexpected loan count %d", snapshot.LoanCount)
	}

	listed, err := store.ListSnapshots(ctx, "empty", 0)
	if err != nil {
		t.Fatalf("list snapshots: %v", err)
	}
	if len(listed) != 1 || len(listed[0].Rows) != 0 {
		t.Fatalf("expected one snapshot with no rows, got %+v", listed)
	}
	if listed[0].Total != "0" {
		t.Fatalf("unexpected total %q", listed[0].Total)
	}
}

func TestListSnapshotsNewestFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.SaveSnapshot(ctx, samplePortfolio(t, "alpha", 100)); err != nil {
		t.Fatalf("save first snapshot: %v", err)
	}
	if _, err := store.SaveSnapshot(ctx, samplePortfolio(t, "alpha", 200)); err != nil {
		t.Fatalf("save second snapshot: %v", err)
	}
	if _, err := store.SaveSnapshot(ctx, samplePortfolio(t, "beta", 150)); err != nil {
		t.Fatalf("save beta snapshot: %v", err)
	}

	listed, err := store.ListSnapshots(ctx, "alpha", 0)
	if err != nil {
		t.Fatalf("list snapshots: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected two alpha snapshots, got %d", len(listed))
	}
	if listed[0].ValuedAt != 200 || listed[1].ValuedAt != 100 {
		t.Fatalf("snapshots not newest first: %d, %d", listed[0].ValuedAt, listed[1].ValuedAt)
	}

	limited, err := store.ListSnapshots(ctx, "alpha", 1)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 1 || limited[0].ValuedAt != 200 {
		t.Fatalf("limit must keep the newest snapshot: %+v", limited)
	}

	all, err := store.ListSnapshots(ctx, "", 0)
	if err != nil {
		t.Fatalf("list all pools: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected three snapshots across pools, got %d", len(all))
	}
}

func TestLatestSnapshot(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := store.LatestSnapshot(ctx, "alpha"); err != nil || ok {
		t.Fatalf("expected no snapshot before save: ok=%v err=%v", ok, err)
	}

	if _, err := store.SaveSnapshot(ctx, samplePortfolio(t, "alpha", 100)); err != nil {
		t.Fatalf("save first snapshot: %v", err)
	}
	if _, err := store.SaveSnapshot(ctx, samplePortfolio(t, "alpha", 300)); err != nil {
		t.Fatalf("save second snapshot: %v", err)
	}

	latest, ok, err := store.LatestSnapshot(ctx, "alpha")
	if err != nil {
		t.Fatalf("latest snapshot: %v", err)
	}
	if !ok || latest == nil {
		t.Fatalf("expected a snapshot")
	}
	if latest.ValuedAt != 300 {
		t.Fatalf("expected the newest snapshot, got valued_at %d", latest.ValuedAt)
	}
	if len(latest.Rows) != 2 {
		t.Fatalf("latest snapshot must include rows, got %d", len(latest.Rows))
	}
}

func TestOpenRequiresDSN(t *testing.T) {
	if _, err := Open(""); !errors.Is(err, ErrDSNRequired) {
		t.Fatalf("expected ErrDSNRequired, got %v", err)
	}
	if _, err := Open("   "); !errors.Is(err, ErrDSNRequired) {
		t.Fatalf("expected ErrDSNRequired for blank dsn, got %v", err)
	}
}

func TestSaveSnapshotRejectsNilPortfolio(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.SaveSnapshot(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil portfolio")
	}
}
