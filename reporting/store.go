package reporting

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"tranchor/native/loans"
	"tranchor/observability"
)

var (
	// ErrDSNRequired is returned when the backing store DSN is missing.
	ErrDSNRequired = errors.New("reporting: dsn must be configured")

	// ErrNotConfigured is returned when store methods run without Open.
	ErrNotConfigured = errors.New("reporting: store not configured")
)

// Store wraps the reporting persistence layer.
type Store struct {
	db *gorm.DB
}

// Open initialises the backing store. Postgres URLs select the postgres
// driver; anything else is treated as a sqlite DSN.
func Open(dsn string) (*Store, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrDSNRequired
	}
	dialector := sqlite.Open(trimmed)
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") {
		dialector = postgres.Open(trimmed)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("reporting: open database: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("reporting: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveSnapshot persists a portfolio valuation together with one row per
// loan and returns the stored snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, portfolio *loans.PortfolioValuation) (*PortfolioSnapshot, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	if portfolio == nil {
		return nil, errors.New("reporting: portfolio valuation required")
	}
	snapshot := &PortfolioSnapshot{
		ID:       uuid.New(),
		Pool:     strings.TrimSpace(portfolio.Pool),
		ValuedAt: portfolio.At,
		Total:    bigString(portfolio.Total),
	}
	rows := make([]LoanValuationRow, 0, len(portfolio.Loans))
	for _, valuation := range portfolio.Loans {
		if valuation == nil {
			continue
		}
		rows = append(rows, LoanValuationRow{
			ID:           uuid.New(),
			SnapshotID:   snapshot.ID,
			Pool:         valuation.Pool,
			LoanID:       valuation.ID,
			Debt:         bigString(valuation.Debt),
			Value:        bigString(valuation.Value),
			ExpectedLoss: bigString(valuation.ExpectedLoss),
			WriteOffPct:  bigString(valuation.WriteOff.Percentage),
			PenaltyRate:  bigString(valuation.WriteOff.Penalty),
		})
	}
	snapshot.LoanCount = len(rows)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(snapshot).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
	observability.Reporting().RecordSnapshot(snapshot.Pool, err)
	if err != nil {
		return nil, fmt.Errorf("reporting: save snapshot: %w", err)
	}
	snapshot.Rows = rows
	return snapshot, nil
}

// ListSnapshots returns snapshots with their rows preloaded, newest
// first. An empty pool matches every pool; a non-positive limit returns
// all matches.
func (s *Store) ListSnapshots(ctx context.Context, pool string, limit int) ([]PortfolioSnapshot, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	query := s.db.WithContext(ctx).Preload("Rows").Order("valued_at DESC, created_at DESC")
	if trimmed := strings.TrimSpace(pool); trimmed != "" {
		query = query.Where("pool = ?", trimmed)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var snapshots []PortfolioSnapshot
	if err := query.Find(&snapshots).Error; err != nil {
		return nil, fmt.Errorf("reporting: list snapshots: %w", err)
	}
	return snapshots, nil
}

// LatestSnapshot returns the most recent snapshot for the pool if one
// exists.
func (s *Store) LatestSnapshot(ctx context.Context, pool string) (*PortfolioSnapshot, bool, error) {
	snapshots, err := s.ListSnapshots(ctx, pool, 1)
	if err != nil {
		return nil, false, err
	}
	if len(snapshots) == 0 {
		return nil, false, nil
	}
	return &snapshots[0], true, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
