// Package reporting persists portfolio valuation snapshots and renders
// file exports for downstream accounting systems.
package reporting

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PortfolioSnapshot captures the output of one portfolio valuation run.
// Monetary values are stored as decimal strings in pool currency units.
type PortfolioSnapshot struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Pool      string    `gorm:"size:64;index"`
	ValuedAt  int64     `gorm:"index"`
	Total     string    `gorm:"size:96"`
	LoanCount int       `gorm:"not null"`
	CreatedAt time.Time
	Rows      []LoanValuationRow `gorm:"foreignKey:SnapshotID"`
}

// LoanValuationRow records the per-loan breakdown of a snapshot. Write-off
// percentage and penalty rate are ray-scaled decimal strings.
type LoanValuationRow struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	SnapshotID   uuid.UUID `gorm:"type:uuid;index"`
	Pool         string    `gorm:"size:64;index"`
	LoanID       uint64    `gorm:"index"`
	Debt         string    `gorm:"size:96"`
	Value        string    `gorm:"size:96"`
	ExpectedLoss string    `gorm:"size:96"`
	WriteOffPct  string    `gorm:"size:96"`
	PenaltyRate  string    `gorm:"size:96"`
	CreatedAt    time.Time
}

// AutoMigrate performs all schema migrations for the reporting store.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&PortfolioSnapshot{},
		&LoanValuationRow{},
	)
}
