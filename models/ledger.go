package models

import (
	"time"

	"gorm.io/gorm"
)

// LedgerEntry is one point-changing event. The ledger is append-only: rows
// are never updated or deleted, corrections are new entries with the
// opposite sign. Balance rows must always be recomputable from these.
type LedgerEntry struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID    string `gorm:"index:idx_ledger_account,priority:1;not null" json:"account_id"`
	Category     string `gorm:"index:idx_ledger_account,priority:2;not null" json:"category"`
	Amount       int64  `gorm:"not null" json:"amount"`
	BalanceAfter int64  `gorm:"not null" json:"balance_after"`
	TriggerName  string `gorm:"index" json:"trigger_name"`

	// Optional pointer back to the domain object that caused the award,
	// e.g. ("post", "8f4c...").
	ReferenceType string `json:"reference_type,omitempty"`
	ReferenceID   string `json:"reference_id,omitempty"`

	// Note carries the operator-supplied reason on manual adjustments.
	Note string `json:"note,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// Balance is the denormalized current total per (account, category),
// maintained in the same transaction as the ledger append. The ledger is
// the source of truth; this row is a cache.
type Balance struct {
	AccountID   string `gorm:"primaryKey" json:"account_id"`
	Category    string `gorm:"primaryKey" json:"category"`
	Balance     int64  `gorm:"default:0" json:"balance"`
	TotalEarned int64  `gorm:"default:0" json:"total_earned"`
	TotalSpent  int64  `gorm:"default:0" json:"total_spent"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
