package gormstore

import (
	"time"

	"gorm.io/datatypes"
)

// User represents the account_users table.
type User struct {
	ID        int64     `gorm:"primaryKey"`
	Name      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (User) TableName() string { return "account_users" }

// Account represents the accounts table.
type Account struct {
	AccountNumber string     `gorm:"primaryKey;size:10"`
	UserID        int64      `gorm:"not null;index:idx_accounts_user"`
	Status        string     `gorm:"not null"`
	BalanceCents  int64      `gorm:"not null"`
	RegisteredAt  time.Time  `gorm:"not null"`
	ClosedAt      *time.Time `gorm:""`
	CreatedAt     time.Time  `gorm:"not null"`
	UpdatedAt     time.Time  `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

// Transaction mirrors the transactions ledger table. Rows are append-only;
// the single exception is the canceled_at stamp set when a cancel consumes
// a use record.
type Transaction struct {
	TransactionID        string         `gorm:"primaryKey;size:32"`
	AccountNumber        string         `gorm:"size:10;not null;index:idx_transactions_account_transacted,priority:1"`
	Type                 string         `gorm:"not null"`
	Result               string         `gorm:"not null"`
	AmountCents          int64          `gorm:"not null"`
	BalanceSnapshotCents int64          `gorm:"not null"`
	Metadata             datatypes.JSON `gorm:"type:jsonb;not null"`
	TransactedAt         time.Time      `gorm:"not null;index:idx_transactions_account_transacted,priority:2"`
	CanceledAt           *time.Time     `gorm:""`
}

func (Transaction) TableName() string { return "transactions" }
