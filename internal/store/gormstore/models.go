package gormstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the accounts table. It is the materialized balance of one user.
type Account struct {
	UserID         string    `gorm:"primaryKey"`
	CoinBalance    int64     `gorm:"not null;default:0;check:chk_accounts_coin_balance,coin_balance >= 0"`
	TotalEarned    int64     `gorm:"not null;default:0"`
	TotalWithdrawn int64     `gorm:"not null;default:0;check:chk_accounts_withdrawn,total_withdrawn <= total_earned"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

// LedgerEntry mirrors the append-only ledger_entries table.
type LedgerEntry struct {
	EntryID            string         `gorm:"type:uuid;primaryKey"`
	UserID             string         `gorm:"not null;index:idx_entries_user_created,priority:1;index:uniq_entries_user_idem,unique,priority:1"`
	Direction          string         `gorm:"not null"`
	Kind               string         `gorm:"not null"`
	Amount             int64          `gorm:"not null"`
	RelatedContentType *string        `gorm:""`
	RelatedContentID   *string        `gorm:""`
	Status             string         `gorm:"not null"`
	Description        string         `gorm:"not null;default:''"`
	IdempotencyKey     string         `gorm:"not null;index:uniq_entries_user_idem,unique,priority:2"`
	Metadata           datatypes.JSON `gorm:"type:jsonb;not null"`
	BalanceAfter       int64          `gorm:"not null"`
	CreatedAt          time.Time      `gorm:"not null;index:idx_entries_user_created,priority:2"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

// BeforeCreate assigns time-ordered ids so entries with equal timestamps keep insertion order.
func (entry *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entryID, err := uuid.NewV7()
		if err != nil {
			return err
		}
		entry.EntryID = entryID.String()
	}
	return nil
}

// AccessGrant mirrors the access_grants table. One row per (user, content).
type AccessGrant struct {
	GrantID      string    `gorm:"type:uuid;primaryKey"`
	UserID       string    `gorm:"not null;index:uniq_grants_user_content,unique,priority:1"`
	ContentType  string    `gorm:"not null;index:uniq_grants_user_content,unique,priority:2"`
	ContentID    string    `gorm:"not null;index:uniq_grants_user_content,unique,priority:3"`
	AccessType   string    `gorm:"not null"`
	CoinsSpent   int64     `gorm:"not null"`
	DebitEntryID *string   `gorm:"type:uuid"`
	PurchasedAt  time.Time `gorm:"not null"`
}

func (AccessGrant) TableName() string { return "access_grants" }

func (grant *AccessGrant) BeforeCreate(tx *gorm.DB) error {
	if grant.GrantID == "" {
		grant.GrantID = uuid.NewString()
	}
	return nil
}

// Withdrawal mirrors the withdrawals table holding payouts awaiting settlement.
type Withdrawal struct {
	WithdrawalID   string         `gorm:"type:uuid;primaryKey"`
	UserID         string         `gorm:"not null;index"`
	EntryID        string         `gorm:"type:uuid;not null"`
	Coins          int64          `gorm:"not null"`
	Method         string         `gorm:"not null"`
	AccountDetails datatypes.JSON `gorm:"type:jsonb;not null"`
	Status         string         `gorm:"not null;index"`
	CreatedAt      time.Time      `gorm:"not null"`
	UpdatedAt      time.Time      `gorm:"not null"`
}

func (Withdrawal) TableName() string { return "withdrawals" }

// ContentItem is the purchasable catalog row owned by the content service.
type ContentItem struct {
	ContentType string    `gorm:"primaryKey"`
	ContentID   string    `gorm:"primaryKey"`
	Title       string    `gorm:"not null;default:''"`
	Price       int64     `gorm:"not null"`
	CreatorID   string    `gorm:"not null"`
	SeriesID    *string   `gorm:"index"`
	Active      bool      `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (ContentItem) TableName() string { return "content_items" }

// Migrate creates or updates every table the store needs.
func Migrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).AutoMigrate(&Account{}, &LedgerEntry{}, &AccessGrant{}, &Withdrawal{}, &ContentItem{})
}
