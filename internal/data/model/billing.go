package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// BalanceAccount 余额账户表
type BalanceAccount struct {
	UserID             string          `gorm:"primaryKey;type:varchar(36)"`
	Balance            decimal.Decimal `gorm:"type:decimal(20,6);not null;default:0"`
	PreDeductedBalance decimal.Decimal `gorm:"type:decimal(20,6);not null;default:0"`
	FrozenAmount       decimal.Decimal `gorm:"type:decimal(20,6);not null;default:0"`
	TotalRecharge      decimal.Decimal `gorm:"type:decimal(20,6);not null;default:0"`
	TotalConsume       decimal.Decimal `gorm:"type:decimal(20,6);not null;default:0"`
	TotalRefund        decimal.Decimal `gorm:"type:decimal(20,6);not null;default:0"`
	DailyConsume       decimal.Decimal `gorm:"type:decimal(20,6);not null;default:0;index"`
	FreeAllowance      int64           `gorm:"not null;default:0"`
	Version            int64           `gorm:"not null;default:0"` // 乐观锁版本号
	Status             string          `gorm:"type:varchar(16);not null;default:'normal';index"`
	CreatedAt          time.Time       `gorm:"autoCreateTime"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (BalanceAccount) TableName() string {
	return "balance_account"
}

// BillingRecord 账单流水表（只追加）
type BillingRecord struct {
	BillID        string          `gorm:"primaryKey;type:varchar(36)"`
	BillNo        string          `gorm:"type:varchar(32);not null;uniqueIndex"`
	UserID        string          `gorm:"type:varchar(36);not null;index:idx_user_time,priority:1;index:idx_user_business,priority:1"`
	OperatorID    string          `gorm:"type:varchar(36)"`
	BillType      string          `gorm:"type:varchar(16);not null"`
	BillingType   string          `gorm:"type:varchar(16);not null"`
	BusinessType  string          `gorm:"type:varchar(64);not null;index:idx_user_business,priority:2"`
	BusinessID    string          `gorm:"type:varchar(64)"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,6);not null"`
	BalanceBefore decimal.Decimal `gorm:"type:decimal(20,6);not null"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(20,6);not null"`
	Description   string          `gorm:"type:varchar(255)"`
	Status        string          `gorm:"type:varchar(16);not null"`
	EventID       *string         `gorm:"type:varchar(128);index"`
	CreateTime    time.Time       `gorm:"not null;index:idx_user_time,priority:2"`
}

// TableName 指定表名
func (BillingRecord) TableName() string {
	return "billing_record"
}

// LedgerProcessedEvent 已处理事件表，与账户变更同事务写入
type LedgerProcessedEvent struct {
	EventID   string    `gorm:"primaryKey;type:varchar(128)"`
	UserID    string    `gorm:"type:varchar(36);not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// TableName 指定表名
func (LedgerProcessedEvent) TableName() string {
	return "ledger_processed_event"
}
