package biz

import (
	"time"

	"github.com/shopspring/decimal"
)

// BillingRecord 账单记录（只追加，写入后不可修改）
type BillingRecord struct {
	BillID        string
	BillNo        string
	UserID        string // 被计费账户
	OperatorID    string
	BillType      string // recharge/consume/refund
	BillingType   string // instant/daily
	BusinessType  string
	BusinessID    string
	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	Description   string
	Status        string
	EventID       string
	CreateTime    time.Time
}

// BillNoGenerator 账单号生成器（全局唯一）
type BillNoGenerator interface {
	NextBillNo() string
}
