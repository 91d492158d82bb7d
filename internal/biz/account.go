package biz

import (
	"context"
	"time"

	"credit-service/internal/constants"

	"github.com/shopspring/decimal"
)

// BalanceAccount 余额账户领域对象（每个计费根账户一条）
type BalanceAccount struct {
	UserID             string
	Balance            decimal.Decimal
	PreDeductedBalance decimal.Decimal
	FrozenAmount       decimal.Decimal
	TotalRecharge      decimal.Decimal
	TotalConsume       decimal.Decimal
	TotalRefund        decimal.Decimal
	DailyConsume       decimal.Decimal
	FreeAllowance      int64
	Version            int64
	Status             string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Available 可用余额 = 余额 - 冻结金额
func (a *BalanceAccount) Available() decimal.Decimal {
	return a.Balance.Sub(a.FrozenAmount)
}

// Clone 复制快照
func (a *BalanceAccount) Clone() *BalanceAccount {
	c := *a
	return &c
}

// IsNormal 账户是否可扣费
func (a *BalanceAccount) IsNormal() bool {
	return a.Status == constants.AccountStatusNormal
}

// PrecheckAvailable 预检使用的可用余额，非正常状态视为零
func (a *BalanceAccount) PrecheckAvailable() decimal.Decimal {
	if !a.IsNormal() {
		return decimal.Zero
	}
	return a.Available()
}

// LedgerChange 与账户版本更新同事务写入的内容
type LedgerChange struct {
	// EventID 非空时写入已处理事件表，重复时整笔回滚并返回 ErrDuplicateEvent
	EventID string
	// Record 非空时追加一条账单
	Record *BillingRecord
}

// LedgerRepo 余额账本数据层接口（定义在 biz 层）
type LedgerRepo interface {
	// GetAccount 账户不存在返回 ErrAccountNotFound
	GetAccount(ctx context.Context, userID string) (*BalanceAccount, error)
	// CreateAccount 已存在时不报错
	CreateAccount(ctx context.Context, acc *BalanceAccount) error
	// SaveWithVersion 以 acc.Version 为期望版本做条件更新，成功后 acc.Version 自增；
	// 版本不匹配返回 ErrOptimisticLockConflict
	SaveWithVersion(ctx context.Context, acc *BalanceAccount, change *LedgerChange) error
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	ListAccountsWithDailyConsume(ctx context.Context) ([]*BalanceAccount, error)
	ListAccountIDs(ctx context.Context, status string) ([]string, error)
	// ListRecords businessType 为空时不过滤
	ListRecords(ctx context.Context, userID, businessType string, page, pageSize int) ([]*BillingRecord, int64, error)
}

// BalanceCache 余额缓存，按账户版本单调写入
type BalanceCache interface {
	// GetAvailable 未命中返回 ok=false
	GetAvailable(ctx context.Context, userID string) (available decimal.Decimal, ok bool, err error)
	// SetAvailable version 低于已缓存版本时忽略，旧快照不会覆盖新值
	SetAvailable(ctx context.Context, userID string, available decimal.Decimal, version int64, ttl time.Duration) error
	// Evict 删除缓存值但保留版本水位
	Evict(ctx context.Context, userID string) error
}
