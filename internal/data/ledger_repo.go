package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/data/model"
	creditErrors "credit-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ledgerRepo 余额账本数据访问
type ledgerRepo struct {
	data *Data
	log  *log.Helper
}

// NewLedgerRepo 创建账本 repo（返回 biz.LedgerRepo 接口）
func NewLedgerRepo(data *Data, logger log.Logger) biz.LedgerRepo {
	return &ledgerRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// GetAccount 获取账户
func (r *ledgerRepo) GetAccount(ctx context.Context, userID string) (*biz.BalanceAccount, error) {
	var m model.BalanceAccount
	if err := r.data.db.WithContext(ctx).Where("user_id = ?", userID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, creditErrors.ErrAccountNotFound.WithMetadata(map[string]string{"user_id": userID})
		}
		r.log.Errorf("GetAccount failed: user_id=%s, error=%v", userID, err)
		return nil, fmt.Errorf("failed to query balance account: %w", err)
	}
	return toBizAccount(&m), nil
}

// CreateAccount 创建账户，已存在时忽略
func (r *ledgerRepo) CreateAccount(ctx context.Context, acc *biz.BalanceAccount) error {
	m := fromBizAccount(acc)
	m.Version = 0
	return r.data.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(m).Error
}

// SaveWithVersion 在同一事务中：按版本条件更新账户、写入已处理事件、追加账单
func (r *ledgerRepo) SaveWithVersion(ctx context.Context, acc *biz.BalanceAccount, change *biz.LedgerChange) error {
	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.BalanceAccount{}).
			Where("user_id = ? AND version = ?", acc.UserID, acc.Version).
			Updates(map[string]interface{}{
				"balance":              acc.Balance,
				"pre_deducted_balance": acc.PreDeductedBalance,
				"frozen_amount":        acc.FrozenAmount,
				"total_recharge":       acc.TotalRecharge,
				"total_consume":        acc.TotalConsume,
				"total_refund":         acc.TotalRefund,
				"daily_consume":        acc.DailyConsume,
				"free_allowance":       acc.FreeAllowance,
				"status":               acc.Status,
				"version":              acc.Version + 1,
				"updated_at":           time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return creditErrors.ErrOptimisticLockConflict
		}

		if change == nil {
			return nil
		}
		if change.EventID != "" {
			evt := &model.LedgerProcessedEvent{EventID: change.EventID, UserID: acc.UserID}
			if err := tx.Create(evt).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return creditErrors.ErrDuplicateEvent.WithMetadata(map[string]string{"event_id": change.EventID})
				}
				return err
			}
		}
		if change.Record != nil {
			if err := tx.Create(fromBizRecord(change.Record)).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if !creditErrors.IsOptimisticLockConflict(err) && !creditErrors.IsDuplicateEvent(err) {
			r.log.Errorf("SaveWithVersion failed: user_id=%s, version=%d, error=%v", acc.UserID, acc.Version, err)
		}
		return err
	}
	acc.Version++
	return nil
}

// IsEventProcessed 事件是否已处理
func (r *ledgerRepo) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var count int64
	if err := r.data.db.WithContext(ctx).Model(&model.LedgerProcessedEvent{}).
		Where("event_id = ?", eventID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListAccountsWithDailyConsume 日累计消费大于零的账户
func (r *ledgerRepo) ListAccountsWithDailyConsume(ctx context.Context) ([]*biz.BalanceAccount, error) {
	var ms []model.BalanceAccount
	if err := r.data.db.WithContext(ctx).Where("daily_consume > 0").Order("user_id").Find(&ms).Error; err != nil {
		return nil, err
	}
	out := make([]*biz.BalanceAccount, 0, len(ms))
	for i := range ms {
		out = append(out, toBizAccount(&ms[i]))
	}
	return out, nil
}

// ListAccountIDs 按状态列出账户，status 为空时列出全部
func (r *ledgerRepo) ListAccountIDs(ctx context.Context, status string) ([]string, error) {
	query := r.data.db.WithContext(ctx).Model(&model.BalanceAccount{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var ids []string
	if err := query.Order("user_id").Pluck("user_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// ListRecords 分页查询账单，按时间倒序；businessType 非空时按业务类型过滤（对账）
func (r *ledgerRepo) ListRecords(ctx context.Context, userID, businessType string, page, pageSize int) ([]*biz.BillingRecord, int64, error) {
	query := r.data.db.WithContext(ctx).Model(&model.BillingRecord{}).Where("user_id = ?", userID)
	if businessType != "" {
		query = query.Where("business_type = ?", businessType)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var ms []model.BillingRecord
	if err := query.Order("create_time DESC").Order("bill_no DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).Find(&ms).Error; err != nil {
		return nil, 0, err
	}
	out := make([]*biz.BillingRecord, 0, len(ms))
	for i := range ms {
		out = append(out, toBizRecord(&ms[i]))
	}
	return out, total, nil
}

func toBizAccount(m *model.BalanceAccount) *biz.BalanceAccount {
	return &biz.BalanceAccount{
		UserID:             m.UserID,
		Balance:            m.Balance,
		PreDeductedBalance: m.PreDeductedBalance,
		FrozenAmount:       m.FrozenAmount,
		TotalRecharge:      m.TotalRecharge,
		TotalConsume:       m.TotalConsume,
		TotalRefund:        m.TotalRefund,
		DailyConsume:       m.DailyConsume,
		FreeAllowance:      m.FreeAllowance,
		Version:            m.Version,
		Status:             m.Status,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

func fromBizAccount(acc *biz.BalanceAccount) *model.BalanceAccount {
	return &model.BalanceAccount{
		UserID:             acc.UserID,
		Balance:            acc.Balance,
		PreDeductedBalance: acc.PreDeductedBalance,
		FrozenAmount:       acc.FrozenAmount,
		TotalRecharge:      acc.TotalRecharge,
		TotalConsume:       acc.TotalConsume,
		TotalRefund:        acc.TotalRefund,
		DailyConsume:       acc.DailyConsume,
		FreeAllowance:      acc.FreeAllowance,
		Version:            acc.Version,
		Status:             acc.Status,
	}
}

func toBizRecord(m *model.BillingRecord) *biz.BillingRecord {
	rec := &biz.BillingRecord{
		BillID:        m.BillID,
		BillNo:        m.BillNo,
		UserID:        m.UserID,
		OperatorID:    m.OperatorID,
		BillType:      m.BillType,
		BillingType:   m.BillingType,
		BusinessType:  m.BusinessType,
		BusinessID:    m.BusinessID,
		Amount:        m.Amount,
		BalanceBefore: m.BalanceBefore,
		BalanceAfter:  m.BalanceAfter,
		Description:   m.Description,
		Status:        m.Status,
		CreateTime:    m.CreateTime,
	}
	if m.EventID != nil {
		rec.EventID = *m.EventID
	}
	return rec
}

func fromBizRecord(rec *biz.BillingRecord) *model.BillingRecord {
	m := &model.BillingRecord{
		BillID:        rec.BillID,
		BillNo:        rec.BillNo,
		UserID:        rec.UserID,
		OperatorID:    rec.OperatorID,
		BillType:      rec.BillType,
		BillingType:   rec.BillingType,
		BusinessType:  rec.BusinessType,
		BusinessID:    rec.BusinessID,
		Amount:        rec.Amount,
		BalanceBefore: rec.BalanceBefore,
		BalanceAfter:  rec.BalanceAfter,
		Description:   rec.Description,
		Status:        rec.Status,
		CreateTime:    rec.CreateTime,
	}
	if rec.EventID != "" {
		eventID := rec.EventID
		m.EventID = &eventID
	}
	if m.CreateTime.IsZero() {
		m.CreateTime = time.Now()
	}
	return m
}
