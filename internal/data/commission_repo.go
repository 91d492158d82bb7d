package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/constants"
	"credit-service/internal/data/model"
	creditErrors "credit-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// commissionRepo 代理佣金数据访问
type commissionRepo struct {
	data *Data
	log  *log.Helper
}

// NewCommissionRepo 创建佣金 repo
func NewCommissionRepo(data *Data, logger log.Logger) biz.CommissionRepo {
	return &commissionRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func (r *commissionRepo) GetAccount(ctx context.Context, agentUserID string) (*biz.CommissionAccount, error) {
	var m model.AgentCommissionAccount
	if err := r.data.db.WithContext(ctx).Where("agent_user_id = ?", agentUserID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, creditErrors.ErrAccountNotFound.WithMetadata(map[string]string{"agent_user_id": agentUserID})
		}
		return nil, fmt.Errorf("failed to query commission account: %w", err)
	}
	return &biz.CommissionAccount{
		AgentUserID: m.AgentUserID,
		Total:       m.TotalCommission,
		Available:   m.AvailableCommission,
		Frozen:      m.FrozenCommission,
		Pending:     m.PendingSettlementCommission,
		Settled:     m.SettledCommission,
		Version:     m.Version,
		Status:      m.Status,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}, nil
}

func (r *commissionRepo) CreateAccount(ctx context.Context, acc *biz.CommissionAccount) error {
	m := &model.AgentCommissionAccount{
		AgentUserID:                 acc.AgentUserID,
		TotalCommission:             acc.Total,
		AvailableCommission:         acc.Available,
		FrozenCommission:            acc.Frozen,
		PendingSettlementCommission: acc.Pending,
		SettledCommission:           acc.Settled,
		Status:                      acc.Status,
	}
	return r.data.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(m).Error
}

// SaveWithVersion 账户版本更新与流水/结算单写入同事务
func (r *commissionRepo) SaveWithVersion(ctx context.Context, acc *biz.CommissionAccount, change *biz.CommissionChange) error {
	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.AgentCommissionAccount{}).
			Where("agent_user_id = ? AND version = ?", acc.AgentUserID, acc.Version).
			Updates(map[string]interface{}{
				"total_commission":              acc.Total,
				"available_commission":          acc.Available,
				"frozen_commission":             acc.Frozen,
				"pending_settlement_commission": acc.Pending,
				"settled_commission":            acc.Settled,
				"status":                        acc.Status,
				"version":                       acc.Version + 1,
				"updated_at":                    time.Now(),
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

		if rec := change.Record; rec != nil {
			m := &model.AgentCommissionRecord{
				RecordID:         rec.RecordID,
				AgentUserID:      rec.AgentUserID,
				BuyerUserID:      rec.BuyerUserID,
				TriggerBillingID: rec.TriggerBillingID,
				TriggerAmount:    rec.TriggerAmount,
				CommissionAmount: rec.CommissionAmount,
				CommissionRate:   rec.CommissionRate,
				HierarchyLevel:   rec.HierarchyLevel,
				Direction:        rec.Direction,
				BusinessType:     rec.BusinessType,
				Status:           rec.Status,
				CreateTime:       rec.CreateTime,
			}
			if err := tx.Create(m).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return creditErrors.ErrDuplicateEvent.WithMetadata(map[string]string{
						"trigger_billing_id": rec.TriggerBillingID,
						"agent_user_id":      rec.AgentUserID,
					})
				}
				return err
			}
		}
		if s := change.NewSettlement; s != nil {
			if err := tx.Create(fromBizSettlement(s)).Error; err != nil {
				return err
			}
		}
		if tr := change.Transition; tr != nil {
			result := tx.Model(&model.AgentCommissionSettlement{}).
				Where("settlement_id = ? AND status = ?", tr.SettlementID, constants.SettlementStatusPending).
				Updates(map[string]interface{}{
					"status":           tr.To,
					"approved_amount":  tr.ApprovedAmount,
					"approval_user_id": tr.ApprovalUserID,
					"approval_remark":  tr.ApprovalRemark,
					"approval_time":    tr.ApprovalTime,
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return creditErrors.ErrTaskMismatch.WithMetadata(map[string]string{"settlement_id": tr.SettlementID})
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	acc.Version++
	return nil
}

func (r *commissionRepo) GetSettlement(ctx context.Context, settlementID string) (*biz.CommissionSettlement, error) {
	var m model.AgentCommissionSettlement
	if err := r.data.db.WithContext(ctx).Where("settlement_id = ?", settlementID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, creditErrors.ErrSettlementNotFound.WithMetadata(map[string]string{"settlement_id": settlementID})
		}
		return nil, err
	}
	return toBizSettlement(&m), nil
}

func (r *commissionRepo) ListSettlements(ctx context.Context, agentUserID, status string) ([]*biz.CommissionSettlement, error) {
	query := r.data.db.WithContext(ctx).Where("agent_user_id = ?", agentUserID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var ms []model.AgentCommissionSettlement
	if err := query.Order("create_time DESC").Find(&ms).Error; err != nil {
		return nil, err
	}
	out := make([]*biz.CommissionSettlement, 0, len(ms))
	for i := range ms {
		out = append(out, toBizSettlement(&ms[i]))
	}
	return out, nil
}

func (r *commissionRepo) ListRecords(ctx context.Context, agentUserID string, page, pageSize int) ([]*biz.CommissionRecord, int64, error) {
	query := r.data.db.WithContext(ctx).Model(&model.AgentCommissionRecord{}).Where("agent_user_id = ?", agentUserID)
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var ms []model.AgentCommissionRecord
	if err := query.Order("create_time DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&ms).Error; err != nil {
		return nil, 0, err
	}
	return toBizCommissionRecords(ms), total, nil
}

func (r *commissionRepo) ListRecordsByTrigger(ctx context.Context, triggerBillingID, direction string) ([]*biz.CommissionRecord, error) {
	var ms []model.AgentCommissionRecord
	if err := r.data.db.WithContext(ctx).
		Where("trigger_billing_id = ? AND direction = ?", triggerBillingID, direction).
		Order("hierarchy_level").Find(&ms).Error; err != nil {
		return nil, err
	}
	return toBizCommissionRecords(ms), nil
}

func toBizCommissionRecords(ms []model.AgentCommissionRecord) []*biz.CommissionRecord {
	out := make([]*biz.CommissionRecord, 0, len(ms))
	for _, m := range ms {
		out = append(out, &biz.CommissionRecord{
			RecordID:         m.RecordID,
			AgentUserID:      m.AgentUserID,
			BuyerUserID:      m.BuyerUserID,
			TriggerBillingID: m.TriggerBillingID,
			TriggerAmount:    m.TriggerAmount,
			CommissionAmount: m.CommissionAmount,
			CommissionRate:   m.CommissionRate,
			HierarchyLevel:   m.HierarchyLevel,
			Direction:        m.Direction,
			BusinessType:     m.BusinessType,
			Status:           m.Status,
			CreateTime:       m.CreateTime,
		})
	}
	return out
}

func toBizSettlement(m *model.AgentCommissionSettlement) *biz.CommissionSettlement {
	return &biz.CommissionSettlement{
		SettlementID:   m.SettlementID,
		AgentUserID:    m.AgentUserID,
		RequestAmount:  m.RequestAmount,
		ApprovedAmount: m.ApprovedAmount,
		Status:         m.Status,
		Remark:         m.Remark,
		ApprovalUserID: m.ApprovalUserID,
		ApprovalRemark: m.ApprovalRemark,
		ApprovalTime:   m.ApprovalTime,
		CreateTime:     m.CreateTime,
	}
}

func fromBizSettlement(s *biz.CommissionSettlement) *model.AgentCommissionSettlement {
	return &model.AgentCommissionSettlement{
		SettlementID:   s.SettlementID,
		AgentUserID:    s.AgentUserID,
		RequestAmount:  s.RequestAmount,
		ApprovedAmount: s.ApprovedAmount,
		Status:         s.Status,
		Remark:         s.Remark,
		ApprovalUserID: s.ApprovalUserID,
		ApprovalRemark: s.ApprovalRemark,
		ApprovalTime:   s.ApprovalTime,
		CreateTime:     s.CreateTime,
	}
}
