package biz

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"credit-service/internal/constants"
	creditErrors "credit-service/internal/errors"
	"credit-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CommissionAccount 代理佣金账户，满足 Total = Available + Frozen + Pending + Settled
type CommissionAccount struct {
	AgentUserID string
	Total       decimal.Decimal
	Available   decimal.Decimal
	Frozen      decimal.Decimal
	Pending     decimal.Decimal
	Settled     decimal.Decimal
	Version     int64
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Conserved 守恒校验
func (a *CommissionAccount) Conserved() bool {
	return a.Total.Equal(a.Available.Add(a.Frozen).Add(a.Pending).Add(a.Settled))
}

// Clone 复制快照
func (a *CommissionAccount) Clone() *CommissionAccount {
	c := *a
	return &c
}

func newCommissionAccount(agentUserID string) *CommissionAccount {
	return &CommissionAccount{
		AgentUserID: agentUserID,
		Total:       decimal.Zero,
		Available:   decimal.Zero,
		Frozen:      decimal.Zero,
		Pending:     decimal.Zero,
		Settled:     decimal.Zero,
		Status:      constants.AccountStatusNormal,
	}
}

// CommissionRecord 分佣流水（只追加）
type CommissionRecord struct {
	RecordID         string
	AgentUserID      string
	BuyerUserID      string
	TriggerBillingID string
	TriggerAmount    decimal.Decimal
	CommissionAmount decimal.Decimal
	CommissionRate   decimal.Decimal
	HierarchyLevel   int
	Direction        string // credit/debit
	BusinessType     string
	Status           string
	CreateTime       time.Time
}

// CommissionSettlement 佣金结算单
type CommissionSettlement struct {
	SettlementID   string
	AgentUserID    string
	RequestAmount  decimal.Decimal
	ApprovedAmount decimal.Decimal
	Status         string
	Remark         string
	ApprovalUserID string
	ApprovalRemark string
	ApprovalTime   *time.Time
	CreateTime     time.Time
}

// IsTerminal 结算单是否已终结
func (s *CommissionSettlement) IsTerminal() bool {
	return s.Status != constants.SettlementStatusPending
}

// SettlementTransition 结算单状态迁移，仅当当前状态为 pending 时生效
type SettlementTransition struct {
	SettlementID   string
	To             string
	ApprovedAmount decimal.Decimal
	ApprovalUserID string
	ApprovalRemark string
	ApprovalTime   time.Time
}

// CommissionChange 与佣金账户版本更新同事务写入的内容
type CommissionChange struct {
	// Record 唯一键 (trigger, agent, level, direction) 冲突时返回 ErrDuplicateEvent
	Record *CommissionRecord
	// NewSettlement 新建结算单
	NewSettlement *CommissionSettlement
	// Transition 条件更新未命中返回 ErrTaskMismatch
	Transition *SettlementTransition
}

// AgentAncestor 上级代理
type AgentAncestor struct {
	AgentUserID string
	Level       int // 1 为直属上级
}

// AgentHierarchy 代理关系（预计算的上级链）
type AgentHierarchy interface {
	// AncestorChain 按层级升序返回最多三级上级
	AncestorChain(ctx context.Context, userID string) ([]AgentAncestor, error)
}

// CommissionRepo 佣金数据层接口
type CommissionRepo interface {
	// GetAccount 不存在返回 ErrAccountNotFound
	GetAccount(ctx context.Context, agentUserID string) (*CommissionAccount, error)
	// CreateAccount 已存在时不报错
	CreateAccount(ctx context.Context, acc *CommissionAccount) error
	SaveWithVersion(ctx context.Context, acc *CommissionAccount, change *CommissionChange) error
	// GetSettlement 不存在返回 ErrSettlementNotFound
	GetSettlement(ctx context.Context, settlementID string) (*CommissionSettlement, error)
	ListSettlements(ctx context.Context, agentUserID, status string) ([]*CommissionSettlement, error)
	ListRecords(ctx context.Context, agentUserID string, page, pageSize int) ([]*CommissionRecord, int64, error)
	ListRecordsByTrigger(ctx context.Context, triggerBillingID, direction string) ([]*CommissionRecord, error)
}

// DistributeRequest 分佣请求
type DistributeRequest struct {
	BuyerUserID      string
	TriggerBillingID string
	TriggerAmount    decimal.Decimal
	BusinessType     string
}

// LevelFailure 单层分佣失败
type LevelFailure struct {
	Level       int
	AgentUserID string
	Err         error
}

// DistributeResult 分佣结果
type DistributeResult struct {
	Records  []*CommissionRecord
	Failures []LevelFailure
}

// commissionMutateFunc 在账户快照上计算变更
type commissionMutateFunc func(acc *CommissionAccount) (*CommissionChange, error)

// CommissionUseCase 代理分佣与结算
type CommissionUseCase struct {
	repo      CommissionRepo
	hierarchy AgentHierarchy
	prices    PriceConfig
	conf      *BillingConfig
	log       *log.Helper
	metrics   *metrics.CreditMetrics
}

// NewCommissionUseCase 创建分佣 UseCase
func NewCommissionUseCase(repo CommissionRepo, hierarchy AgentHierarchy, prices PriceConfig, conf *BillingConfig, logger log.Logger) *CommissionUseCase {
	return &CommissionUseCase{
		repo:      repo,
		hierarchy: hierarchy,
		prices:    prices,
		conf:      conf,
		log:       log.NewHelper(logger),
		metrics:   metrics.GetMetrics(),
	}
}

// mutate 佣金账户的读取-计算-条件写入循环；create 为 true 时账户不存在则先创建
func (uc *CommissionUseCase) mutate(ctx context.Context, agentUserID string, create bool, fn commissionMutateFunc) (*CommissionAccount, error) {
	attempts := uc.conf.MaxCASRetries
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		acc, err := uc.repo.GetAccount(ctx, agentUserID)
		if err != nil && create && creditErrors.IsAccountNotFound(err) {
			if err := uc.repo.CreateAccount(ctx, newCommissionAccount(agentUserID)); err != nil {
				return nil, fmt.Errorf("create commission account %s: %w", agentUserID, err)
			}
			acc, err = uc.repo.GetAccount(ctx, agentUserID)
		}
		if err != nil {
			return nil, err
		}

		change, err := fn(acc)
		if err != nil {
			return nil, err
		}
		if !acc.Conserved() {
			return nil, fmt.Errorf("commission conservation violated: agent=%s", agentUserID)
		}

		err = uc.repo.SaveWithVersion(ctx, acc, change)
		if err == nil {
			return acc, nil
		}
		if !creditErrors.IsOptimisticLockConflict(err) {
			return nil, err
		}
		if uc.metrics != nil {
			uc.metrics.CASConflictTotal.WithLabelValues("commission").Inc()
		}
		uc.log.Debugf("commission version conflict: agent=%s, attempt=%d", agentUserID, attempt)
	}
	return nil, creditErrors.ErrOptimisticLockConflict.WithMetadata(map[string]string{"agent_user_id": agentUserID})
}

// Distribute 充值成功后按上级链逐层分佣；单层失败只记录，不影响其他层级与充值本身
func (uc *CommissionUseCase) Distribute(ctx context.Context, req *DistributeRequest) (*DistributeResult, error) {
	chain, err := uc.hierarchy.AncestorChain(ctx, req.BuyerUserID)
	if err != nil {
		return nil, fmt.Errorf("resolve agent chain for %s: %w", req.BuyerUserID, err)
	}

	result := &DistributeResult{}
	for _, ancestor := range chain {
		if ancestor.Level < 1 || ancestor.Level > constants.MaxAgentLevel || ancestor.AgentUserID == "" {
			continue
		}
		level := strconv.Itoa(ancestor.Level)
		rate, ok := uc.prices.CommissionRate(ancestor.Level)
		if !ok {
			uc.log.Warnf("commission rate missing, level skipped: level=%d, buyer=%s", ancestor.Level, req.BuyerUserID)
			continue
		}
		amount := req.TriggerAmount.Mul(rate).Round(uc.conf.CommissionScale)
		if !amount.IsPositive() {
			continue
		}

		record := &CommissionRecord{
			RecordID:         uuid.New().String(),
			AgentUserID:      ancestor.AgentUserID,
			BuyerUserID:      req.BuyerUserID,
			TriggerBillingID: req.TriggerBillingID,
			TriggerAmount:    req.TriggerAmount,
			CommissionAmount: amount,
			CommissionRate:   rate,
			HierarchyLevel:   ancestor.Level,
			Direction:        constants.CommissionDirectionCredit,
			BusinessType:     req.BusinessType,
			Status:           constants.CommissionRecordStatusSuccess,
			CreateTime:       time.Now(),
		}
		_, err := uc.mutate(ctx, ancestor.AgentUserID, true, func(acc *CommissionAccount) (*CommissionChange, error) {
			acc.Total = acc.Total.Add(amount)
			acc.Available = acc.Available.Add(amount)
			return &CommissionChange{Record: record}, nil
		})
		if creditErrors.IsDuplicateEvent(err) {
			uc.log.Infof("commission already credited: trigger=%s, agent=%s, level=%d", req.TriggerBillingID, ancestor.AgentUserID, ancestor.Level)
			continue
		}
		if err != nil {
			uc.log.Errorf("commission credit failed: trigger=%s, agent=%s, level=%d, amount=%s, error=%v",
				req.TriggerBillingID, ancestor.AgentUserID, ancestor.Level, amount, err)
			result.Failures = append(result.Failures, LevelFailure{Level: ancestor.Level, AgentUserID: ancestor.AgentUserID, Err: err})
			if uc.metrics != nil {
				uc.metrics.CommissionCreditTotal.WithLabelValues(level, constants.ResultFailed).Inc()
			}
			continue
		}
		result.Records = append(result.Records, record)
		if uc.metrics != nil {
			uc.metrics.CommissionCreditTotal.WithLabelValues(level, constants.ResultSuccess).Inc()
			uc.metrics.CommissionAmount.WithLabelValues(level).Add(amount.InexactFloat64())
		}
	}
	return result, nil
}

// ClawbackCommission 冲回某笔充值产生的分佣（如充值退款），可用佣金不足的层级记录失败
func (uc *CommissionUseCase) ClawbackCommission(ctx context.Context, triggerBillingID, operatorID string) (*DistributeResult, error) {
	credits, err := uc.repo.ListRecordsByTrigger(ctx, triggerBillingID, constants.CommissionDirectionCredit)
	if err != nil {
		return nil, err
	}
	result := &DistributeResult{}
	for _, credit := range credits {
		amount := credit.CommissionAmount
		debit := &CommissionRecord{
			RecordID:         uuid.New().String(),
			AgentUserID:      credit.AgentUserID,
			BuyerUserID:      credit.BuyerUserID,
			TriggerBillingID: credit.TriggerBillingID,
			TriggerAmount:    credit.TriggerAmount,
			CommissionAmount: amount,
			CommissionRate:   credit.CommissionRate,
			HierarchyLevel:   credit.HierarchyLevel,
			Direction:        constants.CommissionDirectionDebit,
			BusinessType:     credit.BusinessType,
			Status:           constants.CommissionRecordStatusSuccess,
			CreateTime:       time.Now(),
		}
		_, err := uc.mutate(ctx, credit.AgentUserID, false, func(acc *CommissionAccount) (*CommissionChange, error) {
			if acc.Available.LessThan(amount) {
				return nil, creditErrors.ErrInsufficientCommission.WithMetadata(map[string]string{
					"agent_user_id": acc.AgentUserID,
					"available":     acc.Available.String(),
					"required":      amount.String(),
				})
			}
			acc.Total = acc.Total.Sub(amount)
			acc.Available = acc.Available.Sub(amount)
			return &CommissionChange{Record: debit}, nil
		})
		if creditErrors.IsDuplicateEvent(err) {
			continue
		}
		if err != nil {
			uc.log.Errorf("commission clawback failed: trigger=%s, agent=%s, level=%d, operator=%s, error=%v",
				triggerBillingID, credit.AgentUserID, credit.HierarchyLevel, operatorID, err)
			result.Failures = append(result.Failures, LevelFailure{Level: credit.HierarchyLevel, AgentUserID: credit.AgentUserID, Err: err})
			continue
		}
		result.Records = append(result.Records, debit)
	}
	return result, nil
}

// GetAccount 查询佣金账户，尚未分佣过的代理返回零值账户
func (uc *CommissionUseCase) GetAccount(ctx context.Context, agentUserID string) (*CommissionAccount, error) {
	acc, err := uc.repo.GetAccount(ctx, agentUserID)
	if creditErrors.IsAccountNotFound(err) {
		return newCommissionAccount(agentUserID), nil
	}
	return acc, err
}

// ListRecords 分佣流水
func (uc *CommissionUseCase) ListRecords(ctx context.Context, agentUserID string, page, pageSize int) ([]*CommissionRecord, int64, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return uc.repo.ListRecords(ctx, agentUserID, page, pageSize)
}

// ListSettlements 结算单列表，status 为空时不过滤
func (uc *CommissionUseCase) ListSettlements(ctx context.Context, agentUserID, status string) ([]*CommissionSettlement, error) {
	return uc.repo.ListSettlements(ctx, agentUserID, status)
}

// FreezeCommission 冻结可用佣金（风控）
func (uc *CommissionUseCase) FreezeCommission(ctx context.Context, agentUserID string, amount decimal.Decimal, operatorID, reason string) (*CommissionAccount, error) {
	if err := requirePositive(amount); err != nil {
		return nil, err
	}
	acc, err := uc.mutate(ctx, agentUserID, false, func(acc *CommissionAccount) (*CommissionChange, error) {
		if acc.Available.LessThan(amount) {
			return nil, creditErrors.ErrInsufficientCommission.WithMetadata(map[string]string{"agent_user_id": agentUserID})
		}
		acc.Available = acc.Available.Sub(amount)
		acc.Frozen = acc.Frozen.Add(amount)
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	uc.log.Infof("commission frozen: agent=%s, amount=%s, operator=%s, reason=%s", agentUserID, amount, operatorID, reason)
	return acc, nil
}

// UnfreezeCommission 解冻佣金
func (uc *CommissionUseCase) UnfreezeCommission(ctx context.Context, agentUserID string, amount decimal.Decimal, operatorID, reason string) (*CommissionAccount, error) {
	if err := requirePositive(amount); err != nil {
		return nil, err
	}
	acc, err := uc.mutate(ctx, agentUserID, false, func(acc *CommissionAccount) (*CommissionChange, error) {
		if acc.Frozen.LessThan(amount) {
			return nil, creditErrors.ErrInvalidAmount.WithMetadata(map[string]string{"frozen": acc.Frozen.String()})
		}
		acc.Frozen = acc.Frozen.Sub(amount)
		acc.Available = acc.Available.Add(amount)
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	uc.log.Infof("commission unfrozen: agent=%s, amount=%s, operator=%s, reason=%s", agentUserID, amount, operatorID, reason)
	return acc, nil
}

// ApplySettlement 申请结算：可用佣金转入待结算
func (uc *CommissionUseCase) ApplySettlement(ctx context.Context, agentUserID string, amount decimal.Decimal, remark string) (*CommissionSettlement, error) {
	if err := requirePositive(amount); err != nil {
		return nil, err
	}
	settlement := &CommissionSettlement{
		SettlementID:   uuid.New().String(),
		AgentUserID:    agentUserID,
		RequestAmount:  amount,
		ApprovedAmount: decimal.Zero,
		Status:         constants.SettlementStatusPending,
		Remark:         remark,
		CreateTime:     time.Now(),
	}
	_, err := uc.mutate(ctx, agentUserID, false, func(acc *CommissionAccount) (*CommissionChange, error) {
		if acc.Available.LessThan(amount) {
			return nil, creditErrors.ErrInsufficientCommission.WithMetadata(map[string]string{
				"agent_user_id": agentUserID,
				"available":     acc.Available.String(),
				"required":      amount.String(),
			})
		}
		acc.Available = acc.Available.Sub(amount)
		acc.Pending = acc.Pending.Add(amount)
		return &CommissionChange{NewSettlement: settlement}, nil
	})
	if creditErrors.IsAccountNotFound(err) {
		return nil, creditErrors.ErrInsufficientCommission.WithMetadata(map[string]string{
			"agent_user_id": agentUserID,
			"available":     "0",
			"required":      amount.String(),
		})
	}
	if err != nil {
		return nil, err
	}
	uc.observeTransition(constants.SettlementStatusPending)
	uc.log.Infof("settlement applied: settlement_id=%s, agent=%s, amount=%s", settlement.SettlementID, agentUserID, amount)
	return settlement, nil
}

// ApproveSettlement 审核通过：批准金额转入已结算，未批准部分退回可用
func (uc *CommissionUseCase) ApproveSettlement(ctx context.Context, settlementID string, approvedAmount decimal.Decimal, operatorID, remark string) (*CommissionSettlement, error) {
	s, err := uc.pendingSettlement(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	if !approvedAmount.IsPositive() || approvedAmount.GreaterThan(s.RequestAmount) {
		return nil, creditErrors.ErrInvalidAmount.WithMetadata(map[string]string{
			"approved": approvedAmount.String(),
			"request":  s.RequestAmount.String(),
		})
	}
	return uc.finish(ctx, s, constants.SettlementStatusApproved, approvedAmount, operatorID, remark)
}

// RejectSettlement 驳回：待结算全额退回可用
func (uc *CommissionUseCase) RejectSettlement(ctx context.Context, settlementID, operatorID, remark string) (*CommissionSettlement, error) {
	s, err := uc.pendingSettlement(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	return uc.finish(ctx, s, constants.SettlementStatusRejected, decimal.Zero, operatorID, remark)
}

// CancelSettlement 代理撤回自己的待审核申请
func (uc *CommissionUseCase) CancelSettlement(ctx context.Context, settlementID, agentUserID, remark string) (*CommissionSettlement, error) {
	s, err := uc.pendingSettlement(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	if s.AgentUserID != agentUserID {
		return nil, creditErrors.ErrTaskMismatch.WithMetadata(map[string]string{
			"settlement_id": settlementID,
			"agent_user_id": agentUserID,
		})
	}
	return uc.finish(ctx, s, constants.SettlementStatusCancelled, decimal.Zero, agentUserID, remark)
}

func (uc *CommissionUseCase) pendingSettlement(ctx context.Context, settlementID string) (*CommissionSettlement, error) {
	s, err := uc.repo.GetSettlement(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	if s.IsTerminal() {
		return nil, creditErrors.ErrTaskMismatch.WithMetadata(map[string]string{
			"settlement_id": settlementID,
			"status":        s.Status,
		})
	}
	return s, nil
}

// finish 将 pending 结算单迁移到终态，并在同一事务中调整佣金账户
func (uc *CommissionUseCase) finish(ctx context.Context, s *CommissionSettlement, to string, approved decimal.Decimal, operatorID, remark string) (*CommissionSettlement, error) {
	now := time.Now()
	transition := &SettlementTransition{
		SettlementID:   s.SettlementID,
		To:             to,
		ApprovedAmount: approved,
		ApprovalUserID: operatorID,
		ApprovalRemark: remark,
		ApprovalTime:   now,
	}
	_, err := uc.mutate(ctx, s.AgentUserID, false, func(acc *CommissionAccount) (*CommissionChange, error) {
		if acc.Pending.LessThan(s.RequestAmount) {
			return nil, fmt.Errorf("pending commission %s below settlement %s request %s", acc.Pending, s.SettlementID, s.RequestAmount)
		}
		acc.Pending = acc.Pending.Sub(s.RequestAmount)
		acc.Settled = acc.Settled.Add(approved)
		acc.Available = acc.Available.Add(s.RequestAmount.Sub(approved))
		return &CommissionChange{Transition: transition}, nil
	})
	if err != nil {
		if errors.Is(err, creditErrors.ErrTaskMismatch) {
			uc.log.Warnf("settlement already finished concurrently: settlement_id=%s, to=%s", s.SettlementID, to)
		}
		return nil, err
	}

	done := *s
	done.Status = to
	done.ApprovedAmount = approved
	done.ApprovalUserID = operatorID
	done.ApprovalRemark = remark
	done.ApprovalTime = &now
	uc.observeTransition(to)
	uc.log.Infof("settlement %s: settlement_id=%s, agent=%s, request=%s, approved=%s, operator=%s",
		to, s.SettlementID, s.AgentUserID, s.RequestAmount, approved, operatorID)
	return &done, nil
}

func (uc *CommissionUseCase) observeTransition(status string) {
	if uc.metrics != nil {
		uc.metrics.SettlementTransitionTotal.WithLabelValues(status).Inc()
	}
}
