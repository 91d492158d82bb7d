package service

import (
	"context"

	"credit-service/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
)

// CommissionService 代理佣金查询与结算审批
type CommissionService struct {
	uc  *biz.CommissionUseCase
	log *log.Helper
}

// NewCommissionService 创建 CommissionService
func NewCommissionService(uc *biz.CommissionUseCase, logger log.Logger) *CommissionService {
	return &CommissionService{
		uc:  uc,
		log: log.NewHelper(logger),
	}
}

// GetCommission 佣金账户、分页流水与结算单
func (s *CommissionService) GetCommission(ctx context.Context, req *GetCommissionRequest) (*GetCommissionReply, error) {
	acc, err := s.uc.GetAccount(ctx, req.AgentUserID)
	if err != nil {
		return nil, err
	}
	page, pageSize := normalizePage(req.Page, req.PageSize)
	records, total, err := s.uc.ListRecords(ctx, req.AgentUserID, page, pageSize)
	if err != nil {
		return nil, err
	}
	settlements, err := s.uc.ListSettlements(ctx, req.AgentUserID, "")
	if err != nil {
		return nil, err
	}
	reply := &GetCommissionReply{
		Account: &CommissionAccountReply{
			AgentUserID: acc.AgentUserID,
			Total:       acc.Total,
			Available:   acc.Available,
			Frozen:      acc.Frozen,
			Pending:     acc.Pending,
			Settled:     acc.Settled,
			Status:      acc.Status,
		},
		Total:       total,
		Records:     toCommissionRecords(records),
		Settlements: make([]*SettlementReply, 0, len(settlements)),
	}
	for _, st := range settlements {
		reply.Settlements = append(reply.Settlements, toSettlementReply(st))
	}
	return reply, nil
}

// ApplySettlement 代理申请提现
func (s *CommissionService) ApplySettlement(ctx context.Context, req *ApplySettlementRequest) (*SettlementReply, error) {
	st, err := s.uc.ApplySettlement(ctx, req.AgentUserID, req.Amount, req.Remark)
	if err != nil {
		s.log.Errorf("ApplySettlement failed: agent_user_id=%s, amount=%s, error=%v", req.AgentUserID, req.Amount, err)
		return nil, err
	}
	return toSettlementReply(st), nil
}

// ApproveSettlement 审批通过（可部分通过，差额退回可用佣金）
func (s *CommissionService) ApproveSettlement(ctx context.Context, req *SettlementActionRequest) (*SettlementReply, error) {
	st, err := s.uc.ApproveSettlement(ctx, req.SettlementID, req.ApprovedAmount, req.OperatorID, req.Remark)
	if err != nil {
		return nil, err
	}
	return toSettlementReply(st), nil
}

// RejectSettlement 驳回
func (s *CommissionService) RejectSettlement(ctx context.Context, req *SettlementActionRequest) (*SettlementReply, error) {
	st, err := s.uc.RejectSettlement(ctx, req.SettlementID, req.OperatorID, req.Remark)
	if err != nil {
		return nil, err
	}
	return toSettlementReply(st), nil
}

// CancelSettlement 代理撤回自己的申请
func (s *CommissionService) CancelSettlement(ctx context.Context, req *SettlementActionRequest) (*SettlementReply, error) {
	st, err := s.uc.CancelSettlement(ctx, req.SettlementID, req.AgentUserID, req.Remark)
	if err != nil {
		return nil, err
	}
	return toSettlementReply(st), nil
}
