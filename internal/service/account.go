package service

import (
	"context"

	"credit-service/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
)

// AccountService 余额账户管理（面向运营后台）
type AccountService struct {
	ledger *biz.LedgerUseCase
	log    *log.Helper
}

// NewAccountService 创建 AccountService
func NewAccountService(ledger *biz.LedgerUseCase, logger log.Logger) *AccountService {
	return &AccountService{
		ledger: ledger,
		log:    log.NewHelper(logger),
	}
}

// GetAccount 查询账户
func (s *AccountService) GetAccount(ctx context.Context, req *GetAccountRequest) (*AccountReply, error) {
	acc, err := s.ledger.GetByUserID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	return toAccountReply(acc), nil
}

// Recharge 充值（支付回调入账），账户不存在时自动开户
func (s *AccountService) Recharge(ctx context.Context, req *RechargeRequest) (*RechargeReply, error) {
	res, err := s.ledger.Recharge(ctx, &biz.RechargeRequest{
		UserID:      req.UserID,
		Amount:      req.Amount,
		BusinessID:  req.BusinessID,
		Description: req.Description,
		EventID:     req.EventID,
	}, req.OperatorID)
	if err != nil {
		s.log.Errorf("Recharge failed: user_id=%s, amount=%s, error=%v", req.UserID, req.Amount, err)
		return nil, err
	}
	reply := &RechargeReply{
		Account: toAccountReply(res.Account),
		Record:  toRecordReply(res.Record),
	}
	if res.Commission != nil {
		reply.Commissions = toCommissionRecords(res.Commission.Records)
		for _, f := range res.Commission.Failures {
			reply.Failures = append(reply.Failures, &CommissionFailure{
				Level:       f.Level,
				AgentUserID: f.AgentUserID,
				Error:       f.Err.Error(),
			})
		}
	}
	return reply, nil
}

// Adjust 人工调账
func (s *AccountService) Adjust(ctx context.Context, req *AdjustRequest) (*AdjustReply, error) {
	res, err := s.ledger.ManualAdjustBalance(ctx, req.UserID, req.Amount, req.OperatorID, req.Remark)
	if err != nil {
		s.log.Errorf("Adjust failed: user_id=%s, amount=%s, error=%v", req.UserID, req.Amount, err)
		return nil, err
	}
	return &AdjustReply{
		Account: toAccountReply(res.Account),
		Record:  toRecordReply(res.Record),
	}, nil
}

// Freeze 冻结部分余额
func (s *AccountService) Freeze(ctx context.Context, req *FreezeRequest) (*AccountReply, error) {
	acc, err := s.ledger.FreezeBalance(ctx, req.UserID, req.Amount, req.OperatorID, req.Reason)
	if err != nil {
		return nil, err
	}
	return toAccountReply(acc), nil
}

// Unfreeze 解冻
func (s *AccountService) Unfreeze(ctx context.Context, req *FreezeRequest) (*AccountReply, error) {
	acc, err := s.ledger.UnfreezeBalance(ctx, req.UserID, req.Amount, req.OperatorID, req.Reason)
	if err != nil {
		return nil, err
	}
	return toAccountReply(acc), nil
}

// ListRecords 账单流水
func (s *AccountService) ListRecords(ctx context.Context, req *ListRecordsRequest) (*ListRecordsReply, error) {
	page, pageSize := normalizePage(req.Page, req.PageSize)
	records, total, err := s.ledger.ListRecords(ctx, req.UserID, req.BusinessType, page, pageSize)
	if err != nil {
		s.log.Errorf("ListRecords failed: %v", err)
		return nil, err
	}
	reply := &ListRecordsReply{
		Total:   total,
		Page:    page,
		Records: make([]*BillingRecordReply, 0, len(records)),
	}
	for _, r := range records {
		reply.Records = append(reply.Records, toRecordReply(r))
	}
	return reply, nil
}
