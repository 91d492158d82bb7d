package service

import (
	"context"

	"credit-service/internal/biz"
	"credit-service/internal/constants"
	creditErrors "credit-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// ChargeService 面向业务服务的扣费入口：同步扣费、余额预检、异步扣费事件与失败事件运维
type ChargeService struct {
	ledger *biz.LedgerUseCase
	guard  *biz.BalanceGuard
	events *biz.ChargeEventUseCase
	log    *log.Helper
}

// NewChargeService 创建 ChargeService
func NewChargeService(ledger *biz.LedgerUseCase, guard *biz.BalanceGuard, events *biz.ChargeEventUseCase, logger log.Logger) *ChargeService {
	return &ChargeService{
		ledger: ledger,
		guard:  guard,
		events: events,
		log:    log.NewHelper(logger),
	}
}

// Deduct 同步扣费，子账户计费到主账户
func (s *ChargeService) Deduct(ctx context.Context, req *DeductRequest) (*DeductReply, error) {
	in := &biz.DeductRequest{
		Amount:       req.Amount,
		Units:        req.Units,
		BusinessType: req.BusinessType,
		BusinessID:   req.BusinessID,
		Description:  req.Description,
		EventID:      req.EventID,
	}
	var (
		res *biz.DeductResponse
		err error
	)
	switch req.BillingType {
	case constants.BillingTypeDaily:
		res, err = s.ledger.DeductWithDailyAggregation(ctx, in, req.UserID)
	case "", constants.BillingTypeInstant:
		res, err = s.ledger.DeductWithDetails(ctx, in, req.UserID)
	default:
		return nil, creditErrors.ErrInvalidArgument.WithMetadata(map[string]string{"billing_type": req.BillingType})
	}
	if err != nil {
		if !creditErrors.IsInsufficientBalance(err) {
			s.log.Errorf("Deduct failed: user_id=%s, business_type=%s, error=%v", req.UserID, req.BusinessType, err)
		}
		return nil, err
	}
	return &DeductReply{
		ChargeUserID:   res.ChargeAccount.ChargeUserID,
		OperatorUserID: res.ChargeAccount.OperatorUserID,
		Amount:         res.Amount,
		FreeUnitsUsed:  res.FreeUnitsUsed,
		BalanceBefore:  res.BalanceBefore,
		BalanceAfter:   res.BalanceAfter,
		Record:         toRecordReply(res.Record),
	}, nil
}

// Precheck 高成本调用前的余额预检；余额不足以错误返回
func (s *ChargeService) Precheck(ctx context.Context, req *PrecheckRequest) (*PrecheckReply, error) {
	scene := req.Scene
	if scene == "" {
		scene = req.BusinessType
	}
	var (
		ca  *biz.ChargeAccount
		err error
	)
	if req.Amount.IsPositive() {
		ca, err = s.guard.EnsureSufficientBalance(ctx, req.UserID, req.Amount, scene)
	} else {
		ca, err = s.guard.EnsureSufficientForUnits(ctx, req.UserID, req.BusinessType, req.Units, scene)
	}
	if err != nil {
		return nil, err
	}
	return &PrecheckReply{
		Allowed:        true,
		ChargeUserID:   ca.ChargeUserID,
		OperatorUserID: ca.OperatorUserID,
	}, nil
}

// SubmitEvent 提交异步扣费事件
func (s *ChargeService) SubmitEvent(ctx context.Context, req *SubmitEventRequest) (*SubmitEventReply, error) {
	evt, err := s.events.Produce(ctx, &biz.ChargeEvent{
		EventID:       req.EventID,
		RequestUserID: req.UserID,
		TotalUnits:    req.TotalUnits,
		Amount:        req.Amount,
		BillingType:   req.BillingType,
		BusinessType:  req.BusinessType,
		BusinessID:    req.BusinessID,
		Description:   req.Description,
	})
	if err != nil {
		s.log.Errorf("SubmitEvent failed: user_id=%s, business_type=%s, error=%v", req.UserID, req.BusinessType, err)
		return nil, err
	}
	return &SubmitEventReply{
		EventID:      evt.EventID,
		ChargeUserID: evt.ChargeUserID,
		Amount:       evt.Amount,
	}, nil
}

// ListFailures 死信耗尽、待人工处理的事件
func (s *ChargeService) ListFailures(ctx context.Context, req *ListFailuresRequest) (*ListFailuresReply, error) {
	failures, err := s.events.ListFailures(ctx, req.Limit)
	if err != nil {
		return nil, err
	}
	reply := &ListFailuresReply{Failures: make([]*ChargeFailureReply, 0, len(failures))}
	for _, f := range failures {
		reply.Failures = append(reply.Failures, &ChargeFailureReply{
			EventID:    f.EventID,
			Event:      f.Event,
			RetryCount: f.RetryCount,
			LastError:  f.LastError,
			CreatedAt:  f.CreatedAt,
		})
	}
	return reply, nil
}

// ReplayFailure 人工重放失败事件
func (s *ChargeService) ReplayFailure(ctx context.Context, req *ReplayFailureRequest) (*ReplayFailureReply, error) {
	if err := s.events.ReplayFailure(ctx, req.EventID, req.OperatorID); err != nil {
		s.log.Errorf("ReplayFailure failed: event_id=%s, error=%v", req.EventID, err)
		return nil, err
	}
	return &ReplayFailureReply{EventID: req.EventID}, nil
}
