package service

import (
	"context"

	"github.com/go-kratos/kratos/v2/transport/http"
)

// 路由操作名，供中间件按操作选择
const (
	OperationGetAccount        = "/credit.v1.Account/GetAccount"
	OperationRecharge          = "/credit.v1.Account/Recharge"
	OperationAdjust            = "/credit.v1.Account/Adjust"
	OperationFreeze            = "/credit.v1.Account/Freeze"
	OperationUnfreeze          = "/credit.v1.Account/Unfreeze"
	OperationListRecords       = "/credit.v1.Account/ListRecords"
	OperationDeduct            = "/credit.v1.Charge/Deduct"
	OperationPrecheck          = "/credit.v1.Charge/Precheck"
	OperationSubmitEvent       = "/credit.v1.Charge/SubmitEvent"
	OperationListFailures      = "/credit.v1.Charge/ListFailures"
	OperationReplayFailure     = "/credit.v1.Charge/ReplayFailure"
	OperationGetCommission     = "/credit.v1.Commission/GetCommission"
	OperationApplySettlement   = "/credit.v1.Commission/ApplySettlement"
	OperationApproveSettlement = "/credit.v1.Commission/ApproveSettlement"
	OperationRejectSettlement  = "/credit.v1.Commission/RejectSettlement"
	OperationCancelSettlement  = "/credit.v1.Commission/CancelSettlement"
)

// RegisterCreditHTTPServer 注册 JSON 路由
func RegisterCreditHTTPServer(s *http.Server, account *AccountService, charge *ChargeService, commission *CommissionService) {
	r := s.Route("/")
	r.GET("/v1/accounts/{user_id}", handle(OperationGetAccount, account.GetAccount))
	r.POST("/v1/accounts/{user_id}/recharge", handle(OperationRecharge, account.Recharge))
	r.POST("/v1/accounts/{user_id}/adjust", handle(OperationAdjust, account.Adjust))
	r.POST("/v1/accounts/{user_id}/freeze", handle(OperationFreeze, account.Freeze))
	r.POST("/v1/accounts/{user_id}/unfreeze", handle(OperationUnfreeze, account.Unfreeze))
	r.GET("/v1/accounts/{user_id}/records", handle(OperationListRecords, account.ListRecords))

	r.POST("/v1/charges/deduct", handle(OperationDeduct, charge.Deduct))
	r.POST("/v1/charges/precheck", handle(OperationPrecheck, charge.Precheck))
	r.POST("/v1/charges/events", handle(OperationSubmitEvent, charge.SubmitEvent))
	r.GET("/v1/charge-failures", handle(OperationListFailures, charge.ListFailures))
	r.POST("/v1/charge-failures/{event_id}/replay", handle(OperationReplayFailure, charge.ReplayFailure))

	r.GET("/v1/agents/{agent_user_id}/commission", handle(OperationGetCommission, commission.GetCommission))
	r.POST("/v1/agents/{agent_user_id}/settlements", handle(OperationApplySettlement, commission.ApplySettlement))
	r.POST("/v1/settlements/{settlement_id}/approve", handle(OperationApproveSettlement, commission.ApproveSettlement))
	r.POST("/v1/settlements/{settlement_id}/reject", handle(OperationRejectSettlement, commission.RejectSettlement))
	r.POST("/v1/settlements/{settlement_id}/cancel", handle(OperationCancelSettlement, commission.CancelSettlement))
}

// handle 与 protoc-gen-go-http 生成的处理器一致：body -> query -> path 依次绑定，再经过中间件链
func handle[Req any, Reply any](operation string, fn func(context.Context, *Req) (*Reply, error)) func(http.Context) error {
	return func(ctx http.Context) error {
		var in Req
		if req := ctx.Request(); req.Method != "GET" && req.ContentLength != 0 {
			if err := ctx.Bind(&in); err != nil {
				return err
			}
		}
		if err := ctx.BindQuery(&in); err != nil {
			return err
		}
		if err := ctx.BindVars(&in); err != nil {
			return err
		}
		http.SetOperation(ctx, operation)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return fn(ctx, req.(*Req))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}
