package service

import (
	"time"

	"credit-service/internal/biz"

	"github.com/shopspring/decimal"
)

// 金额字段统一以字符串输出，避免浮点精度丢失

type GetAccountRequest struct {
	UserID string `json:"user_id"`
}

type AccountReply struct {
	UserID             string          `json:"user_id"`
	Balance            decimal.Decimal `json:"balance"`
	Available          decimal.Decimal `json:"available"`
	PreDeductedBalance decimal.Decimal `json:"pre_deducted_balance"`
	FrozenAmount       decimal.Decimal `json:"frozen_amount"`
	TotalRecharge      decimal.Decimal `json:"total_recharge"`
	TotalConsume       decimal.Decimal `json:"total_consume"`
	TotalRefund        decimal.Decimal `json:"total_refund"`
	DailyConsume       decimal.Decimal `json:"daily_consume"`
	FreeAllowance      int64           `json:"free_allowance"`
	Status             string          `json:"status"`
	Version            int64           `json:"version"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

type RechargeRequest struct {
	UserID      string          `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	BusinessID  string          `json:"business_id"`
	Description string          `json:"description"`
	EventID     string          `json:"event_id"`
	OperatorID  string          `json:"operator_id"`
}

type RechargeReply struct {
	Account     *AccountReply        `json:"account"`
	Record      *BillingRecordReply  `json:"record"`
	Commissions []*CommissionRecord  `json:"commissions,omitempty"`
	Failures    []*CommissionFailure `json:"commission_failures,omitempty"`
}

type AdjustRequest struct {
	UserID     string          `json:"user_id"`
	Amount     decimal.Decimal `json:"amount"`
	OperatorID string          `json:"operator_id"`
	Remark     string          `json:"remark"`
}

type AdjustReply struct {
	Account *AccountReply       `json:"account"`
	Record  *BillingRecordReply `json:"record"`
}

// FreezeRequest 冻结与解冻共用
type FreezeRequest struct {
	UserID     string          `json:"user_id"`
	Amount     decimal.Decimal `json:"amount"`
	OperatorID string          `json:"operator_id"`
	Reason     string          `json:"reason"`
}

type ListRecordsRequest struct {
	UserID       string `json:"user_id"`
	BusinessType string `json:"business_type"`
	Page         int    `json:"page"`
	PageSize     int    `json:"page_size"`
}

type BillingRecordReply struct {
	BillID        string          `json:"bill_id"`
	BillNo        string          `json:"bill_no"`
	UserID        string          `json:"user_id"`
	OperatorID    string          `json:"operator_id,omitempty"`
	BillType      string          `json:"bill_type"`
	BillingType   string          `json:"billing_type,omitempty"`
	BusinessType  string          `json:"business_type"`
	BusinessID    string          `json:"business_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Description   string          `json:"description,omitempty"`
	EventID       string          `json:"event_id,omitempty"`
	CreateTime    time.Time       `json:"create_time"`
}

type ListRecordsReply struct {
	Total   int64                 `json:"total"`
	Page    int                   `json:"page"`
	Records []*BillingRecordReply `json:"records"`
}

// DeductRequest amount 为零时按 units × 单价计费；billing_type 为 daily 时走日汇总
type DeductRequest struct {
	UserID       string          `json:"user_id"`
	Amount       decimal.Decimal `json:"amount"`
	Units        int64           `json:"units"`
	BillingType  string          `json:"billing_type"`
	BusinessType string          `json:"business_type"`
	BusinessID   string          `json:"business_id"`
	Description  string          `json:"description"`
	EventID      string          `json:"event_id"`
}

type DeductReply struct {
	ChargeUserID   string              `json:"charge_user_id"`
	OperatorUserID string              `json:"operator_user_id"`
	Amount         decimal.Decimal     `json:"amount"`
	FreeUnitsUsed  int64               `json:"free_units_used"`
	BalanceBefore  decimal.Decimal     `json:"balance_before"`
	BalanceAfter   decimal.Decimal     `json:"balance_after"`
	Record         *BillingRecordReply `json:"record,omitempty"`
}

type PrecheckRequest struct {
	UserID       string          `json:"user_id"`
	Amount       decimal.Decimal `json:"amount"`
	Units        int64           `json:"units"`
	BusinessType string          `json:"business_type"`
	Scene        string          `json:"scene"`
}

type PrecheckReply struct {
	Allowed        bool   `json:"allowed"`
	ChargeUserID   string `json:"charge_user_id"`
	OperatorUserID string `json:"operator_user_id"`
}

type SubmitEventRequest struct {
	EventID      string          `json:"event_id"`
	UserID       string          `json:"user_id"`
	TotalUnits   int64           `json:"total_units"`
	Amount       decimal.Decimal `json:"amount"`
	BillingType  string          `json:"billing_type"`
	BusinessType string          `json:"business_type"`
	BusinessID   string          `json:"business_id"`
	Description  string          `json:"description"`
}

type SubmitEventReply struct {
	EventID      string          `json:"event_id"`
	ChargeUserID string          `json:"charge_user_id"`
	Amount       decimal.Decimal `json:"amount"`
}

type ListFailuresRequest struct {
	Limit int `json:"limit"`
}

type ChargeFailureReply struct {
	EventID    string           `json:"event_id"`
	Event      *biz.ChargeEvent `json:"event,omitempty"`
	RetryCount int              `json:"retry_count"`
	LastError  string           `json:"last_error"`
	CreatedAt  time.Time        `json:"created_at"`
}

type ListFailuresReply struct {
	Failures []*ChargeFailureReply `json:"failures"`
}

type ReplayFailureRequest struct {
	EventID    string `json:"event_id"`
	OperatorID string `json:"operator_id"`
}

type ReplayFailureReply struct {
	EventID string `json:"event_id"`
}

type GetCommissionRequest struct {
	AgentUserID string `json:"agent_user_id"`
	Page        int    `json:"page"`
	PageSize    int    `json:"page_size"`
}

type CommissionAccountReply struct {
	AgentUserID string          `json:"agent_user_id"`
	Total       decimal.Decimal `json:"total_commission"`
	Available   decimal.Decimal `json:"available_commission"`
	Frozen      decimal.Decimal `json:"frozen_commission"`
	Pending     decimal.Decimal `json:"pending_settlement_commission"`
	Settled     decimal.Decimal `json:"settled_commission"`
	Status      string          `json:"status"`
}

type CommissionRecord struct {
	RecordID         string          `json:"record_id"`
	AgentUserID      string          `json:"agent_user_id"`
	BuyerUserID      string          `json:"buyer_user_id"`
	TriggerBillingID string          `json:"trigger_billing_id"`
	TriggerAmount    decimal.Decimal `json:"trigger_amount"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`
	CommissionRate   decimal.Decimal `json:"commission_rate"`
	HierarchyLevel   int             `json:"hierarchy_level"`
	Direction        string          `json:"direction"`
	CreateTime       time.Time       `json:"create_time"`
}

type CommissionFailure struct {
	Level       int    `json:"level"`
	AgentUserID string `json:"agent_user_id"`
	Error       string `json:"error"`
}

type GetCommissionReply struct {
	Account     *CommissionAccountReply `json:"account"`
	Total       int64                   `json:"total"`
	Records     []*CommissionRecord     `json:"records"`
	Settlements []*SettlementReply      `json:"settlements"`
}

type ApplySettlementRequest struct {
	AgentUserID string          `json:"agent_user_id"`
	Amount      decimal.Decimal `json:"amount"`
	Remark      string          `json:"remark"`
}

// SettlementActionRequest approve/reject/cancel 共用；approved_amount 仅 approve 使用，
// agent_user_id 仅 cancel 使用
type SettlementActionRequest struct {
	SettlementID   string          `json:"settlement_id"`
	ApprovedAmount decimal.Decimal `json:"approved_amount"`
	AgentUserID    string          `json:"agent_user_id"`
	OperatorID     string          `json:"operator_id"`
	Remark         string          `json:"remark"`
}

type SettlementReply struct {
	SettlementID   string          `json:"settlement_id"`
	AgentUserID    string          `json:"agent_user_id"`
	RequestAmount  decimal.Decimal `json:"request_amount"`
	ApprovedAmount decimal.Decimal `json:"approved_amount"`
	Status         string          `json:"status"`
	Remark         string          `json:"remark,omitempty"`
	ApprovalUserID string          `json:"approval_user_id,omitempty"`
	ApprovalRemark string          `json:"approval_remark,omitempty"`
	ApprovalTime   *time.Time      `json:"approval_time,omitempty"`
	CreateTime     time.Time       `json:"create_time"`
}

func toAccountReply(a *biz.BalanceAccount) *AccountReply {
	if a == nil {
		return nil
	}
	return &AccountReply{
		UserID:             a.UserID,
		Balance:            a.Balance,
		Available:          a.Available(),
		PreDeductedBalance: a.PreDeductedBalance,
		FrozenAmount:       a.FrozenAmount,
		TotalRecharge:      a.TotalRecharge,
		TotalConsume:       a.TotalConsume,
		TotalRefund:        a.TotalRefund,
		DailyConsume:       a.DailyConsume,
		FreeAllowance:      a.FreeAllowance,
		Status:             a.Status,
		Version:            a.Version,
		UpdatedAt:          a.UpdatedAt,
	}
}

func toRecordReply(r *biz.BillingRecord) *BillingRecordReply {
	if r == nil {
		return nil
	}
	return &BillingRecordReply{
		BillID:        r.BillID,
		BillNo:        r.BillNo,
		UserID:        r.UserID,
		OperatorID:    r.OperatorID,
		BillType:      r.BillType,
		BillingType:   r.BillingType,
		BusinessType:  r.BusinessType,
		BusinessID:    r.BusinessID,
		Amount:        r.Amount,
		BalanceBefore: r.BalanceBefore,
		BalanceAfter:  r.BalanceAfter,
		Description:   r.Description,
		EventID:       r.EventID,
		CreateTime:    r.CreateTime,
	}
}

func toCommissionRecords(rs []*biz.CommissionRecord) []*CommissionRecord {
	out := make([]*CommissionRecord, 0, len(rs))
	for _, r := range rs {
		out = append(out, &CommissionRecord{
			RecordID:         r.RecordID,
			AgentUserID:      r.AgentUserID,
			BuyerUserID:      r.BuyerUserID,
			TriggerBillingID: r.TriggerBillingID,
			TriggerAmount:    r.TriggerAmount,
			CommissionAmount: r.CommissionAmount,
			CommissionRate:   r.CommissionRate,
			HierarchyLevel:   r.HierarchyLevel,
			Direction:        r.Direction,
			CreateTime:       r.CreateTime,
		})
	}
	return out
}

func toSettlementReply(s *biz.CommissionSettlement) *SettlementReply {
	return &SettlementReply{
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

func normalizePage(page, pageSize int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}
