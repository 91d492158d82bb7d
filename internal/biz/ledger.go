package biz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"credit-service/internal/constants"
	creditErrors "credit-service/internal/errors"
	"credit-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// moneyScale 金额保留的小数位，与库表 decimal(20,6) 一致
const moneyScale = 6

// RechargeRequest 充值请求
type RechargeRequest struct {
	UserID      string
	Amount      decimal.Decimal
	BusinessID  string // 支付订单号等
	Description string
	// EventID 可选的幂等键（如支付回调流水号）
	EventID string
}

// RechargeResult 充值结果
type RechargeResult struct {
	Account    *BalanceAccount
	Record     *BillingRecord
	Commission *DistributeResult
}

// ConsumeRequest 消费请求
type ConsumeRequest struct {
	UserID       string
	Amount       decimal.Decimal
	BusinessType string
	BusinessID   string
	BillingType  string // instant/daily
	OperatorID   string
	Description  string
	EventID      string
}

// ConsumeResult 消费结果
type ConsumeResult struct {
	Account         *BalanceAccount
	Record          *BillingRecord // 日汇总计费时为 nil
	FromPreDeducted decimal.Decimal
	FromBalance     decimal.Decimal
}

// DeductRequest 带计费归属解析的扣费请求
type DeductRequest struct {
	// Amount 为零时按 Units × 单价计算
	Amount       decimal.Decimal
	Units        int64
	BusinessType string
	BusinessID   string
	Description  string
	EventID      string
}

// DeductResponse 扣费结果
type DeductResponse struct {
	ChargeAccount *ChargeAccount
	Amount        decimal.Decimal // 实际从余额扣除的金额
	FreeUnitsUsed int64
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	Record        *BillingRecord
}

// AdjustResult 人工调账结果
type AdjustResult struct {
	Account *BalanceAccount
	Record  *BillingRecord
}

// mutateFunc 在账户快照上计算变更并返回需要追加的账单；返回 nil 账单表示仅更新账户
type mutateFunc func(acc *BalanceAccount) (*BillingRecord, error)

// errNoChange mutateFunc 返回该错误时跳过写入
var errNoChange = errors.New("ledger: no change")

// LedgerUseCase 余额账本
type LedgerUseCase struct {
	repo       LedgerRepo
	resolver   *ChargeAccountResolver
	commission *CommissionUseCase
	prices     PriceConfig
	billNo     BillNoGenerator
	cache      BalanceCache
	conf       *BillingConfig
	log        *log.Helper
	metrics    *metrics.CreditMetrics
}

// NewLedgerUseCase 创建账本 UseCase
func NewLedgerUseCase(
	repo LedgerRepo,
	resolver *ChargeAccountResolver,
	commission *CommissionUseCase,
	prices PriceConfig,
	billNo BillNoGenerator,
	cache BalanceCache,
	conf *BillingConfig,
	logger log.Logger,
) *LedgerUseCase {
	return &LedgerUseCase{
		repo:       repo,
		resolver:   resolver,
		commission: commission,
		prices:     prices,
		billNo:     billNo,
		cache:      cache,
		conf:       conf,
		log:        log.NewHelper(logger),
		metrics:    metrics.GetMetrics(),
	}
}

// mutate 读取 -> 计算 -> 按版本条件写入，版本冲突时重新读取，最多 MaxCASRetries 次。
// 调用方 ctx 取消后不再发起新的尝试；单次写入要么完整成功要么被版本校验拒绝。
func (uc *LedgerUseCase) mutate(ctx context.Context, op, userID, eventID string, fn mutateFunc) (before, after *BalanceAccount, record *BillingRecord, err error) {
	startTime := time.Now()
	defer func() {
		if uc.metrics == nil {
			return
		}
		result := constants.ResultSuccess
		switch {
		case err == nil:
		case creditErrors.IsDuplicateEvent(err):
			result = constants.ResultDuplicate
		default:
			result = constants.ResultFailed
		}
		uc.metrics.LedgerOpTotal.WithLabelValues(op, result).Inc()
		uc.metrics.LedgerOpDuration.WithLabelValues(op).Observe(time.Since(startTime).Seconds())
	}()

	if eventID != "" {
		processed, err := uc.repo.IsEventProcessed(ctx, eventID)
		if err != nil {
			return nil, nil, nil, err
		}
		if processed {
			return nil, nil, nil, creditErrors.ErrDuplicateEvent.WithMetadata(map[string]string{"event_id": eventID})
		}
	}

	attempts := uc.conf.MaxCASRetries
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, nil, err
		}
		acc, err := uc.repo.GetAccount(ctx, userID)
		if err != nil {
			return nil, nil, nil, err
		}
		snapshot := acc.Clone()
		rec, err := fn(acc)
		if errors.Is(err, errNoChange) {
			return snapshot, acc, nil, nil
		}
		if err != nil {
			return nil, nil, nil, err
		}
		if rec != nil {
			uc.stamp(rec, snapshot, acc, eventID)
		}

		err = uc.repo.SaveWithVersion(ctx, acc, &LedgerChange{EventID: eventID, Record: rec})
		if err == nil {
			uc.refreshCache(acc)
			return snapshot, acc, rec, nil
		}
		if !creditErrors.IsOptimisticLockConflict(err) {
			return nil, nil, nil, err
		}
		if uc.metrics != nil {
			uc.metrics.CASConflictTotal.WithLabelValues("balance").Inc()
		}
		uc.log.Debugf("ledger version conflict: op=%s, user_id=%s, attempt=%d", op, userID, attempt)
	}

	uc.log.Warnf("ledger retries exhausted: op=%s, user_id=%s, attempts=%d", op, userID, attempts)
	return nil, nil, nil, creditErrors.ErrOptimisticLockConflict.WithMetadata(map[string]string{
		"op":      op,
		"user_id": userID,
	})
}

// stamp 补全账单的标识与前后余额
func (uc *LedgerUseCase) stamp(rec *BillingRecord, before, after *BalanceAccount, eventID string) {
	rec.BillID = uuid.New().String()
	rec.BillNo = uc.billNo.NextBillNo()
	rec.UserID = after.UserID
	rec.BalanceBefore = before.Balance
	rec.BalanceAfter = after.Balance
	if rec.Status == "" {
		rec.Status = constants.BillStatusSuccess
	}
	if rec.BillingType == "" {
		rec.BillingType = constants.BillingTypeInstant
	}
	rec.EventID = eventID
	rec.CreateTime = time.Now()
}

// refreshCache 提交成功后按新版本写入余额缓存，失败只记录日志
func (uc *LedgerUseCase) refreshCache(acc *BalanceAccount) {
	if uc.cache == nil {
		return
	}
	cacheCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := uc.cache.SetAvailable(cacheCtx, acc.UserID, acc.PrecheckAvailable(), acc.Version, uc.conf.BalanceCacheTTL); err != nil {
		uc.log.Warnf("failed to refresh balance cache: user_id=%s, error=%v", acc.UserID, err)
	}
}

func (uc *LedgerUseCase) observeDebit(op string, amount decimal.Decimal, acc *BalanceAccount) {
	if uc.metrics == nil {
		return
	}
	uc.metrics.LedgerAmount.WithLabelValues(op).Add(amount.InexactFloat64())
	if acc.Balance.LessThan(uc.conf.BalanceLowThreshold) {
		uc.metrics.BalanceLowAlert.Inc()
	}
}

func requirePositive(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return creditErrors.ErrInvalidAmount.WithMetadata(map[string]string{"amount": amount.String()})
	}
	return nil
}

func requireNormal(acc *BalanceAccount) error {
	if !acc.IsNormal() {
		return creditErrors.ErrAccountUnavailable.WithMetadata(map[string]string{
			"user_id": acc.UserID,
			"status":  acc.Status,
		})
	}
	return nil
}

func requireNotCancelled(acc *BalanceAccount) error {
	if acc.Status == constants.AccountStatusCancelled {
		return creditErrors.ErrAccountUnavailable.WithMetadata(map[string]string{
			"user_id": acc.UserID,
			"status":  acc.Status,
		})
	}
	return nil
}

func insufficientBalance(acc *BalanceAccount, need decimal.Decimal) error {
	return creditErrors.ErrInsufficientBalance.WithMetadata(map[string]string{
		"user_id":   acc.UserID,
		"available": acc.Available().String(),
		"required":  need.String(),
	})
}

// OpenAccount 开户（已存在时返回现有账户）
func (uc *LedgerUseCase) OpenAccount(ctx context.Context, userID string) (*BalanceAccount, error) {
	if userID == "" {
		return nil, creditErrors.ErrInvalidArgument.WithMetadata(map[string]string{"field": "user_id"})
	}
	acc := &BalanceAccount{
		UserID:             userID,
		Balance:            decimal.Zero,
		PreDeductedBalance: decimal.Zero,
		FrozenAmount:       decimal.Zero,
		TotalRecharge:      decimal.Zero,
		TotalConsume:       decimal.Zero,
		TotalRefund:        decimal.Zero,
		DailyConsume:       decimal.Zero,
		FreeAllowance:      uc.conf.FreeAllowance,
		Status:             constants.AccountStatusNormal,
	}
	if err := uc.repo.CreateAccount(ctx, acc); err != nil {
		return nil, fmt.Errorf("open account %s: %w", userID, err)
	}
	return uc.repo.GetAccount(ctx, userID)
}

// GetByUserID 查询账户
func (uc *LedgerUseCase) GetByUserID(ctx context.Context, userID string) (*BalanceAccount, error) {
	return uc.repo.GetAccount(ctx, userID)
}

// CancelAccount 注销账户（不物理删除）
func (uc *LedgerUseCase) CancelAccount(ctx context.Context, userID, operatorID string) (*BalanceAccount, error) {
	_, after, _, err := uc.mutate(ctx, "cancel", userID, "", func(acc *BalanceAccount) (*BillingRecord, error) {
		if acc.Status == constants.AccountStatusCancelled {
			return nil, errNoChange
		}
		acc.Status = constants.AccountStatusCancelled
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	uc.log.Infof("account cancelled: user_id=%s, operator_id=%s, balance=%s", userID, operatorID, after.Balance)
	return after, nil
}

// Recharge 充值：增加余额与累计充值并记账，成功后触发代理分佣（分佣失败不影响充值）
func (uc *LedgerUseCase) Recharge(ctx context.Context, req *RechargeRequest, operatorID string) (*RechargeResult, error) {
	if err := requirePositive(req.Amount); err != nil {
		return nil, err
	}
	if _, err := uc.repo.GetAccount(ctx, req.UserID); err != nil {
		if !creditErrors.IsAccountNotFound(err) {
			return nil, err
		}
		if _, err := uc.OpenAccount(ctx, req.UserID); err != nil {
			return nil, err
		}
	}

	_, after, record, err := uc.mutate(ctx, "recharge", req.UserID, req.EventID, func(acc *BalanceAccount) (*BillingRecord, error) {
		if err := requireNotCancelled(acc); err != nil {
			return nil, err
		}
		acc.Balance = acc.Balance.Add(req.Amount)
		acc.TotalRecharge = acc.TotalRecharge.Add(req.Amount)
		return &BillingRecord{
			OperatorID:   operatorID,
			BillType:     constants.BillTypeRecharge,
			BusinessType: constants.BusinessTypeRecharge,
			BusinessID:   req.BusinessID,
			Amount:       req.Amount,
			Description:  req.Description,
		}, nil
	})
	if err != nil {
		uc.log.Errorf("recharge failed: user_id=%s, amount=%s, error=%v", req.UserID, req.Amount, err)
		return nil, err
	}
	if uc.metrics != nil {
		uc.metrics.LedgerAmount.WithLabelValues("recharge").Add(req.Amount.InexactFloat64())
	}
	uc.log.Infof("recharge success: user_id=%s, amount=%s, balance=%s, bill_no=%s", req.UserID, req.Amount, after.Balance, record.BillNo)

	result := &RechargeResult{Account: after, Record: record}
	if uc.commission != nil {
		dist, err := uc.commission.Distribute(ctx, &DistributeRequest{
			BuyerUserID:      req.UserID,
			TriggerBillingID: record.BillID,
			TriggerAmount:    req.Amount,
			BusinessType:     constants.BusinessTypeRecharge,
		})
		if err != nil {
			uc.log.Errorf("commission distribution failed, recharge kept: user_id=%s, bill_id=%s, error=%v", req.UserID, record.BillID, err)
		}
		result.Commission = dist
	}
	return result, nil
}

// PreDeductForInstance 实例预扣：余额转入预扣款，账单类型为 reserve，不计入累计消费
func (uc *LedgerUseCase) PreDeductForInstance(ctx context.Context, userID string, amount decimal.Decimal, operatorID string) (*BalanceAccount, error) {
	if err := requirePositive(amount); err != nil {
		return nil, err
	}
	_, after, _, err := uc.mutate(ctx, "pre_deduct", userID, "", func(acc *BalanceAccount) (*BillingRecord, error) {
		if err := requireNormal(acc); err != nil {
			return nil, err
		}
		if acc.Available().LessThan(amount) {
			return nil, insufficientBalance(acc, amount)
		}
		acc.Balance = acc.Balance.Sub(amount)
		acc.PreDeductedBalance = acc.PreDeductedBalance.Add(amount)
		return &BillingRecord{
			OperatorID:   operatorID,
			BillType:     constants.BillTypeReserve,
			BusinessType: constants.BusinessTypeInstancePreDeduct,
			Amount:       amount,
			Description:  "instance pre-deduct",
		}, nil
	})
	if err != nil {
		return nil, err
	}
	uc.observeDebit("pre_deduct", amount, after)
	return after, nil
}

// ReleasePreDeduct 释放未使用的预扣款回余额
func (uc *LedgerUseCase) ReleasePreDeduct(ctx context.Context, userID string, amount decimal.Decimal, operatorID string) (*BalanceAccount, error) {
	if err := requirePositive(amount); err != nil {
		return nil, err
	}
	_, after, _, err := uc.mutate(ctx, "pre_deduct_release", userID, "", func(acc *BalanceAccount) (*BillingRecord, error) {
		if acc.PreDeductedBalance.LessThan(amount) {
			return nil, creditErrors.ErrInvalidAmount.WithMetadata(map[string]string{
				"pre_deducted": acc.PreDeductedBalance.String(),
				"amount":       amount.String(),
			})
		}
		acc.PreDeductedBalance = acc.PreDeductedBalance.Sub(amount)
		acc.Balance = acc.Balance.Add(amount)
		return &BillingRecord{
			OperatorID:   operatorID,
			BillType:     constants.BillTypeRelease,
			BusinessType: constants.BusinessTypeInstancePreDeductRelease,
			Amount:       amount,
			Description:  "instance pre-deduct release",
		}, nil
	})
	return after, err
}

// Consume 消费：优先使用预扣款，不足部分从可用余额扣除；余额不足时失败。
// 消费账单（或日汇总累计）按全额记账，预扣时只记了 reserve，因此每笔消费只计一次。
func (uc *LedgerUseCase) Consume(ctx context.Context, req *ConsumeRequest) (*ConsumeResult, error) {
	if err := requirePositive(req.Amount); err != nil {
		return nil, err
	}
	result := &ConsumeResult{}
	_, after, record, err := uc.mutate(ctx, "consume", req.UserID, req.EventID, func(acc *BalanceAccount) (*BillingRecord, error) {
		if err := requireNormal(acc); err != nil {
			return nil, err
		}
		fromPre := decimal.Min(acc.PreDeductedBalance, req.Amount)
		fromBalance := req.Amount.Sub(fromPre)
		if acc.Available().LessThan(fromBalance) {
			return nil, insufficientBalance(acc, fromBalance)
		}
		acc.PreDeductedBalance = acc.PreDeductedBalance.Sub(fromPre)
		acc.Balance = acc.Balance.Sub(fromBalance)
		acc.TotalConsume = acc.TotalConsume.Add(req.Amount)
		result.FromPreDeducted = fromPre
		result.FromBalance = fromBalance

		if req.BillingType == constants.BillingTypeDaily {
			acc.DailyConsume = acc.DailyConsume.Add(req.Amount)
			return nil, nil
		}
		return &BillingRecord{
			OperatorID:   req.OperatorID,
			BillType:     constants.BillTypeConsume,
			BillingType:  constants.BillingTypeInstant,
			BusinessType: req.BusinessType,
			BusinessID:   req.BusinessID,
			Amount:       req.Amount,
			Description:  consumeDescription(req.Description, fromPre),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	uc.observeDebit("consume", req.Amount, after)
	result.Account = after
	result.Record = record
	return result, nil
}

func consumeDescription(desc string, fromPre decimal.Decimal) string {
	if !fromPre.IsPositive() {
		return desc
	}
	if desc == "" {
		return fmt.Sprintf("pre-deducted %s", fromPre)
	}
	return fmt.Sprintf("%s (pre-deducted %s)", desc, fromPre)
}

// ChargeFixedFee 定时固定费用（如实例日租），不做余额充足性校验，余额允许为负
func (uc *LedgerUseCase) ChargeFixedFee(ctx context.Context, req *ConsumeRequest) (*ConsumeResult, error) {
	if err := requirePositive(req.Amount); err != nil {
		return nil, err
	}
	_, after, record, err := uc.mutate(ctx, "fixed_fee", req.UserID, req.EventID, func(acc *BalanceAccount) (*BillingRecord, error) {
		if err := requireNotCancelled(acc); err != nil {
			return nil, err
		}
		acc.Balance = acc.Balance.Sub(req.Amount)
		acc.TotalConsume = acc.TotalConsume.Add(req.Amount)
		businessType := req.BusinessType
		if businessType == "" {
			businessType = constants.BusinessTypeInstanceDailyFee
		}
		return &BillingRecord{
			OperatorID:   req.OperatorID,
			BillType:     constants.BillTypeConsume,
			BusinessType: businessType,
			BusinessID:   req.BusinessID,
			Amount:       req.Amount,
			Description:  req.Description,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	if after.Balance.IsNegative() {
		uc.log.Warnf("fixed fee drove balance negative: user_id=%s, balance=%s", req.UserID, after.Balance)
	}
	uc.observeDebit("fixed_fee", req.Amount, after)
	return &ConsumeResult{Account: after, Record: record, FromBalance: req.Amount}, nil
}

// Refund 退款：增加余额与累计退款
func (uc *LedgerUseCase) Refund(ctx context.Context, userID string, amount decimal.Decimal, businessType, businessID, operatorID, description string) (*BalanceAccount, error) {
	if err := requirePositive(amount); err != nil {
		return nil, err
	}
	_, after, _, err := uc.mutate(ctx, "refund", userID, "", func(acc *BalanceAccount) (*BillingRecord, error) {
		if err := requireNotCancelled(acc); err != nil {
			return nil, err
		}
		acc.Balance = acc.Balance.Add(amount)
		acc.TotalRefund = acc.TotalRefund.Add(amount)
		return &BillingRecord{
			OperatorID:   operatorID,
			BillType:     constants.BillTypeRefund,
			BusinessType: businessType,
			BusinessID:   businessID,
			Amount:       amount,
			Description:  description,
		}, nil
	})
	return after, err
}

// FreezeBalance 冻结资金
func (uc *LedgerUseCase) FreezeBalance(ctx context.Context, userID string, amount decimal.Decimal, operatorID, reason string) (*BalanceAccount, error) {
	if err := requirePositive(amount); err != nil {
		return nil, err
	}
	_, after, _, err := uc.mutate(ctx, "freeze", userID, "", func(acc *BalanceAccount) (*BillingRecord, error) {
		if err := requireNormal(acc); err != nil {
			return nil, err
		}
		if acc.Available().LessThan(amount) {
			return nil, insufficientBalance(acc, amount)
		}
		acc.FrozenAmount = acc.FrozenAmount.Add(amount)
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	uc.log.Infof("balance frozen: user_id=%s, amount=%s, operator_id=%s, reason=%s", userID, amount, operatorID, reason)
	return after, nil
}

// UnfreezeBalance 解冻资金
func (uc *LedgerUseCase) UnfreezeBalance(ctx context.Context, userID string, amount decimal.Decimal, operatorID, reason string) (*BalanceAccount, error) {
	if err := requirePositive(amount); err != nil {
		return nil, err
	}
	_, after, _, err := uc.mutate(ctx, "unfreeze", userID, "", func(acc *BalanceAccount) (*BillingRecord, error) {
		if acc.FrozenAmount.LessThan(amount) {
			return nil, creditErrors.ErrInvalidAmount.WithMetadata(map[string]string{
				"frozen": acc.FrozenAmount.String(),
				"amount": amount.String(),
			})
		}
		acc.FrozenAmount = acc.FrozenAmount.Sub(amount)
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	uc.log.Infof("balance unfrozen: user_id=%s, amount=%s, operator_id=%s, reason=%s", userID, amount, operatorID, reason)
	return after, nil
}

// CheckBalanceSufficient 可用余额是否足够；账户不存在视为不足
func (uc *LedgerUseCase) CheckBalanceSufficient(ctx context.Context, userID string, amount decimal.Decimal) (bool, error) {
	acc, err := uc.repo.GetAccount(ctx, userID)
	if err != nil {
		if creditErrors.IsAccountNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return acc.IsNormal() && acc.Available().GreaterThanOrEqual(amount), nil
}

// priceOf 请求金额；未给出金额时按单位数与单价计算
func (uc *LedgerUseCase) priceOf(req *DeductRequest) (decimal.Decimal, error) {
	if req.Amount.IsPositive() {
		return req.Amount, nil
	}
	if req.Units <= 0 {
		return decimal.Zero, creditErrors.ErrInvalidAmount.WithMetadata(map[string]string{"units": fmt.Sprint(req.Units)})
	}
	price, err := uc.prices.UnitPrice(req.BusinessType)
	if err != nil {
		return decimal.Zero, err
	}
	return price.Mul(decimal.NewFromInt(req.Units)).Round(moneyScale), nil
}

// DeductWithDetails 解析计费账户后实时扣费，返回前后余额与账单
func (uc *LedgerUseCase) DeductWithDetails(ctx context.Context, req *DeductRequest, requestUserID string) (*DeductResponse, error) {
	ca, err := uc.resolver.Resolve(ctx, requestUserID)
	if err != nil {
		return nil, err
	}
	return uc.deductInstant(ctx, ca, req)
}

// DeductForChargeAccount 对已解析的计费账户扣费（异步事件已携带计费归属）
func (uc *LedgerUseCase) DeductForChargeAccount(ctx context.Context, ca *ChargeAccount, req *DeductRequest, billingType string) (*DeductResponse, error) {
	if billingType == constants.BillingTypeDaily {
		return uc.deductDaily(ctx, ca, req)
	}
	return uc.deductInstant(ctx, ca, req)
}

func (uc *LedgerUseCase) deductInstant(ctx context.Context, ca *ChargeAccount, req *DeductRequest) (*DeductResponse, error) {
	amount, err := uc.priceOf(req)
	if err != nil {
		return nil, err
	}
	res, err := uc.Consume(ctx, &ConsumeRequest{
		UserID:       ca.ChargeUserID,
		Amount:       amount,
		BusinessType: req.BusinessType,
		BusinessID:   req.BusinessID,
		BillingType:  constants.BillingTypeInstant,
		OperatorID:   ca.OperatorUserID,
		Description:  req.Description,
		EventID:      req.EventID,
	})
	if err != nil {
		return nil, err
	}
	return &DeductResponse{
		ChargeAccount: ca,
		Amount:        amount,
		BalanceBefore: res.Record.BalanceBefore,
		BalanceAfter:  res.Record.BalanceAfter,
		Record:        res.Record,
	}, nil
}

// DeductWithDailyAggregation 实时扣减余额但只累计 dailyConsume，不逐笔写账单；
// 免费额度单位优先抵扣，付费金额按付费单位占比折算
func (uc *LedgerUseCase) DeductWithDailyAggregation(ctx context.Context, req *DeductRequest, requestUserID string) (*DeductResponse, error) {
	ca, err := uc.resolver.Resolve(ctx, requestUserID)
	if err != nil {
		return nil, err
	}
	return uc.deductDaily(ctx, ca, req)
}

func (uc *LedgerUseCase) deductDaily(ctx context.Context, ca *ChargeAccount, req *DeductRequest) (*DeductResponse, error) {
	amount, err := uc.priceOf(req)
	if err != nil {
		return nil, err
	}

	resp := &DeductResponse{ChargeAccount: ca}
	before, after, _, err := uc.mutate(ctx, "daily_deduct", ca.ChargeUserID, req.EventID, func(acc *BalanceAccount) (*BillingRecord, error) {
		if err := requireNormal(acc); err != nil {
			return nil, err
		}
		freeUnits := int64(0)
		paid := amount
		if req.Units > 0 && acc.FreeAllowance > 0 {
			freeUnits = req.Units
			if acc.FreeAllowance < freeUnits {
				freeUnits = acc.FreeAllowance
			}
			paidUnits := req.Units - freeUnits
			paid = amount.Mul(decimal.NewFromInt(paidUnits)).Div(decimal.NewFromInt(req.Units)).Round(moneyScale)
		}
		if acc.Available().LessThan(paid) {
			return nil, insufficientBalance(acc, paid)
		}
		acc.FreeAllowance -= freeUnits
		acc.Balance = acc.Balance.Sub(paid)
		acc.TotalConsume = acc.TotalConsume.Add(paid)
		acc.DailyConsume = acc.DailyConsume.Add(paid)
		resp.FreeUnitsUsed = freeUnits
		resp.Amount = paid
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	uc.observeDebit("daily_deduct", resp.Amount, after)
	resp.BalanceBefore = before.Balance
	resp.BalanceAfter = after.Balance
	return resp, nil
}

// ManualAdjustBalance 人工调账：正数加款、负数扣款，扣款不允许透支
func (uc *LedgerUseCase) ManualAdjustBalance(ctx context.Context, userID string, amount decimal.Decimal, operatorID, remark string) (*AdjustResult, error) {
	if amount.IsZero() {
		return nil, creditErrors.ErrInvalidAmount.WithMetadata(map[string]string{"amount": amount.String()})
	}
	_, after, record, err := uc.mutate(ctx, "manual_adjust", userID, "", func(acc *BalanceAccount) (*BillingRecord, error) {
		billType := constants.BillTypeRecharge
		if amount.IsPositive() {
			if err := requireNotCancelled(acc); err != nil {
				return nil, err
			}
		} else {
			if err := requireNormal(acc); err != nil {
				return nil, err
			}
			if acc.Available().LessThan(amount.Abs()) {
				return nil, insufficientBalance(acc, amount.Abs())
			}
			billType = constants.BillTypeConsume
		}
		acc.Balance = acc.Balance.Add(amount)
		return &BillingRecord{
			OperatorID:   operatorID,
			BillType:     billType,
			BusinessType: constants.BusinessTypeManualAdjust,
			Amount:       amount.Abs(),
			Description:  remark,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	uc.log.Infof("manual adjust: user_id=%s, amount=%s, operator_id=%s, balance=%s", userID, amount, operatorID, after.Balance)
	return &AdjustResult{Account: after, Record: record}, nil
}

// ListAccountsWithDailyConsume 待日结账户（仅供定时任务使用）
func (uc *LedgerUseCase) ListAccountsWithDailyConsume(ctx context.Context) ([]*BalanceAccount, error) {
	return uc.repo.ListAccountsWithDailyConsume(ctx)
}

// SubtractDailyConsume 扣减日累计消费（仅供定时任务使用）
func (uc *LedgerUseCase) SubtractDailyConsume(ctx context.Context, userID string, amount decimal.Decimal) (*BalanceAccount, error) {
	if err := requirePositive(amount); err != nil {
		return nil, err
	}
	_, after, _, err := uc.mutate(ctx, "subtract_daily", userID, "", func(acc *BalanceAccount) (*BillingRecord, error) {
		if acc.DailyConsume.LessThan(amount) {
			return nil, creditErrors.ErrInvalidAmount.WithMetadata(map[string]string{
				"daily_consume": acc.DailyConsume.String(),
				"amount":        amount.String(),
			})
		}
		acc.DailyConsume = acc.DailyConsume.Sub(amount)
		return nil, nil
	})
	return after, err
}

// SettleDailyConsume 写入一条日汇总账单并在同一次版本更新中把 dailyConsume 清零；
// 以 (账户, 日期) 为事件键保证同一天最多结算一次。dailyConsume 为零时返回 nil 账单。
func (uc *LedgerUseCase) SettleDailyConsume(ctx context.Context, userID, date string) (*BillingRecord, error) {
	eventID := constants.EventIDPrefixDailySettle + userID + ":" + date
	_, _, record, err := uc.mutate(ctx, "daily_settle", userID, eventID, func(acc *BalanceAccount) (*BillingRecord, error) {
		if !acc.DailyConsume.IsPositive() {
			return nil, errNoChange
		}
		amount := acc.DailyConsume
		acc.DailyConsume = acc.DailyConsume.Sub(amount)
		return &BillingRecord{
			OperatorID:   "system",
			BillType:     constants.BillTypeConsume,
			BillingType:  constants.BillingTypeDaily,
			BusinessType: constants.BusinessTypeDailyConsumeSettlement,
			BusinessID:   date,
			Amount:       amount,
			Description:  fmt.Sprintf("daily consume settlement %s", date),
		}, nil
	})
	return record, err
}

// ResetFreeAllowance 重置免费额度，同一账户同一周期最多一次
func (uc *LedgerUseCase) ResetFreeAllowance(ctx context.Context, userID, period string) (*BalanceAccount, error) {
	eventID := "allowance-reset:" + userID + ":" + period
	_, after, _, err := uc.mutate(ctx, "allowance_reset", userID, eventID, func(acc *BalanceAccount) (*BillingRecord, error) {
		if !acc.IsNormal() {
			return nil, errNoChange
		}
		acc.FreeAllowance = uc.conf.FreeAllowance
		return nil, nil
	})
	return after, err
}

// ListRecords 账单查询（对账），businessType 为空时返回全部
func (uc *LedgerUseCase) ListRecords(ctx context.Context, userID, businessType string, page, pageSize int) ([]*BillingRecord, int64, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return uc.repo.ListRecords(ctx, userID, businessType, page, pageSize)
}
