package errors

import (
	kerrors "github.com/go-kratos/kratos/v2/errors"
)

// Credit Service 错误定义
// code 为 HTTP 状态码，reason 为稳定的机器可读原因；
// errors.Is 按 code + reason 匹配，因此携带 metadata 或 cause 的副本同样命中。
//
// 分类：
//   前置条件失败（调用方充值/补足后可恢复）：INSUFFICIENT_BALANCE、INSUFFICIENT_COMMISSION
//   瞬时失败（同一操作可重试）：OPTIMISTIC_LOCK_CONFLICT
//   调用方错误（不重试）：ACCOUNT_NOT_FOUND、TASK_MISMATCH、INVALID_AMOUNT ...
//   终态失败（需人工对账）：DLQ_EXHAUSTED

// 原因常量
const (
	ReasonInsufficientBalance    = "INSUFFICIENT_BALANCE"
	ReasonInsufficientCommission = "INSUFFICIENT_COMMISSION"
	ReasonOptimisticLockConflict = "OPTIMISTIC_LOCK_CONFLICT"
	ReasonAccountNotFound        = "ACCOUNT_NOT_FOUND"
	ReasonAccountUnavailable     = "ACCOUNT_UNAVAILABLE"
	ReasonSettlementNotFound     = "SETTLEMENT_NOT_FOUND"
	ReasonFailureNotFound        = "CHARGE_FAILURE_NOT_FOUND"
	ReasonTaskMismatch           = "TASK_MISMATCH"
	ReasonDlqExhausted           = "DLQ_EXHAUSTED"
	ReasonConfigMissing          = "CONFIG_MISSING"
	ReasonInvalidAmount          = "INVALID_AMOUNT"
	ReasonInvalidArgument        = "INVALID_ARGUMENT"
	ReasonDuplicateEvent         = "DUPLICATE_EVENT"
	ReasonLockNotAcquired        = "LOCK_NOT_ACQUIRED"
)

var (
	// ErrInsufficientBalance 可用余额不足
	ErrInsufficientBalance = kerrors.BadRequest(ReasonInsufficientBalance, "insufficient balance")
	// ErrInsufficientCommission 可用佣金不足
	ErrInsufficientCommission = kerrors.BadRequest(ReasonInsufficientCommission, "insufficient commission")
	// ErrInvalidAmount 金额非法
	ErrInvalidAmount = kerrors.BadRequest(ReasonInvalidAmount, "invalid amount")
	// ErrInvalidArgument 参数非法
	ErrInvalidArgument = kerrors.BadRequest(ReasonInvalidArgument, "invalid argument")
	// ErrAccountUnavailable 账户已冻结或注销
	ErrAccountUnavailable = kerrors.BadRequest(ReasonAccountUnavailable, "account unavailable")
	// ErrAccountNotFound 账户不存在
	ErrAccountNotFound = kerrors.NotFound(ReasonAccountNotFound, "account not found")
	// ErrSettlementNotFound 结算单不存在
	ErrSettlementNotFound = kerrors.NotFound(ReasonSettlementNotFound, "settlement not found")
	// ErrFailureNotFound 失败事件不存在
	ErrFailureNotFound = kerrors.NotFound(ReasonFailureNotFound, "charge failure not found")
	// ErrOptimisticLockConflict 版本冲突（重试耗尽）
	ErrOptimisticLockConflict = kerrors.Conflict(ReasonOptimisticLockConflict, "optimistic lock conflict")
	// ErrTaskMismatch 状态不允许该操作
	ErrTaskMismatch = kerrors.Conflict(ReasonTaskMismatch, "task state mismatch")
	// ErrDuplicateEvent 事件已处理
	ErrDuplicateEvent = kerrors.Conflict(ReasonDuplicateEvent, "event already processed")
	// ErrLockNotAcquired 分布式锁已被占用
	ErrLockNotAcquired = kerrors.Conflict(ReasonLockNotAcquired, "lock not acquired")
	// ErrDlqExhausted 死信重放次数耗尽
	ErrDlqExhausted = kerrors.InternalServer(ReasonDlqExhausted, "dead letter replays exhausted")
	// ErrConfigMissing 价格或比例配置缺失
	ErrConfigMissing = kerrors.InternalServer(ReasonConfigMissing, "price config missing")
)

// IsInsufficientBalance 判断是否余额不足
func IsInsufficientBalance(err error) bool {
	return kerrors.Reason(err) == ReasonInsufficientBalance
}

// IsOptimisticLockConflict 判断是否版本冲突
func IsOptimisticLockConflict(err error) bool {
	return kerrors.Reason(err) == ReasonOptimisticLockConflict
}

// IsDuplicateEvent 判断是否重复事件
func IsDuplicateEvent(err error) bool {
	return kerrors.Reason(err) == ReasonDuplicateEvent
}

// IsAccountNotFound 判断账户是否不存在
func IsAccountNotFound(err error) bool {
	return kerrors.Reason(err) == ReasonAccountNotFound
}

// IsRetriable 瞬时错误，同一操作可以再次尝试
func IsRetriable(err error) bool {
	return IsOptimisticLockConflict(err)
}

// IsPermanent 请求本身无效，重放不会改变结果；余额不足、账户冻结等前置条件可能随后满足，不属于此类
func IsPermanent(err error) bool {
	switch kerrors.Reason(err) {
	case ReasonInvalidAmount, ReasonInvalidArgument, ReasonAccountNotFound, ReasonConfigMissing:
		return true
	}
	return false
}
