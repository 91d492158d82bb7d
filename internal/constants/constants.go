package constants

// 时间格式常量
const (
	// TimeFormatDate 日期格式 (YYYY-MM-DD)
	TimeFormatDate = "2006-01-02"
	// TimeFormatMonth 月份格式 (YYYY-MM)
	TimeFormatMonth = "2006-01"
)

// Redis Key 前缀常量
const (
	// RedisKeyBalance 余额缓存 key 前缀
	RedisKeyBalance = "credit:balance:"
	// RedisKeyAgentChain 代理链缓存 key 前缀
	RedisKeyAgentChain = "credit:agent-chain:"
	// RedisKeyJobLock 定时任务锁 key 前缀
	RedisKeyJobLock = "lock:job:"
)

// 定时任务名称
const (
	// JobDailyConsumeSettlement 日汇总结算
	JobDailyConsumeSettlement = "daily-consume-settlement"
	// JobFreeAllowanceReset 免费额度重置
	JobFreeAllowanceReset = "free-allowance-reset"
)

// 账户状态
const (
	AccountStatusNormal    = "normal"
	AccountStatusFrozen    = "frozen"
	AccountStatusCancelled = "cancelled"
)

// 账单类型（资金方向）
const (
	BillTypeRecharge = "recharge"
	BillTypeConsume  = "consume"
	BillTypeRefund   = "refund"
	// BillTypeReserve 余额转入预扣款，不计入消费；实际消费由后续 consume 账单体现
	BillTypeReserve = "reserve"
	// BillTypeRelease 预扣款退回余额，不计入退款
	BillTypeRelease = "release"
)

// 计费方式
const (
	// BillingTypeInstant 实时出账
	BillingTypeInstant = "instant"
	// BillingTypeDaily 实时扣款、日终汇总出账
	BillingTypeDaily = "daily"
)

// 业务类型
const (
	BusinessTypeRecharge                 = "recharge"
	BusinessTypeSMS                      = "sms"
	BusinessTypeTranslation              = "translation"
	BusinessTypeInstanceMarketing        = "instance-marketing"
	BusinessTypeInstanceProspecting      = "instance-prospecting"
	BusinessTypeInstancePreDeduct        = "instance-pre-deduct"
	BusinessTypeInstancePreDeductRelease = "instance-pre-deduct-release"
	BusinessTypeInstanceDailyFee         = "instance-daily-fee"
	BusinessTypeManualAdjust             = "manual-adjust"
	BusinessTypeDailyConsumeSettlement   = "daily-consume-settlement"
	BusinessTypeFreeze                   = "freeze"
	BusinessTypeUnfreeze                 = "unfreeze"
)

// 账单状态
const (
	BillStatusSuccess = "success"
	BillStatusFailed  = "failed"
)

// 账单号前缀
const (
	// BillNoPrefix 账单号前缀
	BillNoPrefix = "B"
)

// 分佣方向
const (
	CommissionDirectionCredit = "credit"
	CommissionDirectionDebit  = "debit"
)

// 分佣记录状态
const (
	CommissionRecordStatusSuccess = "success"
	CommissionRecordStatusFailed  = "failed"
)

// 结算状态
const (
	SettlementStatusPending   = "pending"
	SettlementStatusApproved  = "approved"
	SettlementStatusRejected  = "rejected"
	SettlementStatusCancelled = "cancelled"
)

// MaxAgentLevel 参与分佣的最大代理层级
const MaxAgentLevel = 3

// 事件管道默认值
const (
	// DefaultChargeTopic 主题
	DefaultChargeTopic = "charge-events"
	// DefaultChargeDlqTopic 死信主题
	DefaultChargeDlqTopic = "charge-events-dlq"
	// HeaderNotBefore Kafka 死信消息的最早处理时间（RFC3339Nano）
	HeaderNotBefore = "x-not-before"
	// DefaultConsumerGroup 消费组
	DefaultConsumerGroup = "credit-service"
)

// 每日结算去重事件 ID 前缀
const (
	EventIDPrefixDailySettle = "daily-settle:"
)

// 指标结果标签
const (
	ResultSuccess   = "success"
	ResultFailed    = "failed"
	ResultDuplicate = "duplicate"
	ResultSkipped   = "skipped"
)

// 管道阶段标签
const (
	StageInline  = "inline"
	StagePrimary = "primary"
	StageDlq     = "dlq"
)
