package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CreditMetrics 账本服务指标
type CreditMetrics struct {
	// 账本变更
	LedgerOpTotal    *prometheus.CounterVec   // 账本操作总数（按操作、结果）
	LedgerOpDuration *prometheus.HistogramVec // 账本操作耗时
	LedgerAmount     *prometheus.CounterVec   // 变动金额（按操作）
	CASConflictTotal *prometheus.CounterVec   // 乐观锁冲突次数（按账户类型）
	BalanceLowAlert  prometheus.Counter       // 扣费后余额低于阈值的次数

	// 余额守卫
	GuardCheckTotal *prometheus.CounterVec // 预检次数（按场景、结果）
	CacheHitTotal   *prometheus.CounterVec // 余额缓存命中（hit/miss）

	// 异步扣费管道
	ChargeEventTotal  *prometheus.CounterVec // 事件处理数（按阶段、结果）
	DlqForwardTotal   prometheus.Counter     // 转入死信次数
	DlqExhaustedTotal prometheus.Counter     // 死信耗尽次数

	// 分佣
	CommissionCreditTotal     *prometheus.CounterVec // 分佣入账（按层级、结果）
	CommissionAmount          *prometheus.CounterVec // 分佣金额（按层级）
	SettlementTransitionTotal *prometheus.CounterVec // 结算状态迁移（按目标状态）

	// 定时任务与分布式锁
	JobRunTotal           *prometheus.CounterVec // 任务执行（按任务、结果）
	JobAccountFailedTotal *prometheus.CounterVec // 单账户结算失败
	LockAcquireTotal      *prometheus.CounterVec // 锁获取总数（按结果）
	LockAcquireDuration   prometheus.Histogram   // 锁获取耗时
}

// NewCreditMetrics 创建并注册指标
func NewCreditMetrics() *CreditMetrics {
	return &CreditMetrics{
		LedgerOpTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_ledger_op_total",
				Help: "Total number of ledger operations",
			},
			[]string{"op", "result"},
		),
		LedgerOpDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "credit_ledger_op_duration_seconds",
				Help:    "Duration of ledger operations including CAS retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		LedgerAmount: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_ledger_amount_total",
				Help: "Total amount moved by ledger operations",
			},
			[]string{"op"},
		),
		CASConflictTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_cas_conflict_total",
				Help: "Total number of optimistic lock conflicts",
			},
			[]string{"account"}, // account: balance/commission
		),
		BalanceLowAlert: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "credit_balance_low_total",
				Help: "Number of debits leaving balance below the low threshold",
			},
		),
		GuardCheckTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_guard_check_total",
				Help: "Total number of balance pre-flight checks",
			},
			[]string{"scene", "result"},
		),
		CacheHitTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_balance_cache_total",
				Help: "Balance cache lookups",
			},
			[]string{"result"}, // hit/miss
		),
		ChargeEventTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_charge_event_total",
				Help: "Charge events handled by stage and result",
			},
			[]string{"stage", "result"},
		),
		DlqForwardTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "credit_dlq_forward_total",
				Help: "Charge events forwarded to the dead letter topic",
			},
		),
		DlqExhaustedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "credit_dlq_exhausted_total",
				Help: "Charge events that exhausted dead letter replays",
			},
		),
		CommissionCreditTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_commission_credit_total",
				Help: "Commission credits by hierarchy level",
			},
			[]string{"level", "result"},
		),
		CommissionAmount: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_commission_amount_total",
				Help: "Commission amount credited by hierarchy level",
			},
			[]string{"level"},
		),
		SettlementTransitionTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_settlement_transition_total",
				Help: "Commission settlement transitions",
			},
			[]string{"status"},
		),
		JobRunTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_job_run_total",
				Help: "Scheduled job runs",
			},
			[]string{"job", "result"},
		),
		JobAccountFailedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_job_account_failed_total",
				Help: "Per-account failures inside scheduled jobs",
			},
			[]string{"job"},
		),
		LockAcquireTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_lock_acquire_total",
				Help: "Total number of lock acquisition attempts",
			},
			[]string{"result"},
		),
		LockAcquireDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "credit_lock_acquire_duration_seconds",
				Help:    "Duration of lock acquisition",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
		),
	}
}

var (
	defaultMetrics *CreditMetrics
	once           sync.Once
)

// GetMetrics 获取全局指标实例
func GetMetrics() *CreditMetrics {
	once.Do(func() {
		defaultMetrics = NewCreditMetrics()
	})
	return defaultMetrics
}
