package biz

import (
	"context"
	"errors"
	"time"

	"credit-service/internal/constants"
	creditErrors "credit-service/internal/errors"
	"credit-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/shopspring/decimal"
)

// JobLock 已持有的任务锁
type JobLock interface {
	Release(ctx context.Context) error
}

// JobLocker 分布式任务锁；已被他人持有时返回 ErrLockNotAcquired
type JobLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (JobLock, error)
}

// AccountFailure 单账户处理失败
type AccountFailure struct {
	UserID string
	Err    error
}

// JobReport 定时任务执行报告
type JobReport struct {
	Job            string
	Period         string
	Skipped        bool // 锁被其他实例持有
	Accounts       int
	Processed      int
	AlreadyHandled int
	Amount         decimal.Decimal
	Failures       []AccountFailure
}

// DailySettlementUseCase 日汇总结算与免费额度重置
type DailySettlementUseCase struct {
	ledger  *LedgerUseCase
	locker  JobLocker
	conf    *BillingConfig
	log     *log.Helper
	metrics *metrics.CreditMetrics
	now     func() time.Time
}

// NewDailySettlementUseCase 创建日结 UseCase
func NewDailySettlementUseCase(ledger *LedgerUseCase, locker JobLocker, conf *BillingConfig, logger log.Logger) *DailySettlementUseCase {
	return &DailySettlementUseCase{
		ledger:  ledger,
		locker:  locker,
		conf:    conf,
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
		now:     time.Now,
	}
}

// lockKey 任务锁按任务名与周期区分
func lockKey(job, period string) string {
	return constants.RedisKeyJobLock + job + ":" + period
}

// acquire 获取任务锁；返回 nil 锁表示应跳过本次执行
func (uc *DailySettlementUseCase) acquire(ctx context.Context, job, period string) (JobLock, error) {
	startTime := time.Now()
	lock, err := uc.locker.TryLock(ctx, lockKey(job, period), uc.conf.LockTTL)
	if uc.metrics != nil {
		uc.metrics.LockAcquireDuration.Observe(time.Since(startTime).Seconds())
	}
	if err != nil {
		if uc.metrics != nil {
			uc.metrics.LockAcquireTotal.WithLabelValues(constants.ResultFailed).Inc()
		}
		if errors.Is(err, creditErrors.ErrLockNotAcquired) {
			uc.log.Infof("job lock held by another runner, skipping: job=%s, period=%s", job, period)
			return nil, nil
		}
		return nil, err
	}
	if uc.metrics != nil {
		uc.metrics.LockAcquireTotal.WithLabelValues(constants.ResultSuccess).Inc()
	}
	return lock, nil
}

func (uc *DailySettlementUseCase) release(lock JobLock, job string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := lock.Release(ctx); err != nil {
		uc.log.Warnf("failed to release job lock: job=%s, error=%v", job, err)
	}
}

// RunDailySettlement 为每个 dailyConsume > 0 的账户生成一条日汇总账单并清零。
// date 为空时结算前一天。单账户失败不影响其他账户。
func (uc *DailySettlementUseCase) RunDailySettlement(ctx context.Context, date string) (*JobReport, error) {
	if date == "" {
		date = uc.now().AddDate(0, 0, -1).Format(constants.TimeFormatDate)
	}
	report := &JobReport{Job: constants.JobDailyConsumeSettlement, Period: date, Amount: decimal.Zero}

	lock, err := uc.acquire(ctx, report.Job, date)
	if err != nil {
		uc.observeRun(report.Job, constants.ResultFailed)
		return nil, err
	}
	if lock == nil {
		report.Skipped = true
		uc.observeRun(report.Job, constants.ResultSkipped)
		return report, nil
	}
	defer uc.release(lock, report.Job)

	accounts, err := uc.ledger.ListAccountsWithDailyConsume(ctx)
	if err != nil {
		uc.observeRun(report.Job, constants.ResultFailed)
		return nil, err
	}
	report.Accounts = len(accounts)

	for _, acc := range accounts {
		if ctx.Err() != nil {
			uc.log.Warnf("daily settlement interrupted: date=%s, processed=%d/%d", date, report.Processed, report.Accounts)
			break
		}
		record, err := uc.ledger.SettleDailyConsume(ctx, acc.UserID, date)
		switch {
		case creditErrors.IsDuplicateEvent(err):
			report.AlreadyHandled++
		case err != nil:
			uc.log.Errorf("daily settlement failed: user_id=%s, date=%s, error=%v", acc.UserID, date, err)
			report.Failures = append(report.Failures, AccountFailure{UserID: acc.UserID, Err: err})
			if uc.metrics != nil {
				uc.metrics.JobAccountFailedTotal.WithLabelValues(report.Job).Inc()
			}
		case record != nil:
			report.Processed++
			report.Amount = report.Amount.Add(record.Amount)
		}
	}

	uc.observeRun(report.Job, constants.ResultSuccess)
	uc.log.Infof("daily settlement finished: date=%s, accounts=%d, settled=%d, already=%d, failed=%d, amount=%s",
		date, report.Accounts, report.Processed, report.AlreadyHandled, len(report.Failures), report.Amount)
	return report, nil
}

// ResetFreeAllowances 每月重置正常账户的免费额度
func (uc *DailySettlementUseCase) ResetFreeAllowances(ctx context.Context, month string) (*JobReport, error) {
	if month == "" {
		month = uc.now().Format(constants.TimeFormatMonth)
	}
	report := &JobReport{Job: constants.JobFreeAllowanceReset, Period: month, Amount: decimal.Zero}

	lock, err := uc.acquire(ctx, report.Job, month)
	if err != nil {
		uc.observeRun(report.Job, constants.ResultFailed)
		return nil, err
	}
	if lock == nil {
		report.Skipped = true
		uc.observeRun(report.Job, constants.ResultSkipped)
		return report, nil
	}
	defer uc.release(lock, report.Job)

	userIDs, err := uc.ledger.repo.ListAccountIDs(ctx, constants.AccountStatusNormal)
	if err != nil {
		uc.observeRun(report.Job, constants.ResultFailed)
		return nil, err
	}
	report.Accounts = len(userIDs)
	for _, userID := range userIDs {
		if ctx.Err() != nil {
			break
		}
		_, err := uc.ledger.ResetFreeAllowance(ctx, userID, month)
		switch {
		case creditErrors.IsDuplicateEvent(err):
			report.AlreadyHandled++
		case err != nil:
			uc.log.Errorf("free allowance reset failed: user_id=%s, month=%s, error=%v", userID, month, err)
			report.Failures = append(report.Failures, AccountFailure{UserID: userID, Err: err})
			if uc.metrics != nil {
				uc.metrics.JobAccountFailedTotal.WithLabelValues(report.Job).Inc()
			}
		default:
			report.Processed++
		}
	}
	uc.observeRun(report.Job, constants.ResultSuccess)
	uc.log.Infof("free allowance reset finished: month=%s, accounts=%d, reset=%d, failed=%d", month, report.Accounts, report.Processed, len(report.Failures))
	return report, nil
}

func (uc *DailySettlementUseCase) observeRun(job, result string) {
	if uc.metrics != nil {
		uc.metrics.JobRunTotal.WithLabelValues(job, result).Inc()
	}
}
