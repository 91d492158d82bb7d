package main

import (
	"context"
	"fmt"

	"credit-service/internal/biz"
	"credit-service/internal/constants"

	"github.com/go-kratos/kratos/v2/log"
)

// CronApp Cron 应用结构
type CronApp struct {
	Settlement *biz.DailySettlementUseCase
	Config     *biz.BillingConfig
}

// runJob 在任务超时内执行一次任务；period 为空时按任务默认周期（日结为前一天，重置为当月）
func (a *CronApp) runJob(job, period string) (*biz.JobReport, error) {
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.JobTimeout)
	defer cancel()

	switch job {
	case constants.JobDailyConsumeSettlement:
		return a.Settlement.RunDailySettlement(ctx, period)
	case constants.JobFreeAllowanceReset:
		return a.Settlement.ResetFreeAllowances(ctx, period)
	default:
		return nil, fmt.Errorf("unknown job %q", job)
	}
}

func logReport(logHelper *log.Helper, report *biz.JobReport) {
	if report.Skipped {
		logHelper.Infof("[CRON] %s skipped for %s: lock held by another runner", report.Job, report.Period)
		return
	}
	logHelper.Infof("[CRON] %s finished for %s: accounts=%d, processed=%d, already=%d, failed=%d, amount=%s",
		report.Job, report.Period, report.Accounts, report.Processed, report.AlreadyHandled, len(report.Failures), report.Amount)
	for i, f := range report.Failures {
		if i == 10 {
			logHelper.Warnf("[CRON] %s: %d more failures omitted", report.Job, len(report.Failures)-i)
			break
		}
		logHelper.Warnf("[CRON] %s failed for user_id=%s: %v", report.Job, f.UserID, f.Err)
	}
}
