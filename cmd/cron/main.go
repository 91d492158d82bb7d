package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"credit-service/internal/conf"
	"credit-service/internal/constants"

	"github.com/gaoyong06/go-pkg/logger"
	"github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/file"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
	_ "go.uber.org/automaxprocs"
)

const (
	defaultDailySettlementSpec    = "0 5 0 * * *"
	defaultFreeAllowanceResetSpec = "0 0 0 1 * *"
)

var (
	flagconf string
	// flagRun 非空时只执行一次指定任务后退出（用于补跑）
	flagRun    string
	flagPeriod string
)

func init() {
	flag.StringVar(&flagconf, "conf", "../../configs/config.yaml", "config path, eg: -conf config.yaml")
	flag.StringVar(&flagRun, "run", "", "run a job once and exit: "+constants.JobDailyConsumeSettlement+" | "+constants.JobFreeAllowanceReset)
	flag.StringVar(&flagPeriod, "period", "", "job period for -run, eg: 2026-05-09 or 2026-05")
}

func main() {
	flag.Parse()

	// 初始化配置
	c := config.New(
		config.WithSource(
			file.NewSource(flagconf),
		),
	)
	defer c.Close()

	if err := c.Load(); err != nil {
		panic(err)
	}

	var bc conf.Bootstrap
	if err := c.Scan(&bc); err != nil {
		panic(err)
	}

	// 初始化日志 (使用 go-pkg/logger)
	logConfig := &logger.Config{
		Level:         "info",
		Format:        "json",
		Output:        "stdout",
		FilePath:      "logs/credit-cron.log",
		MaxSize:       100,
		MaxAge:        30,
		MaxBackups:    10,
		Compress:      true,
		EnableConsole: true,
	}

	loggerInstance := logger.NewLogger(logConfig)

	loggerInstance = log.With(loggerInstance,
		"ts", log.DefaultTimestamp,
		"caller", log.DefaultCaller,
		"service.name", "credit-cron",
	)

	logHelper := log.NewHelper(loggerInstance)

	// 初始化应用
	app, cleanup, err := wireApp(&bc, loggerInstance)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	if flagRun != "" {
		report, err := app.runJob(flagRun, flagPeriod)
		if err != nil {
			logHelper.Errorf("[CRON] %s failed: %v", flagRun, err)
			cleanup()
			os.Exit(1)
		}
		logReport(logHelper, report)
		return
	}

	dailySpec, resetSpec := defaultDailySettlementSpec, defaultFreeAllowanceResetSpec
	if bc.Cron != nil {
		if bc.Cron.DailySettlement != "" {
			dailySpec = bc.Cron.DailySettlement
		}
		if bc.Cron.FreeAllowanceReset != "" {
			resetSpec = bc.Cron.FreeAllowanceReset
		}
	}

	// 创建定时任务调度器（支持秒级调度）
	cronScheduler := cron.New(cron.WithSeconds())

	for _, job := range []struct {
		name string
		spec string
	}{
		{constants.JobDailyConsumeSettlement, dailySpec},
		{constants.JobFreeAllowanceReset, resetSpec},
	} {
		name := job.name
		if _, err := cronScheduler.AddFunc(job.spec, func() {
			logHelper.Infof("[CRON] Starting %s...", name)
			report, err := app.runJob(name, "")
			if err != nil {
				logHelper.Errorf("[CRON] Error running %s: %v", name, err)
				return
			}
			logReport(logHelper, report)
		}); err != nil {
			logHelper.Errorf("Failed to add %s job: %v", name, err)
		}
	}

	// 启动定时任务
	cronScheduler.Start()
	logHelper.Info("========================================")
	logHelper.Info("Cron jobs started successfully")
	logHelper.Info("Scheduled jobs:")
	logHelper.Infof("  - Daily consume settlement: %s", dailySpec)
	logHelper.Infof("  - Free allowance reset: %s", resetSpec)
	logHelper.Info("========================================")

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logHelper.Info("Shutting down gracefully...")

	// 停止定时任务，等待进行中的任务结束
	ctx := cronScheduler.Stop()
	select {
	case <-ctx.Done():
		logHelper.Info("Cron jobs stopped gracefully")
	case <-time.After(5 * time.Second):
		logHelper.Info("Cron jobs forced to stop after timeout")
	}
}
