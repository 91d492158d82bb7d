package biz

import (
	"strconv"
	"time"

	"credit-service/internal/conf"
	creditErrors "credit-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/shopspring/decimal"
)

// PriceConfig 价格/分佣比例查询（外部配置中心所有，此处只读）
type PriceConfig interface {
	// UnitPrice 业务类型单价，缺失时返回 ErrConfigMissing
	UnitPrice(businessType string) (decimal.Decimal, error)
	// CommissionRate 代理层级分佣比例，缺失时 ok=false
	CommissionRate(level int) (rate decimal.Decimal, ok bool)
}

// BillingConfig 计费配置
type BillingConfig struct {
	Prices              map[string]decimal.Decimal
	CommissionRates     map[int]decimal.Decimal
	CommissionScale     int32 // 佣金保留小数位
	FreeAllowance       int64 // 每月免费单位数
	BalanceLowThreshold decimal.Decimal
	MaxCASRetries       int
	EventTimeout        time.Duration
	DlqMaxReplays       int
	DlqBackoff          time.Duration
	BalanceCacheTTL     time.Duration
	AgentChainCacheTTL  time.Duration
	LockTTL             time.Duration
	JobTimeout          time.Duration
}

// NewBillingConfig 从配置创建 BillingConfig
func NewBillingConfig(c *conf.Bootstrap, logger log.Logger) *BillingConfig {
	config := &BillingConfig{
		Prices:              make(map[string]decimal.Decimal),
		CommissionRates:     make(map[int]decimal.Decimal),
		CommissionScale:     2,
		BalanceLowThreshold: decimal.NewFromInt(10),
		MaxCASRetries:       5,
		EventTimeout:        10 * time.Second,
		DlqMaxReplays:       5,
		DlqBackoff:          time.Minute,
		BalanceCacheTTL:     5 * time.Minute,
		AgentChainCacheTTL:  10 * time.Minute,
		LockTTL:             30 * time.Minute,
		JobTimeout:          10 * time.Minute,
	}
	if c == nil {
		return config
	}
	if b := c.Billing; b != nil {
		for k, v := range b.Prices {
			config.Prices[k] = decimal.NewFromFloat(v)
		}
		for k, v := range b.CommissionRates {
			level, err := strconv.Atoi(k)
			if err != nil || level < 1 {
				log.NewHelper(logger).Warnf("ignore commission rate with invalid level: level=%s", k)
				continue
			}
			config.CommissionRates[level] = decimal.NewFromFloat(v)
		}
		if b.CommissionScale > 0 {
			config.CommissionScale = b.CommissionScale
		}
		config.FreeAllowance = b.FreeAllowance
		if b.BalanceLowThreshold > 0 {
			config.BalanceLowThreshold = decimal.NewFromFloat(b.BalanceLowThreshold)
		}
		if b.MaxCasRetries > 0 {
			config.MaxCASRetries = b.MaxCasRetries
		}
		if d := b.EventTimeout.AsDuration(); d > 0 {
			config.EventTimeout = d
		}
		if b.DlqMaxReplays > 0 {
			config.DlqMaxReplays = b.DlqMaxReplays
		}
		if d := b.DlqBackoff.AsDuration(); d > 0 {
			config.DlqBackoff = d
		}
		if d := b.BalanceCacheTtl.AsDuration(); d > 0 {
			config.BalanceCacheTTL = d
		}
		if d := b.AgentChainCacheTtl.AsDuration(); d > 0 {
			config.AgentChainCacheTTL = d
		}
	}
	if cr := c.Cron; cr != nil {
		if d := cr.LockTtl.AsDuration(); d > 0 {
			config.LockTTL = d
		}
		if d := cr.JobTimeout.AsDuration(); d > 0 {
			config.JobTimeout = d
		}
	}
	return config
}

// UnitPrice 单价缺失直接失败，不使用默认值（影响金额）
func (c *BillingConfig) UnitPrice(businessType string) (decimal.Decimal, error) {
	price, ok := c.Prices[businessType]
	if !ok {
		return decimal.Zero, creditErrors.ErrConfigMissing.WithMetadata(map[string]string{
			"business_type": businessType,
		})
	}
	return price, nil
}

// CommissionRate 层级分佣比例
func (c *BillingConfig) CommissionRate(level int) (decimal.Decimal, bool) {
	rate, ok := c.CommissionRates[level]
	return rate, ok
}

// NewPriceConfig 静态价格表
func NewPriceConfig(c *BillingConfig) PriceConfig {
	return c
}
