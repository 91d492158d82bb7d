package biz

import (
	"context"
	"time"

	"credit-service/internal/constants"
	creditErrors "credit-service/internal/errors"
	"credit-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/shopspring/decimal"
)

// BalanceGuard 高成本外部调用（短信、大模型）前的余额预检
type BalanceGuard struct {
	repo     LedgerRepo
	resolver *ChargeAccountResolver
	prices   PriceConfig
	cache    BalanceCache
	conf     *BillingConfig
	log      *log.Helper
	metrics  *metrics.CreditMetrics
}

// NewBalanceGuard 创建余额预检
func NewBalanceGuard(repo LedgerRepo, resolver *ChargeAccountResolver, prices PriceConfig, cache BalanceCache, conf *BillingConfig, logger log.Logger) *BalanceGuard {
	return &BalanceGuard{
		repo:     repo,
		resolver: resolver,
		prices:   prices,
		cache:    cache,
		conf:     conf,
		log:      log.NewHelper(logger),
		metrics:  metrics.GetMetrics(),
	}
}

// EnsureSufficientBalance 解析计费账户并确认可用余额不低于 unitPrice，不足时错误中带上场景
func (g *BalanceGuard) EnsureSufficientBalance(ctx context.Context, userID string, unitPrice decimal.Decimal, scene string) (*ChargeAccount, error) {
	ca, err := g.resolver.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	available, err := g.available(ctx, ca.ChargeUserID)
	if err != nil {
		g.observe(scene, constants.ResultFailed)
		return nil, err
	}
	if available.LessThan(unitPrice) {
		g.observe(scene, constants.ResultFailed)
		g.log.Infof("balance precheck rejected: scene=%s, charge_user=%s, available=%s, required=%s", scene, ca.ChargeUserID, available, unitPrice)
		return nil, creditErrors.ErrInsufficientBalance.WithMetadata(map[string]string{
			"scene":     scene,
			"user_id":   ca.ChargeUserID,
			"available": available.String(),
			"required":  unitPrice.String(),
		})
	}
	g.observe(scene, constants.ResultSuccess)
	return ca, nil
}

// EnsureSufficientForUnits 按业务单价折算后预检；单价缺失直接失败
func (g *BalanceGuard) EnsureSufficientForUnits(ctx context.Context, userID, businessType string, units int64, scene string) (*ChargeAccount, error) {
	price, err := g.prices.UnitPrice(businessType)
	if err != nil {
		g.log.Errorf("unit price missing, refusing precheck: business_type=%s, scene=%s", businessType, scene)
		return nil, err
	}
	if units <= 0 {
		units = 1
	}
	return g.EnsureSufficientBalance(ctx, userID, price.Mul(decimal.NewFromInt(units)), scene)
}

// EvictBalance 异步扣费完成后失效缓存
func (g *BalanceGuard) EvictBalance(ctx context.Context, userID string) {
	if g.cache == nil {
		return
	}
	if err := g.cache.Evict(ctx, userID); err != nil {
		g.log.Warnf("failed to evict balance cache: user_id=%s, error=%v", userID, err)
	}
}

// available 先读缓存，未命中回源并按读到的版本回填；并发提交已写入更高版本时回填被忽略
func (g *BalanceGuard) available(ctx context.Context, userID string) (decimal.Decimal, error) {
	if g.cache != nil {
		v, ok, err := g.cache.GetAvailable(ctx, userID)
		if err != nil {
			g.log.Warnf("balance cache read failed: user_id=%s, error=%v", userID, err)
		} else if ok {
			g.observeCache("hit")
			return v, nil
		}
		g.observeCache("miss")
	}

	acc, err := g.repo.GetAccount(ctx, userID)
	if err != nil {
		if creditErrors.IsAccountNotFound(err) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	available := acc.PrecheckAvailable()

	if g.cache != nil {
		cacheCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		if err := g.cache.SetAvailable(cacheCtx, userID, available, acc.Version, g.conf.BalanceCacheTTL); err != nil {
			g.log.Warnf("failed to update balance cache: user_id=%s, error=%v", userID, err)
		}
	}
	return available, nil
}

func (g *BalanceGuard) observe(scene, result string) {
	if g.metrics != nil {
		g.metrics.GuardCheckTotal.WithLabelValues(scene, result).Inc()
	}
}

func (g *BalanceGuard) observeCache(result string) {
	if g.metrics != nil {
		g.metrics.CacheHitTotal.WithLabelValues(result).Inc()
	}
}
