package biz

import (
	"context"
	"fmt"
	"time"

	"credit-service/internal/constants"
	creditErrors "credit-service/internal/errors"
	"credit-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ChargeEvent 异步扣费事件（主题与死信主题共用）
type ChargeEvent struct {
	EventID        string          `json:"event_id"`
	RequestUserID  string          `json:"request_user_id"`
	ChargeUserID   string          `json:"charge_user_id"`
	OperatorUserID string          `json:"operator_user_id"`
	TotalUnits     int64           `json:"total_units"`
	Amount         decimal.Decimal `json:"amount"`
	BillType       string          `json:"bill_type"`
	BillingType    string          `json:"billing_type"`
	BusinessType   string          `json:"business_type"`
	BusinessID     string          `json:"business_id,omitempty"`
	Description    string          `json:"description,omitempty"`
	RetryCount     int             `json:"retry_count"`
	LastError      string          `json:"last_error,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// ChargeEventPublisher 事件发布
type ChargeEventPublisher interface {
	// Enabled 是否配置了可用的消息通道
	Enabled() bool
	PublishPrimary(ctx context.Context, evt *ChargeEvent) error
	// PublishDeadLetter delay 为重放前的等待时间
	PublishDeadLetter(ctx context.Context, evt *ChargeEvent, delay time.Duration) error
}

// ChargeEventFailure 死信重放耗尽的事件，等待人工对账
type ChargeEventFailure struct {
	EventID    string
	Event      *ChargeEvent
	RetryCount int
	LastError  string
	Resolved   bool
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// ChargeEventFailureRepo 失败事件存储
type ChargeEventFailureRepo interface {
	// Save 按 EventID 覆盖写入
	Save(ctx context.Context, f *ChargeEventFailure) error
	// Get 不存在返回 ErrFailureNotFound
	Get(ctx context.Context, eventID string) (*ChargeEventFailure, error)
	ListUnresolved(ctx context.Context, limit int) ([]*ChargeEventFailure, error)
	MarkResolved(ctx context.Context, eventID string) error
}

// ChargeEventUseCase 异步扣费管道：生产 -> 主消费 -> 死信消费
type ChargeEventUseCase struct {
	ledger    *LedgerUseCase
	guard     *BalanceGuard
	resolver  *ChargeAccountResolver
	prices    PriceConfig
	publisher ChargeEventPublisher
	failures  ChargeEventFailureRepo
	conf      *BillingConfig
	log       *log.Helper
	metrics   *metrics.CreditMetrics
}

// NewChargeEventUseCase 创建扣费事件 UseCase
func NewChargeEventUseCase(
	ledger *LedgerUseCase,
	guard *BalanceGuard,
	resolver *ChargeAccountResolver,
	prices PriceConfig,
	publisher ChargeEventPublisher,
	failures ChargeEventFailureRepo,
	conf *BillingConfig,
	logger log.Logger,
) *ChargeEventUseCase {
	return &ChargeEventUseCase{
		ledger:    ledger,
		guard:     guard,
		resolver:  resolver,
		prices:    prices,
		publisher: publisher,
		failures:  failures,
		conf:      conf,
		log:       log.NewHelper(logger),
		metrics:   metrics.GetMetrics(),
	}
}

// Produce 补全事件（ID、计费归属、金额）后发布到主题；
// 未配置消息通道或发布失败时就地处理。
func (uc *ChargeEventUseCase) Produce(ctx context.Context, evt *ChargeEvent) (*ChargeEvent, error) {
	if evt.RequestUserID == "" {
		return nil, creditErrors.ErrInvalidArgument.WithMetadata(map[string]string{"field": "request_user_id"})
	}
	if evt.TotalUnits <= 0 && !evt.Amount.IsPositive() {
		return nil, creditErrors.ErrInvalidAmount.WithMetadata(map[string]string{"field": "total_units"})
	}
	if evt.EventID == "" {
		evt.EventID = uuid.New().String()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now()
	}
	if evt.BillType == "" {
		evt.BillType = constants.BillTypeConsume
	}
	if evt.BillingType == "" {
		evt.BillingType = constants.BillingTypeDaily
	}
	if evt.ChargeUserID == "" {
		ca, err := uc.resolver.Resolve(ctx, evt.RequestUserID)
		if err != nil {
			return nil, err
		}
		evt.ChargeUserID = ca.ChargeUserID
		evt.OperatorUserID = ca.OperatorUserID
	}
	if !evt.Amount.IsPositive() {
		price, err := uc.prices.UnitPrice(evt.BusinessType)
		if err != nil {
			return nil, err
		}
		evt.Amount = price.Mul(decimal.NewFromInt(evt.TotalUnits)).Round(moneyScale)
	}

	if uc.publisher == nil || !uc.publisher.Enabled() {
		uc.log.Debugf("no charge event broker, processing inline: event_id=%s", evt.EventID)
		return evt, uc.processInline(ctx, evt)
	}
	if err := uc.publisher.PublishPrimary(ctx, evt); err != nil {
		uc.log.Warnf("publish charge event failed, processing inline: event_id=%s, error=%v", evt.EventID, err)
		return evt, uc.processInline(ctx, evt)
	}
	uc.observe(constants.StagePrimary, "published")
	return evt, nil
}

func (uc *ChargeEventUseCase) processInline(ctx context.Context, evt *ChargeEvent) error {
	err := uc.apply(ctx, evt)
	if err != nil {
		uc.observe(constants.StageInline, constants.ResultFailed)
		return err
	}
	uc.observe(constants.StageInline, constants.ResultSuccess)
	return nil
}

// apply 在单事件超时内执行账本扣费；重复事件视为成功
func (uc *ChargeEventUseCase) apply(ctx context.Context, evt *ChargeEvent) error {
	if uc.conf.EventTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, uc.conf.EventTimeout)
		defer cancel()
	}
	ca := &ChargeAccount{ChargeUserID: evt.ChargeUserID, OperatorUserID: evt.OperatorUserID}
	if ca.ChargeUserID == "" {
		resolved, err := uc.resolver.Resolve(ctx, evt.RequestUserID)
		if err != nil {
			return err
		}
		ca = resolved
	}
	_, err := uc.ledger.DeductForChargeAccount(ctx, ca, &DeductRequest{
		Amount:       evt.Amount,
		Units:        evt.TotalUnits,
		BusinessType: evt.BusinessType,
		BusinessID:   evt.BusinessID,
		Description:  evt.Description,
		EventID:      evt.EventID,
	}, evt.BillingType)
	if creditErrors.IsDuplicateEvent(err) {
		uc.log.Infof("duplicate charge event ignored: event_id=%s", evt.EventID)
		uc.observe(constants.StagePrimary, constants.ResultDuplicate)
		return nil
	}
	if err != nil {
		return err
	}
	if uc.guard != nil {
		uc.guard.EvictBalance(ctx, ca.ChargeUserID)
	}
	return nil
}

// HandlePrimary 主消费：扣费失败时带 retryCount+1 转入死信；只有转发失败才返回错误
func (uc *ChargeEventUseCase) HandlePrimary(ctx context.Context, evt *ChargeEvent) error {
	err := uc.apply(ctx, evt)
	if err == nil {
		uc.observe(constants.StagePrimary, constants.ResultSuccess)
		return nil
	}
	uc.observe(constants.StagePrimary, constants.ResultFailed)
	uc.log.Warnf("charge event failed, forwarding to dead letter: event_id=%s, charge_user=%s, error=%v", evt.EventID, evt.ChargeUserID, err)
	return uc.forward(ctx, evt, err)
}

// HandleDeadLetter 死信消费：按固定退避重放；超过最大重放次数或错误不可重试时落库待人工处理并返回 ErrDlqExhausted
func (uc *ChargeEventUseCase) HandleDeadLetter(ctx context.Context, evt *ChargeEvent) error {
	err := uc.apply(ctx, evt)
	if err == nil {
		uc.observe(constants.StageDlq, constants.ResultSuccess)
		uc.log.Infof("charge event recovered from dead letter: event_id=%s, retry_count=%d", evt.EventID, evt.RetryCount)
		return nil
	}
	uc.observe(constants.StageDlq, constants.ResultFailed)

	permanent := creditErrors.IsPermanent(err)
	if evt.RetryCount < uc.conf.DlqMaxReplays && !permanent {
		return uc.forward(ctx, evt, err)
	}
	if permanent {
		uc.log.Warnf("charge event cannot succeed on replay, persisting: event_id=%s, retry_count=%d, error=%v", evt.EventID, evt.RetryCount, err)
	}

	evt.LastError = err.Error()
	failure := &ChargeEventFailure{
		EventID:    evt.EventID,
		Event:      evt,
		RetryCount: evt.RetryCount,
		LastError:  evt.LastError,
		CreatedAt:  time.Now(),
	}
	if saveErr := uc.failures.Save(ctx, failure); saveErr != nil {
		uc.log.Errorf("failed to persist exhausted charge event: event_id=%s, error=%v", evt.EventID, saveErr)
		return fmt.Errorf("persist exhausted charge event %s: %w", evt.EventID, saveErr)
	}
	if uc.metrics != nil {
		uc.metrics.DlqExhaustedTotal.Inc()
	}
	uc.log.Errorf("charge event dead letter exhausted, manual reconciliation required: event_id=%s, charge_user=%s, amount=%s, retry_count=%d, error=%v",
		evt.EventID, evt.ChargeUserID, evt.Amount, evt.RetryCount, err)
	return creditErrors.ErrDlqExhausted.WithCause(err).WithMetadata(map[string]string{
		"event_id":    evt.EventID,
		"retry_count": fmt.Sprint(evt.RetryCount),
	})
}

func (uc *ChargeEventUseCase) forward(ctx context.Context, evt *ChargeEvent, cause error) error {
	next := *evt
	next.RetryCount++
	next.LastError = cause.Error()
	if uc.publisher == nil || !uc.publisher.Enabled() {
		return fmt.Errorf("no dead letter channel for event %s: %w", evt.EventID, cause)
	}
	if err := uc.publisher.PublishDeadLetter(ctx, &next, uc.conf.DlqBackoff); err != nil {
		uc.log.Errorf("publish dead letter failed: event_id=%s, error=%v", evt.EventID, err)
		return err
	}
	if uc.metrics != nil {
		uc.metrics.DlqForwardTotal.Inc()
	}
	return nil
}

// ListFailures 待人工处理的失败事件
func (uc *ChargeEventUseCase) ListFailures(ctx context.Context, limit int) ([]*ChargeEventFailure, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return uc.failures.ListUnresolved(ctx, limit)
}

// ReplayFailure 人工重放：重置重试次数后重新发布到主题，发布失败时就地处理
func (uc *ChargeEventUseCase) ReplayFailure(ctx context.Context, eventID, operatorID string) error {
	f, err := uc.failures.Get(ctx, eventID)
	if err != nil {
		return err
	}
	if f.Event == nil {
		return fmt.Errorf("charge event payload missing for %s", eventID)
	}
	if f.Resolved {
		return creditErrors.ErrTaskMismatch.WithMetadata(map[string]string{"event_id": eventID, "status": "resolved"})
	}
	evt := *f.Event
	evt.RetryCount = 0
	evt.LastError = ""

	published := false
	if uc.publisher != nil && uc.publisher.Enabled() {
		if err := uc.publisher.PublishPrimary(ctx, &evt); err != nil {
			uc.log.Warnf("replay publish failed, processing inline: event_id=%s, error=%v", eventID, err)
		} else {
			published = true
		}
	}
	if !published {
		if err := uc.processInline(ctx, &evt); err != nil {
			return err
		}
	}
	if err := uc.failures.MarkResolved(ctx, eventID); err != nil {
		return err
	}
	uc.log.Infof("charge event replayed: event_id=%s, operator=%s, published=%v", eventID, operatorID, published)
	return nil
}

func (uc *ChargeEventUseCase) observe(stage, result string) {
	if uc.metrics != nil {
		uc.metrics.ChargeEventTotal.WithLabelValues(stage, result).Inc()
	}
}
